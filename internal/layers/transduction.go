package layers

import (
	"fmt"

	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Unidirectional runs a recurrent cell over a sequence of [batch, inDim]
// step inputs and returns one [batch, hiddenDim] output per step, in the
// input's order.
//
// lengths gives each batch row's true length; at padded steps the state is
// carried over unchanged, so shorter sequences are unaffected by their
// padding. backward reverses the iteration order (outputs are returned
// re-reversed, aligned with the input). leftPadded marks padding at the
// start of each row instead of the end.
func Unidirectional(ctx Context, cell RecurrentCell, steps []*gorgonia.Node, lengths []int, backward, leftPadded bool) ([]*gorgonia.Node, error) {
	if len(steps) == 0 {
		return nil, fmt.Errorf("layers: transduce on empty sequence")
	}
	batch := steps[0].Shape()[0]
	if len(lengths) != batch {
		return nil, fmt.Errorf("layers: got %d lengths for batch of %d", len(lengths), batch)
	}
	total := len(steps)
	for _, l := range lengths {
		if l < 0 || l > total {
			return nil, fmt.Errorf("layers: sequence length %d out of range [0, %d]", l, total)
		}
	}
	for i, s := range steps {
		if s.Shape().Dims() != 2 || s.Shape()[0] != batch || s.Shape()[1] != cell.InputDim() {
			return nil, fmt.Errorf("layers: step %d has shape %v, want [%d, %d]", i, s.Shape(), batch, cell.InputDim())
		}
	}

	state := cell.InitialState(ctx, batch)
	outs := make([]*gorgonia.Node, total)
	for i := 0; i < total; i++ {
		t := i
		if backward {
			t = total - 1 - i
		}
		next, err := cell.Step(ctx, state, steps[t])
		if err != nil {
			return nil, fmt.Errorf("layers: transduce step %d: %w", t, err)
		}
		if state, err = carryState(ctx, cell, state, next, stepValid(lengths, t, total, leftPadded)); err != nil {
			return nil, err
		}
		outs[t] = cell.Output(state)
	}
	return outs, nil
}

// stepValid reports, per batch row, whether position t holds a real token.
func stepValid(lengths []int, t, total int, leftPadded bool) []bool {
	valid := make([]bool, len(lengths))
	for i, l := range lengths {
		if leftPadded {
			valid[i] = t >= total-l
		} else {
			valid[i] = t < l
		}
	}
	return valid
}

// carryState blends next and previous states row-wise: rows at padded
// positions keep their previous state.
func carryState(ctx Context, cell RecurrentCell, prev, next []*gorgonia.Node, valid []bool) ([]*gorgonia.Node, error) {
	allValid := true
	for _, v := range valid {
		allValid = allValid && v
	}
	if allValid {
		return next, nil
	}

	dh := cell.HiddenDim()
	keep := make([]float32, len(valid)*dh)
	drop := make([]float32, len(valid)*dh)
	for i, v := range valid {
		for j := 0; j < dh; j++ {
			if v {
				keep[i*dh+j] = 1
			} else {
				drop[i*dh+j] = 1
			}
		}
	}
	keepN := fromDense(ctx.Graph, tensor.New(tensor.WithShape(len(valid), dh), tensor.WithBacking(keep)))
	dropN := fromDense(ctx.Graph, tensor.New(tensor.WithShape(len(valid), dh), tensor.WithBacking(drop)))

	out := make([]*gorgonia.Node, len(next))
	for s := range next {
		kept, err := gorgonia.HadamardProd(next[s], keepN)
		if err != nil {
			return nil, fmt.Errorf("layers: state carry: %w", err)
		}
		held, err := gorgonia.HadamardProd(prev[s], dropN)
		if err != nil {
			return nil, fmt.Errorf("layers: state carry: %w", err)
		}
		if out[s], err = gorgonia.Add(kept, held); err != nil {
			return nil, fmt.Errorf("layers: state carry: %w", err)
		}
	}
	return out, nil
}

// Bidirectional runs a forward and a backward cell over the same sequence
// and returns both output lists, each aligned with the input order.
func Bidirectional(ctx Context, fwd, bwd RecurrentCell, steps []*gorgonia.Node, lengths []int, leftPadded bool) (forward, backward []*gorgonia.Node, err error) {
	if forward, err = Unidirectional(ctx, fwd, steps, lengths, false, leftPadded); err != nil {
		return nil, nil, err
	}
	if backward, err = Unidirectional(ctx, bwd, steps, lengths, true, leftPadded); err != nil {
		return nil, nil, err
	}
	return forward, backward, nil
}

// Transduce applies a position-independent module to every step of a
// sequence. This wraps feed-forward layers into the same list-in list-out
// shape the recurrent transducers use.
func Transduce(ctx Context, m Module, steps []*gorgonia.Node) ([]*gorgonia.Node, error) {
	outs := make([]*gorgonia.Node, len(steps))
	for i, s := range steps {
		var err error
		if outs[i], err = m.Forward(ctx, s); err != nil {
			return nil, fmt.Errorf("layers: transduce step %d: %w", i, err)
		}
	}
	return outs, nil
}
