package layers

import (
	"fmt"

	"github.com/dynn-ml/dynn/internal/params"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// RecurrentCell is a single-step recurrent unit operating on batched
// inputs. State is an opaque node list owned by the cell (one hidden node
// for Elman, hidden plus cell memory for LSTM).
type RecurrentCell interface {
	// InitialState returns the zero state for a batch.
	InitialState(ctx Context, batch int) []*gorgonia.Node
	// Step consumes a [batch, inDim] input and the previous state and
	// returns the next state.
	Step(ctx Context, state []*gorgonia.Node, x *gorgonia.Node) ([]*gorgonia.Node, error)
	// Output extracts the [batch, hiddenDim] output from a state.
	Output(state []*gorgonia.Node) *gorgonia.Node
	// HiddenDim returns the state width.
	HiddenDim() int
	// InputDim returns the expected input width.
	InputDim() int
}

func zeroState(ctx Context, batch, dim int) *gorgonia.Node {
	return fromDense(ctx.Graph, tensor.New(tensor.WithShape(batch, dim), tensor.WithBacking(make([]float32, batch*dim))))
}

// ElmanRNN is the simple recurrent cell h' = tanh(x Wx + h Wh + b).
type ElmanRNN struct {
	wx, wh, b *params.Parameter
	in, dh    int
	dropout   float64
}

// NewElmanRNN registers the cell parameters under name in pc.
func NewElmanRNN(pc *params.Collection, name string, inDim, hiddenDim int, dropout float64) *ElmanRNN {
	if inDim <= 0 || hiddenDim <= 0 {
		panic(fmt.Sprintf("layers: elman cell %q needs positive sizes, got in=%d hidden=%d", name, inDim, hiddenDim))
	}
	return &ElmanRNN{
		wx:      pc.Add(name+".wx", tensor.Shape{inDim, hiddenDim}, params.Glorot()),
		wh:      pc.Add(name+".wh", tensor.Shape{hiddenDim, hiddenDim}, params.Glorot()),
		b:       pc.Add(name+".bias", tensor.Shape{hiddenDim}, params.Zeros()),
		in:      inDim,
		dh:      hiddenDim,
		dropout: dropout,
	}
}

func (e *ElmanRNN) HiddenDim() int { return e.dh }
func (e *ElmanRNN) InputDim() int  { return e.in }

func (e *ElmanRNN) InitialState(ctx Context, batch int) []*gorgonia.Node {
	return []*gorgonia.Node{zeroState(ctx, batch, e.dh)}
}

func (e *ElmanRNN) Output(state []*gorgonia.Node) *gorgonia.Node { return state[0] }

func (e *ElmanRNN) Step(ctx Context, state []*gorgonia.Node, x *gorgonia.Node) ([]*gorgonia.Node, error) {
	x, err := Dropout(ctx, x, e.dropout)
	if err != nil {
		return nil, err
	}
	xw, err := gorgonia.Mul(x, e.wx.Node())
	if err != nil {
		return nil, fmt.Errorf("layers: elman input term: %w", err)
	}
	hw, err := gorgonia.Mul(state[0], e.wh.Node())
	if err != nil {
		return nil, fmt.Errorf("layers: elman recurrent term: %w", err)
	}
	z, err := gorgonia.Add(xw, hw)
	if err != nil {
		return nil, err
	}
	b, err := gorgonia.Reshape(e.b.Node(), tensor.Shape{1, e.dh})
	if err != nil {
		return nil, err
	}
	if z, err = gorgonia.BroadcastAdd(z, b, nil, []byte{0}); err != nil {
		return nil, err
	}
	h, err := gorgonia.Tanh(z)
	if err != nil {
		return nil, err
	}
	return []*gorgonia.Node{h}, nil
}

// LSTM is the standard long short-term memory cell. The four gate
// projections are fused in one [*, 4*hiddenDim] matrix and sliced apart,
// in the order input, forget, output, candidate. Dropout applies to both
// the input and the recurrent hidden state.
type LSTM struct {
	wx, wh, b *params.Parameter
	in, dh    int
	dropout   float64
}

// NewLSTM registers the cell parameters under name in pc. The forget gate
// bias is initialized to one so early training does not erase memory.
func NewLSTM(pc *params.Collection, name string, inDim, hiddenDim int, dropout float64) *LSTM {
	if inDim <= 0 || hiddenDim <= 0 {
		panic(fmt.Sprintf("layers: lstm cell %q needs positive sizes, got in=%d hidden=%d", name, inDim, hiddenDim))
	}
	l := &LSTM{
		wx:      pc.Add(name+".wx", tensor.Shape{inDim, 4 * hiddenDim}, params.Glorot()),
		wh:      pc.Add(name+".wh", tensor.Shape{hiddenDim, 4 * hiddenDim}, params.Glorot()),
		b:       pc.Add(name+".bias", tensor.Shape{4 * hiddenDim}, params.Zeros()),
		in:      inDim,
		dh:      hiddenDim,
		dropout: dropout,
	}
	bias := l.b.Data()
	for i := hiddenDim; i < 2*hiddenDim; i++ {
		bias[i] = 1
	}
	return l
}

func (l *LSTM) HiddenDim() int { return l.dh }
func (l *LSTM) InputDim() int  { return l.in }

func (l *LSTM) InitialState(ctx Context, batch int) []*gorgonia.Node {
	return []*gorgonia.Node{zeroState(ctx, batch, l.dh), zeroState(ctx, batch, l.dh)}
}

// Output returns the hidden state; state[1] is the cell memory.
func (l *LSTM) Output(state []*gorgonia.Node) *gorgonia.Node { return state[0] }

func (l *LSTM) Step(ctx Context, state []*gorgonia.Node, x *gorgonia.Node) ([]*gorgonia.Node, error) {
	h, c := state[0], state[1]
	batch := x.Shape()[0]

	x, err := Dropout(ctx, x, l.dropout)
	if err != nil {
		return nil, err
	}
	if h, err = Dropout(ctx, h, l.dropout); err != nil {
		return nil, err
	}
	xw, err := gorgonia.Mul(x, l.wx.Node())
	if err != nil {
		return nil, fmt.Errorf("layers: lstm input term: %w", err)
	}
	hw, err := gorgonia.Mul(h, l.wh.Node())
	if err != nil {
		return nil, fmt.Errorf("layers: lstm recurrent term: %w", err)
	}
	z, err := gorgonia.Add(xw, hw)
	if err != nil {
		return nil, err
	}
	b, err := gorgonia.Reshape(l.b.Node(), tensor.Shape{1, 4 * l.dh})
	if err != nil {
		return nil, err
	}
	if z, err = gorgonia.BroadcastAdd(z, b, nil, []byte{0}); err != nil {
		return nil, err
	}

	gate := func(idx int) (*gorgonia.Node, error) {
		return gorgonia.Slice(z, gorgonia.S(0, batch), gorgonia.S(idx*l.dh, (idx+1)*l.dh))
	}
	zi, err := gate(0)
	if err != nil {
		return nil, err
	}
	zf, err := gate(1)
	if err != nil {
		return nil, err
	}
	zo, err := gate(2)
	if err != nil {
		return nil, err
	}
	zc, err := gate(3)
	if err != nil {
		return nil, err
	}

	i, err := gorgonia.Sigmoid(zi)
	if err != nil {
		return nil, err
	}
	f, err := gorgonia.Sigmoid(zf)
	if err != nil {
		return nil, err
	}
	o, err := gorgonia.Sigmoid(zo)
	if err != nil {
		return nil, err
	}
	cand, err := gorgonia.Tanh(zc)
	if err != nil {
		return nil, err
	}

	fc, err := gorgonia.HadamardProd(f, c)
	if err != nil {
		return nil, err
	}
	ic, err := gorgonia.HadamardProd(i, cand)
	if err != nil {
		return nil, err
	}
	cNext, err := gorgonia.Add(fc, ic)
	if err != nil {
		return nil, err
	}
	tc, err := gorgonia.Tanh(cNext)
	if err != nil {
		return nil, err
	}
	hNext, err := gorgonia.HadamardProd(o, tc)
	if err != nil {
		return nil, err
	}
	return []*gorgonia.Node{hNext, cNext}, nil
}
