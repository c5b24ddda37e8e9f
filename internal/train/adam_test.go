package train

import (
	"math"
	"math/rand"
	"testing"

	"github.com/dynn-ml/dynn/internal/params"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// quadraticStep runs one forward/backward pass of sum(x²) over the
// collection's single parameter and returns the loss value.
func quadraticStep(t *testing.T, pc *params.Collection) float32 {
	t.Helper()
	g := gorgonia.NewGraph()
	pc.Bind(g)
	p, _ := pc.Param("x")

	sq, err := gorgonia.Square(p.Node())
	if err != nil {
		t.Fatal(err)
	}
	loss, err := gorgonia.Sum(sq)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := gorgonia.Grad(loss, pc.Nodes()...); err != nil {
		t.Fatal(err)
	}
	vm := gorgonia.NewTapeMachine(g, gorgonia.BindDualValues(pc.Nodes()...))
	defer vm.Close()
	if err := vm.RunAll(); err != nil {
		t.Fatal(err)
	}
	return loss.Value().Data().(float32)
}

func TestAdamMinimizesQuadratic(t *testing.T) {
	pc := params.NewCollection(rand.New(rand.NewSource(1)))
	pc.Add("x", tensor.Shape{3}, params.Constant(2))
	opt := NewAdam(pc.Parameters(), 0.1)

	first := quadraticStep(t, pc)
	if err := opt.Step(); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 200; i++ {
		quadraticStep(t, pc)
		if err := opt.Step(); err != nil {
			t.Fatal(err)
		}
	}
	last := quadraticStep(t, pc)
	if last >= first {
		t.Fatalf("loss did not decrease: first=%v last=%v", first, last)
	}
	if last > 0.01 {
		t.Errorf("loss after 200 steps = %v, want near 0", last)
	}
}

func TestAdamUpdatesInPlace(t *testing.T) {
	pc := params.NewCollection(rand.New(rand.NewSource(1)))
	p := pc.Add("x", tensor.Shape{2}, params.Constant(1))
	opt := NewAdam(pc.Parameters(), 0.5)

	before := append([]float32(nil), p.Data()...)
	quadraticStep(t, pc)
	if err := opt.Step(); err != nil {
		t.Fatal(err)
	}
	after := p.Data()
	for i := range before {
		if after[i] >= before[i] {
			t.Errorf("x[%d] = %v, want below %v (gradient is positive)", i, after[i], before[i])
		}
	}
}

func TestAdamSetLR(t *testing.T) {
	pc := params.NewCollection(rand.New(rand.NewSource(1)))
	pc.Add("x", tensor.Shape{1}, params.Constant(1))
	opt := NewAdam(pc.Parameters(), 0.1)
	if opt.LR() != 0.1 {
		t.Errorf("lr = %v, want 0.1", opt.LR())
	}
	opt.SetLR(0.02)
	if opt.LR() != 0.02 {
		t.Errorf("lr after SetLR = %v, want 0.02", opt.LR())
	}
}

func TestAdamClipNorm(t *testing.T) {
	// With x = [3, 4] and loss sum(x²) the gradient is [6, 8], norm 10.
	// Clipping at 1 scales it to [0.6, 0.8]; the first Adam update then
	// moves every coordinate by at most lr with bias correction.
	pc := params.NewCollection(rand.New(rand.NewSource(1)))
	p := pc.Add("x", tensor.Shape{2}, params.Zeros())
	data := p.Data()
	data[0], data[1] = 3, 4

	opt := NewAdam(pc.Parameters(), 0.1, WithClipNorm(1))
	quadraticStep(t, pc)
	if err := opt.Step(); err != nil {
		t.Fatal(err)
	}
	for i, want := range []float32{3, 4} {
		delta := math.Abs(float64(p.Data()[i] - want))
		if delta > 0.11 {
			t.Errorf("x[%d] moved by %v, clipping should bound the step near lr", i, delta)
		}
		if delta == 0 {
			t.Errorf("x[%d] did not move", i)
		}
	}
}

func TestAdamRequiresGradients(t *testing.T) {
	pc := params.NewCollection(rand.New(rand.NewSource(1)))
	pc.Add("x", tensor.Shape{1}, params.Constant(1))
	opt := NewAdam(pc.Parameters(), 0.1)
	// No forward/backward pass has run, so there is nothing to step on.
	if err := opt.Step(); err == nil {
		t.Error("expected error when no gradients are available")
	}
}

func TestAdamConstructionPanics(t *testing.T) {
	pc := params.NewCollection(rand.New(rand.NewSource(1)))
	p := pc.Add("x", tensor.Shape{1}, params.Constant(1))

	t.Run("no params", func(t *testing.T) {
		defer func() {
			if recover() == nil {
				t.Error("expected panic for empty parameter list")
			}
		}()
		NewAdam(nil, 0.1)
	})
	t.Run("bad lr", func(t *testing.T) {
		defer func() {
			if recover() == nil {
				t.Error("expected panic for nonpositive learning rate")
			}
		}()
		NewAdam([]*params.Parameter{p}, 0)
	})
}
