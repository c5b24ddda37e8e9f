package layers

import (
	"math"
	"math/rand"
	"testing"

	"github.com/dynn-ml/dynn/internal/params"
	"gorgonia.org/tensor"
)

func TestConv1DShapes(t *testing.T) {
	pc := params.NewCollection(rand.New(rand.NewSource(1)))
	rng := rand.New(rand.NewSource(2))

	// Zero padded, stride 1: length preserved for odd kernels.
	conv := NewConv1D(pc, "conv", 4, 3, 6)
	ctx := evalContext(t, pc)
	x := fromDense(ctx.Graph, randInput(ctx, rng, 10, 4))
	out, err := conv.Forward(ctx, x)
	if err != nil {
		t.Fatal(err)
	}
	if !out.Shape().Eq(tensor.Shape{10, 6}) {
		t.Errorf("padded conv shape = %v, want (10, 6)", out.Shape())
	}

	// Valid windows only: length shrinks by kernel-1.
	valid := NewConv1D(pc, "valid", 4, 3, 6, WithoutZeroPadding())
	out, err = valid.Forward(ctx, x)
	if err != nil {
		t.Fatal(err)
	}
	if !out.Shape().Eq(tensor.Shape{8, 6}) {
		t.Errorf("valid conv shape = %v, want (8, 6)", out.Shape())
	}
}

func TestConv1DRejectsShortInput(t *testing.T) {
	pc := params.NewCollection(rand.New(rand.NewSource(1)))
	conv := NewConv1D(pc, "conv", 4, 5, 2, WithoutZeroPadding())
	rng := rand.New(rand.NewSource(2))
	ctx := evalContext(t, pc)
	x := fromDense(ctx.Graph, randInput(ctx, rng, 3, 4))
	if _, err := conv.Forward(ctx, x); err == nil {
		t.Error("expected error for input shorter than kernel without padding")
	}
}

func TestMaxPool1D(t *testing.T) {
	pc := params.NewCollection(rand.New(rand.NewSource(1)))
	ctx := evalContext(t, pc)
	x := fromDense(ctx.Graph, tensor.New(tensor.WithShape(4, 2), tensor.WithBacking([]float32{
		1, -1,
		5, 2,
		3, 7,
		-2, 0,
	})))

	// Full-sequence pooling collapses the length axis.
	out, err := MaxPool1D(ctx, x, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if !out.Shape().Eq(tensor.Shape{1, 2}) {
		t.Fatalf("shape = %v, want (1, 2)", out.Shape())
	}
	run(t, ctx.Graph)
	got := out.Value().Data().([]float32)
	if got[0] != 5 || got[1] != 7 {
		t.Errorf("max = %v, want [5 7]", got)
	}
}

func TestMaxPool1DWindows(t *testing.T) {
	pc := params.NewCollection(rand.New(rand.NewSource(1)))
	rng := rand.New(rand.NewSource(2))
	ctx := evalContext(t, pc)
	x := fromDense(ctx.Graph, randInput(ctx, rng, 6, 3))
	out, err := MaxPool1D(ctx, x, 2, 2)
	if err != nil {
		t.Fatal(err)
	}
	if !out.Shape().Eq(tensor.Shape{3, 3}) {
		t.Errorf("shape = %v, want (3, 3)", out.Shape())
	}
}

func TestMeanPool1D(t *testing.T) {
	pc := params.NewCollection(rand.New(rand.NewSource(1)))
	ctx := evalContext(t, pc)
	x := fromDense(ctx.Graph, tensor.New(tensor.WithShape(4, 2), tensor.WithBacking([]float32{
		2, 0,
		4, 8,
		0, 0,
		0, 0,
	})))

	out, err := MeanPool1D(ctx, x, 0, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	run(t, ctx.Graph)
	got := out.Value().Data().([]float32)
	if got[0] != 1.5 || got[1] != 2 {
		t.Errorf("mean = %v, want [1.5 2]", got)
	}
}

func TestMeanPool1DLengthRescale(t *testing.T) {
	pc := params.NewCollection(rand.New(rand.NewSource(1)))
	ctx := evalContext(t, pc)
	// True length 2, rows 2..3 are zero padding.
	x := fromDense(ctx.Graph, tensor.New(tensor.WithShape(4, 2), tensor.WithBacking([]float32{
		2, 0,
		4, 8,
		0, 0,
		0, 0,
	})))
	out, err := MeanPool1D(ctx, x, 0, 0, 2)
	if err != nil {
		t.Fatal(err)
	}
	run(t, ctx.Graph)
	got := out.Value().Data().([]float32)
	if math.Abs(float64(got[0]-3)) > 1e-6 || math.Abs(float64(got[1]-4)) > 1e-6 {
		t.Errorf("rescaled mean = %v, want [3 4]", got)
	}
}

func TestMeanPool1DRejectsWindows(t *testing.T) {
	pc := params.NewCollection(rand.New(rand.NewSource(1)))
	rng := rand.New(rand.NewSource(2))
	ctx := evalContext(t, pc)
	x := fromDense(ctx.Graph, randInput(ctx, rng, 4, 2))

	// Windowed mean pooling is explicitly unsupported.
	if _, err := MeanPool1D(ctx, x, 2, 0, 0); err == nil {
		t.Error("expected error for kernel argument")
	}
	if _, err := MeanPool1D(ctx, x, 0, 2, 0); err == nil {
		t.Error("expected error for stride argument")
	}
}
