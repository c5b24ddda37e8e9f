package layers

import (
	"fmt"

	"github.com/dynn-ml/dynn/internal/params"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Activation is an elementwise nonlinearity applied after an affine map.
type Activation func(*gorgonia.Node) (*gorgonia.Node, error)

// Identity returns its input unchanged.
func Identity(x *gorgonia.Node) (*gorgonia.Node, error) { return x, nil }

// Affine computes activation(x W + b), with optional input dropout and
// optional weight tying against an embedding table.
type Affine struct {
	weight *params.Parameter
	bias   *params.Parameter

	// In and Out are the input and output widths.
	In, Out int

	tied       bool
	dropout    float64
	activation Activation
}

// AffineOption configures NewAffine.
type AffineOption func(*affineConfig)

type affineConfig struct {
	tied       *params.Parameter
	noBias     bool
	dropout    float64
	activation Activation
	init       params.Initializer
}

// WithTiedWeight reuses table (shape [out, in]) as the projection weight,
// applied transposed. The layer registers no weight of its own, so output
// and embedding gradients both flow into the shared table.
func WithTiedWeight(table *params.Parameter) AffineOption {
	return func(c *affineConfig) { c.tied = table }
}

// WithNoBias omits the bias term.
func WithNoBias() AffineOption {
	return func(c *affineConfig) { c.noBias = true }
}

// WithAffineDropout applies dropout to the input before the projection.
func WithAffineDropout(rate float64) AffineOption {
	return func(c *affineConfig) { c.dropout = rate }
}

// WithActivation applies f to the affine output.
func WithActivation(f Activation) AffineOption {
	return func(c *affineConfig) { c.activation = f }
}

// WithAffineInit overrides the default Glorot weight initializer.
func WithAffineInit(init params.Initializer) AffineOption {
	return func(c *affineConfig) { c.init = init }
}

// NewAffine registers an in -> out affine layer under name in pc.
func NewAffine(pc *params.Collection, name string, in, out int, opts ...AffineOption) *Affine {
	if in <= 0 || out <= 0 {
		panic(fmt.Sprintf("layers: affine %q needs positive sizes, got in=%d out=%d", name, in, out))
	}
	cfg := affineConfig{activation: Identity, init: params.Glorot()}
	for _, opt := range opts {
		opt(&cfg)
	}

	a := &Affine{
		In:         in,
		Out:        out,
		dropout:    cfg.dropout,
		activation: cfg.activation,
	}
	if cfg.tied != nil {
		want := tensor.Shape{out, in}
		if !cfg.tied.Shape().Eq(want) {
			panic(fmt.Sprintf("layers: affine %q tied weight has shape %v, want %v", name, cfg.tied.Shape(), want))
		}
		a.weight = cfg.tied
		a.tied = true
	} else {
		a.weight = pc.Add(name+".weight", tensor.Shape{in, out}, cfg.init)
	}
	if !cfg.noBias {
		a.bias = pc.Add(name+".bias", tensor.Shape{out}, params.Zeros())
	}
	return a
}

// Weight returns the weight parameter (the shared table when tied).
func (a *Affine) Weight() *params.Parameter { return a.weight }

// Forward applies the layer to a [n, in] matrix or an [in] vector; the
// output shape matches the input rank.
func (a *Affine) Forward(ctx Context, x *gorgonia.Node) (*gorgonia.Node, error) {
	wasVector := x.Shape().Dims() == 1
	if wasVector {
		var err error
		if x, err = gorgonia.Reshape(x, tensor.Shape{1, x.Shape()[0]}); err != nil {
			return nil, err
		}
	}
	if x.Shape().Dims() != 2 || x.Shape()[1] != a.In {
		return nil, fmt.Errorf("layers: affine input has shape %v, want [*, %d]", x.Shape(), a.In)
	}

	x, err := Dropout(ctx, x, a.dropout)
	if err != nil {
		return nil, err
	}

	w := a.weight.Node()
	if a.tied {
		if w, err = gorgonia.Transpose(w, 1, 0); err != nil {
			return nil, fmt.Errorf("layers: tied weight transpose: %w", err)
		}
	}
	y, err := gorgonia.Mul(x, w)
	if err != nil {
		return nil, fmt.Errorf("layers: affine matmul: %w", err)
	}
	if a.bias != nil {
		b, err := gorgonia.Reshape(a.bias.Node(), tensor.Shape{1, a.Out})
		if err != nil {
			return nil, err
		}
		if y, err = gorgonia.BroadcastAdd(y, b, nil, []byte{0}); err != nil {
			return nil, fmt.Errorf("layers: affine bias: %w", err)
		}
	}
	if y, err = a.activation(y); err != nil {
		return nil, fmt.Errorf("layers: affine activation: %w", err)
	}
	if wasVector {
		return gorgonia.Reshape(y, tensor.Shape{a.Out})
	}
	return y, nil
}

// Sequential chains modules, feeding each output to the next input.
type Sequential struct {
	mods []Module
}

// NewSequential builds a chain from the given modules.
func NewSequential(mods ...Module) *Sequential {
	if len(mods) == 0 {
		panic("layers: sequential needs at least one module")
	}
	return &Sequential{mods: mods}
}

// Forward runs the chain.
func (s *Sequential) Forward(ctx Context, x *gorgonia.Node) (*gorgonia.Node, error) {
	var err error
	for i, m := range s.mods {
		if x, err = m.Forward(ctx, x); err != nil {
			return nil, fmt.Errorf("layers: sequential stage %d: %w", i, err)
		}
	}
	return x, nil
}
