// Package layers implements the reusable building blocks of DyNN: embedding
// lookups, affine maps, convolutions, pooling, recurrent cells, transduction
// wrappers and transformer stacks.
//
// Every numerical operation is delegated to the gorgonia expression-graph
// engine; this package contributes shape bookkeeping, parameter
// registration, dropout/masking policy and composition glue.
//
// Graphs are renewed per batch. Layers therefore hold no execution state:
// the current graph, the execution mode (Train or Eval) and the dropout
// random generator travel in an explicit Context passed to every forward
// call.
package layers

import (
	"fmt"
	"math/rand"

	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Mode selects between training and evaluation behaviour.
//
// Train enables dropout; Eval disables it. Nothing else depends on the mode.
type Mode int

const (
	// Train enables dropout sampling.
	Train Mode = iota
	// Eval disables dropout.
	Eval
)

// Context carries the per-call execution environment for a forward pass.
//
// It replaces the mutable init(test=..., update=...) switching of the
// original library: layers never remember a mode, each call states one.
type Context struct {
	// Graph is the expression graph the forward pass builds onto. The
	// owning parameter collection must have been bound to it.
	Graph *gorgonia.ExprGraph

	// Mode selects Train or Eval behaviour.
	Mode Mode

	// Update controls whether gradients propagate into embedding tables.
	// NewContext sets it to true.
	Update bool

	// RNG samples dropout masks. It may be nil when Mode is Eval or when
	// no layer in the pass uses dropout.
	RNG *rand.Rand
}

// NewContext returns a Context with table updates enabled.
func NewContext(g *gorgonia.ExprGraph, mode Mode, rng *rand.Rand) Context {
	return Context{Graph: g, Mode: mode, Update: true, RNG: rng}
}

// Module is a layer that maps one node to another. Affine and Sequential
// implement it; layers with richer signatures (attention, recurrent cells)
// do not.
type Module interface {
	Forward(ctx Context, x *gorgonia.Node) (*gorgonia.Node, error)
}

// Dropout zeroes each element of x with probability rate and rescales the
// survivors by 1/(1-rate), in Train mode only. The Bernoulli mask is drawn
// from ctx.RNG, keeping dropout reproducible under an explicitly seeded
// generator.
func Dropout(ctx Context, x *gorgonia.Node, rate float64) (*gorgonia.Node, error) {
	if rate == 0 || ctx.Mode == Eval {
		return x, nil
	}
	if rate < 0 || rate >= 1 {
		return nil, fmt.Errorf("layers: dropout rate must be in [0, 1), got %v", rate)
	}
	if ctx.RNG == nil {
		return nil, fmt.Errorf("layers: dropout requires a Context RNG in Train mode")
	}

	shape := x.Shape()
	keep := float32(1 / (1 - rate))
	data := make([]float32, shape.TotalSize())
	for i := range data {
		if ctx.RNG.Float64() >= rate {
			data[i] = keep
		}
	}
	mask := gorgonia.NodeFromAny(ctx.Graph, tensor.New(tensor.WithShape(shape...), tensor.WithBacking(data)))
	out, err := gorgonia.HadamardProd(x, mask)
	if err != nil {
		return nil, fmt.Errorf("layers: dropout: %w", err)
	}
	return out, nil
}

// StackRows converts a list of n equally-sized [dim] vectors into an
// [n, dim] matrix. This is the explicit conversion boundary for callers
// holding per-step vectors (the original library accepted either form
// everywhere and inspected types at runtime).
func StackRows(g *gorgonia.ExprGraph, vecs []*gorgonia.Node) (*gorgonia.Node, error) {
	if len(vecs) == 0 {
		return nil, fmt.Errorf("layers: StackRows needs at least one vector")
	}
	rows := make([]*gorgonia.Node, len(vecs))
	for i, v := range vecs {
		if v.Shape().Dims() != 1 {
			return nil, fmt.Errorf("layers: StackRows element %d has shape %v, want a vector", i, v.Shape())
		}
		r, err := gorgonia.Reshape(v, tensor.Shape{1, v.Shape()[0]})
		if err != nil {
			return nil, fmt.Errorf("layers: StackRows reshape: %w", err)
		}
		rows[i] = r
	}
	if len(rows) == 1 {
		return rows[0], nil
	}
	out, err := gorgonia.Concat(0, rows...)
	if err != nil {
		return nil, fmt.Errorf("layers: StackRows concat: %w", err)
	}
	return out, nil
}

// scalar wraps a host float32 as a graph value node.
func scalar(g *gorgonia.ExprGraph, v float32) *gorgonia.Node {
	return gorgonia.NodeFromAny(g, v)
}

// fromDense wraps a host tensor as a graph value node.
func fromDense(g *gorgonia.ExprGraph, t *tensor.Dense) *gorgonia.Node {
	return gorgonia.NodeFromAny(g, t)
}
