// Package params implements the parameter collection shared by every layer
// of a model.
//
// A Collection owns the persistent storage (dense tensors) behind all
// trainable parameters. Computation graphs are renewed per batch, so the
// graph nodes that reference a parameter are short-lived: Bind re-creates
// them on the current graph over the same backing values. The optimizer
// mutates the backing values in place, which makes updates visible to every
// subsequently bound graph.
//
// Lifecycle:
//
//	pc := params.NewCollection(rng)
//	w := pc.Add("encoder.linear.weight", tensor.Shape{512, 512}, params.Glorot())
//	for each batch {
//	    g := gorgonia.NewGraph()
//	    pc.Bind(g)
//	    ... build forward pass from w.Node() ...
//	}
package params

import (
	"fmt"
	"math/rand"

	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Parameter is a single named trainable tensor.
//
// The value is persistent across graphs; the node is the binding on the most
// recently bound graph and is only valid until the next Bind.
type Parameter struct {
	name  string
	value *tensor.Dense
	node  *gorgonia.Node
}

// Name returns the registered parameter name.
func (p *Parameter) Name() string { return p.name }

// Value returns the persistent backing tensor.
func (p *Parameter) Value() *tensor.Dense { return p.value }

// Shape returns the parameter shape.
func (p *Parameter) Shape() tensor.Shape { return p.value.Shape() }

// Data returns the float32 backing slice. Mutations persist across graphs.
func (p *Parameter) Data() []float32 { return p.value.Data().([]float32) }

// Node returns the node bound on the current graph, or nil if the owning
// collection has not been bound since the parameter was added.
func (p *Parameter) Node() *gorgonia.Node { return p.node }

// GradData returns the gradient computed for this parameter on the current
// graph, as a flat float32 slice. It is only meaningful after the tape
// machine has run a backward pass over a graph bound with dual values.
func (p *Parameter) GradData() ([]float32, error) {
	if p.node == nil {
		return nil, fmt.Errorf("params: %q is not bound to a graph", p.name)
	}
	grad, err := p.node.Grad()
	if err != nil {
		return nil, fmt.Errorf("params: no gradient for %q: %w", p.name, err)
	}
	data, ok := grad.Data().([]float32)
	if !ok {
		return nil, fmt.Errorf("params: gradient for %q is not float32", p.name)
	}
	return data, nil
}

// Collection owns the parameters of one model.
//
// There is exactly one mutable shared resource per model: this collection.
// It is written only by the optimizer's update step and read by every
// layer's forward pass; the training loop is strictly sequential, so no
// synchronization is needed or provided.
type Collection struct {
	rng    *rand.Rand
	params []*Parameter
	byName map[string]*Parameter
}

// NewCollection creates an empty parameter collection.
//
// The random generator is used by initializers (and handed to layers for
// dropout sampling); passing an explicitly seeded generator makes parameter
// initialization reproducible. A nil rng panics: randomness is an explicit
// dependency here, not process-wide state.
func NewCollection(rng *rand.Rand) *Collection {
	if rng == nil {
		panic("params: NewCollection requires an explicit *rand.Rand")
	}
	return &Collection{
		rng:    rng,
		byName: make(map[string]*Parameter),
	}
}

// RNG returns the collection's random generator.
func (c *Collection) RNG() *rand.Rand { return c.rng }

// Add registers a new parameter with the given name and shape, filled by the
// initializer. Names must be unique within the collection; shapes must have
// only positive dimensions. Violations panic, since they are construction
// bugs rather than runtime conditions.
func (c *Collection) Add(name string, shape tensor.Shape, init Initializer) *Parameter {
	if name == "" {
		panic("params: parameter name must not be empty")
	}
	if _, dup := c.byName[name]; dup {
		panic(fmt.Sprintf("params: duplicate parameter name %q", name))
	}
	for _, d := range shape {
		if d <= 0 {
			panic(fmt.Sprintf("params: parameter %q has invalid shape %v", name, shape))
		}
	}
	if init == nil {
		init = Zeros()
	}

	data := make([]float32, shape.TotalSize())
	init(c.rng, data, shape)

	value := tensor.New(tensor.WithShape(shape...), tensor.WithBacking(data))
	p := &Parameter{name: name, value: value}
	c.params = append(c.params, p)
	c.byName[name] = p
	return p
}

// Param returns the parameter registered under name.
func (c *Collection) Param(name string) (*Parameter, bool) {
	p, ok := c.byName[name]
	return p, ok
}

// Parameters returns all registered parameters in registration order.
func (c *Collection) Parameters() []*Parameter {
	out := make([]*Parameter, len(c.params))
	copy(out, c.params)
	return out
}

// Len returns the number of registered parameters.
func (c *Collection) Len() int { return len(c.params) }

// NumValues returns the total number of scalar values across all parameters.
func (c *Collection) NumValues() int {
	n := 0
	for _, p := range c.params {
		n += p.value.Shape().TotalSize()
	}
	return n
}

// Bind re-creates a graph node for every parameter on g, backed by the
// persistent values. This is the renew-graph step: it must be called once
// per fresh graph before any layer forward pass.
func (c *Collection) Bind(g *gorgonia.ExprGraph) {
	for _, p := range c.params {
		p.node = gorgonia.NodeFromAny(g, p.value, gorgonia.WithName(p.name))
	}
}

// Nodes returns the currently bound nodes for all parameters, in
// registration order. Used to request gradients and bind dual values.
func (c *Collection) Nodes() []*gorgonia.Node {
	out := make([]*gorgonia.Node, len(c.params))
	for i, p := range c.params {
		out[i] = p.node
	}
	return out
}
