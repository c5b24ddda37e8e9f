package layers

import (
	"fmt"

	"github.com/dynn-ml/dynn/internal/params"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// StackConfig sizes a transformer stack.
type StackConfig struct {
	// Layers is the number of stacked blocks.
	Layers int
	// Dim is the model width.
	Dim int
	// Heads is the attention head count per block.
	Heads int
	// HiddenDim is the feed-forward inner width. Zero means 4*Dim.
	HiddenDim int
	// Dropout is applied to attention weights, feed-forward activations and
	// residual branches.
	Dropout float64
}

func (c *StackConfig) validate(name string) {
	if c.Layers <= 0 || c.Dim <= 0 || c.Heads <= 0 {
		panic(fmt.Sprintf("layers: %s needs positive sizes, got layers=%d dim=%d heads=%d", name, c.Layers, c.Dim, c.Heads))
	}
	if c.Dim%c.Heads != 0 {
		panic(fmt.Sprintf("layers: %s dim %d not divisible by %d heads", name, c.Dim, c.Heads))
	}
	if c.HiddenDim == 0 {
		c.HiddenDim = 4 * c.Dim
	}
	if c.HiddenDim < 0 {
		panic(fmt.Sprintf("layers: %s hidden dim must be positive, got %d", name, c.HiddenDim))
	}
}

// FeedForward is the position-wise two-layer network of a transformer
// block: ReLU after the inner projection, dropout on the activations.
type FeedForward struct {
	inner, outer *Affine
	dim          int
	dropout      float64
}

// NewFeedForward registers a dim -> hidden -> dim network under name.
func NewFeedForward(pc *params.Collection, name string, dim, hidden int, dropout float64) *FeedForward {
	return &FeedForward{
		inner:   NewAffine(pc, name+".inner", dim, hidden, WithActivation(gorgonia.Rectify)),
		outer:   NewAffine(pc, name+".outer", hidden, dim),
		dim:     dim,
		dropout: dropout,
	}
}

// Forward applies the network position-wise to a [batch, length, dim] input.
func (f *FeedForward) Forward(ctx Context, x *gorgonia.Node) (*gorgonia.Node, error) {
	shape := x.Shape()
	if shape.Dims() != 3 || shape[2] != f.dim {
		return nil, fmt.Errorf("layers: feed-forward input has shape %v, want [batch, len, %d]", shape, f.dim)
	}
	flat, err := gorgonia.Reshape(x, tensor.Shape{shape[0] * shape[1], f.dim})
	if err != nil {
		return nil, err
	}
	h, err := f.inner.Forward(ctx, flat)
	if err != nil {
		return nil, err
	}
	if h, err = Dropout(ctx, h, f.dropout); err != nil {
		return nil, err
	}
	if h, err = f.outer.Forward(ctx, h); err != nil {
		return nil, err
	}
	return gorgonia.Reshape(h, shape)
}

// TransformerLayer is one post-norm encoder block: self-attention and
// feed-forward sublayers, each wrapped in residual + layer norm.
type TransformerLayer struct {
	selfAttn *MultiHeadAttention
	ff       *FeedForward
	normAttn *LayerNorm
	normFF   *LayerNorm
	dropout  float64
}

// NewTransformerLayer registers one encoder block under name.
func NewTransformerLayer(pc *params.Collection, name string, cfg StackConfig) *TransformerLayer {
	return &TransformerLayer{
		selfAttn: NewMultiHeadAttention(pc, name+".self", cfg.Dim, cfg.Heads, WithAttentionDropout(cfg.Dropout)),
		ff:       NewFeedForward(pc, name+".ff", cfg.Dim, cfg.HiddenDim, cfg.Dropout),
		normAttn: NewLayerNorm(pc, name+".norm_self", cfg.Dim),
		normFF:   NewLayerNorm(pc, name+".norm_ff", cfg.Dim),
		dropout:  cfg.Dropout,
	}
}

// Forward runs the block over [batch, length, dim] input with an optional
// additive attention mask.
func (t *TransformerLayer) Forward(ctx Context, x, mask *gorgonia.Node) (*gorgonia.Node, error) {
	attn, err := t.selfAttn.Forward(ctx, x, x, x, mask)
	if err != nil {
		return nil, err
	}
	h, err := residualNorm(ctx, t.normAttn, x, attn, t.dropout)
	if err != nil {
		return nil, err
	}
	ff, err := t.ff.Forward(ctx, h)
	if err != nil {
		return nil, err
	}
	return residualNorm(ctx, t.normFF, h, ff, t.dropout)
}

// residualNorm applies dropout to the sublayer branch, adds the residual
// and normalizes.
func residualNorm(ctx Context, norm *LayerNorm, residual, branch *gorgonia.Node, dropout float64) (*gorgonia.Node, error) {
	branch, err := Dropout(ctx, branch, dropout)
	if err != nil {
		return nil, err
	}
	sum, err := gorgonia.Add(residual, branch)
	if err != nil {
		return nil, fmt.Errorf("layers: residual: %w", err)
	}
	return norm.Forward(ctx, sum)
}

// TransformerStack chains encoder blocks and exposes every intermediate
// representation, so consumers can read any depth, not only the top.
type TransformerStack struct {
	layers []*TransformerLayer

	// Cfg is the configuration the stack was built with.
	Cfg StackConfig
}

// NewTransformerStack registers cfg.Layers encoder blocks under name.
func NewTransformerStack(pc *params.Collection, name string, cfg StackConfig) *TransformerStack {
	cfg.validate("transformer stack")
	s := &TransformerStack{Cfg: cfg}
	for i := 0; i < cfg.Layers; i++ {
		s.layers = append(s.layers, NewTransformerLayer(pc, fmt.Sprintf("%s.%d", name, i), cfg))
	}
	return s
}

// Depth returns the number of blocks.
func (s *TransformerStack) Depth() int { return len(s.layers) }

// Forward encodes x ([batch, length, dim]) with attention restricted to
// each sequence's true length, and returns the output of every block in
// order; the last element is the top of the stack.
func (s *TransformerStack) Forward(ctx Context, x *gorgonia.Node, lengths []int, leftPadded bool) ([]*gorgonia.Node, error) {
	shape := x.Shape()
	if shape.Dims() != 3 {
		return nil, fmt.Errorf("layers: transformer stack input has shape %v, want rank 3", shape)
	}
	if len(lengths) != shape[0] {
		return nil, fmt.Errorf("layers: got %d lengths for batch of %d", len(lengths), shape[0])
	}
	mask, err := PaddingAttentionMask(ctx.Graph, lengths, s.Cfg.Heads, shape[1], shape[1], leftPadded)
	if err != nil {
		return nil, err
	}

	outs := make([]*gorgonia.Node, 0, len(s.layers))
	h := x
	for i, layer := range s.layers {
		if h, err = layer.Forward(ctx, h, mask); err != nil {
			return nil, fmt.Errorf("layers: transformer block %d: %w", i, err)
		}
		outs = append(outs, h)
	}
	return outs, nil
}

// CondTransformerLayer is one post-norm decoder block: causal
// self-attention, cross-attention over an encoded source, and feed-forward,
// each wrapped in residual + layer norm.
type CondTransformerLayer struct {
	selfAttn  *MultiHeadAttention
	crossAttn *MultiHeadAttention
	ff        *FeedForward
	normSelf  *LayerNorm
	normCross *LayerNorm
	normFF    *LayerNorm
	dropout   float64
}

// NewCondTransformerLayer registers one decoder block under name.
func NewCondTransformerLayer(pc *params.Collection, name string, cfg StackConfig) *CondTransformerLayer {
	return &CondTransformerLayer{
		selfAttn:  NewMultiHeadAttention(pc, name+".self", cfg.Dim, cfg.Heads, WithAttentionDropout(cfg.Dropout)),
		crossAttn: NewMultiHeadAttention(pc, name+".cross", cfg.Dim, cfg.Heads, WithAttentionDropout(cfg.Dropout)),
		ff:        NewFeedForward(pc, name+".ff", cfg.Dim, cfg.HiddenDim, cfg.Dropout),
		normSelf:  NewLayerNorm(pc, name+".norm_self", cfg.Dim),
		normCross: NewLayerNorm(pc, name+".norm_cross", cfg.Dim),
		normFF:    NewLayerNorm(pc, name+".norm_ff", cfg.Dim),
		dropout:   cfg.Dropout,
	}
}

// Forward runs the block. It returns the block output and the
// cross-attention weights ([batch, heads, tgtLen, srcLen]).
func (t *CondTransformerLayer) Forward(ctx Context, x, enc, selfMask, crossMask *gorgonia.Node) (*gorgonia.Node, *gorgonia.Node, error) {
	attn, err := t.selfAttn.Forward(ctx, x, x, x, selfMask)
	if err != nil {
		return nil, nil, err
	}
	h, err := residualNorm(ctx, t.normSelf, x, attn, t.dropout)
	if err != nil {
		return nil, nil, err
	}

	cross, weights, err := t.crossAttn.ForwardWithWeights(ctx, h, enc, enc, crossMask)
	if err != nil {
		return nil, nil, err
	}
	if h, err = residualNorm(ctx, t.normCross, h, cross, t.dropout); err != nil {
		return nil, nil, err
	}

	ff, err := t.ff.Forward(ctx, h)
	if err != nil {
		return nil, nil, err
	}
	out, err := residualNorm(ctx, t.normFF, h, ff, t.dropout)
	if err != nil {
		return nil, nil, err
	}
	return out, weights, nil
}

// CondTransformerStack chains decoder blocks conditioned on an encoded
// source sequence.
type CondTransformerStack struct {
	layers []*CondTransformerLayer

	// Cfg is the configuration the stack was built with.
	Cfg StackConfig
}

// NewCondTransformerStack registers cfg.Layers decoder blocks under name.
func NewCondTransformerStack(pc *params.Collection, name string, cfg StackConfig) *CondTransformerStack {
	cfg.validate("conditional transformer stack")
	s := &CondTransformerStack{Cfg: cfg}
	for i := 0; i < cfg.Layers; i++ {
		s.layers = append(s.layers, NewCondTransformerLayer(pc, fmt.Sprintf("%s.%d", name, i), cfg))
	}
	return s
}

// Depth returns the number of blocks.
func (s *CondTransformerStack) Depth() int { return len(s.layers) }

// Forward decodes x ([batch, tgtLen, dim]) against enc, the per-depth
// encoder outputs. enc must hold either one entry, which conditions every
// block, or one entry per block, in which case block i cross-attends over
// enc[i]. Encoders return their full layer list, so passing it straight
// through gives the per-depth pairing.
//
// Self-attention is causal; cross-attention is restricted to each source
// sequence's true length via srcLengths. The second return value is the
// cross-attention weights of the top block, [batch, heads, tgtLen, srcLen].
func (s *CondTransformerStack) Forward(ctx Context, x *gorgonia.Node, enc []*gorgonia.Node, srcLengths []int, srcLeftPadded bool) (*gorgonia.Node, *gorgonia.Node, error) {
	shape := x.Shape()
	if shape.Dims() != 3 {
		return nil, nil, fmt.Errorf("layers: conditional stack input has shape %v, want rank 3", shape)
	}
	if len(enc) != 1 && len(enc) != len(s.layers) {
		return nil, nil, fmt.Errorf("layers: got %d encoder states for %d decoder blocks, want 1 or %d", len(enc), len(s.layers), len(s.layers))
	}
	batch, tgtLen := shape[0], shape[1]
	srcLen := enc[0].Shape()[1]
	if len(srcLengths) != batch {
		return nil, nil, fmt.Errorf("layers: got %d source lengths for batch of %d", len(srcLengths), batch)
	}

	selfMask, err := CausalAttentionMask(ctx.Graph, batch, s.Cfg.Heads, tgtLen)
	if err != nil {
		return nil, nil, err
	}
	crossMask, err := PaddingAttentionMask(ctx.Graph, srcLengths, s.Cfg.Heads, tgtLen, srcLen, srcLeftPadded)
	if err != nil {
		return nil, nil, err
	}

	h := x
	var weights *gorgonia.Node
	for i, layer := range s.layers {
		cond := enc[0]
		if len(enc) == len(s.layers) {
			cond = enc[i]
		}
		if h, weights, err = layer.Forward(ctx, h, cond, selfMask, crossMask); err != nil {
			return nil, nil, fmt.Errorf("layers: conditional block %d: %w", i, err)
		}
	}
	return h, weights, nil
}
