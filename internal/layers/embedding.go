package layers

import (
	"fmt"
	"math"

	"github.com/dynn-ml/dynn/internal/params"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Embedding maps token ids to dense vectors by table lookup.
//
// Optionally a pad id can be mapped to a fixed mask value instead of its
// table row, so padding positions contribute a known constant downstream
// rather than a trained vector.
type Embedding struct {
	table *params.Parameter

	// Vocab and Dim are the table dimensions.
	Vocab, Dim int

	padIdx  int
	padVal  float32
	masked  bool
	dropout float64
}

// EmbeddingOption configures NewEmbedding.
type EmbeddingOption func(*Embedding)

// WithPadMask replaces the embedding of padIdx with the constant maskVal in
// every component.
func WithPadMask(padIdx int, maskVal float64) EmbeddingOption {
	return func(e *Embedding) {
		e.padIdx = padIdx
		e.padVal = float32(maskVal)
		e.masked = true
	}
}

// WithEmbeddingDropout applies dropout to looked-up vectors in Train mode.
func WithEmbeddingDropout(rate float64) EmbeddingOption {
	return func(e *Embedding) { e.dropout = rate }
}

// NewEmbedding registers a [vocab, dim] lookup table under name in pc.
//
// The table is initialized from N(0, 1/dim) unless init is non-nil. Invalid
// sizes and an out-of-range pad id panic.
func NewEmbedding(pc *params.Collection, name string, vocab, dim int, init params.Initializer, opts ...EmbeddingOption) *Embedding {
	if vocab <= 0 || dim <= 0 {
		panic(fmt.Sprintf("layers: embedding %q needs positive sizes, got vocab=%d dim=%d", name, vocab, dim))
	}
	if init == nil {
		init = params.Normal(1 / math.Sqrt(float64(dim)))
	}
	e := &Embedding{
		table:  pc.Add(name+".table", tensor.Shape{vocab, dim}, init),
		Vocab:  vocab,
		Dim:    dim,
		padIdx: -1,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.masked && (e.padIdx < 0 || e.padIdx >= vocab) {
		panic(fmt.Sprintf("layers: embedding %q pad id %d out of range [0, %d)", name, e.padIdx, vocab))
	}
	return e
}

// Table returns the lookup table parameter, for weight tying.
func (e *Embedding) Table() *params.Parameter { return e.table }

// tableNode returns the bound table when updates are enabled, or a detached
// copy of the current values when ctx.Update is false (gradients then stop
// at the lookup).
func (e *Embedding) tableNode(ctx Context) *gorgonia.Node {
	if ctx.Update {
		return e.table.Node()
	}
	return fromDense(ctx.Graph, e.table.Value().Clone().(*tensor.Dense))
}

func (e *Embedding) checkIDs(ids []int) error {
	for _, id := range ids {
		if id < 0 || id >= e.Vocab {
			return fmt.Errorf("layers: embedding id %d out of range [0, %d)", id, e.Vocab)
		}
	}
	return nil
}

// ForwardID embeds a single token, returning a [dim] vector.
func (e *Embedding) ForwardID(ctx Context, id int) (*gorgonia.Node, error) {
	m, err := e.Forward(ctx, []int{id})
	if err != nil {
		return nil, err
	}
	return gorgonia.Reshape(m, tensor.Shape{e.Dim})
}

// Forward embeds a token sequence, returning an [n, dim] matrix.
func (e *Embedding) Forward(ctx Context, ids []int) (*gorgonia.Node, error) {
	if len(ids) == 0 {
		return nil, fmt.Errorf("layers: embedding lookup on empty sequence")
	}
	if err := e.checkIDs(ids); err != nil {
		return nil, err
	}

	tab := e.tableNode(ctx)
	rows := make([]*gorgonia.Node, len(ids))
	for i, id := range ids {
		row, err := gorgonia.Slice(tab, gorgonia.S(id))
		if err != nil {
			return nil, fmt.Errorf("layers: embedding lookup id %d: %w", id, err)
		}
		if rows[i], err = gorgonia.Reshape(row, tensor.Shape{1, e.Dim}); err != nil {
			return nil, err
		}
	}
	out := rows[0]
	if len(rows) > 1 {
		var err error
		if out, err = gorgonia.Concat(0, rows...); err != nil {
			return nil, fmt.Errorf("layers: embedding concat: %w", err)
		}
	}

	if e.masked {
		var err error
		if out, err = e.applyPadMask(ctx, out, ids); err != nil {
			return nil, err
		}
	}
	return Dropout(ctx, out, e.dropout)
}

// ForwardBatch embeds a batch of equal-length sequences, returning a
// [batch, length, dim] tensor. All rows of ids must share one length.
func (e *Embedding) ForwardBatch(ctx Context, ids [][]int) (*gorgonia.Node, error) {
	if len(ids) == 0 {
		return nil, fmt.Errorf("layers: embedding lookup on empty batch")
	}
	length := len(ids[0])
	mats := make([]*gorgonia.Node, len(ids))
	for b, seq := range ids {
		if len(seq) != length {
			return nil, fmt.Errorf("layers: ragged embedding batch: row %d has length %d, row 0 has %d", b, len(seq), length)
		}
		m, err := e.Forward(ctx, seq)
		if err != nil {
			return nil, err
		}
		if mats[b], err = gorgonia.Reshape(m, tensor.Shape{1, length, e.Dim}); err != nil {
			return nil, err
		}
	}
	if len(mats) == 1 {
		return mats[0], nil
	}
	out, err := gorgonia.Concat(0, mats...)
	if err != nil {
		return nil, fmt.Errorf("layers: embedding batch concat: %w", err)
	}
	return out, nil
}

// applyPadMask overwrites the rows of pad positions with the constant mask
// value: out = keep .* embeds + maskAdd, where keep is 0 on pad rows and 1
// elsewhere, and maskAdd carries padVal on pad rows and 0 elsewhere. Pad
// rows end up exactly at padVal regardless of the table contents.
func (e *Embedding) applyPadMask(ctx Context, embeds *gorgonia.Node, ids []int) (*gorgonia.Node, error) {
	n := len(ids)
	keep := make([]float32, n*e.Dim)
	add := make([]float32, n*e.Dim)
	for i, id := range ids {
		for j := 0; j < e.Dim; j++ {
			if id == e.padIdx {
				add[i*e.Dim+j] = e.padVal
			} else {
				keep[i*e.Dim+j] = 1
			}
		}
	}
	keepN := fromDense(ctx.Graph, tensor.New(tensor.WithShape(n, e.Dim), tensor.WithBacking(keep)))
	addN := fromDense(ctx.Graph, tensor.New(tensor.WithShape(n, e.Dim), tensor.WithBacking(add)))

	kept, err := gorgonia.HadamardProd(embeds, keepN)
	if err != nil {
		return nil, fmt.Errorf("layers: pad mask: %w", err)
	}
	out, err := gorgonia.Add(kept, addN)
	if err != nil {
		return nil, fmt.Errorf("layers: pad mask: %w", err)
	}
	return out, nil
}
