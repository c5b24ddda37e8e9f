package layers

import (
	"fmt"
	"math"

	"github.com/dynn-ml/dynn/internal/params"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// MultiHeadAttention implements scaled dot-product attention with learned
// query, key, value and output projections split across NumHeads heads.
//
// The same layer serves self-attention (query == key == value) and
// cross-attention (query from the decoder, key/value from the encoder).
type MultiHeadAttention struct {
	wq, wk, wv, wo *Affine

	// Dim is the model width, NumHeads the head count, HeadDim = Dim/NumHeads.
	Dim, NumHeads, HeadDim int

	dropout float64
}

// AttentionOption configures NewMultiHeadAttention.
type AttentionOption func(*MultiHeadAttention)

// WithAttentionDropout applies dropout to the attention weights in Train
// mode.
func WithAttentionDropout(rate float64) AttentionOption {
	return func(m *MultiHeadAttention) { m.dropout = rate }
}

// NewMultiHeadAttention registers the four projections under name in pc.
// dim must be divisible by heads.
func NewMultiHeadAttention(pc *params.Collection, name string, dim, heads int, opts ...AttentionOption) *MultiHeadAttention {
	if dim <= 0 || heads <= 0 {
		panic(fmt.Sprintf("layers: attention %q needs positive sizes, got dim=%d heads=%d", name, dim, heads))
	}
	if dim%heads != 0 {
		panic(fmt.Sprintf("layers: attention %q dim %d not divisible by %d heads", name, dim, heads))
	}
	m := &MultiHeadAttention{
		wq:       NewAffine(pc, name+".query", dim, dim, WithNoBias()),
		wk:       NewAffine(pc, name+".key", dim, dim, WithNoBias()),
		wv:       NewAffine(pc, name+".value", dim, dim, WithNoBias()),
		wo:       NewAffine(pc, name+".out", dim, dim, WithNoBias()),
		Dim:      dim,
		NumHeads: heads,
		HeadDim:  dim / heads,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Forward attends query over key/value and returns a [batch, qLen, dim]
// output. mask, when non-nil, is added to the raw scores and must have
// shape [batch*heads, qLen, kLen].
func (m *MultiHeadAttention) Forward(ctx Context, query, key, value, mask *gorgonia.Node) (*gorgonia.Node, error) {
	out, _, err := m.ForwardWithWeights(ctx, query, key, value, mask)
	return out, err
}

// ForwardWithWeights is Forward plus the post-softmax attention weights,
// shaped [batch, heads, qLen, kLen]. The weights feed alignment extraction
// during decoding.
func (m *MultiHeadAttention) ForwardWithWeights(ctx Context, query, key, value, mask *gorgonia.Node) (*gorgonia.Node, *gorgonia.Node, error) {
	qs, ks, vs := query.Shape(), key.Shape(), value.Shape()
	for _, s := range []tensor.Shape{qs, ks, vs} {
		if s.Dims() != 3 || s[2] != m.Dim {
			return nil, nil, fmt.Errorf("layers: attention input has shape %v, want [batch, len, %d]", s, m.Dim)
		}
	}
	batch, qLen, kLen := qs[0], qs[1], ks[1]
	if ks[0] != batch || vs[0] != batch || vs[1] != kLen {
		return nil, nil, fmt.Errorf("layers: attention shapes disagree: q=%v k=%v v=%v", qs, ks, vs)
	}

	q, err := m.project(ctx, m.wq, query, batch, qLen)
	if err != nil {
		return nil, nil, err
	}
	k, err := m.project(ctx, m.wk, key, batch, kLen)
	if err != nil {
		return nil, nil, err
	}
	v, err := m.project(ctx, m.wv, value, batch, kLen)
	if err != nil {
		return nil, nil, err
	}

	// scores = q k^T / sqrt(headDim), per batch-head plane.
	kT, err := gorgonia.Transpose(k, 0, 2, 1)
	if err != nil {
		return nil, nil, err
	}
	scores, err := gorgonia.BatchedMatMul(q, kT)
	if err != nil {
		return nil, nil, fmt.Errorf("layers: attention scores: %w", err)
	}
	scale := scalar(ctx.Graph, float32(1/math.Sqrt(float64(m.HeadDim))))
	if scores, err = gorgonia.Mul(scores, scale); err != nil {
		return nil, nil, err
	}
	if mask != nil {
		if scores, err = gorgonia.Add(scores, mask); err != nil {
			return nil, nil, fmt.Errorf("layers: attention mask: %w", err)
		}
	}

	weights, err := gorgonia.SoftMax(scores, 2)
	if err != nil {
		return nil, nil, fmt.Errorf("layers: attention softmax: %w", err)
	}
	dropped, err := Dropout(ctx, weights, m.dropout)
	if err != nil {
		return nil, nil, err
	}

	heads, err := gorgonia.BatchedMatMul(dropped, v)
	if err != nil {
		return nil, nil, fmt.Errorf("layers: attention context: %w", err)
	}

	// [batch*heads, qLen, headDim] -> [batch, qLen, dim]
	if heads, err = gorgonia.Reshape(heads, tensor.Shape{batch, m.NumHeads, qLen, m.HeadDim}); err != nil {
		return nil, nil, err
	}
	if heads, err = gorgonia.Transpose(heads, 0, 2, 1, 3); err != nil {
		return nil, nil, err
	}
	flat, err := gorgonia.Reshape(heads, tensor.Shape{batch * qLen, m.Dim})
	if err != nil {
		return nil, nil, err
	}
	out, err := m.wo.Forward(ctx, flat)
	if err != nil {
		return nil, nil, err
	}
	if out, err = gorgonia.Reshape(out, tensor.Shape{batch, qLen, m.Dim}); err != nil {
		return nil, nil, err
	}

	perHead, err := gorgonia.Reshape(weights, tensor.Shape{batch, m.NumHeads, qLen, kLen})
	if err != nil {
		return nil, nil, err
	}
	return out, perHead, nil
}

// project applies an affine map to a [batch, length, dim] input and splits
// the result into [batch*heads, length, headDim].
func (m *MultiHeadAttention) project(ctx Context, w *Affine, x *gorgonia.Node, batch, length int) (*gorgonia.Node, error) {
	flat, err := gorgonia.Reshape(x, tensor.Shape{batch * length, m.Dim})
	if err != nil {
		return nil, err
	}
	p, err := w.Forward(ctx, flat)
	if err != nil {
		return nil, err
	}
	if p, err = gorgonia.Reshape(p, tensor.Shape{batch, length, m.NumHeads, m.HeadDim}); err != nil {
		return nil, err
	}
	if p, err = gorgonia.Transpose(p, 0, 2, 1, 3); err != nil {
		return nil, err
	}
	return gorgonia.Reshape(p, tensor.Shape{batch * m.NumHeads, length, m.HeadDim})
}
