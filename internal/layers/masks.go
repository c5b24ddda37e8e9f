package layers

import (
	"fmt"

	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// maskValue is added to attention scores at masked positions. It is large
// enough to drive the softmax weight to zero yet finite, so the scores
// themselves never become NaN.
const maskValue float32 = -1e9

// CausalAttentionMask returns an additive [batch*heads, n, n] mask that
// blocks attention from position i to any position j > i.
func CausalAttentionMask(g *gorgonia.ExprGraph, batch, heads, n int) (*gorgonia.Node, error) {
	if batch <= 0 || heads <= 0 || n <= 0 {
		return nil, fmt.Errorf("layers: causal mask needs positive sizes, got batch=%d heads=%d n=%d", batch, heads, n)
	}
	plane := make([]float32, n*n)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			plane[i*n+j] = maskValue
		}
	}
	data := make([]float32, batch*heads*n*n)
	for b := 0; b < batch*heads; b++ {
		copy(data[b*n*n:], plane)
	}
	return fromDense(g, tensor.New(tensor.WithShape(batch*heads, n, n), tensor.WithBacking(data))), nil
}

// PaddingAttentionMask returns an additive [batch*heads, qLen, kLen] mask
// that blocks attention to key positions beyond each sequence's true
// length. With leftPadded, the padding occupies the start of each key row
// instead of the end.
func PaddingAttentionMask(g *gorgonia.ExprGraph, lengths []int, heads, qLen, kLen int, leftPadded bool) (*gorgonia.Node, error) {
	if len(lengths) == 0 {
		return nil, fmt.Errorf("layers: padding mask needs at least one length")
	}
	if heads <= 0 || qLen <= 0 || kLen <= 0 {
		return nil, fmt.Errorf("layers: padding mask needs positive sizes, got heads=%d qLen=%d kLen=%d", heads, qLen, kLen)
	}
	batch := len(lengths)
	data := make([]float32, batch*heads*qLen*kLen)
	for b, length := range lengths {
		if length < 0 || length > kLen {
			return nil, fmt.Errorf("layers: padding mask length %d out of range [0, %d]", length, kLen)
		}
		row := make([]float32, kLen)
		for k := 0; k < kLen; k++ {
			padded := k >= length
			if leftPadded {
				padded = k < kLen-length
			}
			if padded {
				row[k] = maskValue
			}
		}
		for h := 0; h < heads; h++ {
			base := (b*heads + h) * qLen * kLen
			for q := 0; q < qLen; q++ {
				copy(data[base+q*kLen:], row)
			}
		}
	}
	return fromDense(g, tensor.New(tensor.WithShape(batch*heads, qLen, kLen), tensor.WithBacking(data))), nil
}

// CombineMasks sums additive masks, skipping nils. Returns nil when every
// input is nil.
func CombineMasks(masks ...*gorgonia.Node) (*gorgonia.Node, error) {
	var out *gorgonia.Node
	for _, m := range masks {
		if m == nil {
			continue
		}
		if out == nil {
			out = m
			continue
		}
		var err error
		if out, err = gorgonia.Add(out, m); err != nil {
			return nil, fmt.Errorf("layers: combine masks: %w", err)
		}
	}
	return out, nil
}
