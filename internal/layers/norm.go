package layers

import (
	"fmt"

	"github.com/dynn-ml/dynn/internal/params"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// LayerNorm normalizes the last axis to zero mean and unit variance, then
// applies a learned elementwise gain and bias.
type LayerNorm struct {
	gain *params.Parameter
	bias *params.Parameter

	// Dim is the normalized (last) axis width.
	Dim int
	// Eps stabilizes the variance denominator.
	Eps float64
}

// NewLayerNorm registers gain (ones) and bias (zeros) of width dim.
func NewLayerNorm(pc *params.Collection, name string, dim int) *LayerNorm {
	if dim <= 0 {
		panic(fmt.Sprintf("layers: layer norm %q needs a positive dim, got %d", name, dim))
	}
	return &LayerNorm{
		gain: pc.Add(name+".gain", tensor.Shape{dim}, params.Ones()),
		bias: pc.Add(name+".bias", tensor.Shape{dim}, params.Zeros()),
		Dim:  dim,
		Eps:  1e-5,
	}
}

// Forward normalizes x over its last axis. Ranks 2 and 3 are supported,
// which covers [n, dim] matrices and [batch, length, dim] tensors.
func (l *LayerNorm) Forward(ctx Context, x *gorgonia.Node) (*gorgonia.Node, error) {
	shape := x.Shape()
	rank := shape.Dims()
	if rank != 2 && rank != 3 {
		return nil, fmt.Errorf("layers: layer norm input has rank %d, want 2 or 3", rank)
	}
	last := rank - 1
	if shape[last] != l.Dim {
		return nil, fmt.Errorf("layers: layer norm input has last dim %d, want %d", shape[last], l.Dim)
	}

	// Shape with the last axis kept as 1, for broadcasting statistics back.
	keepShape := make(tensor.Shape, rank)
	copy(keepShape, shape)
	keepShape[last] = 1
	bcast := []byte{byte(last)}

	mean, err := gorgonia.Mean(x, last)
	if err != nil {
		return nil, fmt.Errorf("layers: layer norm mean: %w", err)
	}
	if mean, err = gorgonia.Reshape(mean, keepShape); err != nil {
		return nil, err
	}
	centered, err := gorgonia.BroadcastSub(x, mean, nil, bcast)
	if err != nil {
		return nil, fmt.Errorf("layers: layer norm center: %w", err)
	}

	sq, err := gorgonia.Square(centered)
	if err != nil {
		return nil, err
	}
	variance, err := gorgonia.Mean(sq, last)
	if err != nil {
		return nil, fmt.Errorf("layers: layer norm variance: %w", err)
	}
	if variance, err = gorgonia.Reshape(variance, keepShape); err != nil {
		return nil, err
	}
	if variance, err = gorgonia.Add(variance, scalar(ctx.Graph, float32(l.Eps))); err != nil {
		return nil, err
	}
	std, err := gorgonia.Sqrt(variance)
	if err != nil {
		return nil, err
	}
	normed, err := gorgonia.BroadcastHadamardDiv(centered, std, nil, bcast)
	if err != nil {
		return nil, fmt.Errorf("layers: layer norm scale: %w", err)
	}

	// Broadcast the [dim] gain and bias over all leading axes.
	paramShape := make(tensor.Shape, rank)
	leading := make([]byte, 0, rank-1)
	for i := 0; i < last; i++ {
		paramShape[i] = 1
		leading = append(leading, byte(i))
	}
	paramShape[last] = l.Dim

	gain, err := gorgonia.Reshape(l.gain.Node(), paramShape)
	if err != nil {
		return nil, err
	}
	bias, err := gorgonia.Reshape(l.bias.Node(), paramShape)
	if err != nil {
		return nil, err
	}
	out, err := gorgonia.BroadcastHadamardProd(normed, gain, nil, leading)
	if err != nil {
		return nil, fmt.Errorf("layers: layer norm gain: %w", err)
	}
	if out, err = gorgonia.BroadcastAdd(out, bias, nil, leading); err != nil {
		return nil, fmt.Errorf("layers: layer norm bias: %w", err)
	}
	return out, nil
}
