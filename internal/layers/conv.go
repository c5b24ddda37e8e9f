package layers

import (
	"fmt"

	"github.com/dynn-ml/dynn/internal/params"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Conv1D slides numKernels learned filters of the given width along the
// length axis of a [length, inDim] sequence matrix, producing an
// [outLength, numKernels] matrix.
//
// The layer is implemented as a 2D convolution over a [1, inDim, length, 1]
// image, which is how the original expresses it as well.
type Conv1D struct {
	filter *params.Parameter
	bias   *params.Parameter

	// InDim and NumKernels are the input and output widths, KernelWidth the
	// filter span along the length axis.
	InDim, NumKernels, KernelWidth int
	// Stride is the step along the length axis.
	Stride int
	// ZeroPadded selects same-length output (with stride 1) over valid-only
	// windows.
	ZeroPadded bool
}

// Conv1DOption configures NewConv1D.
type Conv1DOption func(*Conv1D)

// WithStride sets the step along the length axis (default 1).
func WithStride(stride int) Conv1DOption {
	return func(c *Conv1D) { c.Stride = stride }
}

// WithoutZeroPadding restricts the convolution to fully valid windows.
func WithoutZeroPadding() Conv1DOption {
	return func(c *Conv1D) { c.ZeroPadded = false }
}

// NewConv1D registers filters ([numKernels, inDim, kernelWidth, 1], Glorot)
// and a zero bias under name in pc.
func NewConv1D(pc *params.Collection, name string, inDim, kernelWidth, numKernels int, opts ...Conv1DOption) *Conv1D {
	if inDim <= 0 || kernelWidth <= 0 || numKernels <= 0 {
		panic(fmt.Sprintf("layers: conv1d %q needs positive sizes, got inDim=%d kernelWidth=%d numKernels=%d", name, inDim, kernelWidth, numKernels))
	}
	c := &Conv1D{
		filter:      pc.Add(name+".filter", tensor.Shape{numKernels, inDim, kernelWidth, 1}, params.Glorot()),
		bias:        pc.Add(name+".bias", tensor.Shape{numKernels}, params.Zeros()),
		InDim:       inDim,
		NumKernels:  numKernels,
		KernelWidth: kernelWidth,
		Stride:      1,
		ZeroPadded:  true,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.Stride <= 0 {
		panic(fmt.Sprintf("layers: conv1d %q stride must be positive, got %d", name, c.Stride))
	}
	return c
}

// Forward convolves a [length, inDim] matrix.
func (c *Conv1D) Forward(ctx Context, x *gorgonia.Node) (*gorgonia.Node, error) {
	shape := x.Shape()
	if shape.Dims() != 2 || shape[1] != c.InDim {
		return nil, fmt.Errorf("layers: conv1d input has shape %v, want [length, %d]", shape, c.InDim)
	}
	length := shape[0]
	pad := 0
	if c.ZeroPadded {
		pad = (c.KernelWidth - 1) / 2
	} else if length < c.KernelWidth {
		return nil, fmt.Errorf("layers: conv1d input length %d shorter than kernel width %d without padding", length, c.KernelWidth)
	}

	// [length, inDim] -> NCHW [1, inDim, length, 1]
	im, err := gorgonia.Transpose(x, 1, 0)
	if err != nil {
		return nil, err
	}
	if im, err = gorgonia.Reshape(im, tensor.Shape{1, c.InDim, length, 1}); err != nil {
		return nil, err
	}

	out, err := gorgonia.Conv2d(im, c.filter.Node(),
		tensor.Shape{c.KernelWidth, 1}, []int{pad, 0}, []int{c.Stride, 1}, []int{1, 1})
	if err != nil {
		return nil, fmt.Errorf("layers: conv1d: %w", err)
	}

	outLen := out.Shape()[2]
	if out, err = gorgonia.Reshape(out, tensor.Shape{c.NumKernels, outLen}); err != nil {
		return nil, err
	}
	if out, err = gorgonia.Transpose(out, 1, 0); err != nil {
		return nil, err
	}
	b, err := gorgonia.Reshape(c.bias.Node(), tensor.Shape{1, c.NumKernels})
	if err != nil {
		return nil, err
	}
	if out, err = gorgonia.BroadcastAdd(out, b, nil, []byte{0}); err != nil {
		return nil, fmt.Errorf("layers: conv1d bias: %w", err)
	}
	return out, nil
}
