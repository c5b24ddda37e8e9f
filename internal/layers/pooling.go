package layers

import (
	"fmt"

	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// MaxPool1D takes elementwise maxima over windows along the length axis of
// a [length, dim] matrix, producing [outLength, dim]. kernel 0 pools the
// whole sequence into a single row; stride 0 means stride 1.
func MaxPool1D(ctx Context, x *gorgonia.Node, kernel, stride int) (*gorgonia.Node, error) {
	shape := x.Shape()
	if shape.Dims() != 2 {
		return nil, fmt.Errorf("layers: max pool input has shape %v, want [length, dim]", shape)
	}
	length, dim := shape[0], shape[1]
	if kernel == 0 {
		kernel = length
	}
	if stride == 0 {
		stride = 1
	}
	if kernel < 0 || kernel > length {
		return nil, fmt.Errorf("layers: max pool kernel %d out of range (0, %d]", kernel, length)
	}
	if stride < 0 {
		return nil, fmt.Errorf("layers: max pool stride must be positive, got %d", stride)
	}

	// [length, dim] -> NCHW [1, dim, length, 1]
	im, err := gorgonia.Transpose(x, 1, 0)
	if err != nil {
		return nil, err
	}
	if im, err = gorgonia.Reshape(im, tensor.Shape{1, dim, length, 1}); err != nil {
		return nil, err
	}
	out, err := gorgonia.MaxPool2D(im, tensor.Shape{kernel, 1}, []int{0, 0}, []int{stride, 1})
	if err != nil {
		return nil, fmt.Errorf("layers: max pool: %w", err)
	}
	outLen := out.Shape()[2]
	if out, err = gorgonia.Reshape(out, tensor.Shape{dim, outLen}); err != nil {
		return nil, err
	}
	return gorgonia.Transpose(out, 1, 0)
}

// MeanPool1D averages a [length, dim] matrix over its length axis into a
// [dim] vector. Windowed mean pooling (kernel/stride other than the full
// sequence) is not supported and is rejected explicitly; pass 0 for both.
//
// length, when positive, gives the sequence's true length within a padded
// matrix: the mean is rescaled so the zero pad rows do not dilute it.
func MeanPool1D(ctx Context, x *gorgonia.Node, kernel, stride, length int) (*gorgonia.Node, error) {
	shape := x.Shape()
	if shape.Dims() != 2 {
		return nil, fmt.Errorf("layers: mean pool input has shape %v, want [length, dim]", shape)
	}
	if kernel != 0 || stride != 0 {
		return nil, fmt.Errorf("layers: windowed mean pooling is not supported (got kernel=%d stride=%d); only full-sequence pooling is implemented", kernel, stride)
	}
	padded := shape[0]
	if length < 0 || length > padded {
		return nil, fmt.Errorf("layers: mean pool length %d out of range [0, %d]", length, padded)
	}

	mean, err := gorgonia.Mean(x, 0)
	if err != nil {
		return nil, fmt.Errorf("layers: mean pool: %w", err)
	}
	if length > 0 && length != padded {
		// Mean divided by the padded length; rescale to the true length.
		rescale := scalar(ctx.Graph, float32(padded)/float32(length))
		if mean, err = gorgonia.Mul(mean, rescale); err != nil {
			return nil, err
		}
	}
	return mean, nil
}
