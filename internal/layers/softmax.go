package layers

import (
	"fmt"

	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// LogSoftmax computes log(softmax(x)) along the given axis in the
// numerically stable form x - max - log(sum(exp(x - max))).
func LogSoftmax(x *gorgonia.Node, axis int) (*gorgonia.Node, error) {
	shape := x.Shape()
	rank := shape.Dims()
	if axis < 0 || axis >= rank {
		return nil, fmt.Errorf("layers: log softmax axis %d out of range for rank %d", axis, rank)
	}
	keepShape := make(tensor.Shape, rank)
	copy(keepShape, shape)
	keepShape[axis] = 1
	bcast := []byte{byte(axis)}

	mx, err := gorgonia.Max(x, axis)
	if err != nil {
		return nil, fmt.Errorf("layers: log softmax max: %w", err)
	}
	if mx, err = gorgonia.Reshape(mx, keepShape); err != nil {
		return nil, err
	}
	shifted, err := gorgonia.BroadcastSub(x, mx, nil, bcast)
	if err != nil {
		return nil, err
	}
	exp, err := gorgonia.Exp(shifted)
	if err != nil {
		return nil, err
	}
	sum, err := gorgonia.Sum(exp, axis)
	if err != nil {
		return nil, err
	}
	logZ, err := gorgonia.Log(sum)
	if err != nil {
		return nil, err
	}
	if logZ, err = gorgonia.Reshape(logZ, keepShape); err != nil {
		return nil, err
	}
	out, err := gorgonia.BroadcastSub(shifted, logZ, nil, bcast)
	if err != nil {
		return nil, err
	}
	return out, nil
}
