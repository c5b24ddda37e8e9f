package train

import (
	"fmt"
	"math"

	"github.com/dynn-ml/dynn/internal/params"
)

// Adam implements the Adam optimizer over a parameter collection, with
// optional global norm gradient clipping. Moment buffers live on the
// optimizer; parameter values are updated in place, so freshly bound
// graphs observe the new weights.
type Adam struct {
	lr     float64
	beta1  float64
	beta2  float64
	eps    float64
	clip   float64
	step   int
	params []*params.Parameter
	m, v   [][]float32
}

// AdamOption configures NewAdam.
type AdamOption func(*Adam)

// WithBetas overrides the moment decay rates (defaults 0.9 and 0.999).
func WithBetas(beta1, beta2 float64) AdamOption {
	return func(a *Adam) { a.beta1, a.beta2 = beta1, beta2 }
}

// WithEps overrides the denominator stabilizer (default 1e-8).
func WithEps(eps float64) AdamOption {
	return func(a *Adam) { a.eps = eps }
}

// WithClipNorm enables global norm gradient clipping: when the norm of all
// gradients taken together exceeds clip, every gradient is scaled down by
// clip/norm before the update.
func WithClipNorm(clip float64) AdamOption {
	return func(a *Adam) { a.clip = clip }
}

// NewAdam builds an optimizer over ps with the given initial learning
// rate.
func NewAdam(ps []*params.Parameter, lr float64, opts ...AdamOption) *Adam {
	if len(ps) == 0 {
		panic("train: optimizer needs at least one parameter")
	}
	if lr <= 0 {
		panic(fmt.Sprintf("train: learning rate must be positive, got %v", lr))
	}
	a := &Adam{
		lr:     lr,
		beta1:  0.9,
		beta2:  0.999,
		eps:    1e-8,
		params: ps,
		m:      make([][]float32, len(ps)),
		v:      make([][]float32, len(ps)),
	}
	for i, p := range ps {
		n := p.Shape().TotalSize()
		a.m[i] = make([]float32, n)
		a.v[i] = make([]float32, n)
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// LR returns the current learning rate.
func (a *Adam) LR() float64 { return a.lr }

// SetLR replaces the learning rate. Schedules call this before every
// update.
func (a *Adam) SetLR(lr float64) { a.lr = lr }

// Step applies one Adam update from the gradients of the current graph.
// It must run after a backward pass.
func (a *Adam) Step() error {
	grads := make([][]float32, len(a.params))
	for i, p := range a.params {
		g, err := p.GradData()
		if err != nil {
			return fmt.Errorf("train: adam step: %w", err)
		}
		grads[i] = g
	}
	scale := a.clipScale(grads)

	a.step++
	bc1 := 1 - math.Pow(a.beta1, float64(a.step))
	bc2 := 1 - math.Pow(a.beta2, float64(a.step))
	stepSize := a.lr * math.Sqrt(bc2) / bc1

	for i, p := range a.params {
		data := p.Data()
		m, v := a.m[i], a.v[i]
		for j, g := range grads[i] {
			g *= scale
			m[j] = float32(a.beta1)*m[j] + float32(1-a.beta1)*g
			v[j] = float32(a.beta2)*v[j] + float32(1-a.beta2)*g*g
			data[j] -= float32(stepSize * float64(m[j]) / (math.Sqrt(float64(v[j])) + a.eps))
		}
	}
	return nil
}

// clipScale returns the factor every gradient is multiplied by: 1 when
// clipping is off or the global norm is within bounds.
func (a *Adam) clipScale(grads [][]float32) float32 {
	if a.clip <= 0 {
		return 1
	}
	var sq float64
	for _, g := range grads {
		for _, x := range g {
			sq += float64(x) * float64(x)
		}
	}
	norm := math.Sqrt(sq)
	if norm <= a.clip {
		return 1
	}
	return float32(a.clip / norm)
}
