// Package train drives optimization: the Adam optimizer with global norm
// clipping, the inverse-square-root warmup schedule and the epoch loop
// with validation-based checkpointing.
package train

import (
	"fmt"
	"math"
)

// NoamSchedule is the transformer learning rate schedule: a base rate of
// 1/sqrt(dim) scaled by min(1/sqrt(step), sqrt(step/warmup³)). The rate
// grows linearly during warmup and decays as the inverse square root of
// the step afterwards; the two branches meet at step == warmup.
//
// Steps are 1-indexed: the first update uses Rate(1).
type NoamSchedule struct {
	base   float64
	warmup float64
	step   int
}

// NewNoamSchedule builds the schedule for a model width and warmup length.
func NewNoamSchedule(dim, warmup int) *NoamSchedule {
	if dim <= 0 || warmup <= 0 {
		panic(fmt.Sprintf("train: schedule needs positive sizes, got dim=%d warmup=%d", dim, warmup))
	}
	return &NoamSchedule{
		base:   1 / math.Sqrt(float64(dim)),
		warmup: float64(warmup),
	}
}

// Rate returns the learning rate of a given 1-indexed step.
func (s *NoamSchedule) Rate(step int) float64 {
	if step < 1 {
		panic(fmt.Sprintf("train: schedule steps are 1-indexed, got %d", step))
	}
	t := float64(step)
	scale := math.Min(1/math.Sqrt(t), math.Sqrt(t/(s.warmup*s.warmup*s.warmup)))
	return s.base * scale
}

// Next advances the schedule and returns the rate for the new step.
func (s *NoamSchedule) Next() float64 {
	s.step++
	return s.Rate(s.step)
}

// Step returns the number of updates taken so far.
func (s *NoamSchedule) Step() int { return s.step }
