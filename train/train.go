// Copyright 2026 The DyNN Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package train exposes the optimization stack: Adam with global norm
// clipping, the inverse-square-root warmup schedule and the epoch loop
// with validation-based checkpointing.
package train

import (
	"math/rand"

	"github.com/dynn-ml/dynn/internal/params"
	"github.com/dynn-ml/dynn/internal/seq2seq"
	"github.com/dynn-ml/dynn/internal/train"
	"go.uber.org/zap"
)

// Adam is the Adam optimizer over a parameter collection.
type Adam = train.Adam

// AdamOption configures NewAdam.
type AdamOption = train.AdamOption

// NewAdam builds an optimizer over the given parameters.
func NewAdam(ps []*params.Parameter, lr float64, opts ...AdamOption) *Adam {
	return train.NewAdam(ps, lr, opts...)
}

// WithBetas overrides the moment decay rates.
func WithBetas(beta1, beta2 float64) AdamOption { return train.WithBetas(beta1, beta2) }

// WithEps overrides the denominator stabilizer.
func WithEps(eps float64) AdamOption { return train.WithEps(eps) }

// WithClipNorm enables global norm gradient clipping.
func WithClipNorm(clip float64) AdamOption { return train.WithClipNorm(clip) }

// NoamSchedule is the transformer warmup learning rate schedule.
type NoamSchedule = train.NoamSchedule

// NewNoamSchedule builds the schedule for a model width and warmup length.
func NewNoamSchedule(dim, warmup int) *NoamSchedule {
	return train.NewNoamSchedule(dim, warmup)
}

// LoopConfig controls the epoch loop.
type LoopConfig = train.LoopConfig

// Loop runs epochs of scheduled updates with validation checkpointing.
type Loop = train.Loop

// NewLoop assembles a training loop over a model.
func NewLoop(log *zap.Logger, model *seq2seq.Model, cfg LoopConfig, rng *rand.Rand) *Loop {
	return train.NewLoop(log, model, cfg, rng)
}
