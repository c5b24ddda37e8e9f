// Copyright 2026 The DyNN Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package params exposes the parameter collection: the single owner of all
// trainable tensors of a model.
//
// A Collection outlives the per-batch computation graphs. Bind re-creates
// graph nodes over the persistent values at the start of every batch, and
// the optimizer writes updates straight into the backing tensors.
package params

import (
	"math/rand"

	"github.com/dynn-ml/dynn/internal/params"
)

// Parameter is a single named trainable tensor with persistent storage and
// a per-graph node binding.
type Parameter = params.Parameter

// Collection owns the parameters of one model.
//
// Example:
//
//	rng := rand.New(rand.NewSource(31415))
//	pc := params.NewCollection(rng)
//	w := pc.Add("weight", tensor.Shape{512, 512}, params.Glorot())
//	g := gorgonia.NewGraph()
//	pc.Bind(g)
type Collection = params.Collection

// Initializer fills a freshly allocated parameter buffer.
type Initializer = params.Initializer

// NewCollection creates an empty collection around an explicitly seeded
// random generator.
func NewCollection(rng *rand.Rand) *Collection {
	return params.NewCollection(rng)
}

// Zeros fills with zeros.
func Zeros() Initializer { return params.Zeros() }

// Ones fills with ones.
func Ones() Initializer { return params.Ones() }

// Constant fills with v.
func Constant(v float32) Initializer { return params.Constant(v) }

// Normal samples from N(0, std²).
func Normal(std float64) Initializer { return params.Normal(std) }

// Uniform samples from U(-scale, scale).
func Uniform(scale float64) Initializer { return params.Uniform(scale) }

// Glorot samples uniformly with the Glorot/Xavier fan-based limit.
func Glorot() Initializer { return params.Glorot() }
