// Copyright 2026 The DyNN Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package layers exposes DyNN's neural network building blocks: embeddings,
// affine maps, layer normalization, sinusoidal positional encodings,
// multi-head attention, transformer stacks, 1D convolution and pooling,
// recurrent cells and sequence transduction helpers.
//
// All layers build onto gorgonia expression graphs. Graphs are renewed per
// batch; the current graph, execution mode and dropout generator travel in
// an explicit Context:
//
//	g := gorgonia.NewGraph()
//	pc.Bind(g)
//	ctx := layers.NewContext(g, layers.Train, rng)
//	out, err := embed.Forward(ctx, ids)
package layers

import (
	"math/rand"

	"github.com/dynn-ml/dynn/internal/layers"
	"github.com/dynn-ml/dynn/internal/params"
	"gorgonia.org/gorgonia"
)

// Mode selects between training and evaluation behaviour.
type Mode = layers.Mode

// Train enables dropout; Eval disables it.
const (
	Train = layers.Train
	Eval  = layers.Eval
)

// Context carries the per-call execution environment of a forward pass.
type Context = layers.Context

// NewContext returns a Context with embedding table updates enabled.
func NewContext(g *gorgonia.ExprGraph, mode Mode, rng *rand.Rand) Context {
	return layers.NewContext(g, mode, rng)
}

// Module is a layer mapping one node to another.
type Module = layers.Module

// Embedding maps token ids to dense vectors by table lookup, with optional
// pad masking.
type Embedding = layers.Embedding

// EmbeddingOption configures NewEmbedding.
type EmbeddingOption = layers.EmbeddingOption

// NewEmbedding registers a [vocab, dim] lookup table under name in pc.
func NewEmbedding(pc *params.Collection, name string, vocab, dim int, init params.Initializer, opts ...EmbeddingOption) *Embedding {
	return layers.NewEmbedding(pc, name, vocab, dim, init, opts...)
}

// WithPadMask replaces the embedding of padIdx with a constant mask value.
func WithPadMask(padIdx int, maskVal float64) EmbeddingOption {
	return layers.WithPadMask(padIdx, maskVal)
}

// WithEmbeddingDropout applies dropout to looked-up vectors in Train mode.
func WithEmbeddingDropout(rate float64) EmbeddingOption {
	return layers.WithEmbeddingDropout(rate)
}

// Affine computes activation(x W + b), optionally tied to an embedding
// table.
type Affine = layers.Affine

// AffineOption configures NewAffine.
type AffineOption = layers.AffineOption

// NewAffine registers an in -> out affine layer under name in pc.
func NewAffine(pc *params.Collection, name string, in, out int, opts ...AffineOption) *Affine {
	return layers.NewAffine(pc, name, in, out, opts...)
}

// WithTiedWeight reuses an embedding table (shape [out, in]) as the
// transposed projection weight.
func WithTiedWeight(table *params.Parameter) AffineOption {
	return layers.WithTiedWeight(table)
}

// WithNoBias omits the bias term.
func WithNoBias() AffineOption { return layers.WithNoBias() }

// WithAffineDropout applies dropout to the input before the projection.
func WithAffineDropout(rate float64) AffineOption {
	return layers.WithAffineDropout(rate)
}

// WithActivation applies a nonlinearity to the affine output.
func WithActivation(f layers.Activation) AffineOption {
	return layers.WithActivation(f)
}

// Sequential chains modules.
type Sequential = layers.Sequential

// NewSequential builds a module chain.
func NewSequential(mods ...Module) *Sequential { return layers.NewSequential(mods...) }

// LayerNorm normalizes the last axis with learned gain and bias.
type LayerNorm = layers.LayerNorm

// NewLayerNorm registers a layer norm of width dim.
func NewLayerNorm(pc *params.Collection, name string, dim int) *LayerNorm {
	return layers.NewLayerNorm(pc, name, dim)
}

// SinusoidalEncoding is the fixed transformer position signal.
type SinusoidalEncoding = layers.SinusoidalEncoding

// NewSinusoidalEncoding builds (or fetches from cache) the encoding table
// for up to maxLen positions of width dim.
func NewSinusoidalEncoding(maxLen, dim int) *SinusoidalEncoding {
	return layers.NewSinusoidalEncoding(maxLen, dim)
}

// MultiHeadAttention implements scaled dot-product attention with learned
// projections.
type MultiHeadAttention = layers.MultiHeadAttention

// AttentionOption configures NewMultiHeadAttention.
type AttentionOption = layers.AttentionOption

// NewMultiHeadAttention registers the projections under name in pc.
func NewMultiHeadAttention(pc *params.Collection, name string, dim, heads int, opts ...AttentionOption) *MultiHeadAttention {
	return layers.NewMultiHeadAttention(pc, name, dim, heads, opts...)
}

// WithAttentionDropout applies dropout to the attention weights.
func WithAttentionDropout(rate float64) AttentionOption {
	return layers.WithAttentionDropout(rate)
}

// StackConfig sizes a transformer stack.
type StackConfig = layers.StackConfig

// TransformerStack chains encoder blocks and exposes every depth's output.
type TransformerStack = layers.TransformerStack

// NewTransformerStack registers cfg.Layers encoder blocks under name.
func NewTransformerStack(pc *params.Collection, name string, cfg StackConfig) *TransformerStack {
	return layers.NewTransformerStack(pc, name, cfg)
}

// CondTransformerStack chains decoder blocks conditioned on an encoded
// source.
type CondTransformerStack = layers.CondTransformerStack

// NewCondTransformerStack registers cfg.Layers decoder blocks under name.
func NewCondTransformerStack(pc *params.Collection, name string, cfg StackConfig) *CondTransformerStack {
	return layers.NewCondTransformerStack(pc, name, cfg)
}

// Conv1D slides learned filters along a sequence.
type Conv1D = layers.Conv1D

// Conv1DOption configures NewConv1D.
type Conv1DOption = layers.Conv1DOption

// NewConv1D registers a 1D convolution under name in pc.
func NewConv1D(pc *params.Collection, name string, inDim, kernelWidth, numKernels int, opts ...Conv1DOption) *Conv1D {
	return layers.NewConv1D(pc, name, inDim, kernelWidth, numKernels, opts...)
}

// WithStride sets the convolution step along the length axis.
func WithStride(stride int) Conv1DOption { return layers.WithStride(stride) }

// WithoutZeroPadding restricts the convolution to fully valid windows.
func WithoutZeroPadding() Conv1DOption { return layers.WithoutZeroPadding() }

// MaxPool1D takes window maxima along the length axis.
func MaxPool1D(ctx Context, x *gorgonia.Node, kernel, stride int) (*gorgonia.Node, error) {
	return layers.MaxPool1D(ctx, x, kernel, stride)
}

// MeanPool1D averages a sequence matrix over its length axis.
func MeanPool1D(ctx Context, x *gorgonia.Node, kernel, stride, length int) (*gorgonia.Node, error) {
	return layers.MeanPool1D(ctx, x, kernel, stride, length)
}

// RecurrentCell is a single-step recurrent unit.
type RecurrentCell = layers.RecurrentCell

// ElmanRNN is the simple tanh recurrent cell.
type ElmanRNN = layers.ElmanRNN

// NewElmanRNN registers an Elman cell under name in pc.
func NewElmanRNN(pc *params.Collection, name string, inDim, hiddenDim int, dropout float64) *ElmanRNN {
	return layers.NewElmanRNN(pc, name, inDim, hiddenDim, dropout)
}

// LSTM is the standard long short-term memory cell.
type LSTM = layers.LSTM

// NewLSTM registers an LSTM cell under name in pc.
func NewLSTM(pc *params.Collection, name string, inDim, hiddenDim int, dropout float64) *LSTM {
	return layers.NewLSTM(pc, name, inDim, hiddenDim, dropout)
}

// Unidirectional runs a recurrent cell over a step sequence with padding
// aware state carry-over.
func Unidirectional(ctx Context, cell RecurrentCell, steps []*gorgonia.Node, lengths []int, backward, leftPadded bool) ([]*gorgonia.Node, error) {
	return layers.Unidirectional(ctx, cell, steps, lengths, backward, leftPadded)
}

// Bidirectional runs a forward and a backward cell over the same sequence.
func Bidirectional(ctx Context, fwd, bwd RecurrentCell, steps []*gorgonia.Node, lengths []int, leftPadded bool) (forward, backward []*gorgonia.Node, err error) {
	return layers.Bidirectional(ctx, fwd, bwd, steps, lengths, leftPadded)
}

// Transduce applies a position-independent module to every step.
func Transduce(ctx Context, m Module, steps []*gorgonia.Node) ([]*gorgonia.Node, error) {
	return layers.Transduce(ctx, m, steps)
}

// Dropout zeroes elements with the given probability in Train mode.
func Dropout(ctx Context, x *gorgonia.Node, rate float64) (*gorgonia.Node, error) {
	return layers.Dropout(ctx, x, rate)
}

// LogSoftmax computes numerically stable log probabilities along an axis.
func LogSoftmax(x *gorgonia.Node, axis int) (*gorgonia.Node, error) {
	return layers.LogSoftmax(x, axis)
}

// StackRows converts a list of vectors into a matrix.
func StackRows(g *gorgonia.ExprGraph, vecs []*gorgonia.Node) (*gorgonia.Node, error) {
	return layers.StackRows(g, vecs)
}

// CausalAttentionMask blocks attention to future positions.
func CausalAttentionMask(g *gorgonia.ExprGraph, batch, heads, n int) (*gorgonia.Node, error) {
	return layers.CausalAttentionMask(g, batch, heads, n)
}

// PaddingAttentionMask blocks attention to padded key positions.
func PaddingAttentionMask(g *gorgonia.ExprGraph, lengths []int, heads, qLen, kLen int, leftPadded bool) (*gorgonia.Node, error) {
	return layers.PaddingAttentionMask(g, lengths, heads, qLen, kLen, leftPadded)
}
