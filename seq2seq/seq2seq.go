// Copyright 2026 The DyNN Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package seq2seq exposes the transformer translation model: encoder and
// decoder stacks, tied output projection, training losses and beam search
// decoding with attention-derived alignments.
//
// Example:
//
//	pc := params.NewCollection(rng)
//	model := seq2seq.New(pc, seq2seq.Config{
//	    SrcVocab: srcDic.Len(),
//	    TgtVocab: tgtDic.Len(),
//	    Layers:   4,
//	    Dim:      512,
//	    Heads:    4,
//	    Dropout:  0.2,
//	})
//	tokens, aligns, err := model.Decode(seq2seq.DecodeConfig{BeamSize: 4, LenPen: 1}, src)
package seq2seq

import (
	"github.com/dynn-ml/dynn/internal/params"
	"github.com/dynn-ml/dynn/internal/seq2seq"
	"github.com/dynn-ml/dynn/internal/textdata"
)

// Config sizes a translation model.
type Config = seq2seq.Config

// Model is an encoder-decoder transformer with a tied output projection.
type Model = seq2seq.Model

// New registers a model's parameters in pc.
func New(pc *params.Collection, cfg Config) *Model {
	return seq2seq.New(pc, cfg)
}

// DecodeConfig controls beam search.
type DecodeConfig = seq2seq.DecodeConfig

// Hypothesis is one immutable candidate translation during beam search.
type Hypothesis = seq2seq.Hypothesis

// ReplaceUnknown renders a hypothesis as words, substituting unknown
// tokens with the source word their attention aligned to.
func ReplaceUnknown(dic *textdata.Dictionary, hyp, aligns []int, srcWords []string) ([]string, error) {
	return seq2seq.ReplaceUnknown(dic, hyp, aligns, srcWords)
}
