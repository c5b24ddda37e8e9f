// Copyright 2026 The DyNN Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package data exposes the text pipeline: dictionaries, corpus download and
// extraction, tokenization and sequence batching.
//
// A typical translation setup:
//
//	srcSents, _ := data.ReadTarSplit(archive, "./corpus/{split}.fr", "train", true)
//	dic := data.DictionaryFromData(srcSents, 30000)
//	ids := dic.NumberizeAll(srcSents)
//	iter, _ := data.NewPairIterator(srcIDs, tgtIDs, data.PairIteratorOptions{
//	    MaxSamples: 64,
//	    MaxTokens:  2000,
//	    RNG:        rng,
//	})
package data

import (
	"github.com/dynn-ml/dynn/internal/textdata"
	"go.uber.org/zap"
)

// Reserved token ids shared by every dictionary.
const (
	PadID = textdata.PadID
	UnkID = textdata.UnkID
	EOSID = textdata.EOSID
)

// Surface forms of the reserved ids.
const (
	PadSymbol = textdata.PadSymbol
	UnkSymbol = textdata.UnkSymbol
	EOSSymbol = textdata.EOSSymbol
)

// Dictionary maps tokens to contiguous ids and back.
type Dictionary = textdata.Dictionary

// NewDictionary returns a dictionary holding only the reserved symbols.
func NewDictionary() *Dictionary { return textdata.NewDictionary() }

// DictionaryFromData builds a frozen dictionary from tokenized sentences,
// keeping the maxSize most frequent tokens.
func DictionaryFromData(sentences [][]string, maxSize int) *Dictionary {
	return textdata.DictionaryFromData(sentences, maxSize)
}

// LoadDictionary reads a dictionary written by Dictionary.Save.
func LoadDictionary(path string) (*Dictionary, error) {
	return textdata.LoadDictionary(path)
}

// SequenceBatch is a rectangular, padded batch of token id sequences.
type SequenceBatch = textdata.SequenceBatch

// NewSequenceBatch pads sequences to a rectangle.
func NewSequenceBatch(seqs [][]int, originalIdxs []int, padIdx int, leftPadded bool) (*SequenceBatch, error) {
	return textdata.NewSequenceBatch(seqs, originalIdxs, padIdx, leftPadded)
}

// PairIterator yields aligned (source, target) batches grouped by length.
type PairIterator = textdata.PairIterator

// PairIteratorOptions configures NewPairIterator.
type PairIteratorOptions = textdata.PairIteratorOptions

// NewPairIterator builds batches over two aligned corpora.
func NewPairIterator(src, tgt [][]int, opts PairIteratorOptions) (*PairIterator, error) {
	return textdata.NewPairIterator(src, tgt, opts)
}

// Tokenizer splits raw text into tokens.
type Tokenizer = textdata.Tokenizer

// WhitespaceTokenizer splits on Unicode whitespace.
type WhitespaceTokenizer = textdata.WhitespaceTokenizer

// BPETokenizer segments text into byte-pair-encoded subwords.
type BPETokenizer = textdata.BPETokenizer

// NewBPETokenizer loads a named BPE encoding, e.g. "cl100k_base".
func NewBPETokenizer(encoding string) (*BPETokenizer, error) {
	return textdata.NewBPETokenizer(encoding)
}

// DownloadIfAbsent fetches url into dir/filename unless already present.
func DownloadIfAbsent(log *zap.Logger, dir, filename, url string) (string, error) {
	return textdata.DownloadIfAbsent(log, dir, filename, url)
}

// ReadTarSplit extracts one split's sentences from a gzipped tar archive.
// The member path uses "{split}" as a placeholder, and split must be one
// of train, valid or test.
func ReadTarSplit(archive, member, split string, lowercase bool) ([][]string, error) {
	return textdata.ReadTarSplit(archive, member, split, lowercase)
}

// ReadTextFile reads tokenized sentences from a plain text file.
func ReadTextFile(path string, lowercase bool) ([][]string, error) {
	return textdata.ReadTextFile(path, lowercase)
}
