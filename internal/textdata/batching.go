package textdata

import (
	"fmt"
	"math/rand"
	"sort"

	"gorgonia.org/tensor"
)

// SequenceBatch is a rectangular batch of token id sequences, padded to the
// longest member. It is the single container for batched sequences: every
// consumer (embedding lookup, attention masking, loss masking) reads the
// same padded ids and true lengths.
type SequenceBatch struct {
	// Sequences holds the padded ids, [batch][maxLen].
	Sequences [][]int
	// Lengths holds each row's true length.
	Lengths []int
	// OriginalIdxs maps batch rows back to corpus positions, so outputs of
	// a length-sorted iteration can be reordered.
	OriginalIdxs []int
	// PadIdx is the id used for padding.
	PadIdx int
	// LeftPadded places padding before the tokens instead of after.
	LeftPadded bool
}

// NewSequenceBatch pads seqs to a rectangle. originalIdxs may be nil, in
// which case rows map to themselves.
func NewSequenceBatch(seqs [][]int, originalIdxs []int, padIdx int, leftPadded bool) (*SequenceBatch, error) {
	if len(seqs) == 0 {
		return nil, fmt.Errorf("textdata: batch needs at least one sequence")
	}
	if originalIdxs == nil {
		originalIdxs = make([]int, len(seqs))
		for i := range originalIdxs {
			originalIdxs[i] = i
		}
	}
	if len(originalIdxs) != len(seqs) {
		return nil, fmt.Errorf("textdata: got %d original indices for %d sequences", len(originalIdxs), len(seqs))
	}

	maxLen := 0
	for _, s := range seqs {
		if len(s) == 0 {
			return nil, fmt.Errorf("textdata: batch contains an empty sequence")
		}
		if len(s) > maxLen {
			maxLen = len(s)
		}
	}

	b := &SequenceBatch{
		Sequences:    make([][]int, len(seqs)),
		Lengths:      make([]int, len(seqs)),
		OriginalIdxs: append([]int(nil), originalIdxs...),
		PadIdx:       padIdx,
		LeftPadded:   leftPadded,
	}
	for i, s := range seqs {
		row := make([]int, maxLen)
		for j := range row {
			row[j] = padIdx
		}
		if leftPadded {
			copy(row[maxLen-len(s):], s)
		} else {
			copy(row, s)
		}
		b.Sequences[i] = row
		b.Lengths[i] = len(s)
	}
	return b, nil
}

// Size returns the number of rows.
func (b *SequenceBatch) Size() int { return len(b.Sequences) }

// MaxLen returns the padded length.
func (b *SequenceBatch) MaxLen() int {
	return len(b.Sequences[0])
}

// Tokens returns the total number of real (non-pad) tokens.
func (b *SequenceBatch) Tokens() int {
	n := 0
	for _, l := range b.Lengths {
		n += l
	}
	return n
}

// Mask returns a [batch, maxLen] host tensor holding base at real token
// positions and maskVal at padded ones. Loss masking uses (1, 0); additive
// attention masking uses (0, -1e9).
func (b *SequenceBatch) Mask(base, maskVal float32) *tensor.Dense {
	rows, cols := b.Size(), b.MaxLen()
	data := make([]float32, rows*cols)
	for i, l := range b.Lengths {
		for j := 0; j < cols; j++ {
			padded := j >= l
			if b.LeftPadded {
				padded = j < cols-l
			}
			if padded {
				data[i*cols+j] = maskVal
			} else {
				data[i*cols+j] = base
			}
		}
	}
	return tensor.New(tensor.WithShape(rows, cols), tensor.WithBacking(data))
}

// PairIteratorOptions configures NewPairIterator.
type PairIteratorOptions struct {
	// MaxSamples caps the rows per batch. Zero means 32.
	MaxSamples int
	// MaxTokens caps Size()*MaxLen() per batch (an upper bound on the work
	// a batch costs). Zero means no cap.
	MaxTokens int
	// PadIdx is the padding id (normally PadID).
	PadIdx int
	// SrcLeftPadded and TgtLeftPadded select the padding side per stream.
	SrcLeftPadded, TgtLeftPadded bool
	// RNG shuffles batch order on Reset(true). Nil disables shuffling.
	RNG *rand.Rand
}

// PairIterator yields aligned (source, target) batches for seq2seq
// training. Samples are grouped by source length so padding stays small;
// batch order can be reshuffled every epoch while group membership stays
// fixed.
type PairIterator struct {
	src, tgt [][]int
	opts     PairIteratorOptions

	batches [][]int
	pos     int
}

// NewPairIterator builds batches over the aligned corpora src and tgt.
func NewPairIterator(src, tgt [][]int, opts PairIteratorOptions) (*PairIterator, error) {
	if len(src) == 0 {
		return nil, fmt.Errorf("textdata: pair iterator needs at least one sample")
	}
	if len(src) != len(tgt) {
		return nil, fmt.Errorf("textdata: source has %d samples, target has %d", len(src), len(tgt))
	}
	if opts.MaxSamples == 0 {
		opts.MaxSamples = 32
	}
	if opts.MaxSamples < 0 || opts.MaxTokens < 0 {
		return nil, fmt.Errorf("textdata: negative batch bounds (maxSamples=%d maxTokens=%d)", opts.MaxSamples, opts.MaxTokens)
	}

	order := make([]int, len(src))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return len(src[order[a]]) < len(src[order[b]])
	})

	it := &PairIterator{src: src, tgt: tgt, opts: opts}
	var cur []int
	maxLen := 0
	flush := func() {
		if len(cur) > 0 {
			it.batches = append(it.batches, cur)
			cur, maxLen = nil, 0
		}
	}
	for _, idx := range order {
		l := len(src[idx])
		if l > maxLen {
			maxLen = l
		}
		tooBig := len(cur) >= opts.MaxSamples ||
			(opts.MaxTokens > 0 && (len(cur)+1)*maxLen > opts.MaxTokens)
		if tooBig && len(cur) > 0 {
			flush()
			maxLen = l
		}
		cur = append(cur, idx)
	}
	flush()
	return it, nil
}

// Len returns the number of batches per epoch.
func (it *PairIterator) Len() int { return len(it.batches) }

// Samples returns the corpus size.
func (it *PairIterator) Samples() int { return len(it.src) }

// Next returns the next (source, target) batch pair, or ok=false at the
// end of the epoch.
func (it *PairIterator) Next() (src, tgt *SequenceBatch, ok bool) {
	if it.pos >= len(it.batches) {
		return nil, nil, false
	}
	idxs := it.batches[it.pos]
	it.pos++

	srcSeqs := make([][]int, len(idxs))
	tgtSeqs := make([][]int, len(idxs))
	for i, idx := range idxs {
		srcSeqs[i] = it.src[idx]
		tgtSeqs[i] = it.tgt[idx]
	}
	// Construction cannot fail here: membership was validated upfront.
	src, _ = NewSequenceBatch(srcSeqs, idxs, it.opts.PadIdx, it.opts.SrcLeftPadded)
	tgt, _ = NewSequenceBatch(tgtSeqs, idxs, it.opts.PadIdx, it.opts.TgtLeftPadded)
	return src, tgt, true
}

// Reset rewinds to the start of an epoch, optionally reshuffling batch
// order (requires an RNG in the options).
func (it *PairIterator) Reset(shuffle bool) {
	it.pos = 0
	if shuffle && it.opts.RNG != nil {
		it.opts.RNG.Shuffle(len(it.batches), func(a, b int) {
			it.batches[a], it.batches[b] = it.batches[b], it.batches[a]
		})
	}
}

// PercentageDone reports epoch progress in [0, 100].
func (it *PairIterator) PercentageDone() float64 {
	if len(it.batches) == 0 {
		return 100
	}
	return 100 * float64(it.pos) / float64(len(it.batches))
}

// JustPassedMultiple reports whether the batch counter sits on a multiple
// of m. Training loops use it for periodic progress logging.
func (it *PairIterator) JustPassedMultiple(m int) bool {
	return m > 0 && it.pos > 0 && it.pos%m == 0
}
