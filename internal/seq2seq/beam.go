package seq2seq

import (
	"fmt"
	"math"
	"sort"

	"github.com/dynn-ml/dynn/internal/layers"
	"github.com/dynn-ml/dynn/internal/textdata"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Hypothesis is one candidate translation during beam search. Hypotheses
// are immutable: extension returns a new value with copied slices, so
// sibling beams never share backing arrays.
type Hypothesis struct {
	// Tokens holds the generated target ids, end-of-sentence excluded.
	Tokens []int
	// Aligns holds, per token, the source position its cross-attention
	// peaked at.
	Aligns []int
	// Score is the cumulative log probability, including the final
	// end-of-sentence when Done.
	Score float64
	// Done marks a hypothesis that generated end-of-sentence.
	Done bool
}

// extended returns a copy with one more token.
func (h Hypothesis) extended(token, align int, logp float64) Hypothesis {
	tokens := make([]int, len(h.Tokens)+1)
	copy(tokens, h.Tokens)
	tokens[len(h.Tokens)] = token
	aligns := make([]int, len(h.Aligns)+1)
	copy(aligns, h.Aligns)
	aligns[len(h.Aligns)] = align
	return Hypothesis{Tokens: tokens, Aligns: aligns, Score: h.Score + logp}
}

// finished returns a copy marked done, charging the end-of-sentence log
// probability without emitting a token.
func (h Hypothesis) finished(logp float64) Hypothesis {
	return Hypothesis{
		Tokens: append([]int(nil), h.Tokens...),
		Aligns: append([]int(nil), h.Aligns...),
		Score:  h.Score + logp,
		Done:   true,
	}
}

// normalizedScore applies the length penalty: score / (len+1)^lenPen.
func (h Hypothesis) normalizedScore(lenPen float64) float64 {
	return h.Score / math.Pow(float64(len(h.Tokens)+1), lenPen)
}

// DecodeConfig controls beam search.
type DecodeConfig struct {
	// BeamSize is the number of live hypotheses. 1 is greedy search.
	BeamSize int
	// LenPen is the length penalty exponent; 0 disables normalization.
	LenPen float64
}

// Decode translates every row of src by beam search, sequentially, one
// sentence at a time. It returns the generated token ids and the
// attention-derived source alignment of each token, both indexed by batch
// row.
func (m *Model) Decode(cfg DecodeConfig, src *textdata.SequenceBatch) (tokens [][]int, aligns [][]int, err error) {
	if cfg.BeamSize <= 0 {
		return nil, nil, fmt.Errorf("seq2seq: beam size must be positive, got %d", cfg.BeamSize)
	}
	tokens = make([][]int, src.Size())
	aligns = make([][]int, src.Size())
	for b := 0; b < src.Size(); b++ {
		best, err := m.decodeOne(cfg, srcRow(src, b))
		if err != nil {
			return nil, nil, fmt.Errorf("seq2seq: decode row %d: %w", b, err)
		}
		tokens[b] = best.Tokens
		aligns[b] = best.Aligns
	}
	return tokens, aligns, nil
}

// srcRow returns row b without its padding. Left-padded rows carry their
// tokens at the end.
func srcRow(src *textdata.SequenceBatch, b int) []int {
	if src.LeftPadded {
		return src.Sequences[b][src.MaxLen()-src.Lengths[b]:]
	}
	return src.Sequences[b][:src.Lengths[b]]
}

// decodeOne beam-searches a single unpadded source sentence.
//
// The source is encoded once; its layer outputs are captured as host
// tensors and re-injected as constants into every decoding step's fresh
// graph. Each step re-runs the full decoder over the hypothesis prefix.
func (m *Model) decodeOne(cfg DecodeConfig, srcRow []int) (Hypothesis, error) {
	srcBatch, err := textdata.NewSequenceBatch([][]int{srcRow}, nil, textdata.PadID, false)
	if err != nil {
		return Hypothesis{}, err
	}
	encoded, err := m.encodeToHost(srcBatch)
	if err != nil {
		return Hypothesis{}, err
	}

	maxLen := 2 * len(srcRow)
	beams := []Hypothesis{{}}
	for !beams[len(beams)-1].Done && len(beams[len(beams)-1].Tokens) < maxLen {
		var candidates []Hypothesis
		for _, beam := range beams {
			// Finished hypotheses are not expanded; they survive only
			// through the loop condition when ranked best.
			if beam.Done {
				continue
			}
			logp, align, err := m.stepScores(encoded, srcBatch, beam.Tokens)
			if err != nil {
				return Hypothesis{}, err
			}
			for _, tok := range topK(logp, cfg.BeamSize) {
				if tok == textdata.EOSID {
					candidates = append(candidates, beam.finished(float64(logp[tok])))
				} else {
					candidates = append(candidates, beam.extended(tok, align, float64(logp[tok])))
				}
			}
		}
		sort.SliceStable(candidates, func(i, j int) bool {
			return candidates[i].normalizedScore(cfg.LenPen) < candidates[j].normalizedScore(cfg.LenPen)
		})
		if len(candidates) > cfg.BeamSize {
			candidates = candidates[len(candidates)-cfg.BeamSize:]
		}
		beams = candidates
	}
	return beams[len(beams)-1], nil
}

// encodeToHost runs the encoder once and captures every layer's output as
// a host tensor.
func (m *Model) encodeToHost(src *textdata.SequenceBatch) ([]*tensor.Dense, error) {
	g := gorgonia.NewGraph()
	m.pc.Bind(g)
	ctx := layers.Context{Graph: g, Mode: layers.Eval}

	encoded, err := m.Encode(ctx, src)
	if err != nil {
		return nil, err
	}
	if err := runGraph(g); err != nil {
		return nil, fmt.Errorf("seq2seq: encoder pass: %w", err)
	}

	out := make([]*tensor.Dense, len(encoded))
	for i, n := range encoded {
		d, ok := n.Value().(*tensor.Dense)
		if !ok {
			return nil, fmt.Errorf("seq2seq: encoder output %d has no dense value", i)
		}
		out[i] = d.Clone().(*tensor.Dense)
	}
	return out, nil
}

// stepScores runs the decoder over the prefix and returns the next-token
// log probabilities plus the alignment of the last position: the source
// index where the top block's head-averaged cross-attention peaks.
func (m *Model) stepScores(encoded []*tensor.Dense, src *textdata.SequenceBatch, prefix []int) ([]float32, int, error) {
	g := gorgonia.NewGraph()
	m.pc.Bind(g)
	ctx := layers.Context{Graph: g, Mode: layers.Eval}

	enc := make([]*gorgonia.Node, len(encoded))
	for i, d := range encoded {
		enc[i] = gorgonia.NodeFromAny(g, d.Clone().(*tensor.Dense))
	}

	tgtLen := len(prefix) + 1
	// The prefix plus a trailing slot gives the decoder input built by
	// decoderInput: sos followed by the prefix embeddings.
	padded := make([]int, tgtLen)
	copy(padded, prefix)
	x, err := m.decoderInput(ctx, [][]int{padded}, tgtLen)
	if err != nil {
		return nil, 0, err
	}
	h, attn, err := m.dec.Forward(ctx, x, enc, src.Lengths, src.LeftPadded)
	if err != nil {
		return nil, 0, err
	}
	last, err := gorgonia.Slice(h, gorgonia.S(0), gorgonia.S(tgtLen-1))
	if err != nil {
		return nil, 0, err
	}
	logits, err := m.proj.Forward(ctx, last)
	if err != nil {
		return nil, 0, err
	}
	if logits, err = gorgonia.Reshape(logits, tensor.Shape{1, m.Cfg.TgtVocab}); err != nil {
		return nil, 0, err
	}
	logp, err := layers.LogSoftmax(logits, 1)
	if err != nil {
		return nil, 0, err
	}
	if err := runGraph(g); err != nil {
		return nil, 0, fmt.Errorf("seq2seq: decoder step: %w", err)
	}

	scores := append([]float32(nil), logp.Value().Data().([]float32)...)
	align, err := lastPositionAlignment(attn, tgtLen)
	if err != nil {
		return nil, 0, err
	}
	return scores, align, nil
}

// lastPositionAlignment averages the [1, heads, tgtLen, srcLen] attention
// weights over heads and returns the argmax source position of the last
// target position.
func lastPositionAlignment(attn *gorgonia.Node, tgtLen int) (int, error) {
	data, ok := attn.Value().Data().([]float32)
	if !ok {
		return 0, fmt.Errorf("seq2seq: attention weights have no float32 value")
	}
	shape := attn.Shape()
	heads, srcLen := shape[1], shape[3]

	best, bestVal := 0, float32(math.Inf(-1))
	for s := 0; s < srcLen; s++ {
		var sum float32
		for h := 0; h < heads; h++ {
			sum += data[(h*tgtLen+tgtLen-1)*srcLen+s]
		}
		if sum > bestVal {
			best, bestVal = s, sum
		}
	}
	return best, nil
}

// topK returns the indices of the k largest scores, in no particular
// order.
func topK(scores []float32, k int) []int {
	idx := make([]int, len(scores))
	for i := range idx {
		idx[i] = i
	}
	sort.Slice(idx, func(a, b int) bool { return scores[idx[a]] > scores[idx[b]] })
	if k > len(idx) {
		k = len(idx)
	}
	return idx[:k]
}

// runGraph executes a fully built forward graph.
func runGraph(g *gorgonia.ExprGraph) error {
	vm := gorgonia.NewTapeMachine(g)
	defer vm.Close()
	return vm.RunAll()
}

// ReplaceUnknown renders a hypothesis as words, substituting each unknown
// token with the source word its attention aligned to.
func ReplaceUnknown(dic *textdata.Dictionary, hyp, aligns []int, srcWords []string) ([]string, error) {
	if len(hyp) != len(aligns) {
		return nil, fmt.Errorf("seq2seq: %d tokens but %d alignments", len(hyp), len(aligns))
	}
	out := make([]string, len(hyp))
	for i, id := range hyp {
		if id == textdata.UnkID {
			a := aligns[i]
			if a < 0 || len(srcWords) == 0 {
				return nil, fmt.Errorf("seq2seq: alignment %d out of source range [0, %d)", a, len(srcWords))
			}
			// Attention over the end-of-sentence position aligns past the
			// last word; clamp to it.
			if a >= len(srcWords) {
				a = len(srcWords) - 1
			}
			out[i] = srcWords[a]
			continue
		}
		tok, err := dic.Token(id)
		if err != nil {
			return nil, err
		}
		out[i] = tok
	}
	return out, nil
}
