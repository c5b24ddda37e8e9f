// Package seq2seq assembles the transformer translation model: encoder and
// decoder stacks over shared-vocabulary embeddings, a tied output
// projection, the training losses and beam-search decoding.
package seq2seq

import (
	"fmt"

	"github.com/dynn-ml/dynn/internal/layers"
	"github.com/dynn-ml/dynn/internal/params"
	"github.com/dynn-ml/dynn/internal/textdata"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Config sizes a translation model.
type Config struct {
	// SrcVocab and TgtVocab are the vocabulary sizes including reserved
	// symbols.
	SrcVocab, TgtVocab int
	// Layers, Dim and Heads size both transformer stacks.
	Layers, Dim, Heads int
	// HiddenDim is the feed-forward inner width. Zero means 4*Dim.
	HiddenDim int
	// Dropout is applied throughout in Train mode.
	Dropout float64
	// MaxLen bounds the positional encoding table. Zero means 2000.
	MaxLen int
	// EmbedScale is the U(-scale, scale) embedding initializer scale. Zero
	// means 0.1.
	EmbedScale float64
	// LabelSmoothing is the ε of the smoothed training loss.
	LabelSmoothing float64
}

func (c *Config) defaults() {
	if c.MaxLen == 0 {
		c.MaxLen = 2000
	}
	if c.EmbedScale == 0 {
		c.EmbedScale = 0.1
	}
}

// Model is an encoder-decoder transformer for sequence-to-sequence
// translation. The output projection shares its weight with the target
// embedding table.
type Model struct {
	// Cfg is the configuration the model was built with.
	Cfg Config

	pc       *params.Collection
	srcEmbed *layers.Embedding
	tgtEmbed *layers.Embedding
	sos      *params.Parameter
	pos      *layers.SinusoidalEncoding
	enc      *layers.TransformerStack
	dec      *layers.CondTransformerStack
	proj     *layers.Sequential
}

// New registers a model's parameters in pc. Invalid configurations panic.
func New(pc *params.Collection, cfg Config) *Model {
	cfg.defaults()
	if cfg.SrcVocab <= 0 || cfg.TgtVocab <= 0 {
		panic(fmt.Sprintf("seq2seq: vocabulary sizes must be positive, got src=%d tgt=%d", cfg.SrcVocab, cfg.TgtVocab))
	}
	if cfg.LabelSmoothing < 0 || cfg.LabelSmoothing >= 1 {
		panic(fmt.Sprintf("seq2seq: label smoothing must be in [0, 1), got %v", cfg.LabelSmoothing))
	}

	embedInit := params.Uniform(cfg.EmbedScale)
	stackCfg := layers.StackConfig{
		Layers:    cfg.Layers,
		Dim:       cfg.Dim,
		Heads:     cfg.Heads,
		HiddenDim: cfg.HiddenDim,
		Dropout:   cfg.Dropout,
	}

	m := &Model{
		Cfg:      cfg,
		pc:       pc,
		srcEmbed: layers.NewEmbedding(pc, "src_embed", cfg.SrcVocab, cfg.Dim, embedInit),
		tgtEmbed: layers.NewEmbedding(pc, "tgt_embed", cfg.TgtVocab, cfg.Dim, embedInit),
		sos:      pc.Add("sos", tensor.Shape{cfg.Dim}, embedInit),
		pos:      layers.NewSinusoidalEncoding(cfg.MaxLen, cfg.Dim),
		enc:      layers.NewTransformerStack(pc, "encoder", stackCfg),
		dec:      layers.NewCondTransformerStack(pc, "decoder", stackCfg),
	}
	m.proj = layers.NewSequential(
		layers.NewAffine(pc, "proj.bridge", cfg.Dim, cfg.Dim),
		layers.NewAffine(pc, "proj.logits", cfg.Dim, cfg.TgtVocab,
			layers.WithTiedWeight(m.tgtEmbed.Table()),
			layers.WithAffineDropout(cfg.Dropout)),
	)
	return m
}

// Params returns the owning parameter collection.
func (m *Model) Params() *params.Collection { return m.pc }

// Encode embeds the source batch, adds positional encodings and runs the
// encoder, returning every layer's output ([batch, srcLen, dim] each).
func (m *Model) Encode(ctx layers.Context, src *textdata.SequenceBatch) ([]*gorgonia.Node, error) {
	embs, err := m.srcEmbed.ForwardBatch(ctx, src.Sequences)
	if err != nil {
		return nil, fmt.Errorf("seq2seq: source embedding: %w", err)
	}
	if embs, err = m.addPositions(ctx, embs); err != nil {
		return nil, err
	}
	return m.enc.Forward(ctx, embs, src.Lengths, src.LeftPadded)
}

// addPositions adds pos[0:L] to every batch row of a [batch, L, dim]
// tensor.
func (m *Model) addPositions(ctx layers.Context, x *gorgonia.Node) (*gorgonia.Node, error) {
	seqLen := x.Shape()[1]
	pe, err := m.pos.Forward(ctx, seqLen)
	if err != nil {
		return nil, err
	}
	if pe, err = gorgonia.Reshape(pe, tensor.Shape{1, seqLen, m.Cfg.Dim}); err != nil {
		return nil, err
	}
	out, err := gorgonia.BroadcastAdd(x, pe, nil, []byte{0})
	if err != nil {
		return nil, fmt.Errorf("seq2seq: positional encoding: %w", err)
	}
	return out, nil
}

// decoderInput builds the shifted decoder input: the start-of-sentence
// vector followed by the embeddings of all target tokens but the last,
// plus positional encodings. tokens holds the raw (padded) target rows;
// the result is [batch, maxLen, dim].
func (m *Model) decoderInput(ctx layers.Context, tokens [][]int, maxLen int) (*gorgonia.Node, error) {
	sos, err := gorgonia.Reshape(m.sos.Node(), tensor.Shape{1, m.Cfg.Dim})
	if err != nil {
		return nil, err
	}

	rows := make([]*gorgonia.Node, len(tokens))
	for b, row := range tokens {
		in := sos
		if maxLen > 1 {
			embs, err := m.tgtEmbed.Forward(ctx, row[:maxLen-1])
			if err != nil {
				return nil, fmt.Errorf("seq2seq: target embedding: %w", err)
			}
			if in, err = gorgonia.Concat(0, sos, embs); err != nil {
				return nil, fmt.Errorf("seq2seq: decoder input: %w", err)
			}
		}
		if rows[b], err = gorgonia.Reshape(in, tensor.Shape{1, maxLen, m.Cfg.Dim}); err != nil {
			return nil, err
		}
	}
	x := rows[0]
	if len(rows) > 1 {
		if x, err = gorgonia.Concat(0, rows...); err != nil {
			return nil, fmt.Errorf("seq2seq: decoder input batch: %w", err)
		}
	}
	return m.addPositions(ctx, x)
}

// Logits runs the full teacher-forced forward pass and returns the raw
// output scores, [batch, tgtLen, tgtVocab]. Position t scores the token at
// tgt position t, conditioned on all earlier ones.
func (m *Model) Logits(ctx layers.Context, src, tgt *textdata.SequenceBatch) (*gorgonia.Node, error) {
	enc, err := m.Encode(ctx, src)
	if err != nil {
		return nil, err
	}
	return m.logitsFromEncoder(ctx, enc, src, tgt)
}

func (m *Model) logitsFromEncoder(ctx layers.Context, enc []*gorgonia.Node, src, tgt *textdata.SequenceBatch) (*gorgonia.Node, error) {
	batch, tgtLen := tgt.Size(), tgt.MaxLen()
	x, err := m.decoderInput(ctx, tgt.Sequences, tgtLen)
	if err != nil {
		return nil, err
	}
	h, _, err := m.dec.Forward(ctx, x, enc, src.Lengths, src.LeftPadded)
	if err != nil {
		return nil, err
	}
	flat, err := gorgonia.Reshape(h, tensor.Shape{batch * tgtLen, m.Cfg.Dim})
	if err != nil {
		return nil, err
	}
	logits, err := m.proj.Forward(ctx, flat)
	if err != nil {
		return nil, fmt.Errorf("seq2seq: output projection: %w", err)
	}
	return gorgonia.Reshape(logits, tensor.Shape{batch, tgtLen, m.Cfg.TgtVocab})
}

// logProbs returns teacher-forced log probabilities flattened to
// [batch*tgtLen, tgtVocab].
func (m *Model) logProbs(ctx layers.Context, src, tgt *textdata.SequenceBatch) (*gorgonia.Node, error) {
	logits, err := m.Logits(ctx, src, tgt)
	if err != nil {
		return nil, err
	}
	batch, tgtLen := tgt.Size(), tgt.MaxLen()
	flat, err := gorgonia.Reshape(logits, tensor.Shape{batch * tgtLen, m.Cfg.TgtVocab})
	if err != nil {
		return nil, err
	}
	return layers.LogSoftmax(flat, 1)
}

// pickTrue gathers logp[i, targets[i]] into an [n] vector.
func pickTrue(logp *gorgonia.Node, targets []int) (*gorgonia.Node, error) {
	picked := make([]*gorgonia.Node, len(targets))
	for i, y := range targets {
		v, err := gorgonia.Slice(logp, gorgonia.S(i), gorgonia.S(y))
		if err != nil {
			return nil, fmt.Errorf("seq2seq: pick target %d at row %d: %w", y, i, err)
		}
		if picked[i], err = gorgonia.Reshape(v, tensor.Shape{1}); err != nil {
			return nil, err
		}
	}
	if len(picked) == 1 {
		return picked[0], nil
	}
	out, err := gorgonia.Concat(0, picked...)
	if err != nil {
		return nil, fmt.Errorf("seq2seq: stack picked log probs: %w", err)
	}
	return out, nil
}

func flatTargets(tgt *textdata.SequenceBatch) []int {
	out := make([]int, 0, tgt.Size()*tgt.MaxLen())
	for _, row := range tgt.Sequences {
		out = append(out, row...)
	}
	return out
}

// Loss computes the label-smoothed training objective as a scalar node:
// per-token smoothed negative log likelihood, zeroed at pad positions,
// summed per sequence, divided by each sequence's true length and averaged
// over the batch.
func (m *Model) Loss(ctx layers.Context, src, tgt *textdata.SequenceBatch) (*gorgonia.Node, error) {
	logp, err := m.logProbs(ctx, src, tgt)
	if err != nil {
		return nil, err
	}
	eps := m.Cfg.LabelSmoothing

	ll, err := pickTrue(logp, flatTargets(tgt))
	if err != nil {
		return nil, err
	}
	if eps > 0 {
		vocabMean, err := gorgonia.Mean(logp, 1)
		if err != nil {
			return nil, fmt.Errorf("seq2seq: smoothing term: %w", err)
		}
		g := ctx.Graph
		if ll, err = gorgonia.Mul(ll, gorgonia.NodeFromAny(g, float32(1-eps))); err != nil {
			return nil, err
		}
		if vocabMean, err = gorgonia.Mul(vocabMean, gorgonia.NodeFromAny(g, float32(eps))); err != nil {
			return nil, err
		}
		if ll, err = gorgonia.Add(ll, vocabMean); err != nil {
			return nil, err
		}
	}
	nll, err := gorgonia.Neg(ll)
	if err != nil {
		return nil, err
	}

	// Zero the pad positions, then weight every position of row b by
	// 1/length(b); summing and dividing by the batch size yields the mean
	// of per-sequence length-normalized losses.
	batch, tgtLen := tgt.Size(), tgt.MaxLen()
	weights := make([]float32, batch*tgtLen)
	maskData := tgt.Mask(1, 0).Data().([]float32)
	for b, l := range tgt.Lengths {
		for t := 0; t < tgtLen; t++ {
			weights[b*tgtLen+t] = maskData[b*tgtLen+t] / float32(l)
		}
	}
	w := gorgonia.NodeFromAny(ctx.Graph, tensor.New(tensor.WithShape(batch*tgtLen), tensor.WithBacking(weights)))
	if nll, err = gorgonia.HadamardProd(nll, w); err != nil {
		return nil, fmt.Errorf("seq2seq: loss masking: %w", err)
	}
	total, err := gorgonia.Sum(nll)
	if err != nil {
		return nil, err
	}
	return gorgonia.Mul(total, gorgonia.NodeFromAny(ctx.Graph, float32(1)/float32(batch)))
}

// SumNLL computes the unsmoothed negative log likelihood summed over all
// real target tokens in the batch, as a scalar node. Validation divides
// the running sum by the total token count to get a perplexity.
func (m *Model) SumNLL(ctx layers.Context, src, tgt *textdata.SequenceBatch) (*gorgonia.Node, error) {
	logp, err := m.logProbs(ctx, src, tgt)
	if err != nil {
		return nil, err
	}
	ll, err := pickTrue(logp, flatTargets(tgt))
	if err != nil {
		return nil, err
	}
	nll, err := gorgonia.Neg(ll)
	if err != nil {
		return nil, err
	}
	batch, tgtLen := tgt.Size(), tgt.MaxLen()
	maskT := tgt.Mask(1, 0)
	mask := gorgonia.NodeFromAny(ctx.Graph, tensor.New(
		tensor.WithShape(batch*tgtLen),
		tensor.WithBacking(maskT.Data().([]float32))))
	if nll, err = gorgonia.HadamardProd(nll, mask); err != nil {
		return nil, fmt.Errorf("seq2seq: nll masking: %w", err)
	}
	return gorgonia.Sum(nll)
}
