package seq2seq

import (
	"math"
	"math/rand"
	"testing"

	"github.com/dynn-ml/dynn/internal/layers"
	"github.com/dynn-ml/dynn/internal/params"
	"github.com/dynn-ml/dynn/internal/textdata"
	"gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

func tinyModel(t *testing.T) *Model {
	t.Helper()
	pc := params.NewCollection(rand.New(rand.NewSource(31415)))
	return New(pc, Config{
		SrcVocab: 12,
		TgtVocab: 12,
		Layers:   1,
		Dim:      8,
		Heads:    2,
		MaxLen:   32,
	})
}

func testBatches(t *testing.T) (src, tgt *textdata.SequenceBatch) {
	t.Helper()
	var err error
	src, err = textdata.NewSequenceBatch([][]int{
		{3, 4, 5, textdata.EOSID},
		{6, textdata.EOSID},
	}, nil, textdata.PadID, false)
	if err != nil {
		t.Fatal(err)
	}
	tgt, err = textdata.NewSequenceBatch([][]int{
		{7, 8, textdata.EOSID},
		{9, textdata.EOSID},
	}, nil, textdata.PadID, false)
	if err != nil {
		t.Fatal(err)
	}
	return src, tgt
}

func evalContext(m *Model) layers.Context {
	g := gorgonia.NewGraph()
	m.Params().Bind(g)
	return layers.Context{Graph: g, Mode: layers.Eval}
}

func runGraphT(t *testing.T, g *gorgonia.ExprGraph) {
	t.Helper()
	if err := runGraph(g); err != nil {
		t.Fatal(err)
	}
}

func TestLogitsShape(t *testing.T) {
	m := tinyModel(t)
	src, tgt := testBatches(t)
	ctx := evalContext(m)

	logits, err := m.Logits(ctx, src, tgt)
	if err != nil {
		t.Fatal(err)
	}
	if !logits.Shape().Eq(tensor.Shape{2, 3, 12}) {
		t.Errorf("logits shape = %v, want (2, 3, 12)", logits.Shape())
	}
}

func scalarOf(t *testing.T, n *gorgonia.Node) float64 {
	t.Helper()
	switch v := n.Value().Data().(type) {
	case float32:
		return float64(v)
	case []float32:
		if len(v) == 1 {
			return float64(v[0])
		}
	}
	t.Fatalf("node value %v is not scalar", n.Value())
	return 0
}

func TestLossFiniteAndPositive(t *testing.T) {
	m := tinyModel(t)
	src, tgt := testBatches(t)
	ctx := evalContext(m)

	loss, err := m.Loss(ctx, src, tgt)
	if err != nil {
		t.Fatal(err)
	}
	runGraphT(t, ctx.Graph)
	v := scalarOf(t, loss)
	if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
		t.Errorf("loss = %v, want a finite positive value", v)
	}
}

func TestLossIgnoresPadding(t *testing.T) {
	// The same sequences with extra pad columns must yield the same loss:
	// pad positions carry zero weight.
	m := tinyModel(t)
	src, _ := testBatches(t)

	a, err := textdata.NewSequenceBatch([][]int{{7, textdata.EOSID}}, nil, textdata.PadID, false)
	if err != nil {
		t.Fatal(err)
	}
	b, err := textdata.NewSequenceBatch([][]int{{7, textdata.EOSID, textdata.PadID, textdata.PadID}}, nil, textdata.PadID, false)
	if err != nil {
		t.Fatal(err)
	}
	b.Lengths[0] = 2

	srcOne, err := textdata.NewSequenceBatch(src.Sequences[:1], nil, textdata.PadID, false)
	if err != nil {
		t.Fatal(err)
	}

	ctxA := evalContext(m)
	lossA, err := m.SumNLL(ctxA, srcOne, a)
	if err != nil {
		t.Fatal(err)
	}
	runGraphT(t, ctxA.Graph)

	ctxB := evalContext(m)
	lossB, err := m.SumNLL(ctxB, srcOne, b)
	if err != nil {
		t.Fatal(err)
	}
	runGraphT(t, ctxB.Graph)

	va, vb := scalarOf(t, lossA), scalarOf(t, lossB)
	if math.Abs(va-vb) > 1e-4 {
		t.Errorf("padded loss %v differs from unpadded %v", vb, va)
	}
}

func TestSmoothedLossDiffersFromPlain(t *testing.T) {
	pc := params.NewCollection(rand.New(rand.NewSource(31415)))
	plain := New(pc, Config{SrcVocab: 12, TgtVocab: 12, Layers: 1, Dim: 8, Heads: 2, MaxLen: 32})
	pcS := params.NewCollection(rand.New(rand.NewSource(31415)))
	smoothed := New(pcS, Config{SrcVocab: 12, TgtVocab: 12, Layers: 1, Dim: 8, Heads: 2, MaxLen: 32, LabelSmoothing: 0.1})

	src, tgt := testBatches(t)

	ctxP := evalContext(plain)
	lp, err := plain.Loss(ctxP, src, tgt)
	if err != nil {
		t.Fatal(err)
	}
	runGraphT(t, ctxP.Graph)

	ctxS := evalContext(smoothed)
	ls, err := smoothed.Loss(ctxS, src, tgt)
	if err != nil {
		t.Fatal(err)
	}
	runGraphT(t, ctxS.Graph)

	// Same seed, same weights; only the objective changes.
	if math.Abs(scalarOf(t, lp)-scalarOf(t, ls)) < 1e-6 {
		t.Error("label smoothing had no effect on the loss")
	}
}

func TestZeroSmoothingLossIsLengthNormalizedNLL(t *testing.T) {
	// Without label smoothing the training loss is, by definition, the mean
	// over sequences of (summed NLL / true length). Recompute that from
	// single-sequence SumNLL batches and compare.
	m := tinyModel(t)
	src, tgt := testBatches(t)

	ctx := evalContext(m)
	loss, err := m.Loss(ctx, src, tgt)
	if err != nil {
		t.Fatal(err)
	}
	runGraphT(t, ctx.Graph)
	got := scalarOf(t, loss)

	var want float64
	for b := 0; b < src.Size(); b++ {
		srcOne, err := textdata.NewSequenceBatch([][]int{src.Sequences[b][:src.Lengths[b]]}, nil, textdata.PadID, false)
		if err != nil {
			t.Fatal(err)
		}
		tgtOne, err := textdata.NewSequenceBatch([][]int{tgt.Sequences[b][:tgt.Lengths[b]]}, nil, textdata.PadID, false)
		if err != nil {
			t.Fatal(err)
		}
		ctxB := evalContext(m)
		nll, err := m.SumNLL(ctxB, srcOne, tgtOne)
		if err != nil {
			t.Fatal(err)
		}
		runGraphT(t, ctxB.Graph)
		want += scalarOf(t, nll) / float64(tgt.Lengths[b])
	}
	want /= float64(src.Size())

	if math.Abs(got-want) > 1e-4 {
		t.Errorf("plain loss = %v, want length-normalized NLL mean %v", got, want)
	}
}

func TestDecodeTerminates(t *testing.T) {
	m := tinyModel(t)
	src, err := textdata.NewSequenceBatch([][]int{
		{3, 4, textdata.EOSID},
		{5, textdata.EOSID},
	}, nil, textdata.PadID, false)
	if err != nil {
		t.Fatal(err)
	}

	tokens, aligns, err := m.Decode(DecodeConfig{BeamSize: 2, LenPen: 1}, src)
	if err != nil {
		t.Fatal(err)
	}
	if len(tokens) != 2 || len(aligns) != 2 {
		t.Fatalf("got %d token rows and %d align rows, want 2 each", len(tokens), len(aligns))
	}
	for b := range tokens {
		if len(tokens[b]) != len(aligns[b]) {
			t.Errorf("row %d has %d tokens but %d alignments", b, len(tokens[b]), len(aligns[b]))
		}
		if max := 2 * src.Lengths[b]; len(tokens[b]) > max {
			t.Errorf("row %d emitted %d tokens, want at most %d", b, len(tokens[b]), max)
		}
		for _, a := range aligns[b] {
			if a < 0 || a >= src.Lengths[b] {
				t.Errorf("row %d alignment %d out of source range", b, a)
			}
		}
	}
}

func TestDecodeGreedy(t *testing.T) {
	m := tinyModel(t)
	src, err := textdata.NewSequenceBatch([][]int{{3, textdata.EOSID}}, nil, textdata.PadID, false)
	if err != nil {
		t.Fatal(err)
	}
	// Beam size 1 is greedy search and must still terminate.
	if _, _, err := m.Decode(DecodeConfig{BeamSize: 1}, src); err != nil {
		t.Fatal(err)
	}
	if _, _, err := m.Decode(DecodeConfig{BeamSize: 0}, src); err == nil {
		t.Error("expected error for beam size 0")
	}
}

func TestBeamOneMatchesGreedy(t *testing.T) {
	m := tinyModel(t)
	sentence := []int{3, 4, 5, textdata.EOSID}
	src, err := textdata.NewSequenceBatch([][]int{sentence}, nil, textdata.PadID, false)
	if err != nil {
		t.Fatal(err)
	}

	tokens, _, err := m.Decode(DecodeConfig{BeamSize: 1}, src)
	if err != nil {
		t.Fatal(err)
	}

	// Greedy reference: take the arg-max token at every step.
	encoded, err := m.encodeToHost(src)
	if err != nil {
		t.Fatal(err)
	}
	var greedy []int
	for len(greedy) < 2*len(sentence) {
		logp, _, err := m.stepScores(encoded, src, greedy)
		if err != nil {
			t.Fatal(err)
		}
		best := 0
		for i, v := range logp {
			if v > logp[best] {
				best = i
			}
		}
		if best == textdata.EOSID {
			break
		}
		greedy = append(greedy, best)
	}

	if len(tokens[0]) != len(greedy) {
		t.Fatalf("beam-1 decoded %v, greedy reference %v", tokens[0], greedy)
	}
	for i := range greedy {
		if tokens[0][i] != greedy[i] {
			t.Fatalf("beam-1 decoded %v, greedy reference %v", tokens[0], greedy)
		}
	}
}

func TestDecodeLeftPaddedSource(t *testing.T) {
	rows := [][]int{
		{3, 4, 5, textdata.EOSID},
		{6, textdata.EOSID},
	}
	right, err := textdata.NewSequenceBatch(rows, nil, textdata.PadID, false)
	if err != nil {
		t.Fatal(err)
	}
	left, err := textdata.NewSequenceBatch(rows, nil, textdata.PadID, true)
	if err != nil {
		t.Fatal(err)
	}

	m := tinyModel(t)
	cfg := DecodeConfig{BeamSize: 2, LenPen: 1}
	rightTokens, rightAligns, err := m.Decode(cfg, right)
	if err != nil {
		t.Fatal(err)
	}
	// The padding side must not leak into decoding: each sentence is
	// stripped to its real tokens either way.
	leftTokens, leftAligns, err := m.Decode(cfg, left)
	if err != nil {
		t.Fatal(err)
	}
	for b := range rows {
		if len(leftTokens[b]) != len(rightTokens[b]) {
			t.Fatalf("row %d: left-padded decode %v, right-padded %v", b, leftTokens[b], rightTokens[b])
		}
		for i := range rightTokens[b] {
			if leftTokens[b][i] != rightTokens[b][i] || leftAligns[b][i] != rightAligns[b][i] {
				t.Fatalf("row %d: left-padded decode %v %v, right-padded %v %v",
					b, leftTokens[b], leftAligns[b], rightTokens[b], rightAligns[b])
			}
		}
	}
}

func TestTiedProjectionSharesEmbedding(t *testing.T) {
	m := tinyModel(t)
	// The logits projection reuses the target embedding table, so no
	// separate [vocab, dim] weight exists for it.
	if _, ok := m.Params().Param("proj.logits.weight"); ok {
		t.Error("tied projection registered its own weight")
	}
	if _, ok := m.Params().Param("tgt_embed.table"); !ok {
		t.Error("target embedding table missing")
	}
}

func TestNewPanicsOnBadConfig(t *testing.T) {
	for _, tt := range []struct {
		name string
		cfg  Config
	}{
		{"zero vocab", Config{TgtVocab: 10, Layers: 1, Dim: 8, Heads: 2}},
		{"bad smoothing", Config{SrcVocab: 10, TgtVocab: 10, Layers: 1, Dim: 8, Heads: 2, LabelSmoothing: 1}},
	} {
		t.Run(tt.name, func(t *testing.T) {
			pc := params.NewCollection(rand.New(rand.NewSource(1)))
			defer func() {
				if recover() == nil {
					t.Error("expected panic")
				}
			}()
			New(pc, tt.cfg)
		})
	}
}
