package seq2seq

import (
	"math"
	"testing"

	"github.com/dynn-ml/dynn/internal/textdata"
)

func TestHypothesisExtendedCopies(t *testing.T) {
	base := Hypothesis{Tokens: []int{3, 4}, Aligns: []int{0, 1}, Score: -1}
	a := base.extended(5, 2, -0.5)
	b := base.extended(6, 0, -0.25)

	if len(a.Tokens) != 3 || a.Tokens[2] != 5 || a.Aligns[2] != 2 {
		t.Errorf("extended = %+v, want tokens [3 4 5] aligns [0 1 2]", a)
	}
	if a.Score != -1.5 {
		t.Errorf("score = %v, want -1.5", a.Score)
	}
	if a.Done {
		t.Error("extension must not finish a hypothesis")
	}

	// Siblings must not share backing arrays.
	a.Tokens[0] = 99
	if base.Tokens[0] != 3 || b.Tokens[0] != 3 {
		t.Error("extended hypotheses share token storage")
	}
	a.Aligns[0] = 99
	if base.Aligns[0] != 0 || b.Aligns[0] != 0 {
		t.Error("extended hypotheses share alignment storage")
	}
}

func TestHypothesisFinished(t *testing.T) {
	base := Hypothesis{Tokens: []int{3}, Aligns: []int{1}, Score: -2}
	done := base.finished(-0.5)
	if !done.Done {
		t.Error("finished hypothesis not marked done")
	}
	if len(done.Tokens) != 1 {
		t.Errorf("finish emitted a token: %v", done.Tokens)
	}
	if done.Score != -2.5 {
		t.Errorf("score = %v, want end-of-sentence charged", done.Score)
	}
	done.Tokens[0] = 99
	if base.Tokens[0] != 3 {
		t.Error("finished hypothesis shares token storage")
	}
}

func TestNormalizedScore(t *testing.T) {
	h := Hypothesis{Tokens: []int{3, 4, 5}, Score: -8}
	if got := h.normalizedScore(0); got != -8 {
		t.Errorf("lenPen 0 score = %v, want raw score", got)
	}
	if got := h.normalizedScore(1); got != -2 {
		t.Errorf("lenPen 1 score = %v, want -8/4 = -2", got)
	}
	want := -8 / math.Pow(4, 0.6)
	if got := h.normalizedScore(0.6); math.Abs(got-want) > 1e-12 {
		t.Errorf("lenPen 0.6 score = %v, want %v", got, want)
	}
}

func TestTopK(t *testing.T) {
	scores := []float32{-3, -1, -7, -2}
	got := topK(scores, 2)
	seen := map[int]bool{}
	for _, i := range got {
		seen[i] = true
	}
	if len(got) != 2 || !seen[1] || !seen[3] {
		t.Errorf("topK = %v, want indices 1 and 3", got)
	}

	// k beyond the score count returns everything.
	if got := topK(scores, 10); len(got) != 4 {
		t.Errorf("oversized k returned %d indices, want 4", len(got))
	}
}

func TestReplaceUnknown(t *testing.T) {
	dic := textdata.NewDictionary()
	chat := dic.ID("chat")
	noir := dic.ID("noir")
	src := []string{"le", "chat", "noir"}

	words, err := ReplaceUnknown(dic, []int{chat, textdata.UnkID, noir}, []int{1, 0, 2}, src)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"chat", "le", "noir"}
	for i := range want {
		if words[i] != want[i] {
			t.Fatalf("words = %v, want %v", words, want)
		}
	}
}

func TestReplaceUnknownClampsEOSAlignment(t *testing.T) {
	dic := textdata.NewDictionary()
	src := []string{"bonjour", "monde"}
	// Alignment 2 points at the source end-of-sentence slot.
	words, err := ReplaceUnknown(dic, []int{textdata.UnkID}, []int{2}, src)
	if err != nil {
		t.Fatal(err)
	}
	if words[0] != "monde" {
		t.Errorf("clamped word = %q, want %q", words[0], "monde")
	}
}

func TestReplaceUnknownErrors(t *testing.T) {
	dic := textdata.NewDictionary()
	if _, err := ReplaceUnknown(dic, []int{3}, []int{0, 1}, []string{"a"}); err == nil {
		t.Error("expected error for token/alignment length mismatch")
	}
	if _, err := ReplaceUnknown(dic, []int{textdata.UnkID}, []int{-1}, []string{"a"}); err == nil {
		t.Error("expected error for negative alignment")
	}
	if _, err := ReplaceUnknown(dic, []int{textdata.UnkID}, []int{0}, nil); err == nil {
		t.Error("expected error for empty source")
	}
	if _, err := ReplaceUnknown(dic, []int{99}, []int{0}, []string{"a"}); err == nil {
		t.Error("expected error for out-of-range token id")
	}
}
