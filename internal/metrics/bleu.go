// Package metrics implements corpus-level translation metrics.
package metrics

import (
	"fmt"
	"math"
	"strings"
)

// bleuOrder is the maximum n-gram order of the BLEU score.
const bleuOrder = 4

// CorpusBLEU computes the corpus-level BLEU-4 score (0 to 100) of
// hypotheses against single references: geometric mean of modified 1- to
// 4-gram precisions, multiplied by the brevity penalty. Counts are pooled
// over the whole corpus before taking precisions; no smoothing is applied,
// so a corpus with zero matches at any order scores 0.
func CorpusBLEU(hyps, refs [][]string) (float64, error) {
	if len(hyps) == 0 {
		return 0, fmt.Errorf("metrics: bleu needs at least one sentence")
	}
	if len(hyps) != len(refs) {
		return 0, fmt.Errorf("metrics: got %d hypotheses for %d references", len(hyps), len(refs))
	}

	var matches, totals [bleuOrder]int
	var hypLen, refLen int
	for i := range hyps {
		hypLen += len(hyps[i])
		refLen += len(refs[i])
		for n := 1; n <= bleuOrder; n++ {
			m, t := clippedMatches(hyps[i], refs[i], n)
			matches[n-1] += m
			totals[n-1] += t
		}
	}

	logPrecSum := 0.0
	for n := 0; n < bleuOrder; n++ {
		if totals[n] == 0 || matches[n] == 0 {
			return 0, nil
		}
		logPrecSum += math.Log(float64(matches[n]) / float64(totals[n]))
	}

	bp := 1.0
	if hypLen < refLen {
		bp = math.Exp(1 - float64(refLen)/float64(hypLen))
	}
	return 100 * bp * math.Exp(logPrecSum/bleuOrder), nil
}

// clippedMatches counts hypothesis n-grams, clipping each n-gram's matches
// to its reference count.
func clippedMatches(hyp, ref []string, n int) (matches, total int) {
	if len(hyp) < n {
		return 0, 0
	}
	refCounts := ngramCounts(ref, n)
	for gram, count := range ngramCounts(hyp, n) {
		total += count
		if rc := refCounts[gram]; rc < count {
			matches += rc
		} else {
			matches += count
		}
	}
	return matches, total
}

func ngramCounts(toks []string, n int) map[string]int {
	counts := make(map[string]int)
	for i := 0; i+n <= len(toks); i++ {
		counts[strings.Join(toks[i:i+n], "\x00")]++
	}
	return counts
}
