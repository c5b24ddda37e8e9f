// Copyright 2026 The DyNN Authors. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package metrics exposes corpus-level translation metrics.
package metrics

import "github.com/dynn-ml/dynn/internal/metrics"

// CorpusBLEU computes the corpus-level BLEU-4 score (0 to 100) against
// single references.
func CorpusBLEU(hyps, refs [][]string) (float64, error) {
	return metrics.CorpusBLEU(hyps, refs)
}
