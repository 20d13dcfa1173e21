// Package eval computes batch-level quality metrics over prediction scores
// and ground-truth labels. All functions are pure: identical inputs produce
// identical outputs regardless of call order, and no state is retained
// between batches.
package eval

import (
	"sort"
)

// Snapshot is the derived metric set reported by the primary process. It is
// recomputed every reporting step and never persisted.
type Snapshot struct {
	HitAtOne float64 `json:"hit_at_one"`
	PERR     float64 `json:"perr"`
	GAP      float64 `json:"gap"`
}

// Calculate builds a Snapshot from one batch of per-class scores and binary
// label indicators, both of shape [batch][classes]. topK bounds the global
// ranking used by GAP; topK <= 0 means rank as many entries as there are
// positive labels in the batch.
func Calculate(predictions, labels [][]float64, topK int) Snapshot {
	return Snapshot{
		HitAtOne: HitAtOne(predictions, labels),
		PERR:     PrecisionAtEqualRecall(predictions, labels),
		GAP:      GlobalAveragePrecision(predictions, labels, topK),
	}
}

// HitAtOne returns the fraction of examples whose highest-scored class is a
// true positive.
func HitAtOne(predictions, labels [][]float64) float64 {
	if len(predictions) == 0 {
		return 0
	}

	hits := 0
	for i := range predictions {
		top := argmax(predictions[i])
		if top >= 0 && top < len(labels[i]) && labels[i][top] > 0 {
			hits++
		}
	}

	return float64(hits) / float64(len(predictions))
}

// PrecisionAtEqualRecall computes, per example, the precision at the recall
// level equal to that example's true-positive count, then averages over the
// batch. Examples without positive labels contribute zero precision.
func PrecisionAtEqualRecall(predictions, labels [][]float64) float64 {
	if len(predictions) == 0 {
		return 0
	}

	var aggregated float64
	for i := range predictions {
		k := countPositives(labels[i])
		if k == 0 {
			continue
		}

		top := topIndices(predictions[i], k)
		var hits float64
		for _, idx := range top {
			if labels[i][idx] > 0 {
				hits++
			}
		}
		aggregated += hits / float64(k)
	}

	return aggregated / float64(len(predictions))
}

// GlobalAveragePrecision ranks all (example, class) score/label pairs
// jointly by descending score, truncates the ranking to topK entries (or to
// the total positive-label count when topK <= 0), and computes average
// precision over the ranked list. Score ties rank positives first so the
// result does not depend on the order examples arrive in.
func GlobalAveragePrecision(predictions, labels [][]float64, topK int) float64 {
	type pair struct {
		score    float64
		positive bool
	}

	var pairs []pair
	totalPositives := 0
	for i := range predictions {
		for j := range predictions[i] {
			positive := labels[i][j] > 0
			if positive {
				totalPositives++
			}
			pairs = append(pairs, pair{score: predictions[i][j], positive: positive})
		}
	}
	if totalPositives == 0 {
		return 0
	}

	sort.SliceStable(pairs, func(a, b int) bool {
		if pairs[a].score != pairs[b].score {
			return pairs[a].score > pairs[b].score
		}

		return pairs[a].positive && !pairs[b].positive
	})

	limit := topK
	if limit <= 0 {
		limit = totalPositives
	}
	if limit > len(pairs) {
		limit = len(pairs)
	}

	var ap float64
	positivesSeen := 0
	for rank := 0; rank < limit; rank++ {
		if !pairs[rank].positive {
			continue
		}
		positivesSeen++
		ap += float64(positivesSeen) / float64(rank+1)
	}

	return ap / float64(totalPositives)
}

func argmax(scores []float64) int {
	if len(scores) == 0 {
		return -1
	}

	best := 0
	for i := 1; i < len(scores); i++ {
		if scores[i] > scores[best] {
			best = i
		}
	}

	return best
}

func countPositives(labels []float64) int {
	n := 0
	for _, l := range labels {
		if l > 0 {
			n++
		}
	}

	return n
}

// topIndices returns the indices of the k highest scores in descending
// score order. Ties resolve to the lower index for determinism.
func topIndices(scores []float64, k int) []int {
	if k > len(scores) {
		k = len(scores)
	}

	indices := make([]int, len(scores))
	for i := range indices {
		indices[i] = i
	}
	sort.SliceStable(indices, func(a, b int) bool {
		return scores[indices[a]] > scores[indices[b]]
	})

	return indices[:k]
}
