// Package rfm implements RFM (Recency, Frequency, Monetary) customer
// segmentation: quintile scoring, rule-based classification and
// per-segment summaries.
package rfm

import (
	"sort"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// bands is the number of quintile bands a ranking is split into.
const bands = 5

// Score computes an RFM score for every aggregate, relative to the given
// population. The result is index-aligned with aggs.
//
// Each metric is ranked with a single stable sort over the input order, so
// equal values keep their input order. Frequency and monetary rank
// descending and recency ranks ascending by days; in every ranking the
// first band scores 5.
func Score(aggs []domain.PurchaseAggregate) []domain.RFMScore {
	n := len(aggs)
	if n == 0 {
		return nil
	}

	recency := rankBy(n, func(a, b int) bool {
		return aggs[a].RecencyDays < aggs[b].RecencyDays
	})
	frequency := rankBy(n, func(a, b int) bool {
		return aggs[a].Frequency > aggs[b].Frequency
	})
	monetary := rankBy(n, func(a, b int) bool {
		return aggs[a].Monetary > aggs[b].Monetary
	})

	size := quintileSize(n)
	scores := make([]domain.RFMScore, n)
	for i := range aggs {
		scores[i] = domain.RFMScore{
			R: bands + 1 - band(recency[i], size),
			F: bands + 1 - band(frequency[i], size),
			M: bands + 1 - band(monetary[i], size),
		}
	}
	return scores
}

// rankBy returns, for each input index, its position in the stable order
// defined by less.
func rankBy(n int, less func(a, b int) bool) []int {
	order := make([]int, n)
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(i, j int) bool {
		return less(order[i], order[j])
	})

	ranks := make([]int, n)
	for pos, idx := range order {
		ranks[idx] = pos
	}
	return ranks
}

// quintileSize is floor(n/5), never less than 1 so populations smaller
// than five still band without dividing by zero.
func quintileSize(n int) int {
	size := n / bands
	if size < 1 {
		size = 1
	}
	return size
}

// band maps a zero-based rank to a band in [1,5].
func band(rank, size int) int {
	b := rank/size + 1
	if b > bands {
		b = bands
	}
	return b
}
