package explain

import (
	"math"
	"sort"

	"github.com/opensource-finance/heron/internal/domain"
)

// Rank pairs each feature with its contribution and orders them by
// descending absolute value, keeping at most k. Ties keep the order of
// names, which is the bundle's feature order.
func Rank(names []string, contributions []float64, k int) []domain.Contribution {
	ranked := make([]domain.Contribution, len(names))
	for i, name := range names {
		ranked[i] = domain.Contribution{Feature: name, Contribution: contributions[i]}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return math.Abs(ranked[i].Contribution) > math.Abs(ranked[j].Contribution)
	})
	if k < len(ranked) {
		ranked = ranked[:k]
	}
	return ranked
}

// DetectOOD returns the features, in order, whose value lies outside the
// training range. Features without a recorded range are never flagged.
func DetectOOD(features domain.FeatureSet, order []string, ranges map[string]domain.FeatureRange, mode domain.OODBoundary) []string {
	out := []string{}
	for _, name := range order {
		r, ok := ranges[name]
		if !ok {
			continue
		}
		v, ok := features[name]
		if !ok {
			continue
		}
		if outside(v, r, mode) {
			out = append(out, name)
		}
	}
	return out
}

func outside(v float64, r domain.FeatureRange, mode domain.OODBoundary) bool {
	if mode == domain.OODInclusive {
		return v <= r.Min || v >= r.Max
	}
	return v < r.Min || v > r.Max
}
