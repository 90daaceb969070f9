// Package aggregator implements the range-level rollup of SPEC_FULL.md
// §4.7 (C8): normalizing the per-gap histograms internal/estimator
// accumulates across a range, and searching for the "optimal prp top
// percent" — the fraction of m's, sorted by descending prob_record, worth
// spending further PRP time on.
//
// Grounded on original_source/gap_stats.cpp's prime_gap_stats (the
// post-loop normalization) and calculate_prp_top_percent.
package aggregator

import (
	"math"
	"sort"

	"github.com/wizz13150/prime-gap/internal/estimator"
)

// RangeStats holds the per-gap histograms of a full range, normalized by
// the count of m's actually considered (some m in a range may be skipped —
// already known composite endpoints, or filtered by --min-merit).
type RangeStats struct {
	ProbGapNorm []float64
	ProbGapLow  []float64
	ProbGapHigh []float64
	ValidM      int
}

func divideBy(src []float64, n int) []float64 {
	out := make([]float64, len(src))
	if n <= 0 {
		return out
	}
	for i, v := range src {
		out[i] = v / float64(n)
	}
	return out
}

// Normalize divides every histogram bucket by validM, the number of m's
// that were actually folded into hist.
func Normalize(hist *estimator.Histograms, validM int) *RangeStats {
	return &RangeStats{
		ProbGapNorm: divideBy(hist.Norm, validM),
		ProbGapLow:  divideBy(hist.Low, validM),
		ProbGapHigh: divideBy(hist.High, validM),
		ValidM:      validM,
	}
}

// StandardPercentiles are the top-K percentiles reported for prob_record,
// matching the fixed set gap_stats.cpp prints.
var StandardPercentiles = []float64{1, 5, 10, 20, 30, 50, 100}

// TopPercentileSums returns, for each entry in StandardPercentiles, the sum
// of prob_record over that top fraction of m's (sorted descending).
func TopPercentileSums(results []estimator.Result) map[float64]float64 {
	probs := make([]float64, len(results))
	for i, r := range results {
		probs[i] = r.ProbRecord
	}
	sort.Sort(sort.Reverse(sort.Float64Slice(probs)))

	out := make(map[float64]float64, len(StandardPercentiles))
	for _, pct := range StandardPercentiles {
		k := int(math.Ceil(float64(len(probs)) * pct / 100.0))
		if k > len(probs) {
			k = len(probs)
		}
		var sum float64
		for i := 0; i < k; i++ {
			sum += probs[i]
		}
		out[pct] = sum
	}
	return out
}

// PRPCost estimates the relative time to run one additional PRP pair
// (prev and next) at log-magnitude nLog. This simplifies
// gap_stats.cpp's prp_time_estimate_composite, which further discounts for
// composite witnesses the sieve already eliminated; that refinement is not
// modeled here — see DESIGN.md.
func PRPCost(nLog float64) float64 {
	return nLog * nLog * math.Log(nLog)
}

// OptimalResult is the outcome of sweeping m's sorted by descending
// prob_record, looking for the point where the marginal probability gained
// per unit of PRP time drops below the running average.
type OptimalResult struct {
	// Index is the rank (0-based, into the descending-sorted order) at
	// which the marginal probability/time ratio first fell below the
	// cumulative average. Equal to len(results) if it never did.
	Index          int
	CumulativeProb float64
	CumulativeTime float64
	SidePercent    int
}

// OptimalTopPercent finds the optimal-prp-top-percent cutoff.
//
// sidePercent is 100 for the full-range (both-sides) variant, or 10 for the
// side-skip variant that only PRP-tests the nearer of the two sides —
// gap_stats.cpp models that variant as retaining 80% of the probability at
// 10% of the per-m cost.
func OptimalTopPercent(results []estimator.Result, cost func(estimator.Result) float64, sidePercent int) OptimalResult {
	sorted := make([]estimator.Result, len(results))
	copy(sorted, results)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ProbRecord > sorted[j].ProbRecord })

	retention := 1.0
	if sidePercent != 100 {
		retention = 0.8
	}

	var cumProb, cumTime float64
	for i, r := range sorted {
		addP := r.ProbRecord * retention
		addT := cost(r) * float64(sidePercent) / 100.0

		if i > 0 {
			runningAvg := cumProb / cumTime
			marginal := addP / addT
			if marginal < runningAvg {
				return OptimalResult{
					Index:          i,
					CumulativeProb: cumProb,
					CumulativeTime: cumTime,
					SidePercent:    sidePercent,
				}
			}
		}
		cumProb += addP
		cumTime += addT
	}
	return OptimalResult{
		Index:          len(sorted),
		CumulativeProb: cumProb,
		CumulativeTime: cumTime,
		SidePercent:    sidePercent,
	}
}
