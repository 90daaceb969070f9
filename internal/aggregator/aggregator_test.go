package aggregator

import (
	"math"
	"testing"

	"github.com/wizz13150/prime-gap/internal/estimator"
)

func TestNormalizeDividesByValidM(t *testing.T) {
	hist := estimator.NewHistograms(4)
	hist.Norm[2] = 10
	hist.Low[1] = 6
	hist.High[1] = 8

	rs := Normalize(hist, 2)

	if rs.ProbGapNorm[2] != 5 {
		t.Errorf("ProbGapNorm[2] = %v, want 5", rs.ProbGapNorm[2])
	}
	if rs.ProbGapLow[1] != 3 {
		t.Errorf("ProbGapLow[1] = %v, want 3", rs.ProbGapLow[1])
	}
	if rs.ProbGapHigh[1] != 4 {
		t.Errorf("ProbGapHigh[1] = %v, want 4", rs.ProbGapHigh[1])
	}
	if rs.ValidM != 2 {
		t.Errorf("ValidM = %d, want 2", rs.ValidM)
	}
}

func TestNormalizeWithZeroValidMReturnsZeroedSlices(t *testing.T) {
	hist := estimator.NewHistograms(4)
	hist.Norm[1] = 5
	rs := Normalize(hist, 0)
	for i, v := range rs.ProbGapNorm {
		if v != 0 {
			t.Errorf("ProbGapNorm[%d] = %v, want 0 when validM is 0", i, v)
		}
	}
}

func TestTopPercentileSumsMonotonicallyIncreasing(t *testing.T) {
	results := []estimator.Result{
		{M: 1, ProbRecord: 0.5},
		{M: 2, ProbRecord: 0.3},
		{M: 3, ProbRecord: 0.1},
		{M: 4, ProbRecord: 0.05},
		{M: 5, ProbRecord: 0.01},
	}
	sums := TopPercentileSums(results)
	prev := 0.0
	for _, pct := range StandardPercentiles {
		v := sums[pct]
		if v < prev {
			t.Errorf("percentile sums not monotonically increasing at %v%%: %v < %v", pct, v, prev)
		}
		prev = v
	}
	total := sums[100]
	var want float64
	for _, r := range results {
		want += r.ProbRecord
	}
	if math.Abs(total-want) > 1e-12 {
		t.Errorf("sums[100] = %v, want %v", total, want)
	}
}

func TestTopPercentileSumsTopOneCapturesLargest(t *testing.T) {
	results := []estimator.Result{
		{M: 1, ProbRecord: 0.9},
		{M: 2, ProbRecord: 0.01},
		{M: 3, ProbRecord: 0.01},
	}
	sums := TopPercentileSums(results)
	if sums[1] != 0.9 {
		t.Errorf("top-1%% sum = %v, want 0.9 (the single largest value)", sums[1])
	}
}

func TestOptimalTopPercentFlagsDecreasingMarginal(t *testing.T) {
	// A sharply front-loaded distribution: the first few m's carry almost
	// all the probability at roughly uniform cost, so the marginal ratio
	// should fall below the running average well before the end.
	results := make([]estimator.Result, 20)
	for i := range results {
		results[i] = estimator.Result{M: uint64(i), ProbRecord: 1.0 / math.Pow(2, float64(i+1))}
	}
	uniformCost := func(estimator.Result) float64 { return 1.0 }

	res := OptimalTopPercent(results, uniformCost, 100)
	if res.Index <= 0 || res.Index >= len(results) {
		t.Errorf("expected a cutoff strictly inside the range, got index %d of %d", res.Index, len(results))
	}
	if res.CumulativeProb <= 0 {
		t.Error("expected positive cumulative probability at the cutoff")
	}
}

func TestOptimalTopPercentSideSkipAppliesRetention(t *testing.T) {
	results := []estimator.Result{
		{M: 1, ProbRecord: 0.5},
		{M: 2, ProbRecord: 0.5},
	}
	cost := func(estimator.Result) float64 { return 1.0 }

	full := OptimalTopPercent(results, cost, 100)
	sideSkip := OptimalTopPercent(results, cost, 10)

	if sideSkip.CumulativeTime >= full.CumulativeTime {
		t.Errorf("side-skip cumulative time (%v) should be less than full (%v)", sideSkip.CumulativeTime, full.CumulativeTime)
	}
}
