// Package estimator implements the per-m probability fold of
// SPEC_FULL.md §4.6 (C7): given one m's unknown-line and the
// probability tables of internal/probtables, computes prob_record,
// prob_missing, prob_merit, E[prev], E[next], folding in three
// contributions (both sides inside the sieve, one side extended, both
// sides extended) and accumulating the per-gap histograms the aggregator
// (C8) later normalizes.
//
// Grounded on original_source/gap_stats.cpp's run_gap_file inner loop,
// restructured so the per-m body (this file) and the cross-m aggregation
// (internal/aggregator) are separate, reusable steps instead of one long
// function closed over mutable outer-scope vectors.
package estimator

import (
	"math"

	"github.com/wizz13150/prime-gap/internal/probtables"
	"github.com/wizz13150/prime-gap/internal/records"
	"github.com/wizz13150/prime-gap/internal/unknownfile"
)

// Histograms are the persistent per-gap accumulators filled by Fold across
// every m in a range. The aggregator normalizes them once folding is done.
type Histograms struct {
	Norm []float64 // indexed by gap in [0, 2*SL]
	Low  []float64 // indexed by gap_low in [0, SL]
	High []float64 // indexed by gap_high in [0, SL]
}

// NewHistograms allocates histograms sized to a sieve half-length sl.
func NewHistograms(sl int) *Histograms {
	return &Histograms{
		Norm: make([]float64, 2*sl+1),
		Low:  make([]float64, sl+1),
		High: make([]float64, sl+1),
	}
}

// Config carries the scalars the fold needs beyond the probability tables.
type Config struct {
	KLog           float64 // log(K)
	SL             int
	MinRecordGap   int
	MinGapMinMerit int
	MissingLow     int
	MissingHigh    int
}

// Result is the per-m record emitted to the sink (C9).
type Result struct {
	M           uint64
	EPrev       float64
	ENext       float64
	ProbSeen    float64
	ProbRecord  float64
	ProbMissing float64
	ProbMerit   float64
}

func nthProbOrZero(prob []float64, nth int) float64 {
	if nth < 0 || nth >= len(prob) {
		return 0
	}
	return prob[nth]
}

func sliceAt(s []float64, i int) float64 {
	if i < 0 || i >= len(s) {
		return 0
	}
	return s[i]
}

// Fold processes one m's decoded unknown-line against the probability
// tables, accumulating its contribution into hist and returning the
// per-m statistics.
func Fold(hist *Histograms, tables *probtables.Tables, recs *records.Table, cfg Config, m uint64, line unknownfile.Line) Result {
	logStartPrime := cfg.KLog + math.Log(float64(m))

	lowLen, highLen := len(line.Prev), len(line.Next)
	probPrevGreater := nthProbOrZero(tables.GreatNthSieve, lowLen)
	probNextGreater := nthProbOrZero(tables.GreatNthSieve, highLen)
	probExtended := tables.ProbGreaterExtended
	probSeen := (1 - probPrevGreater*probExtended) * (1 - probNextGreater*probExtended)

	var probRecord, probMissing, probMerit float64

	minInteresting := cfg.MinGapMinMerit
	if cfg.MinRecordGap < minInteresting {
		minInteresting = cfg.MinRecordGap
	}
	maxI := lowLen
	if len(tables.CombinedSieve) < maxI {
		maxI = len(tables.CombinedSieve)
	}
	minJ := highLen
	for i := 0; i < maxI; i++ {
		gapLow := line.Prev[i]
		for minJ > 0 && gapLow+line.Next[minJ-1] >= minInteresting {
			minJ--
		}
		maxJ := highLen
		if cap := len(tables.CombinedSieve) - i; cap < maxJ {
			maxJ = cap
		}
		j := 0
		if cfg.SL >= 100000 {
			j = minJ
		}
		for ; j < maxJ; j++ {
			gapHigh := line.Next[j]
			gap := gapLow + gapHigh
			probThisGap := tables.CombinedSieve[i+j]

			if gap < len(hist.Norm) {
				hist.Norm[gap] += probThisGap
			}
			if gap >= cfg.MinGapMinMerit {
				probMerit += probThisGap
			}
			if gap >= cfg.MinRecordGap && recs.LogStart(gap) > logStartPrime {
				probRecord += probThisGap
				if gap >= cfg.MissingLow && gap <= cfg.MissingHigh && math.IsInf(recs.LogStart(gap), 1) {
					probMissing += probThisGap
				}
			}
		}
	}

	var ePrev, eNext, probRecordExtended float64
	mHigh := uint32(m % uint64(tables.WheelD))
	mirror := (tables.WheelD - mHigh) % tables.WheelD
	extHigh := tables.ExtendedRecordHigh[mHigh]
	extLow := tables.ExtendedRecordHigh[mirror]

	minSideExtMerit := cfg.MinGapMinMerit - cfg.SL

	maxI2 := lowLen
	if highLen > maxI2 {
		maxI2 = highLen
	}
	if len(tables.PrimeNthSieve) < maxI2 {
		maxI2 = len(tables.PrimeNthSieve)
	}
	for i := 0; i < maxI2; i++ {
		probI := tables.PrimeNthSieve[i]
		if i < lowLen {
			gapLow := line.Prev[i]
			cond := sliceAt(extHigh, gapLow)
			probRecordExtended += probI * probNextGreater * cond
			ePrev += float64(gapLow) * probI
			if gapLow < len(hist.Low) {
				hist.Low[gapLow] += probI
			}
			if gapLow >= minSideExtMerit {
				probMerit += probI * probNextGreater
			}
		}
		if i < highLen {
			gapHigh := line.Next[i]
			cond := sliceAt(extLow, gapHigh)
			probRecordExtended += probI * probPrevGreater * cond
			eNext += float64(gapHigh) * probI
			if gapHigh < len(hist.High) {
				hist.High[gapHigh] += probI
			}
			if gapHigh >= minSideExtMerit {
				probMerit += probI * probPrevGreater
			}
		}
	}

	probRecordExtended2 := probNextGreater * probPrevGreater * tables.ExtendedExtendedRecord[mHigh]
	probRecordCombined := probRecord + probRecordExtended + probRecordExtended2

	return Result{
		M:           m,
		EPrev:       ePrev,
		ENext:       eNext,
		ProbSeen:    probSeen,
		ProbRecord:  probRecordCombined,
		ProbMissing: probMissing,
		ProbMerit:   probMerit,
	}
}
