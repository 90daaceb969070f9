// Package probtables builds the per-configuration probability tables of
// SPEC_FULL.md §4.5 (C6): the nth-prime/greater-than tables used by the
// estimator for positions inside and outside the sieve, the combined
// two-sided gap table, and the per-wheel-residue extended and extended²
// record-gap probabilities.
//
// Grounded on original_source/gap_stats.cpp's setup_probnth/prob_nth_prime/
// prob_combined_gap/prob_extended_gap, translated into the teacher's
// plain-struct, no-global-state style.
package probtables

import (
	"fmt"
	"math"

	"github.com/wizz13150/prime-gap/internal/records"
)

// EulerGamma is the Euler-Mascheroni constant used in Mertens' theorem
// (spec.md §4.5's UNKNOWNS_AFTER_SIEVE).
const EulerGamma = 0.5772156649015328606

// nthPrimeCutoff truncates the nth-prime/greater-than series once the
// surviving-probability tail drops below this threshold.
const nthPrimeCutoff = 1e-13

// combinedCutoff truncates the combined two-sided gap series.
const combinedCutoff = 2.5e-16

// wheelPrimes are the only primes the extended-probability wheel considers,
// matching original_source/gap_stats.cpp's fixed {2,3,5,7} set.
var wheelPrimes = []uint64{2, 3, 5, 7}

// Tables holds every probability table built for one configuration.
type Tables struct {
	NLog                 float64
	ProbPrime            float64
	ProbPrimeAfterSieve  float64
	ProbPrimeCoprime     float64
	ProbGreaterExtended  float64
	AverageExtendedCoprime float64

	PrimeNthSieve []float64
	GreatNthSieve []float64
	CombinedSieve []float64
	PrimeNthOut   []float64
	GreatNthOut   []float64

	// WheelD is the product of the wheel primes {2,3,5,7} dividing D — the
	// residue modulus for ExtendedRecordHigh/ExtendedExtendedRecord, distinct
	// from internal/wheel.Reindex.W (which also folds in 30 vs 6 spacing).
	WheelD uint32
	// ExtendedRecordHigh[m][g] for g in [1, SL], m in [0, WheelD) coprime to
	// WheelD.
	ExtendedRecordHigh map[uint32][]float64
	// ExtendedExtendedRecord[m], m in [0, WheelD) coprime to WheelD.
	ExtendedExtendedRecord map[uint32]float64

	PossibleRecordGaps []int
	MinRecordGap       int
	MaxRecordGap       int
}

// nthProbOrZero returns prob[nth] if in range, else 0 — the "probabilities
// past the truncation tail are negligible" convention used throughout.
func nthProbOrZero(prob []float64, nth int) float64 {
	if nth < 0 || nth >= len(prob) {
		return 0
	}
	return prob[nth]
}

func nthPrime(probPrime float64) (primeNth, greatNth []float64) {
	probStill := 1.0
	for probStill > nthPrimeCutoff {
		primeNth = append(primeNth, probStill*probPrime)
		greatNth = append(greatNth, probStill)
		probStill *= 1 - probPrime
	}
	return
}

func combinedGap(probPrime float64) []float64 {
	var out []float64
	prob := probPrime * probPrime
	for prob > combinedCutoff {
		out = append(out, prob)
		prob *= 1 - probPrime
	}
	return out
}

// Build constructs every probability table for one configuration.
//
//   - nLog is log(K) + log(mstart), the canonical log-magnitude.
//   - maxPrime is the sieve's MAX_PRIME bound.
//   - d is the configuration's D; kPrimes are every prime <= P (K's full
//     factor base, including those dividing D).
//   - sl is the sieve half-length.
//   - recs is the external record-gap table; maxMerit bounds the
//     possible-record-gap search (spec.md §4.5 uses 35).
func Build(nLog, maxPrime float64, d uint64, kPrimes []uint64, sl int, recs *records.Table, maxMerit float64) (*Tables, error) {
	t := &Tables{NLog: nLog}

	t.ProbPrime = 1/nLog - 1/(nLog*nLog)
	unknownsAfterSieve := 1 / (math.Log(maxPrime) * math.Exp(EulerGamma))
	t.ProbPrimeAfterSieve = t.ProbPrime / unknownsAfterSieve

	probPrimeCoprime := t.ProbPrime
	for _, p := range kPrimes {
		if d%p != 0 {
			probPrimeCoprime /= 1 - 1.0/float64(p)
		}
	}

	wheel := uint32(1)
	kModP := make(map[uint64]uint64)
	for _, p := range wheelPrimes {
		if d%p == 0 {
			wheel *= uint32(p)
			probPrimeCoprime /= 1 - 1.0/float64(p)
			kmod := uint64(1)
			for _, k := range kPrimes {
				if d%k != 0 {
					kmod = (kmod * k) % p
				}
			}
			kModP[p] = kmod
		}
	}
	t.ProbPrimeCoprime = probPrimeCoprime
	t.WheelD = wheel

	t.PossibleRecordGaps = recs.PossibleRecordGaps(nLog, maxMerit)
	if len(t.PossibleRecordGaps) < 2 {
		return nil, fmt.Errorf("probtables: fewer than 2 possible record gaps found for N_log=%.3f", nLog)
	}

	t.PrimeNthSieve, t.GreatNthSieve = nthPrime(t.ProbPrimeAfterSieve)
	t.CombinedSieve = combinedGap(t.ProbPrimeAfterSieve)
	t.PrimeNthOut, t.GreatNthOut = nthPrime(probPrimeCoprime)

	t.MinRecordGap = t.PossibleRecordGaps[0]
	t.MaxRecordGap = t.PossibleRecordGaps[len(t.PossibleRecordGaps)-1]

	if err := t.buildExtended(d, kPrimes, sl, wheel, kModP, recs); err != nil {
		return nil, err
	}
	return t, nil
}

// buildExtended implements gap_stats.cpp's prob_extended_gap: per
// wheel residue m, the probability of a record gap with one side inside the
// sieve and one side beyond it (ExtendedRecordHigh), and with both sides
// beyond it (ExtendedExtendedRecord).
func (t *Tables) buildExtended(d uint64, kPrimes []uint64, sl int, wheel uint32, kModP map[uint64]uint64, recs *records.Table) error {
	extSize := 2 * sl

	isCoprime := make([]bool, extSize)
	for i := range isCoprime {
		isCoprime[i] = true
	}
	for _, p := range kPrimes {
		if d%p == 0 {
			continue
		}
		for i := uint64(0); i < uint64(extSize); i += p {
			isCoprime[i] = false
		}
	}

	coprimeMs := make(map[uint32][]bool)
	for m := uint32(0); m < wheel; m++ {
		if gcdU32(m, wheel) > 1 {
			continue
		}
		isCoprimeM := make([]bool, extSize)
		copy(isCoprimeM, isCoprime)
		for _, p := range wheelPrimes {
			if d%p != 0 {
				continue
			}
			first := (uint64(m) * kModP[p]) % p
			for i := p - first; i < uint64(extSize); i += p {
				isCoprimeM[i] = false
			}
		}
		coprimeMs[m] = isCoprimeM
	}

	var totalInner, totalExtended float64
	for _, isCoprimeM := range coprimeMs {
		inner, extended := 0, 0
		for x := 0; x < sl; x++ {
			if isCoprimeM[x] {
				inner++
			}
		}
		for x := sl; x < extSize; x++ {
			if isCoprimeM[x] {
				extended++
			}
		}
		totalInner += float64(inner)
		totalExtended += float64(extended)
	}
	if len(coprimeMs) > 0 {
		totalInner /= float64(len(coprimeMs))
		totalExtended /= float64(len(coprimeMs))
	}
	t.AverageExtendedCoprime = totalExtended
	// matches gap_stats.cpp's implicit float->size_t truncation when passed
	// to nth_prob_or_zero.
	t.ProbGreaterExtended = nthProbOrZero(t.GreatNthOut, int(totalExtended))

	t.ExtendedRecordHigh = make(map[uint32][]float64)
	t.ExtendedExtendedRecord = make(map[uint32]float64)

	for m, isCoprimeM := range coprimeMs {
		// original_source indexes the mirrored side via wheel-m, which is
		// undefined when m == 0 and wheel == 1; using (wheel-m)%wheel keeps
		// this well-defined for every wheel size without changing behavior
		// for wheel > 1.
		prevM := (wheel - m) % wheel
		isCoprimeMPrev, ok := coprimeMs[prevM]
		if !ok {
			continue
		}

		countCoprimeM := make([]int, extSize)
		var extendedCoprime []int
		count := 0
		for x := sl + 1; x < extSize; x++ {
			if isCoprimeM[x] {
				extendedCoprime = append(extendedCoprime, x)
				count++
			}
			countCoprimeM[x] = count
		}

		recordHigh := make([]float64, sl+1)
		for gapPrev := 1; gapPrev <= sl; gapPrev++ {
			if !isCoprimeMPrev[gapPrev] {
				recordHigh[gapPrev] = math.NaN()
				continue
			}
			if gapPrev+extSize < t.MinRecordGap {
				continue
			}
			probRecord := 0.0
			for _, g := range t.PossibleRecordGaps {
				dist := g - gapPrev
				if dist <= sl {
					continue
				}
				if dist >= len(isCoprimeM) {
					break
				}
				if !isCoprimeM[dist] {
					continue
				}
				numCoprime := countCoprimeM[dist]
				if numCoprime >= len(t.PrimeNthOut) {
					break
				}
				probRecord += t.PrimeNthOut[numCoprime]
			}
			recordHigh[gapPrev] = probRecord
		}
		t.ExtendedRecordHigh[m] = recordHigh

		minECI := len(extendedCoprime)
		maxECI := len(extendedCoprime) - 1
		extendedCoprimesPrev := 0
		probE2 := 0.0
		for gapPrev := sl + 1; gapPrev < extSize; gapPrev++ {
			if !isCoprimeMPrev[gapPrev] {
				continue
			}
			extendedCoprimesPrev++
			if extendedCoprimesPrev >= len(t.PrimeNthOut) {
				break
			}
			for maxECI > 0 && gapPrev+extendedCoprime[maxECI] > t.MaxRecordGap {
				maxECI--
			}
			for minECI > 0 && gapPrev+extendedCoprime[minECI-1] >= t.MinRecordGap {
				minECI--
			}
			if maxECI == 0 {
				probE2 += nthProbOrZero(t.GreatNthOut, extendedCoprimesPrev-1)
				break
			}
			probEE := 0.0
			maxI := maxECI
			if cap := len(t.PrimeNthOut) - extendedCoprimesPrev + 1; cap < maxI {
				maxI = cap
			}
			for i := minECI; i < maxI; i++ {
				gap := gapPrev + extendedCoprime[i]
				if recs.LogStart(gap) > t.NLog {
					probEE += t.PrimeNthOut[i]
				}
			}
			probEE += nthProbOrZero(t.GreatNthOut, maxI)
			probE2 += probEE * nthProbOrZero(t.PrimeNthOut, extendedCoprimesPrev)
		}
		t.ExtendedExtendedRecord[m] = probE2
	}
	return nil
}

func gcdU32(a, b uint32) uint32 {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}
