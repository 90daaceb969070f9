// Package gapmath wraps math/big for the arbitrary-precision work the core
// needs: the primorial P#, m·K +/- offset evaluation, previous/next prime
// search, and the optional factor-validation crosscheck (spec.md §4.3's
// "Failure semantics" / SPEC_FULL.md §4.16).
//
// Grounded on other_examples/Tjstretchalot-prime-gaps__main.go (ProbablyPrime
// driven gap counting over math/big.Int) and
// other_examples/TomTonic-Set3__nextprime.go (search-by-increment shape,
// mirrored downward for PreviousPrime).
package gapmath

import (
	"math"
	"math/big"
)

// millerRabinRounds matches the teacher-adjacent example's choice of 20
// rounds of Miller-Rabin (via ProbablyPrime, which adds a Baillie-PSW test).
// The result is exact only below 2^64; m·K+x values are normally far above
// that, where it is probabilistic.
const millerRabinRounds = 20

// Primorial returns P# = product of all primes <= p.
func Primorial(p uint64) *big.Int {
	result := big.NewInt(1)
	for q := uint64(2); q <= p; q++ {
		if isPrimeUint64(q) {
			result.Mul(result, new(big.Int).SetUint64(q))
		}
	}
	return result
}

func isPrimeUint64(n uint64) bool {
	if n < 2 {
		return false
	}
	if n%2 == 0 {
		return n == 2
	}
	for d := uint64(3); d*d <= n; d += 2 {
		if n%d == 0 {
			return false
		}
	}
	return true
}

// MK computes m*K + offset exactly, offset may be negative.
func MK(m uint64, k *big.Int, offset int64) *big.Int {
	result := new(big.Int).Mul(new(big.Int).SetUint64(m), k)
	result.Add(result, big.NewInt(offset))
	return result
}

// PreviousPrime returns the largest prime strictly less than n. n must be
// greater than 2. Mirrors TomTonic-Set3's nextPrime search shape downward:
// start from the nearest odd value below n and decrement by 2, testing
// ProbablyPrime at each step.
func PreviousPrime(n *big.Int) *big.Int {
	candidate := new(big.Int).Sub(n, big.NewInt(1))
	two := big.NewInt(2)
	if candidate.Bit(0) == 0 {
		candidate.Sub(candidate, big.NewInt(1))
	}
	for candidate.Sign() > 0 {
		if candidate.ProbablyPrime(millerRabinRounds) {
			return new(big.Int).Set(candidate)
		}
		candidate.Sub(candidate, two)
	}
	return big.NewInt(2)
}

// NextPrime returns the smallest prime strictly greater than n.
func NextPrime(n *big.Int) *big.Int {
	candidate := new(big.Int).Add(n, big.NewInt(1))
	if candidate.Bit(0) == 0 {
		candidate.Add(candidate, big.NewInt(1))
	}
	two := big.NewInt(2)
	for {
		if candidate.ProbablyPrime(millerRabinRounds) {
			return new(big.Int).Set(candidate)
		}
		candidate.Add(candidate, two)
	}
}

// Log returns the natural log of x, for x > 0, via its mantissa/exponent
// decomposition (x == mant * 2**exp) rather than a direct float64
// conversion, which would overflow to +Inf for the primorial-sized values
// this package produces.
func Log(x *big.Int) float64 {
	if x.Sign() <= 0 {
		return math.Inf(-1)
	}
	f := new(big.Float).SetPrec(64).SetInt(x)
	var mant big.Float
	exp := f.MantExp(&mant)
	mantF64, _ := mant.Float64()
	return math.Log(mantF64) + float64(exp)*math.Ln2
}

// ValidateFactor recomputes m*K - SL + x mod p via big.Int and reports
// whether it is exactly zero, for the optional factor-validation mode of
// spec.md §4.3/§7 (kind 4: "Factor validation mismatch").
func ValidateFactor(m uint64, k *big.Int, sl int64, x int64, p uint64) bool {
	v := MK(m, k, x-sl)
	mod := new(big.Int).Mod(v, new(big.Int).SetUint64(p))
	return mod.Sign() == 0
}
