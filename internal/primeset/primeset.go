// Package primeset enumerates small primes up to a bound and reports pi(x),
// component C1 of SPEC_FULL.md §2. Grounded on the idiomatic
// Sieve-of-Eratosthenes shape shown across the pack
// (other_examples/jannismilz-primes__sieves.go, aht-gosieve__sieve3.go,
// TomTonic-Set3__nextprime.go's init()).
package primeset

import "math"

// Set holds the primes below a bound, in ascending order, plus an index for
// fast "count of primes <= x" lookups.
type Set struct {
	primes []uint64
}

// Generate sieves every prime in [2, limit] inclusive using a boolean
// composite array, the same shape as TomTonic-Set3's primesUnder64k builder
// and jannismilz-primes' SimpleSieve.
func Generate(limit uint64) *Set {
	if limit < 2 {
		return &Set{}
	}
	composite := make([]bool, limit+1)
	primes := make([]uint64, 0, estimateCount(limit))
	for i := uint64(2); i <= limit; i++ {
		if composite[i] {
			continue
		}
		primes = append(primes, i)
		if i > limit/i {
			continue
		}
		for j := i * i; j <= limit; j += i {
			composite[j] = true
		}
	}
	return &Set{primes: primes}
}

// estimateCount gives a rough pre-allocation size via the prime number
// theorem (x/ln x), padded by 15% for the undercount at small x.
func estimateCount(limit uint64) int {
	if limit < 4 {
		return 4
	}
	x := float64(limit)
	return int(x/math.Log(x)*1.15) + 8
}

// Primes returns the sieved primes in ascending order. Callers must not
// mutate the returned slice.
func (s *Set) Primes() []uint64 { return s.primes }

// PrimePi returns the count of primes <= x (pi(x) of spec.md §2's C1).
func (s *Set) PrimePi(x uint64) int {
	lo, hi := 0, len(s.primes)
	for lo < hi {
		mid := (lo + hi) / 2
		if s.primes[mid] <= x {
			lo = mid + 1
		} else {
			hi = mid
		}
	}
	return lo
}

// Len returns the number of primes held.
func (s *Set) Len() int { return len(s.primes) }

// At returns the i-th prime (0-indexed).
func (s *Set) At(i int) uint64 { return s.primes[i] }
