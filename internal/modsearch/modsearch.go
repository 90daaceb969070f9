// Package modsearch implements the modular-inverse search of
// SPEC_FULL.md §4.2 (C3): given a prime p and r = K mod p, find every
// multiplier mi in [0, deltaM) for which (M0+mi)*K + offset can be divisible
// by p for some offset in the sieve window, without touching memory for
// primes that cannot land in the window at all (p > 2*SL).
//
// Grounded on original_source/combined_sieve.cpp's is_coprime11/
// modulo_search family (single-hit and bulk "walk the residue class"
// variants) and on the extended-Euclid inverse used throughout that file's
// Phase B/C loops. BulkSearch itself is grounded on the Euclidean-algorithm
// lattice-counting technique behind AtCoder Library's floor_sum: rather than
// probing every one of the 2*SL+1 candidate offsets per prime, it counts
// hits in a range in O(log p) via floorSum and recurses only into subranges
// that actually contain one, so the total work is proportional to the
// number of real hits rather than to the window width.
package modsearch

// extGCD returns (g, x, y) such that a*x + b*y = g = gcd(a, b).
func extGCD(a, b int64) (g, x, y int64) {
	if b == 0 {
		return a, 1, 0
	}
	g, x1, y1 := extGCD(b, a%b)
	return g, y1, x1 - (a/b)*y1
}

// Inverse returns r^-1 mod p for 0 < r < p with gcd(r, p) == 1. Callers must
// not call this when p divides r (spec.md's "p does not divide K" guard).
func Inverse(r, p uint64) uint64 {
	g, x, _ := extGCD(int64(r), int64(p))
	if g != 1 {
		panic("modsearch: r and p are not coprime")
	}
	v := x % int64(p)
	if v < 0 {
		v += int64(p)
	}
	return uint64(v)
}

func gcd(a, b uint64) uint64 {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

// floorSum computes sum_{i=0}^{n-1} floor((a*i+b)/m), for n >= 0, m >= 1, via
// the standard Euclidean-algorithm reduction (the same technique underlying
// AtCoder Library's floor_sum): each iteration folds the a/m and b/m integer
// parts into the running total and swaps the roles of a and m the way the
// Euclidean GCD algorithm swaps its remainder pair, so it terminates in
// O(log(min(a, m))) steps regardless of how large n is.
func floorSum(n, m, a, b int64) int64 {
	ans := int64(0)
	if a < 0 {
		a2 := a % m
		if a2 < 0 {
			a2 += m
		}
		ans -= n * (n - 1) / 2 * ((a2 - a) / m)
		a = a2
	}
	if b < 0 {
		b2 := b % m
		if b2 < 0 {
			b2 += m
		}
		ans -= n * ((b2 - b) / m)
		b = b2
	}
	for {
		if a >= m {
			ans += n * (n - 1) / 2 * (a / m)
			a %= m
		}
		if b >= m {
			ans += n * (b / m)
			b %= m
		}
		yMax := a*n + b
		if yMax < m {
			break
		}
		n = yMax / m
		b = yMax % m
		a, m = m, a
	}
	return ans
}

// countHits returns the number of mi in [0, n) with (a*mi+c) mod p < l,
// using floorSum's O(log p) range-counting identity: (v mod p) < l exactly
// when floor(v/p) - floor((v-l)/p) == 1.
func countHits(n, a, c, l, p int64) int64 {
	if n <= 0 {
		return 0
	}
	return floorSum(n, p, a, c) - floorSum(n, p, a, c-l)
}

// enumerateHits reports every mi in [lo, hi) with (a*mi+c) mod p < l, in
// ascending order, by recursively bisecting any subrange countHits reports
// as nonempty and only visiting leaves that are genuine hits. A subrange
// with zero hits is pruned in a single floorSum-backed count instead of
// being scanned one candidate at a time. *stop is checked on entry so a cb
// that asked to stop early also halts the remaining bisection immediately,
// rather than continuing to pay for hits nobody asked for anymore.
func enumerateHits(lo, hi uint64, a, c, l, p int64, stop *bool, cb func(mi uint64, val int64)) {
	if *stop || lo >= hi {
		return
	}
	hits := countRange(lo, hi, a, c, l, p)
	if hits == 0 {
		return
	}
	if hi-lo == 1 {
		val := floorMod(a*int64(lo)+c, p)
		cb(lo, val)
		return
	}
	mid := lo + (hi-lo)/2
	enumerateHits(lo, mid, a, c, l, p, stop, cb)
	enumerateHits(mid, hi, a, c, l, p, stop, cb)
}

// countRange returns the number of mi in [lo, hi) satisfying the congruence,
// via countHits(hi) - countHits(lo).
func countRange(lo, hi uint64, a, c, l, p int64) int64 {
	return countHits(int64(hi), a, c, l, p) - countHits(int64(lo), a, c, l, p)
}

func floorMod(v, m int64) int64 {
	r := v % m
	if r < 0 {
		r += m
	}
	return r
}

// Search finds the least mi in [0, deltaM) such that gcd(m0+mi, d) == 1 and
// ((m0+mi)*r + sl) mod p <= 2*sl. It returns deltaM if no such mi exists.
// Correctness requires p > 2*sl.
func Search(m0, d, deltaM uint64, sl int64, p, r uint64) uint64 {
	best := deltaM
	BulkSearch(m0, d, deltaM, sl, p, r, func(mi, _ uint64) bool {
		if mi < best {
			best = mi
		}
		return false
	})
	return best
}

// BulkSearch enumerates every mi in [0, deltaM) satisfying both
// gcd(m0+mi, d) == 1 and ((m0+mi)*r + sl) mod p <= 2*sl, invoking cb with
// (mi, first) where first is that modular value. cb may return true to stop
// the search early. Correctness requires p > 2*sl (the caller is expected to
// have routed smaller primes to the Phase A small-prime path instead).
//
// The search itself never probes all 2*sl+1 candidate offsets: it rewrites
// the condition as (r*mi + c) mod p < width for a single constant c, then
// uses enumerateHits's floorSum-backed bisection to visit only mi's that
// actually satisfy it.
func BulkSearch(m0, d, deltaM uint64, sl int64, p, r uint64, cb func(mi, first uint64) bool) {
	if r%p == 0 || deltaM == 0 {
		return
	}
	width := 2*sl + 1
	a := int64(r % p)
	c := floorMod(int64((m0%p)*(r%p)%p)+sl, int64(p))

	stopped := false
	enumerateHits(0, deltaM, a, c, width, int64(p), &stopped, func(mi uint64, val int64) {
		if gcd(m0+mi, d) != 1 {
			return
		}
		if cb(mi, uint64(val)) {
			stopped = true
		}
	})
}
