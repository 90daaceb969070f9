// Package wheel builds the coprimality masks and reindexing tables of
// SPEC_FULL.md §4.1 (C2): which offsets in [-SL, SL] can ever be prime given
// K = P#/D, and a dense 1-based ordinal for those offsets, further
// compressed per m-residue class modulo a small wheel W.
//
// Grounded on the flat []uint64 bit-vector shape of
// aelaguiz-pthash-go/internal/core/bitvector.go (a precomputed, read-only
// view built once over a value) and on original_source/combined_sieve.cpp's
// coprime_composite / i_reindex / i_reindex_wheel construction.
package wheel

import "math/big"

// Reindex is the precomputed "value with precomputed views" described in
// spec.md §9: coprime_composite and i_reindex are read-only after Build.
type Reindex struct {
	SL int64
	// CoprimeComposite[x] is true iff x-SL is divisible by some prime
	// dividing K (i.e. the position is forced composite regardless of m).
	// x ranges over [0, 2*SL].
	CoprimeComposite []bool
	// IReindex[x] is the 1-based ordinal of x among coprime positions;
	// non-coprime positions (and the centre, x == SL) map to the sentinel 0.
	IReindex []uint32
	// NumCoprime is the count of coprime-to-K positions (max(IReindex)).
	NumCoprime uint32

	// W is the wheel modulus: gcd(D, 30) if the coprime count is small,
	// else gcd(D, 6) (spec.md §4.1's memory/space tradeoff).
	W uint32
	// Residues lists r in [0, W) with gcd(r, W) == 1 (the valid m mod W
	// classes); Wheel[r] is defined only for r in Residues.
	Residues []uint32
	// Wheel[r][x] is the per-residue reindex: like IReindex but additionally
	// zeroing positions where (r*K + (x-SL)) shares a wheel prime factor.
	Wheel map[uint32][]uint32
	// WheelCount[r] is the coprime-to-(K and wheel) count for residue r.
	WheelCount map[uint32]uint32
}

// smallPrimeFactors returns the distinct prime factors of K that are <= P,
// which by construction of K = P#/D is exactly "primes p <= P with p not
// dividing D" (spec.md §4.1 invariant 2).
func smallPrimeFactors(k *big.Int) []uint64 {
	n := new(big.Int).Set(k)
	factors := make([]uint64, 0, 16)
	for d := uint64(2); ; d++ {
		if new(big.Int).SetUint64(d).Cmp(new(big.Int).Sqrt(n)) > 0 {
			break
		}
		bd := new(big.Int).SetUint64(d)
		if new(big.Int).Mod(n, bd).Sign() == 0 {
			factors = append(factors, d)
			for new(big.Int).Mod(n, bd).Sign() == 0 {
				n.Div(n, bd)
			}
		}
	}
	if n.Cmp(big.NewInt(1)) > 0 {
		factors = append(factors, n.Uint64())
	}
	return factors
}

func gcd(a, b uint64) uint64 {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

// chooseW implements spec.md §4.1's rule: W = gcd(D, 30) when the coprime
// count is below ~80000, else gcd(D, 6).
func chooseW(d uint64, coprimeCount uint32) uint32 {
	if coprimeCount < 80000 {
		return uint32(gcd(d, 30))
	}
	return uint32(gcd(d, 6))
}

// Build constructs the Reindex for a given K, D and sieve half-length SL.
func Build(k *big.Int, d uint64, sl int64) *Reindex {
	interval := 2*sl + 1
	factors := smallPrimeFactors(k)

	coprimeComposite := make([]bool, interval)
	iReindex := make([]uint32, interval)

	var next uint32 = 1
	for x := int64(0); x < interval; x++ {
		offset := x - sl
		if offset == 0 {
			// Centre is always composite (spec.md §3 invariant; resolves
			// the sign ambiguity flagged in spec.md §9: the comment wins,
			// not the raw assertion).
			coprimeComposite[x] = true
			continue
		}
		composite := false
		for _, p := range factors {
			if modSigned(offset, int64(p)) == 0 {
				composite = true
				break
			}
		}
		coprimeComposite[x] = composite
		if !composite {
			iReindex[x] = next
			next++
		}
	}

	r := &Reindex{
		SL:               sl,
		CoprimeComposite: coprimeComposite,
		IReindex:         iReindex,
		NumCoprime:       next - 1,
		Wheel:            make(map[uint32][]uint32),
		WheelCount:       make(map[uint32]uint32),
	}
	r.W = chooseW(d, r.NumCoprime)
	r.buildWheel(k, d)
	return r
}

func modSigned(a, m int64) int64 {
	v := a % m
	if v < 0 {
		v += m
	}
	return v
}

// wheelPrimes returns the primes in {2,3,5,7} that divide both W and D — the
// additional small primes the per-residue wheel screens out beyond K's own
// factors.
func wheelPrimes(w uint32) []uint64 {
	primes := []uint64{2, 3, 5, 7}
	out := make([]uint64, 0, 4)
	for _, p := range primes {
		if w%uint32(p) == 0 {
			out = append(out, p)
		}
	}
	return out
}

func (r *Reindex) buildWheel(k *big.Int, d uint64) {
	if r.W == 0 {
		r.W = 1
	}
	wp := wheelPrimes(r.W)
	interval := int64(len(r.IReindex))

	for res := uint32(0); res < r.W; res++ {
		if gcd(uint64(res), uint64(r.W)) != 1 {
			continue
		}
		r.Residues = append(r.Residues, res)

		table := make([]uint32, interval)
		var next uint32 = 1
		rk := new(big.Int).Mul(new(big.Int).SetUint64(uint64(res)), k)
		for x := int64(0); x < interval; x++ {
			if r.CoprimeComposite[x] {
				continue
			}
			offset := x - r.SL
			val := new(big.Int).Add(rk, big.NewInt(offset))
			blocked := false
			for _, p := range wp {
				if new(big.Int).Mod(val, new(big.Int).SetUint64(p)).Sign() == 0 {
					blocked = true
					break
				}
			}
			if blocked {
				continue
			}
			table[x] = next
			next++
		}
		r.Wheel[res] = table
		r.WheelCount[res] = next - 1
	}
}

// IsCoprime reports whether offset (in [-SL, SL]) is coprime to K.
func (r *Reindex) IsCoprime(offset int64) bool {
	x := offset + r.SL
	if x < 0 || x >= int64(len(r.CoprimeComposite)) {
		return false
	}
	return !r.CoprimeComposite[x]
}
