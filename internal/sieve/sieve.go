// Package sieve implements the two-phase+band combined sieve engine (C4):
// for every valid multiplier m in [MStart, MStart+MInc), determine which
// offsets in [-SL, SL] around m*K cannot be ruled out as composite by any
// prime up to MaxPrime, and stream the survivors as an unknownfile.Line.
//
// Grounded on original_source/combined_sieve.cpp's three-tier prime
// handling (the static coprime-to-K wheel, a direct per-m crossoff loop for
// small primes, and a modular-inverse walk for medium/large primes) and on
// the teacher's band-at-a-time Run loop, which this keeps the shape of while
// replacing its GPU dispatch with workerpool.RunSliced over disjoint slices
// of each band (its valid m's in Phase A, its primes in Phase B/C); the bands
// themselves run one after another.
package sieve

import (
	"context"
	"fmt"
	"math/big"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/wizz13150/prime-gap/internal/bitset"
	"github.com/wizz13150/prime-gap/internal/cancel"
	"github.com/wizz13150/prime-gap/internal/config"
	"github.com/wizz13150/prime-gap/internal/gapmath"
	"github.com/wizz13150/prime-gap/internal/logging"
	"github.com/wizz13150/prime-gap/internal/modsearch"
	"github.com/wizz13150/prime-gap/internal/primeset"
	"github.com/wizz13150/prime-gap/internal/rgerr"
	"github.com/wizz13150/prime-gap/internal/unknownfile"
	"github.com/wizz13150/prime-gap/internal/wheel"
	"github.com/wizz13150/prime-gap/internal/workerpool"
)

// Stats summarizes one Run, the counters the CLI reports at completion and
// stores as the range row's num_m and num_remaining.
type Stats struct {
	ValidM       int
	TotalUnknown int
	BandsDone    int
}

// Engine holds the per-configuration state built once and reused across
// every m in the range: the static coprime wheel, the small-prime table up
// to MaxPrime, and the set of primes that actually need per-m treatment
// (those dividing D, or exceeding P — see needsCrossoff).
type Engine struct {
	cfg      *config.Config
	wheel    *wheel.Reindex
	primes   *primeset.Set
	logger   *logrus.Logger
	progress atomic.Uint64
}

// New builds an Engine for cfg. cfg must already be validated (config.Load
// does this); New does not re-check the memory budget or SL/P ratio.
func New(cfg *config.Config, logger *logrus.Logger) (*Engine, error) {
	if cfg.K == nil || cfg.K.Sign() <= 0 {
		return nil, rgerr.New(rgerr.KindConfig, "sieve: config has no derived K; call config.Load first")
	}
	r := wheel.Build(cfg.K, cfg.Range.D, cfg.Range.SieveLength)
	primes := primeset.Generate(cfg.Range.MaxPrime)
	e := &Engine{cfg: cfg, wheel: r, primes: primes, logger: logger}
	e.progress.Store(cfg.Range.MStart)
	return e, nil
}

// Progress returns the m at which the next band would begin: the upper
// bound of the last band Run/RunResumable fully completed, or MStart if
// none has completed yet. A checkpoint saver polling this concurrently with
// Run observes band-granularity progress, never a partially-sieved band.
func (e *Engine) Progress() uint64 {
	return e.progress.Load()
}

// needsCrossoff reports whether p requires a per-m crossoff pass: either p
// divides D (so it can never divide K, by P#'s squarefree factorization into
// D*K), or p exceeds P entirely, so it never divided P# at all. Primes that
// divide K are already folded into the static wheel.Reindex tables and must
// never be crossed off again here.
func (e *Engine) needsCrossoff(p uint64) bool {
	return e.cfg.Range.D%p == 0 || p > e.cfg.Range.P
}

// workerCount resolves the configured worker count, 0 meaning "use every
// available core" (SPEC_FULL.md §4.9's max_workers default).
func (e *Engine) workerCount() int {
	if e.cfg.Performance.MaxWorkers > 0 {
		return e.cfg.Performance.MaxWorkers
	}
	return runtime.NumCPU()
}

// validMs returns the ascending list of m in [start, start+count) coprime to
// D, the only multipliers a band ever sieves or emits a line for.
func validMs(start, count, d uint64) []uint64 {
	out := make([]uint64, 0, count)
	for m := start; m < start+count; m++ {
		if gcdU64(m, d) == 1 {
			out = append(out, m)
		}
	}
	return out
}

func gcdU64(a, b uint64) uint64 {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

// bandSize picks how many m's to process per band so that every band's
// working set of per-m bitmaps stays within the configured memory budget.
func (e *Engine) bandSize() uint64 {
	bytesPerM := (uint64(e.wheel.NumCoprime) + 7) / 8
	if bytesPerM == 0 {
		bytesPerM = 1
	}
	budget := uint64(e.cfg.Performance.MemoryBudgetMB) << 20
	if budget == 0 {
		budget = 1 << 30
	}
	size := budget / bytesPerM
	if size == 0 {
		size = 1
	}
	if size > e.cfg.Range.MInc {
		size = e.cfg.Range.MInc
	}
	return size
}

// band holds one contiguous slice of the m-range and its per-m bitmaps
// while Phase A/B/C run against it.
type band struct {
	start      uint64
	ms         []uint64
	composites []*bitset.Composites // parallel to ms
}

func (e *Engine) newBand(start, count uint64) *band {
	ms := validMs(start, count, e.cfg.Range.D)
	b := &band{start: start, ms: ms, composites: make([]*bitset.Composites, len(ms))}
	for i, m := range ms {
		res := uint32(m % uint64(e.wheel.W))
		b.composites[i] = bitset.New(int(e.wheel.WheelCount[res]))
	}
	return b
}

// Run sieves the whole [MStart, MStart+MInc) range band by band, writing
// one unknownfile.Line per valid m (in ascending m order) to out, and
// returns the accumulated Stats. tok is sampled only between bands — never
// inside a band's Phase A/B/C inner loops.
func (e *Engine) Run(ctx context.Context, tok *cancel.Token, out *unknownfile.Writer) (*Stats, error) {
	return e.RunResumable(ctx, tok, out, e.cfg.Range.MStart)
}

// RunResumable is Run starting from resumeStart instead of MStart, for
// continuing a sieve interrupted after a checkpoint was saved (SPEC_FULL.md
// §4.11). resumeStart must lie in [MStart, MStart+MInc]; values outside that
// range are clamped. unknownfile.Line.MI still counts from the start of the
// configured range, not from resumeStart, so a resumed run's output lines
// index the same way a from-scratch run's would.
func (e *Engine) RunResumable(ctx context.Context, tok *cancel.Token, out *unknownfile.Writer, resumeStart uint64) (*Stats, error) {
	rangeStart := e.cfg.Range.MStart
	rangeEnd := rangeStart + e.cfg.Range.MInc
	if resumeStart < rangeStart {
		resumeStart = rangeStart
	}
	if resumeStart > rangeEnd {
		resumeStart = rangeEnd
	}

	size := e.bandSize()
	progress := logging.NewProgressLogger(e.logger, "sieve: ", 10_000, 100_000_000_000)

	stats := &Stats{}
	mi := 0
	if resumeStart > rangeStart {
		mi = len(validMs(rangeStart, resumeStart-rangeStart, e.cfg.Range.D))
	}
	e.progress.Store(resumeStart)

	for start := resumeStart; start < rangeEnd; start += size {
		if tok.Sample() {
			return stats, rgerr.New(rgerr.KindCancelled, "sieve: cancelled between bands")
		}

		count := size
		if start+count > rangeEnd {
			count = rangeEnd - start
		}
		b := e.newBand(start, count)

		if err := e.runPhaseA(ctx, b); err != nil {
			return stats, err
		}
		if err := e.runPhaseBC(ctx, b, e.wheel.SL, e.cfg.SmallThreshold, e.cfg.Range.MaxPrime); err != nil {
			return stats, err
		}

		for i, m := range b.ms {
			res := uint32(m % uint64(e.wheel.W))
			line := e.extractLine(mi, m, res, b.composites[i])
			stats.TotalUnknown += len(line.Prev) + len(line.Next)
			if out != nil {
				if err := out.WriteLine(line); err != nil {
					return stats, rgerr.Wrap(rgerr.KindIO, "sieve: writing unknown line", err)
				}
			}
			mi++
		}
		stats.ValidM += len(b.ms)
		stats.BandsDone++
		e.progress.Store(start + count)
		if progress.ShouldPrint(start - rangeStart + count) {
			progress.Printf("m=%d/%d (%d bands)", start-rangeStart+count, e.cfg.Range.MInc, stats.BandsDone)
		}
	}
	return stats, nil
}

// extractLine walks a band member's wheel table once, separating the
// surviving (non-composite, non-centre) offsets into the prev/next sides
// unknownfile.Line expects.
func (e *Engine) extractLine(mi int, m uint64, res uint32, c *bitset.Composites) unknownfile.Line {
	table := e.wheel.Wheel[res]
	line := unknownfile.Line{MI: mi}
	sl := e.wheel.SL
	for x := int64(0); x < int64(len(table)); x++ {
		ord := table[x]
		if ord == 0 {
			continue
		}
		if c.Has(ord) {
			continue
		}
		offset := x - sl
		if offset < 0 {
			line.Prev = append(line.Prev, int(-offset))
		} else if offset > 0 {
			line.Next = append(line.Next, int(offset))
		}
	}
	// The table walk visits offsets in increasing order, so Prev comes out
	// with magnitude descending (farthest-from-centre first); unknownfile's
	// RLE delta scheme requires ascending magnitude on both sides.
	for i, j := 0, len(line.Prev)-1; i < j; i, j = i+1, j-1 {
		line.Prev[i], line.Prev[j] = line.Prev[j], line.Prev[i]
	}
	return line
}

// runPhaseA crosses off, for every m in the band, every prime p <=
// SmallThreshold that needsCrossoff — directly, by computing the single
// residue class of hit offsets mod p and stepping through the band's
// reindexed bitmap. Parallelized across disjoint slices of the band's valid
// m's, each slice owning only its own bitmaps so no synchronization is
// needed inside the hot loop.
func (e *Engine) runPhaseA(ctx context.Context, b *band) error {
	var smallPrimes []uint64
	for i := 0; i < e.primes.Len(); i++ {
		p := e.primes.At(i)
		if p > e.cfg.SmallThreshold {
			break
		}
		if e.needsCrossoff(p) {
			smallPrimes = append(smallPrimes, p)
		}
	}
	if len(smallPrimes) == 0 || len(b.ms) == 0 {
		return nil
	}

	workers := e.workerCount()
	return workerpool.RunSliced(ctx, len(b.ms), workers, func(ctx context.Context, start, end int) error {
		for idx := start; idx < end; idx++ {
			m := b.ms[idx]
			res := uint32(m % uint64(e.wheel.W))
			table := e.wheel.Wheel[res]
			c := b.composites[idx]
			for _, p := range smallPrimes {
				crossoffOne(m, p, e.cfg.K, e.wheel.SL, table, c)
			}
		}
		return nil
	})
}

// crossoffOne marks every reindexed position of m*K+offset that is a
// multiple of p, for a single prime p known to need per-m treatment
// (needsCrossoff(p) == true, so gcd(K, p) == 1 and a residue always exists).
func crossoffOne(m, p uint64, k *big.Int, sl int64, table []uint32, c *bitset.Composites) {
	r := new(big.Int).Mod(k, new(big.Int).SetUint64(p)).Uint64()
	mk := (m % p) * r % p
	// offset ≡ -mk (mod p); x = offset + sl, x0 = (-mk + sl) mod p.
	t0 := (p - mk%p) % p
	x0 := int64((t0 + uint64(sl)%p) % p)
	width := int64(len(table))
	for x := x0; x < width; x += int64(p) {
		if ord := table[x]; ord != 0 {
			c.Set(ord)
		}
	}
}

// primeHit is one (mi, offset-ordinal) crossoff produced by Phase B/C.
type primeHit struct {
	mi int
	x  int64
}

// runPhaseBC crosses off every prime above SmallThreshold up to max (callers
// pass Range.MaxPrime, covering the medium and large tiers in one pass) via
// the modular-inverse bulk search of internal/modsearch rather than a direct
// per-m loop, since for p > 2*SL each prime hits at most one offset for any
// given m. Primes are partitioned across workers; each worker accumulates
// its hits locally and they are merged into the band's bitmaps
// single-threaded afterward, avoiding any lock inside the search loop.
func (e *Engine) runPhaseBC(ctx context.Context, b *band, sl int64, small, max uint64) error {
	var primes []uint64
	for i := 0; i < e.primes.Len(); i++ {
		p := e.primes.At(i)
		if p <= small {
			continue
		}
		if p > max {
			break
		}
		if e.needsCrossoff(p) {
			primes = append(primes, p)
		}
	}
	if len(primes) == 0 || len(b.ms) == 0 {
		return nil
	}

	deltaM := uint64(0)
	if len(b.ms) > 0 {
		deltaM = b.ms[len(b.ms)-1] - b.start + 1
	}

	workers := e.workerCount()
	var mu sync.Mutex
	muHits := make([][]primeHit, 0)

	err := workerpool.RunSliced(ctx, len(primes), workers, func(ctx context.Context, start, end int) error {
		local := make([]primeHit, 0, 64)
		for i := start; i < end; i++ {
			p := primes[i]
			r := new(big.Int).Mod(e.cfg.K, new(big.Int).SetUint64(p)).Uint64()
			modsearch.BulkSearch(b.start, e.cfg.Range.D, deltaM, sl, p, r, func(mi, first uint64) bool {
				// first ≡ m*K + SL (mod p), so p divides m*K + (SL - first),
				// whose table index is offset + SL = 2*SL - first.
				local = append(local, primeHit{mi: int(mi), x: 2*sl - int64(first)})
				return false
			})
		}
		mu.Lock()
		muHits = append(muHits, local)
		mu.Unlock()
		return nil
	})
	if err != nil {
		return err
	}

	// Build an m -> band-index map once; the band's ms are the coprime
	// subset of [start, start+deltaM), not a dense range.
	index := make(map[uint64]int, len(b.ms))
	for i, m := range b.ms {
		index[m] = i
	}
	for _, local := range muHits {
		for _, h := range local {
			m := b.start + uint64(h.mi)
			idx, ok := index[m]
			if !ok {
				continue
			}
			res := uint32(m % uint64(e.wheel.W))
			table := e.wheel.Wheel[res]
			if h.x < 0 || h.x >= int64(len(table)) {
				continue
			}
			if ord := table[h.x]; ord != 0 {
				b.composites[idx].Set(ord)
			}
		}
	}
	return nil
}

// ValidateFactors recomputes every still-unknown offset in line against the
// full prime list up to MaxPrime using exact big.Int arithmetic, returning
// the offsets (if any) that a bug in the modular crossoff missed — the
// optional factor-validation mode of SPEC_FULL.md §4.16. It is never run on
// the hot path: neither Run, RunMethod1 nor the CLI calls it.
func (e *Engine) ValidateFactors(m uint64, line unknownfile.Line) ([]int, error) {
	var bad []int
	offsetComposite := func(offset int64) bool {
		for i := 0; i < e.primes.Len(); i++ {
			if gapmath.ValidateFactor(m, e.cfg.K, 0, offset, e.primes.At(i)) {
				return true
			}
		}
		return false
	}
	for _, d := range line.Prev {
		if offsetComposite(int64(-d)) {
			bad = append(bad, -d)
		}
	}
	for _, d := range line.Next {
		if offsetComposite(int64(d)) {
			bad = append(bad, d)
		}
	}
	if len(bad) > 0 {
		sort.Ints(bad)
		return bad, rgerr.New(rgerr.KindFactorMismatch, fmt.Sprintf("sieve: %d offsets failed factor validation for m=%d", len(bad), m))
	}
	return nil, nil
}

// RunMethod1 is the alternative, unbanded sieve path (SPEC_FULL.md §4.18):
// one m at a time, every qualifying prime tried directly via trial division
// against the exact big.Int value rather than the reindexed bitmap and
// modular-search machinery. It is slower by a large constant factor and
// exists only for cross-checking Run's output on small ranges.
func (e *Engine) RunMethod1(ctx context.Context, tok *cancel.Token, out *unknownfile.Writer) (*Stats, error) {
	stats := &Stats{}
	sl := e.wheel.SL
	var mi int
	for m := e.cfg.Range.MStart; m < e.cfg.Range.MStart+e.cfg.Range.MInc; m++ {
		if gcdU64(m, e.cfg.Range.D) != 1 {
			continue
		}
		if mi%4096 == 0 && tok.Sample() {
			return stats, rgerr.New(rgerr.KindCancelled, "sieve: cancelled in method1 loop")
		}
		line := unknownfile.Line{MI: mi}
		for offset := int64(1); offset <= sl; offset++ {
			if e.wheel.IsCoprime(offset) && !trialDivisible(m, e.cfg.K, offset, e.primes) {
				line.Next = append(line.Next, int(offset))
			}
			if e.wheel.IsCoprime(-offset) && !trialDivisible(m, e.cfg.K, -offset, e.primes) {
				line.Prev = append(line.Prev, int(offset))
			}
		}
		stats.TotalUnknown += len(line.Prev) + len(line.Next)
		stats.ValidM++
		if out != nil {
			if err := out.WriteLine(line); err != nil {
				return stats, rgerr.Wrap(rgerr.KindIO, "sieve: writing unknown line", err)
			}
		}
		mi++
	}
	return stats, nil
}

func trialDivisible(m uint64, k *big.Int, offset int64, primes *primeset.Set) bool {
	v := gapmath.MK(m, k, offset)
	for i := 0; i < primes.Len(); i++ {
		p := primes.At(i)
		pBig := new(big.Int).SetUint64(p)
		if pBig.Cmp(v) >= 0 {
			break
		}
		if new(big.Int).Mod(v, pBig).Sign() == 0 {
			return true
		}
	}
	return false
}
