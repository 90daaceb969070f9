// Command prime-gap-search sieves a (P, D, mstart, minc) prime-gap range
// and estimates record-gap probabilities over its unknown-offset output.
//
// Grounded on the teacher's cobra root-command-plus-persistent-flags shape
// (main.go's rootCmd/init/loadConfig), restructured into two subcommands —
// sieve and stats — instead of one monolithic Run, matching spec.md §6's
// two-program CLI surface.
package main

import (
	"context"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/wizz13150/prime-gap/internal/aggregator"
	"github.com/wizz13150/prime-gap/internal/cancel"
	"github.com/wizz13150/prime-gap/internal/config"
	"github.com/wizz13150/prime-gap/internal/estimator"
	"github.com/wizz13150/prime-gap/internal/gapmath"
	"github.com/wizz13150/prime-gap/internal/logging"
	"github.com/wizz13150/prime-gap/internal/probtables"
	"github.com/wizz13150/prime-gap/internal/records"
	"github.com/wizz13150/prime-gap/internal/rgerr"
	"github.com/wizz13150/prime-gap/internal/sieve"
	"github.com/wizz13150/prime-gap/internal/sink"
	"github.com/wizz13150/prime-gap/internal/unknownfile"
	"github.com/wizz13150/prime-gap/internal/workerpool"
)

var configPath string

func main() {
	root := &cobra.Command{
		Use:   "prime-gap-search",
		Short: "Sieve prime-gap ranges and estimate their record-gap probability",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "YAML configuration file")
	bindRangeFlags(root.PersistentFlags())
	root.AddCommand(newSieveCmd(), newStatsCmd())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "prime-gap-search:", err)
		os.Exit(rgerr.ExitCode(err))
	}
}

// bindRangeFlags declares every flag config.flagBindings knows how to wire
// into viper, matching spec.md §6's CLI surface.
func bindRangeFlags(fs *pflag.FlagSet) {
	fs.Uint64("p", 0, "sieve prime bound P (primorial base)")
	fs.Uint64("d", 0, "divisor D (P# / D = K)")
	fs.Uint64("mstart", 0, "first multiplier in the range")
	fs.Uint64("minc", 0, "number of multipliers in the range")
	fs.Int64("sieve-length", 0, "sieve half-length SL")
	fs.Uint64("max-prime", 0, "largest prime sieved against")
	fs.Float64("min-merit", 0, "minimum merit of interest")
	fs.Bool("save-unknowns", true, "write the unknown-offset file")
	fs.Bool("rle", false, "RLE-encode the unknown-offset file")
	fs.Bool("verbose", false, "debug-level logging")
	fs.String("search-db", "", "sqlite database for range/stats results")
	fs.String("records-db", "", "path to the (gap, merit) record-gap table")
	fs.Bool("method1", false, "use the slower, unbanded sieve path")
	fs.Bool("resume", false, "resume from the range's saved checkpoint, if one matches this config")
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	return config.Load(configPath, cmd.Flags())
}

// unknownFilePath names the unknown-offset file the way spec.md §6's
// example invocation does: <prefix>_<p>_<d>_<mstart>_<minc>_s<sl>_<maxprime>.txt
func unknownFilePath(cfg *config.Config) string {
	name := fmt.Sprintf("%s_%d_%d_%d_%d_s%d_%d.txt",
		cfg.Output.FilenamePrefix, cfg.Range.P, cfg.Range.D, cfg.Range.MStart,
		cfg.Range.MInc, cfg.Range.SieveLength, cfg.Range.MaxPrime)
	return filepath.Join(cfg.Output.OutputDirectory, name)
}

func checkpointFilePath(cfg *config.Config) string {
	return unknownFilePath(cfg) + ".checkpoint"
}

// rangeRow builds the sink.RangeRow shared by both subcommands' persistence.
func rangeRow(cfg *config.Config) sink.RangeRow {
	return sink.RangeRow{
		RID: cfg.Fingerprint,
		Config: sink.Config{
			P: cfg.Range.P, D: cfg.Range.D, MStart: cfg.Range.MStart, MInc: cfg.Range.MInc,
			SieveLength: cfg.Range.SieveLength, MaxPrime: cfg.Range.MaxPrime, MinMerit: cfg.Range.MinMerit,
		},
	}
}

// ==================== sieve ====================

func newSieveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sieve",
		Short: "Sieve the configured range, writing the unknown-offset file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger := logging.New(cfg.Output.LogLevel, cfg.Output.Verbose, true)
			engine, err := sieve.New(cfg, logger)
			if err != nil {
				return err
			}

			tok, stop := cancel.New(cmd.Context())
			defer stop()
			untrap := tok.Watch(os.Interrupt, syscall.SIGTERM)
			defer untrap()
			go func() {
				// A second signal is fatal: exit without waiting for the
				// sieve to reach its next band boundary.
				for range time.Tick(100 * time.Millisecond) {
					if tok.Escalated() {
						os.Exit(2)
					}
				}
			}()

			ckptPath := checkpointFilePath(cfg)
			resumeStart := cfg.Range.MStart
			openFlag := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
			if resume, _ := cmd.Flags().GetBool("resume"); resume {
				cp, err := sieve.LoadCheckpoint(ckptPath)
				if err != nil {
					return err
				}
				if cp != nil {
					if cp.Fingerprint != cfg.Fingerprint {
						return rgerr.New(rgerr.KindConfig, "sieve: checkpoint at "+ckptPath+" does not match this range's configuration")
					}
					resumeStart = cp.MIndex
					openFlag = os.O_WRONLY | os.O_CREATE | os.O_APPEND
					logger.Infof("resuming from checkpoint: m=%d", resumeStart)
				}
			}

			var writer *unknownfile.Writer
			if cfg.Output.SaveUnknowns {
				path := unknownFilePath(cfg)
				f, err := os.OpenFile(path, openFlag, 0o644)
				if err != nil {
					return rgerr.Wrap(rgerr.KindIO, "sieve: creating unknown file "+path, err)
				}
				defer f.Close()
				writer = unknownfile.NewWriter(f, cfg.Range.RLE)
			}

			start := time.Now()
			var stats *sieve.Stats
			g, gctx := errgroup.WithContext(tok.Context())
			g.Go(func() error {
				var runErr error
				if cfg.Performance.Method1 {
					stats, runErr = engine.RunMethod1(gctx, tok, writer)
				} else {
					stats, runErr = engine.RunResumable(gctx, tok, writer, resumeStart)
				}
				return runErr
			})
			g.Go(func() error {
				return runCheckpointSaver(gctx, logger, cfg, engine, ckptPath)
			})

			runErr := g.Wait()
			if writer != nil {
				if flushErr := writer.Flush(); flushErr != nil && runErr == nil {
					runErr = rgerr.Wrap(rgerr.KindIO, "sieve: flushing unknown file", flushErr)
				}
			}
			if runErr != nil {
				if tok.Escalated() {
					os.Exit(2)
				}
				if rgerr.IsCancelled(runErr) {
					logger.Warnf("%v; stopped at m=%d", runErr, engine.Progress())
					return nil
				}
				return runErr
			}
			elapsed := time.Since(start).Seconds()
			logger.Infof("sieve complete: valid_m=%d total_unknown=%d bands=%d elapsed=%.1fs",
				stats.ValidM, stats.TotalUnknown, stats.BandsDone, elapsed)
			os.Remove(ckptPath)
			os.Remove(ckptPath + ".backup")

			if cfg.Store.SearchDB == "" {
				return nil
			}
			store, err := sink.Open(cfg.Store.SearchDB)
			if err != nil {
				return err
			}
			defer store.Close()
			row := rangeRow(cfg)
			row.NumM = stats.ValidM
			row.NumRemaining = stats.TotalUnknown
			row.TimeSieve = elapsed
			return store.UpsertRange(cmd.Context(), row)
		},
	}
}

// runCheckpointSaver periodically records sieve progress to path, matching
// the teacher's separate checkpoint-saving goroutine run alongside the main
// calculation loop via errgroup. It exits cleanly when ctx is cancelled —
// only a genuine write failure propagates. engine.Progress() is read
// concurrently with the Run/RunResumable goroutine it is paired with; it is
// only ever updated at a band boundary, so the checkpoint it produces always
// describes a fully-sieved prefix of the range.
func runCheckpointSaver(ctx context.Context, logger *logrus.Logger, cfg *config.Config, engine *sieve.Engine, path string) error {
	interval := cfg.Performance.CheckpointInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			cp := sieve.Checkpoint{Fingerprint: cfg.Fingerprint, MIndex: engine.Progress(), SavedAt: time.Now()}
			if err := sieve.SaveCheckpoint(path, cp); err != nil {
				logger.Warnf("checkpoint: %v", err)
			}
		}
	}
}

// ==================== stats ====================

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Estimate record-gap probabilities over a sieved range's unknown-offset file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger := logging.New(cfg.Output.LogLevel, cfg.Output.Verbose, true)

			if cfg.Store.RecordsDB == "" {
				return rgerr.New(rgerr.KindConfig, "stats: --records-db is required")
			}
			recFile, err := os.Open(cfg.Store.RecordsDB)
			if err != nil {
				return rgerr.Wrap(rgerr.KindIO, "stats: opening records table", err)
			}
			defer recFile.Close()
			recs, err := records.Load(recFile, int(2*cfg.Range.SieveLength)+64)
			if err != nil {
				return rgerr.Wrap(rgerr.KindIO, "stats: parsing records table", err)
			}

			unknownPath := unknownFilePath(cfg)
			unknownFd, err := os.Open(unknownPath)
			if err != nil {
				return rgerr.Wrap(rgerr.KindIO, "stats: opening unknown file "+unknownPath, err)
			}
			defer unknownFd.Close()

			kPrimes := primesUpTo(cfg.Range.P)
			nLog := gapmath.Log(cfg.K) + math.Log(float64(cfg.Range.MStart))
			tables, err := probtables.Build(nLog, float64(cfg.Range.MaxPrime), cfg.Range.D, kPrimes,
				int(cfg.Range.SieveLength), recs, cfg.Range.MinMerit*1.75)
			if err != nil {
				return rgerr.Wrap(rgerr.KindConfig, "stats: building probability tables", err)
			}

			fcfg := estimator.Config{
				KLog:           gapmath.Log(cfg.K),
				SL:             int(cfg.Range.SieveLength),
				MinRecordGap:   tables.MinRecordGap,
				MinGapMinMerit: int(cfg.Range.MinMerit * nLog),
				MissingLow:     tables.MinRecordGap,
				MissingHigh:    tables.MaxRecordGap,
			}

			hist := estimator.NewHistograms(int(cfg.Range.SieveLength))
			results, err := foldRange(cmd.Context(), unknownFd, hist, tables, recs, fcfg, cfg, workerCount(cfg))
			if err != nil {
				return rgerr.Wrap(rgerr.KindIO, "stats: folding unknown file", err)
			}

			rangeStats := aggregator.Normalize(hist, len(results))
			topPct := aggregator.TopPercentileSums(results)
			optimal := aggregator.OptimalTopPercent(results, func(r estimator.Result) float64 {
				return aggregator.PRPCost(fcfg.KLog + math.Log(float64(r.M)))
			}, 100)

			logger.Infof("stats complete: m=%d optimal_top_percent_index=%d cumulative_prob=%.6f",
				len(results), optimal.Index, optimal.CumulativeProb)
			for _, pct := range aggregator.StandardPercentiles {
				logger.Debugf("top %.0f%%: %.6f", pct, topPct[pct])
			}

			if cfg.Store.SearchDB == "" {
				return nil
			}
			store, err := sink.Open(cfg.Store.SearchDB)
			if err != nil {
				return err
			}
			defer store.Close()
			return persistStats(cmd.Context(), store, cfg, rangeStats, results)
		},
	}
}

// foldRange streams every line of r through estimator.Fold, fanning the
// per-m work out across a workerpool.Pool while a single goroutine reads
// and submits jobs sequentially, matching the teacher's producer/consumer
// pairing for its own result channel (main.go's resultGroup).
func foldRange(ctx context.Context, r *os.File, hist *estimator.Histograms, tables *probtables.Tables,
	recs *records.Table, fcfg estimator.Config, cfg *config.Config, workers int) ([]estimator.Result, error) {

	pool := workerpool.New[estimator.Result](workers)
	pool.Run(ctx)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer pool.Close()
		reader := unknownfile.NewReader(r)
		for {
			line, ok, err := reader.Next()
			if err != nil {
				return err
			}
			if !ok {
				return nil
			}
			m := cfg.Range.MStart + uint64(line.MI)
			l := line
			select {
			case <-gctx.Done():
				return gctx.Err()
			default:
			}
			pool.Submit(func(ctx context.Context) (estimator.Result, error) {
				return estimator.Fold(hist, tables, recs, fcfg, m, l), nil
			})
		}
	})

	var results []estimator.Result
	for res := range pool.Results() {
		if res.Err != nil {
			return nil, res.Err
		}
		results = append(results, res.Value)
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func persistStats(ctx context.Context, store *sink.SQLStore, cfg *config.Config, rs *aggregator.RangeStats, results []estimator.Result) error {
	row := rangeRow(cfg)
	row.NumM = rs.ValidM
	row.TimeStats = 1 // marks this range's stats as computed; UpsertRange only blocks reprocessing once time_stats > 0.
	if err := store.UpsertRange(ctx, row); err != nil {
		return err
	}

	rows := make([]sink.RangeStatsRow, 0, len(rs.ProbGapNorm))
	for gap, prob := range rs.ProbGapNorm {
		var low, high float64
		if gap < len(rs.ProbGapLow) {
			low = rs.ProbGapLow[gap]
		}
		if gap < len(rs.ProbGapHigh) {
			high = rs.ProbGapHigh[gap]
		}
		rows = append(rows, sink.RangeStatsRow{RID: row.RID, Gap: gap, ProbCombined: prob, ProbLowSide: low, ProbHighSide: high})
	}
	if err := store.InsertRangeStats(ctx, rows); err != nil {
		return err
	}

	mrows := make([]sink.MStatsRow, len(results))
	for i, r := range results {
		mrows[i] = sink.MStatsRow{
			RID: row.RID, P: cfg.Range.P, D: cfg.Range.D, M: r.M,
			ProbRecord: r.ProbRecord, ProbMissing: r.ProbMissing, ProbMerit: r.ProbMerit,
			EGapNext: r.ENext, EGapPrev: r.EPrev,
		}
	}
	return store.InsertMStats(ctx, mrows)
}

func workerCount(cfg *config.Config) int {
	if cfg.Performance.MaxWorkers > 0 {
		return cfg.Performance.MaxWorkers
	}
	return runtime.NumCPU()
}

// primesUpTo returns every prime <= p in ascending order, the full factor
// base of P# that internal/probtables.Build needs (it separates D's
// factors from K's internally).
func primesUpTo(p uint64) []uint64 {
	if p < 2 {
		return nil
	}
	composite := make([]bool, p+1)
	var out []uint64
	for i := uint64(2); i <= p; i++ {
		if composite[i] {
			continue
		}
		out = append(out, i)
		for j := i * i; j <= p; j += i {
			composite[j] = true
		}
	}
	return out
}
