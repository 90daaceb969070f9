// Package sink implements the persistent result store of SPEC_FULL.md
// §4.15 (C9/A7): the three-table schema of spec.md §6 (range, range_stats,
// m_stats), written inside a single BEGIN IMMEDIATE transaction per call,
// retried on SQLITE_BUSY within a 60s wait budget.
//
// Grounded on other_examples/agentic-research-mache__sqlite_graph.go and
// other_examples/blackms-claude-flow-go__reasoning_store.go's database/sql +
// modernc.org/sqlite pairing (schema-as-string CREATE TABLE IF NOT EXISTS,
// prepared statements for bulk inserts).
package sink

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
	_ "modernc.org/sqlite"

	"github.com/wizz13150/prime-gap/internal/rgerr"
)

// waitBudget is the per-call transaction deadline, spec.md §4.8/§7's
// "60s wait budget" against SQLITE_BUSY.
const waitBudget = 60 * time.Second

// busyRetryInterval is the backoff step between SQLITE_BUSY retries.
const busyRetryInterval = 200 * time.Millisecond

// nearZeroThreshold: range_stats rows whose three probabilities are all
// below this are skipped (spec.md §6, "skipping rows with all three
// probabilities below 1e-10").
const nearZeroThreshold = 1e-10

// Config identifies one sieve configuration, both for the rid fingerprint
// and for the range table's descriptive columns.
type Config struct {
	P           uint64
	D           uint64
	MStart      uint64
	MInc        uint64
	SieveLength int64
	MaxPrime    uint64
	MinMerit    float64
}

// Fingerprint computes rid: a stable 64-bit hash of (P, D, M0, deltaM, SL,
// MaxPrime), per spec.md §6. Re-deriving rid from a stored range row must
// reproduce the same value the sieve used to write it, so this hashes only
// the six fields that actually identify the configuration — not MinMerit,
// which can change between a sieve run and a later stats run over the same
// unknown file.
func Fingerprint(cfg Config) uint64 {
	var buf bytes.Buffer
	for _, v := range []uint64{cfg.P, cfg.D, cfg.MStart, cfg.MInc, uint64(cfg.SieveLength), cfg.MaxPrime} {
		binary.Write(&buf, binary.LittleEndian, v)
	}
	return xxhash.Sum64(buf.Bytes())
}

// RangeRow mirrors the `range` table.
type RangeRow struct {
	RID          uint64
	Config       Config
	NumM         int
	NumRemaining int
	TimeSieve    float64
	TimeStats    float64
}

// RangeStatsRow mirrors one row of `range_stats`.
type RangeStatsRow struct {
	RID          uint64
	Gap          int
	ProbCombined float64
	ProbLowSide  float64
	ProbHighSide float64
}

// MStatsRow mirrors one row of `m_stats`.
type MStatsRow struct {
	RID         uint64
	P           uint64
	D           uint64
	M           uint64
	ProbRecord  float64
	ProbMissing float64
	ProbMerit   float64
	EGapNext    float64
	EGapPrev    float64
}

// Store is the three-operation sink interface named in spec.md §6.
type Store interface {
	UpsertRange(ctx context.Context, row RangeRow) error
	InsertRangeStats(ctx context.Context, rows []RangeStatsRow) error
	InsertMStats(ctx context.Context, rows []MStatsRow) error
	Close() error
}

// SQLStore implements Store against database/sql with the pure-Go
// modernc.org/sqlite driver.
type SQLStore struct {
	db *sql.DB
}

// Open opens (creating if absent) a SQLite database at path and ensures the
// three-table schema exists.
func Open(path string) (*SQLStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sink: open %s: %w", path, err)
	}
	s := &SQLStore{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS range (
			rid           INTEGER PRIMARY KEY,
			p             INTEGER NOT NULL,
			d             INTEGER NOT NULL,
			m_start       INTEGER NOT NULL,
			m_inc         INTEGER NOT NULL,
			sieve_length  INTEGER NOT NULL,
			max_prime     INTEGER NOT NULL,
			min_merit     REAL NOT NULL,
			num_m         INTEGER NOT NULL DEFAULT 0,
			num_remaining INTEGER NOT NULL DEFAULT 0,
			time_sieve    REAL NOT NULL DEFAULT 0,
			time_stats    REAL NOT NULL DEFAULT 0
		);

		CREATE TABLE IF NOT EXISTS range_stats (
			rid            INTEGER NOT NULL,
			gap            INTEGER NOT NULL,
			prob_combined  REAL NOT NULL,
			prob_low_side  REAL NOT NULL,
			prob_high_side REAL NOT NULL,
			PRIMARY KEY (rid, gap)
		);

		CREATE TABLE IF NOT EXISTS m_stats (
			rid          INTEGER NOT NULL,
			p            INTEGER NOT NULL,
			d            INTEGER NOT NULL,
			m            INTEGER NOT NULL,
			prob_record  REAL NOT NULL,
			prob_missing REAL NOT NULL,
			prob_merit   REAL NOT NULL,
			e_gap_next   REAL NOT NULL,
			e_gap_prev   REAL NOT NULL,
			PRIMARY KEY (rid, m)
		);

		CREATE INDEX IF NOT EXISTS idx_range_stats_rid ON range_stats(rid);
		CREATE INDEX IF NOT EXISTS idx_m_stats_rid ON m_stats(rid);
	`
	_, err := s.db.Exec(schema)
	return err
}

// withRetryTx runs fn against a single connection wrapped in BEGIN
// IMMEDIATE/COMMIT, retrying on SQLITE_BUSY until waitBudget elapses.
func (s *SQLStore) withRetryTx(ctx context.Context, fn func(ctx context.Context, conn *sql.Conn) error) error {
	ctx, cancel := context.WithTimeout(ctx, waitBudget)
	defer cancel()

	for {
		err := s.runOnce(ctx, fn)
		if err == nil || !isBusy(err) {
			return err
		}
		select {
		case <-ctx.Done():
			return rgerr.Wrap(rgerr.KindSinkTransient, "sink: exhausted 60s wait budget on SQLITE_BUSY", err)
		case <-time.After(busyRetryInterval):
		}
	}
}

func (s *SQLStore) runOnce(ctx context.Context, fn func(ctx context.Context, conn *sql.Conn) error) error {
	conn, err := s.db.Conn(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	if _, err := conn.ExecContext(ctx, "BEGIN IMMEDIATE"); err != nil {
		return err
	}
	if err := fn(ctx, conn); err != nil {
		conn.ExecContext(ctx, "ROLLBACK")
		return err
	}
	if _, err := conn.ExecContext(ctx, "COMMIT"); err != nil {
		return err
	}
	return nil
}

func isBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

// UpsertRange inserts or updates the range row for row.RID, pre-checking
// time_stats inside the same transaction and refusing to proceed (a typed
// rgerr.KindAlreadyProcessed, mapped to exit code 1) if the range has
// already had its stats computed.
func (s *SQLStore) UpsertRange(ctx context.Context, row RangeRow) error {
	return s.withRetryTx(ctx, func(ctx context.Context, conn *sql.Conn) error {
		var existingTimeStats float64
		err := conn.QueryRowContext(ctx, "SELECT time_stats FROM range WHERE rid = ?", row.RID).Scan(&existingTimeStats)
		if err != nil && err != sql.ErrNoRows {
			return err
		}
		if err == nil && existingTimeStats > 0 {
			return rgerr.New(rgerr.KindAlreadyProcessed, "range already processed")
		}

		_, err = conn.ExecContext(ctx, `
			INSERT INTO range (rid, p, d, m_start, m_inc, sieve_length, max_prime, min_merit, num_m, num_remaining, time_sieve, time_stats)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(rid) DO UPDATE SET
				num_m         = excluded.num_m,
				num_remaining = excluded.num_remaining,
				time_sieve    = CASE WHEN excluded.time_sieve > 0 THEN excluded.time_sieve ELSE range.time_sieve END,
				time_stats    = CASE WHEN excluded.time_stats > 0 THEN excluded.time_stats ELSE range.time_stats END
		`,
			row.RID, row.Config.P, row.Config.D, row.Config.MStart, row.Config.MInc, row.Config.SieveLength,
			row.Config.MaxPrime, row.Config.MinMerit, row.NumM, row.NumRemaining, row.TimeSieve, row.TimeStats,
		)
		return err
	})
}

// InsertRangeStats bulk-inserts the range-level gap histogram, skipping rows
// whose three probabilities are all below nearZeroThreshold.
func (s *SQLStore) InsertRangeStats(ctx context.Context, rows []RangeStatsRow) error {
	return s.withRetryTx(ctx, func(ctx context.Context, conn *sql.Conn) error {
		stmt, err := conn.PrepareContext(ctx, `
			INSERT INTO range_stats (rid, gap, prob_combined, prob_low_side, prob_high_side)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(rid, gap) DO UPDATE SET
				prob_combined  = excluded.prob_combined,
				prob_low_side  = excluded.prob_low_side,
				prob_high_side = excluded.prob_high_side
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, r := range rows {
			if math.Abs(r.ProbCombined) < nearZeroThreshold &&
				math.Abs(r.ProbLowSide) < nearZeroThreshold &&
				math.Abs(r.ProbHighSide) < nearZeroThreshold {
				continue
			}
			if _, err := stmt.ExecContext(ctx, r.RID, r.Gap, r.ProbCombined, r.ProbLowSide, r.ProbHighSide); err != nil {
				return err
			}
		}
		return nil
	})
}

// InsertMStats bulk-inserts the per-m statistics row set.
func (s *SQLStore) InsertMStats(ctx context.Context, rows []MStatsRow) error {
	return s.withRetryTx(ctx, func(ctx context.Context, conn *sql.Conn) error {
		stmt, err := conn.PrepareContext(ctx, `
			INSERT INTO m_stats (rid, p, d, m, prob_record, prob_missing, prob_merit, e_gap_next, e_gap_prev)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(rid, m) DO UPDATE SET
				prob_record  = excluded.prob_record,
				prob_missing = excluded.prob_missing,
				prob_merit   = excluded.prob_merit,
				e_gap_next   = excluded.e_gap_next,
				e_gap_prev   = excluded.e_gap_prev
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, r := range rows {
			if _, err := stmt.ExecContext(ctx, r.RID, r.P, r.D, r.M, r.ProbRecord, r.ProbMissing, r.ProbMerit, r.EGapNext, r.EGapPrev); err != nil {
				return err
			}
		}
		return nil
	})
}

// Close closes the underlying database handle.
func (s *SQLStore) Close() error { return s.db.Close() }
