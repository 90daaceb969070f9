package probtables

import (
	"math"
	"strings"
	"testing"

	"github.com/wizz13150/prime-gap/internal/records"
)

func smallRecordsTable(t *testing.T) *records.Table {
	t.Helper()
	// a few catalogued gaps at low log_start, leaving most even gaps up to
	// 200 "possible record" candidates for a modest N_log.
	src := "2 1000.0\n100 1000.0\n"
	tbl, err := records.Load(strings.NewReader(src), 200)
	if err != nil {
		t.Fatalf("records.Load: %v", err)
	}
	return tbl
}

func TestBuildProducesMonotonicGreatNth(t *testing.T) {
	kPrimes := []uint64{2, 3, 5, 7, 11}
	tables, err := Build(20.0, 1e6, 6, kPrimes, 50, smallRecordsTable(t), 35)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if len(tables.GreatNthSieve) == 0 {
		t.Fatal("expected a non-empty great_nth_sieve table")
	}
	for i := 1; i < len(tables.GreatNthSieve); i++ {
		if tables.GreatNthSieve[i] > tables.GreatNthSieve[i-1] {
			t.Errorf("great_nth_sieve not monotonically non-increasing at %d: %v > %v",
				i, tables.GreatNthSieve[i], tables.GreatNthSieve[i-1])
		}
	}
}

func TestCombinedSieveBounds(t *testing.T) {
	kPrimes := []uint64{2, 3, 5, 7}
	tables, err := Build(100.0, 1e6, 6, kPrimes, 50, smallRecordsTable(t), 35)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	for i, v := range tables.CombinedSieve {
		if v < 0 || v >= 1 {
			t.Errorf("combined_sieve[%d] = %v out of [0,1)", i, v)
		}
	}
}

func TestExtendedRecordHighInRange(t *testing.T) {
	kPrimes := []uint64{2, 3, 5, 7}
	tables, err := Build(20.0, 1e6, 6, kPrimes, 50, smallRecordsTable(t), 35)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	for m, row := range tables.ExtendedRecordHigh {
		for g, v := range row {
			if g == 0 {
				continue
			}
			if math.IsNaN(v) {
				continue
			}
			if v < 0 || v >= 1 {
				t.Errorf("extended_record_high[%d][%d] = %v out of [0,1)", m, g, v)
			}
		}
	}
}

func TestExtendedExtendedRecordNonNegative(t *testing.T) {
	kPrimes := []uint64{2, 3, 5, 7}
	tables, err := Build(20.0, 1e6, 6, kPrimes, 50, smallRecordsTable(t), 35)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	for m, v := range tables.ExtendedExtendedRecord {
		if v < 0 {
			t.Errorf("extended_extended_record[%d] = %v, want >= 0", m, v)
		}
	}
}

func TestBuildFailsWithoutEnoughPossibleRecordGaps(t *testing.T) {
	// every gap in range is catalogued with a tiny log_start, so at a huge
	// N_log every gap already has a record at or below this magnitude and
	// none qualify as "possible".
	src := "2 1000.0\n4 1000.0\n6 1000.0\n8 1000.0\n10 1000.0\n"
	tbl, err := records.Load(strings.NewReader(src), 10)
	if err != nil {
		t.Fatalf("records.Load: %v", err)
	}
	if _, err := Build(1e9, 1e6, 6, []uint64{2, 3}, 50, tbl, 35); err == nil {
		t.Error("expected Build to fail when fewer than 2 possible record gaps exist")
	}
}
