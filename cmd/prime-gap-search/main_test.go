package main

import (
	"testing"

	"github.com/spf13/pflag"

	"github.com/wizz13150/prime-gap/internal/config"
)

func TestPrimesUpToMatchesHandCountedSet(t *testing.T) {
	got := primesUpTo(17)
	want := []uint64{2, 3, 5, 7, 11, 13, 17}
	if len(got) != len(want) {
		t.Fatalf("primesUpTo(17) = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("primesUpTo(17)[%d] = %d, want %d", i, got[i], want[i])
		}
	}
}

func TestPrimesUpToBelowTwoIsEmpty(t *testing.T) {
	if got := primesUpTo(1); got != nil {
		t.Errorf("primesUpTo(1) = %v, want nil", got)
	}
}

func TestUnknownFilePathEncodesRangeIdentity(t *testing.T) {
	cfg := &config.Config{
		Range: config.RangeConfig{P: 503, D: 2310, MStart: 1, MInc: 1000, SieveLength: 5000, MaxPrime: 100_000_000},
		Output: config.OutputConfig{OutputDirectory: "/tmp/out", FilenamePrefix: "prime-gap"},
	}
	got := unknownFilePath(cfg)
	want := "/tmp/out/prime-gap_503_2310_1_1000_s5000_100000000.txt"
	if got != want {
		t.Errorf("unknownFilePath = %q, want %q", got, want)
	}
}

func TestCheckpointFilePathAppendsSuffix(t *testing.T) {
	cfg := &config.Config{
		Range:  config.RangeConfig{P: 5, D: 1, MStart: 1, MInc: 10, SieveLength: 10, MaxPrime: 100},
		Output: config.OutputConfig{OutputDirectory: ".", FilenamePrefix: "prime-gap"},
	}
	path := unknownFilePath(cfg)
	ckpt := checkpointFilePath(cfg)
	if ckpt != path+".checkpoint" {
		t.Errorf("checkpointFilePath = %q, want %q", ckpt, path+".checkpoint")
	}
}

func TestWorkerCountHonorsConfiguredMax(t *testing.T) {
	cfg := &config.Config{Performance: config.PerformanceConfig{MaxWorkers: 3}}
	if got := workerCount(cfg); got != 3 {
		t.Errorf("workerCount = %d, want 3", got)
	}
}

func TestWorkerCountFallsBackWhenUnset(t *testing.T) {
	cfg := &config.Config{Performance: config.PerformanceConfig{MaxWorkers: 0}}
	if got := workerCount(cfg); got <= 0 {
		t.Errorf("workerCount = %d, want a positive fallback", got)
	}
}

func TestRangeRowCarriesConfigIdentity(t *testing.T) {
	cfg := &config.Config{
		Range:       config.RangeConfig{P: 503, D: 2310, MStart: 1, MInc: 1000, SieveLength: 5000, MaxPrime: 100_000_000, MinMerit: 20},
		Fingerprint: 42,
	}
	row := rangeRow(cfg)
	if row.RID != 42 {
		t.Errorf("RID = %d, want 42", row.RID)
	}
	if row.Config.P != 503 || row.Config.D != 2310 {
		t.Errorf("Config = %+v, want P=503 D=2310", row.Config)
	}
	if row.NumM != 0 || row.TimeStats != 0 {
		t.Errorf("rangeRow should leave run-result fields zeroed, got %+v", row)
	}
}

func TestBindRangeFlagsRegistersEverySpecFlag(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	bindRangeFlags(fs)
	for _, name := range []string{
		"p", "d", "mstart", "minc", "sieve-length", "max-prime", "min-merit",
		"save-unknowns", "rle", "verbose", "search-db", "records-db", "method1", "resume",
	} {
		if fs.Lookup(name) == nil {
			t.Errorf("flag %q not registered by bindRangeFlags", name)
		}
	}
}
