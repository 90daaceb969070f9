package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
)

func TestLoadWithMissingFileUsesDefaults(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.Uint64("p", 503, "")
	fs.Uint64("d", 2310, "")
	fs.Uint64("mstart", 1, "")
	fs.Uint64("minc", 1000, "")
	fs.Int64("sieve-length", 5000, "")
	fs.Uint64("max-prime", 100_000_000, "")
	fs.Float64("min-merit", 20, "")

	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"), fs)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Range.P != 503 || cfg.Range.D != 2310 {
		t.Errorf("expected flag-bound p/d, got p=%d d=%d", cfg.Range.P, cfg.Range.D)
	}
	if cfg.Output.FilenamePrefix != "prime-gap" {
		t.Errorf("expected default filename prefix, got %q", cfg.Output.FilenamePrefix)
	}
	if cfg.Performance.MemoryBudgetMB != 7168 {
		t.Errorf("expected default memory budget 7168, got %d", cfg.Performance.MemoryBudgetMB)
	}
}

func TestLoadReadsYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.yaml")
	yaml := "range:\n  p: 503\n  d: 2310\n  mstart: 1\n  minc: 1000\n  sieve_length: 5000\n  max_prime: 100000000\n  min_merit: 20\noutput:\n  filename_prefix: custom\n"
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(path, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Range.P != 503 {
		t.Errorf("Range.P = %d, want 503", cfg.Range.P)
	}
	if cfg.Output.FilenamePrefix != "custom" {
		t.Errorf("Output.FilenamePrefix = %q, want custom", cfg.Output.FilenamePrefix)
	}
}

func TestLoadRejectsDWhichDoesNotDivideP(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.yaml")
	yaml := "range:\n  p: 503\n  d: 4\n  mstart: 1\n  minc: 1000\n  sieve_length: 5000\n  max_prime: 100000000\n  min_merit: 20\n"
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if _, err := Load(path, nil); err == nil {
		t.Error("expected Load to fail when d does not divide p#")
	}
}

func TestLoadRejectsExcessiveSLOverPRatio(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.yaml")
	yaml := "range:\n  p: 5\n  d: 1\n  mstart: 1\n  minc: 1000\n  sieve_length: 100000\n  max_prime: 100000000\n  min_merit: 20\n"
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	if _, err := Load(path, nil); err == nil {
		t.Error("expected Load to fail when sieve_length/p is unreasonably large")
	}
}

func TestDeriveThresholdsSetsWheelAndFingerprint(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cfg.yaml")
	yaml := "range:\n  p: 503\n  d: 2310\n  mstart: 1\n  minc: 1000\n  sieve_length: 5000\n  max_prime: 100000000\n  min_merit: 20\n"
	if err := os.WriteFile(path, []byte(yaml), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	cfg, err := Load(path, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.W == 0 {
		t.Error("expected a nonzero wheel W")
	}
	if cfg.K == nil || cfg.K.Sign() <= 0 {
		t.Error("expected a positive K")
	}
	if cfg.SmallThreshold == 0 || cfg.SmallThreshold > cfg.Range.MaxPrime {
		t.Errorf("expected 0 < SmallThreshold <= MaxPrime, got %d, MaxPrime=%d", cfg.SmallThreshold, cfg.Range.MaxPrime)
	}
	if cfg.Fingerprint == 0 {
		t.Error("expected a nonzero fingerprint")
	}
}
