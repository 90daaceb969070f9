package sieve

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/wizz13150/prime-gap/internal/cancel"
	"github.com/wizz13150/prime-gap/internal/unknownfile"
)

func TestLoadCheckpointReturnsNilForAMissingFile(t *testing.T) {
	cp, err := LoadCheckpoint(filepath.Join(t.TempDir(), "does-not-exist.checkpoint"))
	if err != nil {
		t.Fatalf("LoadCheckpoint: %v", err)
	}
	if cp != nil {
		t.Fatalf("LoadCheckpoint = %+v, want nil", cp)
	}
}

func TestSaveAndLoadCheckpointRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "r.checkpoint")
	want := Checkpoint{Fingerprint: 0xdeadbeef, MIndex: 42, SavedAt: time.Now().Truncate(time.Second)}
	if err := SaveCheckpoint(path, want); err != nil {
		t.Fatalf("SaveCheckpoint: %v", err)
	}
	got, err := LoadCheckpoint(path)
	if err != nil {
		t.Fatalf("LoadCheckpoint: %v", err)
	}
	if got == nil {
		t.Fatal("LoadCheckpoint = nil, want a checkpoint")
	}
	if got.Fingerprint != want.Fingerprint || got.MIndex != want.MIndex {
		t.Errorf("LoadCheckpoint = %+v, want %+v", *got, want)
	}
	if !got.SavedAt.Equal(want.SavedAt) {
		t.Errorf("SavedAt = %v, want %v", got.SavedAt, want.SavedAt)
	}
}

func TestSaveCheckpointBacksUpThePreviousFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "r.checkpoint")
	first := Checkpoint{Fingerprint: 1, MIndex: 1, SavedAt: time.Now()}
	second := Checkpoint{Fingerprint: 1, MIndex: 2, SavedAt: time.Now()}
	if err := SaveCheckpoint(path, first); err != nil {
		t.Fatalf("SaveCheckpoint(first): %v", err)
	}
	if err := SaveCheckpoint(path, second); err != nil {
		t.Fatalf("SaveCheckpoint(second): %v", err)
	}

	current, err := LoadCheckpoint(path)
	if err != nil || current == nil {
		t.Fatalf("LoadCheckpoint(current): %v, %+v", err, current)
	}
	if current.MIndex != second.MIndex {
		t.Errorf("current.MIndex = %d, want %d", current.MIndex, second.MIndex)
	}

	backup, err := LoadCheckpoint(path + ".backup")
	if err != nil || backup == nil {
		t.Fatalf("LoadCheckpoint(backup): %v, %+v", err, backup)
	}
	if backup.MIndex != first.MIndex {
		t.Errorf("backup.MIndex = %d, want %d", backup.MIndex, first.MIndex)
	}

	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Errorf("expected the .tmp file to be renamed away, stat err = %v", err)
	}
}

// TestRunResumablePicksUpWhereRunWouldHaveLeftOff checks that resuming from
// the tiny engine's second m reproduces exactly the tail of a from-scratch
// run's output, with unknownfile.Line.MI numbered as if no m had been
// skipped.
func TestRunResumablePicksUpWhereRunWouldHaveLeftOff(t *testing.T) {
	full := tinyEngine(t)
	var fullBuf bytes.Buffer
	fullWriter := unknownfile.NewWriter(&fullBuf, false)
	tok, stop := cancel.New(context.Background())
	defer stop()
	if _, err := full.Run(context.Background(), tok, fullWriter); err != nil {
		t.Fatalf("Run: %v", err)
	}
	fullWriter.Flush()
	fullLines := readAllLines(t, fullBuf.Bytes())
	if len(fullLines) != 3 {
		t.Fatalf("from-scratch run produced %d lines, want 3", len(fullLines))
	}

	resumed := tinyEngine(t)
	var resumedBuf bytes.Buffer
	resumedWriter := unknownfile.NewWriter(&resumedBuf, false)
	if _, err := resumed.RunResumable(context.Background(), tok, resumedWriter, 2); err != nil {
		t.Fatalf("RunResumable: %v", err)
	}
	resumedWriter.Flush()
	resumedLines := readAllLines(t, resumedBuf.Bytes())
	if len(resumedLines) != 2 {
		t.Fatalf("resumed run produced %d lines, want 2", len(resumedLines))
	}
	for i, line := range resumedLines {
		want := fullLines[i+1]
		if line.MI != want.MI {
			t.Errorf("resumedLines[%d].MI = %d, want %d", i, line.MI, want.MI)
		}
	}
}

func TestProgressAdvancesPastTheResumedRange(t *testing.T) {
	e := tinyEngine(t)
	tok, stop := cancel.New(context.Background())
	defer stop()
	if got := e.Progress(); got != e.cfg.Range.MStart {
		t.Errorf("Progress before Run = %d, want MStart %d", got, e.cfg.Range.MStart)
	}
	if _, err := e.Run(context.Background(), tok, nil); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if got, want := e.Progress(), e.cfg.Range.MStart+e.cfg.Range.MInc; got != want {
		t.Errorf("Progress after Run = %d, want %d", got, want)
	}
}

func readAllLines(t *testing.T, data []byte) []unknownfile.Line {
	t.Helper()
	r := unknownfile.NewReader(bytes.NewReader(data))
	var lines []unknownfile.Line
	for {
		line, ok, err := r.Next()
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if !ok {
			break
		}
		lines = append(lines, line)
	}
	return lines
}
