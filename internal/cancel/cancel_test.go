package cancel

import (
	"context"
	"testing"
)

func TestSampleReflectsContextCancellation(t *testing.T) {
	tok, cancel := New(context.Background())
	defer cancel()

	if tok.Sample() {
		t.Fatal("expected Sample to be false before cancellation")
	}
	cancel()
	if !tok.Sample() {
		t.Fatal("expected Sample to be true after cancellation")
	}
}

func TestEscalatedStartsFalse(t *testing.T) {
	tok, cancel := New(context.Background())
	defer cancel()
	if tok.Escalated() {
		t.Fatal("expected a fresh token to not be escalated")
	}
}

func TestContextDoneMatchesSample(t *testing.T) {
	tok, cancel := New(context.Background())
	cancel()
	select {
	case <-tok.Context().Done():
	default:
		t.Fatal("expected Context() to be Done after cancel")
	}
	if !tok.Sample() {
		t.Fatal("expected Sample to agree with Context().Done()")
	}
}
