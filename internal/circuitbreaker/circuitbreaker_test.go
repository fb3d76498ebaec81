package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestOpensAfterMaxFailures(t *testing.T) {
	b := New("hal", Config{MaxFailures: 2, ResetTimeout: 50 * time.Millisecond}, nil)
	failing := func(context.Context) error { return errors.New("boom") }

	b.Execute(context.Background(), failing)
	if b.State() != Closed {
		t.Fatalf("expected Closed after 1 failure, got %v", b.State())
	}
	b.Execute(context.Background(), failing)
	if b.State() != Open {
		t.Fatalf("expected Open after 2 failures, got %v", b.State())
	}

	if err := b.Execute(context.Background(), failing); !errors.Is(err, ErrOpen) {
		t.Fatalf("expected ErrOpen while open, got %v", err)
	}
}

func TestHalfOpenProbeRecovers(t *testing.T) {
	b := New("hal", Config{MaxFailures: 1, ResetTimeout: 10 * time.Millisecond}, nil)
	b.Execute(context.Background(), func(context.Context) error { return errors.New("boom") })
	if b.State() != Open {
		t.Fatalf("expected Open, got %v", b.State())
	}

	time.Sleep(15 * time.Millisecond)
	err := b.Execute(context.Background(), func(context.Context) error { return nil })
	if err != nil {
		t.Fatalf("expected probe to succeed, got %v", err)
	}
	if b.State() != Closed {
		t.Fatalf("expected Closed after successful probe, got %v", b.State())
	}
}

func TestHalfOpenProbeFailureReopens(t *testing.T) {
	b := New("hal", Config{MaxFailures: 1, ResetTimeout: 10 * time.Millisecond}, nil)
	b.Execute(context.Background(), func(context.Context) error { return errors.New("boom") })
	time.Sleep(15 * time.Millisecond)
	b.Execute(context.Background(), func(context.Context) error { return errors.New("still broken") })
	if b.State() != Open {
		t.Fatalf("expected Open after failed probe, got %v", b.State())
	}
}
