package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/loykin/fleetrun/internal/history"
)

func event(runID, status string) history.Event {
	now := time.Now()
	return history.Event{
		OccurredAt: now,
		Record: history.Record{
			RunID:      runID,
			TestTarget: "./e2e/run.sh",
			Status:     status,
			StartedAt:  now.Add(-2 * time.Second),
			EndedAt:    now,
			DurationMs: 2000,
			Devices:    2,
			Passed:     2,
		},
	}
}

func TestSendAndCount(t *testing.T) {
	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = s.Close() }()

	ctx := context.Background()
	if err := s.Send(ctx, event("r1", "passed")); err != nil {
		t.Fatalf("send: %v", err)
	}
	if err := s.Send(ctx, event("r2", "failed")); err != nil {
		t.Fatalf("send: %v", err)
	}

	counts, err := s.CountByStatus(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if counts["passed"] != 1 || counts["failed"] != 1 {
		t.Fatalf("counts: %v", counts)
	}
}

func TestSendIsIdempotentPerRun(t *testing.T) {
	s, err := New(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer func() { _ = s.Close() }()

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		if err := s.Send(ctx, event("r1", "passed")); err != nil {
			t.Fatalf("send %d: %v", i, err)
		}
	}
	counts, err := s.CountByStatus(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if counts["passed"] != 1 {
		t.Fatalf("duplicate run_id stored: %v", counts)
	}
}

func TestNewRejectsEmptyPath(t *testing.T) {
	if _, err := New("sqlite://"); err == nil {
		t.Fatalf("empty path accepted")
	}
}
