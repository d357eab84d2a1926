package history

import (
	"context"
	"time"

	"github.com/loykin/fleetrun/internal/launcher"
	"github.com/loykin/fleetrun/internal/run"
)

// Record is the flattened result of one finalized run, shaped for export
// to external analytics/reporting systems. The in-memory registry stays
// authoritative; sinks are write-only.
type Record struct {
	RunID      string    `json:"run_id"`
	TestTarget string    `json:"test_target"`
	Status     string    `json:"status"`
	StartedAt  time.Time `json:"started_at"`
	EndedAt    time.Time `json:"ended_at"`
	DurationMs int64     `json:"duration_ms"`
	Devices    int       `json:"devices"`
	Passed     int       `json:"passed"`
	Failed     int       `json:"failed"`
	Errored    int       `json:"errored"`
	Stopped    int       `json:"stopped"`
}

// FromSummary flattens a finalized run snapshot into a Record.
func FromSummary(s run.Summary) Record {
	rec := Record{
		RunID:      s.ID,
		TestTarget: s.TestTarget,
		Status:     string(s.Status),
		StartedAt:  s.StartedAt,
		EndedAt:    s.EndedAt,
		DurationMs: s.DurationMs,
		Devices:    len(s.Devices),
	}
	for _, d := range s.Devices {
		switch d.Status {
		case launcher.StatusPassed:
			rec.Passed++
		case launcher.StatusFailed:
			rec.Failed++
		case launcher.StatusErrored:
			rec.Errored++
		case launcher.StatusStopped:
			rec.Stopped++
		}
	}
	return rec
}

// Event wraps a Record with the export timestamp.
type Event struct {
	OccurredAt time.Time `json:"occurred_at"`
	Record     Record    `json:"record"`
}

// Sink is a destination for finalized-run records. Implementations must be
// safe for concurrent use; failures are logged by the caller, never fatal.
type Sink interface {
	Send(ctx context.Context, e Event) error
}
