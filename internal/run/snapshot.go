package run

import (
	"time"

	"github.com/loykin/fleetrun/internal/launcher"
)

// OutcomeSummary is a device outcome without the captured output.
type OutcomeSummary struct {
	DeviceID   string          `json:"device_id"`
	Platform   string          `json:"platform"`
	Origin     string          `json:"origin"`
	Provider   string          `json:"provider,omitempty"`
	Status     launcher.Status `json:"status"`
	ExitCode   *int            `json:"exit_code,omitempty"`
	Error      string          `json:"error,omitempty"`
	DurationMs int64           `json:"duration_ms"`
}

// Summary is a consistent point-in-time view of a run, safe to hand to
// concurrent readers.
type Summary struct {
	ID         string           `json:"id"`
	TestTarget string           `json:"test_target"`
	Status     Status           `json:"status"`
	StartedAt  time.Time        `json:"started_at"`
	EndedAt    time.Time        `json:"ended_at,omitempty"`
	DurationMs int64            `json:"duration_ms"`
	Devices    []OutcomeSummary `json:"devices"`
}

// Detail is a Summary plus the full captured output per device.
type Detail struct {
	Summary
	Output map[string][]OutputLine `json:"output"`
}

// Summary builds a snapshot under the run lock. Device entries follow the
// original request order.
func (r *Run) Summary() Summary {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := Summary{
		ID:         r.id,
		TestTarget: r.testTarget,
		Status:     r.status,
		StartedAt:  r.startedAt,
		EndedAt:    r.endedAt,
		Devices:    make([]OutcomeSummary, 0, len(r.devices)),
	}
	if !r.endedAt.IsZero() {
		s.DurationMs = r.endedAt.Sub(r.startedAt).Milliseconds()
	}
	for _, d := range r.devices {
		o := r.outcomes[d.ID]
		s.Devices = append(s.Devices, OutcomeSummary{
			DeviceID:   d.ID,
			Platform:   string(d.Platform),
			Origin:     string(d.Origin),
			Provider:   d.Provider,
			Status:     o.Status,
			ExitCode:   o.ExitCode,
			Error:      o.Error,
			DurationMs: o.DurationMs(),
		})
	}
	return s
}

// Detail builds a full snapshot including copied output slices.
func (r *Run) Detail() Detail {
	d := Detail{Summary: r.Summary(), Output: make(map[string][]OutputLine)}
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, o := range r.outcomes {
		d.Output[id] = append([]OutputLine(nil), o.Output...)
	}
	return d
}
