package run

import (
	"time"

	"github.com/loykin/fleetrun/internal/launcher"
)

// EventType enumerates the live events emitted during a run.
type EventType string

const (
	EventStarted         EventType = "run.started"
	EventOutput          EventType = "run.output"
	EventDeviceCompleted EventType = "run.deviceCompleted"
	EventCompleted       EventType = "run.completed"
	EventStopped         EventType = "run.stopped"
)

// Event is one live notification. Fields beyond Type and RunID are
// populated per type; consumers must key off Type.
type Event struct {
	Type       EventType        `json:"type"`
	RunID      string           `json:"run_id"`
	TestTarget string           `json:"test_target,omitempty"`
	DeviceIDs  []string         `json:"device_ids,omitempty"`
	DeviceID   string           `json:"device_id,omitempty"`
	Stream     launcher.Stream  `json:"stream,omitempty"`
	Text       string           `json:"text,omitempty"`
	Status     string           `json:"status,omitempty"`
	DurationMs int64            `json:"duration_ms,omitempty"`
	Devices    []OutcomeSummary `json:"devices,omitempty"`
	At         time.Time        `json:"at"`
}

// Sink consumes live events. Implementations must be safe for concurrent
// use and must not block: the orchestrator emits from the output hot path.
type Sink interface {
	Emit(e Event)
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(e Event)

func (f SinkFunc) Emit(e Event) { f(e) }

// MultiSink fans one event out to several sinks.
type MultiSink []Sink

func (m MultiSink) Emit(e Event) {
	for _, s := range m {
		s.Emit(e)
	}
}
