package run

import (
	"sync"
	"time"

	"github.com/loykin/fleetrun/internal/device"
	"github.com/loykin/fleetrun/internal/launcher"
)

// Status is the aggregate state of one orchestration run.
type Status string

const (
	StatusRunning Status = "running"
	StatusPassed  Status = "passed"
	StatusFailed  Status = "failed"
	StatusStopped Status = "stopped"
)

// Terminal reports whether the run can no longer change state.
func (s Status) Terminal() bool { return s != StatusRunning }

// OutputLine is one captured line of child output, tagged with its stream.
type OutputLine struct {
	Stream launcher.Stream `json:"stream"`
	Text   string          `json:"text"`
	At     time.Time       `json:"at"`
}

// DeviceOutcome is the per-(run, device) result. Lines are strictly
// appended in arrival order. The status only ever moves forward:
// pending -> running -> one terminal state.
type DeviceOutcome struct {
	Device    device.Target   `json:"device"`
	Status    launcher.Status `json:"status"`
	StartedAt time.Time       `json:"started_at,omitempty"`
	EndedAt   time.Time       `json:"ended_at,omitempty"`
	ExitCode  *int            `json:"exit_code,omitempty"`
	Error     string          `json:"error,omitempty"`
	Output    []OutputLine    `json:"output,omitempty"`
}

// DurationMs reports the outcome's wall time in milliseconds, 0 until started.
func (o *DeviceOutcome) DurationMs() int64 {
	if o.StartedAt.IsZero() || o.EndedAt.IsZero() {
		return 0
	}
	return o.EndedAt.Sub(o.StartedAt).Milliseconds()
}

// Run is the aggregate root for one orchestration request. All mutation
// goes through its methods under the internal mutex; readers take
// snapshots, never the live maps.
type Run struct {
	mu sync.Mutex

	id         string
	testTarget string
	devices    []device.Target
	status     Status
	startedAt  time.Time
	endedAt    time.Time
	outcomes   map[string]*DeviceOutcome

	stopRequested bool
	completed     int
	finalized     bool
}

// New creates a run in status running with one pending outcome per device.
func New(id, testTarget string, devices []device.Target) *Run {
	r := &Run{
		id:         id,
		testTarget: testTarget,
		devices:    append([]device.Target(nil), devices...),
		status:     StatusRunning,
		startedAt:  time.Now(),
		outcomes:   make(map[string]*DeviceOutcome, len(devices)),
	}
	for _, d := range devices {
		r.outcomes[d.ID] = &DeviceOutcome{Device: d, Status: launcher.StatusPending}
	}
	return r
}

func (r *Run) ID() string { return r.id }

// Devices returns the requested targets in request order.
func (r *Run) Devices() []device.Target {
	return append([]device.Target(nil), r.devices...)
}

// MarkDeviceRunning transitions one device's outcome pending -> running.
func (r *Run) MarkDeviceRunning(deviceID string, at time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o := r.outcomes[deviceID]
	if o == nil || o.Status != launcher.StatusPending {
		return
	}
	o.Status = launcher.StatusRunning
	o.StartedAt = at
}

// AppendOutput records one output line for a device.
func (r *Run) AppendOutput(deviceID string, stream launcher.Stream, text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o := r.outcomes[deviceID]
	if o == nil {
		return
	}
	o.Output = append(o.Output, OutputLine{Stream: stream, Text: text, At: time.Now()})
}

// CompleteDevice records a device's terminal result and reports whether
// every device is now terminal. Later calls for the same device are ignored
// so a terminal outcome can never regress.
func (r *Run) CompleteDevice(deviceID string, res launcher.Result) (allDone bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o := r.outcomes[deviceID]
	if o == nil || o.Status.Terminal() {
		return false
	}
	o.Status = res.Status
	if o.StartedAt.IsZero() {
		o.StartedAt = res.StartedAt
	}
	o.EndedAt = res.EndedAt
	if res.ExitCode >= 0 {
		code := res.ExitCode
		o.ExitCode = &code
	}
	if res.Err != nil {
		o.Error = res.Err.Error()
	}
	r.completed++
	return r.completed == len(r.devices)
}

// RequestStop marks the run as cancelled. Returns false if the run was
// already stopping or finished.
func (r *Run) RequestStop() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopRequested || r.status.Terminal() {
		return false
	}
	r.stopRequested = true
	return true
}

// StopRequested reports whether cancellation has been requested.
func (r *Run) StopRequested() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stopRequested
}

// Finalize derives and records the terminal status once every outcome is
// terminal. It is idempotent: exactly one caller observes ok=true even when
// device completions race.
func (r *Run) Finalize() (status Status, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.finalized || r.completed != len(r.devices) {
		return r.status, false
	}
	r.finalized = true
	r.endedAt = time.Now()
	r.status = r.deriveStatusLocked()
	return r.status, true
}

// Stopped wins over failed, failed wins over passed.
func (r *Run) deriveStatusLocked() Status {
	if r.stopRequested {
		return StatusStopped
	}
	for _, o := range r.outcomes {
		if o.Status != launcher.StatusPassed {
			return StatusFailed
		}
	}
	return StatusPassed
}

// Finalized reports whether Finalize has run.
func (r *Run) Finalized() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.finalized
}

func (r *Run) Status() Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.status
}
