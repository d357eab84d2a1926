// Package orchestrator drives one test target across many devices in
// parallel, bounded by a concurrency gate, and aggregates the results.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/loykin/fleetrun/internal/device"
	"github.com/loykin/fleetrun/internal/env"
	"github.com/loykin/fleetrun/internal/gate"
	"github.com/loykin/fleetrun/internal/history"
	"github.com/loykin/fleetrun/internal/launcher"
	"github.com/loykin/fleetrun/internal/logger"
	"github.com/loykin/fleetrun/internal/metrics"
	"github.com/loykin/fleetrun/internal/registry"
	"github.com/loykin/fleetrun/internal/run"
)

// Validation errors surfaced synchronously by Start. No run is created when
// any of these fire.
var (
	ErrNoDevices       = errors.New("no devices requested")
	ErrDuplicateDevice = errors.New("duplicate device in request")
)

// Options tune one run. The zero value is usable.
type Options struct {
	// MaxConcurrent overrides the orchestrator's default gate for this run.
	// 0 uses the default; a shared default gate also bounds devices across
	// concurrent runs. 1 degrades to fully sequential execution.
	MaxConcurrent int `json:"max_concurrent,omitempty"`
	// Args are appended to the test invocation for every device.
	Args []string `json:"args,omitempty"`
	// Env holds opaque K=V entries forwarded verbatim to every spawned
	// test process (mock-server flags and the like).
	Env []string `json:"env,omitempty"`
	// APIMode and MockScenario are conveniences for the harness's standard
	// knobs; they become API_MODE and MOCK_SCENARIO in the child env.
	APIMode      string `json:"api_mode,omitempty"`
	MockScenario string `json:"mock_scenario,omitempty"`
}

// StartRequest describes one orchestration request with resolved devices.
type StartRequest struct {
	TestTarget string
	WorkDir    string
	Devices    []device.Target
	Options    Options
}

// Config wires an Orchestrator's collaborators.
type Config struct {
	Registry *registry.Registry
	Launcher *launcher.Launcher
	// MaxConcurrent bounds devices across all runs sharing this
	// orchestrator. 0 means unbounded.
	MaxConcurrent int
	Overlay       *env.Overlay
	Capture       logger.Config
	Sinks         []run.Sink
	History       []history.Sink
	Logger        *slog.Logger
}

// Orchestrator fans test launches out across devices and fans results back
// into the run registry. Per-device launches are independent; the only
// shared state is the gate's capacity and the run's outcome map, which is
// partitioned by device key.
type Orchestrator struct {
	reg      *registry.Registry
	launcher *launcher.Launcher
	gate     *gate.Gate
	overlay  *env.Overlay
	capture  logger.Config
	sinks    run.MultiSink
	history  []history.Sink
	logger   *slog.Logger

	mu     sync.Mutex
	active map[string]*runState
	wg     sync.WaitGroup
}

// runState is the orchestrator's bookkeeping for one in-flight run.
type runState struct {
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu      sync.Mutex
	handles map[string]*launcher.Handle
}

func (st *runState) setHandle(deviceID string, h *launcher.Handle) {
	st.mu.Lock()
	st.handles[deviceID] = h
	st.mu.Unlock()
}

func (st *runState) stopHandles() {
	st.mu.Lock()
	hs := make([]*launcher.Handle, 0, len(st.handles))
	for _, h := range st.handles {
		hs = append(hs, h)
	}
	st.mu.Unlock()
	for _, h := range hs {
		h.Stop()
	}
}

func New(cfg Config) *Orchestrator {
	lg := cfg.Logger
	if lg == nil {
		lg = slog.Default()
	}
	ov := cfg.Overlay
	if ov == nil {
		ov = env.New()
	}
	l := cfg.Launcher
	if l == nil {
		l = &launcher.Launcher{Logger: lg}
	}
	reg := cfg.Registry
	if reg == nil {
		reg = registry.New(0)
	}
	return &Orchestrator{
		reg:      reg,
		launcher: l,
		gate:     gate.New(cfg.MaxConcurrent),
		overlay:  ov,
		capture:  cfg.Capture,
		sinks:    run.MultiSink(cfg.Sinks),
		history:  cfg.History,
		logger:   lg,
		active:   make(map[string]*runState),
	}
}

// Registry exposes the run registry for query surfaces.
func (o *Orchestrator) Registry() *registry.Registry { return o.reg }

// Subscribe adds a live event sink. Must be called before Start.
func (o *Orchestrator) Subscribe(s run.Sink) { o.sinks = append(o.sinks, s) }

// Start validates the request, creates the run, and begins one launch
// sequence per device without blocking the caller. Progress is observed
// via events or registry polling; the returned ID is immediately usable.
func (o *Orchestrator) Start(req StartRequest) (string, error) {
	if len(req.Devices) == 0 {
		return "", ErrNoDevices
	}
	seen := make(map[string]struct{}, len(req.Devices))
	for _, d := range req.Devices {
		if _, dup := seen[d.ID]; dup {
			return "", fmt.Errorf("%w: %s", ErrDuplicateDevice, d.ID)
		}
		seen[d.ID] = struct{}{}
	}
	if err := (launcher.Invocation{Path: req.TestTarget}).Validate(); err != nil {
		return "", err
	}

	rn := run.New(uuid.NewString(), req.TestTarget, req.Devices)
	if err := o.reg.Create(rn); err != nil {
		return "", err
	}

	ctx, cancel := context.WithCancel(context.Background())
	st := &runState{
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
		handles: make(map[string]*launcher.Handle, len(req.Devices)),
	}
	o.mu.Lock()
	o.active[rn.ID()] = st
	o.mu.Unlock()

	g := o.gate
	if req.Options.MaxConcurrent > 0 {
		g = gate.New(req.Options.MaxConcurrent)
	}

	metrics.IncRunStarted()
	o.logger.Info("run started", "run", rn.ID(), "target", req.TestTarget, "devices", len(req.Devices))
	o.emit(run.Event{
		Type:       run.EventStarted,
		RunID:      rn.ID(),
		TestTarget: req.TestTarget,
		DeviceIDs:  deviceIDs(req.Devices),
		At:         time.Now(),
	})

	for _, d := range req.Devices {
		o.wg.Add(1)
		go o.runDevice(rn, st, g, req, d)
	}
	return rn.ID(), nil
}

// Stop requests cancellation of a run: queued devices are abandoned and
// every active launch receives a graceful stop that escalates after the
// grace period. Stop returns immediately; finalization happens through the
// normal completion path once every launch is terminal.
func (o *Orchestrator) Stop(runID string) error {
	rn, err := o.reg.Get(runID)
	if err != nil {
		return err
	}
	if !rn.RequestStop() {
		return nil
	}
	o.logger.Info("run stop requested", "run", runID)
	o.mu.Lock()
	st := o.active[runID]
	o.mu.Unlock()
	if st != nil {
		st.cancel()
		st.stopHandles()
	}
	return nil
}

// WaitRun blocks until the run finalizes or ctx is done.
func (o *Orchestrator) WaitRun(ctx context.Context, runID string) (run.Summary, error) {
	rn, err := o.reg.Get(runID)
	if err != nil {
		return run.Summary{}, err
	}
	o.mu.Lock()
	st := o.active[runID]
	o.mu.Unlock()
	if st == nil {
		// Already finalized.
		return rn.Summary(), nil
	}
	select {
	case <-ctx.Done():
		return rn.Summary(), ctx.Err()
	case <-st.done:
		return rn.Summary(), nil
	}
}

// Shutdown waits for all in-flight device launches to finish or ctx to
// expire. It does not stop runs; callers wanting a hard shutdown issue
// Stop per run first.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	doneCh := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(doneCh)
	}()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-doneCh:
		return nil
	}
}

// runDevice is the per-device launch sequence: acquire a slot, build the
// invocation, launch, wait, record. Failures here never propagate to
// sibling devices.
func (o *Orchestrator) runDevice(rn *run.Run, st *runState, g *gate.Gate, req StartRequest, d device.Target) {
	defer o.wg.Done()

	if err := g.Acquire(st.ctx); err != nil {
		// Run was stopped while this device waited for admission.
		now := time.Now()
		o.completeDevice(rn, st, d, launcher.Result{
			Status: launcher.StatusStopped, ExitCode: -1, StartedAt: now, EndedAt: now,
		})
		return
	}
	defer g.Release()

	if rn.StopRequested() {
		now := time.Now()
		o.completeDevice(rn, st, d, launcher.Result{
			Status: launcher.StatusStopped, ExitCode: -1, StartedAt: now, EndedAt: now,
		})
		return
	}

	capture := o.capture.Writer(filepath.Join(rn.ID(), d.ID))
	out := o.outputFunc(rn, d, capture)

	inv := o.buildInvocation(req, d)
	rn.MarkDeviceRunning(d.ID, time.Now())
	metrics.DeviceStarted()
	o.logger.Debug("device launch", "run", rn.ID(), "device", d.ID)

	h := o.launcher.Launch(inv, out)
	st.setHandle(d.ID, h)
	if rn.StopRequested() {
		// Stop raced with the launch; the handle map may have been
		// iterated before this entry existed.
		h.Stop()
	}

	res, _ := h.Wait(context.Background())
	metrics.DeviceFinished()
	metrics.IncDeviceOutcome(string(res.Status), string(d.Platform), res.Duration().Seconds())
	if capture != nil {
		_ = capture.Close()
	}
	o.completeDevice(rn, st, d, res)
}

// completeDevice records one terminal outcome and finalizes the run when it
// was the last one.
func (o *Orchestrator) completeDevice(rn *run.Run, st *runState, d device.Target, res launcher.Result) {
	allDone := rn.CompleteDevice(d.ID, res)
	o.logger.Info("device completed", "run", rn.ID(), "device", d.ID, "status", res.Status)
	o.emit(run.Event{
		Type:       run.EventDeviceCompleted,
		RunID:      rn.ID(),
		DeviceID:   d.ID,
		Status:     string(res.Status),
		DurationMs: res.Duration().Milliseconds(),
		At:         time.Now(),
	})
	if allDone {
		o.finalize(rn, st)
	}
}

// finalize runs exactly once per run: CompleteDevice reports allDone for a
// single caller and run.Finalize is idempotent besides.
func (o *Orchestrator) finalize(rn *run.Run, st *runState) {
	status, ok := rn.Finalize()
	if !ok {
		return
	}
	s := rn.Summary()
	metrics.IncRunCompleted(string(status), float64(s.DurationMs)/1000)
	o.logger.Info("run completed", "run", rn.ID(), "status", status, "duration_ms", s.DurationMs)

	o.emit(run.Event{
		Type:       run.EventCompleted,
		RunID:      rn.ID(),
		Status:     string(status),
		DurationMs: s.DurationMs,
		Devices:    s.Devices,
		At:         time.Now(),
	})
	if status == run.StatusStopped {
		o.emit(run.Event{Type: run.EventStopped, RunID: rn.ID(), At: time.Now()})
	}

	o.mu.Lock()
	delete(o.active, rn.ID())
	o.mu.Unlock()
	st.cancel()
	close(st.done)

	o.reg.Trim()
	o.export(s)
}

// export sends the finalized run to configured history sinks. Sink errors
// are logged, never fatal.
func (o *Orchestrator) export(s run.Summary) {
	if len(o.history) == 0 {
		return
	}
	evt := history.Event{OccurredAt: time.Now().UTC(), Record: history.FromSummary(s)}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		for _, sink := range o.history {
			if err := sink.Send(ctx, evt); err != nil {
				o.logger.Warn("history export failed", "run", s.ID, "error", err)
			}
		}
	}()
}

// outputFunc builds the per-device sink: append to the run record, emit a
// live event, and tee to the capture file when configured.
func (o *Orchestrator) outputFunc(rn *run.Run, d device.Target, capture io.WriteCloser) launcher.OutputFunc {
	return func(stream launcher.Stream, line string) {
		rn.AppendOutput(d.ID, stream, line)
		if capture != nil {
			_, _ = capture.Write([]byte(line + "\n"))
		}
		o.emit(run.Event{
			Type:     run.EventOutput,
			RunID:    rn.ID(),
			DeviceID: d.ID,
			Stream:   stream,
			Text:     line,
			At:       time.Now(),
		})
	}
}

// buildInvocation resolves the command and environment for one device. The
// environment layers are: OS base, harness globals, request env, then the
// device-selection entries, so the orchestrator's own keys always win.
func (o *Orchestrator) buildInvocation(req StartRequest, d device.Target) launcher.Invocation {
	per := append([]string(nil), req.Options.Env...)
	if req.Options.APIMode != "" {
		per = append(per, "API_MODE="+req.Options.APIMode)
	}
	if req.Options.MockScenario != "" {
		per = append(per, "MOCK_SCENARIO="+req.Options.MockScenario)
	}
	per = append(per,
		"DEVICE_UDID="+d.ID,
		"DEVICE_PLATFORM="+string(d.Platform),
		"DEVICE_ORIGIN="+string(d.Origin),
	)
	if d.Provider != "" {
		per = append(per, "DEVICE_PROVIDER="+d.Provider)
	}
	return launcher.Invocation{
		Path:    req.TestTarget,
		Args:    req.Options.Args,
		WorkDir: req.WorkDir,
		Env:     o.overlay.Merge(per),
	}
}

func (o *Orchestrator) emit(e run.Event) {
	if len(o.sinks) == 0 {
		return
	}
	o.sinks.Emit(e)
}

func deviceIDs(ds []device.Target) []string {
	out := make([]string, 0, len(ds))
	for _, d := range ds {
		out = append(out, d.ID)
	}
	return out
}
