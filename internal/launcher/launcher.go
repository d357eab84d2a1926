package launcher

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"os/exec"
	"sync"
	"time"
)

// DefaultGracePeriod bounds how long a stop request waits for the child to
// exit before escalating to a forced kill.
const DefaultGracePeriod = 5 * time.Second

// Stream tags which pipe an output line arrived on.
type Stream string

const (
	StreamStdout Stream = "stdout"
	StreamStderr Stream = "stderr"
)

// OutputFunc receives captured output lines. Calls for a single stream
// arrive in the order the process produced them; the callback must not
// block, or it stalls the pump for that stream.
type OutputFunc func(stream Stream, line string)

// Launcher spawns test invocations as isolated child processes. The zero
// value is usable; Grace defaults to DefaultGracePeriod.
type Launcher struct {
	Grace  time.Duration
	Logger *slog.Logger
}

// Result is a point-in-time snapshot of a launch.
type Result struct {
	Status    Status
	ExitCode  int // -1 until the process has exited
	Err       error
	StartedAt time.Time
	EndedAt   time.Time
}

// Duration reports elapsed wall time, or time since start while running.
func (r Result) Duration() time.Duration {
	if r.EndedAt.IsZero() {
		return time.Since(r.StartedAt)
	}
	return r.EndedAt.Sub(r.StartedAt)
}

// Handle tracks one launch from attempt to terminal state.
type Handle struct {
	mu            sync.Mutex
	cmd           *exec.Cmd
	status        Status
	exitCode      int
	err           error
	startedAt     time.Time
	endedAt       time.Time
	stopRequested bool
	grace         time.Duration
	done          chan struct{}
}

// Launch starts the invocation and returns immediately with a cancellable
// handle. The handle is created in state running at the moment of the
// attempt; a spawn failure transitions it running -> errored with the spawn
// error recorded, so callers observe a uniform state machine whether or not
// the binary ever existed.
func (l *Launcher) Launch(inv Invocation, out OutputFunc) *Handle {
	grace := l.Grace
	if grace <= 0 {
		grace = DefaultGracePeriod
	}
	h := &Handle{
		status:    StatusRunning,
		exitCode:  -1,
		startedAt: time.Now(),
		grace:     grace,
		done:      make(chan struct{}),
	}

	cmd := inv.buildCmd()
	setProcessGroup(cmd)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		h.finish(StatusErrored, -1, err)
		return h
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		_ = stdout.Close()
		h.finish(StatusErrored, -1, err)
		return h
	}
	if err := cmd.Start(); err != nil {
		if l.Logger != nil {
			l.Logger.Error("launch failed", "path", inv.Path, "error", err)
		}
		_ = stdout.Close()
		_ = stderr.Close()
		h.finish(StatusErrored, -1, err)
		return h
	}
	h.mu.Lock()
	h.cmd = cmd
	h.mu.Unlock()

	var pumps sync.WaitGroup
	pumps.Add(2)
	go pump(StreamStdout, stdout, out, &pumps)
	go pump(StreamStderr, stderr, out, &pumps)

	go func() {
		// Drain both pipes before Wait so no output is lost to pipe closure.
		pumps.Wait()
		waitErr := cmd.Wait()

		code := -1
		if cmd.ProcessState != nil {
			code = cmd.ProcessState.ExitCode()
		}
		h.mu.Lock()
		stopped := h.stopRequested
		h.mu.Unlock()

		switch {
		case stopped:
			// A stop request overrides whatever exit the process reached.
			h.finish(StatusStopped, code, nil)
		case code == 0:
			h.finish(StatusPassed, 0, nil)
		default:
			h.finish(StatusFailed, code, waitErr)
		}
	}()
	return h
}

// pump forwards lines from one pipe to the sink until EOF.
func pump(stream Stream, r io.Reader, out OutputFunc, wg *sync.WaitGroup) {
	defer wg.Done()
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		if out != nil {
			out(stream, sc.Text())
		}
	}
}

func (h *Handle) finish(status Status, code int, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.status.Terminal() {
		return
	}
	h.status = status
	h.exitCode = code
	h.err = err
	h.endedAt = time.Now()
	close(h.done)
}

// Stop requests graceful termination. If the process has not exited within
// the grace period it is forcefully killed. Safe to call multiple times and
// after completion; the outcome of a stopped handle is always stopped.
func (h *Handle) Stop() {
	h.mu.Lock()
	if h.status.Terminal() || h.stopRequested {
		h.mu.Unlock()
		return
	}
	h.stopRequested = true
	cmd := h.cmd
	grace := h.grace
	h.mu.Unlock()

	if cmd == nil || cmd.Process == nil {
		return
	}
	pid := cmd.Process.Pid
	_ = terminateGroup(pid)
	go func() {
		select {
		case <-h.done:
		case <-time.After(grace):
			_ = killGroup(pid)
		}
	}()
}

// Wait blocks until the launch reaches a terminal state or ctx is done.
func (h *Handle) Wait(ctx context.Context) (Result, error) {
	select {
	case <-ctx.Done():
		return h.Snapshot(), ctx.Err()
	case <-h.done:
		return h.Snapshot(), nil
	}
}

// Done is closed when the launch reaches a terminal state.
func (h *Handle) Done() <-chan struct{} { return h.done }

// Snapshot returns the current state under lock.
func (h *Handle) Snapshot() Result {
	h.mu.Lock()
	defer h.mu.Unlock()
	return Result{
		Status:    h.status,
		ExitCode:  h.exitCode,
		Err:       h.err,
		StartedAt: h.startedAt,
		EndedAt:   h.endedAt,
	}
}
