package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/loykin/fleetrun"
	"github.com/loykin/fleetrun/internal/env"
	"github.com/loykin/fleetrun/internal/launcher"
	"github.com/loykin/fleetrun/internal/logger"
	"github.com/loykin/fleetrun/internal/registry"
	"github.com/loykin/fleetrun/internal/run"
	"github.com/loykin/fleetrun/pkg/client"
)

// command bundles the CLI business logic so cobra wiring stays declarative.
type command struct{}

func newClient(apiURL string, timeout time.Duration) *client.Client {
	cfg := client.DefaultConfig()
	if apiURL != "" {
		cfg.BaseURL = apiURL
	}
	if timeout > 0 {
		cfg.Timeout = timeout
	}
	return client.New(cfg)
}

// Run executes one test target across the selected devices and waits for
// the aggregate verdict. A non-passed verdict is returned as an error so
// the process exit code reflects it.
func (command) Run(flags RunFlags, testTarget string) error {
	if flags.APIUrl != "" {
		return runRemote(flags, testTarget)
	}
	return runLocal(flags, testTarget)
}

func runLocal(flags RunFlags, testTarget string) error {
	if flags.ConfigPath == "" {
		return fmt.Errorf("config file with a device inventory is required (use --config)")
	}
	cfg, err := fleetrun.LoadConfig(flags.ConfigPath)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}
	devices, err := fleetrun.NewDeviceRegistry(cfg.Devices)
	if err != nil {
		return err
	}
	targets, err := selectDevices(devices, flags)
	if err != nil {
		return err
	}

	overlay := env.New()
	if flags.UseOSEnv || cfg.UseOSEnv {
		overlay.FromOS()
	}
	cfg.EnvFiles = append(cfg.EnvFiles, flags.EnvFiles...)
	global, err := cfg.GlobalEnv()
	if err != nil {
		return err
	}
	overlay.SetAll(global)
	overlay.SetAll(flags.EnvKVs)

	level := slogLevel(flags.Verbose)
	lg := logger.New(os.Stderr, level)

	grace := flags.Grace
	if grace <= 0 {
		grace = cfg.GracePeriod
	}
	maxConcurrent := flags.Max
	if maxConcurrent == 0 {
		maxConcurrent = cfg.MaxConcurrent
	}

	engine := fleetrun.NewWithConfig(fleetrun.EngineConfig{
		Registry:      registry.New(cfg.Retention),
		Launcher:      &launcher.Launcher{Grace: grace, Logger: lg},
		MaxConcurrent: maxConcurrent,
		Overlay:       overlay,
		Capture:       cfg.Capture,
		Logger:        lg,
	})
	if flags.Verbose {
		engine.Subscribe(run.SinkFunc(printEvent))
	}

	runID, err := engine.Start(fleetrun.StartRequest{
		TestTarget: testTarget,
		WorkDir:    flags.WorkDir,
		Devices:    targets,
		Options: fleetrun.Options{
			Args:         flags.Args,
			APIMode:      flags.APIMode,
			MockScenario: flags.Scenario,
		},
	})
	if err != nil {
		return err
	}
	fmt.Printf("run %s started on %d device(s)\n", runID, len(targets))

	// First signal requests a graceful stop; the run still finalizes
	// through the normal path so partial results are reported.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("stop requested, waiting for devices to settle...")
		_ = engine.Stop(runID)
		signal.Stop(sigCh)
	}()

	summary, err := engine.WaitRun(context.Background(), runID)
	if err != nil {
		return err
	}
	printSummary(summary)
	if summary.Status != run.StatusPassed {
		return fmt.Errorf("run %s: %s", summary.ID, summary.Status)
	}
	return nil
}

func runRemote(flags RunFlags, testTarget string) error {
	cl := newClient(flags.APIUrl, flags.APITimeout)
	ctx := context.Background()

	runID, err := cl.StartRun(ctx, testTarget, flags.DeviceIDs, fleetrun.Options{
		MaxConcurrent: flags.Max,
		Args:          flags.Args,
		Env:           flags.EnvKVs,
		APIMode:       flags.APIMode,
		MockScenario:  flags.Scenario,
	})
	if err != nil {
		return err
	}
	fmt.Printf("run %s started on daemon %s\n", runID, flags.APIUrl)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("stop requested...")
		_, _ = cl.StopRun(context.Background(), runID)
		signal.Stop(sigCh)
	}()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for range ticker.C {
		detail, err := cl.GetRun(ctx, runID)
		if err != nil {
			return err
		}
		if detail.Status.Terminal() {
			printSummary(detail.Summary)
			if detail.Status != run.StatusPassed {
				return fmt.Errorf("run %s: %s", detail.ID, detail.Status)
			}
			return nil
		}
	}
	return nil
}

// Runs prints all runs known to the daemon, most recent first.
func (command) Runs(flags RunsFlags) error {
	cl := newClient(flags.APIUrl, flags.APITimeout)
	runs, err := cl.ListRuns(context.Background())
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("no runs")
		return nil
	}
	fmt.Printf("%-38s %-9s %-8s %s\n", "RUN", "STATUS", "DEVICES", "TARGET")
	for _, s := range runs {
		fmt.Printf("%-38s %-9s %-8d %s\n", s.ID, s.Status, len(s.Devices), s.TestTarget)
	}
	return nil
}

// Status prints one run's per-device outcomes, optionally with output.
func (command) Status(flags StatusFlags) error {
	cl := newClient(flags.APIUrl, flags.APITimeout)
	detail, err := cl.GetRun(context.Background(), flags.RunID)
	if err != nil {
		return err
	}
	printSummary(detail.Summary)
	if flags.Output {
		ids := make([]string, 0, len(detail.Output))
		for id := range detail.Output {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			fmt.Printf("\n--- %s ---\n", id)
			for _, line := range detail.Output[id] {
				fmt.Printf("[%s] %s\n", line.Stream, line.Text)
			}
		}
	}
	return nil
}

// Stop requests cancellation of an in-flight run.
func (command) Stop(flags StopFlags) error {
	cl := newClient(flags.APIUrl, flags.APITimeout)
	s, err := cl.StopRun(context.Background(), flags.RunID)
	if err != nil {
		return err
	}
	fmt.Printf("run %s: %s\n", s.ID, s.Status)
	return nil
}

// Devices prints the device inventory, from the daemon when --api-url is
// set, otherwise from the local config file.
func (command) Devices(flags DevicesFlags) error {
	var targets []fleetrun.Target
	if flags.APIUrl != "" {
		cl := newClient(flags.APIUrl, flags.APITimeout)
		ds, err := cl.Devices(context.Background())
		if err != nil {
			return err
		}
		targets = ds
	} else {
		if flags.ConfigPath == "" {
			return fmt.Errorf("either --config or --api-url is required")
		}
		cfg, err := fleetrun.LoadConfig(flags.ConfigPath)
		if err != nil {
			return err
		}
		targets = cfg.Devices
	}
	if len(targets) == 0 {
		fmt.Println("no devices")
		return nil
	}
	fmt.Printf("%-28s %-9s %-7s %s\n", "DEVICE", "PLATFORM", "ORIGIN", "PROVIDER")
	for _, t := range targets {
		fmt.Printf("%-28s %-9s %-7s %s\n", t.ID, t.Platform, t.Origin, t.Provider)
	}
	return nil
}

// Tests prints the discovered test files, from the daemon when --api-url is
// set, otherwise by walking the config's tests_dir.
func (command) Tests(flags TestsFlags) error {
	var tests []fleetrun.TestFile
	if flags.APIUrl != "" {
		cl := newClient(flags.APIUrl, flags.APITimeout)
		ts, err := cl.Tests(context.Background())
		if err != nil {
			return err
		}
		tests = ts
	} else {
		if flags.ConfigPath == "" {
			return fmt.Errorf("either --config or --api-url is required")
		}
		cfg, err := fleetrun.LoadConfig(flags.ConfigPath)
		if err != nil {
			return err
		}
		tests, err = fleetrun.DiscoverTests(cfg.TestsDir)
		if err != nil {
			return err
		}
	}
	if len(tests) == 0 {
		fmt.Println("no tests")
		return nil
	}
	fmt.Printf("%-28s %-10s %s\n", "NAME", "PLATFORM", "PATH")
	for _, ts := range tests {
		fmt.Printf("%-28s %-10s %s\n", ts.Name, ts.Platform, ts.Path)
	}
	return nil
}

// selectDevices resolves the run's device set from the inventory. Explicit
// IDs win over the selection shorthands.
func selectDevices(reg *fleetrun.DeviceRegistry, flags RunFlags) ([]fleetrun.Target, error) {
	if len(flags.DeviceIDs) > 0 {
		out := make([]fleetrun.Target, 0, len(flags.DeviceIDs))
		for _, id := range flags.DeviceIDs {
			t, err := reg.Resolve(id)
			if err != nil {
				return nil, err
			}
			out = append(out, t)
		}
		return out, nil
	}
	switch {
	case flags.Cloud:
		ts := reg.Cloud(flags.Provider)
		if len(ts) == 0 {
			return nil, fmt.Errorf("no cloud devices in inventory")
		}
		return ts, nil
	case flags.Hybrid > 0:
		return reg.Hybrid(flags.Hybrid), nil
	case flags.AllLocal:
		ts := reg.Local()
		if len(ts) == 0 {
			return nil, fmt.Errorf("no local devices in inventory")
		}
		return ts, nil
	}
	return nil, fmt.Errorf("no devices selected: use --device, --all-local, --cloud or --hybrid")
}

func printSummary(s fleetrun.Summary) {
	fmt.Printf("\nrun %s  target=%s  status=%s  duration=%dms\n", s.ID, s.TestTarget, s.Status, s.DurationMs)
	fmt.Printf("%-28s %-9s %-10s %s\n", "DEVICE", "STATUS", "DURATION", "ERROR")
	for _, o := range s.Devices {
		errMsg := o.Error
		if errMsg == "" {
			errMsg = "-"
		}
		fmt.Printf("%-28s %-9s %-10s %s\n", o.DeviceID, o.Status, fmt.Sprintf("%dms", o.DurationMs), errMsg)
	}
}

func printEvent(e fleetrun.Event) {
	switch e.Type {
	case run.EventOutput:
		fmt.Printf("[%s/%s] %s\n", e.DeviceID, e.Stream, e.Text)
	case run.EventDeviceCompleted:
		fmt.Printf("[%s] completed: %s (%dms)\n", e.DeviceID, e.Status, e.DurationMs)
	}
}
