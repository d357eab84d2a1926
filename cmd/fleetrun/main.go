package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"
)

func main() {
	root := buildRoot()
	if err := root.Execute(); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// buildRoot creates the root command and attaches all subcommands.
func buildRoot() *cobra.Command {
	runFlags := &RunFlags{}
	runsFlags := &RunsFlags{}
	statusFlags := &StatusFlags{}
	stopFlags := &StopFlags{}
	devicesFlags := &DevicesFlags{}
	testsFlags := &TestsFlags{}
	serveFlags := &ServeFlags{}

	fleetrunCommand := command{}

	root := createRootCommand()
	root.AddCommand(
		createRunCommand(fleetrunCommand, runFlags),
		createRunsCommand(fleetrunCommand, runsFlags),
		createStatusCommand(fleetrunCommand, statusFlags),
		createStopCommand(fleetrunCommand, stopFlags),
		createDevicesCommand(fleetrunCommand, devicesFlags),
		createTestsCommand(fleetrunCommand, testsFlags),
		createServeCommand(serveFlags),
	)
	return root
}

// createRootCommand creates the root command with minimal persistent flags
func createRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "fleetrun",
		Short: "Parallel mobile test orchestration tool",
		Long: `Fleetrun launches one mobile E2E test target across many devices in
parallel, bounded by a concurrency gate, and aggregates per-device verdicts.

Examples:
  fleetrun run ./e2e/run_tests.sh --config=fleetrun.toml --all-local
  fleetrun run ./e2e/run_tests.sh --device=emulator-5554 --device=emulator-5556 --max=2
  fleetrun serve --config=fleetrun.toml        # Start daemon
  fleetrun runs --api-url=http://host:8080/api # Inspect remote runs`,
		SilenceUsage: true,
	}
	return root
}

// createRunCommand creates the run subcommand
func createRunCommand(fleetrunCommand command, flags *RunFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <test-target>",
		Short: "Run a test target across devices and wait for the verdict",
		Long: `Run a test target on the selected devices. The command waits until
every device finishes and exits non-zero unless all devices passed.
Ctrl-C requests a graceful stop; partial results are still reported.

Examples:
  fleetrun run ./e2e/run_tests.sh --config=fleetrun.toml --all-local
  fleetrun run ./e2e/run_tests.sh --config=fleetrun.toml --cloud --provider=browserstack
  fleetrun run ./e2e/run_tests.sh --config=fleetrun.toml --hybrid=2 --api-mode=mock --scenario=payment_declined
  fleetrun run ./e2e/run_tests.sh --device=emulator-5554 --api-url=http://host:8080/api`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if flags.Sequential {
				flags.Max = 1
			}
			return fleetrunCommand.Run(*flags, args[0])
		},
	}

	cmd.Flags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config with the device inventory")
	cmd.Flags().StringVar(&flags.WorkDir, "work-dir", "", "working directory for the test process")
	cmd.Flags().StringArrayVar(&flags.DeviceIDs, "device", nil, "device id to run on (repeatable)")
	cmd.Flags().BoolVar(&flags.AllLocal, "all-local", false, "run on every local device in the inventory")
	cmd.Flags().BoolVar(&flags.Cloud, "cloud", false, "run on cloud devices")
	cmd.Flags().StringVar(&flags.Provider, "provider", "", "restrict --cloud to one provider")
	cmd.Flags().IntVar(&flags.Hybrid, "hybrid", 0, "run on all local devices plus N cloud devices")
	cmd.Flags().IntVar(&flags.Max, "max", 0, "max devices running concurrently (0 = unbounded)")
	cmd.Flags().BoolVar(&flags.Sequential, "sequential", false, "run devices one at a time (same as --max=1)")
	cmd.Flags().StringArrayVar(&flags.Args, "arg", nil, "extra argument for the test process (repeatable)")
	cmd.Flags().StringArrayVar(&flags.EnvKVs, "env", nil, "KEY=VALUE for the test process (repeatable)")
	cmd.Flags().StringArrayVar(&flags.EnvFiles, "env-file", nil, "file of KEY=VALUE lines (repeatable)")
	cmd.Flags().BoolVar(&flags.UseOSEnv, "use-os-env", false, "seed the test environment from the OS environment")
	cmd.Flags().StringVar(&flags.APIMode, "api-mode", "", "API_MODE for the test process (mock|proxy|real)")
	cmd.Flags().StringVar(&flags.Scenario, "scenario", "", "MOCK_SCENARIO for the test process")
	cmd.Flags().DurationVar(&flags.Grace, "grace", 0, "grace period between SIGTERM and SIGKILL on stop")
	cmd.Flags().BoolVarP(&flags.Verbose, "verbose", "v", false, "stream per-device output to stdout")
	cmd.Flags().StringVar(&flags.APIUrl, "api-url", "", "remote daemon URL (e.g. http://host:8080/api)")
	cmd.Flags().DurationVar(&flags.APITimeout, "api-timeout", 10*time.Second, "request timeout")

	return cmd
}

// createRunsCommand creates the runs subcommand
func createRunsCommand(fleetrunCommand command, flags *RunsFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List runs known to the daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			return fleetrunCommand.Runs(*flags)
		},
	}
	cmd.Flags().StringVar(&flags.APIUrl, "api-url", "", "remote daemon URL (e.g. http://host:8080/api)")
	cmd.Flags().DurationVar(&flags.APITimeout, "api-timeout", 10*time.Second, "request timeout")
	return cmd
}

// createStatusCommand creates the status subcommand
func createStatusCommand(fleetrunCommand command, flags *StatusFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status <run-id>",
		Short: "Show one run's per-device outcomes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			flags.RunID = args[0]
			return fleetrunCommand.Status(*flags)
		},
	}
	cmd.Flags().BoolVar(&flags.Output, "output", false, "include captured test output")
	cmd.Flags().StringVar(&flags.APIUrl, "api-url", "", "remote daemon URL (e.g. http://host:8080/api)")
	cmd.Flags().DurationVar(&flags.APITimeout, "api-timeout", 10*time.Second, "request timeout")
	return cmd
}

// createStopCommand creates the stop subcommand
func createStopCommand(fleetrunCommand command, flags *StopFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stop <run-id>",
		Short: "Request graceful cancellation of a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			flags.RunID = args[0]
			return fleetrunCommand.Stop(*flags)
		},
	}
	cmd.Flags().StringVar(&flags.APIUrl, "api-url", "", "remote daemon URL (e.g. http://host:8080/api)")
	cmd.Flags().DurationVar(&flags.APITimeout, "api-timeout", 10*time.Second, "request timeout")
	return cmd
}

// createDevicesCommand creates the devices subcommand
func createDevicesCommand(fleetrunCommand command, flags *DevicesFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "devices",
		Short: "List the device inventory",
		RunE: func(cmd *cobra.Command, args []string) error {
			return fleetrunCommand.Devices(*flags)
		},
	}
	cmd.Flags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config with the device inventory")
	cmd.Flags().StringVar(&flags.APIUrl, "api-url", "", "remote daemon URL (e.g. http://host:8080/api)")
	cmd.Flags().DurationVar(&flags.APITimeout, "api-timeout", 10*time.Second, "request timeout")
	return cmd
}

// createTestsCommand creates the tests subcommand
func createTestsCommand(fleetrunCommand command, flags *TestsFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tests",
		Short: "List discovered test files",
		Long: `List the test files found under the configured tests directory.
Files named test_* or *_test are reported with the platform inferred from
their first directory component.

Examples:
  fleetrun tests --config=fleetrun.toml
  fleetrun tests --api-url=http://host:8080/api`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return fleetrunCommand.Tests(*flags)
		},
	}
	cmd.Flags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config with tests_dir set")
	cmd.Flags().StringVar(&flags.APIUrl, "api-url", "", "remote daemon URL (e.g. http://host:8080/api)")
	cmd.Flags().DurationVar(&flags.APITimeout, "api-timeout", 10*time.Second, "request timeout")
	return cmd
}

func slogLevel(verbose bool) slog.Level {
	if verbose {
		return slog.LevelDebug
	}
	return slog.LevelInfo
}
