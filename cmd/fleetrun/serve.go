package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/loykin/fleetrun"
	"github.com/loykin/fleetrun/internal/env"
	"github.com/loykin/fleetrun/internal/launcher"
	"github.com/loykin/fleetrun/internal/logger"
	"github.com/loykin/fleetrun/internal/registry"
)

// createServeCommand creates the serve subcommand
func createServeCommand(flags *ServeFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve [config.toml]",
		Short: "Start the fleetrun daemon",
		Long: `Start the fleetrun daemon serving the REST and websocket API.
All configuration is loaded from a TOML config file.

Examples:
  fleetrun serve --config=fleetrun.toml
  fleetrun serve fleetrun.toml`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServeCommand(flags, args)
		},
	}
	cmd.Flags().StringVar(&flags.ConfigPath, "config", "", "path to TOML config file")
	return cmd
}

func runServeCommand(flags *ServeFlags, args []string) error {
	configPath := flags.ConfigPath
	if len(args) > 0 {
		configPath = args[0]
	}
	if configPath == "" {
		return fmt.Errorf("config file required for serve command. Use --config=fleetrun.toml or provide as argument")
	}

	cfg, err := fleetrun.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("error loading config: %w", err)
	}

	lg := logger.New(os.Stderr, slogLevel(false))

	devices, err := fleetrun.NewDeviceRegistry(cfg.Devices)
	if err != nil {
		return err
	}

	overlay := env.New()
	if cfg.UseOSEnv {
		overlay.FromOS()
	}
	global, err := cfg.GlobalEnv()
	if err != nil {
		return err
	}
	overlay.SetAll(global)

	var history []fleetrun.HistorySink
	if cfg.History.Enabled {
		for _, dsn := range cfg.History.DSNs {
			sink, err := fleetrun.NewHistorySink(dsn)
			if err != nil {
				return fmt.Errorf("history sink %q: %w", dsn, err)
			}
			history = append(history, sink)
		}
	}

	if err := fleetrun.RegisterMetricsDefault(); err != nil {
		fmt.Printf("Warning: failed to register metrics: %v\n", err)
	}

	hub := fleetrun.NewHub(lg)
	engine := fleetrun.NewWithConfig(fleetrun.EngineConfig{
		Registry:      registry.New(cfg.Retention),
		Launcher:      &launcher.Launcher{Grace: cfg.GracePeriod, Logger: lg},
		MaxConcurrent: cfg.MaxConcurrent,
		Overlay:       overlay,
		Capture:       cfg.Capture,
		Sinks:         []fleetrun.EventSink{hub},
		History:       history,
		Logger:        lg,
	})

	server := fleetrun.NewHTTPServer(cfg.Listen, "/api", engine, devices, hub, cfg.TestsDir)
	fmt.Printf("Starting fleetrun server on %s/api\n", cfg.Listen)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	fmt.Println("Shutting down...")
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_ = server.Shutdown(ctx)
	return engine.Shutdown(ctx)
}
