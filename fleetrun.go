package fleetrun

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/loykin/fleetrun/internal/catalog"
	cfg "github.com/loykin/fleetrun/internal/config"
	"github.com/loykin/fleetrun/internal/device"
	"github.com/loykin/fleetrun/internal/history"
	"github.com/loykin/fleetrun/internal/history/factory"
	"github.com/loykin/fleetrun/internal/metrics"
	"github.com/loykin/fleetrun/internal/orchestrator"
	"github.com/loykin/fleetrun/internal/run"
	iapi "github.com/loykin/fleetrun/internal/server"
	"github.com/prometheus/client_golang/prometheus"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Target = device.Target

type Platform = device.Platform

type Origin = device.Origin

type DeviceRegistry = device.Registry

type TestFile = catalog.Test

type Options = orchestrator.Options

type StartRequest = orchestrator.StartRequest

type Summary = run.Summary

type Detail = run.Detail

type Event = run.Event

type EventType = run.EventType

// Event types emitted over an EventSink, re-exported so embedders can
// switch on them without reaching into internal packages.
const (
	EventStarted         = run.EventStarted
	EventOutput          = run.EventOutput
	EventDeviceCompleted = run.EventDeviceCompleted
	EventCompleted       = run.EventCompleted
	EventStopped         = run.EventStopped
)

type EventSink = run.Sink

// SinkFunc adapts a plain function into an EventSink.
type SinkFunc = run.SinkFunc

type HistorySink = history.Sink

type Hub = iapi.Hub

// EngineConfig wires an Engine's collaborators. The zero value works.
type EngineConfig = orchestrator.Config

// Engine is a thin facade over internal/orchestrator.Orchestrator.
// It provides a stable public API for embedding.

type Engine struct{ inner *orchestrator.Orchestrator }

func New() *Engine { return NewWithConfig(EngineConfig{}) }

func NewWithConfig(c EngineConfig) *Engine {
	return &Engine{inner: orchestrator.New(c)}
}

func (e *Engine) Start(req StartRequest) (string, error) { return e.inner.Start(req) }
func (e *Engine) Stop(runID string) error                { return e.inner.Stop(runID) }
func (e *Engine) Subscribe(s EventSink)                  { e.inner.Subscribe(s) }
func (e *Engine) WaitRun(ctx context.Context, runID string) (Summary, error) {
	return e.inner.WaitRun(ctx, runID)
}
func (e *Engine) Shutdown(ctx context.Context) error { return e.inner.Shutdown(ctx) }

func (e *Engine) Runs() []Summary { return e.inner.Registry().List() }

func (e *Engine) Run(runID string) (Detail, error) {
	rn, err := e.inner.Registry().Get(runID)
	if err != nil {
		return Detail{}, err
	}
	return rn.Detail(), nil
}

func NewDeviceRegistry(targets []Target) (*DeviceRegistry, error) {
	return device.NewRegistry(targets)
}

func NewHub(logger *slog.Logger) *Hub { return iapi.NewHub(logger) }

// NewHistorySink builds a run-history sink from a DSN
// (sqlite path, postgres://, clickhouse:// or opensearch://).
func NewHistorySink(dsn string) (HistorySink, error) { return factory.NewSinkFromDSN(dsn) }

func LoadConfig(path string) (*cfg.FileConfig, error) { return cfg.Load(path) }

// NewHTTPServer builds an HTTP server exposing the REST and websocket API
// for the given engine. testsDir backs GET /tests; empty serves an empty
// catalog.
func NewHTTPServer(addr, basePath string, e *Engine, devices *DeviceRegistry, hub *Hub, testsDir string) *http.Server {
	r := iapi.NewRouter(e.inner, devices, hub, basePath)
	r.TestsDir = testsDir
	return iapi.NewServer(addr, r.Handler())
}

// DiscoverTests walks testsDir and returns the runnable test files found,
// the same catalog the daemon serves on GET /tests.
func DiscoverTests(testsDir string) ([]TestFile, error) {
	return catalog.Discover(testsDir)
}

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }

// ServeMetrics starts an HTTP server on addr exposing /metrics using the
// default registry. It runs in the caller goroutine.
func ServeMetrics(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv.ListenAndServe()
}
