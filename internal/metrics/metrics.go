package metrics

import (
	"errors"
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Package-level Prometheus collectors. They are registered via Register.
var (
	regOK atomic.Bool

	runsStarted = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "fleetrun",
			Subsystem: "run",
			Name:      "started_total",
			Help:      "Number of orchestration runs started.",
		},
	)
	runsCompleted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fleetrun",
			Subsystem: "run",
			Name:      "completed_total",
			Help:      "Number of orchestration runs finalized, by aggregate status.",
		}, []string{"status"},
	)
	deviceOutcomes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fleetrun",
			Subsystem: "device",
			Name:      "outcomes_total",
			Help:      "Number of per-device launches reaching a terminal state, by outcome.",
		}, []string{"status", "platform"},
	)
	runningDevices = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "fleetrun",
			Subsystem: "device",
			Name:      "running",
			Help:      "Device launches currently executing across all runs.",
		},
	)
	runDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "fleetrun",
			Subsystem: "run",
			Name:      "duration_seconds",
			Help:      "Wall time of finalized runs.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}, []string{"status"},
	)
	deviceDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "fleetrun",
			Subsystem: "device",
			Name:      "duration_seconds",
			Help:      "Wall time of per-device launches.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}, []string{"status", "platform"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{runsStarted, runsCompleted, deviceOutcomes, runningDevices, runDuration, deviceDuration}
	for _, c := range cs {
		if err := r.Register(c); err != nil {
			// If already registered, ignore (allows double Register with default registry)
			var are prometheus.AlreadyRegisteredError
			if errors.As(err, &are) {
				continue
			}
			return err
		}
	}
	regOK.Store(true)
	return nil
}

// Handler returns an http.Handler serving metrics for the DefaultGatherer.
// The caller wires the route.
func Handler() http.Handler { return promhttp.Handler() }

// Lightweight helpers used by internal packages. They no-op until Register
// has been called.

func IncRunStarted() {
	if regOK.Load() {
		runsStarted.Inc()
	}
}

func IncRunCompleted(status string, seconds float64) {
	if regOK.Load() {
		runsCompleted.WithLabelValues(status).Inc()
		runDuration.WithLabelValues(status).Observe(seconds)
	}
}

func IncDeviceOutcome(status, platform string, seconds float64) {
	if regOK.Load() {
		deviceOutcomes.WithLabelValues(status, platform).Inc()
		deviceDuration.WithLabelValues(status, platform).Observe(seconds)
	}
}

func DeviceStarted() {
	if regOK.Load() {
		runningDevices.Inc()
	}
}

func DeviceFinished() {
	if regOK.Load() {
		runningDevices.Dec()
	}
}
