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

	daemonStarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "peerviser",
			Subsystem: "daemon",
			Name:      "starts_total",
			Help:      "Number of daemon starts reaching Running, by ownership mode.",
		}, []string{"daemon", "mode"},
	)
	daemonStops = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "peerviser",
			Subsystem: "daemon",
			Name:      "stops_total",
			Help:      "Number of daemon stops reaching Stopped.",
		}, []string{"daemon"},
	)
	startDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "peerviser",
			Subsystem: "daemon",
			Name:      "start_duration_seconds",
			Help:      "Time from start request to the daemon answering its readiness probe.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"daemon"},
	)
	stateTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "peerviser",
			Subsystem: "daemon",
			Name:      "state_transitions_total",
			Help:      "Number of supervisor state transitions.",
		}, []string{"daemon", "from", "to"},
	)
	currentStates = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "peerviser",
			Subsystem: "daemon",
			Name:      "current_state",
			Help:      "Current supervisor state per daemon (1 = active state, 0 = inactive).",
		}, []string{"daemon", "state"},
	)
	healthChecks = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "peerviser",
			Subsystem: "daemon",
			Name:      "health_checks_total",
			Help:      "Number of periodic health probes by result.",
		}, []string{"daemon", "result"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{daemonStarts, daemonStops, startDuration, stateTransitions, currentStates, healthChecks}
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

// Handler returns an http.Handler that serves Prometheus metrics for the DefaultGatherer.
// The caller is responsible for starting an HTTP server and wiring the route.
func Handler() http.Handler { return promhttp.Handler() }

// Below are lightweight helpers used by internal packages to record metrics.
// They no-op if Register hasn't been called.

func IncStart(daemon, mode string) {
	if regOK.Load() {
		daemonStarts.WithLabelValues(daemon, mode).Inc()
	}
}

func IncStop(daemon string) {
	if regOK.Load() {
		daemonStops.WithLabelValues(daemon).Inc()
	}
}

func ObserveStartDuration(daemon string, seconds float64) {
	if regOK.Load() {
		startDuration.WithLabelValues(daemon).Observe(seconds)
	}
}

func RecordStateTransition(daemon, from, to string) {
	if regOK.Load() {
		stateTransitions.WithLabelValues(daemon, from, to).Inc()
	}
}

func SetCurrentState(daemon, state string, active bool) {
	if regOK.Load() {
		var value float64
		if active {
			value = 1
		}
		currentStates.WithLabelValues(daemon, state).Set(value)
	}
}

func IncHealthCheck(daemon string, healthy bool) {
	if regOK.Load() {
		result := "ok"
		if !healthy {
			result = "fail"
		}
		healthChecks.WithLabelValues(daemon, result).Inc()
	}
}
