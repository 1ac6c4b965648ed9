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

	cpuPercent = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "cpueff",
			Subsystem: "process",
			Name:      "cpu_percent",
			Help:      "CPU efficiency of the last window: (user+system) CPU seconds over wall seconds, in percent.",
		}, []string{"name", "pid"},
	)
	systemPercent = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "cpueff",
			Subsystem: "process",
			Name:      "system_percent",
			Help:      "Kernel-mode share of the last window, in percent.",
		}, []string{"name", "pid"},
	)
	userPercent = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "cpueff",
			Subsystem: "process",
			Name:      "user_percent",
			Help:      "User-mode share of the last window, in percent.",
		}, []string{"name", "pid"},
	)
	cpuSecondsDelta = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "cpueff",
			Subsystem: "process",
			Name:      "cpu_seconds_delta",
			Help:      "CPU seconds (user+system) consumed during the last window.",
		}, []string{"name", "pid"},
	)

	samples = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cpueff",
			Name:      "samples_total",
			Help:      "Number of reported sample windows.",
		}, []string{"name"},
	)
	inconsistentSamples = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cpueff",
			Name:      "inconsistent_samples_total",
			Help:      "Number of windows dropped because a CPU counter went backwards.",
		}, []string{"name"},
	)
	stateTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "cpueff",
			Name:      "state_transitions_total",
			Help:      "Number of run loop state transitions.",
		}, []string{"from", "to"},
	)
)

// Register registers all metrics with the provided registerer.
// It is safe to call multiple times; subsequent calls after success are no-ops.
func Register(r prometheus.Registerer) error {
	if regOK.Load() {
		return nil
	}
	cs := []prometheus.Collector{cpuPercent, systemPercent, userPercent, cpuSecondsDelta, samples, inconsistentSamples, stateTransitions}
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

// Below are lightweight helpers used by the run loop hooks.
// They no-op if Register hasn't been called.

func RecordStateTransition(from, to string) {
	if regOK.Load() {
		stateTransitions.WithLabelValues(from, to).Inc()
	}
}

func IncInconsistent(name string) {
	if regOK.Load() {
		inconsistentSamples.WithLabelValues(name).Inc()
	}
}
