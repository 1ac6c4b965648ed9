// Package cpueff measures how much CPU a running process uses relative to wall time.
//
// The package is a thin facade over the internal locator, sampler and monitor
// packages so other programs can embed measurements without the CLI.
package cpueff

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/loykin/cpueff/internal/efficiency"
	"github.com/loykin/cpueff/internal/locator"
	"github.com/loykin/cpueff/internal/metrics"
	"github.com/loykin/cpueff/internal/monitor"
	"github.com/loykin/cpueff/internal/sampler"
	"github.com/prometheus/client_golang/prometheus"
)

type (
	Report   = monitor.Report
	Outcome  = monitor.Outcome
	Summary  = monitor.Summary
	Sink     = monitor.Sink
	Metrics  = efficiency.Metrics
	Handle   = locator.Handle
	Provider = locator.Provider
)

var (
	ErrNoMatchingProcess = locator.ErrNoMatchingProcess
	ErrAmbiguousMatch    = locator.ErrAmbiguousMatch
	ErrPidNotFound       = locator.ErrPidNotFound
	ErrProcessGone       = locator.ErrProcessGone
)

// Meter resolves processes and measures them.
type Meter struct {
	loc     *locator.Locator
	policy  locator.Policy
	logger  *slog.Logger
	clock   func() time.Time
	sampler *sampler.Sampler
}

// Option customizes a Meter.
type Option func(*Meter)

// WithLogger sets the logger used for warnings and lifecycle messages.
func WithLogger(l *slog.Logger) Option { return func(m *Meter) { m.logger = l } }

// WithStrict makes an ambiguous name without a pid an error instead of picking
// the first candidate.
func WithStrict() Option { return func(m *Meter) { m.policy = locator.Strict } }

// WithClock replaces time.Now and the interval wait. Both must advance together.
func WithClock(now func() time.Time, wait func(ctx context.Context, d time.Duration) error) Option {
	return func(m *Meter) {
		m.clock = now
		m.sampler = sampler.New(sampler.WithClock(now), sampler.WithWait(wait))
	}
}

// NewMeter creates a Meter. A nil provider uses gopsutil.
func NewMeter(p Provider, opts ...Option) *Meter {
	if p == nil {
		p = locator.NewGopsutilProvider()
	}
	m := &Meter{policy: locator.FirstMatch, logger: slog.Default(), clock: time.Now}
	for _, o := range opts {
		o(m)
	}
	if m.sampler == nil {
		m.sampler = sampler.New()
	}
	m.loc = locator.New(p, m.logger)
	return m
}

// Resolve finds the process named name. A non-zero pid picks among same-named
// candidates; an empty name resolves the pid directly.
func (m *Meter) Resolve(ctx context.Context, name string, pid int32) (Handle, error) {
	if name == "" {
		return m.loc.Lookup(ctx, pid)
	}
	handles, err := m.loc.Find(ctx, name)
	if err != nil {
		return nil, err
	}
	return m.loc.Select(handles, pid, m.policy)
}

// Measure samples one interval of the named process.
func (m *Meter) Measure(ctx context.Context, name string, pid int32, interval time.Duration, sinks ...Sink) (Report, error) {
	h, err := m.Resolve(ctx, name, pid)
	if err != nil {
		return Report{}, err
	}
	r, out := m.monitor(interval, 0).Measure(ctx, h, sinks...)
	if out.Err != nil {
		return Report{}, out.Err
	}
	if out.Reason == monitor.ReasonCancelled {
		return Report{}, ctx.Err()
	}
	return r, nil
}

// Watch reports every interval until the process exits, duration elapses
// (0 means unbounded) or ctx is cancelled. Sinks are closed before it returns.
func (m *Meter) Watch(ctx context.Context, h Handle, interval, duration time.Duration, sinks ...Sink) Outcome {
	return m.monitor(interval, duration).Run(ctx, h, sinks...)
}

func (m *Meter) monitor(interval, duration time.Duration) *monitor.Monitor {
	return monitor.New(m.sampler, monitor.Options{
		Interval: interval,
		Duration: duration,
		Logger:   m.logger,
		Clock:    m.clock,
	})
}

// Measure samples one interval of the first process named name.
func Measure(ctx context.Context, name string, interval time.Duration) (Report, error) {
	return NewMeter(nil).Measure(ctx, name, 0, interval)
}

// Metrics helpers

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }

// MetricsSink publishes every report as Prometheus gauges. Call RegisterMetrics first.
func MetricsSink() Sink { return metrics.NewSink() }

func MetricsHandler() http.Handler { return metrics.Handler() }
