package monitor

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/loykin/cpueff/internal/efficiency"
	"github.com/loykin/cpueff/internal/locator"
	"github.com/loykin/cpueff/internal/sampler"
)

// DefaultMaxPoints bounds the chart series kept by a session.
const DefaultMaxPoints = 3600

// Options configures a Monitor.
type Options struct {
	Interval time.Duration
	// Duration bounds a continuous run; 0 means unbounded. The bound is checked at
	// the start of each tick, so the last interval may run past it.
	Duration  time.Duration
	MaxPoints int
	Logger    *slog.Logger
	// Clock is used for session timing; it should match the sampler's clock.
	Clock func() time.Time
	// OnTransition observes every state change of the run loop.
	OnTransition func(from, to State)
	// OnInconsistent is called for every tick dropped because of a negative delta.
	OnInconsistent func(pid int32, err error)
}

// Outcome describes how a run ended.
type Outcome struct {
	Reason   Reason  `json:"reason"`
	Ticks    int     `json:"ticks"`
	Summary  Summary `json:"summary"`
	Err      error   `json:"-"`
	CloseErr error   `json:"-"`
}

// Monitor drives sampling, derivation and reporting for one process.
type Monitor struct {
	sampler *sampler.Sampler
	opts    Options
	logger  *slog.Logger
	now     func() time.Time
}

// New creates a Monitor. A zero Interval defaults to 5 seconds.
func New(s *sampler.Sampler, opts Options) *Monitor {
	if opts.Interval <= 0 {
		opts.Interval = 5 * time.Second
	}
	if opts.MaxPoints <= 0 {
		opts.MaxPoints = DefaultMaxPoints
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Clock
	if now == nil {
		now = time.Now
	}
	return &Monitor{sampler: s, opts: opts, logger: logger, now: now}
}

// Run monitors h until the process exits, the duration bound is reached or ctx is
// cancelled. Every sink is closed exactly once before Run returns.
func (m *Monitor) Run(ctx context.Context, h locator.Handle, sinks ...Sink) Outcome {
	sess := newSession(m.now(), sinks, 0)
	if sess.hasSeriesSink() {
		sess.maxPoints = m.opts.MaxPoints
	}
	m.logger.Info("Monitoring started",
		"name", h.Name(), "pid", h.PID(), "interval", m.opts.Interval, "duration", m.opts.Duration)

	m.transition(sess, StateSampling)
	for {
		if m.opts.Duration > 0 && m.now().Sub(sess.StartedAt) >= m.opts.Duration {
			return m.finish(sess, h, ReasonCompleted, nil)
		}

		var (
			w   sampler.Window
			err error
		)
		if sess.Prev == nil {
			w, err = m.sampler.SampleWindow(ctx, h, m.opts.Interval)
		} else {
			w, err = m.sampler.Next(ctx, h, *sess.Prev, m.opts.Interval)
		}
		if err != nil {
			return m.finish(sess, h, classify(ctx, err), err)
		}
		latest := w.T2
		sess.Prev = &latest

		metrics, err := efficiency.Derive(w)
		if err != nil {
			m.logger.Warn("Dropping inconsistent sample", "name", h.Name(), "pid", h.PID(), "error", err)
			if m.opts.OnInconsistent != nil {
				m.opts.OnInconsistent(h.PID(), err)
			}
			continue
		}

		m.transition(sess, StateReporting)
		sess.report(ctx, m.logger, m.newReport(sess, h, w, metrics))
		m.transition(sess, StateSampling)
	}
}

// Measure takes a single sample window and reports it once. Sinks are closed
// before Measure returns.
func (m *Monitor) Measure(ctx context.Context, h locator.Handle, sinks ...Sink) (Report, Outcome) {
	sess := newSession(m.now(), sinks, 0)
	m.transition(sess, StateSampling)

	w, err := m.sampler.SampleWindow(ctx, h, m.opts.Interval)
	if err != nil {
		return Report{}, m.finish(sess, h, classify(ctx, err), err)
	}
	metrics, err := efficiency.Derive(w)
	if err != nil {
		m.logger.Warn("Dropping inconsistent sample", "name", h.Name(), "pid", h.PID(), "error", err)
		if m.opts.OnInconsistent != nil {
			m.opts.OnInconsistent(h.PID(), err)
		}
		return Report{}, m.finish(sess, h, ReasonError, err)
	}

	m.transition(sess, StateReporting)
	r := m.newReport(sess, h, w, metrics)
	sess.report(ctx, m.logger, r)
	return r, m.finish(sess, h, ReasonCompleted, nil)
}

func (m *Monitor) newReport(sess *Session, h locator.Handle, w sampler.Window, metrics efficiency.Metrics) Report {
	now := m.now()
	return Report{
		Process:        h.Name(),
		PID:            h.PID(),
		Interval:       m.opts.Interval,
		SessionElapsed: now.Sub(sess.StartedAt),
		Timestamp:      now,
		Window:         w,
		Metrics:        metrics,
	}
}

func (m *Monitor) finish(sess *Session, h locator.Handle, reason Reason, err error) Outcome {
	m.transition(sess, StateTerminated)
	out := Outcome{Reason: reason, Ticks: sess.Ticks, Summary: sess.Summary}
	if reason == ReasonProcessGone || reason == ReasonError {
		out.Err = err
	}
	if cerr := sess.Close(); cerr != nil {
		m.logger.Warn("Failed to close sinks", "error", cerr)
		out.CloseErr = cerr
	}
	m.logger.Info("Monitoring stopped",
		"name", h.Name(), "pid", h.PID(), "reason", string(reason), "ticks", sess.Ticks)
	return out
}

func (m *Monitor) transition(sess *Session, to State) {
	from := sess.State
	if from == to {
		return
	}
	if !CanTransition(from, to) {
		m.logger.Debug("Unexpected state transition", "from", from, "to", to)
	}
	sess.State = to
	if m.opts.OnTransition != nil {
		m.opts.OnTransition(from, to)
	}
}

func classify(ctx context.Context, err error) Reason {
	switch {
	case errors.Is(err, locator.ErrProcessGone):
		return ReasonProcessGone
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded), ctx.Err() != nil:
		return ReasonCancelled
	default:
		return ReasonError
	}
}
