package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/cpueff/internal/efficiency"
	"github.com/loykin/cpueff/internal/locator"
	"github.com/loykin/cpueff/internal/locator/locatortest"
	"github.com/loykin/cpueff/internal/sampler"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
	// onWait runs after every wait; tests use it to cancel mid-run.
	onWait func(n int)
	waits  int
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Wait(ctx context.Context, d time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.waits++
	n := c.waits
	c.mu.Unlock()
	if c.onWait != nil {
		c.onWait(n)
	}
	return ctx.Err()
}

type recordingSink struct {
	reports []Report
	series  [][]Point
	closed  int
	failOn  int
}

func (s *recordingSink) Report(_ context.Context, r Report) error {
	s.reports = append(s.reports, r)
	if s.failOn > 0 && len(s.reports) == s.failOn {
		return errors.New("sink failure")
	}
	return nil
}

func (s *recordingSink) Close() error {
	s.closed++
	return nil
}

type seriesSink struct{ recordingSink }

func (s *seriesSink) Series(_ context.Context, pts []Point) error {
	cp := make([]Point, len(pts))
	copy(cp, pts)
	s.series = append(s.series, cp)
	return nil
}

func newTestMonitor(c *fakeClock, opts Options) *Monitor {
	s := sampler.New(sampler.WithClock(c.Now), sampler.WithWait(c.Wait))
	opts.Clock = c.Now
	return New(s, opts)
}

func readings(pairs ...float64) []locatortest.Reading {
	var out []locatortest.Reading
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, locatortest.Reading{User: pairs[i], System: pairs[i+1]})
	}
	return out
}

func TestRun_SlidingWindowUntilProcessGone(t *testing.T) {
	c := &fakeClock{now: time.Unix(100, 0)}
	rs := append(readings(1.0, 0.5, 1.5, 0.9, 2.5, 1.0), locatortest.Reading{Gone: true})
	h := locatortest.NewHandle(42, "sample_app", rs...)
	sink := &recordingSink{}

	var transitions []string
	m := newTestMonitor(c, Options{
		Interval: 2 * time.Second,
		OnTransition: func(from, to State) {
			transitions = append(transitions, string(from)+">"+string(to))
		},
	})
	out := m.Run(context.Background(), h, sink)

	assert.Equal(t, ReasonProcessGone, out.Reason)
	assert.ErrorIs(t, out.Err, locator.ErrProcessGone)
	assert.Equal(t, "process terminated", out.Reason.Message())
	assert.Equal(t, 2, out.Ticks)
	// first tick reads twice, every later tick once
	assert.Equal(t, 4, h.Calls())

	require.Len(t, sink.reports, 2)
	first := sink.reports[0]
	assert.Equal(t, "sample_app", first.Process)
	assert.Equal(t, int32(42), first.PID)
	assert.InDelta(t, 45.0, first.Metrics.CPUPercent, 1e-9)
	assert.InDelta(t, 20.0, first.Metrics.SystemPercent, 1e-9)
	assert.InDelta(t, 25.0, first.Metrics.UserPercent, 1e-9)
	assert.Equal(t, 2*time.Second, first.SessionElapsed)

	second := sink.reports[1]
	assert.Equal(t, first.Window.T2, second.Window.T1)
	assert.InDelta(t, 55.0, second.Metrics.CPUPercent, 1e-9)
	assert.Equal(t, 4*time.Second, second.SessionElapsed)

	assert.Equal(t, 1, sink.closed)
	assert.Equal(t, []string{
		"idle>sampling",
		"sampling>reporting", "reporting>sampling",
		"sampling>reporting", "reporting>sampling",
		"sampling>terminated",
	}, transitions)

	assert.Equal(t, 2, out.Summary.Samples)
	assert.InDelta(t, 55.0, out.Summary.PeakCPUPercent, 1e-9)
	assert.InDelta(t, 50.0, out.Summary.MeanCPUPercent, 1e-9)
}

func TestRun_ProcessGoneBetweenReads(t *testing.T) {
	c := &fakeClock{now: time.Unix(0, 0)}
	h := locatortest.NewHandle(7, "x", locatortest.Reading{User: 1}, locatortest.Reading{Gone: true})
	sink := &recordingSink{}

	out := newTestMonitor(c, Options{Interval: time.Second}).Run(context.Background(), h, sink)

	assert.Equal(t, ReasonProcessGone, out.Reason)
	assert.Empty(t, sink.reports)
	assert.Equal(t, 1, sink.closed)
}

func TestRun_DurationBound(t *testing.T) {
	c := &fakeClock{now: time.Unix(0, 0)}
	h := locatortest.NewHandle(1, "x", readings(0, 0, 1, 0, 2, 0, 3, 0, 4, 0)...)
	sink := &recordingSink{}

	out := newTestMonitor(c, Options{Interval: 2 * time.Second, Duration: 5 * time.Second}).
		Run(context.Background(), h, sink)

	// checks happen at t=0,2,4 (run) and t=6 (stop): the last tick overshoots by 1s
	assert.Equal(t, ReasonCompleted, out.Reason)
	assert.NoError(t, out.Err)
	assert.Len(t, sink.reports, 3)
	assert.Equal(t, 1, sink.closed)
}

func TestRun_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	c := &fakeClock{now: time.Unix(0, 0)}
	c.onWait = func(n int) {
		if n == 3 {
			cancel()
		}
	}
	h := locatortest.NewHandle(1, "x", readings(0, 0, 1, 0, 2, 0, 3, 0)...)
	sink := &recordingSink{}

	out := newTestMonitor(c, Options{Interval: time.Second}).Run(ctx, h, sink)

	assert.Equal(t, ReasonCancelled, out.Reason)
	assert.NoError(t, out.Err)
	assert.Len(t, sink.reports, 2)
	assert.Equal(t, 1, sink.closed)
}

func TestRun_InconsistentSampleIsSkipped(t *testing.T) {
	c := &fakeClock{now: time.Unix(0, 0)}
	rs := readings(5, 1, 6, 1, 2, 1, 3, 1)
	rs = append(rs, locatortest.Reading{Gone: true})
	h := locatortest.NewHandle(1, "x", rs...)
	sink := &recordingSink{}

	var dropped []error
	m := newTestMonitor(c, Options{
		Interval:       time.Second,
		OnInconsistent: func(_ int32, err error) { dropped = append(dropped, err) },
	})
	out := m.Run(context.Background(), h, sink)

	assert.Equal(t, ReasonProcessGone, out.Reason)
	require.Len(t, dropped, 1)
	assert.ErrorIs(t, dropped[0], efficiency.ErrInconsistentSample)
	require.Len(t, sink.reports, 2)
	for _, r := range sink.reports {
		assert.GreaterOrEqual(t, r.Metrics.CPUPercent, 0.0)
	}
	assert.InDelta(t, 100.0, sink.reports[1].Metrics.CPUPercent, 1e-9)
}

func TestRun_SinkErrorDoesNotStopLoop(t *testing.T) {
	c := &fakeClock{now: time.Unix(0, 0)}
	rs := append(readings(0, 0, 1, 0, 2, 0), locatortest.Reading{Gone: true})
	h := locatortest.NewHandle(1, "x", rs...)
	bad := &recordingSink{failOn: 1}
	good := &recordingSink{}

	out := newTestMonitor(c, Options{Interval: time.Second}).Run(context.Background(), h, bad, good)

	assert.Equal(t, 2, out.Ticks)
	assert.Len(t, good.reports, 2)
	assert.Equal(t, 1, bad.closed)
	assert.Equal(t, 1, good.closed)
}

func TestRun_SeriesSinkGetsAccumulatedPoints(t *testing.T) {
	c := &fakeClock{now: time.Unix(0, 0)}
	rs := append(readings(0, 0, 1, 0, 1.5, 0.5), locatortest.Reading{Gone: true})
	h := locatortest.NewHandle(1, "x", rs...)
	chart := &seriesSink{}

	newTestMonitor(c, Options{Interval: time.Second}).Run(context.Background(), h, chart)

	require.Len(t, chart.series, 2)
	assert.Len(t, chart.series[0], 1)
	require.Len(t, chart.series[1], 2)
	assert.Equal(t, Point{Elapsed: 2, CPUPercent: 100, SystemPercent: 50, UserPercent: 50}, chart.series[1][1])
}

func TestRun_ReadErrorEndsWithError(t *testing.T) {
	c := &fakeClock{now: time.Unix(0, 0)}
	boom := errors.New("permission denied")
	h := locatortest.NewHandle(1, "x", locatortest.Reading{Err: boom})
	sink := &recordingSink{}

	out := newTestMonitor(c, Options{Interval: time.Second}).Run(context.Background(), h, sink)
	assert.Equal(t, ReasonError, out.Reason)
	assert.ErrorIs(t, out.Err, boom)
	assert.Equal(t, 1, sink.closed)
}

func TestMeasure(t *testing.T) {
	c := &fakeClock{now: time.Unix(100, 0)}
	h := locatortest.NewHandle(42, "sample_app", readings(1.0, 0.5, 1.5, 0.9)...)
	sink := &recordingSink{}

	r, out := newTestMonitor(c, Options{Interval: 2 * time.Second}).Measure(context.Background(), h, sink)

	assert.Equal(t, ReasonCompleted, out.Reason)
	assert.Equal(t, 1, out.Ticks)
	assert.InDelta(t, 45.0, r.Metrics.CPUPercent, 1e-9)
	assert.Len(t, sink.reports, 1)
	assert.Equal(t, 1, sink.closed)
}

func TestMeasure_Inconsistent(t *testing.T) {
	c := &fakeClock{now: time.Unix(0, 0)}
	h := locatortest.NewHandle(42, "x", readings(2, 2, 1, 1)...)
	sink := &recordingSink{}

	_, out := newTestMonitor(c, Options{Interval: time.Second}).Measure(context.Background(), h, sink)
	assert.Equal(t, ReasonError, out.Reason)
	assert.ErrorIs(t, out.Err, efficiency.ErrInconsistentSample)
	assert.Empty(t, sink.reports)
	assert.Equal(t, 1, sink.closed)
}

func TestSessionCloseOnce(t *testing.T) {
	sink := &recordingSink{}
	s := newSession(time.Now(), []Sink{sink}, 0)
	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.Equal(t, 1, sink.closed)
}

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(StateIdle, StateSampling))
	assert.True(t, CanTransition(StateSampling, StateReporting))
	assert.True(t, CanTransition(StateReporting, StateSampling))
	assert.True(t, CanTransition(StateSampling, StateTerminated))
	assert.False(t, CanTransition(StateTerminated, StateSampling))
	assert.False(t, CanTransition(StateIdle, StateReporting))
}
