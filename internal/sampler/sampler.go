package sampler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/loykin/cpueff/internal/locator"
)

// Snapshot is a time-stamped reading of a process's cumulative CPU counters.
type Snapshot struct {
	CapturedAt time.Time `json:"captured_at"`
	User       float64   `json:"user_seconds"`
	System     float64   `json:"system_seconds"`
}

// Window is a pair of snapshots of the same process bracketing one interval.
// T2 is captured strictly after T1.
type Window struct {
	T1 Snapshot `json:"t1"`
	T2 Snapshot `json:"t2"`
}

// WaitFunc blocks for d or until ctx is done, returning ctx.Err() in the latter case.
type WaitFunc func(ctx context.Context, d time.Duration) error

// Sampler reads CPU snapshots from process handles.
type Sampler struct {
	now  func() time.Time
	wait WaitFunc
}

// Option customizes a Sampler.
type Option func(*Sampler)

// WithClock replaces time.Now. The clock should be monotonic.
func WithClock(now func() time.Time) Option {
	return func(s *Sampler) { s.now = now }
}

// WithWait replaces the interval wait.
func WithWait(w WaitFunc) Option {
	return func(s *Sampler) { s.wait = w }
}

// New creates a Sampler using the wall clock and a timer-based wait.
func New(opts ...Option) *Sampler {
	s := &Sampler{now: time.Now, wait: Sleep}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Sleep waits for d unless ctx is cancelled first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Snapshot reads the handle's counters. It fails with locator.ErrProcessGone when
// the process has exited, so a stale reading is never returned.
func (s *Sampler) Snapshot(ctx context.Context, h locator.Handle) (Snapshot, error) {
	user, system, err := h.CPUTimes(ctx)
	if err != nil {
		if errors.Is(err, locator.ErrProcessGone) {
			return Snapshot{}, err
		}
		return Snapshot{}, fmt.Errorf("snapshot pid %d: %w", h.PID(), err)
	}
	return Snapshot{CapturedAt: s.now(), User: user, System: system}, nil
}

// SampleWindow takes a snapshot, waits interval and takes a second one.
// Liveness is re-checked after the wait; an exited process yields ErrProcessGone
// instead of a spurious delta.
func (s *Sampler) SampleWindow(ctx context.Context, h locator.Handle, interval time.Duration) (Window, error) {
	t1, err := s.Snapshot(ctx, h)
	if err != nil {
		return Window{}, err
	}
	return s.Next(ctx, h, t1, interval)
}

// Next waits interval and pairs prev with one fresh snapshot. The run loop uses it
// to slide the window with a single counter read per tick.
func (s *Sampler) Next(ctx context.Context, h locator.Handle, prev Snapshot, interval time.Duration) (Window, error) {
	if err := s.wait(ctx, interval); err != nil {
		return Window{}, err
	}
	t2, err := s.Snapshot(ctx, h)
	if err != nil {
		return Window{}, err
	}
	return Window{T1: prev, T2: t2}, nil
}
