package server

import (
	"context"
	"sync"

	"github.com/loykin/cpueff/internal/monitor"
)

// LatestSink keeps the most recent report for the HTTP API. It is the only state
// shared between the run loop and the server goroutine.
type LatestSink struct {
	mu      sync.RWMutex
	last    monitor.Report
	reports int
	closed  bool
}

func NewLatestSink() *LatestSink { return &LatestSink{} }

func (s *LatestSink) Report(_ context.Context, r monitor.Report) error {
	s.mu.Lock()
	s.last = r
	s.reports++
	s.mu.Unlock()
	return nil
}

// Close marks the session as finished; the last report stays readable.
func (s *LatestSink) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// Latest returns the last report and false before the first one.
func (s *LatestSink) Latest() (monitor.Report, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last, s.reports > 0
}

func (s *LatestSink) stats() (reports int, closed bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reports, s.closed
}
