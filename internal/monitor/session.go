package monitor

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/loykin/cpueff/internal/efficiency"
	"github.com/loykin/cpueff/internal/sampler"
)

// Report is what sinks receive once per reporting event.
type Report struct {
	Process        string             `json:"process"`
	PID            int32              `json:"pid"`
	Interval       time.Duration      `json:"interval"`
	SessionElapsed time.Duration      `json:"session_elapsed"`
	Timestamp      time.Time          `json:"timestamp"`
	Window         sampler.Window     `json:"window"`
	Metrics        efficiency.Metrics `json:"metrics"`
}

// Point is one chart sample: session elapsed seconds and the three percentages.
type Point struct {
	Elapsed       float64 `json:"elapsed"`
	CPUPercent    float64 `json:"cpu_pct"`
	SystemPercent float64 `json:"system_pct"`
	UserPercent   float64 `json:"user_pct"`
}

// Sink consumes reports. Sinks must not block for long; they never influence timing.
// Close flushes any buffered data and releases resources.
type Sink interface {
	Report(ctx context.Context, r Report) error
	Close() error
}

// SeriesSink is a Sink that redraws the whole time series on every report, such
// as a live chart. The session keeps the series so the sink itself stays stateless.
type SeriesSink interface {
	Sink
	Series(ctx context.Context, points []Point) error
}

// Summary aggregates the reported ticks of one session.
type Summary struct {
	Samples         int     `json:"samples"`
	MeanCPUPercent  float64 `json:"mean_cpu_pct"`
	PeakCPUPercent  float64 `json:"peak_cpu_pct"`
	TotalCPUSeconds float64 `json:"total_cpu_seconds"`
	TotalWallSecs   float64 `json:"total_wall_seconds"`
}

// Session is the mutable state of one monitoring run. It is owned by the run loop
// and never shared.
type Session struct {
	StartedAt time.Time
	Prev      *sampler.Snapshot
	Points    []Point
	Ticks     int
	State     State
	Summary   Summary

	sinks     []Sink
	maxPoints int
	closeOnce sync.Once
	closeErr  error
}

func newSession(startedAt time.Time, sinks []Sink, maxPoints int) *Session {
	return &Session{StartedAt: startedAt, State: StateIdle, sinks: sinks, maxPoints: maxPoints}
}

func (s *Session) addPoint(p Point) {
	if s.maxPoints <= 0 {
		return
	}
	if len(s.Points) >= s.maxPoints {
		s.Points = s.Points[1:]
	}
	s.Points = append(s.Points, p)
}

func (s *Session) hasSeriesSink() bool {
	for _, sink := range s.sinks {
		if _, ok := sink.(SeriesSink); ok {
			return true
		}
	}
	return false
}

func (s *Session) record(r Report) {
	s.Ticks++
	m := r.Metrics
	s.Summary.Samples++
	s.Summary.TotalCPUSeconds += m.DeltaTotal
	s.Summary.TotalWallSecs += m.ElapsedWall
	if m.CPUPercent > s.Summary.PeakCPUPercent {
		s.Summary.PeakCPUPercent = m.CPUPercent
	}
	if s.Summary.TotalWallSecs > 0 {
		s.Summary.MeanCPUPercent = 100 * s.Summary.TotalCPUSeconds / s.Summary.TotalWallSecs
	}
	s.addPoint(Point{
		Elapsed:       r.SessionElapsed.Seconds(),
		CPUPercent:    m.CPUPercent,
		SystemPercent: m.SystemPercent,
		UserPercent:   m.UserPercent,
	})
}

func (s *Session) report(ctx context.Context, logger *slog.Logger, r Report) {
	s.record(r)
	for _, sink := range s.sinks {
		if err := sink.Report(ctx, r); err != nil {
			logger.Warn("Sink failed to record report", "pid", r.PID, "error", err)
			continue
		}
		if ss, ok := sink.(SeriesSink); ok {
			if err := ss.Series(ctx, s.Points); err != nil {
				logger.Warn("Sink failed to draw series", "pid", r.PID, "error", err)
			}
		}
	}
}

// Close flushes and closes every sink. Only the first call has an effect.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		var errs []error
		for _, sink := range s.sinks {
			if err := sink.Close(); err != nil {
				errs = append(errs, err)
			}
		}
		s.closeErr = errors.Join(errs...)
	})
	return s.closeErr
}
