// Package tabular writes one row per report to a CSV file or a database table.
package tabular

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/loykin/cpueff/internal/monitor"
)

// Columns is the header of every tabular destination.
var Columns = []string{"Timestamp", "Elapsed", "Interval", "Total_CPU_Efficiency", "System_Efficiency", "User_Efficiency"}

// TimestampLayout formats Row.Timestamp in local time.
const TimestampLayout = "2006-01-02 15:04:05"

// Row is one tabular record.
type Row struct {
	Timestamp     time.Time
	Process       string
	PID           int32
	Elapsed       float64
	Interval      float64
	CPUPercent    float64
	SystemPercent float64
	UserPercent   float64
}

// NewRow builds a row from a report, stamped with the write time.
func NewRow(r monitor.Report, writtenAt time.Time) Row {
	return Row{
		Timestamp:     writtenAt,
		Process:       r.Process,
		PID:           r.PID,
		Elapsed:       r.SessionElapsed.Seconds(),
		Interval:      r.Interval.Seconds(),
		CPUPercent:    r.Metrics.CPUPercent,
		SystemPercent: r.Metrics.SystemPercent,
		UserPercent:   r.Metrics.UserPercent,
	}
}

// Writer persists rows. WriteRows must make the rows durable before returning.
type Writer interface {
	WriteRows(ctx context.Context, rows []Row) error
	Close() error
}

// Policy is the flush policy of a tabular Sink.
type Policy string

const (
	// Immediate writes every row as it arrives.
	Immediate Policy = "immediate"
	// Buffered keeps rows in memory and writes them all on Close. Rows are lost if
	// the process crashes before Close.
	Buffered Policy = "buffered"
)

// ParsePolicy maps a config string to a Policy; anything but "buffered" is Immediate.
func ParsePolicy(s string) Policy {
	if strings.EqualFold(strings.TrimSpace(s), string(Buffered)) {
		return Buffered
	}
	return Immediate
}

// Sink adapts a Writer to monitor.Sink under a flush policy.
type Sink struct {
	w      Writer
	policy Policy
	now    func() time.Time

	mu      sync.Mutex
	pending []Row
	closed  bool
}

// NewSink wraps w. A nil now uses time.Now.
func NewSink(w Writer, policy Policy, now func() time.Time) *Sink {
	if now == nil {
		now = time.Now
	}
	return &Sink{w: w, policy: policy, now: now}
}

// Policy reports the flush policy.
func (s *Sink) Policy() Policy { return s.policy }

func (s *Sink) Report(ctx context.Context, r monitor.Report) error {
	row := NewRow(r, s.now())
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.policy == Buffered {
		s.pending = append(s.pending, row)
		return nil
	}
	return s.w.WriteRows(ctx, []Row{row})
}

// Close writes any buffered rows and closes the writer. Later calls are no-ops.
func (s *Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	var flushErr error
	if len(s.pending) > 0 {
		flushErr = s.w.WriteRows(context.Background(), s.pending)
		s.pending = nil
	}
	closeErr := s.w.Close()
	if flushErr != nil {
		return flushErr
	}
	return closeErr
}
