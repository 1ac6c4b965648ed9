package metrics

import (
	"context"
	"strconv"

	"github.com/loykin/cpueff/internal/monitor"
)

// Sink publishes each report as Prometheus gauges. The last values stay exported
// after Close so a final scrape still sees them.
type Sink struct{}

func NewSink() *Sink { return &Sink{} }

func (s *Sink) Report(_ context.Context, r monitor.Report) error {
	if !regOK.Load() {
		return nil
	}
	pid := strconv.FormatInt(int64(r.PID), 10)
	m := r.Metrics
	cpuPercent.WithLabelValues(r.Process, pid).Set(m.CPUPercent)
	systemPercent.WithLabelValues(r.Process, pid).Set(m.SystemPercent)
	userPercent.WithLabelValues(r.Process, pid).Set(m.UserPercent)
	cpuSecondsDelta.WithLabelValues(r.Process, pid).Set(m.DeltaTotal)
	samples.WithLabelValues(r.Process).Inc()
	return nil
}

func (s *Sink) Close() error { return nil }
