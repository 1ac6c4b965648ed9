// Package sink holds the console sink, the process listing writer and the
// tabular destination factory.
package sink

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/loykin/cpueff/internal/monitor"
)

// Mode selects the console layout.
type Mode int

const (
	// Block prints the full result block; used for single-shot measurements.
	Block Mode = iota
	// Line prints one line per tick; used for continuous monitoring.
	Line
)

var rule = strings.Repeat("-", 40)

// Console writes human-readable reports to w.
type Console struct {
	mu   sync.Mutex
	w    io.Writer
	mode Mode
}

func NewConsole(w io.Writer, mode Mode) *Console {
	return &Console{w: w, mode: mode}
}

func (c *Console) Report(_ context.Context, r monitor.Report) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mode == Line {
		_, err := io.WriteString(c.w, FormatLine(r))
		return err
	}
	_, err := io.WriteString(c.w, FormatBlock(r))
	return err
}

func (c *Console) Close() error { return nil }

// FormatBlock renders the single-shot result block.
func FormatBlock(r monitor.Report) string {
	m := r.Metrics
	var b strings.Builder
	b.WriteString(rule + "\n")
	fmt.Fprintf(&b, " Results for '%s' (pid %d) over %ds:\n", r.Process, r.PID, int(r.Interval.Seconds()))
	b.WriteString(rule + "\n")
	fmt.Fprintf(&b, "Elapsed Time (Wall Clock) : %.4f sec\n", m.ElapsedWall)
	fmt.Fprintf(&b, "CPU Time (User + Sys)     : %.4f sec\n", m.DeltaTotal)
	fmt.Fprintf(&b, "System Time (Kernel)      : %.4f sec\n", m.DeltaSystem)
	fmt.Fprintf(&b, "User Time                 : %.4f sec\n", m.DeltaUser)
	b.WriteString(rule + "\n")
	fmt.Fprintf(&b, "CPU Efficiency %%    : %.2f%%\n", m.CPUPercent)
	fmt.Fprintf(&b, "System Efficiency %% : %.2f%%\n", m.SystemPercent)
	fmt.Fprintf(&b, "User Efficiency %%   : %.2f%%\n", m.UserPercent)
	b.WriteString(rule + "\n")
	return b.String()
}

// FormatLine renders one continuous-mode line.
func FormatLine(r monitor.Report) string {
	m := r.Metrics
	return fmt.Sprintf("[%.1fs] %s (pid %d) cpu=%.2f%% sys=%.2f%% user=%.2f%% cpu_time=%.4fs wall=%.4fs\n",
		r.SessionElapsed.Seconds(), r.Process, r.PID, m.CPUPercent, m.SystemPercent, m.UserPercent,
		m.DeltaTotal, m.ElapsedWall)
}
