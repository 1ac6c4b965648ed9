// Package chart draws the live efficiency chart in the terminal with termui.
package chart

import (
	"context"
	"fmt"
	"sync"

	ui "github.com/gizak/termui/v3"
	"github.com/gizak/termui/v3/widgets"

	"github.com/loykin/cpueff/internal/monitor"
)

// DefaultWindow is how many of the most recent points are plotted.
const DefaultWindow = 120

type backend struct {
	init   func() error
	close  func()
	render func(items ...ui.Drawable)
	size   func() (int, int)
	events func() <-chan ui.Event
}

func terminal() backend {
	return backend{
		init:   ui.Init,
		close:  ui.Close,
		render: ui.Render,
		size:   ui.TerminalDimensions,
		events: ui.PollEvents,
	}
}

// Sink is a monitor.SeriesSink that owns the terminal while open.
type Sink struct {
	mu     sync.Mutex
	be     backend
	window int

	header *widgets.Paragraph
	plot   *widgets.Plot
	grid   *ui.Grid

	closeOnce sync.Once
}

// New initialises the terminal. Callers must Close the sink to restore it.
func New(title string) (*Sink, error) {
	return newSink(title, terminal())
}

func newSink(title string, be backend) (*Sink, error) {
	if err := be.init(); err != nil {
		return nil, fmt.Errorf("failed to init termui: %w", err)
	}
	header := widgets.NewParagraph()
	header.Title = " " + title + " "
	header.Text = "waiting for the first sample... (q to quit)"
	header.BorderStyle.Fg = ui.ColorCyan

	plot := widgets.NewPlot()
	plot.Title = " CPU efficiency % "
	plot.DataLabels = []string{"cpu", "sys", "user"}
	plot.LineColors = []ui.Color{ui.ColorGreen, ui.ColorRed, ui.ColorYellow}
	plot.AxesColor = ui.ColorWhite
	plot.Marker = widgets.MarkerBraille
	plot.PlotType = widgets.LineChart
	plot.MaxVal = 100
	plot.BorderStyle.Fg = ui.ColorGreen

	grid := ui.NewGrid()
	w, h := be.size()
	grid.SetRect(0, 0, w, h)
	grid.Set(
		ui.NewRow(0.2, ui.NewCol(1.0, header)),
		ui.NewRow(0.8, ui.NewCol(1.0, plot)),
	)
	s := &Sink{be: be, window: DefaultWindow, header: header, plot: plot, grid: grid}
	be.render(grid)
	return s, nil
}

// Report refreshes the header; the redraw happens in Series.
func (s *Sink) Report(_ context.Context, r monitor.Report) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m := r.Metrics
	s.header.Text = fmt.Sprintf("%s (pid %d)  t=%.0fs  cpu=%.2f%%  sys=%.2f%%  user=%.2f%%   [q] quit",
		r.Process, r.PID, r.SessionElapsed.Seconds(), m.CPUPercent, m.SystemPercent, m.UserPercent)
	return nil
}

// Series redraws the plot from the most recent points.
func (s *Sink) Series(_ context.Context, points []monitor.Point) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(points) > s.window {
		points = points[len(points)-s.window:]
	}
	// the line plot needs two points per series
	if len(points) < 2 {
		s.be.render(s.header)
		return nil
	}
	cpu := make([]float64, len(points))
	sys := make([]float64, len(points))
	usr := make([]float64, len(points))
	peak := 100.0
	for i, p := range points {
		cpu[i], sys[i], usr[i] = p.CPUPercent, p.SystemPercent, p.UserPercent
		if p.CPUPercent > peak {
			peak = p.CPUPercent
		}
	}
	s.plot.Data = [][]float64{cpu, sys, usr}
	s.plot.MaxVal = peak
	s.be.render(s.grid)
	return nil
}

// Watch reads terminal events until ctx ends and calls cancel on q or Ctrl-C.
// It also relayouts the grid on resize.
func (s *Sink) Watch(ctx context.Context, cancel context.CancelFunc) {
	events := s.be.events()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case e, ok := <-events:
				if !ok {
					return
				}
				switch e.ID {
				case "q", "Q", "<C-c>", "<Escape>":
					cancel()
					return
				case "<Resize>":
					if p, ok := e.Payload.(ui.Resize); ok {
						s.resize(p.Width, p.Height)
					}
				}
			}
		}
	}()
}

func (s *Sink) resize(w, h int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.grid.SetRect(0, 0, w, h)
	s.be.render(s.grid)
}

// Close restores the terminal. Safe to call more than once.
func (s *Sink) Close() error {
	s.closeOnce.Do(s.be.close)
	return nil
}
