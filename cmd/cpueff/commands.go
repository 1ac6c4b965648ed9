package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/loykin/cpueff/internal/config"
	"github.com/loykin/cpueff/internal/locator"
	"github.com/loykin/cpueff/internal/metrics"
	"github.com/loykin/cpueff/internal/monitor"
	"github.com/loykin/cpueff/internal/sampler"
	"github.com/loykin/cpueff/internal/server"
	"github.com/loykin/cpueff/internal/sink"
	"github.com/loykin/cpueff/internal/sink/chart"
)

const shutdownTimeout = 3 * time.Second

// chartSink is the part of the chart used by the command.
type chartSink interface {
	monitor.SeriesSink
	Watch(ctx context.Context, cancel context.CancelFunc)
}

// runner holds the collaborators of one invocation; tests swap them for fakes.
type runner struct {
	in     io.Reader
	out    io.Writer
	errOut io.Writer

	newProvider func(kind string) (locator.Provider, error)
	newChart    func(title string) (chartSink, error)
	clock       func() time.Time
	wait        sampler.WaitFunc
	registerer  prometheus.Registerer
	// inconsistent counts a dropped window under the process name
	inconsistent func(name string)
}

func newRunner(in io.Reader, out, errOut io.Writer) *runner {
	return &runner{
		in:          in,
		out:         out,
		errOut:      errOut,
		newProvider: locator.NewProvider,
		newChart:    func(title string) (chartSink, error) { return chart.New(title) },
		clock:       time.Now,
		wait:        sampler.Sleep,
		registerer:  prometheus.DefaultRegisterer,

		inconsistent: metrics.IncInconsistent,
	}
}

// buildRoot creates the single cpueff command.
func buildRoot(r *runner) *cobra.Command {
	root := &cobra.Command{
		Use:   "cpueff",
		Short: "Measure how efficiently a process uses the CPU",
		Long: `cpueff samples a running process's cumulative user and system CPU time at a
fixed interval and reports CPU, system and user efficiency: CPU seconds consumed
per wall-clock second, in percent.

Examples:
  cpueff --name nginx --interval 2            # monitor until nginx exits
  cpueff --name nginx --once                  # one measurement
  cpueff --name worker --once --all           # one measurement per matching process
  cpueff --name worker --list                 # list matching processes
  cpueff --name app --chart --output cpu.csv  # live chart, rows written on exit
  cpueff --pid 4242 --duration 60 --output sqlite:///tmp/cpu.db`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			v := config.New()
			if err := config.BindFlags(v, cmd.Flags()); err != nil {
				return err
			}
			path, _ := cmd.Flags().GetString("config")
			if err := config.ReadFile(v, path); err != nil {
				return err
			}
			if len(args) == 1 && !cmd.Flags().Changed("name") {
				v.Set("name", args[0])
			}
			cfg, err := config.Load(v)
			if err != nil {
				return err
			}
			return r.run(cmd.Context(), cfg)
		},
	}
	addFlags(root.Flags())
	return root
}

// run executes one invocation after configuration is resolved.
func (r *runner) run(ctx context.Context, cfg config.Config) error {
	console := io.Writer(r.errOut)
	if cfg.Chart {
		// the chart owns the terminal; logs go to the log file only
		console = nil
	}
	log, logCloser := cfg.Log.NewSlogger(console)
	defer func() { _ = logCloser.Close() }()
	slog.SetDefault(log)

	name := cfg.Name
	if name == "" && (cfg.PID == 0 || cfg.List) {
		var err error
		if name, err = promptName(r.in, r.out); err != nil {
			return err
		}
	}

	prov, err := r.newProvider(cfg.Provider)
	if err != nil {
		return fmt.Errorf("provider %s: %w", cfg.Provider, err)
	}
	loc := locator.New(prov, log)

	if cfg.List {
		return r.list(ctx, loc, name)
	}

	targets, err := r.resolve(ctx, loc, cfg, name)
	if err != nil {
		return r.report(err, name, cfg.PID)
	}

	// label by the resolved process name; name is empty in pid-only mode
	names := make(map[int32]string, len(targets))
	for _, h := range targets {
		names[h.PID()] = h.Name()
	}

	stopServers, latest := r.startServers(cfg, log)
	defer stopServers()

	mon := monitor.New(sampler.New(sampler.WithClock(r.clock), sampler.WithWait(r.wait)), monitor.Options{
		Interval: cfg.Interval,
		Duration: cfg.Duration,
		Logger:   log,
		Clock:    r.clock,
		OnTransition: func(from, to monitor.State) {
			metrics.RecordStateTransition(string(from), string(to))
		},
		OnInconsistent: func(pid int32, _ error) {
			r.inconsistent(names[pid])
		},
	})

	if cfg.Once {
		return r.measure(ctx, mon, cfg, targets, latest, log)
	}
	return r.follow(ctx, mon, cfg, targets[0], latest, log)
}

func (r *runner) list(ctx context.Context, loc *locator.Locator, name string) error {
	handles, err := loc.Find(ctx, name)
	if err != nil {
		return err
	}
	if len(handles) == 0 {
		_, _ = fmt.Fprintf(r.out, "No process named '%s' found.\n", name)
		return nil
	}
	return sink.WriteListing(r.out, handles)
}

// resolve returns the handles to measure: all matches for --once --all, else one.
func (r *runner) resolve(ctx context.Context, loc *locator.Locator, cfg config.Config, name string) ([]locator.Handle, error) {
	if name == "" {
		h, err := loc.Lookup(ctx, cfg.PID)
		if err != nil {
			return nil, err
		}
		return []locator.Handle{h}, nil
	}
	handles, err := loc.Find(ctx, name)
	if err != nil {
		return nil, err
	}
	if cfg.Once && cfg.All && cfg.PID == 0 {
		if len(handles) == 0 {
			return nil, locator.ErrNoMatchingProcess
		}
		return handles, nil
	}
	h, err := loc.Select(handles, cfg.PID, cfg.Match)
	if err != nil {
		return nil, err
	}
	return []locator.Handle{h}, nil
}

// report turns a resolution error into a user-facing message. A missing process is
// not a failure; ambiguity under --strict and other errors are.
func (r *runner) report(err error, name string, pid int32) error {
	switch {
	case errors.Is(err, locator.ErrNoMatchingProcess):
		_, _ = fmt.Fprintf(r.out, "No process named '%s' found.\n", name)
		return nil
	case errors.Is(err, locator.ErrPidNotFound):
		if name == "" {
			_, _ = fmt.Fprintf(r.out, "No process with pid %d found.\n", pid)
		} else {
			_, _ = fmt.Fprintf(r.out, "No process named '%s' has pid %d.\n", name, pid)
		}
		return nil
	case errors.Is(err, locator.ErrAmbiguousMatch):
		return fmt.Errorf("%w; use --list to see them and --pid to pick one", err)
	default:
		return err
	}
}

// startServers starts the optional metrics and API servers. The returned LatestSink
// is nil when the API is off.
func (r *runner) startServers(cfg config.Config, log *slog.Logger) (func(), *server.LatestSink) {
	var (
		stops  []func(time.Duration)
		latest *server.LatestSink
	)
	if cfg.Metrics.Listen != "" || cfg.Server.Listen != "" {
		if err := metrics.Register(r.registerer); err != nil {
			log.Warn("Prometheus registration failed", "error", err)
		}
	}
	if cfg.Metrics.Listen != "" {
		stops = append(stops, server.Start(server.NewServer(cfg.Metrics.Listen, metrics.Handler()), log))
	}
	if cfg.Server.Listen != "" {
		latest = server.NewLatestSink()
		h := server.NewRouter(latest, cfg.Server.BasePath).HandlerFor(cfg.Server.Framework)
		stops = append(stops, server.Start(server.NewServer(cfg.Server.Listen, h), log))
	}
	return func() {
		for _, stop := range stops {
			stop(shutdownTimeout)
		}
	}, latest
}

// commonSinks are the sinks shared by every mode.
func (r *runner) commonSinks(ctx context.Context, cfg config.Config, latest *server.LatestSink, log *slog.Logger) []monitor.Sink {
	var sinks []monitor.Sink
	if cfg.Output != "" {
		ts, err := sink.OpenTabular(ctx, cfg.Output, cfg.FlushPolicy())
		if err != nil {
			log.Warn("Continuing without tabular output", "error", err)
		} else {
			sinks = append(sinks, ts)
		}
	}
	if cfg.Metrics.Listen != "" || cfg.Server.Listen != "" {
		sinks = append(sinks, metrics.NewSink())
	}
	if latest != nil {
		sinks = append(sinks, latest)
	}
	return sinks
}

func (r *runner) measure(ctx context.Context, mon *monitor.Monitor, cfg config.Config, targets []locator.Handle, latest *server.LatestSink, log *slog.Logger) error {
	// shared sinks outlive each measurement and are closed once at the end
	shared := r.commonSinks(ctx, cfg, latest, log)
	defer closeAll(shared, log)
	kept := make([]monitor.Sink, 0, len(shared)+1)
	for _, s := range shared {
		kept = append(kept, keepOpen{s})
	}

	var failed error
	for _, h := range targets {
		sinks := append([]monitor.Sink{sink.NewConsole(r.out, sink.Block)}, kept...)
		_, out := mon.Measure(ctx, h, sinks...)
		switch out.Reason {
		case monitor.ReasonCompleted:
		case monitor.ReasonProcessGone:
			_, _ = fmt.Fprintf(r.out, "Process '%s' (pid %d) terminated before the measurement completed.\n", h.Name(), h.PID())
		case monitor.ReasonCancelled:
			_, _ = fmt.Fprintln(r.out, out.Reason.Message())
			return nil
		default:
			failed = errors.Join(failed, fmt.Errorf("pid %d: %w", h.PID(), out.Err))
		}
	}
	return failed
}

func (r *runner) follow(ctx context.Context, mon *monitor.Monitor, cfg config.Config, h locator.Handle, latest *server.LatestSink, log *slog.Logger) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var sinks []monitor.Sink
	if cfg.Chart {
		c, err := r.newChart(fmt.Sprintf("%s (pid %d)", h.Name(), h.PID()))
		if err != nil {
			return err
		}
		c.Watch(ctx, cancel)
		sinks = append(sinks, c)
	} else {
		sinks = append(sinks, sink.NewConsole(r.out, sink.Line))
	}
	sinks = append(sinks, r.commonSinks(ctx, cfg, latest, log)...)

	out := mon.Run(ctx, h, sinks...)
	switch out.Reason {
	case monitor.ReasonProcessGone:
		_, _ = fmt.Fprintf(r.out, "Process '%s' (pid %d) terminated.\n", h.Name(), h.PID())
	case monitor.ReasonError:
		return out.Err
	default:
		_, _ = fmt.Fprintln(r.out, out.Reason.Message())
	}
	if s := out.Summary; s.Samples > 0 {
		_, _ = fmt.Fprintf(r.out, "Samples: %d  mean cpu=%.2f%%  peak cpu=%.2f%%  cpu_time=%.4fs  wall=%.4fs\n",
			s.Samples, s.MeanCPUPercent, s.PeakCPUPercent, s.TotalCPUSeconds, s.TotalWallSecs)
	}
	return nil
}

// keepOpen shields a sink from Session.Close so it can span several sessions.
type keepOpen struct{ monitor.Sink }

func (keepOpen) Close() error { return nil }

func closeAll(sinks []monitor.Sink, log *slog.Logger) {
	for _, s := range sinks {
		if err := s.Close(); err != nil {
			log.Warn("Failed to close sink", "error", err)
		}
	}
}
