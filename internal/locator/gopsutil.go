package locator

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/shirou/gopsutil/v4/process"
)

// GopsutilProvider enumerates processes through gopsutil. It works on every
// platform gopsutil supports.
type GopsutilProvider struct{}

// NewGopsutilProvider returns the default cross-platform provider.
func NewGopsutilProvider() *GopsutilProvider { return &GopsutilProvider{} }

func (GopsutilProvider) Processes(ctx context.Context) ([]Handle, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Handle, 0, len(procs))
	for _, p := range procs {
		if p == nil || p.Pid <= 0 {
			continue
		}
		// processes can exit while we walk the table
		h, err := newGopsutilHandle(ctx, p)
		if err != nil {
			continue
		}
		out = append(out, h)
	}
	return out, nil
}

func (GopsutilProvider) Process(ctx context.Context, pid int32) (Handle, error) {
	p, err := process.NewProcessWithContext(ctx, pid)
	if err != nil {
		if errors.Is(err, process.ErrorProcessNotRunning) {
			return nil, ErrProcessGone
		}
		return nil, fmt.Errorf("failed to create process handle: %w", err)
	}
	return newGopsutilHandle(ctx, p)
}

type gopsutilHandle struct {
	proc *process.Process
	name string
}

func newGopsutilHandle(ctx context.Context, p *process.Process) (*gopsutilHandle, error) {
	name, err := p.NameWithContext(ctx)
	if err != nil {
		return nil, err
	}
	// CreateTime is cached on the process so IsRunning can detect pid reuse later.
	_, _ = p.CreateTimeWithContext(ctx)
	return &gopsutilHandle{proc: p, name: name}, nil
}

func (h *gopsutilHandle) PID() int32   { return h.proc.Pid }
func (h *gopsutilHandle) Name() string { return h.name }

func (h *gopsutilHandle) CPUTimes(ctx context.Context) (float64, float64, error) {
	if err := h.alive(ctx); err != nil {
		return 0, 0, err
	}
	times, err := h.proc.TimesWithContext(ctx)
	if err != nil {
		// the process may have exited between the liveness check and the read
		if aliveErr := h.alive(ctx); aliveErr != nil {
			return 0, 0, aliveErr
		}
		return 0, 0, fmt.Errorf("read cpu times for pid %d: %w", h.proc.Pid, err)
	}
	return times.User, times.System, nil
}

func (h *gopsutilHandle) alive(ctx context.Context) error {
	running, err := h.proc.IsRunningWithContext(ctx)
	if err != nil || !running {
		return fmt.Errorf("pid %d: %w", h.proc.Pid, ErrProcessGone)
	}
	status, err := h.proc.StatusWithContext(ctx)
	if err == nil && slices.Contains(status, process.Zombie) {
		return fmt.Errorf("pid %d is a zombie: %w", h.proc.Pid, ErrProcessGone)
	}
	return nil
}
