//go:build linux

package locator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"syscall"

	"github.com/prometheus/procfs"
	"github.com/tklauser/go-sysconf"
)

// ProcfsProvider reads /proc directly. CPU ticks are converted to seconds with
// the kernel's real clock tick rate instead of assuming 100 Hz.
type ProcfsProvider struct {
	fs     procfs.FS
	clkTck float64
}

// NewProcfsProvider opens the proc filesystem at mountPoint ("" means /proc).
func NewProcfsProvider(mountPoint string) (*ProcfsProvider, error) {
	if mountPoint == "" {
		mountPoint = procfs.DefaultMountPoint
	}
	fs, err := procfs.NewFS(mountPoint)
	if err != nil {
		return nil, fmt.Errorf("open procfs at %s: %w", mountPoint, err)
	}
	clk, err := sysconf.Sysconf(sysconf.SC_CLK_TCK)
	if err != nil || clk <= 0 {
		clk = 100
	}
	return &ProcfsProvider{fs: fs, clkTck: float64(clk)}, nil
}

func (p *ProcfsProvider) Processes(ctx context.Context) ([]Handle, error) {
	procs, err := p.fs.AllProcs()
	if err != nil {
		return nil, err
	}
	out := make([]Handle, 0, len(procs))
	for _, proc := range procs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		h, err := p.handle(proc)
		if err != nil {
			continue
		}
		out = append(out, h)
	}
	return out, nil
}

func (p *ProcfsProvider) Process(ctx context.Context, pid int32) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	proc, err := p.fs.Proc(int(pid))
	if err != nil {
		if isGone(err) {
			return nil, ErrProcessGone
		}
		return nil, err
	}
	h, err := p.handle(proc)
	if err != nil {
		if isGone(err) {
			return nil, ErrProcessGone
		}
		return nil, err
	}
	return h, nil
}

func (p *ProcfsProvider) handle(proc procfs.Proc) (*procfsHandle, error) {
	stat, err := proc.Stat()
	if err != nil {
		return nil, err
	}
	return &procfsHandle{
		provider:  p,
		proc:      proc,
		name:      stat.Comm,
		starttime: stat.Starttime,
	}, nil
}

type procfsHandle struct {
	provider  *ProcfsProvider
	proc      procfs.Proc
	name      string
	starttime uint64
}

func (h *procfsHandle) PID() int32   { return int32(h.proc.PID) }
func (h *procfsHandle) Name() string { return h.name }

func (h *procfsHandle) CPUTimes(ctx context.Context) (float64, float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, 0, err
	}
	stat, err := h.proc.Stat()
	if err != nil {
		if isGone(err) {
			return 0, 0, fmt.Errorf("pid %d: %w", h.proc.PID, ErrProcessGone)
		}
		return 0, 0, fmt.Errorf("read /proc/%d/stat: %w", h.proc.PID, err)
	}
	if stat.Starttime != h.starttime {
		return 0, 0, fmt.Errorf("pid %d was reused: %w", h.proc.PID, ErrProcessGone)
	}
	if stat.State == "Z" || stat.State == "X" {
		return 0, 0, fmt.Errorf("pid %d is a zombie: %w", h.proc.PID, ErrProcessGone)
	}
	return float64(stat.UTime) / h.provider.clkTck, float64(stat.STime) / h.provider.clkTck, nil
}

func isGone(err error) bool {
	return errors.Is(err, os.ErrNotExist) || errors.Is(err, syscall.ESRCH)
}
