// Package locatortest provides in-memory process handles and providers for tests.
package locatortest

import (
	"context"
	"fmt"
	"sync"

	"github.com/loykin/cpueff/internal/locator"
)

// Reading is one scripted CPUTimes result.
type Reading struct {
	User   float64
	System float64
	Gone   bool
	Err    error
}

// Handle replays scripted readings. Once the script is exhausted the last reading
// repeats.
type Handle struct {
	Pid      int32
	ProcName string

	mu       sync.Mutex
	readings []Reading
	calls    int
}

// NewHandle returns a handle that answers CPUTimes with readings in order.
func NewHandle(pid int32, name string, readings ...Reading) *Handle {
	return &Handle{Pid: pid, ProcName: name, readings: readings}
}

func (h *Handle) PID() int32   { return h.Pid }
func (h *Handle) Name() string { return h.ProcName }

func (h *Handle) CPUTimes(ctx context.Context) (float64, float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, 0, err
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.readings) == 0 {
		h.calls++
		return 0, 0, nil
	}
	idx := h.calls
	if idx >= len(h.readings) {
		idx = len(h.readings) - 1
	}
	h.calls++
	r := h.readings[idx]
	if r.Gone {
		return 0, 0, fmt.Errorf("pid %d: %w", h.Pid, locator.ErrProcessGone)
	}
	if r.Err != nil {
		return 0, 0, r.Err
	}
	return r.User, r.System, nil
}

// Calls reports how many times CPUTimes was invoked.
func (h *Handle) Calls() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.calls
}

// Provider is a static process table.
type Provider struct {
	Handles []locator.Handle
	Err     error
}

func (p *Provider) Processes(ctx context.Context) ([]locator.Handle, error) {
	if p.Err != nil {
		return nil, p.Err
	}
	out := make([]locator.Handle, len(p.Handles))
	copy(out, p.Handles)
	return out, nil
}

func (p *Provider) Process(ctx context.Context, pid int32) (locator.Handle, error) {
	if p.Err != nil {
		return nil, p.Err
	}
	for _, h := range p.Handles {
		if h.PID() == pid {
			return h, nil
		}
	}
	return nil, locator.ErrProcessGone
}
