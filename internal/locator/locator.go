package locator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

var (
	// ErrNoMatchingProcess is returned when no live process matches the requested name.
	ErrNoMatchingProcess = errors.New("no matching process")
	// ErrAmbiguousMatch is returned by Select under the Strict policy when several
	// processes share the requested name and no pid was given.
	ErrAmbiguousMatch = errors.New("ambiguous process match")
	// ErrPidNotFound is returned when a pid was given but none of the candidates has it.
	ErrPidNotFound = errors.New("pid not found among candidates")
	// ErrProcessGone is returned by a Handle whose process has exited.
	ErrProcessGone = errors.New("process terminated")
)

// Handle is a reference to a live OS process.
// Once the underlying process exits every CPUTimes call fails with ErrProcessGone.
type Handle interface {
	PID() int32
	Name() string
	// CPUTimes returns cumulative user and system CPU seconds as of the call.
	CPUTimes(ctx context.Context) (user, system float64, err error)
}

// Provider enumerates live processes. It is the platform's process-information
// collaborator; implementations must report exited processes with ErrProcessGone.
type Provider interface {
	Processes(ctx context.Context) ([]Handle, error)
	Process(ctx context.Context, pid int32) (Handle, error)
}

// Policy decides what Select does when several candidates match and no pid is given.
type Policy string

const (
	// FirstMatch returns the first candidate in enumeration order. This mirrors the
	// historical behavior and is ambiguous when several processes share a name.
	FirstMatch Policy = "first"
	// Strict returns ErrAmbiguousMatch instead of guessing.
	Strict Policy = "strict"
)

// Locator resolves process names and pids to handles.
type Locator struct {
	provider Provider
	logger   *slog.Logger
}

// New creates a Locator backed by p. A nil logger falls back to slog.Default.
func New(p Provider, logger *slog.Logger) *Locator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Locator{provider: p, logger: logger}
}

// Find returns every live process whose name equals name, ignoring case,
// in the provider's enumeration order.
func (l *Locator) Find(ctx context.Context, name string) ([]Handle, error) {
	all, err := l.provider.Processes(ctx)
	if err != nil {
		return nil, fmt.Errorf("enumerate processes: %w", err)
	}
	want := strings.ToLower(strings.TrimSpace(name))
	var out []Handle
	for _, h := range all {
		if strings.ToLower(h.Name()) == want {
			out = append(out, h)
		}
	}
	return out, nil
}

// Lookup resolves a single pid.
func (l *Locator) Lookup(ctx context.Context, pid int32) (Handle, error) {
	if pid <= 0 {
		return nil, fmt.Errorf("invalid pid %d: %w", pid, ErrPidNotFound)
	}
	h, err := l.provider.Process(ctx, pid)
	if err != nil {
		if errors.Is(err, ErrProcessGone) {
			return nil, fmt.Errorf("pid %d: %w", pid, ErrPidNotFound)
		}
		return nil, err
	}
	return h, nil
}

// Select picks one handle from candidates.
//
// With pid == 0 the first candidate wins under FirstMatch; under Strict more than
// one candidate is an ErrAmbiguousMatch. With pid != 0 the candidate with that pid
// is returned, or ErrPidNotFound.
func (l *Locator) Select(handles []Handle, pid int32, policy Policy) (Handle, error) {
	if len(handles) == 0 {
		return nil, ErrNoMatchingProcess
	}
	if pid != 0 {
		for _, h := range handles {
			if h.PID() == pid {
				return h, nil
			}
		}
		return nil, fmt.Errorf("pid %d: %w", pid, ErrPidNotFound)
	}
	if len(handles) > 1 {
		if policy == Strict {
			return nil, fmt.Errorf("%d processes named %q: %w", len(handles), handles[0].Name(), ErrAmbiguousMatch)
		}
		l.logger.Warn("Multiple processes match, using the first one",
			"name", handles[0].Name(), "candidates", len(handles), "pid", handles[0].PID())
	}
	return handles[0], nil
}

// ParsePolicy maps a config string to a Policy. Unknown values fall back to FirstMatch.
func ParsePolicy(s string) Policy {
	if strings.EqualFold(strings.TrimSpace(s), string(Strict)) {
		return Strict
	}
	return FirstMatch
}
