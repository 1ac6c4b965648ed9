// Package efficiency derives CPU efficiency percentages from a sample window.
package efficiency

import (
	"errors"
	"fmt"

	"github.com/loykin/cpueff/internal/sampler"
)

// ErrInconsistentSample marks a window whose CPU counters went backwards.
var ErrInconsistentSample = errors.New("inconsistent cpu sample")

// Metrics is derived from one sample window. Percentages are relative to elapsed
// wall time and exceed 100 when a process keeps more than one core busy.
type Metrics struct {
	ElapsedWall   float64 `json:"elapsed_wall_seconds"`
	DeltaUser     float64 `json:"delta_user"`
	DeltaSystem   float64 `json:"delta_system"`
	DeltaTotal    float64 `json:"delta_total_cpu"`
	CPUPercent    float64 `json:"cpu_efficiency_pct"`
	SystemPercent float64 `json:"system_efficiency_pct"`
	UserPercent   float64 `json:"user_efficiency_pct"`
}

// InconsistentSampleError reports a negative counter delta, caused by counter
// wraparound, pid reuse or a platform bug.
type InconsistentSampleError struct {
	DeltaUser   float64
	DeltaSystem float64
}

func (e *InconsistentSampleError) Error() string {
	return fmt.Sprintf("%s: negative cpu delta (user=%.4f system=%.4f)", ErrInconsistentSample, e.DeltaUser, e.DeltaSystem)
}

func (e *InconsistentSampleError) Unwrap() error { return ErrInconsistentSample }

// Derive computes metrics for w. It has no side effects.
//
// A non-positive elapsed time yields zero percentages and no error. A negative
// counter delta yields zero percentages and an *InconsistentSampleError.
func Derive(w sampler.Window) (Metrics, error) {
	m := Metrics{
		ElapsedWall: w.T2.CapturedAt.Sub(w.T1.CapturedAt).Seconds(),
		DeltaUser:   w.T2.User - w.T1.User,
		DeltaSystem: w.T2.System - w.T1.System,
	}
	m.DeltaTotal = m.DeltaUser + m.DeltaSystem

	if m.DeltaUser < 0 || m.DeltaSystem < 0 {
		return m, &InconsistentSampleError{DeltaUser: m.DeltaUser, DeltaSystem: m.DeltaSystem}
	}
	if m.ElapsedWall <= 0 {
		return m, nil
	}
	m.UserPercent = 100 * m.DeltaUser / m.ElapsedWall
	m.SystemPercent = 100 * m.DeltaSystem / m.ElapsedWall
	m.CPUPercent = 100 * m.DeltaTotal / m.ElapsedWall
	return m, nil
}
