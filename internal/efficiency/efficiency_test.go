package efficiency

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/cpueff/internal/sampler"
)

const eps = 1e-9

func window(wall1, user1, sys1, wall2, user2, sys2 float64) sampler.Window {
	base := time.Unix(0, 0)
	at := func(s float64) time.Time { return base.Add(time.Duration(s * float64(time.Second))) }
	return sampler.Window{
		T1: sampler.Snapshot{CapturedAt: at(wall1), User: user1, System: sys1},
		T2: sampler.Snapshot{CapturedAt: at(wall2), User: user2, System: sys2},
	}
}

func TestDerive_SampleApp(t *testing.T) {
	m, err := Derive(window(100.0, 1.0, 0.5, 102.0, 1.5, 0.9))
	require.NoError(t, err)

	assert.InDelta(t, 2.0, m.ElapsedWall, eps)
	assert.InDelta(t, 0.5, m.DeltaUser, eps)
	assert.InDelta(t, 0.4, m.DeltaSystem, eps)
	assert.InDelta(t, 0.9, m.DeltaTotal, eps)
	assert.InDelta(t, 45.0, m.CPUPercent, eps)
	assert.InDelta(t, 20.0, m.SystemPercent, eps)
	assert.InDelta(t, 25.0, m.UserPercent, eps)
}

func TestDerive_Identities(t *testing.T) {
	cases := []sampler.Window{
		window(0, 0, 0, 1, 0.25, 0.75),
		window(10, 3, 1, 15, 3, 1),
		window(0, 0, 0, 0.5, 1.6, 0.3), // multi-core: above 100%
		window(1000, 12.5, 4.25, 1003.3, 19.1, 6.0),
	}
	for _, w := range cases {
		m, err := Derive(w)
		require.NoError(t, err)
		require.Greater(t, m.ElapsedWall, 0.0)
		assert.InDelta(t, m.DeltaUser+m.DeltaSystem, m.DeltaTotal, eps)
		assert.InDelta(t, 100*(m.DeltaUser+m.DeltaSystem)/m.ElapsedWall, m.CPUPercent, 1e-6)
		assert.InDelta(t, m.SystemPercent+m.UserPercent, m.CPUPercent, 1e-6)
	}
}

func TestDerive_ZeroOrNegativeElapsed(t *testing.T) {
	for _, w := range []sampler.Window{
		window(5, 1, 1, 5, 2, 2),
		window(5, 1, 1, 4, 2, 2),
	} {
		m, err := Derive(w)
		require.NoError(t, err)
		assert.Zero(t, m.CPUPercent)
		assert.Zero(t, m.SystemPercent)
		assert.Zero(t, m.UserPercent)
		assert.False(t, math.IsNaN(m.CPUPercent))
		assert.InDelta(t, 2.0, m.DeltaTotal, eps)
	}
}

func TestDerive_Idempotent(t *testing.T) {
	w := window(1, 2, 3, 4, 5, 6)
	a, errA := Derive(w)
	b, errB := Derive(w)
	assert.Equal(t, a, b)
	assert.Equal(t, errA, errB)
}

func TestDerive_NegativeDelta(t *testing.T) {
	tests := []struct {
		name string
		w    sampler.Window
	}{
		{"user rollback", window(0, 5, 1, 2, 4, 1.5)},
		{"system rollback", window(0, 5, 1, 2, 6, 0.5)},
		{"both rollback", window(0, 5, 1, 2, 0, 0)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := Derive(tt.w)
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrInconsistentSample))

			var ie *InconsistentSampleError
			require.ErrorAs(t, err, &ie)
			assert.Equal(t, m.DeltaUser, ie.DeltaUser)
			assert.Contains(t, err.Error(), "negative cpu delta")

			assert.Zero(t, m.CPUPercent)
			assert.Zero(t, m.SystemPercent)
			assert.Zero(t, m.UserPercent)
		})
	}
}
