package sim

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/downlink/internal/telemetry"
	"github.com/banshee-data/downlink/internal/timeutil"
	"github.com/banshee-data/downlink/internal/units"
)

func TestStepFillsState(t *testing.T) {
	var st telemetry.State
	DefaultFlight.Step(0, &st)

	assert.True(t, st.Health.GNSS.Healthy)
	assert.InDelta(t, units.Deg2Rad(DefaultFlight.HomeLatDeg)+200/earthRadiusM, st.Nav.LatRad, 1e-12)
	assert.InDelta(t, units.Deg2Rad(DefaultFlight.HomeLonDeg), st.Nav.LonRad, 1e-12)
	assert.InDelta(t, 0.0, st.Nav.VelNEDMPS[0], 1e-9)
	assert.InDelta(t, 20.0, st.Nav.VelNEDMPS[1], 1e-9)

	heading, ok := st.Nav.HeadingRad.Get()
	require.True(t, ok)
	assert.InDelta(t, math.Pi/2, heading, 1e-9)

	assert.Equal(t, 8, st.InceptorCount)
	assert.InDelta(t, 0.6, st.Inceptors[2], 1e-12)
	assert.Equal(t, uint16(60), st.ThrottlePercent)
	assert.Equal(t, uint32(5000), st.FrameTimeUs)

	pct, ok := st.Battery.RemainingPct.Get()
	require.True(t, ok)
	assert.Equal(t, 100.0, pct)
}

func TestStepIsDeterministic(t *testing.T) {
	var a, b telemetry.State
	DefaultFlight.Step(12345*time.Millisecond, &a)
	DefaultFlight.Step(12345*time.Millisecond, &b)
	assert.Equal(t, a, b)
}

func TestStepCompletesCircle(t *testing.T) {
	f := DefaultFlight
	period := time.Duration(2 * math.Pi * f.RadiusM / f.SpeedMPS * float64(time.Second))

	var start, end telemetry.State
	f.Step(0, &start)
	f.Step(period, &end)
	assert.InDelta(t, start.Nav.PosNEDM[0], end.Nav.PosNEDM[0], 1e-6)
	assert.InDelta(t, start.Nav.PosNEDM[1], end.Nav.PosNEDM[1], 1e-6)
}

func TestGNSSDrop(t *testing.T) {
	var st telemetry.State
	DefaultFlight.Step(9500*time.Millisecond, &st)
	_, ok := st.GNSS.HDOP.Get()
	assert.False(t, ok)
	_, ok = st.GNSS.TrackRad.Get()
	assert.False(t, ok)
	_, ok = st.GNSS.NumSV.Get()
	assert.True(t, ok, "satellite count is always reported")

	DefaultFlight.Step(10500*time.Millisecond, &st)
	_, ok = st.GNSS.HDOP.Get()
	assert.True(t, ok)

	f := DefaultFlight
	f.GNSSDropEvery = 0
	f.Step(9500*time.Millisecond, &st)
	_, ok = st.GNSS.HDOP.Get()
	assert.True(t, ok)
}

func TestRawChannels(t *testing.T) {
	f := DefaultFlight
	f.RawInceptors = true
	f.RawEffectors = true
	var st telemetry.State
	f.Step(0, &st)

	assert.Equal(t, 1600.0, st.Inceptors[2])
	assert.Equal(t, 2000.0, st.Inceptors[6])
	assert.Equal(t, 1600.0, st.Effectors[0])
}

func TestRun(t *testing.T) {
	clock := timeutil.NewMockClock(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))

	var mu sync.Mutex
	var st telemetry.State
	updates := 0
	update := func(fn func(*telemetry.State)) {
		mu.Lock()
		defer mu.Unlock()
		fn(&st)
		updates++
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- DefaultFlight.Run(ctx, update, clock, 100*time.Millisecond) }()

	require.Eventually(t, func() bool {
		clock.Advance(100 * time.Millisecond)
		mu.Lock()
		defer mu.Unlock()
		return updates >= 3
	}, 2*time.Second, time.Millisecond)

	mu.Lock()
	assert.NotZero(t, st.Nav.LatRad)
	mu.Unlock()

	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
