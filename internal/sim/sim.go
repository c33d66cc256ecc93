// Package sim produces a deterministic vehicle state for dev mode: a level
// circle around a home point with slowly draining battery and moving sticks.
package sim

import (
	"context"
	"math"
	"time"

	"github.com/banshee-data/downlink/internal/telemetry"
	"github.com/banshee-data/downlink/internal/timeutil"
	"github.com/banshee-data/downlink/internal/units"
)

const earthRadiusM = 6378137.0

// Flight describes the simulated circuit.
type Flight struct {
	HomeLatDeg float64
	HomeLonDeg float64
	AltMSLM    float64
	RadiusM    float64
	SpeedMPS   float64

	// RawInceptors and RawEffectors write pulse widths instead of
	// normalized values, matching the encoder's raw modes.
	RawInceptors bool
	RawEffectors bool
	// GNSSDropEvery leaves the optional GNSS fields unset for one second in
	// every GNSSDropEvery seconds. Zero never drops.
	GNSSDropEvery int
}

// DefaultFlight is a 200 m circle at 20 m/s.
var DefaultFlight = Flight{
	HomeLatDeg:    47.397742,
	HomeLonDeg:    8.545594,
	AltMSLM:       488,
	RadiusM:       200,
	SpeedMPS:      20,
	GNSSDropEvery: 10,
}

// Step writes the vehicle state at time t since start into st.
func (f Flight) Step(t time.Duration, st *telemetry.State) {
	sec := t.Seconds()
	omega := f.SpeedMPS / f.RadiusM
	theta := omega * sec

	// position on the circle, counter-clockwise seen from above
	north := f.RadiusM * math.Cos(theta)
	east := f.RadiusM * math.Sin(theta)
	velN := -f.SpeedMPS * math.Sin(theta)
	velE := f.SpeedMPS * math.Cos(theta)
	climb := 0.5 * math.Sin(sec/10)

	homeLat := units.Deg2Rad(f.HomeLatDeg)
	lat := homeLat + north/earthRadiusM
	lon := units.Deg2Rad(f.HomeLonDeg) + east/(earthRadiusM*math.Cos(homeLat))
	alt := f.AltMSLM + 5*math.Cos(sec/10)
	heading := units.WrapTo2Pi(math.Atan2(velE, velN))
	bank := math.Atan(f.SpeedMPS * omega / units.StandardGravity)

	st.SetHealth(telemetry.Health{
		Gyro:       telemetry.SensorFlags{Installed: true, Healthy: true},
		Accel:      telemetry.SensorFlags{Installed: true, Healthy: true},
		Mag:        telemetry.SensorFlags{Installed: true, Healthy: true},
		StaticPres: telemetry.SensorFlags{Installed: true, Healthy: true},
		DiffPres:   telemetry.SensorFlags{Installed: true, Healthy: true},
		GNSS:       telemetry.SensorFlags{Installed: true, Healthy: true},
		Inceptor:   telemetry.SensorFlags{Installed: true, Healthy: true},
	})

	dieTemp := 35 + math.Sin(sec/60)
	st.SetIMU(telemetry.IMU{
		AccelMPS2: [3]float64{0, units.StandardGravity * math.Tan(bank), -units.StandardGravity},
		GyroRadPS: [3]float64{0, 0, omega},
		MagUT:     [3]float64{21.5 * math.Cos(heading), -21.5 * math.Sin(heading), 43.1},
		DieTempC:  telemetry.Some(dieTemp),
	})
	st.SetStaticPressure(telemetry.StaticPressure{
		PressPa:  101325 * math.Pow(1-2.25577e-5*alt, 5.25588),
		DieTempC: dieTemp - 2,
	})
	st.SetDiffPressure(telemetry.DiffPressure{
		PressPa:  0.5 * 1.225 * f.SpeedMPS * f.SpeedMPS,
		DieTempC: telemetry.Some(dieTemp - 1),
	})

	gnss := telemetry.GNSS{
		Fix:         telemetry.GNSSFix3D,
		NumSV:       telemetry.Some[uint8](14),
		LatRad:      lat,
		LonRad:      lon,
		AltMSLM:     alt,
		AltWGS84M:   alt + 47.4,
		HorzAccM:    1.2,
		VertAccM:    2.1,
		SpeedAccMPS: 0.3,
		TrackAccRad: units.Deg2Rad(1.5),
	}
	if !f.gnssDropped(sec) {
		gnss.HDOP.Set(0.8)
		gnss.VDOP.Set(1.3)
		gnss.SpeedMPS.Set(f.SpeedMPS)
		gnss.TrackRad.Set(heading)
	}
	st.SetGNSS(gnss)

	st.SetNav(telemetry.Nav{
		LatRad:     lat,
		LonRad:     lon,
		AltMSLM:    alt,
		AltAGLM:    alt - f.AltMSLM + 100,
		PosNEDM:    [3]float64{north, east, -(alt - f.AltMSLM)},
		VelNEDMPS:  [3]float64{velN, velE, -climb},
		RollRad:    bank,
		PitchRad:   units.Deg2Rad(2),
		HeadingRad: telemetry.Some(heading),
		GyroRadPS:  [3]float64{0, 0, omega},
		IASMPS:     f.SpeedMPS,
		GndSpdMPS:  f.SpeedMPS,
	})

	remaining := math.Max(0, 100-sec/36) // 1 h endurance
	st.SetBattery(telemetry.Battery{
		VoltageV:       telemetry.Some(12.6 - 2.4*(100-remaining)/100),
		CurrentMA:      telemetry.Some(15000.0),
		ConsumedMAh:    telemetry.Some(15000 * sec / 3600),
		RemainingPct:   telemetry.Some(remaining),
		RemainingTimeS: telemetry.Some(remaining * 36),
	})

	// sticks: gentle aileron and rudder oscillation, mid throttle
	inceptors := []float64{
		0.5 + 0.1*math.Sin(sec),
		0.5,
		0.6,
		0.5 + 0.05*math.Cos(sec),
		0, 0, 1, 0,
	}
	effectors := []float64{0.6, 0.5 + 0.2*math.Sin(sec), 0.5, 0.5}
	if f.RawInceptors {
		st.SetRawInceptors(toPulseWidths(inceptors))
	} else {
		st.SetInceptors(inceptors)
	}
	if f.RawEffectors {
		st.SetRawEffectors(toPulseWidths(effectors))
	} else {
		st.SetEffectors(effectors)
	}
	st.InceptorRSSI = 200
	st.ThrottlePercent = uint16(inceptors[2] * 100)

	st.SetFrameTime(5000)
}

func (f Flight) gnssDropped(sec float64) bool {
	if f.GNSSDropEvery <= 0 {
		return false
	}
	return int(sec)%f.GNSSDropEvery == f.GNSSDropEvery-1
}

func toPulseWidths(v []float64) []uint16 {
	out := make([]uint16, len(v))
	for i, x := range v {
		out[i] = uint16(units.NormalizedToPWM(x))
	}
	return out
}

// Updater applies a change to the shared state; *runner.Runner.Update
// satisfies it.
type Updater func(func(*telemetry.State))

// Run steps the flight every interval until ctx is cancelled.
func (f Flight) Run(ctx context.Context, update Updater, clock timeutil.Clock, interval time.Duration) error {
	if clock == nil {
		clock = timeutil.RealClock{}
	}
	start := clock.Now()
	ticker := clock.NewTicker(interval)
	defer ticker.Stop()

	update(func(st *telemetry.State) { f.Step(0, st) })
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C():
			t := clock.Since(start)
			update(func(st *telemetry.State) { f.Step(t, st) })
		}
	}
}
