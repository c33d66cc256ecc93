package telemetry

import (
	"math"
	"testing"

	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/downlink/internal/units"
)

func TestAttitudePassesRollPitchUnchanged(t *testing.T) {
	e, p, _ := newTestEncoder(t, testConfig())
	e.State().SetNav(Nav{
		RollRad:    math.Pi / 4,
		PitchRad:   -0.2,
		HeadingRad: Some(1.5 * math.Pi),
		GyroRadPS:  [3]float64{0.1, 0.2, 0.3},
	})
	e.State().SetSysTime(12_345_678)

	e.Send(GroupExtra1)

	want := &common.MessageAttitude{
		TimeBootMs: 12345,
		Roll:       float32(math.Pi / 4),
		Pitch:      -0.2,
		Yaw:        float32(units.WrapToPi(1.5 * math.Pi)),
		Rollspeed:  0.1,
		Pitchspeed: 0.2,
		Yawspeed:   0.3,
	}
	if diff := cmp.Diff(want, lastOf[*common.MessageAttitude](t, p)); diff != "" {
		t.Errorf("ATTITUDE mismatch (-want +got):\n%s", diff)
	}
}

func TestVFRHeadingWrapsNegative(t *testing.T) {
	e, p, _ := newTestEncoder(t, testConfig())
	e.State().SetNav(Nav{HeadingRad: Some(-0.1)})

	e.Send(GroupExtra2)

	hud := lastOf[*common.MessageVfrHud](t, p)
	assert.Equal(t, int16(units.Rad2Deg(2*math.Pi-0.1)), hud.Heading)
	assert.Equal(t, int16(354), hud.Heading)
}

func TestHeadingStaleWhenUnset(t *testing.T) {
	e, p, _ := newTestEncoder(t, testConfig())
	nav := Nav{HeadingRad: Some(math.Pi / 2)}
	e.State().SetNav(nav)
	e.Send(GroupPosition)
	e.Send(GroupExtra2)

	e.State().Nav.HeadingRad.Clear()
	e.Send(GroupPosition)
	e.Send(GroupExtra1)
	e.Send(GroupExtra2)

	assert.InDelta(t, 9000, lastOf[*common.MessageGlobalPositionInt](t, p).Hdg, 1)
	assert.InDelta(t, 90, lastOf[*common.MessageVfrHud](t, p).Heading, 1)
	assert.InDelta(t, math.Pi/2, lastOf[*common.MessageAttitude](t, p).Yaw, 1e-6)
}

func TestHeadingUnknownBeforeFirstValue(t *testing.T) {
	e, p, _ := newTestEncoder(t, testConfig())
	e.Send(GroupPosition)
	assert.Equal(t, uint16(math.MaxUint16), lastOf[*common.MessageGlobalPositionInt](t, p).Hdg)
}

func TestHeadingStalePerMessage(t *testing.T) {
	e, p, _ := newTestEncoder(t, testConfig())
	e.State().SetNav(Nav{HeadingRad: Some(math.Pi / 2)})
	e.Send(GroupExtra1)

	e.State().Nav.HeadingRad.Clear()
	e.Send(GroupPosition)
	e.Send(GroupExtra2)

	assert.InDelta(t, math.Pi/2, lastOf[*common.MessageAttitude](t, p).Yaw, 1e-6)
	assert.Equal(t, uint16(math.MaxUint16), lastOf[*common.MessageGlobalPositionInt](t, p).Hdg,
		"GLOBAL_POSITION_INT never carried a heading")
	assert.Equal(t, int16(0), lastOf[*common.MessageVfrHud](t, p).Heading,
		"VFR_HUD never carried a heading")
}

func TestBatteryValuesPersistWhenUnset(t *testing.T) {
	e, p, _ := newTestEncoder(t, testConfig())

	e.Send(GroupExtendedStatus)
	sys := lastOf[*common.MessageSysStatus](t, p)
	assert.Equal(t, uint16(math.MaxUint16), sys.VoltageBattery)
	assert.Equal(t, int16(-1), sys.CurrentBattery)
	assert.Equal(t, int8(-1), sys.BatteryRemaining)

	e.State().SetBattery(Battery{
		VoltageV:       Some(12.5),
		CurrentMA:      Some(1500.0),
		ConsumedMAh:    Some(250.0),
		RemainingPct:   Some(87.9),
		RemainingTimeS: Some(600.0),
	})
	e.Send(GroupExtendedStatus)

	e.State().SetBattery(Battery{})
	e.Send(GroupExtendedStatus)

	sys = lastOf[*common.MessageSysStatus](t, p)
	assert.Equal(t, uint16(12500), sys.VoltageBattery)
	assert.Equal(t, int16(150), sys.CurrentBattery)
	assert.Equal(t, int8(87), sys.BatteryRemaining)

	bat := lastOf[*common.MessageBatteryStatus](t, p)
	assert.Equal(t, uint16(12500), bat.Voltages[0])
	assert.Equal(t, uint16(math.MaxUint16), bat.Voltages[1])
	assert.Equal(t, int16(150), bat.CurrentBattery)
	assert.Equal(t, int32(250), bat.CurrentConsumed)
	assert.Equal(t, int32(600), bat.TimeRemaining)
	assert.Equal(t, int8(87), bat.BatteryRemaining)
	assert.Equal(t, int16(math.MaxInt16), bat.Temperature)
	assert.Equal(t, int32(-1), bat.EnergyConsumed)
}

func TestBatteryStatusIdentity(t *testing.T) {
	cfg := testConfig()
	cfg.BatteryID = 2
	cfg.BatteryFunction = common.MAV_BATTERY_FUNCTION_PROPULSION
	cfg.BatteryType = common.MAV_BATTERY_TYPE_LIPO
	e, p, _ := newTestEncoder(t, cfg)

	e.Send(GroupExtendedStatus)

	bat := lastOf[*common.MessageBatteryStatus](t, p)
	assert.Equal(t, uint8(2), bat.Id)
	assert.Equal(t, common.MAV_BATTERY_FUNCTION_PROPULSION, bat.BatteryFunction)
	assert.Equal(t, common.MAV_BATTERY_TYPE_LIPO, bat.Type)
}

func TestSysStatusLoadAndSensors(t *testing.T) {
	e, p, _ := newTestEncoder(t, testConfig())
	st := e.State()
	st.SetFrameTime(500)
	st.SetHealth(Health{
		Gyro:     SensorFlags{Installed: true, Healthy: true},
		GNSS:     SensorFlags{Installed: true, Healthy: false},
		Inceptor: SensorFlags{Installed: true, Healthy: true},
	})
	st.SetLinkStats(LinkStats{DropRateComm: 25, ErrorsComm: 3})

	e.Send(GroupExtendedStatus)

	sys := lastOf[*common.MessageSysStatus](t, p)
	assert.Equal(t, uint16(500), sys.Load)
	present := common.MAV_SYS_STATUS_SENSOR_3D_GYRO | common.MAV_SYS_STATUS_SENSOR_GPS | common.MAV_SYS_STATUS_SENSOR_RC_RECEIVER
	assert.Equal(t, present, sys.OnboardControlSensorsPresent)
	assert.Equal(t, present, sys.OnboardControlSensorsEnabled)
	assert.Equal(t, common.MAV_SYS_STATUS_SENSOR_3D_GYRO|common.MAV_SYS_STATUS_SENSOR_RC_RECEIVER, sys.OnboardControlSensorsHealth)
	assert.Equal(t, uint16(25), sys.DropRateComm)
	assert.Equal(t, uint16(3), sys.ErrorsComm)
}

func TestDieTemperatureZeroForcing(t *testing.T) {
	tests := []struct {
		name  string
		tempC float64
		want  int16
	}{
		{"exact zero", 0, 1},
		{"rounds to zero", 0.004, 1},
		{"positive", 21.5, 2150},
		{"negative", -3.25, -325},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, p, _ := newTestEncoder(t, testConfig())
			st := e.State()
			st.SetIMU(IMU{DieTempC: Some(tt.tempC)})
			st.SetDiffPressure(DiffPressure{DieTempC: Some(tt.tempC)})
			st.SetStaticPressure(StaticPressure{DieTempC: tt.tempC})

			e.Send(GroupRawSensors)

			assert.Equal(t, tt.want, lastOf[*common.MessageScaledImu](t, p).Temperature)
			press := lastOf[*common.MessageScaledPressure](t, p)
			assert.Equal(t, tt.want, press.TemperaturePressDiff)
			// static die temperature is always present and never nudged
			assert.Equal(t, units.Int16(tt.tempC*100), press.Temperature)
		})
	}
}

func TestDieTemperatureUnsetMeansUnavailable(t *testing.T) {
	e, p, _ := newTestEncoder(t, testConfig())
	e.Send(GroupRawSensors)
	assert.Equal(t, int16(0), lastOf[*common.MessageScaledImu](t, p).Temperature)
	assert.Equal(t, int16(0), lastOf[*common.MessageScaledPressure](t, p).TemperaturePressDiff)
}

func TestScaledIMUConversions(t *testing.T) {
	e, p, _ := newTestEncoder(t, testConfig())
	e.State().SetIMU(IMU{
		AccelMPS2: [3]float64{0, 0, -units.StandardGravity},
		GyroRadPS: [3]float64{0.5, -0.25, 0.001},
		MagUT:     [3]float64{20.5, -4, 45},
	})
	e.State().SetSysTime(2_000_999)

	e.Send(GroupRawSensors)

	want := &common.MessageScaledImu{
		TimeBootMs: 2000,
		Xacc:       0,
		Yacc:       0,
		Zacc:       -1000,
		Xgyro:      500,
		Ygyro:      -250,
		Zgyro:      1,
		Xmag:       205,
		Ymag:       -40,
		Zmag:       450,
	}
	if diff := cmp.Diff(want, lastOf[*common.MessageScaledImu](t, p)); diff != "" {
		t.Errorf("SCALED_IMU mismatch (-want +got):\n%s", diff)
	}
}

func TestScaledPressure(t *testing.T) {
	e, p, _ := newTestEncoder(t, testConfig())
	e.State().SetStaticPressure(StaticPressure{PressPa: 101325})
	e.State().SetDiffPressure(DiffPressure{PressPa: 250})

	e.Send(GroupRawSensors)

	press := lastOf[*common.MessageScaledPressure](t, p)
	assert.InDelta(t, 1013.25, press.PressAbs, 1e-3)
	assert.InDelta(t, 2.5, press.PressDiff, 1e-6)
}

func TestGPSRawInt(t *testing.T) {
	e, p, _ := newTestEncoder(t, testConfig())
	e.State().SetSysTime(42_000_123)
	e.State().SetGNSS(GNSS{
		Fix:         GNSSFix3D,
		NumSV:       Some(uint8(14)),
		LatRad:      units.Deg2Rad(45),
		LonRad:      units.Deg2Rad(-122.5),
		AltMSLM:     100.25,
		AltWGS84M:   80.5,
		HDOP:        Some(0.9),
		VDOP:        Some(1.5),
		SpeedMPS:    Some(12.34),
		TrackRad:    Some(-math.Pi / 2),
		HorzAccM:    1.5,
		VertAccM:    2.25,
		SpeedAccMPS: 0.3,
		TrackAccRad: units.Deg2Rad(2),
	})

	e.Send(GroupRawSensors)

	gps := lastOf[*common.MessageGpsRawInt](t, p)
	assert.Equal(t, uint64(42_000_123), gps.TimeUsec)
	assert.Equal(t, common.GPS_FIX_TYPE_3D_FIX, gps.FixType)
	assert.Equal(t, uint8(14), gps.SatellitesVisible)
	assert.InDelta(t, 450000000, gps.Lat, 1)
	assert.InDelta(t, -1225000000, gps.Lon, 1)
	assert.Equal(t, int32(100250), gps.Alt)
	assert.Equal(t, int32(80500), gps.AltEllipsoid)
	assert.InDelta(t, 90, gps.Eph, 1)
	assert.Equal(t, uint16(150), gps.Epv)
	assert.InDelta(t, 1234, gps.Vel, 1)
	assert.InDelta(t, 27000, gps.Cog, 1)
	assert.Equal(t, uint32(1500), gps.HAcc)
	assert.Equal(t, uint32(2250), gps.VAcc)
	assert.InDelta(t, 300, gps.VelAcc, 1)
	assert.InDelta(t, 200000, gps.HdgAcc, 1)
}

func TestGPSRawIntStaleAndUnknownFix(t *testing.T) {
	e, p, _ := newTestEncoder(t, testConfig())

	e.Send(GroupRawSensors)
	gps := lastOf[*common.MessageGpsRawInt](t, p)
	assert.Equal(t, common.GPS_FIX_TYPE_NO_FIX, gps.FixType)
	assert.Equal(t, uint16(math.MaxUint16), gps.Eph)
	assert.Equal(t, uint16(math.MaxUint16), gps.Cog)
	assert.Equal(t, uint8(math.MaxUint8), gps.SatellitesVisible)

	e.State().SetGNSS(GNSS{
		Fix:      GNSSFixRTKFixed,
		NumSV:    Some(uint8(20)),
		HDOP:     Some(0.5),
		SpeedMPS: Some(3.0),
	})
	e.Send(GroupRawSensors)

	e.State().SetGNSS(GNSS{Fix: GNSSFix(42)})
	e.Send(GroupRawSensors)

	gps = lastOf[*common.MessageGpsRawInt](t, p)
	assert.Equal(t, common.GPS_FIX_TYPE_RTK_FIXED, gps.FixType)
	assert.Equal(t, uint8(20), gps.SatellitesVisible)
	assert.Equal(t, uint16(50), gps.Eph)
	assert.Equal(t, uint16(300), gps.Vel)
}

func TestGlobalPositionInt(t *testing.T) {
	e, p, _ := newTestEncoder(t, testConfig())
	e.State().SetNav(Nav{
		LatRad:    units.Deg2Rad(-33.5),
		LonRad:    units.Deg2Rad(151.25),
		AltMSLM:   120.5,
		AltAGLM:   30.25,
		PosNEDM:   [3]float64{10, -5, -30},
		VelNEDMPS: [3]float64{12.5, -3.2, 1.5},
	})

	e.Send(GroupPosition)

	pos := lastOf[*common.MessageGlobalPositionInt](t, p)
	assert.InDelta(t, -335000000, pos.Lat, 1)
	assert.InDelta(t, 1512500000, pos.Lon, 1)
	assert.Equal(t, int32(120500), pos.Alt)
	assert.Equal(t, int32(30250), pos.RelativeAlt)
	assert.Equal(t, int16(1250), pos.Vx)
	assert.InDelta(t, -320, pos.Vy, 1)
	assert.Equal(t, int16(150), pos.Vz)

	local := lastOf[*common.MessageLocalPositionNed](t, p)
	assert.Equal(t, float32(10), local.X)
	assert.Equal(t, float32(-30), local.Z)
	assert.Equal(t, float32(12.5), local.Vx)
}

func TestChannelMapping(t *testing.T) {
	t.Run("normalized", func(t *testing.T) {
		e, p, _ := newTestEncoder(t, testConfig())
		e.State().SetInceptors([]float64{0, 1, 0.5})
		e.State().SetEffectors([]float64{0, 1})

		e.Send(GroupRCChannels)

		rc := lastOf[*common.MessageRcChannels](t, p)
		assert.Equal(t, uint8(3), rc.Chancount)
		assert.Equal(t, uint16(1000), rc.Chan1Raw)
		assert.Equal(t, uint16(2000), rc.Chan2Raw)
		assert.Equal(t, uint16(1500), rc.Chan3Raw)
		assert.Equal(t, uint16(math.MaxUint16), rc.Chan4Raw)
		assert.Equal(t, uint8(math.MaxUint8), rc.Rssi)

		servo := lastOf[*common.MessageServoOutputRaw](t, p)
		assert.Equal(t, uint16(1000), servo.Servo1Raw)
		assert.Equal(t, uint16(2000), servo.Servo2Raw)
		assert.Equal(t, uint16(1000), servo.Servo16Raw)
	})

	t.Run("raw", func(t *testing.T) {
		cfg := testConfig()
		cfg.RawInceptors = true
		cfg.RawEffectors = true
		cfg.ServoPort = 1
		e, p, _ := newTestEncoder(t, cfg)
		e.State().SetRawInceptors([]uint16{1500, 1100})
		e.State().SetRawEffectors([]uint16{1234})
		e.State().InceptorRSSI = 200
		e.State().SetSysTime(1 << 33)

		e.Send(GroupRCChannels)

		rc := lastOf[*common.MessageRcChannels](t, p)
		assert.Equal(t, uint8(2), rc.Chancount)
		assert.Equal(t, uint16(1500), rc.Chan1Raw)
		assert.Equal(t, uint16(1100), rc.Chan2Raw)
		assert.Equal(t, uint8(200), rc.Rssi)

		servo := lastOf[*common.MessageServoOutputRaw](t, p)
		assert.Equal(t, uint16(1234), servo.Servo1Raw)
		assert.Equal(t, uint16(0), servo.Servo2Raw)
		assert.Equal(t, uint8(1), servo.Port)
		assert.Equal(t, uint32(0), servo.TimeUsec, "µs time is truncated to 32 bits")
	})
}

func TestSetInceptorsCapsChannels(t *testing.T) {
	var st State
	st.SetInceptors(make([]float64, 25))
	assert.Equal(t, MaxInceptors, st.InceptorCount)
	st.SetRawInceptors(make([]uint16, 4))
	assert.Equal(t, 4, st.InceptorCount)
}

func TestVFRHUDThrottle(t *testing.T) {
	cfg := testConfig()
	cfg.ThrottleChannel = 2
	e, p, _ := newTestEncoder(t, cfg)
	e.State().SetInceptors([]float64{0, 0, 0.75})
	e.State().ThrottlePercent = 33
	e.State().SetNav(Nav{IASMPS: 21, GndSpdMPS: 19.5, AltMSLM: 250, VelNEDMPS: [3]float64{0, 0, -2}})

	e.Send(GroupExtra2)
	hud := lastOf[*common.MessageVfrHud](t, p)
	assert.Equal(t, uint16(75), hud.Throttle)
	assert.Equal(t, float32(21), hud.Airspeed)
	assert.Equal(t, float32(19.5), hud.Groundspeed)
	assert.Equal(t, float32(250), hud.Alt)
	assert.Equal(t, float32(2), hud.Climb)

	cfg.UseThrottlePercent = true
	e, p, _ = newTestEncoder(t, cfg)
	e.State().ThrottlePercent = 33
	e.Send(GroupExtra2)
	require.NotEmpty(t, p.msgs)
	assert.Equal(t, uint16(33), lastOf[*common.MessageVfrHud](t, p).Throttle)
}
