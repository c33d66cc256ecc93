package telemetry

import (
	"math"

	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"

	"github.com/banshee-data/downlink/internal/units"
)

func (e *Encoder) sendAll() {
	e.sendRawSensors()
	e.sendExtendedStatus()
	e.sendRCChannels()
	e.sendRawController()
	e.sendPosition()
	e.sendExtra1()
	e.sendExtra2()
	e.sendExtra3()
}

func (e *Encoder) sendRawSensors() {
	e.send(e.scaledIMU())
	e.send(e.gpsRawInt())
	e.send(e.scaledPressure())
}

func (e *Encoder) sendExtendedStatus() {
	e.send(e.sysStatus())
	e.send(e.batteryStatus())
}

func (e *Encoder) sendRCChannels() {
	e.send(e.servoOutputRaw())
	e.send(e.rcChannels())
}

// Nothing is assigned to the raw controller stream yet.
func (e *Encoder) sendRawController() {}

func (e *Encoder) sendPosition() {
	e.send(e.localPositionNED())
	e.send(e.globalPositionInt())
}

func (e *Encoder) sendExtra1() {
	e.send(e.attitude())
}

func (e *Encoder) sendExtra2() {
	e.send(e.vfrHUD())
}

// Nothing is assigned to extra3 yet.
func (e *Encoder) sendExtra3() {}

func (e *Encoder) timeBootMs() uint32 {
	return uint32(e.state.SysTimeUs / 1000)
}

func sensorBits(h Health) (present, healthy common.MAV_SYS_STATUS_SENSOR) {
	classes := []struct {
		flags SensorFlags
		bit   common.MAV_SYS_STATUS_SENSOR
	}{
		{h.Gyro, common.MAV_SYS_STATUS_SENSOR_3D_GYRO},
		{h.Accel, common.MAV_SYS_STATUS_SENSOR_3D_ACCEL},
		{h.Mag, common.MAV_SYS_STATUS_SENSOR_3D_MAG},
		{h.StaticPres, common.MAV_SYS_STATUS_SENSOR_ABSOLUTE_PRESSURE},
		{h.DiffPres, common.MAV_SYS_STATUS_SENSOR_DIFFERENTIAL_PRESSURE},
		{h.GNSS, common.MAV_SYS_STATUS_SENSOR_GPS},
		{h.Inceptor, common.MAV_SYS_STATUS_SENSOR_RC_RECEIVER},
	}
	for _, c := range classes {
		if c.flags.Installed {
			present |= c.bit
		}
		if c.flags.Healthy {
			healthy |= c.bit
		}
	}
	return present, healthy
}

// sysStatus and batteryStatus each keep their own packed battery values, so a
// message only ever repeats what it last sent itself.
func (e *Encoder) sysStatus() *common.MessageSysStatus {
	b := &e.state.Battery
	if v, ok := b.VoltageV.Get(); ok {
		e.out.sysVoltage = units.Uint16(units.VoltsToMillivolts(v))
	}
	if ma, ok := b.CurrentMA.Get(); ok {
		e.out.sysCurrent = units.Int16(units.MilliampsToCentiamps(ma))
	}
	if pct, ok := b.RemainingPct.Get(); ok {
		e.out.batteryRemaining = units.Int8(pct)
	}
	present, healthy := sensorBits(e.state.Health)
	return &common.MessageSysStatus{
		OnboardControlSensorsPresent: present,
		OnboardControlSensorsEnabled: present,
		OnboardControlSensorsHealth:  healthy,
		Load:                         units.Uint16(1000 * float64(e.state.FrameTimeUs) / float64(e.cfg.FramePeriodUs)),
		VoltageBattery:               e.out.sysVoltage,
		CurrentBattery:               e.out.sysCurrent,
		BatteryRemaining:             e.out.batteryRemaining,
		DropRateComm:                 e.state.Link.DropRateComm,
		ErrorsComm:                   e.state.Link.ErrorsComm,
	}
}

func (e *Encoder) batteryStatus() *common.MessageBatteryStatus {
	b := &e.state.Battery
	if v, ok := b.VoltageV.Get(); ok {
		e.out.cellVoltages[0] = units.Uint16(units.VoltsToMillivolts(v))
	}
	if ma, ok := b.CurrentMA.Get(); ok {
		e.out.battCurrent = units.Int16(units.MilliampsToCentiamps(ma))
	}
	if pct, ok := b.RemainingPct.Get(); ok {
		e.out.batteryRemaining = units.Int8(pct)
	}
	if mah, ok := b.ConsumedMAh.Get(); ok {
		e.out.battConsumed = units.Int32(mah)
	}
	if s, ok := b.RemainingTimeS.Get(); ok {
		e.out.battTimeLeft = units.Int32(s)
	}
	return &common.MessageBatteryStatus{
		Id:               e.cfg.BatteryID,
		BatteryFunction:  e.cfg.BatteryFunction,
		Type:             e.cfg.BatteryType,
		Temperature:      math.MaxInt16,
		Voltages:         e.out.cellVoltages,
		CurrentBattery:   e.out.battCurrent,
		CurrentConsumed:  e.out.battConsumed,
		EnergyConsumed:   -1,
		BatteryRemaining: e.out.batteryRemaining,
		TimeRemaining:    e.out.battTimeLeft,
	}
}

func gpsFixType(f GNSSFix) (common.GPS_FIX_TYPE, bool) {
	switch f {
	case GNSSFixNone:
		return common.GPS_FIX_TYPE_NO_FIX, true
	case GNSSFix2D:
		return common.GPS_FIX_TYPE_2D_FIX, true
	case GNSSFix3D:
		return common.GPS_FIX_TYPE_3D_FIX, true
	case GNSSFixDGNSS:
		return common.GPS_FIX_TYPE_DGPS, true
	case GNSSFixRTKFloat:
		return common.GPS_FIX_TYPE_RTK_FLOAT, true
	case GNSSFixRTKFixed:
		return common.GPS_FIX_TYPE_RTK_FIXED, true
	}
	return 0, false
}

// latLonE7 converts radians to degrees scaled by 1e7.
func latLonE7(rad float64) int32 {
	return units.Int32(units.Rad2Deg(rad) * 1e7)
}

// centiDegrees converts a heading in radians to centidegrees in [0, 36000).
func centiDegrees(rad float64) uint16 {
	return units.Uint16(units.Rad2Deg(units.WrapTo2Pi(rad)) * 100)
}

func (e *Encoder) gpsRawInt() *common.MessageGpsRawInt {
	g := &e.state.GNSS
	if fix, ok := gpsFixType(g.Fix); ok {
		e.out.fix = fix
	}
	if n, ok := g.NumSV.Get(); ok {
		e.out.numSV = n
	}
	if hdop, ok := g.HDOP.Get(); ok {
		e.out.eph = units.Uint16(hdop * 100)
	}
	if vdop, ok := g.VDOP.Get(); ok {
		e.out.epv = units.Uint16(vdop * 100)
	}
	if spd, ok := g.SpeedMPS.Get(); ok {
		e.out.vel = units.Uint16(units.ConvertSpeed(spd, units.CMPS))
	}
	if trk, ok := g.TrackRad.Get(); ok {
		e.out.cog = centiDegrees(trk)
	}
	return &common.MessageGpsRawInt{
		TimeUsec:          e.state.SysTimeUs,
		FixType:           e.out.fix,
		Lat:               latLonE7(g.LatRad),
		Lon:               latLonE7(g.LonRad),
		Alt:               units.Int32(units.MetersToMillimeters(g.AltMSLM)),
		Eph:               e.out.eph,
		Epv:               e.out.epv,
		Vel:               e.out.vel,
		Cog:               e.out.cog,
		SatellitesVisible: e.out.numSV,
		AltEllipsoid:      units.Int32(units.MetersToMillimeters(g.AltWGS84M)),
		HAcc:              units.Uint32(units.MetersToMillimeters(g.HorzAccM)),
		VAcc:              units.Uint32(units.MetersToMillimeters(g.VertAccM)),
		VelAcc:            units.Uint32(units.ConvertSpeed(g.SpeedAccMPS, units.MMPS)),
		HdgAcc:            units.Uint32(units.Rad2Deg(g.TrackAccRad) * 1e5),
	}
}

func dieTemp(c float64) int16 {
	return units.NonZeroInt16(units.Int16(units.CelsiusToCenti(c)))
}

func (e *Encoder) scaledIMU() *common.MessageScaledImu {
	m := &e.state.IMU
	if c, ok := m.DieTempC.Get(); ok {
		e.out.imuTemp = dieTemp(c)
	}
	accel := func(i int) int16 { return units.Int16(units.ConvertAccel(m.AccelMPS2[i], units.MG)) }
	gyro := func(i int) int16 { return units.Int16(m.GyroRadPS[i] * 1000) }
	mag := func(i int) int16 { return units.Int16(m.MagUT[i] * 10) }
	return &common.MessageScaledImu{
		TimeBootMs:  e.timeBootMs(),
		Xacc:        accel(0),
		Yacc:        accel(1),
		Zacc:        accel(2),
		Xgyro:       gyro(0),
		Ygyro:       gyro(1),
		Zgyro:       gyro(2),
		Xmag:        mag(0),
		Ymag:        mag(1),
		Zmag:        mag(2),
		Temperature: e.out.imuTemp,
	}
}

func (e *Encoder) scaledPressure() *common.MessageScaledPressure {
	if c, ok := e.state.DiffPres.DieTempC.Get(); ok {
		e.out.diffTemp = dieTemp(c)
	}
	return &common.MessageScaledPressure{
		TimeBootMs:           e.timeBootMs(),
		PressAbs:             float32(units.PascalToHectopascal(e.state.StaticPres.PressPa)),
		PressDiff:            float32(units.PascalToHectopascal(e.state.DiffPres.PressPa)),
		Temperature:          units.Int16(units.CelsiusToCenti(e.state.StaticPres.DieTempC)),
		TemperaturePressDiff: e.out.diffTemp,
	}
}

func channelValue(v float64, raw bool) uint16 {
	if raw {
		return units.Uint16(v)
	}
	return units.Uint16(units.NormalizedToPWM(v))
}

func (e *Encoder) servoOutputRaw() *common.MessageServoOutputRaw {
	var s [MaxEffectors]uint16
	for i := range s {
		s[i] = channelValue(e.state.Effectors[i], e.cfg.RawEffectors)
	}
	return &common.MessageServoOutputRaw{
		TimeUsec:   uint32(e.state.SysTimeUs),
		Port:       e.cfg.ServoPort,
		Servo1Raw:  s[0],
		Servo2Raw:  s[1],
		Servo3Raw:  s[2],
		Servo4Raw:  s[3],
		Servo5Raw:  s[4],
		Servo6Raw:  s[5],
		Servo7Raw:  s[6],
		Servo8Raw:  s[7],
		Servo9Raw:  s[8],
		Servo10Raw: s[9],
		Servo11Raw: s[10],
		Servo12Raw: s[11],
		Servo13Raw: s[12],
		Servo14Raw: s[13],
		Servo15Raw: s[14],
		Servo16Raw: s[15],
	}
}

func (e *Encoder) rcChannels() *common.MessageRcChannels {
	var c [MaxInceptors]uint16
	n := min(max(e.state.InceptorCount, 0), MaxInceptors)
	for i := range c {
		if i < n {
			c[i] = channelValue(e.state.Inceptors[i], e.cfg.RawInceptors)
		} else {
			c[i] = math.MaxUint16
		}
	}
	return &common.MessageRcChannels{
		TimeBootMs: e.timeBootMs(),
		Chancount:  uint8(n),
		Chan1Raw:   c[0],
		Chan2Raw:   c[1],
		Chan3Raw:   c[2],
		Chan4Raw:   c[3],
		Chan5Raw:   c[4],
		Chan6Raw:   c[5],
		Chan7Raw:   c[6],
		Chan8Raw:   c[7],
		Chan9Raw:   c[8],
		Chan10Raw:  c[9],
		Chan11Raw:  c[10],
		Chan12Raw:  c[11],
		Chan13Raw:  c[12],
		Chan14Raw:  c[13],
		Chan15Raw:  c[14],
		Chan16Raw:  c[15],
		Chan17Raw:  c[16],
		Chan18Raw:  c[17],
		Rssi:       e.state.InceptorRSSI,
	}
}

func (e *Encoder) localPositionNED() *common.MessageLocalPositionNed {
	n := &e.state.Nav
	return &common.MessageLocalPositionNed{
		TimeBootMs: e.timeBootMs(),
		X:          float32(n.PosNEDM[0]),
		Y:          float32(n.PosNEDM[1]),
		Z:          float32(n.PosNEDM[2]),
		Vx:         float32(n.VelNEDMPS[0]),
		Vy:         float32(n.VelNEDMPS[1]),
		Vz:         float32(n.VelNEDMPS[2]),
	}
}

// heading returns the nav heading when set. Each sender keeps its own packed
// form so an unset heading repeats the value that message last carried.
func (e *Encoder) heading() (float64, bool) {
	return e.state.Nav.HeadingRad.Get()
}

func (e *Encoder) globalPositionInt() *common.MessageGlobalPositionInt {
	if h, ok := e.heading(); ok {
		e.out.hdgCd = centiDegrees(h)
	}
	n := &e.state.Nav
	cms := func(v float64) int16 { return units.Int16(units.ConvertSpeed(v, units.CMPS)) }
	return &common.MessageGlobalPositionInt{
		TimeBootMs:  e.timeBootMs(),
		Lat:         latLonE7(n.LatRad),
		Lon:         latLonE7(n.LonRad),
		Alt:         units.Int32(units.MetersToMillimeters(n.AltMSLM)),
		RelativeAlt: units.Int32(units.MetersToMillimeters(n.AltAGLM)),
		Vx:          cms(n.VelNEDMPS[0]),
		Vy:          cms(n.VelNEDMPS[1]),
		Vz:          cms(n.VelNEDMPS[2]),
		Hdg:         e.out.hdgCd,
	}
}

func (e *Encoder) attitude() *common.MessageAttitude {
	if h, ok := e.heading(); ok {
		e.out.yaw = float32(units.WrapToPi(h))
	}
	n := &e.state.Nav
	return &common.MessageAttitude{
		TimeBootMs: e.timeBootMs(),
		Roll:       float32(n.RollRad),
		Pitch:      float32(n.PitchRad),
		Yaw:        e.out.yaw,
		Rollspeed:  float32(n.GyroRadPS[0]),
		Pitchspeed: float32(n.GyroRadPS[1]),
		Yawspeed:   float32(n.GyroRadPS[2]),
	}
}

func (e *Encoder) vfrHUD() *common.MessageVfrHud {
	if h, ok := e.heading(); ok {
		e.out.hdgDeg = units.Int16(units.Rad2Deg(units.WrapTo2Pi(h)))
	}
	n := &e.state.Nav
	throttle := e.state.ThrottlePercent
	if !e.cfg.UseThrottlePercent {
		throttle = units.Uint16(e.state.Inceptors[e.cfg.ThrottleChannel] * 100)
	}
	return &common.MessageVfrHud{
		Airspeed:    float32(n.IASMPS),
		Groundspeed: float32(n.GndSpdMPS),
		Heading:     e.out.hdgDeg,
		Throttle:    throttle,
		Alt:         float32(n.AltMSLM),
		Climb:       float32(-n.VelNEDMPS[2]),
	}
}
