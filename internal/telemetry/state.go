package telemetry

import "math"

const (
	// MaxInceptors is the number of pilot input channels RC_CHANNELS can carry.
	MaxInceptors = 18
	// MaxEffectors is the number of actuator outputs SERVO_OUTPUT_RAW can carry.
	MaxEffectors = 16
)

// Optional holds a value a producer may not have for the current cycle.
// An unset field leaves the previously packed output in place.
type Optional[T any] struct {
	val T
	set bool
}

// Some returns an Optional holding v.
func Some[T any](v T) Optional[T] {
	return Optional[T]{val: v, set: true}
}

// Set stores v and marks the field available.
func (o *Optional[T]) Set(v T) {
	o.val = v
	o.set = true
}

// Clear marks the field unavailable.
func (o *Optional[T]) Clear() {
	var zero T
	o.val = zero
	o.set = false
}

// Get returns the value and whether it is set.
func (o Optional[T]) Get() (T, bool) {
	return o.val, o.set
}

// IsSet reports whether the field holds a value.
func (o Optional[T]) IsSet() bool {
	return o.set
}

// GNSSFix is the receiver's reported solution quality.
type GNSSFix uint8

const (
	GNSSFixNone GNSSFix = iota
	GNSSFix2D
	GNSSFix3D
	GNSSFixDGNSS
	GNSSFixRTKFloat
	GNSSFixRTKFixed
)

// SensorFlags describes one sensor class in SYS_STATUS.
type SensorFlags struct {
	Installed bool
	Healthy   bool
}

// Health groups the per-class presence and health flags.
type Health struct {
	Gyro       SensorFlags
	Accel      SensorFlags
	Mag        SensorFlags
	StaticPres SensorFlags
	DiffPres   SensorFlags
	GNSS       SensorFlags
	Inceptor   SensorFlags
}

type IMU struct {
	AccelMPS2 [3]float64
	GyroRadPS [3]float64
	MagUT     [3]float64
	DieTempC  Optional[float64]
}

type StaticPressure struct {
	PressPa  float64
	DieTempC float64
}

type DiffPressure struct {
	PressPa  float64
	DieTempC Optional[float64]
}

type GNSS struct {
	Fix         GNSSFix
	NumSV       Optional[uint8]
	LatRad      float64
	LonRad      float64
	AltMSLM     float64
	AltWGS84M   float64
	HDOP        Optional[float64]
	VDOP        Optional[float64]
	SpeedMPS    Optional[float64]
	TrackRad    Optional[float64]
	HorzAccM    float64
	VertAccM    float64
	SpeedAccMPS float64
	TrackAccRad float64
}

// Nav is the navigation filter solution.
type Nav struct {
	LatRad     float64
	LonRad     float64
	AltMSLM    float64
	AltAGLM    float64
	PosNEDM    [3]float64
	VelNEDMPS  [3]float64
	RollRad    float64
	PitchRad   float64
	HeadingRad Optional[float64]
	GyroRadPS  [3]float64
	IASMPS     float64
	GndSpdMPS  float64
}

type Battery struct {
	VoltageV       Optional[float64]
	CurrentMA      Optional[float64]
	ConsumedMAh    Optional[float64]
	RemainingPct   Optional[float64]
	RemainingTimeS Optional[float64]
}

// LinkStats is the receive-side quality of the telemetry link, reported back
// in SYS_STATUS.
type LinkStats struct {
	DropRateComm uint16 // centi-percent
	ErrorsComm   uint16
}

// State is the vehicle snapshot the senders read. Producers write it through
// the setters or directly; there is no locking here.
type State struct {
	Health     Health
	IMU        IMU
	StaticPres StaticPressure
	DiffPres   DiffPressure
	GNSS       GNSS
	Nav        Nav
	Battery    Battery

	Inceptors     [MaxInceptors]float64
	InceptorCount int
	// InceptorRSSI is 0-254, 255 when unknown.
	InceptorRSSI    uint8
	ThrottlePercent uint16
	Effectors       [MaxEffectors]float64

	SysTimeUs   uint64
	FrameTimeUs uint32
	Link        LinkStats
}

func newState() State {
	return State{InceptorRSSI: math.MaxUint8}
}

func (s *State) SetHealth(h Health)                 { s.Health = h }
func (s *State) SetIMU(m IMU)                       { s.IMU = m }
func (s *State) SetStaticPressure(p StaticPressure) { s.StaticPres = p }
func (s *State) SetDiffPressure(p DiffPressure)     { s.DiffPres = p }
func (s *State) SetGNSS(g GNSS)                     { s.GNSS = g }
func (s *State) SetNav(n Nav)                       { s.Nav = n }
func (s *State) SetBattery(b Battery)               { s.Battery = b }
func (s *State) SetSysTime(us uint64)               { s.SysTimeUs = us }
func (s *State) SetFrameTime(us uint32)             { s.FrameTimeUs = us }
func (s *State) SetLinkStats(l LinkStats)           { s.Link = l }

// SetInceptors stores normalized pilot inputs. Channels past MaxInceptors are
// dropped and the count is updated.
func (s *State) SetInceptors(ch []float64) {
	n := copy(s.Inceptors[:], ch)
	s.InceptorCount = n
}

// SetRawInceptors stores pulse widths for raw inceptor mode.
func (s *State) SetRawInceptors(ch []uint16) {
	n := min(len(ch), MaxInceptors)
	for i := 0; i < n; i++ {
		s.Inceptors[i] = float64(ch[i])
	}
	s.InceptorCount = n
}

// SetEffectors stores normalized actuator commands.
func (s *State) SetEffectors(ch []float64) {
	copy(s.Effectors[:], ch)
}

// SetRawEffectors stores pulse widths for raw effector mode.
func (s *State) SetRawEffectors(ch []uint16) {
	n := min(len(ch), MaxEffectors)
	for i := 0; i < n; i++ {
		s.Effectors[i] = float64(ch[i])
	}
}
