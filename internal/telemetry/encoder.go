// Package telemetry keeps a vehicle-state snapshot and encodes it into
// periodic MAVLink telemetry streams whose rates ground stations can change
// with REQUEST_DATA_STREAM.
//
// An Encoder is single threaded. Tick, Advance, HandleMessage and writes to
// the State must be serialized by the caller; see internal/runner.
package telemetry

import (
	"errors"
	"fmt"
	"io"
	"math"

	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"
	"github.com/bluenviron/gomavlib/v3/pkg/message"
)

var (
	ErrNilPacker          = errors.New("telemetry: packer is nil")
	ErrNilSink            = errors.New("telemetry: sink is nil")
	ErrInvalidFramePeriod = errors.New("telemetry: frame period must be positive")
)

// Packer turns a message into framed wire bytes. *mavcodec.Codec implements it.
type Packer interface {
	Pack(msg message.Message) ([]byte, error)
}

// Config holds identity and per-vehicle output options. It does not change
// after New.
type Config struct {
	SystemID    uint8
	ComponentID uint8

	// RawInceptors and RawEffectors pass channel values through as integer
	// pulse widths instead of mapping normalized values onto 1000-2000.
	RawInceptors bool
	RawEffectors bool

	// ThrottleChannel is the inceptor used for VFR_HUD throttle unless
	// UseThrottlePercent selects State.ThrottlePercent.
	ThrottleChannel    int
	UseThrottlePercent bool

	// FramePeriodUs is the nominal control frame period used for CPU load.
	FramePeriodUs uint32

	ServoPort       uint8
	BatteryID       uint8
	BatteryFunction common.MAV_BATTERY_FUNCTION
	BatteryType     common.MAV_BATTERY_TYPE

	// VehicleType is reported in HEARTBEAT.
	VehicleType common.MAV_TYPE
}

// Stats counts encoder activity. Counters only grow.
type Stats struct {
	Fires        [NumGroups]uint64
	Messages     uint64
	Bytes        uint64
	EncodeErrors uint64
	WriteErrors  uint64
	Heartbeats   uint64
}

// Encoder owns the snapshot, the period and elapsed tables and the packed
// output values that persist between sends.
type Encoder struct {
	cfg    Config
	packer Packer
	sink   io.Writer

	state   State
	period  [NumGroups]int32
	elapsed [NumGroups]int64
	streams [NumGroups]func()
	out     packed
	stats   Stats
}

// New returns an encoder with every group disabled.
func New(cfg Config, packer Packer, sink io.Writer) (*Encoder, error) {
	if packer == nil {
		return nil, ErrNilPacker
	}
	if sink == nil {
		return nil, ErrNilSink
	}
	if cfg.FramePeriodUs == 0 {
		return nil, ErrInvalidFramePeriod
	}
	if cfg.ThrottleChannel < 0 || cfg.ThrottleChannel >= MaxInceptors {
		return nil, fmt.Errorf("telemetry: throttle channel %d outside [0, %d)", cfg.ThrottleChannel, MaxInceptors)
	}

	e := &Encoder{
		cfg:    cfg,
		packer: packer,
		sink:   sink,
		state:  newState(),
		out:    newPacked(),
	}
	for g := range e.period {
		e.period[g] = PeriodDisabled
	}
	e.streams = [NumGroups]func(){
		GroupAll:            e.sendAll,
		GroupRawSensors:     e.sendRawSensors,
		GroupExtendedStatus: e.sendExtendedStatus,
		GroupRCChannels:     e.sendRCChannels,
		GroupRawController:  e.sendRawController,
		GroupPosition:       e.sendPosition,
		GroupExtra1:         e.sendExtra1,
		GroupExtra2:         e.sendExtra2,
		GroupExtra3:         e.sendExtra3,
	}
	return e, nil
}

// State returns the snapshot producers write through.
func (e *Encoder) State() *State { return &e.state }

func (e *Encoder) Config() Config { return e.cfg }

func (e *Encoder) Stats() Stats { return e.stats }

// Send runs one group's sender immediately without touching its elapsed time.
func (e *Encoder) Send(g Group) {
	if !g.Valid() {
		return
	}
	e.streams[g]()
}

// SendHeartbeat emits a HEARTBEAT so ground stations discover the vehicle.
// It is independent of the stream groups.
func (e *Encoder) SendHeartbeat() {
	e.stats.Heartbeats++
	e.send(&common.MessageHeartbeat{
		Type:           e.cfg.VehicleType,
		Autopilot:      common.MAV_AUTOPILOT_GENERIC,
		SystemStatus:   common.MAV_STATE_ACTIVE,
		MavlinkVersion: 3,
	})
}

func (e *Encoder) send(msg message.Message) {
	buf, err := e.packer.Pack(msg)
	if err != nil {
		e.stats.EncodeErrors++
		return
	}
	n, err := e.sink.Write(buf)
	if n > 0 {
		e.stats.Bytes += uint64(n)
	}
	if err != nil || n < len(buf) {
		e.stats.WriteErrors++
		return
	}
	e.stats.Messages++
}

// packed holds output values that stay in place when their inputs are unset.
// Initial values are the protocol's "unknown" markers.
type packed struct {
	sysVoltage       uint16
	sysCurrent       int16
	batteryRemaining int8
	battCurrent      int16
	battConsumed     int32
	battTimeLeft     int32
	cellVoltages     [10]uint16

	fix   common.GPS_FIX_TYPE
	numSV uint8
	eph   uint16
	epv   uint16
	vel   uint16
	cog   uint16

	imuTemp  int16
	diffTemp int16

	yaw    float32
	hdgDeg int16
	hdgCd  uint16
}

func newPacked() packed {
	p := packed{
		sysVoltage:       math.MaxUint16,
		sysCurrent:       -1,
		batteryRemaining: -1,
		battCurrent:      -1,
		battConsumed:     -1,
		fix:              common.GPS_FIX_TYPE_NO_FIX,
		numSV:            math.MaxUint8,
		eph:              math.MaxUint16,
		epv:              math.MaxUint16,
		vel:              math.MaxUint16,
		cog:              math.MaxUint16,
		hdgCd:            math.MaxUint16,
	}
	for i := range p.cellVoltages {
		p.cellVoltages[i] = math.MaxUint16
	}
	return p
}
