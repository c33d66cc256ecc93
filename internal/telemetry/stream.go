package telemetry

import (
	"fmt"
	"strings"
	"time"

	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"
)

// Group is one schedulable bundle of messages, matching a MAV_DATA_STREAM id.
type Group int

const (
	GroupAll Group = iota
	GroupRawSensors
	GroupExtendedStatus
	GroupRCChannels
	GroupRawController
	GroupPosition
	GroupExtra1
	GroupExtra2
	GroupExtra3
)

// NumGroups is the length of the period and elapsed tables.
const NumGroups = int(GroupExtra3) + 1

// PeriodDisabled marks a group that never fires.
const PeriodDisabled int32 = -1

var groupNames = [NumGroups]string{
	"all",
	"raw_sensors",
	"extended_status",
	"rc_channels",
	"raw_controller",
	"position",
	"extra1",
	"extra2",
	"extra3",
}

var groupStreams = [NumGroups]common.MAV_DATA_STREAM{
	common.MAV_DATA_STREAM_ALL,
	common.MAV_DATA_STREAM_RAW_SENSORS,
	common.MAV_DATA_STREAM_EXTENDED_STATUS,
	common.MAV_DATA_STREAM_RC_CHANNELS,
	common.MAV_DATA_STREAM_RAW_CONTROLLER,
	common.MAV_DATA_STREAM_POSITION,
	common.MAV_DATA_STREAM_EXTRA1,
	common.MAV_DATA_STREAM_EXTRA2,
	common.MAV_DATA_STREAM_EXTRA3,
}

// Groups lists every group in table order.
func Groups() []Group {
	gs := make([]Group, NumGroups)
	for i := range gs {
		gs[i] = Group(i)
	}
	return gs
}

func (g Group) Valid() bool { return g >= 0 && int(g) < NumGroups }

func (g Group) String() string {
	if !g.Valid() {
		return fmt.Sprintf("group(%d)", int(g))
	}
	return groupNames[g]
}

// StreamID returns the MAV_DATA_STREAM id requested by ground stations.
func (g Group) StreamID() common.MAV_DATA_STREAM {
	return groupStreams[g]
}

// GroupForStream maps a requested stream id to its group. Ids with no group
// (for example the unused 5, 7, 8 and 9) report false.
func GroupForStream(id uint8) (Group, bool) {
	for i, s := range groupStreams {
		if uint8(s) == id {
			return Group(i), true
		}
	}
	return 0, false
}

// ParseGroup accepts a group name as used in configuration and debug routes.
func ParseGroup(name string) (Group, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for i, n := range groupNames {
		if n == name {
			return Group(i), nil
		}
	}
	return 0, fmt.Errorf("unknown stream group %q (valid: %s)", name, strings.Join(groupNames[:], ", "))
}

// PeriodForRate converts a rate in Hz to a period in milliseconds. Zero means
// disabled. Rates above 1000 Hz truncate to a period of 0, which never fires.
func PeriodForRate(hz uint16) int32 {
	if hz == 0 {
		return PeriodDisabled
	}
	return int32(1000 / int(hz))
}

// Tick runs the sender of every group whose period is positive and whose
// elapsed time has passed it, in table order, and resets that group's elapsed
// time. It is not safe for concurrent use.
func (e *Encoder) Tick() {
	for g := 0; g < NumGroups; g++ {
		p := e.period[g]
		if p <= 0 {
			continue
		}
		if e.elapsed[g] > int64(p) {
			e.streams[g]()
			e.elapsed[g] = 0
			e.stats.Fires[g]++
		}
	}
}

// Advance adds d, truncated to whole milliseconds, to every group's elapsed
// time. Callers that tick faster than 1 ms carry the remainder themselves.
func (e *Encoder) Advance(d time.Duration) {
	ms := d.Milliseconds()
	if ms <= 0 {
		return
	}
	for g := range e.elapsed {
		e.elapsed[g] += ms
	}
}

// SetPeriod sets a group's period in milliseconds. Negative disables it.
func (e *Encoder) SetPeriod(g Group, ms int32) {
	if !g.Valid() {
		return
	}
	e.period[g] = ms
}

func (e *Encoder) Period(g Group) int32 {
	return e.period[g]
}

func (e *Encoder) Elapsed(g Group) int64 {
	return e.elapsed[g]
}

// Periods returns a copy of the period table.
func (e *Encoder) Periods() [NumGroups]int32 {
	return e.period
}
