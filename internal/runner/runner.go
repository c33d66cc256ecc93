// Package runner drives a telemetry encoder: it owns the timebase, serializes
// producers, debug routes and inbound control messages onto the encoder, and
// reports period changes and counters.
package runner

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/bluenviron/gomavlib/v3/pkg/dialects/common"
	"github.com/bluenviron/gomavlib/v3/pkg/frame"
	"github.com/bluenviron/gomavlib/v3/pkg/message"
	"github.com/dustin/go-humanize"

	"github.com/banshee-data/downlink/internal/mavcodec"
	"github.com/banshee-data/downlink/internal/monitoring"
	"github.com/banshee-data/downlink/internal/telemetry"
	"github.com/banshee-data/downlink/internal/timeutil"
)

const (
	DefaultTickInterval      = 10 * time.Millisecond
	DefaultHeartbeatInterval = time.Second
	DefaultStatsInterval     = time.Minute

	// fireHistory is how many fire times are kept per group for jitter.
	fireHistory = 64
)

// ErrUnknownGroup is returned by SetRate for groups without a stream id.
var ErrUnknownGroup = errors.New("unknown stream group")

// Recorder persists period changes and periodic counters. linklog.DB
// implements it.
type Recorder interface {
	RecordPeriodChange(at time.Time, g telemetry.Group, periodMs int32, source string) error
	RecordStats(at time.Time, st telemetry.Stats, link mavcodec.LinkStats) error
}

// Config controls the runner's timing and reporting. Zero values take the
// defaults above.
type Config struct {
	TickInterval      time.Duration
	HeartbeatInterval time.Duration
	StatsInterval     time.Duration
	Clock             timeutil.Clock

	// Recorder may be nil.
	Recorder Recorder
	// LinkStats, if set, feeds receive-side link quality into SYS_STATUS.
	LinkStats func() mavcodec.LinkStats
}

// Runner is the single execution context for an Encoder.
type Runner struct {
	mu  sync.Mutex
	enc *telemetry.Encoder
	cfg Config

	started       bool
	start         time.Time
	last          time.Time
	carry         time.Duration
	lastHeartbeat time.Time
	lastStats     time.Time
	fires         [telemetry.NumGroups][]time.Time
}

// New creates a runner for enc.
func New(enc *telemetry.Encoder, cfg Config) *Runner {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = DefaultTickInterval
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if cfg.StatsInterval <= 0 {
		cfg.StatsInterval = DefaultStatsInterval
	}
	if cfg.Clock == nil {
		cfg.Clock = timeutil.RealClock{}
	}
	return &Runner{enc: enc, cfg: cfg}
}

// Run ticks the encoder every TickInterval and applies inbound frames until
// ctx is cancelled. A closed inbound channel is not an error; ticking carries
// on without it.
func (r *Runner) Run(ctx context.Context, inbound <-chan frame.Frame) error {
	ticker := r.cfg.Clock.NewTicker(r.cfg.TickInterval)
	defer ticker.Stop()

	r.mu.Lock()
	r.startLocked(r.cfg.Clock.Now())
	r.mu.Unlock()

	for {
		select {
		case <-ctx.Done():
			r.mu.Lock()
			r.reportStatsLocked(r.cfg.Clock.Now())
			r.mu.Unlock()
			return ctx.Err()

		case <-ticker.C():
			r.step(r.cfg.Clock.Now())

		case fr, ok := <-inbound:
			if !ok {
				inbound = nil
				continue
			}
			r.handleFrame(fr)
		}
	}
}

func (r *Runner) startLocked(now time.Time) {
	if r.started {
		return
	}
	r.started = true
	r.start = now
	r.last = now
	r.lastStats = now
	r.lastHeartbeat = now
	r.enc.SendHeartbeat()
}

// step advances the timebase to now and runs one scheduler pass.
func (r *Runner) step(now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.startLocked(now)

	delta := now.Sub(r.last) + r.carry
	r.last = now
	if delta < 0 {
		delta = 0
	}
	whole := delta.Truncate(time.Millisecond)
	r.carry = delta - whole
	r.enc.Advance(whole)

	st := r.enc.State()
	st.SetSysTime(uint64(now.Sub(r.start).Microseconds()))
	if r.cfg.LinkStats != nil {
		st.SetLinkStats(linkQuality(r.cfg.LinkStats()))
	}

	before := r.enc.Stats().Fires
	r.enc.Tick()
	after := r.enc.Stats().Fires
	for g := range after {
		if after[g] != before[g] {
			r.recordFireLocked(telemetry.Group(g), now)
		}
	}

	if now.Sub(r.lastHeartbeat) >= r.cfg.HeartbeatInterval {
		r.lastHeartbeat = now
		r.enc.SendHeartbeat()
	}
	if now.Sub(r.lastStats) >= r.cfg.StatsInterval {
		r.reportStatsLocked(now)
	}
}

func (r *Runner) recordFireLocked(g telemetry.Group, now time.Time) {
	h := append(r.fires[g], now)
	if len(h) > fireHistory {
		h = h[len(h)-fireHistory:]
	}
	r.fires[g] = h
}

// linkQuality turns inbound link counters into SYS_STATUS drop rate
// (centi-percent) and error count.
func linkQuality(ls mavcodec.LinkStats) telemetry.LinkStats {
	total := ls.FramesIn + ls.ParseErrors
	if total == 0 {
		return telemetry.LinkStats{}
	}
	errs := ls.ParseErrors
	if errs > math.MaxUint16 {
		errs = math.MaxUint16
	}
	return telemetry.LinkStats{
		DropRateComm: uint16(ls.ParseErrors * 10000 / total),
		ErrorsComm:   uint16(errs),
	}
}

func (r *Runner) handleFrame(fr frame.Frame) {
	source := fmt.Sprintf("sys %d comp %d", fr.GetSystemID(), fr.GetComponentID())
	r.applyControl(fr.GetMessage(), source)
}

// applyControl hands msg to the encoder and reports any period that changed.
func (r *Runner) applyControl(msg message.Message, source string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	before := r.enc.Periods()
	if !r.enc.HandleMessage(msg) {
		return false
	}
	after := r.enc.Periods()
	now := r.cfg.Clock.Now()
	for g := range after {
		if after[g] == before[g] {
			continue
		}
		group := telemetry.Group(g)
		monitoring.Logf("stream %s period %d ms -> %d ms (%s)", group, before[g], after[g], source)
		if r.cfg.Recorder != nil {
			if err := r.cfg.Recorder.RecordPeriodChange(now, group, after[g], source); err != nil {
				monitoring.Logf("failed to record period change: %v", err)
			}
		}
	}
	return true
}

// SetRate changes a group's rate the same way a ground station would, with a
// REQUEST_DATA_STREAM addressed to this vehicle. A rate of 0 stops the group.
// It reports whether the period table changed.
func (r *Runner) SetRate(g telemetry.Group, hz uint16) (bool, error) {
	if !g.Valid() {
		return false, fmt.Errorf("%w: %d", ErrUnknownGroup, int(g))
	}
	cfg := r.enc.Config()
	req := &common.MessageRequestDataStream{
		TargetSystem:    cfg.SystemID,
		TargetComponent: cfg.ComponentID,
		ReqStreamId:     uint8(g.StreamID()),
		ReqMessageRate:  hz,
	}
	if hz > 0 {
		req.StartStop = 1
	}
	return r.applyControl(req, "local"), nil
}

// Update runs fn with exclusive access to the snapshot.
func (r *Runner) Update(fn func(*telemetry.State)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(r.enc.State())
}

// View runs fn with exclusive access to the encoder.
func (r *Runner) View(fn func(*telemetry.Encoder)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(r.enc)
}

// Snapshot is a consistent copy of the scheduler tables and counters.
type Snapshot struct {
	Periods [telemetry.NumGroups]int32
	Elapsed [telemetry.NumGroups]int64
	Stats   telemetry.Stats
	// Intervals holds the most recent gaps between fires, in milliseconds.
	Intervals [telemetry.NumGroups][]float64
	LastFire  [telemetry.NumGroups]time.Time
	Uptime    time.Duration
}

func (r *Runner) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()

	s := Snapshot{
		Periods: r.enc.Periods(),
		Stats:   r.enc.Stats(),
	}
	for _, g := range telemetry.Groups() {
		s.Elapsed[g] = r.enc.Elapsed(g)
		h := r.fires[g]
		if len(h) == 0 {
			continue
		}
		s.LastFire[g] = h[len(h)-1]
		for i := 1; i < len(h); i++ {
			s.Intervals[g] = append(s.Intervals[g], float64(h[i].Sub(h[i-1]))/float64(time.Millisecond))
		}
	}
	if r.started {
		s.Uptime = r.last.Sub(r.start)
	}
	return s
}

func (r *Runner) reportStatsLocked(now time.Time) {
	r.lastStats = now
	st := r.enc.Stats()
	var link mavcodec.LinkStats
	if r.cfg.LinkStats != nil {
		link = r.cfg.LinkStats()
	}
	monitoring.Logf("downlink: %s messages, %s sent, %d encode errors, %d write errors, %s frames in",
		humanize.Comma(int64(st.Messages)), humanize.Bytes(st.Bytes),
		st.EncodeErrors, st.WriteErrors, humanize.Comma(int64(link.FramesIn)))
	if r.cfg.Recorder != nil {
		if err := r.cfg.Recorder.RecordStats(now, st, link); err != nil {
			monitoring.Logf("failed to record stats: %v", err)
		}
	}
}
