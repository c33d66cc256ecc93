// Package monitor serves debug pages for the stream scheduler: the period
// table, per-group send statistics, a chart of fires per group and a form
// endpoint to change a group's rate.
package monitor

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/gonum/stat"
	"tailscale.com/tsweb"

	"github.com/banshee-data/downlink/internal/httputil"
	"github.com/banshee-data/downlink/internal/runner"
	"github.com/banshee-data/downlink/internal/telemetry"
)

const echartsAssetsPrefix = "https://go-echarts.github.io/go-echarts-assets/assets/"

// Source is the scheduler state the pages read and change. *runner.Runner
// implements it.
type Source interface {
	Snapshot() runner.Snapshot
	SetRate(g telemetry.Group, hz uint16) (bool, error)
}

type Monitor struct {
	src Source
}

func New(src Source) *Monitor {
	return &Monitor{src: src}
}

// StreamStatus describes one group for the streams endpoint.
type StreamStatus struct {
	Group     string  `json:"group"`
	StreamID  uint8   `json:"stream_id"`
	PeriodMs  int32   `json:"period_ms"`
	RateHz    float64 `json:"rate_hz"`
	ElapsedMs int64   `json:"elapsed_ms"`
	Fires     uint64  `json:"fires"`
	// LastFire is empty until the group has fired.
	LastFire string `json:"last_fire,omitempty"`
	// Interval statistics over recent fires, in milliseconds.
	IntervalMeanMs   float64 `json:"interval_mean_ms"`
	IntervalStdDevMs float64 `json:"interval_stddev_ms"`
}

// StreamsReport is the body of the streams endpoint.
type StreamsReport struct {
	UptimeS      float64        `json:"uptime_s"`
	Messages     uint64         `json:"messages"`
	Bytes        uint64         `json:"bytes"`
	Heartbeats   uint64         `json:"heartbeats"`
	EncodeErrors uint64         `json:"encode_errors"`
	WriteErrors  uint64         `json:"write_errors"`
	Streams      []StreamStatus `json:"streams"`
}

// Report summarises a runner snapshot.
func Report(snap runner.Snapshot) StreamsReport {
	rep := StreamsReport{
		UptimeS:      snap.Uptime.Seconds(),
		Messages:     snap.Stats.Messages,
		Bytes:        snap.Stats.Bytes,
		Heartbeats:   snap.Stats.Heartbeats,
		EncodeErrors: snap.Stats.EncodeErrors,
		WriteErrors:  snap.Stats.WriteErrors,
	}
	for _, g := range telemetry.Groups() {
		s := StreamStatus{
			Group:     g.String(),
			StreamID:  uint8(g.StreamID()),
			PeriodMs:  snap.Periods[g],
			ElapsedMs: snap.Elapsed[g],
			Fires:     snap.Stats.Fires[g],
		}
		if s.PeriodMs > 0 {
			s.RateHz = 1000 / float64(s.PeriodMs)
		}
		if !snap.LastFire[g].IsZero() {
			s.LastFire = snap.LastFire[g].Format(time.RFC3339Nano)
		}
		s.IntervalMeanMs, s.IntervalStdDevMs = jitter(snap.Intervals[g])
		rep.Streams = append(rep.Streams, s)
	}
	return rep
}

// jitter returns the mean and sample standard deviation of intervals. Fewer
// than two intervals have no spread.
func jitter(intervals []float64) (mean, std float64) {
	switch len(intervals) {
	case 0:
		return 0, 0
	case 1:
		return intervals[0], 0
	}
	return stat.MeanStdDev(intervals, nil)
}

func (m *Monitor) AttachAdminRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)

	debug.HandleFunc("streams", "stream period table and send statistics (JSON)", m.handleStreams)
	debug.HandleFunc("streams-chart", "fires per stream group", m.handleStreamsChart)
	debug.HandleSilentFunc("set-rate", m.handleSetRate)
}

func (m *Monitor) handleStreams(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSONOK(w, Report(m.src.Snapshot()))
}

func (m *Monitor) handleStreamsChart(w http.ResponseWriter, r *http.Request) {
	rep := Report(m.src.Snapshot())

	x := make([]string, 0, len(rep.Streams))
	fires := make([]opts.BarData, 0, len(rep.Streams))
	rates := make([]opts.BarData, 0, len(rep.Streams))
	for _, s := range rep.Streams {
		x = append(x, s.Group)
		fires = append(fires, opts.BarData{Value: s.Fires})
		rates = append(rates, opts.BarData{Value: s.RateHz})
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{Width: "100%", Height: "720px", AssetsHost: echartsAssetsPrefix}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Downlink streams",
			Subtitle: fmt.Sprintf("uptime %.0fs, %d messages", rep.UptimeS, rep.Messages),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
	)
	bar.SetXAxis(x).
		AddSeries("fires", fires, charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "top"})).
		AddSeries("rate (Hz)", rates)

	page := components.NewPage()
	page.SetAssetsHost(echartsAssetsPrefix)
	page.AddCharts(bar)

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("render error: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}

// handleSetRate takes form values group (a name such as "position") and hz.
// hz=0 stops the group.
func (m *Monitor) handleSetRate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	if err := r.ParseForm(); err != nil {
		httputil.BadRequest(w, fmt.Sprintf("invalid form: %v", err))
		return
	}

	g, err := telemetry.ParseGroup(r.FormValue("group"))
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	hz, err := strconv.ParseUint(r.FormValue("hz"), 10, 16)
	if err != nil {
		httputil.BadRequest(w, fmt.Sprintf("invalid hz %q", r.FormValue("hz")))
		return
	}

	changed, err := m.src.SetRate(g, uint16(hz))
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	httputil.WriteJSONOK(w, map[string]interface{}{
		"group":     g.String(),
		"period_ms": m.src.Snapshot().Periods[g],
		"changed":   changed,
	})
}
