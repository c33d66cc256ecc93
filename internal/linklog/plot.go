package linklog

import (
	"fmt"
	"io"
	"sort"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
)

// ErrNoSamples is returned by PlotSession when a session has fewer than two
// stats rows for every group, so no rate can be drawn.
var ErrNoSamples = fmt.Errorf("linklog: not enough samples to plot")

// RateSeries turns cumulative fire counts into per-group send rates in Hz,
// keyed by group name. X is seconds since the first sample.
func RateSeries(samples []StreamSample) map[string]plotter.XYs {
	byGroup := make(map[string][]StreamSample)
	for _, s := range samples {
		byGroup[s.Group] = append(byGroup[s.Group], s)
	}
	if len(samples) == 0 {
		return nil
	}
	t0 := samples[0].RecordedAt

	series := make(map[string]plotter.XYs)
	for name, ss := range byGroup {
		var pts plotter.XYs
		for i := 1; i < len(ss); i++ {
			dt := ss[i].RecordedAt.Sub(ss[i-1].RecordedAt).Seconds()
			if dt <= 0 || ss[i].Fires < ss[i-1].Fires {
				continue
			}
			pts = append(pts, plotter.XY{
				X: ss[i].RecordedAt.Sub(t0).Seconds(),
				Y: float64(ss[i].Fires-ss[i-1].Fires) / dt,
			})
		}
		if len(pts) > 0 {
			series[name] = pts
		}
	}
	return series
}

// PlotSession renders a PNG of per-group send rates for a session.
func (db *DB) PlotSession(session string, w io.Writer) error {
	samples, err := db.StreamStats(session)
	if err != nil {
		return err
	}
	series := RateSeries(samples)
	if len(series) == 0 {
		return ErrNoSamples
	}

	p := plot.New()
	p.Title.Text = fmt.Sprintf("Session %s - stream rates", session)
	p.X.Label.Text = "Time (s)"
	p.Y.Label.Text = "Rate (Hz)"

	// Sort group names for consistent legend and colours
	names := make([]string, 0, len(series))
	for name := range series {
		names = append(names, name)
	}
	sort.Strings(names)

	for i, name := range names {
		line, err := plotter.NewLine(series[name])
		if err != nil {
			return err
		}
		line.Color = plotutil.Color(i)
		line.Width = vg.Points(1)
		p.Add(line)
		p.Legend.Add(name, line)
	}

	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10

	wt, err := p.WriterTo(10*vg.Inch, 5*vg.Inch, "png")
	if err != nil {
		return fmt.Errorf("failed to render plot: %w", err)
	}
	_, err = wt.WriteTo(w)
	return err
}
