package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/downlink/internal/httputil"
	"github.com/banshee-data/downlink/internal/linklog"
	"github.com/banshee-data/downlink/internal/mavcodec"
	"github.com/banshee-data/downlink/internal/monitor"
	"github.com/banshee-data/downlink/internal/telemetry"
)

var t0 = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func seedDB(t *testing.T) (*linklog.DB, string) {
	t.Helper()
	db, err := linklog.Open(filepath.Join(t.TempDir(), "downlink.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	id, err := db.StartSession(t0, 1, 1, "udp", "v1.0.0")
	require.NoError(t, err)
	require.NoError(t, db.RecordPeriodChange(t0, telemetry.GroupExtra1, 100, "local"))

	var st telemetry.Stats
	require.NoError(t, db.RecordStats(t0, st, mavcodec.LinkStats{}))
	st.Fires[telemetry.GroupExtra1] = 10
	require.NoError(t, db.RecordStats(t0.Add(time.Second), st, mavcodec.LinkStats{}))
	return db, id
}

func TestListSessions(t *testing.T) {
	db, id := seedDB(t)

	var out bytes.Buffer
	sessions, err := listSessions(&out, db)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, id, sessions[0].ID)
	assert.Contains(t, out.String(), id)
	assert.Contains(t, out.String(), "(1 rate changes)")
}

func TestPlotSession(t *testing.T) {
	db, id := seedDB(t)
	dir := t.TempDir()

	path, err := plotSession(db, id, dir)
	require.NoError(t, err)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("\x89PNG")))

	_, err = plotSession(db, "no-such-session", dir)
	assert.ErrorIs(t, err, linklog.ErrNoSamples)
	_, err = os.Stat(filepath.Join(dir, "session-no-such-session.png"))
	assert.True(t, os.IsNotExist(err), "failed plot leaves no file")
}

func TestParseSetRate(t *testing.T) {
	group, hz, err := parseSetRate("position=4")
	require.NoError(t, err)
	assert.Equal(t, "position", group)
	assert.Equal(t, uint16(4), hz)

	for _, bad := range []string{"position", "=4", "position=fast", "position=70000"} {
		_, _, err := parseSetRate(bad)
		assert.Error(t, err, bad)
	}
}

func TestPrintLive(t *testing.T) {
	rep := monitor.StreamsReport{
		UptimeS:  12.5,
		Messages: 300,
		Bytes:    12000,
		Streams: []monitor.StreamStatus{
			{Group: "all", PeriodMs: telemetry.PeriodDisabled},
			{Group: "extra1", PeriodMs: 100, RateHz: 10, Fires: 125, IntervalMeanMs: 100.2, IntervalStdDevMs: 0.4},
		},
	}
	body, err := json.Marshal(rep)
	require.NoError(t, err)

	m := httputil.NewMockHTTPClient().AddResponse(http.StatusOK, string(body))
	var out bytes.Buffer
	require.NoError(t, printLive(&out, monitor.NewClient("http://127.0.0.1:8080", m)))

	assert.Contains(t, out.String(), "uptime 12.5s  300 messages  12 kB")
	assert.Contains(t, out.String(), "extra1")
	assert.NotContains(t, out.String(), "  all ")
}

func TestPlotSessionSanitizesID(t *testing.T) {
	db, _ := seedDB(t)
	dir := t.TempDir()

	_, err := plotSession(db, "../../escape", dir)
	assert.ErrorIs(t, err, linklog.ErrNoSamples)
	_, err = os.Stat(filepath.Join(dir, "session-escape.png"))
	assert.True(t, os.IsNotExist(err))
}
