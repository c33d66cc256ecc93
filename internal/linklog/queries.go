package linklog

import (
	"fmt"
	"time"
)

type Session struct {
	ID          string    `json:"id"`
	StartedAt   time.Time `json:"started_at"`
	SystemID    uint8     `json:"system_id"`
	ComponentID uint8     `json:"component_id"`
	Transport   string    `json:"transport"`
	Version     string    `json:"version"`
}

func (s *Session) String() string {
	return fmt.Sprintf("%s  %s  sys=%d comp=%d  %s  %s",
		s.ID, s.StartedAt.Format(time.RFC3339), s.SystemID, s.ComponentID, s.Transport, s.Version)
}

// StreamSample is one group's cumulative fire count at a point in time.
type StreamSample struct {
	RecordedAt time.Time `json:"recorded_at"`
	Group      string    `json:"group"`
	Fires      uint64    `json:"fires"`
}

type PeriodChange struct {
	RecordedAt time.Time `json:"recorded_at"`
	Group      string    `json:"group"`
	PeriodMs   int32     `json:"period_ms"`
	Source     string    `json:"source"`
}

// Sessions returns every session, newest first.
func (db *DB) Sessions() ([]Session, error) {
	rows, err := db.Query(`SELECT session_id, started_at, system_id, component_id, transport, version
		FROM sessions ORDER BY started_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var sessions []Session
	for rows.Next() {
		var s Session
		var startedMs int64
		if err := rows.Scan(&s.ID, &startedMs, &s.SystemID, &s.ComponentID, &s.Transport, &s.Version); err != nil {
			return nil, err
		}
		s.StartedAt = time.UnixMilli(startedMs).UTC()
		sessions = append(sessions, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return sessions, nil
}

// StreamStats returns a session's stream samples in time order.
func (db *DB) StreamStats(session string) ([]StreamSample, error) {
	rows, err := db.Query(`SELECT recorded_at, group_name, fires FROM stream_stats
		WHERE session_id = ? ORDER BY recorded_at, rowid`, session)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var samples []StreamSample
	for rows.Next() {
		var s StreamSample
		var ms, fires int64
		if err := rows.Scan(&ms, &s.Group, &fires); err != nil {
			return nil, err
		}
		s.RecordedAt = time.UnixMilli(ms).UTC()
		s.Fires = uint64(fires)
		samples = append(samples, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return samples, nil
}

// PeriodChanges returns a session's period changes in time order.
func (db *DB) PeriodChanges(session string) ([]PeriodChange, error) {
	rows, err := db.Query(`SELECT recorded_at, group_name, period_ms, source FROM period_changes
		WHERE session_id = ? ORDER BY recorded_at, rowid`, session)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var changes []PeriodChange
	for rows.Next() {
		var c PeriodChange
		var ms int64
		if err := rows.Scan(&ms, &c.Group, &c.PeriodMs, &c.Source); err != nil {
			return nil, err
		}
		c.RecordedAt = time.UnixMilli(ms).UTC()
		changes = append(changes, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return changes, nil
}
