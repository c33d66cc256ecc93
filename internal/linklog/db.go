// Package linklog keeps a sqlite log of downlink sessions: when each run
// started, how often each stream group fired, link counters and every change
// to the stream period table.
package linklog

import (
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/banshee-data/downlink/internal/mavcodec"
	"github.com/banshee-data/downlink/internal/telemetry"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// ErrNoSession is returned by the Record methods before StartSession.
var ErrNoSession = errors.New("linklog: no session started")

type DB struct {
	*sql.DB
	path string

	mu      sync.Mutex
	session string
}

// Open opens (creating if needed) the link log at path and applies any
// pending migrations.
func Open(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if err := applyPragmas(sqlDB); err != nil {
		sqlDB.Close()
		return nil, err
	}

	db := &DB{DB: sqlDB, path: path}
	if err := db.MigrateUp(); err != nil {
		sqlDB.Close()
		return nil, err
	}
	return db, nil
}

func applyPragmas(db *sql.DB) error {
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}
	return nil
}

// MigrateUp runs all pending migrations up to the latest version.
func (db *DB) MigrateUp() error {
	m, err := db.newMigrate()
	if err != nil {
		return err
	}
	// Note: We don't close m here because it would close the underlying DB connection.

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migration up failed: %w", err)
	}
	return nil
}

// MigrateVersion returns the current migration version and dirty state.
func (db *DB) MigrateVersion() (version uint, dirty bool, err error) {
	m, err := db.newMigrate()
	if err != nil {
		return 0, false, err
	}
	version, dirty, err = m.Version()
	if err != nil && errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	return version, dirty, err
}

func (db *DB) newMigrate() (*migrate.Migrate, error) {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return nil, fmt.Errorf("failed to open embedded migrations: %w", err)
	}
	driver, err := sqlite.WithInstance(db.DB, &sqlite.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to create sqlite driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}
	m.Log = &migrateLogger{}
	return m, nil
}

// migrateLogger implements migrate.Logger interface
type migrateLogger struct{}

func (l *migrateLogger) Printf(format string, v ...interface{}) {
	log.Printf("[migrate] "+format, v...)
}

func (l *migrateLogger) Verbose() bool {
	return false
}

// StartSession opens a new session; later records belong to it.
func (db *DB) StartSession(at time.Time, systemID, componentID uint8, transport, version string) (string, error) {
	id := uuid.NewString()
	_, err := db.Exec(
		`INSERT INTO sessions (session_id, started_at, system_id, component_id, transport, version)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		id, at.UnixMilli(), systemID, componentID, transport, version,
	)
	if err != nil {
		return "", fmt.Errorf("failed to start session: %w", err)
	}
	db.mu.Lock()
	db.session = id
	db.mu.Unlock()
	return id, nil
}

// Session returns the current session id, or "".
func (db *DB) Session() string {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.session
}

// RecordPeriodChange logs one period table change.
func (db *DB) RecordPeriodChange(at time.Time, g telemetry.Group, periodMs int32, source string) error {
	session := db.Session()
	if session == "" {
		return ErrNoSession
	}
	_, err := db.Exec(
		`INSERT INTO period_changes (session_id, recorded_at, group_name, period_ms, source)
		 VALUES (?, ?, ?, ?, ?)`,
		session, at.UnixMilli(), g.String(), periodMs, source,
	)
	return err
}

// RecordStats logs the cumulative encoder and link counters.
func (db *DB) RecordStats(at time.Time, st telemetry.Stats, link mavcodec.LinkStats) error {
	session := db.Session()
	if session == "" {
		return ErrNoSession
	}

	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	ms := at.UnixMilli()
	for _, g := range telemetry.Groups() {
		if _, err := tx.Exec(
			`INSERT INTO stream_stats (session_id, recorded_at, group_name, fires) VALUES (?, ?, ?, ?)`,
			session, ms, g.String(), int64(st.Fires[g]),
		); err != nil {
			return fmt.Errorf("failed to record %s stats: %w", g, err)
		}
	}
	if _, err := tx.Exec(
		`INSERT INTO link_stats (session_id, recorded_at, messages, bytes, heartbeats,
			encode_errors, write_errors, frames_in, parse_errors)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		session, ms, int64(st.Messages), int64(st.Bytes), int64(st.Heartbeats),
		int64(st.EncodeErrors), int64(st.WriteErrors), int64(link.FramesIn), int64(link.ParseErrors),
	); err != nil {
		return fmt.Errorf("failed to record link stats: %w", err)
	}
	return tx.Commit()
}
