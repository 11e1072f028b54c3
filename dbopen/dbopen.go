// Package dbopen opens the service's SQLite databases (cache index,
// telemetry store) with the pragmas the rest of the code assumes:
//
//	foreign_keys = ON
//	journal_mode = WAL
//	busy_timeout = 10000
//	synchronous  = NORMAL
//
// The driver is blank-imported by the caller:
//
//	import _ "modernc.org/sqlite"
//	db, err := dbopen.Open("data/cache.db", dbopen.WithMkdirAll())
//
// Tests use OpenMemory, which pins the pool to a single connection so
// every query sees the same in-memory database.
package dbopen

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

const defaultBusyTimeout = 10_000 // ms

// Option adjusts how Open prepares the database.
type Option func(*settings)

type settings struct {
	busyTimeout int
	mkdirAll    bool
	schemas     []string
}

// WithBusyTimeout overrides PRAGMA busy_timeout (milliseconds).
func WithBusyTimeout(ms int) Option { return func(s *settings) { s.busyTimeout = ms } }

// WithMkdirAll creates the parent directory of the database file first.
func WithMkdirAll() Option { return func(s *settings) { s.mkdirAll = true } }

// WithSchema queues DDL to run once the pragmas are in place. Repeatable.
func WithSchema(ddl string) Option {
	return func(s *settings) { s.schemas = append(s.schemas, ddl) }
}

// Open opens the SQLite database at path, applies the pragmas, runs any
// queued schema DDL, and pings the handle so a bad path fails here rather
// than on first use.
func Open(path string, opts ...Option) (*sql.DB, error) {
	s := settings{busyTimeout: defaultBusyTimeout}
	for _, o := range opts {
		o(&s)
	}

	if s.mkdirAll && path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("dbopen: mkdir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("dbopen: open: %w", err)
	}
	if err := s.prepare(db); err != nil {
		db.Close()
		return nil, err
	}
	return db, nil
}

// OpenMemory opens a throwaway in-memory database for a test and registers
// its Close on t.Cleanup.
func OpenMemory(t testing.TB, opts ...Option) *sql.DB {
	t.Helper()
	db, err := Open(":memory:", opts...)
	if err != nil {
		t.Fatalf("dbopen.OpenMemory: %v", err)
	}
	// Each connection to ":memory:" is its own database.
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

// prepare applies pragmas and schema DDL, then verifies the handle.
func (s settings) prepare(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA foreign_keys = ON",
		"PRAGMA journal_mode = WAL",
		fmt.Sprintf("PRAGMA busy_timeout = %d", s.busyTimeout),
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return fmt.Errorf("dbopen: %s: %w", p, err)
		}
	}
	for _, ddl := range s.schemas {
		if _, err := db.Exec(ddl); err != nil {
			return fmt.Errorf("dbopen: schema: %w", err)
		}
	}
	if err := db.Ping(); err != nil {
		return fmt.Errorf("dbopen: ping: %w", err)
	}
	return nil
}
