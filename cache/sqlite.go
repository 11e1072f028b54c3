package cache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/yangqingmang/find-demand-sub000/dbopen"
)

const schema = `
CREATE TABLE IF NOT EXISTS cache_entries (
    key        TEXT PRIMARY KEY,
    payload    BLOB NOT NULL,
    expires_at INTEGER NOT NULL,
    created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_cache_entries_expires ON cache_entries(expires_at);
`

// Init creates the cache schema.
func Init(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("cache: init schema: %w", err)
	}
	return nil
}

// SQLite is the persistent backend. Entries outlive the process; expiry is
// wall-clock based so a restarted harvester still respects old TTLs.
type SQLite struct {
	db  *sql.DB
	ttl time.Duration
	now func() time.Time
}

// SQLiteOption customizes a SQLite cache.
type SQLiteOption func(*SQLite)

// WithSQLiteClock overrides the time source.
func WithSQLiteClock(now func() time.Time) SQLiteOption {
	return func(s *SQLite) { s.now = now }
}

// NewSQLite builds a SQLite-backed cache on an opened database. Call Init
// first (or use a dbopen schema option).
func NewSQLite(db *sql.DB, ttl time.Duration, opts ...SQLiteOption) *SQLite {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	s := &SQLite{db: db, ttl: ttl, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *SQLite) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var payload []byte
	var expiresAt int64
	err := s.db.QueryRowContext(ctx,
		`SELECT payload, expires_at FROM cache_entries WHERE key = ?`, key,
	).Scan(&payload, &expiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("cache: get: %w", err)
	}
	if expiresAt <= s.now().Unix() {
		if err := dbopen.Exec(ctx, s.db, `DELETE FROM cache_entries WHERE key = ?`, key); err != nil {
			return nil, false, fmt.Errorf("cache: purge expired entry: %w", err)
		}
		return nil, false, nil
	}
	return payload, true, nil
}

func (s *SQLite) Set(ctx context.Context, key string, payload []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = s.ttl
	}
	now := s.now()
	err := dbopen.Exec(ctx, s.db, `
		INSERT INTO cache_entries (key, payload, expires_at, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			payload = excluded.payload,
			expires_at = excluded.expires_at`,
		key, payload, now.Add(ttl).Unix(), now.Unix())
	if err != nil {
		return fmt.Errorf("cache: set: %w", err)
	}
	return nil
}

func (s *SQLite) Delete(ctx context.Context, key string) error {
	if err := dbopen.Exec(ctx, s.db, `DELETE FROM cache_entries WHERE key = ?`, key); err != nil {
		return fmt.Errorf("cache: delete: %w", err)
	}
	return nil
}

func (s *SQLite) PurgeExpired(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM cache_entries WHERE expires_at <= ?`, s.now().Unix())
	if err != nil {
		return 0, fmt.Errorf("cache: purge expired: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

func (s *SQLite) Clear(ctx context.Context) (int, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM cache_entries`)
	if err != nil {
		return 0, fmt.Errorf("cache: clear: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}
