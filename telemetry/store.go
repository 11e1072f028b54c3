// CLAUDE:SUMMARY SQLite-backed telemetry Sink: buffered async flush of counters, stages, request log and events.
package telemetry

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/yangqingmang/find-demand-sub000/dbopen"
	"github.com/yangqingmang/find-demand-sub000/idgen"
)

const schema = `
CREATE TABLE IF NOT EXISTS telemetry_counters (
	name       TEXT PRIMARY KEY,
	value      INTEGER NOT NULL DEFAULT 0,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS telemetry_gauges (
	name       TEXT PRIMARY KEY,
	value      REAL NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS telemetry_stages (
	token       TEXT PRIMARY KEY,
	name        TEXT NOT NULL,
	started_at  INTEGER NOT NULL,
	duration_ms INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_telemetry_stages_name ON telemetry_stages(name, started_at);

CREATE TABLE IF NOT EXISTS telemetry_requests (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	host       TEXT NOT NULL,
	method     TEXT NOT NULL,
	url        TEXT NOT NULL,
	status     INTEGER NOT NULL,
	ok         INTEGER NOT NULL,
	elapsed_ms INTEGER NOT NULL,
	created_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_telemetry_requests_host ON telemetry_requests(host, created_at);

CREATE TABLE IF NOT EXISTS telemetry_events (
	id         TEXT PRIMARY KEY,
	level      TEXT NOT NULL,
	event      TEXT NOT NULL,
	details    TEXT,
	created_at INTEGER NOT NULL
);
`

// Init creates the telemetry tables on db.
func Init(db *sql.DB) error {
	_, err := db.Exec(schema)
	return err
}

type requestRow struct {
	host, method, url string
	status            int
	ok                bool
	elapsed           time.Duration
	at                time.Time
}

type eventRow struct {
	id, level, event string
	details          string
	at               time.Time
}

type stageRow struct {
	token, name string
	startedAt   time.Time
	duration    time.Duration
}

// Store is a Sink that keeps the live view in memory and persists rows to
// SQLite in async batches. Buffer overflow drops the oldest pending rows.
type Store struct {
	mem *Memory
	db  *sql.DB

	mu           sync.Mutex
	reqBuf       []requestRow
	evtBuf       []eventRow
	stageBuf     []stageRow
	counterDelta map[string]int64
	gaugeLatest  map[string]float64

	bufferSize    int
	flushInterval time.Duration
	newID         idgen.Generator
	now           func() time.Time
	stop          chan struct{}
	done          chan struct{}
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithStoreIDGenerator overrides the event ID generator.
func WithStoreIDGenerator(gen idgen.Generator) StoreOption {
	return func(s *Store) { s.newID = gen }
}

// WithStoreClock overrides the time source. Used in tests.
func WithStoreClock(now func() time.Time) StoreOption {
	return func(s *Store) {
		s.now = now
		s.mem.now = now
	}
}

// NewStore creates a SQLite-backed Sink. Call Init(db) first.
// Recommended defaults: bufferSize=100, flushInterval=5s.
func NewStore(db *sql.DB, bufferSize int, flushInterval time.Duration, opts ...StoreOption) *Store {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	if flushInterval <= 0 {
		flushInterval = 5 * time.Second
	}
	s := &Store{
		mem:           NewMemory(),
		db:            db,
		counterDelta:  make(map[string]int64),
		gaugeLatest:   make(map[string]float64),
		bufferSize:    bufferSize,
		flushInterval: flushInterval,
		newID:         idgen.Prefixed("evt_", idgen.Default),
		now:           time.Now,
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
	for _, o := range opts {
		o(s)
	}
	go s.flushLoop()
	return s
}

func (s *Store) IncrementCounter(name string) { s.AddCounter(name, 1) }

func (s *Store) AddCounter(name string, delta int64) {
	s.mem.AddCounter(name, delta)
	s.mu.Lock()
	s.counterDelta[name] += delta
	s.mu.Unlock()
}

func (s *Store) SetGauge(name string, value float64) {
	s.mem.SetGauge(name, value)
	s.mu.Lock()
	s.gaugeLatest[name] = value
	s.mu.Unlock()
}

func (s *Store) StartStage(name string) string {
	return s.mem.StartStage(name)
}

// EndStage closes the span and queues the finished row for persistence.
func (s *Store) EndStage(token string) {
	s.mem.EndStage(token)

	s.mem.mu.Lock()
	st, ok := s.mem.stages[token]
	var row stageRow
	if ok && st.Done {
		row = stageRow{token: st.Token, name: st.Name, startedAt: st.StartedAt, duration: st.Duration}
	}
	s.mem.mu.Unlock()
	if !ok {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.stageBuf = append(s.stageBuf, row)
	if s.pendingLocked() >= s.bufferSize {
		s.flushLocked()
	}
}

func (s *Store) RecordRequest(host, method, url string, status int, ok bool, elapsed time.Duration) {
	s.mem.RecordRequest(host, method, url, status, ok, elapsed)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.reqBuf = append(s.reqBuf, requestRow{
		host: host, method: method, url: url,
		status: status, ok: ok, elapsed: elapsed, at: s.now(),
	})
	if s.pendingLocked() >= s.bufferSize {
		s.flushLocked()
	}
}

func (s *Store) LogEvent(level, event string, details map[string]any) {
	s.mem.LogEvent(level, event, details)

	var detailsJSON string
	if len(details) > 0 {
		if b, err := json.Marshal(details); err == nil {
			detailsJSON = string(b)
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.evtBuf = append(s.evtBuf, eventRow{
		id: s.newID(), level: level, event: event,
		details: detailsJSON, at: s.now(),
	})
	if s.pendingLocked() >= s.bufferSize {
		s.flushLocked()
	}
}

func (s *Store) Snapshot() Snapshot { return s.mem.Snapshot() }

// Close flushes pending rows and stops the background goroutine.
func (s *Store) Close() error {
	close(s.stop)
	<-s.done
	return nil
}

// RequestLog returns the most recent persisted request rows for a host.
// Pass empty host for all hosts.
func (s *Store) RequestLog(ctx context.Context, host string, limit int) ([]map[string]any, error) {
	q := `SELECT host, method, url, status, ok, elapsed_ms, created_at FROM telemetry_requests`
	args := []any{}
	if host != "" {
		q += ` WHERE host = ?`
		args = append(args, host)
	}
	q += ` ORDER BY created_at DESC`
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []map[string]any
	for rows.Next() {
		var h, method, url string
		var status, okInt int
		var elapsedMs, createdAt int64
		if err := rows.Scan(&h, &method, &url, &status, &okInt, &elapsedMs, &createdAt); err != nil {
			return nil, err
		}
		out = append(out, map[string]any{
			"host": h, "method": method, "url": url, "status": status,
			"ok": okInt == 1, "elapsed_ms": elapsedMs, "created_at": createdAt,
		})
	}
	return out, rows.Err()
}

func (s *Store) pendingLocked() int {
	return len(s.reqBuf) + len(s.evtBuf) + len(s.stageBuf)
}

func (s *Store) flushLoop() {
	defer close(s.done)
	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			s.mu.Lock()
			s.flushLocked()
			s.mu.Unlock()
			return
		case <-ticker.C:
			s.mu.Lock()
			s.flushLocked()
			s.mu.Unlock()
		}
	}
}

func (s *Store) flushLocked() {
	if s.pendingLocked() == 0 && len(s.counterDelta) == 0 && len(s.gaugeLatest) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// One transaction per batch; lock contention retries the whole batch.
	err := dbopen.RunTx(ctx, s.db, func(tx *sql.Tx) error {
		s.writeBatch(ctx, tx)
		return nil
	})
	if err != nil {
		slog.Error("telemetry store: flush", "error", err)
		return
	}

	s.reqBuf = s.reqBuf[:0]
	s.evtBuf = s.evtBuf[:0]
	s.stageBuf = s.stageBuf[:0]
	clear(s.counterDelta)
	clear(s.gaugeLatest)
}

// writeBatch issues the buffered rows on tx. Row-level failures are logged
// and skipped so one bad row cannot wedge the whole batch.
func (s *Store) writeBatch(ctx context.Context, tx *sql.Tx) {
	nowUnix := s.now().Unix()

	for name, delta := range s.counterDelta {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO telemetry_counters (name, value, updated_at) VALUES (?,?,?)
			 ON CONFLICT(name) DO UPDATE SET value = value + excluded.value, updated_at = excluded.updated_at`,
			name, delta, nowUnix); err != nil {
			slog.Error("telemetry store: counter upsert", "error", err, "counter", name)
		}
	}

	for name, value := range s.gaugeLatest {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO telemetry_gauges (name, value, updated_at) VALUES (?,?,?)
			 ON CONFLICT(name) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
			name, value, nowUnix); err != nil {
			slog.Error("telemetry store: gauge upsert", "error", err, "gauge", name)
		}
	}

	if len(s.stageBuf) > 0 {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT OR REPLACE INTO telemetry_stages (token, name, started_at, duration_ms) VALUES (?,?,?,?)`)
		if err == nil {
			for _, r := range s.stageBuf {
				if _, err := stmt.ExecContext(ctx, r.token, r.name, r.startedAt.Unix(), r.duration.Milliseconds()); err != nil {
					slog.Error("telemetry store: stage insert", "error", err, "stage", r.name)
				}
			}
			stmt.Close()
		} else {
			slog.Error("telemetry store: prepare stages", "error", err)
		}
	}

	if len(s.reqBuf) > 0 {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO telemetry_requests (host, method, url, status, ok, elapsed_ms, created_at) VALUES (?,?,?,?,?,?,?)`)
		if err == nil {
			for _, r := range s.reqBuf {
				okInt := 0
				if r.ok {
					okInt = 1
				}
				if _, err := stmt.ExecContext(ctx, r.host, r.method, r.url, r.status, okInt, r.elapsed.Milliseconds(), r.at.Unix()); err != nil {
					slog.Error("telemetry store: request insert", "error", err, "host", r.host)
				}
			}
			stmt.Close()
		} else {
			slog.Error("telemetry store: prepare requests", "error", err)
		}
	}

	if len(s.evtBuf) > 0 {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO telemetry_events (id, level, event, details, created_at) VALUES (?,?,?,?,?)`)
		if err == nil {
			for _, r := range s.evtBuf {
				var details sql.NullString
				if r.details != "" {
					details = sql.NullString{String: r.details, Valid: true}
				}
				if _, err := stmt.ExecContext(ctx, r.id, r.level, r.event, details, r.at.Unix()); err != nil {
					slog.Error("telemetry store: event insert", "error", err, "event", r.event)
				}
			}
			stmt.Close()
		} else {
			slog.Error("telemetry store: prepare events", "error", err)
		}
	}
}
