// CLAUDE:SUMMARY TTL response cache with canonicalized keys; in-memory and SQLite backends behind one interface.
// Package cache provides the TTL cache wrapped around upstream calls.
//
// Keys are canonicalized request signatures so identical (source, query)
// pairs hit the same entry regardless of formatting. Two backends share one
// interface: an in-memory map for single runs and a SQLite index that
// survives restarts.
package cache

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"strings"
	"sync"
	"time"
)

// DefaultTTL is applied when a Set call passes no positive TTL.
const DefaultTTL = time.Hour

// maxKeyPrefix bounds the readable part of a key; the hash suffix keeps
// truncated keys distinct.
const maxKeyPrefix = 64

// Cache is a TTL key/value store. Expired entries are purged lazily on
// read; PurgeExpired sweeps them eagerly.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, payload []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	PurgeExpired(ctx context.Context) (int, error)
	Clear(ctx context.Context) (int, error)
}

// Key canonicalizes a request signature into a cache key: lowercase, unsafe
// characters replaced by underscores, truncated, with a 10-char SHA-1
// suffix of the raw signature so distinct requests never collide.
func Key(namespace string, parts ...string) string {
	raw := namespace + ":" + strings.Join(parts, ":")
	sum := sha1.Sum([]byte(raw))

	var b strings.Builder
	for _, r := range strings.ToLower(raw) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	s := b.String()
	if len(s) > maxKeyPrefix {
		s = s[:maxKeyPrefix]
	}
	return s + "_" + hex.EncodeToString(sum[:])[:10]
}

// Config selects the backend and default TTL.
type Config struct {
	// TTL is the default entry lifetime. Default: 1h.
	TTL time.Duration `yaml:"ttl"`
	// Path is the SQLite index file. Empty selects the in-memory backend.
	Path string `yaml:"path"`
}

func (c *Config) EffectiveTTL() time.Duration {
	if c.TTL <= 0 {
		return DefaultTTL
	}
	return c.TTL
}

type memoryEntry struct {
	payload   []byte
	expiresAt time.Time
}

// Memory is the in-process backend.
type Memory struct {
	ttl time.Duration

	mu      sync.Mutex
	entries map[string]memoryEntry

	now func() time.Time
}

// MemoryOption customizes a Memory cache.
type MemoryOption func(*Memory)

// WithMemoryClock overrides the time source.
func WithMemoryClock(now func() time.Time) MemoryOption {
	return func(m *Memory) { m.now = now }
}

// NewMemory builds an in-memory cache with the given default TTL.
func NewMemory(ttl time.Duration, opts ...MemoryOption) *Memory {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	m := &Memory{
		ttl:     ttl,
		entries: make(map[string]memoryEntry),
		now:     time.Now,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

func (m *Memory) Get(_ context.Context, key string) ([]byte, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[key]
	if !ok {
		return nil, false, nil
	}
	if !e.expiresAt.After(m.now()) {
		delete(m.entries, key)
		return nil, false, nil
	}
	out := make([]byte, len(e.payload))
	copy(out, e.payload)
	return out, true, nil
}

func (m *Memory) Set(_ context.Context, key string, payload []byte, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = m.ttl
	}
	stored := make([]byte, len(payload))
	copy(stored, payload)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[key] = memoryEntry{payload: stored, expiresAt: m.now().Add(ttl)}
	return nil
}

func (m *Memory) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	return nil
}

func (m *Memory) PurgeExpired(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	removed := 0
	for key, e := range m.entries {
		if !e.expiresAt.After(now) {
			delete(m.entries, key)
			removed++
		}
	}
	return removed, nil
}

func (m *Memory) Clear(_ context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := len(m.entries)
	m.entries = make(map[string]memoryEntry)
	return n, nil
}

// Len returns the live entry count, expired included until purged.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.entries)
}
