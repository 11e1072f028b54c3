package telemetry

import (
	"log/slog"
	"sync"
	"time"

	"github.com/yangqingmang/find-demand-sub000/idgen"
)

// Memory is an in-process Sink backed by mutex-guarded maps.
type Memory struct {
	mu       sync.Mutex
	counters map[string]int64
	gauges   map[string]float64
	stages   map[string]*StageTiming
	order    []string // stage tokens in start order
	requests map[string]RequestStats
	newID    idgen.Generator
	now      func() time.Time
	logger   *slog.Logger
}

// MemoryOption configures a Memory sink.
type MemoryOption func(*Memory)

// WithIDGenerator overrides the stage token generator.
func WithIDGenerator(gen idgen.Generator) MemoryOption {
	return func(m *Memory) { m.newID = gen }
}

// WithClock overrides the time source. Used in tests.
func WithClock(now func() time.Time) MemoryOption {
	return func(m *Memory) { m.now = now }
}

// WithLogger sets the logger used to mirror events.
func WithLogger(l *slog.Logger) MemoryOption {
	return func(m *Memory) { m.logger = l }
}

// NewMemory creates an in-memory Sink.
func NewMemory(opts ...MemoryOption) *Memory {
	m := &Memory{
		counters: make(map[string]int64),
		gauges:   make(map[string]float64),
		stages:   make(map[string]*StageTiming),
		requests: make(map[string]RequestStats),
		newID:    idgen.Prefixed("stg_", idgen.NanoID(10)),
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

func (m *Memory) IncrementCounter(name string) { m.AddCounter(name, 1) }

func (m *Memory) AddCounter(name string, delta int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[name] += delta
}

func (m *Memory) SetGauge(name string, value float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gauges[name] = value
}

func (m *Memory) StartStage(name string) string {
	token := m.newID()
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stages[token] = &StageTiming{Token: token, Name: name, StartedAt: m.now()}
	m.order = append(m.order, token)
	return token
}

func (m *Memory) EndStage(token string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.stages[token]
	if !ok || st.Done {
		return
	}
	st.Duration = m.now().Sub(st.StartedAt)
	st.Done = true
}

func (m *Memory) RecordRequest(host, method, url string, status int, ok bool, elapsed time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rs := m.requests[host]
	rs.Total++
	if !ok {
		rs.Failed++
	}
	rs.TotalTime += elapsed
	rs.LastStatus = status
	rs.LastElapsed = elapsed
	m.requests[host] = rs
}

func (m *Memory) LogEvent(level, event string, details map[string]any) {
	attrs := make([]any, 0, len(details)*2)
	for k, v := range details {
		attrs = append(attrs, k, v)
	}
	switch level {
	case "debug":
		m.logger.Debug(event, attrs...)
	case "warn":
		m.logger.Warn(event, attrs...)
	case "error":
		m.logger.Error(event, attrs...)
	default:
		m.logger.Info(event, attrs...)
	}
}

func (m *Memory) Snapshot() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()

	snap := Snapshot{
		Counters: make(map[string]int64, len(m.counters)),
		Gauges:   make(map[string]float64, len(m.gauges)),
		Stages:   make([]StageTiming, 0, len(m.order)),
		Requests: make(map[string]RequestStats, len(m.requests)),
	}
	for k, v := range m.counters {
		snap.Counters[k] = v
	}
	for k, v := range m.gauges {
		snap.Gauges[k] = v
	}
	for _, token := range m.order {
		if st := m.stages[token]; st != nil {
			snap.Stages = append(snap.Stages, *st)
		}
	}
	for k, v := range m.requests {
		snap.Requests[k] = v
	}
	return snap
}
