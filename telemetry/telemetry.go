// Package telemetry collects the harvest run's operational signals: counters,
// gauges, stage timings, per-request outcomes and business events.
//
// Two implementations are provided: Memory (mutex-guarded maps, good for
// tests and single-shot runs) and Store (SQLite-backed with async batched
// flushing, good for the daemon). Both are non-blocking on the hot path;
// the Store silently drops datapoints on buffer overflow rather than applying
// backpressure to the harvesting pipeline.
package telemetry

import "time"

// Sink receives operational signals from the harvesting components.
type Sink interface {
	// IncrementCounter adds 1 to the named counter.
	IncrementCounter(name string)

	// AddCounter adds delta to the named counter.
	AddCounter(name string, delta int64)

	// SetGauge sets the named gauge to value.
	SetGauge(name string, value float64)

	// StartStage opens a named timing span and returns its token.
	StartStage(name string) string

	// EndStage closes the span identified by token. Unknown tokens are ignored.
	EndStage(token string)

	// RecordRequest records one upstream HTTP attempt.
	RecordRequest(host, method, url string, status int, ok bool, elapsed time.Duration)

	// LogEvent records a business event ("harvest_started", "cooldown_set", ...).
	LogEvent(level, event string, details map[string]any)

	// Snapshot returns the current in-process view of all signals.
	Snapshot() Snapshot
}

// StageTiming is one completed or in-flight timing span.
type StageTiming struct {
	Token     string        `json:"token"`
	Name      string        `json:"name"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration"`
	Done      bool          `json:"done"`
}

// RequestStats aggregates RecordRequest calls per host.
type RequestStats struct {
	Total       int64         `json:"total"`
	Failed      int64         `json:"failed"`
	TotalTime   time.Duration `json:"total_time"`
	LastStatus  int           `json:"last_status"`
	LastElapsed time.Duration `json:"last_elapsed"`
}

// Snapshot is a point-in-time copy of the collected signals.
type Snapshot struct {
	Counters map[string]int64        `json:"counters"`
	Gauges   map[string]float64      `json:"gauges"`
	Stages   []StageTiming           `json:"stages"`
	Requests map[string]RequestStats `json:"requests"`
}

// Nop discards every signal. Used when telemetry is disabled.
type Nop struct{}

func (Nop) IncrementCounter(string)                                        {}
func (Nop) AddCounter(string, int64)                                       {}
func (Nop) SetGauge(string, float64)                                       {}
func (Nop) StartStage(string) string                                       { return "" }
func (Nop) EndStage(string)                                                {}
func (Nop) RecordRequest(string, string, string, int, bool, time.Duration) {}
func (Nop) LogEvent(string, string, map[string]any)                        {}
func (Nop) Snapshot() Snapshot                                             { return Snapshot{} }

// Counter name constants shared by the harvesting components.
const (
	CounterRequestsTotal     = "requests_total"
	CounterRequestsFailed    = "requests_failed"
	CounterRateLimited       = "rate_limited"
	CounterCacheHits         = "cache_hits"
	CounterCacheMisses       = "cache_misses"
	CounterProxyRotations    = "proxy_rotations"
	CounterClusteringSkipped = "clustering_skipped"
	CounterRecordsHarvested  = "records_harvested"
	CounterRecordsDropped    = "records_dropped"
	CounterToolCalls         = "tool_calls"
	CounterToolFailures      = "tool_failures"
)
