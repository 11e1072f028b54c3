// CLAUDE:SUMMARY Keyword harvesting service — assembles coordinator/pool/executor/cache/trends/adapters/pipeline and fans runs out.
// Package harvest assembles the keyword harvesting service. One Service owns
// the shared rate coordinator, the proxy pool, the retrying executor, the
// response cache, the trends protocol client, the source adapters and the
// distill pipeline, and exposes them over HTTP and MCP.
package harvest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/yangqingmang/find-demand-sub000/cache"
	"github.com/yangqingmang/find-demand-sub000/dispatch"
	"github.com/yangqingmang/find-demand-sub000/distill"
	"github.com/yangqingmang/find-demand-sub000/embedder"
	"github.com/yangqingmang/find-demand-sub000/harvest/internal/source"
	"github.com/yangqingmang/find-demand-sub000/idgen"
	"github.com/yangqingmang/find-demand-sub000/proxypool"
	"github.com/yangqingmang/find-demand-sub000/ratelimit"
	"github.com/yangqingmang/find-demand-sub000/telemetry"
	"github.com/yangqingmang/find-demand-sub000/trends"
)

// Run status values.
const (
	StatusOK      = "ok"
	StatusPartial = "partial"
	StatusEmpty   = "empty"
)

// ErrUnknownSource is returned when a requested source name matches no
// adapter.
var ErrUnknownSource = errors.New("harvest: unknown source")

// SourceStats counts completed calls for one source within a run.
type SourceStats struct {
	Success int `json:"success"`
	Failure int `json:"failure"`
}

// Result is the outcome of one harvest run.
type Result struct {
	RunID   string                 `json:"run_id"`
	Seeds   []string               `json:"seeds"`
	Records []distill.Record       `json:"records"`
	Sources map[string]SourceStats `json:"sources"`
	// Status is "ok" when every call succeeded, "partial" when some failed
	// but records came through, "empty" when nothing survived.
	Status string `json:"status"`
	// Fetched counts raw records before dedup and filtering.
	Fetched     int                      `json:"fetched"`
	Dropped     distill.DropStats        `json:"dropped"`
	Clustered   bool                     `json:"clustered"`
	Diagnostics []string                 `json:"diagnostics,omitempty"`
	StartedAt   time.Time                `json:"started_at"`
	Stages      map[string]time.Duration `json:"stages"`
}

// --- Service ---

// Service is the harvesting facade.
type Service struct {
	cfg    *Config
	logger *slog.Logger

	coord    *ratelimit.Coordinator
	pool     *proxypool.Pool
	exec     *dispatch.Executor
	store    cache.Cache
	trends   *trends.Client
	adapters []source.Adapter
	pipeline *distill.Pipeline

	sink  telemetry.Sink
	now   func() time.Time
	newID idgen.Generator
}

// ServiceOption customizes a Service.
type ServiceOption func(*Service)

// WithTelemetry sets the telemetry sink shared by every subsystem.
func WithTelemetry(s telemetry.Sink) ServiceOption {
	return func(svc *Service) { svc.sink = s }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) ServiceOption {
	return func(svc *Service) { svc.now = now }
}

// WithIDGen overrides the run ID generator.
func WithIDGen(gen idgen.Generator) ServiceOption {
	return func(svc *Service) { svc.newID = gen }
}

// WithCache replaces the in-memory response cache, e.g. with the
// SQLite-backed one.
func WithCache(c cache.Cache) ServiceOption {
	return func(svc *Service) { svc.store = c }
}

// WithAdapters replaces the built-in source adapters. Used in tests.
func WithAdapters(adapters ...source.Adapter) ServiceOption {
	return func(svc *Service) { svc.adapters = adapters }
}

// New wires the subsystem graph. A nil cfg runs everything on defaults.
func New(cfg *Config, logger *slog.Logger, opts ...ServiceOption) *Service {
	if cfg == nil {
		cfg = &Config{}
	}
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	svc := &Service{
		cfg:    cfg,
		logger: logger,
		sink:   telemetry.Nop{},
		now:    time.Now,
		newID:  idgen.Prefixed("run_", idgen.Default),
	}
	for _, o := range opts {
		o(svc)
	}

	svc.coord = ratelimit.New(cfg.RateLimit,
		ratelimit.WithClock(svc.now),
		ratelimit.WithLogger(logger),
	)
	svc.pool = proxypool.New(cfg.Proxies,
		proxypool.WithClock(svc.now),
		proxypool.WithLogger(logger),
	)
	svc.exec = dispatch.New(svc.coord, svc.pool, cfg.Dispatch,
		dispatch.WithClock(svc.now),
		dispatch.WithTelemetry(svc.sink),
		dispatch.WithLogger(logger),
	)
	if svc.store == nil {
		svc.store = cache.NewMemory(cfg.Cache.EffectiveTTL())
	}
	// The trends client keeps its own cookie-jarred executor so the three
	// protocol phases share one session; only cache and pacing are shared.
	svc.trends = trends.New(cfg.Trends, svc.coord, svc.pool,
		trends.WithCache(svc.store),
		trends.WithTelemetry(svc.sink),
		trends.WithLogger(logger),
	)
	svc.pipeline = distill.New(cfg.Distill, embedder.NewRegistry(cfg.Embedder),
		distill.WithClock(svc.now),
		distill.WithTelemetry(svc.sink),
		distill.WithLogger(logger),
	)
	if svc.adapters == nil {
		svc.adapters = source.All(source.Deps{
			Exec:   svc.exec,
			Cache:  svc.store,
			Sink:   svc.sink,
			Logger: logger,
			Now:    svc.now,
		}, cfg.Sources)
	}
	return svc
}

// Start warms the trends session in the background. Harvest runs do not
// need the session; the protocol endpoints bootstrap lazily without it.
func (svc *Service) Start(ctx context.Context) {
	go func() {
		if err := svc.trends.BootstrapSession(ctx); err != nil {
			svc.logger.Warn("trends warmup", "error", err)
		}
	}()
}

// Trends exposes the protocol client.
func (svc *Service) Trends() *trends.Client { return svc.trends }

// Pool exposes the proxy pool.
func (svc *Service) Pool() *proxypool.Pool { return svc.pool }

// Coordinator exposes the shared rate coordinator.
func (svc *Service) Coordinator() *ratelimit.Coordinator { return svc.coord }

// Cache exposes the response cache.
func (svc *Service) Cache() cache.Cache { return svc.store }

// Telemetry exposes the telemetry sink.
func (svc *Service) Telemetry() telemetry.Sink { return svc.sink }

// --- Harvest ---

// Harvest fans the seeds out over every source adapter, merges whatever
// came back and runs the distill pipeline once on the merged set. A failing
// source only bumps its failure counter; the run itself never errors on
// upstream trouble.
func (svc *Service) Harvest(ctx context.Context, seeds []string) (*Result, error) {
	return svc.run(ctx, svc.adapters, seeds)
}

// HarvestSources is Harvest restricted to the named sources. An empty list
// runs every adapter; a name matching no adapter fails with
// ErrUnknownSource.
func (svc *Service) HarvestSources(ctx context.Context, seeds, sources []string) (*Result, error) {
	if len(sources) == 0 {
		return svc.run(ctx, svc.adapters, seeds)
	}
	byName := make(map[string]source.Adapter, len(svc.adapters))
	for _, a := range svc.adapters {
		byName[a.Name()] = a
	}
	var picked []source.Adapter
	for _, name := range sources {
		a, ok := byName[name]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrUnknownSource, name)
		}
		picked = append(picked, a)
	}
	return svc.run(ctx, picked, seeds)
}

func (svc *Service) run(ctx context.Context, adapters []source.Adapter, seeds []string) (*Result, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	seeds = cleanSeeds(seeds)
	runID := svc.newID()
	started := svc.now()

	type call struct {
		adapter source.Adapter
		target  string
	}
	var calls []call
	stats := make(map[string]SourceStats, len(adapters))
	for _, a := range adapters {
		stats[a.Name()] = SourceStats{}
		for _, target := range a.Targets(seeds) {
			calls = append(calls, call{adapter: a, target: target})
		}
	}

	svc.logger.Info("harvest started", "run_id", runID, "seeds", len(seeds), "calls", len(calls))
	svc.sink.LogEvent("info", "harvest_started", map[string]any{
		"run_id": runID, "seeds": len(seeds), "calls": len(calls),
	})

	fetchToken := svc.sink.StartStage("fetch")
	global := make(chan struct{}, svc.cfg.Run.MaxConcurrent)
	perSource := make(map[string]chan struct{}, len(adapters))
	for _, a := range adapters {
		perSource[a.Name()] = make(chan struct{}, svc.cfg.Run.AdapterConcurrency)
	}

	fetched := make([][]distill.Record, len(calls))
	errs := make([]error, len(calls))
	var wg sync.WaitGroup
	for i, c := range calls {
		wg.Add(1)
		go func(i int, c call) {
			defer wg.Done()
			fetched[i], errs[i] = svc.runCall(ctx, global, perSource[c.adapter.Name()], c.adapter, c.target)
		}(i, c)
	}
	wg.Wait()
	svc.sink.EndStage(fetchToken)
	fetchElapsed := svc.now().Sub(started)

	// Merge in task order so dedup keeps the same survivor run over run.
	var merged []distill.Record
	for i, c := range calls {
		st := stats[c.adapter.Name()]
		if errs[i] != nil {
			st.Failure++
			svc.logger.Warn("source call failed",
				"source", c.adapter.Name(), "target", c.target, "error", errs[i])
		} else {
			st.Success++
			merged = append(merged, fetched[i]...)
		}
		stats[c.adapter.Name()] = st
	}

	distillStart := svc.now()
	out := svc.pipeline.Run(ctx, merged)

	failures := 0
	for _, st := range stats {
		failures += st.Failure
	}
	status := StatusOK
	switch {
	case len(out.Records) == 0:
		status = StatusEmpty
	case failures > 0:
		status = StatusPartial
	}

	res := &Result{
		RunID:     runID,
		Seeds:     seeds,
		Records:   out.Records,
		Sources:   stats,
		Status:    status,
		Fetched:   len(merged),
		Dropped:   out.Dropped,
		Clustered: out.Clustered,
		StartedAt: started,
		Stages: map[string]time.Duration{
			"fetch":   fetchElapsed,
			"distill": svc.now().Sub(distillStart),
		},
	}
	for _, d := range out.Diagnostics {
		res.Diagnostics = append(res.Diagnostics, d.Error())
	}

	svc.sink.LogEvent("info", "harvest_finished", map[string]any{
		"run_id": runID, "status": status, "records": len(out.Records), "fetched": len(merged),
	})
	svc.logger.Info("harvest finished",
		"run_id", runID, "status", status, "records", len(out.Records),
		"fetched", len(merged), "failures", failures, "elapsed", svc.now().Sub(started))
	return res, nil
}

// runCall holds a global slot plus a per-source permit for the duration of
// one adapter fetch.
func (svc *Service) runCall(ctx context.Context, global, permit chan struct{}, a source.Adapter, target string) ([]distill.Record, error) {
	select {
	case global <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-global }()

	select {
	case permit <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-permit }()

	callCtx, cancel := context.WithTimeout(ctx, svc.cfg.Run.CallTimeout)
	defer cancel()
	return a.Fetch(callCtx, target)
}

func cleanSeeds(seeds []string) []string {
	var out []string
	seen := make(map[string]struct{}, len(seeds))
	for _, s := range seeds {
		s = strings.TrimSpace(s)
		if s == "" {
			continue
		}
		key := strings.ToLower(s)
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, s)
	}
	return out
}
