// CLAUDE:SUMMARY Retrying HTTP executor: cooldown skip, window reserve, proxy rotation, tagged outcomes.
// Package dispatch executes upstream HTTP calls for every source adapter.
//
// A single Executor owns the retry loop: it consults the shared rate-limit
// coordinator before touching the network, routes through the proxy pool
// when the domain policy calls for it, and reports each attempt to
// telemetry. Results come back as a tagged Outcome, never a raised error,
// so callers branch on Status.
package dispatch

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/yangqingmang/find-demand-sub000/proxypool"
	"github.com/yangqingmang/find-demand-sub000/ratelimit"
	"github.com/yangqingmang/find-demand-sub000/telemetry"
)

// maxResponseBody caps response reads from upstream endpoints (10 MiB).
const maxResponseBody int64 = 10 << 20

// Request describes one logical upstream call.
type Request struct {
	Method  string
	URL     string
	Query   url.Values
	Headers map[string]string
	Body    []byte
	// Domain keys rate-limit state. Empty means the URL host.
	Domain string
	// UseProxy requests proxy routing; the domain policy can also force it.
	UseProxy bool
	// LimitOverride replaces the domain's per-window limit for this call.
	LimitOverride int
}

// Config tunes the executor.
type Config struct {
	// MaxAttempts is the total number of tries per call. Default: 3.
	MaxAttempts int `yaml:"max_attempts"`
	// Timeout bounds a single attempt. Default: 30s.
	Timeout time.Duration `yaml:"timeout"`
	// RetryDelayMin/Max bound the jittered base delay between attempts;
	// the draw is multiplied by the attempt number. Defaults: 2s / 5s.
	RetryDelayMin time.Duration `yaml:"retry_delay_min"`
	RetryDelayMax time.Duration `yaml:"retry_delay_max"`
	// UserAgent is sent when the request carries no User-Agent header.
	UserAgent string `yaml:"user_agent"`
}

func (c *Config) defaults() {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.RetryDelayMin <= 0 {
		c.RetryDelayMin = 2 * time.Second
	}
	if c.RetryDelayMax <= c.RetryDelayMin {
		c.RetryDelayMax = c.RetryDelayMin + 3*time.Second
	}
	if c.UserAgent == "" {
		c.UserAgent = "find-demand-harvester/1.0"
	}
}

// Executor issues rate-limited, proxy-aware HTTP calls.
type Executor struct {
	cfg    Config
	coord  *ratelimit.Coordinator
	pool   *proxypool.Pool
	client *http.Client
	sink   telemetry.Sink
	logger *slog.Logger
	now    func() time.Time
}

// ExecutorOption customizes an Executor.
type ExecutorOption func(*Executor)

// WithHTTPClient replaces the direct (non-proxy) client.
func WithHTTPClient(c *http.Client) ExecutorOption {
	return func(e *Executor) { e.client = c }
}

// WithTelemetry sets the telemetry sink.
func WithTelemetry(s telemetry.Sink) ExecutorOption {
	return func(e *Executor) { e.sink = s }
}

// WithLogger sets the executor logger.
func WithLogger(l *slog.Logger) ExecutorOption {
	return func(e *Executor) { e.logger = l }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) ExecutorOption {
	return func(e *Executor) { e.now = now }
}

// New builds an Executor. The coordinator is required; pool may be nil when
// no proxies are configured.
func New(coord *ratelimit.Coordinator, pool *proxypool.Pool, cfg Config, opts ...ExecutorOption) *Executor {
	cfg.defaults()
	e := &Executor{
		cfg:    cfg,
		coord:  coord,
		pool:   pool,
		sink:   telemetry.Nop{},
		logger: slog.Default(),
		now:    time.Now,
	}
	for _, o := range opts {
		o(e)
	}
	if e.client == nil {
		e.client = &http.Client{Timeout: cfg.Timeout}
	}
	return e
}

// Do executes the request under the domain's rate-limit policy and returns
// a tagged outcome. Cooldown-suppressed calls return StatusSkipped without
// any network attempt; a 429 sets a shared cooldown and returns
// StatusRateLimited immediately so sibling adapters back off too.
func (e *Executor) Do(ctx context.Context, req Request) Outcome {
	target, err := url.Parse(req.URL)
	if err != nil {
		return Outcome{Status: StatusFatal, Err: fmt.Errorf("dispatch: parse url: %w", err)}
	}
	if len(req.Query) > 0 {
		q := target.Query()
		for k, vs := range req.Query {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		target.RawQuery = q.Encode()
	}
	domain := req.Domain
	if domain == "" {
		domain = target.Host
	}

	if e.coord.InCooldown(domain) {
		remaining := e.coord.CooldownRemaining(domain)
		e.logger.Debug("call skipped, domain in cooldown",
			"domain", domain,
			"remaining", remaining)
		return Outcome{Status: StatusSkipped, RetryAfter: remaining}
	}

	if err := e.coord.ReserveLimit(ctx, domain, req.LimitOverride); err != nil {
		return Outcome{Status: StatusFatal, Err: err}
	}
	if delay := e.coord.PolitenessDelay(domain); delay > 0 {
		if err := sleepCtx(ctx, delay); err != nil {
			return Outcome{Status: StatusFatal, Err: err}
		}
	}

	useProxy := e.coord.ShouldUseProxy(req.UseProxy, domain)

	var last Outcome
	for attempt := 0; attempt < e.cfg.MaxAttempts; attempt++ {
		var proxyKey string
		var tr *http.Transport
		client := e.client
		if useProxy {
			entry, perr := e.pickProxy(attempt)
			if perr != nil {
				return Outcome{Status: StatusFatal, Err: perr}
			}
			var terr error
			tr, terr = proxypool.Transport(entry)
			if terr != nil {
				return Outcome{Status: StatusFatal, Err: terr}
			}
			proxyKey = entry.Key()
			// Inherit the base client's jar so session cookies survive
			// proxy rotation.
			client = &http.Client{Transport: tr, Timeout: e.cfg.Timeout, Jar: e.client.Jar}
			if attempt > 0 {
				e.sink.IncrementCounter(telemetry.CounterProxyRotations)
			}
		}

		last = e.attempt(ctx, client, req.Method, target.String(), req.Headers, req.Body, domain, proxyKey)
		if tr != nil {
			tr.CloseIdleConnections()
		}
		switch last.Status {
		case StatusOK, StatusRateLimited, StatusFatal:
			return last
		}
		if ctx.Err() != nil {
			return Outcome{Status: StatusFatal, Err: ctx.Err()}
		}
		if attempt < e.cfg.MaxAttempts-1 {
			wait := e.retryDelay(attempt)
			e.logger.Warn("retrying request",
				"domain", domain,
				"attempt", attempt+1,
				"max_attempts", e.cfg.MaxAttempts,
				"backoff_ms", wait.Milliseconds(),
				"error", last.Err)
			if err := sleepCtx(ctx, wait); err != nil {
				return Outcome{Status: StatusFatal, Err: err}
			}
		}
	}
	return last
}

// attempt issues one HTTP round trip and classifies the result.
func (e *Executor) attempt(ctx context.Context, client *http.Client, method, target string, headers map[string]string, body []byte, domain, proxyKey string) Outcome {
	if method == "" {
		method = http.MethodGet
	}
	var rd io.Reader
	if len(body) > 0 {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, rd)
	if err != nil {
		return Outcome{Status: StatusFatal, Err: fmt.Errorf("dispatch: create request: %w", err)}
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", e.cfg.UserAgent)
	}

	start := e.now()
	resp, err := client.Do(req)
	elapsed := e.now().Sub(start)

	e.sink.IncrementCounter(telemetry.CounterRequestsTotal)
	if err != nil {
		e.sink.IncrementCounter(telemetry.CounterRequestsFailed)
		e.sink.RecordRequest(domain, method, target, 0, false, elapsed)
		e.markProxy(proxyKey, false, 0)
		return Outcome{Status: StatusTransient, Err: fmt.Errorf("dispatch: do request: %w", err)}
	}
	defer resp.Body.Close()

	ok := resp.StatusCode >= 200 && resp.StatusCode < 300
	e.sink.RecordRequest(domain, method, target, resp.StatusCode, ok, elapsed)

	switch {
	case ok:
		payload, rerr := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
		if rerr != nil {
			e.sink.IncrementCounter(telemetry.CounterRequestsFailed)
			e.markProxy(proxyKey, false, 0)
			return Outcome{Status: StatusTransient, Err: fmt.Errorf("dispatch: read response: %w", rerr)}
		}
		e.markProxy(proxyKey, true, elapsed)
		return Outcome{Status: StatusOK, Body: payload, HTTPStatus: resp.StatusCode}

	case resp.StatusCode == http.StatusTooManyRequests:
		e.sink.IncrementCounter(telemetry.CounterRequestsFailed)
		e.sink.IncrementCounter(telemetry.CounterRateLimited)
		e.markProxy(proxyKey, false, 0)
		retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
		e.coord.SetCooldown(domain, retryAfter, 1.0)
		if retryAfter <= 0 {
			retryAfter = e.coord.CooldownRemaining(domain)
		}
		return Outcome{Status: StatusRateLimited, HTTPStatus: resp.StatusCode, RetryAfter: retryAfter}

	case resp.StatusCode >= 500:
		e.sink.IncrementCounter(telemetry.CounterRequestsFailed)
		e.markProxy(proxyKey, false, 0)
		return Outcome{
			Status:     StatusTransient,
			HTTPStatus: resp.StatusCode,
			Err:        fmt.Errorf("dispatch: status %d", resp.StatusCode),
		}

	default:
		e.sink.IncrementCounter(telemetry.CounterRequestsFailed)
		// Client errors will not heal with a retry; the proxy is fine.
		e.markProxy(proxyKey, true, elapsed)
		return Outcome{
			Status:     StatusFatal,
			HTTPStatus: resp.StatusCode,
			Err:        fmt.Errorf("dispatch: status %d", resp.StatusCode),
		}
	}
}

// pickProxy returns the best proxy on the first attempt and rotates through
// random active entries on retries.
func (e *Executor) pickProxy(attempt int) (proxypool.Entry, error) {
	if e.pool == nil {
		return proxypool.Entry{}, proxypool.ErrExhausted
	}
	if attempt == 0 {
		return e.pool.Best()
	}
	return e.pool.Random()
}

func (e *Executor) markProxy(key string, ok bool, latency time.Duration) {
	if key == "" || e.pool == nil {
		return
	}
	e.pool.MarkResult(key, ok, latency)
}

func (e *Executor) retryDelay(attempt int) time.Duration {
	span := e.cfg.RetryDelayMax - e.cfg.RetryDelayMin
	d := e.cfg.RetryDelayMin + time.Duration(rand.Int63n(int64(span)))
	return d * time.Duration(attempt+1)
}

// parseRetryAfter reads a seconds-valued Retry-After header. Zero means the
// header was absent or unusable.
func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
