// CLAUDE:SUMMARY Trends protocol client: cookie bootstrap, token exchange, widget fetch, soft-fail parsing.
// Package trends implements the three-phase protocol of the undocumented
// trends API: session bootstrap (anti-bot cookies), token exchange via the
// explore endpoint, and token-authenticated widget fetches.
//
// Responses arrive with a short anti-hijacking prefix that is stripped
// before JSON parsing; the lengths are config, not constants, because the
// upstream changes them without notice. Steady-state failures degrade to
// empty results: a malformed body, an exhausted retry budget or an active
// cooldown all yield empty payloads, never an error. The only hard errors
// are an unready session and context cancellation.
package trends

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/yangqingmang/find-demand-sub000/cache"
	"github.com/yangqingmang/find-demand-sub000/dispatch"
	"github.com/yangqingmang/find-demand-sub000/proxypool"
	"github.com/yangqingmang/find-demand-sub000/ratelimit"
	"github.com/yangqingmang/find-demand-sub000/telemetry"
)

// ErrSessionNotReady means bootstrap never succeeded; every protocol call
// fails fast with it until a later BootstrapSession attempt works.
var ErrSessionNotReady = errors.New("trends: session not ready")

// ErrMalformedResponse marks bodies that fail the trim-and-parse
// convention. Public methods convert it to an empty result; it surfaces
// only from the low-level parse helpers.
var ErrMalformedResponse = errors.New("trends: malformed response")

// Config tunes the protocol client.
type Config struct {
	// BaseURL is the upstream origin. Default: https://trends.google.com.
	BaseURL string `yaml:"base_url"`
	// Lang is the hl parameter. Default: en-US.
	Lang string `yaml:"lang"`
	// TZ is the tz parameter in minutes. Default: 360.
	TZ int `yaml:"tz"`
	// TrimExplore is the anti-hijack prefix length on explore bodies.
	// Default: 4.
	TrimExplore int `yaml:"trim_explore"`
	// TrimWidget is the prefix length on widget and autocomplete bodies.
	// Default: 5.
	TrimWidget int `yaml:"trim_widget"`
	// MaxBootstrapAttempts bounds session warmup. Default: 3.
	MaxBootstrapAttempts int `yaml:"max_bootstrap_attempts"`
	// WarmupRetryWait is the pause before the single in-attempt retry when
	// warmup hits a 429. Default: 2s.
	WarmupRetryWait time.Duration `yaml:"warmup_retry_wait"`
	// BackoffBase seeds the between-attempt backoff
	// (base * 2^attempt + jitter). Default: 2s.
	BackoffBase time.Duration `yaml:"backoff_base"`
	// JitterMin/JitterMax bound the backoff jitter. Defaults: 250ms / 1s.
	JitterMin time.Duration `yaml:"jitter_min"`
	JitterMax time.Duration `yaml:"jitter_max"`
	// CacheTTL is the explore/widget response cache lifetime. Default: 1h.
	CacheTTL time.Duration `yaml:"cache_ttl"`
	// Timeout bounds each HTTP attempt. Default: 30s.
	Timeout time.Duration `yaml:"timeout"`
	// UseProxy routes protocol calls through the proxy pool.
	UseProxy bool `yaml:"use_proxy"`
	// UserAgent must look like a browser or the bootstrap cookies never
	// arrive.
	UserAgent string `yaml:"user_agent"`
	// Pacer tunes the adaptive inter-call pacing for this upstream.
	Pacer ratelimit.PacerConfig `yaml:"pacer"`
}

func (c *Config) defaults() {
	if c.BaseURL == "" {
		c.BaseURL = "https://trends.google.com"
	}
	if c.Lang == "" {
		c.Lang = "en-US"
	}
	if c.TZ == 0 {
		c.TZ = 360
	}
	if c.TrimExplore <= 0 {
		c.TrimExplore = 4
	}
	if c.TrimWidget <= 0 {
		c.TrimWidget = 5
	}
	if c.MaxBootstrapAttempts <= 0 {
		c.MaxBootstrapAttempts = 3
	}
	if c.WarmupRetryWait <= 0 {
		c.WarmupRetryWait = 2 * time.Second
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 2 * time.Second
	}
	if c.JitterMin <= 0 {
		c.JitterMin = 250 * time.Millisecond
	}
	if c.JitterMax <= c.JitterMin {
		c.JitterMax = c.JitterMin + 750*time.Millisecond
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = time.Hour
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.UserAgent == "" {
		c.UserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"
	}
}

// Client is the protocol client. One instance holds one cookie session.
type Client struct {
	cfg    Config
	domain string

	warmClient *http.Client
	exec       *dispatch.Executor
	coord      *ratelimit.Coordinator
	pacer      *ratelimit.Pacer
	store      cache.Cache
	sink       telemetry.Sink
	logger     *slog.Logger

	mu    sync.Mutex
	ready bool
}

// Option customizes a Client.
type Option func(*Client)

// WithCache sets the response cache. Default: in-memory with the config TTL.
func WithCache(c cache.Cache) Option {
	return func(cl *Client) { cl.store = c }
}

// WithTelemetry sets the telemetry sink.
func WithTelemetry(s telemetry.Sink) Option {
	return func(cl *Client) { cl.sink = s }
}

// WithLogger sets the client logger.
func WithLogger(l *slog.Logger) Option {
	return func(cl *Client) { cl.logger = l }
}

// WithExecutor replaces the dispatch executor. Test seam.
func WithExecutor(e *dispatch.Executor) Option {
	return func(cl *Client) { cl.exec = e }
}

// New builds a Client sharing the given coordinator and proxy pool. The
// cookie jar is created here and threaded through both the warmup client
// and the executor so all three protocol phases share one session.
func New(cfg Config, coord *ratelimit.Coordinator, pool *proxypool.Pool, opts ...Option) *Client {
	cfg.defaults()

	base, err := url.Parse(cfg.BaseURL)
	domain := cfg.BaseURL
	if err == nil {
		domain = base.Host
	}

	jar, _ := cookiejar.New(nil)
	sessionClient := &http.Client{Jar: jar, Timeout: cfg.Timeout}

	c := &Client{
		cfg:        cfg,
		domain:     domain,
		warmClient: sessionClient,
		coord:      coord,
		pacer:      ratelimit.NewPacer(cfg.Pacer),
		sink:       telemetry.Nop{},
		logger:     slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	if c.store == nil {
		c.store = cache.NewMemory(cfg.CacheTTL)
	}
	if c.exec == nil {
		c.exec = dispatch.New(coord, pool, dispatch.Config{
			Timeout:   cfg.Timeout,
			UserAgent: cfg.UserAgent,
		},
			dispatch.WithHTTPClient(sessionClient),
			dispatch.WithTelemetry(c.sink),
			dispatch.WithLogger(c.logger),
		)
	}
	return c
}

// Ready reports whether bootstrap has succeeded.
func (c *Client) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ready
}

// BootstrapSession acquires the anti-bot cookies: GET the origin, then the
// explore landing page, sharing one jar. Attempts back off exponentially
// with jitter; inside one attempt a single 429 is absorbed by waiting
// WarmupRetryWait and retrying that step once. Until a call succeeds the
// client stays not-ready and every protocol method fails fast.
func (c *Client) BootstrapSession(ctx context.Context) error {
	c.mu.Lock()
	if c.ready {
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	var lastErr error
	for attempt := 0; attempt < c.cfg.MaxBootstrapAttempts; attempt++ {
		if attempt > 0 {
			if err := sleepCtx(ctx, c.backoff(attempt-1)); err != nil {
				return err
			}
		}
		if err := c.warm(ctx); err != nil {
			lastErr = err
			c.logger.Warn("session warmup failed",
				"attempt", attempt+1,
				"max_attempts", c.cfg.MaxBootstrapAttempts,
				"error", err)
			if ctx.Err() != nil {
				return ctx.Err()
			}
			continue
		}
		c.mu.Lock()
		c.ready = true
		c.mu.Unlock()
		c.logger.Info("trends session ready", "domain", c.domain)
		return nil
	}
	return fmt.Errorf("%w: bootstrap failed after %d attempts: %v",
		ErrSessionNotReady, c.cfg.MaxBootstrapAttempts, lastErr)
}

func (c *Client) warm(ctx context.Context) error {
	if err := c.warmGet(ctx, c.cfg.BaseURL+"/"); err != nil {
		return fmt.Errorf("origin: %w", err)
	}
	landing := c.cfg.BaseURL + "/trends/explore?" + url.Values{
		"q":  {"automation"},
		"hl": {c.cfg.Lang},
	}.Encode()
	if err := c.warmGet(ctx, landing); err != nil {
		return fmt.Errorf("explore landing: %w", err)
	}
	return nil
}

// warmGet fetches one warmup URL through the session jar, absorbing a
// single 429 with a short wait.
func (c *Client) warmGet(ctx context.Context, target string) error {
	for retried := false; ; {
		if err := c.pacer.Wait(ctx); err != nil {
			return err
		}
		status, err := c.plainGet(ctx, target)
		if err != nil {
			return err
		}
		if status == http.StatusTooManyRequests {
			c.pacer.OnThrottled()
			if retried {
				return fmt.Errorf("throttled twice fetching %s", target)
			}
			retried = true
			if err := sleepCtx(ctx, c.cfg.WarmupRetryWait); err != nil {
				return err
			}
			continue
		}
		if status >= 400 {
			return fmt.Errorf("status %d fetching %s", status, target)
		}
		return nil
	}
}

func (c *Client) plainGet(ctx context.Context, target string) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	req.Header.Set("Accept-Language", c.cfg.Lang)

	resp, err := c.warmClient.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	// Drain so the connection is reusable; the warmup body itself is noise.
	io.Copy(io.Discard, io.LimitReader(resp.Body, 1<<20))
	return resp.StatusCode, nil
}

func (c *Client) backoff(attempt int) time.Duration {
	d := c.cfg.BackoffBase * (1 << uint(attempt))
	span := c.cfg.JitterMax - c.cfg.JitterMin
	return d + c.cfg.JitterMin + time.Duration(rand.Int63n(int64(span)))
}

func (c *Client) ensureReady() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.ready {
		return ErrSessionNotReady
	}
	return nil
}

// apiGet performs one cached, paced protocol GET and returns the raw
// (untrimmed) body. A nil body with nil error means the empty-degraded
// path: cooldown skip, throttle, exhausted retries or a non-OK status.
func (c *Client) apiGet(ctx context.Context, namespace, path string, params url.Values) ([]byte, error) {
	if err := c.ensureReady(); err != nil {
		return nil, err
	}

	target := c.cfg.BaseURL + path
	key := cache.Key(namespace, http.MethodGet, target, params.Encode())
	if body, hit, err := c.store.Get(ctx, key); err == nil && hit {
		c.sink.IncrementCounter(telemetry.CounterCacheHits)
		return body, nil
	}
	c.sink.IncrementCounter(telemetry.CounterCacheMisses)

	if err := c.pacer.Wait(ctx); err != nil {
		return nil, err
	}

	out := c.exec.Do(ctx, dispatch.Request{
		Method: http.MethodGet,
		URL:    target,
		Query:  params,
		Headers: map[string]string{
			"User-Agent": c.cfg.UserAgent,
			"Referer":    c.cfg.BaseURL + "/trends/explore",
		},
		Domain:   c.domain,
		UseProxy: c.cfg.UseProxy,
	})

	switch out.Status {
	case dispatch.StatusOK:
		if err := c.store.Set(ctx, key, out.Body, c.cfg.CacheTTL); err != nil {
			c.logger.Warn("response cache write failed", "error", err)
		}
		return out.Body, nil
	case dispatch.StatusRateLimited:
		c.pacer.OnThrottled()
		c.logger.Warn("trends call throttled",
			"path", path,
			"retry_after", out.RetryAfter)
		return nil, nil
	case dispatch.StatusSkipped:
		c.logger.Debug("trends call skipped, cooldown active",
			"path", path,
			"remaining", out.RetryAfter)
		return nil, nil
	case dispatch.StatusFatal:
		if out.Err != nil && ctx.Err() != nil {
			return nil, out.Err
		}
		c.logger.Warn("trends call failed",
			"path", path,
			"status", out.HTTPStatus,
			"error", out.Err)
		return nil, nil
	default: // StatusTransient after exhausted retries
		c.logger.Warn("trends call gave up",
			"path", path,
			"error", out.Err)
		return nil, nil
	}
}

// trimmed strips the anti-hijack prefix. A body shorter than the prefix is
// malformed under the current trim assumption.
func trimmed(body []byte, n int) ([]byte, error) {
	if len(body) < n {
		return nil, fmt.Errorf("%w: body shorter than %d-byte prefix", ErrMalformedResponse, n)
	}
	return body[n:], nil
}

func (c *Client) baseParams() url.Values {
	return url.Values{
		"hl": {c.cfg.Lang},
		"tz": {strconv.Itoa(c.cfg.TZ)},
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}
