// CLAUDE:SUMMARY Shared per-domain sliding-window limiter with cooldown broadcast and domain policy resolution.

// Package ratelimit coordinates request pacing across every upstream adapter.
//
// One Coordinator instance is created at service construction and injected by
// reference into each adapter and protocol client. All of them observe the
// same sliding windows and the same cooldown map: when one client sees a
// throttling signal and calls SetCooldown, every other client backs off the
// affected domain immediately.
package ratelimit

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"time"
)

// DomainPolicy overrides the coordinator defaults for one domain.
type DomainPolicy struct {
	// MaxPerMinute caps requests in the trailing window. 0 inherits the default.
	MaxPerMinute int `yaml:"max_per_minute" json:"max_per_minute"`

	// DelayMin/DelayMax bound the random politeness delay added before a call.
	DelayMin time.Duration `yaml:"delay_min" json:"delay_min"`
	DelayMax time.Duration `yaml:"delay_max" json:"delay_max"`

	// UseProxy forces proxied calls for this domain.
	UseProxy bool `yaml:"use_proxy" json:"use_proxy"`
}

// Config configures a Coordinator.
type Config struct {
	// DefaultPerMinute is the window limit for domains without a policy. Default: 15.
	DefaultPerMinute int `yaml:"default_per_minute"`

	// Window is the trailing window size. Default: 60s.
	Window time.Duration `yaml:"window"`

	// MinInterval is the politeness gap between calls to the same domain
	// when no per-host interval is configured. Default: 350ms.
	MinInterval time.Duration `yaml:"min_interval"`

	// HostIntervals maps a host to its politeness gap (e.g. reddit wants >1s).
	HostIntervals map[string]time.Duration `yaml:"host_intervals"`

	// DefaultCooldown is the cooldown applied when a throttle signal carries
	// no explicit duration. Default: 5m.
	DefaultCooldown time.Duration `yaml:"default_cooldown"`

	// MaxCooldown caps severity-scaled cooldowns. Default: 30m.
	MaxCooldown time.Duration `yaml:"max_cooldown"`

	// Domains maps domain names to their policy overrides.
	Domains map[string]DomainPolicy `yaml:"domains"`
}

func (c *Config) defaults() {
	if c.DefaultPerMinute <= 0 {
		c.DefaultPerMinute = 15
	}
	if c.Window <= 0 {
		c.Window = time.Minute
	}
	if c.MinInterval <= 0 {
		c.MinInterval = 350 * time.Millisecond
	}
	if c.DefaultCooldown <= 0 {
		c.DefaultCooldown = 5 * time.Minute
	}
	if c.MaxCooldown <= 0 {
		c.MaxCooldown = 30 * time.Minute
	}
	if c.HostIntervals == nil {
		c.HostIntervals = map[string]time.Duration{
			"www.reddit.com":            1100 * time.Millisecond,
			"hn.algolia.com":            600 * time.Millisecond,
			"suggestqueries.google.com": 250 * time.Millisecond,
			"api.producthunt.com":       time.Second,
		}
	}
}

type cooldownState struct {
	until    time.Time
	severity float64
}

// Coordinator is the shared rate-limit and cooldown state. Safe for
// concurrent use; a single mutex guards windows, cooldowns and last-call
// stamps together so checks observe one consistent view.
type Coordinator struct {
	mu        sync.Mutex
	cfg       Config
	windows   map[string][]time.Time
	cooldowns map[string]cooldownState
	lastCall  map[string]time.Time
	now       func() time.Time
	logger    *slog.Logger
}

// Option configures a Coordinator during creation.
type Option func(*Coordinator)

// WithClock overrides the time source. Used in tests.
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) { c.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// New creates a Coordinator.
func New(cfg Config, opts ...Option) *Coordinator {
	cfg.defaults()
	c := &Coordinator{
		cfg:       cfg,
		windows:   make(map[string][]time.Time),
		cooldowns: make(map[string]cooldownState),
		lastCall:  make(map[string]time.Time),
		now:       time.Now,
		logger:    slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Policy returns the effective policy for a domain (defaults filled in).
func (c *Coordinator) Policy(domain string) DomainPolicy {
	p := c.cfg.Domains[domain]
	if p.MaxPerMinute <= 0 {
		p.MaxPerMinute = c.cfg.DefaultPerMinute
	}
	return p
}

// ShouldUseProxy resolves the effective proxy decision: a domain policy can
// force the proxy on, it cannot veto an explicit request.
func (c *Coordinator) ShouldUseProxy(requested bool, domain string) bool {
	return requested || c.cfg.Domains[domain].UseProxy
}

// CanRequest reports whether the domain's trailing window has room under its
// effective limit.
func (c *Coordinator) CanRequest(domain string) bool {
	return c.CanRequestLimit(domain, 0)
}

// CanRequestLimit is CanRequest with an explicit limit override (0 = policy).
func (c *Coordinator) CanRequestLimit(domain string, limit int) bool {
	if limit <= 0 {
		limit = c.Policy(domain).MaxPerMinute
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.evictLocked(domain)) < limit
}

// WaitTime returns how long until the oldest stamp leaves the window, or 0
// when a request could proceed immediately.
func (c *Coordinator) WaitTime(domain string) time.Duration {
	limit := c.Policy(domain).MaxPerMinute
	c.mu.Lock()
	defer c.mu.Unlock()
	w := c.evictLocked(domain)
	if len(w) < limit {
		return 0
	}
	return w[0].Add(c.cfg.Window).Sub(c.now())
}

// Record appends a request stamp to the domain's window.
func (c *Coordinator) Record(domain string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.windows[domain] = append(c.evictLocked(domain), c.now())
	c.lastCall[domain] = c.now()
}

// Reserve blocks until the domain has both window room and its politeness
// interval elapsed, then records the stamp. It returns early with the
// context error on cancellation. Cooldowns are NOT waited out here: callers
// check InCooldown first and skip the call entirely.
func (c *Coordinator) Reserve(ctx context.Context, domain string) error {
	return c.ReserveLimit(ctx, domain, 0)
}

// ReserveLimit is Reserve with a per-call window limit. Zero or negative
// falls back to the domain policy.
func (c *Coordinator) ReserveLimit(ctx context.Context, domain string, limit int) error {
	for {
		c.mu.Lock()
		w := c.evictLocked(domain)
		if limit <= 0 {
			limit = c.policyLocked(domain).MaxPerMinute
		}
		now := c.now()

		var wait time.Duration
		if len(w) >= limit {
			wait = w[0].Add(c.cfg.Window).Sub(now)
		}
		if gap := c.intervalLocked(domain) - now.Sub(c.lastCall[domain]); gap > wait {
			wait = gap
		}
		if wait <= 0 {
			c.windows[domain] = append(w, now)
			c.lastCall[domain] = now
			c.mu.Unlock()
			return nil
		}
		c.mu.Unlock()

		if err := sleepCtx(ctx, wait); err != nil {
			return err
		}
	}
}

// PolitenessDelay returns a random delay in the domain's [DelayMin, DelayMax]
// range, or 0 when the policy sets none.
func (c *Coordinator) PolitenessDelay(domain string) time.Duration {
	p := c.cfg.Domains[domain]
	if p.DelayMax <= p.DelayMin {
		return p.DelayMin
	}
	return p.DelayMin + time.Duration(rand.Int63n(int64(p.DelayMax-p.DelayMin)))
}

// SetCooldown suppresses calls to domain for d scaled by severity (1.0 =
// unscaled), capped at MaxCooldown. Zero d applies the default cooldown.
// Every coordinator holder observes the cooldown on its next check.
func (c *Coordinator) SetCooldown(domain string, d time.Duration, severity float64) {
	if d <= 0 {
		d = c.cfg.DefaultCooldown
	}
	if severity <= 0 {
		severity = 1.0
	}
	effective := time.Duration(float64(d) * severity)
	if effective > c.cfg.MaxCooldown {
		effective = c.cfg.MaxCooldown
	}

	c.mu.Lock()
	until := c.now().Add(effective)
	// Never shorten an already-active longer cooldown.
	if existing, ok := c.cooldowns[domain]; !ok || until.After(existing.until) {
		c.cooldowns[domain] = cooldownState{until: until, severity: severity}
	}
	c.mu.Unlock()

	c.logger.Warn("cooldown set",
		"domain", domain,
		"duration", effective,
		"severity", severity)
}

// InCooldown reports whether the domain is currently suppressed. Expired
// entries are cleared on read.
func (c *Coordinator) InCooldown(domain string) bool {
	return c.CooldownRemaining(domain) > 0
}

// CooldownRemaining returns the remaining suppression time, or 0.
func (c *Coordinator) CooldownRemaining(domain string) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	cd, ok := c.cooldowns[domain]
	if !ok {
		return 0
	}
	remaining := cd.until.Sub(c.now())
	if remaining <= 0 {
		delete(c.cooldowns, domain)
		return 0
	}
	return remaining
}

// ClearCooldown removes the domain's cooldown, if any.
func (c *Coordinator) ClearCooldown(domain string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.cooldowns, domain)
}

// Cooldowns returns the active cooldown deadlines keyed by domain.
func (c *Coordinator) Cooldowns() map[string]time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]time.Time)
	now := c.now()
	for domain, cd := range c.cooldowns {
		if cd.until.After(now) {
			out[domain] = cd.until
		}
	}
	return out
}

// WindowUsage returns the current stamp count per domain.
func (c *Coordinator) WindowUsage() map[string]int {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]int, len(c.windows))
	for domain := range c.windows {
		if n := len(c.evictLocked(domain)); n > 0 {
			out[domain] = n
		}
	}
	return out
}

// evictLocked drops stamps older than the window and returns the remainder.
// Caller holds c.mu.
func (c *Coordinator) evictLocked(domain string) []time.Time {
	cutoff := c.now().Add(-c.cfg.Window)
	w := c.windows[domain]
	i := 0
	for i < len(w) && !w[i].After(cutoff) {
		i++
	}
	if i > 0 {
		w = w[i:]
		c.windows[domain] = w
	}
	return w
}

func (c *Coordinator) policyLocked(domain string) DomainPolicy {
	p := c.cfg.Domains[domain]
	if p.MaxPerMinute <= 0 {
		p.MaxPerMinute = c.cfg.DefaultPerMinute
	}
	return p
}

func (c *Coordinator) intervalLocked(domain string) time.Duration {
	if d, ok := c.cfg.HostIntervals[domain]; ok {
		return d
	}
	return c.cfg.MinInterval
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
