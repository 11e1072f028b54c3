package ratelimit

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// PacerConfig configures the adaptive pacer used against the trends upstream,
// which throttles aggressively and on several horizons at once.
type PacerConfig struct {
	// MinInterval is the starting gap between consecutive calls. Default: 3s.
	MinInterval time.Duration `yaml:"min_interval"`

	// MaxMinInterval caps the adaptive growth of MinInterval. Default: 30s.
	MaxMinInterval time.Duration `yaml:"max_min_interval"`

	// PerMinute/PerHour/PerDay are the budget ceilings. Defaults: 15/180/1500.
	PerMinute int `yaml:"per_minute"`
	PerHour   int `yaml:"per_hour"`
	PerDay    int `yaml:"per_day"`
}

func (c *PacerConfig) defaults() {
	if c.MinInterval <= 0 {
		c.MinInterval = 3 * time.Second
	}
	if c.MaxMinInterval <= 0 {
		c.MaxMinInterval = 30 * time.Second
	}
	if c.PerMinute <= 0 {
		c.PerMinute = 15
	}
	if c.PerHour <= 0 {
		c.PerHour = 180
	}
	if c.PerDay <= 0 {
		c.PerDay = 1500
	}
}

// Pacer enforces a minimum inter-call gap plus minute/hour/day budgets for a
// single upstream. The gap grows on every observed throttle signal and never
// shrinks back within the process lifetime.
type Pacer struct {
	mu       sync.Mutex
	cfg      PacerConfig
	interval time.Duration
	stamps   []time.Time // trailing 24h of call stamps
	last     time.Time
	now      func() time.Time
	logger   *slog.Logger
}

// PacerOption configures a Pacer.
type PacerOption func(*Pacer)

// WithPacerClock overrides the time source. Used in tests.
func WithPacerClock(now func() time.Time) PacerOption {
	return func(p *Pacer) { p.now = now }
}

// WithPacerLogger sets the logger.
func WithPacerLogger(l *slog.Logger) PacerOption {
	return func(p *Pacer) { p.logger = l }
}

// NewPacer creates a Pacer.
func NewPacer(cfg PacerConfig, opts ...PacerOption) *Pacer {
	cfg.defaults()
	p := &Pacer{
		cfg:      cfg,
		interval: cfg.MinInterval,
		now:      time.Now,
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Wait blocks until the next call is allowed under the inter-call gap and all
// three budgets, then records the call stamp. Returns the context error on
// cancellation.
func (p *Pacer) Wait(ctx context.Context) error {
	for {
		p.mu.Lock()
		now := p.now()
		p.evictLocked(now)

		wait := p.interval - now.Sub(p.last)
		if w := p.budgetWaitLocked(now, time.Minute, p.cfg.PerMinute); w > wait {
			wait = w
		}
		if w := p.budgetWaitLocked(now, time.Hour, p.cfg.PerHour); w > wait {
			wait = w
		}
		if w := p.budgetWaitLocked(now, 24*time.Hour, p.cfg.PerDay); w > wait {
			wait = w
		}

		if wait <= 0 {
			p.stamps = append(p.stamps, now)
			p.last = now
			p.mu.Unlock()
			return nil
		}
		p.mu.Unlock()

		if err := sleepCtx(ctx, wait); err != nil {
			return err
		}
	}
}

// OnThrottled widens the inter-call gap after an upstream throttle signal.
func (p *Pacer) OnThrottled() {
	p.mu.Lock()
	defer p.mu.Unlock()
	widened := time.Duration(float64(p.interval) * 1.5)
	if widened > p.cfg.MaxMinInterval {
		widened = p.cfg.MaxMinInterval
	}
	if widened > p.interval {
		p.interval = widened
		p.logger.Warn("pacer interval widened", "interval", p.interval)
	}
}

// Interval returns the current inter-call gap.
func (p *Pacer) Interval() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.interval
}

// Stats returns the call counts in the trailing minute, hour and day.
func (p *Pacer) Stats() (minute, hour, day int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	now := p.now()
	p.evictLocked(now)
	for _, s := range p.stamps {
		age := now.Sub(s)
		if age < time.Minute {
			minute++
		}
		if age < time.Hour {
			hour++
		}
		day++
	}
	return
}

// budgetWaitLocked returns how long until the count within the trailing
// horizon drops below limit. Caller holds p.mu.
func (p *Pacer) budgetWaitLocked(now time.Time, horizon time.Duration, limit int) time.Duration {
	cutoff := now.Add(-horizon)
	count := 0
	var oldest time.Time
	for _, s := range p.stamps {
		if s.After(cutoff) {
			if count == 0 {
				oldest = s
			}
			count++
		}
	}
	if count < limit {
		return 0
	}
	return oldest.Add(horizon).Sub(now)
}

// evictLocked drops stamps older than 24h. Caller holds p.mu.
func (p *Pacer) evictLocked(now time.Time) {
	cutoff := now.Add(-24 * time.Hour)
	i := 0
	for i < len(p.stamps) && !p.stamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		p.stamps = p.stamps[i:]
	}
}
