// CLAUDE:SUMMARY Scored proxy pool: success/latency ranking, failure deactivation, probe validation, SOCKS5/HTTP transports.
// Package proxypool maintains a scored pool of outbound proxies.
//
// Entries accumulate success/failure counts and latency samples as the
// executor reports results back. Selection prefers proxies with the best
// success rate and lowest latency; entries that keep failing are deactivated
// and eventually removed.
package proxypool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"sync"
	"time"

	"golang.org/x/net/proxy"
)

// ErrExhausted is returned when no active proxy remains in the pool.
var ErrExhausted = errors.New("proxypool: no active proxy")

// ErrUnknownProxy is returned when a key does not match any pool entry.
var ErrUnknownProxy = errors.New("proxypool: unknown proxy")

// Entry describes one proxy endpoint plus its accumulated health stats.
type Entry struct {
	Host     string `yaml:"host" json:"host"`
	Port     int    `yaml:"port" json:"port"`
	Username string `yaml:"username,omitempty" json:"username,omitempty"`
	Password string `yaml:"password,omitempty" json:"password,omitempty"`
	// Protocol is http, https or socks5. Empty means http.
	Protocol string `yaml:"protocol,omitempty" json:"protocol,omitempty"`

	SuccessCount int           `yaml:"-" json:"success_count"`
	FailureCount int           `yaml:"-" json:"failure_count"`
	Latency      time.Duration `yaml:"-" json:"latency"`
	LastUsed     time.Time     `yaml:"-" json:"last_used"`
	Active       bool          `yaml:"-" json:"active"`
}

// Key identifies the entry within the pool. Credentials are excluded so the
// key is safe to log.
func (e Entry) Key() string {
	return e.scheme() + "://" + net.JoinHostPort(e.Host, strconv.Itoa(e.Port))
}

// SuccessRate is successes over total samples. An unsampled entry scores 1.0
// so fresh proxies get tried first.
func (e Entry) SuccessRate() float64 {
	total := e.SuccessCount + e.FailureCount
	if total == 0 {
		return 1.0
	}
	return float64(e.SuccessCount) / float64(total)
}

func (e Entry) scheme() string {
	if e.Protocol == "" {
		return "http"
	}
	return e.Protocol
}

func (e Entry) proxyURL() *url.URL {
	u := &url.URL{
		Scheme: e.scheme(),
		Host:   net.JoinHostPort(e.Host, strconv.Itoa(e.Port)),
	}
	if e.Username != "" {
		u.User = url.UserPassword(e.Username, e.Password)
	}
	return u
}

// Transport builds an *http.Transport that routes through the entry.
// HTTP/HTTPS proxies go through http.ProxyURL; socks5 dials through
// golang.org/x/net/proxy.
func Transport(e Entry) (*http.Transport, error) {
	switch e.scheme() {
	case "socks5":
		var auth *proxy.Auth
		if e.Username != "" {
			auth = &proxy.Auth{User: e.Username, Password: e.Password}
		}
		dialer, err := proxy.SOCKS5("tcp", net.JoinHostPort(e.Host, strconv.Itoa(e.Port)), auth, proxy.Direct)
		if err != nil {
			return nil, fmt.Errorf("proxypool: socks5 dialer: %w", err)
		}
		tr := &http.Transport{}
		if cd, ok := dialer.(proxy.ContextDialer); ok {
			tr.DialContext = cd.DialContext
		} else {
			tr.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
				return dialer.Dial(network, addr)
			}
		}
		return tr, nil
	case "http", "https":
		return &http.Transport{Proxy: http.ProxyURL(e.proxyURL())}, nil
	default:
		return nil, fmt.Errorf("proxypool: unsupported protocol %q", e.Protocol)
	}
}

// Config configures pool thresholds and probing.
type Config struct {
	// Entries seeds the pool at construction.
	Entries []Entry `yaml:"entries"`
	// ProbeURL is fetched through each proxy to verify it works.
	// Default: http://httpbin.org/ip.
	ProbeURL string `yaml:"probe_url"`
	// ProbeTimeout bounds a single probe. Default: 10s.
	ProbeTimeout time.Duration `yaml:"probe_timeout"`
	// ProbeConcurrency bounds parallel probes in ProbeAll. Default: 5.
	ProbeConcurrency int `yaml:"probe_concurrency"`
	// DeactivateAfter is the failure count past which a low success rate
	// deactivates the entry. Default: 5.
	DeactivateAfter int `yaml:"deactivate_after"`
	// DeactivateRate is the success rate below which deactivation kicks in.
	// Default: 0.5.
	DeactivateRate float64 `yaml:"deactivate_rate"`
	// CleanupRate is the success rate below which Cleanup removes an entry
	// that has at least MinSamples samples. Default: 0.3.
	CleanupRate float64 `yaml:"cleanup_rate"`
	// MinSamples is the sample count required before Cleanup judges an
	// entry. Default: 10.
	MinSamples int `yaml:"min_samples"`
}

func (c *Config) defaults() {
	if c.ProbeURL == "" {
		c.ProbeURL = "http://httpbin.org/ip"
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = 10 * time.Second
	}
	if c.ProbeConcurrency <= 0 {
		c.ProbeConcurrency = 5
	}
	if c.DeactivateAfter <= 0 {
		c.DeactivateAfter = 5
	}
	if c.DeactivateRate <= 0 {
		c.DeactivateRate = 0.5
	}
	if c.CleanupRate <= 0 {
		c.CleanupRate = 0.3
	}
	if c.MinSamples <= 0 {
		c.MinSamples = 10
	}
}

// Pool holds proxy entries behind a single mutex. Selection methods return
// copies; callers report results back by key.
type Pool struct {
	cfg Config

	mu      sync.Mutex
	entries []*Entry
	index   map[string]*Entry

	now    func() time.Time
	logger *slog.Logger
}

// PoolOption customizes a Pool.
type PoolOption func(*Pool)

// WithLogger sets the pool logger.
func WithLogger(l *slog.Logger) PoolOption {
	return func(p *Pool) { p.logger = l }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) PoolOption {
	return func(p *Pool) { p.now = now }
}

// New builds a Pool seeded with cfg.Entries.
func New(cfg Config, opts ...PoolOption) *Pool {
	cfg.defaults()
	p := &Pool{
		cfg:    cfg,
		index:  make(map[string]*Entry),
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(p)
	}
	for _, e := range cfg.Entries {
		p.Add(e)
	}
	return p
}

// Add inserts the entry as active, resetting its stats. Re-adding an
// existing key reactivates it.
func (p *Pool) Add(e Entry) {
	p.mu.Lock()
	defer p.mu.Unlock()
	key := e.Key()
	if existing, ok := p.index[key]; ok {
		existing.Active = true
		return
	}
	e.Active = true
	e.SuccessCount = 0
	e.FailureCount = 0
	stored := e
	p.entries = append(p.entries, &stored)
	p.index[key] = &stored
}

// Len returns the total entry count, active or not.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// Best returns the active entry with the highest success rate, breaking ties
// by lower latency then least recently used.
func (p *Pool) Best() (Entry, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	active := p.activeLocked()
	if len(active) == 0 {
		return Entry{}, ErrExhausted
	}
	sort.SliceStable(active, func(i, j int) bool {
		ri, rj := active[i].SuccessRate(), active[j].SuccessRate()
		if ri != rj {
			return ri > rj
		}
		if active[i].Latency != active[j].Latency {
			return active[i].Latency < active[j].Latency
		}
		return active[i].LastUsed.Before(active[j].LastUsed)
	})
	return *active[0], nil
}

// Random returns a uniformly random active entry.
func (p *Pool) Random() (Entry, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	active := p.activeLocked()
	if len(active) == 0 {
		return Entry{}, ErrExhausted
	}
	return *active[rand.Intn(len(active))], nil
}

// MarkResult records the outcome of a request made through the keyed proxy.
// Latency feeds a running average on success and is ignored otherwise. An
// entry whose success rate falls below the deactivation threshold after
// enough failures is taken out of rotation.
func (p *Pool) MarkResult(key string, ok bool, latency time.Duration) {
	p.mu.Lock()
	e, found := p.index[key]
	if !found {
		p.mu.Unlock()
		return
	}
	e.LastUsed = p.now()
	if ok {
		e.SuccessCount++
		if latency > 0 {
			n := time.Duration(e.SuccessCount)
			e.Latency = (e.Latency*(n-1) + latency) / n
		}
		p.mu.Unlock()
		return
	}
	e.FailureCount++
	deactivated := false
	if e.FailureCount > p.cfg.DeactivateAfter && e.SuccessRate() < p.cfg.DeactivateRate {
		e.Active = false
		deactivated = true
	}
	rate := e.SuccessRate()
	p.mu.Unlock()

	if deactivated {
		p.logger.Warn("proxy deactivated", "proxy", key, "success_rate", rate)
	}
}

// Probe fetches the probe URL through the keyed proxy and records the
// outcome. A passing probe reactivates a dead entry.
func (p *Pool) Probe(ctx context.Context, key string) error {
	p.mu.Lock()
	e, found := p.index[key]
	if !found {
		p.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownProxy, key)
	}
	entry := *e
	p.mu.Unlock()

	tr, err := Transport(entry)
	if err != nil {
		p.MarkResult(key, false, 0)
		return err
	}
	client := &http.Client{Transport: tr, Timeout: p.cfg.ProbeTimeout}
	defer client.CloseIdleConnections()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.ProbeURL, nil)
	if err != nil {
		return fmt.Errorf("proxypool: probe request: %w", err)
	}

	start := p.now()
	resp, err := client.Do(req)
	if err != nil {
		p.MarkResult(key, false, 0)
		return fmt.Errorf("proxypool: probe %s: %w", key, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		p.MarkResult(key, false, 0)
		return fmt.Errorf("proxypool: probe %s: status %d", key, resp.StatusCode)
	}

	p.MarkResult(key, true, p.now().Sub(start))
	p.reactivate(key)
	return nil
}

// ProbeAll probes every entry with bounded concurrency and returns the
// number that passed.
func (p *Pool) ProbeAll(ctx context.Context) int {
	p.mu.Lock()
	keys := make([]string, 0, len(p.entries))
	for _, e := range p.entries {
		keys = append(keys, e.Key())
	}
	p.mu.Unlock()

	sem := make(chan struct{}, p.cfg.ProbeConcurrency)
	var wg sync.WaitGroup
	var countMu sync.Mutex
	healthy := 0

	for _, key := range keys {
		wg.Add(1)
		go func(key string) {
			defer wg.Done()
			sem <- struct{}{}
			defer func() { <-sem }()
			if err := p.Probe(ctx, key); err != nil {
				p.logger.Debug("proxy probe failed", "proxy", key, "error", err)
				return
			}
			countMu.Lock()
			healthy++
			countMu.Unlock()
		}(key)
	}
	wg.Wait()
	return healthy
}

// Cleanup removes entries with enough samples and a success rate below the
// cleanup threshold. Returns the number removed.
func (p *Pool) Cleanup() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	kept := p.entries[:0]
	removed := 0
	for _, e := range p.entries {
		total := e.SuccessCount + e.FailureCount
		if total >= p.cfg.MinSamples && e.SuccessRate() < p.cfg.CleanupRate {
			delete(p.index, e.Key())
			removed++
			continue
		}
		kept = append(kept, e)
	}
	p.entries = kept
	if removed > 0 {
		p.logger.Info("proxy pool cleanup", "removed", removed, "remaining", len(p.entries))
	}
	return removed
}

// Snapshot returns a copy of every entry in insertion order.
func (p *Pool) Snapshot() []Entry {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Entry, len(p.entries))
	for i, e := range p.entries {
		out[i] = *e
	}
	return out
}

func (p *Pool) reactivate(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if e, ok := p.index[key]; ok && !e.Active {
		e.Active = true
		p.logger.Info("proxy reactivated", "proxy", key)
	}
}

func (p *Pool) activeLocked() []*Entry {
	active := make([]*Entry, 0, len(p.entries))
	for _, e := range p.entries {
		if e.Active {
			active = append(active, e)
		}
	}
	return active
}
