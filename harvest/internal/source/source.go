// CLAUDE:SUMMARY Adapter contract and shared fetch plumbing for the keyword sources, with outcome-aware degradation.
// Package source holds the per-upstream keyword adapters. Each adapter
// turns one upstream's payload into records in the unified schema; every
// network call runs through the shared executor and the response cache.
package source

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/yangqingmang/find-demand-sub000/cache"
	"github.com/yangqingmang/find-demand-sub000/dispatch"
	"github.com/yangqingmang/find-demand-sub000/distill"
	"github.com/yangqingmang/find-demand-sub000/telemetry"
)

// Adapter is one keyword upstream.
type Adapter interface {
	// Name identifies the adapter in counters and harvest results.
	Name() string

	// Targets maps the harvest seeds to this adapter's fetch targets.
	// Most adapters return the seeds unchanged; the forum adapter
	// substitutes its configured communities, and a disabled adapter
	// returns nothing so the orchestrator schedules no calls for it.
	Targets(seeds []string) []string

	// Fetch retrieves and parses one target. A throttle or cooldown
	// yields an empty slice without an error.
	Fetch(ctx context.Context, target string) ([]distill.Record, error)
}

// Config tunes the adapter set.
type Config struct {
	// ForumBaseURL is the discussion-site origin. Default: https://www.reddit.com.
	ForumBaseURL string `yaml:"forum_base_url"`
	// Communities are the forum communities harvested per run.
	Communities []string `yaml:"communities"`
	// ListingLimit caps posts per community listing. Default: 50.
	ListingLimit int `yaml:"listing_limit"`

	// NewsBaseURL is the news search API origin. Default: https://hn.algolia.com.
	NewsBaseURL string `yaml:"news_base_url"`
	// NewsWindowDays is the trailing story window. Default: 30.
	NewsWindowDays int `yaml:"news_window_days"`
	// NewsPageSize is hits per search page. Default: 100.
	NewsPageSize int `yaml:"news_page_size"`

	// SuggestBaseURL serves both suggestion endpoints. Default:
	// https://suggestqueries.google.com.
	SuggestBaseURL string `yaml:"suggest_base_url"`
	// SuggestCallback is the JS callback wrapper stripped from the video
	// suggestion payload. Upstream may change it without notice, so it is
	// configuration rather than a constant.
	SuggestCallback string `yaml:"suggest_callback"`

	// LaunchBaseURL is the product-launch GraphQL endpoint.
	LaunchBaseURL string `yaml:"launch_base_url"`
	// LaunchToken is the API bearer token. Empty disables the adapter.
	LaunchToken string `yaml:"launch_token"`
	// LaunchPageSize is posts per query. Default: 50.
	LaunchPageSize int `yaml:"launch_page_size"`

	// CacheTTL bounds how long raw responses are reused. Default: 1h.
	CacheTTL time.Duration `yaml:"cache_ttl"`
	// UseProxy requests proxy routing for every adapter call.
	UseProxy bool `yaml:"use_proxy"`
}

func (c *Config) defaults() {
	if c.ForumBaseURL == "" {
		c.ForumBaseURL = "https://www.reddit.com"
	}
	if len(c.Communities) == 0 {
		c.Communities = []string{"artificial", "MachineLearning", "deeplearning", "ChatGPT", "OpenAI"}
	}
	if c.ListingLimit <= 0 {
		c.ListingLimit = 50
	}
	if c.NewsBaseURL == "" {
		c.NewsBaseURL = "https://hn.algolia.com"
	}
	if c.NewsWindowDays <= 0 {
		c.NewsWindowDays = 30
	}
	if c.NewsPageSize <= 0 {
		c.NewsPageSize = 100
	}
	if c.SuggestBaseURL == "" {
		c.SuggestBaseURL = "https://suggestqueries.google.com"
	}
	if c.SuggestCallback == "" {
		c.SuggestCallback = "window.google.ac.h("
	}
	if c.LaunchBaseURL == "" {
		c.LaunchBaseURL = "https://api.producthunt.com/v2/api/graphql"
	}
	if c.LaunchPageSize <= 0 {
		c.LaunchPageSize = 50
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = time.Hour
	}
}

// Deps are the shared collaborators every adapter runs through.
type Deps struct {
	Exec   *dispatch.Executor
	Cache  cache.Cache
	Sink   telemetry.Sink
	Logger *slog.Logger
	Now    func() time.Time
}

func (d *Deps) defaults() {
	if d.Cache == nil {
		d.Cache = cache.NewMemory(0)
	}
	if d.Sink == nil {
		d.Sink = telemetry.Nop{}
	}
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
}

// All builds the full adapter set from config.
func All(d Deps, cfg Config) []Adapter {
	return []Adapter{
		NewForum(d, cfg),
		NewNewsAgg(d, cfg),
		NewVideoSuggest(d, cfg),
		NewSearchSuggest(d, cfg),
		NewLaunchBoard(d, cfg),
	}
}

// fetch is the cache-wrapped dispatch behind every adapter call. Throttle
// and cooldown outcomes degrade to a nil body without an error; the
// executor has already broadcast the cooldown.
func (d *Deps) fetch(ctx context.Context, name string, req dispatch.Request, ttl time.Duration) ([]byte, error) {
	key := cache.Key(name, req.Method, req.URL, req.Query.Encode(), string(req.Body))
	if body, ok, err := d.Cache.Get(ctx, key); err == nil && ok {
		d.Sink.IncrementCounter(telemetry.CounterCacheHits)
		return body, nil
	}
	d.Sink.IncrementCounter(telemetry.CounterCacheMisses)

	out := d.Exec.Do(ctx, req)
	switch out.Status {
	case dispatch.StatusOK:
		if err := d.Cache.Set(ctx, key, out.Body, ttl); err != nil {
			d.Logger.Warn("response cache write failed", "adapter", name, "error", err)
		}
		return out.Body, nil
	case dispatch.StatusRateLimited:
		d.Logger.Warn("upstream throttled, cooling down",
			"adapter", name,
			"retry_after", out.RetryAfter)
		return nil, nil
	case dispatch.StatusSkipped:
		d.Logger.Debug("call suppressed by cooldown",
			"adapter", name,
			"retry_after", out.RetryAfter)
		return nil, nil
	default:
		err := out.Err
		if err == nil {
			err = fmt.Errorf("http status %d", out.HTTPStatus)
		}
		return nil, fmt.Errorf("source: %s: %w", name, err)
	}
}
