package harvest

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/yangqingmang/find-demand-sub000/cache"
	"github.com/yangqingmang/find-demand-sub000/dispatch"
	"github.com/yangqingmang/find-demand-sub000/distill"
	"github.com/yangqingmang/find-demand-sub000/embedder"
	"github.com/yangqingmang/find-demand-sub000/harvest/internal/source"
	"github.com/yangqingmang/find-demand-sub000/proxypool"
	"github.com/yangqingmang/find-demand-sub000/ratelimit"
	"github.com/yangqingmang/find-demand-sub000/trends"
)

// Config aggregates the settings of every harvesting subsystem. The zero
// value is usable; each subsystem fills its own defaults at construction.
type Config struct {
	RateLimit ratelimit.Config `yaml:"rate_limit"`
	Proxies   proxypool.Config `yaml:"proxies"`
	Dispatch  dispatch.Config  `yaml:"dispatch"`
	Trends    trends.Config    `yaml:"trends"`
	Cache     cache.Config     `yaml:"cache"`
	Embedder  embedder.Config  `yaml:"embedder"`
	Distill   distill.Config   `yaml:"distill"`
	Sources   source.Config    `yaml:"sources"`
	Run       RunConfig        `yaml:"run"`
	Telemetry TelemetryConfig  `yaml:"telemetry"`

	// AdminKeyHash is the bcrypt hash checked against the X-Admin-Key
	// header on mutating API routes. Empty disables the guard; set it for
	// anything that is not bound to localhost.
	AdminKeyHash string `yaml:"admin_key_hash"`
}

// TelemetryConfig selects the telemetry backend.
type TelemetryConfig struct {
	// Path is the SQLite telemetry file. Empty keeps signals in memory only.
	Path string `yaml:"path"`
	// BufferSize caps buffered datapoints before a flush. Default: 100.
	BufferSize int `yaml:"buffer_size"`
	// FlushInterval is the async flush period. Default: 5s.
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// RunConfig tunes the fan-out of a single harvest run.
type RunConfig struct {
	// MaxConcurrent bounds in-flight adapter calls across all sources.
	// Default: 5.
	MaxConcurrent int `yaml:"max_concurrent"`
	// AdapterConcurrency bounds in-flight calls per source. Default: 2.
	AdapterConcurrency int `yaml:"adapter_concurrency"`
	// CallTimeout bounds one adapter call, retries included. Default: 2m.
	CallTimeout time.Duration `yaml:"call_timeout"`
}

func (r *RunConfig) defaults() {
	if r.MaxConcurrent <= 0 {
		r.MaxConcurrent = 5
	}
	if r.AdapterConcurrency <= 0 {
		r.AdapterConcurrency = 2
	}
	if r.CallTimeout <= 0 {
		r.CallTimeout = 2 * time.Minute
	}
}

func (c *Config) defaults() {
	c.Run.defaults()
}

// LoadConfig reads a YAML config file. An empty path returns the zero
// config so every subsystem runs on its defaults.
func LoadConfig(path string) (*Config, error) {
	var cfg Config
	if path == "" {
		return &cfg, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("harvest: read config: %w", err)
	}
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("harvest: parse config %s: %w", path, err)
	}
	return &cfg, nil
}

// SetLaunchToken overrides the launchboard API token. The daemon calls this
// with the value of the PRODUCTHUNT_TOKEN environment variable.
func (c *Config) SetLaunchToken(token string) {
	if token != "" {
		c.Sources.LaunchToken = token
	}
}
