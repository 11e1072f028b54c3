// Package embedder turns keyword strings into vectors for the clustering
// stage of the harvest pipeline.
//
// Any OpenAI-compatible embedding server works as a backend. Construction
// is capability-detected: with no endpoint configured, New returns a
// disabled embedder that reports Ready() == false, and the pipeline falls
// back to dedup-only output instead of failing the harvest.
//
// Model instances are expensive server-side, so share one Registry per
// process; it loads each model name at most once no matter how many
// pipelines ask for it.
package embedder

import (
	"context"
	"log/slog"
	"time"
)

// Embedder converts keyword text to vectors.
type Embedder interface {
	// Embed returns the vector for a single keyword.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch returns vectors for multiple keywords in one call.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension returns the vector width, or 0 before first detection.
	Dimension() int

	// Model returns the configured model name.
	Model() string

	// Ready reports whether real embeddings are available. The disabled
	// implementation returns false so callers can degrade gracefully.
	Ready() bool
}

// Config configures an embedding client.
type Config struct {
	// Endpoint is the base URL of the embedding server. Empty disables
	// embeddings entirely.
	Endpoint string `yaml:"endpoint" json:"endpoint"`

	// Model is the model name sent with each request.
	Model string `yaml:"model" json:"model"`

	// Dimension is the expected vector width. 0 auto-detects on first call.
	Dimension int `yaml:"dimension" json:"dimension"`

	// BatchSize caps texts per HTTP request. Default: 32.
	BatchSize int `yaml:"batch_size" json:"batch_size"`

	// Timeout per HTTP request. Default: 30s.
	Timeout time.Duration `yaml:"timeout" json:"timeout"`

	// Logger defaults to slog.Default().
	Logger *slog.Logger `yaml:"-" json:"-"`
}

func (c *Config) defaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = 32
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// New builds an Embedder from config. An empty Endpoint yields the disabled
// implementation.
func New(cfg Config) Embedder {
	cfg.defaults()
	if cfg.Endpoint == "" {
		return &disabled{model: cfg.Model}
	}
	return newClient(cfg)
}

// disabled satisfies Embedder without a backend. Vectors are nil and Ready
// is false; the pipeline treats that as clustering-unavailable.
type disabled struct {
	model string
}

func (d *disabled) Embed(_ context.Context, _ string) ([]float32, error) {
	return nil, nil
}

func (d *disabled) EmbedBatch(_ context.Context, texts []string) ([][]float32, error) {
	return make([][]float32, len(texts)), nil
}

func (d *disabled) Dimension() int { return 0 }
func (d *disabled) Model() string  { return d.model }
func (d *disabled) Ready() bool    { return false }
