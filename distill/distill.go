// CLAUDE:SUMMARY Keyword distillation: normalize/filter/near-dup collapse, threshold-gated semantic clustering, long-tail scoring.
// Package distill reduces raw harvested keyword records to a scored,
// deduplicated set.
//
// The reduction runs in two stages. The first is mandatory and cheap:
// normalization, validity and brand/generic filtering, exact and
// near-duplicate collapse via minhash LSH. The second is gated: when the
// survivor count reaches MinBatch and an embedder is available, keywords
// are embedded and clustered so paraphrases share a ClusterID. A missing
// or disabled embedder never fails a run; the result simply carries no
// cluster assignments and an inspectable diagnostic.
package distill

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/yangqingmang/find-demand-sub000/embedder"
	"github.com/yangqingmang/find-demand-sub000/telemetry"
)

// ErrClusteringUnavailable marks a run whose clustering stage was skipped:
// batch below MinBatch, no registry, or a disabled/failing embedder. It
// appears only in Result.Diagnostics, never as a returned error.
var ErrClusteringUnavailable = errors.New("distill: clustering unavailable")

// Record is one harvested keyword candidate in the unified schema shared
// by the source adapters, the pipeline and the harvest API.
type Record struct {
	Keyword       string    `json:"keyword"`
	Source        string    `json:"source"`
	Title         string    `json:"title,omitempty"`
	Score         float64   `json:"score"`
	Comments      int       `json:"comments"`
	URL           string    `json:"url,omitempty"`
	Platform      string    `json:"platform"`
	DiscoveredAt  time.Time `json:"discovered_at"`
	ClusterID     *int      `json:"cluster_id,omitempty"`
	LongTailScore float64   `json:"long_tail_score"`
	WeightedScore float64   `json:"weighted_score"`
}

// Config tunes the pipeline.
type Config struct {
	// MinBatch is the survivor count below which clustering is skipped.
	// Default: 5.
	MinBatch int `yaml:"min_batch"`
	// Model selects the embedder from the registry. Empty means the
	// registry default.
	Model string `yaml:"model"`
	// LSHThreshold is the near-duplicate Jaccard threshold. Default 0.9,
	// clamped to [0.5, 0.98].
	LSHThreshold float64 `yaml:"lsh_threshold"`
	// ClusterDistance is the agglomerative merge cutoff over cosine
	// distance. Default 0.2, clamped to [0.05, 0.5].
	ClusterDistance float64 `yaml:"cluster_distance"`
	// MaxBrandVariations caps keywords per detected brand. Default 8;
	// negative disables the cap.
	MaxBrandVariations int `yaml:"max_brand_variations"`
	// MinNonBrandTokens is the minimum count of non-brand tokens a
	// brand-bearing keyword needs to survive. Default 1.
	MinNonBrandTokens    int  `yaml:"min_non_brand_tokens"`
	StrictBrandModifiers bool `yaml:"strict_brand_modifiers"`
	DisableBrandFilter   bool `yaml:"disable_brand_filter"`
	DisableGenericFilter bool `yaml:"disable_generic_filter"`
	// Vocabulary overrides. Empty lists keep the built-in defaults.
	BrandTerms     []string `yaml:"brand_terms"`
	BrandModifiers []string `yaml:"brand_modifiers"`
	GenericTerms   []string `yaml:"generic_terms"`
	LongTailTerms  []string `yaml:"long_tail_terms"`
}

func (c *Config) defaults() {
	if c.MinBatch <= 0 {
		c.MinBatch = 5
	}
	if c.LSHThreshold == 0 {
		c.LSHThreshold = 0.9
	}
	c.LSHThreshold = clamp(c.LSHThreshold, 0.5, 0.98)
	if c.ClusterDistance == 0 {
		c.ClusterDistance = 0.2
	}
	c.ClusterDistance = clamp(c.ClusterDistance, 0.05, 0.5)
	if c.MaxBrandVariations == 0 {
		c.MaxBrandVariations = 8
	}
	if c.MinNonBrandTokens == 0 {
		c.MinNonBrandTokens = 1
	}
	if len(c.BrandTerms) == 0 {
		c.BrandTerms = defaultBrandTerms
	}
	if len(c.BrandModifiers) == 0 {
		c.BrandModifiers = defaultBrandModifiers
	}
	if len(c.GenericTerms) == 0 {
		c.GenericTerms = defaultGenericTerms
	}
	if len(c.LongTailTerms) == 0 {
		c.LongTailTerms = defaultLongTailTerms
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// DropStats counts records removed per stage of one run.
type DropStats struct {
	Invalid       int `json:"invalid"`
	Duplicate     int `json:"duplicate"`
	Branded       int `json:"branded"`
	Generic       int `json:"generic"`
	BrandCapped   int `json:"brand_capped"`
	NearDuplicate int `json:"near_duplicate"`
}

func (d DropStats) total() int {
	return d.Invalid + d.Duplicate + d.Branded + d.Generic + d.BrandCapped + d.NearDuplicate
}

// Result is the outcome of one pipeline run.
type Result struct {
	// Records are the survivors, sorted by WeightedScore descending.
	Records []Record
	// Representatives holds, per cluster, the member nearest its
	// centroid. Empty when clustering did not run.
	Representatives []Record
	// Clustered reports whether ClusterIDs were assigned.
	Clustered bool
	Dropped   DropStats
	// Diagnostics carries non-fatal degradations, inspectable with
	// errors.Is.
	Diagnostics []error
}

// Pipeline distills harvested records. Safe for use from a single
// goroutine per Run call; distinct Pipelines may share one Registry.
type Pipeline struct {
	cfg     Config
	filters *filters
	clust   clusterer
	sink    telemetry.Sink
	logger  *slog.Logger
	now     func() time.Time
}

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithTelemetry sets the telemetry sink.
func WithTelemetry(s telemetry.Sink) Option {
	return func(p *Pipeline) { p.sink = s }
}

// WithLogger sets the pipeline logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// WithClock overrides the DiscoveredAt clock.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// New builds a Pipeline. A nil registry selects the pass-through
// clusterer; runs then always degrade to unclustered output.
func New(cfg Config, registry *embedder.Registry, opts ...Option) *Pipeline {
	cfg.defaults()
	p := &Pipeline{
		cfg:     cfg,
		filters: newFilters(cfg),
		sink:    telemetry.Nop{},
		logger:  slog.Default(),
		now:     time.Now,
	}
	if registry != nil {
		p.clust = &embeddingClusterer{
			registry:  registry,
			model:     cfg.Model,
			threshold: cfg.ClusterDistance,
		}
	} else {
		p.clust = noopClusterer{}
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Run distills records. It never fails: every degradation shows up in the
// result's Diagnostics and DropStats instead.
func (p *Pipeline) Run(ctx context.Context, records []Record) *Result {
	token := p.sink.StartStage("distill")
	defer p.sink.EndStage(token)

	res := &Result{}
	survivors := p.reduce(records, res)

	if len(survivors) >= p.cfg.MinBatch {
		labels, vecs, err := p.clust.cluster(ctx, keywordsOf(survivors))
		if err != nil {
			res.Diagnostics = append(res.Diagnostics, err)
			p.sink.IncrementCounter(telemetry.CounterClusteringSkipped)
			p.logger.Warn("clustering skipped", "batch", len(survivors), "error", err)
		} else {
			for i := range survivors {
				id := labels[i]
				survivors[i].ClusterID = &id
			}
			res.Clustered = true
			p.scoreAndStamp(survivors)
			for _, ri := range representatives(labels, vecs) {
				res.Representatives = append(res.Representatives, survivors[ri])
			}
		}
	} else if len(survivors) > 0 {
		res.Diagnostics = append(res.Diagnostics,
			fmt.Errorf("%w: batch of %d below minimum %d", ErrClusteringUnavailable, len(survivors), p.cfg.MinBatch))
		p.sink.IncrementCounter(telemetry.CounterClusteringSkipped)
	}

	if !res.Clustered {
		p.scoreAndStamp(survivors)
	}
	sort.SliceStable(survivors, func(i, j int) bool {
		return survivors[i].WeightedScore > survivors[j].WeightedScore
	})
	sort.SliceStable(res.Representatives, func(i, j int) bool {
		return res.Representatives[i].WeightedScore > res.Representatives[j].WeightedScore
	})
	res.Records = survivors

	p.sink.AddCounter(telemetry.CounterRecordsHarvested, int64(len(survivors)))
	if dropped := res.Dropped.total(); dropped > 0 {
		p.sink.AddCounter(telemetry.CounterRecordsDropped, int64(dropped))
	}
	p.logger.Info("distill run complete",
		"in", len(records),
		"out", len(survivors),
		"dropped", res.Dropped.total(),
		"clustered", res.Clustered)
	return res
}

// reduce is the mandatory stage: normalize, validate, exact-dedupe,
// brand/generic filters, brand cap, near-duplicate collapse.
func (p *Pipeline) reduce(records []Record, res *Result) []Record {
	seen := make(map[string]struct{}, len(records))
	kept := make([]Record, 0, len(records))
	for _, r := range records {
		kw := Normalize(r.Keyword)
		if !validTerm(kw) {
			res.Dropped.Invalid++
			continue
		}
		if _, dup := seen[kw]; dup {
			res.Dropped.Duplicate++
			continue
		}
		seen[kw] = struct{}{}
		r.Keyword = kw
		if r.Platform == "" {
			r.Platform = "unknown"
		}
		kept = append(kept, r)
	}

	if p.filters.brandEnabled {
		filtered := kept[:0]
		for _, r := range kept {
			if p.filters.brandHeavy(r.Keyword) {
				res.Dropped.Branded++
				continue
			}
			filtered = append(filtered, r)
		}
		kept = filtered
	}
	if p.filters.genericEnabled {
		filtered := kept[:0]
		for _, r := range kept {
			if p.filters.underspecified(r.Keyword) {
				res.Dropped.Generic++
				continue
			}
			filtered = append(filtered, r)
		}
		kept = filtered
	}

	var capped int
	kept, capped = p.filters.capBrandVariants(kept)
	res.Dropped.BrandCapped = capped

	if len(kept) == 0 {
		return kept
	}
	surviving := collapseNear(keywordsOf(kept), p.cfg.LSHThreshold)
	res.Dropped.NearDuplicate = len(kept) - len(surviving)
	out := make([]Record, 0, len(surviving))
	for _, i := range surviving {
		out = append(out, kept[i])
	}
	return out
}

func (p *Pipeline) scoreAndStamp(records []Record) {
	stamp := p.now()
	for i := range records {
		records[i].LongTailScore = LongTailScore(records[i].Keyword)
		records[i].WeightedScore = records[i].Score * records[i].LongTailScore
		records[i].DiscoveredAt = stamp
	}
}

func keywordsOf(records []Record) []string {
	out := make([]string, len(records))
	for i, r := range records {
		out[i] = r.Keyword
	}
	return out
}
