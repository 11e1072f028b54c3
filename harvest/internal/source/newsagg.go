package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/yangqingmang/find-demand-sub000/dispatch"
	"github.com/yangqingmang/find-demand-sub000/distill"
)

// NewsAgg searches a news aggregator for stories mentioning the seed
// inside a trailing time window.
type NewsAgg struct {
	deps       Deps
	base       string
	windowDays int
	pageSize   int
	ttl        time.Duration
	useProxy   bool
}

func NewNewsAgg(d Deps, cfg Config) *NewsAgg {
	d.defaults()
	cfg.defaults()
	return &NewsAgg{
		deps:       d,
		base:       cfg.NewsBaseURL,
		windowDays: cfg.NewsWindowDays,
		pageSize:   cfg.NewsPageSize,
		ttl:        cfg.CacheTTL,
		useProxy:   cfg.UseProxy,
	}
}

func (n *NewsAgg) Name() string { return "newsagg" }

func (n *NewsAgg) Targets(seeds []string) []string { return seeds }

type newsSearch struct {
	Hits []struct {
		Title       string  `json:"title"`
		URL         string  `json:"url"`
		Points      float64 `json:"points"`
		NumComments int     `json:"num_comments"`
		ObjectID    string  `json:"objectID"`
	} `json:"hits"`
}

func (n *NewsAgg) Fetch(ctx context.Context, seed string) ([]distill.Record, error) {
	end := n.deps.Now().Unix()
	start := end - int64(n.windowDays)*24*3600
	body, err := n.deps.fetch(ctx, "newsagg", dispatch.Request{
		Method: http.MethodGet,
		URL:    n.base + "/api/v1/search",
		Query: url.Values{
			"query":          {seed},
			"tags":           {"story"},
			"numericFilters": {fmt.Sprintf("created_at_i>%d,created_at_i<%d", start, end)},
			"hitsPerPage":    {strconv.Itoa(n.pageSize)},
		},
		UseProxy: n.useProxy,
	}, n.ttl)
	if err != nil || body == nil {
		return nil, err
	}

	var search newsSearch
	if err := json.Unmarshal(body, &search); err != nil {
		return nil, fmt.Errorf("source: parse news search for %q: %w", seed, err)
	}

	var records []distill.Record
	for _, hit := range search.Hits {
		storyURL := hit.URL
		if storyURL == "" {
			storyURL = "https://news.ycombinator.com/item?id=" + hit.ObjectID
		}
		for _, kw := range extractPhrases(hit.Title) {
			records = append(records, distill.Record{
				Keyword:  kw,
				Source:   "hackernews",
				Title:    hit.Title,
				Score:    hit.Points,
				Comments: hit.NumComments,
				URL:      storyURL,
				Platform: "hackernews",
			})
		}
	}
	return records, nil
}
