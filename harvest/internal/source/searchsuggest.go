package source

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"time"

	"github.com/yangqingmang/find-demand-sub000/dispatch"
	"github.com/yangqingmang/find-demand-sub000/distill"
)

// SearchSuggest expands seeds through the web-search autocomplete
// endpoint, which answers plain JSON: [seed, [suggestions...]].
type SearchSuggest struct {
	deps     Deps
	base     string
	ttl      time.Duration
	useProxy bool
}

func NewSearchSuggest(d Deps, cfg Config) *SearchSuggest {
	d.defaults()
	cfg.defaults()
	return &SearchSuggest{
		deps:     d,
		base:     cfg.SuggestBaseURL,
		ttl:      cfg.CacheTTL,
		useProxy: cfg.UseProxy,
	}
}

func (s *SearchSuggest) Name() string { return "searchsuggest" }

func (s *SearchSuggest) Targets(seeds []string) []string { return seeds }

func (s *SearchSuggest) Fetch(ctx context.Context, seed string) ([]distill.Record, error) {
	body, err := s.deps.fetch(ctx, "searchsuggest", dispatch.Request{
		Method: http.MethodGet,
		URL:    s.base + "/complete/search",
		Query: url.Values{
			"client": {"firefox"},
			"q":      {seed},
		},
		UseProxy: s.useProxy,
	}, s.ttl)
	if err != nil || body == nil {
		return nil, err
	}

	var payload []json.RawMessage
	if err := json.Unmarshal(body, &payload); err != nil || len(payload) < 2 {
		s.deps.Logger.Warn("malformed search suggestion payload", "seed", seed, "error", err)
		return nil, nil
	}
	var suggestions []string
	if err := json.Unmarshal(payload[1], &suggestions); err != nil {
		s.deps.Logger.Warn("malformed search suggestion list", "seed", seed, "error", err)
		return nil, nil
	}

	var records []distill.Record
	for _, kw := range suggestions {
		if kw == "" {
			continue
		}
		records = append(records, distill.Record{
			Keyword:  kw,
			Source:   "google_suggestions",
			URL:      "https://www.google.com/search?q=" + url.QueryEscape(kw),
			Platform: "google",
		})
	}
	return records, nil
}
