package source

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/yangqingmang/find-demand-sub000/dispatch"
	"github.com/yangqingmang/find-demand-sub000/distill"
)

// VideoSuggest expands seeds through the video-search autocomplete
// endpoint. The payload is JSON wrapped in a JS callback; suggestions are
// passed through verbatim.
type VideoSuggest struct {
	deps     Deps
	base     string
	callback string
	ttl      time.Duration
	useProxy bool
}

func NewVideoSuggest(d Deps, cfg Config) *VideoSuggest {
	d.defaults()
	cfg.defaults()
	return &VideoSuggest{
		deps:     d,
		base:     cfg.SuggestBaseURL,
		callback: cfg.SuggestCallback,
		ttl:      cfg.CacheTTL,
		useProxy: cfg.UseProxy,
	}
}

func (v *VideoSuggest) Name() string { return "videosuggest" }

func (v *VideoSuggest) Targets(seeds []string) []string { return seeds }

func (v *VideoSuggest) Fetch(ctx context.Context, seed string) ([]distill.Record, error) {
	body, err := v.deps.fetch(ctx, "videosuggest", dispatch.Request{
		Method: http.MethodGet,
		URL:    v.base + "/complete/search",
		Query: url.Values{
			"client": {"youtube"},
			"ds":     {"yt"},
			"q":      {seed},
		},
		UseProxy: v.useProxy,
	}, v.ttl)
	if err != nil || body == nil {
		return nil, err
	}

	raw := strings.TrimSpace(string(body))
	if !strings.HasPrefix(raw, v.callback) {
		v.deps.Logger.Warn("unexpected video suggestion wrapper", "seed", seed)
		return nil, nil
	}
	raw = strings.TrimSuffix(strings.TrimPrefix(raw, v.callback), ")")

	var outer []json.RawMessage
	if err := json.Unmarshal([]byte(raw), &outer); err != nil || len(outer) < 2 {
		v.deps.Logger.Warn("malformed video suggestion payload", "seed", seed, "error", err)
		return nil, nil
	}
	var entries [][]json.RawMessage
	if err := json.Unmarshal(outer[1], &entries); err != nil {
		v.deps.Logger.Warn("malformed video suggestion list", "seed", seed, "error", err)
		return nil, nil
	}

	var records []distill.Record
	for _, entry := range entries {
		if len(entry) == 0 {
			continue
		}
		var kw string
		if err := json.Unmarshal(entry[0], &kw); err != nil || kw == "" {
			continue
		}
		records = append(records, distill.Record{
			Keyword:  kw,
			Source:   "youtube_suggestions",
			URL:      "https://www.youtube.com/results?search_query=" + url.QueryEscape(kw),
			Platform: "youtube",
		})
	}
	return records, nil
}
