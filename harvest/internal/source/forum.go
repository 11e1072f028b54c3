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

// Forum harvests hot listings from discussion communities. The fetch
// targets are the configured communities, not the harvest seeds.
type Forum struct {
	deps        Deps
	base        string
	communities []string
	limit       int
	ttl         time.Duration
	useProxy    bool
}

func NewForum(d Deps, cfg Config) *Forum {
	d.defaults()
	cfg.defaults()
	return &Forum{
		deps:        d,
		base:        cfg.ForumBaseURL,
		communities: cfg.Communities,
		limit:       cfg.ListingLimit,
		ttl:         cfg.CacheTTL,
		useProxy:    cfg.UseProxy,
	}
}

func (f *Forum) Name() string { return "forum" }

func (f *Forum) Targets([]string) []string { return f.communities }

type forumListing struct {
	Data struct {
		Children []struct {
			Data struct {
				Title       string  `json:"title"`
				SelfText    string  `json:"selftext"`
				Score       float64 `json:"score"`
				NumComments int     `json:"num_comments"`
				Permalink   string  `json:"permalink"`
			} `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

func (f *Forum) Fetch(ctx context.Context, community string) ([]distill.Record, error) {
	body, err := f.deps.fetch(ctx, "forum", dispatch.Request{
		Method:   http.MethodGet,
		URL:      f.base + "/r/" + url.PathEscape(community) + "/hot.json",
		Query:    url.Values{"limit": {strconv.Itoa(f.limit)}},
		UseProxy: f.useProxy,
	}, f.ttl)
	if err != nil || body == nil {
		return nil, err
	}

	var listing forumListing
	if err := json.Unmarshal(body, &listing); err != nil {
		return nil, fmt.Errorf("source: parse forum listing for %s: %w", community, err)
	}

	var records []distill.Record
	for _, child := range listing.Data.Children {
		post := child.Data
		for _, kw := range extractPhrases(post.Title + " " + post.SelfText) {
			records = append(records, distill.Record{
				Keyword:  kw,
				Source:   "reddit_r_" + community,
				Title:    post.Title,
				Score:    post.Score,
				Comments: post.NumComments,
				URL:      "https://reddit.com" + post.Permalink,
				Platform: "reddit",
			})
		}
	}
	return records, nil
}
