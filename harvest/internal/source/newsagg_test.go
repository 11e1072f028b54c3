package source

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"
)

const newsFixture = `{
  "hits": [
    {"title": "How to build a budgeting app", "url": "https://example.com/story", "points": 120, "num_comments": 48, "objectID": "101"},
    {"title": "Machine learning at the edge", "url": "", "points": 80, "num_comments": 12, "objectID": "202"}
  ]
}`

func TestNewsAgg_SearchesTrailingWindow(t *testing.T) {
	// WHAT: the search query carries the story tag, page size and a
	// created_at window derived from the injected clock.
	var gotQuery url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		w.Write([]byte(newsFixture))
	}))
	defer srv.Close()

	deps, _ := newTestDeps(t)
	deps.Now = func() time.Time { return time.Unix(1700000000, 0) }
	news := NewNewsAgg(deps, Config{NewsBaseURL: srv.URL})

	records, err := news.Fetch(context.Background(), "budgeting")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}

	if gotQuery.Get("query") != "budgeting" || gotQuery.Get("tags") != "story" {
		t.Fatalf("query params = %v", gotQuery)
	}
	if gotQuery.Get("hitsPerPage") != "100" {
		t.Fatalf("hitsPerPage = %q", gotQuery.Get("hitsPerPage"))
	}
	if got := gotQuery.Get("numericFilters"); got != "created_at_i>1697408000,created_at_i<1700000000" {
		t.Fatalf("numericFilters = %q", got)
	}

	if len(records) != 2 {
		t.Fatalf("records = %d, want 2", len(records))
	}
	if records[0].Keyword != "how to build a budgeting app" || records[0].URL != "https://example.com/story" {
		t.Fatalf("first record = %+v", records[0])
	}
	if records[0].Score != 120 || records[0].Comments != 48 {
		t.Fatalf("first scores = %v/%d", records[0].Score, records[0].Comments)
	}
	if records[0].Source != "hackernews" || records[0].Platform != "hackernews" {
		t.Fatalf("source/platform = %q/%q", records[0].Source, records[0].Platform)
	}
}

func TestNewsAgg_FallbackStoryURL(t *testing.T) {
	// WHAT: a hit without an external url points at the aggregator's own
	// item page instead.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(newsFixture))
	}))
	defer srv.Close()

	deps, _ := newTestDeps(t)
	news := NewNewsAgg(deps, Config{NewsBaseURL: srv.URL})

	records, err := news.Fetch(context.Background(), "edge")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("records = %d, want 2", len(records))
	}
	second := records[1]
	if second.Keyword != "machine learning" {
		t.Fatalf("keyword = %q", second.Keyword)
	}
	if second.URL != "https://news.ycombinator.com/item?id=202" {
		t.Fatalf("url = %q", second.URL)
	}
}
