package source

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
)

const launchFixture = `{
  "data": {
    "posts": {
      "edges": [
        {"node": {
          "name": "BrewMaster",
          "tagline": "Best grinder for espresso brewing",
          "description": "",
          "votesCount": 320,
          "commentsCount": 45,
          "url": "https://example.com/brew",
          "topics": {"edges": []}
        }}
      ]
    }
  }
}`

func TestLaunchBoard_DisabledWithoutToken(t *testing.T) {
	// WHAT: without an API token the adapter exposes no targets and a
	// direct fetch is a no-op.
	// WHY: a missing credential skips the source, it does not fail the
	// harvest.
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
	}))
	defer srv.Close()

	deps, _ := newTestDeps(t)
	board := NewLaunchBoard(deps, Config{LaunchBaseURL: srv.URL})

	if got := board.Targets([]string{"ai"}); got != nil {
		t.Fatalf("targets = %v, want none", got)
	}
	records, err := board.Fetch(context.Background(), "ai")
	if err != nil || records != nil {
		t.Fatalf("fetch = %v, %v; want nil, nil", records, err)
	}
	if hits.Load() != 0 {
		t.Fatalf("upstream hits = %d, want 0", hits.Load())
	}
}

func TestLaunchBoard_QueriesByVotes(t *testing.T) {
	var gotAuth string
	var gotVars struct {
		Search string `json:"search"`
		First  int    `json:"first"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		var req struct {
			Query     string          `json:"query"`
			Variables json.RawMessage `json:"variables"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if err := json.Unmarshal(req.Variables, &gotVars); err != nil {
			t.Errorf("decode variables: %v", err)
		}
		w.Write([]byte(launchFixture))
	}))
	defer srv.Close()

	deps, _ := newTestDeps(t)
	board := NewLaunchBoard(deps, Config{LaunchBaseURL: srv.URL, LaunchToken: "tok-123"})

	if got := board.Targets([]string{"espresso"}); len(got) != 1 || got[0] != "espresso" {
		t.Fatalf("targets = %v", got)
	}

	records, err := board.Fetch(context.Background(), "espresso")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if gotAuth != "Bearer tok-123" {
		t.Fatalf("authorization = %q", gotAuth)
	}
	if gotVars.Search != "espresso" || gotVars.First != 50 {
		t.Fatalf("variables = %+v", gotVars)
	}

	if len(records) != 1 {
		t.Fatalf("records = %d, want 1", len(records))
	}
	r := records[0]
	if r.Keyword != "best grinder for espresso brewing" {
		t.Fatalf("keyword = %q", r.Keyword)
	}
	if r.Title != "BrewMaster" || r.Source != "producthunt" || r.Platform != "producthunt" {
		t.Fatalf("record identity = %+v", r)
	}
	if r.Score != 320 || r.Comments != 45 || r.URL != "https://example.com/brew" {
		t.Fatalf("record fields = %+v", r)
	}
}
