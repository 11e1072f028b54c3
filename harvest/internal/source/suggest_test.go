package source

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
)

func TestVideoSuggest_StripsCallbackWrapper(t *testing.T) {
	var gotQuery url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		w.Write([]byte(`window.google.ac.h(["ai",[["ai tools",0],["ai art generator",0]],{"q":"x"}])`))
	}))
	defer srv.Close()

	deps, _ := newTestDeps(t)
	video := NewVideoSuggest(deps, Config{SuggestBaseURL: srv.URL})

	records, err := video.Fetch(context.Background(), "ai")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if gotQuery.Get("client") != "youtube" || gotQuery.Get("ds") != "yt" || gotQuery.Get("q") != "ai" {
		t.Fatalf("query params = %v", gotQuery)
	}
	if len(records) != 2 {
		t.Fatalf("records = %d, want 2", len(records))
	}
	if records[0].Keyword != "ai tools" || records[1].Keyword != "ai art generator" {
		t.Fatalf("keywords = %q, %q", records[0].Keyword, records[1].Keyword)
	}
	if records[0].Source != "youtube_suggestions" || records[0].Platform != "youtube" {
		t.Fatalf("source/platform = %q/%q", records[0].Source, records[0].Platform)
	}
	if records[1].URL != "https://www.youtube.com/results?search_query=ai+art+generator" {
		t.Fatalf("url = %q", records[1].URL)
	}
}

func TestVideoSuggest_UnexpectedWrapperDegrades(t *testing.T) {
	// An unrecognized wrapper degrades to empty rather than failing.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`someOtherCallback(["ai",[]])`))
	}))
	defer srv.Close()

	deps, _ := newTestDeps(t)
	video := NewVideoSuggest(deps, Config{SuggestBaseURL: srv.URL})

	records, err := video.Fetch(context.Background(), "ai")
	if err != nil || records != nil {
		t.Fatalf("fetch = %v, %v; want nil, nil", records, err)
	}
}

func TestSearchSuggest_ParsesPlainArray(t *testing.T) {
	var gotQuery url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = r.URL.Query()
		w.Write([]byte(`["ai",["ai tools","ai for teachers"]]`))
	}))
	defer srv.Close()

	deps, _ := newTestDeps(t)
	search := NewSearchSuggest(deps, Config{SuggestBaseURL: srv.URL})

	records, err := search.Fetch(context.Background(), "ai")
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if gotQuery.Get("client") != "firefox" || gotQuery.Get("q") != "ai" {
		t.Fatalf("query params = %v", gotQuery)
	}
	if len(records) != 2 {
		t.Fatalf("records = %d, want 2", len(records))
	}
	if records[1].Keyword != "ai for teachers" {
		t.Fatalf("keyword = %q", records[1].Keyword)
	}
	if records[1].URL != "https://www.google.com/search?q=ai+for+teachers" {
		t.Fatalf("url = %q", records[1].URL)
	}
	if records[0].Source != "google_suggestions" || records[0].Platform != "google" {
		t.Fatalf("source/platform = %q/%q", records[0].Source, records[0].Platform)
	}
}

func TestSearchSuggest_MalformedPayloadDegrades(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"unexpected": true}`))
	}))
	defer srv.Close()

	deps, _ := newTestDeps(t)
	search := NewSearchSuggest(deps, Config{SuggestBaseURL: srv.URL})

	records, err := search.Fetch(context.Background(), "ai")
	if err != nil || records != nil {
		t.Fatalf("fetch = %v, %v; want nil, nil", records, err)
	}
}
