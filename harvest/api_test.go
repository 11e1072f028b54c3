package harvest

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"
)

func doJSON(t *testing.T, h http.Handler, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.Unmarshal(w.Body.Bytes(), v); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, w.Body.String())
	}
}

func TestRoutes_Health(t *testing.T) {
	// WHAT: /health reports liveness plus trends session state.
	svc := New(testConfig(), nil, WithAdapters(
		singleTarget("alpha", returning("alpha", "podcast content strategy")),
	))
	w := doJSON(t, svc.Routes(), "GET", "/health", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("content type = %q", ct)
	}
	var out struct {
		Status      string `json:"status"`
		TrendsReady bool   `json:"trends_ready"`
	}
	decodeBody(t, w, &out)
	if out.Status != "ok" {
		t.Errorf("status = %q", out.Status)
	}
	if out.TrendsReady {
		t.Error("session must not be ready before bootstrap")
	}
}

func TestRoutes_Harvest(t *testing.T) {
	// WHAT: POST /harvest runs the pipeline and returns the full result.
	svc := New(testConfig(), nil, WithAdapters(
		singleTarget("alpha", returning("alpha", "ecommerce seo checklist")),
	))
	w := doJSON(t, svc.Routes(), "POST", "/harvest",
		map[string]any{"seeds": []string{"seo"}}, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d (body %s)", w.Code, w.Body.String())
	}
	var res Result
	decodeBody(t, w, &res)
	if res.Status != StatusOK {
		t.Errorf("run status = %q", res.Status)
	}
	if len(res.Records) != 1 {
		t.Errorf("records = %d, want 1", len(res.Records))
	}
}

func TestRoutes_HarvestUnknownSourceIs400(t *testing.T) {
	// WHAT: naming a source that does not exist is a caller error, not a 500.
	svc := New(testConfig(), nil, WithAdapters(
		singleTarget("alpha", returning("alpha", "podcast content strategy")),
	))
	w := doJSON(t, svc.Routes(), "POST", "/harvest",
		map[string]any{"seeds": []string{"x"}, "sources": []string{"nope"}}, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestRoutes_AdminKeyGuard(t *testing.T) {
	// WHAT: mutating routes demand the admin key once a hash is configured;
	// read routes stay open.
	hash, err := bcrypt.GenerateFromPassword([]byte("sesame"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	cfg := testConfig()
	cfg.AdminKeyHash = string(hash)
	svc := New(cfg, nil, WithAdapters(
		singleTarget("alpha", returning("alpha", "podcast content strategy")),
	))
	routes := svc.Routes()

	if w := doJSON(t, routes, "POST", "/cache/purge", nil, nil); w.Code != http.StatusForbidden {
		t.Errorf("no key: status = %d, want 403", w.Code)
	}
	if w := doJSON(t, routes, "POST", "/cache/purge", nil, map[string]string{"X-Admin-Key": "wrong"}); w.Code != http.StatusForbidden {
		t.Errorf("wrong key: status = %d, want 403", w.Code)
	}
	if w := doJSON(t, routes, "POST", "/cache/purge", nil, map[string]string{"X-Admin-Key": "sesame"}); w.Code != http.StatusOK {
		t.Errorf("right key: status = %d, want 200", w.Code)
	}
	if w := doJSON(t, routes, "GET", "/stats", nil, nil); w.Code != http.StatusOK {
		t.Errorf("stats without key: status = %d, want 200", w.Code)
	}
}

func TestRoutes_NoHashDisablesGuard(t *testing.T) {
	// WHAT: with no configured hash the mutating routes accept bare calls.
	svc := New(testConfig(), nil, WithAdapters(
		singleTarget("alpha", returning("alpha", "podcast content strategy")),
	))
	if w := doJSON(t, svc.Routes(), "POST", "/cache/purge", nil, nil); w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
}

func TestRoutes_ProxyAdmin(t *testing.T) {
	// WHAT: proxies can be registered, listed and validated over the API.
	svc := New(testConfig(), nil, WithAdapters(
		singleTarget("alpha", returning("alpha", "podcast content strategy")),
	))
	routes := svc.Routes()

	w := doJSON(t, routes, "POST", "/proxies",
		map[string]any{"host": "127.0.0.1", "port": 9101}, nil)
	if w.Code != http.StatusCreated {
		t.Fatalf("add: status = %d (body %s)", w.Code, w.Body.String())
	}
	added := map[string]string{}
	decodeBody(t, w, &added)
	if added["key"] != "127.0.0.1:9101" {
		t.Errorf("key = %q", added["key"])
	}

	if w := doJSON(t, routes, "POST", "/proxies", map[string]any{"host": ""}, nil); w.Code != http.StatusBadRequest {
		t.Errorf("missing host: status = %d, want 400", w.Code)
	}

	list := doJSON(t, routes, "GET", "/proxies", nil, nil)
	var entries []map[string]any
	decodeBody(t, list, &entries)
	if len(entries) != 1 {
		t.Fatalf("listed = %d, want 1", len(entries))
	}
}

func TestRoutes_Cooldowns(t *testing.T) {
	// WHAT: active cooldowns show up with their remaining duration.
	svc := New(testConfig(), nil, WithAdapters(
		singleTarget("alpha", returning("alpha", "podcast content strategy")),
	))
	svc.Coordinator().SetCooldown("api.example.com", time.Minute, 1)

	w := doJSON(t, svc.Routes(), "GET", "/cooldowns", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	out := map[string]cooldownStatus{}
	decodeBody(t, w, &out)
	cd, ok := out["api.example.com"]
	if !ok {
		t.Fatalf("cooldowns = %v, missing api.example.com", out)
	}
	if cd.Remaining <= 0 {
		t.Errorf("remaining = %v, want > 0", cd.Remaining)
	}
}

func TestRoutes_CachePurge(t *testing.T) {
	// WHAT: purge reports how many expired rows went away.
	svc := New(testConfig(), nil, WithAdapters(
		singleTarget("alpha", returning("alpha", "podcast content strategy")),
	))
	w := doJSON(t, svc.Routes(), "POST", "/cache/purge", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	out := map[string]int{}
	decodeBody(t, w, &out)
	if _, ok := out["purged"]; !ok {
		t.Fatalf("body = %v, missing purged", out)
	}
}
