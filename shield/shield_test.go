package shield

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/yangqingmang/find-demand-sub000/kit"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestSecurityHeaders(t *testing.T) {
	h := SecurityHeaders(DefaultHeaders())(okHandler())
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("GET", "/", nil))

	want := map[string]string{
		"X-Content-Type-Options":  "nosniff",
		"X-Frame-Options":         "DENY",
		"Referrer-Policy":         "no-referrer",
		"Content-Security-Policy": "default-src 'none'; frame-ancestors 'none'",
	}
	for name, v := range want {
		if got := w.Header().Get(name); got != v {
			t.Errorf("%s = %q, want %q", name, got, v)
		}
	}
}

func TestSecurityHeaders_SkipsEmptyFields(t *testing.T) {
	h := SecurityHeaders(HeaderConfig{XFrameOptions: "DENY"})(okHandler())
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("GET", "/", nil))

	if got := w.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Errorf("X-Frame-Options = %q", got)
	}
	if _, set := w.Header()["Content-Security-Policy"]; set {
		t.Error("empty CSP must not be set")
	}
}

func TestMaxBody_OversizedBodyFailsTheRead(t *testing.T) {
	var readErr error
	h := MaxBody(8)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, readErr = io.ReadAll(r.Body)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("POST", "/", strings.NewReader(strings.Repeat("x", 64))))
	if readErr == nil {
		t.Fatal("expected read error for oversized body")
	}

	readErr = nil
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("POST", "/", strings.NewReader("ok")))
	if readErr != nil {
		t.Fatalf("small body: %v", readErr)
	}
}

func TestTraceID(t *testing.T) {
	var inCtx string
	h := TraceID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		inCtx = kit.GetTraceID(r.Context())
		if GetLogger(r.Context()) == nil {
			t.Error("per-request logger missing")
		}
	}))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("GET", "/health", nil))

	header := w.Header().Get("X-Trace-ID")
	if header == "" {
		t.Fatal("X-Trace-ID header missing")
	}
	if inCtx != header {
		t.Errorf("context trace %q != header %q", inCtx, header)
	}
}

func TestTraceID_ReusesInboundID(t *testing.T) {
	h := TraceID(okHandler())

	req := httptest.NewRequest("GET", "/", nil)
	req.Header.Set("X-Trace-ID", "upstream_7f3a")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if got := w.Header().Get("X-Trace-ID"); got != "upstream_7f3a" {
		t.Errorf("trace = %q, want the inbound id", got)
	}

	// Absurdly long inbound IDs are replaced.
	req = httptest.NewRequest("GET", "/", nil)
	req.Header.Set("X-Trace-ID", strings.Repeat("a", 200))
	w = httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if got := w.Header().Get("X-Trace-ID"); len(got) > maxTraceIDLen {
		t.Errorf("oversized inbound id kept: %q", got)
	}
}

func TestHeadToGet(t *testing.T) {
	var method string
	h := HeadToGet(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method = r.Method
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest("HEAD", "/", nil))
	if method != http.MethodGet {
		t.Fatalf("method = %q, want GET", method)
	}
}

func TestStack_AppliesEveryLayer(t *testing.T) {
	handler := okHandler()
	stack := Stack(64 << 10)
	for i := len(stack) - 1; i >= 0; i-- {
		handler = stack[i](handler)
	}
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, httptest.NewRequest("GET", "/", nil))

	if w.Header().Get("X-Trace-ID") == "" {
		t.Error("trace header missing")
	}
	if w.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("security headers missing")
	}
}
