package proxypool

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync/atomic"
	"testing"
	"time"
)

func entryFromServer(t *testing.T, srv *httptest.Server) Entry {
	t.Helper()
	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	host, portStr, err := net.SplitHostPort(u.Host)
	if err != nil {
		t.Fatal(err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatal(err)
	}
	return Entry{Host: host, Port: port, Protocol: "http"}
}

func TestSuccessRate_Unsampled(t *testing.T) {
	e := Entry{}
	if r := e.SuccessRate(); r != 1.0 {
		t.Fatalf("fresh entry rate = %v, want 1.0", r)
	}
}

func TestSuccessRate_Sampled(t *testing.T) {
	e := Entry{SuccessCount: 3, FailureCount: 1}
	if r := e.SuccessRate(); r != 0.75 {
		t.Fatalf("rate = %v, want 0.75", r)
	}
}

func TestBest_Ordering(t *testing.T) {
	// WHAT: Best prefers higher success rate, then lower latency, then the
	// least recently used entry.
	// WHY: The executor leans on this ordering to route most traffic through
	// the healthiest exit.
	p := New(Config{})
	p.Add(Entry{Host: "a.example.com", Port: 8080})
	p.Add(Entry{Host: "b.example.com", Port: 8080})
	p.Add(Entry{Host: "c.example.com", Port: 8080})

	// a: 50% rate. b: 100%, 40ms. c: 100%, 10ms.
	p.MarkResult("http://a.example.com:8080", true, 5*time.Millisecond)
	p.MarkResult("http://a.example.com:8080", false, 0)
	p.MarkResult("http://b.example.com:8080", true, 40*time.Millisecond)
	p.MarkResult("http://c.example.com:8080", true, 10*time.Millisecond)

	best, err := p.Best()
	if err != nil {
		t.Fatal(err)
	}
	if best.Host != "c.example.com" {
		t.Fatalf("best = %s, want c.example.com (highest rate, lowest latency)", best.Host)
	}
}

func TestBest_Exhausted(t *testing.T) {
	p := New(Config{})
	if _, err := p.Best(); !errors.Is(err, ErrExhausted) {
		t.Fatalf("empty pool: err = %v, want ErrExhausted", err)
	}
}

func TestRandom_SkipsInactive(t *testing.T) {
	// WHAT: Deactivated entries never come out of Random.
	// WHY: Sending traffic through a known-dead proxy burns the retry budget.
	p := New(Config{DeactivateAfter: 2})
	p.Add(Entry{Host: "dead.example.com", Port: 1080})
	p.Add(Entry{Host: "live.example.com", Port: 1080})

	for i := 0; i < 3; i++ {
		p.MarkResult("http://dead.example.com:1080", false, 0)
	}

	for i := 0; i < 20; i++ {
		e, err := p.Random()
		if err != nil {
			t.Fatal(err)
		}
		if e.Host == "dead.example.com" {
			t.Fatal("Random returned a deactivated entry")
		}
	}
}

func TestMarkResult_Deactivation(t *testing.T) {
	p := New(Config{})
	p.Add(Entry{Host: "p.example.com", Port: 3128})
	key := "http://p.example.com:3128"

	// One success, then failures. Deactivation needs failures > 5 AND
	// rate < 0.5; the sixth failure crosses both.
	p.MarkResult(key, true, time.Millisecond)
	for i := 0; i < 5; i++ {
		p.MarkResult(key, false, 0)
	}
	if !p.Snapshot()[0].Active {
		t.Fatal("entry should still be active at 5 failures")
	}
	p.MarkResult(key, false, 0)
	if p.Snapshot()[0].Active {
		t.Fatal("entry should be deactivated after 6 failures at rate 1/7")
	}

	if _, err := p.Best(); !errors.Is(err, ErrExhausted) {
		t.Fatalf("err = %v, want ErrExhausted once the only entry is dead", err)
	}
}

func TestMarkResult_LatencyAverage(t *testing.T) {
	p := New(Config{})
	p.Add(Entry{Host: "p.example.com", Port: 3128})
	key := "http://p.example.com:3128"

	p.MarkResult(key, true, 10*time.Millisecond)
	p.MarkResult(key, true, 30*time.Millisecond)

	if got := p.Snapshot()[0].Latency; got != 20*time.Millisecond {
		t.Fatalf("latency = %v, want 20ms running average", got)
	}
}

func TestCleanup(t *testing.T) {
	p := New(Config{MinSamples: 10, CleanupRate: 0.3})
	p.Add(Entry{Host: "bad.example.com", Port: 8080})
	p.Add(Entry{Host: "good.example.com", Port: 8080})
	p.Add(Entry{Host: "fresh.example.com", Port: 8080})

	// bad: 2/10 = 20%. good: 9/10 = 90%. fresh: unsampled.
	for i := 0; i < 2; i++ {
		p.MarkResult("http://bad.example.com:8080", true, time.Millisecond)
	}
	for i := 0; i < 8; i++ {
		p.MarkResult("http://bad.example.com:8080", false, 0)
	}
	for i := 0; i < 9; i++ {
		p.MarkResult("http://good.example.com:8080", true, time.Millisecond)
	}
	p.MarkResult("http://good.example.com:8080", false, 0)

	if removed := p.Cleanup(); removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	for _, e := range p.Snapshot() {
		if e.Host == "bad.example.com" {
			t.Fatal("bad entry survived cleanup")
		}
	}
	if p.Len() != 2 {
		t.Fatalf("len = %d, want 2", p.Len())
	}
}

func TestProbe_Success(t *testing.T) {
	// The test server plays the proxy: an HTTP proxy client sends the full
	// target URL in the request line, so a plain 200 handler is enough.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := New(Config{ProbeURL: "http://upstream.test/ip"})
	e := entryFromServer(t, srv)
	p.Add(e)

	if err := p.Probe(context.Background(), e.Key()); err != nil {
		t.Fatalf("probe: %v", err)
	}
	got := p.Snapshot()[0]
	if got.SuccessCount != 1 || got.FailureCount != 0 {
		t.Fatalf("counters = %d/%d, want 1/0", got.SuccessCount, got.FailureCount)
	}
}

func TestProbe_FailureAndReactivation(t *testing.T) {
	// WHAT: A failing probe marks the entry down; a later passing probe
	// brings a deactivated entry back.
	// WHY: Probing is the only comeback path once deactivation kicks in.
	var healthy atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if healthy.Load() {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	p := New(Config{ProbeURL: "http://upstream.test/ip", DeactivateAfter: 1})
	e := entryFromServer(t, srv)
	p.Add(e)

	for i := 0; i < 2; i++ {
		if err := p.Probe(context.Background(), e.Key()); err == nil {
			t.Fatal("expected probe failure")
		}
	}
	if p.Snapshot()[0].Active {
		t.Fatal("entry should be deactivated after failed probes")
	}

	healthy.Store(true)
	if err := p.Probe(context.Background(), e.Key()); err != nil {
		t.Fatalf("probe: %v", err)
	}
	if !p.Snapshot()[0].Active {
		t.Fatal("passing probe should reactivate the entry")
	}
}

func TestProbe_UnknownKey(t *testing.T) {
	p := New(Config{})
	if err := p.Probe(context.Background(), "http://nope:1"); !errors.Is(err, ErrUnknownProxy) {
		t.Fatalf("err = %v, want ErrUnknownProxy", err)
	}
}

func TestProbeAll(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p := New(Config{ProbeURL: "http://upstream.test/ip"})
	e := entryFromServer(t, srv)
	p.Add(e)
	p.Add(Entry{Host: "127.0.0.1", Port: 1, Protocol: "http"}) // nothing listens

	if healthy := p.ProbeAll(context.Background()); healthy != 1 {
		t.Fatalf("healthy = %d, want 1", healthy)
	}
}

func TestAdd_ReactivatesExisting(t *testing.T) {
	p := New(Config{DeactivateAfter: 1})
	p.Add(Entry{Host: "p.example.com", Port: 3128})
	p.MarkResult("http://p.example.com:3128", false, 0)
	p.MarkResult("http://p.example.com:3128", false, 0)
	if p.Snapshot()[0].Active {
		t.Fatal("entry should be deactivated")
	}

	p.Add(Entry{Host: "p.example.com", Port: 3128})
	if p.Len() != 1 {
		t.Fatalf("len = %d, want 1 (no duplicate)", p.Len())
	}
	if !p.Snapshot()[0].Active {
		t.Fatal("re-adding should reactivate")
	}
}

func TestTransport_HTTP(t *testing.T) {
	tr, err := Transport(Entry{Host: "p.example.com", Port: 3128, Protocol: "http", Username: "u", Password: "s"})
	if err != nil {
		t.Fatal(err)
	}
	if tr.Proxy == nil {
		t.Fatal("http transport should set Proxy")
	}
	u, err := tr.Proxy(&http.Request{URL: &url.URL{Scheme: "http", Host: "target.test"}})
	if err != nil {
		t.Fatal(err)
	}
	if u.Host != "p.example.com:3128" {
		t.Fatalf("proxy host = %s", u.Host)
	}
	if user := u.User.Username(); user != "u" {
		t.Fatalf("proxy user = %s", user)
	}
}

func TestTransport_SOCKS5(t *testing.T) {
	tr, err := Transport(Entry{Host: "p.example.com", Port: 1080, Protocol: "socks5"})
	if err != nil {
		t.Fatal(err)
	}
	if tr.DialContext == nil {
		t.Fatal("socks5 transport should set DialContext")
	}
	if tr.Proxy != nil {
		t.Fatal("socks5 transport should not set Proxy")
	}
}

func TestTransport_UnsupportedProtocol(t *testing.T) {
	if _, err := Transport(Entry{Host: "p.example.com", Port: 1, Protocol: "quic"}); err == nil {
		t.Fatal("expected error for unsupported protocol")
	}
}

func TestKey_ExcludesCredentials(t *testing.T) {
	e := Entry{Host: "p.example.com", Port: 3128, Username: "u", Password: "hunter2"}
	if got := e.Key(); got != "http://p.example.com:3128" {
		t.Fatalf("key = %s", got)
	}
}
