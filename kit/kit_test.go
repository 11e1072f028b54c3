package kit

import (
	"context"
	"errors"
	"strings"
	"testing"
)

func TestChain_Order(t *testing.T) {
	var order []string
	tag := func(name string) Middleware {
		return func(next Endpoint) Endpoint {
			return func(ctx context.Context, req any) (any, error) {
				order = append(order, name+">")
				resp, err := next(ctx, req)
				order = append(order, "<"+name)
				return resp, err
			}
		}
	}
	base := func(context.Context, any) (any, error) {
		order = append(order, "base")
		return 42, nil
	}

	resp, err := Chain(tag("a"), tag("b"))(base)(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if resp != 42 {
		t.Fatalf("resp = %v, want 42", resp)
	}
	want := "a> b> base <b <a"
	if got := strings.Join(order, " "); got != want {
		t.Fatalf("order: got %q, want %q", got, want)
	}
}

func TestChain_Empty(t *testing.T) {
	base := func(context.Context, any) (any, error) { return "ok", nil }
	resp, err := Chain()(base)(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if resp != "ok" {
		t.Fatalf("resp = %v", resp)
	}
}

func TestChain_ErrorPassesThrough(t *testing.T) {
	sentinel := errors.New("boom")
	base := func(context.Context, any) (any, error) { return nil, sentinel }

	var seen error
	capture := func(next Endpoint) Endpoint {
		return func(ctx context.Context, req any) (any, error) {
			resp, err := next(ctx, req)
			seen = err
			return resp, err
		}
	}

	if _, err := Chain(capture)(base)(context.Background(), nil); !errors.Is(err, sentinel) {
		t.Fatalf("err = %v, want %v", err, sentinel)
	}
	if seen != sentinel {
		t.Fatal("middleware did not observe the endpoint error")
	}
}

func TestContextCarriers(t *testing.T) {
	cases := []struct {
		name string
		set  func(context.Context, string) context.Context
		get  func(context.Context) string
	}{
		{"request_id", WithRequestID, GetRequestID},
		{"trace_id", WithTraceID, GetTraceID},
		{"remote_addr", WithRemoteAddr, GetRemoteAddr},
	}
	for _, tc := range cases {
		if got := tc.get(context.Background()); got != "" {
			t.Errorf("%s: empty context carries %q", tc.name, got)
		}
		ctx := tc.set(context.Background(), "v_"+tc.name)
		if got := tc.get(ctx); got != "v_"+tc.name {
			t.Errorf("%s: got %q, want %q", tc.name, got, "v_"+tc.name)
		}
	}
}

func TestTransportDefaultsToHTTP(t *testing.T) {
	if got := GetTransport(context.Background()); got != "http" {
		t.Fatalf("default transport = %q, want http", got)
	}
	if got := GetTransport(WithTransport(context.Background(), "mcp_quic")); got != "mcp_quic" {
		t.Fatalf("transport = %q", got)
	}
}
