package mcpquic

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

func mustSelfSigned(t *testing.T) *tls.Config {
	t.Helper()
	cfg, err := SelfSignedTLSConfig()
	if err != nil {
		t.Fatalf("self-signed TLS: %v", err)
	}
	return cfg
}

func hasProto(protos []string, want string) bool {
	for _, p := range protos {
		if p == want {
			return true
		}
	}
	return false
}

// --- Preamble ---

func TestMagicBytes_Roundtrip(t *testing.T) {
	var buf bytes.Buffer
	if err := SendMagicBytes(&buf); err != nil {
		t.Fatal(err)
	}
	if buf.String() != MagicBytesMCP {
		t.Fatalf("magic: got %q, want %q", buf.String(), MagicBytesMCP)
	}
	if err := ValidateMagicBytes(&buf); err != nil {
		t.Fatal(err)
	}
}

func TestValidateMagicBytes_RejectsForeignProtocol(t *testing.T) {
	err := ValidateMagicBytes(bytes.NewReader([]byte("HTTP")))
	if !errors.Is(err, ErrInvalidMagicBytes) {
		t.Fatalf("expected ErrInvalidMagicBytes, got: %v", err)
	}
}

func TestValidateMagicBytes_ShortRead(t *testing.T) {
	if err := ValidateMagicBytes(bytes.NewReader([]byte("MC"))); err == nil {
		t.Fatal("expected error for truncated preamble")
	}
}

// --- Wire constants ---

func TestWireConstants(t *testing.T) {
	if ALPNProtocolMCP != "mcp-quic-v1" {
		t.Fatalf("ALPN: got %q", ALPNProtocolMCP)
	}
	if MagicBytesMCP != "MCP1" {
		t.Fatalf("magic: got %q", MagicBytesMCP)
	}
	if MaxMessageSize != 10*1024*1024 {
		t.Fatalf("max message: got %d", MaxMessageSize)
	}
}

func TestProductionQUICConfig(t *testing.T) {
	cfg := ProductionQUICConfig()
	if cfg.MaxIdleTimeout != DefaultIdleTimeout {
		t.Fatalf("idle timeout: got %v", cfg.MaxIdleTimeout)
	}
	if cfg.KeepAlivePeriod != DefaultKeepAlive {
		t.Fatalf("keepalive: got %v", cfg.KeepAlivePeriod)
	}
	if cfg.Allow0RTT {
		t.Fatal("0-RTT should be disabled")
	}
}

// --- TLS configs ---

func TestSelfSignedTLSConfig(t *testing.T) {
	cfg := mustSelfSigned(t)
	if len(cfg.Certificates) != 1 {
		t.Fatalf("certs: got %d", len(cfg.Certificates))
	}
	if cfg.MinVersion != tls.VersionTLS13 {
		t.Fatalf("min version: got %x", cfg.MinVersion)
	}
	if !hasProto(cfg.NextProtos, ALPNProtocolMCP) {
		t.Fatalf("ALPN: mcp protocol not in %v", cfg.NextProtos)
	}
}

func TestServerTLSConfig_MissingFiles(t *testing.T) {
	if _, err := ServerTLSConfig("nope.crt", "nope.key"); err == nil {
		t.Fatal("expected error for missing keypair")
	}
}

func TestClientTLSConfig(t *testing.T) {
	insecure := ClientTLSConfig(true)
	if !insecure.InsecureSkipVerify {
		t.Fatal("expected InsecureSkipVerify=true")
	}
	if insecure.MinVersion != tls.VersionTLS13 {
		t.Fatalf("min version: got %x", insecure.MinVersion)
	}
	if !hasProto(insecure.NextProtos, ALPNProtocolMCP) {
		t.Fatalf("ALPN: mcp protocol not in %v", insecure.NextProtos)
	}
	if ClientTLSConfig(false).InsecureSkipVerify {
		t.Fatal("expected InsecureSkipVerify=false")
	}
}

func TestH3TLSConfig_ClonesWithoutMutating(t *testing.T) {
	base := mustSelfSigned(t)
	h3 := H3TLSConfig(base)
	if len(h3.NextProtos) != 1 || h3.NextProtos[0] != "h3" {
		t.Fatalf("ALPN: got %v, want [h3]", h3.NextProtos)
	}
	if h3.MinVersion != base.MinVersion {
		t.Fatal("MinVersion should carry over from base")
	}
	if len(h3.Certificates) != len(base.Certificates) {
		t.Fatal("Certificates should carry over from base")
	}
	if hasProto(base.NextProtos, "h3") {
		t.Fatal("base config must not be mutated")
	}
}

// --- Errors ---

func TestConnectionError_FormatAndUnwrap(t *testing.T) {
	inner := errors.New("timeout")
	ce := &ConnectionError{
		RemoteAddr: "127.0.0.1:8443",
		Code:       ConnErrorProtocolViolation,
		Err:        inner,
	}

	msg := ce.Error()
	if !strings.Contains(msg, "127.0.0.1:8443") {
		t.Fatalf("error missing remote addr: %s", msg)
	}
	if !strings.Contains(msg, "0x03") {
		t.Fatalf("error missing code: %s", msg)
	}
	if !errors.Is(ce, inner) {
		t.Fatal("Unwrap should expose the inner error")
	}
}

// --- Listener lifecycle ---

func TestListener_ServeStopsWithContext(t *testing.T) {
	srv := mcp.NewServer(&mcp.Implementation{Name: "probe", Version: "0.0.1"}, nil)
	l, err := NewListener("127.0.0.1:0", mustSelfSigned(t), srv, slog.Default())
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer l.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := l.Serve(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Serve = %v, want context.Canceled", err)
	}
}

// --- Client ---

func TestNewClient_DefaultTLSVerifies(t *testing.T) {
	c := NewClient("localhost:8443", nil)
	if c.addr != "localhost:8443" {
		t.Fatalf("addr: got %q", c.addr)
	}
	if c.tlsCfg == nil || c.tlsCfg.InsecureSkipVerify {
		t.Fatal("default TLS should verify the server certificate")
	}
}

func TestNewClient_CustomTLS(t *testing.T) {
	cfg := ClientTLSConfig(false)
	if c := NewClient("srv:9000", cfg); c.tlsCfg != cfg {
		t.Fatal("custom TLS config not applied")
	}
}

func TestClient_NotConnected(t *testing.T) {
	c := NewClient("localhost:1234", nil)

	if _, err := c.ListTools(context.Background()); !errors.Is(err, errNotConnected) {
		t.Fatalf("ListTools = %v, want errNotConnected", err)
	}
	if _, err := c.CallTool(context.Background(), "test", nil); !errors.Is(err, errNotConnected) {
		t.Fatalf("CallTool = %v, want errNotConnected", err)
	}
	if err := c.Ping(context.Background()); !errors.Is(err, errNotConnected) {
		t.Fatalf("Ping = %v, want errNotConnected", err)
	}
}
