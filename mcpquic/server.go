// CLAUDE:SUMMARY QUIC listener that serves MCP sessions: ALPN + magic-byte preamble checks, one stream per session.
// Package mcpquic carries MCP sessions over QUIC streams. Each connection
// opens one bidirectional stream, prefixed with magic bytes so a confused
// peer is rejected before any JSON-RPC flows. The SDK owns the read/write
// loop; this package only adapts QUIC streams to its Transport interface.
package mcpquic

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/quic-go/quic-go"

	"github.com/yangqingmang/find-demand-sub000/idgen"
	"github.com/yangqingmang/find-demand-sub000/kit"
)

// Listener accepts MCP-over-QUIC connections and serves each one as a
// session of the shared MCP server.
type Listener struct {
	listener  *quic.Listener
	mcpServer *mcp.Server
	logger    *slog.Logger
	newID     idgen.Generator
}

// NewListener binds addr. Serve must be called to start accepting.
func NewListener(addr string, tlsCfg *tls.Config, mcpSrv *mcp.Server, logger *slog.Logger) (*Listener, error) {
	if logger == nil {
		logger = slog.Default()
	}
	l, err := quic.ListenAddr(addr, tlsCfg, ProductionQUICConfig())
	if err != nil {
		return nil, err
	}
	logger.Info("mcp quic listener ready", "addr", addr)
	return &Listener{
		listener:  l,
		mcpServer: mcpSrv,
		logger:    logger,
		newID:     idgen.NanoID(8),
	}, nil
}

// Serve accepts connections until ctx is canceled. Connections that
// negotiated a foreign ALPN are closed before any session starts.
func (l *Listener) Serve(ctx context.Context) error {
	for {
		conn, err := l.listener.Accept(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			l.logger.Error("quic accept", "error", err)
			continue
		}

		if alpn := conn.ConnectionState().TLS.NegotiatedProtocol; alpn != ALPNProtocolMCP {
			conn.CloseWithError(ConnErrorUnsupportedALPN, "unsupported ALPN: "+alpn)
			continue
		}

		go l.serveConn(ctx, conn)
	}
}

func (l *Listener) Close() error {
	return l.listener.Close()
}

// serveConn runs one QUIC connection as one MCP session and returns when
// the session ends.
func (l *Listener) serveConn(ctx context.Context, conn *quic.Conn) {
	remote := conn.RemoteAddr().String()

	stream, err := l.acceptPreamble(ctx, conn)
	if err != nil {
		l.logger.Error("quic stream rejected", "remote", remote, "error", err)
		return
	}

	sessionID := "quic_" + l.newID()
	l.logger.Info("mcp session open", "session", sessionID, "remote", remote)

	// Session identity rides the context so tool handlers can log it.
	ctx = kit.WithTransport(ctx, "mcp_quic")
	ctx = kit.WithRequestID(ctx, sessionID)
	ctx = kit.WithRemoteAddr(ctx, remote)

	ss, err := l.mcpServer.Connect(ctx, &streamTransport{stream: stream, sessionID: sessionID}, nil)
	if err != nil {
		l.logger.Error("mcp connect failed", "session", sessionID, "error", err)
		stream.Close()
		return
	}

	// The SDK drives the JSON-RPC loop; Wait unblocks when the peer hangs
	// up or ctx is canceled.
	if err := ss.Wait(); err != nil {
		l.logger.Debug("mcp session wait", "session", sessionID, "error", err)
	}
	l.logger.Info("mcp session closed", "session", sessionID, "remote", remote)
}

// acceptPreamble takes the connection's first stream and checks the magic
// bytes, closing the connection on any violation.
func (l *Listener) acceptPreamble(ctx context.Context, conn *quic.Conn) (*quic.Stream, error) {
	stream, err := conn.AcceptStream(ctx)
	if err != nil {
		conn.CloseWithError(ConnErrorProtocolViolation, "stream accept failed")
		return nil, fmt.Errorf("accept stream: %w", err)
	}
	if err := ValidateMagicBytes(stream); err != nil {
		stream.CancelWrite(StreamErrorProtocolConfusion)
		stream.CancelRead(StreamErrorProtocolConfusion)
		conn.CloseWithError(ConnErrorProtocolViolation, "invalid magic bytes")
		return nil, err
	}
	return stream, nil
}

// streamTransport implements mcp.Transport over an accepted QUIC stream.
type streamTransport struct {
	stream    *quic.Stream
	sessionID string
}

func (t *streamTransport) Connect(ctx context.Context) (mcp.Connection, error) {
	conn, err := (&mcp.IOTransport{
		Reader: io.NopCloser(t.stream),
		Writer: streamWriter{t.stream},
	}).Connect(ctx)
	if err != nil {
		return nil, err
	}
	return &sessionConn{Connection: conn, id: t.sessionID}, nil
}

// sessionConn overrides the SDK connection's session ID, which is empty
// for IO transports.
type sessionConn struct {
	mcp.Connection
	id string
}

func (c *sessionConn) SessionID() string { return c.id }

// streamWriter adapts a *quic.Stream to io.WriteCloser.
type streamWriter struct{ stream *quic.Stream }

func (w streamWriter) Write(p []byte) (int, error) { return w.stream.Write(p) }
func (w streamWriter) Close() error                { return w.stream.Close() }
