package mcpquic

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/quic-go/quic-go"
)

// initializeTimeout bounds the MCP initialize exchange once the QUIC
// handshake has already succeeded.
const initializeTimeout = 10 * time.Second

var errNotConnected = errors.New("mcpquic: client not connected")

// Client dials an MCP server over QUIC. Connect performs the QUIC
// handshake, the magic-byte preamble and the MCP initialize exchange; the
// session then serves ListTools/CallTool/Ping until Close.
type Client struct {
	addr    string
	tlsCfg  *tls.Config
	conn    *quic.Conn
	stream  *quic.Stream
	session *mcp.ClientSession
}

// NewClient prepares a client for the given address. A nil tlsCfg verifies
// the server certificate.
func NewClient(addr string, tlsCfg *tls.Config) *Client {
	if tlsCfg == nil {
		tlsCfg = ClientTLSConfig(false)
	}
	return &Client{addr: addr, tlsCfg: tlsCfg}
}

// Connect dials the server and opens the MCP session. The client is
// unusable until Connect returns nil.
func (c *Client) Connect(ctx context.Context) error {
	stream, err := c.dial(ctx)
	if err != nil {
		return err
	}

	mcpClient := mcp.NewClient(&mcp.Implementation{
		Name:    "harvest-quic-client",
		Version: "1.0.0",
	}, nil)

	initCtx, cancel := context.WithTimeout(ctx, initializeTimeout)
	defer cancel()

	// Connect runs the initialize handshake before returning.
	session, err := mcpClient.Connect(initCtx, &mcp.IOTransport{
		Reader: io.NopCloser(stream),
		Writer: streamWriter{stream},
	}, nil)
	if err != nil {
		c.teardown()
		return fmt.Errorf("mcp connect: %w", err)
	}

	c.session = session
	return nil
}

// dial opens the QUIC connection, checks the negotiated ALPN and writes
// the stream preamble.
func (c *Client) dial(ctx context.Context) (*quic.Stream, error) {
	conn, err := quic.DialAddr(ctx, c.addr, c.tlsCfg, ProductionQUICConfig())
	if err != nil {
		return nil, fmt.Errorf("quic dial %s: %w", c.addr, err)
	}

	if alpn := conn.ConnectionState().TLS.NegotiatedProtocol; alpn != ALPNProtocolMCP {
		conn.CloseWithError(ConnErrorUnsupportedALPN, "bad ALPN")
		return nil, &ConnectionError{
			RemoteAddr: c.addr,
			Code:       ConnErrorUnsupportedALPN,
			Err:        fmt.Errorf("%w: got %q", ErrUnsupportedALPN, alpn),
		}
	}

	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		conn.CloseWithError(ConnErrorProtocolViolation, "stream open failed")
		return nil, fmt.Errorf("open stream: %w", err)
	}
	if err := SendMagicBytes(stream); err != nil {
		stream.Close()
		conn.CloseWithError(ConnErrorProtocolViolation, "magic bytes failed")
		return nil, err
	}

	c.conn = conn
	c.stream = stream
	return stream, nil
}

func (c *Client) ListTools(ctx context.Context) (*mcp.ListToolsResult, error) {
	if c.session == nil {
		return nil, errNotConnected
	}
	return c.session.ListTools(ctx, nil)
}

func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
	if c.session == nil {
		return nil, errNotConnected
	}
	return c.session.CallTool(ctx, &mcp.CallToolParams{
		Name:      name,
		Arguments: args,
	})
}

func (c *Client) Ping(ctx context.Context) error {
	if c.session == nil {
		return errNotConnected
	}
	return c.session.Ping(ctx, nil)
}

func (c *Client) Close() error {
	if c.session != nil {
		c.session.Close()
	}
	return c.teardown()
}

func (c *Client) teardown() error {
	if c.stream != nil {
		c.stream.Close()
	}
	if c.conn != nil {
		c.conn.CloseWithError(ConnErrorNoError, "client closing")
	}
	return nil
}
