package mcpquic

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net"
	"time"

	"github.com/quic-go/quic-go"
)

// ALPNProtocolMCP is the ALPN token negotiated for MCP sessions.
const ALPNProtocolMCP = "mcp-quic-v1"

// MagicBytesMCP opens every MCP stream. A peer that starts with anything
// else is talking some other protocol on our port.
const MagicBytesMCP = "MCP1"

// MaxMessageSize caps one JSON-RPC message on the wire.
const MaxMessageSize = 10 * 1024 * 1024

// Transport tuning shared by both ends.
const (
	DefaultIdleTimeout = 5 * time.Minute
	DefaultKeepAlive   = 30 * time.Second
)

// Application close codes.
const (
	ConnErrorNoError           quic.ApplicationErrorCode = 0x00
	ConnErrorUnsupportedALPN   quic.ApplicationErrorCode = 0x01
	ConnErrorTimeout           quic.ApplicationErrorCode = 0x02
	ConnErrorProtocolViolation quic.ApplicationErrorCode = 0x03
)

// StreamErrorProtocolConfusion resets a stream that did not open with the
// magic bytes.
const StreamErrorProtocolConfusion quic.StreamErrorCode = 0x01

var (
	ErrInvalidMagicBytes = errors.New("mcpquic: invalid magic bytes")
	ErrUnsupportedALPN   = errors.New("mcpquic: unsupported ALPN")
)

// ConnectionError ties a close code to the peer it happened with.
type ConnectionError struct {
	RemoteAddr string
	Code       quic.ApplicationErrorCode
	Err        error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("mcpquic: %s: code 0x%02x: %v", e.RemoteAddr, uint64(e.Code), e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// SendMagicBytes writes the stream preamble.
func SendMagicBytes(w io.Writer) error {
	_, err := io.WriteString(w, MagicBytesMCP)
	return err
}

// ValidateMagicBytes reads and checks the stream preamble.
func ValidateMagicBytes(r io.Reader) error {
	buf := make([]byte, len(MagicBytesMCP))
	if _, err := io.ReadFull(r, buf); err != nil {
		return fmt.Errorf("mcpquic: read magic bytes: %w", err)
	}
	if string(buf) != MagicBytesMCP {
		return fmt.Errorf("%w: got %q", ErrInvalidMagicBytes, buf)
	}
	return nil
}

// ProductionQUICConfig returns the transport tuning for listeners and
// dialers. 0-RTT stays off; early data is replayable.
func ProductionQUICConfig() *quic.Config {
	return &quic.Config{
		MaxIdleTimeout:  DefaultIdleTimeout,
		KeepAlivePeriod: DefaultKeepAlive,
		Allow0RTT:       false,
	}
}

// ServerTLSConfig loads a certificate pair for the MCP listener.
func ServerTLSConfig(certFile, keyFile string) (*tls.Config, error) {
	cert, err := tls.LoadX509KeyPair(certFile, keyFile)
	if err != nil {
		return nil, fmt.Errorf("mcpquic: load keypair: %w", err)
	}
	return &tls.Config{
		Certificates: []tls.Certificate{cert},
		NextProtos:   []string{ALPNProtocolMCP},
		MinVersion:   tls.VersionTLS13,
	}, nil
}

// SelfSignedTLSConfig generates an ephemeral loopback certificate for dev
// and test runs.
func SelfSignedTLSConfig() (*tls.Config, error) {
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("mcpquic: generate key: %w", err)
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("mcpquic: serial: %w", err)
	}
	now := time.Now()
	tmpl := &x509.Certificate{
		SerialNumber: serial,
		Subject:      pkix.Name{CommonName: "mcpquic"},
		NotBefore:    now.Add(-time.Hour),
		NotAfter:     now.Add(365 * 24 * time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		DNSNames:     []string{"localhost"},
		IPAddresses:  []net.IP{net.IPv4(127, 0, 0, 1), net.IPv6loopback},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		return nil, fmt.Errorf("mcpquic: create certificate: %w", err)
	}
	return &tls.Config{
		Certificates: []tls.Certificate{{Certificate: [][]byte{der}, PrivateKey: key}},
		NextProtos:   []string{ALPNProtocolMCP},
		MinVersion:   tls.VersionTLS13,
	}, nil
}

// ClientTLSConfig builds the dialing config. insecure skips server
// certificate verification for self-signed dev servers.
func ClientTLSConfig(insecure bool) *tls.Config {
	return &tls.Config{
		NextProtos:         []string{ALPNProtocolMCP},
		MinVersion:         tls.VersionTLS13,
		InsecureSkipVerify: insecure,
	}
}

// H3TLSConfig clones base with the ALPN swapped to HTTP/3. The base config
// is left untouched.
func H3TLSConfig(base *tls.Config) *tls.Config {
	c := base.Clone()
	c.NextProtos = []string{"h3"}
	return c
}
