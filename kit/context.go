package kit

import "context"

type contextKey string

const (
	transportKey  contextKey = "kit_transport" // "http", "mcp", "mcp_quic"
	requestIDKey  contextKey = "kit_request_id"
	traceIDKey    contextKey = "kit_trace_id"
	remoteAddrKey contextKey = "kit_remote_addr"
)

func stringValue(ctx context.Context, key contextKey) string {
	v, _ := ctx.Value(key).(string)
	return v
}

// WithTransport labels ctx with the surface the request arrived on.
func WithTransport(ctx context.Context, t string) context.Context {
	return context.WithValue(ctx, transportKey, t)
}

// GetTransport reports the request's transport, defaulting to "http".
func GetTransport(ctx context.Context) string {
	if v := stringValue(ctx, transportKey); v != "" {
		return v
	}
	return "http"
}

func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

func GetRequestID(ctx context.Context) string { return stringValue(ctx, requestIDKey) }

func WithTraceID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, traceIDKey, id)
}

func GetTraceID(ctx context.Context) string { return stringValue(ctx, traceIDKey) }

func WithRemoteAddr(ctx context.Context, addr string) context.Context {
	return context.WithValue(ctx, remoteAddrKey, addr)
}

func GetRemoteAddr(ctx context.Context) string { return stringValue(ctx, remoteAddrKey) }
