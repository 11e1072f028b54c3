package shield

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/yangqingmang/find-demand-sub000/idgen"
	"github.com/yangqingmang/find-demand-sub000/kit"
)

var newTraceID = idgen.NanoID(8)

// traceHeader carries the trace ID both ways: an inbound value is reused so
// a caller can stitch its logs to ours.
const traceHeader = "X-Trace-ID"

// maxTraceIDLen bounds reused inbound IDs.
const maxTraceIDLen = 64

// TraceID tags each request with a trace ID and injects the ID, the remote
// address and a pre-labeled logger into the request context.
func TraceID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		traceID := inboundTraceID(r)
		w.Header().Set(traceHeader, traceID)

		logger := slog.Default().With(
			"trace_id", traceID,
			"method", r.Method,
			"path", r.URL.Path,
			"remote_addr", r.RemoteAddr,
		)
		logger.Info("http request")

		ctx := kit.WithTraceID(r.Context(), traceID)
		ctx = kit.WithRemoteAddr(ctx, r.RemoteAddr)
		ctx = context.WithValue(ctx, loggerKey, logger)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func inboundTraceID(r *http.Request) string {
	if id := r.Header.Get(traceHeader); id != "" && len(id) <= maxTraceIDLen {
		return id
	}
	return newTraceID()
}

// GetLogger returns the request-scoped logger, or slog.Default() outside a
// traced request.
func GetLogger(ctx context.Context) *slog.Logger {
	l, ok := ctx.Value(loggerKey).(*slog.Logger)
	if !ok {
		return slog.Default()
	}
	return l
}
