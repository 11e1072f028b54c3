// Package shield provides the HTTP middleware stack for the admin API:
// security headers, request body caps, trace IDs with per-request loggers,
// and HEAD handling.
//
// Usage:
//
//	r := chi.NewRouter()
//	for _, mw := range shield.Stack(64 << 10) {
//		r.Use(mw)
//	}
package shield

import "net/http"

type contextKey string

// loggerKey carries the per-request structured logger.
const loggerKey contextKey = "shield_logger"

// HeadToGet converts HEAD requests to GET so that handlers registered with
// r.Get() answer 200 instead of 405. net/http strips the body for HEAD
// responses on its own.
func HeadToGet(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodHead {
			r.Method = http.MethodGet
		}
		next.ServeHTTP(w, r)
	})
}

// Stack returns the default middleware chain in application order:
// HeadToGet, SecurityHeaders, MaxBody, TraceID.
func Stack(maxBody int64) []func(http.Handler) http.Handler {
	return []func(http.Handler) http.Handler{
		HeadToGet,
		SecurityHeaders(DefaultHeaders()),
		MaxBody(maxBody),
		TraceID,
	}
}
