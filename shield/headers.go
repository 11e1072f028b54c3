package shield

import "net/http"

// HeaderConfig is the security header set stamped on every response.
type HeaderConfig struct {
	CSP                 string
	XFrameOptions       string
	XContentTypeOptions string
	ReferrerPolicy      string
}

// DefaultHeaders is tuned for a JSON-only service. Nothing is rendered, so
// the CSP denies every source outright.
func DefaultHeaders() HeaderConfig {
	return HeaderConfig{
		CSP:                 "default-src 'none'; frame-ancestors 'none'",
		XFrameOptions:       "DENY",
		XContentTypeOptions: "nosniff",
		ReferrerPolicy:      "no-referrer",
	}
}

func (cfg HeaderConfig) pairs() [][2]string {
	return [][2]string{
		{"Content-Security-Policy", cfg.CSP},
		{"X-Frame-Options", cfg.XFrameOptions},
		{"X-Content-Type-Options", cfg.XContentTypeOptions},
		{"Referrer-Policy", cfg.ReferrerPolicy},
	}
}

// SecurityHeaders stamps the configured headers on every response. Empty
// fields are skipped.
func SecurityHeaders(cfg HeaderConfig) func(http.Handler) http.Handler {
	pairs := cfg.pairs()
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			for _, p := range pairs {
				if p[1] != "" {
					h.Set(p[0], p[1])
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}
