package dispatch

import "time"

// Status classifies the result of a dispatched request. Callers branch on
// the status instead of unwrapping error chains.
type Status int

const (
	// StatusOK means a 2xx response; Body holds the payload.
	StatusOK Status = iota
	// StatusRateLimited means the upstream throttled us (429). A shared
	// cooldown has already been set for the domain.
	StatusRateLimited
	// StatusTransient means the request failed in a retryable way (network
	// error or 5xx) and all attempts were spent.
	StatusTransient
	// StatusFatal means the request cannot succeed by retrying (4xx, bad
	// input, no usable proxy, cancelled context).
	StatusFatal
	// StatusSkipped means the call was suppressed before any network
	// attempt because the domain is in cooldown.
	StatusSkipped
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "ok"
	case StatusRateLimited:
		return "rate_limited"
	case StatusTransient:
		return "transient"
	case StatusFatal:
		return "fatal"
	case StatusSkipped:
		return "skipped"
	default:
		return "unknown"
	}
}

// Outcome is the tagged result of Executor.Do.
type Outcome struct {
	Status     Status
	Body       []byte
	HTTPStatus int
	// RetryAfter is how long the caller should hold off, set on
	// StatusRateLimited and StatusSkipped.
	RetryAfter time.Duration
	Err        error
}

// OK reports whether the request produced a usable body.
func (o Outcome) OK() bool { return o.Status == StatusOK }
