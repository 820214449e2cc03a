package providers

import "time"

// DispatchResult is the raw outcome of one call to a provider.
type DispatchResult struct {
	// Body is the upstream response body.
	Body []byte

	// StatusCode is the upstream HTTP status, or 0 on a transport failure.
	StatusCode int

	// Success is true for 2xx responses.
	Success bool

	// Duration is the wall time of the call.
	Duration time.Duration

	// RetryAfter is the upstream backoff hint on 429 and 503 responses.
	RetryAfter time.Duration
}
