package llm

import "errors"

// Sentinel failures shared by every provider client. The session loop
// branches on these: rate limits are retried with backoff, the rest end the
// round with a structured error for the host UI.
var (
	// ErrUnauthorized means the provider rejected the API key.
	ErrUnauthorized = errors.New("llm unauthorized")
	// ErrRateLimited means the provider asked us to slow down.
	ErrRateLimited = errors.New("llm rate limited")
	// ErrUnavailable covers provider 5xx responses and transport failures.
	ErrUnavailable = errors.New("llm unavailable")
	// ErrEgressBlocked means the request never left the process: the egress
	// policy refused the target.
	ErrEgressBlocked = errors.New("egress blocked")
)
