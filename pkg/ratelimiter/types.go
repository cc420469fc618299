package ratelimiter

import "time"

// Result contains the result of a rate limit check.
type Result struct {
	Limit     int       // Maximum hits per window
	Remaining int       // Hits left in the current window, negative when denied
	ResetAt   time.Time // Start of the next window
}

// Allowed returns whether the hit was counted.
func (r *Result) Allowed() bool {
	return r.Remaining >= 0
}

// RetryAfter returns how long to wait before the next window opens.
// Returns 0 if the request was allowed.
func (r *Result) RetryAfter() time.Duration {
	if r.Allowed() {
		return 0
	}
	return max(time.Until(r.ResetAt), 0)
}

// Config defines a fixed window limit.
type Config struct {
	Limit  int           // Maximum hits per window; zero or less denies everything
	Window time.Duration // Window length
}
