package ratelimiter

import (
	"context"
	"time"
)

// Store defines the interface for rate limit storage backends.
type Store interface {
	// IncrementIfBelow counts one hit for key in the window starting at windowStart,
	// but only while the window's count is below limit. Check and increment must be
	// a single atomic operation. A window newer than the stored one starts from zero;
	// an older one, from a caller whose clock lags, counts against the stored window.
	// Returns the window's count after the call and whether the hit was counted.
	IncrementIfBelow(ctx context.Context, key string, windowStart time.Time, window time.Duration, limit int) (count int, allowed bool, err error)

	// Reset clears the rate limit state for the given key.
	Reset(ctx context.Context, key string) error
}
