package ratelimiter

import (
	"context"
	"fmt"
	"maps"
	"strconv"
	"time"
)

// DefaultWindow is the window of the per-priority limits.
const DefaultWindow = time.Minute

// Limits maps a priority class (1 = most urgent) to its hits per window.
type Limits map[int]int

// DefaultLimits returns the per-minute limits of the five priority classes.
func DefaultLimits() Limits {
	return Limits{
		1: 1000,
		2: 100,
		3: 50,
		4: 20,
		5: 10,
	}
}

// PriorityLimiter caps how many jobs of each priority class may start per window.
// Safe for concurrent use across processes when the store is shared.
type PriorityLimiter struct {
	store  Store
	limits Limits
	window time.Duration
	now    func() time.Time
}

// NewPriorityLimiter creates a per-class limiter. Classes missing from limits
// fall back to DefaultLimits; a zero window uses DefaultWindow.
func NewPriorityLimiter(store Store, limits Limits, window time.Duration, opts ...Option) (*PriorityLimiter, error) {
	if store == nil {
		return nil, ErrStoreNil
	}
	if window < 0 {
		return nil, fmt.Errorf("%w: window must be positive, got %v", ErrInvalidConfig, window)
	}
	if window == 0 {
		window = DefaultWindow
	}

	merged := DefaultLimits()
	maps.Copy(merged, limits)

	o := limiterOptions{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	return &PriorityLimiter{
		store:  store,
		limits: merged,
		window: window,
		now:    o.now,
	}, nil
}

// CheckAndIncrement counts one start for the class if its window has room.
// Denial is reported as false, not as an error.
func (l *PriorityLimiter) CheckAndIncrement(ctx context.Context, class int) (bool, error) {
	result, err := l.Allow(ctx, class)
	if err != nil {
		return false, err
	}
	return result.Allowed(), nil
}

// Allow is CheckAndIncrement with the full window state.
func (l *PriorityLimiter) Allow(ctx context.Context, class int) (*Result, error) {
	limit, ok := l.limits[class]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrUnknownClass, class)
	}
	return allow(ctx, l.store, classKey(class), Config{Limit: limit, Window: l.window}, l.now())
}

// Limit returns the configured limit of a class.
func (l *PriorityLimiter) Limit(class int) (int, bool) {
	limit, ok := l.limits[class]
	return limit, ok
}

// Window returns the window length.
func (l *PriorityLimiter) Window() time.Duration {
	return l.window
}

// Reset clears the counter of a class.
func (l *PriorityLimiter) Reset(ctx context.Context, class int) error {
	return l.store.Reset(ctx, classKey(class))
}

func classKey(class int) string {
	return "priority:" + strconv.Itoa(class)
}
