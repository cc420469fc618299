package ratelimiter

import (
	"context"
	"fmt"
	"time"
)

// RateLimiter defines the interface for rate limiting implementations.
type RateLimiter interface {
	Allow(ctx context.Context, key string) (*Result, error)
}

// Option configures a limiter.
type Option func(*limiterOptions)

type limiterOptions struct {
	now func() time.Time
}

// WithClock overrides the time source used to pick the current window.
func WithClock(now func() time.Time) Option {
	return func(o *limiterOptions) {
		if now != nil {
			o.now = now
		}
	}
}

// Window implements a fixed window counter: at most Limit hits per key in each
// Window-aligned interval.
type Window struct {
	store  Store
	config Config
	now    func() time.Time
}

// NewWindow creates a new fixed window rate limiter.
func NewWindow(store Store, config Config, opts ...Option) (*Window, error) {
	if store == nil {
		return nil, ErrStoreNil
	}
	if err := config.validate(); err != nil {
		return nil, err
	}

	o := limiterOptions{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	return &Window{
		store:  store,
		config: config,
		now:    o.now,
	}, nil
}

// Allow counts one hit for key if the current window has room.
func (w *Window) Allow(ctx context.Context, key string) (*Result, error) {
	return allow(ctx, w.store, key, w.config, w.now())
}

func (w *Window) Reset(ctx context.Context, key string) error {
	return w.store.Reset(ctx, key)
}

func allow(ctx context.Context, store Store, key string, config Config, now time.Time) (*Result, error) {
	start := now.Truncate(config.Window)
	result := &Result{
		Limit:   config.Limit,
		ResetAt: start.Add(config.Window),
	}

	// A non-positive limit closes the class without touching the store
	if config.Limit <= 0 {
		result.Remaining = -1
		return result, nil
	}

	count, allowed, err := store.IncrementIfBelow(ctx, key, start, config.Window, config.Limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrStoreUnavailable, err)
	}

	if allowed {
		result.Remaining = config.Limit - count
	} else {
		result.Remaining = -1
	}
	return result, nil
}

func (c Config) validate() error {
	if c.Window <= 0 {
		return fmt.Errorf("%w: window must be positive, got %v", ErrInvalidConfig, c.Window)
	}
	return nil
}
