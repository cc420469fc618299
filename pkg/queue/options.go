package queue

import (
	"log/slog"
	"time"
)

// Defaults applied by New
const (
	DefaultMaxAttempts   = 5
	DefaultLeaseDuration = 5 * time.Minute
	DefaultAgingInterval = 5 * time.Minute
)

// Option is a functional option for configuring a queue
type Option func(*options)

type options struct {
	dlq           DeadLetterStore
	backoff       BackoffStrategy
	maxAttempts   int
	leaseDuration time.Duration
	agingInterval time.Duration
	now           func() time.Time
	logger        *slog.Logger
}

// WithDeadLetterStore sets where escalated jobs are recorded.
// Without it the repository itself must implement DeadLetterStore.
func WithDeadLetterStore(store DeadLetterStore) Option {
	return func(o *options) {
		if store != nil {
			o.dlq = store
		}
	}
}

// WithBackoff sets the retry delay strategy
func WithBackoff(b BackoffStrategy) Option {
	return func(o *options) {
		if b != nil {
			o.backoff = b
		}
	}
}

// WithMaxAttempts sets the default attempt budget for new jobs
func WithMaxAttempts(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxAttempts = n
		}
	}
}

// WithLeaseDuration sets how long a claim is valid before the job is reaped
func WithLeaseDuration(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.leaseDuration = d
		}
	}
}

// WithAgingInterval sets how fast waiting jobs gain precedence.
// Zero switches to strict priority ordering.
func WithAgingInterval(d time.Duration) Option {
	return func(o *options) {
		if d >= 0 {
			o.agingInterval = d
		}
	}
}

// WithClock overrides the time source, mostly for tests
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithLogger sets the logger for the queue
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// ScheduleOption tunes a single scheduled job
type ScheduleOption func(*scheduleOptions)

type scheduleOptions struct {
	dedupeKey   string
	maxAttempts int
}

// WithDedupeKey makes the job unique under the given key instead of the derived one
func WithDedupeKey(key string) ScheduleOption {
	return func(o *scheduleOptions) {
		o.dedupeKey = key
	}
}

// WithJobMaxAttempts overrides the queue's attempt budget for one job
func WithJobMaxAttempts(n int) ScheduleOption {
	return func(o *scheduleOptions) {
		if n > 0 {
			o.maxAttempts = n
		}
	}
}
