package queue

import (
	"log/slog"
	"time"
)

// WorkerOption is a functional option for configuring a worker
type WorkerOption func(*workerOptions)

type workerOptions struct {
	pollInterval       time.Duration
	maxConcurrentTicks int
	maxJobsPerTick     int
	logger             *slog.Logger
}

// WithPollInterval sets how often the worker ticks the executor
func WithPollInterval(d time.Duration) WorkerOption {
	return func(o *workerOptions) {
		if d > 0 {
			o.pollInterval = d
		}
	}
}

// WithMaxConcurrentTicks sets how many ticks may run at the same time
func WithMaxConcurrentTicks(n int) WorkerOption {
	return func(o *workerOptions) {
		if n > 0 {
			o.maxConcurrentTicks = n
		}
	}
}

// WithMaxJobsPerTick lets one poll keep ticking while jobs are found, up to n jobs
func WithMaxJobsPerTick(n int) WorkerOption {
	return func(o *workerOptions) {
		if n > 0 {
			o.maxJobsPerTick = n
		}
	}
}

// WithWorkerLogger sets the logger for the worker
func WithWorkerLogger(logger *slog.Logger) WorkerOption {
	return func(o *workerOptions) {
		if logger != nil {
			o.logger = logger
		}
	}
}
