package queue

import "time"

// Config holds the environment configuration of the job queue
type Config struct {
	PollInterval       time.Duration `env:"QUEUE_POLL_INTERVAL" envDefault:"5s"`
	LeaseDuration      time.Duration `env:"QUEUE_LEASE_DURATION" envDefault:"5m"`
	MaxAttempts        int           `env:"QUEUE_MAX_ATTEMPTS" envDefault:"5"`
	BackoffBase        time.Duration `env:"QUEUE_BACKOFF_BASE" envDefault:"30s"`
	BackoffMax         time.Duration `env:"QUEUE_BACKOFF_MAX" envDefault:"1h"`
	BackoffJitter      float64       `env:"QUEUE_BACKOFF_JITTER" envDefault:"0.1"`
	AgingInterval      time.Duration `env:"QUEUE_AGING_INTERVAL" envDefault:"5m"`
	MaxConcurrentTicks int           `env:"QUEUE_MAX_CONCURRENT_TICKS" envDefault:"1"`
	MaxJobsPerTick     int           `env:"QUEUE_MAX_JOBS_PER_TICK" envDefault:"10"`
	ShutdownTimeout    time.Duration `env:"QUEUE_SHUTDOWN_TIMEOUT" envDefault:"30s"`
	Retention          time.Duration `env:"QUEUE_RETENTION" envDefault:"168h"`
}

// Options translates the configuration into queue options
func (c Config) Options() []Option {
	return []Option{
		WithMaxAttempts(c.MaxAttempts),
		WithLeaseDuration(c.LeaseDuration),
		WithAgingInterval(c.AgingInterval),
		WithBackoff(ExponentialBackoff{
			InitialInterval: c.BackoffBase,
			MaxInterval:     c.BackoffMax,
			JitterFactor:    c.BackoffJitter,
		}),
	}
}

// WorkerOptions translates the configuration into worker options
func (c Config) WorkerOptions() []WorkerOption {
	return []WorkerOption{
		WithPollInterval(c.PollInterval),
		WithMaxConcurrentTicks(c.MaxConcurrentTicks),
		WithMaxJobsPerTick(c.MaxJobsPerTick),
	}
}
