package config

import (
	"errors"
	"fmt"
	"os"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Option configures a Load call
type Option func(*loaderOptions)

type loaderOptions struct {
	envFiles []string
	prefix   string
}

// WithEnvFiles loads the given .env files before parsing. Unlike the default
// ./.env, a listed file that cannot be read is an error. Variables already
// set in the process environment are never overwritten.
func WithEnvFiles(paths ...string) Option {
	return func(o *loaderOptions) {
		o.envFiles = append(o.envFiles, paths...)
	}
}

// WithPrefix prepends prefix to every env tag, e.g. "JOBQ_" turns
// QUEUE_MAX_ATTEMPTS into JOBQ_QUEUE_MAX_ATTEMPTS.
func WithPrefix(prefix string) Option {
	return func(o *loaderOptions) {
		o.prefix = prefix
	}
}

// Load parses environment variables into v using its env struct tags.
//
// Without WithEnvFiles, a .env file in the working directory is loaded if it
// exists.
//
//	var cfg struct {
//		DatabaseURL string        `env:"DATABASE_URL,required"`
//		Poll        time.Duration `env:"QUEUE_POLL_INTERVAL" envDefault:"5s"`
//	}
//	if err := config.Load(&cfg); err != nil {
//		return err
//	}
func Load[T any](v *T, opts ...Option) error {
	if v == nil {
		return ErrNilPointer
	}

	o := &loaderOptions{}
	for _, opt := range opts {
		opt(o)
	}

	if len(o.envFiles) > 0 {
		if err := godotenv.Load(o.envFiles...); err != nil {
			return errors.Join(ErrEnvFile, err)
		}
	} else if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(); err != nil {
			return errors.Join(ErrEnvFile, err)
		}
	}

	if err := env.ParseWithOptions(v, env.Options{Prefix: o.prefix}); err != nil {
		return errors.Join(ErrParsingConfig, err)
	}

	return nil
}

// MustLoad works like Load but panics if configuration loading fails.
// Meant for process startup.
func MustLoad[T any](v *T, opts ...Option) {
	if err := Load(v, opts...); err != nil {
		panic(fmt.Sprintf("failed to load required configuration: %v", err))
	}
}
