// Package config loads process configuration from environment variables into
// tagged structs.
//
// Parsing is delegated to github.com/caarlos0/env/v11; github.com/joho/godotenv
// loads .env files first so local development can keep settings in a file.
// Every jobq component exposes its own Config struct with env tags and
// defaults (queue.Config, pg.Config, redis.Config, ingest.Config, ...); the
// binary composes them into one struct and calls Load once:
//
//	type appConfig struct {
//	    Queue queue.Config
//	    PG    pg.Config
//	}
//
//	var cfg appConfig
//	if err := config.Load(&cfg); err != nil {
//	    return err
//	}
//
// Errors wrap ErrParsingConfig or ErrEnvFile so callers can tell a malformed
// value from a missing file.
package config
