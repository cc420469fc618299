package ratelimiter

import "errors"

// Package-level error definitions for rate limiter operations.
var (
	// ErrInvalidConfig indicates that the provided configuration is invalid.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrStoreNil indicates that no store was provided.
	ErrStoreNil = errors.New("store cannot be nil")

	// ErrUnknownClass indicates a priority class without a configured limit.
	ErrUnknownClass = errors.New("unknown priority class")

	// ErrStoreUnavailable indicates that the store backend is unavailable.
	ErrStoreUnavailable = errors.New("store unavailable")
)
