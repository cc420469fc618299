package ingest

import "errors"

var (
	ErrSchedulerNil       = errors.New("ingest: scheduler cannot be nil")
	ErrClaimerNil         = errors.New("ingest: claimer cannot be nil")
	ErrLimiterNil         = errors.New("ingest: rate limiter cannot be nil")
	ErrInvalidPriority    = errors.New("ingest: priority must be between 1 and 5")
	ErrSignatureMissing   = errors.New("ingest: signature headers are missing")
	ErrSignatureMalformed = errors.New("ingest: signature headers are malformed")
	ErrSignatureExpired   = errors.New("ingest: signature timestamp is outside the accepted window")
	ErrSignatureMismatch  = errors.New("ingest: signature mismatch")
)
