package idempotency

import "errors"

var (
	// ErrStoreNil is returned when a nil store is provided
	ErrStoreNil = errors.New("idempotency store cannot be nil")

	// ErrEmptyEventID is returned when claiming an empty event ID
	ErrEmptyEventID = errors.New("event id cannot be empty")

	// ErrClaimNotFound is returned when a claim does not exist or has expired
	ErrClaimNotFound = errors.New("idempotency claim not found")

	// ErrClaimNotOwned is returned when completing or releasing a claim that is
	// missing or was taken over by another owner
	ErrClaimNotOwned = errors.New("idempotency claim is not held by this owner")

	// ErrEmptyToken is returned when completing or releasing without an owner token
	ErrEmptyToken = errors.New("claim token cannot be empty")
)
