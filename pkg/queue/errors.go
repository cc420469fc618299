package queue

import "errors"

// Common errors
var (
	// ErrRepositoryNil is returned when a nil repository is provided
	ErrRepositoryNil = errors.New("repository cannot be nil")

	// ErrDeadLetterStoreNil is returned when no dead letter store is configured
	// and the repository cannot act as one
	ErrDeadLetterStoreNil = errors.New("dead letter store cannot be nil")

	// ErrQueueNil is returned when a component is built without a queue
	ErrQueueNil = errors.New("queue cannot be nil")

	// ErrInvalidHookName is returned when the hook name is empty
	ErrInvalidHookName = errors.New("hook name cannot be empty")

	// ErrInvalidPriority is returned when priority is outside valid range
	ErrInvalidPriority = errors.New("priority must be between 1 and 5")

	// ErrInvalidInterval is returned when a recurring job has a non-positive interval
	ErrInvalidInterval = errors.New("recurring interval must be at least one second")

	// ErrInvalidBatchSize is returned when batch dispatch is called with a non-positive size
	ErrInvalidBatchSize = errors.New("batch size must be positive")

	// ErrNoItemsToEnqueue is returned when batch dispatch is called with empty items
	ErrNoItemsToEnqueue = errors.New("no items to enqueue")

	// ErrPayloadMarshal is returned when payload marshaling fails
	ErrPayloadMarshal = errors.New("failed to marshal payload to JSON")

	// ErrInvalidPayload is returned when a stored payload is neither a v2 envelope nor a legacy map
	ErrInvalidPayload = errors.New("invalid job payload")

	// ErrJobNotFound is returned when a job does not exist
	ErrJobNotFound = errors.New("job not found")

	// ErrJobNotPending is returned when cancelling a job that is no longer pending
	ErrJobNotPending = errors.New("job is not pending")

	// ErrJobNotRunning is returned when an outcome is recorded for a claim that no longer holds
	ErrJobNotRunning = errors.New("job is not running at the claimed attempt")

	// ErrLeaseLost is the cancellation cause of a handler whose job lease could not be kept
	ErrLeaseLost = errors.New("job lease lost")

	// ErrNoJobToClaim is returned when no due job is available
	ErrNoJobToClaim = errors.New("no job to claim")

	// ErrHandlerNotFound is returned when no handler is registered for a hook
	ErrHandlerNotFound = errors.New("no handler registered for hook")

	// ErrHandlerNil is returned when registering a nil handler
	ErrHandlerNil = errors.New("handler cannot be nil")

	// ErrHandlerAlreadyRegistered is returned when a hook already has a handler
	ErrHandlerAlreadyRegistered = errors.New("handler already registered for hook")

	// ErrNoHandlers is returned when worker has no handlers registered
	ErrNoHandlers = errors.New("no job handlers registered")

	// ErrEntryNotFound is returned when a dead letter entry does not exist
	ErrEntryNotFound = errors.New("dead letter entry not found")

	// ErrEntryDismissed is returned when replaying a dismissed dead letter entry
	ErrEntryDismissed = errors.New("dead letter entry is dismissed")

	// ErrReplayConflict is returned when another replay of the same dead letter entry won the race
	ErrReplayConflict = errors.New("dead letter entry was replayed concurrently")

	// ErrWorkerAlreadyStarted is returned when Start is called twice
	ErrWorkerAlreadyStarted = errors.New("worker already started")

	// ErrWorkerNotStarted is returned when Stop is called before Start
	ErrWorkerNotStarted = errors.New("worker not started")
)
