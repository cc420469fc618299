package queue

import (
	"errors"
	"fmt"
)

// Outcome is the result class of one handler invocation
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeRetry   Outcome = "retry"
	OutcomeFatal   Outcome = "fatal"
)

// RetryError asks the executor to retry the job after backoff.
// Any plain error returned by a handler is treated the same way.
type RetryError struct {
	Reason string
	Err    error
}

func (e *RetryError) Error() string {
	switch {
	case e.Err != nil && e.Reason != "":
		return e.Reason + ": " + e.Err.Error()
	case e.Err != nil:
		return e.Err.Error()
	default:
		return e.Reason
	}
}

func (e *RetryError) Unwrap() error { return e.Err }

// FatalError marks a failure that retrying cannot fix.
// The job goes straight to the dead letter queue.
type FatalError struct {
	Reason string
	Err    error
}

func (e *FatalError) Error() string {
	switch {
	case e.Err != nil && e.Reason != "":
		return e.Reason + ": " + e.Err.Error()
	case e.Err != nil:
		return e.Err.Error()
	default:
		return e.Reason
	}
}

func (e *FatalError) Unwrap() error { return e.Err }

// Retry returns a transient failure with the given reason
func Retry(reason string) error {
	return &RetryError{Reason: reason}
}

// Retryf formats a transient failure reason
func Retryf(format string, args ...any) error {
	return &RetryError{Reason: fmt.Sprintf(format, args...)}
}

// Fatal returns a permanent failure with the given reason
func Fatal(reason string) error {
	return &FatalError{Reason: reason}
}

// FatalErr wraps err as a permanent failure. Returns nil for a nil error.
func FatalErr(err error) error {
	if err == nil {
		return nil
	}
	return &FatalError{Err: err}
}

// Classify maps a handler result onto an outcome
func Classify(err error) Outcome {
	if err == nil {
		return OutcomeSuccess
	}

	var fatal *FatalError
	if errors.As(err, &fatal) {
		return OutcomeFatal
	}

	// Validation failures can never succeed on a later attempt
	if errors.Is(err, ErrInvalidPayload) || errors.Is(err, ErrHandlerNotFound) {
		return OutcomeFatal
	}

	return OutcomeRetry
}
