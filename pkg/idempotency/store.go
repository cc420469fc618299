package idempotency

import (
	"context"
	"time"
)

// Status is the state of a claim
type Status string

const (
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
)

// Claim records who owns an external event
type Claim struct {
	EventID   string    `json:"event_id"`
	Status    Status    `json:"status"`
	Token     string    `json:"token"`
	ClaimedAt time.Time `json:"claimed_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Store persists claims. Every method must be atomic against concurrent callers.
// A claim belongs to the token it was taken with; MarkCompleted and Delete must
// leave a claim held by any other token untouched and return ErrClaimNotOwned.
type Store interface {
	// TryClaim inserts a processing claim owned by token and expiring at now+ttl
	// unless an unexpired claim for the event exists. Returns whether the caller
	// now owns the event.
	TryClaim(ctx context.Context, eventID, token string, now time.Time, ttl time.Duration) (bool, error)

	// MarkCompleted turns the token's claim into a completed one kept until now+retention
	MarkCompleted(ctx context.Context, eventID, token string, now time.Time, retention time.Duration) error

	// Delete removes the token's claim so the event can be claimed again
	Delete(ctx context.Context, eventID, token string) error

	// Get returns an unexpired claim or ErrClaimNotFound
	Get(ctx context.Context, eventID string, now time.Time) (*Claim, error)
}
