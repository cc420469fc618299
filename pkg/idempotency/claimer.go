package idempotency

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/jobq/pkg/logger"
)

// Default claim lifetimes
const (
	DefaultProcessingTTL = 15 * time.Minute
	DefaultRetention     = 72 * time.Hour
)

// Option configures a Claimer
type Option func(*Claimer)

// WithProcessingTTL sets how long a claim protects an event that is still being
// processed. After it passes, a crashed claimant's event can be claimed again.
func WithProcessingTTL(d time.Duration) Option {
	return func(c *Claimer) {
		if d > 0 {
			c.processingTTL = d
		}
	}
}

// WithRetention sets how long completed events are remembered
func WithRetention(d time.Duration) Option {
	return func(c *Claimer) {
		if d > 0 {
			c.retention = d
		}
	}
}

// WithClock overrides the time source
func WithClock(now func() time.Time) Option {
	return func(c *Claimer) {
		if now != nil {
			c.now = now
		}
	}
}

// WithLogger sets the logger
func WithLogger(l *slog.Logger) Option {
	return func(c *Claimer) {
		if l != nil {
			c.logger = l
		}
	}
}

// Claimer guards external events against duplicate processing.
// The caller that wins Claim owns the event through the returned token; every
// other caller must treat the event as already handled. Only the token's holder
// can complete or release the claim, so an owner whose claim expired and was
// taken over cannot disturb the new owner.
type Claimer struct {
	store         Store
	processingTTL time.Duration
	retention     time.Duration
	now           func() time.Time
	logger        *slog.Logger
}

// New creates a claimer on top of the store
func New(store Store, opts ...Option) (*Claimer, error) {
	if store == nil {
		return nil, ErrStoreNil
	}

	c := &Claimer{
		store:         store,
		processingTTL: DefaultProcessingTTL,
		retention:     DefaultRetention,
		now:           time.Now,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}

	return c, nil
}

// Claim atomically takes ownership of the event and returns the owner token.
// False means another caller owns or already finished it; that is not an error.
func (c *Claimer) Claim(ctx context.Context, eventID string) (token string, claimed bool, err error) {
	if eventID == "" {
		return "", false, ErrEmptyEventID
	}

	token = uuid.NewString()
	claimed, err = c.store.TryClaim(ctx, eventID, token, c.now(), c.processingTTL)
	if err != nil {
		return "", false, fmt.Errorf("failed to claim event %q: %w", eventID, err)
	}

	if !claimed {
		c.logger.DebugContext(ctx, "duplicate event ignored", logger.EventID(eventID))
		return "", false, nil
	}
	return token, true, nil
}

// Complete records that the event was handled, keeping it for the retention period.
// Returns ErrClaimNotOwned when the token no longer holds the claim.
func (c *Claimer) Complete(ctx context.Context, eventID, token string) error {
	if err := validateOwner(eventID, token); err != nil {
		return err
	}
	if err := c.store.MarkCompleted(ctx, eventID, token, c.now(), c.retention); err != nil {
		return fmt.Errorf("failed to complete event %q: %w", eventID, err)
	}
	return nil
}

// Release drops the claim so the sender's redelivery can be processed.
// Returns ErrClaimNotOwned when the token no longer holds the claim.
func (c *Claimer) Release(ctx context.Context, eventID, token string) error {
	if err := validateOwner(eventID, token); err != nil {
		return err
	}
	if err := c.store.Delete(ctx, eventID, token); err != nil {
		return fmt.Errorf("failed to release event %q: %w", eventID, err)
	}
	return nil
}

func validateOwner(eventID, token string) error {
	if eventID == "" {
		return ErrEmptyEventID
	}
	if token == "" {
		return ErrEmptyToken
	}
	return nil
}

// Get returns the current claim of an event
func (c *Claimer) Get(ctx context.Context, eventID string) (*Claim, error) {
	return c.store.Get(ctx, eventID, c.now())
}
