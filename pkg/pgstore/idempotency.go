package pgstore

import (
	"context"
	"fmt"
	"time"

	"github.com/dmitrymomot/jobq/pkg/idempotency"
	"github.com/dmitrymomot/jobq/pkg/pg"
)

// TryClaim implements idempotency.Store. An expired claim is taken over in place.
func (s *Store) TryClaim(ctx context.Context, eventID, token string, now time.Time, ttl time.Duration) (bool, error) {
	var id string
	err := s.pool.QueryRow(ctx, `INSERT INTO jobq_idempotency_claims AS c (event_id, status, token, claimed_at, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (event_id) DO UPDATE SET
			status = EXCLUDED.status,
			token = EXCLUDED.token,
			claimed_at = EXCLUDED.claimed_at,
			expires_at = EXCLUDED.expires_at
		WHERE c.expires_at <= EXCLUDED.claimed_at
		RETURNING event_id`,
		eventID, string(idempotency.StatusProcessing), token, now, now.Add(ttl),
	).Scan(&id)
	if err == nil {
		return true, nil
	}
	if pg.IsNotFoundError(err) {
		return false, nil
	}
	return false, fmt.Errorf("claim event: %w", err)
}

// MarkCompleted implements idempotency.Store
func (s *Store) MarkCompleted(ctx context.Context, eventID, token string, now time.Time, retention time.Duration) error {
	tag, err := s.pool.Exec(ctx, `UPDATE jobq_idempotency_claims
		SET status = $3, expires_at = $4 WHERE event_id = $1 AND token = $2`,
		eventID, token, string(idempotency.StatusCompleted), now.Add(retention))
	if err != nil {
		return fmt.Errorf("complete claim: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return idempotency.ErrClaimNotOwned
	}
	return nil
}

// Delete implements idempotency.Store
func (s *Store) Delete(ctx context.Context, eventID, token string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM jobq_idempotency_claims WHERE event_id = $1 AND token = $2`, eventID, token)
	if err != nil {
		return fmt.Errorf("delete claim: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return idempotency.ErrClaimNotOwned
	}
	return nil
}

// Get implements idempotency.Store
func (s *Store) Get(ctx context.Context, eventID string, now time.Time) (*idempotency.Claim, error) {
	var (
		claim  idempotency.Claim
		status string
	)
	err := s.pool.QueryRow(ctx, `SELECT event_id, status, token, claimed_at, expires_at
		FROM jobq_idempotency_claims WHERE event_id = $1 AND expires_at > $2`,
		eventID, now,
	).Scan(&claim.EventID, &status, &claim.Token, &claim.ClaimedAt, &claim.ExpiresAt)
	if err != nil {
		if pg.IsNotFoundError(err) {
			return nil, idempotency.ErrClaimNotFound
		}
		return nil, fmt.Errorf("get claim: %w", err)
	}
	claim.Status = idempotency.Status(status)
	return &claim, nil
}
