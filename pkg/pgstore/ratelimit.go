package pgstore

import (
	"context"
	"fmt"
	"time"

	"github.com/dmitrymomot/jobq/pkg/pg"
)

// IncrementIfBelow implements ratelimiter.Store.
// The conditional upsert is one statement, so concurrent callers serialize on the row lock.
// Only a newer window start replaces the stored window.
func (s *Store) IncrementIfBelow(ctx context.Context, key string, windowStart time.Time, window time.Duration, limit int) (int, bool, error) {
	if limit <= 0 {
		return 0, false, nil
	}

	var count int
	err := s.pool.QueryRow(ctx, `INSERT INTO jobq_rate_limits AS rl (key, window_start, count, expires_at)
		VALUES ($1, $2, 1, $3)
		ON CONFLICT (key) DO UPDATE SET
			count = CASE WHEN EXCLUDED.window_start > rl.window_start THEN 1 ELSE rl.count + 1 END,
			window_start = GREATEST(rl.window_start, EXCLUDED.window_start),
			expires_at = GREATEST(rl.expires_at, EXCLUDED.expires_at)
		WHERE EXCLUDED.window_start > rl.window_start OR rl.count < $4
		RETURNING count`,
		key, windowStart, windowStart.Add(window), limit,
	).Scan(&count)
	if err == nil {
		return count, true, nil
	}
	if !pg.IsNotFoundError(err) {
		return 0, false, fmt.Errorf("increment rate limit: %w", err)
	}

	// Denied: report the window's current count
	err = s.pool.QueryRow(ctx, `SELECT count FROM jobq_rate_limits WHERE key = $1 AND window_start >= $2`,
		key, windowStart).Scan(&count)
	if err != nil && !pg.IsNotFoundError(err) {
		return 0, false, fmt.Errorf("read rate limit: %w", err)
	}
	return count, false, nil
}

// Reset implements ratelimiter.Store
func (s *Store) Reset(ctx context.Context, key string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM jobq_rate_limits WHERE key = $1`, key); err != nil {
		return fmt.Errorf("reset rate limit: %w", err)
	}
	return nil
}
