package pgstore

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dmitrymomot/jobq/pkg/pg"
)

// Migrations holds the schema applied by pg.Migrate
//
//go:embed migrations/*.sql
var Migrations embed.FS

// MigrationsDir is the directory inside Migrations that holds the goose files
const MigrationsDir = "migrations"

// ErrPoolNil is returned when New receives a nil pool
var ErrPoolNil = errors.New("pgstore: pool cannot be nil")

// querier is satisfied by both *pgxpool.Pool and pgx.Tx
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store keeps jobs, dead letters, rate limit windows and idempotency claims in PostgreSQL.
// It implements queue.Repository, queue.DeadLetterStore, queue.DeadLetterMover,
// ratelimiter.Store and idempotency.Store.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a store on an open pool. The schema must already be migrated.
func New(pool *pgxpool.Pool) (*Store, error) {
	if pool == nil {
		return nil, ErrPoolNil
	}
	return &Store{pool: pool}, nil
}

// txAttempts bounds how often a transaction aborted by a serialization failure
// or deadlock is run again
const txAttempts = 3

// inTx runs fn in a transaction, committing when it returns nil. A transaction
// aborted by a serialization failure or deadlock is retried from the start.
func (s *Store) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	return pg.RetrySerializable(ctx, txAttempts, func() error {
		return s.runTx(ctx, fn)
	})
}

func (s *Store) runTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(tx); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// PruneResult reports how many expired rows Prune removed per table
type PruneResult struct {
	RateLimits int64
	Claims     int64
}

// Prune removes rate limit windows and idempotency claims that expired before now.
// Finished jobs are purged separately through queue.Purge.
func (s *Store) Prune(ctx context.Context, now time.Time) (PruneResult, error) {
	var res PruneResult

	tag, err := s.pool.Exec(ctx, `DELETE FROM jobq_rate_limits WHERE expires_at <= $1`, now)
	if err != nil {
		return res, fmt.Errorf("prune rate limits: %w", err)
	}
	res.RateLimits = tag.RowsAffected()

	tag, err = s.pool.Exec(ctx, `DELETE FROM jobq_idempotency_claims WHERE expires_at <= $1`, now)
	if err != nil {
		return res, fmt.Errorf("prune idempotency claims: %w", err)
	}
	res.Claims = tag.RowsAffected()

	return res, nil
}

// limitArg maps a non-positive limit to NULL, which Postgres reads as LIMIT ALL
func limitArg(limit int) *int {
	if limit <= 0 {
		return nil
	}
	return &limit
}
