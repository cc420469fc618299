package pgstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/dmitrymomot/jobq/pkg/pg"
	"github.com/dmitrymomot/jobq/pkg/queue"
)

const entryColumns = `id, job, failure_reason, failed_at, status, replay_count, updated_at`

func scanEntry(row pgx.Row) (*queue.DeadLetterEntry, error) {
	var (
		entry    queue.DeadLetterEntry
		snapshot []byte
		status   string
	)
	if err := row.Scan(&entry.ID, &snapshot, &entry.FailureReason, &entry.FailedAt, &status, &entry.ReplayCount, &entry.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(snapshot, &entry.Job); err != nil {
		return nil, fmt.Errorf("decode job snapshot: %w", err)
	}
	entry.Status = queue.EntryStatus(status)
	return &entry, nil
}

func insertEntry(ctx context.Context, q querier, entry *queue.DeadLetterEntry) error {
	snapshot, err := json.Marshal(entry.Job)
	if err != nil {
		return fmt.Errorf("encode job snapshot: %w", err)
	}

	_, err = q.Exec(ctx, `INSERT INTO jobq_dead_letters
		(id, job_id, hook_name, job, failure_reason, failed_at, status, replay_count, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		entry.ID, entry.Job.ID, entry.Job.HookName, snapshot, entry.FailureReason,
		entry.FailedAt, string(entry.Status), entry.ReplayCount, entry.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert dead letter entry: %w", err)
	}
	return nil
}

// InsertEntry implements queue.DeadLetterStore
func (s *Store) InsertEntry(ctx context.Context, entry *queue.DeadLetterEntry) error {
	if entry == nil {
		return errors.New("dead letter entry cannot be nil")
	}
	return insertEntry(ctx, s.pool, entry)
}

// MoveToDeadLetter implements queue.DeadLetterMover
func (s *Store) MoveToDeadLetter(ctx context.Context, ref queue.ClaimRef, params queue.DeadParams, entry *queue.DeadLetterEntry) error {
	if entry == nil {
		return errors.New("dead letter entry cannot be nil")
	}

	return s.inTx(ctx, func(tx pgx.Tx) error {
		job, err := markDead(ctx, tx, ref, params)
		if err != nil {
			return err
		}

		entry.Job = *job
		return insertEntry(ctx, tx, entry)
	})
}

// GetEntry implements queue.DeadLetterStore
func (s *Store) GetEntry(ctx context.Context, id uuid.UUID) (*queue.DeadLetterEntry, error) {
	entry, err := scanEntry(s.pool.QueryRow(ctx, `SELECT `+entryColumns+` FROM jobq_dead_letters WHERE id = $1`, id))
	if err != nil {
		if pg.IsNotFoundError(err) {
			return nil, queue.ErrEntryNotFound
		}
		return nil, fmt.Errorf("get dead letter entry: %w", err)
	}
	return entry, nil
}

// ListEntries implements queue.DeadLetterStore
func (s *Store) ListEntries(ctx context.Context, filter queue.DeadLetterFilter) ([]*queue.DeadLetterEntry, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+entryColumns+` FROM jobq_dead_letters
		WHERE (status = $1 OR ($1 = '' AND status IN ('pending', 'replayed')))
			AND ($2 = '' OR hook_name = $2)
		ORDER BY failed_at DESC, id
		LIMIT $3 OFFSET $4`,
		string(filter.Status), filter.HookName, limitArg(filter.Limit), max(filter.Offset, 0),
	)
	if err != nil {
		return nil, fmt.Errorf("list dead letter entries: %w", err)
	}
	defer rows.Close()

	var entries []*queue.DeadLetterEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan dead letter entry: %w", err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list dead letter entries: %w", err)
	}
	return entries, nil
}

// MarkReplayed implements queue.DeadLetterStore
func (s *Store) MarkReplayed(ctx context.Context, id uuid.UUID, replayCount int, now time.Time) error {
	tag, err := s.pool.Exec(ctx, `UPDATE jobq_dead_letters
		SET status = 'replayed', replay_count = replay_count + 1, updated_at = $3
		WHERE id = $1 AND replay_count = $2 AND status <> 'dismissed'`, id, replayCount, now)
	if err != nil {
		return fmt.Errorf("mark entry replayed: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	var status string
	err = s.pool.QueryRow(ctx, `SELECT status FROM jobq_dead_letters WHERE id = $1`, id).Scan(&status)
	switch {
	case pg.IsNotFoundError(err):
		return queue.ErrEntryNotFound
	case err != nil:
		return fmt.Errorf("check dead letter entry: %w", err)
	case status == string(queue.EntryStatusDismissed):
		return queue.ErrEntryDismissed
	default:
		return queue.ErrReplayConflict
	}
}

// MarkDismissed implements queue.DeadLetterStore
func (s *Store) MarkDismissed(ctx context.Context, id uuid.UUID, now time.Time) error {
	tag, err := s.pool.Exec(ctx, `UPDATE jobq_dead_letters
		SET status = 'dismissed', updated_at = $2 WHERE id = $1`, id, now)
	if err != nil {
		return fmt.Errorf("mark entry dismissed: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return queue.ErrEntryNotFound
	}
	return nil
}
