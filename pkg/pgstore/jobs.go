package pgstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/dmitrymomot/jobq/pkg/pg"
	"github.com/dmitrymomot/jobq/pkg/queue"
)

const jobColumns = `id, hook_name, priority, payload, status, scheduled_at, attempt, max_attempts,
	last_error, dedupe_key, recurring, interval_seconds, locked_until, claimed_at, completed_at,
	created_at, updated_at`

// yieldKey clears the dedupe key of a row returning to pending when another
// pending row of the same hook took the key meanwhile.
const yieldKey = `dedupe_key = CASE WHEN j.dedupe_key IS NOT NULL AND EXISTS (
		SELECT 1 FROM jobq_jobs o
		WHERE o.hook_name = j.hook_name AND o.dedupe_key = j.dedupe_key
			AND o.status = 'pending' AND o.id <> j.id
	) THEN NULL ELSE j.dedupe_key END`

// keyRetries bounds retries of statements that race a concurrent insert of the same dedupe key
const keyRetries = 3

// claimCandidatesPerClass is how many of the oldest due jobs per priority class
// a claim ranks. Claimers skipping locked rows fall through to later candidates.
const claimCandidatesPerClass = 32

func scanJob(row pgx.Row) (*queue.Job, error) {
	var (
		job      queue.Job
		priority int16
		status   string
	)
	err := row.Scan(
		&job.ID, &job.HookName, &priority, &job.Payload, &status, &job.ScheduledAt,
		&job.Attempt, &job.MaxAttempts, &job.LastError, &job.DedupeKey, &job.Recurring,
		&job.IntervalSeconds, &job.LockedUntil, &job.ClaimedAt, &job.CompletedAt,
		&job.CreatedAt, &job.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	job.Priority = queue.Priority(priority)
	job.Status = queue.JobStatus(status)
	return &job, nil
}

func insertJob(ctx context.Context, q querier, job *queue.Job, suffix string) pgx.Row {
	return q.QueryRow(ctx, `INSERT INTO jobq_jobs (`+jobColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17) `+suffix,
		job.ID, job.HookName, int16(job.Priority), job.Payload, string(job.Status), job.ScheduledAt,
		job.Attempt, job.MaxAttempts, job.LastError, job.DedupeKey, job.Recurring,
		job.IntervalSeconds, job.LockedUntil, job.ClaimedAt, job.CompletedAt,
		job.CreatedAt, job.UpdatedAt,
	)
}

// CreateJob implements queue.Repository
func (s *Store) CreateJob(ctx context.Context, job *queue.Job) error {
	if job == nil {
		return errors.New("job cannot be nil")
	}

	var id uuid.UUID
	if err := insertJob(ctx, s.pool, job, `RETURNING id`).Scan(&id); err != nil {
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// CreateUniqueJob implements queue.Repository
func (s *Store) CreateUniqueJob(ctx context.Context, job *queue.Job) (uuid.UUID, bool, error) {
	if job == nil {
		return uuid.Nil, false, errors.New("job cannot be nil")
	}
	if job.DedupeKey == nil {
		return uuid.Nil, false, errors.New("unique job requires a dedupe key")
	}

	for range keyRetries {
		var id uuid.UUID
		err := insertJob(ctx, s.pool, job, `ON CONFLICT (hook_name, dedupe_key)
			WHERE status = 'pending' AND dedupe_key IS NOT NULL DO NOTHING RETURNING id`).Scan(&id)
		if err == nil {
			return id, true, nil
		}
		if !pg.IsNotFoundError(err) {
			return uuid.Nil, false, fmt.Errorf("insert unique job: %w", err)
		}

		err = s.pool.QueryRow(ctx, `SELECT id FROM jobq_jobs
			WHERE hook_name = $1 AND dedupe_key = $2 AND status = 'pending'`,
			job.HookName, *job.DedupeKey,
		).Scan(&id)
		if err == nil {
			return id, false, nil
		}
		if !pg.IsNotFoundError(err) {
			return uuid.Nil, false, fmt.Errorf("find dedupe key holder: %w", err)
		}
		// The holder was claimed between the two statements; try inserting again
	}

	return uuid.Nil, false, fmt.Errorf("insert unique job: dedupe key %q kept changing hands", *job.DedupeKey)
}

// ClaimJob implements queue.Repository.
// The aged priority mirrors queue.MemoryStorage: one step per aging interval
// waited since ScheduledAt, never below 1.
func (s *Store) ClaimJob(ctx context.Context, params queue.ClaimParams) (*queue.Job, error) {
	priorities := params.Priorities
	if len(priorities) == 0 {
		priorities = queue.Priorities()
	}
	classes := make([]int16, 0, len(priorities))
	for _, p := range priorities {
		classes = append(classes, int16(p))
	}

	// The aged ordering cannot use an index, so it only ranks the oldest due
	// jobs of each class. Those are read through jobq_jobs_claim_idx, and the
	// head of a class always outranks the rest of it once aged.
	row := s.pool.QueryRow(ctx, `UPDATE jobq_jobs
		SET status = 'running', locked_until = $2, claimed_at = $1, updated_at = $1
		WHERE id = (
			SELECT id FROM jobq_jobs
			WHERE id IN (
				SELECT head.id FROM unnest($3::smallint[]) AS class(priority)
				CROSS JOIN LATERAL (
					SELECT id FROM jobq_jobs
					WHERE status = 'pending' AND priority = class.priority AND scheduled_at <= $1
					ORDER BY scheduled_at, created_at
					LIMIT $5
				) head
			)
				AND status = 'pending' AND scheduled_at <= $1
			ORDER BY
				GREATEST(1, priority - CASE WHEN $4::bigint > 0
					THEN floor(extract(epoch FROM ($1 - scheduled_at)) * 1000000 / $4::bigint)::bigint
					ELSE 0 END),
				priority, scheduled_at, created_at, id
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING `+jobColumns,
		params.Now, params.LeaseUntil, classes, params.AgingInterval.Microseconds(), claimCandidatesPerClass,
	)

	job, err := scanJob(row)
	if err != nil {
		if pg.IsNotFoundError(err) {
			return nil, queue.ErrNoJobToClaim
		}
		return nil, fmt.Errorf("claim job: %w", err)
	}
	return job, nil
}

// ExtendLease implements queue.Repository
func (s *Store) ExtendLease(ctx context.Context, ref queue.ClaimRef, until time.Time) error {
	tag, err := s.pool.Exec(ctx, `UPDATE jobq_jobs
		SET locked_until = $3
		WHERE id = $1 AND status = 'running' AND attempt = $2`,
		ref.ID, ref.Attempt, until,
	)
	if err != nil {
		return fmt.Errorf("extend lease: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return claimMiss(ctx, s.pool, ref.ID)
	}
	return nil
}

// ReleaseJob implements queue.Repository
func (s *Store) ReleaseJob(ctx context.Context, ref queue.ClaimRef, now time.Time) error {
	return s.execOnClaim(ctx, ref, func(ctx context.Context) (int64, error) {
		tag, err := s.pool.Exec(ctx, `UPDATE jobq_jobs j
			SET status = 'pending', locked_until = NULL, claimed_at = NULL, updated_at = $3, `+yieldKey+`
			WHERE id = $1 AND status = 'running' AND attempt = $2`,
			ref.ID, ref.Attempt, now,
		)
		return tag.RowsAffected(), err
	})
}

// RetryJob implements queue.Repository
func (s *Store) RetryJob(ctx context.Context, ref queue.ClaimRef, params queue.RetryParams) error {
	return s.execOnClaim(ctx, ref, func(ctx context.Context) (int64, error) {
		tag, err := s.pool.Exec(ctx, `UPDATE jobq_jobs j
			SET status = 'pending', attempt = $3, last_error = $4, scheduled_at = $5,
				locked_until = NULL, claimed_at = NULL, updated_at = $6, `+yieldKey+`
			WHERE id = $1 AND status = 'running' AND attempt = $2`,
			ref.ID, ref.Attempt, params.Attempt, params.LastError, params.ScheduledAt, params.Now,
		)
		return tag.RowsAffected(), err
	})
}

// CompleteJob implements queue.Repository
func (s *Store) CompleteJob(ctx context.Context, ref queue.ClaimRef, now time.Time, next *queue.Job) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `UPDATE jobq_jobs
			SET status = 'completed', locked_until = NULL, completed_at = $3, updated_at = $3
			WHERE id = $1 AND status = 'running' AND attempt = $2`,
			ref.ID, ref.Attempt, now,
		)
		if err != nil {
			return fmt.Errorf("complete job: %w", err)
		}
		if tag.RowsAffected() == 0 {
			return claimMiss(ctx, tx, ref.ID)
		}

		if next == nil {
			return nil
		}

		// A pending occurrence scheduled meanwhile under the same key wins
		suffix := `RETURNING id`
		if next.DedupeKey != nil {
			suffix = `ON CONFLICT (hook_name, dedupe_key)
				WHERE status = 'pending' AND dedupe_key IS NOT NULL DO NOTHING RETURNING id`
		}
		var id uuid.UUID
		if err := insertJob(ctx, tx, next, suffix).Scan(&id); err != nil && !pg.IsNotFoundError(err) {
			return fmt.Errorf("insert next occurrence: %w", err)
		}
		return nil
	})
}

// MarkDead implements queue.Repository
func (s *Store) MarkDead(ctx context.Context, ref queue.ClaimRef, params queue.DeadParams) (*queue.Job, error) {
	return markDead(ctx, s.pool, ref, params)
}

func markDead(ctx context.Context, q querier, ref queue.ClaimRef, params queue.DeadParams) (*queue.Job, error) {
	row := q.QueryRow(ctx, `UPDATE jobq_jobs
		SET status = 'dead', attempt = $3, last_error = $4, locked_until = NULL, updated_at = $5
		WHERE id = $1 AND status = 'running' AND attempt = $2
		RETURNING `+jobColumns,
		ref.ID, ref.Attempt, params.Attempt, params.LastError, params.Now,
	)

	job, err := scanJob(row)
	if err != nil {
		if pg.IsNotFoundError(err) {
			return nil, claimMiss(ctx, q, ref.ID)
		}
		return nil, fmt.Errorf("mark job dead: %w", err)
	}
	return job, nil
}

// ListExpired implements queue.Repository
func (s *Store) ListExpired(ctx context.Context, now time.Time, limit int) ([]*queue.Job, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+jobColumns+` FROM jobq_jobs
		WHERE status = 'running' AND locked_until < $1
		ORDER BY locked_until
		LIMIT $2`,
		now, limitArg(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("list expired jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*queue.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan expired job: %w", err)
		}
		jobs = append(jobs, job)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list expired jobs: %w", err)
	}
	return jobs, nil
}

// GetJob implements queue.Repository
func (s *Store) GetJob(ctx context.Context, id uuid.UUID) (*queue.Job, error) {
	job, err := scanJob(s.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobq_jobs WHERE id = $1`, id))
	if err != nil {
		if pg.IsNotFoundError(err) {
			return nil, queue.ErrJobNotFound
		}
		return nil, fmt.Errorf("get job: %w", err)
	}
	return job, nil
}

// DeleteJob implements queue.Repository
func (s *Store) DeleteJob(ctx context.Context, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM jobq_jobs WHERE id = $1 AND status = 'pending'`, id)
	if err != nil {
		return fmt.Errorf("delete job: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	exists, err := jobExists(ctx, s.pool, id)
	if err != nil {
		return err
	}
	if exists {
		return queue.ErrJobNotPending
	}
	return queue.ErrJobNotFound
}

// CountJobs implements queue.Repository
func (s *Store) CountJobs(ctx context.Context) (map[queue.JobStatus]int64, error) {
	rows, err := s.pool.Query(ctx, `SELECT status, count(*) FROM jobq_jobs GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("count jobs: %w", err)
	}
	defer rows.Close()

	counts := map[queue.JobStatus]int64{
		queue.JobStatusPending:   0,
		queue.JobStatusRunning:   0,
		queue.JobStatusCompleted: 0,
		queue.JobStatusDead:      0,
	}
	for rows.Next() {
		var (
			status string
			n      int64
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan job count: %w", err)
		}
		counts[queue.JobStatus(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("count jobs: %w", err)
	}
	return counts, nil
}

// PurgeJobs implements queue.Repository
func (s *Store) PurgeJobs(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM jobq_jobs
		WHERE status IN ('completed', 'dead') AND updated_at < $1`, before)
	if err != nil {
		return 0, fmt.Errorf("purge jobs: %w", err)
	}
	return tag.RowsAffected(), nil
}

// execOnClaim runs a fenced update, retrying when it loses a race for a dedupe key
// and translating a zero-row result into the matching queue error.
func (s *Store) execOnClaim(ctx context.Context, ref queue.ClaimRef, update func(context.Context) (int64, error)) error {
	var (
		n   int64
		err error
	)
	for range keyRetries {
		n, err = update(ctx)
		if !pg.IsDuplicateKeyError(err) {
			break
		}
	}
	if err != nil {
		return fmt.Errorf("update claimed job: %w", err)
	}
	if n == 0 {
		return claimMiss(ctx, s.pool, ref.ID)
	}
	return nil
}

// claimMiss explains why a fenced update touched no row
func claimMiss(ctx context.Context, q querier, id uuid.UUID) error {
	exists, err := jobExists(ctx, q, id)
	if err != nil {
		return err
	}
	if exists {
		return queue.ErrJobNotRunning
	}
	return queue.ErrJobNotFound
}

func jobExists(ctx context.Context, q querier, id uuid.UUID) (bool, error) {
	var exists bool
	if err := q.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM jobq_jobs WHERE id = $1)`, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("check job: %w", err)
	}
	return exists, nil
}
