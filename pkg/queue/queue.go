package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/jobq/pkg/logger"
)

// reapBatchSize bounds how many expired leases one ReapExpired call recovers
const reapBatchSize = 100

// Queue is the durable scheduler. It persists jobs, hands them out through an
// atomic claim, applies the retry policy and escalates exhausted jobs to the
// dead letter store. A Queue holds no job state of its own and is safe for
// concurrent use.
type Queue struct {
	repo          Repository
	dlq           DeadLetterStore
	mover         DeadLetterMover
	backoff       BackoffStrategy
	maxAttempts   int
	leaseDuration time.Duration
	agingInterval time.Duration
	now           func() time.Time
	logger        *slog.Logger
}

// New creates a queue on top of the given repository
func New(repo Repository, opts ...Option) (*Queue, error) {
	if repo == nil {
		return nil, ErrRepositoryNil
	}

	o := &options{
		backoff:       DefaultBackoff(),
		maxAttempts:   DefaultMaxAttempts,
		leaseDuration: DefaultLeaseDuration,
		agingInterval: DefaultAgingInterval,
		now:           time.Now,
		logger:        slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}

	q := &Queue{
		repo:          repo,
		dlq:           o.dlq,
		backoff:       o.backoff,
		maxAttempts:   o.maxAttempts,
		leaseDuration: o.leaseDuration,
		agingInterval: o.agingInterval,
		now:           o.now,
		logger:        o.logger,
	}

	// A repository that also keeps dead letters can escalate in one transaction
	if q.dlq == nil {
		store, ok := repo.(DeadLetterStore)
		if !ok {
			return nil, ErrDeadLetterStoreNil
		}
		q.dlq = store
		if mover, ok := repo.(DeadLetterMover); ok {
			q.mover = mover
		}
	}

	return q, nil
}

// DeadLetterStore returns the store escalated jobs are written to
func (q *Queue) DeadLetterStore() DeadLetterStore {
	return q.dlq
}

// Schedule persists a new pending job that becomes eligible after delay.
// A nil payload is stored as an empty object; json.RawMessage is used verbatim.
// With WithDedupeKey the job is scheduled as unique.
func (q *Queue) Schedule(ctx context.Context, hookName string, payload any, priority Priority, delay time.Duration, opts ...ScheduleOption) (uuid.UUID, error) {
	so := applyScheduleOptions(opts)

	args, err := marshalArgs(payload)
	if err != nil {
		return uuid.Nil, err
	}

	job, err := q.newJob(hookName, args, priority, delay, so)
	if err != nil {
		return uuid.Nil, err
	}

	if so.dedupeKey != "" {
		return q.createUnique(ctx, job)
	}
	return q.create(ctx, job)
}

// ScheduleUnique persists a job unless a pending job with the same dedupe key
// exists, in which case the existing job's ID is returned. The key is derived
// from the hook name and arguments unless WithDedupeKey is given.
func (q *Queue) ScheduleUnique(ctx context.Context, hookName string, payload any, priority Priority, delay time.Duration, opts ...ScheduleOption) (uuid.UUID, error) {
	so := applyScheduleOptions(opts)

	args, err := marshalArgs(payload)
	if err != nil {
		return uuid.Nil, err
	}

	if so.dedupeKey == "" {
		key, err := DedupeKey(hookName, args)
		if err != nil {
			return uuid.Nil, err
		}
		so.dedupeKey = key
	}

	job, err := q.newJob(hookName, args, priority, delay, so)
	if err != nil {
		return uuid.Nil, err
	}

	return q.createUnique(ctx, job)
}

// ScheduleRecurring persists a job that is re-enqueued every interval after each
// successful run. The first run is due immediately.
func (q *Queue) ScheduleRecurring(ctx context.Context, hookName string, payload any, interval time.Duration, priority Priority, opts ...ScheduleOption) (uuid.UUID, error) {
	seconds := int(interval / time.Second)
	if seconds < 1 {
		return uuid.Nil, ErrInvalidInterval
	}

	so := applyScheduleOptions(opts)

	args, err := marshalArgs(payload)
	if err != nil {
		return uuid.Nil, err
	}

	job, err := q.newJob(hookName, args, priority, 0, so, func(j *Job) {
		j.Recurring = true
		j.IntervalSeconds = &seconds
	})
	if err != nil {
		return uuid.Nil, err
	}

	if so.dedupeKey != "" {
		return q.createUnique(ctx, job)
	}
	return q.create(ctx, job)
}

// ScheduleRaw stores an already encoded payload as-is. It accepts legacy bare
// argument maps and v2 envelopes produced elsewhere.
func (q *Queue) ScheduleRaw(ctx context.Context, hookName string, raw json.RawMessage, priority Priority, delay time.Duration, opts ...ScheduleOption) (uuid.UUID, error) {
	if _, err := ParsePayload(raw); err != nil {
		return uuid.Nil, err
	}

	so := applyScheduleOptions(opts)
	job, err := q.buildJob(hookName, priority, delay, so)
	if err != nil {
		return uuid.Nil, err
	}
	job.Payload = append([]byte(nil), raw...)

	if so.dedupeKey != "" {
		return q.createUnique(ctx, job)
	}
	return q.create(ctx, job)
}

// Cancel deletes a job that has not been claimed yet
func (q *Queue) Cancel(ctx context.Context, id uuid.UUID) error {
	if err := q.repo.DeleteJob(ctx, id); err != nil {
		return fmt.Errorf("failed to cancel job %s: %w", id, err)
	}
	q.logger.DebugContext(ctx, "job cancelled", logger.JobID(id))
	return nil
}

// Get returns a job by ID
func (q *Queue) Get(ctx context.Context, id uuid.UUID) (*Job, error) {
	job, err := q.repo.GetJob(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get job %s: %w", id, err)
	}
	return job, nil
}

// Stats returns the number of jobs per status
func (q *Queue) Stats(ctx context.Context) (map[JobStatus]int64, error) {
	counts, err := q.repo.CountJobs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count jobs: %w", err)
	}
	return counts, nil
}

// Purge removes completed and dead jobs older than before.
// Dead letter entries are kept.
func (q *Queue) Purge(ctx context.Context, before time.Time) (int64, error) {
	n, err := q.repo.PurgeJobs(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("failed to purge jobs: %w", err)
	}
	if n > 0 {
		q.logger.InfoContext(ctx, "purged archived jobs", slog.Int64("count", n), slog.Time("before", before))
	}
	return n, nil
}

// Claim takes exclusive ownership of the most urgent due job.
// Classes restricts the claim to those priorities; none means every class.
// Returns ErrNoJobToClaim when nothing is due.
func (q *Queue) Claim(ctx context.Context, classes ...Priority) (*Job, error) {
	now := q.now()
	job, err := q.repo.ClaimJob(ctx, ClaimParams{
		Now:           now,
		LeaseUntil:    now.Add(q.leaseDuration),
		Priorities:    classes,
		AgingInterval: q.agingInterval,
	})
	if err != nil {
		if errors.Is(err, ErrNoJobToClaim) {
			return nil, ErrNoJobToClaim
		}
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}
	return job, nil
}

// ExtendLease renews the claim on a running job for another lease period.
// Returns the new expiry, or an error wrapping ErrJobNotRunning once the claim is gone.
func (q *Queue) ExtendLease(ctx context.Context, job *Job) (time.Time, error) {
	until := q.now().Add(q.leaseDuration)
	if err := q.repo.ExtendLease(ctx, job.Ref(), until); err != nil {
		return time.Time{}, fmt.Errorf("failed to extend lease of job %s: %w", job.ID, err)
	}
	return until, nil
}

// Release hands a claimed job back without counting the attempt
func (q *Queue) Release(ctx context.Context, job *Job) error {
	if err := q.repo.ReleaseJob(ctx, job.Ref(), q.now()); err != nil {
		return fmt.Errorf("failed to release job %s: %w", job.ID, err)
	}
	return nil
}

// Complete records a successful run. A recurring job gets its next occurrence
// scheduled in the same store operation.
func (q *Queue) Complete(ctx context.Context, job *Job) error {
	now := q.now()

	var next *Job
	if job.Recurring {
		next = q.nextOccurrence(job, now)
	}

	if err := q.repo.CompleteJob(ctx, job.Ref(), now, next); err != nil {
		return fmt.Errorf("failed to complete job %s: %w", job.ID, err)
	}

	attrs := []any{logger.JobID(job.ID), logger.HookName(job.HookName)}
	if next != nil {
		attrs = append(attrs, slog.String("next_job_id", next.ID.String()), slog.Time("next_run", next.ScheduledAt))
	}
	q.logger.DebugContext(ctx, "job completed", attrs...)

	return nil
}

// Retry records a transient failure. The job returns to pending with backoff
// while attempts remain and is escalated to the dead letter store otherwise.
// Returns the status the job ended up in.
func (q *Queue) Retry(ctx context.Context, job *Job, reason string) (JobStatus, error) {
	now := q.now()
	attempt := job.Attempt + 1

	if attempt >= q.attemptBudget(job) {
		if err := q.escalate(ctx, job, attempt, reason, now); err != nil {
			return JobStatusRunning, err
		}
		return JobStatusDead, nil
	}

	scheduledAt := now.Add(q.backoff.NextInterval(attempt))
	if scheduledAt.Before(job.ScheduledAt) {
		scheduledAt = job.ScheduledAt
	}

	err := q.repo.RetryJob(ctx, job.Ref(), RetryParams{
		Attempt:     attempt,
		LastError:   reason,
		ScheduledAt: scheduledAt,
		Now:         now,
	})
	if err != nil {
		return JobStatusRunning, fmt.Errorf("failed to retry job %s: %w", job.ID, err)
	}

	q.logger.WarnContext(ctx, "job scheduled for retry",
		logger.JobID(job.ID),
		logger.HookName(job.HookName),
		logger.Attempt(attempt),
		slog.Int("max_attempts", q.attemptBudget(job)),
		slog.Time("next_run", scheduledAt),
		slog.String("reason", reason))

	return JobStatusPending, nil
}

// Kill records a fatal failure and moves the job straight to the dead letter store
func (q *Queue) Kill(ctx context.Context, job *Job, reason string) error {
	return q.escalate(ctx, job, job.Attempt+1, reason, q.now())
}

// ReapExpired recovers jobs whose claimant stopped renewing its lease.
// Each one is recorded as a transient failure. Returns the number recovered.
func (q *Queue) ReapExpired(ctx context.Context) (int, error) {
	jobs, err := q.repo.ListExpired(ctx, q.now(), reapBatchSize)
	if err != nil {
		return 0, fmt.Errorf("failed to list expired jobs: %w", err)
	}

	reaped := 0
	var errs []error
	for _, job := range jobs {
		status, err := q.Retry(ctx, job, "lease expired")
		if err != nil {
			// Another reaper or a late claimant got there first
			if errors.Is(err, ErrJobNotRunning) {
				continue
			}
			errs = append(errs, err)
			continue
		}
		reaped++
		q.logger.WarnContext(ctx, "reaped job with expired lease",
			logger.JobID(job.ID),
			logger.HookName(job.HookName),
			slog.String("status", string(status)))
	}

	return reaped, errors.Join(errs...)
}

// escalate marks the job dead and records a dead letter entry.
// With a separate dead letter store the entry is written first, so a job is
// never dead without an entry; a job whose entry failed stays running and its
// lease expiry brings it back through the reaper.
func (q *Queue) escalate(ctx context.Context, job *Job, attempt int, reason string, now time.Time) error {
	params := DeadParams{Attempt: attempt, LastError: reason, Now: now}
	entry := &DeadLetterEntry{
		ID:            uuid.New(),
		FailureReason: reason,
		FailedAt:      now,
		Status:        EntryStatusPending,
		UpdatedAt:     now,
	}

	if q.mover != nil {
		if err := q.mover.MoveToDeadLetter(ctx, job.Ref(), params, entry); err != nil {
			return fmt.Errorf("failed to move job %s to dead letter queue: %w", job.ID, err)
		}
	} else {
		entry.Job = *deadSnapshot(job, params)
		if err := q.dlq.InsertEntry(ctx, entry); err != nil {
			return fmt.Errorf("failed to insert dead letter entry for job %s: %w", job.ID, err)
		}
		if _, err := q.repo.MarkDead(ctx, job.Ref(), params); err != nil {
			// The job was not killed; withdraw the entry so it cannot be replayed
			if dismissErr := q.dlq.MarkDismissed(ctx, entry.ID, now); dismissErr != nil {
				q.logger.ErrorContext(ctx, "dead letter entry left for a job that is not dead",
					logger.JobID(job.ID),
					logger.EntryID(entry.ID),
					logger.Error(dismissErr))
			}
			return fmt.Errorf("failed to mark job %s dead: %w", job.ID, err)
		}
	}

	q.logger.WarnContext(ctx, "job moved to dead letter queue",
		logger.JobID(job.ID),
		logger.EntryID(entry.ID),
		logger.HookName(job.HookName),
		logger.Attempt(attempt),
		slog.String("reason", reason))

	return nil
}

// deadSnapshot is the job as MarkDead leaves it
func deadSnapshot(job *Job, params DeadParams) *Job {
	dead := job.Clone()
	lastError := params.LastError
	dead.Status = JobStatusDead
	dead.Attempt = params.Attempt
	dead.LastError = &lastError
	dead.LockedUntil = nil
	dead.UpdatedAt = params.Now
	return dead
}

func (q *Queue) create(ctx context.Context, job *Job) (uuid.UUID, error) {
	if err := q.repo.CreateJob(ctx, job); err != nil {
		return uuid.Nil, fmt.Errorf("failed to schedule job: %w", err)
	}

	q.logger.DebugContext(ctx, "job scheduled",
		logger.JobID(job.ID),
		logger.HookName(job.HookName),
		logger.Priority(int(job.Priority)),
		slog.Time("scheduled_at", job.ScheduledAt))

	return job.ID, nil
}

func (q *Queue) createUnique(ctx context.Context, job *Job) (uuid.UUID, error) {
	id, inserted, err := q.repo.CreateUniqueJob(ctx, job)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to schedule unique job: %w", err)
	}

	if !inserted {
		q.logger.DebugContext(ctx, "unique job already pending",
			logger.JobID(id),
			logger.HookName(job.HookName))
		return id, nil
	}

	q.logger.DebugContext(ctx, "unique job scheduled",
		logger.JobID(id),
		logger.HookName(job.HookName),
		logger.Priority(int(job.Priority)))

	return id, nil
}

// buildJob validates the common fields and fills in defaults; the payload is left empty
func (q *Queue) buildJob(hookName string, priority Priority, delay time.Duration, so scheduleOptions) (*Job, error) {
	if hookName == "" {
		return nil, ErrInvalidHookName
	}
	if !priority.Valid() {
		return nil, ErrInvalidPriority
	}

	now := q.now()
	job := &Job{
		ID:          uuid.New(),
		HookName:    hookName,
		Priority:    priority,
		Status:      JobStatusPending,
		ScheduledAt: now.Add(max(delay, 0)),
		MaxAttempts: q.maxAttempts,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if so.maxAttempts > 0 {
		job.MaxAttempts = so.maxAttempts
	}
	if so.dedupeKey != "" {
		key := so.dedupeKey
		job.DedupeKey = &key
	}

	return job, nil
}

// newJob builds a job and wraps args in a v2 envelope describing it
func (q *Queue) newJob(hookName string, args json.RawMessage, priority Priority, delay time.Duration, so scheduleOptions, mutators ...func(*Job)) (*Job, error) {
	job, err := q.buildJob(hookName, priority, delay, so)
	if err != nil {
		return nil, err
	}
	for _, m := range mutators {
		m(job)
	}

	payload, err := WrapPayload(args, metaForJob(job))
	if err != nil {
		return nil, err
	}
	job.Payload = payload

	return job, nil
}

// nextOccurrence builds the follow-up run of a recurring job.
// The envelope is rewritten for the new run; undecodable payloads are carried verbatim.
func (q *Queue) nextOccurrence(job *Job, now time.Time) *Job {
	next := &Job{
		ID:              uuid.New(),
		HookName:        job.HookName,
		Priority:        job.Priority,
		Status:          JobStatusPending,
		ScheduledAt:     now.Add(job.Interval()),
		MaxAttempts:     job.MaxAttempts,
		DedupeKey:       clonePtr(job.DedupeKey),
		Recurring:       true,
		IntervalSeconds: clonePtr(job.IntervalSeconds),
		CreatedAt:       now,
		UpdatedAt:       now,
		Payload:         append([]byte(nil), job.Payload...),
	}

	u, err := UnwrapPayloadCompat(job.Payload)
	if err != nil {
		return next
	}
	if payload, err := WrapPayload(u.Args, metaForJob(next)); err == nil {
		next.Payload = payload
	}

	return next
}

func (q *Queue) attemptBudget(job *Job) int {
	if job.MaxAttempts > 0 {
		return job.MaxAttempts
	}
	return q.maxAttempts
}

func applyScheduleOptions(opts []ScheduleOption) scheduleOptions {
	var so scheduleOptions
	for _, opt := range opts {
		opt(&so)
	}
	return so
}
