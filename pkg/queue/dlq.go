package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/jobq/pkg/logger"
)

// Matches reports whether the entry passes the filter, ignoring pagination.
// Without an explicit status, dismissed entries are hidden.
func (f DeadLetterFilter) Matches(e *DeadLetterEntry) bool {
	if f.Status == "" {
		if e.Status == EntryStatusDismissed {
			return false
		}
	} else if e.Status != f.Status {
		return false
	}
	if f.HookName != "" && e.Job.HookName != f.HookName {
		return false
	}
	return true
}

// DeadLetterQueue is the operator surface over escalated jobs
type DeadLetterQueue struct {
	queue  *Queue
	store  DeadLetterStore
	now    func() time.Time
	logger *slog.Logger
}

// NewDeadLetterQueue creates the operator surface for the queue's dead letter store
func NewDeadLetterQueue(q *Queue) (*DeadLetterQueue, error) {
	if q == nil {
		return nil, ErrQueueNil
	}
	return &DeadLetterQueue{
		queue:  q,
		store:  q.dlq,
		now:    q.now,
		logger: q.logger,
	}, nil
}

// Insert records a failed job snapshot. Escalation from the queue calls the
// store directly; this is for jobs failed outside the executor.
func (d *DeadLetterQueue) Insert(ctx context.Context, job *Job, reason string) (uuid.UUID, error) {
	if job == nil {
		return uuid.Nil, ErrJobNotFound
	}

	now := d.now()
	entry := &DeadLetterEntry{
		ID:            uuid.New(),
		Job:           *job.Clone(),
		FailureReason: reason,
		FailedAt:      now,
		Status:        EntryStatusPending,
		UpdatedAt:     now,
	}
	if err := d.store.InsertEntry(ctx, entry); err != nil {
		return uuid.Nil, fmt.Errorf("failed to insert dead letter entry: %w", err)
	}

	return entry.ID, nil
}

// GetEntries lists entries for review, most recent failure first
func (d *DeadLetterQueue) GetEntries(ctx context.Context, filter DeadLetterFilter) ([]*DeadLetterEntry, error) {
	entries, err := d.store.ListEntries(ctx, filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list dead letter entries: %w", err)
	}
	return entries, nil
}

// Get returns one entry
func (d *DeadLetterQueue) Get(ctx context.Context, id uuid.UUID) (*DeadLetterEntry, error) {
	entry, err := d.store.GetEntry(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get dead letter entry %s: %w", id, err)
	}
	return entry, nil
}

// Replay marks the entry replayed, then creates a new pending job from its
// snapshot with attempt 0 and the original payload bytes. A zero priority keeps
// the job's original class. The dedupe key is not carried over.
// The mark is conditional on the replay count read here, so of two concurrent
// replays of one entry only one schedules a job; the other gets ErrReplayConflict.
func (d *DeadLetterQueue) Replay(ctx context.Context, id uuid.UUID, priority Priority) (uuid.UUID, error) {
	entry, err := d.store.GetEntry(ctx, id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("failed to get dead letter entry %s: %w", id, err)
	}
	if entry.Status == EntryStatusDismissed {
		return uuid.Nil, ErrEntryDismissed
	}

	if priority == 0 {
		priority = entry.Job.Priority
	}
	if !priority.Valid() {
		return uuid.Nil, ErrInvalidPriority
	}

	now := d.now()
	snapshot := entry.Job
	job := &Job{
		ID:              uuid.New(),
		HookName:        snapshot.HookName,
		Priority:        priority,
		Payload:         append([]byte(nil), snapshot.Payload...),
		Status:          JobStatusPending,
		ScheduledAt:     now,
		MaxAttempts:     snapshot.MaxAttempts,
		Recurring:       snapshot.Recurring,
		IntervalSeconds: clonePtr(snapshot.IntervalSeconds),
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if job.MaxAttempts <= 0 {
		job.MaxAttempts = d.queue.maxAttempts
	}

	if err := d.store.MarkReplayed(ctx, id, entry.ReplayCount, now); err != nil {
		if errors.Is(err, ErrEntryDismissed) || errors.Is(err, ErrReplayConflict) {
			return uuid.Nil, err
		}
		return uuid.Nil, fmt.Errorf("failed to mark dead letter entry %s replayed: %w", id, err)
	}

	if err := d.queue.repo.CreateJob(ctx, job); err != nil {
		// The entry stays replayable; a later Replay reads the new count
		d.logger.ErrorContext(ctx, "marked entry replayed but failed to schedule job",
			logger.EntryID(id),
			logger.Error(err))
		return uuid.Nil, fmt.Errorf("failed to schedule replayed job: %w", err)
	}

	d.logger.InfoContext(ctx, "dead letter entry replayed",
		logger.EntryID(id),
		logger.JobID(job.ID),
		logger.HookName(job.HookName),
		logger.Priority(int(priority)))

	return job.ID, nil
}

// Dismiss acknowledges an entry; it disappears from default listings and cannot be replayed
func (d *DeadLetterQueue) Dismiss(ctx context.Context, id uuid.UUID) error {
	if err := d.store.MarkDismissed(ctx, id, d.now()); err != nil {
		return fmt.Errorf("failed to dismiss dead letter entry %s: %w", id, err)
	}

	d.logger.InfoContext(ctx, "dead letter entry dismissed", logger.EntryID(id))
	return nil
}
