package queue

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ClaimParams describes one claim attempt
type ClaimParams struct {
	// Now is the claim time; only jobs with ScheduledAt <= Now are eligible.
	Now time.Time
	// LeaseUntil becomes the job's LockedUntil.
	LeaseUntil time.Time
	// Priorities restricts the claim to these classes. Empty means all classes.
	Priorities []Priority
	// AgingInterval lowers the effective priority number of a waiting job by one
	// per elapsed interval. Zero disables aging.
	AgingInterval time.Duration
}

// RetryParams describes a transient failure being recorded
type RetryParams struct {
	Attempt     int
	LastError   string
	ScheduledAt time.Time
	Now         time.Time
}

// DeadParams describes a job leaving the active queue for good
type DeadParams struct {
	Attempt   int
	LastError string
	Now       time.Time
}

// Repository persists jobs.
// Every method that takes a ClaimRef must only apply while the job is running at
// that attempt and return ErrJobNotRunning otherwise.
type Repository interface {
	// CreateJob inserts a new pending job
	CreateJob(ctx context.Context, job *Job) error

	// CreateUniqueJob inserts the job unless a pending job with the same hook name and
	// dedupe key exists. Returns the ID of the row that holds the key and whether it was inserted.
	CreateUniqueJob(ctx context.Context, job *Job) (uuid.UUID, bool, error)

	// ClaimJob atomically moves the most urgent due job to running.
	// Returns ErrNoJobToClaim when nothing is eligible.
	ClaimJob(ctx context.Context, params ClaimParams) (*Job, error)

	// ExtendLease moves the running job's LockedUntil to until
	ExtendLease(ctx context.Context, ref ClaimRef, until time.Time) error

	// ReleaseJob returns a claimed job to pending without counting an attempt
	ReleaseJob(ctx context.Context, ref ClaimRef, now time.Time) error

	// CompleteJob archives the job as completed. When next is not nil it is inserted
	// in the same transaction (next occurrence of a recurring job).
	CompleteJob(ctx context.Context, ref ClaimRef, now time.Time, next *Job) error

	// RetryJob returns a failed job to pending with the new attempt and schedule
	RetryJob(ctx context.Context, ref ClaimRef, params RetryParams) error

	// MarkDead moves the job to dead and returns its final snapshot
	MarkDead(ctx context.Context, ref ClaimRef, params DeadParams) (*Job, error)

	// ListExpired returns running jobs whose lease ended before now
	ListExpired(ctx context.Context, now time.Time, limit int) ([]*Job, error)

	// GetJob returns a job by ID or ErrJobNotFound
	GetJob(ctx context.Context, id uuid.UUID) (*Job, error)

	// DeleteJob removes a pending job. Returns ErrJobNotPending for any other state.
	DeleteJob(ctx context.Context, id uuid.UUID) error

	// CountJobs returns the number of jobs per status
	CountJobs(ctx context.Context) (map[JobStatus]int64, error)

	// PurgeJobs removes completed and dead jobs last updated before the given time
	PurgeJobs(ctx context.Context, before time.Time) (int64, error)
}

// DeadLetterFilter narrows a dead letter listing
type DeadLetterFilter struct {
	// Status selects entries in one state. Empty selects pending and replayed entries.
	Status   EntryStatus
	HookName string
	Limit    int
	Offset   int
}

// DeadLetterStore persists dead letter entries
type DeadLetterStore interface {
	InsertEntry(ctx context.Context, entry *DeadLetterEntry) error
	GetEntry(ctx context.Context, id uuid.UUID) (*DeadLetterEntry, error)
	// ListEntries returns matching entries, most recent failure first
	ListEntries(ctx context.Context, filter DeadLetterFilter) ([]*DeadLetterEntry, error)
	// MarkReplayed sets the entry to replayed and increments its replay count,
	// provided the count still equals replayCount. A changed count yields
	// ErrReplayConflict so concurrent replays of one entry schedule one job.
	MarkReplayed(ctx context.Context, id uuid.UUID, replayCount int, now time.Time) error
	// MarkDismissed sets the entry to dismissed
	MarkDismissed(ctx context.Context, id uuid.UUID, now time.Time) error
}

// DeadLetterMover is implemented by stores that hold jobs and dead letters together.
// MoveToDeadLetter marks the job dead and inserts the entry in one transaction,
// filling entry.Job with the job's final snapshot.
type DeadLetterMover interface {
	MoveToDeadLetter(ctx context.Context, ref ClaimRef, params DeadParams, entry *DeadLetterEntry) error
}
