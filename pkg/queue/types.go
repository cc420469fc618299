package queue

import (
	"slices"
	"time"

	"github.com/google/uuid"
)

// JobStatus represents the lifecycle state of a job
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusDead      JobStatus = "dead"
)

// Priority represents a job's urgency class (1-5, lower is more urgent)
type Priority int8

// Priority classes
const (
	PriorityCritical    Priority = 1
	PriorityUrgent      Priority = 2
	PriorityNormal      Priority = 3
	PriorityBulk        Priority = 4
	PriorityMaintenance Priority = 5
	PriorityDefault     Priority = PriorityNormal
)

// Valid checks if the priority is one of the five known classes
func (p Priority) Valid() bool {
	return p >= PriorityCritical && p <= PriorityMaintenance
}

func (p Priority) String() string {
	switch p {
	case PriorityCritical:
		return "critical"
	case PriorityUrgent:
		return "urgent"
	case PriorityNormal:
		return "normal"
	case PriorityBulk:
		return "bulk"
	case PriorityMaintenance:
		return "maintenance"
	default:
		return "unknown"
	}
}

// Priorities returns every priority class, most urgent first.
func Priorities() []Priority {
	return []Priority{
		PriorityCritical,
		PriorityUrgent,
		PriorityNormal,
		PriorityBulk,
		PriorityMaintenance,
	}
}

// Job represents a unit of deferred work
type Job struct {
	ID              uuid.UUID  `json:"id"`
	HookName        string     `json:"hook_name"`
	Priority        Priority   `json:"priority"`
	Payload         []byte     `json:"payload,omitempty"`
	Status          JobStatus  `json:"status"`
	ScheduledAt     time.Time  `json:"scheduled_at"`
	Attempt         int        `json:"attempt"`
	MaxAttempts     int        `json:"max_attempts"`
	LastError       *string    `json:"last_error,omitempty"`
	DedupeKey       *string    `json:"dedupe_key,omitempty"`
	Recurring       bool       `json:"recurring"`
	IntervalSeconds *int       `json:"interval_seconds,omitempty"`
	LockedUntil     *time.Time `json:"locked_until,omitempty"`
	ClaimedAt       *time.Time `json:"claimed_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       time.Time  `json:"updated_at"`
}

// Ref returns the claim reference of the job's current attempt.
func (j *Job) Ref() ClaimRef {
	return ClaimRef{ID: j.ID, Attempt: j.Attempt}
}

// Interval returns the recurrence interval, or zero for one-off jobs.
func (j *Job) Interval() time.Duration {
	if !j.Recurring || j.IntervalSeconds == nil {
		return 0
	}
	return time.Duration(*j.IntervalSeconds) * time.Second
}

// Clone returns a deep copy so stores never share mutable state with callers
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	c := *j
	c.Payload = slices.Clone(j.Payload)
	c.LastError = clonePtr(j.LastError)
	c.DedupeKey = clonePtr(j.DedupeKey)
	c.IntervalSeconds = clonePtr(j.IntervalSeconds)
	c.LockedUntil = clonePtr(j.LockedUntil)
	c.ClaimedAt = clonePtr(j.ClaimedAt)
	c.CompletedAt = clonePtr(j.CompletedAt)
	return &c
}

// ClaimRef identifies one claimed attempt of a job.
// Outcome updates only apply while the job is still running at that attempt,
// so a claimant whose lease was reaped cannot overwrite the new owner's state.
type ClaimRef struct {
	ID      uuid.UUID
	Attempt int
}

// EntryStatus represents the review state of a dead letter entry
type EntryStatus string

const (
	EntryStatusPending   EntryStatus = "pending"
	EntryStatusReplayed  EntryStatus = "replayed"
	EntryStatusDismissed EntryStatus = "dismissed"
)

// DeadLetterEntry represents a job that exhausted its attempts or failed fatally.
// Stores a full snapshot of the job for manual inspection and replay.
type DeadLetterEntry struct {
	ID            uuid.UUID   `json:"id"`
	Job           Job         `json:"job"`
	FailureReason string      `json:"failure_reason"`
	FailedAt      time.Time   `json:"failed_at"`
	Status        EntryStatus `json:"status"`
	ReplayCount   int         `json:"replay_count"`
	UpdatedAt     time.Time   `json:"updated_at"`
}

// Clone returns a deep copy of the entry
func (e *DeadLetterEntry) Clone() *DeadLetterEntry {
	if e == nil {
		return nil
	}
	c := *e
	c.Job = *e.Job.Clone()
	return &c
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
