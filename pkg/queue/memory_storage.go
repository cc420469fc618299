package queue

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryStorage implements Repository, DeadLetterStore and DeadLetterMover in memory.
// Intended for tests and local development; all state is lost on restart.
type MemoryStorage struct {
	mu   sync.RWMutex
	jobs map[uuid.UUID]*Job
	dlq  map[uuid.UUID]*DeadLetterEntry
}

// NewMemoryStorage creates a new in-memory storage implementation
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		jobs: make(map[uuid.UUID]*Job),
		dlq:  make(map[uuid.UUID]*DeadLetterEntry),
	}
}

// CreateJob implements Repository
func (ms *MemoryStorage) CreateJob(ctx context.Context, job *Job) error {
	if job == nil {
		return errors.New("job cannot be nil")
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	if _, exists := ms.jobs[job.ID]; exists {
		return fmt.Errorf("job with ID %s already exists", job.ID)
	}
	if job.DedupeKey != nil {
		if holder := ms.pendingKeyHolder(job.HookName, *job.DedupeKey, job.ID); holder != nil {
			return fmt.Errorf("pending job %s already holds dedupe key %q", holder.ID, *job.DedupeKey)
		}
	}

	ms.jobs[job.ID] = job.Clone()
	return nil
}

// CreateUniqueJob implements Repository
func (ms *MemoryStorage) CreateUniqueJob(ctx context.Context, job *Job) (uuid.UUID, bool, error) {
	if job == nil {
		return uuid.Nil, false, errors.New("job cannot be nil")
	}
	if job.DedupeKey == nil {
		return uuid.Nil, false, errors.New("unique job requires a dedupe key")
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	if holder := ms.pendingKeyHolder(job.HookName, *job.DedupeKey, job.ID); holder != nil {
		return holder.ID, false, nil
	}
	if _, exists := ms.jobs[job.ID]; exists {
		return uuid.Nil, false, fmt.Errorf("job with ID %s already exists", job.ID)
	}

	ms.jobs[job.ID] = job.Clone()
	return job.ID, true, nil
}

// ClaimJob implements Repository.
// Candidates are ordered by aged priority, then base priority, then ScheduledAt.
func (ms *MemoryStorage) ClaimJob(ctx context.Context, params ClaimParams) (*Job, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	var best *Job
	var bestEffective Priority
	for _, job := range ms.jobs {
		if job.Status != JobStatusPending || job.ScheduledAt.After(params.Now) {
			continue
		}
		if len(params.Priorities) > 0 && !slices.Contains(params.Priorities, job.Priority) {
			continue
		}

		effective := effectivePriority(job, params.Now, params.AgingInterval)
		if best == nil || claimsBefore(job, effective, best, bestEffective) {
			best = job
			bestEffective = effective
		}
	}

	if best == nil {
		return nil, ErrNoJobToClaim
	}

	lease := params.LeaseUntil
	claimedAt := params.Now
	best.Status = JobStatusRunning
	best.LockedUntil = &lease
	best.ClaimedAt = &claimedAt
	best.UpdatedAt = params.Now

	return best.Clone(), nil
}

// ExtendLease implements Repository
func (ms *MemoryStorage) ExtendLease(ctx context.Context, ref ClaimRef, until time.Time) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	job, err := ms.runningJob(ref)
	if err != nil {
		return err
	}

	lease := until
	job.LockedUntil = &lease
	return nil
}

// ReleaseJob implements Repository
func (ms *MemoryStorage) ReleaseJob(ctx context.Context, ref ClaimRef, now time.Time) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	job, err := ms.runningJob(ref)
	if err != nil {
		return err
	}

	job.Status = JobStatusPending
	job.LockedUntil = nil
	job.ClaimedAt = nil
	job.UpdatedAt = now
	ms.yieldDedupeKey(job)

	return nil
}

// CompleteJob implements Repository
func (ms *MemoryStorage) CompleteJob(ctx context.Context, ref ClaimRef, now time.Time, next *Job) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	job, err := ms.runningJob(ref)
	if err != nil {
		return err
	}

	completedAt := now
	job.Status = JobStatusCompleted
	job.LockedUntil = nil
	job.CompletedAt = &completedAt
	job.UpdatedAt = now

	if next != nil {
		// A pending occurrence scheduled meanwhile under the same key wins
		if next.DedupeKey != nil && ms.pendingKeyHolder(next.HookName, *next.DedupeKey, next.ID) != nil {
			return nil
		}
		ms.jobs[next.ID] = next.Clone()
	}

	return nil
}

// RetryJob implements Repository
func (ms *MemoryStorage) RetryJob(ctx context.Context, ref ClaimRef, params RetryParams) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	job, err := ms.runningJob(ref)
	if err != nil {
		return err
	}

	lastError := params.LastError
	job.Status = JobStatusPending
	job.Attempt = params.Attempt
	job.LastError = &lastError
	job.ScheduledAt = params.ScheduledAt
	job.LockedUntil = nil
	job.ClaimedAt = nil
	job.UpdatedAt = params.Now
	ms.yieldDedupeKey(job)

	return nil
}

// MarkDead implements Repository
func (ms *MemoryStorage) MarkDead(ctx context.Context, ref ClaimRef, params DeadParams) (*Job, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	job, err := ms.markDead(ref, params)
	if err != nil {
		return nil, err
	}
	return job.Clone(), nil
}

// MoveToDeadLetter implements DeadLetterMover
func (ms *MemoryStorage) MoveToDeadLetter(ctx context.Context, ref ClaimRef, params DeadParams, entry *DeadLetterEntry) error {
	if entry == nil {
		return errors.New("dead letter entry cannot be nil")
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	if _, exists := ms.dlq[entry.ID]; exists {
		return fmt.Errorf("dead letter entry with ID %s already exists", entry.ID)
	}

	job, err := ms.markDead(ref, params)
	if err != nil {
		return err
	}

	entry.Job = *job.Clone()
	ms.dlq[entry.ID] = entry.Clone()

	return nil
}

// ListExpired implements Repository
func (ms *MemoryStorage) ListExpired(ctx context.Context, now time.Time, limit int) ([]*Job, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	var expired []*Job
	for _, job := range ms.jobs {
		if job.Status == JobStatusRunning && job.LockedUntil != nil && job.LockedUntil.Before(now) {
			expired = append(expired, job.Clone())
		}
	}

	slices.SortFunc(expired, func(a, b *Job) int {
		return a.LockedUntil.Compare(*b.LockedUntil)
	})
	if limit > 0 && len(expired) > limit {
		expired = expired[:limit]
	}

	return expired, nil
}

// GetJob implements Repository
func (ms *MemoryStorage) GetJob(ctx context.Context, id uuid.UUID) (*Job, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	job, exists := ms.jobs[id]
	if !exists {
		return nil, ErrJobNotFound
	}
	return job.Clone(), nil
}

// DeleteJob implements Repository
func (ms *MemoryStorage) DeleteJob(ctx context.Context, id uuid.UUID) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	job, exists := ms.jobs[id]
	if !exists {
		return ErrJobNotFound
	}
	if job.Status != JobStatusPending {
		return ErrJobNotPending
	}

	delete(ms.jobs, id)
	return nil
}

// CountJobs implements Repository
func (ms *MemoryStorage) CountJobs(ctx context.Context) (map[JobStatus]int64, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	counts := map[JobStatus]int64{
		JobStatusPending:   0,
		JobStatusRunning:   0,
		JobStatusCompleted: 0,
		JobStatusDead:      0,
	}
	for _, job := range ms.jobs {
		counts[job.Status]++
	}
	return counts, nil
}

// PurgeJobs implements Repository
func (ms *MemoryStorage) PurgeJobs(ctx context.Context, before time.Time) (int64, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	var n int64
	for id, job := range ms.jobs {
		if job.Status != JobStatusCompleted && job.Status != JobStatusDead {
			continue
		}
		if job.UpdatedAt.Before(before) {
			delete(ms.jobs, id)
			n++
		}
	}
	return n, nil
}

// InsertEntry implements DeadLetterStore
func (ms *MemoryStorage) InsertEntry(ctx context.Context, entry *DeadLetterEntry) error {
	if entry == nil {
		return errors.New("dead letter entry cannot be nil")
	}

	ms.mu.Lock()
	defer ms.mu.Unlock()

	if _, exists := ms.dlq[entry.ID]; exists {
		return fmt.Errorf("dead letter entry with ID %s already exists", entry.ID)
	}

	ms.dlq[entry.ID] = entry.Clone()
	return nil
}

// GetEntry implements DeadLetterStore
func (ms *MemoryStorage) GetEntry(ctx context.Context, id uuid.UUID) (*DeadLetterEntry, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	entry, exists := ms.dlq[id]
	if !exists {
		return nil, ErrEntryNotFound
	}
	return entry.Clone(), nil
}

// ListEntries implements DeadLetterStore
func (ms *MemoryStorage) ListEntries(ctx context.Context, filter DeadLetterFilter) ([]*DeadLetterEntry, error) {
	ms.mu.RLock()
	defer ms.mu.RUnlock()

	var entries []*DeadLetterEntry
	for _, entry := range ms.dlq {
		if !filter.Matches(entry) {
			continue
		}
		entries = append(entries, entry.Clone())
	}

	slices.SortFunc(entries, func(a, b *DeadLetterEntry) int {
		if c := b.FailedAt.Compare(a.FailedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID.String(), b.ID.String())
	})

	return paginate(entries, filter.Offset, filter.Limit), nil
}

// MarkReplayed implements DeadLetterStore
func (ms *MemoryStorage) MarkReplayed(ctx context.Context, id uuid.UUID, replayCount int, now time.Time) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	entry, exists := ms.dlq[id]
	if !exists {
		return ErrEntryNotFound
	}
	if entry.Status == EntryStatusDismissed {
		return ErrEntryDismissed
	}
	if entry.ReplayCount != replayCount {
		return ErrReplayConflict
	}

	entry.Status = EntryStatusReplayed
	entry.ReplayCount++
	entry.UpdatedAt = now
	return nil
}

// MarkDismissed implements DeadLetterStore
func (ms *MemoryStorage) MarkDismissed(ctx context.Context, id uuid.UUID, now time.Time) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	entry, exists := ms.dlq[id]
	if !exists {
		return ErrEntryNotFound
	}

	entry.Status = EntryStatusDismissed
	entry.UpdatedAt = now
	return nil
}

// runningJob returns the stored job if it is still running at the claimed attempt.
// Must be called with the write lock held.
func (ms *MemoryStorage) runningJob(ref ClaimRef) (*Job, error) {
	job, exists := ms.jobs[ref.ID]
	if !exists {
		return nil, ErrJobNotFound
	}
	if job.Status != JobStatusRunning || job.Attempt != ref.Attempt {
		return nil, ErrJobNotRunning
	}
	return job, nil
}

func (ms *MemoryStorage) markDead(ref ClaimRef, params DeadParams) (*Job, error) {
	job, err := ms.runningJob(ref)
	if err != nil {
		return nil, err
	}

	lastError := params.LastError
	job.Status = JobStatusDead
	job.Attempt = params.Attempt
	job.LastError = &lastError
	job.LockedUntil = nil
	job.UpdatedAt = params.Now

	return job, nil
}

// pendingKeyHolder finds a pending job other than exclude holding the dedupe key
func (ms *MemoryStorage) pendingKeyHolder(hookName, key string, exclude uuid.UUID) *Job {
	for id, job := range ms.jobs {
		if id == exclude || job.Status != JobStatusPending || job.HookName != hookName {
			continue
		}
		if job.DedupeKey != nil && *job.DedupeKey == key {
			return job
		}
	}
	return nil
}

// yieldDedupeKey drops the key of a job returning to pending when a newer
// pending job took the key while this one was running.
func (ms *MemoryStorage) yieldDedupeKey(job *Job) {
	if job.DedupeKey == nil {
		return
	}
	if ms.pendingKeyHolder(job.HookName, *job.DedupeKey, job.ID) != nil {
		job.DedupeKey = nil
	}
}

// effectivePriority lowers the priority number by one per aging interval waited
// since the job became due, never below PriorityCritical.
func effectivePriority(job *Job, now time.Time, aging time.Duration) Priority {
	if aging <= 0 {
		return job.Priority
	}
	waited := now.Sub(job.ScheduledAt)
	if waited <= 0 {
		return job.Priority
	}
	steps := int64(waited / aging)
	if steps >= int64(job.Priority-PriorityCritical) {
		return PriorityCritical
	}
	return job.Priority - Priority(steps)
}

func claimsBefore(a *Job, aEffective Priority, b *Job, bEffective Priority) bool {
	if aEffective != bEffective {
		return aEffective < bEffective
	}
	if a.Priority != b.Priority {
		return a.Priority < b.Priority
	}
	if !a.ScheduledAt.Equal(b.ScheduledAt) {
		return a.ScheduledAt.Before(b.ScheduledAt)
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID.String() < b.ID.String()
}

func paginate[T any](items []T, offset, limit int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return nil
		}
		items = items[offset:]
	}
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}
