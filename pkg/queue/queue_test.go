package queue_test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/jobq/pkg/queue"
)

// MockRepository is a mock implementation of queue.Repository
type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) CreateJob(ctx context.Context, job *queue.Job) error {
	args := m.Called(ctx, job)
	return args.Error(0)
}

func (m *MockRepository) CreateUniqueJob(ctx context.Context, job *queue.Job) (uuid.UUID, bool, error) {
	args := m.Called(ctx, job)
	return args.Get(0).(uuid.UUID), args.Bool(1), args.Error(2)
}

func (m *MockRepository) ClaimJob(ctx context.Context, params queue.ClaimParams) (*queue.Job, error) {
	args := m.Called(ctx, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*queue.Job), args.Error(1)
}

func (m *MockRepository) ExtendLease(ctx context.Context, ref queue.ClaimRef, until time.Time) error {
	args := m.Called(ctx, ref, until)
	return args.Error(0)
}

func (m *MockRepository) ReleaseJob(ctx context.Context, ref queue.ClaimRef, now time.Time) error {
	args := m.Called(ctx, ref, now)
	return args.Error(0)
}

func (m *MockRepository) CompleteJob(ctx context.Context, ref queue.ClaimRef, now time.Time, next *queue.Job) error {
	args := m.Called(ctx, ref, now, next)
	return args.Error(0)
}

func (m *MockRepository) RetryJob(ctx context.Context, ref queue.ClaimRef, params queue.RetryParams) error {
	args := m.Called(ctx, ref, params)
	return args.Error(0)
}

func (m *MockRepository) MarkDead(ctx context.Context, ref queue.ClaimRef, params queue.DeadParams) (*queue.Job, error) {
	args := m.Called(ctx, ref, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*queue.Job), args.Error(1)
}

func (m *MockRepository) ListExpired(ctx context.Context, now time.Time, limit int) ([]*queue.Job, error) {
	args := m.Called(ctx, now, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*queue.Job), args.Error(1)
}

func (m *MockRepository) GetJob(ctx context.Context, id uuid.UUID) (*queue.Job, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*queue.Job), args.Error(1)
}

func (m *MockRepository) DeleteJob(ctx context.Context, id uuid.UUID) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockRepository) CountJobs(ctx context.Context) (map[queue.JobStatus]int64, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[queue.JobStatus]int64), args.Error(1)
}

func (m *MockRepository) PurgeJobs(ctx context.Context, before time.Time) (int64, error) {
	args := m.Called(ctx, before)
	return args.Get(0).(int64), args.Error(1)
}

type syncProduct struct {
	ProductID int `json:"product_id"`
}

func TestNew(t *testing.T) {
	t.Parallel()

	t.Run("nil repository", func(t *testing.T) {
		t.Parallel()

		q, err := queue.New(nil)
		assert.ErrorIs(t, err, queue.ErrRepositoryNil)
		assert.Nil(t, q)
	})

	t.Run("repository without dead letter support", func(t *testing.T) {
		t.Parallel()

		_, err := queue.New(new(MockRepository))
		assert.ErrorIs(t, err, queue.ErrDeadLetterStoreNil)
	})

	t.Run("separate dead letter store", func(t *testing.T) {
		t.Parallel()

		dlq := queue.NewMemoryStorage()
		q, err := queue.New(new(MockRepository), queue.WithDeadLetterStore(dlq))
		require.NoError(t, err)
		assert.Same(t, dlq, q.DeadLetterStore())
	})
}

func TestQueue_Schedule(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("persists a pending job wrapped in an envelope", func(t *testing.T) {
		t.Parallel()

		q, _, clock := newTestQueue(t)

		id, err := q.Schedule(ctx, "sync_product", syncProduct{ProductID: 42}, queue.PriorityNormal, time.Minute)
		require.NoError(t, err)
		require.NotEqual(t, uuid.Nil, id)

		job, err := q.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, "sync_product", job.HookName)
		assert.Equal(t, queue.JobStatusPending, job.Status)
		assert.Equal(t, queue.PriorityNormal, job.Priority)
		assert.Equal(t, 0, job.Attempt)
		assert.Equal(t, queue.DefaultMaxAttempts, job.MaxAttempts)
		assert.Equal(t, clock.Now().Add(time.Minute), job.ScheduledAt)
		assert.Nil(t, job.DedupeKey)

		u, err := queue.UnwrapPayloadCompat(job.Payload)
		require.NoError(t, err)
		assert.False(t, u.Legacy)
		assert.JSONEq(t, `{"product_id":42}`, string(u.Args))
		assert.Equal(t, queue.PriorityNormal, u.Meta.Priority)
		assert.Equal(t, job.ScheduledAt.Unix(), u.Meta.ScheduledAt)
	})

	t.Run("nil payload becomes empty args", func(t *testing.T) {
		t.Parallel()

		q, _, _ := newTestQueue(t)

		id, err := q.Schedule(ctx, "cleanup", nil, queue.PriorityMaintenance, 0)
		require.NoError(t, err)

		job, err := q.Get(ctx, id)
		require.NoError(t, err)
		u, err := queue.UnwrapPayloadCompat(job.Payload)
		require.NoError(t, err)
		assert.JSONEq(t, `{}`, string(u.Args))
	})

	t.Run("per job attempt budget", func(t *testing.T) {
		t.Parallel()

		q, _, _ := newTestQueue(t)

		id, err := q.Schedule(ctx, "notify", nil, queue.PriorityUrgent, 0, queue.WithJobMaxAttempts(2))
		require.NoError(t, err)

		job, err := q.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, 2, job.MaxAttempts)
	})

	t.Run("validation", func(t *testing.T) {
		t.Parallel()

		q, _, _ := newTestQueue(t)

		_, err := q.Schedule(ctx, "", nil, queue.PriorityNormal, 0)
		assert.ErrorIs(t, err, queue.ErrInvalidHookName)

		_, err = q.Schedule(ctx, "hook", nil, queue.Priority(0), 0)
		assert.ErrorIs(t, err, queue.ErrInvalidPriority)

		_, err = q.Schedule(ctx, "hook", nil, queue.Priority(6), 0)
		assert.ErrorIs(t, err, queue.ErrInvalidPriority)

		_, err = q.Schedule(ctx, "hook", make(chan int), queue.PriorityNormal, 0)
		assert.ErrorIs(t, err, queue.ErrPayloadMarshal)
	})

	t.Run("store errors are returned to the caller", func(t *testing.T) {
		t.Parallel()

		storeErr := errors.New("connection refused")
		repo := new(MockRepository)
		repo.On("CreateJob", mock.Anything, mock.AnythingOfType("*queue.Job")).Return(storeErr)
		defer repo.AssertExpectations(t)

		q, err := queue.New(repo,
			queue.WithDeadLetterStore(queue.NewMemoryStorage()),
			queue.WithLogger(discardLogger()))
		require.NoError(t, err)

		id, err := q.Schedule(ctx, "sync_product", syncProduct{ProductID: 1}, queue.PriorityNormal, 0)
		assert.ErrorIs(t, err, storeErr)
		assert.Equal(t, uuid.Nil, id)
	})
}

func TestQueue_ScheduleUnique(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("explicit key yields one pending row", func(t *testing.T) {
		t.Parallel()

		q, _, _ := newTestQueue(t)

		first, err := q.ScheduleUnique(ctx, "send_webhook", map[string]any{"url": "https://a"}, queue.PriorityCritical, 0, queue.WithDedupeKey("evt-123"))
		require.NoError(t, err)

		second, err := q.ScheduleUnique(ctx, "send_webhook", map[string]any{"url": "https://b"}, queue.PriorityCritical, 0, queue.WithDedupeKey("evt-123"))
		require.NoError(t, err)
		assert.Equal(t, first, second)

		stats, err := q.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), stats[queue.JobStatusPending])
	})

	t.Run("derived key ignores argument order", func(t *testing.T) {
		t.Parallel()

		q, _, _ := newTestQueue(t)

		first, err := q.ScheduleUnique(ctx, "sync", json.RawMessage(`{"a":1,"b":2}`), queue.PriorityNormal, 0)
		require.NoError(t, err)
		second, err := q.ScheduleUnique(ctx, "sync", json.RawMessage(`{"b":2,"a":1}`), queue.PriorityNormal, 0)
		require.NoError(t, err)
		assert.Equal(t, first, second)

		other, err := q.ScheduleUnique(ctx, "sync", json.RawMessage(`{"a":2}`), queue.PriorityNormal, 0)
		require.NoError(t, err)
		assert.NotEqual(t, first, other)
	})

	t.Run("schedule with a dedupe key is unique too", func(t *testing.T) {
		t.Parallel()

		q, _, _ := newTestQueue(t)

		first, err := q.Schedule(ctx, "send_webhook", nil, queue.PriorityNormal, 0, queue.WithDedupeKey("k"))
		require.NoError(t, err)
		second, err := q.Schedule(ctx, "send_webhook", nil, queue.PriorityNormal, 0, queue.WithDedupeKey("k"))
		require.NoError(t, err)
		assert.Equal(t, first, second)
	})

	t.Run("running job does not block a new unique job", func(t *testing.T) {
		t.Parallel()

		q, _, _ := newTestQueue(t)

		first, err := q.ScheduleUnique(ctx, "send_webhook", nil, queue.PriorityNormal, 0, queue.WithDedupeKey("k"))
		require.NoError(t, err)

		claimed, err := q.Claim(ctx)
		require.NoError(t, err)
		require.Equal(t, first, claimed.ID)

		second, err := q.ScheduleUnique(ctx, "send_webhook", nil, queue.PriorityNormal, 0, queue.WithDedupeKey("k"))
		require.NoError(t, err)
		assert.NotEqual(t, first, second)

		// The retried job gives up its key to the newer pending job
		status, err := q.Retry(ctx, claimed, "boom")
		require.NoError(t, err)
		assert.Equal(t, queue.JobStatusPending, status)

		retried, err := q.Get(ctx, first)
		require.NoError(t, err)
		assert.Nil(t, retried.DedupeKey)

		third, err := q.ScheduleUnique(ctx, "send_webhook", nil, queue.PriorityNormal, 0, queue.WithDedupeKey("k"))
		require.NoError(t, err)
		assert.Equal(t, second, third)
	})
}

func TestQueue_ScheduleRecurring(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	q, _, clock := newTestQueue(t)

	_, err := q.ScheduleRecurring(ctx, "cleanup", nil, 500*time.Millisecond, queue.PriorityMaintenance)
	assert.ErrorIs(t, err, queue.ErrInvalidInterval)

	id, err := q.ScheduleRecurring(ctx, "cleanup", map[string]int{"days": 30}, time.Hour, queue.PriorityMaintenance)
	require.NoError(t, err)

	job, err := q.Claim(ctx)
	require.NoError(t, err)
	require.Equal(t, id, job.ID)
	assert.True(t, job.Recurring)
	assert.Equal(t, time.Hour, job.Interval())

	clock.Advance(10 * time.Second)
	require.NoError(t, q.Complete(ctx, job))

	done, err := q.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, queue.JobStatusCompleted, done.Status)
	require.NotNil(t, done.CompletedAt)

	// Next occurrence is not due yet
	_, err = q.Claim(ctx)
	assert.ErrorIs(t, err, queue.ErrNoJobToClaim)

	clock.Advance(time.Hour)
	next, err := q.Claim(ctx)
	require.NoError(t, err)
	assert.NotEqual(t, id, next.ID)
	assert.Equal(t, "cleanup", next.HookName)
	assert.True(t, next.Recurring)
	assert.Equal(t, 0, next.Attempt)

	u, err := queue.UnwrapPayloadCompat(next.Payload)
	require.NoError(t, err)
	assert.JSONEq(t, `{"days":30}`, string(u.Args))
	assert.True(t, u.Meta.Recurring)
	require.NotNil(t, u.Meta.Interval)
	assert.Equal(t, 3600, *u.Meta.Interval)
}

func TestQueue_ScheduleRaw(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	q, _, _ := newTestQueue(t)

	raw := json.RawMessage(`{"event":"order.created","id":"o-1"}`)
	id, err := q.ScheduleRaw(ctx, "inbound.shop", raw, queue.PriorityUrgent, 0)
	require.NoError(t, err)

	job, err := q.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []byte(raw), job.Payload, "raw payloads are stored verbatim")

	u, err := queue.UnwrapPayloadCompat(job.Payload)
	require.NoError(t, err)
	assert.True(t, u.Legacy)

	_, err = q.ScheduleRaw(ctx, "inbound.shop", json.RawMessage(`[1]`), queue.PriorityUrgent, 0)
	assert.ErrorIs(t, err, queue.ErrInvalidPayload)
}

func TestQueue_Claim(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("lowest priority number first", func(t *testing.T) {
		t.Parallel()

		q, _, _ := newTestQueue(t)

		for _, p := range []queue.Priority{queue.PriorityCritical, queue.PriorityNormal, queue.PriorityUrgent} {
			_, err := q.Schedule(ctx, "job", nil, p, 0)
			require.NoError(t, err)
		}

		var order []queue.Priority
		for range 3 {
			job, err := q.Claim(ctx)
			require.NoError(t, err)
			assert.Equal(t, queue.JobStatusRunning, job.Status)
			order = append(order, job.Priority)
		}
		assert.Equal(t, []queue.Priority{1, 2, 3}, order)

		_, err := q.Claim(ctx)
		assert.ErrorIs(t, err, queue.ErrNoJobToClaim)
	})

	t.Run("FIFO by scheduled time within a class", func(t *testing.T) {
		t.Parallel()

		q, _, clock := newTestQueue(t)

		late, err := q.Schedule(ctx, "job", nil, queue.PriorityNormal, 2*time.Minute)
		require.NoError(t, err)
		early, err := q.Schedule(ctx, "job", nil, queue.PriorityNormal, time.Minute)
		require.NoError(t, err)

		clock.Advance(3 * time.Minute)

		first, err := q.Claim(ctx)
		require.NoError(t, err)
		assert.Equal(t, early, first.ID)

		second, err := q.Claim(ctx)
		require.NoError(t, err)
		assert.Equal(t, late, second.ID)
	})

	t.Run("delayed jobs wait until due", func(t *testing.T) {
		t.Parallel()

		q, _, clock := newTestQueue(t)

		id, err := q.Schedule(ctx, "job", nil, queue.PriorityCritical, time.Minute)
		require.NoError(t, err)

		_, err = q.Claim(ctx)
		assert.ErrorIs(t, err, queue.ErrNoJobToClaim)

		clock.Advance(time.Minute)
		job, err := q.Claim(ctx)
		require.NoError(t, err)
		assert.Equal(t, id, job.ID)
		require.NotNil(t, job.LockedUntil)
		assert.Equal(t, clock.Now().Add(queue.DefaultLeaseDuration), *job.LockedUntil)
	})

	t.Run("restricted to classes", func(t *testing.T) {
		t.Parallel()

		q, _, _ := newTestQueue(t)

		_, err := q.Schedule(ctx, "job", nil, queue.PriorityCritical, 0)
		require.NoError(t, err)
		bulk, err := q.Schedule(ctx, "job", nil, queue.PriorityBulk, 0)
		require.NoError(t, err)

		job, err := q.Claim(ctx, queue.PriorityBulk, queue.PriorityMaintenance)
		require.NoError(t, err)
		assert.Equal(t, bulk, job.ID)
	})

	t.Run("aging lets long waiting jobs overtake", func(t *testing.T) {
		t.Parallel()

		q, _, clock := newTestQueue(t, queue.WithAgingInterval(5*time.Minute))

		old, err := q.Schedule(ctx, "job", nil, queue.PriorityMaintenance, 0)
		require.NoError(t, err)

		clock.Advance(20 * time.Minute)
		_, err = q.Schedule(ctx, "job", nil, queue.PriorityUrgent, 0)
		require.NoError(t, err)

		job, err := q.Claim(ctx)
		require.NoError(t, err)
		assert.Equal(t, old, job.ID, "maintenance job aged to critical after four intervals")
	})

	t.Run("strict ordering without aging", func(t *testing.T) {
		t.Parallel()

		q, _, clock := newTestQueue(t, queue.WithAgingInterval(0))

		_, err := q.Schedule(ctx, "job", nil, queue.PriorityMaintenance, 0)
		require.NoError(t, err)

		clock.Advance(24 * time.Hour)
		urgent, err := q.Schedule(ctx, "job", nil, queue.PriorityUrgent, 0)
		require.NoError(t, err)

		job, err := q.Claim(ctx)
		require.NoError(t, err)
		assert.Equal(t, urgent, job.ID)
	})
}

func TestQueue_Release(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	q, _, _ := newTestQueue(t)

	id, err := q.Schedule(ctx, "job", nil, queue.PriorityNormal, 0)
	require.NoError(t, err)

	job, err := q.Claim(ctx)
	require.NoError(t, err)
	require.NoError(t, q.Release(ctx, job))

	released, err := q.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, queue.JobStatusPending, released.Status)
	assert.Equal(t, 0, released.Attempt, "release does not count an attempt")
	assert.Nil(t, released.LockedUntil)

	again, err := q.Claim(ctx)
	require.NoError(t, err)
	assert.Equal(t, id, again.ID)
}

func TestQueue_Retry(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("backoff schedules the next attempt", func(t *testing.T) {
		t.Parallel()

		q, storage, clock := newTestQueue(t)

		id, err := q.Schedule(ctx, "sync_product", syncProduct{ProductID: 42}, queue.PriorityNormal, 0)
		require.NoError(t, err)

		job, err := q.Claim(ctx)
		require.NoError(t, err)

		status, err := q.Retry(ctx, job, "timeout")
		require.NoError(t, err)
		assert.Equal(t, queue.JobStatusPending, status)

		retried, err := q.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, 1, retried.Attempt)
		assert.Equal(t, clock.Now().Add(30*time.Second), retried.ScheduledAt)
		require.NotNil(t, retried.LastError)
		assert.Equal(t, "timeout", *retried.LastError)

		entries, err := storage.ListEntries(ctx, queue.DeadLetterFilter{})
		require.NoError(t, err)
		assert.Empty(t, entries)
	})

	t.Run("attempt grows by one and escalates at the budget", func(t *testing.T) {
		t.Parallel()

		q, storage, clock := newTestQueue(t, queue.WithMaxAttempts(3))

		id, err := q.Schedule(ctx, "flaky", nil, queue.PriorityNormal, 0)
		require.NoError(t, err)

		for want := 1; want <= 2; want++ {
			job, err := q.Claim(ctx)
			require.NoError(t, err)

			status, err := q.Retry(ctx, job, "flaky")
			require.NoError(t, err)
			assert.Equal(t, queue.JobStatusPending, status)

			pending, err := q.Get(ctx, id)
			require.NoError(t, err)
			assert.Equal(t, want, pending.Attempt)
			assert.LessOrEqual(t, pending.Attempt, pending.MaxAttempts)

			clock.Advance(time.Hour)
		}

		job, err := q.Claim(ctx)
		require.NoError(t, err)
		status, err := q.Retry(ctx, job, "still flaky")
		require.NoError(t, err)
		assert.Equal(t, queue.JobStatusDead, status)

		dead, err := q.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, queue.JobStatusDead, dead.Status)
		assert.Equal(t, 3, dead.Attempt)

		entries, err := storage.ListEntries(ctx, queue.DeadLetterFilter{})
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, id, entries[0].Job.ID)
		assert.Equal(t, "still flaky", entries[0].FailureReason)
		assert.Equal(t, queue.EntryStatusPending, entries[0].Status)
		assert.Equal(t, 3, entries[0].Job.Attempt)
	})

	t.Run("stale claim cannot record an outcome", func(t *testing.T) {
		t.Parallel()

		q, _, _ := newTestQueue(t)

		_, err := q.Schedule(ctx, "job", nil, queue.PriorityNormal, 0)
		require.NoError(t, err)

		job, err := q.Claim(ctx)
		require.NoError(t, err)

		_, err = q.Retry(ctx, job, "first")
		require.NoError(t, err)

		_, err = q.Retry(ctx, job, "second")
		assert.ErrorIs(t, err, queue.ErrJobNotRunning)
		assert.ErrorIs(t, q.Complete(ctx, job), queue.ErrJobNotRunning)
	})
}

func TestQueue_Kill(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	q, storage, _ := newTestQueue(t)

	id, err := q.Schedule(ctx, "import", json.RawMessage(`{"file":"broken.csv"}`), queue.PriorityBulk, 0)
	require.NoError(t, err)

	job, err := q.Claim(ctx)
	require.NoError(t, err)
	require.NoError(t, q.Kill(ctx, job, "invalid file"))

	dead, err := q.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, queue.JobStatusDead, dead.Status)
	assert.Equal(t, 1, dead.Attempt)

	entries, err := storage.ListEntries(ctx, queue.DeadLetterFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "invalid file", entries[0].FailureReason)
	assert.Equal(t, job.Payload, entries[0].Job.Payload)
}

func TestQueue_EscalationWithSeparateDeadLetterStore(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	jobs := queue.NewMemoryStorage()
	dlq := queue.NewMemoryStorage()
	clock := newFakeClock()

	q, err := queue.New(jobs,
		queue.WithDeadLetterStore(dlq),
		queue.WithClock(clock.Now),
		queue.WithLogger(discardLogger()))
	require.NoError(t, err)

	id, err := q.Schedule(ctx, "job", nil, queue.PriorityNormal, 0)
	require.NoError(t, err)
	job, err := q.Claim(ctx)
	require.NoError(t, err)
	require.NoError(t, q.Kill(ctx, job, "fatal"))

	entries, err := dlq.ListEntries(ctx, queue.DeadLetterFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, id, entries[0].Job.ID)
	assert.Equal(t, queue.JobStatusDead, entries[0].Job.Status)

	inJobs, err := jobs.ListEntries(ctx, queue.DeadLetterFilter{})
	require.NoError(t, err)
	assert.Empty(t, inJobs)
}

type failingEntryStore struct {
	*queue.MemoryStorage
}

func (failingEntryStore) InsertEntry(context.Context, *queue.DeadLetterEntry) error {
	return errors.New("dead letter store unavailable")
}

func TestQueue_EscalationWritesEntryBeforeKillingJob(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("entry failure leaves the job running", func(t *testing.T) {
		t.Parallel()

		jobs := queue.NewMemoryStorage()
		q, err := queue.New(jobs,
			queue.WithDeadLetterStore(failingEntryStore{queue.NewMemoryStorage()}),
			queue.WithClock(newFakeClock().Now),
			queue.WithLogger(discardLogger()))
		require.NoError(t, err)

		id, err := q.Schedule(ctx, "job", nil, queue.PriorityNormal, 0)
		require.NoError(t, err)
		job, err := q.Claim(ctx)
		require.NoError(t, err)

		assert.Error(t, q.Kill(ctx, job, "fatal"))

		got, err := q.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, queue.JobStatusRunning, got.Status, "a job must not be dead without an entry")
	})

	t.Run("stale kill withdraws its entry", func(t *testing.T) {
		t.Parallel()

		jobs := queue.NewMemoryStorage()
		dlq := queue.NewMemoryStorage()
		clock := newFakeClock()
		q, err := queue.New(jobs,
			queue.WithDeadLetterStore(dlq),
			queue.WithLeaseDuration(time.Minute),
			queue.WithClock(clock.Now),
			queue.WithLogger(discardLogger()))
		require.NoError(t, err)

		id, err := q.Schedule(ctx, "job", nil, queue.PriorityNormal, 0)
		require.NoError(t, err)
		job, err := q.Claim(ctx)
		require.NoError(t, err)

		clock.Advance(2 * time.Minute)
		n, err := q.ReapExpired(ctx)
		require.NoError(t, err)
		require.Equal(t, 1, n)

		assert.ErrorIs(t, q.Kill(ctx, job, "fatal"), queue.ErrJobNotRunning)

		got, err := q.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, queue.JobStatusPending, got.Status)

		visible, err := dlq.ListEntries(ctx, queue.DeadLetterFilter{})
		require.NoError(t, err)
		assert.Empty(t, visible)

		withdrawn, err := dlq.ListEntries(ctx, queue.DeadLetterFilter{Status: queue.EntryStatusDismissed})
		require.NoError(t, err)
		require.Len(t, withdrawn, 1)
		assert.Equal(t, id, withdrawn[0].Job.ID)
	})
}

func TestQueue_ReapExpired(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	q, _, clock := newTestQueue(t, queue.WithLeaseDuration(time.Minute))

	id, err := q.Schedule(ctx, "slow", nil, queue.PriorityNormal, 0)
	require.NoError(t, err)

	job, err := q.Claim(ctx)
	require.NoError(t, err)

	n, err := q.ReapExpired(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "lease still valid")

	clock.Advance(2 * time.Minute)
	n, err = q.ReapExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	reaped, err := q.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, queue.JobStatusPending, reaped.Status)
	assert.Equal(t, 1, reaped.Attempt)
	require.NotNil(t, reaped.LastError)
	assert.Equal(t, "lease expired", *reaped.LastError)

	// The crashed claimant coming back late cannot overwrite the new state
	assert.ErrorIs(t, q.Complete(ctx, job), queue.ErrJobNotRunning)
}

func TestQueue_Cancel(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	q, _, _ := newTestQueue(t)

	pending, err := q.Schedule(ctx, "job", nil, queue.PriorityNormal, time.Hour)
	require.NoError(t, err)
	require.NoError(t, q.Cancel(ctx, pending))

	_, err = q.Get(ctx, pending)
	assert.ErrorIs(t, err, queue.ErrJobNotFound)

	running, err := q.Schedule(ctx, "job", nil, queue.PriorityNormal, 0)
	require.NoError(t, err)
	_, err = q.Claim(ctx)
	require.NoError(t, err)

	assert.ErrorIs(t, q.Cancel(ctx, running), queue.ErrJobNotPending)
	assert.ErrorIs(t, q.Cancel(ctx, uuid.New()), queue.ErrJobNotFound)
}

func TestQueue_StatsAndPurge(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	q, _, clock := newTestQueue(t)

	_, err := q.Schedule(ctx, "a", nil, queue.PriorityNormal, 0)
	require.NoError(t, err)
	_, err = q.Schedule(ctx, "b", nil, queue.PriorityNormal, 0)
	require.NoError(t, err)
	_, err = q.Schedule(ctx, "c", nil, queue.PriorityNormal, time.Hour)
	require.NoError(t, err)

	done, err := q.Claim(ctx)
	require.NoError(t, err)
	require.NoError(t, q.Complete(ctx, done))

	failed, err := q.Claim(ctx)
	require.NoError(t, err)
	require.NoError(t, q.Kill(ctx, failed, "fatal"))

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats[queue.JobStatusPending])
	assert.Equal(t, int64(0), stats[queue.JobStatusRunning])
	assert.Equal(t, int64(1), stats[queue.JobStatusCompleted])
	assert.Equal(t, int64(1), stats[queue.JobStatusDead])

	clock.Advance(48 * time.Hour)
	n, err := q.Purge(ctx, clock.Now().Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	stats, err = q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats[queue.JobStatusPending])
	assert.Equal(t, int64(0), stats[queue.JobStatusCompleted])
}
