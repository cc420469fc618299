package queue_test

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/jobq/pkg/queue"
)

func TestWorker_StartStop(t *testing.T) {
	t.Parallel()

	t.Run("requires handlers", func(t *testing.T) {
		t.Parallel()

		q, _, _ := newTestQueue(t)
		w, err := queue.NewWorker(newTestExecutor(t, q, queue.NewRegistry()))
		require.NoError(t, err)

		assert.ErrorIs(t, w.Start(context.Background()), queue.ErrNoHandlers)
	})

	t.Run("nil executor", func(t *testing.T) {
		t.Parallel()

		_, err := queue.NewWorker(nil)
		assert.ErrorIs(t, err, queue.ErrQueueNil)
	})

	t.Run("lifecycle errors", func(t *testing.T) {
		t.Parallel()

		q, _, _ := newTestQueue(t)
		registry := queue.NewRegistry()
		registry.MustRegister("job", queue.HandlerFunc(func(ctx context.Context, args json.RawMessage) error { return nil }))

		w, err := queue.NewWorker(newTestExecutor(t, q, registry), queue.WithPollInterval(10*time.Millisecond))
		require.NoError(t, err)

		assert.ErrorIs(t, w.Stop(), queue.ErrWorkerNotStarted)
		require.NoError(t, w.Start(context.Background()))
		assert.ErrorIs(t, w.Start(context.Background()), queue.ErrWorkerAlreadyStarted)
		require.NoError(t, w.Stop())

		id, hostname, pid := w.WorkerInfo()
		assert.NotEmpty(t, id)
		assert.NotEmpty(t, hostname)
		assert.Positive(t, pid)
	})
}

func TestWorker_ProcessesJobs(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	q, _, _ := newTestQueue(t)

	var processed atomic.Int32
	registry := queue.NewRegistry()
	registry.MustRegister("job", queue.HandlerFunc(func(ctx context.Context, args json.RawMessage) error {
		processed.Add(1)
		return nil
	}))

	for range 5 {
		_, err := q.Schedule(ctx, "job", nil, queue.PriorityNormal, 0)
		require.NoError(t, err)
	}

	w, err := queue.NewWorker(newTestExecutor(t, q, registry),
		queue.WithPollInterval(10*time.Millisecond),
		queue.WithMaxJobsPerTick(3),
		queue.WithWorkerLogger(discardLogger()))
	require.NoError(t, err)

	require.NoError(t, w.Start(ctx))
	require.Eventually(t, func() bool {
		return processed.Load() == 5
	}, 2*time.Second, 10*time.Millisecond)
	require.NoError(t, w.Stop())

	stats, err := q.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(5), stats[queue.JobStatusCompleted])
}

func TestWorker_StopWaitsForRunningJob(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	q, _, _ := newTestQueue(t)

	started := make(chan struct{})
	release := make(chan struct{})
	registry := queue.NewRegistry()
	registry.MustRegister("slow", queue.HandlerFunc(func(ctx context.Context, args json.RawMessage) error {
		close(started)
		<-release
		return nil
	}))

	id, err := q.Schedule(ctx, "slow", nil, queue.PriorityNormal, 0)
	require.NoError(t, err)

	w, err := queue.NewWorker(newTestExecutor(t, q, registry),
		queue.WithPollInterval(10*time.Millisecond),
		queue.WithWorkerLogger(discardLogger()))
	require.NoError(t, err)
	require.NoError(t, w.Start(ctx))

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("job did not start")
	}

	stopped := make(chan error, 1)
	go func() { stopped <- w.Stop() }()

	select {
	case <-stopped:
		t.Fatal("stop returned while a job was running")
	case <-time.After(50 * time.Millisecond):
	}

	close(release)
	require.NoError(t, <-stopped)

	job, err := q.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, queue.JobStatusCompleted, job.Status)
}

func TestWorker_Run(t *testing.T) {
	t.Parallel()

	q, _, _ := newTestQueue(t)
	registry := queue.NewRegistry()
	registry.MustRegister("job", queue.HandlerFunc(func(ctx context.Context, args json.RawMessage) error { return nil }))

	w, err := queue.NewWorker(newTestExecutor(t, q, registry), queue.WithPollInterval(10*time.Millisecond))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx)() }()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("run did not return after cancellation")
	}
}

func TestConfig_Options(t *testing.T) {
	t.Parallel()

	cfg := queue.Config{
		PollInterval:       time.Second,
		LeaseDuration:      2 * time.Minute,
		MaxAttempts:        3,
		BackoffBase:        10 * time.Second,
		BackoffMax:         time.Minute,
		AgingInterval:      0,
		MaxConcurrentTicks: 2,
		MaxJobsPerTick:     4,
	}

	storage := queue.NewMemoryStorage()
	clock := newFakeClock()
	q, err := queue.New(storage, append(cfg.Options(), queue.WithClock(clock.Now), queue.WithLogger(discardLogger()))...)
	require.NoError(t, err)

	ctx := context.Background()
	id, err := q.Schedule(ctx, "job", nil, queue.PriorityNormal, 0)
	require.NoError(t, err)

	job, err := q.Claim(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, job.MaxAttempts)
	assert.Equal(t, clock.Now().Add(2*time.Minute), *job.LockedUntil)

	_, err = q.Retry(ctx, job, "x")
	require.NoError(t, err)
	retried, err := q.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, clock.Now().Add(10*time.Second), retried.ScheduledAt)

	w, err := queue.NewWorker(newTestExecutor(t, q, queue.NewRegistry()), cfg.WorkerOptions()...)
	require.NoError(t, err)
	assert.NotNil(t, w)
}
