package queue_test

import (
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/jobq/pkg/queue"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// noJitter makes retry schedules exact: 30s, 60s, 120s, ...
var noJitter = queue.ExponentialBackoff{
	InitialInterval: 30 * time.Second,
	MaxInterval:     time.Hour,
}

func newTestQueue(t *testing.T, opts ...queue.Option) (*queue.Queue, *queue.MemoryStorage, *fakeClock) {
	t.Helper()

	storage := queue.NewMemoryStorage()
	clock := newFakeClock()

	base := []queue.Option{
		queue.WithClock(clock.Now),
		queue.WithLogger(discardLogger()),
		queue.WithBackoff(noJitter),
	}
	q, err := queue.New(storage, append(base, opts...)...)
	require.NoError(t, err)

	return q, storage, clock
}
