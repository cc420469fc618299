package ratelimiter

import (
	"context"
	"sync"
	"time"
)

// counter is the state of one key's current window.
type counter struct {
	windowStart time.Time
	expiresAt   time.Time // Used by cleanup to identify stale windows
	count       int
}

// MemoryStore implements Store interface using in-memory storage.
// Counters are only shared within one process.
type MemoryStore struct {
	mu       sync.Mutex
	counters map[string]*counter

	cleanupInterval time.Duration
	stopCleanup     chan struct{}
	closeOnce       sync.Once
}

// MemoryStoreOption configures a MemoryStore.
type MemoryStoreOption func(*MemoryStore)

// WithCleanupInterval sets the cleanup interval for removing finished windows.
// Set to 0 to disable automatic cleanup.
func WithCleanupInterval(interval time.Duration) MemoryStoreOption {
	return func(ms *MemoryStore) {
		ms.cleanupInterval = interval
	}
}

// NewMemoryStore creates a new in-memory store with optional cleanup.
func NewMemoryStore(opts ...MemoryStoreOption) *MemoryStore {
	ms := &MemoryStore{
		counters:        make(map[string]*counter),
		cleanupInterval: 5 * time.Minute,
		stopCleanup:     make(chan struct{}),
	}

	for _, opt := range opts {
		opt(ms)
	}

	if ms.cleanupInterval > 0 {
		go ms.cleanup()
	}

	return ms
}

// IncrementIfBelow implements Store.
func (ms *MemoryStore) IncrementIfBelow(ctx context.Context, key string, windowStart time.Time, window time.Duration, limit int) (int, bool, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	// A lagging caller's older window counts against the newer one
	c, exists := ms.counters[key]
	if !exists || windowStart.After(c.windowStart) {
		c = &counter{windowStart: windowStart, expiresAt: windowStart.Add(window)}
		ms.counters[key] = c
	}

	if c.count >= limit {
		return c.count, false, nil
	}

	c.count++
	return c.count, true, nil
}

func (ms *MemoryStore) Reset(ctx context.Context, key string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	delete(ms.counters, key)
	return nil
}

func (ms *MemoryStore) cleanup() {
	ticker := time.NewTicker(ms.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ms.removeExpired(time.Now())
		case <-ms.stopCleanup:
			return
		}
	}
}

// removeExpired drops counters whose window ended before now.
func (ms *MemoryStore) removeExpired(now time.Time) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	for key, c := range ms.counters {
		if !c.expiresAt.After(now) {
			delete(ms.counters, key)
		}
	}
}

// Close stops the cleanup goroutine. Safe to call multiple times.
func (ms *MemoryStore) Close() {
	ms.closeOnce.Do(func() {
		close(ms.stopCleanup)
	})
}
