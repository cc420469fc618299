package idempotency_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/jobq/pkg/idempotency"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
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

type MockStore struct {
	mock.Mock
}

func (m *MockStore) TryClaim(ctx context.Context, eventID, token string, now time.Time, ttl time.Duration) (bool, error) {
	args := m.Called(ctx, eventID, token, now, ttl)
	return args.Bool(0), args.Error(1)
}

func (m *MockStore) MarkCompleted(ctx context.Context, eventID, token string, now time.Time, retention time.Duration) error {
	args := m.Called(ctx, eventID, token, now, retention)
	return args.Error(0)
}

func (m *MockStore) Delete(ctx context.Context, eventID, token string) error {
	args := m.Called(ctx, eventID, token)
	return args.Error(0)
}

func (m *MockStore) Get(ctx context.Context, eventID string, now time.Time) (*idempotency.Claim, error) {
	args := m.Called(ctx, eventID, now)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*idempotency.Claim), args.Error(1)
}

func TestNew(t *testing.T) {
	t.Parallel()

	_, err := idempotency.New(nil)
	assert.ErrorIs(t, err, idempotency.ErrStoreNil)

	c, err := idempotency.New(idempotency.NewMemoryStore())
	require.NoError(t, err)
	assert.NotNil(t, c)
}

func TestClaimer_Claim(t *testing.T) {
	t.Parallel()

	ctx := context.Background()

	t.Run("first caller wins, duplicates lose", func(t *testing.T) {
		t.Parallel()

		c, err := idempotency.New(idempotency.NewMemoryStore())
		require.NoError(t, err)

		token, ok, err := c.Claim(ctx, "evt-1")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.NotEmpty(t, token)

		dupToken, ok, err := c.Claim(ctx, "evt-1")
		require.NoError(t, err)
		assert.False(t, ok)
		assert.Empty(t, dupToken)

		other, ok, err := c.Claim(ctx, "evt-2")
		require.NoError(t, err)
		assert.True(t, ok)
		assert.NotEqual(t, token, other)
	})

	t.Run("empty event id", func(t *testing.T) {
		t.Parallel()

		c, err := idempotency.New(idempotency.NewMemoryStore())
		require.NoError(t, err)

		_, _, err = c.Claim(ctx, "")
		assert.ErrorIs(t, err, idempotency.ErrEmptyEventID)
		assert.ErrorIs(t, c.Release(ctx, "evt", ""), idempotency.ErrEmptyToken)
		assert.ErrorIs(t, c.Complete(ctx, "", "tok"), idempotency.ErrEmptyEventID)
	})

	t.Run("expired processing claim can be taken over", func(t *testing.T) {
		t.Parallel()

		clock := &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
		c, err := idempotency.New(idempotency.NewMemoryStore(),
			idempotency.WithClock(clock.Now),
			idempotency.WithProcessingTTL(time.Minute))
		require.NoError(t, err)

		_, ok, err := c.Claim(ctx, "evt")
		require.NoError(t, err)
		require.True(t, ok)

		clock.Advance(59 * time.Second)
		_, ok, err = c.Claim(ctx, "evt")
		require.NoError(t, err)
		assert.False(t, ok)

		clock.Advance(time.Second)
		_, ok, err = c.Claim(ctx, "evt")
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("completed claim is kept for the retention period", func(t *testing.T) {
		t.Parallel()

		clock := &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
		c, err := idempotency.New(idempotency.NewMemoryStore(),
			idempotency.WithClock(clock.Now),
			idempotency.WithProcessingTTL(time.Minute),
			idempotency.WithRetention(time.Hour))
		require.NoError(t, err)

		token, ok, err := c.Claim(ctx, "evt")
		require.NoError(t, err)
		require.True(t, ok)
		require.NoError(t, c.Complete(ctx, "evt", token))

		claim, err := c.Get(ctx, "evt")
		require.NoError(t, err)
		assert.Equal(t, idempotency.StatusCompleted, claim.Status)

		clock.Advance(30 * time.Minute)
		_, ok, err = c.Claim(ctx, "evt")
		require.NoError(t, err)
		assert.False(t, ok)

		clock.Advance(31 * time.Minute)
		_, ok, err = c.Claim(ctx, "evt")
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("release lets the event through again", func(t *testing.T) {
		t.Parallel()

		c, err := idempotency.New(idempotency.NewMemoryStore())
		require.NoError(t, err)

		token, ok, err := c.Claim(ctx, "evt")
		require.NoError(t, err)
		require.True(t, ok)

		require.NoError(t, c.Release(ctx, "evt", token))

		_, ok, err = c.Claim(ctx, "evt")
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("stale owner cannot release or complete a taken over claim", func(t *testing.T) {
		t.Parallel()

		clock := &fakeClock{now: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)}
		c, err := idempotency.New(idempotency.NewMemoryStore(),
			idempotency.WithClock(clock.Now),
			idempotency.WithProcessingTTL(15*time.Minute))
		require.NoError(t, err)

		staleToken, ok, err := c.Claim(ctx, "evt")
		require.NoError(t, err)
		require.True(t, ok)

		clock.Advance(16 * time.Minute)
		ownerToken, ok, err := c.Claim(ctx, "evt")
		require.NoError(t, err)
		require.True(t, ok)

		assert.ErrorIs(t, c.Release(ctx, "evt", staleToken), idempotency.ErrClaimNotOwned)
		assert.ErrorIs(t, c.Complete(ctx, "evt", staleToken), idempotency.ErrClaimNotOwned)

		_, ok, err = c.Claim(ctx, "evt")
		require.NoError(t, err)
		assert.False(t, ok, "the current owner's claim must survive the stale release")

		require.NoError(t, c.Complete(ctx, "evt", ownerToken))
		claim, err := c.Get(ctx, "evt")
		require.NoError(t, err)
		assert.Equal(t, idempotency.StatusCompleted, claim.Status)
		assert.Equal(t, ownerToken, claim.Token)
	})

	t.Run("store errors are returned", func(t *testing.T) {
		t.Parallel()

		storeErr := errors.New("connection refused")
		store := new(MockStore)
		store.On("TryClaim", mock.Anything, "evt", mock.AnythingOfType("string"), mock.Anything, idempotency.DefaultProcessingTTL).Return(false, storeErr)
		store.On("Delete", mock.Anything, "evt", "tok").Return(storeErr)
		defer store.AssertExpectations(t)

		c, err := idempotency.New(store)
		require.NoError(t, err)

		token, ok, err := c.Claim(ctx, "evt")
		assert.False(t, ok)
		assert.Empty(t, token)
		assert.ErrorIs(t, err, storeErr)

		assert.ErrorIs(t, c.Release(ctx, "evt", "tok"), storeErr)
	})
}

func TestClaimer_ConcurrentClaimExactlyOneWins(t *testing.T) {
	t.Parallel()

	c, err := idempotency.New(idempotency.NewMemoryStore())
	require.NoError(t, err)

	var wins atomic.Int64
	var wg sync.WaitGroup
	start := make(chan struct{})
	for range 50 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, ok, err := c.Claim(context.Background(), "evt-race")
			if err == nil && ok {
				wins.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, int64(1), wins.Load())
}

func TestMemoryStore_Prune(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	store := idempotency.NewMemoryStore()
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	_, err := store.TryClaim(ctx, "old", "tok-old", now, time.Minute)
	require.NoError(t, err)
	_, err = store.TryClaim(ctx, "fresh", "tok-fresh", now, time.Hour)
	require.NoError(t, err)

	assert.Equal(t, 1, store.Prune(now.Add(2*time.Minute)))

	_, err = store.Get(ctx, "old", now)
	assert.ErrorIs(t, err, idempotency.ErrClaimNotFound)
	_, err = store.Get(ctx, "fresh", now)
	assert.NoError(t, err)
}
