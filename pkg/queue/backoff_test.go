package queue_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/dmitrymomot/jobq/pkg/queue"
)

func TestExponentialBackoff(t *testing.T) {
	t.Parallel()

	t.Run("doubles without jitter", func(t *testing.T) {
		t.Parallel()

		b := queue.ExponentialBackoff{InitialInterval: 30 * time.Second, MaxInterval: time.Hour}
		assert.Equal(t, time.Duration(0), b.NextInterval(0))
		assert.Equal(t, 30*time.Second, b.NextInterval(1))
		assert.Equal(t, time.Minute, b.NextInterval(2))
		assert.Equal(t, 2*time.Minute, b.NextInterval(3))
		assert.Equal(t, time.Hour, b.NextInterval(10))
	})

	t.Run("strictly increasing and capped with jitter", func(t *testing.T) {
		t.Parallel()

		b := queue.DefaultBackoff()
		for range 50 {
			prev := time.Duration(0)
			for attempt := 1; attempt <= 20; attempt++ {
				d := b.NextInterval(attempt)
				assert.LessOrEqual(t, d, queue.DefaultBackoffMax)
				if d < queue.DefaultBackoffMax {
					assert.Greater(t, d, prev, "attempt %d", attempt)
				}
				prev = d
			}
		}
	})

	t.Run("jitter stays within factor", func(t *testing.T) {
		t.Parallel()

		b := queue.ExponentialBackoff{InitialInterval: 10 * time.Second, MaxInterval: time.Hour, JitterFactor: 0.5}
		for range 100 {
			d := b.NextInterval(1)
			assert.GreaterOrEqual(t, d, 10*time.Second)
			assert.Less(t, d, 15*time.Second)
		}
	})

	t.Run("zero values fall back to defaults", func(t *testing.T) {
		t.Parallel()

		var b queue.ExponentialBackoff
		assert.Equal(t, queue.DefaultBackoffBase, b.NextInterval(1))
		assert.Equal(t, queue.DefaultBackoffMax, b.NextInterval(1000))
	})
}

func TestFixedBackoff(t *testing.T) {
	t.Parallel()

	b := queue.FixedBackoff{Interval: time.Minute}
	assert.Equal(t, time.Duration(0), b.NextInterval(0))
	assert.Equal(t, time.Minute, b.NextInterval(1))
	assert.Equal(t, time.Minute, b.NextInterval(7))
}
