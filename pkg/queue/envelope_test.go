package queue_test

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/jobq/pkg/queue"
)

func TestParsePayload(t *testing.T) {
	t.Parallel()

	t.Run("v2 envelope", func(t *testing.T) {
		t.Parallel()

		raw := []byte(`{"_version":2,"_meta":{"priority":1,"scheduled_at":1700000000,"attempt":2,"last_retry":1700000100,"recurring":true,"interval":60},"args":{"product_id":42}}`)

		p, err := queue.ParsePayload(raw)
		require.NoError(t, err)
		env, ok := p.(*queue.EnvelopeV2)
		require.True(t, ok)
		assert.Equal(t, 2, env.Version)

		u := queue.Normalize(p)
		assert.False(t, u.Legacy)
		assert.JSONEq(t, `{"product_id":42}`, string(u.Args))
		assert.Equal(t, queue.PriorityCritical, u.Meta.Priority)
		assert.Equal(t, int64(1700000000), u.Meta.ScheduledAt)
		assert.Equal(t, 2, u.Meta.Attempt)
		require.NotNil(t, u.Meta.LastRetry)
		assert.Equal(t, int64(1700000100), *u.Meta.LastRetry)
		assert.True(t, u.Meta.Recurring)
		require.NotNil(t, u.Meta.Interval)
		assert.Equal(t, 60, *u.Meta.Interval)
	})

	t.Run("legacy payload", func(t *testing.T) {
		t.Parallel()

		p, err := queue.ParsePayload([]byte(`{"order_id":"A-1","notify":true}`))
		require.NoError(t, err)
		_, ok := p.(*queue.LegacyPayload)
		require.True(t, ok)

		u := queue.Normalize(p)
		assert.True(t, u.Legacy)
		assert.JSONEq(t, `{"order_id":"A-1","notify":true}`, string(u.Args))
		assert.Equal(t, queue.PriorityNormal, u.Meta.Priority)
		assert.Zero(t, u.Meta.Attempt)
	})

	t.Run("envelope without meta priority defaults to normal", func(t *testing.T) {
		t.Parallel()

		u, err := queue.UnwrapPayloadCompat([]byte(`{"_version":2,"args":{"a":1}}`))
		require.NoError(t, err)
		assert.Equal(t, queue.PriorityNormal, u.Meta.Priority)
		assert.JSONEq(t, `{"a":1}`, string(u.Args))
	})

	t.Run("envelope without args yields empty object", func(t *testing.T) {
		t.Parallel()

		u, err := queue.UnwrapPayloadCompat([]byte(`{"_version":2,"_meta":{"priority":4}}`))
		require.NoError(t, err)
		assert.JSONEq(t, `{}`, string(u.Args))
		assert.Equal(t, queue.PriorityBulk, u.Meta.Priority)
	})

	t.Run("empty payload is an empty legacy map", func(t *testing.T) {
		t.Parallel()

		u, err := queue.UnwrapPayloadCompat(nil)
		require.NoError(t, err)
		assert.True(t, u.Legacy)
		assert.JSONEq(t, `{}`, string(u.Args))
	})

	invalid := []struct {
		name string
		raw  string
	}{
		{name: "unsupported version", raw: `{"_version":3,"args":{}}`},
		{name: "version is not a number", raw: `{"_version":"2","args":{}}`},
		{name: "array", raw: `[1,2,3]`},
		{name: "string", raw: `"hello"`},
		{name: "null", raw: `null`},
		{name: "malformed", raw: `{"a":`},
		{name: "priority out of range", raw: `{"_version":2,"_meta":{"priority":9},"args":{}}`},
	}

	for _, tt := range invalid {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			_, err := queue.ParsePayload([]byte(tt.raw))
			assert.ErrorIs(t, err, queue.ErrInvalidPayload)
		})
	}
}

func TestWrapPayload(t *testing.T) {
	t.Parallel()

	interval := 300
	raw, err := queue.WrapPayload(json.RawMessage(`{"id":7}`), queue.EnvelopeMeta{
		Priority:    queue.PriorityUrgent,
		ScheduledAt: 1700000000,
		Recurring:   true,
		Interval:    &interval,
	})
	require.NoError(t, err)

	assert.JSONEq(t, `{
		"_version": 2,
		"_meta": {"priority": 2, "scheduled_at": 1700000000, "attempt": 0, "last_retry": null, "recurring": true, "interval": 300},
		"args": {"id": 7}
	}`, string(raw))

	u, err := queue.UnwrapPayloadCompat(raw)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":7}`, string(u.Args))
	assert.Equal(t, queue.PriorityUrgent, u.Meta.Priority)
}

func TestDedupeKey(t *testing.T) {
	t.Parallel()

	a, err := queue.DedupeKey("send_webhook", json.RawMessage(`{"b":2,"a":1}`))
	require.NoError(t, err)
	b, err := queue.DedupeKey("send_webhook", json.RawMessage(`{ "a": 1, "b": 2 }`))
	require.NoError(t, err)
	assert.Equal(t, a, b, "key order and whitespace are ignored")
	assert.Len(t, a, 64)

	c, err := queue.DedupeKey("other_hook", json.RawMessage(`{"a":1,"b":2}`))
	require.NoError(t, err)
	assert.NotEqual(t, a, c, "hook name is part of the key")

	big1, err := queue.DedupeKey("h", json.RawMessage(`{"id":12345678901234567890}`))
	require.NoError(t, err)
	big2, err := queue.DedupeKey("h", json.RawMessage(`{"id":12345678901234567891}`))
	require.NoError(t, err)
	assert.NotEqual(t, big1, big2, "large numbers keep their precision")

	_, err = queue.DedupeKey("h", json.RawMessage(`{"a":`))
	assert.Error(t, err)
}
