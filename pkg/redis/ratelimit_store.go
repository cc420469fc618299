package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// incrementIfBelow keeps {ws, c} in a hash per key. A newer window start resets
// the count and an older one counts against the stored window; the key expires
// one window after its last hit.
var incrementIfBelow = redis.NewScript(`
local start = ARGV[1]
local count = 0
local stored = redis.call('HGET', KEYS[1], 'ws')
if stored and tonumber(stored) >= tonumber(start) then
	start = stored
	count = tonumber(redis.call('HGET', KEYS[1], 'c'))
end
if count >= tonumber(ARGV[2]) then
	return {count, 0}
end
count = count + 1
redis.call('HSET', KEYS[1], 'ws', start, 'c', count)
redis.call('PEXPIRE', KEYS[1], ARGV[3])
return {count, 1}
`)

// RateLimitStore implements ratelimiter.Store on Redis so limits hold across processes
type RateLimitStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRateLimitStore creates a rate limit store. Keys are written as prefix+"rl:"+key.
func NewRateLimitStore(client redis.UniversalClient, prefix string) (*RateLimitStore, error) {
	if client == nil {
		return nil, ErrClientNil
	}
	return &RateLimitStore{client: client, prefix: prefix + "rl:"}, nil
}

// IncrementIfBelow implements ratelimiter.Store
func (s *RateLimitStore) IncrementIfBelow(ctx context.Context, key string, windowStart time.Time, window time.Duration, limit int) (int, bool, error) {
	if limit <= 0 {
		return 0, false, nil
	}

	res, err := incrementIfBelow.Run(ctx, s.client, []string{s.prefix + key},
		strconv.FormatInt(windowStart.UnixMilli(), 10),
		limit,
		max(window.Milliseconds(), 1),
	).Int64Slice()
	if err != nil {
		return 0, false, fmt.Errorf("increment rate limit: %w", err)
	}
	if len(res) != 2 {
		return 0, false, fmt.Errorf("increment rate limit: unexpected reply %v", res)
	}

	return int(res[0]), res[1] == 1, nil
}

// Reset implements ratelimiter.Store
func (s *RateLimitStore) Reset(ctx context.Context, key string) error {
	if err := s.client.Del(ctx, s.prefix+key).Err(); err != nil {
		return fmt.Errorf("reset rate limit: %w", err)
	}
	return nil
}
