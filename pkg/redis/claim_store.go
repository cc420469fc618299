package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/dmitrymomot/jobq/pkg/idempotency"
)

// Claims are hashes {st, tok, at, exp} with millisecond timestamps. Expiry is
// judged against the caller's clock; the Redis TTL only bounds memory.
// Completion and deletion only touch a claim whose tok matches.
var (
	tryClaim = redis.NewScript(`
local exp = redis.call('HGET', KEYS[1], 'exp')
if exp and tonumber(exp) > tonumber(ARGV[1]) then
	return 0
end
redis.call('HSET', KEYS[1], 'st', ARGV[3], 'tok', ARGV[5], 'at', ARGV[1], 'exp', ARGV[2])
redis.call('PEXPIRE', KEYS[1], ARGV[4])
return 1
`)

	markCompleted = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'tok') ~= ARGV[4] then
	return 0
end
redis.call('HSET', KEYS[1], 'st', ARGV[1], 'exp', ARGV[2])
redis.call('PEXPIRE', KEYS[1], ARGV[3])
return 1
`)

	deleteClaim = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'tok') ~= ARGV[1] then
	return 0
end
return redis.call('DEL', KEYS[1])
`)
)

// ClaimStore implements idempotency.Store on Redis
type ClaimStore struct {
	client redis.UniversalClient
	prefix string
}

// NewClaimStore creates a claim store. Keys are written as prefix+"claim:"+eventID.
func NewClaimStore(client redis.UniversalClient, prefix string) (*ClaimStore, error) {
	if client == nil {
		return nil, ErrClientNil
	}
	return &ClaimStore{client: client, prefix: prefix + "claim:"}, nil
}

// TryClaim implements idempotency.Store
func (s *ClaimStore) TryClaim(ctx context.Context, eventID, token string, now time.Time, ttl time.Duration) (bool, error) {
	ok, err := tryClaim.Run(ctx, s.client, []string{s.prefix + eventID},
		now.UnixMilli(),
		now.Add(ttl).UnixMilli(),
		string(idempotency.StatusProcessing),
		max(ttl.Milliseconds(), 1),
		token,
	).Int()
	if err != nil {
		return false, fmt.Errorf("claim event: %w", err)
	}
	return ok == 1, nil
}

// MarkCompleted implements idempotency.Store
func (s *ClaimStore) MarkCompleted(ctx context.Context, eventID, token string, now time.Time, retention time.Duration) error {
	ok, err := markCompleted.Run(ctx, s.client, []string{s.prefix + eventID},
		string(idempotency.StatusCompleted),
		now.Add(retention).UnixMilli(),
		max(retention.Milliseconds(), 1),
		token,
	).Int()
	if err != nil {
		return fmt.Errorf("complete claim: %w", err)
	}
	if ok == 0 {
		return idempotency.ErrClaimNotOwned
	}
	return nil
}

// Delete implements idempotency.Store
func (s *ClaimStore) Delete(ctx context.Context, eventID, token string) error {
	n, err := deleteClaim.Run(ctx, s.client, []string{s.prefix + eventID}, token).Int()
	if err != nil {
		return fmt.Errorf("delete claim: %w", err)
	}
	if n == 0 {
		return idempotency.ErrClaimNotOwned
	}
	return nil
}

// Get implements idempotency.Store
func (s *ClaimStore) Get(ctx context.Context, eventID string, now time.Time) (*idempotency.Claim, error) {
	fields, err := s.client.HGetAll(ctx, s.prefix+eventID).Result()
	if err != nil {
		return nil, fmt.Errorf("get claim: %w", err)
	}
	if len(fields) == 0 {
		return nil, idempotency.ErrClaimNotFound
	}

	claimedAt, err := parseMillis(fields["at"])
	if err != nil {
		return nil, fmt.Errorf("get claim: %w", err)
	}
	expiresAt, err := parseMillis(fields["exp"])
	if err != nil {
		return nil, fmt.Errorf("get claim: %w", err)
	}
	if !expiresAt.After(now) {
		return nil, idempotency.ErrClaimNotFound
	}

	return &idempotency.Claim{
		EventID:   eventID,
		Status:    idempotency.Status(fields["st"]),
		Token:     fields["tok"],
		ClaimedAt: claimedAt,
		ExpiresAt: expiresAt,
	}, nil
}

func parseMillis(s string) (time.Time, error) {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	return time.UnixMilli(ms).UTC(), nil
}
