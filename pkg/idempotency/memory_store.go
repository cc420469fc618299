package idempotency

import (
	"context"
	"sync"
	"time"
)

// MemoryStore implements Store in process memory for tests and single-process setups
type MemoryStore struct {
	mu     sync.Mutex
	claims map[string]Claim
}

// NewMemoryStore creates an empty in-memory claim store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{claims: make(map[string]Claim)}
}

// TryClaim implements Store
func (ms *MemoryStore) TryClaim(ctx context.Context, eventID, token string, now time.Time, ttl time.Duration) (bool, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	if c, exists := ms.claims[eventID]; exists && c.ExpiresAt.After(now) {
		return false, nil
	}

	ms.claims[eventID] = Claim{
		EventID:   eventID,
		Status:    StatusProcessing,
		Token:     token,
		ClaimedAt: now,
		ExpiresAt: now.Add(ttl),
	}
	return true, nil
}

// MarkCompleted implements Store
func (ms *MemoryStore) MarkCompleted(ctx context.Context, eventID, token string, now time.Time, retention time.Duration) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	c, exists := ms.claims[eventID]
	if !exists || c.Token != token {
		return ErrClaimNotOwned
	}

	c.Status = StatusCompleted
	c.ExpiresAt = now.Add(retention)
	ms.claims[eventID] = c
	return nil
}

// Delete implements Store
func (ms *MemoryStore) Delete(ctx context.Context, eventID, token string) error {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	c, exists := ms.claims[eventID]
	if !exists || c.Token != token {
		return ErrClaimNotOwned
	}
	delete(ms.claims, eventID)
	return nil
}

// Get implements Store
func (ms *MemoryStore) Get(ctx context.Context, eventID string, now time.Time) (*Claim, error) {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	c, exists := ms.claims[eventID]
	if !exists || !c.ExpiresAt.After(now) {
		return nil, ErrClaimNotFound
	}
	return &c, nil
}

// Prune removes expired claims and returns how many were dropped
func (ms *MemoryStore) Prune(now time.Time) int {
	ms.mu.Lock()
	defer ms.mu.Unlock()

	n := 0
	for id, c := range ms.claims {
		if !c.ExpiresAt.After(now) {
			delete(ms.claims, id)
			n++
		}
	}
	return n
}
