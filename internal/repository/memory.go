package repository

import (
	"context"
	"sync"
	"time"
)

// MemoryDedupeStore keeps claims in process. It is the fallback when Redis is down and
// the only store in single-instance setups.
type MemoryDedupeStore struct {
	mu     sync.Mutex
	claims map[string]time.Time
	now    func() time.Time
}

func NewMemoryDedupeStore() *MemoryDedupeStore {
	return &MemoryDedupeStore{
		claims: make(map[string]time.Time),
		now:    time.Now,
	}
}

func (r *MemoryDedupeStore) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.now()
	if expiresAt, ok := r.claims[key]; ok && now.Before(expiresAt) {
		return false, nil
	}
	r.claims[key] = now.Add(ttl)

	// Expired entries are swept lazily so the map stays bounded by live claims.
	if len(r.claims)%512 == 0 {
		for k, exp := range r.claims {
			if !now.Before(exp) {
				delete(r.claims, k)
			}
		}
	}
	return true, nil
}

func (r *MemoryDedupeStore) Release(ctx context.Context, key string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.claims, key)
	return nil
}
