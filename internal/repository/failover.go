package repository

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"villaops/internal/domain"

	"github.com/rs/zerolog"
)

// FailoverDedupeStore prefers the primary store and switches to the fallback after a
// primary error. The primary is retried once per recoveryInterval.
type FailoverDedupeStore struct {
	primary  domain.DedupeStore
	fallback domain.DedupeStore
	logger   *zerolog.Logger
	isDown   atomic.Bool

	mu               sync.Mutex
	lastCheck        time.Time
	recoveryInterval time.Duration
}

func NewFailoverDedupeStore(primary, fallback domain.DedupeStore, logger *zerolog.Logger) *FailoverDedupeStore {
	return &FailoverDedupeStore{
		primary:          primary,
		fallback:         fallback,
		logger:           logger,
		recoveryInterval: time.Minute,
	}
}

func (r *FailoverDedupeStore) markDown(err error) {
	r.logger.Error().Err(err).Msg("Primary dedupe store failed, falling back to memory")
	r.isDown.Store(true)
	r.mu.Lock()
	r.lastCheck = time.Now()
	r.mu.Unlock()
}

// usePrimary reports whether the primary should be tried now.
func (r *FailoverDedupeStore) usePrimary() bool {
	if !r.isDown.Load() {
		return true
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if time.Since(r.lastCheck) > r.recoveryInterval {
		r.lastCheck = time.Now()
		return true
	}
	return false
}

func (r *FailoverDedupeStore) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if r.usePrimary() {
		ok, err := r.primary.Claim(ctx, key, ttl)
		if err == nil {
			if r.isDown.Swap(false) {
				r.logger.Info().Msg("Primary dedupe store recovered")
			}
			return ok, nil
		}
		r.markDown(err)
	}
	return r.fallback.Claim(ctx, key, ttl)
}

// Release clears the key in both stores; a claim may have landed in either.
func (r *FailoverDedupeStore) Release(ctx context.Context, key string) error {
	_ = r.fallback.Release(ctx, key)
	if r.isDown.Load() {
		return nil
	}
	if err := r.primary.Release(ctx, key); err != nil {
		r.markDown(err)
	}
	return nil
}
