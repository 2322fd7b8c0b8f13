package repository

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

type mockStore struct {
	mock.Mock
}

func (m *mockStore) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	args := m.Called(ctx, key, ttl)
	return args.Bool(0), args.Error(1)
}

func (m *mockStore) Release(ctx context.Context, key string) error {
	return m.Called(ctx, key).Error(0)
}

func TestFailoverDedupeStore(t *testing.T) {
	primary := new(mockStore)
	fallback := new(mockStore)
	logger := zerolog.New(io.Discard)
	repo := NewFailoverDedupeStore(primary, fallback, &logger)
	ctx := context.Background()

	t.Run("PrimarySuccess", func(t *testing.T) {
		primary.On("Claim", ctx, "k1", time.Hour).Return(true, nil).Once()

		ok, err := repo.Claim(ctx, "k1", time.Hour)
		assert.NoError(t, err)
		assert.True(t, ok)
		primary.AssertExpectations(t)
		fallback.AssertNotCalled(t, "Claim", ctx, "k1", time.Hour)
	})

	t.Run("PrimaryFailureFallsBack", func(t *testing.T) {
		primary.On("Claim", ctx, "k2", time.Hour).Return(false, errors.New("redis down")).Once()
		fallback.On("Claim", ctx, "k2", time.Hour).Return(true, nil).Once()

		ok, err := repo.Claim(ctx, "k2", time.Hour)
		assert.NoError(t, err)
		assert.True(t, ok)
		assert.True(t, repo.isDown.Load())
	})

	t.Run("StaysOnFallbackWhileDown", func(t *testing.T) {
		fallback.On("Claim", ctx, "k3", time.Hour).Return(false, nil).Once()

		ok, err := repo.Claim(ctx, "k3", time.Hour)
		assert.NoError(t, err)
		assert.False(t, ok)
		primary.AssertNotCalled(t, "Claim", ctx, "k3", time.Hour)
	})

	t.Run("ReleaseWhileDown", func(t *testing.T) {
		fallback.On("Release", ctx, "k2").Return(nil).Once()
		assert.NoError(t, repo.Release(ctx, "k2"))
		primary.AssertNotCalled(t, "Release", ctx, "k2")
	})

	t.Run("Recovery", func(t *testing.T) {
		repo.mu.Lock()
		repo.lastCheck = time.Now().Add(-2 * time.Minute)
		repo.mu.Unlock()
		primary.On("Claim", ctx, "k4", time.Hour).Return(true, nil).Once()

		ok, err := repo.Claim(ctx, "k4", time.Hour)
		assert.NoError(t, err)
		assert.True(t, ok)
		assert.False(t, repo.isDown.Load())
	})

	t.Run("ReleaseBoth", func(t *testing.T) {
		fallback.On("Release", ctx, "k4").Return(nil).Once()
		primary.On("Release", ctx, "k4").Return(nil).Once()
		assert.NoError(t, repo.Release(ctx, "k4"))
		primary.AssertExpectations(t)
		fallback.AssertExpectations(t)
	})
}
