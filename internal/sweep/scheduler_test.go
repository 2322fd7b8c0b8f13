package sweep

import (
	"context"
	"io"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScheduler_RunsAndStops(t *testing.T) {
	logger := zerolog.New(io.Discard)
	s := NewScheduler(&logger, nil)

	var runs atomic.Int32
	require.NoError(t, s.Add("tick", "@every 1s", func(ctx context.Context) error {
		runs.Add(1)
		return nil
	}))
	assert.Equal(t, 1, s.Entries())

	s.Start()
	assert.Eventually(t, func() bool { return runs.Load() > 0 }, 3*time.Second, 50*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
}

func TestScheduler_CancelsRunningJobsOnStop(t *testing.T) {
	logger := zerolog.New(io.Discard)
	s := NewScheduler(&logger, nil)

	started := make(chan struct{}, 1)
	var cancelled atomic.Bool
	require.NoError(t, s.Add("slow", "@every 1s", func(ctx context.Context) error {
		select {
		case started <- struct{}{}:
		default:
		}
		<-ctx.Done()
		cancelled.Store(true)
		return ctx.Err()
	}))
	s.Start()

	select {
	case <-started:
	case <-time.After(3 * time.Second):
		t.Fatal("job never started")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, s.Stop(ctx))
	assert.True(t, cancelled.Load())
}

func TestScheduler_RejectsBadSpec(t *testing.T) {
	logger := zerolog.New(io.Discard)
	s := NewScheduler(&logger, nil)
	err := s.Add("broken", "every minute", func(context.Context) error { return nil })
	assert.Error(t, err)
	assert.Zero(t, s.Entries())
}
