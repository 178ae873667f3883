package queue

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestQueue(size, workers, attempts int) *Memory {
	q := NewMemory(size, workers, attempts, slog.New(slog.NewTextHandler(os.Stdout, nil)))
	q.backoff = time.Millisecond
	return q
}

func TestMemory_ProcessesJobs(t *testing.T) {
	q := newTestQueue(10, 2, 1)
	var processed atomic.Int32
	q.Register("clicks", func(_ context.Context, payload []byte) error {
		processed.Add(1)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = q.Start(ctx)
		close(done)
	}()

	for i := 0; i < 5; i++ {
		require.NoError(t, q.Enqueue(ctx, "clicks", []byte("x")))
	}

	assert.Eventually(t, func() bool { return processed.Load() == 5 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done
}

func TestMemory_BoundedRetry(t *testing.T) {
	q := newTestQueue(10, 1, 3)
	var calls atomic.Int32
	q.Register("flaky", func(context.Context, []byte) error {
		calls.Add(1)
		return errors.New("db down")
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = q.Start(ctx) }()

	require.NoError(t, q.Enqueue(ctx, "flaky", []byte("x")))

	assert.Eventually(t, func() bool { return calls.Load() == 3 }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(3), calls.Load())
}

func TestMemory_RetrySucceeds(t *testing.T) {
	q := newTestQueue(10, 1, 3)
	var calls atomic.Int32
	var succeeded atomic.Bool
	q.Register("flaky", func(context.Context, []byte) error {
		if calls.Add(1) < 2 {
			return errors.New("transient")
		}
		succeeded.Store(true)
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = q.Start(ctx) }()

	require.NoError(t, q.Enqueue(ctx, "flaky", nil))
	assert.Eventually(t, succeeded.Load, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(2), calls.Load())
}

func TestMemory_Enqueue(t *testing.T) {
	q := newTestQueue(1, 1, 1)
	q.Register("clicks", func(context.Context, []byte) error { return nil })
	ctx := context.Background()

	t.Run("Unknown Topic", func(t *testing.T) {
		err := q.Enqueue(ctx, "nope", nil)
		assert.ErrorIs(t, err, ErrUnknownTopic)
	})

	t.Run("Full Queue Does Not Block", func(t *testing.T) {
		require.NoError(t, q.Enqueue(ctx, "clicks", nil))
		err := q.Enqueue(ctx, "clicks", nil)
		assert.ErrorIs(t, err, ErrQueueFull)
	})
}
