package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

type job struct {
	topic   string
	payload []byte
	attempt int
}

// Memory is an in-process worker pool over a buffered channel. Jobs still queued when the
// process stops are lost.
type Memory struct {
	jobs        chan job
	handlers    map[string]Handler
	workers     int
	maxAttempts int
	backoff     time.Duration
	logger      *slog.Logger
	mu          sync.RWMutex
}

func NewMemory(size, workers, maxAttempts int, logger *slog.Logger) *Memory {
	if size <= 0 {
		size = 1000
	}
	if workers <= 0 {
		workers = 1
	}
	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	return &Memory{
		jobs:        make(chan job, size),
		handlers:    make(map[string]Handler),
		workers:     workers,
		maxAttempts: maxAttempts,
		backoff:     100 * time.Millisecond,
		logger:      logger,
	}
}

func (q *Memory) Register(topic string, h Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[topic] = h
}

func (q *Memory) handler(topic string) (Handler, bool) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	h, ok := q.handlers[topic]
	return h, ok
}

func (q *Memory) Enqueue(_ context.Context, topic string, payload []byte) error {
	if _, ok := q.handler(topic); !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTopic, topic)
	}
	select {
	case q.jobs <- job{topic: topic, payload: payload, attempt: 1}:
		return nil
	default:
		return ErrQueueFull
	}
}

func (q *Memory) Start(ctx context.Context) error {
	q.logger.Info("Queue workers starting", "workers", q.workers)
	var wg sync.WaitGroup
	for i := 0; i < q.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			q.work(ctx)
		}()
	}
	wg.Wait()
	q.logger.Info("Queue workers stopped", "pending", len(q.jobs))
	return nil
}

func (q *Memory) work(ctx context.Context) {
	for {
		select {
		case j := <-q.jobs:
			q.run(ctx, j)
		case <-ctx.Done():
			return
		}
	}
}

func (q *Memory) run(ctx context.Context, j job) {
	h, ok := q.handler(j.topic)
	if !ok {
		q.logger.Error("Dropping job for unknown topic", "topic", j.topic)
		return
	}

	for {
		err := h(ctx, j.payload)
		if err == nil {
			return
		}
		if j.attempt >= q.maxAttempts || ctx.Err() != nil {
			q.logger.Error("Job failed permanently",
				"topic", j.topic, "attempts", j.attempt, "payload", string(j.payload), "error", err)
			return
		}
		q.logger.Warn("Job failed, retrying", "topic", j.topic, "attempt", j.attempt, "error", err)
		j.attempt++

		select {
		case <-time.After(q.backoff * time.Duration(j.attempt-1)):
		case <-ctx.Done():
			q.logger.Error("Job abandoned on shutdown", "topic", j.topic, "payload", string(j.payload))
			return
		}
	}
}
