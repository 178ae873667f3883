// Package queue is the asynchronous task executor used for work that must stay off the request path.
package queue

import (
	"context"
	"errors"
)

var (
	ErrQueueFull    = errors.New("queue: full")
	ErrUnknownTopic = errors.New("queue: no handler registered for topic")
	ErrNotRunning   = errors.New("queue: not running")
)

// Handler processes one payload. A returned error makes the job eligible for another attempt
// until the queue's attempt limit is reached.
type Handler func(ctx context.Context, payload []byte) error

type Queue interface {
	// Register binds a handler to a topic. Call before Start.
	Register(topic string, h Handler)
	// Enqueue hands off a payload without waiting for it to be processed.
	Enqueue(ctx context.Context, topic string, payload []byte) error
	// Start runs the workers until ctx is cancelled.
	Start(ctx context.Context) error
}
