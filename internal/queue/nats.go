package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
)

const (
	streamName    = "SHORTSIGHT"
	subjectPrefix = "shortsight."
	workerGroup   = "shortsight-workers"
)

// NATS runs the queue on JetStream so that jobs survive restarts and are shared by every
// instance. Redelivery is bounded by MaxDeliver; the last failed delivery is terminated and logged.
type NATS struct {
	conn        *nats.Conn
	js          nats.JetStreamContext
	handlers    map[string]Handler
	maxAttempts int
	logger      *slog.Logger
	mu          sync.RWMutex
}

func NewNATS(url string, maxAttempts int, logger *slog.Logger) (*NATS, error) {
	conn, err := nats.Connect(
		url,
		nats.Name("shortsight"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(time.Second),
		nats.PingInterval(20*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("jetstream context: %w", err)
	}

	if _, err := js.StreamInfo(streamName); errors.Is(err, nats.ErrStreamNotFound) {
		_, err = js.AddStream(&nats.StreamConfig{
			Name:      streamName,
			Subjects:  []string{subjectPrefix + ">"},
			Storage:   nats.FileStorage,
			Retention: nats.WorkQueuePolicy,
			MaxAge:    7 * 24 * time.Hour,
		})
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("create stream: %w", err)
		}
	} else if err != nil {
		conn.Close()
		return nil, fmt.Errorf("stream info: %w", err)
	}

	if maxAttempts <= 0 {
		maxAttempts = 1
	}
	return &NATS{
		conn:        conn,
		js:          js,
		handlers:    make(map[string]Handler),
		maxAttempts: maxAttempts,
		logger:      logger,
	}, nil
}

func subject(topic string) string {
	return subjectPrefix + topic
}

func (q *NATS) Register(topic string, h Handler) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.handlers[topic] = h
}

func (q *NATS) Enqueue(ctx context.Context, topic string, payload []byte) error {
	if q.conn.IsClosed() {
		return ErrNotRunning
	}
	if _, err := q.js.Publish(subject(topic), payload, nats.Context(ctx)); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}

func (q *NATS) Start(ctx context.Context) error {
	q.mu.RLock()
	handlers := make(map[string]Handler, len(q.handlers))
	for k, v := range q.handlers {
		handlers[k] = v
	}
	q.mu.RUnlock()

	var subs []*nats.Subscription
	for topic, h := range handlers {
		durable := "shortsight_" + strings.ReplaceAll(topic, ".", "_")
		sub, err := q.js.QueueSubscribe(subject(topic), workerGroup, q.dispatch(ctx, topic, h),
			nats.Durable(durable),
			nats.ManualAck(),
			nats.AckWait(30*time.Second),
			nats.MaxDeliver(q.maxAttempts),
		)
		if err != nil {
			for _, s := range subs {
				_ = s.Unsubscribe()
			}
			return fmt.Errorf("subscribe %s: %w", topic, err)
		}
		subs = append(subs, sub)
	}
	q.logger.Info("NATS queue consuming", "topics", len(subs))

	<-ctx.Done()

	if err := q.conn.Drain(); err != nil {
		q.logger.Error("NATS drain failed", "error", err)
	}
	return nil
}

func (q *NATS) dispatch(ctx context.Context, topic string, h Handler) nats.MsgHandler {
	return func(msg *nats.Msg) {
		err := h(ctx, msg.Data)
		if err == nil {
			if ackErr := msg.Ack(); ackErr != nil {
				q.logger.Warn("NATS ack failed", "topic", topic, "error", ackErr)
			}
			return
		}

		delivered := uint64(1)
		if meta, metaErr := msg.Metadata(); metaErr == nil {
			delivered = meta.NumDelivered
		}
		if delivered >= uint64(q.maxAttempts) {
			q.logger.Error("Job failed permanently",
				"topic", topic, "attempts", delivered, "payload", string(msg.Data), "error", err)
			_ = msg.Term()
			return
		}
		q.logger.Warn("Job failed, redelivering", "topic", topic, "attempt", delivered, "error", err)
		_ = msg.NakWithDelay(time.Duration(delivered) * time.Second)
	}
}

func (q *NATS) Close() {
	q.conn.Close()
}
