// Package cache holds the key/value store abstraction and the cache-aside layer for links.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrMiss is returned by Store.Get and Store.TTL when the key is absent or expired.
var ErrMiss = errors.New("cache: miss")

// Store is the narrow key/value contract the service needs. Implementations must be safe for
// concurrent use and Incr must be a single atomic operation.
type Store interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	// Incr adds one to the counter at key. The ttl is applied only when the increment creates the key.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
	TTL(ctx context.Context, key string) (time.Duration, error)
	Del(ctx context.Context, keys ...string) error
	Ping(ctx context.Context) error
}
