package cache

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	gocache "github.com/patrickmn/go-cache"
)

// MemoryStore is a single-process Store for local development and tests.
type MemoryStore struct {
	c  *gocache.Cache
	mu sync.Mutex // serialises counter creation
}

func NewMemoryStore(cleanupInterval time.Duration) *MemoryStore {
	return &MemoryStore{c: gocache.New(gocache.NoExpiration, cleanupInterval)}
}

func expiration(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return gocache.NoExpiration
	}
	return ttl
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	v, found := s.c.Get(key)
	if !found {
		return nil, ErrMiss
	}
	switch val := v.(type) {
	case []byte:
		return val, nil
	case int64:
		return []byte(strconv.FormatInt(val, 10)), nil
	default:
		return nil, fmt.Errorf("cache: unexpected value type %T at %s", v, key)
	}
}

func (s *MemoryStore) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	buf := make([]byte, len(value))
	copy(buf, value)
	s.c.Set(key, buf, expiration(ttl))
	return nil
}

func (s *MemoryStore) Incr(_ context.Context, key string, ttl time.Duration) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if v, found := s.c.Get(key); found {
		if _, ok := v.(int64); !ok {
			return 0, fmt.Errorf("cache: value at %s is not a counter", key)
		}
		return s.c.IncrementInt64(key, 1)
	}
	s.c.Set(key, int64(1), expiration(ttl))
	return 1, nil
}

func (s *MemoryStore) TTL(_ context.Context, key string) (time.Duration, error) {
	_, exp, found := s.c.GetWithExpiration(key)
	if !found {
		return 0, ErrMiss
	}
	if exp.IsZero() {
		return 0, nil
	}
	return time.Until(exp), nil
}

func (s *MemoryStore) Del(_ context.Context, keys ...string) error {
	for _, k := range keys {
		s.c.Delete(k)
	}
	return nil
}

func (s *MemoryStore) Ping(context.Context) error {
	return nil
}
