package services

import (
	"context"
	"errors"
	"time"
)

var errStoreDown = errors.New("store unavailable")

type failingStore struct{}

func (failingStore) Get(context.Context, string) ([]byte, error)              { return nil, errStoreDown }
func (failingStore) Set(context.Context, string, []byte, time.Duration) error { return errStoreDown }
func (failingStore) Incr(context.Context, string, time.Duration) (int64, error) {
	return 0, errStoreDown
}
func (failingStore) TTL(context.Context, string) (time.Duration, error) { return 0, errStoreDown }
func (failingStore) Del(context.Context, ...string) error               { return errStoreDown }
func (failingStore) Ping(context.Context) error                         { return errStoreDown }
