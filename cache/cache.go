// Package cache holds the key/value accelerator used in front of the post store.
// Entries are disposable: every implementation may lose or expire a key at any time.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrMiss is returned by Get when the key is absent or expired
var ErrMiss = errors.New("cache miss")

type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// Nop never stores anything; every Get is a miss
type Nop struct{}

func (Nop) Get(context.Context, string) ([]byte, error) {
	return nil, ErrMiss
}

func (Nop) Set(context.Context, string, []byte, time.Duration) error {
	return nil
}

func (Nop) Delete(context.Context, string) error {
	return nil
}
