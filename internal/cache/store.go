package cache

import (
	"context"
	"time"
)

// Store is a byte-oriented TTL cache. A zero TTL never expires.
type Store interface {
	Get(ctx context.Context, key string) (value []byte, found bool, err error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}
