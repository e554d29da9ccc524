package cache

import (
	"context"
	"time"
)

// Noop is the cache used when Redis is unavailable at startup: every read
// misses and every write succeeds silently.
type Noop struct{}

// NewNoop returns a disabled cache.
func NewNoop() *Noop {
	return &Noop{}
}

// Get always misses.
func (*Noop) Get(ctx context.Context, key string) ([]byte, error) {
	return nil, nil
}

// SetWithTTL discards the value.
func (*Noop) SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return nil
}

// DeleteByPrefix removes nothing.
func (*Noop) DeleteByPrefix(ctx context.Context, prefix string) (int, error) {
	return 0, nil
}
