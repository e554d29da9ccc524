package port

import (
	"context"
	"time"
)

// Cache abstracts the shared key-value cache. The cache is strictly
// best-effort: callers log and swallow every error from it.
type Cache interface {
	// Get returns the cached value, or (nil, nil) on a miss.
	Get(ctx context.Context, key string) ([]byte, error)

	// SetWithTTL stores a value that expires after ttl.
	SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// DeleteByPrefix removes every key under prefix and returns the count.
	DeleteByPrefix(ctx context.Context, prefix string) (int, error)
}
