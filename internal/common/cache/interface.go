package cache

import (
	"context"
	"time"
)

// Cache is the key-value surface the run result store relies on.
type Cache interface {
	// Get returns the value for key, or "" when the key does not exist.
	Get(ctx context.Context, key string) (string, error)

	// Set stores a value. A zero ttl means no expiration.
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error

	Ping(ctx context.Context) error
	Close() error
}
