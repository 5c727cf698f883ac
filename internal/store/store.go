// Package store provides pluggable state backends for the rate limiter.
package store

import (
	"context"
	"time"
)

// DefaultTTL is how long a caller's record survives without traffic.
const DefaultTTL = 24 * time.Hour

// Store is the interface for rate limit state backends.
// It supports different backends for different deployment scenarios:
// - Memory: Single instance deployments (fastest, no external dependencies)
// - PostgreSQL: Multi-instance deployments without additional infrastructure
// - Redis: High-scale deployments (works with Dragonfly, Redis, Valkey, KeyDB)
//
// Records are opaque blobs; the limiter owns the encoding. Every write
// carries a TTL so idle callers age out of the backend on their own.
type Store interface {
	// Get retrieves the record stored under key.
	// Returns (nil, nil) when no record exists.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set writes the record under key, replacing any previous value
	// and resetting the expiration to ttl from now.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// FlushAll removes every record owned by this store.
	FlushAll(ctx context.Context) error

	// Close closes the store and releases resources.
	Close() error
}
