// Package cache provides the key-value cache port used by the service layer,
// a Redis adapter for it, and a typed wrapper that caches the active FAQ
// candidate list read on every chat exchange.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrMiss signals that a key is absent. Adapters return it instead of their
// driver-specific "nil" error so callers can tell misses from failures.
var ErrMiss = errors.New("cache: miss")

// Cache is the minimal contract for a byte-valued cache. Implementations
// must be safe for concurrent use.
type Cache interface {
	// Get returns the value for key, or ErrMiss.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value at key. A non-positive ttl means no expiration.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Incr atomically increments the integer at key and returns the new
	// value. A missing key counts as zero.
	Incr(ctx context.Context, key string) (int64, error)

	// DelPrefix removes every key starting with prefix.
	DelPrefix(ctx context.Context, prefix string) error

	// Ping verifies connectivity.
	Ping(ctx context.Context) error

	// Close releases resources.
	Close() error
}

// Noop is a Cache that stores nothing. It is used when no cache backend is
// configured.
type Noop struct{}

var _ Cache = Noop{}

func (Noop) Get(context.Context, string) ([]byte, error) { return nil, ErrMiss }
func (Noop) Set(context.Context, string, []byte, time.Duration) error { return nil }
func (Noop) Incr(context.Context, string) (int64, error) { return 0, nil }
func (Noop) DelPrefix(context.Context, string) error { return nil }
func (Noop) Ping(context.Context) error { return nil }
func (Noop) Close() error { return nil }
