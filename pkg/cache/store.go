// Package cache is the shared state the gateway keeps outside the process:
// circuit-breaker counters and rate-limit windows. Every gateway replica
// pointed at the same Redis sees the same state.
package cache

import (
	"context"
	"errors"
	"time"
)

var ErrNotFound = errors.New("cache: key not found")

// Store is the subset of atomic cache operations the gateway relies on.
// A ttl of 0 means the key does not expire.
type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
	// Incr increments key by one and applies ttl only when the key is created.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
	// Decr decrements an existing key, keeping its TTL. A missing key is left
	// missing and reported as 0.
	Decr(ctx context.Context, key string) (int64, error)
	// TTL returns 0 for keys without expiry and ErrNotFound for missing keys.
	TTL(ctx context.Context, key string) (time.Duration, error)
	Del(ctx context.Context, keys ...string) error
}
