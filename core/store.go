package core

import (
	"context"
	"time"
)

// Store is a TTL key-value store. Keys expire on their own in the store; an
// expired key behaves exactly like a deleted one.
type Store interface {
	// Get returns the value for key, or ErrKeyNotFound.
	Get(ctx context.Context, key string) (string, error)
	// Set writes key with an optional TTL. A non-positive TTL means no expiry.
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	Del(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	// Expire resets the TTL of an existing key.
	Expire(ctx context.Context, key string, ttl time.Duration) error
	// TTL returns the remaining lifetime of key. Keys without an expiry or
	// missing keys report a negative duration.
	TTL(ctx context.Context, key string) (time.Duration, error)
	// Keys returns all keys matching a redis-style glob pattern.
	Keys(ctx context.Context, pattern string) ([]string, error)
	Ping(ctx context.Context) error
}

// ExpiryNotifier is implemented by stores that can report natural key expiry.
// The feed is diagnostic; correctness never depends on it.
type ExpiryNotifier interface {
	// NotifyExpired invokes fn for every key that expires until ctx is done.
	NotifyExpired(ctx context.Context, fn func(key string)) error
}
