// Package kv is the cache substrate: a key/value store with TTL, atomic
// counters, prefix enumeration, and bounded lists. The redis implementation
// is the production one; the memory implementation backs unit tests and is
// the shape both must satisfy.
package kv

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

// ErrMiss reports an absent key. Any other error from a Store means the
// substrate itself is unhealthy; callers map that to cache-unavailable and
// degrade to the durable store.
var ErrMiss = errors.New("kv: key not found")

type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, val string, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error

	// IncrWithTTL atomically increments key and applies ttl when the key is
	// created. Used by the connect rate limiter.
	IncrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error)

	// Keys enumerates keys by prefix. Administrative/sweep paths only,
	// never a hot path.
	Keys(ctx context.Context, prefix string) ([]string, error)

	// List ops for the offline queue (rolling window via LPush+LTrim).
	LPush(ctx context.Context, key string, vals ...string) error
	LTrim(ctx context.Context, key string, start, stop int64) error
	LRange(ctx context.Context, key string, start, stop int64) ([]string, error)
	LLen(ctx context.Context, key string) (int64, error)
	Expire(ctx context.Context, key string, ttl time.Duration) error

	Ping(ctx context.Context) error
}
