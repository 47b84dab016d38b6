// Package presence tracks which users currently hold an open realtime
// connection. Entries live in the shared cache substrate so every gateway
// instance behind the load balancer sees the same view; the TTL covers
// ungraceful disconnects.
package presence

import (
	"context"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/nexmarket/realtime/storage/kv"
)

const keyPrefix = "rt:presence:"

func key(userID string) string { return keyPrefix + userID }

type Tracker struct {
	kv  kv.Store
	ttl time.Duration
}

func NewTracker(kvs kv.Store, ttl time.Duration) *Tracker {
	if ttl <= 0 {
		ttl = 60 * time.Second
	}
	return &Tracker{kv: kvs, ttl: ttl}
}

// SetOnline upserts the entry with the session handle (gateway id +
// connection id). Last writer wins when a user connects twice. Calling it
// again renews the TTL, so it doubles as the keepalive refresh and
// rebuilds the entry after a substrate flush.
func (t *Tracker) SetOnline(ctx context.Context, userID, sessionHandle string) error {
	return t.kv.Set(ctx, key(userID), sessionHandle, t.ttl)
}

// TTL reports the configured entry lifetime.
func (t *Tracker) TTL() time.Duration { return t.ttl }

// SetOffline removes the entry. Idempotent.
func (t *Tracker) SetOffline(ctx context.Context, userID string) error {
	return t.kv.Del(ctx, key(userID))
}

// Lookup returns the session handle and whether the user is online.
func (t *Tracker) Lookup(ctx context.Context, userID string) (string, bool, error) {
	v, err := t.kv.Get(ctx, key(userID))
	if errors.Is(err, kv.ErrMiss) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}

func (t *Tracker) IsOnline(ctx context.Context, userID string) (bool, error) {
	_, ok, err := t.Lookup(ctx, userID)
	return ok, err
}

// ListOnline enumerates the current membership across all instances.
// Prefix scan; stats/admin path, not a hot path.
func (t *Tracker) ListOnline(ctx context.Context) ([]string, error) {
	keys, err := t.kv.Keys(ctx, keyPrefix)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, strings.TrimPrefix(k, keyPrefix))
	}
	return out, nil
}
