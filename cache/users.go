// Package cache keeps a fast projection of user records consistent with the
// durable store. Reads go through the cache and repopulate it on miss;
// writes commit to the store first and only then refresh the cache. The
// whole substrate is disposable: flushing it costs latency, never
// correctness.
package cache

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"

	"github.com/nexmarket/realtime/logger"
	"github.com/nexmarket/realtime/storage/kv"
	"github.com/nexmarket/realtime/store"
	"github.com/nexmarket/realtime/tools/errs"
)

const (
	userKeyPrefix  = "rt:user:"
	accessPrefix   = "rt:user:la:"
	emailPrefix    = "rt:user:em:"
	defaultUserTTL = 15 * time.Minute
)

// Projection is the cached, secret-stripped view of a user record. Fields
// are fixed; secret material never enters this struct, so stripping is a
// property of the type, not of ad hoc key deletion.
type Projection struct {
	UserID        string  `json:"user_id"`
	Email         string  `json:"email"`
	Nickname      string  `json:"nickname"`
	Balance       int64   `json:"balance"`
	SalesCount    int64   `json:"sales_count"`
	PurchaseCount int64   `json:"purchase_count"`
	Rating        float64 `json:"rating"`
	Verified      bool    `json:"verified"`
	Seller        bool    `json:"seller"`
	Banned        bool    `json:"banned"`
}

// envelope separates cache metadata from the domain projection so TTL and
// eviction logic never touch domain fields.
type envelope struct {
	Projection Projection `json:"projection"`
	CachedAt   time.Time  `json:"cached_at"`
}

func projectionOf(u *store.User) Projection {
	return Projection{
		UserID:        u.UserID,
		Email:         u.Email,
		Nickname:      u.Nickname,
		Balance:       u.Balance,
		SalesCount:    u.SalesCount,
		PurchaseCount: u.PurchaseCount,
		Rating:        u.Rating,
		Verified:      u.Verified,
		Seller:        u.Seller,
		Banned:        u.Banned,
	}
}

// UserStore is the slice of the durable store this layer needs.
type UserStore interface {
	FindByID(ctx context.Context, id string) (*store.User, error)
	FindByEmail(ctx context.Context, email string) (*store.User, error)
	Update(ctx context.Context, id string, fields map[string]any) (*store.User, error)
}

type Users struct {
	kv    kv.Store
	store UserStore
	ttl   time.Duration
}

func NewUsers(kvs kv.Store, us UserStore, ttl time.Duration) *Users {
	if ttl <= 0 {
		ttl = defaultUserTTL
	}
	return &Users{kv: kvs, store: us, ttl: ttl}
}

func userKey(id string) string     { return userKeyPrefix + id }
func accessKey(id string) string   { return accessPrefix + id }
func emailKey(email string) string { return emailPrefix + email }

// GetUser is the read-through path. Cache hit refreshes the last-access
// marker; miss reads the store and repopulates. A cache outage degrades to
// a direct store read and is only logged.
func (c *Users) GetUser(ctx context.Context, id string) (*Projection, error) {
	raw, err := c.kv.Get(ctx, userKey(id))
	switch {
	case err == nil:
		var env envelope
		if jerr := json.Unmarshal([]byte(raw), &env); jerr == nil {
			c.touch(ctx, id)
			return &env.Projection, nil
		}
		// unreadable entry: fall through to the store and rewrite it
		logger.Warnf("[cache] corrupt projection user=%s, repopulating", id)
	case errors.Is(err, kv.ErrMiss):
		// normal miss
	default:
		logger.Warnf("[cache] %v user=%s, degrading to store read",
			errs.ErrCacheUnavailable, id)
	}

	u, err := c.store.FindByID(ctx, id)
	if err != nil {
		return nil, err // ErrNotFound or ErrStoreUnavailable, never masked
	}
	p := projectionOf(u)
	c.populate(ctx, p)
	return &p, nil
}

// GetUserByEmail resolves email -> id through a cached index, then reuses
// the id path.
func (c *Users) GetUserByEmail(ctx context.Context, email string) (*Projection, error) {
	if id, err := c.kv.Get(ctx, emailKey(email)); err == nil {
		return c.GetUser(ctx, id)
	}
	u, err := c.store.FindByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	p := projectionOf(u)
	c.populate(ctx, p)
	return &p, nil
}

// UpdateUser is the write-through path: the durable write must succeed
// before the cache is touched, so the cache can never get ahead of the
// store. A failed durable write leaves the cache exactly as it was.
func (c *Users) UpdateUser(ctx context.Context, id string, fields map[string]any) (*Projection, error) {
	u, err := c.store.Update(ctx, id, fields)
	if err != nil {
		return nil, err
	}
	p := projectionOf(u)
	c.populate(ctx, p)
	return &p, nil
}

// InvalidateUser drops the projection and its markers. Idempotent; a repeat
// call is a no-op.
func (c *Users) InvalidateUser(ctx context.Context, id string) error {
	err := c.kv.Del(ctx, userKey(id), accessKey(id))
	if err != nil {
		// entry will still age out by TTL; policy says never surface this
		logger.Warnf("[cache] invalidate user=%s: %v", id, err)
	}
	return nil
}

// ReconcileResult reports what Reconcile found and did.
type ReconcileResult struct {
	Consistent   bool   `json:"consistent"`
	Action       string `json:"action"` // "none" or "cache_overwritten"
	CacheBalance int64  `json:"cache_balance,omitempty"`
	StoreBalance int64  `json:"store_balance"`
}

// Reconcile compares the cached balance against the durable one and, on
// drift, overwrites the cache from the store. Balance is the one field
// settlement jobs mutate outside the write-through path; other fields only
// change through UpdateUser and self-heal on the next write.
func (c *Users) Reconcile(ctx context.Context, id string) (*ReconcileResult, error) {
	u, err := c.store.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	res := &ReconcileResult{Consistent: true, Action: "none", StoreBalance: u.Balance}

	raw, err := c.kv.Get(ctx, userKey(id))
	if err != nil {
		// nothing cached (or cache down): next read repopulates
		return res, nil
	}
	var env envelope
	if json.Unmarshal([]byte(raw), &env) != nil || env.Projection.Balance != u.Balance {
		res.Consistent = false
		res.Action = "cache_overwritten"
		res.CacheBalance = env.Projection.Balance
		logger.Warnf("[cache] balance drift user=%s cache=%d store=%d",
			id, env.Projection.Balance, u.Balance)
		c.populate(ctx, projectionOf(u))
	}
	return res, nil
}

// SweepInactive evicts projections whose last access is older than
// threshold. Cache-only: a later read repopulates from the store, so the
// sweep is safe against concurrent reads and writes.
func (c *Users) SweepInactive(ctx context.Context, threshold time.Duration) (int, error) {
	keys, err := c.kv.Keys(ctx, accessPrefix)
	if err != nil {
		logger.Warnf("[cache] sweep skipped: %v", err)
		return 0, nil
	}
	cutoff := time.Now().Add(-threshold).Unix()
	evicted := 0
	for _, k := range keys {
		id := strings.TrimPrefix(k, accessPrefix)
		raw, err := c.kv.Get(ctx, k)
		if err != nil {
			continue
		}
		ts, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || ts > cutoff {
			continue
		}
		if err := c.kv.Del(ctx, userKey(id), k); err == nil {
			evicted++
		}
	}
	return evicted, nil
}

// Stats reports entry count and approximate payload bytes for the admin
// surface.
type Stats struct {
	Entries     int   `json:"entries"`
	ApproxBytes int64 `json:"approx_bytes"`
	Online      int   `json:"online,omitempty"`
}

func (c *Users) Stats(ctx context.Context) (*Stats, error) {
	keys, err := c.kv.Keys(ctx, userKeyPrefix)
	if err != nil {
		return nil, errs.ErrCacheUnavailable.WrapMsg("stats", "err", err)
	}
	st := &Stats{}
	for _, k := range keys {
		if strings.HasPrefix(k, accessPrefix) || strings.HasPrefix(k, emailPrefix) {
			continue
		}
		st.Entries++
		if raw, err := c.kv.Get(ctx, k); err == nil {
			st.ApproxBytes += int64(len(raw))
		}
	}
	return st, nil
}

// populate writes the projection, its email index, and the last-access
// marker. Best effort: cache failures here degrade, they never fail the
// caller.
func (c *Users) populate(ctx context.Context, p Projection) {
	env := envelope{Projection: p, CachedAt: time.Now()}
	b, _ := json.Marshal(env)
	if err := c.kv.Set(ctx, userKey(p.UserID), string(b), c.ttl); err != nil {
		logger.Warnf("[cache] populate user=%s: %v", p.UserID, err)
		return
	}
	if p.Email != "" {
		_ = c.kv.Set(ctx, emailKey(p.Email), p.UserID, c.ttl)
	}
	c.touch(ctx, p.UserID)
}

func (c *Users) touch(ctx context.Context, id string) {
	now := strconv.FormatInt(time.Now().Unix(), 10)
	if err := c.kv.Set(ctx, accessKey(id), now, c.ttl); err != nil {
		logger.Debugf("[cache] touch user=%s: %v", id, err)
	}
}
