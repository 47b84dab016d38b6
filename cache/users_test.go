package cache

import (
	"context"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexmarket/realtime/storage/kv"
	"github.com/nexmarket/realtime/store"
	"github.com/nexmarket/realtime/tools/errs"
)

type fakeUserStore struct {
	mu      sync.Mutex
	users   map[string]*store.User
	finds   int
	updates int
	failAll bool
}

func newFakeUserStore(users ...*store.User) *fakeUserStore {
	s := &fakeUserStore{users: make(map[string]*store.User)}
	for _, u := range users {
		s.users[u.UserID] = u
	}
	return s
}

func (s *fakeUserStore) FindByID(_ context.Context, id string) (*store.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finds++
	if s.failAll {
		return nil, errs.ErrStoreUnavailable.WrapMsg("injected")
	}
	u, ok := s.users[id]
	if !ok {
		return nil, errs.ErrNotFound.WrapMsg("user", "id", id)
	}
	cp := *u
	return &cp, nil
}

func (s *fakeUserStore) FindByEmail(_ context.Context, email string) (*store.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.finds++
	if s.failAll {
		return nil, errs.ErrStoreUnavailable.WrapMsg("injected")
	}
	for _, u := range s.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, errs.ErrNotFound.WrapMsg("user", "email", email)
}

func (s *fakeUserStore) Update(_ context.Context, id string, fields map[string]any) (*store.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.updates++
	if s.failAll {
		return nil, errs.ErrStoreUnavailable.WrapMsg("injected")
	}
	u, ok := s.users[id]
	if !ok {
		return nil, errs.ErrNotFound.WrapMsg("user", "id", id)
	}
	for k, v := range fields {
		switch k {
		case "nickname":
			u.Nickname = v.(string)
		case "balance":
			u.Balance = toI64(v)
		case "balance_delta":
			u.Balance += toI64(v)
		default:
			return nil, errs.ErrValidation.WrapMsg("field not updatable", "field", k)
		}
	}
	cp := *u
	return &cp, nil
}

func toI64(v any) int64 {
	switch x := v.(type) {
	case int:
		return int64(x)
	case int64:
		return x
	}
	return 0
}

// failKV simulates a cache-substrate outage.
type failKV struct{}

func (failKV) Get(context.Context, string) (string, error) { return "", errs.New("redis down") }
func (failKV) Set(context.Context, string, string, time.Duration) error {
	return errs.New("redis down")
}
func (failKV) Del(context.Context, ...string) error { return errs.New("redis down") }
func (failKV) IncrWithTTL(context.Context, string, time.Duration) (int64, error) {
	return 0, errs.New("redis down")
}
func (failKV) Keys(context.Context, string) ([]string, error) { return nil, errs.New("redis down") }
func (failKV) LPush(context.Context, string, ...string) error { return errs.New("redis down") }
func (failKV) LTrim(context.Context, string, int64, int64) error {
	return errs.New("redis down")
}
func (failKV) LRange(context.Context, string, int64, int64) ([]string, error) {
	return nil, errs.New("redis down")
}
func (failKV) LLen(context.Context, string) (int64, error) { return 0, errs.New("redis down") }
func (failKV) Expire(context.Context, string, time.Duration) error {
	return errs.New("redis down")
}
func (failKV) Ping(context.Context) error { return errs.New("redis down") }

func seedUser() *store.User {
	return &store.User{
		UserID:       "u1",
		Email:        "alice@example.com",
		Nickname:     "alice",
		Balance:      1000,
		PasswordHash: "$2a$10$secret",
		RefreshToken: "rt-secret",
		VerifyCode:   "123456",
	}
}

func TestGetUser_ReadThroughPopulatesOnce(t *testing.T) {
	ctx := context.Background()
	fs := newFakeUserStore(seedUser())
	c := NewUsers(kv.NewMemory(), fs, time.Minute)

	p, err := c.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "alice", p.Nickname)
	assert.Equal(t, 1, fs.finds)

	// second read is a cache hit, no extra store read
	p, err = c.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(1000), p.Balance)
	assert.Equal(t, 1, fs.finds)
}

func TestGetUser_NeverCachesSecrets(t *testing.T) {
	ctx := context.Background()
	mem := kv.NewMemory()
	c := NewUsers(mem, newFakeUserStore(seedUser()), time.Minute)

	_, err := c.GetUser(ctx, "u1")
	require.NoError(t, err)

	raw, err := mem.Get(ctx, userKey("u1"))
	require.NoError(t, err)
	assert.NotContains(t, raw, "secret")
	assert.NotContains(t, raw, "password")
	assert.NotContains(t, raw, "123456")
}

func TestGetUser_NotFoundAndStoreDown(t *testing.T) {
	ctx := context.Background()
	fs := newFakeUserStore()
	c := NewUsers(kv.NewMemory(), fs, time.Minute)

	_, err := c.GetUser(ctx, "ghost")
	assert.True(t, errs.ErrNotFound.Is(err))

	fs.failAll = true
	_, err = c.GetUser(ctx, "ghost")
	assert.True(t, errs.ErrStoreUnavailable.Is(err), "store outage must surface, not be masked")
}

func TestGetUser_CacheOutageDegradesToStore(t *testing.T) {
	ctx := context.Background()
	fs := newFakeUserStore(seedUser())
	c := NewUsers(failKV{}, fs, time.Minute)

	p, err := c.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "u1", p.UserID)

	// every read hits the store while the cache is down
	_, err = c.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, fs.finds)
}

func TestUpdateUser_WriteThenReadConsistency(t *testing.T) {
	ctx := context.Background()
	fs := newFakeUserStore(seedUser())
	c := NewUsers(kv.NewMemory(), fs, time.Minute)

	p, err := c.UpdateUser(ctx, "u1", map[string]any{"nickname": "alice2"})
	require.NoError(t, err)
	assert.Equal(t, "alice2", p.Nickname)

	// read must reflect the write, straight from cache
	got, err := c.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "alice2", got.Nickname)
	assert.Equal(t, 0, fs.finds)

	// and still after an invalidation race
	require.NoError(t, c.InvalidateUser(ctx, "u1"))
	got, err = c.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "alice2", got.Nickname)
}

func TestUpdateUser_StoreFailureLeavesCacheUntouched(t *testing.T) {
	ctx := context.Background()
	fs := newFakeUserStore(seedUser())
	c := NewUsers(kv.NewMemory(), fs, time.Minute)

	_, err := c.GetUser(ctx, "u1") // warm the cache
	require.NoError(t, err)

	fs.failAll = true
	_, err = c.UpdateUser(ctx, "u1", map[string]any{"nickname": "evil"})
	assert.True(t, errs.ErrStoreUnavailable.Is(err))

	fs.failAll = false
	got, err := c.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "alice", got.Nickname, "cache must never get ahead of the store")
}

func TestInvalidateUser_Idempotent(t *testing.T) {
	ctx := context.Background()
	c := NewUsers(kv.NewMemory(), newFakeUserStore(seedUser()), time.Minute)

	_, err := c.GetUser(ctx, "u1")
	require.NoError(t, err)

	require.NoError(t, c.InvalidateUser(ctx, "u1"))
	require.NoError(t, c.InvalidateUser(ctx, "u1"), "second invalidation is a no-op")
}

func TestReconcile_RepairsDrift(t *testing.T) {
	ctx := context.Background()
	fs := newFakeUserStore(seedUser())
	c := NewUsers(kv.NewMemory(), fs, time.Minute)

	_, err := c.GetUser(ctx, "u1")
	require.NoError(t, err)

	// out-of-band mutation, bypassing the write-through path
	fs.mu.Lock()
	fs.users["u1"].Balance = 2500
	fs.mu.Unlock()

	res, err := c.Reconcile(ctx, "u1")
	require.NoError(t, err)
	assert.False(t, res.Consistent)
	assert.Equal(t, "cache_overwritten", res.Action)
	assert.Equal(t, int64(1000), res.CacheBalance)
	assert.Equal(t, int64(2500), res.StoreBalance)

	got, err := c.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(2500), got.Balance)

	res, err = c.Reconcile(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, res.Consistent)
	assert.Equal(t, "none", res.Action)
}

func TestConcurrentBalanceUpdatesConverge(t *testing.T) {
	ctx := context.Background()
	fs := newFakeUserStore(seedUser())
	c := NewUsers(kv.NewMemory(), fs, time.Minute)

	var wg sync.WaitGroup
	for _, d := range []int64{10, 5} {
		wg.Add(1)
		go func(delta int64) {
			defer wg.Done()
			_, err := c.UpdateUser(ctx, "u1", map[string]any{"balance_delta": delta})
			assert.NoError(t, err)
		}(d)
	}
	wg.Wait()

	// a race may leave the cache one write behind; reconcile repairs it
	_, err := c.Reconcile(ctx, "u1")
	require.NoError(t, err)

	got, err := c.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, int64(1015), got.Balance)
}

func TestSweepInactive(t *testing.T) {
	ctx := context.Background()
	mem := kv.NewMemory()
	fs := newFakeUserStore(seedUser())
	c := NewUsers(mem, fs, time.Minute)

	_, err := c.GetUser(ctx, "u1")
	require.NoError(t, err)

	// backdate the activity marker past the threshold
	old := strconv.FormatInt(time.Now().Add(-2*time.Hour).Unix(), 10)
	require.NoError(t, mem.Set(ctx, accessKey("u1"), old, time.Minute))

	n, err := c.SweepInactive(ctx, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = mem.Get(ctx, userKey("u1"))
	assert.ErrorIs(t, err, kv.ErrMiss)

	// eviction is transparent: the next read repopulates
	got, err := c.GetUser(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "u1", got.UserID)
}

func TestGetUserByEmail(t *testing.T) {
	ctx := context.Background()
	fs := newFakeUserStore(seedUser())
	c := NewUsers(kv.NewMemory(), fs, time.Minute)

	p, err := c.GetUserByEmail(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, "u1", p.UserID)

	// index hit: no second FindByEmail
	finds := fs.finds
	_, err = c.GetUserByEmail(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, finds, fs.finds)
}

func TestStats(t *testing.T) {
	ctx := context.Background()
	fs := newFakeUserStore(seedUser(), &store.User{UserID: "u2", Email: "bob@example.com"})
	c := NewUsers(kv.NewMemory(), fs, time.Minute)

	_, _ = c.GetUser(ctx, "u1")
	_, _ = c.GetUser(ctx, "u2")

	st, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, st.Entries)
	assert.Greater(t, st.ApproxBytes, int64(0))
}
