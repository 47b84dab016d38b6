package kv

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Memory is the in-process twin of the redis store. Expiry is applied
// lazily on access. Safe for concurrent use.
type Memory struct {
	mu    sync.Mutex
	vals  map[string]memVal
	lists map[string]*memList
	now   func() time.Time
}

type memVal struct {
	v        string
	expireAt time.Time // zero means no expiry
}

type memList struct {
	items    []string // head first, like redis
	expireAt time.Time
}

func NewMemory() *Memory {
	return &Memory{
		vals:  make(map[string]memVal),
		lists: make(map[string]*memList),
		now:   time.Now,
	}
}

func (m *Memory) expired(at time.Time) bool {
	return !at.IsZero() && m.now().After(at)
}

func (m *Memory) Get(_ context.Context, key string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.vals[key]
	if !ok || m.expired(e.expireAt) {
		delete(m.vals, key)
		return "", ErrMiss
	}
	return e.v, nil
}

func (m *Memory) Set(_ context.Context, key, val string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := memVal{v: val}
	if ttl > 0 {
		e.expireAt = m.now().Add(ttl)
	}
	m.vals[key] = e
	return nil
}

func (m *Memory) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.vals, k)
		delete(m.lists, k)
	}
	return nil
}

func (m *Memory) IncrWithTTL(_ context.Context, key string, ttl time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.vals[key]
	if !ok || m.expired(e.expireAt) {
		e = memVal{v: "0"}
		if ttl > 0 {
			e.expireAt = m.now().Add(ttl)
		}
	}
	n, _ := strconv.ParseInt(e.v, 10, 64)
	n++
	e.v = strconv.FormatInt(n, 10)
	m.vals[key] = e
	return n, nil
}

func (m *Memory) Keys(_ context.Context, prefix string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []string
	for k, e := range m.vals {
		if m.expired(e.expireAt) {
			continue
		}
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	for k, l := range m.lists {
		if m.expired(l.expireAt) {
			continue
		}
		if strings.HasPrefix(k, prefix) {
			out = append(out, k)
		}
	}
	return out, nil
}

func (m *Memory) list(key string) *memList {
	l, ok := m.lists[key]
	if !ok || m.expired(l.expireAt) {
		l = &memList{}
		m.lists[key] = l
	}
	return l
}

func (m *Memory) LPush(_ context.Context, key string, vals ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l := m.list(key)
	for _, v := range vals {
		l.items = append([]string{v}, l.items...)
	}
	return nil
}

func (m *Memory) LTrim(_ context.Context, key string, start, stop int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l := m.list(key)
	lo, hi, ok := window(int64(len(l.items)), start, stop)
	if !ok {
		l.items = nil
		return nil
	}
	l.items = l.items[lo : hi+1]
	return nil
}

func (m *Memory) LRange(_ context.Context, key string, start, stop int64) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l := m.list(key)
	lo, hi, ok := window(int64(len(l.items)), start, stop)
	if !ok {
		return nil, nil
	}
	out := make([]string, hi-lo+1)
	copy(out, l.items[lo:hi+1])
	return out, nil
}

func (m *Memory) LLen(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.lists[key]
	if !ok || m.expired(l.expireAt) {
		return 0, nil
	}
	return int64(len(l.items)), nil
}

func (m *Memory) Expire(_ context.Context, key string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	at := m.now().Add(ttl)
	if e, ok := m.vals[key]; ok {
		e.expireAt = at
		m.vals[key] = e
	}
	if l, ok := m.lists[key]; ok {
		l.expireAt = at
	}
	return nil
}

func (m *Memory) Ping(context.Context) error { return nil }

// window resolves redis-style start/stop (negatives count from the tail)
// into a [lo, hi] slice window, reporting false when the range is empty.
func window(n, start, stop int64) (int64, int64, bool) {
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if n == 0 || start > stop || start >= n {
		return 0, 0, false
	}
	return start, stop, true
}
