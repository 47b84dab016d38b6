package kv

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryGetSetDel(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	_, err := m.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrMiss)

	require.NoError(t, m.Set(ctx, "k", "v", 0))
	v, err := m.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", v)

	require.NoError(t, m.Del(ctx, "k"))
	_, err = m.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestMemoryTTL(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	m.now = func() time.Time { return time.Unix(1000, 0) }

	require.NoError(t, m.Set(ctx, "k", "v", 30*time.Second))

	m.now = func() time.Time { return time.Unix(1029, 0) }
	_, err := m.Get(ctx, "k")
	require.NoError(t, err)

	m.now = func() time.Time { return time.Unix(1031, 0) }
	_, err = m.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrMiss)
}

func TestMemoryIncrWithTTL(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	n, err := m.IncrWithTTL(ctx, "c", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = m.IncrWithTTL(ctx, "c", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestMemoryKeysByPrefix(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	require.NoError(t, m.Set(ctx, "a:1", "x", 0))
	require.NoError(t, m.Set(ctx, "a:2", "x", 0))
	require.NoError(t, m.Set(ctx, "b:1", "x", 0))

	keys, err := m.Keys(ctx, "a:")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a:1", "a:2"}, keys)
}

func TestMemoryListOps(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	require.NoError(t, m.LPush(ctx, "l", "a"))
	require.NoError(t, m.LPush(ctx, "l", "b", "c"))

	// head is the most recently pushed
	vals, err := m.LRange(ctx, "l", 0, -1)
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "b", "a"}, vals)

	require.NoError(t, m.LTrim(ctx, "l", 0, 1))
	n, err := m.LLen(ctx, "l")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	vals, err = m.LRange(ctx, "l", 0, -1)
	require.NoError(t, err)
	assert.Equal(t, []string{"c", "b"}, vals)
}
