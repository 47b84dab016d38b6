package presence

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexmarket/realtime/storage/kv"
)

func TestOnlineOfflineLifecycle(t *testing.T) {
	ctx := context.Background()
	tr := NewTracker(kv.NewMemory(), time.Minute)

	online, err := tr.IsOnline(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, online)

	require.NoError(t, tr.SetOnline(ctx, "alice", "gw-1/c-100"))

	handle, online, err := tr.Lookup(ctx, "alice")
	require.NoError(t, err)
	assert.True(t, online)
	assert.Equal(t, "gw-1/c-100", handle)

	require.NoError(t, tr.SetOffline(ctx, "alice"))
	online, err = tr.IsOnline(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, online)

	// idempotent
	require.NoError(t, tr.SetOffline(ctx, "alice"))
}

func TestLastWriteWinsOnReconnect(t *testing.T) {
	ctx := context.Background()
	tr := NewTracker(kv.NewMemory(), time.Minute)

	require.NoError(t, tr.SetOnline(ctx, "alice", "gw-1/c-100"))
	require.NoError(t, tr.SetOnline(ctx, "alice", "gw-2/c-200"))

	handle, _, err := tr.Lookup(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, "gw-2/c-200", handle)
}

func TestListOnline(t *testing.T) {
	ctx := context.Background()
	tr := NewTracker(kv.NewMemory(), time.Minute)

	require.NoError(t, tr.SetOnline(ctx, "alice", "gw-1/c-1"))
	require.NoError(t, tr.SetOnline(ctx, "bob", "gw-1/c-2"))

	users, err := tr.ListOnline(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"alice", "bob"}, users)
}
