package offline

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nexmarket/realtime/storage/kv"
	"github.com/nexmarket/realtime/store"
)

func entry(conv, msgID, content string) Entry {
	return Entry{
		ConversationID: conv,
		Message: store.Message{
			MsgID:       msgID,
			SenderID:    "alice",
			Content:     content,
			ContentType: store.TypeText,
		},
	}
}

func TestEnqueueDrainRoundTrip(t *testing.T) {
	ctx := context.Background()
	q := NewQueue(kv.NewMemory(), 100, time.Hour)

	require.NoError(t, q.Enqueue(ctx, "bob", entry("c1", "m1", "hello")))
	require.NoError(t, q.Enqueue(ctx, "bob", entry("c1", "m2", "world")))

	got, err := q.Drain(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, got, 2)
	// FIFO: oldest first
	assert.Equal(t, "m1", got[0].Message.MsgID)
	assert.Equal(t, "m2", got[1].Message.MsgID)
	assert.Equal(t, "c1", got[0].ConversationID)

	// drain clears
	got, err = q.Drain(ctx, "bob")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestQueueIsBounded(t *testing.T) {
	ctx := context.Background()
	q := NewQueue(kv.NewMemory(), 3, time.Hour)

	for i := 1; i <= 5; i++ {
		require.NoError(t, q.Enqueue(ctx, "bob", entry("c1", fmt.Sprintf("m%d", i), "x")))
	}

	n, err := q.Len(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)

	got, err := q.Drain(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, got, 3)
	// oldest entries aged out, newest three remain
	assert.Equal(t, "m3", got[0].Message.MsgID)
	assert.Equal(t, "m5", got[2].Message.MsgID)
}

// drainRaceKV fires a callback right after the first LRange, simulating a
// sender enqueueing between the drain's read and its trim.
type drainRaceKV struct {
	kv.Store
	once    sync.Once
	between func()
}

func (r *drainRaceKV) LRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	vals, err := r.Store.LRange(ctx, key, start, stop)
	r.once.Do(r.between)
	return vals, err
}

func TestDrainKeepsEntryEnqueuedDuringDrain(t *testing.T) {
	ctx := context.Background()
	race := &drainRaceKV{Store: kv.NewMemory()}
	q := NewQueue(race, 100, time.Hour)
	race.between = func() {
		require.NoError(t, q.Enqueue(ctx, "bob", entry("c1", "m2", "late")))
	}

	require.NoError(t, q.Enqueue(ctx, "bob", entry("c1", "m1", "early")))

	got, err := q.Drain(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "m1", got[0].Message.MsgID)

	// the entry that raced in must still be drainable, not wiped
	got, err = q.Drain(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "m2", got[0].Message.MsgID)
}

func TestQueuesAreScopedPerRecipient(t *testing.T) {
	ctx := context.Background()
	q := NewQueue(kv.NewMemory(), 10, time.Hour)

	require.NoError(t, q.Enqueue(ctx, "bob", entry("c1", "m1", "for bob")))
	require.NoError(t, q.Enqueue(ctx, "carol", entry("c2", "m2", "for carol")))

	got, err := q.Drain(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "m1", got[0].Message.MsgID)

	got, err = q.Drain(ctx, "carol")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "m2", got[0].Message.MsgID)
}
