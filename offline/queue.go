// Package offline buffers messages addressed to recipients with no open
// connection. One rolling list per recipient in the cache substrate:
// LPush + LTrim keeps the newest maxLen entries, the key TTL ages out
// queues of long-absent users.
package offline

import (
	"context"
	"encoding/json"
	"time"

	"github.com/nexmarket/realtime/storage/kv"
	"github.com/nexmarket/realtime/store"
	"github.com/nexmarket/realtime/tools/errs"
)

const keyPrefix = "rt:offline:"

func key(userID string) string { return keyPrefix + userID }

// Entry is one buffered message for one absent recipient.
type Entry struct {
	ConversationID string        `json:"conversation_id"`
	Message        store.Message `json:"message"`
}

type Queue struct {
	kv     kv.Store
	maxLen int64
	ttl    time.Duration
}

func NewQueue(kvs kv.Store, maxLen int64, ttl time.Duration) *Queue {
	if maxLen <= 0 {
		maxLen = 1000
	}
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &Queue{kv: kvs, maxLen: maxLen, ttl: ttl}
}

// Enqueue appends for the recipient, trimming to the newest maxLen entries.
func (q *Queue) Enqueue(ctx context.Context, userID string, e Entry) error {
	b, err := json.Marshal(e)
	if err != nil {
		return errs.WrapMsg(err, "marshal offline entry")
	}
	k := key(userID)
	if err := q.kv.LPush(ctx, k, string(b)); err != nil {
		return errs.ErrCacheUnavailable.WrapMsg("offline enqueue", "user", userID, "err", err)
	}
	if err := q.kv.LTrim(ctx, k, 0, q.maxLen-1); err != nil {
		return errs.ErrCacheUnavailable.WrapMsg("offline trim", "user", userID, "err", err)
	}
	return q.kv.Expire(ctx, k, q.ttl)
}

// Drain returns all buffered entries oldest first and clears what it read.
// The trim removes exactly the tail entries returned, so a push that lands
// between the read and the trim stays at the head for the next drain. A
// crash in between re-delivers; clients de-duplicate by message id, so
// duplicates are fine and loss is not.
func (q *Queue) Drain(ctx context.Context, userID string) ([]Entry, error) {
	k := key(userID)
	vals, err := q.kv.LRange(ctx, k, 0, -1)
	if err != nil {
		return nil, errs.ErrCacheUnavailable.WrapMsg("offline drain", "user", userID, "err", err)
	}
	if len(vals) == 0 {
		return nil, nil
	}
	if err := q.kv.LTrim(ctx, k, 0, int64(-(len(vals) + 1))); err != nil {
		return nil, errs.ErrCacheUnavailable.WrapMsg("offline clear", "user", userID, "err", err)
	}
	// LPush stores newest first; reverse to FIFO
	out := make([]Entry, 0, len(vals))
	for i := len(vals) - 1; i >= 0; i-- {
		var e Entry
		if json.Unmarshal([]byte(vals[i]), &e) == nil {
			out = append(out, e)
		}
	}
	return out, nil
}

// Len reports the queue depth for one user.
func (q *Queue) Len(ctx context.Context, userID string) (int64, error) {
	return q.kv.LLen(ctx, key(userID))
}
