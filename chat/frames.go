package chat

import (
	"encoding/json"
	"time"

	"github.com/nexmarket/realtime/offline"
	"github.com/nexmarket/realtime/store"
	"github.com/nexmarket/realtime/tools/errs"
)

// Frame types, client -> server and server -> client.
const (
	FrameAuth     = "auth"     // c->s: token
	FrameReady    = "ready"    // s->c: identity + conversation list
	FrameJoin     = "join"     // c->s: join a conversation room
	FrameJoinAck  = "join_ack" // s->c
	FrameLeave    = "leave"    // c->s: leave a conversation room
	FrameLeaveAck = "leave_ack"
	FrameSend     = "send"     // c->s: submit a message
	FrameMessage  = "message"  // s->c: persisted message broadcast
	FrameAck      = "ack"      // s->c: sender-only receipt of persistence
	FrameTyping   = "typing"   // both ways, ephemeral
	FrameReceipt  = "receipt"  // both ways: delivered/read flag change
	FramePresence = "presence" // s->c: user went online/offline
	FrameOffline  = "offline"  // s->c: backlog drained on connect
	FrameError    = "error"
)

// Frame is the wire unit: one JSON object per websocket message, "type"
// selects the handler. Unused fields stay empty on the wire.
type Frame struct {
	Type           string `json:"type"`
	ConversationID string `json:"conversation_id,omitempty"`
	From           string `json:"from,omitempty"`
	Ts             int64  `json:"ts,omitempty"`

	// auth
	Token string `json:"token,omitempty"`

	// send
	Content     string `json:"content,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	ClientMsgID string `json:"client_msg_id,omitempty"`

	// receipt
	MsgID string `json:"msg_id,omitempty"`
	Flag  string `json:"flag,omitempty"` // delivered | read

	// presence
	Online *bool `json:"online,omitempty"`

	// server payloads
	Message       *store.Message  `json:"message,omitempty"`
	Conversations []store.Summary `json:"conversations,omitempty"`
	Backlog       []offline.Entry `json:"backlog,omitempty"`

	// error
	Code int    `json:"code,omitempty"`
	Msg  string `json:"msg,omitempty"`
}

func ParseFrame(raw []byte) (*Frame, error) {
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, errs.ErrValidation.WrapMsg("unmarshal frame", "err", err)
	}
	if f.Type == "" {
		return nil, errs.ErrValidation.WrapMsg("frame missing type")
	}
	return &f, nil
}

func (f *Frame) Encode() []byte {
	if f.Ts == 0 {
		f.Ts = time.Now().UnixMilli()
	}
	b, _ := json.Marshal(f)
	return b
}

// ErrorFrame maps an error onto the wire taxonomy. Internal cache errors
// are already recovered before this point; anything uncoded reports as a
// store failure rather than leaking internals.
func ErrorFrame(err error) *Frame {
	ce := errs.CodeOf(err)
	if ce == nil {
		ce = errs.ErrStoreUnavailable
	}
	return &Frame{Type: FrameError, Code: ce.Code, Msg: ce.Msg}
}
