package chat

import (
	"github.com/nexmarket/realtime/logger"
	"github.com/nexmarket/realtime/offline"
	"github.com/nexmarket/realtime/store"
	"github.com/nexmarket/realtime/tools/errs"
	"github.com/nexmarket/realtime/tools/safe"
	"github.com/nexmarket/realtime/tools/security"
)

func errUnauthed() error { return errs.ErrUnauthenticated.WrapMsg("auth required") }

const maxContentLen = 8 << 10

// handleAuth validates the credential, resolves the account, registers
// presence, and sends the client its conversation list plus any offline
// backlog. Any failure here terminates the connection with no state.
func (s *Server) handleAuth(f *Frame, c *Conn) error {
	if c.UserID != "" {
		return errs.ErrValidation.WrapMsg("already authenticated")
	}
	if f.Token == "" {
		return errs.ErrUnauthenticated.WrapMsg("missing token")
	}
	userID, err := security.Verify(s.opts.JWT, f.Token)
	if err != nil {
		return err
	}

	ctx, cancel := s.storeCtx()
	defer cancel()

	// read-through: warms the projection for the session as a side effect
	p, err := s.users.GetUser(ctx, userID)
	if err != nil {
		if errs.ErrNotFound.Is(err) {
			return errs.ErrUnauthenticated.WrapMsg("unknown account", "user", userID)
		}
		return err
	}
	if p.Banned {
		return errs.ErrForbidden.WrapMsg("account banned", "user", userID)
	}

	convs, err := s.convs.ListFor(ctx, userID, 50)
	if err != nil {
		return err
	}

	s.mgr.Bind(c, userID)
	if err := s.pres.SetOnline(ctx, userID, s.sessionHandle(c)); err != nil {
		// presence degrades, the session itself stays up
		logger.Warnf("[presence] online user=%s: %v", userID, err)
	}
	safe.Go(func() { s.keepAlive(c) })

	c.Enqueue((&Frame{Type: FrameReady, From: userID, Conversations: convs}).Encode())

	backlog, err := s.offq.Drain(ctx, userID)
	if err != nil {
		logger.Warnf("[offline] drain user=%s: %v", userID, err)
	} else if len(backlog) > 0 {
		c.Enqueue((&Frame{Type: FrameOffline, Backlog: backlog}).Encode())
	}

	s.broadcastPresence(userID, true)
	logger.Infof("[ws] authed conn=%s user=%s convs=%d backlog=%d",
		c.ID, userID, len(convs), len(backlog))
	return nil
}

// handleJoin verifies membership against the store (a client-claimed
// conversation id is never trusted) and then binds the connection to the
// room.
func (s *Server) handleJoin(f *Frame, c *Conn) error {
	if f.ConversationID == "" {
		return errs.ErrValidation.WrapMsg("missing conversation_id")
	}
	ctx, cancel := s.storeCtx()
	defer cancel()

	conv, err := s.convs.Get(ctx, f.ConversationID)
	if err != nil {
		return err // NotFound fails closed
	}
	if !contains(conv.Participants, c.UserID) {
		return errs.ErrForbidden.WrapMsg("not a participant", "conv", f.ConversationID)
	}

	s.mgr.JoinRoom(c, f.ConversationID)
	c.Enqueue((&Frame{Type: FrameJoinAck, ConversationID: f.ConversationID}).Encode())
	return nil
}

// handleLeave unbinds the connection from the room. Local routing only;
// membership in the durable conversation is unchanged, so the client can
// join again later.
func (s *Server) handleLeave(f *Frame, c *Conn) error {
	if f.ConversationID == "" {
		return errs.ErrValidation.WrapMsg("missing conversation_id")
	}
	s.mgr.LeaveRoom(c, f.ConversationID)
	c.Enqueue((&Frame{Type: FrameLeaveAck, ConversationID: f.ConversationID}).Encode())
	return nil
}

// handleSend is commit-before-broadcast: the append to the durable store
// must succeed before any participant sees anything. On failure the sender
// gets an error and nobody else sees the message.
func (s *Server) handleSend(f *Frame, c *Conn) error {
	if f.ConversationID == "" || f.Content == "" {
		return errs.ErrValidation.WrapMsg("conversation_id and content required")
	}
	if len(f.Content) > maxContentLen {
		return errs.ErrValidation.WrapMsg("content too large")
	}
	ct := f.ContentType
	if ct == "" {
		ct = store.TypeText
	}
	if !store.ValidContentType(ct) {
		return errs.ErrValidation.WrapMsg("bad content type", "type", ct)
	}

	ctx, cancel := s.storeCtx()
	defer cancel()

	// membership re-verified on every send, not just at join
	conv, err := s.convs.Get(ctx, f.ConversationID)
	if err != nil {
		return err
	}
	if !contains(conv.Participants, c.UserID) {
		return errs.ErrForbidden.WrapMsg("not a participant", "conv", f.ConversationID)
	}

	persisted, err := s.convs.AppendMessage(ctx, f.ConversationID, store.Message{
		ClientMsgID: f.ClientMsgID,
		SenderID:    c.UserID,
		Content:     f.Content,
		ContentType: ct,
	})
	if err != nil {
		return err // nothing was broadcast
	}

	// distinct ack to the originator so the client can resolve its temp id
	c.Enqueue((&Frame{
		Type:           FrameAck,
		ConversationID: f.ConversationID,
		ClientMsgID:    f.ClientMsgID,
		MsgID:          persisted.MsgID,
		Ts:             persisted.SendTime,
	}).Encode())

	payload := (&Frame{
		Type:           FrameMessage,
		ConversationID: f.ConversationID,
		From:           c.UserID,
		Message:        persisted,
	}).Encode()
	s.broadcastRoom(f.ConversationID, payload, c.ID)

	// buffer a copy for participants with no open connection anywhere
	for _, pid := range conv.Participants {
		if pid == c.UserID {
			continue
		}
		online, perr := s.pres.IsOnline(ctx, pid)
		if perr != nil {
			logger.Warnf("[presence] lookup user=%s: %v, buffering anyway", pid, perr)
		}
		if perr != nil || !online {
			if qerr := s.offq.Enqueue(ctx, pid, offline.Entry{
				ConversationID: f.ConversationID,
				Message:        *persisted,
			}); qerr != nil {
				logger.Errorf("[offline] enqueue user=%s msg=%s: %v", pid, persisted.MsgID, qerr)
			}
		}
	}
	return nil
}

// handleTyping is ephemeral and broadcast-only; it is never persisted.
func (s *Server) handleTyping(f *Frame, c *Conn) error {
	if f.ConversationID == "" {
		return errs.ErrValidation.WrapMsg("missing conversation_id")
	}
	// room-scoped op: membership still re-checked, cheap count query
	ctx, cancel := s.storeCtx()
	defer cancel()
	ok, err := s.convs.IsParticipant(ctx, f.ConversationID, c.UserID)
	if err != nil || !ok {
		// typing is best-effort, drop silently
		return nil
	}
	payload := (&Frame{
		Type:           FrameTyping,
		ConversationID: f.ConversationID,
		From:           c.UserID,
	}).Encode()
	s.broadcastRoom(f.ConversationID, payload, c.ID)
	return nil
}

// handleReceipt moves a delivered/read flag forward (false -> true only)
// and relays the change to the room.
func (s *Server) handleReceipt(f *Frame, c *Conn) error {
	if f.ConversationID == "" || f.MsgID == "" {
		return errs.ErrValidation.WrapMsg("conversation_id and msg_id required")
	}
	if f.Flag != "delivered" && f.Flag != "read" {
		return errs.ErrValidation.WrapMsg("bad flag", "flag", f.Flag)
	}

	ctx, cancel := s.storeCtx()
	defer cancel()

	ok, err := s.convs.IsParticipant(ctx, f.ConversationID, c.UserID)
	if err != nil {
		return err
	}
	if !ok {
		return errs.ErrForbidden.WrapMsg("not a participant", "conv", f.ConversationID)
	}

	if err := s.convs.SetMessageFlag(ctx, f.ConversationID, f.MsgID, f.Flag); err != nil {
		return err
	}

	payload := (&Frame{
		Type:           FrameReceipt,
		ConversationID: f.ConversationID,
		From:           c.UserID,
		MsgID:          f.MsgID,
		Flag:           f.Flag,
	}).Encode()
	s.broadcastRoom(f.ConversationID, payload, c.ID)
	return nil
}

func contains(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}
