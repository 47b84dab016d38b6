package chat

import (
	"context"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/nexmarket/realtime/cache"
	"github.com/nexmarket/realtime/logger"
	"github.com/nexmarket/realtime/offline"
	"github.com/nexmarket/realtime/presence"
	"github.com/nexmarket/realtime/store"
	"github.com/nexmarket/realtime/tools/ids"
	"github.com/nexmarket/realtime/tools/security"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

const (
	authWait   = 30 * time.Second
	pongWait   = 75 * time.Second
	pingPeriod = 25 * time.Second
)

// ConversationStore is the slice of the durable store the gateway needs for
// room operations. *store.Conversations satisfies it; tests substitute a
// fake.
type ConversationStore interface {
	Get(ctx context.Context, id string) (*store.Conversation, error)
	IsParticipant(ctx context.Context, id, userID string) (bool, error)
	ListFor(ctx context.Context, userID string, limit int64) ([]store.Summary, error)
	AppendMessage(ctx context.Context, id string, m store.Message) (*store.Message, error)
	SetMessageFlag(ctx context.Context, id, msgID, flag string) error
}

type Options struct {
	GatewayID    string
	JWT          security.Options
	StoreTimeout time.Duration // bound on durable-store calls on the send path
}

type Server struct {
	opts  Options
	mgr   *Manager
	disp  *Dispatcher
	fan   *Fanout
	relay *Relay // nil when running a single instance without NATS

	users *cache.Users
	pres  *presence.Tracker
	offq  *offline.Queue
	convs ConversationStore
}

func NewServer(opts Options, users *cache.Users, pres *presence.Tracker,
	offq *offline.Queue, convs ConversationStore, relay *Relay) (*Server, error) {
	if opts.StoreTimeout <= 0 {
		opts.StoreTimeout = 3 * time.Second
	}
	s := &Server{
		opts:  opts,
		mgr:   NewManager(),
		disp:  NewDispatcher(),
		fan:   NewFanout(4, 1024),
		relay: relay,
		users: users,
		pres:  pres,
		offq:  offq,
		convs: convs,
	}
	s.disp.Register(FrameAuth, s.handleAuth)
	s.disp.Register(FrameJoin, s.handleJoin)
	s.disp.Register(FrameLeave, s.handleLeave)
	s.disp.Register(FrameSend, s.handleSend)
	s.disp.Register(FrameTyping, s.handleTyping)
	s.disp.Register(FrameReceipt, s.handleReceipt)

	if relay != nil {
		err := relay.Subscribe(
			func(convID string, payload []byte) {
				s.fan.Broadcast(convID, s.mgr.RoomConns(convID, ""), payload)
			},
			func(payload []byte) {
				s.fan.Broadcast("presence", s.mgr.AllConns(), payload)
			},
		)
		if err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *Server) Manager() *Manager { return s.mgr }

// storeCtx bounds a durable-store call; on expiry the operation counts as
// failed and is never silently retried.
func (s *Server) storeCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), s.opts.StoreTimeout)
}

// HandleWS upgrades the request and runs the connection's read loop. The
// first frame must be a successful auth within authWait or the connection
// is dropped with no state created.
func (s *Server) HandleWS(c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Infof("[ws] upgrade failed: %v", err)
		return
	}

	conn := newConn(ids.GenerateString(), ws)
	s.mgr.Add(conn)
	go conn.writePump()
	defer s.teardown(conn)

	_ = ws.SetReadDeadline(time.Now().Add(authWait))
	for {
		mt, data, rerr := ws.ReadMessage()
		if rerr == nil && conn.UserID != "" {
			// inbound frames count as liveness, same as pongs
			_ = ws.SetReadDeadline(time.Now().Add(pongWait))
		}
		if rerr != nil {
			if websocket.IsCloseError(rerr,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
			) {
				logger.Debugf("[ws] peer closed conn=%s: %v", conn.ID, rerr)
			} else if ne, ok := rerr.(net.Error); ok && ne.Timeout() {
				logger.Debugf("[ws] read timeout conn=%s", conn.ID)
			} else {
				logger.Debugf("[ws] read err conn=%s: %v", conn.ID, rerr)
			}
			return
		}
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}

		f, perr := ParseFrame(data)
		if perr != nil {
			conn.Enqueue(ErrorFrame(perr).Encode())
			continue
		}
		if conn.UserID == "" && f.Type != FrameAuth {
			conn.Enqueue(ErrorFrame(errUnauthed()).Encode())
			return
		}

		if err := s.disp.Dispatch(f, conn); err != nil {
			conn.Enqueue(ErrorFrame(err).Encode())
			if f.Type == FrameAuth {
				// failed connect terminates immediately, no state created
				return
			}
			continue
		}
		if f.Type == FrameAuth {
			// authed: switch from the handshake deadline to the keepalive
			// one, extended on every pong and inbound frame
			_ = ws.SetReadDeadline(time.Now().Add(pongWait))
			ws.SetPongHandler(func(string) error {
				return ws.SetReadDeadline(time.Now().Add(pongWait))
			})
		}
	}
}

// teardown runs once per connection on read-loop exit.
func (s *Server) teardown(conn *Conn) {
	conn.Close()
	userID := conn.UserID
	s.mgr.Remove(conn)

	if userID == "" {
		return
	}
	// Only clear shared presence when this was the user's last connection
	// on this instance. A live connection on another instance refreshes the
	// entry right back; the TTL covers the remaining races.
	if len(s.mgr.UserConns(userID)) == 0 {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := s.pres.SetOffline(ctx, userID); err != nil {
			logger.Warnf("[presence] offline user=%s: %v", userID, err)
		}
		s.broadcastPresence(userID, false)
	}
	logger.Infof("[ws] closed conn=%s user=%s", conn.ID, userID)
}

func (s *Server) broadcastPresence(userID string, online bool) {
	f := &Frame{Type: FramePresence, From: userID, Online: &online}
	payload := f.Encode()
	s.fan.Broadcast("presence", s.mgr.AllConns(), payload)
	if s.relay != nil {
		s.relay.PublishPresence(payload)
	}
}

// broadcastRoom fans a committed event out to the local room and relays it
// to the other instances.
func (s *Server) broadcastRoom(convID string, payload []byte, exceptConnID string) {
	s.fan.Broadcast(convID, s.mgr.RoomConns(convID, exceptConnID), payload)
	if s.relay != nil {
		s.relay.PublishConv(convID, payload)
	}
}

func (s *Server) sessionHandle(conn *Conn) string {
	return s.opts.GatewayID + "/" + conn.ID
}

// keepAlive pings the peer and renews the shared presence entry while the
// connection is open. Without it an idle connection would outlive its
// presence TTL and look offline, and sends to it would buffer offline.
func (s *Server) keepAlive(conn *Conn) {
	interval := pingPeriod
	if ttl := s.pres.TTL(); ttl > 0 && ttl/2 < interval {
		interval = ttl / 2
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-conn.done:
			return
		case <-t.C:
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			if err := s.pres.SetOnline(ctx, conn.UserID, s.sessionHandle(conn)); err != nil {
				logger.Debugf("[presence] refresh user=%s: %v", conn.UserID, err)
			}
			cancel()
			conn.Ping()
		}
	}
}
