package chat

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nexmarket/realtime/logger"
)

const (
	sendQueueSize = 256
	writeWait     = 5 * time.Second
)

// Conn is one websocket connection. Writes go through the send queue and a
// single writer goroutine; the read loop lives in Server.HandleWS. ws may
// be nil in tests, in which case frames accumulate in the queue.
type Conn struct {
	ID     string
	UserID string // set once by the auth handler, empty until then

	ws   *websocket.Conn
	send chan []byte

	once sync.Once
	done chan struct{}
}

func newConn(id string, ws *websocket.Conn) *Conn {
	return &Conn{
		ID:   id,
		ws:   ws,
		send: make(chan []byte, sendQueueSize),
		done: make(chan struct{}),
	}
}

// Enqueue queues a payload for the writer. Non-blocking: a slow client
// drops frames rather than stalling the broadcaster.
func (c *Conn) Enqueue(payload []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- payload:
		return true
	default:
		logger.Warnf("[ws] send queue full, dropping frame conn=%s user=%s", c.ID, c.UserID)
		return false
	}
}

// Ping sends a control ping. WriteControl is safe to call off the writer
// goroutine.
func (c *Conn) Ping() {
	if c.ws == nil {
		return
	}
	_ = c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

func (c *Conn) Close() {
	c.once.Do(func() {
		close(c.done)
		if c.ws != nil {
			_ = c.ws.Close()
		}
	})
}

// writePump is the only goroutine that writes to ws.
func (c *Conn) writePump() {
	for {
		select {
		case payload := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
				logger.Debugf("[ws] write err conn=%s: %v", c.ID, err)
				c.Close()
				return
			}
		case <-c.done:
			return
		}
	}
}
