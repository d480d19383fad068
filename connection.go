package main

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// client is one live connection. The coordinator loop owns every field
// except send and conn: the write pump drains send, and the read pump only
// enqueues events.
type client struct {
	conn *websocket.Conn
	send chan []byte
	key  string

	connected  time.Time
	lastActive time.Time
	playerID   string
	warnedIdle bool
	dead       bool

	closeOnce sync.Once
}

func newClient(conn *websocket.Conn, key string) *client {
	return &client{
		conn: conn,
		send: make(chan []byte, 32),
		key:  key,
	}
}

// trySend is the non-blocking delivery edge: false means the write buffer is
// full and the connection should be treated as dead.
func (c *client) trySend(buf []byte) bool {
	select {
	case c.send <- buf:
		return true
	default:
		return false
	}
}

// shutdown closes the send channel exactly once; the write pump flushes what
// is queued, sends a close frame, and closes the socket.
func (c *client) shutdown() {
	c.closeOnce.Do(func() {
		close(c.send)
	})
}

func (c *client) readPump(s *server) {
	defer func() {
		if c.conn != nil {
			_ = c.conn.Close()
		}
		s.enqueue(disconnectEvent{c: c})
	}()

	// Allow some slack past the protocol limit so oversized frames fail
	// with MESSAGE_TOO_LARGE instead of a silent socket drop.
	c.conn.SetReadLimit(maxFrameBytes * 2)

	for {
		kind, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if kind != websocket.TextMessage {
			continue
		}
		s.enqueue(requestEvent{c: c, data: data})
	}
}

func (c *client) writePump() {
	defer c.conn.Close()

	for buf := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, buf); err != nil {
			// Drain until shutdown so queued sends never block forever.
			for range c.send {
			}
			return
		}
	}

	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
}

// serveWS upgrades a socket and hands it to the coordinator. The connection
// limit is enforced before the upgrade.
func serveWS(cfg *Config, s *server) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		if s.connCount.Load() >= int64(cfg.websocketLimit) {
			http.Error(w, "connection limit reached", http.StatusServiceUnavailable)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logf(cfg, "SERVE: Upgrade failed for %s: %v", r.RemoteAddr, err)
			return
		}

		s.connCount.Add(1)
		defer s.connCount.Add(-1)

		c := newClient(conn, r.RemoteAddr)
		logf(cfg, "SERVE: Connection from %s", c.key)

		s.enqueue(connectEvent{c: c})

		go c.writePump()
		c.readPump(s)

		logf(cfg, "SERVE: Connection %s closed", c.key)
	}
}
