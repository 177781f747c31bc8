package ws

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	maxFrame   = 1 << 20
)

var (
	errClosed     = errors.New("connection closed")
	errBufferFull = errors.New("send buffer full")
)

// connection is the registry sink of one websocket. Outbound frames go
// through a bounded buffer drained by a single writer; a client too slow to
// keep up is disconnected instead of losing frames silently. Frames sent
// before the socket is attached wait in the buffer.
type connection struct {
	send   chan []byte
	closed chan struct{}
	once   sync.Once

	mu sync.Mutex
	ws *websocket.Conn
}

func newConnection(buffer int) *connection {
	return &connection{
		send:   make(chan []byte, buffer),
		closed: make(chan struct{}),
	}
}

// Send implements registry.Sink.
func (c *connection) Send(frame []byte) error {
	select {
	case <-c.closed:
		return errClosed
	default:
	}

	select {
	case <-c.closed:
		return errClosed
	case c.send <- frame:
		return nil
	default:
		c.closeWith(websocket.ClosePolicyViolation, "send buffer full")
		return errBufferFull
	}
}

// Close implements registry.Sink.
func (c *connection) Close() error {
	c.closeWith(websocket.CloseGoingAway, "")
	return nil
}

func (c *connection) closeWith(code int, reason string) {
	c.once.Do(func() {
		close(c.closed)

		c.mu.Lock()
		ws := c.ws
		c.mu.Unlock()

		if ws != nil {
			_ = ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(code, reason), time.Now().Add(writeWait))
			_ = ws.Close()
		}
	})
}

// attach binds the socket and starts the writer.
func (c *connection) attach(ws *websocket.Conn) {
	c.mu.Lock()
	c.ws = ws
	c.mu.Unlock()

	select {
	case <-c.closed:
		_ = ws.Close()
		return
	default:
	}

	go c.writeLoop(ws)
}

func (c *connection) writeLoop(ws *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.closed:
			return
		case frame := <-c.send:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.closeWith(websocket.CloseAbnormalClosure, "")
				return
			}
		case <-ticker.C:
			_ = ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.closeWith(websocket.CloseAbnormalClosure, "")
				return
			}
		}
	}
}
