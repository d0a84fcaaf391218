package websocket

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	PingPeriod = (pongWait * 9) / 10
	maxMessage = 4096
)

// Conn serializes writes to a websocket connection. gorilla/websocket
// allows one concurrent writer; timers and the read loop share this one.
type Conn struct {
	*websocket.Conn
	mu sync.Mutex
}

func Wrap(c *websocket.Conn) *Conn {
	c.SetReadLimit(maxMessage)
	return &Conn{Conn: c}
}

// WriteJSON sends a payload with a write deadline.
func (c *Conn) WriteJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.Conn.WriteJSON(v)
}

// WriteError sends an error event.
func (c *Conn) WriteError(msg string) error {
	return c.WriteJSON(ResponsePayload{Event: EventError, Error: msg})
}

// ReadJSON reads the next message, extending the read deadline first.
func (c *Conn) ReadJSON(v interface{}) error {
	c.Conn.SetReadDeadline(time.Now().Add(pongWait))
	return c.Conn.ReadJSON(v)
}

// Ping sends a control ping frame.
func (c *Conn) Ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

// KeepAlive extends the read deadline whenever a pong arrives.
func (c *Conn) KeepAlive() {
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
}

// WriteClose sends a normal closure frame.
func (c *Conn) WriteClose() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	return c.Conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}
