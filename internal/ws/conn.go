package ws

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// gorillaConn adapts a gorilla WebSocket connection to the Conn interface.
// gorilla permits at most one concurrent writer, so every outbound frame
// and the close handshake are serialized through one mutex.
type gorillaConn struct {
	mu        sync.Mutex
	raw       *websocket.Conn
	writeWait time.Duration
}

func newGorillaConn(raw *websocket.Conn, writeWait time.Duration) *gorillaConn {
	return &gorillaConn{raw: raw, writeWait: writeWait}
}

// WriteJSON sends one frame under a write deadline.
func (c *gorillaConn) WriteJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.raw.SetWriteDeadline(time.Now().Add(c.writeWait)); err != nil {
		return err
	}
	return c.raw.WriteJSON(v)
}

// Close sends a close control frame with code and reason, then tears down
// the underlying transport. Safe to call on an already-closing connection;
// the write error is intentionally ignored in that case.
func (c *gorillaConn) Close(code int, reason string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	deadline := time.Now().Add(c.writeWait)
	_ = c.raw.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason), deadline)
	return c.raw.Close()
}
