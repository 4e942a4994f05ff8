package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Connection wraps a WebSocket connection behind a single writer goroutine.
// All outbound frames funnel through writeCh, so concurrent senders
// (the session's own loop, broadcasts from other sessions, the registry's
// error frames) never interleave writes on the underlying socket.
type Connection struct {
	conn         *websocket.Conn
	writeCh      chan []byte
	clientID     string
	writeTimeout time.Duration
	ctx          context.Context
	cancel       context.CancelFunc
	closeOnce    sync.Once
}

// NewConnection wraps an upgraded WebSocket connection and starts its writer
// goroutine. bufferSize is the outbound queue depth; a full queue makes
// Write fail with ErrWriteTimeout rather than block the sender forever.
func NewConnection(conn *websocket.Conn, clientID string, bufferSize int, writeTimeout time.Duration) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		conn:         conn,
		writeCh:      make(chan []byte, bufferSize),
		clientID:     clientID,
		writeTimeout: writeTimeout,
		ctx:          ctx,
		cancel:       cancel,
	}

	go c.writeLoop()

	return c
}

// ClientID returns the caller-supplied session identifier.
func (c *Connection) ClientID() string {
	return c.clientID
}

// writeLoop is the single writer. A write error cancels the connection
// context so later Write calls fail fast instead of queueing into a dead
// socket.
func (c *Connection) writeLoop() {
	defer func() {
		c.cancel()
		for len(c.writeCh) > 0 {
			<-c.writeCh
		}
	}()

	for {
		select {
		case data := <-c.writeCh:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-c.ctx.Done():
			return
		}
	}
}

// Write queues raw bytes for transmission.
func (c *Connection) Write(data []byte) error {
	select {
	case <-c.ctx.Done():
		return ErrConnectionClosed
	default:
	}

	select {
	case c.writeCh <- data:
		return nil
	case <-time.After(c.writeTimeout):
		return ErrWriteTimeout
	case <-c.ctx.Done():
		return ErrConnectionClosed
	}
}

// WriteJSON marshals v and queues it for transmission.
func (c *Connection) WriteJSON(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return ErrInvalidJSON
	}
	return c.Write(data)
}

// CloseWithReason sends a close frame with an application close code before
// tearing the connection down. Best effort; the socket may already be gone.
func (c *Connection) CloseWithReason(code int, reason string) error {
	deadline := time.Now().Add(c.writeTimeout)
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(code, reason), deadline)
	return c.Close()
}

// Close shuts the connection down exactly once. Safe to call from any
// goroutine and from every exit path.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		if c.conn != nil {
			err = c.conn.Close()
		}
	})
	return err
}
