package transport

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/qiju-live/gameroom/internal/v1/logging"
	"github.com/qiju-live/gameroom/internal/v1/metrics"
	"github.com/qiju-live/gameroom/internal/v1/types"
)

// wsConnection defines the interface for WebSocket connection operations.
// In production this is *websocket.Conn; tests supply mocks.
type wsConnection interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	Close() error
	SetWriteDeadline(t time.Time) error
}

// Client represents a single socket attached to a room. The attachment is
// the bearer credential the room consults on every message; the role stored
// here is informational only.
type Client struct {
	conn wsConnection
	room types.Roomer
	id   types.ClientIDType

	mu     sync.RWMutex
	att    types.Attachment
	closed bool

	closeOnce sync.Once
	send      chan []byte // Buffered channel for outgoing messages
}

// NewClient wraps an upgraded connection bound to a room.
func NewClient(conn wsConnection, room types.Roomer, id types.ClientIDType) *Client {
	return &Client{
		conn: conn,
		room: room,
		id:   id,
		send: make(chan []byte, 256),
	}
}

// GetID returns the connection's identifier.
func (c *Client) GetID() types.ClientIDType {
	return c.id
}

// Attachment returns the per-socket metadata stamped by the room.
func (c *Client) Attachment() types.Attachment {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.att
}

// SetAttachment stamps the per-socket metadata.
func (c *Client) SetAttachment(att types.Attachment) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.att = att
}

// Send marshals v to JSON and queues it, best-effort.
func (c *Client) Send(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		logging.Error(context.Background(), "Failed to marshal outgoing message", zap.Error(err))
		return
	}
	c.SendRaw(data)
}

// SendRaw queues pre-serialized JSON. A full or closed channel drops the
// frame rather than blocking the room.
func (c *Client) SendRaw(data []byte) {
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return
	}
	c.mu.RUnlock()

	defer func() {
		if r := recover(); r != nil {
			logging.Warn(context.Background(), "Recovered from send to closing client", zap.String("clientId", string(c.id)))
		}
	}()

	select {
	case c.send <- data:
	default:
		logging.Warn(context.Background(), "Client send channel full, dropping frame", zap.String("clientId", string(c.id)))
	}
}

// CloseWithStatus sends a close frame carrying code and reason, then tears
// the connection down. Safe to call from room handlers and more than once.
func (c *Client) CloseWithStatus(code int, reason string) {
	c.mu.Lock()
	alreadyClosed := c.closed
	c.closed = true
	c.mu.Unlock()

	if !alreadyClosed {
		deadline := time.Now().Add(time.Second)
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(code, reason), deadline)
	}

	c.closeOnce.Do(func() {
		close(c.send)
	})
}

// ReadPump continuously reads frames and routes them into the room. It owns
// the close notification: when the read side dies for any reason the room's
// close handler runs exactly once.
func (c *Client) ReadPump() {
	defer func() {
		c.room.HandleClose(context.Background(), c)
		c.conn.Close()
		metrics.DecConnection()
	}()

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			break
		}
		if messageType != websocket.TextMessage {
			continue
		}

		c.room.HandleMessage(context.Background(), c, data)
	}
}

// WritePump drains the send queue onto the socket.
func (c *Client) WritePump() {
	defer c.conn.Close()
	writeWait := 10 * time.Second

	for message := range c.send {
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
			logging.Error(context.Background(), "error writing message", zap.Error(err))
			return
		}
	}
	_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}
