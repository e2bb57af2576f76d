package stream

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/pulse/pulse/pkg/log"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// pingPeriod is the period at which pings are sent. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize is the maximum message size allowed from peer.
	// Clients only send small control messages.
	maxMessageSize = 64 * 1024

	// defaultSendBuffer is the default buffer size for the send channel.
	defaultSendBuffer = 64
)

// Connection wraps a WebSocket connection with read/write pumps and hub
// integration.
type Connection struct {
	// id is a unique identifier for this connection
	id string

	// hub is the stream hub this connection belongs to
	hub *Hub

	// conn is the underlying WebSocket connection
	conn *websocket.Conn

	// send is the buffered channel for outbound messages
	send chan []byte

	// groups tracks which groups this connection is subscribed to
	groups map[string]struct{}

	// mu protects connection state
	mu sync.RWMutex

	// closed indicates if the connection is closed
	closed bool

	// logger for this connection
	logger log.Logger

	// connectedAt is when the connection was established
	connectedAt time.Time

	// lastActivity is the time of the last activity on this connection
	lastActivity time.Time
}

// NewConnection creates a new Connection wrapper. sendBuffer bounds the
// outbound queue; zero or negative selects the default.
func NewConnection(ws *websocket.Conn, hub *Hub, sendBuffer int, logger log.Logger) *Connection {
	if sendBuffer <= 0 {
		sendBuffer = defaultSendBuffer
	}

	now := time.Now()
	c := &Connection{
		id:           uuid.New().String(),
		hub:          hub,
		conn:         ws,
		send:         make(chan []byte, sendBuffer),
		groups:       make(map[string]struct{}),
		logger:       logger.With("component", "stream_conn"),
		connectedAt:  now,
		lastActivity: now,
	}
	c.logger = c.logger.With("conn_id", c.id)

	return c
}

// ID returns the connection's unique identifier.
func (c *Connection) ID() string {
	return c.id
}

// ConnectedAt returns when the connection was established.
func (c *Connection) ConnectedAt() time.Time {
	return c.connectedAt
}

// LastActivity returns the time of the last activity.
func (c *Connection) LastActivity() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastActivity
}

// IsClosed returns true if the connection is closed.
func (c *Connection) IsClosed() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.closed
}

// Groups returns the list of groups this connection is subscribed to.
func (c *Connection) Groups() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	groups := make([]string, 0, len(c.groups))
	for group := range c.groups {
		groups = append(groups, group)
	}
	return groups
}

// Send queues a message to be sent to the client.
// Returns false if the connection is closed or the buffer is full.
func (c *Connection) Send(message []byte) bool {
	c.mu.RLock()
	if c.closed {
		c.mu.RUnlock()
		return false
	}
	c.mu.RUnlock()

	select {
	case c.send <- message:
		return true
	default:
		// Buffer full, connection is too slow
		c.logger.Warn().Msg("Send buffer full, dropping message")
		return false
	}
}

// Close closes the connection and its send queue.
func (c *Connection) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	close(c.send)
	if c.conn != nil {
		c.conn.Close()
	}

	c.logger.Debug().Msg("Connection closed")
}

// ReadPump pumps messages from the WebSocket connection to the hub.
// It runs in its own goroutine and handles incoming messages.
func (c *Connection) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.mu.Lock()
		c.lastActivity = time.Now()
		c.mu.Unlock()
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				c.logger.Debug().Err(err).Msg("Unexpected close error")
			}
			break
		}

		c.mu.Lock()
		c.lastActivity = time.Now()
		c.mu.Unlock()

		c.handleMessage(message)
	}
}

// WritePump pumps messages from the send channel to the WebSocket
// connection. It runs in its own goroutine and handles outgoing messages.
func (c *Connection) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// Batch additional queued messages
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage processes an incoming message from the client.
func (c *Connection) handleMessage(data []byte) {
	msg, err := ParseMessage(data)
	if err != nil {
		c.logger.Debug().Err(err).Msg("Failed to parse message")
		c.sendError("invalid_message", "failed to parse message")
		return
	}

	switch msg.Type {
	case MessageTypeSubscribe:
		c.handleSubscribe(msg)
	case MessageTypeUnsubscribe:
		c.handleUnsubscribe(msg)
	case MessageTypePing:
		c.handlePing()
	default:
		c.logger.Debug().Str("type", string(msg.Type)).Msg("Unknown message type")
	}
}

// handleSubscribe handles a subscribe request.
func (c *Connection) handleSubscribe(msg *Message) {
	group := msg.Group
	if group == "" {
		c.sendError("invalid_group", "group is required for subscribe")
		return
	}

	c.mu.Lock()
	c.groups[group] = struct{}{}
	c.mu.Unlock()

	c.hub.Subscribe(c, group)
}

// handleUnsubscribe handles an unsubscribe request.
func (c *Connection) handleUnsubscribe(msg *Message) {
	group := msg.Group
	if group == "" {
		c.sendError("invalid_group", "group is required for unsubscribe")
		return
	}

	c.mu.Lock()
	delete(c.groups, group)
	c.mu.Unlock()

	c.hub.Unsubscribe(c, group)
}

// handlePing handles a ping message by sending a pong.
func (c *Connection) handlePing() {
	msg, _ := NewMessage(MessageTypePong, nil)
	if data, err := msg.Bytes(); err == nil {
		c.Send(data)
	}
}

// sendError sends an error message to the client.
func (c *Connection) sendError(code, message string) {
	msg, _ := NewMessage(MessageTypeError, ErrorPayload{
		Code:    code,
		Message: message,
	})
	if data, err := msg.Bytes(); err == nil {
		c.Send(data)
	}
}
