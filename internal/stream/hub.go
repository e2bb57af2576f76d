package stream

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pulse/pulse/pkg/log"
	"github.com/pulse/pulse/pkg/metrics"
)

// Hub manages all stream connections and group-targeted broadcasting.
type Hub struct {
	// connections holds all active connections
	connections map[*Connection]struct{}

	// groups maps group names to connections subscribed to that group
	groups map[string]map[*Connection]struct{}

	// register channel for new connections with their initial groups
	register chan *registration

	// unregister channel for removing connections
	unregister chan *Connection

	// subscribe channel for group subscriptions
	subscribe chan *subscriptionRequest

	// unsubscribeCh channel for group unsubscriptions
	unsubscribeCh chan *subscriptionRequest

	// broadcast channel for group-targeted messages
	broadcast chan *broadcastRequest

	// mutex for thread-safe operations
	mu sync.RWMutex

	// logger for the hub
	logger log.Logger

	// metrics records the connected client gauge
	metrics *metrics.CoordinatorMetrics

	// counters, updated atomically
	totalConnections atomic.Int64
	totalBroadcasts  atomic.Int64
	totalDropped     atomic.Int64
}

// registration pairs a new connection with its initial subscriptions so
// both are applied in one hub event.
type registration struct {
	conn   *Connection
	groups []string
}

// subscriptionRequest represents a request to subscribe/unsubscribe to a group.
type subscriptionRequest struct {
	conn  *Connection
	group string
}

// broadcastRequest represents a request to broadcast a message to a group.
type broadcastRequest struct {
	group   string
	message []byte
}

// HubConfig holds configuration for the stream hub.
type HubConfig struct {
	// BroadcastBufferSize is the buffer size for hub channels
	BroadcastBufferSize int
}

// DefaultHubConfig returns sensible defaults for hub configuration.
func DefaultHubConfig() HubConfig {
	return HubConfig{
		BroadcastBufferSize: 256,
	}
}

// NewHub creates a new stream hub. A nil cm disables the client gauge.
func NewHub(cfg HubConfig, logger log.Logger, cm *metrics.CoordinatorMetrics) *Hub {
	bufferSize := cfg.BroadcastBufferSize
	if bufferSize <= 0 {
		bufferSize = 256
	}

	return &Hub{
		connections:   make(map[*Connection]struct{}),
		groups:        make(map[string]map[*Connection]struct{}),
		register:      make(chan *registration, bufferSize),
		unregister:    make(chan *Connection, bufferSize),
		subscribe:     make(chan *subscriptionRequest, bufferSize),
		unsubscribeCh: make(chan *subscriptionRequest, bufferSize),
		broadcast:     make(chan *broadcastRequest, bufferSize),
		logger:        logger.With("component", "stream_hub"),
		metrics:       cm,
	}
}

// Run starts the hub's main event loop. It blocks until the context is
// cancelled.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info().Msg("Starting stream hub")

	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			h.logger.Info().Msg("Stopping stream hub")
			h.closeAllConnections()
			return

		case reg := <-h.register:
			h.handleRegister(reg)

		case conn := <-h.unregister:
			h.handleUnregister(conn)

		case req := <-h.subscribe:
			h.handleSubscribe(req)

		case req := <-h.unsubscribeCh:
			h.handleUnsubscribe(req)

		case req := <-h.broadcast:
			h.handleBroadcast(req)

		case <-ticker.C:
			h.logStats()
		}
	}
}

// Register registers a new connection and its initial group
// subscriptions with the hub.
func (h *Hub) Register(conn *Connection, groups ...string) {
	h.register <- &registration{conn: conn, groups: groups}
}

// Unregister removes a connection from the hub.
func (h *Hub) Unregister(conn *Connection) {
	h.unregister <- conn
}

// Subscribe subscribes a connection to a group.
func (h *Hub) Subscribe(conn *Connection, group string) {
	h.subscribe <- &subscriptionRequest{conn: conn, group: group}
}

// Unsubscribe unsubscribes a connection from a group.
func (h *Hub) Unsubscribe(conn *Connection, group string) {
	h.unsubscribeCh <- &subscriptionRequest{conn: conn, group: group}
}

// Broadcast sends a message to all connections subscribed to a group,
// including wildcard subscribers.
func (h *Hub) Broadcast(group string, message []byte) {
	h.broadcast <- &broadcastRequest{group: group, message: message}
}

// BroadcastMessage creates and broadcasts a Message to a group.
func (h *Hub) BroadcastMessage(group string, msg *Message) error {
	data, err := msg.Bytes()
	if err != nil {
		return err
	}
	h.Broadcast(group, data)
	return nil
}

// ConnectionCount returns the current number of connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

// GroupCount returns the current number of groups with subscribers.
func (h *Hub) GroupCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.groups)
}

// GroupConnectionCount returns the number of connections subscribed to a
// specific group.
func (h *Hub) GroupConnectionCount(group string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if conns, ok := h.groups[group]; ok {
		return len(conns)
	}
	return 0
}

// Groups returns a list of all groups with subscribers.
func (h *Hub) Groups() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	groups := make([]string, 0, len(h.groups))
	for group := range h.groups {
		groups = append(groups, group)
	}
	return groups
}

// handleRegister handles a new connection registration.
func (h *Hub) handleRegister(reg *registration) {
	h.mu.Lock()
	defer h.mu.Unlock()

	conn := reg.conn
	h.connections[conn] = struct{}{}
	h.totalConnections.Add(1)
	h.setClientGauge()

	for _, group := range reg.groups {
		h.addSubscription(conn, group)
	}

	h.logger.Debug().
		Str("conn_id", conn.ID()).
		Int("total_connections", len(h.connections)).
		Msg("Connection registered")
}

// handleUnregister handles a connection unregistration.
func (h *Hub) handleUnregister(conn *Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.connections[conn]; !ok {
		return
	}

	// Remove from all groups
	for group, conns := range h.groups {
		delete(conns, conn)
		if len(conns) == 0 {
			delete(h.groups, group)
		}
	}

	delete(h.connections, conn)
	conn.Close()
	h.setClientGauge()

	h.logger.Debug().
		Str("conn_id", conn.ID()).
		Int("total_connections", len(h.connections)).
		Msg("Connection unregistered")
}

// handleSubscribe handles a group subscription request.
func (h *Hub) handleSubscribe(req *subscriptionRequest) {
	h.mu.Lock()
	defer h.mu.Unlock()

	// Ensure connection is registered
	if _, ok := h.connections[req.conn]; !ok {
		return
	}

	h.addSubscription(req.conn, req.group)
}

// addSubscription adds a connection to a group and confirms to the
// client. Caller holds the lock.
func (h *Hub) addSubscription(conn *Connection, group string) {
	if _, ok := h.groups[group]; !ok {
		h.groups[group] = make(map[*Connection]struct{})
	}
	h.groups[group][conn] = struct{}{}

	h.logger.Debug().
		Str("conn_id", conn.ID()).
		Str("group", group).
		Int("group_connections", len(h.groups[group])).
		Msg("Connection subscribed to group")

	msg, _ := NewGroupMessage(MessageTypeSubscribed, group, nil)
	if data, err := msg.Bytes(); err == nil {
		conn.Send(data)
	}
}

// handleUnsubscribe handles a group unsubscription request.
func (h *Hub) handleUnsubscribe(req *subscriptionRequest) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if conns, ok := h.groups[req.group]; ok {
		delete(conns, req.conn)
		if len(conns) == 0 {
			delete(h.groups, req.group)
		}
	}

	msg, _ := NewGroupMessage(MessageTypeUnsubscribed, req.group, nil)
	if data, err := msg.Bytes(); err == nil {
		req.conn.Send(data)
	}
}

// handleBroadcast handles a group broadcast request. Wildcard
// subscribers receive every group's events.
func (h *Hub) handleBroadcast(req *broadcastRequest) {
	h.mu.RLock()
	targets := make([]*Connection, 0, len(h.groups[req.group])+len(h.groups[GroupAll]))
	for conn := range h.groups[req.group] {
		targets = append(targets, conn)
	}
	if req.group != GroupAll {
		for conn := range h.groups[GroupAll] {
			if _, ok := h.groups[req.group][conn]; !ok {
				targets = append(targets, conn)
			}
		}
	}
	h.mu.RUnlock()

	if len(targets) == 0 {
		return
	}

	h.totalBroadcasts.Add(1)

	for _, conn := range targets {
		if !conn.Send(req.message) {
			h.totalDropped.Add(1)
		}
	}
}

// closeAllConnections closes all active connections.
func (h *Hub) closeAllConnections() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for conn := range h.connections {
		conn.Close()
	}

	h.connections = make(map[*Connection]struct{})
	h.groups = make(map[string]map[*Connection]struct{})
	h.setClientGauge()

	h.logger.Info().Msg("All connections closed")
}

// setClientGauge publishes the connected client count. Caller holds the
// lock.
func (h *Hub) setClientGauge() {
	if h.metrics != nil {
		h.metrics.SetStreamClients(len(h.connections))
	}
}

// logStats logs current hub statistics.
func (h *Hub) logStats() {
	h.mu.RLock()
	connCount := len(h.connections)
	groupCount := len(h.groups)
	h.mu.RUnlock()

	h.logger.Debug().
		Int("connections", connCount).
		Int("groups", groupCount).
		Int64("total_connections", h.totalConnections.Load()).
		Int64("total_broadcasts", h.totalBroadcasts.Load()).
		Int64("total_dropped", h.totalDropped.Load()).
		Msg("Hub statistics")
}

// Stats returns current hub statistics.
func (h *Hub) Stats() HubStats {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return HubStats{
		ActiveConnections: len(h.connections),
		ActiveGroups:      len(h.groups),
		TotalConnections:  h.totalConnections.Load(),
		TotalBroadcasts:   h.totalBroadcasts.Load(),
		TotalDropped:      h.totalDropped.Load(),
	}
}

// HubStats holds hub statistics.
type HubStats struct {
	ActiveConnections int   `json:"active_connections"`
	ActiveGroups      int   `json:"active_groups"`
	TotalConnections  int64 `json:"total_connections"`
	TotalBroadcasts   int64 `json:"total_broadcasts"`
	TotalDropped      int64 `json:"total_dropped"`
}

// IsHealthy returns true if the hub is running and healthy.
func (h *Hub) IsHealthy() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.connections != nil
}
