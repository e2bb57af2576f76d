package stream

import (
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/pulse/pulse/pkg/log"
)

// Handler handles WebSocket upgrade requests and connection management.
// The group query parameter selects the initial subscription; absent or
// empty subscribes to all groups.
type Handler struct {
	hub        *Hub
	upgrader   websocket.Upgrader
	sendBuffer int
	logger     log.Logger
}

// HandlerConfig configures the stream handler.
type HandlerConfig struct {
	// AllowedOrigins is a list of allowed origins. Use "*" to allow all.
	AllowedOrigins []string
	// SendBuffer is the per-connection outbound message buffer.
	SendBuffer int
	// ReadBufferSize is the buffer size for reading messages.
	ReadBufferSize int
	// WriteBufferSize is the buffer size for writing messages.
	WriteBufferSize int
}

// DefaultHandlerConfig returns sensible defaults for handler configuration.
func DefaultHandlerConfig() HandlerConfig {
	return HandlerConfig{
		AllowedOrigins:  []string{"*"},
		SendBuffer:      defaultSendBuffer,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}
}

// NewHandler creates a stream handler with default configuration.
func NewHandler(hub *Hub, logger log.Logger) *Handler {
	return NewHandlerWithConfig(hub, DefaultHandlerConfig(), logger)
}

// NewHandlerWithConfig creates a stream handler with custom configuration.
func NewHandlerWithConfig(hub *Hub, cfg HandlerConfig, logger log.Logger) *Handler {
	h := &Handler{
		hub:        hub,
		sendBuffer: cfg.SendBuffer,
		logger:     logger.With("component", "stream_handler"),
	}

	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  cfg.ReadBufferSize,
		WriteBufferSize: cfg.WriteBufferSize,
		CheckOrigin:     makeOriginChecker(cfg.AllowedOrigins),
	}

	return h
}

// makeOriginChecker creates an origin checking function based on allowed origins.
func makeOriginChecker(allowedOrigins []string) func(*http.Request) bool {
	// If wildcard is present, allow all origins
	for _, origin := range allowedOrigins {
		if origin == "*" {
			return func(r *http.Request) bool {
				return true
			}
		}
	}

	allowed := make(map[string]bool)
	for _, origin := range allowedOrigins {
		allowed[origin] = true
	}

	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true // Allow requests without origin (e.g., native clients)
		}
		return allowed[origin]
	}
}

// ServeHTTP upgrades HTTP connections to WebSocket and wires them into
// the hub.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	group := r.URL.Query().Get("group")
	if group == "" {
		group = GroupAll
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Debug().Err(err).Msg("Failed to upgrade connection")
		return
	}

	conn := NewConnection(ws, h.hub, h.sendBuffer, h.logger)
	conn.mu.Lock()
	conn.groups[group] = struct{}{}
	conn.mu.Unlock()

	h.hub.Register(conn, group)

	h.logger.Info().
		Str("conn_id", conn.ID()).
		Str("remote_addr", r.RemoteAddr).
		Str("group", group).
		Msg("Stream connection established")

	go conn.WritePump()
	go conn.ReadPump()
}
