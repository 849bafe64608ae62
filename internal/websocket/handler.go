package websocket

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"securechat/pkg/interfaces"
	"securechat/pkg/types"
)

// EventHandler consumes text frames read from an admitted connection
// ARCHITECTURAL DISCOVERY: Declared here so the transport never imports the
// router or history packages
type EventHandler interface {
	HandleEvent(ctx context.Context, conn interfaces.Connection, data []byte)
	HandleDisconnect(connectionID string)
}

// HandlerConfig carries the transport tunables
type HandlerConfig struct {
	PingInterval   time.Duration
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	BufferSize     int
	MaxMessageSize int64
	AllowedOrigins []string
}

// DefaultHandlerConfig mirrors the config package defaults
func DefaultHandlerConfig() HandlerConfig {
	return HandlerConfig{
		PingInterval:   30 * time.Second,
		ReadTimeout:    60 * time.Second,
		WriteTimeout:   10 * time.Second,
		BufferSize:     100,
		MaxMessageSize: 128 * 1024,
	}
}

// Handler upgrades HTTP requests, applies admission control and pumps frames
type Handler struct {
	registry *Registry
	events   EventHandler
	config   HandlerConfig
	log      *slog.Logger
	upgrader websocket.Upgrader
}

// NewHandler creates a new WebSocket handler with dependency injection
func NewHandler(registry *Registry, events EventHandler, config HandlerConfig, log *slog.Logger) *Handler {
	h := &Handler{
		registry: registry,
		events:   events,
		config:   config,
		log:      log,
	}
	h.upgrader = websocket.Upgrader{
		CheckOrigin:      h.checkOrigin,
		HandshakeTimeout: 10 * time.Second,
	}
	return h
}

// checkOrigin allows every origin unless an allow-list is configured
// FUNCTIONAL DISCOVERY: Browser clients are served from arbitrary origins by default
func (h *Handler) checkOrigin(r *http.Request) bool {
	if len(h.config.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	for _, allowed := range h.config.AllowedOrigins {
		if origin == allowed {
			return true
		}
	}
	return false
}

// HandleWebSocket upgrades, admits or rejects, then runs the connection
// ARCHITECTURAL DISCOVERY: Admission happens synchronously at connect time;
// a rejected peer gets a 1013 close frame and never reaches the event handler
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("WebSocket upgrade failed", "error", err)
		return
	}

	wsConn := NewConnection(conn, h.config.BufferSize, h.config.WriteTimeout)

	if h.registry.TryAdmit(wsConn) == types.ConnectionStateRejected {
		if err := wsConn.Reject("too many connections"); err != nil {
			h.log.Debug("Failed to close rejected connection", "connection_id", wsConn.ID(), "error", err)
		}
		return
	}

	if err := wsConn.Send(types.OutboundEnvelope{
		Event: types.EventConnected,
		Data:  types.ConnectedPayload{ConnectionID: wsConn.ID()},
	}); err != nil {
		h.log.Warn("Failed to send connected event", "connection_id", wsConn.ID(), "error", err)
	}

	go h.handleConnection(wsConn)
}

// handleConnection manages the connection lifecycle with heartbeat monitoring
func (h *Handler) handleConnection(conn *Connection) {
	defer func() {
		// FUNCTIONAL DISCOVERY: Release before Close so fan-out snapshots
		// stop including a connection that is being torn down
		h.registry.Release(conn.ID())
		_ = conn.Close()
		h.events.HandleDisconnect(conn.ID())
	}()

	if h.config.MaxMessageSize > 0 {
		conn.conn.SetReadLimit(h.config.MaxMessageSize)
	}

	if err := h.extendReadDeadline(conn); err != nil {
		h.log.Warn("Failed to set read deadline", "connection_id", conn.ID(), "error", err)
		return
	}
	conn.conn.SetPongHandler(func(string) error {
		return h.extendReadDeadline(conn)
	})

	if h.config.PingInterval > 0 {
		go h.pingLoop(conn)
	}

	for {
		messageType, data, err := conn.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.log.Warn("WebSocket read error", "connection_id", conn.ID(), "error", err)
			}
			return
		}

		if messageType != websocket.TextMessage {
			continue
		}

		// Any inbound frame proves liveness
		_ = h.extendReadDeadline(conn)
		h.events.HandleEvent(conn.Context(), conn, data)
	}
}

// extendReadDeadline pushes the read deadline out by ReadTimeout; zero disables it
func (h *Handler) extendReadDeadline(conn *Connection) error {
	if h.config.ReadTimeout <= 0 {
		return nil
	}
	return conn.conn.SetReadDeadline(time.Now().Add(h.config.ReadTimeout))
}

// pingLoop sends heartbeats until the connection closes
func (h *Handler) pingLoop(conn *Connection) {
	ticker := time.NewTicker(h.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			deadline := time.Now().Add(h.config.WriteTimeout)
			if err := conn.conn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		case <-conn.ctx.Done():
			return
		}
	}
}
