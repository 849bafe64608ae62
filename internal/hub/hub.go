package hub

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"securechat/internal/router"
	"securechat/pkg/interfaces"
	"securechat/pkg/types"
)

const defaultCleanupInterval = time.Minute

// Hub dispatches realtime events from admitted connections
// ARCHITECTURAL DISCOVERY: Central coordination point for all inbound frames;
// maintains clean separation between WebSocket handling and message routing
type Hub struct {
	broadcaster interfaces.Broadcaster
	history     interfaces.HistoryProvider
	limiter     *router.RateLimiter
	log         *slog.Logger

	cleanupInterval time.Duration
	shutdownChannel chan struct{} // Unbuffered for immediate shutdown signaling

	// TECHNICAL DISCOVERY: RWMutex allows concurrent reads of running state
	running bool
	mu      sync.RWMutex
}

// NewHub creates a new hub
// ARCHITECTURAL DISCOVERY: Constructor pattern with dependency injection
// enables clean testing and component isolation
func NewHub(broadcaster interfaces.Broadcaster, history interfaces.HistoryProvider, limiter *router.RateLimiter, log *slog.Logger) *Hub {
	if limiter == nil {
		limiter = router.NewRateLimiter(0)
	}
	return &Hub{
		broadcaster:     broadcaster,
		history:         history,
		limiter:         limiter,
		log:             log,
		cleanupInterval: defaultCleanupInterval,
	}
}

// Start opens the hub for events and starts rate limiter housekeeping
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.running {
		return ErrHubAlreadyRunning
	}
	h.running = true
	h.shutdownChannel = make(chan struct{})

	h.log.Info("Starting message hub")
	go h.run(ctx, h.shutdownChannel)

	return nil
}

// Stop closes the hub; events arriving afterwards get an error frame
func (h *Hub) Stop() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.running {
		return ErrHubNotRunning
	}
	h.running = false
	close(h.shutdownChannel)

	h.log.Info("Stopping message hub")
	return nil
}

// IsRunning reports whether the hub accepts events
func (h *Hub) IsRunning() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.running
}

// run evicts stale rate limiter entries until shutdown
func (h *Hub) run(ctx context.Context, shutdown <-chan struct{}) {
	defer h.log.Debug("Hub housekeeping stopped")

	ticker := time.NewTicker(h.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			h.limiter.Cleanup()
		case <-shutdown:
			return
		case <-ctx.Done():
			return
		}
	}
}

// HandleEvent decodes one client frame and dispatches it
// FUNCTIONAL DISCOVERY: Every failure is answered on the sender's connection only;
// a bad frame never closes the connection
// TECHNICAL DISCOVERY: Called on the connection's own read goroutine, so a slow
// persist for one peer never stalls another peer's frames
func (h *Hub) HandleEvent(ctx context.Context, conn interfaces.Connection, data []byte) {
	if !h.IsRunning() {
		h.sendError(conn, ErrHubNotRunning)
		return
	}

	var envelope types.Envelope
	if err := json.Unmarshal(data, &envelope); err != nil || envelope.Event == "" {
		h.log.Debug("Rejected malformed frame", "connection_id", conn.ID(), "error", err)
		h.sendError(conn, ErrInvalidEnvelope)
		return
	}

	switch envelope.Event {
	case types.EventChatMessage:
		h.handleChatMessage(ctx, conn, envelope.Data)
	case types.EventHistory:
		h.handleHistory(ctx, conn)
	default:
		h.sendError(conn, ErrUnknownEvent)
	}
}

// HandleDisconnect drops the per-connection rate limiter state
func (h *Hub) HandleDisconnect(connectionID string) {
	h.limiter.Forget(connectionID)
}

func (h *Hub) handleChatMessage(ctx context.Context, conn interfaces.Connection, data json.RawMessage) {
	var submission types.ChatSubmission
	if err := json.Unmarshal(data, &submission); err != nil {
		h.sendError(conn, types.ErrInvalidSubmission)
		return
	}

	// TECHNICAL DISCOVERY: Rate limiting applied per connection before persistence to prevent spam
	if !h.limiter.Allow(conn.ID()) {
		h.sendError(conn, router.ErrRateLimitExceeded)
		return
	}

	// A commit racing a disconnect must still persist and broadcast
	_, err := h.broadcaster.Submit(context.WithoutCancel(ctx), submission.Username, submission.Location, submission.Message)
	if err != nil {
		h.log.Warn("Message submission failed", "connection_id", conn.ID(), "username", submission.Username, "error", err)
		if errors.Is(err, router.ErrPersistFailed) || errors.Is(err, router.ErrEncryptFailed) {
			err = ErrDeliveryFailed
		}
		h.sendError(conn, err)
	}
}

func (h *Hub) handleHistory(ctx context.Context, conn interfaces.Connection) {
	entries, err := h.history.GetHistory(ctx)
	if err != nil {
		h.log.Error("History request failed", "connection_id", conn.ID(), "error", err)
		h.sendError(conn, ErrHistoryFailed)
		return
	}

	if err := conn.Send(types.OutboundEnvelope{Event: types.EventHistory, Data: entries}); err != nil {
		h.log.Warn("Failed to send history", "connection_id", conn.ID(), "error", err)
	}
}

// sendError reports a failure to the originating connection only
// TECHNICAL DISCOVERY: User-friendly error reporting without exposing internal details
func (h *Hub) sendError(conn interfaces.Connection, cause error) {
	envelope := types.OutboundEnvelope{
		Event: types.EventError,
		Data:  types.ErrorPayload{Message: cause.Error()},
	}
	if err := conn.Send(envelope); err != nil {
		h.log.Debug("Failed to send error frame", "connection_id", conn.ID(), "error", err)
	}
}
