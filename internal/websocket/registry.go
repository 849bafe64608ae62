package websocket

import (
	"log/slog"
	"sync"

	"github.com/samber/lo"

	"securechat/pkg/interfaces"
	"securechat/pkg/types"
)

// DefaultMaxConnections is the admission bound when none is configured
const DefaultMaxConnections = 10

// Registry tracks admitted realtime connections and enforces the concurrency bound
// ARCHITECTURAL DISCOVERY: The admitted count IS the map size, so admit/release
// under one mutex can neither exceed the bound nor go negative
type Registry struct {
	mu             sync.RWMutex
	maxConnections int
	connections    map[string]interfaces.Connection // connectionID -> Connection
	rejectedTotal  int
	log            *slog.Logger
}

// NewRegistry creates a registry admitting at most maxConnections at once
func NewRegistry(maxConnections int, log *slog.Logger) *Registry {
	if maxConnections <= 0 {
		maxConnections = DefaultMaxConnections
	}
	return &Registry{
		maxConnections: maxConnections,
		connections:    make(map[string]interfaces.Connection),
		log:            log,
	}
}

// TryAdmit admits conn if a slot is free, otherwise rejects it immediately
// FUNCTIONAL DISCOVERY: No queueing; the caller tears down a rejected transport
func (r *Registry) TryAdmit(conn interfaces.Connection) types.ConnectionState {
	if conn == nil {
		r.log.Warn("Admission refused", "error", ErrNilConnection)
		return types.ConnectionStateRejected
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.connections[conn.ID()]; exists {
		return types.ConnectionStateAdmitted
	}

	if len(r.connections) >= r.maxConnections {
		r.rejectedTotal++
		conn.SetState(types.ConnectionStateRejected)
		r.log.Warn("Too many connections, rejecting",
			"connection_id", conn.ID(), "admitted", len(r.connections), "max", r.maxConnections)
		return types.ConnectionStateRejected
	}

	r.connections[conn.ID()] = conn
	conn.SetState(types.ConnectionStateAdmitted)
	r.log.Info("Client connected", "connection_id", conn.ID(), "admitted", len(r.connections))
	return types.ConnectionStateAdmitted
}

// Release frees the slot held by connectionID
// FUNCTIONAL DISCOVERY: Idempotent; unknown or already released IDs are a no-op
func (r *Registry) Release(connectionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	conn, exists := r.connections[connectionID]
	if !exists {
		return false
	}

	delete(r.connections, connectionID)
	conn.SetState(types.ConnectionStateClosed)
	r.log.Info("Client disconnected", "connection_id", connectionID, "admitted", len(r.connections))
	return true
}

// Snapshot returns the admitted connections at this instant for fan-out
// TECHNICAL DISCOVERY: Copy-then-iterate keeps network sends outside the lock
func (r *Registry) Snapshot() []interfaces.Connection {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return lo.Values(r.connections)
}

// Get returns an admitted connection by id
func (r *Registry) Get(connectionID string) (interfaces.Connection, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, exists := r.connections[connectionID]
	return conn, exists
}

// Count returns the number of admitted connections
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.connections)
}

// Max returns the admission bound
func (r *Registry) Max() int {
	return r.maxConnections
}

// GetStats returns registry statistics for monitoring and debugging
func (r *Registry) GetStats() map[string]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return map[string]int{
		"admitted_connections": len(r.connections),
		"max_connections":      r.maxConnections,
		"rejected_total":       r.rejectedTotal,
	}
}

// CloseAll releases and closes every admitted connection, used at shutdown
func (r *Registry) CloseAll() {
	for _, conn := range r.Snapshot() {
		r.Release(conn.ID())
		if err := conn.Close(); err != nil {
			r.log.Debug("Failed to close connection during shutdown", "connection_id", conn.ID(), "error", err)
		}
	}
}
