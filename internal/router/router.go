package router

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"securechat/internal/codec"
	"securechat/pkg/interfaces"
	"securechat/pkg/types"
)

// Snapshotter yields the connections currently admitted for fan-out
type Snapshotter interface {
	Snapshot() []interfaces.Connection
}

// Router implements the Broadcaster interface
// ARCHITECTURAL DISCOVERY: The router mediates between store and registry and
// holds no persistent state of its own
type Router struct {
	codec    *codec.Codec
	store    interfaces.MessageStore
	registry Snapshotter
	log      *slog.Logger

	// commitMu covers append + enqueue so every peer sees commit order
	commitMu sync.Mutex
}

// NewRouter creates a new broadcast router
// FUNCTIONAL DISCOVERY: Dependency injection enables testing with mock components
func NewRouter(c *codec.Codec, store interfaces.MessageStore, registry Snapshotter, log *slog.Logger) *Router {
	return &Router{
		codec:    c,
		store:    store,
		registry: registry,
		log:      log,
	}
}

// Submit encrypts, persists and fans out one chat message
// FUNCTIONAL DISCOVERY: Persist-then-route; a failed append never reaches any peer
// and delivery failures never roll back the stored record
func (r *Router) Submit(ctx context.Context, username, location, plaintext string) (*types.BroadcastResult, error) {
	submission := &types.ChatSubmission{Username: username, Location: location, Message: plaintext}
	if err := submission.Validate(); err != nil {
		return nil, err
	}

	// Encryption is pure CPU work and stays outside the commit lock
	ciphertext, err := r.codec.Encrypt(plaintext)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEncryptFailed, err)
	}

	r.commitMu.Lock()
	defer r.commitMu.Unlock()

	record, err := r.store.AppendMessage(ctx, username, location, ciphertext)
	if err != nil {
		r.log.Error("Failed to persist message", "username", username, "error", err)
		return nil, fmt.Errorf("%w: %w", ErrPersistFailed, err)
	}

	envelope := types.OutboundEnvelope{
		Event: types.EventChatMessage,
		Data: types.ChatBroadcast{
			ID:        record.ID,
			Username:  record.Username,
			Location:  record.Location,
			Message:   record.Ciphertext,
			Timestamp: record.Timestamp,
		},
	}

	result := &types.BroadcastResult{
		SequenceID: record.ID,
		Timestamp:  record.Timestamp,
	}

	// TECHNICAL DISCOVERY: Send only enqueues, so holding commitMu here never
	// waits on a peer's network write
	for _, conn := range r.registry.Snapshot() {
		if err := conn.Send(envelope); err != nil {
			result.Failed++
			r.log.Warn("Failed to deliver message",
				"connection_id", conn.ID(), "sequence_id", record.ID, "error", err)
			continue
		}
		result.Delivered++
	}

	r.log.Debug("Message broadcast",
		"sequence_id", record.ID, "delivered", result.Delivered, "failed", result.Failed)

	return result, nil
}
