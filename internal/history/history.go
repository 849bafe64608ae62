// Package history serves the decrypted chat log.
package history

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/samber/lo"

	"securechat/internal/codec"
	"securechat/pkg/interfaces"
	"securechat/pkg/types"
)

// Service implements the HistoryProvider interface
type Service struct {
	codec *codec.Codec
	store interfaces.MessageStore
	log   *slog.Logger
}

// NewService creates a history service over the message store
func NewService(c *codec.Codec, store interfaces.MessageStore, log *slog.Logger) *Service {
	return &Service{codec: c, store: store, log: log}
}

// GetHistory returns every stored message in commit order with its body decrypted
// FUNCTIONAL DISCOVERY: A record that fails to decrypt keeps its position and
// metadata but carries UndecryptableMarker with Valid=false; only a store read
// failure fails the whole call
func (s *Service) GetHistory(ctx context.Context) ([]types.HistoryEntry, error) {
	records, err := s.store.ListMessages(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list messages: %w", err)
	}

	entries := lo.Map(records, func(record *types.ChatMessage, _ int) types.HistoryEntry {
		entry := types.HistoryEntry{
			ID:        record.ID,
			Username:  record.Username,
			Location:  record.Location,
			Timestamp: record.Timestamp,
			Valid:     true,
		}

		plaintext, err := s.codec.Decrypt(record.Ciphertext)
		if err != nil {
			s.log.Warn("Failed to decrypt stored message", "sequence_id", record.ID, "error", err)
			entry.Plaintext = types.UndecryptableMarker
			entry.Valid = false
			return entry
		}

		entry.Plaintext = plaintext
		return entry
	})

	return entries, nil
}
