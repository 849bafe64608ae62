package interfaces

import (
	"context"

	"securechat/pkg/types"
)

// MessageStore is the durable append-only chat log
type MessageStore interface {
	// AppendMessage assigns sequence id and timestamp and returns only after commit
	AppendMessage(ctx context.Context, username, location, ciphertext string) (*types.ChatMessage, error)

	// ListMessages returns every record ordered by timestamp, then id
	// TECHNICAL DISCOVERY: Read-committed; a concurrent append may or may not be included
	ListMessages(ctx context.Context) ([]*types.ChatMessage, error)
}

// UserStore persists accounts for the login/registration collaborator
type UserStore interface {
	CreateUser(ctx context.Context, user *types.User) error
	GetUserByUsername(ctx context.Context, username string) (*types.User, error)
	ListUsers(ctx context.Context) ([]*types.User, error)
}

// DatabaseManager handles all database operations
// ARCHITECTURAL DISCOVERY: Single manager owns both tables so one writer
// goroutine serializes every SQLite write
type DatabaseManager interface {
	MessageStore
	UserStore

	// HealthCheck verifies database connectivity and basic operations
	HealthCheck(ctx context.Context) error

	// Close waits for pending writes and closes the database
	Close() error
}
