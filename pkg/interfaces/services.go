package interfaces

import (
	"context"

	"securechat/pkg/types"
)

// Broadcaster encrypts, persists and fans out one chat message
type Broadcaster interface {
	Submit(ctx context.Context, username, location, plaintext string) (*types.BroadcastResult, error)
}

// HistoryProvider returns the full decrypted message history
type HistoryProvider interface {
	GetHistory(ctx context.Context) ([]types.HistoryEntry, error)
}

// AccountService is the login/registration collaborator
// FUNCTIONAL DISCOVERY: Issued tokens are informational only; the realtime
// channel trusts the username carried in each chat payload
type AccountService interface {
	Register(ctx context.Context, req *types.RegisterRequest) (*types.AuthResult, error)
	Login(ctx context.Context, req *types.LoginRequest) (*types.AuthResult, error)
	ListUsers(ctx context.Context) ([]*types.User, error)
}
