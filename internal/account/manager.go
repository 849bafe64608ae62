// Package account is the login and registration collaborator.
package account

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/crypto/bcrypt"

	"securechat/pkg/interfaces"
	"securechat/pkg/types"
)

// Manager implements the AccountService interface
type Manager struct {
	users  interfaces.UserStore
	tokens *TokenIssuer
	cost   int
	log    *slog.Logger
}

// NewManager creates a new account manager; cost 0 selects bcrypt.DefaultCost
func NewManager(users interfaces.UserStore, tokens *TokenIssuer, cost int, log *slog.Logger) *Manager {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	return &Manager{users: users, tokens: tokens, cost: cost, log: log}
}

// Register validates the request, stores a bcrypt hash and issues a token
func (m *Manager) Register(ctx context.Context, req *types.RegisterRequest) (*types.AuthResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), m.cost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &types.User{
		Username:     req.Username,
		Email:        req.Email,
		PasswordHash: string(hash),
		CreatedAt:    time.Now().UTC(),
	}

	if err := m.users.CreateUser(ctx, user); err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	m.log.Info("User registered", "user_id", user.ID, "username", user.Username)
	return m.authResult(user)
}

// Login checks the password against the stored hash and issues a token
// FUNCTIONAL DISCOVERY: Unknown user and wrong password are indistinguishable to the caller
func (m *Manager) Login(ctx context.Context, req *types.LoginRequest) (*types.AuthResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	user, err := m.users.GetUserByUsername(ctx, req.Username)
	if err != nil {
		if errors.Is(err, interfaces.ErrUserNotFound) {
			return nil, ErrInvalidCredentials
		}
		return nil, fmt.Errorf("failed to load user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)); err != nil {
		m.log.Warn("Login failed", "username", req.Username)
		return nil, ErrInvalidCredentials
	}

	return m.authResult(user)
}

// ListUsers returns every account; hashes never leave the package via JSON
func (m *Manager) ListUsers(ctx context.Context) ([]*types.User, error) {
	users, err := m.users.ListUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	for _, u := range users {
		u.PasswordHash = ""
	}
	return users, nil
}

func (m *Manager) authResult(user *types.User) (*types.AuthResult, error) {
	token, expiresAt, err := m.tokens.Issue(user.ID, user.Username)
	if err != nil {
		return nil, err
	}
	user.PasswordHash = ""
	return &types.AuthResult{User: user, Token: token, ExpiresAt: expiresAt}, nil
}
