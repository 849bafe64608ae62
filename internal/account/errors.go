package account

import "errors"

// Account-specific error types
var (
	ErrInvalidCredentials = errors.New("invalid username or password")
	ErrMissingTokenSecret = errors.New("token secret is required")
	ErrInvalidToken       = errors.New("invalid token")
)
