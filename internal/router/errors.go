package router

import "errors"

// Router-specific error types
var (
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
	ErrEncryptFailed     = errors.New("failed to encrypt message")
	ErrPersistFailed     = errors.New("failed to persist message")
)
