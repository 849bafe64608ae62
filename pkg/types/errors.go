package types

import "errors"

// ARCHITECTURAL DISCOVERY: Specific error types enable proper error handling
// and user-friendly error messages throughout the system
var (
	ErrInvalidUsername   = errors.New("username must be 1-50 characters, alphanumeric + underscore/hyphen only")
	ErrInvalidLocation   = errors.New("location must be 1-200 characters")
	ErrMessageTooLarge   = errors.New("message exceeds 64KB limit")
	ErrInvalidEmail      = errors.New("email address is not valid")
	ErrInvalidPassword   = errors.New("password must be 8-72 characters")
	ErrInvalidSubmission = errors.New("invalid chat submission")
)
