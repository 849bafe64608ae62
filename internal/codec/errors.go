package codec

import (
	"errors"
	"fmt"
)

var (
	ErrMissingKey = errors.New("encryption key not configured")
	ErrMalformed  = errors.New("ciphertext is malformed or was sealed with another key")
)

// Error is returned by every failing Encrypt/Decrypt call. Callers recover from
// it per message; it never terminates a connection.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("codec %s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}
