// Package codec seals chat message bodies with the process-wide shared key.
package codec

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// keyInfo is the HKDF info label for message keys
const keyInfo = "securechat message codec v1"

// Codec encrypts and decrypts message text
// ARCHITECTURAL DISCOVERY: Key is immutable for the process lifetime; the AEAD is
// built once and shared by every goroutine (Seal/Open hold no mutable state)
type Codec struct {
	aead cipher.AEAD
}

// New derives the cipher key from the shared secret. An empty secret yields a
// Codec whose every call fails with ErrMissingKey.
func New(secret string) (*Codec, error) {
	if secret == "" {
		return &Codec{}, nil
	}

	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(secret), nil, []byte(keyInfo)), key); err != nil {
		return nil, fmt.Errorf("failed to derive codec key: %w", err)
	}

	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize cipher: %w", err)
	}
	return &Codec{aead: aead}, nil
}

// Encrypt returns base64(nonce || sealed). The output is never empty, even for
// an empty plaintext, because it always carries the nonce and tag.
func (c *Codec) Encrypt(plaintext string) (string, error) {
	if c == nil || c.aead == nil {
		return "", &Error{Op: "encrypt", Err: ErrMissingKey}
	}

	nonce := make([]byte, c.aead.NonceSize(), c.aead.NonceSize()+len(plaintext)+c.aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", &Error{Op: "encrypt", Err: err}
	}

	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt. Anything not produced by Encrypt under the same
// key fails with ErrMalformed.
func (c *Codec) Decrypt(ciphertext string) (string, error) {
	if c == nil || c.aead == nil {
		return "", &Error{Op: "decrypt", Err: ErrMissingKey}
	}

	raw, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", &Error{Op: "decrypt", Err: fmt.Errorf("%w: %v", ErrMalformed, err)}
	}

	nonceSize := c.aead.NonceSize()
	if len(raw) < nonceSize+c.aead.Overhead() {
		return "", &Error{Op: "decrypt", Err: fmt.Errorf("%w: ciphertext too short", ErrMalformed)}
	}

	plain, err := c.aead.Open(nil, raw[:nonceSize], raw[nonceSize:], nil)
	if err != nil {
		return "", &Error{Op: "decrypt", Err: fmt.Errorf("%w: authentication failed", ErrMalformed)}
	}
	return string(plain), nil
}
