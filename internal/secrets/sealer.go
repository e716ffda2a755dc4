// Package secrets seals credentials at rest: Google refresh tokens and site login passwords.
package secrets

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// ErrMalformed is returned when sealed data is too short or fails authentication.
var ErrMalformed = errors.New("sealed value is malformed or was tampered with")

// Sealer encrypts small values with XChaCha20-Poly1305. The random nonce is prepended
// to the ciphertext.
type Sealer struct {
	key []byte
}

// NewSealer accepts a 64-character hex key. Any other non-empty string is treated as a
// passphrase and stretched to a key with HKDF-SHA256.
func NewSealer(key string) (*Sealer, error) {
	if key == "" {
		return nil, errors.New("encryption key is required")
	}

	if raw, err := hex.DecodeString(key); err == nil && len(raw) == chacha20poly1305.KeySize {
		return &Sealer{key: raw}, nil
	}

	derived := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, []byte(key), nil, []byte("oneclicktag-secrets")), derived); err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}
	return &Sealer{key: derived}, nil
}

// Seal encrypts plaintext; associated binds the ciphertext to its owner (e.g. a connection id).
func (s *Sealer) Seal(plaintext, associated []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return aead.Seal(nonce, nonce, plaintext, associated), nil
}

// Open reverses Seal.
func (s *Sealer) Open(sealed, associated []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return nil, err
	}
	if len(sealed) < aead.NonceSize()+aead.Overhead() {
		return nil, ErrMalformed
	}

	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, ciphertext, associated)
	if err != nil {
		return nil, ErrMalformed
	}
	return plaintext, nil
}

// SealString is Seal for string values.
func (s *Sealer) SealString(plaintext, associated string) ([]byte, error) {
	return s.Seal([]byte(plaintext), []byte(associated))
}

// OpenString is Open for string values.
func (s *Sealer) OpenString(sealed []byte, associated string) (string, error) {
	plaintext, err := s.Open(sealed, []byte(associated))
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}
