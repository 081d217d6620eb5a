// Package crypto provides AEAD encryption for single stored fields, used to
// protect provider API keys at rest.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

// encPrefix marks an encrypted value; values without it are treated as
// legacy plaintext and returned as-is by Decrypt.
const encPrefix = "enc:"

const keySize = 32

// ErrDecryptFailed is returned when a ciphertext cannot be decrypted,
// typically because ENCRYPTION_KEY changed. Callers surface this as a
// configuration error, never as an authentication error.
var ErrDecryptFailed = errors.New("field decryption failed: encryption key mismatch or corrupted ciphertext")

// FieldCipher encrypts and decrypts individual field values with
// AES-256-GCM. Read-only after construction, safe for concurrent use.
type FieldCipher struct {
	aead cipher.AEAD
}

// New creates a FieldCipher from a base64url-encoded 32-byte key. When the
// key is empty, a process-local ephemeral key is generated and a loud
// warning is logged: values encrypted with it are unreadable after restart.
func New(encodedKey string, logger *zap.Logger) (*FieldCipher, error) {
	var key []byte
	if encodedKey == "" {
		key = make([]byte, keySize)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("generate ephemeral key: %w", err)
		}
		logger.Warn("ENCRYPTION_KEY is not set; using an ephemeral key. " +
			"Encrypted provider API keys will NOT survive a restart. " +
			"Set ENCRYPTION_KEY to a base64url-encoded 32-byte value.")
	} else {
		decoded, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(encodedKey, "="))
		if err != nil {
			return nil, fmt.Errorf("decode ENCRYPTION_KEY: %w", err)
		}
		if len(decoded) != keySize {
			return nil, fmt.Errorf("ENCRYPTION_KEY must decode to %d bytes, got %d", keySize, len(decoded))
		}
		key = decoded
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("init gcm: %w", err)
	}
	return &FieldCipher{aead: aead}, nil
}

// Encrypt encrypts a plaintext value. Already-encrypted values are returned
// unchanged to avoid double encryption. Empty values stay empty.
func (c *FieldCipher) Encrypt(plaintext string) (string, error) {
	if plaintext == "" || strings.HasPrefix(plaintext, encPrefix) {
		return plaintext, nil
	}

	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	sealed := c.aead.Seal(nil, nonce, []byte(plaintext), nil)
	out := append(nonce, sealed...)
	return encPrefix + base64.RawURLEncoding.EncodeToString(out), nil
}

// Decrypt decrypts a stored value. Values without the enc: prefix are legacy
// plaintext and returned unchanged.
func (c *FieldCipher) Decrypt(stored string) (string, error) {
	if !strings.HasPrefix(stored, encPrefix) {
		return stored, nil
	}

	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(stored[len(encPrefix):], "="))
	if err != nil {
		return "", ErrDecryptFailed
	}
	ns := c.aead.NonceSize()
	if len(raw) < ns {
		return "", ErrDecryptFailed
	}

	plaintext, err := c.aead.Open(nil, raw[:ns], raw[ns:], nil)
	if err != nil {
		return "", ErrDecryptFailed
	}
	return string(plaintext), nil
}

// IsEncrypted reports whether a stored value carries the encryption marker.
func IsEncrypted(stored string) bool {
	return strings.HasPrefix(stored, encPrefix)
}
