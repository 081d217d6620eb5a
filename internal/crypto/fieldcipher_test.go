//go:build !integration && !e2e
// +build !integration,!e2e

package crypto

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testKey() string {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	return base64.RawURLEncoding.EncodeToString(key)
}

func TestFieldCipher_RoundTrip(t *testing.T) {
	c, err := New(testKey(), zap.NewNop())
	require.NoError(t, err)

	stored, err := c.Encrypt("sk-provider-secret")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(stored, "enc:"))
	assert.NotContains(t, stored, "sk-provider-secret")

	plain, err := c.Decrypt(stored)
	require.NoError(t, err)
	assert.Equal(t, "sk-provider-secret", plain)
}

func TestFieldCipher_EmptyAndAlreadyEncrypted(t *testing.T) {
	c, err := New(testKey(), zap.NewNop())
	require.NoError(t, err)

	out, err := c.Encrypt("")
	require.NoError(t, err)
	assert.Empty(t, out)

	first, err := c.Encrypt("value")
	require.NoError(t, err)
	second, err := c.Encrypt(first)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestFieldCipher_LegacyPlaintextPassesThrough(t *testing.T) {
	c, err := New(testKey(), zap.NewNop())
	require.NoError(t, err)

	plain, err := c.Decrypt("sk-legacy-plaintext")
	require.NoError(t, err)
	assert.Equal(t, "sk-legacy-plaintext", plain)
}

func TestFieldCipher_NoncesDiffer(t *testing.T) {
	c, err := New(testKey(), zap.NewNop())
	require.NoError(t, err)

	a, err := c.Encrypt("same value")
	require.NoError(t, err)
	b, err := c.Encrypt("same value")
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestFieldCipher_WrongKeyFails(t *testing.T) {
	c1, err := New(testKey(), zap.NewNop())
	require.NoError(t, err)

	other := make([]byte, 32)
	for i := range other {
		other[i] = byte(255 - i)
	}
	c2, err := New(base64.RawURLEncoding.EncodeToString(other), zap.NewNop())
	require.NoError(t, err)

	stored, err := c1.Encrypt("secret")
	require.NoError(t, err)

	_, err = c2.Decrypt(stored)
	assert.ErrorIs(t, err, ErrDecryptFailed)
}

func TestFieldCipher_CorruptedCiphertext(t *testing.T) {
	c, err := New(testKey(), zap.NewNop())
	require.NoError(t, err)

	_, err = c.Decrypt("enc:not-valid-base64!!!")
	assert.ErrorIs(t, err, ErrDecryptFailed)

	_, err = c.Decrypt("enc:AAAA")
	assert.ErrorIs(t, err, ErrDecryptFailed)
}

func TestNew_KeyValidation(t *testing.T) {
	_, err := New("too-short", zap.NewNop())
	assert.Error(t, err)

	short := base64.RawURLEncoding.EncodeToString(make([]byte, 16))
	_, err = New(short, zap.NewNop())
	assert.Error(t, err)

	// Padded standard encoding is tolerated.
	padded := base64.URLEncoding.EncodeToString(make([]byte, 32))
	_, err = New(padded, zap.NewNop())
	assert.NoError(t, err)
}

func TestNew_EphemeralKey(t *testing.T) {
	c, err := New("", zap.NewNop())
	require.NoError(t, err)

	stored, err := c.Encrypt("value")
	require.NoError(t, err)
	plain, err := c.Decrypt(stored)
	require.NoError(t, err)
	assert.Equal(t, "value", plain)
}

func TestIsEncrypted(t *testing.T) {
	assert.True(t, IsEncrypted("enc:abc"))
	assert.False(t, IsEncrypted("sk-plain"))
	assert.False(t, IsEncrypted(""))
}
