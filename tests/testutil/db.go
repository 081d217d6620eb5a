// Package testutil provides shared fixtures for repository and handler
// tests.
package testutil

import (
	"database/sql"
	"encoding/base64"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/user/llm-gateway-go/internal/crypto"
	"github.com/user/llm-gateway-go/internal/database"
	"go.uber.org/zap"
)

// NewTestDB creates a throwaway SQLite database with the full schema. The
// file lives in the test's temp dir and the connection is closed when the
// test completes.
func NewTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := database.New(filepath.Join(t.TempDir(), "gateway-test.db"))
	require.NoError(t, err, "failed to open test database")
	t.Cleanup(func() {
		db.Close()
	})

	require.NoError(t, database.InitSchema(db), "failed to create schema")
	return db
}

// NewTestCipher returns a field cipher with a fixed 256-bit key so tests
// can assert on at-rest encryption deterministically.
func NewTestCipher(t *testing.T) *crypto.FieldCipher {
	t.Helper()

	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i * 7)
	}
	c, err := crypto.New(base64.RawURLEncoding.EncodeToString(key), zap.NewNop())
	require.NoError(t, err, "failed to create test cipher")
	return c
}
