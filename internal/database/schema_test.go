//go:build !integration && !e2e
// +build !integration,!e2e

package database

import (
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := New(filepath.Join(t.TempDir(), "schema-test.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		db.Close()
	})
	return db
}

func TestInitSchema_Idempotent(t *testing.T) {
	db := openTestDB(t)

	require.NoError(t, InitSchema(db))
	require.NoError(t, InitSchema(db))

	// All tables exist and are queryable.
	for _, table := range []string{
		"service_providers", "model_mappings", "model_mapping_providers",
		"api_keys", "request_logs",
	} {
		var count int64
		err := db.QueryRow("SELECT COUNT(*) FROM " + table).Scan(&count)
		require.NoError(t, err, "table %s should exist", table)
		assert.Zero(t, count)
	}
}

func TestEnsureColumns_AddsMissingColumns(t *testing.T) {
	db := openTestDB(t)

	// Bootstrap only the baseline tables, simulating a database created
	// before the additive columns existed.
	for _, stmt := range schema {
		_, err := db.Exec(stmt)
		require.NoError(t, err)
	}

	exists, err := columnExists(db, "request_logs", "is_stream")
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, ensureColumns(db))

	for _, tc := range []struct{ table, column string }{
		{"request_logs", "is_stream"},
		{"request_logs", "request_protocol"},
		{"request_logs", "supplier_protocol"},
		{"request_logs", "converted_request_body"},
		{"request_logs", "upstream_response_body"},
		{"request_logs", "response_headers"},
		{"service_providers", "proxy_enabled"},
		{"service_providers", "proxy_url"},
	} {
		exists, err := columnExists(db, tc.table, tc.column)
		require.NoError(t, err)
		assert.True(t, exists, "%s.%s should exist after migration", tc.table, tc.column)
	}

	// Running again is a no-op.
	require.NoError(t, ensureColumns(db))
}

func TestColumnExists(t *testing.T) {
	db := openTestDB(t)
	require.NoError(t, InitSchema(db))

	exists, err := columnExists(db, "api_keys", "key_value")
	require.NoError(t, err)
	assert.True(t, exists)

	// Column name matching is case-insensitive.
	exists, err = columnExists(db, "api_keys", "KEY_VALUE")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = columnExists(db, "api_keys", "no_such_column")
	require.NoError(t, err)
	assert.False(t, exists)
}
