package database

import (
	"database/sql"
	"fmt"
	"strings"
)

// schema holds the baseline table definitions. CREATE TABLE IF NOT EXISTS
// keeps fresh and pre-existing databases on the same path; columns added
// after the initial release are handled by ensureColumns below.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS service_providers (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		base_url TEXT NOT NULL,
		protocol TEXT NOT NULL DEFAULT 'openai',
		api_type TEXT NOT NULL DEFAULT 'chat',
		api_key TEXT NOT NULL DEFAULT '',
		extra_headers TEXT,
		is_active INTEGER NOT NULL DEFAULT 1,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS model_mappings (
		requested_model TEXT PRIMARY KEY,
		strategy TEXT NOT NULL DEFAULT 'round_robin',
		matching_rules TEXT,
		capabilities TEXT,
		is_active INTEGER NOT NULL DEFAULT 1,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS model_mapping_providers (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		requested_model TEXT NOT NULL REFERENCES model_mappings(requested_model) ON DELETE CASCADE,
		provider_id INTEGER NOT NULL REFERENCES service_providers(id),
		target_model_name TEXT NOT NULL,
		provider_rules TEXT,
		priority INTEGER NOT NULL DEFAULT 0,
		weight INTEGER NOT NULL DEFAULT 1,
		is_active INTEGER NOT NULL DEFAULT 1,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
	)`,
	`CREATE INDEX IF NOT EXISTS idx_mapping_providers_model
		ON model_mapping_providers(requested_model)`,
	`CREATE TABLE IF NOT EXISTS api_keys (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		key_name TEXT NOT NULL UNIQUE,
		key_value TEXT NOT NULL UNIQUE,
		is_active INTEGER NOT NULL DEFAULT 1,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		last_used_at TIMESTAMP
	)`,
	`CREATE TABLE IF NOT EXISTS request_logs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		trace_id TEXT NOT NULL,
		request_time TIMESTAMP NOT NULL,
		api_key_id INTEGER,
		api_key_name TEXT,
		requested_model TEXT,
		target_model TEXT,
		provider_id INTEGER,
		provider_name TEXT,
		retry_count INTEGER NOT NULL DEFAULT 0,
		matched_provider_count INTEGER NOT NULL DEFAULT 0,
		first_byte_delay_ms INTEGER,
		total_time_ms INTEGER,
		input_tokens INTEGER NOT NULL DEFAULT 0,
		output_tokens INTEGER NOT NULL DEFAULT 0,
		request_headers TEXT,
		request_body TEXT,
		response_status INTEGER,
		response_body TEXT,
		error_info TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_request_logs_trace ON request_logs(trace_id)`,
	`CREATE INDEX IF NOT EXISTS idx_request_logs_time ON request_logs(request_time)`,
}

// additive columns introduced after the baseline schema; auto-added on
// startup for pre-existing databases.
var additiveColumns = []struct {
	table  string
	column string
	ddl    string
}{
	{"request_logs", "is_stream", "is_stream INTEGER NOT NULL DEFAULT 0"},
	{"request_logs", "request_protocol", "request_protocol TEXT"},
	{"request_logs", "supplier_protocol", "supplier_protocol TEXT"},
	{"request_logs", "converted_request_body", "converted_request_body TEXT"},
	{"request_logs", "upstream_response_body", "upstream_response_body TEXT"},
	{"request_logs", "response_headers", "response_headers TEXT"},
	{"service_providers", "proxy_enabled", "proxy_enabled INTEGER NOT NULL DEFAULT 0"},
	{"service_providers", "proxy_url", "proxy_url TEXT NOT NULL DEFAULT ''"},
}

// InitSchema creates missing tables and adds missing columns.
func InitSchema(db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("schema bootstrap failed: %w", err)
		}
	}
	return ensureColumns(db)
}

func ensureColumns(db *sql.DB) error {
	for _, ac := range additiveColumns {
		exists, err := columnExists(db, ac.table, ac.column)
		if err != nil {
			return fmt.Errorf("check column %s.%s: %w", ac.table, ac.column, err)
		}
		if exists {
			continue
		}
		stmt := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", ac.table, ac.ddl)
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("add column %s.%s: %w", ac.table, ac.column, err)
		}
	}
	return nil
}

func columnExists(db *sql.DB, table, column string) (bool, error) {
	rows, err := db.Query(fmt.Sprintf("PRAGMA table_info(%s)", table))
	if err != nil {
		return false, err
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull, pk int
		var dflt sql.NullString
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dflt, &pk); err != nil {
			return false, err
		}
		if strings.EqualFold(name, column) {
			return true, nil
		}
	}
	return false, rows.Err()
}
