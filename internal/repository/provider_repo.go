package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/user/llm-gateway-go/internal/crypto"
	"github.com/user/llm-gateway-go/internal/models"
)

// SQLProviderRepository implements ProviderRepository using database/sql.
// Provider API keys pass through the field cipher on every write and read,
// so the rest of the codebase only ever sees plaintext.
type SQLProviderRepository struct {
	db     *sql.DB
	cipher *crypto.FieldCipher
}

// NewProviderRepository creates a new SQLProviderRepository.
func NewProviderRepository(db *sql.DB, cipher *crypto.FieldCipher) *SQLProviderRepository {
	return &SQLProviderRepository{db: db, cipher: cipher}
}

const providerColumns = `id, name, base_url, protocol, api_type, api_key, extra_headers,
	proxy_enabled, proxy_url, is_active, created_at, updated_at`

func (r *SQLProviderRepository) FindByID(ctx context.Context, id int64) (*models.Provider, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+providerColumns+` FROM service_providers WHERE id = ?`, id)
	return r.scanProvider(row)
}

func (r *SQLProviderRepository) FindByName(ctx context.Context, name string) (*models.Provider, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+providerColumns+` FROM service_providers WHERE name = ?`, name)
	return r.scanProvider(row)
}

func (r *SQLProviderRepository) FindAll(ctx context.Context) ([]*models.Provider, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+providerColumns+` FROM service_providers ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return r.scanProviders(rows)
}

// FindByIDs loads multiple providers keyed by id. Missing ids are silently
// absent from the result map.
func (r *SQLProviderRepository) FindByIDs(ctx context.Context, ids []int64) (map[int64]*models.Provider, error) {
	result := make(map[int64]*models.Provider, len(ids))
	if len(ids) == 0 {
		return result, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+providerColumns+` FROM service_providers WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	providers, err := r.scanProviders(rows)
	if err != nil {
		return nil, err
	}
	for _, p := range providers {
		result[p.ID] = p
	}
	return result, nil
}

func (r *SQLProviderRepository) Insert(ctx context.Context, p *models.Provider) (int64, error) {
	encKey, err := r.cipher.Encrypt(p.APIKey)
	if err != nil {
		return 0, fmt.Errorf("encrypt api key: %w", err)
	}

	extraHeadersJSON := ""
	if len(p.ExtraHeaders) > 0 {
		if b, err := json.Marshal(p.ExtraHeaders); err == nil {
			extraHeadersJSON = string(b)
		}
	}

	now := sqliteNow()
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO service_providers (name, base_url, protocol, api_type, api_key,
			extra_headers, proxy_enabled, proxy_url, is_active, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.Name, p.BaseURL, string(p.Protocol), string(p.APIType), encKey,
		extraHeadersJSON, boolToInt(p.ProxyEnabled), p.ProxyURL, boolToInt(p.IsActive), now, now)
	if err != nil {
		return 0, fmt.Errorf("failed to insert provider: %w", err)
	}
	return result.LastInsertId()
}

func (r *SQLProviderRepository) Update(ctx context.Context, id int64, updates map[string]any) error {
	if len(updates) == 0 {
		return nil
	}

	setClauses := make([]string, 0, len(updates)+1)
	params := make([]any, 0, len(updates)+2)
	for field, value := range updates {
		switch field {
		case "is_active", "proxy_enabled":
			if b, ok := value.(bool); ok {
				value = boolToInt(b)
			}
		case "api_key":
			if s, ok := value.(string); ok {
				enc, err := r.cipher.Encrypt(s)
				if err != nil {
					return fmt.Errorf("encrypt api key: %w", err)
				}
				value = enc
			}
		case "extra_headers":
			if m, ok := value.(map[string]string); ok {
				if b, err := json.Marshal(m); err == nil {
					value = string(b)
				}
			}
		}
		setClauses = append(setClauses, field+" = ?")
		params = append(params, value)
	}
	setClauses = append(setClauses, "updated_at = ?")
	params = append(params, sqliteNow(), id)

	query := fmt.Sprintf("UPDATE service_providers SET %s WHERE id = ?", strings.Join(setClauses, ", "))
	res, err := r.db.ExecContext(ctx, query, params...)
	if err != nil {
		return fmt.Errorf("failed to update provider: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *SQLProviderRepository) Delete(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM service_providers WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete provider: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// CountMappingReferences returns how many mapping rows still reference the
// provider; deletion is rejected while this is non-zero.
func (r *SQLProviderRepository) CountMappingReferences(ctx context.Context, id int64) (int64, error) {
	var count int64
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM model_mapping_providers WHERE provider_id = ?`, id).Scan(&count)
	return count, err
}

func (r *SQLProviderRepository) scanProvider(s scanner) (*models.Provider, error) {
	var p models.Provider
	var protocol, apiType, storedKey string
	var extraHeaders sql.NullString
	var proxyEnabled, isActive int
	var createdAt, updatedAt sql.NullTime

	err := s.Scan(
		&p.ID, &p.Name, &p.BaseURL, &protocol, &apiType, &storedKey,
		&extraHeaders, &proxyEnabled, &p.ProxyURL, &isActive, &createdAt, &updatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	p.Protocol = models.Protocol(protocol)
	p.APIType = models.APIType(apiType)
	p.ProxyEnabled = proxyEnabled == 1
	p.IsActive = isActive == 1

	plainKey, err := r.cipher.Decrypt(storedKey)
	if err != nil {
		return nil, fmt.Errorf("decrypt api key for provider %d: %w", p.ID, err)
	}
	p.APIKey = plainKey

	if extraHeaders.Valid && extraHeaders.String != "" {
		if err := json.Unmarshal([]byte(extraHeaders.String), &p.ExtraHeaders); err != nil {
			return nil, fmt.Errorf("unmarshal extra_headers for provider %d: %w", p.ID, err)
		}
	}
	if createdAt.Valid {
		p.CreatedAt = createdAt.Time
	} else {
		p.CreatedAt = time.Now()
	}
	if updatedAt.Valid {
		p.UpdatedAt = updatedAt.Time
	} else {
		p.UpdatedAt = p.CreatedAt
	}
	return &p, nil
}

func (r *SQLProviderRepository) scanProviders(rows *sql.Rows) ([]*models.Provider, error) {
	var result []*models.Provider
	for rows.Next() {
		p, err := r.scanProvider(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	return result, rows.Err()
}
