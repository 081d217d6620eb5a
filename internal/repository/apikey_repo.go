package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/user/llm-gateway-go/internal/models"
)

// SQLAPIKeyRepository implements APIKeyRepository using database/sql.
type SQLAPIKeyRepository struct {
	db *sql.DB
}

// NewAPIKeyRepository creates a new SQLAPIKeyRepository.
func NewAPIKeyRepository(db *sql.DB) *SQLAPIKeyRepository {
	return &SQLAPIKeyRepository{db: db}
}

const apiKeyColumns = `id, key_name, key_value, is_active, created_at, last_used_at`

func (r *SQLAPIKeyRepository) FindByValue(ctx context.Context, value string) (*models.APIKey, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+apiKeyColumns+` FROM api_keys WHERE key_value = ?`, value)
	return scanAPIKey(row)
}

func (r *SQLAPIKeyRepository) FindByID(ctx context.Context, id int64) (*models.APIKey, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT `+apiKeyColumns+` FROM api_keys WHERE id = ?`, id)
	return scanAPIKey(row)
}

func (r *SQLAPIKeyRepository) FindAll(ctx context.Context) ([]*models.APIKey, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT `+apiKeyColumns+` FROM api_keys ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*models.APIKey
	for rows.Next() {
		k, err := scanAPIKey(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, k)
	}
	return result, rows.Err()
}

func (r *SQLAPIKeyRepository) Insert(ctx context.Context, key *models.APIKey) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO api_keys (key_name, key_value, is_active, created_at)
		 VALUES (?, ?, ?, ?)`,
		key.KeyName, key.KeyValue, boolToInt(key.IsActive), sqliteNow())
	if err != nil {
		return 0, fmt.Errorf("failed to insert api key: %w", err)
	}
	return result.LastInsertId()
}

func (r *SQLAPIKeyRepository) UpdateLastUsed(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE api_keys SET last_used_at = ? WHERE id = ?`, sqliteNow(), id)
	return err
}

func (r *SQLAPIKeyRepository) SetActive(ctx context.Context, id int64, active bool) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE api_keys SET is_active = ? WHERE id = ?`, boolToInt(active), id)
	if err != nil {
		return fmt.Errorf("failed to update api key: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *SQLAPIKeyRepository) Delete(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM api_keys WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete api key: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanAPIKey(s scanner) (*models.APIKey, error) {
	var k models.APIKey
	var isActive int
	var createdAt, lastUsedAt sql.NullTime

	err := s.Scan(&k.ID, &k.KeyName, &k.KeyValue, &isActive, &createdAt, &lastUsedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	k.IsActive = isActive == 1
	if createdAt.Valid {
		k.CreatedAt = createdAt.Time
	}
	if lastUsedAt.Valid {
		t := lastUsedAt.Time
		k.LastUsedAt = &t
	}
	return &k, nil
}
