package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/user/llm-gateway-go/internal/models"
)

// SQLModelMappingRepository implements ModelMappingRepository using
// database/sql. Rule sets and capability blobs are stored as JSON text.
type SQLModelMappingRepository struct {
	db *sql.DB
}

// NewModelMappingRepository creates a new SQLModelMappingRepository.
func NewModelMappingRepository(db *sql.DB) *SQLModelMappingRepository {
	return &SQLModelMappingRepository{db: db}
}

func (r *SQLModelMappingRepository) FindByModel(ctx context.Context, requestedModel string) (*models.ModelMapping, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT requested_model, strategy, matching_rules, capabilities, is_active, created_at, updated_at
		 FROM model_mappings WHERE requested_model = ?`, requestedModel)
	return scanMapping(row)
}

func (r *SQLModelMappingRepository) FindAll(ctx context.Context) ([]*models.ModelMapping, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT requested_model, strategy, matching_rules, capabilities, is_active, created_at, updated_at
		 FROM model_mappings ORDER BY requested_model`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*models.ModelMapping
	for rows.Next() {
		m, err := scanMapping(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, m)
	}
	return result, rows.Err()
}

func (r *SQLModelMappingRepository) ListModelNames(ctx context.Context, activeOnly bool) ([]string, error) {
	query := `SELECT requested_model FROM model_mappings`
	if activeOnly {
		query += ` WHERE is_active = 1`
	}
	query += ` ORDER BY requested_model`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (r *SQLModelMappingRepository) Insert(ctx context.Context, m *models.ModelMapping) error {
	rulesJSON, err := marshalNullable(m.MatchingRules)
	if err != nil {
		return fmt.Errorf("marshal matching_rules: %w", err)
	}
	capsJSON, err := marshalNullable(m.Capabilities)
	if err != nil {
		return fmt.Errorf("marshal capabilities: %w", err)
	}

	strategy := m.Strategy
	if strategy == "" {
		strategy = models.StrategyRoundRobin
	}

	now := sqliteNow()
	_, err = r.db.ExecContext(ctx,
		`INSERT INTO model_mappings (requested_model, strategy, matching_rules, capabilities, is_active, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.RequestedModel, strategy, rulesJSON, capsJSON, boolToInt(m.IsActive), now, now)
	if err != nil {
		return fmt.Errorf("failed to insert mapping: %w", err)
	}
	return nil
}

func (r *SQLModelMappingRepository) Update(ctx context.Context, requestedModel string, updates map[string]any) error {
	if len(updates) == 0 {
		return nil
	}

	setClauses := make([]string, 0, len(updates)+1)
	params := make([]any, 0, len(updates)+2)
	for field, value := range updates {
		switch field {
		case "is_active":
			if b, ok := value.(bool); ok {
				value = boolToInt(b)
			}
		case "matching_rules", "capabilities":
			encoded, err := marshalNullable(value)
			if err != nil {
				return fmt.Errorf("marshal %s: %w", field, err)
			}
			value = encoded
		}
		setClauses = append(setClauses, field+" = ?")
		params = append(params, value)
	}
	setClauses = append(setClauses, "updated_at = ?")
	params = append(params, sqliteNow(), requestedModel)

	query := fmt.Sprintf("UPDATE model_mappings SET %s WHERE requested_model = ?", strings.Join(setClauses, ", "))
	res, err := r.db.ExecContext(ctx, query, params...)
	if err != nil {
		return fmt.Errorf("failed to update mapping: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes the mapping and, cascading, its provider links.
func (r *SQLModelMappingRepository) Delete(ctx context.Context, requestedModel string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM model_mapping_providers WHERE requested_model = ?`, requestedModel); err != nil {
		return fmt.Errorf("failed to delete mapping providers: %w", err)
	}
	res, err := tx.ExecContext(ctx,
		`DELETE FROM model_mappings WHERE requested_model = ?`, requestedModel)
	if err != nil {
		return fmt.Errorf("failed to delete mapping: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}

const mappingProviderColumns = `id, requested_model, provider_id, target_model_name,
	provider_rules, priority, weight, is_active, created_at, updated_at`

func (r *SQLModelMappingRepository) FindProviders(ctx context.Context, requestedModel string, activeOnly bool) ([]*models.ModelMappingProvider, error) {
	query := `SELECT ` + mappingProviderColumns + ` FROM model_mapping_providers WHERE requested_model = ?`
	if activeOnly {
		query += ` AND is_active = 1`
	}
	query += ` ORDER BY priority, id`

	rows, err := r.db.QueryContext(ctx, query, requestedModel)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []*models.ModelMappingProvider
	for rows.Next() {
		mp, err := scanMappingProvider(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, mp)
	}
	return result, rows.Err()
}

func (r *SQLModelMappingRepository) InsertProvider(ctx context.Context, mp *models.ModelMappingProvider) (int64, error) {
	rulesJSON, err := marshalNullable(mp.ProviderRules)
	if err != nil {
		return 0, fmt.Errorf("marshal provider_rules: %w", err)
	}

	weight := mp.Weight
	if weight < 1 {
		weight = 1
	}

	now := sqliteNow()
	result, err := r.db.ExecContext(ctx,
		`INSERT INTO model_mapping_providers (requested_model, provider_id, target_model_name,
			provider_rules, priority, weight, is_active, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		mp.RequestedModel, mp.ProviderID, mp.TargetModelName,
		rulesJSON, mp.Priority, weight, boolToInt(mp.IsActive), now, now)
	if err != nil {
		return 0, fmt.Errorf("failed to insert mapping provider: %w", err)
	}
	return result.LastInsertId()
}

func (r *SQLModelMappingRepository) UpdateProvider(ctx context.Context, id int64, updates map[string]any) error {
	if len(updates) == 0 {
		return nil
	}

	setClauses := make([]string, 0, len(updates)+1)
	params := make([]any, 0, len(updates)+2)
	for field, value := range updates {
		switch field {
		case "is_active":
			if b, ok := value.(bool); ok {
				value = boolToInt(b)
			}
		case "provider_rules":
			encoded, err := marshalNullable(value)
			if err != nil {
				return fmt.Errorf("marshal provider_rules: %w", err)
			}
			value = encoded
		}
		setClauses = append(setClauses, field+" = ?")
		params = append(params, value)
	}
	setClauses = append(setClauses, "updated_at = ?")
	params = append(params, sqliteNow(), id)

	query := fmt.Sprintf("UPDATE model_mapping_providers SET %s WHERE id = ?", strings.Join(setClauses, ", "))
	res, err := r.db.ExecContext(ctx, query, params...)
	if err != nil {
		return fmt.Errorf("failed to update mapping provider: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *SQLModelMappingRepository) DeleteProvider(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM model_mapping_providers WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete mapping provider: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanMapping(s scanner) (*models.ModelMapping, error) {
	var m models.ModelMapping
	var rulesJSON, capsJSON sql.NullString
	var isActive int
	var createdAt, updatedAt sql.NullTime

	err := s.Scan(&m.RequestedModel, &m.Strategy, &rulesJSON, &capsJSON, &isActive, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	m.IsActive = isActive == 1
	if rulesJSON.Valid && rulesJSON.String != "" {
		var rs models.RuleSet
		if err := json.Unmarshal([]byte(rulesJSON.String), &rs); err != nil {
			return nil, fmt.Errorf("unmarshal matching_rules for %s: %w", m.RequestedModel, err)
		}
		m.MatchingRules = &rs
	}
	if capsJSON.Valid && capsJSON.String != "" {
		if err := json.Unmarshal([]byte(capsJSON.String), &m.Capabilities); err != nil {
			return nil, fmt.Errorf("unmarshal capabilities for %s: %w", m.RequestedModel, err)
		}
	}
	if createdAt.Valid {
		m.CreatedAt = createdAt.Time
	} else {
		m.CreatedAt = time.Now()
	}
	if updatedAt.Valid {
		m.UpdatedAt = updatedAt.Time
	} else {
		m.UpdatedAt = m.CreatedAt
	}
	return &m, nil
}

func scanMappingProvider(s scanner) (*models.ModelMappingProvider, error) {
	var mp models.ModelMappingProvider
	var rulesJSON sql.NullString
	var isActive int
	var createdAt, updatedAt sql.NullTime

	err := s.Scan(&mp.ID, &mp.RequestedModel, &mp.ProviderID, &mp.TargetModelName,
		&rulesJSON, &mp.Priority, &mp.Weight, &isActive, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	mp.IsActive = isActive == 1
	if rulesJSON.Valid && rulesJSON.String != "" {
		var rs models.RuleSet
		if err := json.Unmarshal([]byte(rulesJSON.String), &rs); err != nil {
			return nil, fmt.Errorf("unmarshal provider_rules for mapping provider %d: %w", mp.ID, err)
		}
		mp.ProviderRules = &rs
	}
	if createdAt.Valid {
		mp.CreatedAt = createdAt.Time
	}
	if updatedAt.Valid {
		mp.UpdatedAt = updatedAt.Time
	}
	return &mp, nil
}

// marshalNullable encodes a value to JSON text for storage; nil values and
// typed-nil pointers become empty strings.
func marshalNullable(v any) (string, error) {
	switch t := v.(type) {
	case nil:
		return "", nil
	case *models.RuleSet:
		if t == nil {
			return "", nil
		}
	case map[string]any:
		if t == nil {
			return "", nil
		}
	case string:
		return t, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
