// Package repository defines data access interfaces and their SQLite
// implementations.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/user/llm-gateway-go/internal/models"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// ProviderRepository provides access to upstream provider rows. API keys are
// encrypted on write and decrypted on read transparently.
type ProviderRepository interface {
	FindByID(ctx context.Context, id int64) (*models.Provider, error)
	FindByIDs(ctx context.Context, ids []int64) (map[int64]*models.Provider, error)
	FindByName(ctx context.Context, name string) (*models.Provider, error)
	FindAll(ctx context.Context) ([]*models.Provider, error)
	Insert(ctx context.Context, p *models.Provider) (int64, error)
	Update(ctx context.Context, id int64, updates map[string]any) error
	Delete(ctx context.Context, id int64) error
	CountMappingReferences(ctx context.Context, id int64) (int64, error)
}

// ModelMappingRepository provides access to model mappings and their
// provider links.
type ModelMappingRepository interface {
	FindByModel(ctx context.Context, requestedModel string) (*models.ModelMapping, error)
	FindAll(ctx context.Context) ([]*models.ModelMapping, error)
	ListModelNames(ctx context.Context, activeOnly bool) ([]string, error)
	Insert(ctx context.Context, m *models.ModelMapping) error
	Update(ctx context.Context, requestedModel string, updates map[string]any) error
	Delete(ctx context.Context, requestedModel string) error

	FindProviders(ctx context.Context, requestedModel string, activeOnly bool) ([]*models.ModelMappingProvider, error)
	InsertProvider(ctx context.Context, mp *models.ModelMappingProvider) (int64, error)
	UpdateProvider(ctx context.Context, id int64, updates map[string]any) error
	DeleteProvider(ctx context.Context, id int64) error
}

// APIKeyRepository provides access to gateway API keys.
type APIKeyRepository interface {
	FindByValue(ctx context.Context, value string) (*models.APIKey, error)
	FindByID(ctx context.Context, id int64) (*models.APIKey, error)
	FindAll(ctx context.Context) ([]*models.APIKey, error)
	Insert(ctx context.Context, key *models.APIKey) (int64, error)
	UpdateLastUsed(ctx context.Context, id int64) error
	SetActive(ctx context.Context, id int64, active bool) error
	Delete(ctx context.Context, id int64) error
}

// RequestLogRepository provides access to request log rows.
type RequestLogRepository interface {
	Insert(ctx context.Context, entry *models.RequestLogEntry) (int64, error)
	GetByID(ctx context.Context, id int64) (*models.RequestLog, error)
	GetByTraceID(ctx context.Context, traceID string) (*models.RequestLog, error)
	List(ctx context.Context, limit, offset int, modelName, providerName *string, startTime, endTime *time.Time) ([]*models.RequestLog, int64, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
