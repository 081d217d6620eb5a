//go:build !integration && !e2e
// +build !integration,!e2e

package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/user/llm-gateway-go/internal/models"
	"github.com/user/llm-gateway-go/tests/testutil"
)

func newTestMappingRepo(t *testing.T) *SQLModelMappingRepository {
	t.Helper()
	return NewModelMappingRepository(testutil.NewTestDB(t))
}

func seedMapping(t *testing.T, repo *SQLModelMappingRepository, model string, active bool) {
	t.Helper()
	require.NoError(t, repo.Insert(context.Background(), &models.ModelMapping{
		RequestedModel: model,
		IsActive:       active,
	}))
}

func TestMappingRepository_InsertAndFindByModel(t *testing.T) {
	repo := newTestMappingRepo(t)
	ctx := context.Background()

	rules := &models.RuleSet{
		Rules: []models.Rule{
			{Field: "headers.x-tier", Operator: models.OpEq, Value: "pro"},
			{Field: "token_usage.total_tokens", Operator: models.OpLt, Value: float64(4000)},
		},
		Logic: models.LogicOr,
	}
	require.NoError(t, repo.Insert(ctx, &models.ModelMapping{
		RequestedModel: "gpt-4",
		MatchingRules:  rules,
		Capabilities:   map[string]any{"vision": true, "max_tokens": float64(8192)},
		IsActive:       true,
	}))

	found, err := repo.FindByModel(ctx, "gpt-4")
	require.NoError(t, err)
	assert.Equal(t, "gpt-4", found.RequestedModel)
	assert.Equal(t, models.StrategyRoundRobin, found.Strategy)
	assert.True(t, found.IsActive)

	require.NotNil(t, found.MatchingRules)
	assert.Equal(t, models.LogicOr, found.MatchingRules.Logic)
	require.Len(t, found.MatchingRules.Rules, 2)
	assert.Equal(t, "headers.x-tier", found.MatchingRules.Rules[0].Field)
	assert.Equal(t, models.OpEq, found.MatchingRules.Rules[0].Operator)

	assert.Equal(t, map[string]any{"vision": true, "max_tokens": float64(8192)}, found.Capabilities)
}

func TestMappingRepository_FindByModelNotFound(t *testing.T) {
	repo := newTestMappingRepo(t)

	_, err := repo.FindByModel(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMappingRepository_NilRulesStayNil(t *testing.T) {
	repo := newTestMappingRepo(t)
	ctx := context.Background()

	seedMapping(t, repo, "gpt-4", true)

	found, err := repo.FindByModel(ctx, "gpt-4")
	require.NoError(t, err)
	assert.Nil(t, found.MatchingRules)
	assert.Nil(t, found.Capabilities)
}

func TestMappingRepository_ListModelNames(t *testing.T) {
	repo := newTestMappingRepo(t)
	ctx := context.Background()

	seedMapping(t, repo, "gpt-4", true)
	seedMapping(t, repo, "claude-sonnet", true)
	seedMapping(t, repo, "disabled-model", false)

	active, err := repo.ListModelNames(ctx, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"claude-sonnet", "gpt-4"}, active)

	all, err := repo.ListModelNames(ctx, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"claude-sonnet", "disabled-model", "gpt-4"}, all)
}

func TestMappingRepository_Update(t *testing.T) {
	repo := newTestMappingRepo(t)
	ctx := context.Background()

	seedMapping(t, repo, "gpt-4", true)

	rules := &models.RuleSet{
		Rules: []models.Rule{{Field: "model", Operator: models.OpExists, Value: true}},
		Logic: models.LogicAnd,
	}
	require.NoError(t, repo.Update(ctx, "gpt-4", map[string]any{
		"is_active":      false,
		"matching_rules": rules,
	}))

	found, err := repo.FindByModel(ctx, "gpt-4")
	require.NoError(t, err)
	assert.False(t, found.IsActive)
	require.NotNil(t, found.MatchingRules)
	require.Len(t, found.MatchingRules.Rules, 1)
	assert.Equal(t, models.OpExists, found.MatchingRules.Rules[0].Operator)

	// Clearing rules with a typed nil stores an empty blob.
	var noRules *models.RuleSet
	require.NoError(t, repo.Update(ctx, "gpt-4", map[string]any{"matching_rules": noRules}))
	found, err = repo.FindByModel(ctx, "gpt-4")
	require.NoError(t, err)
	assert.Nil(t, found.MatchingRules)

	err = repo.Update(ctx, "missing", map[string]any{"is_active": true})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMappingRepository_DeleteCascadesProviderLinks(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := NewModelMappingRepository(db)
	providerRepo := NewProviderRepository(db, testutil.NewTestCipher(t))
	ctx := context.Background()

	providerID, err := providerRepo.Insert(ctx, sampleProvider("alpha"))
	require.NoError(t, err)

	seedMapping(t, repo, "gpt-4", true)
	for i := 0; i < 2; i++ {
		_, err := repo.InsertProvider(ctx, &models.ModelMappingProvider{
			RequestedModel:  "gpt-4",
			ProviderID:      providerID,
			TargetModelName: "gpt-4-turbo",
			Weight:          1,
			IsActive:        true,
		})
		require.NoError(t, err)
	}

	require.NoError(t, repo.Delete(ctx, "gpt-4"))

	_, err = repo.FindByModel(ctx, "gpt-4")
	assert.ErrorIs(t, err, ErrNotFound)

	links, err := repo.FindProviders(ctx, "gpt-4", false)
	require.NoError(t, err)
	assert.Empty(t, links)

	err = repo.Delete(ctx, "gpt-4")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMappingRepository_InsertProvider(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := NewModelMappingRepository(db)
	providerRepo := NewProviderRepository(db, testutil.NewTestCipher(t))
	ctx := context.Background()

	providerID, err := providerRepo.Insert(ctx, sampleProvider("alpha"))
	require.NoError(t, err)
	seedMapping(t, repo, "gpt-4", true)

	rules := &models.RuleSet{
		Rules: []models.Rule{{Field: "headers.x-tier", Operator: models.OpEq, Value: "pro"}},
	}
	id, err := repo.InsertProvider(ctx, &models.ModelMappingProvider{
		RequestedModel:  "gpt-4",
		ProviderID:      providerID,
		TargetModelName: "gpt-4-turbo",
		ProviderRules:   rules,
		Priority:        5,
		Weight:          0, // clamped to 1
		IsActive:        true,
	})
	require.NoError(t, err)
	assert.Greater(t, id, int64(0))

	links, err := repo.FindProviders(ctx, "gpt-4", true)
	require.NoError(t, err)
	require.Len(t, links, 1)
	link := links[0]
	assert.Equal(t, providerID, link.ProviderID)
	assert.Equal(t, "gpt-4-turbo", link.TargetModelName)
	assert.Equal(t, 5, link.Priority)
	assert.Equal(t, 1, link.Weight)
	require.NotNil(t, link.ProviderRules)
	assert.Equal(t, models.LogicAnd, link.ProviderRules.Logic)
}

func TestMappingRepository_FindProvidersOrderAndFilter(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := NewModelMappingRepository(db)
	providerRepo := NewProviderRepository(db, testutil.NewTestCipher(t))
	ctx := context.Background()

	providerID, err := providerRepo.Insert(ctx, sampleProvider("alpha"))
	require.NoError(t, err)
	seedMapping(t, repo, "gpt-4", true)

	insert := func(target string, priority int, active bool) int64 {
		id, err := repo.InsertProvider(ctx, &models.ModelMappingProvider{
			RequestedModel:  "gpt-4",
			ProviderID:      providerID,
			TargetModelName: target,
			Priority:        priority,
			Weight:          1,
			IsActive:        active,
		})
		require.NoError(t, err)
		return id
	}
	insert("second", 2, true)
	firstA := insert("first-a", 1, true)
	firstB := insert("first-b", 1, true)
	insert("hidden", 0, false)

	active, err := repo.FindProviders(ctx, "gpt-4", true)
	require.NoError(t, err)
	require.Len(t, active, 3)
	// priority ascending, insertion order breaking ties
	assert.Equal(t, firstA, active[0].ID)
	assert.Equal(t, firstB, active[1].ID)
	assert.Equal(t, "second", active[2].TargetModelName)

	all, err := repo.FindProviders(ctx, "gpt-4", false)
	require.NoError(t, err)
	assert.Len(t, all, 4)
}

func TestMappingRepository_UpdateAndDeleteProvider(t *testing.T) {
	db := testutil.NewTestDB(t)
	repo := NewModelMappingRepository(db)
	providerRepo := NewProviderRepository(db, testutil.NewTestCipher(t))
	ctx := context.Background()

	providerID, err := providerRepo.Insert(ctx, sampleProvider("alpha"))
	require.NoError(t, err)
	seedMapping(t, repo, "gpt-4", true)

	id, err := repo.InsertProvider(ctx, &models.ModelMappingProvider{
		RequestedModel:  "gpt-4",
		ProviderID:      providerID,
		TargetModelName: "gpt-4-turbo",
		Weight:          1,
		IsActive:        true,
	})
	require.NoError(t, err)

	require.NoError(t, repo.UpdateProvider(ctx, id, map[string]any{
		"target_model_name": "gpt-4o",
		"is_active":         false,
	}))

	links, err := repo.FindProviders(ctx, "gpt-4", false)
	require.NoError(t, err)
	require.Len(t, links, 1)
	assert.Equal(t, "gpt-4o", links[0].TargetModelName)
	assert.False(t, links[0].IsActive)

	err = repo.UpdateProvider(ctx, 999, map[string]any{"priority": 1})
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, repo.DeleteProvider(ctx, id))
	err = repo.DeleteProvider(ctx, id)
	assert.ErrorIs(t, err, ErrNotFound)
}
