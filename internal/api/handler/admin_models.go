package handler

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/user/llm-gateway-go/internal/models"
	"github.com/user/llm-gateway-go/internal/repository"
	"go.uber.org/zap"
)

// ModelMappingHandler serves the /admin/models CRUD surface: mappings and
// their provider links.
type ModelMappingHandler struct {
	mappingRepo  repository.ModelMappingRepository
	providerRepo repository.ProviderRepository
	logger       *zap.Logger
}

// NewModelMappingHandler creates a ModelMappingHandler.
func NewModelMappingHandler(mappingRepo repository.ModelMappingRepository, providerRepo repository.ProviderRepository, logger *zap.Logger) *ModelMappingHandler {
	return &ModelMappingHandler{mappingRepo: mappingRepo, providerRepo: providerRepo, logger: logger}
}

type createMappingRequest struct {
	RequestedModel string          `json:"requested_model" binding:"required"`
	Strategy       string          `json:"strategy" binding:"omitempty,oneof=round_robin"`
	MatchingRules  *models.RuleSet `json:"matching_rules"`
	Capabilities   map[string]any  `json:"capabilities"`
	IsActive       *bool           `json:"is_active"`
}

type createMappingProviderRequest struct {
	ProviderID      int64           `json:"provider_id" binding:"required"`
	TargetModelName string          `json:"target_model_name" binding:"required"`
	ProviderRules   *models.RuleSet `json:"provider_rules"`
	Priority        int             `json:"priority"`
	Weight          int             `json:"weight"`
	IsActive        *bool           `json:"is_active"`
}

// List handles GET /admin/models.
func (h *ModelMappingHandler) List(c *gin.Context) {
	mappings, err := h.mappingRepo.FindAll(c.Request.Context())
	if err != nil {
		h.logger.Error("list model mappings", zap.Error(err))
		abortWithError(c, models.NewAppError("list model mappings"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"models": mappings})
}

// Get handles GET /admin/models/:model, returning the mapping with its
// provider links.
func (h *ModelMappingHandler) Get(c *gin.Context) {
	model := c.Param("model")
	mapping, err := h.mappingRepo.FindByModel(c.Request.Context(), model)
	if err != nil {
		if err == repository.ErrNotFound {
			abortWithError(c, models.NewNotFoundError("model_not_found", "model mapping not found"))
			return
		}
		h.logger.Error("get model mapping", zap.String("model", model), zap.Error(err))
		abortWithError(c, models.NewAppError("get model mapping"))
		return
	}
	links, err := h.mappingRepo.FindProviders(c.Request.Context(), model, false)
	if err != nil {
		h.logger.Error("get mapping providers", zap.String("model", model), zap.Error(err))
		abortWithError(c, models.NewAppError("get model mapping"))
		return
	}
	c.JSON(http.StatusOK, gin.H{"mapping": mapping, "providers": links})
}

// Create handles POST /admin/models.
func (h *ModelMappingHandler) Create(c *gin.Context) {
	var req createMappingRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, models.NewValidationError("invalid_body", err.Error()))
		return
	}

	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}
	strategy := req.Strategy
	if strategy == "" {
		strategy = models.StrategyRoundRobin
	}
	mapping := &models.ModelMapping{
		RequestedModel: req.RequestedModel,
		Strategy:       strategy,
		MatchingRules:  req.MatchingRules,
		Capabilities:   req.Capabilities,
		IsActive:       active,
	}

	if err := h.mappingRepo.Insert(c.Request.Context(), mapping); err != nil {
		if strings.Contains(err.Error(), "UNIQUE") || strings.Contains(err.Error(), "PRIMARY") {
			abortWithError(c, models.NewConflictError("duplicate_model", "model mapping already exists"))
			return
		}
		h.logger.Error("create model mapping", zap.Error(err))
		abortWithError(c, models.NewAppError("create model mapping"))
		return
	}
	c.JSON(http.StatusCreated, mapping)
}

// mappingUpdateFields is the whitelist of mutable mapping columns.
var mappingUpdateFields = map[string]bool{
	"strategy": true, "matching_rules": true, "capabilities": true, "is_active": true,
}

// Update handles PUT /admin/models/:model with a partial field map.
func (h *ModelMappingHandler) Update(c *gin.Context) {
	model := c.Param("model")
	var body map[string]any
	if err := c.ShouldBindJSON(&body); err != nil {
		abortWithError(c, models.NewValidationError("invalid_body", "request body must be a JSON object"))
		return
	}

	updates := make(map[string]any, len(body))
	for k, v := range body {
		if mappingUpdateFields[k] {
			updates[k] = v
		}
	}
	if len(updates) == 0 {
		abortWithError(c, models.NewValidationError("no_fields", "no updatable fields provided"))
		return
	}

	if err := h.mappingRepo.Update(c.Request.Context(), model, updates); err != nil {
		if err == repository.ErrNotFound {
			abortWithError(c, models.NewNotFoundError("model_not_found", "model mapping not found"))
			return
		}
		h.logger.Error("update model mapping", zap.String("model", model), zap.Error(err))
		abortWithError(c, models.NewAppError("update model mapping"))
		return
	}
	c.Status(http.StatusNoContent)
}

// Delete handles DELETE /admin/models/:model, removing the mapping and its
// provider links.
func (h *ModelMappingHandler) Delete(c *gin.Context) {
	model := c.Param("model")
	if err := h.mappingRepo.Delete(c.Request.Context(), model); err != nil {
		if err == repository.ErrNotFound {
			abortWithError(c, models.NewNotFoundError("model_not_found", "model mapping not found"))
			return
		}
		h.logger.Error("delete model mapping", zap.String("model", model), zap.Error(err))
		abortWithError(c, models.NewAppError("delete model mapping"))
		return
	}
	c.Status(http.StatusNoContent)
}

// AddProvider handles POST /admin/models/:model/providers.
func (h *ModelMappingHandler) AddProvider(c *gin.Context) {
	model := c.Param("model")
	var req createMappingProviderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, models.NewValidationError("invalid_body", err.Error()))
		return
	}

	if _, err := h.mappingRepo.FindByModel(c.Request.Context(), model); err != nil {
		if err == repository.ErrNotFound {
			abortWithError(c, models.NewNotFoundError("model_not_found", "model mapping not found"))
			return
		}
		h.logger.Error("get model mapping", zap.String("model", model), zap.Error(err))
		abortWithError(c, models.NewAppError("add mapping provider"))
		return
	}
	if _, err := h.providerRepo.FindByID(c.Request.Context(), req.ProviderID); err != nil {
		if err == repository.ErrNotFound {
			abortWithError(c, models.NewNotFoundError("provider_not_found", "provider not found"))
			return
		}
		h.logger.Error("get provider", zap.Int64("id", req.ProviderID), zap.Error(err))
		abortWithError(c, models.NewAppError("add mapping provider"))
		return
	}

	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}
	link := &models.ModelMappingProvider{
		RequestedModel:  model,
		ProviderID:      req.ProviderID,
		TargetModelName: req.TargetModelName,
		ProviderRules:   req.ProviderRules,
		Priority:        req.Priority,
		Weight:          req.Weight,
		IsActive:        active,
	}
	id, err := h.mappingRepo.InsertProvider(c.Request.Context(), link)
	if err != nil {
		h.logger.Error("add mapping provider", zap.String("model", model), zap.Error(err))
		abortWithError(c, models.NewAppError("add mapping provider"))
		return
	}
	link.ID = id
	c.JSON(http.StatusCreated, link)
}

// linkUpdateFields is the whitelist of mutable provider-link columns.
var linkUpdateFields = map[string]bool{
	"target_model_name": true, "provider_rules": true, "priority": true,
	"weight": true, "is_active": true,
}

// UpdateProvider handles PUT /admin/model-providers/:id.
func (h *ModelMappingHandler) UpdateProvider(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var body map[string]any
	if err := c.ShouldBindJSON(&body); err != nil {
		abortWithError(c, models.NewValidationError("invalid_body", "request body must be a JSON object"))
		return
	}

	updates := make(map[string]any, len(body))
	for k, v := range body {
		if linkUpdateFields[k] {
			updates[k] = v
		}
	}
	if len(updates) == 0 {
		abortWithError(c, models.NewValidationError("no_fields", "no updatable fields provided"))
		return
	}

	if err := h.mappingRepo.UpdateProvider(c.Request.Context(), id, updates); err != nil {
		if err == repository.ErrNotFound {
			abortWithError(c, models.NewNotFoundError("link_not_found", "mapping provider not found"))
			return
		}
		h.logger.Error("update mapping provider", zap.Int64("id", id), zap.Error(err))
		abortWithError(c, models.NewAppError("update mapping provider"))
		return
	}
	c.Status(http.StatusNoContent)
}

// DeleteProvider handles DELETE /admin/model-providers/:id.
func (h *ModelMappingHandler) DeleteProvider(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := h.mappingRepo.DeleteProvider(c.Request.Context(), id); err != nil {
		if err == repository.ErrNotFound {
			abortWithError(c, models.NewNotFoundError("link_not_found", "mapping provider not found"))
			return
		}
		h.logger.Error("delete mapping provider", zap.Int64("id", id), zap.Error(err))
		abortWithError(c, models.NewAppError("delete mapping provider"))
		return
	}
	c.Status(http.StatusNoContent)
}
