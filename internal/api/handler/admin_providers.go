package handler

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/user/llm-gateway-go/internal/models"
	"github.com/user/llm-gateway-go/internal/repository"
	"go.uber.org/zap"
)

// ProviderHandler serves the /admin/providers CRUD surface.
type ProviderHandler struct {
	providerRepo repository.ProviderRepository
	logger       *zap.Logger
}

// NewProviderHandler creates a ProviderHandler.
func NewProviderHandler(providerRepo repository.ProviderRepository, logger *zap.Logger) *ProviderHandler {
	return &ProviderHandler{providerRepo: providerRepo, logger: logger}
}

// providerView is the list/detail shape; the API key is always masked.
type providerView struct {
	*models.Provider
	APIKeyMasked string `json:"api_key_masked"`
}

func newProviderView(p *models.Provider) providerView {
	return providerView{Provider: p, APIKeyMasked: p.MaskedAPIKey()}
}

type createProviderRequest struct {
	Name         string            `json:"name" binding:"required"`
	BaseURL      string            `json:"base_url" binding:"required"`
	Protocol     string            `json:"protocol" binding:"required,oneof=openai anthropic openai_responses gemini"`
	APIType      string            `json:"api_type" binding:"omitempty,oneof=chat completion embedding"`
	APIKey       string            `json:"api_key" binding:"required"`
	ExtraHeaders map[string]string `json:"extra_headers"`
	ProxyEnabled bool              `json:"proxy_enabled"`
	ProxyURL     string            `json:"proxy_url"`
	IsActive     *bool             `json:"is_active"`
}

// List handles GET /admin/providers.
func (h *ProviderHandler) List(c *gin.Context) {
	providers, err := h.providerRepo.FindAll(c.Request.Context())
	if err != nil {
		h.logger.Error("list providers", zap.Error(err))
		abortWithError(c, models.NewAppError("list providers"))
		return
	}
	views := make([]providerView, 0, len(providers))
	for _, p := range providers {
		views = append(views, newProviderView(p))
	}
	c.JSON(http.StatusOK, gin.H{"providers": views})
}

// Get handles GET /admin/providers/:id.
func (h *ProviderHandler) Get(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	p, err := h.providerRepo.FindByID(c.Request.Context(), id)
	if err != nil {
		if err == repository.ErrNotFound {
			abortWithError(c, models.NewNotFoundError("provider_not_found", "provider not found"))
			return
		}
		h.logger.Error("get provider", zap.Int64("id", id), zap.Error(err))
		abortWithError(c, models.NewAppError("get provider"))
		return
	}
	c.JSON(http.StatusOK, newProviderView(p))
}

// Create handles POST /admin/providers.
func (h *ProviderHandler) Create(c *gin.Context) {
	var req createProviderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, models.NewValidationError("invalid_body", err.Error()))
		return
	}
	if err := validateBaseURL(req.BaseURL); err != nil {
		abortWithError(c, err)
		return
	}
	if req.ProxyURL != "" {
		if err := validateBaseURL(req.ProxyURL); err != nil {
			abortWithError(c, err)
			return
		}
	}

	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}
	apiType := models.APIType(req.APIType)
	if apiType == "" {
		apiType = models.APITypeChat
	}
	p := &models.Provider{
		Name:         req.Name,
		BaseURL:      strings.TrimRight(req.BaseURL, "/"),
		Protocol:     models.Protocol(req.Protocol),
		APIType:      apiType,
		APIKey:       req.APIKey,
		ExtraHeaders: req.ExtraHeaders,
		ProxyEnabled: req.ProxyEnabled,
		ProxyURL:     req.ProxyURL,
		IsActive:     active,
	}

	id, err := h.providerRepo.Insert(c.Request.Context(), p)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			abortWithError(c, models.NewConflictError("duplicate_provider", "provider name already exists"))
			return
		}
		h.logger.Error("create provider", zap.Error(err))
		abortWithError(c, models.NewAppError("create provider"))
		return
	}
	p.ID = id
	c.JSON(http.StatusCreated, newProviderView(p))
}

// providerUpdateFields is the whitelist of mutable columns.
var providerUpdateFields = map[string]bool{
	"name": true, "base_url": true, "protocol": true, "api_type": true,
	"api_key": true, "extra_headers": true, "proxy_enabled": true,
	"proxy_url": true, "is_active": true,
}

// Update handles PUT /admin/providers/:id with a partial field map.
func (h *ProviderHandler) Update(c *gin.Context) {
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
		if !providerUpdateFields[k] {
			continue
		}
		if k == "base_url" || k == "proxy_url" {
			s, _ := v.(string)
			if s != "" {
				if err := validateBaseURL(s); err != nil {
					abortWithError(c, err)
					return
				}
			}
		}
		updates[k] = v
	}
	if len(updates) == 0 {
		abortWithError(c, models.NewValidationError("no_fields", "no updatable fields provided"))
		return
	}

	if err := h.providerRepo.Update(c.Request.Context(), id, updates); err != nil {
		if err == repository.ErrNotFound {
			abortWithError(c, models.NewNotFoundError("provider_not_found", "provider not found"))
			return
		}
		h.logger.Error("update provider", zap.Int64("id", id), zap.Error(err))
		abortWithError(c, models.NewAppError("update provider"))
		return
	}
	c.Status(http.StatusNoContent)
}

// Delete handles DELETE /admin/providers/:id. A provider still referenced
// by model mappings cannot be deleted.
func (h *ProviderHandler) Delete(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	refs, err := h.providerRepo.CountMappingReferences(c.Request.Context(), id)
	if err != nil {
		h.logger.Error("count provider references", zap.Int64("id", id), zap.Error(err))
		abortWithError(c, models.NewAppError("delete provider"))
		return
	}
	if refs > 0 {
		abortWithError(c, models.NewConflictError("provider_in_use",
			"provider is referenced by model mappings"))
		return
	}

	if err := h.providerRepo.Delete(c.Request.Context(), id); err != nil {
		if err == repository.ErrNotFound {
			abortWithError(c, models.NewNotFoundError("provider_not_found", "provider not found"))
			return
		}
		h.logger.Error("delete provider", zap.Int64("id", id), zap.Error(err))
		abortWithError(c, models.NewAppError("delete provider"))
		return
	}
	c.Status(http.StatusNoContent)
}

// pathID parses the :id path parameter, aborting with 422 on garbage.
func pathID(c *gin.Context) (int64, bool) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id < 1 {
		abortWithError(c, models.NewValidationError("invalid_id", "id must be a positive integer"))
		return 0, false
	}
	return id, true
}

// validateBaseURL rejects malformed or non-HTTP URLs.
func validateBaseURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return models.NewValidationError("invalid_url", "must be an absolute http(s) URL")
	}
	return nil
}
