package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/user/llm-gateway-go/internal/models"
	"github.com/user/llm-gateway-go/internal/repository"
	"github.com/user/llm-gateway-go/internal/service"
	"go.uber.org/zap"
)

// APIKeyHandler serves the /admin/keys CRUD surface.
type APIKeyHandler struct {
	keyRepo     repository.APIKeyRepository
	authService *service.AuthService
	logger      *zap.Logger
}

// NewAPIKeyHandler creates an APIKeyHandler.
func NewAPIKeyHandler(keyRepo repository.APIKeyRepository, authService *service.AuthService, logger *zap.Logger) *APIKeyHandler {
	return &APIKeyHandler{keyRepo: keyRepo, authService: authService, logger: logger}
}

// keyView is the list/detail shape; the key value is always masked.
type keyView struct {
	*models.APIKey
	KeyValueMasked string `json:"key_value_masked"`
}

func newKeyView(k *models.APIKey) keyView {
	return keyView{APIKey: k, KeyValueMasked: k.MaskedValue()}
}

// List handles GET /admin/keys.
func (h *APIKeyHandler) List(c *gin.Context) {
	keys, err := h.keyRepo.FindAll(c.Request.Context())
	if err != nil {
		h.logger.Error("list api keys", zap.Error(err))
		abortWithError(c, models.NewAppError("list API keys"))
		return
	}
	views := make([]keyView, 0, len(keys))
	for _, k := range keys {
		views = append(views, newKeyView(k))
	}
	c.JSON(http.StatusOK, gin.H{"keys": views})
}

type createKeyRequest struct {
	KeyName string `json:"key_name" binding:"required"`
}

// Create handles POST /admin/keys. The plaintext key value is returned
// exactly once, in this response.
func (h *APIKeyHandler) Create(c *gin.Context) {
	var req createKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, models.NewValidationError("invalid_body", "key_name is required"))
		return
	}

	key, plaintext, err := h.authService.CreateAPIKey(c.Request.Context(), req.KeyName)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"id":        key.ID,
		"key_name":  key.KeyName,
		"key_value": plaintext,
		"is_active": key.IsActive,
	})
}

type setActiveRequest struct {
	IsActive *bool `json:"is_active" binding:"required"`
}

// SetActive handles POST /admin/keys/:id/active.
func (h *APIKeyHandler) SetActive(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	var req setActiveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, models.NewValidationError("invalid_body", "is_active is required"))
		return
	}

	if err := h.keyRepo.SetActive(c.Request.Context(), id, *req.IsActive); err != nil {
		if err == repository.ErrNotFound {
			abortWithError(c, models.NewNotFoundError("key_not_found", "API key not found"))
			return
		}
		h.logger.Error("set api key active", zap.Int64("id", id), zap.Error(err))
		abortWithError(c, models.NewAppError("update API key"))
		return
	}
	c.Status(http.StatusNoContent)
}

// Delete handles DELETE /admin/keys/:id.
func (h *APIKeyHandler) Delete(c *gin.Context) {
	id, ok := pathID(c)
	if !ok {
		return
	}
	if err := h.keyRepo.Delete(c.Request.Context(), id); err != nil {
		if err == repository.ErrNotFound {
			abortWithError(c, models.NewNotFoundError("key_not_found", "API key not found"))
			return
		}
		h.logger.Error("delete api key", zap.Int64("id", id), zap.Error(err))
		abortWithError(c, models.NewAppError("delete API key"))
		return
	}
	c.Status(http.StatusNoContent)
}
