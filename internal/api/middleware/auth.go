package middleware

import (
	"context"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/user/llm-gateway-go/internal/models"
	"github.com/user/llm-gateway-go/internal/repository"
	"github.com/user/llm-gateway-go/internal/service"
	"go.uber.org/zap"
)

// Context keys set by the auth middlewares.
const (
	ContextAPIKey    = "api_key"
	ContextAdminUser = "admin_user"
)

// ExtractClientKey pulls the gateway credential from the x-api-key header
// or the Authorization bearer. x-api-key takes precedence when both are
// present.
func ExtractClientKey(c *gin.Context) string {
	if key := c.GetHeader("x-api-key"); key != "" {
		return key
	}
	if auth := c.GetHeader("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}

// CurrentAPIKey returns the API key row set by RequireAPIKey, or nil.
func CurrentAPIKey(c *gin.Context) *models.APIKey {
	v, ok := c.Get(ContextAPIKey)
	if !ok {
		return nil
	}
	key, _ := v.(*models.APIKey)
	return key
}

// RequireAPIKey authenticates proxy requests with a gateway API key.
// Rejected requests still produce a request log row with a null key ID.
func RequireAPIKey(authService *service.AuthService, logRepo repository.RequestLogRepository, logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		key, err := authService.ValidateAPIKey(c.Request.Context(), ExtractClientKey(c))
		if err != nil {
			apiErr := models.AsAPIError(err)
			logAuthFailure(c, logRepo, logger, apiErr)
			c.AbortWithStatusJSON(apiErr.Status, apiErr.Body())
			return
		}
		c.Set(ContextAPIKey, key)
		c.Next()
	}
}

// RequireAdmin authenticates admin requests with a signed admin token.
func RequireAdmin(authService *service.AuthService) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := ""
		if auth := c.GetHeader("Authorization"); strings.HasPrefix(auth, "Bearer ") {
			token = strings.TrimPrefix(auth, "Bearer ")
		}
		if token == "" {
			apiErr := models.NewAuthenticationError("missing_token", "missing admin token")
			c.AbortWithStatusJSON(apiErr.Status, apiErr.Body())
			return
		}
		subject, err := authService.ValidateAdminToken(token)
		if err != nil {
			apiErr := models.AsAPIError(err)
			c.AbortWithStatusJSON(apiErr.Status, apiErr.Body())
			return
		}
		c.Set(ContextAdminUser, subject)
		c.Next()
	}
}

// logAuthFailure writes the request log row for a rejected ingress request.
// A detached context keeps the write independent of the aborted request.
func logAuthFailure(c *gin.Context, logRepo repository.RequestLogRepository, logger *zap.Logger, apiErr *models.APIError) {
	status := apiErr.Status
	entry := &models.RequestLogEntry{
		TraceID:        uuid.New().String(),
		RequestTime:    time.Now(),
		ResponseStatus: &status,
		ErrorInfo:      apiErr.Error(),
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if _, err := logRepo.Insert(ctx, entry); err != nil {
			logger.Error("write auth failure log", zap.Error(err))
		}
	}()
}
