package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/user/llm-gateway-go/internal/api/middleware"
	"github.com/user/llm-gateway-go/internal/models"
	"github.com/user/llm-gateway-go/internal/service"
	"go.uber.org/zap"
)

// AuthHandler serves the admin login flow.
type AuthHandler struct {
	authService *service.AuthService
	logger      *zap.Logger
}

// NewAuthHandler creates an AuthHandler.
func NewAuthHandler(authService *service.AuthService, logger *zap.Logger) *AuthHandler {
	return &AuthHandler{authService: authService, logger: logger}
}

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

// Login handles POST /auth/login.
func (h *AuthHandler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		abortWithError(c, models.NewValidationError("invalid_body", "username and password are required"))
		return
	}

	token, expires, err := h.authService.Login(req.Username, req.Password)
	if err != nil {
		h.logger.Warn("admin login failed",
			zap.String("username", req.Username),
			zap.String("ip", c.ClientIP()))
		abortWithError(c, err)
		return
	}

	h.logger.Info("admin login", zap.String("username", req.Username))
	c.JSON(http.StatusOK, gin.H{
		"token":      token,
		"expires_at": expires.UTC().Format(time.RFC3339),
	})
}

// Status handles GET /auth/status (behind RequireAdmin).
func (h *AuthHandler) Status(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"authenticated": true,
		"username":      c.GetString(middleware.ContextAdminUser),
	})
}

// Logout handles POST /auth/logout. Tokens are stateless; the client
// discards its copy.
func (h *AuthHandler) Logout(c *gin.Context) {
	c.Status(http.StatusNoContent)
}
