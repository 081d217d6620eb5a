package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/user/llm-gateway-go/internal/version"
)

// Health handles GET /health.
func Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"name":    version.Name,
		"version": version.Version,
	})
}

// Root handles GET /.
func Root(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":    version.Name,
		"version": version.Version,
	})
}
