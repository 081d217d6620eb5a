// Package handler implements the gateway's HTTP handlers: the proxy
// endpoints, the admin CRUD surface and the auth flow.
package handler

import (
	"github.com/gin-gonic/gin"
	"github.com/user/llm-gateway-go/internal/models"
)

// abortWithError writes the standard error envelope for an APIError.
func abortWithError(c *gin.Context, err error) {
	apiErr := models.AsAPIError(err)
	c.AbortWithStatusJSON(apiErr.Status, apiErr.Body())
}
