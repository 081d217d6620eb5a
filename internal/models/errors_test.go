//go:build !integration && !e2e
// +build !integration,!e2e

package models

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorConstructors(t *testing.T) {
	tests := []struct {
		err    *APIError
		status int
		typ    string
	}{
		{NewAuthenticationError("bad_key", "m"), http.StatusUnauthorized, "authentication_error"},
		{NewNotFoundError("nope", "m"), http.StatusNotFound, "not_found_error"},
		{NewConflictError("dup", "m"), http.StatusConflict, "conflict_error"},
		{NewValidationError("bad", "m"), http.StatusUnprocessableEntity, "validation_error"},
		{NewUpstreamError("m"), http.StatusBadGateway, "upstream_error"},
		{NewServiceError("none", "m"), http.StatusServiceUnavailable, "service_error"},
		{NewTimeoutError("m"), http.StatusGatewayTimeout, "timeout_error"},
		{NewAppError("m"), http.StatusInternalServerError, "app_error"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.status, tt.err.Status)
		assert.Equal(t, tt.typ, tt.err.Type)
	}
}

func TestAPIError_Body(t *testing.T) {
	err := NewValidationError("missing_model", "request body has no model field")
	body := err.Body()

	inner, ok := body["error"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "validation_error", inner["type"])
	assert.Equal(t, "missing_model", inner["code"])
	assert.Equal(t, "request body has no model field", inner["message"])
	_, hasDetails := inner["details"]
	assert.False(t, hasDetails)

	err.Details = map[string]any{"field": "model"}
	inner = err.Body()["error"].(map[string]any)
	assert.Equal(t, map[string]any{"field": "model"}, inner["details"])
}

func TestAsAPIError(t *testing.T) {
	original := NewNotFoundError("nope", "missing")
	assert.Same(t, original, AsAPIError(original))

	wrapped := fmt.Errorf("context: %w", original)
	assert.Same(t, original, AsAPIError(wrapped))

	generic := AsAPIError(errors.New("plain failure"))
	assert.Equal(t, http.StatusInternalServerError, generic.Status)
	assert.Equal(t, "plain failure", generic.Message)
}

func TestAPIError_ErrorString(t *testing.T) {
	err := NewServiceError("no_available_providers", "no available providers")
	assert.Equal(t, "service_error (no_available_providers): no available providers", err.Error())
}
