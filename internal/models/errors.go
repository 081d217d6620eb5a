package models

import (
	"errors"
	"fmt"
	"net/http"
)

// APIError is the gateway's error taxonomy. Every error surfaced to a client
// carries a stable type string, a machine-readable code, an HTTP status and
// an optional detail map.
type APIError struct {
	Type    string         `json:"type"`
	Code    string         `json:"code"`
	Status  int            `json:"-"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s (%s): %s", e.Type, e.Code, e.Message)
}

// Body returns the JSON-serializable error envelope.
func (e *APIError) Body() map[string]any {
	inner := map[string]any{
		"type":    e.Type,
		"code":    e.Code,
		"message": e.Message,
	}
	if len(e.Details) > 0 {
		inner["details"] = e.Details
	}
	return map[string]any{"error": inner}
}

func NewAuthenticationError(code, message string) *APIError {
	return &APIError{Type: "authentication_error", Code: code, Status: http.StatusUnauthorized, Message: message}
}

func NewNotFoundError(code, message string) *APIError {
	return &APIError{Type: "not_found_error", Code: code, Status: http.StatusNotFound, Message: message}
}

func NewConflictError(code, message string) *APIError {
	return &APIError{Type: "conflict_error", Code: code, Status: http.StatusConflict, Message: message}
}

func NewValidationError(code, message string) *APIError {
	return &APIError{Type: "validation_error", Code: code, Status: http.StatusUnprocessableEntity, Message: message}
}

func NewUpstreamError(message string) *APIError {
	return &APIError{Type: "upstream_error", Code: "upstream_failed", Status: http.StatusBadGateway, Message: message}
}

func NewServiceError(code, message string) *APIError {
	return &APIError{Type: "service_error", Code: code, Status: http.StatusServiceUnavailable, Message: message}
}

func NewTimeoutError(message string) *APIError {
	return &APIError{Type: "timeout_error", Code: "upstream_timeout", Status: http.StatusGatewayTimeout, Message: message}
}

func NewAppError(message string) *APIError {
	return &APIError{Type: "app_error", Code: "internal_error", Status: http.StatusInternalServerError, Message: message}
}

// AsAPIError classifies any error into an APIError. Unrecognized errors
// become a generic 500 app_error.
func AsAPIError(err error) *APIError {
	var ae *APIError
	if errors.As(err, &ae) {
		return ae
	}
	return NewAppError(err.Error())
}
