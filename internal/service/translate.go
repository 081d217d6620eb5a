package service

import "github.com/user/llm-gateway-go/internal/models"

// TranslationAdapter converts request and response bodies between protocol
// dialects when a candidate speaks a different protocol than the client.
// The gateway currently forwards cross-protocol requests unconverted when
// no adapter is installed; same-protocol requests never pass through here.
type TranslationAdapter interface {
	TranslateRequest(from, to models.Protocol, body []byte) ([]byte, error)
	TranslateResponse(from, to models.Protocol, body []byte) ([]byte, error)
}
