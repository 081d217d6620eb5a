package service

import (
	"encoding/json"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
	"github.com/user/llm-gateway-go/internal/models"
)

// Token cost of image content parts, following the published OpenAI
// formula: 85 base tokens at detail:low; high detail adds 170 per 512px
// tile. Without image dimensions we assume a 4-tile image.
const (
	imageTokensLow  = 85
	imageTokensHigh = 85 + 4*170
)

// Per-message framing overhead for chat-format counting.
const (
	messageOverhead   = 4
	replyPriming      = 3
	nameFieldDiscount = 1
)

// TokenCounter estimates token counts from text and request bodies.
type TokenCounter interface {
	// CountTokens estimates the tokens in a plain text string.
	CountTokens(text, model string) int
	// CountRequest estimates the input tokens of a full request body.
	CountRequest(body map[string]any, model string) int
}

// NewTokenCounter returns the counter implementation for a protocol.
// OpenAI-style counting prefers a real BPE tokenizer; Anthropic-style
// counting is estimation only.
func NewTokenCounter(protocol models.Protocol) TokenCounter {
	switch protocol {
	case models.ProtocolAnthropic:
		return &anthropicTokenCounter{}
	default:
		return &openAITokenCounter{encoders: make(map[string]*tiktoken.Tiktoken)}
	}
}

// estimateTokens is the tokenizer-free fallback: one token per four
// characters, rounded up.
func estimateTokens(text string) int {
	if text == "" {
		return 0
	}
	return (len(text) + 3) / 4
}

// --- OpenAI-style counter ---

// modelEncodings overrides the encoding for model families that do not use
// the cl100k_base default.
var modelEncodings = []struct {
	prefix   string
	encoding string
}{
	{"gpt-4o", "o200k_base"},
	{"gpt-4.1", "o200k_base"},
	{"o1", "o200k_base"},
	{"o3", "o200k_base"},
}

const defaultEncoding = "cl100k_base"

type openAITokenCounter struct {
	mu       sync.Mutex
	encoders map[string]*tiktoken.Tiktoken
}

// encoderFor returns a cached encoder for the model, or nil when the BPE
// data is unavailable (offline environments fall back to estimation).
func (c *openAITokenCounter) encoderFor(model string) *tiktoken.Tiktoken {
	name := defaultEncoding
	for _, me := range modelEncodings {
		if strings.HasPrefix(model, me.prefix) {
			name = me.encoding
			break
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if enc, ok := c.encoders[name]; ok {
		return enc
	}
	enc, err := tiktoken.GetEncoding(name)
	if err != nil {
		c.encoders[name] = nil
		return nil
	}
	c.encoders[name] = enc
	return enc
}

func (c *openAITokenCounter) CountTokens(text, model string) int {
	if enc := c.encoderFor(model); enc != nil {
		return len(enc.Encode(text, nil, nil))
	}
	return estimateTokens(text)
}

func (c *openAITokenCounter) CountRequest(body map[string]any, model string) int {
	if messages, ok := body["messages"].([]any); ok {
		return c.countMessages(messages, model)
	}
	// Text-completion style.
	if prompt, ok := body["prompt"]; ok {
		return c.countValue(prompt, model)
	}
	// Embedding style.
	if input, ok := body["input"]; ok {
		return c.countValue(input, model)
	}
	return 0
}

// countMessages applies the standard OpenAI chat overhead: +4 per message,
// +3 for the reply priming, -1 when a name field is present.
func (c *openAITokenCounter) countMessages(messages []any, model string) int {
	total := replyPriming
	for _, raw := range messages {
		msg, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		total += messageOverhead
		if role, ok := msg["role"].(string); ok {
			total += c.CountTokens(role, model)
		}
		if _, hasName := msg["name"]; hasName {
			total -= nameFieldDiscount
		}
		text, images := flattenContent(msg["content"])
		total += c.CountTokens(text, model) + images
		total += c.countToolCalls(msg, model)
	}
	return total
}

func (c *openAITokenCounter) countToolCalls(msg map[string]any, model string) int {
	total := 0
	if toolCalls, ok := msg["tool_calls"].([]any); ok {
		if b, err := json.Marshal(toolCalls); err == nil {
			total += c.CountTokens(string(b), model)
		}
	}
	if fc, ok := msg["function_call"].(map[string]any); ok {
		if b, err := json.Marshal(fc); err == nil {
			total += c.CountTokens(string(b), model)
		}
	}
	return total
}

func (c *openAITokenCounter) countValue(v any, model string) int {
	switch t := v.(type) {
	case string:
		return c.CountTokens(t, model)
	case []any:
		total := 0
		for _, item := range t {
			total += c.countValue(item, model)
		}
		return total
	default:
		return 0
	}
}

// --- Anthropic-style counter ---

type anthropicTokenCounter struct{}

func (c *anthropicTokenCounter) CountTokens(text, _ string) int {
	return estimateTokens(text)
}

func (c *anthropicTokenCounter) CountRequest(body map[string]any, model string) int {
	total := 0
	if system, ok := body["system"]; ok {
		text, images := flattenContent(system)
		total += estimateTokens(text) + images
	}
	if messages, ok := body["messages"].([]any); ok {
		for _, raw := range messages {
			msg, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			total += messageOverhead
			text, images := flattenContent(msg["content"])
			total += estimateTokens(text) + images
		}
	}
	return total
}

// flattenContent extracts the text of a message content value and the token
// cost of any image parts. Content may be a plain string or a list of typed
// parts; tool_use/tool_result parts contribute their JSON serialization.
func flattenContent(content any) (string, int) {
	switch t := content.(type) {
	case string:
		return t, 0
	case []any:
		var sb strings.Builder
		images := 0
		for _, raw := range t {
			part, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			switch part["type"] {
			case "text":
				if s, ok := part["text"].(string); ok {
					sb.WriteString(s)
				}
			case "image_url":
				images += imageTokens(part)
			case "image":
				images += imageTokensHigh
			case "tool_use", "tool_result":
				if b, err := json.Marshal(part); err == nil {
					sb.Write(b)
				}
			default:
				if s, ok := part["text"].(string); ok {
					sb.WriteString(s)
				}
			}
		}
		return sb.String(), images
	default:
		return "", 0
	}
}

func imageTokens(part map[string]any) int {
	if iu, ok := part["image_url"].(map[string]any); ok {
		if detail, ok := iu["detail"].(string); ok && detail == "low" {
			return imageTokensLow
		}
	}
	return imageTokensHigh
}
