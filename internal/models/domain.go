// Package models defines the domain models for the LLM gateway.
package models

import (
	"encoding/json"
	"strings"
	"time"
)

// Protocol identifies the wire dialect spoken by a provider or a client.
type Protocol string

const (
	ProtocolOpenAI          Protocol = "openai"
	ProtocolAnthropic       Protocol = "anthropic"
	ProtocolOpenAIResponses Protocol = "openai_responses"
	ProtocolGemini          Protocol = "gemini"
)

// APIType identifies the upstream API family a provider serves.
type APIType string

const (
	APITypeChat       APIType = "chat"
	APITypeCompletion APIType = "completion"
	APITypeEmbedding  APIType = "embedding"
)

// StrategyRoundRobin is currently the only supported selection strategy.
const StrategyRoundRobin = "round_robin"

// Provider represents an upstream LLM provider.
type Provider struct {
	ID           int64             `json:"id"`
	Name         string            `json:"name"`
	BaseURL      string            `json:"base_url"`
	Protocol     Protocol          `json:"protocol"`
	APIType      APIType           `json:"api_type"`
	APIKey       string            `json:"-"` // Never serialize API key
	ExtraHeaders map[string]string `json:"extra_headers,omitempty"`
	ProxyEnabled bool              `json:"proxy_enabled"`
	ProxyURL     string            `json:"proxy_url,omitempty"`
	IsActive     bool              `json:"is_active"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// MaskedAPIKey returns a display-safe form of the provider's API key.
func (p *Provider) MaskedAPIKey() string {
	return MaskSecret(p.APIKey)
}

// RuleLogic combines the results of the rules in a RuleSet.
type RuleLogic string

const (
	LogicAnd RuleLogic = "AND"
	LogicOr  RuleLogic = "OR"
)

// RuleOperator is the closed set of comparison operators a Rule may use.
type RuleOperator string

const (
	OpEq          RuleOperator = "eq"
	OpNe          RuleOperator = "ne"
	OpGt          RuleOperator = "gt"
	OpGte         RuleOperator = "gte"
	OpLt          RuleOperator = "lt"
	OpLte         RuleOperator = "lte"
	OpContains    RuleOperator = "contains"
	OpNotContains RuleOperator = "not_contains"
	OpRegex       RuleOperator = "regex"
	OpIn          RuleOperator = "in"
	OpNotIn       RuleOperator = "not_in"
	OpExists      RuleOperator = "exists"
)

// Rule is a single matching rule: a field path, an operator and a literal.
type Rule struct {
	Field    string       `json:"field"`
	Operator RuleOperator `json:"operator"`
	Value    any          `json:"value"`
}

// RuleSet is a list of rules joined by AND/OR logic. An empty RuleSet
// always matches.
type RuleSet struct {
	Rules []Rule    `json:"rules"`
	Logic RuleLogic `json:"logic,omitempty"`
}

// UnmarshalJSON normalizes the logic field, defaulting to AND.
func (rs *RuleSet) UnmarshalJSON(data []byte) error {
	type alias RuleSet
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*rs = RuleSet(a)
	switch strings.ToUpper(string(rs.Logic)) {
	case string(LogicOr):
		rs.Logic = LogicOr
	default:
		rs.Logic = LogicAnd
	}
	return nil
}

// ModelMapping maps a client-requested model name to candidate providers.
// There is at most one mapping per requested model.
type ModelMapping struct {
	RequestedModel string         `json:"requested_model"`
	Strategy       string         `json:"strategy"`
	MatchingRules  *RuleSet       `json:"matching_rules,omitempty"`
	Capabilities   map[string]any `json:"capabilities,omitempty"`
	IsActive       bool           `json:"is_active"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// ModelMappingProvider links a mapping to a provider with a target model
// name. Duplicate (requested_model, provider_id) pairs are allowed and
// represent parallel candidate entries.
type ModelMappingProvider struct {
	ID              int64     `json:"id"`
	RequestedModel  string    `json:"requested_model"`
	ProviderID      int64     `json:"provider_id"`
	TargetModelName string    `json:"target_model_name"`
	ProviderRules   *RuleSet  `json:"provider_rules,omitempty"`
	Priority        int       `json:"priority"`
	Weight          int       `json:"weight"`
	IsActive        bool      `json:"is_active"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

// APIKey represents a gateway API key.
type APIKey struct {
	ID         int64      `json:"id"`
	KeyName    string     `json:"key_name"`
	KeyValue   string     `json:"-"`
	IsActive   bool       `json:"is_active"`
	CreatedAt  time.Time  `json:"created_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
}

// MaskedValue returns a display-safe form of the key value.
func (k *APIKey) MaskedValue() string {
	return MaskSecret(k.KeyValue)
}

// MaskSecret masks a secret for display: short secrets collapse to "***",
// longer ones keep the first four and last two characters.
func MaskSecret(s string) string {
	if len(s) <= 8 {
		return "***"
	}
	return s[:4] + "***...***" + s[len(s)-2:]
}

// TokenUsage holds token counts for one request.
type TokenUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// TotalTokens returns input plus output tokens.
func (u TokenUsage) TotalTokens() int {
	return u.InputTokens + u.OutputTokens
}

// RequestContext is the ephemeral per-request state rules are evaluated
// against. Header names are lowercased.
type RequestContext struct {
	CurrentModel string
	Headers      map[string]string
	RequestBody  map[string]any
	TokenUsage   TokenUsage
}

// CandidateProvider is an active (provider, target model) pair whose rules
// matched, with the decrypted credential attached.
type CandidateProvider struct {
	ProviderID   int64             `json:"provider_id"`
	Name         string            `json:"name"`
	BaseURL      string            `json:"base_url"`
	Protocol     Protocol          `json:"protocol"`
	APIKey       string            `json:"-"`
	ExtraHeaders map[string]string `json:"extra_headers,omitempty"`
	ProxyEnabled bool              `json:"proxy_enabled"`
	ProxyURL     string            `json:"proxy_url,omitempty"`
	TargetModel  string            `json:"target_model"`
	Priority     int               `json:"priority"`
	Weight       int               `json:"weight"`
}

// RequestLogEntry is a request log row for insertion.
type RequestLogEntry struct {
	TraceID              string
	RequestTime          time.Time
	APIKeyID             *int64
	APIKeyName           string
	RequestedModel       string
	TargetModel          string
	ProviderID           *int64
	ProviderName         string
	RetryCount           int
	MatchedProviderCount int
	FirstByteDelayMS     *int64
	TotalTimeMS          *int64
	InputTokens          int
	OutputTokens         int
	RequestHeaders       string // sanitized, JSON-encoded
	RequestBody          string // possibly truncated
	ConvertedRequestBody string
	ResponseStatus       *int
	ResponseBody         string
	UpstreamResponseBody string
	ResponseHeaders      string
	ErrorInfo            string
	IsStream             bool
	RequestProtocol      string
	SupplierProtocol     string
}

// RequestLog is a request log row read back from the store.
type RequestLog struct {
	ID                   int64     `json:"id"`
	TraceID              string    `json:"trace_id"`
	RequestTime          time.Time `json:"request_time"`
	APIKeyID             *int64    `json:"api_key_id,omitempty"`
	APIKeyName           string    `json:"api_key_name,omitempty"`
	RequestedModel       string    `json:"requested_model"`
	TargetModel          string    `json:"target_model,omitempty"`
	ProviderID           *int64    `json:"provider_id,omitempty"`
	ProviderName         string    `json:"provider_name,omitempty"`
	RetryCount           int       `json:"retry_count"`
	MatchedProviderCount int       `json:"matched_provider_count"`
	FirstByteDelayMS     *int64    `json:"first_byte_delay_ms,omitempty"`
	TotalTimeMS          *int64    `json:"total_time_ms,omitempty"`
	InputTokens          int       `json:"input_tokens"`
	OutputTokens         int       `json:"output_tokens"`
	RequestHeaders       string    `json:"request_headers,omitempty"`
	RequestBody          string    `json:"request_body,omitempty"`
	ConvertedRequestBody string    `json:"converted_request_body,omitempty"`
	ResponseStatus       *int      `json:"response_status,omitempty"`
	ResponseBody         string    `json:"response_body,omitempty"`
	UpstreamResponseBody string    `json:"upstream_response_body,omitempty"`
	ResponseHeaders      string    `json:"response_headers,omitempty"`
	ErrorInfo            string    `json:"error_info,omitempty"`
	IsStream             bool      `json:"is_stream"`
	RequestProtocol      string    `json:"request_protocol,omitempty"`
	SupplierProtocol     string    `json:"supplier_protocol,omitempty"`
}
