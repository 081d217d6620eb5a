package service

import (
	"encoding/json"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/user/llm-gateway-go/internal/models"
)

// DefaultPreviewChars bounds the response preview stored in request logs.
const DefaultPreviewChars = 4096

// StreamStats is the result of accumulating a complete stream.
type StreamStats struct {
	Text         string
	Preview      string
	Truncated    bool
	OutputTokens int
}

// toolCallAccumulator reassembles one streamed tool call from its
// per-chunk fragments.
type toolCallAccumulator struct {
	ID        string
	Name      string
	Arguments strings.Builder
}

// StreamUsageAccumulator tees a streaming response: it parses the SSE
// events, reassembles the generated text and tool calls, and tracks the
// upstream-reported output token count. One accumulator per request; not
// safe for concurrent use.
type StreamUsageAccumulator struct {
	protocol     models.Protocol
	model        string
	previewChars int

	parser  *SSEParser
	counter TokenCounter

	text      strings.Builder
	toolCalls map[int]*toolCallAccumulator
	toolOrder []int

	reportedTokens int
}

// NewStreamUsageAccumulator creates an accumulator for one streaming
// request. previewChars <= 0 selects the default.
func NewStreamUsageAccumulator(protocol models.Protocol, model string, previewChars int) *StreamUsageAccumulator {
	if previewChars <= 0 {
		previewChars = DefaultPreviewChars
	}
	return &StreamUsageAccumulator{
		protocol:     protocol,
		model:        model,
		previewChars: previewChars,
		parser:       NewSSEParser(),
		counter:      NewTokenCounter(protocol),
		toolCalls:    make(map[int]*toolCallAccumulator),
	}
}

// Feed consumes one raw chunk as it is forwarded to the client.
func (a *StreamUsageAccumulator) Feed(chunk []byte) {
	for _, payload := range a.parser.Feed(chunk) {
		if payload == "[DONE]" {
			continue
		}
		event := gjson.Parse(payload)
		if !event.IsObject() {
			continue
		}
		switch a.protocol {
		case models.ProtocolAnthropic:
			a.consumeAnthropic(event)
		default:
			a.consumeOpenAI(event)
		}
	}
}

func (a *StreamUsageAccumulator) consumeOpenAI(event gjson.Result) {
	a.adoptUsage(event.Get("usage"))

	for _, choice := range event.Get("choices").Array() {
		if content := choice.Get("delta.content"); content.Type == gjson.String {
			a.text.WriteString(content.String())
		}
		for _, tc := range choice.Get("delta.tool_calls").Array() {
			a.appendToolCall(int(tc.Get("index").Int()), tc.Get("id").String(),
				tc.Get("function.name").String(), tc.Get("function.arguments").String())
		}
		// Legacy single-function form; accumulated under a fixed slot.
		if fc := choice.Get("delta.function_call"); fc.Exists() {
			a.appendToolCall(-1, "", fc.Get("name").String(), fc.Get("arguments").String())
		}
		// Text-completion style chunk.
		if text := choice.Get("text"); text.Type == gjson.String {
			a.text.WriteString(text.String())
		}
	}
}

func (a *StreamUsageAccumulator) consumeAnthropic(event gjson.Result) {
	if event.Get("type").String() == "content_block_delta" {
		if text := event.Get("delta.text"); text.Type == gjson.String {
			a.text.WriteString(text.String())
		}
	}
	// Usage appears at different nesting depths depending on event type.
	a.adoptUsage(event.Get("usage"))
	a.adoptUsage(event.Get("message.usage"))
	a.adoptUsage(event.Get("delta.usage"))

	// Legacy text-completion events.
	if completion := event.Get("completion"); completion.Type == gjson.String {
		a.text.WriteString(completion.String())
	}
}

// adoptUsage records an upstream-reported output count. Later reports
// override earlier ones: providers emit cumulative usage.
func (a *StreamUsageAccumulator) adoptUsage(usage gjson.Result) {
	if !usage.Exists() {
		return
	}
	for _, key := range []string{"completion_tokens", "output_tokens"} {
		if v := usage.Get(key); v.Exists() {
			a.reportedTokens = int(v.Int())
			return
		}
	}
}

func (a *StreamUsageAccumulator) appendToolCall(index int, id, name, arguments string) {
	acc, ok := a.toolCalls[index]
	if !ok {
		acc = &toolCallAccumulator{}
		a.toolCalls[index] = acc
		a.toolOrder = append(a.toolOrder, index)
	}
	if id != "" {
		acc.ID = id
	}
	if name != "" {
		acc.Name = name
	}
	acc.Arguments.WriteString(arguments)
}

// Finalize closes the accumulator and computes the stream statistics. The
// reassembled tool calls are serialized into the text so the token fallback
// accounts for them. Output tokens prefer the upstream-reported count.
func (a *StreamUsageAccumulator) Finalize() StreamStats {
	text := a.text.String()
	if len(a.toolOrder) > 0 {
		type toolCall struct {
			ID        string `json:"id,omitempty"`
			Name      string `json:"name"`
			Arguments string `json:"arguments"`
		}
		calls := make([]toolCall, 0, len(a.toolOrder))
		for _, idx := range a.toolOrder {
			acc := a.toolCalls[idx]
			calls = append(calls, toolCall{ID: acc.ID, Name: acc.Name, Arguments: acc.Arguments.String()})
		}
		if b, err := json.Marshal(calls); err == nil {
			text += string(b)
		}
	}

	stats := StreamStats{Text: text, Preview: text}
	if len(text) > a.previewChars {
		stats.Preview = text[:a.previewChars]
		stats.Truncated = true
	}

	if a.reportedTokens > 0 {
		stats.OutputTokens = a.reportedTokens
	} else {
		stats.OutputTokens = a.counter.CountTokens(text, a.model)
	}
	return stats
}
