//go:build !integration && !e2e
// +build !integration,!e2e

package service

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/user/llm-gateway-go/internal/models"
)

func sseEvent(payload string) []byte {
	return []byte("data: " + payload + "\n\n")
}

func TestStreamAccumulator_AnthropicTextDeltas(t *testing.T) {
	acc := NewStreamUsageAccumulator(models.ProtocolAnthropic, "claude-3-5-sonnet", 0)

	for _, fragment := range []string{"Hel", "lo", " world"} {
		acc.Feed(sseEvent(fmt.Sprintf(`{"type":"content_block_delta","delta":{"type":"text_delta","text":%q}}`, fragment)))
	}
	stats := acc.Finalize()

	assert.Equal(t, "Hello world", stats.Text)
	assert.Equal(t, "Hello world", stats.Preview)
	assert.False(t, stats.Truncated)
	// No usage reported, so the estimation fallback applies: ceil(11/4).
	assert.Equal(t, 3, stats.OutputTokens)
}

func TestStreamAccumulator_ReportedUsageWins(t *testing.T) {
	acc := NewStreamUsageAccumulator(models.ProtocolAnthropic, "claude-3-5-sonnet", 0)

	acc.Feed(sseEvent(`{"type":"content_block_delta","delta":{"type":"text_delta","text":"hi"}}`))
	acc.Feed(sseEvent(`{"type":"message_delta","delta":{"stop_reason":"end_turn"},"usage":{"output_tokens":42}}`))

	assert.Equal(t, 42, acc.Finalize().OutputTokens)
}

func TestStreamAccumulator_AnthropicMessageStartUsage(t *testing.T) {
	acc := NewStreamUsageAccumulator(models.ProtocolAnthropic, "claude-3-5-sonnet", 0)

	acc.Feed(sseEvent(`{"type":"message_start","message":{"usage":{"input_tokens":10,"output_tokens":1}}}`))
	acc.Feed(sseEvent(`{"type":"message_delta","usage":{"output_tokens":9}}`))

	// Later cumulative reports override earlier ones.
	assert.Equal(t, 9, acc.Finalize().OutputTokens)
}

func TestStreamAccumulator_OpenAIDeltas(t *testing.T) {
	acc := NewStreamUsageAccumulator(models.ProtocolOpenAI, "gpt-4", 0)

	acc.Feed(sseEvent(`{"choices":[{"delta":{"role":"assistant","content":"The"}}]}`))
	acc.Feed(sseEvent(`{"choices":[{"delta":{"content":" answer"}}]}`))
	acc.Feed(sseEvent(`{"choices":[{"delta":{},"finish_reason":"stop"}],"usage":{"completion_tokens":7}}`))
	acc.Feed(sseEvent(`[DONE]`))

	stats := acc.Finalize()
	assert.Equal(t, "The answer", stats.Text)
	assert.Equal(t, 7, stats.OutputTokens)
}

func TestStreamAccumulator_ChunkBoundaryInsideEvent(t *testing.T) {
	acc := NewStreamUsageAccumulator(models.ProtocolOpenAI, "gpt-4", 0)

	full := string(sseEvent(`{"choices":[{"delta":{"content":"split across reads"}}]}`))
	acc.Feed([]byte(full[:17]))
	acc.Feed([]byte(full[17:]))

	assert.Equal(t, "split across reads", acc.Finalize().Text)
}

func TestStreamAccumulator_ToolCallReassembly(t *testing.T) {
	acc := NewStreamUsageAccumulator(models.ProtocolOpenAI, "gpt-4", 0)

	acc.Feed(sseEvent(`{"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_1","function":{"name":"get_weather","arguments":""}}]}}]}`))
	acc.Feed(sseEvent(`{"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"{\"city\":"}}]}}]}`))
	acc.Feed(sseEvent(`{"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"\"Oslo\"}"}}]}}]}`))

	stats := acc.Finalize()
	assert.Contains(t, stats.Text, "get_weather")
	assert.Contains(t, stats.Text, `{\"city\":\"Oslo\"}`)
	assert.Greater(t, stats.OutputTokens, 0)
}

func TestStreamAccumulator_LegacyCompletionText(t *testing.T) {
	openai := NewStreamUsageAccumulator(models.ProtocolOpenAI, "gpt-3.5-turbo-instruct", 0)
	openai.Feed(sseEvent(`{"choices":[{"text":"once upon"}]}`))
	assert.Equal(t, "once upon", openai.Finalize().Text)

	anthropic := NewStreamUsageAccumulator(models.ProtocolAnthropic, "claude-2.1", 0)
	anthropic.Feed(sseEvent(`{"type":"completion","completion":" a time"}`))
	assert.Equal(t, " a time", anthropic.Finalize().Text)
}

func TestStreamAccumulator_PreviewTruncation(t *testing.T) {
	acc := NewStreamUsageAccumulator(models.ProtocolAnthropic, "claude-3-5-sonnet", 10)

	long := strings.Repeat("a", 25)
	acc.Feed(sseEvent(fmt.Sprintf(`{"type":"content_block_delta","delta":{"text":%q}}`, long)))

	stats := acc.Finalize()
	assert.Equal(t, long, stats.Text)
	assert.Equal(t, strings.Repeat("a", 10), stats.Preview)
	assert.True(t, stats.Truncated)
}

func TestStreamAccumulator_IgnoresNonObjectPayloads(t *testing.T) {
	acc := NewStreamUsageAccumulator(models.ProtocolOpenAI, "gpt-4", 0)
	acc.Feed(sseEvent(`[DONE]`))
	acc.Feed(sseEvent(`not json at all`))

	stats := acc.Finalize()
	assert.Empty(t, stats.Text)
	assert.Zero(t, stats.OutputTokens)
}
