//go:build !integration && !e2e
// +build !integration,!e2e

package service

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSSEParser_SingleEvent(t *testing.T) {
	p := NewSSEParser()
	payloads := p.Feed([]byte("data: {\"a\":1}\n\n"))
	assert.Equal(t, []string{`{"a":1}`}, payloads)
}

func TestSSEParser_EventSplitAcrossChunks(t *testing.T) {
	p := NewSSEParser()

	assert.Empty(t, p.Feed([]byte("data: {\"mess")))
	assert.Empty(t, p.Feed([]byte("age\":\"hi\"}")))
	payloads := p.Feed([]byte("\n\ndata: [DONE]\n\n"))
	assert.Equal(t, []string{`{"message":"hi"}`, "[DONE]"}, payloads)
}

func TestSSEParser_MultipleEventsInOneChunk(t *testing.T) {
	p := NewSSEParser()
	payloads := p.Feed([]byte("data: one\n\ndata: two\n\ndata: thr"))
	assert.Equal(t, []string{"one", "two"}, payloads)

	payloads = p.Feed([]byte("ee\n\n"))
	assert.Equal(t, []string{"three"}, payloads)
}

func TestSSEParser_CRLFNormalized(t *testing.T) {
	p := NewSSEParser()
	payloads := p.Feed([]byte("data: a\r\n\r\ndata: b\r\n\r\n"))
	assert.Equal(t, []string{"a", "b"}, payloads)
}

func TestSSEParser_MultiLineDataJoinedWithLF(t *testing.T) {
	p := NewSSEParser()
	payloads := p.Feed([]byte("data: line1\ndata: line2\n\n"))
	assert.Equal(t, []string{"line1\nline2"}, payloads)
}

func TestSSEParser_NonDataFieldsIgnored(t *testing.T) {
	p := NewSSEParser()
	payloads := p.Feed([]byte("event: message_start\nid: 7\ndata: payload\n\n"))
	assert.Equal(t, []string{"payload"}, payloads)
}

func TestSSEParser_EventWithoutDataDropped(t *testing.T) {
	p := NewSSEParser()
	payloads := p.Feed([]byte(": keepalive comment\n\n"))
	assert.Empty(t, payloads)
}

func TestSSEParser_NoSpaceAfterColon(t *testing.T) {
	p := NewSSEParser()
	payloads := p.Feed([]byte("data:tight\n\n"))
	assert.Equal(t, []string{"tight"}, payloads)
}

func TestSSEParser_ByteAtATime(t *testing.T) {
	p := NewSSEParser()
	input := "data: {\"delta\":\"x\"}\n\ndata: [DONE]\n\n"
	var payloads []string
	for i := 0; i < len(input); i++ {
		payloads = append(payloads, p.Feed([]byte{input[i]})...)
	}
	assert.Equal(t, []string{`{"delta":"x"}`, "[DONE]"}, payloads)
}
