package service

import (
	"bytes"
	"strings"
)

// SSEParser reconstructs server-sent event payloads from an arbitrarily
// chunked byte stream. Only data: fields are collected; all other event
// fields are ignored.
type SSEParser struct {
	buf []byte
}

// NewSSEParser creates an empty parser.
func NewSSEParser() *SSEParser {
	return &SSEParser{}
}

// Feed appends a chunk and returns the data payloads of every event
// completed by it. A trailing partial event stays buffered for the next
// call. CRLF line endings are normalized to LF before framing.
func (p *SSEParser) Feed(chunk []byte) []string {
	p.buf = append(p.buf, chunk...)
	normalized := bytes.ReplaceAll(p.buf, []byte("\r\n"), []byte("\n"))

	var payloads []string
	for {
		idx := bytes.Index(normalized, []byte("\n\n"))
		if idx < 0 {
			break
		}
		event := normalized[:idx]
		normalized = normalized[idx+2:]

		if payload, ok := extractData(event); ok {
			payloads = append(payloads, payload)
		}
	}
	p.buf = normalized
	return payloads
}

// extractData joins the data: lines of one event with LF.
func extractData(event []byte) (string, bool) {
	var parts []string
	for _, line := range bytes.Split(event, []byte("\n")) {
		if !bytes.HasPrefix(line, []byte("data:")) {
			continue
		}
		data := line[len("data:"):]
		if len(data) > 0 && data[0] == ' ' {
			data = data[1:]
		}
		parts = append(parts, string(data))
	}
	if len(parts) == 0 {
		return "", false
	}
	return strings.Join(parts, "\n"), true
}
