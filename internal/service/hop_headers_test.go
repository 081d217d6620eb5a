//go:build !integration && !e2e
// +build !integration,!e2e

package service

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFilterHopHeaders(t *testing.T) {
	in := http.Header{}
	in.Set("Content-Type", "application/json")
	in.Set("Content-Length", "123")
	in.Set("Content-Encoding", "gzip")
	in.Set("Transfer-Encoding", "chunked")
	in.Set("Connection", "keep-alive")
	in.Set("Keep-Alive", "timeout=5")
	in.Set("X-Request-Id", "abc")
	in.Add("X-Multi", "one")
	in.Add("X-Multi", "two")

	out := FilterHopHeaders(in)

	assert.Equal(t, "application/json", out.Get("Content-Type"))
	assert.Equal(t, "abc", out.Get("X-Request-Id"))
	assert.Equal(t, []string{"one", "two"}, out.Values("X-Multi"))

	for _, h := range []string{"Content-Length", "Content-Encoding", "Transfer-Encoding", "Connection", "Keep-Alive"} {
		assert.Empty(t, out.Get(h), "%s should be removed", h)
	}

	// Input untouched.
	assert.Equal(t, "123", in.Get("Content-Length"))
}

func TestFilterHopHeaders_Idempotent(t *testing.T) {
	in := http.Header{}
	in.Set("Content-Type", "text/event-stream")
	in.Set("Connection", "close")

	once := FilterHopHeaders(in)
	twice := FilterHopHeaders(once)
	assert.Equal(t, once, twice)
}
