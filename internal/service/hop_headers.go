package service

import (
	"net/http"
	"strings"
)

// hopHeaders is the RFC 7230 hop-by-hop set plus framing headers the gateway
// invalidates by reframing (and possibly decompressing) the body.
var hopHeaders = map[string]bool{
	"connection":          true,
	"keep-alive":          true,
	"proxy-authenticate":  true,
	"proxy-authorization": true,
	"te":                  true,
	"trailer":             true,
	"trailers":            true,
	"transfer-encoding":   true,
	"upgrade":             true,
	"content-length":      true,
	"content-encoding":    true,
}

// FilterHopHeaders returns a copy of h without hop-by-hop or framing
// headers. Applied to upstream response headers before re-emission to the
// ingress client. Idempotent.
func FilterHopHeaders(h http.Header) http.Header {
	out := make(http.Header, len(h))
	for k, vv := range h {
		if hopHeaders[strings.ToLower(k)] {
			continue
		}
		for _, v := range vv {
			out.Add(k, v)
		}
	}
	return out
}
