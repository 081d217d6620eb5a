package service

import "strings"

// sensitiveHeaders are masked before headers are stored in request logs.
var sensitiveHeaders = map[string]bool{
	"authorization": true,
	"x-api-key":     true,
	"api-key":       true,
}

// SanitizeHeaderValue masks a credential-bearing header value for log-safe
// storage. A "Bearer " prefix is preserved; tokens of 8 characters or fewer
// collapse to "***", longer ones keep the first four and last two characters.
func SanitizeHeaderValue(v string) string {
	prefix := ""
	token := v
	if strings.HasPrefix(v, "Bearer ") {
		prefix = "Bearer "
		token = strings.TrimPrefix(v, "Bearer ")
	}
	if len(token) <= 8 {
		return prefix + "***"
	}
	return prefix + token[:4] + "***...***" + token[len(token)-2:]
}

// SanitizeHeaders returns a copy of the header map with credential headers
// masked. The input map is never mutated.
func SanitizeHeaders(h map[string]string) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		if sensitiveHeaders[strings.ToLower(k)] {
			out[k] = SanitizeHeaderValue(v)
		} else {
			out[k] = v
		}
	}
	return out
}
