package service

import "fmt"

// Limits for bodies stored in request logs. Embedding requests routinely
// carry vectors with thousands of elements; logs keep a prefix plus an
// elision marker.
const (
	truncateMaxListItems  = 32
	truncateMaxStringLen  = 2048
	truncateMarkerPattern = "…(%d items)…"
)

// TruncateBody returns a log-safe copy of a parsed JSON body: long numeric
// arrays keep their head plus an elision marker, long strings are trimmed,
// and objects/lists are walked recursively. The input is never mutated.
func TruncateBody(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, val := range t {
			out[k] = TruncateBody(val)
		}
		return out
	case []any:
		return truncateList(t)
	case string:
		if len(t) > truncateMaxStringLen {
			return t[:truncateMaxStringLen] + fmt.Sprintf(truncateMarkerPattern, len(t)-truncateMaxStringLen)
		}
		return t
	default:
		return v
	}
}

func truncateList(list []any) []any {
	if len(list) <= truncateMaxListItems {
		out := make([]any, len(list))
		for i, item := range list {
			out[i] = TruncateBody(item)
		}
		return out
	}
	out := make([]any, 0, truncateMaxListItems+1)
	for _, item := range list[:truncateMaxListItems] {
		out = append(out, TruncateBody(item))
	}
	out = append(out, fmt.Sprintf(truncateMarkerPattern, len(list)-truncateMaxListItems))
	return out
}
