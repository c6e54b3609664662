// Package toolargs coerces loosely typed LLM tool arguments into Go
// values. JSON decoding yields float64 for numbers and interface maps
// for objects; these helpers absorb the usual variants.
package toolargs

import (
	"encoding/json"
	"fmt"
)

// String returns the string value under key, or "".
func String(args map[string]any, key string) string {
	if v, ok := args[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// Bool returns the boolean value under key. String forms of true/false
// are accepted because some models stringify every argument.
func Bool(args map[string]any, key string) bool {
	switch v := args[key].(type) {
	case bool:
		return v
	case string:
		return v == "true" || v == "1"
	}
	return false
}

// Int returns the integer value under key, tolerating the numeric
// encodings JSON decoding and model output produce.
func Int(args map[string]any, key string) (int64, bool) {
	switch v := args[key].(type) {
	case float64:
		return int64(v), true
	case int:
		return int64(v), true
	case int64:
		return v, true
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return n, true
		}
	case string:
		var n int64
		if _, err := fmt.Sscanf(v, "%d", &n); err == nil {
			return n, true
		}
	}
	return 0, false
}
