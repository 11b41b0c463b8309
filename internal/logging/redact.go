package logging

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Key credentials stay out of the debug log even with full request tracing
// on. Detection is by field name: exact matches plus common secret suffixes.

func sensitiveKey(key string) bool {
	k := strings.ToLower(strings.TrimSpace(key))
	switch k {
	case "authorization", "api_key", "apikey", "token", "secret", "password":
		return true
	}
	for _, suffix := range []string{"_key", "_token", "_secret", "_password"} {
		if strings.HasSuffix(k, suffix) {
			return true
		}
	}
	return false
}

// RedactValue masks a known-secret string, keeping a short tail for
// correlating which key was in play. Short secrets are hidden entirely.
func RedactValue(value string) string {
	v := strings.TrimSpace(value)
	if v == "" {
		return ""
	}
	if rest, ok := cutBearer(v); ok {
		return "Bearer " + mask(rest)
	}
	return mask(v)
}

func cutBearer(v string) (string, bool) {
	if len(v) > 7 && strings.EqualFold(v[:7], "bearer ") {
		return v[7:], true
	}
	return "", false
}

func mask(v string) string {
	if v == "" {
		return ""
	}
	if len(v) < 12 {
		return "****"
	}
	return "****" + v[len(v)-4:]
}

// RedactAny walks decoded JSON and masks values under sensitive keys. Typed
// structs pass through untouched; anything secret-bearing must be logged as
// a decoded map, which is what the RPC layer hands in.
func RedactAny(value any) any {
	switch typed := value.(type) {
	case map[string]any:
		out := make(map[string]any, len(typed))
		for key, val := range typed {
			if sensitiveKey(key) {
				out[key] = RedactValue(fmt.Sprint(val))
			} else {
				out[key] = RedactAny(val)
			}
		}
		return out
	case map[string]string:
		out := make(map[string]string, len(typed))
		for key, val := range typed {
			if sensitiveKey(key) {
				out[key] = RedactValue(val)
			} else {
				out[key] = val
			}
		}
		return out
	case []any:
		out := make([]any, len(typed))
		for i, val := range typed {
			out[i] = RedactAny(val)
		}
		return out
	default:
		return value
	}
}

// RedactJSON decodes raw params just enough to redact them for the log line.
// Input that does not decode is logged verbatim.
func RedactJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	var payload any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return strings.TrimSpace(string(raw))
	}
	return RedactAny(payload)
}
