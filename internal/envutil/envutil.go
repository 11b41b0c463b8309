// Package envutil reads the engine's WEBWEAVER_* environment switches.
package envutil

import (
	"os"
	"strings"
)

// Bool reports whether the variable is set to a truthy value. Unset and
// unrecognized values are false.
func Bool(key string) bool {
	return ParseBool(os.Getenv(key))
}

// ParseBool accepts the usual spellings of "on", case-insensitively.
func ParseBool(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "t", "yes", "y", "on":
		return true
	}
	return false
}

// String returns the trimmed value of the variable, or fallback when the
// variable is unset or blank.
func String(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}
