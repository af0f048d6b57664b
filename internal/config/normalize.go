package config

import (
	"regexp"
	"strings"
)

// DefaultSessionID is used when no session name survives normalization.
const DefaultSessionID = "default"

var (
	validIDRe    = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,63}$`)
	invalidChars = regexp.MustCompile(`[^a-z0-9_-]+`)
	edgeDashes   = regexp.MustCompile(`^-+|-+$`)
)

// NormalizeSessionID converts a user-provided session name into a safe
// identifier. Session IDs become directory names under the data dir,
// so the charset is restricted to [a-z0-9_-], max 64 chars with no
// leading or trailing dashes. An empty result falls back to "default".
func NormalizeSessionID(name string) string {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return DefaultSessionID
	}

	lower := strings.ToLower(trimmed)
	if validIDRe.MatchString(lower) {
		return lower
	}

	result := invalidChars.ReplaceAllString(lower, "-")
	result = edgeDashes.ReplaceAllString(result, "")
	if len(result) > 64 {
		result = result[:64]
	}
	if result == "" {
		return DefaultSessionID
	}
	return result
}
