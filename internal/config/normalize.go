package config

import (
	"regexp"
	"strings"
)

var (
	validTenantRe = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,63}$`)
	invalidChars  = regexp.MustCompile(`[^a-z0-9_-]+`)
	leadingDash   = regexp.MustCompile(`^-+`)
	trailingDash  = regexp.MustCompile(`-+$`)
)

// NormalizeTenantID canonicalizes a user-provided tenant id. Tenant ids end
// up in URLs, redis keys and file paths, so the charset is strict:
//   - lowercase, max 64 chars
//   - only [a-z0-9_-]
//   - invalid chars collapse to "-", leading/trailing dashes stripped
//
// An id that normalizes to nothing comes back empty; callers reject it.
func NormalizeTenantID(name string) string {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return ""
	}

	lower := strings.ToLower(trimmed)
	if validTenantRe.MatchString(lower) {
		return lower
	}

	result := invalidChars.ReplaceAllString(lower, "-")
	result = leadingDash.ReplaceAllString(result, "")
	result = trailingDash.ReplaceAllString(result, "")

	if len(result) > 64 {
		result = result[:64]
	}
	return result
}
