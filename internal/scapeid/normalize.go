// Package scapeid canonicalizes environment names so that registry lookups
// accept the common spellings of each task.
package scapeid

import (
	"regexp"
	"strings"
)

// versionSuffix matches gym style version tags such as "-v0" or "-v12".
var versionSuffix = regexp.MustCompile(`-v[0-9]+$`)

// Normalize canonicalizes environment names and their aliases. Unknown names
// are returned lower-cased and dash separated.
func Normalize(name string) string {
	normalized := strings.TrimSpace(name)
	normalized = splitCamel(normalized)
	normalized = strings.ToLower(normalized)
	normalized = strings.ReplaceAll(normalized, "_", "-")
	normalized = strings.ReplaceAll(normalized, " ", "-")
	for strings.Contains(normalized, "--") {
		normalized = strings.ReplaceAll(normalized, "--", "-")
	}
	normalized = strings.Trim(normalized, "-")
	if normalized == "" {
		return ""
	}
	if canonical, ok := normalizeKnownAlias(normalized); ok {
		return canonical
	}
	return normalized
}

// splitCamel inserts a dash at lower-to-upper case boundaries, so
// "CartPole" reads as "Cart-Pole".
func splitCamel(s string) string {
	var b strings.Builder
	prevLower := false
	for _, r := range s {
		upper := r >= 'A' && r <= 'Z'
		if upper && prevLower {
			b.WriteByte('-')
		}
		b.WriteRune(r)
		prevLower = (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9')
	}
	return b.String()
}

func normalizeKnownAlias(normalized string) (string, bool) {
	for _, candidate := range aliasCandidates(normalized) {
		if canonical, ok := canonicalScapeName(candidate); ok {
			return canonical, true
		}
	}
	return "", false
}

func aliasCandidates(normalized string) []string {
	candidate := strings.TrimPrefix(normalized, "scape-")
	candidate = strings.Trim(candidate, "-")

	candidates := []string{normalized}
	if candidate != "" && candidate != normalized {
		candidates = append(candidates, candidate)
	}
	for _, c := range []string{candidate, normalized} {
		trimmed := trimSuffixes(c)
		if trimmed != "" && trimmed != c {
			candidates = append(candidates, trimmed)
		}
	}
	return candidates
}

func trimSuffixes(value string) string {
	value = versionSuffix.ReplaceAllString(value, "")
	switch {
	case strings.HasSuffix(value, "-sim"):
		return strings.TrimSuffix(value, "-sim")
	case strings.HasSuffix(value, "sim") && !strings.Contains(value, "-"):
		return strings.TrimSuffix(value, "sim")
	default:
		return value
	}
}

func canonicalScapeName(alias string) (string, bool) {
	compact := strings.ReplaceAll(alias, "-", "")
	switch compact {
	case "cartpole", "cartpolecontinuous":
		return "cart-pole", true
	case "cartpolediscrete":
		return "cart-pole-discrete", true
	case "cartpolelite":
		return "cart-pole-lite", true
	case "pole2balancing", "doublepole", "pb":
		return "pole2-balancing", true
	default:
		return "", false
	}
}
