// Package origin normalises web origins ("scheme://host[:port]") so they can
// be compared as plain strings.
package origin

import "strings"

// Normalize trims whitespace and trailing slashes and lowercases the origin.
// The wildcard "*" is returned unchanged.
func Normalize(o string) string {
	o = strings.TrimSpace(o)
	o = strings.TrimRight(o, "/")
	return strings.ToLower(o)
}

// NormalizeAll normalises every origin and removes empty entries and
// duplicates. Order is preserved.
func NormalizeAll(origins []string) []string {
	if len(origins) == 0 {
		return origins
	}

	seen := make(map[string]struct{}, len(origins))
	result := make([]string, 0, len(origins))
	for _, o := range origins {
		n := Normalize(o)
		if n == "" {
			continue
		}
		if _, ok := seen[n]; !ok {
			seen[n] = struct{}{}
			result = append(result, n)
		}
	}
	return result
}
