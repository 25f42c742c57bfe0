// Package strings provides string manipulation utilities.
package strings

import (
	"strings"
)

// DedupeAndTrim removes duplicates and empty values from a slice of string-like
// values, trimming whitespace from each element. First occurrence wins, so order
// is preserved.
//
// Example:
//
//	DedupeAndTrim([]domain.Identity{" GA ", "GB", "GA", ""})
//	// Returns: []domain.Identity{"GA", "GB"}
func DedupeAndTrim[T ~string](values []T) []T {
	if len(values) == 0 {
		return values
	}

	seen := make(map[T]struct{}, len(values))
	result := make([]T, 0, len(values))

	for _, v := range values {
		trimmed := T(strings.TrimSpace(string(v)))
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; !ok {
			seen[trimmed] = struct{}{}
			result = append(result, trimmed)
		}
	}

	return result
}
