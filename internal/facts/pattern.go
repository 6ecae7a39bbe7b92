package facts

import "strings"

// Fact keys are segmented by ':' or '.', e.g. "customer:42:tier".
// Patterns use the same segmentation with "*" matching exactly one
// segment and "**" matching one or more.

// splitKey splits a key or pattern into segments on ':' and '.'.
func splitKey(key string) []string {
	return strings.FieldsFunc(key, func(r rune) bool {
		return r == ':' || r == '.'
	})
}

// MatchPattern reports whether key matches pattern.
func MatchPattern(pattern, key string) bool {
	return matchSegments(splitKey(pattern), splitKey(key))
}

// IsPattern reports whether the string contains wildcard segments.
func IsPattern(pattern string) bool {
	for _, seg := range splitKey(pattern) {
		if seg == "*" || seg == "**" {
			return true
		}
	}
	return false
}

func matchSegments(pattern, key []string) bool {
	if len(pattern) == 0 {
		return len(key) == 0
	}
	head := pattern[0]
	if head == "**" {
		// ** matches one or more segments.
		for skip := 1; skip <= len(key); skip++ {
			if matchSegments(pattern[1:], key[skip:]) {
				return true
			}
		}
		return false
	}
	if len(key) == 0 {
		return false
	}
	if head != "*" && head != key[0] {
		return false
	}
	return matchSegments(pattern[1:], key[1:])
}
