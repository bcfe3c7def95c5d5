// Package domain id.go contains validation for caller-supplied attachment ids
package domain

import "unicode"

// MaxIDLength bounds attachment ids so medium keys stay small.
const MaxIDLength = 256

// ParseID validates s and returns it unchanged. It enforces:
// - non-empty
// - at most MaxIDLength bytes
// - no whitespace or control characters
// Returns ErrInvalidID on failure.
func ParseID(s string) (string, error) {
	if !isValidID(s) {
		return "", ErrInvalidID
	}
	return s, nil
}

// isValidID performs validation without allocating errors.
func isValidID(s string) bool {
	if s == "" || len(s) > MaxIDLength {
		return false
	}
	for _, r := range s {
		if unicode.IsControl(r) || unicode.IsSpace(r) || r == unicode.ReplacementChar {
			return false
		}
	}
	return true
}
