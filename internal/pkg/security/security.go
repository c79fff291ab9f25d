// Package security sanitizes client-supplied values before they reach logs
// or response headers.
package security

import (
	"strings"
	"unicode"
)

// MaxLogLength is the default length SanitizeForLog truncates to.
const MaxLogLength = 200

// MaxRequestIDLength is the longest client request id that is echoed back.
const MaxRequestIDLength = 64

// SanitizeForLog escapes line breaks and tabs, drops other control
// characters and truncates s to MaxLogLength runes.
func SanitizeForLog(s string) string {
	return SanitizeForLogWithLength(s, MaxLogLength)
}

// SanitizeForLogWithLength is SanitizeForLog with a custom maximum length.
func SanitizeForLogWithLength(s string, maxLen int) string {
	if s == "" {
		return ""
	}

	var b strings.Builder
	b.Grow(min(len(s), maxLen+10))

	count := 0
	for _, r := range s {
		if count >= maxLen {
			b.WriteString("...")
			break
		}

		switch r {
		case '\n':
			b.WriteString(`\n`)
			count += 2
		case '\r':
			b.WriteString(`\r`)
			count += 2
		case '\t':
			b.WriteString(`\t`)
			count += 2
		default:
			if !unicode.IsControl(r) {
				b.WriteRune(r)
				count++
			}
		}
	}

	return b.String()
}

// ValidRequestID reports whether id is safe to echo in an X-Request-ID
// header: non-empty, at most MaxRequestIDLength bytes of letters, digits,
// '-', '_' or '.'.
func ValidRequestID(id string) bool {
	if id == "" || len(id) > MaxRequestIDLength {
		return false
	}
	for _, r := range id {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-', r == '_', r == '.':
		default:
			return false
		}
	}
	return true
}
