// Package logsanitize cleans untrusted values before they reach structured
// log output.
package logsanitize

import "strings"

// Sanitize replaces control characters in a log field value with '_' to
// reduce the risk of log injection (CWE-117). Horizontal tabs are kept.
//
// Replaced ranges:
//   - C0 controls 0x00-0x1F (except 0x09)
//   - DEL 0x7F and C1 controls 0x80-0x9F
func Sanitize(s string) string {
	return strings.Map(func(r rune) rune {
		if r < 0x20 && r != '\t' {
			return '_'
		}
		if r >= 0x7f && r <= 0x9f {
			return '_'
		}
		return r
	}, s)
}

// Truncate caps a log field value at max bytes, appending an ellipsis when
// it was cut. Upstream response bodies can be arbitrarily large; log fields
// should not be.
func Truncate(s string, max int) string {
	if max <= 0 || len(s) <= max {
		return s
	}
	return s[:max] + "..."
}

// Field sanitizes and truncates in one step, for values that are both
// untrusted and unbounded.
func Field(s string, max int) string {
	return Sanitize(Truncate(s, max))
}
