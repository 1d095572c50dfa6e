// Package strutil provides rune-safe string helpers shared by the relay packages.
package strutil

import "unicode/utf8"

// Ellipsis is appended to text that has been cut short.
const Ellipsis = "..."

// Truncate truncates a string to a maximum length.
// Uses rune-level truncation so multi-byte characters are never split.
// The ellipsis is appended after maxLen runes, so the result may be up to maxLen+3 runes long.
// Returns empty string if maxLen <= 0 to prevent slice bounds panic.
func Truncate(s string, maxLen int) string {
	if s == "" || maxLen <= 0 {
		return ""
	}
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + Ellipsis
}

// Cap shortens s so that the result, ellipsis included, is at most maxLen runes.
func Cap(s string, maxLen int) string {
	if s == "" || maxLen <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= maxLen {
		return s
	}
	runes := []rune(s)
	if maxLen <= len(Ellipsis) {
		return string(runes[:maxLen])
	}
	return string(runes[:maxLen-len(Ellipsis)]) + Ellipsis
}

// Len returns the number of runes in s.
func Len(s string) int {
	return utf8.RuneCountInString(s)
}
