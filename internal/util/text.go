package util

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

var whitespace = regexp.MustCompile(`\s+`)

// NormalizeWhitespace trims and collapses whitespace to single spaces.
func NormalizeWhitespace(s string) string {
	return strings.TrimSpace(whitespace.ReplaceAllString(s, " "))
}

// ContainsAnyCaseInsensitive returns true if text contains any of the needles (case-insensitive).
func ContainsAnyCaseInsensitive(text string, needles []string) bool {
	lt := strings.ToLower(text)
	for _, n := range needles {
		if strings.Contains(lt, strings.ToLower(n)) {
			return true
		}
	}
	return false
}

// Truncate cuts s to at most n runes; when it cuts, the result ends with
// suffix and still fits in n runes.
func Truncate(s string, n int, suffix string) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	keep := n - utf8.RuneCountInString(suffix)
	if keep < 0 {
		keep = 0
		suffix = string([]rune(suffix)[:n])
	}
	return string([]rune(s)[:keep]) + suffix
}

// RuneLen is the length of s in runes.
func RuneLen(s string) int { return utf8.RuneCountInString(s) }
