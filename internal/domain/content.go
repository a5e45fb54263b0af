package domain

import (
	"strings"
	"unicode/utf8"
)

// MaxContentChars is the default rune limit for trouble text and blessing captions.
const MaxContentChars = 300

// NormalizeContent trims leading and trailing whitespace.
// Internal whitespace and case are preserved; this is user prose, not a lookup key.
func NormalizeContent(s string) string {
	return strings.TrimSpace(s)
}

// CountChars returns the character count as runes (not bytes).
func CountChars(text string) int {
	return utf8.RuneCountInString(text)
}

// ContentCheck is the result of checking free text against a limit.
type ContentCheck struct {
	Content     string // normalized
	Empty       bool
	TooLong     bool
	ActualChars int
	MaxChars    int
}

// CheckContent normalizes s and reports whether it is empty or longer than maxChars.
// A non-positive maxChars falls back to MaxContentChars.
func CheckContent(s string, maxChars int) ContentCheck {
	if maxChars <= 0 {
		maxChars = MaxContentChars
	}
	content := NormalizeContent(s)
	n := CountChars(content)
	return ContentCheck{
		Content:     content,
		Empty:       n == 0,
		TooLong:     n > maxChars,
		ActualChars: n,
		MaxChars:    maxChars,
	}
}
