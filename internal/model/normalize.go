package model

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// MaxNameLength bounds model names in runes.
const MaxNameLength = 128

var whitespaceRegex = regexp.MustCompile(`\s+`)

// Normalize trims, lowercases and collapses internal whitespace so that
// "Census  Adult" and "census adult" address the same model.
func Normalize(s string) string {
	s = strings.TrimSpace(s)
	s = strings.ToLower(s)
	return whitespaceRegex.ReplaceAllString(s, " ")
}

// ValidName reports whether a raw name is usable after normalization.
func ValidName(s string) bool {
	n := Normalize(s)
	return n != "" && utf8.RuneCountInString(n) <= MaxNameLength
}
