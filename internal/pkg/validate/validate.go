package validate

import (
	"strings"
	"unicode/utf8"
)

func Required(value string) bool {
	return strings.TrimSpace(value) != ""
}

// MaxRunes reports whether value fits into limit characters.
func MaxRunes(value string, limit int) bool {
	return utf8.RuneCountInString(value) <= limit
}
