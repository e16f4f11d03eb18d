// Package sanitize cleans message text before persistence.
package sanitize

import (
	"strings"
	"unicode/utf16"
	"unicode/utf8"
)

// Text removes isolated UTF-16 surrogate code points and other byte
// sequences that do not form valid UTF-8. Valid multi-code-point sequences
// (emoji with modifiers, ZWJ sequences) pass through unchanged. An empty
// string stays empty.
func Text(s string) string {
	if utf8.ValidString(s) && !containsSurrogate(s) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		if r == utf8.RuneError && size == 1 {
			// Invalid byte, commonly a WTF-8 encoded lone surrogate.
			i += size
			continue
		}
		if utf16.IsSurrogate(r) {
			i += size
			continue
		}
		b.WriteRune(r)
		i += size
	}
	return b.String()
}

// TextPtr applies Text through a nullable string, preserving nil.
func TextPtr(s *string) *string {
	if s == nil {
		return nil
	}
	clean := Text(*s)
	return &clean
}

func containsSurrogate(s string) bool {
	for _, r := range s {
		if utf16.IsSurrogate(r) {
			return true
		}
	}
	return false
}
