package dm

import (
	"strings"
	"unicode/utf8"
)

// DefaultMaxLength is the message limit used when none is configured.
const DefaultMaxLength = 8192

// ValidateMessage trims text and checks it can be sent. It never touches
// the network; callers run it before any store call.
func ValidateMessage(text string, maxLen int) (string, error) {
	if !utf8.ValidString(text) {
		return "", ErrInvalidText
	}
	content := strings.TrimSpace(text)
	if content == "" {
		return "", ErrEmptyMessage
	}
	if maxLen <= 0 {
		maxLen = DefaultMaxLength
	}
	if utf8.RuneCountInString(content) > maxLen {
		return "", ErrMessageTooLong
	}
	return content, nil
}

// SanitizeForDisplay drops control characters other than newline and tab.
func SanitizeForDisplay(input string) string {
	var b strings.Builder
	for _, r := range input {
		if r == '\n' || r == '\t' || (r >= 32 && r != 127) {
			b.WriteRune(r)
		}
	}
	return b.String()
}
