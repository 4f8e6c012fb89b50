package chat

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

// Default policy limits.
const (
	DefaultMaxUsernameLength = 20
	DefaultMaxMessageLength  = 2000
	DefaultRecentLimit       = 50
)

// NormalizeUsername trims the name and checks it against the username policy.
// maxLen <= 0 selects DefaultMaxUsernameLength.
func NormalizeUsername(raw string, maxLen int) (string, error) {
	if maxLen <= 0 {
		maxLen = DefaultMaxUsernameLength
	}

	name := strings.TrimSpace(raw)
	if name == "" {
		return "", ErrUsernameEmpty
	}
	if !utf8.ValidString(name) {
		return "", ErrUsernameInvalid
	}
	if utf8.RuneCountInString(name) > maxLen {
		return "", ErrUsernameTooLong
	}
	for _, r := range name {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			continue
		}
		switch r {
		case ' ', '_', '-', '.':
			continue
		}
		return "", ErrUsernameInvalid
	}
	return name, nil
}

// NormalizeContent trims message content and checks its length.
// maxLen <= 0 selects DefaultMaxMessageLength.
func NormalizeContent(raw string, maxLen int) (string, error) {
	if maxLen <= 0 {
		maxLen = DefaultMaxMessageLength
	}

	content := strings.TrimSpace(raw)
	if content == "" {
		return "", ErrMessageEmpty
	}
	if !utf8.ValidString(content) {
		return "", ErrMessageInvalid
	}
	if utf8.RuneCountInString(content) > maxLen {
		return "", ErrMessageTooLong
	}
	return content, nil
}
