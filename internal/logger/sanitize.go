package logger

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	// MaxPathLength bounds URL paths and cache keys in logs
	MaxPathLength = 500
	// MaxClientLength bounds client identifiers (IPs, key ids) in logs
	MaxClientLength = 128
	// MaxErrorMessageLength bounds error messages in logs
	MaxErrorMessageLength = 1000
	// MaxGeneralStringLength is the default bound for anything else
	MaxGeneralStringLength = 2000
)

// SanitizeString drops control characters and invalid UTF-8 from s and truncates it to maxLength bytes.
func SanitizeString(s string, maxLength int) string {
	if s == "" {
		return ""
	}
	if maxLength <= 0 {
		maxLength = MaxGeneralStringLength
	}
	if !utf8.ValidString(s) {
		s = strings.ToValidUTF8(s, "")
	}

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if unicode.IsPrint(r) || r == ' ' || r == '\t' {
			b.WriteRune(r)
		}
	}
	s = b.String()

	if len(s) > maxLength {
		// back off to a rune boundary
		cut := maxLength
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		s = s[:cut] + "..."
	}
	return s
}

// SanitizePath sanitizes a URL path or cache key for logging
func SanitizePath(path string) string {
	return SanitizeString(path, MaxPathLength)
}

// SanitizeClient sanitizes a client identifier for logging
func SanitizeClient(client string) string {
	return SanitizeString(client, MaxClientLength)
}

// SanitizeError sanitizes an error message for logging
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}
	return SanitizeString(err.Error(), MaxErrorMessageLength)
}
