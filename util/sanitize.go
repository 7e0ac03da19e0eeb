package util

import (
	"regexp"
	"strings"
	"unicode"
)

const (
	// MaxSanitizeLength is the maximum input length to prevent DoS attacks
	// Input longer than this will be truncated before sanitization
	MaxSanitizeLength = 64 * 1024

	// MaxLogValueLength bounds user-controlled values written to the log
	MaxLogValueLength = 256
)

var sanitizePatterns = []struct {
	pattern     *regexp.Regexp
	replacement string
}{
	// Credentials embedded in connection strings
	{regexp.MustCompile(`(://[^:/@\s]+:)[^@\s/]+@`), "${1}xxxxx@"},

	// Password patterns
	{regexp.MustCompile(`(?i)"password"\s*:\s*"[^"]+"`), `"password":"REDACTED"`},
	{regexp.MustCompile(`(?i)\b(password|passwd|pwd)[\s:=]+[^\s,;&]+`), "$1=REDACTED"},

	// Token and secret patterns
	{regexp.MustCompile(`(?i)bearer\s+[a-zA-Z0-9_\-\.]+`), "bearer REDACTED"},
	{regexp.MustCompile(`(?i)\b(token|authorization)[\s:=]+[^\s,;&]+`), "$1=REDACTED"},
	{regexp.MustCompile(`(?i)\b(secret|client[_-]?secret)[\s:=]+[^\s,;&]+`), "$1=REDACTED"},
}

// SanitizeError sanitizes an error message to remove sensitive information
// before logging.
func SanitizeError(err error) string {
	if err == nil {
		return ""
	}
	return SanitizeString(err.Error())
}

// SanitizeString redacts credentials, tokens and secrets from s
func SanitizeString(s string) string {
	if s == "" {
		return ""
	}

	if len(s) > MaxSanitizeLength {
		s = s[:MaxSanitizeLength] + "... [truncated]"
	}

	for _, p := range sanitizePatterns {
		s = p.pattern.ReplaceAllString(s, p.replacement)
	}
	return s
}

// SanitizeLogValue makes a user-controlled value safe to interpolate into a
// log line: control characters become '_' and the value is truncated.
func SanitizeLogValue(s string) string {
	runes := []rune(s)
	truncated := len(runes) > MaxLogValueLength
	if truncated {
		runes = runes[:MaxLogValueLength]
	}

	var b strings.Builder
	b.Grow(len(runes))
	for _, r := range runes {
		if unicode.IsControl(r) {
			b.WriteRune('_')
			continue
		}
		b.WriteRune(r)
	}
	if truncated {
		b.WriteString("...")
	}
	return b.String()
}
