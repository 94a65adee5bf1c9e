package logging

import "regexp"

// Patterns for credential-shaped values that must never reach a log line.
var redactPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(api[_-]?key|token|password|secret)["']?\s*[:=]\s*["']?[\w\-]+`),
	regexp.MustCompile(`(?i)bearer\s+[\w\-.]+`),
	regexp.MustCompile(`sk-[A-Za-z0-9\-]{16,}`),
}

const redactedPlaceholder = "[REDACTED]"

// Redact replaces credential-shaped substrings with a placeholder.
func Redact(s string) string {
	for _, p := range redactPatterns {
		s = p.ReplaceAllString(s, redactedPlaceholder)
	}
	return s
}

// Preview truncates s to max runes and redacts credential-shaped values.
// Used when logging prompt or completion excerpts.
func Preview(s string, max int) string {
	runes := []rune(s)
	if len(runes) > max {
		s = string(runes[:max]) + "... [truncated]"
	}
	return Redact(s)
}
