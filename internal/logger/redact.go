package logger

import (
	"regexp"
	"strings"
)

const redacted = "[REDACTED]"

// Redactor scrubs credentials from log messages and fields
type Redactor struct {
	keys     []string
	patterns []*regexp.Regexp
}

// DefaultRedactor redacts passwords, tokens, cookies and anything shaped like a JWT
func DefaultRedactor() *Redactor {
	return &Redactor{
		keys: []string{"password", "token", "secret", "authorization", "cookie", "api_key", "session", "jwt"},
		patterns: []*regexp.Regexp{
			regexp.MustCompile(`eyJ[A-Za-z0-9_-]+\.eyJ[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+`),
			regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9._~+/=-]+`),
		},
	}
}

func (r *Redactor) sensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, k := range r.keys {
		if strings.Contains(lower, k) {
			return true
		}
	}
	return false
}

// Redact replaces token-shaped substrings in s
func (r *Redactor) Redact(s string) string {
	for _, p := range r.patterns {
		s = p.ReplaceAllString(s, redacted)
	}
	return s
}

// RedactFields returns a copy of fields with sensitive values replaced
func (r *Redactor) RedactFields(fields map[string]any) map[string]any {
	if len(fields) == 0 {
		return nil
	}
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		switch {
		case r.sensitiveKey(k):
			out[k] = redacted
		default:
			if s, ok := v.(string); ok {
				v = r.Redact(s)
			}
			out[k] = v
		}
	}
	return out
}
