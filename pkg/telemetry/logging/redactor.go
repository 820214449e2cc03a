package logging

import (
	"regexp"
	"strings"

	"github.com/jeffersonwarrior/aimux-sub000/pkg/config"
)

// Redactor masks credentials in log messages and field values before they
// reach any sink.
type Redactor struct {
	patterns []*redactPattern
}

type redactPattern struct {
	name        string
	regex       *regexp.Regexp
	replacement string
}

// Built-in pattern names.
const (
	PatternAPIKey      = "api_key"
	PatternBearerToken = "bearer_token"
	PatternKeyHeader   = "key_header"
	PatternPassword    = "password"
)

// NewRedactor creates a Redactor with the built-in credential patterns plus
// any custom patterns. Invalid custom patterns are skipped; config validation
// rejects them before this point.
func NewRedactor(custom []config.RedactPattern) *Redactor {
	r := &Redactor{}

	r.add(PatternAPIKey, `sk-[a-zA-Z0-9_-]{4,}`, "sk-***")
	r.add(PatternBearerToken, `Bearer\s+[a-zA-Z0-9\-._~+/]+=*`, "Bearer ***")
	r.add(PatternKeyHeader, `(?i)(x-api-key|api[-_]?key)(["']?\s*[:=]\s*["']?)[^\s"',}]+`, "$1$2***")
	r.add(PatternPassword, `(?i)(password|passwd|pwd)[:=]\s*[^\s]+`, "$1: ***")

	for _, p := range custom {
		r.add(p.Name, p.Pattern, p.Replacement)
	}

	return r
}

func (r *Redactor) add(name, pattern, replacement string) {
	regex, err := regexp.Compile(pattern)
	if err != nil {
		return
	}
	r.patterns = append(r.patterns, &redactPattern{
		name:        name,
		regex:       regex,
		replacement: replacement,
	})
}

// RedactString masks every credential found in value.
func (r *Redactor) RedactString(value string) string {
	if r == nil || value == "" {
		return value
	}

	for _, p := range r.patterns {
		value = p.regex.ReplaceAllString(value, p.replacement)
	}
	return value
}

// IsSensitiveKey reports whether a field key names a secret whose value
// should be hidden entirely.
func IsSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, s := range []string{"password", "secret", "token", "api_key", "apikey", "authorization", "credential"} {
		if strings.Contains(lower, s) {
			return true
		}
	}
	return false
}

// RedactAPIKey redacts an API key, keeping only a short prefix for identification.
func RedactAPIKey(apiKey string) string {
	if len(apiKey) <= 8 {
		return "***"
	}
	return apiKey[:4] + "***"
}
