package logger

import (
	"regexp"
	"strings"
)

const redactedValue = "[REDACTED]"

// sensitiveDataPatterns match credentials embedded in free-form strings such
// as error messages or URLs.
var sensitiveDataPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)(bearer\s+)([A-Za-z0-9\-._~+/]+=*)`),
	regexp.MustCompile(`(?i)([?&](?:key|api_key|token|access_token)=)([^&\s]+)`),
	regexp.MustCompile(`(?i)((?:api[_-]?key|token|secret|passw(?:or)?d)[\s:=]+)([^;,\s]{5,})`),
	regexp.MustCompile(`([^\s:/@]+:)([^\s@]+)(@tcp\()`),
}

// SensitiveKeywords mark field keys whose values are never logged.
var SensitiveKeywords = []string{
	"password", "passwd", "secret", "credential", "token", "api_key",
	"apikey", "authorization", "cookie",
}

func isSensitiveKey(key string) bool {
	lower := strings.ToLower(key)
	for _, kw := range SensitiveKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// RedactSensitiveData replaces credentials found in input with [REDACTED].
func RedactSensitiveData(input string) string {
	if input == "" {
		return input
	}
	for i, pattern := range sensitiveDataPatterns {
		if !pattern.MatchString(input) {
			continue
		}
		if i == len(sensitiveDataPatterns)-1 {
			input = pattern.ReplaceAllString(input, "${1}"+redactedValue+"${3}")
			continue
		}
		input = pattern.ReplaceAllString(input, "${1}"+redactedValue)
	}
	return input
}
