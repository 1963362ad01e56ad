package errs

import "regexp"

// Secrets never leave the process in cleartext. These patterns cover the
// credential shapes the runtime handles: bearer headers, JSON key/token
// fields, form-encoded refresh tokens, and the well-known GitHub / OpenAI
// key prefixes.
var redactPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9._~+/=-]+`),
	regexp.MustCompile(`(?i)(token|authorization)\s+[A-Za-z0-9._~+/=-]{8,}`),
	regexp.MustCompile(`(?i)"(api[_-]?key|authorization|access_token|refresh_token|token)"\s*:\s*"[^"]*"`),
	regexp.MustCompile(`(?i)\b[a-z0-9_]*_token=[^\s&"]+`),
	regexp.MustCompile(`(?i)\bapikey\s*[=:]\s*[^\s&"]+`),
	regexp.MustCompile(`\bgh[pousr]_[A-Za-z0-9]{16,}\b`),
	regexp.MustCompile(`\bghu_[A-Za-z0-9]{8,}\b`),
	regexp.MustCompile(`\bsk-[A-Za-z0-9_-]{16,}\b`),
}

// Redact replaces credential-shaped substrings with [REDACTED]. Applied to
// every human-readable message before logging or JSON emission.
func Redact(s string) string {
	for _, re := range redactPatterns {
		s = re.ReplaceAllString(s, "[REDACTED]")
	}
	return s
}
