package policy

import (
	"regexp"
	"strings"
)

var (
	emailPattern  = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	phonePattern  = regexp.MustCompile(`\+?[0-9][0-9\-() ]{7,}[0-9]`)
	cardPattern   = regexp.MustCompile(`\b(?:\d[ -]*?){13,19}\b`)
	apiKeyPattern = regexp.MustCompile(`\bsk-[A-Za-z0-9_\-]{16,}\b`)
)

type rule struct {
	pattern *regexp.Regexp
	marker  string
}

// Cards run before phones so long digit runs are not classified as phone numbers.
var transcriptRules = []rule{
	{apiKeyPattern, "[REDACTED_KEY]"},
	{emailPattern, "[REDACTED_EMAIL]"},
	{cardPattern, "[REDACTED_CARD]"},
	{phonePattern, "[REDACTED_PHONE]"},
}

// RedactPII masks common high-risk PII patterns in transcripts before they
// are stored alongside a clip.
func RedactPII(input string) (redacted string, changed bool) {
	out := input
	for _, r := range transcriptRules {
		next := r.pattern.ReplaceAllString(out, r.marker)
		changed = changed || next != out
		out = next
	}
	return out, changed
}

// MaskKey renders a credential for logs, keeping only the last four runes.
func MaskKey(key string) string {
	key = strings.TrimSpace(key)
	if key == "" {
		return "<unset>"
	}
	r := []rune(key)
	if len(r) <= 8 {
		return strings.Repeat("*", len(r))
	}
	return strings.Repeat("*", 8) + string(r[len(r)-4:])
}
