package policy

import "regexp"

// Patterns run longest-match first so card and citizen-id digit runs are
// not swallowed by the looser phone pattern.
var redactions = []struct {
	pattern *regexp.Regexp
	marker  string
}{
	{regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`), "[REDACTED_EMAIL]"},
	{regexp.MustCompile(`\b(?:\d[ -]*?){13,19}\b`), "[REDACTED_CARD]"},
	{regexp.MustCompile(`\b\d{12}\b`), "[REDACTED_ID]"},
	{regexp.MustCompile(`(\+?84|0)[0-9\-() .]{7,}[0-9]`), "[REDACTED_PHONE]"},
}

// RedactPII masks customer contact and payment details before turn content
// leaves the durable tiers for the semantic index.
func RedactPII(input string) (redacted string, changed bool) {
	out := input
	for _, r := range redactions {
		next := r.pattern.ReplaceAllString(out, r.marker)
		changed = changed || next != out
		out = next
	}
	return out, changed
}
