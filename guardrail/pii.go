package guardrail

import (
	"regexp"

	"github.com/storyloom-ai/storyloom/provider"
)

// RegexPIIDetector is the built-in deterministic PII detector. It matches
// emails, phone numbers, SSNs, and credit card numbers with plain regexes;
// no network calls.
type RegexPIIDetector struct {
	patterns map[string]*regexp.Regexp
}

// NewRegexPIIDetector builds the detector with the standard pattern set.
func NewRegexPIIDetector() *RegexPIIDetector {
	return &RegexPIIDetector{
		patterns: map[string]*regexp.Regexp{
			"email":       regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9.\-]+\.[A-Za-z]{2,}`),
			"phone":       regexp.MustCompile(`\b(?:\+?1[\s.\-]?)?\(?[0-9]{3}\)?[\s.\-][0-9]{3}[\s.\-][0-9]{4}\b`),
			"ssn":         regexp.MustCompile(`\b[0-9]{3}-[0-9]{2}-[0-9]{4}\b`),
			"credit_card": regexp.MustCompile(`\b(?:[0-9][ \-]?){13,16}\b`),
		},
	}
}

// Detect returns one hit per PII kind found, with the occurrence count.
func (d *RegexPIIDetector) Detect(text string) []provider.PIIHit {
	var hits []provider.PIIHit
	for _, kind := range []string{"email", "phone", "ssn", "credit_card"} {
		matches := d.patterns[kind].FindAllString(text, -1)
		if len(matches) > 0 {
			hits = append(hits, provider.PIIHit{Kind: kind, Count: len(matches)})
		}
	}
	return hits
}
