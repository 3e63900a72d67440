package sanitize

import (
	"context"
	"regexp"
)

type pattern struct {
	label Label
	re    *regexp.Regexp
}

// structuredPatterns are scanned in order; among equal-length overlapping
// matches the earlier pattern wins classification.
var structuredPatterns = []pattern{
	{LabelEmail, regexp.MustCompile(`[\w.+-]+@[\w-]+(?:\.[\w-]+)+`)},
	{LabelURL, regexp.MustCompile(`https?://[\w./\-?=&#%:+~]+`)},
	// Indian mobile: +91 followed by a 10-digit number starting 6-9.
	{LabelPhone, regexp.MustCompile(`\+91[\s-]?[6-9]\d{4}[\s-]?\d{5}\b`)},
	{LabelPhone, regexp.MustCompile(`(?:\+\d{1,3}[\s.-]?)?\(?\b\d{3}\)?[\s.-]?\d{3}[\s.-]?\d{4}\b`)},
	// US SSN, 3-2-4.
	{LabelGovernmentID, regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)},
	// Aadhaar, 4-4-4.
	{LabelGovernmentID, regexp.MustCompile(`\b\d{4}[ -]\d{4}[ -]\d{4}\b`)},
	// Indian PAN.
	{LabelGovernmentID, regexp.MustCompile(`\b[A-Z]{5}\d{4}[A-Z]\b`)},
	{LabelCreditCard, regexp.MustCompile(`\b\d{4}[\s-]?\d{4}[\s-]?\d{4}[\s-]?\d{4}\b`)},
	{LabelIPAddress, regexp.MustCompile(`\b(?:\d{1,3}\.){3}\d{1,3}\b`)},
}

// PatternDetector finds structured identifiers (emails, phone numbers,
// national IDs, card numbers, URLs, IPv4 addresses) with regular
// expressions. It does not resolve overlaps.
type PatternDetector struct {
	patterns []pattern
}

// NewPatternDetector returns a detector using the built-in pattern set.
func NewPatternDetector() *PatternDetector {
	return &PatternDetector{patterns: structuredPatterns}
}

// Scan returns one span per non-overlapping match of each pattern.
func (d *PatternDetector) Scan(text string) []Span {
	var spans []Span
	for _, p := range d.patterns {
		for _, loc := range p.re.FindAllStringIndex(text, -1) {
			spans = append(spans, Span{
				Text:   text[loc[0]:loc[1]],
				Label:  p.label,
				Start:  loc[0],
				End:    loc[1],
				Source: SourcePattern,
				Score:  1,
			})
		}
	}
	return spans
}

// Detect implements Detector.
func (d *PatternDetector) Detect(_ context.Context, text string) ([]Span, error) {
	return d.Scan(text), nil
}
