package sanitize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func hasSpan(spans []Span, label Label, text string) bool {
	for _, sp := range spans {
		if sp.Label == label && sp.Text == text {
			return true
		}
	}
	return false
}

func TestPatternDetectorScan(t *testing.T) {
	d := NewPatternDetector()

	tests := []struct {
		name  string
		text  string
		label Label
		want  string
	}{
		{"email", "Contact John Smith at john.smith@email.com.", LabelEmail, "john.smith@email.com"},
		{"us phone", "call +1 555-123-4567 today", LabelPhone, "+1 555-123-4567"},
		{"indian phone", "my number is +91 98765 43210", LabelPhone, "+91 98765 43210"},
		{"ssn", "SSN 123-45-6789 on file", LabelGovernmentID, "123-45-6789"},
		{"aadhaar", "Aadhaar 1234 5678 9012 please", LabelGovernmentID, "1234 5678 9012"},
		{"pan", "PAN is ABCDE1234F", LabelGovernmentID, "ABCDE1234F"},
		{"card", "card 4111 1111 1111 1111 expires", LabelCreditCard, "4111 1111 1111 1111"},
		{"url", "see https://internal.example.org/wiki?id=7 for details", LabelURL, "https://internal.example.org/wiki?id=7"},
		{"ipv4", "server at 192.168.1.10 is down", LabelIPAddress, "192.168.1.10"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spans := d.Scan(tt.text)
			assert.True(t, hasSpan(spans, tt.label, tt.want), "spans: %+v", spans)
			for _, sp := range spans {
				require.Equal(t, sp.Text, tt.text[sp.Start:sp.End])
				assert.Equal(t, SourcePattern, sp.Source)
			}
		})
	}

	t.Run("no matches", func(t *testing.T) {
		assert.Empty(t, d.Scan("nothing to see here"))
	})

	t.Run("offsets are bytes in multibyte text", func(t *testing.T) {
		text := "Grüße an jurgen@beispiel.de"
		spans := d.Scan(text)
		require.True(t, hasSpan(spans, LabelEmail, "jurgen@beispiel.de"))
		for _, sp := range spans {
			assert.Equal(t, sp.Text, text[sp.Start:sp.End])
		}
	})
}
