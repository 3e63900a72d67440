package sanitize

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// spanOf builds a span for the first occurrence of sub in text.
func spanOf(t *testing.T, text, sub string, label Label, src Source) Span {
	t.Helper()
	i := strings.Index(text, sub)
	require.GreaterOrEqual(t, i, 0, "%q not in %q", sub, text)
	return Span{Text: sub, Label: label, Start: i, End: i + len(sub), Source: src, Score: 0.9}
}

func TestSpanClassifierClassify(t *testing.T) {
	c := NewSpanClassifier()

	t.Run("longer overlapping span wins", func(t *testing.T) {
		text := "Dr. John Smith Jr. called"
		long := spanOf(t, text, "John Smith Jr", LabelPerson, SourceSemantic)
		short := spanOf(t, text, "John Smith", LabelPerson, SourceSemantic)

		got := c.Classify(nil, []Span{short, long})
		require.Len(t, got, 1)
		assert.Equal(t, "John Smith Jr", got[0].Text)
	})

	t.Run("pattern span wins a length tie", func(t *testing.T) {
		text := "mail a.b@c.io now"
		pat := spanOf(t, text, "a.b@c.io", LabelEmail, SourcePattern)
		sem := spanOf(t, text, "a.b@c.io", LabelPerson, SourceSemantic)

		got := c.Classify([]Span{pat}, []Span{sem})
		require.Len(t, got, 1)
		assert.Equal(t, LabelEmail, got[0].Label)
		assert.Equal(t, SourcePattern, got[0].Source)
	})

	t.Run("joins spans overlapping at most half", func(t *testing.T) {
		a := Span{Text: "0123456789", Label: LabelPerson, Start: 0, End: 10}
		b := Span{Text: "89abcd", Label: LabelLocation, Start: 8, End: 14}
		d := Span{Text: "456789", Label: LabelLocation, Start: 4, End: 10}

		got := c.Classify(nil, []Span{a, b, d})
		require.Len(t, got, 1)
		assert.Equal(t, "0123456789abcd", got[0].Text)
		assert.Equal(t, 0, got[0].Start)
		assert.Equal(t, 14, got[0].End)
		assert.Equal(t, LabelPerson, got[0].Label, "the longer span names the union")
	})

	t.Run("partially overlapping entities become one", func(t *testing.T) {
		text := "I studied at New York University last year."
		city := spanOf(t, text, "New York", LabelLocation, SourceSemantic)
		school := spanOf(t, text, "York University", LabelOrganization, SourceSemantic)

		got := c.Classify(nil, []Span{city, school})
		require.Len(t, got, 1)
		assert.Equal(t, "New York University", got[0].Text)
		assert.Equal(t, "New York University", text[got[0].Start:got[0].End])
		assert.Equal(t, LabelOrganization, got[0].Label)
		assert.Equal(t, TierReplace, got[0].Tier)
	})

	t.Run("trims trailing punctuation and whitespace", func(t *testing.T) {
		text := "Ask Smith. "
		sp := Span{Text: "Smith. ", Label: LabelPerson, Start: 4, End: 11}

		got := c.Classify(nil, []Span{sp})
		require.Len(t, got, 1)
		assert.Equal(t, "Smith", got[0].Text)
		assert.Equal(t, "Smith", text[got[0].Start:got[0].End])
	})

	t.Run("drops false positives", func(t *testing.T) {
		text := "enter your SSN here"
		sp := spanOf(t, text, "SSN", LabelGovernmentID, SourceSemantic)
		assert.Empty(t, c.Classify(nil, []Span{sp}))
	})

	t.Run("drops spans whose text does not cover the offsets", func(t *testing.T) {
		sp := Span{Text: "Smith", Label: LabelPerson, Start: 0, End: 9}
		assert.Empty(t, c.Classify(nil, []Span{sp}))
	})

	t.Run("assigns tiers and normalises labels", func(t *testing.T) {
		text := "Metformin on 3/4/2025 by a@b.co for widget"
		spans := []Span{
			spanOf(t, text, "Metformin", "Drug Name", SourceSemantic),
			spanOf(t, text, "3/4/2025", "date", SourceSemantic),
			spanOf(t, text, "a@b.co", "email_address", SourceSemantic),
			spanOf(t, text, "widget", "gadget", SourceSemantic),
		}

		got := c.Classify(nil, spans)
		require.Len(t, got, 4)
		assert.Equal(t, TierPreserve, got[0].Tier)
		assert.Equal(t, TierPerturb, got[1].Tier)
		assert.Equal(t, LabelEmail, got[2].Label)
		assert.Equal(t, TierReplace, got[2].Tier)
		assert.Equal(t, TierReplace, got[3].Tier, "unknown labels are replaced")
	})

	t.Run("result is ordered by start", func(t *testing.T) {
		text := "Alice met Bob in Rome"
		spans := []Span{
			spanOf(t, text, "Alice", LabelPerson, SourceSemantic),
			spanOf(t, text, "Rome", LabelLocation, SourceSemantic),
			spanOf(t, text, "Bob", LabelPerson, SourceSemantic),
		}
		got := c.Classify(nil, spans)
		require.Len(t, got, 3)
		assert.Equal(t, []string{"Alice", "Bob", "Rome"}, []string{got[0].Text, got[1].Text, got[2].Text})
	})
}

func TestTierFor(t *testing.T) {
	assert.Equal(t, TierReplace, TierFor(LabelPerson))
	assert.Equal(t, TierPerturb, TierFor(LabelMoneyAmount))
	assert.Equal(t, TierPreserve, TierFor(LabelJobTitle))
	assert.Equal(t, TierReplace, TierFor("spaceship"))
}

func TestNormalizeLabel(t *testing.T) {
	assert.Equal(t, LabelEmail, NormalizeLabel("Email Address"))
	assert.Equal(t, LabelPhone, NormalizeLabel("phone_in"))
	assert.Equal(t, LabelGovernmentID, NormalizeLabel("SSN"))
	assert.Equal(t, LabelCreditCard, NormalizeLabel("credit_card"))
	assert.Equal(t, LabelIPAddress, NormalizeLabel("ip_address"))
	assert.Equal(t, LabelMoneyAmount, NormalizeLabel("money amount"))
	assert.Equal(t, Label("spaceship"), NormalizeLabel(" Spaceship "))
}

func TestValidSpans(t *testing.T) {
	text := "héllo Ana, bye"

	t.Run("fills empty text from offsets", func(t *testing.T) {
		i := strings.Index(text, "Ana")
		got := ValidSpans(text, []Span{{Label: LabelPerson, Start: i, End: i + 3, Source: SourceSemantic}})
		require.Len(t, got, 1)
		assert.Equal(t, "Ana", got[0].Text)
	})

	t.Run("rejects bad geometry", func(t *testing.T) {
		got := ValidSpans(text, []Span{
			{Text: "x", Start: -1, End: 0},
			{Text: "bye", Start: 20, End: 23},
			{Start: 5, End: 5},
			{Text: "\xa9", Start: 2, End: 3},
			{Text: "Bob", Start: 7, End: 10},
		})
		assert.Empty(t, got)
	})

	t.Run("rejects partial-word semantic matches", func(t *testing.T) {
		i := strings.Index(text, "An")
		got := ValidSpans(text, []Span{{Text: "An", Label: LabelPerson, Start: i, End: i + 2, Source: SourceSemantic}})
		assert.Empty(t, got)
	})
}

func TestRuneSpanToBytes(t *testing.T) {
	text := "héllo wörld"

	bs, be, ok := RuneSpanToBytes(text, 6, 11)
	require.True(t, ok)
	assert.Equal(t, "wörld", text[bs:be])

	bs, be, ok = RuneSpanToBytes(text, 0, 5)
	require.True(t, ok)
	assert.Equal(t, "héllo", text[bs:be])

	_, _, ok = RuneSpanToBytes(text, 3, 40)
	assert.False(t, ok)
	_, _, ok = RuneSpanToBytes(text, 4, 4)
	assert.False(t, ok)
}
