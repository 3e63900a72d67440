package sanitize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func classified(t *testing.T, text string, label Label, subs ...string) []ClassifiedSpan {
	t.Helper()
	out := make([]ClassifiedSpan, 0, len(subs))
	for _, s := range subs {
		sp := spanOf(t, text, s, label, SourceSemantic)
		out = append(out, ClassifiedSpan{Span: sp, Tier: TierFor(label)})
	}
	return out
}

func TestApplyIntentOverrides(t *testing.T) {
	t.Run("travel destinations are preserved", func(t *testing.T) {
		text := "Plan a trip to Paris and Amsterdam next spring"
		spans := classified(t, text, LabelLocation, "Paris", "Amsterdam")

		got := ApplyIntentOverrides(spans, text)
		require.Len(t, got, 2)
		for _, sp := range got {
			assert.Equal(t, TierPreserve, sp.Tier, sp.Text)
			assert.True(t, sp.IntentOverride)
		}
		assert.Equal(t, TierReplace, spans[0].Tier, "input must not be modified")
	})

	t.Run("identity anchored locations stay replaced", func(t *testing.T) {
		text := "I live in Mumbai and want to visit a good hotel"
		spans := classified(t, text, LabelLocation, "Mumbai")

		got := ApplyIntentOverrides(spans, text)
		assert.Equal(t, TierReplace, got[0].Tier)
		assert.False(t, got[0].IntentOverride)
	})

	t.Run("anchor outside the window does not count", func(t *testing.T) {
		text := "I live far away, but this summer I would love to visit Lisbon"
		spans := classified(t, text, LabelLocation, "Lisbon")

		got := ApplyIntentOverrides(spans, text)
		assert.Equal(t, TierPreserve, got[0].Tier)
	})

	t.Run("non-topic prompts are untouched", func(t *testing.T) {
		text := "My cousin works at Infosys"
		spans := classified(t, text, LabelOrganization, "Infosys")

		got := ApplyIntentOverrides(spans, text)
		assert.Equal(t, TierReplace, got[0].Tier)
	})

	t.Run("people are never overridden", func(t *testing.T) {
		text := "Compare the books of Neha Sharma"
		spans := classified(t, text, LabelPerson, "Neha Sharma")

		got := ApplyIntentOverrides(spans, text)
		assert.Equal(t, TierReplace, got[0].Tier)
	})

	t.Run("compared products are preserved", func(t *testing.T) {
		text := "Compare Google Cloud vs AWS pricing for our startup"
		spans := classified(t, text, LabelProductName, "Google Cloud", "AWS")

		got := ApplyIntentOverrides(spans, text)
		assert.Equal(t, TierPreserve, got[0].Tier)
		assert.Equal(t, TierPreserve, got[1].Tier)
	})
}

func TestApplyIntentVerdict(t *testing.T) {
	text := "Mumbai office, Pune visit"
	spans := classified(t, text, LabelLocation, "Mumbai", "Pune")

	got := ApplyIntentVerdict(spans, &IntentVerdict{
		Task:     []string{"pune", "Mumbai"},
		Identity: []string{"Mumbai"},
	})
	require.Len(t, got, 2)
	assert.Equal(t, TierReplace, got[0].Tier, "listed as identity too")
	assert.Equal(t, TierPreserve, got[1].Tier)
	assert.True(t, got[1].IntentOverride)

	assert.Equal(t, spans, ApplyIntentVerdict(spans, nil))
}
