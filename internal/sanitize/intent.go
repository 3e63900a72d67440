package sanitize

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// topicPatterns recognise prompts where places, companies or products may be
// the subject of the task rather than facts about the user.
var topicPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(?:trip|travel|fly|visit|tour|explore|itinerary|vacation|holiday)\b`),
	regexp.MustCompile(`(?i)\b(?:flights?|hotels?|restaurants?|things to do|sightsee|backpack)\b`),
	regexp.MustCompile(`(?i)\b(?:plan|book|reserve)\b.*\b(?:trip|travel|tour|vacation|flight)\b`),
	regexp.MustCompile(`(?i)\b(?:integrate|install|setup|configure|deploy|migrate|switch)\b.*\b(?:to|from|with)\b`),
	regexp.MustCompile(`(?i)\b(?:use|try|compare|review|rate|benchmark)\b`),
	regexp.MustCompile(`(?i)\b(?:what is|explain|tell me about|how does|difference between)\b`),
	regexp.MustCompile(`(?i)\b(?:weather|temperature|population|timezone|cost of living)\b.*\b(?:in|of|at)\b`),
	regexp.MustCompile(`(?i)\b(?:rent|buy|property|apartment|house|flat)\b.*\b(?:in|at|near)\b`),
}

// identityAnchors mark an entity that follows them as part of who the user is.
var identityAnchors = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\b(?:i live|i stay|my home|my address|based in|located in|residing in)\b`),
	regexp.MustCompile(`(?i)\b(?:i work|my company|my employer|my office|our office|we are at)\b`),
	regexp.MustCompile(`(?i)\b(?:born in|grew up in|from|native of)\b`),
	regexp.MustCompile(`(?i)\b(?:flying out of|departing from|leaving from)\b`),
}

// anchorWindow is how many characters before an entity are searched for an
// identity anchor.
const anchorWindow = 40

var overridableLabels = map[Label]bool{
	LabelLocation:     true,
	LabelOrganization: true,
	LabelProductName:  true,
}

// ApplyIntentOverrides re-tiers REPLACE spans labelled location,
// organization or product name to PRESERVE when fullText reads as a task
// about them ("plan a trip to Paris") and the entity is not anchored to the
// user ("I live in Paris"). The input slice is not modified.
func ApplyIntentOverrides(spans []ClassifiedSpan, fullText string) []ClassifiedSpan {
	out := make([]ClassifiedSpan, len(spans))
	copy(out, spans)
	if !isTopicPrompt(fullText) {
		return out
	}
	lower := strings.ToLower(fullText)
	for i := range out {
		sp := &out[i]
		if sp.Tier != TierReplace || !overridableLabels[sp.Label] {
			continue
		}
		if anchoredToIdentity(lower, strings.ToLower(sp.Text)) {
			continue
		}
		sp.Tier = TierPreserve
		sp.IntentOverride = true
	}
	return out
}

// ApplyIntentVerdict re-tiers the same labels as ApplyIntentOverrides using
// a verdict from an IntentClassifier: entities listed as task and not as
// identity are preserved.
func ApplyIntentVerdict(spans []ClassifiedSpan, v *IntentVerdict) []ClassifiedSpan {
	out := make([]ClassifiedSpan, len(spans))
	copy(out, spans)
	if v == nil {
		return out
	}
	task := lowerSet(v.Task)
	identity := lowerSet(v.Identity)
	for i := range out {
		sp := &out[i]
		if sp.Tier != TierReplace || !overridableLabels[sp.Label] {
			continue
		}
		key := strings.ToLower(sp.Text)
		if task[key] && !identity[key] {
			sp.Tier = TierPreserve
			sp.IntentOverride = true
		}
	}
	return out
}

func isTopicPrompt(text string) bool {
	for _, p := range topicPatterns {
		if p.MatchString(text) {
			return true
		}
	}
	return false
}

// anchoredToIdentity looks for an identity anchor in the anchorWindow
// characters before the first occurrence of entity. An entity that does not
// occur is treated as anchored so it stays replaced.
func anchoredToIdentity(lowerText, lowerEntity string) bool {
	pos := strings.Index(lowerText, lowerEntity)
	if pos < 0 {
		return true
	}
	start := pos
	for n := 0; n < anchorWindow && start > 0; n++ {
		_, size := utf8.DecodeLastRuneInString(lowerText[:start])
		start -= size
	}
	before := lowerText[start:pos]
	for _, a := range identityAnchors {
		if a.MatchString(before) {
			return true
		}
	}
	return false
}

func lowerSet(items []string) map[string]bool {
	m := make(map[string]bool, len(items))
	for _, s := range items {
		m[strings.ToLower(strings.TrimSpace(s))] = true
	}
	return m
}
