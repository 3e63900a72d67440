package sanitize

import (
	"sort"
	"strings"
	"unicode"
)

// tierTable assigns a treatment to every known label. Labels missing from
// the table are replaced.
var tierTable = map[Label]Tier{
	LabelPerson:       TierReplace,
	LabelOrganization: TierReplace,
	LabelLocation:     TierReplace,
	LabelEmail:        TierReplace,
	LabelPhone:        TierReplace,
	LabelGovernmentID: TierReplace,
	LabelCreditCard:   TierReplace,
	LabelURL:          TierReplace,
	LabelIPAddress:    TierReplace,
	LabelProjectName:  TierReplace,
	LabelProductName:  TierReplace,

	LabelDate:        TierPerturb,
	LabelMoneyAmount: TierPerturb,
	LabelAge:         TierPerturb,
	LabelPercentage:  TierPerturb,

	LabelMedicalCondition:    TierPreserve,
	LabelDrugName:            TierPreserve,
	LabelSymptom:             TierPreserve,
	LabelMedicalProcedure:    TierPreserve,
	LabelLegalConcept:        TierPreserve,
	LabelFinancialInstrument: TierPreserve,
	LabelRegulatoryTerm:      TierPreserve,
	LabelJobTitle:            TierPreserve,
}

// falsePositives are lowercased texts that detectors misfile under a label.
var falsePositives = map[Label]map[string]struct{}{
	LabelGovernmentID: {
		"ssn": {}, "dob": {}, "ein": {}, "tin": {}, "id": {}, "itin": {}, "vin": {},
	},
}

// TierFor returns the tier for label, defaulting to TierReplace.
func TierFor(label Label) Tier {
	if t, ok := tierTable[label]; ok {
		return t
	}
	return TierReplace
}

// SpanClassifier merges pattern and semantic spans, resolves overlaps and
// assigns tiers.
type SpanClassifier struct{}

// NewSpanClassifier returns a SpanClassifier.
func NewSpanClassifier() *SpanClassifier {
	return &SpanClassifier{}
}

// Classify merges both span lists (pattern spans first), trims trailing
// punctuation, drops known false positives and keeps the longest spans,
// discarding any candidate whose bytes are already more than half claimed.
// Kept spans that still partially overlap are joined into one span over
// their union, labelled and tiered like the longer of the two. The result
// is ordered by Start and never overlaps.
func (c *SpanClassifier) Classify(patternSpans, semanticSpans []Span) []ClassifiedSpan {
	all := make([]Span, 0, len(patternSpans)+len(semanticSpans))
	for _, sp := range patternSpans {
		if sp, ok := trimSpan(sp); ok {
			all = append(all, sp)
		}
	}
	for _, sp := range semanticSpans {
		if sp, ok := trimSpan(sp); ok {
			all = append(all, sp)
		}
	}

	filtered := all[:0]
	for _, sp := range all {
		if fp, ok := falsePositives[sp.Label]; ok {
			if _, bad := fp[strings.ToLower(sp.Text)]; bad {
				continue
			}
		}
		filtered = append(filtered, sp)
	}

	sort.SliceStable(filtered, func(i, j int) bool {
		return filtered[i].Len() > filtered[j].Len()
	})

	var claimed []bool
	kept := make([]rankedSpan, 0, len(filtered))
	for rank, sp := range filtered {
		if sp.End > len(claimed) {
			claimed = append(claimed, make([]bool, sp.End-len(claimed))...)
		}
		overlap := 0
		for i := sp.Start; i < sp.End; i++ {
			if claimed[i] {
				overlap++
			}
		}
		if overlap*2 > sp.Len() {
			continue
		}
		for i := sp.Start; i < sp.End; i++ {
			claimed[i] = true
		}
		kept = append(kept, rankedSpan{ClassifiedSpan{Span: sp, Tier: TierFor(sp.Label)}, rank})
	}

	sort.SliceStable(kept, func(i, j int) bool { return kept[i].Start < kept[j].Start })
	merged := make([]rankedSpan, 0, len(kept))
	for _, sp := range kept {
		if n := len(merged); n > 0 && sp.Start < merged[n-1].End {
			merged[n-1] = unionSpan(merged[n-1], sp)
			continue
		}
		merged = append(merged, sp)
	}

	out := make([]ClassifiedSpan, len(merged))
	for i, sp := range merged {
		out[i] = sp.ClassifiedSpan
	}
	return out
}

// rankedSpan remembers the order a span was kept in; a lower rank won the
// length contest.
type rankedSpan struct {
	ClassifiedSpan
	rank int
}

// unionSpan joins b into a, where a.Start <= b.Start < a.End. Both texts are
// slices of the same source, so the union text is a plus b's tail.
func unionSpan(a, b rankedSpan) rankedSpan {
	winner := a
	if b.rank < a.rank {
		winner = b
	}
	out := winner
	out.Start = a.Start
	out.Text = a.Text
	out.End = a.End
	if b.End > a.End {
		out.Text += b.Text[a.End-b.Start:]
		out.End = b.End
	}
	out.Score = max(a.Score, b.Score)
	return out
}

func isTrimmable(r rune) bool {
	return unicode.IsSpace(r) || strings.ContainsRune(".,;:!?", r)
}

// trimSpan strips surrounding whitespace and trailing punctuation from the
// span text and moves the offsets to match. Spans whose Text does not cover
// their offsets, or that trim to nothing, are rejected.
func trimSpan(sp Span) (Span, bool) {
	if sp.Start < 0 || sp.Len() <= 0 || len(sp.Text) != sp.Len() {
		return sp, false
	}
	sp.Label = NormalizeLabel(string(sp.Label))
	trimmed := strings.TrimRightFunc(sp.Text, isTrimmable)
	sp.End -= len(sp.Text) - len(trimmed)
	lead := strings.TrimLeftFunc(trimmed, unicode.IsSpace)
	sp.Start += len(trimmed) - len(lead)
	sp.Text = lead
	if sp.Text == "" {
		return sp, false
	}
	return sp, true
}
