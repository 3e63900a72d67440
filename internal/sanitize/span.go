package sanitize

import (
	"context"
	"errors"
	"strings"
	"unicode"
	"unicode/utf8"
)

// ErrInvalidSpan is returned when a span's offsets do not describe a valid
// region of the text it is applied to.
var ErrInvalidSpan = errors.New("sanitize: invalid span")

// Label is the entity type attached to a span, e.g. "person" or "date".
type Label string

const (
	LabelPerson       Label = "person"
	LabelOrganization Label = "organization"
	LabelLocation     Label = "location"
	LabelEmail        Label = "email"
	LabelPhone        Label = "phone"
	LabelGovernmentID Label = "government id"
	LabelCreditCard   Label = "credit card"
	LabelURL          Label = "url"
	LabelIPAddress    Label = "ip address"
	LabelProjectName  Label = "project name"
	LabelProductName  Label = "product name"

	LabelDate        Label = "date"
	LabelMoneyAmount Label = "money amount"
	LabelAge         Label = "age"
	LabelPercentage  Label = "percentage"

	LabelMedicalCondition    Label = "medical condition"
	LabelDrugName            Label = "drug name"
	LabelSymptom             Label = "symptom"
	LabelMedicalProcedure    Label = "medical procedure"
	LabelLegalConcept        Label = "legal concept"
	LabelFinancialInstrument Label = "financial instrument"
	LabelRegulatoryTerm      Label = "regulatory term"
	LabelJobTitle            Label = "job title"
)

// SemanticLabels is the vocabulary requested from semantic detectors.
var SemanticLabels = []Label{
	LabelPerson, LabelOrganization, LabelLocation, LabelEmail, LabelPhone,
	LabelProjectName, LabelProductName, LabelGovernmentID,
	LabelDate, LabelMoneyAmount, LabelAge, LabelPercentage,
	LabelMedicalCondition, LabelDrugName, LabelSymptom, LabelMedicalProcedure,
	LabelLegalConcept, LabelFinancialInstrument, LabelRegulatoryTerm, LabelJobTitle,
}

// labelSynonyms folds the spellings used by detectors onto canonical labels.
var labelSynonyms = map[string]Label{
	"email address": LabelEmail,
	"phone number":  LabelPhone,
	"phone in":      LabelPhone,
	"ssn":           LabelGovernmentID,
	"aadhaar":       LabelGovernmentID,
	"pan card":      LabelGovernmentID,
	"passport":      LabelGovernmentID,
	"national id":   LabelGovernmentID,
	"card number":   LabelCreditCard,
	"money":         LabelMoneyAmount,
	"per":           LabelPerson,
	"org":           LabelOrganization,
	"loc":           LabelLocation,
	"gpe":           LabelLocation,
}

// NormalizeLabel lowercases a detector label and maps known synonyms
// ("email address", "phone_in", "ssn", ...) to the canonical Label.
func NormalizeLabel(raw string) Label {
	s := strings.ToLower(strings.TrimSpace(raw))
	s = strings.ReplaceAll(s, "_", " ")
	if l, ok := labelSynonyms[s]; ok {
		return l
	}
	return Label(s)
}

// Source records which detector produced a span.
type Source string

const (
	SourcePattern  Source = "pattern"
	SourceSemantic Source = "semantic"
)

// Tier is the treatment applied to an entity.
type Tier string

const (
	TierReplace  Tier = "REPLACE"
	TierPerturb  Tier = "PERTURB"
	TierPreserve Tier = "PRESERVE"
)

// Span is a detected entity. Start and End are UTF-8 byte offsets into the
// text the span was detected in; Text equals text[Start:End].
type Span struct {
	Text   string  `json:"text"`
	Label  Label   `json:"label"`
	Start  int     `json:"start"`
	End    int     `json:"end"`
	Source Source  `json:"source"`
	Score  float32 `json:"score,omitempty"`
}

// Len returns the span length in bytes.
func (s Span) Len() int { return s.End - s.Start }

// ClassifiedSpan is a Span that survived deduplication and carries a tier.
type ClassifiedSpan struct {
	Span
	Tier           Tier `json:"tier"`
	IntentOverride bool `json:"intent_override,omitempty"`
}

// Detector finds entity spans in text. Implementations must be safe for
// concurrent use.
type Detector interface {
	Detect(ctx context.Context, text string) ([]Span, error)
}

// IntentVerdict splits entity texts into task-relevant and identifying ones.
type IntentVerdict struct {
	Task     []string `json:"task"`
	Identity []string `json:"identity"`
}

// IntentClassifier decides which entities in a prompt belong to the task
// rather than to the user's identity.
type IntentClassifier interface {
	ClassifyIntent(ctx context.Context, prompt string, entities []string) (*IntentVerdict, error)
}

// RuneSpanToBytes converts a code-point span [start, end) into byte offsets
// in text. ok is false when the span falls outside text or is empty.
func RuneSpanToBytes(text string, start, end int) (bs, be int, ok bool) {
	if start < 0 || end <= start {
		return 0, 0, false
	}
	bs, be = -1, -1
	i := 0
	for off := range text {
		if i == start {
			bs = off
		}
		if i == end {
			be = off
			break
		}
		i++
	}
	if be == -1 && i == end {
		be = len(text)
	}
	if bs == -1 || be == -1 {
		return 0, 0, false
	}
	return bs, be, true
}

func isRuneBoundary(s string, i int) bool {
	if i == 0 || i == len(s) {
		return true
	}
	return utf8.RuneStart(s[i])
}

// checkSpan reports whether sp describes exactly text[sp.Start:sp.End].
func checkSpan(text string, sp Span) bool {
	if sp.Start < 0 || sp.End > len(text) || sp.Start >= sp.End {
		return false
	}
	if !isRuneBoundary(text, sp.Start) || !isRuneBoundary(text, sp.End) {
		return false
	}
	return text[sp.Start:sp.End] == sp.Text
}

// midWord reports whether the runes on both sides of offset i are word
// characters, i.e. i splits a word.
func midWord(text string, i int) bool {
	if i <= 0 || i >= len(text) {
		return false
	}
	before, _ := utf8.DecodeLastRuneInString(text[:i])
	after, _ := utf8.DecodeRuneInString(text[i:])
	return isWordRune(before) && isWordRune(after)
}

func isWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_'
}

// ValidSpans filters detector output against text. Spans with an empty Text
// take it from the offsets. Out-of-range offsets, offsets that split a rune,
// text mismatches and partial-word semantic matches are dropped.
func ValidSpans(text string, spans []Span) []Span {
	out := make([]Span, 0, len(spans))
	for _, sp := range spans {
		if sp.Text == "" && sp.Start >= 0 && sp.End <= len(text) && sp.Start < sp.End {
			sp.Text = text[sp.Start:sp.End]
		}
		if !checkSpan(text, sp) {
			continue
		}
		if sp.Source == SourceSemantic {
			if midWord(text, sp.Start) || midWord(text, sp.End) {
				continue
			}
		}
		out = append(out, sp)
	}
	return out
}
