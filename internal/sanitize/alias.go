package sanitize

import (
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/brianvoe/gofakeit/v7"
)

// maxAliasAttempts is how many times a colliding alias is regenerated before
// a numeric suffix is appended instead.
const maxAliasAttempts = 10

// AliasEngine holds one session's alias mapping. It is not safe for
// concurrent use; callers serialise access per session.
type AliasEngine struct {
	faker *gofakeit.Faker

	realToFake map[string]string // every tier except PRESERVE
	fakeToReal map[string]string // REPLACE only
	issued     map[string]string // alias -> real, every tier

	collisions int
}

// EngineOption configures an AliasEngine.
type EngineOption func(*AliasEngine)

// WithSeed makes alias generation reproducible. Seed 0 picks a random seed.
func WithSeed(seed uint64) EngineOption {
	return func(e *AliasEngine) { e.faker = gofakeit.New(seed) }
}

// WithFaker sets the random source used for generation.
func WithFaker(f *gofakeit.Faker) EngineOption {
	return func(e *AliasEngine) { e.faker = f }
}

// NewAliasEngine returns an engine with an empty mapping.
func NewAliasEngine(opts ...EngineOption) *AliasEngine {
	e := &AliasEngine{}
	for _, o := range opts {
		o(e)
	}
	if e.faker == nil {
		e.faker = gofakeit.New(0)
	}
	e.Reset()
	return e
}

// GetOrCreate returns the alias for real. A cached alias is always returned
// as is; PRESERVE returns real without caching. New aliases never equal an
// alias already issued for a different real value.
func (e *AliasEngine) GetOrCreate(real string, label Label, tier Tier) string {
	if alias, ok := e.realToFake[real]; ok {
		return alias
	}
	if tier == TierPreserve {
		return real
	}

	alias := e.generate(real, label, tier)
	for attempt := 1; e.collides(alias, real, tier); attempt++ {
		e.collisions++
		if attempt > maxAliasAttempts {
			alias = e.disambiguate(alias, real, tier)
			break
		}
		alias = e.generate(real, label, tier)
	}

	e.realToFake[real] = alias
	e.issued[alias] = real
	if tier != TierPerturb {
		e.fakeToReal[alias] = real
	}
	return alias
}

func (e *AliasEngine) generate(real string, label Label, tier Tier) string {
	if tier == TierPerturb {
		return perturb(e.faker, label, real)
	}
	return replacement(e.faker, label, real)
}

// collides reports whether alias cannot be issued for real. A replacement
// must also differ from real itself and from any other real value, or
// reversing it would be ambiguous.
func (e *AliasEngine) collides(alias, real string, tier Tier) bool {
	if owner, ok := e.issued[alias]; ok && owner != real {
		return true
	}
	if tier == TierReplace {
		if alias == real {
			return true
		}
		if _, isReal := e.realToFake[alias]; isReal {
			return true
		}
	}
	return false
}

func (e *AliasEngine) disambiguate(alias, real string, tier Tier) string {
	for n := maxAliasAttempts + 1; ; n++ {
		candidate := fmt.Sprintf("%s (%d)", alias, n)
		if !e.collides(candidate, real, tier) {
			return candidate
		}
	}
}

// Substitute replaces every REPLACE and PERTURB span in text with its alias.
// All spans are validated before the mapping is touched: each must lie
// inside text on rune boundaries, match text[Start:End], and not overlap
// another substituted span. Splicing runs right to left so earlier offsets
// stay valid.
func (e *AliasEngine) Substitute(text string, spans []ClassifiedSpan) (string, error) {
	todo := make([]ClassifiedSpan, 0, len(spans))
	for _, sp := range spans {
		if sp.Tier == TierPreserve {
			continue
		}
		if !checkSpan(text, sp.Span) {
			return "", fmt.Errorf("%w: %q [%d:%d) in text of length %d", ErrInvalidSpan, sp.Text, sp.Start, sp.End, len(text))
		}
		todo = append(todo, sp)
	}
	sort.SliceStable(todo, func(i, j int) bool { return todo[i].Start > todo[j].Start })
	for i := 1; i < len(todo); i++ {
		if todo[i].End > todo[i-1].Start {
			return "", fmt.Errorf("%w: %q [%d:%d) overlaps %q [%d:%d)", ErrInvalidSpan,
				todo[i].Text, todo[i].Start, todo[i].End, todo[i-1].Text, todo[i-1].Start, todo[i-1].End)
		}
	}

	for _, sp := range todo {
		alias := e.GetOrCreate(sp.Text, sp.Label, sp.Tier)
		text = text[:sp.Start] + alias + text[sp.End:]
	}
	return text, nil
}

// Reverse restores every replaced alias in text to its real value.
func (e *AliasEngine) Reverse(text string) string {
	return e.Reverser().Reverse(text)
}

// Mapping returns a copy of the real -> alias map.
func (e *AliasEngine) Mapping() map[string]string {
	out := make(map[string]string, len(e.realToFake))
	for k, v := range e.realToFake {
		out[k] = v
	}
	return out
}

// Reversible returns a copy of the alias -> real map used by Reverse.
func (e *AliasEngine) Reversible() map[string]string {
	out := make(map[string]string, len(e.fakeToReal))
	for k, v := range e.fakeToReal {
		out[k] = v
	}
	return out
}

// Collisions returns how many generated aliases had to be discarded since
// the last Reset.
func (e *AliasEngine) Collisions() int { return e.collisions }

// Len returns the number of cached aliases.
func (e *AliasEngine) Len() int { return len(e.realToFake) }

// Reset discards the whole mapping.
func (e *AliasEngine) Reset() {
	e.realToFake = make(map[string]string)
	e.fakeToReal = make(map[string]string)
	e.issued = make(map[string]string)
	e.collisions = 0
}

// Redaction is one reversible alias and the value it stands for.
type Redaction struct {
	Alias    string `json:"alias"`
	Original string `json:"original"`
}

// Redactions returns the reversible aliases ordered by alias.
func (e *AliasEngine) Redactions() []Redaction {
	out := make([]Redaction, 0, len(e.fakeToReal))
	for alias, real := range e.fakeToReal {
		out = append(out, Redaction{Alias: alias, Original: real})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Alias < out[j].Alias })
	return out
}

// Reverser is an immutable snapshot of an engine's reversible aliases. It is
// safe for concurrent use and keeps working after the engine changes.
type Reverser struct {
	aliases    []string // longest first
	fakeToReal map[string]string
	maxLen     int
}

// Reverser snapshots the current reversible aliases.
func (e *AliasEngine) Reverser() *Reverser {
	return NewReverser(e.fakeToReal)
}

// NewReverser builds a Reverser from an alias -> real map.
func NewReverser(fakeToReal map[string]string) *Reverser {
	r := &Reverser{
		aliases:    make([]string, 0, len(fakeToReal)),
		fakeToReal: make(map[string]string, len(fakeToReal)),
	}
	for alias, real := range fakeToReal {
		if alias == "" {
			continue
		}
		r.aliases = append(r.aliases, alias)
		r.fakeToReal[alias] = real
	}
	sort.Slice(r.aliases, func(i, j int) bool {
		a, b := r.aliases[i], r.aliases[j]
		if len(a) != len(b) {
			return len(a) > len(b)
		}
		return a < b
	})
	if len(r.aliases) > 0 {
		r.maxLen = len(r.aliases[0])
	}
	return r
}

type aliasMatch struct {
	start, end int
	real       string
}

// Reverse replaces aliases in text longest alias first: every occurrence of
// a longer alias is claimed before any shorter one, and a shorter alias is
// only restored where it overlaps no claimed occurrence. Restored text is
// not rescanned.
func (r *Reverser) Reverse(text string) string {
	if len(r.aliases) == 0 || len(text) == 0 {
		return text
	}

	var (
		claimed []bool
		matches []aliasMatch
	)
	for _, a := range r.aliases {
		for from := 0; from+len(a) <= len(text); {
			i := strings.Index(text[from:], a)
			if i < 0 {
				break
			}
			start, end := from+i, from+i+len(a)
			from = start + 1
			if claimed == nil {
				claimed = make([]bool, len(text))
			}
			if slices.Contains(claimed[start:end], true) {
				continue
			}
			for j := start; j < end; j++ {
				claimed[j] = true
			}
			matches = append(matches, aliasMatch{start, end, r.fakeToReal[a]})
			from = end
		}
	}
	if len(matches) == 0 {
		return text
	}

	sort.Slice(matches, func(i, j int) bool { return matches[i].start < matches[j].start })
	var b strings.Builder
	b.Grow(len(text))
	last := 0
	for _, m := range matches {
		b.WriteString(text[last:m.start])
		b.WriteString(m.real)
		last = m.end
	}
	b.WriteString(text[last:])
	return b.String()
}

// Len returns the number of aliases in the snapshot.
func (r *Reverser) Len() int { return len(r.aliases) }

// MaxAliasLen returns the byte length of the longest alias.
func (r *Reverser) MaxAliasLen() int { return r.maxLen }

// isAliasPrefix reports whether s is a proper prefix of some alias.
func (r *Reverser) isAliasPrefix(s string) bool {
	for _, a := range r.aliases {
		if len(a) > len(s) && strings.HasPrefix(a, s) {
			return true
		}
	}
	return false
}
