// Package sanitize anonymises user text before it is sent to a third-party
// LLM and restores real values in the reply.
//
// Entities are found by a regex PatternDetector and optional semantic
// Detectors, merged and tiered by a SpanClassifier, then replaced
// (REPLACE), noised (PERTURB) or kept (PRESERVE) by a per-session
// AliasEngine.
//
// Usage:
//
//	s := sanitize.New(sanitize.WithDetectors(nerClient))
//	engine := sanitize.NewAliasEngine()
//	res, err := s.Sanitize(ctx, prompt, engine)
//	// send res.Sanitized to the LLM
//	reply = engine.Reverse(reply)
package sanitize

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// defaultDetectorBudget is the maximum time we wait for all detectors to
// finish. Detectors that miss the deadline are skipped; their results are
// discarded.
const defaultDetectorBudget = 30 * time.Second

// Sanitizer is the top-level object created once at startup. It holds no
// per-session state and is safe for concurrent use.
type Sanitizer struct {
	patterns   *PatternDetector
	classifier *SpanClassifier
	detectors  []Detector
	intent     IntentClassifier
	threshold  float32
	budget     time.Duration
	logger     *zap.Logger
}

// Option configures a Sanitizer.
type Option func(*Sanitizer)

// WithDetectors adds semantic detectors that run alongside the pattern scan.
func WithDetectors(d ...Detector) Option {
	return func(s *Sanitizer) { s.detectors = append(s.detectors, d...) }
}

// WithIntentClassifier sets a model-backed intent classifier. When it fails
// or returns nothing the keyword heuristic is used.
func WithIntentClassifier(c IntentClassifier) Option {
	return func(s *Sanitizer) { s.intent = c }
}

// WithThreshold drops semantic spans scoring below t.
func WithThreshold(t float32) Option {
	return func(s *Sanitizer) { s.threshold = t }
}

// WithDetectorBudget bounds how long detectors may run per text.
func WithDetectorBudget(d time.Duration) Option {
	return func(s *Sanitizer) {
		if d > 0 {
			s.budget = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Sanitizer) { s.logger = l }
}

// New creates a Sanitizer. Without options only the pattern scan runs.
func New(opts ...Option) *Sanitizer {
	s := &Sanitizer{
		patterns:   NewPatternDetector(),
		classifier: NewSpanClassifier(),
		budget:     defaultDetectorBudget,
		logger:     zap.NewNop(),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Result is the outcome of sanitising one text.
type Result struct {
	Sanitized string           `json:"sanitized"`
	Entities  []ClassifiedSpan `json:"entities"`
	Score     PrivacyScore     `json:"privacy_score"`
}

// Sanitize detects, classifies and substitutes entities in text using the
// session's engine. The caller must hold the session lock for the whole
// call; use Classify and Apply to keep detector calls outside it.
func (s *Sanitizer) Sanitize(ctx context.Context, text string, engine *AliasEngine) (*Result, error) {
	return s.Apply(text, s.classify(ctx, text, true), engine)
}

// Desanitize restores the engine's aliases in text.
func (s *Sanitizer) Desanitize(text string, engine *AliasEngine) string {
	return engine.Reverse(text)
}

// Classify runs detection, classification and intent re-tiering without
// touching any alias mapping.
func (s *Sanitizer) Classify(ctx context.Context, text string) []ClassifiedSpan {
	return s.classify(ctx, text, true)
}

// Apply substitutes entities previously returned by Classify for the same
// text. It does no I/O; the caller must hold the session lock.
func (s *Sanitizer) Apply(text string, entities []ClassifiedSpan, engine *AliasEngine) (*Result, error) {
	sanitized, err := engine.Substitute(text, entities)
	if err != nil {
		return nil, fmt.Errorf("sanitize: substitute: %w", err)
	}
	score := ComputePrivacyScore(entities)
	s.logger.Debug("sanitized text",
		zap.Int("entities", len(entities)),
		zap.Int("replaced", score.Replaced),
		zap.Int("perturbed", score.Perturbed),
		zap.Int("preserved", score.Preserved),
		zap.Int("score", score.Score),
	)
	return &Result{Sanitized: sanitized, Entities: entities, Score: score}, nil
}

// classify runs the detection half of the pipeline. useIntent=false skips
// the intent model, which is used for history messages to avoid paying its
// latency on old turns.
func (s *Sanitizer) classify(ctx context.Context, text string, useIntent bool) []ClassifiedSpan {
	patternSpans := s.patterns.Scan(text)
	semantic := s.runDetectors(ctx, text)

	kept := semantic[:0]
	for _, sp := range semantic {
		if sp.Score < s.threshold {
			continue
		}
		sp.Source = SourceSemantic
		kept = append(kept, sp)
	}
	valid := ValidSpans(text, kept)
	if dropped := len(kept) - len(valid); dropped > 0 {
		s.logger.Warn("dropped semantic spans with invalid offsets", zap.Int("count", dropped))
	}

	entities := s.classifier.Classify(patternSpans, valid)
	if len(entities) == 0 {
		return entities
	}

	if useIntent && s.intent != nil {
		verdict, err := s.intent.ClassifyIntent(ctx, text, entityTexts(entities))
		if err != nil {
			s.logger.Warn("intent classifier failed, using heuristic", zap.Error(err))
		} else if verdict != nil {
			return ApplyIntentVerdict(entities, verdict)
		}
	}
	return ApplyIntentOverrides(entities, text)
}

func entityTexts(spans []ClassifiedSpan) []string {
	out := make([]string, 0, len(spans))
	for _, sp := range spans {
		out = append(out, sp.Text)
	}
	return out
}

// runDetectors runs all Detect calls concurrently and merges results.
// Returns after all detectors finish, the budget elapses or ctx ends.
func (s *Sanitizer) runDetectors(ctx context.Context, text string) []Span {
	if len(s.detectors) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, s.budget)
	defer cancel()

	type result struct {
		spans []Span
	}
	ch := make(chan result, len(s.detectors))

	for _, d := range s.detectors {
		go func(d Detector) {
			spans, err := d.Detect(ctx, text)
			if err != nil {
				s.logger.Warn("detector error", zap.Error(err))
				ch <- result{}
				return
			}
			ch <- result{spans: spans}
		}(d)
	}

	var all []Span
	for range s.detectors {
		select {
		case r := <-ch:
			all = append(all, r.spans...)
		case <-ctx.Done():
			s.logger.Warn("detector budget exceeded, using partial results")
			return all
		}
	}
	return all
}

// MessagesResult summarises the entities found across a chat request.
type MessagesResult struct {
	Entities []ClassifiedSpan
	Score    PrivacyScore
	Changed  bool
}

// MessagesPlan holds the classified texts of an OpenAI-format chat request,
// ready to be substituted by ApplyMessages. A plan is applied once.
type MessagesPlan struct {
	body     []byte
	req      map[string]json.RawMessage
	messages []map[string]json.RawMessage
	parts    map[int][]map[string]json.RawMessage
	texts    []messageText
}

// messageText is one string content (part < 0) or text part of a message.
type messageText struct {
	msg, part int
	text      string
	entities  []ClassifiedSpan
}

// SanitizeMessages sanitises every message content in an OpenAI-format chat
// request body. The caller must hold the session lock for the whole call.
func (s *Sanitizer) SanitizeMessages(ctx context.Context, body []byte, engine *AliasEngine) ([]byte, *MessagesResult, error) {
	plan, err := s.ClassifyMessages(ctx, body)
	if err != nil {
		return nil, nil, err
	}
	return s.ApplyMessages(plan, engine)
}

// ClassifyMessages finds the entities of every message content, including
// text parts of multi-part content, without touching any alias mapping. The
// intent model only runs for the last user message.
func (s *Sanitizer) ClassifyMessages(ctx context.Context, body []byte) (*MessagesPlan, error) {
	plan := &MessagesPlan{body: body, parts: make(map[int][]map[string]json.RawMessage)}
	if err := json.Unmarshal(body, &plan.req); err != nil {
		return nil, fmt.Errorf("sanitize: parse request: %w", err)
	}
	messagesRaw, ok := plan.req["messages"]
	if !ok {
		return plan, nil
	}
	if err := json.Unmarshal(messagesRaw, &plan.messages); err != nil {
		return nil, fmt.Errorf("sanitize: parse messages: %w", err)
	}

	lastUserIdx := -1
	for i := len(plan.messages) - 1; i >= 0; i-- {
		var role string
		if err := json.Unmarshal(plan.messages[i]["role"], &role); err == nil && role == "user" {
			lastUserIdx = i
			break
		}
	}

	for i, msg := range plan.messages {
		contentRaw, ok := msg["content"]
		if !ok {
			continue
		}
		useIntent := i == lastUserIdx

		var strContent string
		if err := json.Unmarshal(contentRaw, &strContent); err == nil {
			plan.texts = append(plan.texts, messageText{
				msg: i, part: -1, text: strContent,
				entities: s.classify(ctx, strContent, useIntent),
			})
			continue
		}

		// Array content (vision / multi-modal messages).
		var parts []map[string]json.RawMessage
		if err := json.Unmarshal(contentRaw, &parts); err != nil {
			continue
		}
		plan.parts[i] = parts
		for j, part := range parts {
			var text string
			if err := json.Unmarshal(part["text"], &text); err != nil {
				continue
			}
			plan.texts = append(plan.texts, messageText{
				msg: i, part: j, text: text,
				entities: s.classify(ctx, text, useIntent),
			})
		}
	}
	return plan, nil
}

// ApplyMessages substitutes a plan's entities and re-encodes the request. A
// request with nothing to replace is returned byte for byte. It does no
// I/O; the caller must hold the session lock.
func (s *Sanitizer) ApplyMessages(plan *MessagesPlan, engine *AliasEngine) ([]byte, *MessagesResult, error) {
	res := &MessagesResult{}
	changedParts := make(map[int]bool)

	for _, mt := range plan.texts {
		r, err := s.Apply(mt.text, mt.entities, engine)
		if err != nil {
			return nil, nil, err
		}
		res.Entities = append(res.Entities, r.Entities...)
		if r.Sanitized == mt.text {
			continue
		}
		b, _ := json.Marshal(r.Sanitized)
		if mt.part < 0 {
			plan.messages[mt.msg]["content"] = b
		} else {
			plan.parts[mt.msg][mt.part]["text"] = b
			changedParts[mt.msg] = true
		}
		res.Changed = true
	}
	for i := range changedParts {
		b, _ := json.Marshal(plan.parts[i])
		plan.messages[i]["content"] = b
	}

	res.Score = ComputePrivacyScore(res.Entities)
	if !res.Changed {
		return plan.body, res, nil
	}
	b, err := json.Marshal(plan.messages)
	if err != nil {
		return nil, nil, fmt.Errorf("sanitize: encode messages: %w", err)
	}
	plan.req["messages"] = b
	out, err := json.Marshal(plan.req)
	if err != nil {
		return nil, nil, fmt.Errorf("sanitize: encode request: %w", err)
	}
	return out, res, nil
}
