package api

import (
	"github.com/gonkalabs/silent-protocol/internal/sanitize"
)

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status   string `json:"status"`
	Sanitize bool   `json:"sanitize"`
	Upstream int    `json:"upstream_endpoints"`
	Sessions int    `json:"sessions"`
}

// SessionResponse is the response body for POST /v1/sessions.
type SessionResponse struct {
	SessionID string `json:"session_id"`
}

// ChatRequest is the request body for POST /chat.
type ChatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id,omitempty"`
}

// Entity is one classified entity together with what replaced it.
type Entity struct {
	Text           string          `json:"text"`
	Label          sanitize.Label  `json:"label"`
	Tier           sanitize.Tier   `json:"tier"`
	Alias          string          `json:"alias"`
	Start          int             `json:"start"`
	End            int             `json:"end"`
	Source         sanitize.Source `json:"source"`
	IntentOverride bool            `json:"intent_override,omitempty"`
}

// ChatResponse is the response body for POST /chat.
type ChatResponse struct {
	SessionID       string                `json:"session_id"`
	Response        string                `json:"response"`
	SanitizedPrompt string                `json:"sanitized_prompt"`
	Entities        []Entity              `json:"entities_detected"`
	AliasMap        map[string]string     `json:"alias_map"`
	PrivacyScore    sanitize.PrivacyScore `json:"privacy_score"`
}

// TextRequest is the request body for /sanitize, /desanitize and /classify.
type TextRequest struct {
	Text      string `json:"text"`
	SessionID string `json:"session_id,omitempty"`
}

// SanitizeResponse is the response body for POST /sanitize.
type SanitizeResponse struct {
	SessionID    string                `json:"session_id"`
	Sanitized    string                `json:"sanitized"`
	Entities     []Entity              `json:"entities_detected"`
	PrivacyScore sanitize.PrivacyScore `json:"privacy_score"`
}

// DesanitizeResponse is the response body for POST /desanitize.
type DesanitizeResponse struct {
	SessionID string `json:"session_id"`
	Text      string `json:"text"`
}

// ClassifyResponse is the response body for POST /classify.
type ClassifyResponse struct {
	Entities     []sanitize.ClassifiedSpan `json:"entities"`
	PrivacyScore sanitize.PrivacyScore     `json:"privacy_score"`
}

// AliasesResponse is the response body for GET /aliases.
type AliasesResponse struct {
	SessionID string            `json:"session_id"`
	Aliases   map[string]string `json:"aliases"`
	Total     int               `json:"total"`
}

// ResetRequest is the optional request body for POST /reset.
type ResetRequest struct {
	SessionID string `json:"session_id,omitempty"`
}

// ResetResponse is the response body for POST /reset.
type ResetResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// entitiesWithAliases pairs each entity with its alias from mapping.
// PRESERVE entities map to themselves.
func entitiesWithAliases(spans []sanitize.ClassifiedSpan, mapping map[string]string) []Entity {
	out := make([]Entity, 0, len(spans))
	for _, s := range spans {
		alias := s.Text
		if s.Tier != sanitize.TierPreserve {
			if a, ok := mapping[s.Text]; ok {
				alias = a
			}
		}
		out = append(out, Entity{
			Text:           s.Text,
			Label:          s.Label,
			Tier:           s.Tier,
			Alias:          alias,
			Start:          s.Start,
			End:            s.End,
			Source:         s.Source,
			IntentOverride: s.IntentOverride,
		})
	}
	return out
}
