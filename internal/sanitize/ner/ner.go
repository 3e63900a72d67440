// Package ner provides a Detector that calls a GLiNER-style NER sidecar
// over HTTP. If the sidecar is unreachable, it logs a warning and returns no
// spans so the rest of the sanitization pipeline can still run.
package ner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/gonkalabs/silent-protocol/internal/sanitize"
)

const defaultTimeout = 10 * time.Second

// Client calls the NER sidecar's /classify endpoint.
type Client struct {
	url       string
	labels    []string
	threshold float32
	http      *http.Client
	logger    *zap.Logger
}

// New creates a NER Client pointing at the given base URL
// (e.g. "http://sanitize-ner:8001"). threshold is forwarded to the sidecar.
func New(baseURL string, threshold float32, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	labels := make([]string, 0, len(sanitize.SemanticLabels))
	for _, l := range sanitize.SemanticLabels {
		labels = append(labels, string(l))
	}
	return &Client{
		url:       strings.TrimRight(baseURL, "/") + "/classify",
		labels:    labels,
		threshold: threshold,
		http:      &http.Client{Timeout: defaultTimeout},
		logger:    logger,
	}
}

type classifyRequest struct {
	Text      string   `json:"text"`
	Labels    []string `json:"labels"`
	Threshold float32  `json:"threshold"`
}

type classifyResponse struct {
	Spans []nerSpan `json:"spans"`
}

// nerSpan offsets are code points, as produced by the Python sidecar.
type nerSpan struct {
	Start int     `json:"start"`
	End   int     `json:"end"`
	Label string  `json:"label"`
	Text  string  `json:"text"`
	Score float32 `json:"score"`
}

// Detect sends text to the NER sidecar and returns entity spans with byte
// offsets. It is safe for concurrent use.
func (c *Client) Detect(ctx context.Context, text string) ([]sanitize.Span, error) {
	body, err := json.Marshal(classifyRequest{Text: text, Labels: c.labels, Threshold: c.threshold})
	if err != nil {
		return nil, fmt.Errorf("ner: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("ner: request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.Warn("ner sidecar unreachable, skipping NER layer", zap.Error(err))
		return nil, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.logger.Warn("ner sidecar unexpected status", zap.Int("code", resp.StatusCode))
		return nil, nil
	}

	var result classifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("ner: decode: %w", err)
	}

	spans := make([]sanitize.Span, 0, len(result.Spans))
	for _, s := range result.Spans {
		start, end, ok := sanitize.RuneSpanToBytes(text, s.Start, s.End)
		if !ok {
			c.logger.Debug("ner span out of range", zap.Int("start", s.Start), zap.Int("end", s.End))
			continue
		}
		score := s.Score
		if score == 0 {
			score = 1
		}
		spans = append(spans, sanitize.Span{
			Text:   text[start:end],
			Label:  sanitize.NormalizeLabel(s.Label),
			Start:  start,
			End:    end,
			Source: sanitize.SourceSemantic,
			Score:  score,
		})
	}
	return spans, nil
}
