// Package llmclassifier asks a small local OpenAI-compatible LLM (e.g. Ollama
// with qwen2.5:1.5b-instruct) whether detected entities are part of the
// user's task or of the user's identity.
//
// "Paris" in "plan a trip to Paris" is a task entity and can be left in the
// prompt; "Mumbai" in "I live in Mumbai" identifies the user and must be
// replaced.
package llmclassifier

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/gonkalabs/silent-protocol/internal/sanitize"
)

const systemPrompt = `You are a privacy intent classifier. Given a user message and a list of detected entities, classify each entity as either:
- "task": the entity is part of what the user wants to DO (travel destination, product to compare, topic to learn about)
- "identity": the entity reveals WHO the user IS (their name, address, employer, ID number, email)

Return ONLY valid JSON in this exact format, nothing else:
{"task": ["entity1", "entity2"], "identity": ["entity3", "entity4"]}`

// ErrNoVerdict is returned when the model answer holds no usable verdict.
var ErrNoVerdict = errors.New("llmclassifier: no verdict in model output")

const defaultTimeout = 15 * time.Second

// Classifier calls a local LLM to split entities into task and identity.
type Classifier struct {
	baseURL string
	model   string
	http    *http.Client
	logger  *zap.Logger
}

// New creates a Classifier.
// baseURL is the Ollama (or any OpenAI-compatible) server, e.g. "http://ollama:11434".
func New(baseURL, model string, timeout time.Duration, logger *zap.Logger) *Classifier {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Classifier{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		http:    &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

type openAIRequest struct {
	Model       string    `json:"model"`
	Messages    []message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens"`
	// Hint to disable chain-of-thought thinking (Qwen3 and some others support this).
	// stripThinkBlock handles models that ignore it.
	Think bool `json:"think"`
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIResponse struct {
	Choices []struct {
		Message struct {
			Content          string `json:"content"`
			Reasoning        string `json:"reasoning"`         // Qwen3 via Ollama
			ReasoningContent string `json:"reasoning_content"` // Qwen3 direct API
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// ClassifyIntent implements sanitize.IntentClassifier. It is safe for
// concurrent use.
func (c *Classifier) ClassifyIntent(ctx context.Context, prompt string, entities []string) (*sanitize.IntentVerdict, error) {
	if len(entities) == 0 {
		return &sanitize.IntentVerdict{}, nil
	}

	user := fmt.Sprintf("User message: %q\n\nDetected entities: [%s]\n/no_think", prompt, strings.Join(entities, ", "))
	body, err := json.Marshal(openAIRequest{
		Model: c.model,
		Messages: []message{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: user},
		},
		Temperature: 0.1,
		MaxTokens:   256,
	})
	if err != nil {
		return nil, fmt.Errorf("llmclassifier: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("llmclassifier: request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("llmclassifier: unreachable: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("llmclassifier: status %d: %s", resp.StatusCode, errBody)
	}

	var oaiResp openAIResponse
	if err := json.NewDecoder(resp.Body).Decode(&oaiResp); err != nil {
		return nil, fmt.Errorf("llmclassifier: decode response: %w", err)
	}
	if len(oaiResp.Choices) == 0 {
		return nil, ErrNoVerdict
	}

	choice := oaiResp.Choices[0]
	if choice.FinishReason == "length" {
		c.logger.Warn("intent model response truncated by token limit")
	}

	// Qwen3 via Ollama puts thinking in "reasoning" and the answer in "content".
	raw := strings.TrimSpace(choice.Message.Content)
	if raw == "" {
		raw = strings.TrimSpace(choice.Message.Reasoning)
		if raw == "" {
			raw = strings.TrimSpace(choice.Message.ReasoningContent)
		}
	}

	verdict, err := parseVerdict(raw)
	if err != nil {
		c.logger.Debug("could not parse intent model output", zap.Int("len", len(raw)))
		return nil, err
	}
	c.logger.Debug("intent verdict",
		zap.Int("task", len(verdict.Task)),
		zap.Int("identity", len(verdict.Identity)),
	)
	return verdict, nil
}

// Ping checks that the server answers and serves the configured model.
func (c *Classifier) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/models", nil)
	if err != nil {
		return fmt.Errorf("llmclassifier: request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("llmclassifier: unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("llmclassifier: status %d", resp.StatusCode)
	}

	var models struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&models); err != nil {
		return fmt.Errorf("llmclassifier: decode models: %w", err)
	}
	for _, m := range models.Data {
		if m.ID == c.model {
			return nil
		}
	}
	return fmt.Errorf("llmclassifier: model %q not available", c.model)
}

// parseVerdict digs the {"task": [...], "identity": [...]} object out of a
// model answer that may be wrapped in think blocks, code fences or prose.
func parseVerdict(raw string) (*sanitize.IntentVerdict, error) {
	content := stripCodeFence(stripThinkBlock(raw))
	for _, candidate := range []string{content, extractJSONObject(content)} {
		var v struct {
			Task     *[]string `json:"task"`
			Identity *[]string `json:"identity"`
		}
		if err := json.Unmarshal([]byte(candidate), &v); err != nil {
			continue
		}
		if v.Task == nil || v.Identity == nil {
			continue
		}
		return &sanitize.IntentVerdict{Task: *v.Task, Identity: *v.Identity}, nil
	}
	return nil, ErrNoVerdict
}

// extractJSONObject finds the outermost {...} substring in s.
func extractJSONObject(s string) string {
	start := strings.Index(s, "{")
	if start < 0 {
		return s
	}
	end := strings.LastIndex(s, "}")
	if end < start {
		return s
	}
	return s[start : end+1]
}

// stripThinkBlock removes Qwen3's <think>...</think> block that appears before
// the actual answer when thinking mode is active.
func stripThinkBlock(s string) string {
	const open, close = "<think>", "</think>"
	start := strings.Index(s, open)
	if start < 0 {
		return s
	}
	end := strings.Index(s, close)
	if end < 0 {
		// Unclosed block - drop everything from <think> onwards.
		return strings.TrimSpace(s[:start])
	}
	return strings.TrimSpace(s[:start] + s[end+len(close):])
}

// stripCodeFence removes ```json ... ``` or ``` ... ``` wrappers.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		if idx := strings.Index(s, "\n"); idx >= 0 {
			s = s[idx+1:]
		}
		if idx := strings.LastIndex(s, "```"); idx >= 0 {
			s = s[:idx]
		}
		s = strings.TrimSpace(s)
	}
	return s
}
