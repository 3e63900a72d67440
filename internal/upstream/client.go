// Package upstream talks to the OpenAI-compatible LLM that receives
// sanitised prompts. Requests are rate limited, authorised per attempt and
// retried across endpoints.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ErrNoEndpoints is returned when no endpoint is configured or discovered.
var ErrNoEndpoints = errors.New("upstream: no endpoints available")

// Endpoint is one OpenAI-compatible base URL, e.g. https://api.groq.com/openai/v1.
// Address identifies the host to signed-request authorizers.
type Endpoint struct {
	URL     string
	Address string
}

// Authorizer adds credentials to an outgoing request.
type Authorizer interface {
	Authorize(req *http.Request, payload []byte, address string) error
}

// BearerAuth authorises requests with a static API key.
type BearerAuth string

// Authorize implements Authorizer.
func (b BearerAuth) Authorize(req *http.Request, _ []byte, _ string) error {
	if b != "" {
		req.Header.Set("Authorization", "Bearer "+string(b))
	}
	return nil
}

// Recorder observes finished upstream attempts. status is 0 on transport
// errors.
type Recorder interface {
	ObserveUpstream(status int, d time.Duration)
}

const (
	defaultAttempts = 3
	defaultTimeout  = 120 * time.Second
)

// Client sends chat requests to upstream endpoints.
type Client struct {
	auth     Authorizer
	limiter  *rate.Limiter
	attempts int
	recorder Recorder
	logger   *zap.Logger

	mu        sync.RWMutex
	endpoints []Endpoint

	http   *http.Client
	stream *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithRateLimit caps outgoing attempts per second. rps <= 0 disables it.
func WithRateLimit(rps float64, burst int) Option {
	return func(c *Client) {
		if rps <= 0 {
			c.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithAttempts sets how many endpoints a request may be tried on.
func WithAttempts(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.attempts = n
		}
	}
}

// WithTimeout bounds non-streaming requests.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

// WithRecorder reports every attempt's status and latency.
func WithRecorder(r Recorder) Option {
	return func(c *Client) { c.recorder = r }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// New creates a Client. auth may be nil for unauthenticated endpoints.
func New(endpoints []Endpoint, auth Authorizer, opts ...Option) *Client {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 100,
		IdleConnTimeout:     90 * time.Second,
	}
	c := &Client{
		auth:     auth,
		attempts: defaultAttempts,
		logger:   zap.NewNop(),
		http:     &http.Client{Timeout: defaultTimeout, Transport: transport},
		// No overall timeout: streaming responses can run for a long time.
		stream: &http.Client{Transport: transport},
	}
	c.SetEndpoints(normalise(endpoints))
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func normalise(eps []Endpoint) []Endpoint {
	out := make([]Endpoint, 0, len(eps))
	for _, ep := range eps {
		ep.URL = strings.TrimRight(strings.TrimSpace(ep.URL), "/")
		if ep.URL != "" {
			out = append(out, ep)
		}
	}
	return out
}

// SetEndpoints replaces the endpoint list.
func (c *Client) SetEndpoints(eps []Endpoint) {
	c.mu.Lock()
	c.endpoints = eps
	c.mu.Unlock()
}

// Endpoints returns a copy of the current endpoint list.
func (c *Client) Endpoints() []Endpoint {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]Endpoint(nil), c.endpoints...)
}

// DiscoverEndpoints replaces the endpoint list with the active participants
// published by a Gonka-style node at sourceURL. When allowed is non-empty,
// only participants whose address is in it are kept.
func (c *Client) DiscoverEndpoints(ctx context.Context, sourceURL string, allowed []string) error {
	url := strings.TrimRight(sourceURL, "/") + "/v1/epochs/current/participants"
	c.logger.Info("discovering endpoints", zap.String("url", url))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("discover: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("discover: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("discover: status %d: %s", resp.StatusCode, body)
	}

	var result struct {
		ActiveParticipants struct {
			Participants []struct {
				Index        string `json:"index"`
				InferenceURL string `json:"inference_url"`
			} `json:"participants"`
		} `json:"active_participants"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("discover: decode: %w", err)
	}

	allow := make(map[string]bool, len(allowed))
	for _, a := range allowed {
		allow[a] = true
	}
	var eps []Endpoint
	for _, p := range result.ActiveParticipants.Participants {
		if p.InferenceURL == "" || p.Index == "" {
			continue
		}
		if len(allow) > 0 && !allow[p.Index] {
			continue
		}
		eps = append(eps, Endpoint{URL: strings.TrimRight(p.InferenceURL, "/") + "/v1", Address: p.Index})
	}
	if len(eps) == 0 {
		return fmt.Errorf("discover: %w", ErrNoEndpoints)
	}

	c.SetEndpoints(eps)
	c.logger.Info("endpoints discovered", zap.Int("count", len(eps)))
	return nil
}

// pickEndpoint returns a random endpoint whose URL is not in exclude, or any
// endpoint once all have been tried.
func (c *Client) pickEndpoint(exclude map[string]bool) (Endpoint, error) {
	c.mu.RLock()
	eps := c.endpoints
	c.mu.RUnlock()
	if len(eps) == 0 {
		return Endpoint{}, ErrNoEndpoints
	}
	var candidates []Endpoint
	for _, ep := range eps {
		if !exclude[ep.URL] {
			candidates = append(candidates, ep)
		}
	}
	if len(candidates) == 0 {
		return eps[rand.IntN(len(eps))], nil
	}
	return candidates[rand.IntN(len(candidates))], nil
}

func retryable(status int) bool {
	return status == http.StatusTooManyRequests || status >= http.StatusInternalServerError
}

// roundTrip tries the request on up to c.attempts endpoints. Transport
// errors and retryable statuses move on to another endpoint; the last
// response is returned as is. The caller must close the body.
func (c *Client) roundTrip(ctx context.Context, hc *http.Client, method, path string, payload []byte) (*http.Response, error) {
	var lastErr error
	tried := map[string]bool{}
	for attempt := 1; attempt <= c.attempts; attempt++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, fmt.Errorf("upstream: rate limit: %w", err)
			}
		}
		ep, err := c.pickEndpoint(tried)
		if err != nil {
			return nil, err
		}
		tried[ep.URL] = true

		start := time.Now()
		resp, err := c.send(ctx, hc, ep, method, path, payload)
		status := 0
		if resp != nil {
			status = resp.StatusCode
		}
		if c.recorder != nil {
			c.recorder.ObserveUpstream(status, time.Since(start))
		}

		if err != nil {
			if ctx.Err() != nil {
				return nil, fmt.Errorf("upstream: %w", ctx.Err())
			}
			c.logger.Warn("upstream request failed, retrying with another endpoint",
				zap.Int("attempt", attempt), zap.String("endpoint", ep.URL), zap.Error(err))
			lastErr = err
			continue
		}
		if retryable(status) && attempt < c.attempts {
			_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
			resp.Body.Close()
			c.logger.Warn("upstream returned retryable status",
				zap.Int("attempt", attempt), zap.String("endpoint", ep.URL), zap.Int("status", status))
			lastErr = fmt.Errorf("upstream: status %d", status)
			continue
		}
		return resp, nil
	}
	if lastErr == nil {
		lastErr = ErrNoEndpoints
	}
	return nil, lastErr
}

func (c *Client) send(ctx context.Context, hc *http.Client, ep Endpoint, method, path string, payload []byte) (*http.Response, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, ep.URL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.auth != nil {
		if err := c.auth.Authorize(req, payload, ep.Address); err != nil {
			return nil, fmt.Errorf("authorize: %w", err)
		}
	}
	c.logger.Debug("upstream request", zap.String("method", method), zap.String("url", req.URL.String()))
	return hc.Do(req)
}

// Do sends a non-streaming request and returns the full response body and
// status code.
func (c *Client) Do(ctx context.Context, method, path string, payload []byte) ([]byte, int, error) {
	resp, err := c.roundTrip(ctx, c.http, method, path, payload)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("upstream: read body: %w", err)
	}
	return b, resp.StatusCode, nil
}

// DoStream sends a request whose response is streamed. The caller must close
// resp.Body.
func (c *Client) DoStream(ctx context.Context, method, path string, payload []byte) (*http.Response, error) {
	return c.roundTrip(ctx, c.stream, method, path, payload)
}

// FetchModels returns the raw model objects listed by the upstream. Both the
// OpenAI {"data": [...]} and the Gonka {"models": [...]} shapes are accepted.
func (c *Client) FetchModels(ctx context.Context) ([]json.RawMessage, error) {
	body, status, err := c.Do(ctx, http.MethodGet, "/models", nil)
	if err != nil {
		return nil, fmt.Errorf("fetch models: %w", err)
	}
	if status >= 400 {
		return nil, fmt.Errorf("fetch models: upstream %d: %s", status, truncate(body))
	}
	var result struct {
		Data   []json.RawMessage `json:"data"`
		Models []json.RawMessage `json:"models"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("fetch models: decode: %w", err)
	}
	if len(result.Data) > 0 {
		return result.Data, nil
	}
	return result.Models, nil
}

// Message is one chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest is a minimal OpenAI chat completion request.
type CompletionRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
}

// Complete sends a non-streaming chat completion and returns the first
// choice's content.
func (c *Client) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	payload, err := json.Marshal(req)
	if err != nil {
		return "", fmt.Errorf("complete: marshal: %w", err)
	}
	body, status, err := c.Do(ctx, http.MethodPost, "/chat/completions", payload)
	if err != nil {
		return "", fmt.Errorf("complete: %w", err)
	}
	if status >= 400 {
		return "", fmt.Errorf("complete: upstream %d: %s", status, truncate(body))
	}
	var resp struct {
		Choices []struct {
			Message Message `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("complete: decode: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", errors.New("complete: upstream returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

func truncate(b []byte) string {
	const limit = 512
	if len(b) > limit {
		return string(b[:limit]) + "..."
	}
	return string(b)
}
