package upstream

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	mu       sync.Mutex
	statuses []int
}

func (r *recorder) ObserveUpstream(status int, _ time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.statuses = append(r.statuses, status)
}

type failingAuth struct{}

func (failingAuth) Authorize(*http.Request, []byte, string) error { return errors.New("no key") }

func TestClientComplete(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var req CompletionRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "llama", req.Model)
		require.Len(t, req.Messages, 1)

		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"hello Asha"}}]}`))
	}))
	defer srv.Close()

	c := New([]Endpoint{{URL: srv.URL + "/v1/"}}, BearerAuth("sk-test"))
	got, err := c.Complete(context.Background(), CompletionRequest{
		Model:    "llama",
		Messages: []Message{{Role: "user", Content: "hi"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "hello Asha", got)
}

func TestClientRetriesAcrossEndpoints(t *testing.T) {
	var badHits atomic.Int32
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		badHits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer bad.Close()
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer good.Close()

	rec := &recorder{}
	c := New([]Endpoint{{URL: bad.URL}, {URL: good.URL}}, nil, WithRecorder(rec), WithAttempts(2))

	for i := 0; i < 5; i++ {
		body, status, err := c.Do(context.Background(), http.MethodPost, "/chat/completions", []byte(`{}`))
		require.NoError(t, err)
		assert.Equal(t, http.StatusOK, status)
		assert.JSONEq(t, `{"ok":true}`, string(body))
	}
	assert.NotEmpty(t, rec.statuses)
	assert.Contains(t, rec.statuses, http.StatusOK)
}

func TestClientLastStatusIsReturned(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":"busy"}`))
	}))
	defer srv.Close()

	c := New([]Endpoint{{URL: srv.URL}}, nil)
	body, status, err := c.Do(context.Background(), http.MethodGet, "/models", nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusServiceUnavailable, status)
	assert.Contains(t, string(body), "busy")

	_, err = c.Complete(context.Background(), CompletionRequest{Model: "m"})
	assert.ErrorContains(t, err, "503")
}

func TestClientErrors(t *testing.T) {
	_, _, err := New(nil, nil).Do(context.Background(), http.MethodGet, "/models", nil)
	assert.ErrorIs(t, err, ErrNoEndpoints)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()
	_, _, err = New([]Endpoint{{URL: srv.URL}}, failingAuth{}).Do(context.Background(), http.MethodGet, "/models", nil)
	assert.ErrorContains(t, err, "no key")
}

func TestClientRateLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer srv.Close()

	c := New([]Endpoint{{URL: srv.URL}}, nil, WithRateLimit(0.001, 1))
	_, _, err := c.Do(context.Background(), http.MethodGet, "/models", nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, _, err = c.Do(ctx, http.MethodGet, "/models", nil)
	assert.ErrorContains(t, err, "rate limit")
}

func TestClientDoStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = w.Write([]byte("data: {}\n\ndata: [DONE]\n\n"))
	}))
	defer srv.Close()

	resp, err := New([]Endpoint{{URL: srv.URL}}, nil).DoStream(context.Background(), http.MethodPost, "/chat/completions", []byte(`{}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(b), "[DONE]")
}

func TestFetchModels(t *testing.T) {
	for name, payload := range map[string]string{
		"openai": `{"object":"list","data":[{"id":"llama"}]}`,
		"gonka":  `{"models":[{"id":"llama"}]}`,
	} {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/models", r.URL.Path)
				_, _ = w.Write([]byte(payload))
			}))
			defer srv.Close()

			models, err := New([]Endpoint{{URL: srv.URL}}, nil).FetchModels(context.Background())
			require.NoError(t, err)
			require.Len(t, models, 1)
			assert.JSONEq(t, `{"id":"llama"}`, string(models[0]))
		})
	}
}

func TestDiscoverEndpoints(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/epochs/current/participants", r.URL.Path)
		_, _ = w.Write([]byte(`{"active_participants":{"participants":[
			{"index":"gonka1a","inference_url":"http://a:8000/"},
			{"index":"gonka1b","inference_url":"http://b:8000"},
			{"index":"","inference_url":"http://c:8000"}
		]}}`))
	}))
	defer srv.Close()

	c := New(nil, nil)
	require.NoError(t, c.DiscoverEndpoints(context.Background(), srv.URL, nil))
	assert.Len(t, c.Endpoints(), 2)

	require.NoError(t, c.DiscoverEndpoints(context.Background(), srv.URL, []string{"gonka1b"}))
	assert.Equal(t, []Endpoint{{URL: "http://b:8000/v1", Address: "gonka1b"}}, c.Endpoints())

	err := c.DiscoverEndpoints(context.Background(), srv.URL, []string{"gonka1z"})
	assert.ErrorIs(t, err, ErrNoEndpoints)
}
