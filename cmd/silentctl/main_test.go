package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gonkalabs/silent-protocol/internal/api"
)

func fakeServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(api.HealthResponse{Status: "ok", Sanitize: true, Upstream: 2})
	})
	mux.HandleFunc("POST /sanitize", func(w http.ResponseWriter, r *http.Request) {
		var req api.TextRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		_ = json.NewEncoder(w).Encode(api.SanitizeResponse{
			SessionID: "default",
			Sanitized: strings.ReplaceAll(req.Text, "John Smith", "Mark Jones"),
			Entities:  []api.Entity{{Text: "John Smith", Label: "person", Tier: "REPLACE", Alias: "Mark Jones"}},
		})
	})
	mux.HandleFunc("GET /aliases", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("session_id") == "missing" {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"message":"session \"missing\" not found"}`))
			return
		}
		_ = json.NewEncoder(w).Encode(api.AliasesResponse{
			Aliases: map[string]string{"John Smith": "Mark Jones", "acme.com": "example.org"},
			Total:   2,
		})
	})
	mux.HandleFunc("POST /reset", func(w http.ResponseWriter, _ *http.Request) {
		_ = json.NewEncoder(w).Encode(api.ResetResponse{Status: "reset", Message: "All aliases cleared"})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func execute(t *testing.T, srv *httptest.Server, stdin string, args ...string) (string, error) {
	t.Helper()
	sessionID, outputJSON = "", false
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(append(args, "--server", srv.URL))
	err := cmd.Execute()
	return out.String(), err
}

func TestHealth(t *testing.T) {
	out, err := execute(t, fakeServer(t), "", "health")
	require.NoError(t, err)
	assert.Contains(t, out, "Status: ok")
	assert.Contains(t, out, "Upstream endpoints: 2")
}

func TestSanitizeFromStdin(t *testing.T) {
	out, err := execute(t, fakeServer(t), "Call John Smith\n", "sanitize")
	require.NoError(t, err)
	assert.Contains(t, out, "Call Mark Jones")
	assert.Contains(t, out, `"John Smith" -> "Mark Jones"`)
}

func TestSanitizeEmptyInput(t *testing.T) {
	_, err := execute(t, fakeServer(t), "  ", "sanitize")
	assert.ErrorContains(t, err, "no input text")
}

func TestAliases(t *testing.T) {
	srv := fakeServer(t)

	out, err := execute(t, srv, "", "aliases")
	require.NoError(t, err)
	assert.Equal(t, "John Smith -> Mark Jones\nacme.com -> example.org\nTotal: 2\n", out)

	_, err = execute(t, srv, "", "aliases", "--session", "missing")
	assert.ErrorContains(t, err, `server returned 404: session "missing" not found`)
}

func TestReset(t *testing.T) {
	out, err := execute(t, fakeServer(t), "", "reset")
	require.NoError(t, err)
	assert.Equal(t, "All aliases cleared\n", out)
}
