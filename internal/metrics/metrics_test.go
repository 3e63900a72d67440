package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gonkalabs/silent-protocol/internal/sanitize"
)

func TestObserveSanitize(t *testing.T) {
	m := New()
	entities := []sanitize.ClassifiedSpan{
		{Span: sanitize.Span{Label: sanitize.LabelPerson}, Tier: sanitize.TierReplace},
		{Span: sanitize.Span{Label: sanitize.LabelPerson}, Tier: sanitize.TierReplace},
		{Span: sanitize.Span{Label: sanitize.LabelDate}, Tier: sanitize.TierPerturb},
	}
	m.ObserveSanitize("chat", entities, sanitize.ComputePrivacyScore(entities), 2)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.SanitizeRequests.WithLabelValues("chat")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Entities.WithLabelValues("person", "REPLACE")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Entities.WithLabelValues("date", "PERTURB")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.AliasCollisions))
	assert.Equal(t, 1, testutil.CollectAndCount(m.PrivacyScore))
}

func TestObserveUpstream(t *testing.T) {
	m := New()
	m.ObserveUpstream(200, 10*time.Millisecond)
	m.ObserveUpstream(0, time.Second)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.UpstreamRequests.WithLabelValues("200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.UpstreamRequests.WithLabelValues("error")))
}

func TestTrackSessionsAndHandler(t *testing.T) {
	m := New()
	n := 3
	m.TrackSessions(func() int { return n })
	m.ObserveRestore("stream")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "silent_session_active 3")
	assert.Contains(t, string(body), `silent_alias_restores_total{mode="stream"} 1`)
}

func TestMiddleware(t *testing.T) {
	m := New()
	e := echo.New()
	e.Use(m.Middleware())
	e.GET("/v1/sessions/:id", func(c echo.Context) error {
		if c.Param("id") == "missing" {
			return echo.NewHTTPError(http.StatusNotFound, "nope")
		}
		return c.NoContent(http.StatusNoContent)
	})

	for _, path := range []string{"/v1/sessions/a", "/v1/sessions/b", "/v1/sessions/missing"} {
		e.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, path, nil))
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(m.HTTPRequests.WithLabelValues("GET", "/v1/sessions/:id", "204")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HTTPRequests.WithLabelValues("GET", "/v1/sessions/:id", "404")))
}
