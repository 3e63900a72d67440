// Package metrics provides Prometheus collectors for the sanitising proxy.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gonkalabs/silent-protocol/internal/sanitize"
)

const namespace = "silent"

// Metrics holds every collector, registered on its own registry.
type Metrics struct {
	registry *prometheus.Registry

	// SanitizeRequests counts sanitisation passes.
	// Labels: endpoint (chat, sanitize, completions)
	SanitizeRequests *prometheus.CounterVec

	// Entities counts classified entities.
	// Labels: label, tier
	Entities *prometheus.CounterVec

	// PrivacyScore tracks the score distribution of sanitised prompts.
	PrivacyScore prometheus.Histogram

	// AliasCollisions counts alias draws rejected because they clashed.
	AliasCollisions prometheus.Counter

	// Restores counts de-sanitisation passes.
	// Labels: mode (full, stream)
	Restores *prometheus.CounterVec

	// UpstreamRequests counts upstream attempts.
	// Labels: status ("error" on transport failure)
	UpstreamRequests *prometheus.CounterVec

	// UpstreamDuration tracks upstream attempt latency.
	UpstreamDuration prometheus.Histogram

	// HTTPRequests counts served requests.
	// Labels: method, route, status
	HTTPRequests *prometheus.CounterVec

	// HTTPDuration tracks served request latency.
	// Labels: method, route
	HTTPDuration *prometheus.HistogramVec
}

// New creates and registers all collectors on a fresh registry, together
// with the Go runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		SanitizeRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sanitize",
			Name:      "requests_total",
			Help:      "Total number of sanitisation passes by endpoint",
		}, []string{"endpoint"}),
		Entities: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "sanitize",
			Name:      "entities_total",
			Help:      "Total number of classified entities by label and tier",
		}, []string{"label", "tier"}),
		PrivacyScore: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sanitize",
			Name:      "privacy_score",
			Help:      "Privacy score of sanitised prompts",
			Buckets:   []float64{10, 25, 50, 70, 80, 90, 95, 100},
		}),
		AliasCollisions: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "alias",
			Name:      "collisions_total",
			Help:      "Total number of alias draws rejected as collisions",
		}),
		Restores: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "alias",
			Name:      "restores_total",
			Help:      "Total number of de-sanitisation passes by mode",
		}, []string{"mode"}),
		UpstreamRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "requests_total",
			Help:      "Total number of upstream attempts by status",
		}, []string{"status"}),
		UpstreamDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "upstream",
			Name:      "request_duration_seconds",
			Help:      "Duration of upstream attempts in seconds",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
		HTTPRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests by method, route and status",
		}, []string{"method", "route", "status"}),
		HTTPDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

// Registry returns the registry the collectors live on.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// TrackSessions exposes n() as the active sessions gauge.
func (m *Metrics) TrackSessions(n func() int) {
	m.registry.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "session",
		Name:      "active",
		Help:      "Number of live sessions",
	}, func() float64 { return float64(n()) }))
}

// ObserveSanitize records one sanitisation pass.
func (m *Metrics) ObserveSanitize(endpoint string, entities []sanitize.ClassifiedSpan, score sanitize.PrivacyScore, newCollisions int) {
	m.SanitizeRequests.WithLabelValues(endpoint).Inc()
	for _, e := range entities {
		m.Entities.WithLabelValues(string(e.Label), string(e.Tier)).Inc()
	}
	m.PrivacyScore.Observe(float64(score.Score))
	if newCollisions > 0 {
		m.AliasCollisions.Add(float64(newCollisions))
	}
}

// ObserveRestore records one de-sanitisation pass.
func (m *Metrics) ObserveRestore(mode string) {
	m.Restores.WithLabelValues(mode).Inc()
}

// ObserveUpstream implements upstream.Recorder.
func (m *Metrics) ObserveUpstream(status int, d time.Duration) {
	label := "error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	m.UpstreamRequests.WithLabelValues(label).Inc()
	m.UpstreamDuration.Observe(d.Seconds())
}

// Middleware records request counts and latency per route. Routes are the
// registered path patterns, so session ids do not become label values.
func (m *Metrics) Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			route := c.Path()
			if route == "" {
				route = "unmatched"
			}
			status := c.Response().Status
			if he, ok := err.(*echo.HTTPError); ok {
				status = he.Code
			}
			method := c.Request().Method
			m.HTTPRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
			m.HTTPDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
			return err
		}
	}
}
