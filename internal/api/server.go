// Package api serves the sanitising chat endpoints and the
// OpenAI-compatible proxy.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"go.uber.org/zap"

	"github.com/gonkalabs/silent-protocol/internal/metrics"
	"github.com/gonkalabs/silent-protocol/internal/sanitize"
	"github.com/gonkalabs/silent-protocol/internal/session"
	"github.com/gonkalabs/silent-protocol/internal/upstream"
)

// HeaderSessionID carries the session id on proxied completions.
const HeaderSessionID = "X-Session-ID"

// HeaderRedactions lists the alias -> original pairs of a proxied request as
// base64 JSON.
const HeaderRedactions = "X-Sanitize-Redactions"

// Config holds the HTTP layer settings.
type Config struct {
	Addr            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	Model           string
	Temperature     float64
	MaxTokens       int
	SanitizeEnabled bool
}

// Deps are the collaborators the server needs.
type Deps struct {
	Sanitizer *sanitize.Sanitizer
	Sessions  *session.Store
	Upstream  *upstream.Client
	Metrics   *metrics.Metrics
	Logger    *zap.Logger
}

// Server provides the HTTP endpoints.
type Server struct {
	echo      *echo.Echo
	sanitizer *sanitize.Sanitizer
	sessions  *session.Store
	llm       *upstream.Client
	metrics   *metrics.Metrics
	logger    *zap.Logger
	cfg       Config

	mu     sync.RWMutex
	models []json.RawMessage
}

// NewServer creates a server and registers its routes.
func NewServer(deps Deps, cfg Config) (*Server, error) {
	if deps.Sanitizer == nil {
		return nil, errors.New("api: sanitizer cannot be nil")
	}
	if deps.Sessions == nil {
		return nil, errors.New("api: session store cannot be nil")
	}
	if deps.Upstream == nil {
		return nil, errors.New("api: upstream client cannot be nil")
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.New()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Server.ReadTimeout = cfg.ReadTimeout
	e.Server.WriteTimeout = cfg.WriteTimeout

	s := &Server{
		echo:      e,
		sanitizer: deps.Sanitizer,
		sessions:  deps.Sessions,
		llm:       deps.Upstream,
		metrics:   deps.Metrics,
		logger:    deps.Logger,
		cfg:       cfg,
	}

	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:  []string{"*"},
		ExposeHeaders: []string{HeaderSessionID, HeaderRedactions},
	}))
	e.Use(s.metrics.Middleware())
	e.Use(s.requestLogger)

	s.registerRoutes()
	return s, nil
}

func (s *Server) requestLogger(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		start := time.Now()
		err := next(c)
		s.logger.Info("http request",
			zap.String("method", c.Request().Method),
			zap.String("route", c.Path()),
			zap.Int("status", c.Response().Status),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
		)
		return err
	}
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(s.metrics.Handler()))

	s.echo.POST("/chat", s.handleChat)
	s.echo.POST("/sanitize", s.handleSanitize)
	s.echo.POST("/desanitize", s.handleDesanitize)
	s.echo.POST("/classify", s.handleClassify)
	s.echo.GET("/aliases", s.handleAliases)
	s.echo.POST("/reset", s.handleReset)

	v1 := s.echo.Group("/v1")
	v1.POST("/sessions", s.handleCreateSession)
	v1.DELETE("/sessions/:id", s.handleDeleteSession)
	v1.GET("/models", s.handleModels)
	v1.POST("/chat/completions", s.handleCompletions)
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.echo }

// Start serves on cfg.Addr until Shutdown.
func (s *Server) Start() error {
	s.logger.Info("starting http server", zap.String("addr", s.cfg.Addr))
	if err := s.echo.Start(s.cfg.Addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("api: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}

// LoadModels caches the upstream model list for GET /v1/models, retrying
// with a growing pause.
func (s *Server) LoadModels(ctx context.Context) {
	for attempt := 1; attempt <= 3; attempt++ {
		models, err := s.llm.FetchModels(ctx)
		if err == nil {
			s.mu.Lock()
			s.models = models
			s.mu.Unlock()
			s.logger.Info("models loaded", zap.Int("count", len(models)))
			return
		}
		s.logger.Warn("model load failed", zap.Int("attempt", attempt), zap.Error(err))
		select {
		case <-ctx.Done():
			return
		case <-time.After(time.Duration(attempt) * 2 * time.Second):
		}
	}
	s.logger.Error("could not load models after retries")
}

func (s *Server) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{
		Status:   "ok",
		Sanitize: s.cfg.SanitizeEnabled,
		Upstream: len(s.llm.Endpoints()),
		Sessions: s.sessions.Len(),
	})
}

func (s *Server) handleCreateSession(c echo.Context) error {
	sess := s.sessions.Create()
	return c.JSON(http.StatusCreated, SessionResponse{SessionID: sess.ID})
}

func (s *Server) handleDeleteSession(c echo.Context) error {
	if err := s.sessions.Delete(c.Param("id")); err != nil {
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return c.NoContent(http.StatusNoContent)
}

// lookup resolves the session for a request: an explicit id must exist,
// while an empty id selects the default session.
func (s *Server) lookup(id string) (*session.Session, error) {
	if id == "" {
		return s.sessions.GetOrCreate(""), nil
	}
	sess, err := s.sessions.Get(id)
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusNotFound, fmt.Sprintf("session %q not found", id))
	}
	return sess, nil
}

// sanitizeIn classifies text without holding the session lock, then
// substitutes under it and returns the result plus snapshots taken under
// the same lock. Detector and intent-model calls never block the session.
func (s *Server) sanitizeIn(ctx context.Context, sess *session.Session, text, endpoint string) (*sanitize.Result, map[string]string, *sanitize.Reverser, error) {
	entities := s.sanitizer.Classify(ctx, text)

	var (
		res     *sanitize.Result
		mapping map[string]string
		rev     *sanitize.Reverser
	)
	err := sess.Do(func(engine *sanitize.AliasEngine) error {
		before := engine.Collisions()
		r, err := s.sanitizer.Apply(text, entities, engine)
		if err != nil {
			return err
		}
		res, mapping, rev = r, engine.Mapping(), engine.Reverser()
		s.metrics.ObserveSanitize(endpoint, r.Entities, r.Score, engine.Collisions()-before)
		return nil
	})
	return res, mapping, rev, err
}
