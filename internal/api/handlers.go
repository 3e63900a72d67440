package api

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/gonkalabs/silent-protocol/internal/sanitize"
	"github.com/gonkalabs/silent-protocol/internal/upstream"
)

// handleChat sanitises the message, sends it upstream and restores the reply.
func (s *Server) handleChat(c echo.Context) error {
	var req ChatRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid chat request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if strings.TrimSpace(req.Message) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "message field is required")
	}
	sess, err := s.lookup(req.SessionID)
	if err != nil {
		return err
	}

	ctx := c.Request().Context()
	res, mapping, rev, err := s.sanitizeIn(ctx, sess, req.Message, "chat")
	if err != nil {
		s.logger.Error("sanitize failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "sanitization failed")
	}

	reply, err := s.llm.Complete(ctx, upstream.CompletionRequest{
		Model:       s.cfg.Model,
		Messages:    []upstream.Message{{Role: "user", Content: res.Sanitized}},
		Temperature: s.cfg.Temperature,
		MaxTokens:   s.cfg.MaxTokens,
	})
	if err != nil {
		s.logger.Error("upstream error", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadGateway, "upstream error: "+err.Error())
	}
	s.metrics.ObserveRestore("full")

	return c.JSON(http.StatusOK, ChatResponse{
		SessionID:       sess.ID,
		Response:        rev.Reverse(reply),
		SanitizedPrompt: res.Sanitized,
		Entities:        entitiesWithAliases(res.Entities, mapping),
		AliasMap:        mapping,
		PrivacyScore:    res.Score,
	})
}

func (s *Server) handleSanitize(c echo.Context) error {
	var req TextRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	sess, err := s.lookup(req.SessionID)
	if err != nil {
		return err
	}
	res, mapping, _, err := s.sanitizeIn(c.Request().Context(), sess, req.Text, "sanitize")
	if err != nil {
		s.logger.Error("sanitize failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "sanitization failed")
	}
	return c.JSON(http.StatusOK, SanitizeResponse{
		SessionID:    sess.ID,
		Sanitized:    res.Sanitized,
		Entities:     entitiesWithAliases(res.Entities, mapping),
		PrivacyScore: res.Score,
	})
}

func (s *Server) handleDesanitize(c echo.Context) error {
	var req TextRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	sess, err := s.lookup(req.SessionID)
	if err != nil {
		return err
	}
	var out string
	_ = sess.Do(func(engine *sanitize.AliasEngine) error {
		out = s.sanitizer.Desanitize(req.Text, engine)
		return nil
	})
	s.metrics.ObserveRestore("full")
	return c.JSON(http.StatusOK, DesanitizeResponse{SessionID: sess.ID, Text: out})
}

// handleClassify reports what would be replaced without creating aliases.
func (s *Server) handleClassify(c echo.Context) error {
	var req TextRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	entities := s.sanitizer.Classify(c.Request().Context(), req.Text)
	if entities == nil {
		entities = []sanitize.ClassifiedSpan{}
	}
	return c.JSON(http.StatusOK, ClassifyResponse{
		Entities:     entities,
		PrivacyScore: sanitize.ComputePrivacyScore(entities),
	})
}

func (s *Server) handleAliases(c echo.Context) error {
	sess, err := s.lookup(c.QueryParam("session_id"))
	if err != nil {
		return err
	}
	var mapping map[string]string
	_ = sess.Do(func(engine *sanitize.AliasEngine) error {
		mapping = engine.Mapping()
		return nil
	})
	return c.JSON(http.StatusOK, AliasesResponse{SessionID: sess.ID, Aliases: mapping, Total: len(mapping)})
}

func (s *Server) handleReset(c echo.Context) error {
	var req ResetRequest
	if c.Request().ContentLength > 0 {
		if err := c.Bind(&req); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
		}
	}
	if req.SessionID == "" {
		req.SessionID = c.QueryParam("session_id")
	}
	sess, err := s.lookup(req.SessionID)
	if err != nil {
		return err
	}
	_ = sess.Do(func(engine *sanitize.AliasEngine) error {
		engine.Reset()
		return nil
	})
	s.logger.Info("session reset", zap.String("session_id", sess.ID))
	return c.JSON(http.StatusOK, ResetResponse{Status: "reset", Message: "All aliases cleared"})
}
