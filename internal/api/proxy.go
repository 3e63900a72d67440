package api

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/gonkalabs/silent-protocol/internal/sanitize"
)

const maxRequestBody = 8 << 20

type modelEntry struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

// handleModels lists the cached upstream models, or the configured model
// when none could be loaded.
func (s *Server) handleModels(c echo.Context) error {
	s.mu.RLock()
	models := s.models
	s.mu.RUnlock()

	var entries []modelEntry
	for _, raw := range models {
		var m struct {
			ID      string `json:"id"`
			Created int64  `json:"created"`
			OwnedBy string `json:"owned_by"`
		}
		if json.Unmarshal(raw, &m) == nil && m.ID != "" {
			entries = append(entries, modelEntry{ID: m.ID, Object: "model", Created: m.Created, OwnedBy: m.OwnedBy})
		}
	}
	if len(entries) == 0 && s.cfg.Model != "" {
		entries = []modelEntry{{ID: s.cfg.Model, Object: "model", OwnedBy: "upstream"}}
	}
	return c.JSON(http.StatusOK, map[string]any{"object": "list", "data": entries})
}

// handleCompletions sanitises every message of an OpenAI chat request,
// forwards it and restores aliases in the reply, streamed or not.
func (s *Server) handleCompletions(c echo.Context) error {
	body, err := io.ReadAll(io.LimitReader(c.Request().Body, maxRequestBody))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "failed to read body")
	}

	var peek struct {
		Stream bool   `json:"stream"`
		Model  string `json:"model"`
	}
	if err := json.Unmarshal(body, &peek); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid JSON body")
	}
	if peek.Model == "" && s.cfg.Model != "" {
		body, err = setField(body, "model", s.cfg.Model)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid JSON body")
		}
	}

	var (
		rev        *sanitize.Reverser
		redactions []sanitize.Redaction
	)
	if s.cfg.SanitizeEnabled {
		sess, err := s.lookup(c.Request().Header.Get(HeaderSessionID))
		if err != nil {
			return err
		}
		c.Response().Header().Set(HeaderSessionID, sess.ID)

		plan, err := s.sanitizer.ClassifyMessages(c.Request().Context(), body)
		if err != nil {
			s.logger.Warn("could not classify chat request", zap.Error(err))
			return echo.NewHTTPError(http.StatusBadRequest, "could not sanitize request")
		}
		err = sess.Do(func(engine *sanitize.AliasEngine) error {
			before := engine.Collisions()
			out, res, err := s.sanitizer.ApplyMessages(plan, engine)
			if err != nil {
				return err
			}
			body, rev, redactions = out, engine.Reverser(), engine.Redactions()
			s.metrics.ObserveSanitize("completions", res.Entities, res.Score, engine.Collisions()-before)
			return nil
		})
		if err != nil {
			s.logger.Warn("could not sanitize chat request", zap.Error(err))
			return echo.NewHTTPError(http.StatusBadRequest, "could not sanitize request")
		}
	}

	s.logger.Debug("chat completions", zap.Bool("stream", peek.Stream), zap.Int("body_len", len(body)))
	if peek.Stream {
		return s.streamCompletion(c, body, rev, redactions)
	}
	return s.completion(c, body, rev, redactions)
}

func (s *Server) completion(c echo.Context, body []byte, rev *sanitize.Reverser, redactions []sanitize.Redaction) error {
	respBody, status, err := s.llm.Do(c.Request().Context(), http.MethodPost, "/chat/completions", body)
	if err != nil {
		s.logger.Error("upstream error", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadGateway, "upstream error: "+err.Error())
	}
	if rev != nil && rev.Len() > 0 {
		respBody = restoreJSON(respBody, rev)
		s.metrics.ObserveRestore("full")
	}
	setRedactionsHeader(c, redactions)
	return c.Blob(status, echo.MIMEApplicationJSON, respBody)
}

func (s *Server) streamCompletion(c echo.Context, body []byte, rev *sanitize.Reverser, redactions []sanitize.Redaction) error {
	resp, err := s.llm.DoStream(c.Request().Context(), http.MethodPost, "/chat/completions", body)
	if err != nil {
		s.logger.Error("upstream stream error", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadGateway, "upstream error: "+err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		s.logger.Warn("upstream stream status", zap.Int("status", resp.StatusCode))
		return c.Blob(resp.StatusCode, echo.MIMEApplicationJSON, errBody)
	}

	setRedactionsHeader(c, redactions)
	h := c.Response().Header()
	h.Set(echo.HeaderContentType, "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	c.Response().WriteHeader(http.StatusOK)

	var src io.Reader = resp.Body
	if rev != nil {
		src = sanitize.NewRestoringReader(resp.Body, rev)
		s.metrics.ObserveRestore("stream")
	}

	buf := make([]byte, 4096)
	for {
		n, readErr := src.Read(buf)
		if n > 0 {
			if _, err := c.Response().Write(buf[:n]); err != nil {
				s.logger.Warn("client write error", zap.Error(err))
				return nil
			}
			c.Response().Flush()
		}
		if readErr != nil {
			if !errors.Is(readErr, io.EOF) {
				s.logger.Warn("upstream read error", zap.Error(readErr))
			}
			return nil
		}
	}
}

func setRedactionsHeader(c echo.Context, redactions []sanitize.Redaction) {
	if len(redactions) == 0 {
		return
	}
	b, err := json.Marshal(redactions)
	if err != nil {
		return
	}
	c.Response().Header().Set(HeaderRedactions, base64.StdEncoding.EncodeToString(b))
}

// restoreJSON reverses aliases in every string value of a JSON document so
// restored text is re-escaped correctly. Non-JSON bodies are restored as
// plain text.
func restoreJSON(body []byte, rev *sanitize.Reverser) []byte {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return []byte(rev.Reverse(string(body)))
	}
	out, err := json.Marshal(restoreValue(doc, rev))
	if err != nil {
		return body
	}
	return out
}

func restoreValue(v any, rev *sanitize.Reverser) any {
	switch t := v.(type) {
	case string:
		return rev.Reverse(t)
	case []any:
		for i := range t {
			t[i] = restoreValue(t[i], rev)
		}
		return t
	case map[string]any:
		for k, val := range t {
			t[k] = restoreValue(val, rev)
		}
		return t
	default:
		return v
	}
}

func setField(body []byte, key, value string) ([]byte, error) {
	var req map[string]json.RawMessage
	if err := json.Unmarshal(body, &req); err != nil {
		return nil, err
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	req[key] = raw
	return json.Marshal(req)
}
