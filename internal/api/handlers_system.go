// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/ManuGH/dglink/internal/event"
	xglog "github.com/ManuGH/dglink/internal/log"
	"github.com/ManuGH/dglink/internal/panel"
	"github.com/go-chi/chi/v5"
)

// EventResponse describes an emitted event after dispatch.
type EventResponse struct {
	Name      string         `json:"name"`
	Cancelled bool           `json:"cancelled"`
	Payload   map[string]any `json:"payload"`
}

func eventResponse(e *event.Event) EventResponse {
	if e == nil {
		return EventResponse{}
	}
	return EventResponse{Name: e.Name, Cancelled: e.Cancelled(), Payload: e.Payload}
}

// withoutCancel detaches work from the request's lifetime while keeping its
// values (request id, span).
func withoutCancel(r *http.Request) context.Context {
	return context.WithoutCancel(r.Context())
}

func (s *Server) handleEmitEvent(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if name == "" || name == event.Wildcard {
		writeError(w, r, http.StatusBadRequest, errors.New("event name required"))
		return
	}
	var payload map[string]any
	if err := decodeJSON(r, &payload); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	e := s.deps.Bus.Emit(r.Context(), name, payload)
	writeJSON(w, http.StatusOK, eventResponse(e))
}

func (s *Server) handleListHandlers(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"handlers": s.deps.Bus.Handlers()})
}

func (s *Server) handlePanelAction(w http.ResponseWriter, r *http.Request) {
	if s.deps.Panel == nil {
		writeDomainError(w, r, errNotConfigured)
		return
	}
	var in panel.Input
	if err := decodeJSON(r, &in); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	action := panel.Action(chi.URLParam(r, "action"))
	// Long-press timers and fire holds belong to the panel, not the request.
	if err := s.deps.Panel.Handle(withoutCancel(r), action, in); err != nil {
		writeDomainError(w, r, err)
		return
	}
	step, fire := s.deps.Panel.Settings()
	writeJSON(w, http.StatusOK, map[string]any{
		"action":        string(action),
		"channel":       s.deps.Panel.Channel().String(),
		"step":          step,
		"fire_strength": fire,
	})
}

func (s *Server) handleGameFeedStatus(w http.ResponseWriter, r *http.Request) {
	if s.deps.GameFeed == nil {
		writeDomainError(w, r, errNotConfigured)
		return
	}
	writeJSON(w, http.StatusOK, s.deps.GameFeed.Status())
}

// handleRecentLogs returns the most recent structured log lines. ?limit=N
// keeps the newest N.
func (s *Server) handleRecentLogs(w http.ResponseWriter, r *http.Request) {
	logs := xglog.GetRecentLogs()
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			writeError(w, r, http.StatusBadRequest, errors.New("limit must be a non-negative integer"))
			return
		}
		if n < len(logs) {
			logs = logs[len(logs)-n:]
		}
	}
	if logs == nil {
		logs = []xglog.LogEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"logs": logs, "buffer": xglog.GetBufferMetrics()})
}

func (s *Server) handleConfigReload(w http.ResponseWriter, r *http.Request) {
	if s.deps.Config == nil {
		writeDomainError(w, r, errNotConfigured)
		return
	}
	if err := s.deps.Config.Reload(r.Context()); err != nil {
		s.logger.Warn().Err(err).Str(xglog.FieldEvent, "api.config_reload_failed").Msg("config reload rejected")
		writeError(w, r, http.StatusUnprocessableEntity, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"reloaded": true, "version": s.deps.Config.Get().Version})
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if s.deps.Health == nil {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
		return
	}
	s.deps.Health.ServeHealth(w, r)
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if s.deps.Health == nil {
		writeJSON(w, http.StatusOK, map[string]any{"ready": true})
		return
	}
	s.deps.Health.ServeReady(w, r)
}

// authMiddleware enforces the bearer token when one is configured.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := s.currentToken()
		if token == "" {
			next.ServeHTTP(w, r)
			return
		}
		got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(strings.TrimSpace(got)), []byte(token)) != 1 {
			logger := xglog.WithComponentFromContext(r.Context(), "auth")
			logger.Warn().
				Str(xglog.FieldEvent, "auth.invalid_token").
				Msg("missing or invalid api token")
			writeError(w, r, http.StatusUnauthorized, errUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
