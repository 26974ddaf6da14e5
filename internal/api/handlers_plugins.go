// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"fmt"
	"net/http"

	"github.com/ManuGH/dglink/internal/plugin"
	"github.com/go-chi/chi/v5"
)

// PluginList is the body of GET /api/v1/plugins.
type PluginList struct {
	Plugins []plugin.Info  `json:"plugins"`
	Counts  map[string]int `json:"counts"`
}

func (s *Server) handleListPlugins(w http.ResponseWriter, _ *http.Request) {
	list := s.deps.Plugins.List()
	if list == nil {
		list = []plugin.Info{}
	}
	writeJSON(w, http.StatusOK, PluginList{Plugins: list, Counts: s.deps.Plugins.Counts()})
}

func (s *Server) handleLoadFailures(w http.ResponseWriter, _ *http.Request) {
	failures := s.deps.Plugins.LoadFailures()
	if failures == nil {
		failures = []plugin.LoadFailure{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"failures": failures})
}

func (s *Server) handleGetPlugin(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	info, ok := s.deps.Plugins.Get(key)
	if !ok {
		writeDomainError(w, r, fmt.Errorf("%w: %s", plugin.ErrPluginNotFound, key))
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// TransitionResponse reports the outcome of an enable or disable request.
// Changed is false when the plugin was already in the requested state or the
// transition failed; State is the resulting state.
type TransitionResponse struct {
	Key       string       `json:"key"`
	Changed   bool         `json:"changed"`
	State     plugin.State `json:"state"`
	LastError string       `json:"last_error,omitempty"`
}

func (s *Server) transition(w http.ResponseWriter, r *http.Request, enable bool) {
	key := chi.URLParam(r, "key")
	if _, ok := s.deps.Plugins.Get(key); !ok {
		writeDomainError(w, r, fmt.Errorf("%w: %s", plugin.ErrPluginNotFound, key))
		return
	}
	// Plugin lifecycle calls must not be cut short by the client going away.
	ctx := withoutCancel(r)
	var changed bool
	if enable {
		changed = s.deps.Plugins.Enable(ctx, key)
	} else {
		changed = s.deps.Plugins.Disable(ctx, key)
	}
	info, _ := s.deps.Plugins.Get(key)
	writeJSON(w, http.StatusOK, TransitionResponse{
		Key:       key,
		Changed:   changed,
		State:     info.State,
		LastError: info.LastError,
	})
}

func (s *Server) handleEnablePlugin(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, true)
}

func (s *Server) handleDisablePlugin(w http.ResponseWriter, r *http.Request) {
	s.transition(w, r, false)
}

func (s *Server) handleEnableAll(w http.ResponseWriter, r *http.Request) {
	n := s.deps.Plugins.EnableAll(withoutCancel(r))
	writeJSON(w, http.StatusOK, map[string]any{"enabled": n, "counts": s.deps.Plugins.Counts()})
}

func (s *Server) handleDisableAll(w http.ResponseWriter, r *http.Request) {
	n := s.deps.Plugins.DisableAll(withoutCancel(r))
	writeJSON(w, http.StatusOK, map[string]any{"disabled": n, "counts": s.deps.Plugins.Counts()})
}

func (s *Server) handlePluginCommand(w http.ResponseWriter, r *http.Request) {
	key, name := chi.URLParam(r, "key"), chi.URLParam(r, "command")
	args := map[string]any{}
	if err := decodeJSON(r, &args); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	result, err := s.deps.Plugins.ExecuteCommand(r.Context(), key, name, args)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"result": result})
}

func (s *Server) handlePluginSettings(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")
	var values map[string]any
	if err := decodeJSON(r, &values); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	if err := s.deps.Plugins.UpdateSettings(r.Context(), key, values); err != nil {
		writeDomainError(w, r, err)
		return
	}
	info, _ := s.deps.Plugins.Get(key)
	writeJSON(w, http.StatusOK, info)
}
