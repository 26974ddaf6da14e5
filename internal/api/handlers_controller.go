// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/ManuGH/dglink/internal/command"
	"github.com/ManuGH/dglink/internal/device"
	xglog "github.com/ManuGH/dglink/internal/log"
	"github.com/go-chi/chi/v5"
)

// CommandRequest is the body of POST /api/v1/commands.
type CommandRequest struct {
	Class     string `json:"class"`
	Channel   string `json:"channel"`
	Operation string `json:"operation"`
	Value     int    `json:"value"`
	Source    string `json:"source,omitempty"`
}

// CommandResponse reports whether the command was queued.
type CommandResponse struct {
	Accepted   bool `json:"accepted"`
	QueueDepth int  `json:"queue_depth"`
}

func (s *Server) handleSubmitCommand(w http.ResponseWriter, r *http.Request) {
	var req CommandRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	if req.Class == "" {
		req.Class = command.ClassGUI.String()
	}
	class, err := command.ParseClass(req.Class)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	ch, err := device.ParseChannel(req.Channel)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	op, err := command.ParseOperation(req.Operation)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}

	accepted := s.deps.Controller.Submit(r.Context(), class, ch, op, req.Value, req.Source)
	code := http.StatusAccepted
	if !accepted {
		code = http.StatusTooManyRequests
	}
	writeJSON(w, code, CommandResponse{Accepted: accepted, QueueDepth: s.deps.Controller.QueueDepth()})
}

func (s *Server) handleControllerStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Controller.Status())
}

// TogglesRequest is the body of PUT /api/v1/controller/toggles. Omitted
// entries are left unchanged.
type TogglesRequest struct {
	Classes     map[string]bool `json:"classes,omitempty"`
	Interaction map[string]bool `json:"interaction,omitempty"`
}

func (s *Server) handleToggles(w http.ResponseWriter, r *http.Request) {
	var req TogglesRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}

	classes := make(map[command.Class]bool, len(req.Classes))
	for name, on := range req.Classes {
		class, err := command.ParseClass(name)
		if err != nil {
			writeDomainError(w, r, fmt.Errorf("%w: %q", err, name))
			return
		}
		classes[class] = on
	}
	modes := make(map[device.Channel]bool, len(req.Interaction))
	for name, on := range req.Interaction {
		ch, err := device.ParseChannel(name)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		modes[ch] = on
	}

	for class, on := range classes {
		s.deps.Controller.SetClassEnabled(class, on)
	}
	// Interaction modes are applied last; they own the interaction class flag.
	for ch, on := range modes {
		s.deps.Controller.SetInteractionMode(ch, on)
	}
	writeJSON(w, http.StatusOK, s.deps.Controller.Status())
}

func (s *Server) handleCooldowns(w http.ResponseWriter, r *http.Request) {
	var req map[string]string
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	parsed := make(map[command.Class]time.Duration, len(req))
	for name, raw := range req {
		class, err := command.ParseClass(name)
		if err != nil {
			writeDomainError(w, r, fmt.Errorf("%w: %q", err, name))
			return
		}
		d, err := time.ParseDuration(raw)
		if err != nil || d < 0 {
			writeError(w, r, http.StatusBadRequest, fmt.Errorf("invalid cooldown %q for %s", raw, name))
			return
		}
		parsed[class] = d
	}
	for class, d := range parsed {
		s.deps.Controller.SetCooldown(class, d)
	}
	writeJSON(w, http.StatusOK, s.deps.Controller.Status())
}

// AmplitudeRequest is the body of PUT /api/v1/controller/amplitude.
type AmplitudeRequest struct {
	Amplitude float64 `json:"amplitude"`
}

func (s *Server) handleAmplitude(w http.ResponseWriter, r *http.Request) {
	var req AmplitudeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	if req.Amplitude < 0 || req.Amplitude > 1 {
		writeError(w, r, http.StatusBadRequest, errors.New("amplitude must be between 0 and 1"))
		return
	}
	s.deps.Controller.SetAmplitude(req.Amplitude)
	writeJSON(w, http.StatusOK, s.deps.Controller.Status())
}

// StrengthReport is the body of POST /api/v1/device/strength.
type StrengthReport struct {
	A      int `json:"a"`
	B      int `json:"b"`
	ALimit int `json:"a_limit"`
	BLimit int `json:"b_limit"`
}

func (s *Server) handleDeviceStrength(w http.ResponseWriter, r *http.Request) {
	var req StrengthReport
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	for _, v := range []int{req.A, req.B, req.ALimit, req.BLimit} {
		if v < 0 || v > device.MaxStrength {
			writeError(w, r, http.StatusBadRequest, fmt.Errorf("strength values must be between 0 and %d", device.MaxStrength))
			return
		}
	}
	e := s.deps.Controller.UpdateStrength(r.Context(), device.Strength{
		A: req.A, B: req.B, ALimit: req.ALimit, BLimit: req.BLimit,
	})
	writeJSON(w, http.StatusOK, eventResponse(e))
}

// ConnectionRequest is the body of POST /api/v1/device/connection.
type ConnectionRequest struct {
	Connected bool `json:"connected"`
}

func (s *Server) handleDeviceConnection(w http.ResponseWriter, r *http.Request) {
	var req ConnectionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	e := s.deps.Controller.SetConnected(r.Context(), req.Connected)
	if e == nil {
		writeJSON(w, http.StatusOK, map[string]any{"changed": false, "connected": req.Connected})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"changed": true, "connected": req.Connected, "event": eventResponse(e)})
}

// FeedbackRequest is the body of POST /api/v1/device/feedback.
type FeedbackRequest struct {
	Button int `json:"button"`
}

func (s *Server) handleDeviceFeedback(w http.ResponseWriter, r *http.Request) {
	var req FeedbackRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	if req.Button < 0 || req.Button > 9 {
		writeError(w, r, http.StatusBadRequest, errors.New("button must be between 0 and 9"))
		return
	}
	writeJSON(w, http.StatusOK, eventResponse(s.deps.Controller.FeedbackButton(r.Context(), req.Button)))
}

func (s *Server) handleListWaveforms(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"waveforms": s.deps.Controller.Waveforms().Names()})
}

// WaveformRequest is the body of POST /api/v1/waveforms/{channel}.
type WaveformRequest struct {
	Name string `json:"name"`
}

func (s *Server) handleStartWaveform(w http.ResponseWriter, r *http.Request) {
	ch, err := device.ParseChannel(chi.URLParam(r, "channel"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	var req WaveformRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	if err := s.deps.Controller.StartWaveformLoop(r.Context(), ch, req.Name); err != nil {
		writeDomainError(w, r, err)
		return
	}
	s.logger.Info().
		Str(xglog.FieldEvent, "api.waveform_started").
		Str(xglog.FieldChannel, ch.String()).
		Str("waveform", req.Name).
		Msg("waveform loop started")
	writeJSON(w, http.StatusAccepted, map[string]any{"channel": ch.String(), "waveform": req.Name})
}

func (s *Server) handleStopWaveform(w http.ResponseWriter, r *http.Request) {
	ch, err := device.ParseChannel(chi.URLParam(r, "channel"))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"channel": ch.String(), "stopped": s.deps.Controller.StopWaveformLoop(ch)})
}

// FireRequest is the body of POST /api/v1/fire.
type FireRequest struct {
	Channel  string `json:"channel"`
	Strength int    `json:"strength"`
}

func (s *Server) handleFire(w http.ResponseWriter, r *http.Request) {
	var req FireRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	ch, err := device.ParseChannel(req.Channel)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	if req.Strength <= 0 || req.Strength > device.MaxStrength {
		writeError(w, r, http.StatusBadRequest, fmt.Errorf("strength must be between 1 and %d", device.MaxStrength))
		return
	}
	// Fire blocks for the hold period; a client disconnect ends the hold early.
	if err := s.deps.Controller.Fire(r.Context(), ch, req.Strength); err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"channel": ch.String(), "strength": req.Strength})
}
