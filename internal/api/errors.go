// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/ManuGH/dglink/internal/api/middleware"
	"github.com/ManuGH/dglink/internal/command"
	"github.com/ManuGH/dglink/internal/controller"
	"github.com/ManuGH/dglink/internal/device"
	"github.com/ManuGH/dglink/internal/panel"
	"github.com/ManuGH/dglink/internal/plugin"
	chimw "github.com/go-chi/chi/v5/middleware"
)

const maxBodyBytes = 1 << 20

var (
	errNotFound         = errors.New("not found")
	errMethodNotAllowed = errors.New("method not allowed")
	errUnauthorized     = errors.New("unauthorized")
	errNotConfigured    = errors.New("not configured")
	errRejected         = errors.New("command rejected")
)

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
	TraceID   string `json:"trace_id,omitempty"`
}

// writeJSON writes a JSON response with the given status code
func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes err with the given status, tagged with the request and
// trace ids.
func writeError(w http.ResponseWriter, r *http.Request, code int, err error) {
	traceID, _ := middleware.ExtractTraceContext(r)
	writeJSON(w, code, ErrorResponse{
		Error:     err.Error(),
		RequestID: chimw.GetReqID(r.Context()),
		TraceID:   traceID,
	})
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, plugin.ErrPluginNotFound),
		errors.Is(err, plugin.ErrCommandNotFound),
		errors.Is(err, errNotFound):
		return http.StatusNotFound
	case errors.Is(err, plugin.ErrPluginDisabled),
		errors.Is(err, controller.ErrFireModeActive),
		errors.Is(err, controller.ErrNoStrengthReport):
		return http.StatusConflict
	case errors.Is(err, errRejected), errors.Is(err, panel.ErrRejected):
		return http.StatusTooManyRequests
	case errors.Is(err, errNotConfigured):
		return http.StatusNotImplemented
	case errors.Is(err, plugin.ErrUnknownSetting),
		errors.Is(err, plugin.ErrInvalidSetting),
		errors.Is(err, panel.ErrUnknownAction),
		errors.Is(err, device.ErrUnknownChannel),
		errors.Is(err, device.ErrUnknownWaveform),
		errors.Is(err, command.ErrUnknownClass),
		errors.Is(err, command.ErrUnknownOperation),
		errors.Is(err, controller.ErrInvalidCommand):
		return http.StatusBadRequest
	}
	var execErr *plugin.ExecutionError
	if errors.As(err, &execErr) {
		return http.StatusBadGateway
	}
	var transportErr *device.TransportError
	if errors.As(err, &transportErr) {
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	writeError(w, r, statusFor(err), err)
}

// decodeJSON strictly decodes the request body into v. An empty body leaves
// v untouched.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}
