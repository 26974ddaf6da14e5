// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package event implements the in-process, priority-ordered event bus that
// carries plugin lifecycle and device-state notifications.
package event

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync/atomic"
)

// Priority orders handlers within one emission. Higher runs first, except
// Monitor which always runs last and is reserved for passive observers.
type Priority int

const (
	PriorityLowest Priority = iota
	PriorityLow
	PriorityNormal
	PriorityHigh
	PriorityHighest
	PriorityMonitor
)

// Wildcard is the event name whose handlers receive every emission.
const Wildcard = "*"

// Well-known event names.
const (
	PluginEnabled           = "plugin_enabled"
	PluginDisabled          = "plugin_disabled"
	ConnectionStatusChanged = "connection_status_changed"
	StrengthDataReceived    = "strength_data_received"
	FeedbackButtonPressed   = "feedback_button_pressed"
	ExternalTelemetry       = "external_telemetry"
	ExternalFeedStatus      = "external_feed_status"
)

func (p Priority) String() string {
	switch p {
	case PriorityLowest:
		return "lowest"
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityHighest:
		return "highest"
	case PriorityMonitor:
		return "monitor"
	default:
		return fmt.Sprintf("priority(%d)", int(p))
	}
}

// ParsePriority parses a priority name; an empty string means normal.
func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "lowest":
		return PriorityLowest, nil
	case "low":
		return PriorityLow, nil
	case "", "normal":
		return PriorityNormal, nil
	case "high":
		return PriorityHigh, nil
	case "highest":
		return PriorityHighest, nil
	case "monitor":
		return PriorityMonitor, nil
	default:
		return 0, fmt.Errorf("unknown event priority %q", s)
	}
}

// rank is the dispatch sort key: larger runs earlier, Monitor sorts below Lowest.
func (p Priority) rank() int {
	if p == PriorityMonitor {
		return -1
	}
	return int(p)
}

// Event is a single emission. It lives only for the duration of Emit.
type Event struct {
	Name    string
	Payload map[string]any

	cancelled atomic.Bool
}

// New builds an event with a non-nil payload.
func New(name string, payload map[string]any) *Event {
	if payload == nil {
		payload = map[string]any{}
	}
	return &Event{Name: name, Payload: payload}
}

// Cancel stops delivery to the remaining non-Monitor handlers.
func (e *Event) Cancel() { e.cancelled.Store(true) }

// Cancelled reports whether a handler cancelled the event.
func (e *Event) Cancelled() bool { return e.cancelled.Load() }

// Get returns the payload value for key.
func (e *Event) Get(key string) (any, bool) {
	v, ok := e.Payload[key]
	return v, ok
}

// String returns the payload value for key when it is a string.
func (e *Event) String(key string) string {
	if v, ok := e.Payload[key].(string); ok {
		return v
	}
	return ""
}

// Int returns the payload value for key converted to int. JSON numbers are
// accepted.
func (e *Event) Int(key string) (int, bool) {
	switch v := e.Payload[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case float64:
		return int(v), true
	case json.Number:
		n, err := v.Int64()
		return int(n), err == nil
	default:
		return 0, false
	}
}

// Bool returns the payload value for key when it is a bool.
func (e *Event) Bool(key string) bool {
	v, _ := e.Payload[key].(bool)
	return v
}

// MarshalJSON renders the event for API responses.
func (e *Event) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Name      string         `json:"name"`
		Payload   map[string]any `json:"payload"`
		Cancelled bool           `json:"cancelled"`
	}{e.Name, e.Payload, e.Cancelled()})
}
