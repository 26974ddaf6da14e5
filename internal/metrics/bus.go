// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	EventsEmittedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dglink_events_emitted_total",
		Help: "Total number of event bus emissions by event name and outcome",
	}, []string{"event", "outcome"}) // outcome=delivered|cancelled|unhandled

	EventHandlerFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dglink_event_handler_failures_total",
		Help: "Total number of event handler errors and panics by event name and owner",
	}, []string{"event", "owner", "reason"}) // reason=error|panic

	EventHandlersRegistered = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dglink_event_handlers_registered",
		Help: "Current number of registered event handlers",
	})
)

// RecordEmit records one emission of event.
func RecordEmit(event string, handlers int, cancelled bool) {
	outcome := "delivered"
	switch {
	case handlers == 0:
		outcome = "unhandled"
	case cancelled:
		outcome = "cancelled"
	}
	EventsEmittedTotal.WithLabelValues(normalize(event), outcome).Inc()
}

// RecordHandlerFailure records a handler error or panic.
func RecordHandlerFailure(event, owner string, panicked bool) {
	reason := "error"
	if panicked {
		reason = "panic"
	}
	if owner == "" {
		owner = "core"
	}
	EventHandlerFailuresTotal.WithLabelValues(normalize(event), owner, reason).Inc()
}

func normalize(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}
