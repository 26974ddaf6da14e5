// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PluginTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dglink_plugin_transitions_total",
		Help: "Plugin lifecycle transitions by target state and outcome",
	}, []string{"state", "outcome"}) // outcome=ok|failed|noop

	PluginLoadFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dglink_plugin_load_failures_total",
		Help: "Discovered plugin units that could not be loaded, by source",
	}, []string{"source"})

	PluginsByState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "dglink_plugins",
		Help: "Current number of plugins per lifecycle state",
	}, []string{"state"})

	PluginCommandsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dglink_plugin_commands_total",
		Help: "Plugin command executions by outcome",
	}, []string{"outcome"}) // outcome=ok|error|not_found|disabled
)

// RecordPluginTransition records a lifecycle transition attempt.
func RecordPluginTransition(state, outcome string) {
	PluginTransitionsTotal.WithLabelValues(normalize(state), normalize(outcome)).Inc()
}

// RecordPluginLoadFailure records a unit skipped during discovery.
func RecordPluginLoadFailure(source string) {
	PluginLoadFailuresTotal.WithLabelValues(normalize(source)).Inc()
}

// SetPluginStates replaces the per-state plugin gauge.
func SetPluginStates(counts map[string]int) {
	PluginsByState.Reset()
	for state, n := range counts {
		PluginsByState.WithLabelValues(state).Set(float64(n))
	}
}
