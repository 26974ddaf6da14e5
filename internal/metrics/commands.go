// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	CommandsSubmittedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dglink_commands_submitted_total",
		Help: "Command submissions by class and result",
	}, []string{"class", "result"}) // result=queued|cooldown|invalid

	CommandsDispatchedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dglink_commands_dispatched_total",
		Help: "Commands taken from the queue by class and result",
	}, []string{"class", "result"}) // result=executed|cooldown|disabled|interaction_off|failed

	CommandQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dglink_command_queue_depth",
		Help: "Number of commands waiting for dispatch",
	})

	CommandDispatchLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "dglink_command_dispatch_latency_seconds",
		Help:    "Time between command submission and execution",
		Buckets: []float64{.001, .005, .01, .05, .1, .25, .5, 1, 2.5},
	}, []string{"class"})

	TransportErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dglink_transport_errors_total",
		Help: "Device transport failures by operation",
	}, []string{"op"})

	DispatcherBackoffsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dglink_dispatcher_backoffs_total",
		Help: "Dispatcher iterations that hit an internal error and backed off",
	})
)

// RecordSubmit records a submission outcome.
func RecordSubmit(class, result string) {
	CommandsSubmittedTotal.WithLabelValues(normalize(class), normalize(result)).Inc()
}

// RecordDispatch records a dispatch outcome.
func RecordDispatch(class, result string) {
	CommandsDispatchedTotal.WithLabelValues(normalize(class), normalize(result)).Inc()
}

// RecordTransportError records a failed transport call.
func RecordTransportError(op string) {
	TransportErrorsTotal.WithLabelValues(normalize(op)).Inc()
}
