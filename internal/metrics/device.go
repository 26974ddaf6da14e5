// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	WaveformPushesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dglink_waveform_pushes_total",
		Help: "Waveform frames pushed to the device by channel and reason",
	}, []string{"channel", "reason"}) // reason=keepalive|loop|mode_change

	DeviceConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dglink_device_connected",
		Help: "Whether the paired device is currently online (1) or not (0)",
	})

	DeviceStrength = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "dglink_device_strength",
		Help: "Last reported strength per channel",
	}, []string{"channel"})

	FireModeTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dglink_fire_mode_total",
		Help: "Fire mode requests by outcome",
	}, []string{"outcome"}) // outcome=fired|busy|failed

	GameFeedMessagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "dglink_gamefeed_messages_total",
		Help: "Game telemetry messages by outcome",
	}, []string{"outcome"}) // outcome=emitted|raw|throttled

	GameFeedConnected = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dglink_gamefeed_connected",
		Help: "Whether the game telemetry feed is connected (1) or not (0)",
	})

	GameFeedReconnectsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dglink_gamefeed_reconnects_total",
		Help: "Game telemetry feed reconnect attempts",
	})
)

// RecordWaveformPush records one waveform push.
func RecordWaveformPush(channel, reason string) {
	WaveformPushesTotal.WithLabelValues(normalize(channel), normalize(reason)).Inc()
}

// SetDeviceConnected updates the device connection gauge.
func SetDeviceConnected(online bool) {
	DeviceConnected.Set(boolGauge(online))
}

// SetGameFeedConnected updates the game feed connection gauge.
func SetGameFeedConnected(online bool) {
	GameFeedConnected.Set(boolGauge(online))
}

func boolGauge(v bool) float64 {
	if v {
		return 1
	}
	return 0
}
