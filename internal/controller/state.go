// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package controller

import (
	"context"

	"github.com/ManuGH/dglink/internal/device"
	"github.com/ManuGH/dglink/internal/event"
	xglog "github.com/ManuGH/dglink/internal/log"
	"github.com/ManuGH/dglink/internal/metrics"
)

// UpdateStrength records a strength report from the device and publishes
// strength_data_received. A report implies the device is online.
func (c *Controller) UpdateStrength(ctx context.Context, s device.Strength) *event.Event {
	c.mu.Lock()
	c.strength = s
	c.haveStrength = true
	c.connected = true
	c.mu.Unlock()

	metrics.SetDeviceConnected(true)
	metrics.DeviceStrength.WithLabelValues(device.ChannelA.String()).Set(float64(s.A))
	metrics.DeviceStrength.WithLabelValues(device.ChannelB.String()).Set(float64(s.B))

	c.logger.Info().
		Str(xglog.FieldEvent, "device.strength_report").
		Int("a", s.A).
		Int("b", s.B).
		Int("a_limit", s.ALimit).
		Int("b_limit", s.BLimit).
		Msg("strength report received")

	return c.emit(ctx, event.StrengthDataReceived, map[string]any{
		"a":       s.A,
		"b":       s.B,
		"a_limit": s.ALimit,
		"b_limit": s.BLimit,
	})
}

// SetConnected records the pairing state and publishes
// connection_status_changed when it changes. It returns nil when the state
// did not change.
func (c *Controller) SetConnected(ctx context.Context, connected bool) *event.Event {
	c.mu.Lock()
	changed := c.connected != connected
	c.connected = connected
	c.mu.Unlock()

	if !changed {
		return nil
	}
	metrics.SetDeviceConnected(connected)

	lvl := c.logger.Info()
	if !connected {
		lvl = c.logger.Warn()
	}
	lvl.Str(xglog.FieldEvent, "device.connection").
		Bool("connected", connected).
		Msg("device connection changed")

	return c.emit(ctx, event.ConnectionStatusChanged, map[string]any{"is_connected": connected})
}

// FeedbackButton publishes feedback_button_pressed for a device button.
func (c *Controller) FeedbackButton(ctx context.Context, button int) *event.Event {
	c.logger.Info().
		Str(xglog.FieldEvent, "device.feedback_button").
		Int("button", button).
		Msg("feedback button pressed")
	return c.emit(ctx, event.FeedbackButtonPressed, map[string]any{"button": button})
}
