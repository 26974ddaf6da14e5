// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package controller

import (
	"context"
	"errors"
	"time"

	"github.com/ManuGH/dglink/internal/device"
	xglog "github.com/ManuGH/dglink/internal/log"
	"github.com/ManuGH/dglink/internal/metrics"
)

const restoreTimeout = 2 * time.Second

// Fire raises ch to strength for the fire hold period and then restores the
// strength the device last reported. Only one fire may run at a time;
// overlapping requests return ErrFireModeActive. The restore runs even when
// ctx is cancelled during the hold.
func (c *Controller) Fire(ctx context.Context, ch device.Channel, strength int) error {
	if !ch.Valid() {
		return device.ErrUnknownChannel
	}

	c.fireMu.Lock()
	if c.fireActive {
		c.fireMu.Unlock()
		metrics.FireModeTotal.WithLabelValues("busy").Inc()
		return ErrFireModeActive
	}
	c.fireActive = true
	c.fireMu.Unlock()

	defer func() {
		c.fireMu.Lock()
		c.fireActive = false
		c.fireMu.Unlock()
	}()

	c.mu.RLock()
	origin, restore := c.strength.Value(ch), c.haveStrength
	c.mu.RUnlock()

	logger := xglog.WithContext(ctx, c.logger).With().Str(xglog.FieldChannel, ch.String()).Logger()

	if err := c.SetStrength(ctx, ch, strength); err != nil {
		metrics.FireModeTotal.WithLabelValues("failed").Inc()
		return err
	}
	logger.Info().
		Str(xglog.FieldEvent, "fire.start").
		Int(xglog.FieldValue, strength).
		Msg("fire mode started")

	timer := time.NewTimer(c.fireHold)
	select {
	case <-ctx.Done():
		timer.Stop()
	case <-timer.C:
	}

	if !restore {
		metrics.FireModeTotal.WithLabelValues("fired").Inc()
		logger.Info().Str(xglog.FieldEvent, "fire.end").Msg("fire mode ended without a strength to restore")
		return nil
	}

	rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), restoreTimeout)
	defer cancel()
	if err := c.SetStrength(rctx, ch, origin); err != nil {
		metrics.FireModeTotal.WithLabelValues("failed").Inc()
		return errors.Join(errors.New("restore strength after fire"), err)
	}
	metrics.FireModeTotal.WithLabelValues("fired").Inc()
	logger.Info().
		Str(xglog.FieldEvent, "fire.end").
		Int(xglog.FieldValue, origin).
		Msg("fire mode ended, strength restored")
	return nil
}

// FireActive reports whether a fire hold is in progress.
func (c *Controller) FireActive() bool {
	c.fireMu.Lock()
	defer c.fireMu.Unlock()
	return c.fireActive
}
