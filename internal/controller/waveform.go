// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package controller

import (
	"context"
	"errors"
	"time"

	"github.com/ManuGH/dglink/internal/device"
	"github.com/ManuGH/dglink/internal/event"
	xglog "github.com/ManuGH/dglink/internal/log"
	"github.com/ManuGH/dglink/internal/metrics"
)

// sendPulse replaces the queued waveform on ch with the active pulse mode,
// scaled by the amplitude factor.
func (c *Controller) sendPulse(ctx context.Context, ch device.Channel, reason string) error {
	c.pushMu.Lock()
	defer c.pushMu.Unlock()
	return c.sendPulseLocked(ctx, ch, reason)
}

// sendPulseLocked pushes the active waveform of ch. Callers hold pushMu.
func (c *Controller) sendPulseLocked(ctx context.Context, ch device.Channel, reason string) error {
	c.mu.RLock()
	mode, factor := c.pulseMode[ch], c.amplitude
	c.mu.RUnlock()

	w, err := c.waveforms.Get(mode)
	if err != nil {
		return err
	}
	frames := make([]device.Frame, len(w.Frames))
	for i, f := range w.Frames {
		frames[i] = f.Scale(factor)
	}
	if err := c.transport.SetPulse(ctx, ch, frames); err != nil {
		return asTransportError("set_pulse", ch, err)
	}
	c.lastPush[ch] = c.now()
	metrics.RecordWaveformPush(ch.String(), reason)

	c.logger.Debug().
		Str(xglog.FieldChannel, ch.String()).
		Str("waveform", w.Name).
		Str("reason", reason).
		Msg("waveform pushed")
	return nil
}

// RunKeepAlive re-sends the active waveform of every channel whose last push
// is older than the staleness threshold. Nothing is sent before the device
// has reported its strength. It returns nil when ctx is cancelled.
func (c *Controller) RunKeepAlive(ctx context.Context) error {
	ticker := time.NewTicker(c.keepAliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			c.keepAlive(ctx)
		}
	}
}

func (c *Controller) keepAlive(ctx context.Context) {
	c.mu.RLock()
	ready := c.haveStrength
	c.mu.RUnlock()
	if !ready {
		return
	}

	for _, ch := range device.Channels {
		if err := c.keepAliveChannel(ctx, ch); err != nil {
			var te *device.TransportError
			if errors.As(err, &te) {
				metrics.RecordTransportError(te.Op)
			}
			c.logger.Warn().
				Err(err).
				Str(xglog.FieldEvent, "waveform.keepalive_failed").
				Str(xglog.FieldChannel, ch.String()).
				Msg("waveform keep-alive failed")
		}
	}
}

// keepAliveChannel re-sends the waveform of ch if it is stale. The check and
// the push happen under one pushMu hold.
func (c *Controller) keepAliveChannel(ctx context.Context, ch device.Channel) error {
	c.pushMu.Lock()
	defer c.pushMu.Unlock()
	if c.now().Sub(c.lastPush[ch]) <= c.staleAfter {
		return nil
	}
	return c.sendPulseLocked(ctx, ch, "keepalive")
}

// StartWaveformLoop streams the named waveform to ch by appending its frames
// every loop interval. Starting a loop supersedes any loop already running on
// ch. The loop outlives ctx's cancellation; stop it with StopWaveformLoop or
// Close.
func (c *Controller) StartWaveformLoop(ctx context.Context, ch device.Channel, name string) error {
	if !ch.Valid() {
		return device.ErrUnknownChannel
	}
	w, _, err := c.waveforms.Lookup(name)
	if err != nil {
		return err
	}

	loopCtx, cancel := context.WithCancel(event.Detach(ctx))

	c.loopMu.Lock()
	if prev := c.loopCancel[ch]; prev != nil {
		prev()
	}
	c.loopGen[ch]++
	gen := c.loopGen[ch]
	c.loopCancel[ch] = cancel
	c.loopName[ch] = w.Name
	c.loopWG.Add(1)
	c.loopMu.Unlock()

	c.logger.Info().
		Str(xglog.FieldEvent, "waveform.loop_start").
		Str(xglog.FieldChannel, ch.String()).
		Str("waveform", w.Name).
		Uint64("generation", gen).
		Msg("waveform loop started")

	go c.runLoop(loopCtx, ch, gen, w)
	return nil
}

// StopWaveformLoop stops the loop on ch. It reports whether one was running.
func (c *Controller) StopWaveformLoop(ch device.Channel) bool {
	if !ch.Valid() {
		return false
	}
	c.loopMu.Lock()
	defer c.loopMu.Unlock()

	c.loopGen[ch]++
	cancel := c.loopCancel[ch]
	c.loopCancel[ch] = nil
	c.loopName[ch] = ""
	if cancel == nil {
		return false
	}
	cancel()
	return true
}

// current reports whether gen is still the live generation of ch.
func (c *Controller) current(ch device.Channel, gen uint64) bool {
	c.loopMu.Lock()
	defer c.loopMu.Unlock()
	return c.loopGen[ch] == gen
}

func (c *Controller) runLoop(ctx context.Context, ch device.Channel, gen uint64, w device.Waveform) {
	defer c.loopWG.Done()
	defer func() {
		c.loopMu.Lock()
		if c.loopGen[ch] == gen {
			c.loopCancel[ch] = nil
			c.loopName[ch] = ""
		}
		c.loopMu.Unlock()
	}()

	ticker := time.NewTicker(c.loopInterval)
	defer ticker.Stop()

	for {
		if !c.current(ch, gen) {
			return
		}
		if err := c.pushFrames(ctx, ch, w); err != nil {
			if ctx.Err() != nil {
				return
			}
			c.logger.Warn().
				Err(err).
				Str(xglog.FieldEvent, "waveform.loop_push_failed").
				Str(xglog.FieldChannel, ch.String()).
				Msg("waveform loop push failed")
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (c *Controller) pushFrames(ctx context.Context, ch device.Channel, w device.Waveform) error {
	c.pushMu.Lock()
	defer c.pushMu.Unlock()

	c.mu.RLock()
	factor := c.amplitude
	c.mu.RUnlock()

	frames := make([]device.Frame, len(w.Frames))
	for i, f := range w.Frames {
		frames[i] = f.Scale(factor)
	}
	if err := c.transport.AddPulses(ctx, ch, frames...); err != nil {
		return asTransportError("add_pulses", ch, err)
	}
	c.lastPush[ch] = c.now()
	metrics.RecordWaveformPush(ch.String(), "loop")
	return nil
}
