// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package controller

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/ManuGH/dglink/internal/command"
	"github.com/ManuGH/dglink/internal/device"
	xglog "github.com/ManuGH/dglink/internal/log"
	"github.com/ManuGH/dglink/internal/metrics"
	"github.com/ManuGH/dglink/internal/telemetry"
	"go.opentelemetry.io/otel/codes"
)

// Submit debounces and enqueues a command. It returns false when the command
// is invalid or rejected by the cooldown gate; neither case is an error for
// the producer. An empty source shares the "default" cooldown slot of its
// class, while the queued command still gets a unique source id.
func (c *Controller) Submit(ctx context.Context, class command.Class, ch device.Channel, op command.Operation, value int, source string) bool {
	logger := xglog.WithContext(ctx, c.logger)

	if err := validate(class, ch, op); err != nil {
		metrics.RecordSubmit(class.String(), "invalid")
		logger.Warn().Err(err).Msg("command rejected")
		return false
	}

	now := c.now()
	key := source
	if key == "" {
		key = command.DefaultSourceKey
	}
	if !c.submitGate.Allow(class, key, now) {
		metrics.RecordSubmit(class.String(), "cooldown")
		logger.Debug().
			Str(xglog.FieldClass, class.String()).
			Str(xglog.FieldSourceID, key).
			Msg("command dropped by cooldown")
		return false
	}

	cmd := command.New(class, ch, op, value, source, now)
	c.queue.Submit(cmd)
	metrics.RecordSubmit(class.String(), "queued")
	metrics.CommandQueueDepth.Set(float64(c.queue.Len()))

	logger.Debug().
		Str(xglog.FieldClass, class.String()).
		Str(xglog.FieldChannel, ch.String()).
		Str(xglog.FieldOperation, op.String()).
		Int(xglog.FieldValue, value).
		Str(xglog.FieldSourceID, cmd.SourceID).
		Msg("command queued")
	return true
}

func validate(class command.Class, ch device.Channel, op command.Operation) error {
	if class < command.ClassGUI || class > command.ClassExternal {
		return fmt.Errorf("%w: %w", ErrInvalidCommand, command.ErrUnknownClass)
	}
	if !ch.Valid() {
		return fmt.Errorf("%w: %w", ErrInvalidCommand, device.ErrUnknownChannel)
	}
	if op < command.OpSetTo || op > command.OpSetPulseMode {
		return fmt.Errorf("%w: %w", ErrInvalidCommand, command.ErrUnknownOperation)
	}
	return nil
}

// Run drains the command queue until ctx is cancelled. Failures are isolated
// to the command that caused them; it always returns nil.
func (c *Controller) Run(ctx context.Context) error {
	c.logger.Info().Str(xglog.FieldEvent, "dispatcher.start").Msg("command dispatcher started")
	defer c.logger.Info().Str(xglog.FieldEvent, "dispatcher.stop").Msg("command dispatcher stopped")

	for {
		cmd, err := c.queue.Take(ctx)
		if err != nil {
			return nil
		}
		metrics.CommandQueueDepth.Set(float64(c.queue.Len()))

		if err := c.dispatchSafe(ctx, cmd); err != nil {
			metrics.DispatcherBackoffsTotal.Inc()
			c.logger.Error().
				Err(err).
				Str(xglog.FieldEvent, "dispatcher.internal_error").
				Msg("dispatcher iteration failed, backing off")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(c.errorBackoff):
			}
		}
	}
}

func (c *Controller) dispatchSafe(ctx context.Context, cmd command.Command) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("dispatch panic: %v\n%s", r, debug.Stack())
		}
	}()
	c.dispatch(ctx, cmd)
	return nil
}

// dispatch applies the dispatch-time checks and executes cmd.
func (c *Controller) dispatch(ctx context.Context, cmd command.Command) {
	class := cmd.Class.String()
	logger := c.logger.With().
		Str(xglog.FieldClass, class).
		Str(xglog.FieldChannel, cmd.Channel.String()).
		Str(xglog.FieldOperation, cmd.Operation.String()).
		Int(xglog.FieldValue, cmd.Value).
		Str(xglog.FieldSourceID, cmd.SourceID).
		Logger()

	now := c.now()
	if !c.dispatchGate.Allow(cmd.Class, cmd.SourceID, now) {
		metrics.RecordDispatch(class, "cooldown")
		logger.Debug().Msg("command skipped: source cooling down")
		return
	}

	c.mu.RLock()
	enabled := c.enabled[cmd.Class]
	interaction := c.interaction[cmd.Channel]
	c.mu.RUnlock()

	if !enabled {
		metrics.RecordDispatch(class, "disabled")
		logger.Debug().Msg("command skipped: class disabled")
		return
	}
	if cmd.Class == command.ClassInteraction && !interaction {
		metrics.RecordDispatch(class, "interaction_off")
		logger.Debug().Msg("command skipped: channel not in interaction mode")
		return
	}

	ctx, span := c.tracer.Start(ctx, "command.dispatch")
	span.SetAttributes(telemetry.CommandAttributes(class, cmd.Channel.String(), cmd.Operation.String(), cmd.Value)...)
	defer span.End()

	err := c.execute(ctx, cmd)
	metrics.CommandDispatchLatency.WithLabelValues(class).Observe(now.Sub(cmd.Timestamp).Seconds())

	switch {
	case err == nil:
		metrics.RecordDispatch(class, "executed")
		logger.Debug().Msg("command executed")
	case errors.Is(err, ErrNoStrengthReport):
		metrics.RecordDispatch(class, "no_strength")
		logger.Debug().Msg("command skipped: device has not reported strength yet")
	default:
		metrics.RecordDispatch(class, "failed")
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		var te *device.TransportError
		if errors.As(err, &te) {
			metrics.RecordTransportError(te.Op)
			logger.Error().Err(err).Str(xglog.FieldEvent, "command.transport_failed").Msg("transport call failed")
			return
		}
		logger.Warn().Err(err).Str(xglog.FieldEvent, "command.failed").Msg("command failed")
	}
}

func (c *Controller) execute(ctx context.Context, cmd command.Command) error {
	switch cmd.Operation {
	case command.OpSetTo:
		return c.SetStrength(ctx, cmd.Channel, cmd.Value)
	case command.OpIncrease:
		return c.AdjustStrength(ctx, cmd.Channel, cmd.Value)
	case command.OpDecrease:
		return c.AdjustStrength(ctx, cmd.Channel, -cmd.Value)
	case command.OpSetPulseMode:
		return c.SetPulseMode(ctx, cmd.Channel, cmd.Value)
	default:
		return fmt.Errorf("%w: %s", command.ErrUnknownOperation, cmd.Operation)
	}
}

// SetStrength sets ch to an absolute value bounded by the device maximum.
func (c *Controller) SetStrength(ctx context.Context, ch device.Channel, value int) error {
	if !ch.Valid() {
		return device.ErrUnknownChannel
	}
	value = max(0, min(value, device.MaxStrength))
	return c.setStrength(ctx, ch, value)
}

// AdjustStrength moves ch by delta relative to the last strength report. The
// result is clamped to [0, limit] of that channel; delta saturates at
// ±MaxStrength so huge values cannot wrap.
func (c *Controller) AdjustStrength(ctx context.Context, ch device.Channel, delta int) error {
	if !ch.Valid() {
		return device.ErrUnknownChannel
	}
	c.mu.RLock()
	s, ok := c.strength, c.haveStrength
	c.mu.RUnlock()
	if !ok {
		return ErrNoStrengthReport
	}
	delta = max(-device.MaxStrength, min(delta, device.MaxStrength))
	current := s.Clamp(ch, s.Value(ch))
	return c.setStrength(ctx, ch, s.Clamp(ch, current+delta))
}

func (c *Controller) setStrength(ctx context.Context, ch device.Channel, value int) error {
	if err := c.transport.SetStrength(ctx, ch, device.StrengthSet, value); err != nil {
		return asTransportError("set_strength", ch, err)
	}
	c.logger.Info().
		Str(xglog.FieldEvent, "device.strength_set").
		Str(xglog.FieldChannel, ch.String()).
		Int(xglog.FieldValue, value).
		Msg("strength set")
	return nil
}

// SetPulseMode selects waveform mode for ch and pushes it right away.
func (c *Controller) SetPulseMode(ctx context.Context, ch device.Channel, mode int) error {
	if !ch.Valid() {
		return device.ErrUnknownChannel
	}
	w, err := c.waveforms.Get(mode)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.pulseMode[ch] = mode
	c.mu.Unlock()

	c.logger.Info().
		Str(xglog.FieldEvent, "device.pulse_mode").
		Str(xglog.FieldChannel, ch.String()).
		Str("waveform", w.Name).
		Msg("pulse mode changed")
	return c.sendPulse(ctx, ch, "mode_change")
}

func asTransportError(op string, ch device.Channel, err error) error {
	var te *device.TransportError
	if errors.As(err, &te) {
		return err
	}
	return &device.TransportError{Op: op, Channel: ch, Err: err}
}
