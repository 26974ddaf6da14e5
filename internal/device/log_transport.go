// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package device

import (
	"context"
	"sync"

	"github.com/rs/zerolog"
)

// LogTransport is a dry-run Transport: it records the last strength per
// channel and logs every call instead of talking to hardware.
type LogTransport struct {
	logger zerolog.Logger

	mu       sync.Mutex
	strength map[Channel]int
	queued   map[Channel]int
}

// NewLogTransport returns a LogTransport writing to logger.
func NewLogTransport(logger zerolog.Logger) *LogTransport {
	return &LogTransport{
		logger:   logger,
		strength: make(map[Channel]int),
		queued:   make(map[Channel]int),
	}
}

func (t *LogTransport) SetStrength(ctx context.Context, ch Channel, mode StrengthMode, value int) error {
	if err := ctx.Err(); err != nil {
		return &TransportError{Op: "set_strength", Channel: ch, Err: err}
	}
	t.mu.Lock()
	switch mode {
	case StrengthIncrease:
		t.strength[ch] += value
	case StrengthDecrease:
		t.strength[ch] -= value
	default:
		t.strength[ch] = value
	}
	if t.strength[ch] < 0 {
		t.strength[ch] = 0
	}
	if t.strength[ch] > MaxStrength {
		t.strength[ch] = MaxStrength
	}
	current := t.strength[ch]
	t.mu.Unlock()

	t.logger.Info().
		Str("event", "device.strength").
		Str("channel", ch.String()).
		Str("mode", mode.String()).
		Int("value", value).
		Int("current", current).
		Msg("strength change (dry-run)")
	return nil
}

func (t *LogTransport) SetPulse(ctx context.Context, ch Channel, frames []Frame) error {
	if err := ctx.Err(); err != nil {
		return &TransportError{Op: "set_pulse", Channel: ch, Err: err}
	}
	t.mu.Lock()
	t.queued[ch] = len(frames)
	t.mu.Unlock()

	t.logger.Debug().
		Str("event", "device.pulse_set").
		Str("channel", ch.String()).
		Int("frames", len(frames)).
		Msg("waveform replaced (dry-run)")
	return nil
}

func (t *LogTransport) AddPulses(ctx context.Context, ch Channel, frames ...Frame) error {
	if err := ctx.Err(); err != nil {
		return &TransportError{Op: "add_pulses", Channel: ch, Err: err}
	}
	t.mu.Lock()
	t.queued[ch] += len(frames)
	t.mu.Unlock()

	t.logger.Debug().
		Str("event", "device.pulse_add").
		Str("channel", ch.String()).
		Int("frames", len(frames)).
		Msg("waveform appended (dry-run)")
	return nil
}

// Strength returns the strength the dry-run device would currently hold on ch.
func (t *LogTransport) Strength(ch Channel) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.strength[ch]
}
