// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package device describes the paired stimulation device as seen by the
// controller: its two output channels, the strength report it sends back and
// the transport used to push strength and waveform changes to it.
package device

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Channel identifies one of the two device outputs.
type Channel int

const (
	ChannelA Channel = iota
	ChannelB
)

// Channels lists every output in dispatch order.
var Channels = []Channel{ChannelA, ChannelB}

// ErrUnknownChannel is returned when a channel name cannot be parsed.
var ErrUnknownChannel = errors.New("unknown channel")

func (c Channel) String() string {
	switch c {
	case ChannelA:
		return "A"
	case ChannelB:
		return "B"
	default:
		return fmt.Sprintf("Channel(%d)", int(c))
	}
}

// Valid reports whether c names a real output.
func (c Channel) Valid() bool {
	return c == ChannelA || c == ChannelB
}

// ParseChannel accepts "A"/"B" (case-insensitive) or "1"/"2".
func ParseChannel(s string) (Channel, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "A", "1":
		return ChannelA, nil
	case "B", "2":
		return ChannelB, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownChannel, s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (c Channel) MarshalText() ([]byte, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownChannel, int(c))
	}
	return []byte(c.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *Channel) UnmarshalText(b []byte) error {
	parsed, err := ParseChannel(string(b))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// StrengthMode selects how the device applies a strength value.
type StrengthMode int

const (
	StrengthSet StrengthMode = iota
	StrengthIncrease
	StrengthDecrease
)

func (m StrengthMode) String() string {
	switch m {
	case StrengthSet:
		return "set"
	case StrengthIncrease:
		return "increase"
	case StrengthDecrease:
		return "decrease"
	default:
		return "unknown"
	}
}

// MaxStrength is the hard upper bound the device accepts on either channel.
const MaxStrength = 200

// Strength is the last strength report received from the device.
type Strength struct {
	A      int `json:"a"`
	B      int `json:"b"`
	ALimit int `json:"a_limit"`
	BLimit int `json:"b_limit"`
}

// Value returns the current strength of ch.
func (s Strength) Value(ch Channel) int {
	if ch == ChannelB {
		return s.B
	}
	return s.A
}

// Limit returns the soft limit configured on the device for ch.
func (s Strength) Limit(ch Channel) int {
	if ch == ChannelB {
		return s.BLimit
	}
	return s.ALimit
}

// Clamp bounds v to [0, limit(ch)].
func (s Strength) Clamp(ch Channel, v int) int {
	limit := s.Limit(ch)
	if v > limit {
		v = limit
	}
	if v < 0 {
		v = 0
	}
	return v
}

// Frame is one 100ms waveform unit: four frequency samples and four intensity
// samples (0..100).
type Frame struct {
	Freq      [4]int `json:"freq" yaml:"freq"`
	Intensity [4]int `json:"intensity" yaml:"intensity"`
}

// Scale multiplies every intensity sample by factor and clamps the result to
// [0, 100].
func (f Frame) Scale(factor float64) Frame {
	out := f
	for i, v := range f.Intensity {
		scaled := int(float64(v) * factor)
		if scaled > 100 {
			scaled = 100
		}
		if scaled < 0 {
			scaled = 0
		}
		out.Intensity[i] = scaled
	}
	return out
}

// Transport pushes changes to the paired device. Implementations must be safe
// for concurrent use.
type Transport interface {
	SetStrength(ctx context.Context, ch Channel, mode StrengthMode, value int) error
	// SetPulse replaces the queued waveform on ch.
	SetPulse(ctx context.Context, ch Channel, frames []Frame) error
	// AddPulses appends frames to the queued waveform on ch.
	AddPulses(ctx context.Context, ch Channel, frames ...Frame) error
}

// TransportError wraps a failure reported by a Transport.
type TransportError struct {
	Op      string
	Channel Channel
	Err     error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s on channel %s: %v", e.Op, e.Channel, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }
