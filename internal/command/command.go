// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package command holds the arbitration primitives shared by every command
// producer: the command value type, the priority queue that orders commands by
// origin class, and the cooldown gate that debounces bursts per origin.
package command

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ManuGH/dglink/internal/device"
	"github.com/google/uuid"
)

// Class is the origin tier of a command. Lower values are served first.
type Class int

const (
	ClassGUI Class = iota
	ClassPanel
	ClassInteraction
	ClassExternal
)

// Classes lists every class in rank order.
var Classes = []Class{ClassGUI, ClassPanel, ClassInteraction, ClassExternal}

var (
	ErrUnknownClass     = errors.New("unknown command class")
	ErrUnknownOperation = errors.New("unknown command operation")
)

func (c Class) String() string {
	switch c {
	case ClassGUI:
		return "gui"
	case ClassPanel:
		return "panel"
	case ClassInteraction:
		return "interaction"
	case ClassExternal:
		return "external"
	default:
		return fmt.Sprintf("class(%d)", int(c))
	}
}

// ParseClass parses the lower-case class name.
func ParseClass(s string) (Class, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "gui":
		return ClassGUI, nil
	case "panel":
		return ClassPanel, nil
	case "interaction":
		return ClassInteraction, nil
	case "external", "game":
		return ClassExternal, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownClass, s)
	}
}

func (c Class) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

func (c *Class) UnmarshalText(b []byte) error {
	parsed, err := ParseClass(string(b))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// Operation is the primitive a command asks the device to perform.
type Operation int

const (
	OpSetTo Operation = iota
	OpIncrease
	OpDecrease
	OpSetPulseMode
)

func (o Operation) String() string {
	switch o {
	case OpSetTo:
		return "set_to"
	case OpIncrease:
		return "increase"
	case OpDecrease:
		return "decrease"
	case OpSetPulseMode:
		return "set_pulse_mode"
	default:
		return fmt.Sprintf("op(%d)", int(o))
	}
}

// ParseOperation parses the snake-case operation name.
func ParseOperation(s string) (Operation, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "set_to", "set":
		return OpSetTo, nil
	case "increase":
		return OpIncrease, nil
	case "decrease":
		return OpDecrease, nil
	case "set_pulse_mode", "pulse":
		return OpSetPulseMode, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownOperation, s)
	}
}

func (o Operation) MarshalText() ([]byte, error) { return []byte(o.String()), nil }

func (o *Operation) UnmarshalText(b []byte) error {
	parsed, err := ParseOperation(string(b))
	if err != nil {
		return err
	}
	*o = parsed
	return nil
}

// DefaultSourceKey is the ledger key used when a producer does not name itself.
const DefaultSourceKey = "default"

// Command is an immutable request to change device state.
type Command struct {
	Class     Class          `json:"class"`
	Channel   device.Channel `json:"channel"`
	Operation Operation      `json:"operation"`
	Value     int            `json:"value"`
	SourceID  string         `json:"source_id"`
	Timestamp time.Time      `json:"timestamp"`

	seq uint64
}

// New builds a command. An empty sourceID is replaced by a random id so that
// anonymous commands never share dispatch state.
func New(class Class, ch device.Channel, op Operation, value int, sourceID string, now time.Time) Command {
	if sourceID == "" {
		sourceID = uuid.NewString()
	}
	return Command{
		Class:     class,
		Channel:   ch,
		Operation: op,
		Value:     value,
		SourceID:  sourceID,
		Timestamp: now,
	}
}

// Less reports whether c must be served before other.
func (c Command) Less(other Command) bool {
	if c.Class != other.Class {
		return c.Class < other.Class
	}
	if !c.Timestamp.Equal(other.Timestamp) {
		return c.Timestamp.Before(other.Timestamp)
	}
	return c.seq < other.seq
}
