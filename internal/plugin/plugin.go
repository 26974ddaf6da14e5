// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package plugin hosts extension units. Units are discovered from sources,
// loaded against a Runtime, and moved through the lifecycle
// Discovered -> Registered -> Enabled <-> Disabled by the Host. A plugin
// declares its event handlers, commands and settings in a Manifest; the host
// wires them when the plugin is enabled and removes them when it is disabled.
package plugin

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ManuGH/dglink/internal/command"
	"github.com/ManuGH/dglink/internal/device"
	"github.com/ManuGH/dglink/internal/event"
	"github.com/rs/zerolog"
)

var (
	ErrPluginNotFound  = errors.New("plugin not found")
	ErrPluginDisabled  = errors.New("plugin not enabled")
	ErrCommandNotFound = errors.New("plugin command not found")
	ErrUnknownSetting  = errors.New("unknown plugin setting")
	ErrInvalidSetting  = errors.New("invalid plugin setting value")
	ErrUnknownState    = errors.New("unknown plugin state")
)

// State is a plugin's lifecycle state.
type State int

const (
	StateDiscovered State = iota
	StateRegistered
	StateEnabled
	StateDisabled
)

func (s State) String() string {
	switch s {
	case StateDiscovered:
		return "discovered"
	case StateRegistered:
		return "registered"
	case StateEnabled:
		return "enabled"
	case StateDisabled:
		return "disabled"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// ParseState accepts the names String produces.
func ParseState(s string) (State, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "discovered":
		return StateDiscovered, nil
	case "registered":
		return StateRegistered, nil
	case "enabled":
		return StateEnabled, nil
	case "disabled":
		return StateDisabled, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownState, s)
	}
}

func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *State) UnmarshalText(b []byte) error {
	parsed, err := ParseState(string(b))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// Plugin is the capability contract every unit implements.
type Plugin interface {
	Manifest() Manifest
	// Initialize prepares the plugin. A non-nil error keeps it disabled.
	Initialize(ctx context.Context) error
	Shutdown(ctx context.Context) error
}

// SettingsListener is implemented by plugins that react to setting changes.
type SettingsListener interface {
	OnSettingsChanged(ctx context.Context, settings map[string]any)
}

// CommandFunc handles a plugin command invoked through the host.
type CommandFunc func(ctx context.Context, args map[string]any) (any, error)

// EventBinding subscribes Handler to Event while the plugin is enabled.
type EventBinding struct {
	Event    string
	Priority event.Priority
	Handler  event.Handler
}

// CommandBinding exposes Handler as a named command.
type CommandBinding struct {
	Name        string
	Description string
	Handler     CommandFunc
}

// Manifest is the handler table a plugin registers with the host.
type Manifest struct {
	Name        string
	Version     string
	Description string
	Author      string
	Events      []EventBinding
	Commands    []CommandBinding
	Settings    []Setting
}

func (m Manifest) validate() error {
	for i, b := range m.Events {
		if b.Event == "" || b.Handler == nil {
			return fmt.Errorf("event binding %d: event name and handler are required", i)
		}
	}
	seen := make(map[string]struct{}, len(m.Commands))
	for _, c := range m.Commands {
		if c.Name == "" || c.Handler == nil {
			return errors.New("command binding: name and handler are required")
		}
		if _, dup := seen[c.Name]; dup {
			return fmt.Errorf("duplicate command %q", c.Name)
		}
		seen[c.Name] = struct{}{}
	}
	names := make(map[string]struct{}, len(m.Settings))
	for _, s := range m.Settings {
		if s.Name == "" {
			return errors.New("setting: name is required")
		}
		if _, dup := names[s.Name]; dup {
			return fmt.Errorf("duplicate setting %q", s.Name)
		}
		names[s.Name] = struct{}{}
		if s.Default == nil {
			continue
		}
		if _, err := s.coerce(s.Default); err != nil {
			return fmt.Errorf("setting %q default: %w", s.Name, err)
		}
	}
	return nil
}

// Submitter accepts device commands on behalf of a plugin.
type Submitter interface {
	Submit(ctx context.Context, class command.Class, ch device.Channel, op command.Operation, value int, source string) bool
}

// Runtime is handed to a unit when it is loaded. It carries every shared
// collaborator a plugin may use.
type Runtime struct {
	Key      string
	Commands Submitter
	Bus      *event.Bus
	Logger   zerolog.Logger
	Settings *Settings
}

// Submit enqueues an interaction-class command sourced from the plugin.
func (rt Runtime) Submit(ctx context.Context, ch device.Channel, op command.Operation, value int) bool {
	return rt.SubmitClass(ctx, command.ClassInteraction, ch, op, value)
}

// SubmitClass enqueues a command of an explicit class sourced from the plugin.
func (rt Runtime) SubmitClass(ctx context.Context, class command.Class, ch device.Channel, op command.Operation, value int) bool {
	if rt.Commands == nil {
		return false
	}
	return rt.Commands.Submit(ctx, class, ch, op, value, rt.Key)
}

// Emit publishes an event on the shared bus.
func (rt Runtime) Emit(ctx context.Context, name string, payload map[string]any) *event.Event {
	if rt.Bus == nil {
		return event.New(name, payload)
	}
	return rt.Bus.Emit(ctx, name, payload)
}

// LoadError reports a unit that could not be instantiated or registered.
type LoadError struct {
	Source string
	Unit   string
	Err    error
}

func (e *LoadError) Error() string {
	if e.Unit == "" {
		return fmt.Sprintf("plugin source %s: %v", e.Source, e.Err)
	}
	return fmt.Sprintf("load plugin %s from %s: %v", e.Unit, e.Source, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// ExecutionError reports a plugin callback that failed or panicked.
type ExecutionError struct {
	Plugin string
	Op     string
	Err    error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("plugin %s: %s: %v", e.Plugin, e.Op, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }

// guard runs fn and converts a panic into an ExecutionError.
func guard(key, op string, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &ExecutionError{Plugin: key, Op: op, Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	if err := fn(); err != nil {
		var ee *ExecutionError
		if errors.As(err, &ee) {
			return err
		}
		return &ExecutionError{Plugin: key, Op: op, Err: err}
	}
	return nil
}
