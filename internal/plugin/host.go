// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package plugin

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/ManuGH/dglink/internal/event"
	xglog "github.com/ManuGH/dglink/internal/log"
	"github.com/ManuGH/dglink/internal/metrics"
	"github.com/ManuGH/dglink/internal/telemetry"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// StateStore persists which plugins the user disabled.
type StateStore interface {
	Disabled(key string) bool
	SetDisabled(key string, disabled bool) error
}

// HostOptions configures a Host.
type HostOptions struct {
	Bus      *event.Bus
	Commands Submitter
	Logger   zerolog.Logger
	// Store is optional; without it nothing survives a restart.
	Store StateStore
}

type entry struct {
	// mu serialises lifecycle calls on one plugin.
	mu sync.Mutex

	key      string
	origin   string
	source   string
	plugin   Plugin
	manifest Manifest
	settings *Settings
	commands map[string]CommandFunc

	state     State
	lastError string
}

// Host owns the plugin registry.
type Host struct {
	bus      *event.Bus
	commands Submitter
	store    StateStore
	logger   zerolog.Logger
	tracer   trace.Tracer

	mu           sync.RWMutex
	entries      map[string]*entry
	order        []string
	loadFailures []LoadFailure
}

// LoadFailure records a unit or source that could not be loaded.
type LoadFailure struct {
	Source string `json:"source"`
	Unit   string `json:"unit,omitempty"`
	Error  string `json:"error"`
}

// NewHost builds a host and registers its lifecycle observers on the bus.
func NewHost(opts HostOptions) *Host {
	if opts.Bus == nil {
		opts.Bus = event.NewBus(opts.Logger)
	}
	h := &Host{
		bus:      opts.Bus,
		commands: opts.Commands,
		store:    opts.Store,
		logger:   opts.Logger.With().Str(xglog.FieldComponent, "plugin").Logger(),
		tracer:   telemetry.Tracer("dglink/plugin"),
		entries:  make(map[string]*entry),
	}
	h.bus.Register(event.PluginEnabled, h.observeLifecycle, event.PriorityMonitor, "")
	h.bus.Register(event.PluginDisabled, h.observeLifecycle, event.PriorityMonitor, "")
	return h
}

func (h *Host) observeLifecycle(_ context.Context, e *event.Event) error {
	h.logger.Info().
		Str(xglog.FieldEvent, "plugin.lifecycle").
		Str(xglog.FieldEventName, e.Name).
		Str(xglog.FieldPlugin, e.String("plugin")).
		Msg("plugin lifecycle event")
	return nil
}

// Bus returns the event bus plugins are wired to.
func (h *Host) Bus() *event.Bus { return h.bus }

// Discover loads every unit from sources. A failing source or unit is logged
// and skipped. It returns the keys registered, in discovery order.
func (h *Host) Discover(ctx context.Context, sources ...Source) []string {
	var keys []string
	for _, src := range sources {
		units, err := src.Discover(ctx)
		if err != nil {
			h.recordLoadFailure(&LoadError{Source: src.Name(), Err: err})
		}
		for _, u := range units {
			key, err := h.register(src.Name(), u)
			if err != nil {
				h.recordLoadFailure(err)
				continue
			}
			keys = append(keys, key)
		}
	}
	h.publishStates()
	return keys
}

// Register loads a single unit and returns its registry key.
func (h *Host) Register(source string, u Unit) (string, error) {
	key, err := h.register(source, u)
	if err != nil {
		h.recordLoadFailure(err)
		return "", err
	}
	h.publishStates()
	return key, nil
}

func (h *Host) register(source string, u Unit) (string, error) {
	name := strings.TrimSpace(u.Name)
	if name == "" {
		return "", &LoadError{Source: source, Unit: u.Origin, Err: errors.New("unit has no name")}
	}
	if u.Load == nil {
		return "", &LoadError{Source: source, Unit: name, Err: errors.New("unit has no loader")}
	}

	// Reserve the key before loading so the runtime carries the final name.
	h.mu.Lock()
	key := name
	if _, taken := h.entries[key]; taken {
		key = name + "_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	}
	e := &entry{key: key, origin: u.Origin, source: source, state: StateDiscovered}
	h.entries[key] = e
	h.order = append(h.order, key)
	h.mu.Unlock()

	if key != name {
		h.logger.Warn().
			Str(xglog.FieldEvent, "plugin.name_collision").
			Str(xglog.FieldPlugin, name).
			Str("assigned_key", key).
			Str("origin", u.Origin).
			Msg("plugin name already registered, using suffixed key")
	}

	settings := &Settings{values: map[string]any{}}
	rt := Runtime{
		Key:      key,
		Commands: h.commands,
		Bus:      h.bus,
		Logger:   h.logger.With().Str(xglog.FieldPlugin, key).Logger(),
		Settings: settings,
	}

	var p Plugin
	err := guard(key, "load", func() error {
		var lerr error
		p, lerr = u.Load(rt)
		if lerr == nil && p == nil {
			lerr = errors.New("loader returned no plugin")
		}
		return lerr
	})
	var m Manifest
	if err == nil {
		err = guard(key, "manifest", func() error {
			m = p.Manifest()
			return m.validate()
		})
	}
	if err != nil {
		h.drop(key)
		return "", &LoadError{Source: source, Unit: name, Err: err}
	}

	fresh := NewSettings(m.Settings)
	settings.mu.Lock()
	settings.values = fresh.values
	settings.mu.Unlock()

	commands := make(map[string]CommandFunc, len(m.Commands))
	for _, c := range m.Commands {
		commands[c.Name] = c.Handler
	}

	e.mu.Lock()
	e.plugin = p
	e.manifest = m
	e.settings = settings
	e.commands = commands
	e.state = StateRegistered
	e.mu.Unlock()

	metrics.RecordPluginTransition(StateRegistered.String(), "ok")
	h.logger.Info().
		Str(xglog.FieldEvent, "plugin.registered").
		Str(xglog.FieldPlugin, key).
		Str("version", m.Version).
		Str("origin", u.Origin).
		Int("events", len(m.Events)).
		Int("commands", len(m.Commands)).
		Msg("plugin registered")
	return key, nil
}

func (h *Host) drop(key string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.entries, key)
	for i, k := range h.order {
		if k == key {
			h.order = append(h.order[:i:i], h.order[i+1:]...)
			break
		}
	}
}

func (h *Host) recordLoadFailure(err error) {
	var le *LoadError
	if !errors.As(err, &le) {
		le = &LoadError{Err: err}
	}
	metrics.RecordPluginLoadFailure(le.Source)
	h.mu.Lock()
	h.loadFailures = append(h.loadFailures, LoadFailure{Source: le.Source, Unit: le.Unit, Error: le.Err.Error()})
	h.mu.Unlock()
	h.logger.Error().
		Err(err).
		Str(xglog.FieldEvent, "plugin.load_failed").
		Str("source", le.Source).
		Str(xglog.FieldPlugin, le.Unit).
		Msg("plugin load failed")
}

// LoadFailures returns every recorded load failure.
func (h *Host) LoadFailures() []LoadFailure {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]LoadFailure(nil), h.loadFailures...)
}

func (h *Host) lookup(key string) (*entry, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	e, ok := h.entries[key]
	return e, ok
}

// Enable initializes the plugin and wires its event handlers. It returns
// false when the plugin is unknown, already enabled, or fails to initialize;
// failures are logged, never returned.
func (h *Host) Enable(ctx context.Context, key string) bool {
	e, ok := h.lookup(key)
	if !ok {
		h.logger.Warn().Str(xglog.FieldPlugin, key).Msg("enable requested for unknown plugin")
		return false
	}

	e.mu.Lock()
	if e.state == StateEnabled {
		e.mu.Unlock()
		metrics.RecordPluginTransition(StateEnabled.String(), "noop")
		return false
	}
	if e.state == StateDiscovered {
		e.mu.Unlock()
		return false
	}

	ctx = xglog.ContextWithPlugin(ctx, key)
	err := guard(key, "initialize", func() error { return e.plugin.Initialize(ctx) })
	if err != nil {
		e.lastError = err.Error()
		e.mu.Unlock()
		metrics.RecordPluginTransition(StateEnabled.String(), "failed")
		h.logger.Error().
			Err(err).
			Str(xglog.FieldEvent, "plugin.enable_failed").
			Str(xglog.FieldPlugin, key).
			Msg("plugin failed to initialize")
		return false
	}

	for _, b := range e.manifest.Events {
		h.bus.Register(b.Event, b.Handler, b.Priority, key)
	}
	old := e.state
	e.state = StateEnabled
	e.lastError = ""
	m := e.manifest
	e.mu.Unlock()

	if h.store != nil && h.store.Disabled(key) {
		if err := h.store.SetDisabled(key, false); err != nil {
			h.logger.Warn().Err(err).Str(xglog.FieldPlugin, key).Msg("failed to persist plugin state")
		}
	}

	metrics.RecordPluginTransition(StateEnabled.String(), "ok")
	h.publishStates()
	h.logger.Info().
		Str(xglog.FieldEvent, "plugin.enabled").
		Str(xglog.FieldPlugin, key).
		Str(xglog.FieldOldState, old.String()).
		Str(xglog.FieldNewState, StateEnabled.String()).
		Msg("plugin enabled")

	h.bus.Emit(ctx, event.PluginEnabled, map[string]any{
		"plugin":  key,
		"name":    m.Name,
		"version": m.Version,
	})
	return true
}

// Disable shuts the plugin down, removes its handlers and remembers the
// choice across restarts. Disabling a plugin that is not enabled is a no-op
// and emits nothing.
func (h *Host) Disable(ctx context.Context, key string) bool {
	return h.disable(ctx, key, true)
}

func (h *Host) disable(ctx context.Context, key string, persist bool) bool {
	e, ok := h.lookup(key)
	if !ok {
		return false
	}

	e.mu.Lock()
	if e.state != StateEnabled {
		e.mu.Unlock()
		metrics.RecordPluginTransition(StateDisabled.String(), "noop")
		return false
	}

	ctx = xglog.ContextWithPlugin(ctx, key)
	if err := guard(key, "shutdown", func() error { return e.plugin.Shutdown(ctx) }); err != nil {
		e.lastError = err.Error()
		h.logger.Error().
			Err(err).
			Str(xglog.FieldEvent, "plugin.shutdown_failed").
			Str(xglog.FieldPlugin, key).
			Msg("plugin shutdown failed, disabling anyway")
	}
	removed := h.bus.UnregisterAll(key)
	e.state = StateDisabled
	e.mu.Unlock()

	if persist && h.store != nil {
		if err := h.store.SetDisabled(key, true); err != nil {
			h.logger.Warn().Err(err).Str(xglog.FieldPlugin, key).Msg("failed to persist plugin state")
		}
	}

	metrics.RecordPluginTransition(StateDisabled.String(), "ok")
	h.publishStates()
	h.logger.Info().
		Str(xglog.FieldEvent, "plugin.disabled").
		Str(xglog.FieldPlugin, key).
		Int("handlers_removed", removed).
		Msg("plugin disabled")

	h.bus.Emit(ctx, event.PluginDisabled, map[string]any{"plugin": key})
	return true
}

// EnableAll enables every registered plugin the user has not disabled and
// returns how many were enabled.
func (h *Host) EnableAll(ctx context.Context) int {
	n := 0
	for _, key := range h.Keys() {
		if h.store != nil && h.store.Disabled(key) {
			h.logger.Info().Str(xglog.FieldPlugin, key).Msg("plugin left disabled by saved state")
			continue
		}
		if h.Enable(ctx, key) {
			n++
		}
	}
	return n
}

// DisableAll disables every enabled plugin in reverse registration order
// without touching the saved state. It returns how many were disabled.
func (h *Host) DisableAll(ctx context.Context) int {
	keys := h.Keys()
	n := 0
	for i := len(keys) - 1; i >= 0; i-- {
		if h.disable(ctx, keys[i], false) {
			n++
		}
	}
	return n
}

// Unload disables the plugin if needed and removes it from the registry.
func (h *Host) Unload(ctx context.Context, key string) bool {
	if _, ok := h.lookup(key); !ok {
		return false
	}
	h.disable(ctx, key, false)
	if e, ok := h.lookup(key); ok {
		e.mu.Lock()
		p := e.plugin
		e.mu.Unlock()
		if c, ok := p.(io.Closer); ok {
			if err := c.Close(); err != nil {
				h.logger.Warn().Err(err).Str(xglog.FieldPlugin, key).Msg("plugin close failed")
			}
		}
	}
	h.drop(key)
	h.publishStates()
	h.logger.Info().Str(xglog.FieldEvent, "plugin.unloaded").Str(xglog.FieldPlugin, key).Msg("plugin unloaded")
	return true
}

// ExecuteCommand runs a command declared by an enabled plugin.
func (h *Host) ExecuteCommand(ctx context.Context, key, name string, args map[string]any) (any, error) {
	ctx, span := h.tracer.Start(ctx, "plugin.command")
	defer span.End()
	span.SetAttributes(telemetry.PluginAttributes(key, name)...)

	e, ok := h.lookup(key)
	if !ok {
		metrics.PluginCommandsTotal.WithLabelValues("not_found").Inc()
		return nil, fmt.Errorf("%w: %s", ErrPluginNotFound, key)
	}
	e.mu.Lock()
	state, fn := e.state, e.commands[name]
	e.mu.Unlock()

	if state != StateEnabled {
		metrics.PluginCommandsTotal.WithLabelValues("disabled").Inc()
		return nil, fmt.Errorf("%w: %s", ErrPluginDisabled, key)
	}
	if fn == nil {
		metrics.PluginCommandsTotal.WithLabelValues("not_found").Inc()
		return nil, fmt.Errorf("%w: %s.%s", ErrCommandNotFound, key, name)
	}
	if args == nil {
		args = map[string]any{}
	}

	var result any
	err := guard(key, "command "+name, func() error {
		var cerr error
		result, cerr = fn(xglog.ContextWithPlugin(ctx, key), args)
		return cerr
	})
	if err != nil {
		metrics.PluginCommandsTotal.WithLabelValues("error").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		h.logger.Error().
			Err(err).
			Str(xglog.FieldEvent, "plugin.command_failed").
			Str(xglog.FieldPlugin, key).
			Str("command", name).
			Msg("plugin command failed")
		return nil, err
	}
	metrics.PluginCommandsTotal.WithLabelValues("ok").Inc()
	return result, nil
}

// UpdateSettings validates and stores new setting values, then notifies the
// plugin if it implements SettingsListener. Either every value is applied or
// none is.
func (h *Host) UpdateSettings(ctx context.Context, key string, values map[string]any) error {
	e, ok := h.lookup(key)
	if !ok {
		return fmt.Errorf("%w: %s", ErrPluginNotFound, key)
	}
	e.mu.Lock()
	if e.state == StateDiscovered {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrPluginNotFound, key)
	}
	if err := e.settings.apply(e.manifest.Settings, values); err != nil {
		e.mu.Unlock()
		return err
	}
	p, snapshot := e.plugin, e.settings.Snapshot()
	e.mu.Unlock()

	h.logger.Info().
		Str(xglog.FieldEvent, "plugin.settings_updated").
		Str(xglog.FieldPlugin, key).
		Int("count", len(values)).
		Msg("plugin settings updated")

	if l, ok := p.(SettingsListener); ok {
		err := guard(key, "settings", func() error {
			l.OnSettingsChanged(xglog.ContextWithPlugin(ctx, key), snapshot)
			return nil
		})
		if err != nil {
			h.logger.Error().Err(err).Str(xglog.FieldPlugin, key).Msg("plugin settings listener failed")
		}
	}
	return nil
}

// Info describes a registered plugin.
type Info struct {
	Key         string         `json:"key"`
	Name        string         `json:"name"`
	Version     string         `json:"version,omitempty"`
	Description string         `json:"description,omitempty"`
	Author      string         `json:"author,omitempty"`
	Source      string         `json:"source"`
	Origin      string         `json:"origin,omitempty"`
	State       State          `json:"state"`
	Events      []string       `json:"events,omitempty"`
	Commands    []string       `json:"commands,omitempty"`
	Settings    []Setting      `json:"settings,omitempty"`
	Values      map[string]any `json:"values,omitempty"`
	LastError   string         `json:"last_error,omitempty"`
}

func (e *entry) info() Info {
	e.mu.Lock()
	defer e.mu.Unlock()
	in := Info{
		Key:         e.key,
		Name:        e.manifest.Name,
		Version:     e.manifest.Version,
		Description: e.manifest.Description,
		Author:      e.manifest.Author,
		Source:      e.source,
		Origin:      e.origin,
		State:       e.state,
		Settings:    e.manifest.Settings,
		Values:      e.settings.Snapshot(),
		LastError:   e.lastError,
	}
	for _, b := range e.manifest.Events {
		in.Events = append(in.Events, b.Event)
	}
	for _, c := range e.manifest.Commands {
		in.Commands = append(in.Commands, c.Name)
	}
	return in
}

// Keys returns the registry keys in registration order.
func (h *Host) Keys() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return append([]string(nil), h.order...)
}

// List describes every registered plugin in registration order.
func (h *Host) List() []Info {
	h.mu.RLock()
	entries := make([]*entry, 0, len(h.order))
	for _, key := range h.order {
		entries = append(entries, h.entries[key])
	}
	h.mu.RUnlock()

	out := make([]Info, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.info())
	}
	return out
}

// Get describes one plugin.
func (h *Host) Get(key string) (Info, bool) {
	e, ok := h.lookup(key)
	if !ok {
		return Info{}, false
	}
	return e.info(), true
}

// State returns the lifecycle state of key.
func (h *Host) State(key string) (State, bool) {
	e, ok := h.lookup(key)
	if !ok {
		return 0, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state, true
}

// Counts returns the number of plugins per state name.
func (h *Host) Counts() map[string]int {
	counts := map[string]int{}
	for _, in := range h.List() {
		counts[in.State.String()]++
	}
	return counts
}

func (h *Host) publishStates() {
	metrics.SetPluginStates(h.Counts())
}
