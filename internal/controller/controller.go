// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package controller owns the device session: it accepts commands from every
// producer, arbitrates them through the priority queue and the cooldown gates,
// and drives the transport. It also keeps the waveform alive, runs fire mode
// and publishes device state on the event bus.
package controller

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/ManuGH/dglink/internal/command"
	"github.com/ManuGH/dglink/internal/device"
	"github.com/ManuGH/dglink/internal/event"
	xglog "github.com/ManuGH/dglink/internal/log"
	"github.com/ManuGH/dglink/internal/telemetry"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/trace"
)

var (
	// ErrFireModeActive is returned when a fire request overlaps a running one.
	ErrFireModeActive = errors.New("fire mode already active")
	// ErrNoStrengthReport is returned by relative adjustments before the device
	// has reported its strength and limits.
	ErrNoStrengthReport = errors.New("no strength report received from device")
	// ErrInvalidCommand is returned for commands naming an unknown class,
	// channel or operation.
	ErrInvalidCommand = errors.New("invalid command")
)

// Publisher is the part of the event bus the controller needs.
type Publisher interface {
	Emit(ctx context.Context, name string, payload map[string]any) *event.Event
}

// Options configures a Controller. Zero durations select the defaults.
type Options struct {
	Transport device.Transport
	Bus       Publisher
	Waveforms *device.Library
	Cooldowns map[command.Class]time.Duration
	Logger    zerolog.Logger

	// Now is the clock used for cooldowns and waveform staleness.
	Now func() time.Time

	KeepAliveInterval time.Duration // default 1s
	StaleAfter        time.Duration // default 3s
	LoopInterval      time.Duration // default 500ms
	FireHold          time.Duration // default 2s
	ErrorBackoff      time.Duration // default 100ms
	Amplitude         float64       // default 1.0
}

const (
	defaultKeepAliveInterval = time.Second
	defaultStaleAfter        = 3 * time.Second
	defaultLoopInterval      = 500 * time.Millisecond
	defaultFireHold          = 2 * time.Second
	defaultErrorBackoff      = 100 * time.Millisecond
)

// Controller arbitrates commands for one paired device.
type Controller struct {
	transport device.Transport
	bus       Publisher
	waveforms *device.Library
	logger    zerolog.Logger
	tracer    trace.Tracer
	now       func() time.Time

	keepAliveInterval time.Duration
	staleAfter        time.Duration
	loopInterval      time.Duration
	fireHold          time.Duration
	errorBackoff      time.Duration

	queue        *command.Queue
	submitGate   *command.Gate
	dispatchGate *command.Gate

	mu           sync.RWMutex
	enabled      map[command.Class]bool
	interaction  [2]bool
	pulseMode    [2]int
	amplitude    float64
	strength     device.Strength
	haveStrength bool
	connected    bool

	// pushMu serialises waveform pushes so a keep-alive resend never
	// interleaves with a mode change on the same channel.
	pushMu   sync.Mutex
	lastPush [2]time.Time

	fireMu     sync.Mutex
	fireActive bool

	loopMu     sync.Mutex
	loopGen    [2]uint64
	loopCancel [2]context.CancelFunc
	loopName   [2]string
	loopWG     sync.WaitGroup
}

// New builds a controller. Transport is required.
func New(opts Options) (*Controller, error) {
	if opts.Transport == nil {
		return nil, errors.New("controller: transport is required")
	}
	if opts.Waveforms == nil {
		opts.Waveforms = device.DefaultLibrary()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Amplitude <= 0 {
		opts.Amplitude = 1.0
	}

	c := &Controller{
		transport:         opts.Transport,
		bus:               opts.Bus,
		waveforms:         opts.Waveforms,
		logger:            opts.Logger.With().Str(xglog.FieldComponent, "controller").Logger(),
		tracer:            telemetry.Tracer("dglink/controller"),
		now:               opts.Now,
		keepAliveInterval: orDefault(opts.KeepAliveInterval, defaultKeepAliveInterval),
		staleAfter:        orDefault(opts.StaleAfter, defaultStaleAfter),
		loopInterval:      orDefault(opts.LoopInterval, defaultLoopInterval),
		fireHold:          orDefault(opts.FireHold, defaultFireHold),
		errorBackoff:      orDefault(opts.ErrorBackoff, defaultErrorBackoff),
		queue:             command.NewQueue(),
		submitGate:        command.NewGate(opts.Cooldowns),
		dispatchGate:      command.NewGate(opts.Cooldowns),
		enabled: map[command.Class]bool{
			command.ClassGUI:         true,
			command.ClassPanel:       true,
			command.ClassInteraction: true,
			command.ClassExternal:    true,
		},
		amplitude: opts.Amplitude,
	}
	return c, nil
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}

// Waveforms returns the waveform library pulse modes index into.
func (c *Controller) Waveforms() *device.Library { return c.waveforms }

// SetClassEnabled toggles execution of a command class. Queued commands are
// not dropped; they are skipped when they reach the dispatcher.
func (c *Controller) SetClassEnabled(class command.Class, on bool) {
	c.mu.Lock()
	c.enabled[class] = on
	c.mu.Unlock()
	c.logger.Info().
		Str(xglog.FieldEvent, "controller.class_toggled").
		Str(xglog.FieldClass, class.String()).
		Bool("enabled", on).
		Msg("command class toggled")
}

// ClassEnabled reports whether class is currently executed.
func (c *Controller) ClassEnabled(class command.Class) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.enabled[class]
}

// SetInteractionMode switches ch between panel mode and interaction mode. The
// interaction class stays enabled while either channel is in interaction mode.
func (c *Controller) SetInteractionMode(ch device.Channel, on bool) {
	if !ch.Valid() {
		return
	}
	c.mu.Lock()
	c.interaction[ch] = on
	c.enabled[command.ClassInteraction] = c.interaction[device.ChannelA] || c.interaction[device.ChannelB]
	c.mu.Unlock()
	c.logger.Info().
		Str(xglog.FieldEvent, "controller.interaction_mode").
		Str(xglog.FieldChannel, ch.String()).
		Bool("enabled", on).
		Msg("interaction mode changed")
}

// ToggleInteractionMode flips the interaction mode of ch and returns the new value.
func (c *Controller) ToggleInteractionMode(ch device.Channel) bool {
	if !ch.Valid() {
		return false
	}
	c.mu.RLock()
	on := !c.interaction[ch]
	c.mu.RUnlock()
	c.SetInteractionMode(ch, on)
	return on
}

// InteractionMode reports whether ch accepts interaction commands.
func (c *Controller) InteractionMode(ch device.Channel) bool {
	if !ch.Valid() {
		return false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.interaction[ch]
}

// SetAmplitude sets the global waveform intensity factor. Negative values are
// treated as zero.
func (c *Controller) SetAmplitude(factor float64) {
	if factor < 0 {
		factor = 0
	}
	c.mu.Lock()
	c.amplitude = factor
	c.mu.Unlock()
}

// SetCooldown changes the cooldown of class on both the submission and the
// dispatch gate.
func (c *Controller) SetCooldown(class command.Class, d time.Duration) {
	c.submitGate.SetCooldown(class, d)
	c.dispatchGate.SetCooldown(class, d)
}

// Cooldowns returns the active cooldown table.
func (c *Controller) Cooldowns() map[command.Class]time.Duration {
	return c.submitGate.Cooldowns()
}

// Strength returns the last strength report and whether one was received.
func (c *Controller) Strength() (device.Strength, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.strength, c.haveStrength
}

// Connected reports whether the device is currently paired.
func (c *Controller) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// PulseMode returns the active waveform index of ch.
func (c *Controller) PulseMode(ch device.Channel) int {
	if !ch.Valid() {
		return 0
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.pulseMode[ch]
}

// QueueDepth returns the number of commands waiting for dispatch.
func (c *Controller) QueueDepth() int { return c.queue.Len() }

// Status is a point-in-time view of the controller for the API.
type Status struct {
	Connected       bool              `json:"connected"`
	StrengthKnown   bool              `json:"strength_known"`
	Strength        device.Strength   `json:"strength"`
	QueueDepth      int               `json:"queue_depth"`
	ClassEnabled    map[string]bool   `json:"class_enabled"`
	InteractionMode map[string]bool   `json:"interaction_mode"`
	PulseMode       map[string]string `json:"pulse_mode"`
	Loops           map[string]string `json:"loops,omitempty"`
	Amplitude       float64           `json:"amplitude"`
	Cooldowns       map[string]string `json:"cooldowns"`
	FireActive      bool              `json:"fire_active"`
}

// Status returns a snapshot of the controller state.
func (c *Controller) Status() Status {
	st := Status{
		QueueDepth:      c.queue.Len(),
		ClassEnabled:    make(map[string]bool, len(command.Classes)),
		InteractionMode: make(map[string]bool, 2),
		PulseMode:       make(map[string]string, 2),
		Cooldowns:       make(map[string]string, len(command.Classes)),
	}

	c.mu.RLock()
	st.Connected = c.connected
	st.StrengthKnown = c.haveStrength
	st.Strength = c.strength
	st.Amplitude = c.amplitude
	for _, class := range command.Classes {
		st.ClassEnabled[class.String()] = c.enabled[class]
	}
	modes := c.pulseMode
	for _, ch := range device.Channels {
		st.InteractionMode[ch.String()] = c.interaction[ch]
	}
	c.mu.RUnlock()

	for _, ch := range device.Channels {
		if w, err := c.waveforms.Get(modes[ch]); err == nil {
			st.PulseMode[ch.String()] = w.Name
		}
	}
	for class, d := range c.Cooldowns() {
		st.Cooldowns[class.String()] = d.String()
	}

	c.loopMu.Lock()
	for _, ch := range device.Channels {
		if c.loopCancel[ch] != nil {
			if st.Loops == nil {
				st.Loops = make(map[string]string, 2)
			}
			st.Loops[ch.String()] = c.loopName[ch]
		}
	}
	c.loopMu.Unlock()

	c.fireMu.Lock()
	st.FireActive = c.fireActive
	c.fireMu.Unlock()
	return st
}

// Close stops every waveform loop and waits for them to exit.
func (c *Controller) Close() {
	for _, ch := range device.Channels {
		c.StopWaveformLoop(ch)
	}
	c.loopWG.Wait()
}

func (c *Controller) emit(ctx context.Context, name string, payload map[string]any) *event.Event {
	if c.bus == nil {
		return event.New(name, payload)
	}
	return c.bus.Emit(ctx, name, payload)
}
