// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package panel turns physical control panel input into panel-class device
// commands. The panel tracks which channel is being adjusted and implements
// the long-press gesture that flips a channel between panel and interaction
// mode.
package panel

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ManuGH/dglink/internal/command"
	"github.com/ManuGH/dglink/internal/device"
	"github.com/ManuGH/dglink/internal/event"
	xglog "github.com/ManuGH/dglink/internal/log"
	"github.com/rs/zerolog"
)

const (
	DefaultStep         = 5
	DefaultFireStrength = 30
	DefaultLongPress    = time.Second
	DefaultSource       = "panel"
)

var (
	ErrUnknownAction = errors.New("unknown panel action")
	ErrRejected      = errors.New("command rejected")
)

// Device is the part of the controller the panel drives.
type Device interface {
	Submit(ctx context.Context, class command.Class, ch device.Channel, op command.Operation, value int, source string) bool
	SetClassEnabled(class command.Class, on bool)
	ToggleInteractionMode(ch device.Channel) bool
	Fire(ctx context.Context, ch device.Channel, strength int) error
	Waveforms() *device.Library
}

// Options configures a Panel.
type Options struct {
	Step         int
	FireStrength int
	LongPress    time.Duration
	Source       string
	Logger       zerolog.Logger
}

// Panel is safe for concurrent use.
type Panel struct {
	dev    Device
	source string
	logger zerolog.Logger

	mu           sync.Mutex
	channel      device.Channel
	step         int
	fireStrength int
	longPress    time.Duration
	pressCancel  context.CancelFunc

	wg sync.WaitGroup
}

// New returns a panel adjusting channel A.
func New(dev Device, opts Options) *Panel {
	if opts.Step <= 0 {
		opts.Step = DefaultStep
	}
	if opts.FireStrength <= 0 {
		opts.FireStrength = DefaultFireStrength
	}
	if opts.LongPress <= 0 {
		opts.LongPress = DefaultLongPress
	}
	if opts.Source == "" {
		opts.Source = DefaultSource
	}
	return &Panel{
		dev:          dev,
		source:       opts.Source,
		logger:       opts.Logger.With().Str(xglog.FieldComponent, "panel").Logger(),
		channel:      device.ChannelA,
		step:         opts.Step,
		fireStrength: opts.FireStrength,
		longPress:    opts.LongPress,
	}
}

// Channel returns the channel currently being adjusted.
func (p *Panel) Channel() device.Channel {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.channel
}

// SelectPage maps a panel page to a channel: pages 0 and 1 adjust A, later
// pages adjust B. Negative pages are ignored.
func (p *Panel) SelectPage(page int) (device.Channel, bool) {
	if page < 0 {
		return p.Channel(), false
	}
	ch := device.ChannelA
	if page > 1 {
		ch = device.ChannelB
	}
	p.mu.Lock()
	p.channel = ch
	p.mu.Unlock()
	p.logger.Info().
		Str(xglog.FieldEvent, "panel.channel_selected").
		Int("page", page).
		Str(xglog.FieldChannel, ch.String()).
		Msg("panel channel selected")
	return ch, true
}

// SetStep changes the increment used by StepUp and StepDown.
func (p *Panel) SetStep(step int) {
	if step <= 0 {
		return
	}
	p.mu.Lock()
	p.step = step
	p.mu.Unlock()
}

// SetFireStrength changes the strength used by the fire button.
func (p *Panel) SetFireStrength(v int) {
	if v <= 0 {
		return
	}
	p.mu.Lock()
	p.fireStrength = v
	p.mu.Unlock()
}

// Settings returns the step and fire strength.
func (p *Panel) Settings() (step, fireStrength int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.step, p.fireStrength
}

// StepUp raises the selected channel by one step.
func (p *Panel) StepUp(ctx context.Context) bool {
	return p.adjust(ctx, command.OpIncrease)
}

// StepDown lowers the selected channel by one step.
func (p *Panel) StepDown(ctx context.Context) bool {
	return p.adjust(ctx, command.OpDecrease)
}

func (p *Panel) adjust(ctx context.Context, op command.Operation) bool {
	p.mu.Lock()
	ch, step := p.channel, p.step
	p.mu.Unlock()
	return p.dev.Submit(ctx, command.ClassPanel, ch, op, step, p.source)
}

// SetControl enables or disables panel-class commands.
func (p *Panel) SetControl(on bool) {
	p.dev.SetClassEnabled(command.ClassPanel, on)
	p.logger.Info().
		Str(xglog.FieldEvent, "panel.control").
		Bool("enabled", on).
		Msg("panel control changed")
}

// ModeButton reports the mode button state. Holding it for the long-press
// duration toggles interaction mode of the selected channel; releasing it
// earlier cancels the toggle. It returns false when a release found no
// pending press.
func (p *Panel) ModeButton(ctx context.Context, pressed bool) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.pressCancel != nil {
		p.pressCancel()
		p.pressCancel = nil
	}
	if !pressed {
		return false
	}

	pressCtx, cancel := context.WithCancel(event.Detach(ctx))
	p.pressCancel = cancel
	ch, hold := p.channel, p.longPress

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		timer := time.NewTimer(hold)
		defer timer.Stop()
		select {
		case <-pressCtx.Done():
			return
		case <-timer.C:
		}

		p.mu.Lock()
		if pressCtx.Err() != nil {
			p.mu.Unlock()
			return
		}
		p.pressCancel = nil
		p.mu.Unlock()
		cancel()

		on := p.dev.ToggleInteractionMode(ch)
		p.logger.Info().
			Str(xglog.FieldEvent, "panel.interaction_toggled").
			Str(xglog.FieldChannel, ch.String()).
			Bool("interaction", on).
			Msg("channel mode toggled by long press")
	}()
	return true
}

// Fire runs fire mode on the selected channel. It blocks for the hold.
func (p *Panel) Fire(ctx context.Context) error {
	p.mu.Lock()
	ch, strength := p.channel, p.fireStrength
	p.mu.Unlock()
	return p.dev.Fire(ctx, ch, strength)
}

// SelectPulse queues a waveform change for the selected channel.
func (p *Panel) SelectPulse(ctx context.Context, name string) error {
	_, mode, err := p.dev.Waveforms().Lookup(name)
	if err != nil {
		return err
	}
	if !p.dev.Submit(ctx, command.ClassPanel, p.Channel(), command.OpSetPulseMode, mode, p.source) {
		return ErrRejected
	}
	return nil
}

// Close cancels a pending long press and waits for its goroutine.
func (p *Panel) Close() {
	p.mu.Lock()
	if p.pressCancel != nil {
		p.pressCancel()
		p.pressCancel = nil
	}
	p.mu.Unlock()
	p.wg.Wait()
}

// Action names a panel input.
type Action string

const (
	ActionPage      Action = "page"
	ActionStepUp    Action = "step_up"
	ActionStepDown  Action = "step_down"
	ActionControl   Action = "control"
	ActionMode      Action = "mode"
	ActionFire      Action = "fire"
	ActionPulse     Action = "pulse"
	ActionStepSize  Action = "step_size"
	ActionFireLevel Action = "fire_strength"
)

// Input is the argument of an action.
type Input struct {
	Value int    `json:"value"`
	Name  string `json:"name,omitempty"`
}

// Handle performs action with in. Boolean inputs treat non-zero as true.
func (p *Panel) Handle(ctx context.Context, action Action, in Input) error {
	switch Action(strings.ToLower(string(action))) {
	case ActionPage:
		p.SelectPage(in.Value)
	case ActionStepUp:
		if !p.StepUp(ctx) {
			return ErrRejected
		}
	case ActionStepDown:
		if !p.StepDown(ctx) {
			return ErrRejected
		}
	case ActionControl:
		p.SetControl(in.Value != 0)
	case ActionMode:
		p.ModeButton(ctx, in.Value != 0)
	case ActionFire:
		return p.Fire(ctx)
	case ActionPulse:
		return p.SelectPulse(ctx, in.Name)
	case ActionStepSize:
		p.SetStep(in.Value)
	case ActionFireLevel:
		p.SetFireStrength(in.Value)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownAction, action)
	}
	return nil
}
