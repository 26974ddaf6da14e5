// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package builtin holds the plugins compiled into the daemon.
package builtin

import (
	"context"
	"sync"
	"time"

	"github.com/ManuGH/dglink/internal/command"
	"github.com/ManuGH/dglink/internal/device"
	"github.com/ManuGH/dglink/internal/event"
	xglog "github.com/ManuGH/dglink/internal/log"
	"github.com/ManuGH/dglink/internal/plugin"
)

const StrengthCycleName = "strength_cycle"

// StrengthCycle alternates one channel between a high and a low strength.
// The cycle runs from Initialize until Shutdown.
type StrengthCycle struct {
	rt plugin.Runtime

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
	cycles int
}

// StrengthCycleUnit returns the discoverable unit for StrengthCycle.
func StrengthCycleUnit() plugin.Unit {
	return plugin.Unit{
		Name:   StrengthCycleName,
		Origin: "builtin",
		Load: func(rt plugin.Runtime) (plugin.Plugin, error) {
			return &StrengthCycle{rt: rt}, nil
		},
	}
}

func (p *StrengthCycle) Manifest() plugin.Manifest {
	return plugin.Manifest{
		Name:        StrengthCycleName,
		Version:     "1.0.0",
		Description: "Alternates a channel between two strengths on a fixed period.",
		Author:      "dglink",
		Commands: []plugin.CommandBinding{
			{Name: "status", Description: "reports whether the cycle runs", Handler: p.status},
		},
		Settings: []plugin.Setting{
			{Name: "channel", Type: plugin.SettingString, Default: "A", Description: "channel to drive"},
			{Name: "high", Type: plugin.SettingInt, Default: 30, Min: plugin.Bound(0), Max: plugin.Bound(device.MaxStrength)},
			{Name: "low", Type: plugin.SettingInt, Default: 5, Min: plugin.Bound(0), Max: plugin.Bound(device.MaxStrength)},
			{Name: "period_ms", Type: plugin.SettingInt, Default: 5000, Min: plugin.Bound(10), Max: plugin.Bound(600000)},
		},
	}
}

func (p *StrengthCycle) Initialize(ctx context.Context) error {
	ch, err := device.ParseChannel(p.rt.Settings.String("channel", "A"))
	if err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		return nil
	}
	loopCtx, cancel := context.WithCancel(event.Detach(ctx))
	p.cancel = cancel
	p.done = make(chan struct{})
	go p.run(loopCtx, ch, p.done)
	return nil
}

func (p *StrengthCycle) Shutdown(context.Context) error {
	p.mu.Lock()
	cancel, done := p.cancel, p.done
	p.cancel, p.done = nil, nil
	p.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	<-done
	return nil
}

func (p *StrengthCycle) run(ctx context.Context, ch device.Channel, done chan struct{}) {
	defer close(done)
	logger := p.rt.Logger.With().Str(xglog.FieldChannel, ch.String()).Logger()
	logger.Info().Str(xglog.FieldEvent, "strength_cycle.start").Msg("strength cycle started")
	defer logger.Info().Str(xglog.FieldEvent, "strength_cycle.stop").Msg("strength cycle stopped")

	high := true
	for {
		value := p.rt.Settings.Int("low", 5)
		if high {
			value = p.rt.Settings.Int("high", 30)
		}
		if p.rt.Submit(ctx, ch, command.OpSetTo, value) {
			logger.Debug().Int(xglog.FieldValue, value).Msg("strength cycle step")
		}
		p.mu.Lock()
		p.cycles++
		p.mu.Unlock()
		high = !high

		timer := time.NewTimer(time.Duration(p.rt.Settings.Int("period_ms", 5000)) * time.Millisecond)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

func (p *StrengthCycle) status(context.Context, map[string]any) (any, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return map[string]any{"running": p.cancel != nil, "steps": p.cycles}, nil
}
