// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package daemon wires the dglink components together and owns their
// lifecycle.
package daemon

import (
	"context"
	"errors"
	"fmt"

	"github.com/ManuGH/dglink/internal/api"
	"github.com/ManuGH/dglink/internal/config"
	"github.com/ManuGH/dglink/internal/controller"
	"github.com/ManuGH/dglink/internal/device"
	"github.com/ManuGH/dglink/internal/event"
	"github.com/ManuGH/dglink/internal/gamefeed"
	"github.com/ManuGH/dglink/internal/health"
	xglog "github.com/ManuGH/dglink/internal/log"
	"github.com/ManuGH/dglink/internal/panel"
	"github.com/ManuGH/dglink/internal/plugin"
	"github.com/ManuGH/dglink/internal/plugin/builtin"
	"github.com/ManuGH/dglink/internal/plugin/luaplugin"
	"github.com/ManuGH/dglink/internal/pluginstate"
	"github.com/ManuGH/dglink/internal/telemetry"
	"github.com/rs/zerolog"
)

// Runtime is the assembled set of long-lived components.
type Runtime struct {
	Bus        *event.Bus
	Controller *controller.Controller
	Panel      *panel.Panel
	Plugins    *plugin.Host
	States     *pluginstate.Store
	GameFeed   *gamefeed.Client
	Health     *health.Manager
	API        *api.Server
	Telemetry  *telemetry.Provider

	logger zerolog.Logger
}

// BuildOptions carries what Build needs beyond the configuration.
type BuildOptions struct {
	Logger zerolog.Logger
	// Transport drives the device; nil selects the logging transport.
	Transport device.Transport
	// Holder backs the API's reload endpoint; optional.
	Holder api.ConfigHolder
}

// Build constructs every component from cfg, discovers plugins and applies
// the runtime-tunable settings. Nothing is started.
func Build(ctx context.Context, cfg config.AppConfig, opts BuildOptions) (*Runtime, error) {
	logger := opts.Logger
	rt := &Runtime{logger: logger.With().Str(xglog.FieldComponent, "runtime").Logger()}

	tp, err := telemetry.NewProvider(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: cfg.Version,
		ExporterType:   cfg.Telemetry.Exporter,
		Endpoint:       cfg.Telemetry.Endpoint,
		SamplingRate:   cfg.Telemetry.SamplingRate,
	})
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}
	rt.Telemetry = tp

	rt.Bus = event.NewBus(logger)

	transport := opts.Transport
	if transport == nil {
		transport = device.NewLogTransport(logger)
	}
	ctrl, err := controller.New(controller.Options{
		Transport:         transport,
		Bus:               rt.Bus,
		Logger:            logger,
		KeepAliveInterval: cfg.Controller.KeepAliveInterval,
		StaleAfter:        cfg.Controller.StaleAfter,
		LoopInterval:      cfg.Controller.WaveformLoopInterval,
		FireHold:          cfg.Controller.FireHold,
		Amplitude:         cfg.Controller.Amplitude,
	})
	if err != nil {
		return nil, errors.Join(fmt.Errorf("init controller: %w", err), tp.Shutdown(ctx))
	}
	rt.Controller = ctrl

	rt.Panel = panel.New(ctrl, panel.Options{
		Step:         cfg.Panel.Step,
		FireStrength: cfg.Panel.FireStrength,
		LongPress:    cfg.Panel.LongPress,
		Logger:       logger,
	})

	states, err := pluginstate.Open(cfg.Plugins.StateFile)
	if err != nil {
		rt.Panel.Close()
		ctrl.Close()
		return nil, errors.Join(fmt.Errorf("open plugin state: %w", err), tp.Shutdown(ctx))
	}
	rt.States = states

	rt.Plugins = plugin.NewHost(plugin.HostOptions{
		Bus:      rt.Bus,
		Commands: ctrl,
		Logger:   logger,
		Store:    states,
	})
	var sources []plugin.Source
	if cfg.Plugins.Builtin {
		sources = append(sources, builtin.Source(rt.Panel))
	}
	if len(cfg.Plugins.Dirs) > 0 {
		sources = append(sources, luaplugin.NewSource(logger, cfg.Plugins.CallTimeout, cfg.Plugins.Dirs...))
	}
	keys := rt.Plugins.Discover(ctx, sources...)
	rt.logger.Info().
		Str(xglog.FieldEvent, "plugins.discovered").
		Int("count", len(keys)).
		Int("failures", len(rt.Plugins.LoadFailures())).
		Msg("plugin discovery complete")

	if cfg.GameFeed.Enabled {
		feed, err := gamefeed.New(rt.Bus, gamefeed.Options{
			URL:            cfg.GameFeed.URL,
			ReconnectDelay: cfg.GameFeed.ReconnectDelay,
			RatePerSecond:  cfg.GameFeed.RatePerSecond,
			Burst:          cfg.GameFeed.Burst,
			Logger:         logger,
		})
		if err != nil {
			return nil, errors.Join(fmt.Errorf("init game feed: %w", err), rt.Close(ctx))
		}
		rt.GameFeed = feed
	}

	rt.Health = health.NewManager(cfg.Version)
	rt.Health.RegisterChecker(health.NewDeviceChecker(ctrl.Connected))
	rt.Health.RegisterChecker(health.NewPluginChecker(
		func() int { return len(rt.Plugins.LoadFailures()) },
		rt.Plugins.Counts,
	))
	if rt.GameFeed != nil {
		feed := rt.GameFeed
		rt.Health.RegisterChecker(health.NewFuncChecker("gamefeed", func(context.Context) health.CheckResult {
			st := feed.Status()
			if !st.Connected {
				return health.CheckResult{Status: health.StatusDegraded, Message: "disconnected", Error: st.LastError}
			}
			return health.CheckResult{Status: health.StatusHealthy, Message: fmt.Sprintf("%d messages", st.Messages)}
		}))
	}

	var tracing string
	if cfg.Telemetry.Enabled {
		tracing = cfg.Telemetry.ServiceName
	}
	rt.API = api.New(api.Deps{
		Controller: ctrl,
		Plugins:    rt.Plugins,
		Bus:        rt.Bus,
		Panel:      rt.Panel,
		Health:     rt.Health,
		Config:     opts.Holder,
		GameFeed:   rt.GameFeed,
	}, api.Options{
		Token:          cfg.API.Token,
		RateLimit:      cfg.API.RateLimit,
		TracingService: tracing,
		Logger:         logger,
	})

	rt.Apply(cfg)

	if cfg.Plugins.EnableOnStart {
		n := rt.Plugins.EnableAll(ctx)
		rt.logger.Info().Str(xglog.FieldEvent, "plugins.enabled_on_start").Int("count", n).Msg("plugins enabled")
	}
	return rt, nil
}

// Apply pushes the settings that may change without a restart into the
// running components.
func (rt *Runtime) Apply(cfg config.AppConfig) {
	if lvl, err := zerolog.ParseLevel(cfg.LogLevel); err == nil && cfg.LogLevel != "" {
		zerolog.SetGlobalLevel(lvl)
	}

	c := rt.Controller
	for class, d := range cfg.Controller.ClassCooldowns() {
		c.SetCooldown(class, d)
	}
	for class, on := range cfg.Controller.ClassToggles() {
		c.SetClassEnabled(class, on)
	}
	// Interaction modes own the interaction class flag, so they go last.
	c.SetInteractionMode(device.ChannelA, cfg.Controller.InteractionA)
	c.SetInteractionMode(device.ChannelB, cfg.Controller.InteractionB)
	c.SetAmplitude(cfg.Controller.Amplitude)

	rt.Panel.SetStep(cfg.Panel.Step)
	rt.Panel.SetFireStrength(cfg.Panel.FireStrength)

	if rt.API != nil {
		rt.API.SetToken(cfg.API.Token)
	}
}

// Close disables every plugin and stops the device loops. The saved plugin
// state is left untouched so the next start restores the user's choices.
func (rt *Runtime) Close(ctx context.Context) error {
	if rt.Plugins != nil {
		n := rt.Plugins.DisableAll(ctx)
		rt.logger.Info().Str(xglog.FieldEvent, "plugins.disabled_on_shutdown").Int("count", n).Msg("plugins disabled")
	}
	if rt.Panel != nil {
		rt.Panel.Close()
	}
	if rt.Controller != nil {
		rt.Controller.Close()
	}
	if rt.Telemetry != nil {
		return rt.Telemetry.Shutdown(ctx)
	}
	return nil
}
