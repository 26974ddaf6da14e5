// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ManuGH/dglink/internal/command"
	"github.com/ManuGH/dglink/internal/device"
	"github.com/ManuGH/dglink/internal/validate"
)

// Validate validates an AppConfig using the centralized validation package.
func Validate(cfg AppConfig) error {
	v := validate.New()

	if _, err := validate.ParseLogLevel(strings.ToLower(cfg.LogLevel)); err != nil {
		v.AddError("logLevel", "must be one of trace, debug, info, warn, error", cfg.LogLevel)
	}

	v.ListenAddr("api.listen", cfg.API.Listen)
	v.NonNegative("api.rateLimit", cfg.API.RateLimit)
	v.DurationRange("api.shutdownTimeout", cfg.API.ShutdownTimeout, time.Second, 5*time.Minute)

	if cfg.Metrics.Enabled {
		v.ListenAddr("metrics.listen", cfg.Metrics.Listen)
	}

	if cfg.Telemetry.Enabled {
		v.NotEmpty("telemetry.serviceName", cfg.Telemetry.ServiceName)
		v.OneOf("telemetry.exporter", cfg.Telemetry.Exporter, []string{"grpc", "http"})
		v.NotEmpty("telemetry.endpoint", cfg.Telemetry.Endpoint)
	}
	v.FloatRange("telemetry.samplingRate", cfg.Telemetry.SamplingRate, 0, 1)

	c := cfg.Controller
	v.DurationRange("controller.keepAliveInterval", c.KeepAliveInterval, 10*time.Millisecond, time.Minute)
	v.DurationRange("controller.staleAfter", c.StaleAfter, 10*time.Millisecond, time.Hour)
	v.DurationRange("controller.waveformLoopInterval", c.WaveformLoopInterval, 10*time.Millisecond, time.Minute)
	v.DurationRange("controller.fireHold", c.FireHold, 0, time.Minute)
	v.FloatRange("controller.amplitude", c.Amplitude, 0, 1)
	for name, d := range c.Cooldowns {
		field := fmt.Sprintf("controller.cooldowns.%s", name)
		if _, err := command.ParseClass(name); err != nil {
			v.AddError(field, "unknown command class", name)
			continue
		}
		v.DurationRange(field, d, 0, time.Hour)
	}
	for name := range c.Classes {
		if _, err := command.ParseClass(name); err != nil {
			v.AddError(fmt.Sprintf("controller.classes.%s", name), "unknown command class", name)
		}
	}

	v.Range("panel.step", cfg.Panel.Step, 1, device.MaxStrength)
	v.Range("panel.fireStrength", cfg.Panel.FireStrength, 0, device.MaxStrength)
	v.DurationRange("panel.longPress", cfg.Panel.LongPress, 50*time.Millisecond, 10*time.Second)

	v.DurationRange("plugins.callTimeout", cfg.Plugins.CallTimeout, 10*time.Millisecond, time.Minute)
	for i, dir := range cfg.Plugins.Dirs {
		v.NotEmpty(fmt.Sprintf("plugins.dirs[%d]", i), dir)
	}

	if cfg.GameFeed.Enabled {
		g := cfg.GameFeed
		v.URL("gameFeed.url", g.URL, []string{"ws", "wss"})
		v.DurationRange("gameFeed.reconnectDelay", g.ReconnectDelay, 10*time.Millisecond, 10*time.Minute)
		if g.RatePerSecond < 0 {
			v.AddError("gameFeed.ratePerSecond", "value cannot be negative", g.RatePerSecond)
		}
		if g.RatePerSecond > 0 {
			v.Positive("gameFeed.burst", g.Burst)
		}
	}

	return v.Err()
}
