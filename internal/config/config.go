// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package config provides configuration management for dglink.
//
// Precedence is ENV > YAML file > defaults. The YAML file is parsed strictly:
// unknown keys are rejected.
package config

import (
	"time"

	"github.com/ManuGH/dglink/internal/command"
)

// AppConfig is the complete daemon configuration.
type AppConfig struct {
	Version  string `yaml:"-" json:"version,omitempty"`
	LogLevel string `yaml:"logLevel" json:"logLevel"`

	API        APIConfig        `yaml:"api" json:"api"`
	Metrics    MetricsConfig    `yaml:"metrics" json:"metrics"`
	Telemetry  TelemetryConfig  `yaml:"telemetry" json:"telemetry"`
	Controller ControllerConfig `yaml:"controller" json:"controller"`
	Panel      PanelConfig      `yaml:"panel" json:"panel"`
	Plugins    PluginsConfig    `yaml:"plugins" json:"plugins"`
	GameFeed   GameFeedConfig   `yaml:"gameFeed" json:"gameFeed"`
}

// APIConfig configures the HTTP control surface.
type APIConfig struct {
	Listen string `yaml:"listen" json:"listen"`
	// Token, when set, is required as a bearer token on /api routes.
	Token string `yaml:"token" json:"-"`
	// RateLimit is requests per minute per client IP; 0 disables limiting.
	RateLimit       int           `yaml:"rateLimit" json:"rateLimit"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout" json:"shutdownTimeout"`
}

// MetricsConfig configures the Prometheus listener.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Listen  string `yaml:"listen" json:"listen"`
}

// TelemetryConfig configures OpenTelemetry tracing.
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled" json:"enabled"`
	ServiceName  string  `yaml:"serviceName" json:"serviceName"`
	Exporter     string  `yaml:"exporter" json:"exporter"`
	Endpoint     string  `yaml:"endpoint" json:"endpoint"`
	SamplingRate float64 `yaml:"samplingRate" json:"samplingRate"`
}

// ControllerConfig holds the dispatcher and device loop settings.
type ControllerConfig struct {
	KeepAliveInterval    time.Duration `yaml:"keepAliveInterval" json:"keepAliveInterval"`
	StaleAfter           time.Duration `yaml:"staleAfter" json:"staleAfter"`
	WaveformLoopInterval time.Duration `yaml:"waveformLoopInterval" json:"waveformLoopInterval"`
	FireHold             time.Duration `yaml:"fireHold" json:"fireHold"`
	Amplitude            float64       `yaml:"amplitude" json:"amplitude"`

	// Cooldowns maps a command class name to its per-source cooldown.
	Cooldowns map[string]time.Duration `yaml:"cooldowns" json:"cooldowns"`
	// Classes maps a command class name to whether it is executed.
	Classes map[string]bool `yaml:"classes" json:"classes"`

	InteractionA bool `yaml:"interactionA" json:"interactionA"`
	InteractionB bool `yaml:"interactionB" json:"interactionB"`
}

// PanelConfig configures the physical panel mapping.
type PanelConfig struct {
	Step         int           `yaml:"step" json:"step"`
	FireStrength int           `yaml:"fireStrength" json:"fireStrength"`
	LongPress    time.Duration `yaml:"longPress" json:"longPress"`
}

// PluginsConfig configures plugin discovery.
type PluginsConfig struct {
	Builtin     bool          `yaml:"builtin" json:"builtin"`
	Dirs        []string      `yaml:"dirs" json:"dirs"`
	StateFile   string        `yaml:"stateFile" json:"stateFile"`
	CallTimeout time.Duration `yaml:"callTimeout" json:"callTimeout"`
	// EnableOnStart enables every plugin not disabled by the user at startup.
	EnableOnStart bool `yaml:"enableOnStart" json:"enableOnStart"`
}

// GameFeedConfig configures the external game telemetry client.
type GameFeedConfig struct {
	Enabled        bool          `yaml:"enabled" json:"enabled"`
	URL            string        `yaml:"url" json:"url"`
	ReconnectDelay time.Duration `yaml:"reconnectDelay" json:"reconnectDelay"`
	RatePerSecond  float64       `yaml:"ratePerSecond" json:"ratePerSecond"`
	Burst          int           `yaml:"burst" json:"burst"`
}

// Defaults returns the built-in configuration.
func Defaults() AppConfig {
	cooldowns := make(map[string]time.Duration, len(command.Classes))
	classes := make(map[string]bool, len(command.Classes))
	for class, d := range command.DefaultCooldowns() {
		cooldowns[class.String()] = d
	}
	for _, class := range command.Classes {
		classes[class.String()] = true
	}
	// Interaction commands follow the per-channel modes, both off by default.
	classes[command.ClassInteraction.String()] = false

	return AppConfig{
		LogLevel: "info",
		API: APIConfig{
			Listen:          "127.0.0.1:8088",
			RateLimit:       600,
			ShutdownTimeout: 10 * time.Second,
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Listen:  "127.0.0.1:9091",
		},
		Telemetry: TelemetryConfig{
			ServiceName:  "dglink",
			Exporter:     "grpc",
			Endpoint:     "localhost:4317",
			SamplingRate: 1.0,
		},
		Controller: ControllerConfig{
			KeepAliveInterval:    time.Second,
			StaleAfter:           3 * time.Second,
			WaveformLoopInterval: 500 * time.Millisecond,
			FireHold:             2 * time.Second,
			Amplitude:            1.0,
			Cooldowns:            cooldowns,
			Classes:              classes,
		},
		Panel: PanelConfig{
			Step:         5,
			FireStrength: 30,
			LongPress:    time.Second,
		},
		Plugins: PluginsConfig{
			Builtin:       true,
			Dirs:          []string{"plugins"},
			StateFile:     "data/plugins.yaml",
			CallTimeout:   2 * time.Second,
			EnableOnStart: true,
		},
		GameFeed: GameFeedConfig{
			URL:            "ws://127.0.0.1:11398",
			ReconnectDelay: 5 * time.Second,
			RatePerSecond:  20,
			Burst:          40,
		},
	}
}

// ClassCooldowns converts the configured cooldowns to command classes.
// Invalid class names are skipped; Validate reports them.
func (c ControllerConfig) ClassCooldowns() map[command.Class]time.Duration {
	out := make(map[command.Class]time.Duration, len(c.Cooldowns))
	for name, d := range c.Cooldowns {
		if class, err := command.ParseClass(name); err == nil {
			out[class] = d
		}
	}
	return out
}

// ClassToggles converts the configured class toggles to command classes.
func (c ControllerConfig) ClassToggles() map[command.Class]bool {
	out := make(map[command.Class]bool, len(c.Classes))
	for name, on := range c.Classes {
		if class, err := command.ParseClass(name); err == nil {
			out[class] = on
		}
	}
	return out
}
