// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ManuGH/dglink/internal/command"
	"gopkg.in/yaml.v3"
)

// Loader handles configuration loading with precedence
type Loader struct {
	configPath      string
	version         string
	ConsumedEnvKeys map[string]struct{}
}

// NewLoader creates a new configuration loader. An empty configPath means
// defaults and environment only.
func NewLoader(configPath, version string) *Loader {
	return &Loader{
		configPath:      configPath,
		version:         version,
		ConsumedEnvKeys: make(map[string]struct{}),
	}
}

// Path returns the configured file path.
func (l *Loader) Path() string { return l.configPath }

func (l *Loader) envString(key, defaultVal string) string {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseString(key, defaultVal)
}

func (l *Loader) envBool(key string, defaultVal bool) bool {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseBool(key, defaultVal)
}

func (l *Loader) envInt(key string, defaultVal int) int {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseInt(key, defaultVal)
}

func (l *Loader) envDuration(key string, defaultVal time.Duration) time.Duration {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseDuration(key, defaultVal)
}

func (l *Loader) envFloat(key string, defaultVal float64) float64 {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseFloat(key, defaultVal)
}

func (l *Loader) envList(key string, defaultVal []string) []string {
	l.ConsumedEnvKeys[key] = struct{}{}
	return ParseList(key, defaultVal)
}

// Load loads configuration with precedence: ENV > File > Defaults.
// Order: defaults -> strict file parse -> env -> validate.
func (l *Loader) Load() (AppConfig, error) {
	cfg := Defaults()

	if l.configPath != "" {
		if err := l.loadFile(l.configPath, &cfg); err != nil {
			return cfg, fmt.Errorf("load config file: %w", err)
		}
	}

	l.mergeEnvConfig(&cfg)
	cfg.Version = l.version

	if err := Validate(cfg); err != nil {
		return cfg, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// loadFile decodes a YAML file over cfg with STRICT parsing. Keys absent from
// the file keep their current value; unknown keys are fatal.
func (l *Loader) loadFile(path string, cfg *AppConfig) error {
	path = filepath.Clean(path)

	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return fmt.Errorf("%w: %s (only YAML supported)", ErrUnsupportedFormat, ext)
	}

	// #nosec G304 -- configuration file paths are provided by the operator via CLI/ENV
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		if strings.Contains(err.Error(), "field") && strings.Contains(err.Error(), "not found") {
			return fmt.Errorf("strict config parse error: %w: %w", ErrUnknownConfigField, err)
		}
		return fmt.Errorf("strict config parse error: %w", err)
	}

	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return ErrTrailingContent
	}
	return nil
}

// mergeEnvConfig applies DGLINK_* environment overrides.
func (l *Loader) mergeEnvConfig(cfg *AppConfig) {
	cfg.LogLevel = l.envString("DGLINK_LOG_LEVEL", cfg.LogLevel)

	cfg.API.Listen = l.envString("DGLINK_API_LISTEN", cfg.API.Listen)
	cfg.API.Token = l.envString("DGLINK_API_TOKEN", cfg.API.Token)
	cfg.API.RateLimit = l.envInt("DGLINK_API_RATE_LIMIT", cfg.API.RateLimit)
	cfg.API.ShutdownTimeout = l.envDuration("DGLINK_API_SHUTDOWN_TIMEOUT", cfg.API.ShutdownTimeout)

	cfg.Metrics.Enabled = l.envBool("DGLINK_METRICS_ENABLED", cfg.Metrics.Enabled)
	cfg.Metrics.Listen = l.envString("DGLINK_METRICS_LISTEN", cfg.Metrics.Listen)

	cfg.Telemetry.Enabled = l.envBool("DGLINK_TELEMETRY_ENABLED", cfg.Telemetry.Enabled)
	cfg.Telemetry.ServiceName = l.envString("DGLINK_TELEMETRY_SERVICE_NAME", cfg.Telemetry.ServiceName)
	cfg.Telemetry.Exporter = l.envString("DGLINK_TELEMETRY_EXPORTER", cfg.Telemetry.Exporter)
	cfg.Telemetry.Endpoint = l.envString("DGLINK_TELEMETRY_ENDPOINT", cfg.Telemetry.Endpoint)
	cfg.Telemetry.SamplingRate = l.envFloat("DGLINK_TELEMETRY_SAMPLING_RATE", cfg.Telemetry.SamplingRate)

	c := &cfg.Controller
	c.KeepAliveInterval = l.envDuration("DGLINK_KEEPALIVE_INTERVAL", c.KeepAliveInterval)
	c.StaleAfter = l.envDuration("DGLINK_STALE_AFTER", c.StaleAfter)
	c.WaveformLoopInterval = l.envDuration("DGLINK_WAVEFORM_LOOP_INTERVAL", c.WaveformLoopInterval)
	c.FireHold = l.envDuration("DGLINK_FIRE_HOLD", c.FireHold)
	c.Amplitude = l.envFloat("DGLINK_AMPLITUDE", c.Amplitude)
	c.InteractionA = l.envBool("DGLINK_INTERACTION_A", c.InteractionA)
	c.InteractionB = l.envBool("DGLINK_INTERACTION_B", c.InteractionB)
	for _, class := range command.Classes {
		name := class.String()
		upper := strings.ToUpper(name)
		if c.Cooldowns == nil {
			c.Cooldowns = make(map[string]time.Duration)
		}
		if c.Classes == nil {
			c.Classes = make(map[string]bool)
		}
		c.Cooldowns[name] = l.envDuration("DGLINK_COOLDOWN_"+upper, c.Cooldowns[name])
		c.Classes[name] = l.envBool("DGLINK_CLASS_"+upper, c.Classes[name])
	}

	cfg.Panel.Step = l.envInt("DGLINK_PANEL_STEP", cfg.Panel.Step)
	cfg.Panel.FireStrength = l.envInt("DGLINK_PANEL_FIRE_STRENGTH", cfg.Panel.FireStrength)
	cfg.Panel.LongPress = l.envDuration("DGLINK_PANEL_LONG_PRESS", cfg.Panel.LongPress)

	cfg.Plugins.Builtin = l.envBool("DGLINK_PLUGINS_BUILTIN", cfg.Plugins.Builtin)
	cfg.Plugins.Dirs = l.envList("DGLINK_PLUGIN_DIRS", cfg.Plugins.Dirs)
	cfg.Plugins.StateFile = l.envString("DGLINK_PLUGIN_STATE_FILE", cfg.Plugins.StateFile)
	cfg.Plugins.CallTimeout = l.envDuration("DGLINK_PLUGIN_CALL_TIMEOUT", cfg.Plugins.CallTimeout)
	cfg.Plugins.EnableOnStart = l.envBool("DGLINK_PLUGINS_ENABLE_ON_START", cfg.Plugins.EnableOnStart)

	cfg.GameFeed.Enabled = l.envBool("DGLINK_GAMEFEED_ENABLED", cfg.GameFeed.Enabled)
	cfg.GameFeed.URL = l.envString("DGLINK_GAMEFEED_URL", cfg.GameFeed.URL)
	cfg.GameFeed.ReconnectDelay = l.envDuration("DGLINK_GAMEFEED_RECONNECT_DELAY", cfg.GameFeed.ReconnectDelay)
	cfg.GameFeed.RatePerSecond = l.envFloat("DGLINK_GAMEFEED_RATE", cfg.GameFeed.RatePerSecond)
	cfg.GameFeed.Burst = l.envInt("DGLINK_GAMEFEED_BURST", cfg.GameFeed.Burst)
}
