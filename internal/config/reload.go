// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package config

import (
	"context"
	"fmt"
	"maps"
	"sync"
	"time"

	xglog "github.com/ManuGH/dglink/internal/log"
	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// ConfigHolder holds configuration with atomic reloading capability.
// It provides thread-safe access and supports hot reloading from file,
// SIGHUP or the API.
type ConfigHolder struct {
	mu         sync.RWMutex
	current    AppConfig
	loader     *Loader
	configPath string
	logger     zerolog.Logger

	watchMu  sync.Mutex
	watcher  *fsnotify.Watcher
	debounce time.Duration

	reloadMu        sync.RWMutex
	reloadListeners []chan<- AppConfig
}

// NewConfigHolder creates a new configuration holder with initial config.
func NewConfigHolder(initial AppConfig, loader *Loader, configPath string) *ConfigHolder {
	return &ConfigHolder{
		current:    initial,
		loader:     loader,
		configPath: configPath,
		logger:     xglog.WithComponent("config"),
		debounce:   500 * time.Millisecond,
	}
}

// Get returns the current configuration (thread-safe read).
func (h *ConfigHolder) Get() AppConfig {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.current
}

// Reload reloads configuration and validates it. On failure the old
// configuration is kept.
func (h *ConfigHolder) Reload(_ context.Context) error {
	h.logger.Info().Str(xglog.FieldEvent, "config.reload_start").Msg("reloading configuration")

	newCfg, err := h.loader.Load()
	if err != nil {
		h.logger.Error().
			Err(err).
			Str(xglog.FieldEvent, "config.reload_failed").
			Msg("failed to load new configuration")
		return fmt.Errorf("load config: %w", err)
	}

	h.mu.Lock()
	oldCfg := h.current
	h.current = newCfg
	h.mu.Unlock()

	h.notifyListeners(newCfg)
	h.logChanges(oldCfg, newCfg)

	h.logger.Info().
		Str(xglog.FieldEvent, "config.reload_success").
		Msg("configuration reloaded successfully")
	return nil
}

// StartWatcher starts watching the config file for changes.
// If configPath is empty, this is a no-op.
func (h *ConfigHolder) StartWatcher(ctx context.Context) error {
	if h.configPath == "" {
		h.logger.Info().
			Str(xglog.FieldEvent, "config.watcher_disabled").
			Msg("config file watcher disabled (no config file)")
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	if err := watcher.Add(h.configPath); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("watch config file: %w", err)
	}

	h.watchMu.Lock()
	h.watcher = watcher
	h.watchMu.Unlock()

	h.logger.Info().
		Str(xglog.FieldEvent, "config.watcher_started").
		Str(xglog.FieldPath, h.configPath).
		Msg("watching config file for changes")

	go h.watchLoop(ctx, watcher)
	return nil
}

func (h *ConfigHolder) watchLoop(ctx context.Context, watcher *fsnotify.Watcher) {
	var debounceTimer *time.Timer
	defer func() {
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
	}()

	for {
		select {
		case <-ctx.Done():
			h.logger.Info().Str(xglog.FieldEvent, "config.watcher_stopped").Msg("config watcher stopped")
			_ = watcher.Close()
			return

		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			// Write and Create cover in-place edits and editors that replace the file.
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) {
				h.logger.Debug().
					Str(xglog.FieldEvent, "config.file_changed").
					Str("op", event.Op.String()).
					Msg("config file changed")

				if debounceTimer != nil {
					debounceTimer.Stop()
				}
				debounceTimer = time.AfterFunc(h.debounce, func() {
					if err := h.Reload(ctx); err != nil {
						h.logger.Error().
							Err(err).
							Str(xglog.FieldEvent, "config.auto_reload_failed").
							Msg("automatic config reload failed")
					}
				})
			}

		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			h.logger.Error().
				Err(err).
				Str(xglog.FieldEvent, "config.watcher_error").
				Msg("config watcher error")
		}
	}
}

// Stop stops the config watcher (if running).
func (h *ConfigHolder) Stop() {
	h.watchMu.Lock()
	defer h.watchMu.Unlock()
	if h.watcher != nil {
		_ = h.watcher.Close()
		h.watcher = nil
	}
}

// RegisterListener registers a channel to receive the new config whenever
// a reload succeeds. Sends never block; a full channel misses the update.
func (h *ConfigHolder) RegisterListener(ch chan<- AppConfig) {
	h.reloadMu.Lock()
	defer h.reloadMu.Unlock()
	h.reloadListeners = append(h.reloadListeners, ch)
}

func (h *ConfigHolder) notifyListeners(newCfg AppConfig) {
	h.reloadMu.RLock()
	defer h.reloadMu.RUnlock()

	for _, ch := range h.reloadListeners {
		select {
		case ch <- newCfg:
		default:
			h.logger.Warn().
				Str(xglog.FieldEvent, "config.listener_skip").
				Msg("skipped notifying listener (channel full)")
		}
	}
}

func (h *ConfigHolder) logChanges(old, newCfg AppConfig) {
	if old.LogLevel != newCfg.LogLevel {
		h.logger.Info().Str("old", old.LogLevel).Str("new", newCfg.LogLevel).Msg("config changed: logLevel")
	}
	if old.Controller.Amplitude != newCfg.Controller.Amplitude {
		h.logger.Info().
			Float64("old", old.Controller.Amplitude).
			Float64("new", newCfg.Controller.Amplitude).
			Msg("config changed: controller.amplitude")
	}
	if !maps.Equal(old.Controller.Cooldowns, newCfg.Controller.Cooldowns) {
		h.logger.Info().
			Interface("old", old.Controller.Cooldowns).
			Interface("new", newCfg.Controller.Cooldowns).
			Msg("config changed: controller.cooldowns")
	}
	if !maps.Equal(old.Controller.Classes, newCfg.Controller.Classes) {
		h.logger.Info().
			Interface("old", old.Controller.Classes).
			Interface("new", newCfg.Controller.Classes).
			Msg("config changed: controller.classes")
	}
	if old.Panel != newCfg.Panel {
		h.logger.Info().
			Interface("old", old.Panel).
			Interface("new", newCfg.Panel).
			Msg("config changed: panel")
	}
	if old.API.Listen != newCfg.API.Listen || old.Metrics != newCfg.Metrics {
		h.logger.Warn().
			Str(xglog.FieldEvent, "config.restart_required").
			Msg("listener addresses changed; restart required to apply")
	}
	if old.API.Token != newCfg.API.Token {
		h.logger.Info().Msg("config changed: api.token (redacted)")
	}
}
