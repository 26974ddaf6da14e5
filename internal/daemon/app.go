// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/ManuGH/dglink/internal/config"
	xglog "github.com/ManuGH/dglink/internal/log"
	"github.com/rs/zerolog"
)

// App owns the long-lived runtime lifecycle (dispatcher, keep-alive, game
// feed, config reload) and delegates server management to Manager.
type App struct {
	logger       zerolog.Logger
	manager      Manager
	cfgHolder    *config.ConfigHolder
	runtime      *Runtime
	reloadSignal os.Signal
}

// NewApp creates a new App orchestrator. cfgHolder may be nil.
func NewApp(logger zerolog.Logger, manager Manager, cfgHolder *config.ConfigHolder, rt *Runtime) *App {
	return &App{
		logger:       logger,
		manager:      manager,
		cfgHolder:    cfgHolder,
		runtime:      rt,
		reloadSignal: syscall.SIGHUP,
	}
}

// Run starts all owned background subsystems and blocks until ctx is
// cancelled or a fatal error occurs. The runtime is closed by a manager
// shutdown hook, after the HTTP servers have drained.
func (a *App) Run(ctx context.Context) error {
	if a.manager == nil {
		return ErrMissingManager
	}
	if a.runtime == nil {
		return ErrMissingRuntime
	}

	a.manager.RegisterShutdownHook("runtime", a.runtime.Close)

	g, ctx := errgroup.WithContext(ctx)

	// Config watcher is best-effort: startup should not fail if watcher cannot be started.
	if a.cfgHolder != nil {
		if err := a.cfgHolder.StartWatcher(ctx); err != nil {
			a.logger.Warn().Err(err).Str(xglog.FieldEvent, "config.watcher_start_failed").Msg("failed to start config watcher")
		}
		a.manager.RegisterShutdownHook("config-watcher", func(context.Context) error {
			a.cfgHolder.Stop()
			return nil
		})

		applyCh := make(chan config.AppConfig, 1)
		a.cfgHolder.RegisterListener(applyCh)
		g.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case cfg := <-applyCh:
					a.runtime.Apply(cfg)
					a.logger.Info().Str(xglog.FieldEvent, "config.applied").Msg("reloaded config applied")
				}
			}
		})
	}

	// SIGHUP trigger for manual reload.
	if a.cfgHolder != nil && a.reloadSignal != nil {
		g.Go(func() error {
			hupChan := make(chan os.Signal, 1)
			signal.Notify(hupChan, a.reloadSignal)
			defer signal.Stop(hupChan)

			for {
				select {
				case <-ctx.Done():
					return nil
				case <-hupChan:
					a.logger.Info().
						Str(xglog.FieldEvent, "config.reload_signal").
						Str("signal", a.reloadSignal.String()).
						Msg("received reload signal, reloading config")

					if err := a.cfgHolder.Reload(context.WithoutCancel(ctx)); err != nil {
						a.logger.Warn().
							Err(err).
							Str(xglog.FieldEvent, "config.reload_failed").
							Msg("config reload failed")
					}
				}
			}
		})
	}

	g.Go(func() error { return a.runtime.Controller.Run(ctx) })
	g.Go(func() error { return a.runtime.Controller.RunKeepAlive(ctx) })
	if feed := a.runtime.GameFeed; feed != nil {
		g.Go(func() error { return feed.Run(ctx) })
	}

	// Main server lifecycle.
	g.Go(func() error {
		return a.manager.Start(ctx)
	})

	return g.Wait()
}
