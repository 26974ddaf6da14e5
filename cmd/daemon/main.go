// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"context"
	"flag"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ManuGH/dglink/internal/config"
	"github.com/ManuGH/dglink/internal/daemon"
	"github.com/ManuGH/dglink/internal/health"
	xglog "github.com/ManuGH/dglink/internal/log"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	version   = "v0.1.0"
	commit    = "none"
	buildDate = "unknown"
)

// maskURL removes user info from a URL string for safe logging.
func maskURL(rawURL string) string {
	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return "invalid-url-redacted"
	}
	parsedURL.User = nil
	return parsedURL.String()
}

func main() {
	if len(os.Args) > 1 && os.Args[1] == "config" {
		os.Exit(runConfigCLI(os.Args[2:], os.Stdout, os.Stderr))
	}

	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to config file (YAML)")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s (commit: %s, built: %s)\n", version, commit, buildDate)
		os.Exit(0)
	}

	// Configure logger with safe defaults until config is loaded
	xglog.Configure(xglog.Config{
		Level:   "info",
		Service: "dglink",
		Version: version,
	})
	logger := xglog.WithComponent("daemon")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	explicitConfigPath := strings.TrimSpace(*configPath)
	effectiveConfigPath := explicitConfigPath
	if effectiveConfigPath == "" {
		effectiveConfigPath = resolveDefaultConfigPath()
	}

	// Load configuration with precedence: ENV > File > Defaults
	loader := config.NewLoader(effectiveConfigPath, version)
	cfg, err := loader.Load()
	if err != nil {
		logger.Fatal().
			Err(err).
			Str(xglog.FieldEvent, "config.load_failed").
			Str(xglog.FieldPath, effectiveConfigPath).
			Msg("failed to load configuration")
	}

	xglog.Configure(xglog.Config{
		Level:   cfg.LogLevel,
		Service: "dglink",
		Version: cfg.Version,
	})
	logger = xglog.WithComponent("daemon")

	if effectiveConfigPath != "" {
		logger.Info().
			Str(xglog.FieldEvent, "config.loaded").
			Str("source", "file").
			Str(xglog.FieldPath, effectiveConfigPath).
			Msg("loaded configuration from file")
	} else {
		logger.Info().
			Str(xglog.FieldEvent, "config.loaded").
			Str("source", "env+defaults").
			Msg("loaded configuration from environment and defaults")
	}

	if err := health.PerformStartupChecks(ctx, cfg); err != nil {
		logger.Fatal().
			Err(err).
			Str(xglog.FieldEvent, "startup.check_failed").
			Msg("Startup checks failed. Please verify configuration and permissions.")
	}

	holder := config.NewConfigHolder(cfg, loader, effectiveConfigPath)

	rt, err := daemon.Build(ctx, cfg, daemon.BuildOptions{
		Logger: xglog.Base(),
		Holder: holder,
	})
	if err != nil {
		logger.Fatal().
			Err(err).
			Str(xglog.FieldEvent, "startup.build_failed").
			Msg("failed to assemble runtime")
	}

	if cfg.GameFeed.Enabled {
		logger.Info().
			Str(xglog.FieldURL, maskURL(cfg.GameFeed.URL)).
			Msg("game feed enabled")
	}

	mgr, err := daemon.NewManager(daemon.DefaultServerConfig(cfg), daemon.Deps{
		Logger:         logger,
		Config:         cfg,
		APIHandler:     rt.API.Handler(),
		MetricsHandler: promhttp.Handler(),
	})
	if err != nil {
		_ = rt.Close(context.WithoutCancel(ctx))
		logger.Fatal().Err(err).Msg("failed to create daemon manager")
	}

	logger.Info().
		Str(xglog.FieldEvent, "daemon.start").
		Str("version", version).
		Str("commit", commit).
		Str("listen", cfg.API.Listen).
		Bool("auth", cfg.API.Token != "").
		Msg("starting dglink")

	app := daemon.NewApp(logger, mgr, holder, rt)
	if err := app.Run(ctx); err != nil {
		logger.Error().Err(err).Str(xglog.FieldEvent, "daemon.failed").Msg("daemon exited with error")
		stop()
		os.Exit(1)
	}
	logger.Info().Str(xglog.FieldEvent, "daemon.stop").Msg("dglink stopped")
}
