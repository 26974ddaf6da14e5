// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import (
	"net/http"
	"time"

	"github.com/ManuGH/dglink/internal/config"
	"github.com/rs/zerolog"
)

// Deps contains dependencies required by the daemon Manager.
type Deps struct {
	// Logger is the structured logger for the daemon
	Logger zerolog.Logger

	// Config supplies listen addresses and the shutdown timeout.
	Config config.AppConfig

	// APIHandler is the HTTP handler for the API server
	APIHandler http.Handler

	// MetricsHandler is the HTTP handler for Prometheus metrics (if enabled)
	MetricsHandler http.Handler
}

// Validate checks if the dependencies are valid.
func (d *Deps) Validate() error {
	if d.Logger.GetLevel() == zerolog.Disabled {
		return ErrMissingLogger
	}
	if d.APIHandler == nil {
		return ErrMissingAPIHandler
	}
	// Config validation is done by config.Loader
	return nil
}

// ServerConfig holds HTTP server timeouts shared by the API and metrics
// listeners.
type ServerConfig struct {
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	MaxHeaderBytes  int
	ShutdownTimeout time.Duration
}

// DefaultServerConfig returns timeouts suited to the control API. The write
// timeout covers a blocking fire hold.
func DefaultServerConfig(cfg config.AppConfig) ServerConfig {
	shutdown := cfg.API.ShutdownTimeout
	if shutdown <= 0 {
		shutdown = 10 * time.Second
	}
	return ServerConfig{
		ReadTimeout:     10 * time.Second,
		WriteTimeout:    30 * time.Second,
		IdleTimeout:     120 * time.Second,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: shutdown,
	}
}
