// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package api exposes the daemon's HTTP control surface. It replaces the
// desktop window: every toggle, slider and plugin button is a JSON route.
package api

import (
	"context"
	"net/http"
	"sync"

	"github.com/ManuGH/dglink/internal/api/middleware"
	"github.com/ManuGH/dglink/internal/config"
	"github.com/ManuGH/dglink/internal/controller"
	"github.com/ManuGH/dglink/internal/event"
	"github.com/ManuGH/dglink/internal/gamefeed"
	"github.com/ManuGH/dglink/internal/health"
	xglog "github.com/ManuGH/dglink/internal/log"
	"github.com/ManuGH/dglink/internal/panel"
	"github.com/ManuGH/dglink/internal/plugin"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

// ConfigHolder is the reloadable configuration the server reads.
type ConfigHolder interface {
	Get() config.AppConfig
	Reload(ctx context.Context) error
}

// Deps are the components the routes drive. Controller, Plugins and Bus are
// required; the rest are optional and their routes answer 501 when absent.
type Deps struct {
	Controller *controller.Controller
	Plugins    *plugin.Host
	Bus        *event.Bus
	Panel      *panel.Panel
	Health     *health.Manager
	Config     ConfigHolder
	GameFeed   *gamefeed.Client
}

// Options configures the HTTP surface.
type Options struct {
	// Token, when set, is required as a bearer token on /api routes.
	Token          string
	RateLimit      int
	TracingService string
	Logger         zerolog.Logger
}

// Server serves the control API.
type Server struct {
	deps   Deps
	logger zerolog.Logger

	mu    sync.RWMutex
	token string

	router chi.Router
}

// New builds the server and its routes.
func New(deps Deps, opts Options) *Server {
	s := &Server{
		deps:   deps,
		token:  opts.Token,
		logger: opts.Logger.With().Str(xglog.FieldComponent, "api").Logger(),
	}
	s.router = s.routes(opts)
	return s
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler { return s.router }

// SetToken replaces the API token, e.g. after a config reload. An empty
// token disables authentication.
func (s *Server) SetToken(token string) {
	s.mu.Lock()
	s.token = token
	s.mu.Unlock()
}

func (s *Server) currentToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token
}

func (s *Server) routes(opts Options) chi.Router {
	r := middleware.NewRouter(middleware.StackConfig{
		EnableSecurityHeaders: true,
		EnableMetrics:         true,
		TracingService:        opts.TracingService,
		EnableLogging:         true,
		RateLimit:             opts.RateLimit,
	})

	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Post("/commands", s.handleSubmitCommand)

		r.Get("/controller", s.handleControllerStatus)
		r.Put("/controller/toggles", s.handleToggles)
		r.Put("/controller/cooldowns", s.handleCooldowns)
		r.Put("/controller/amplitude", s.handleAmplitude)

		r.Post("/events/{name}", s.handleEmitEvent)
		r.Get("/events", s.handleListHandlers)

		r.Get("/plugins", s.handleListPlugins)
		r.Get("/plugins/failures", s.handleLoadFailures)
		r.Post("/plugins/enable-all", s.handleEnableAll)
		r.Post("/plugins/disable-all", s.handleDisableAll)
		r.Get("/plugins/{key}", s.handleGetPlugin)
		r.Post("/plugins/{key}/enable", s.handleEnablePlugin)
		r.Post("/plugins/{key}/disable", s.handleDisablePlugin)
		r.Post("/plugins/{key}/commands/{command}", s.handlePluginCommand)
		r.Put("/plugins/{key}/settings", s.handlePluginSettings)

		r.Post("/device/strength", s.handleDeviceStrength)
		r.Post("/device/connection", s.handleDeviceConnection)
		r.Post("/device/feedback", s.handleDeviceFeedback)

		r.Get("/waveforms", s.handleListWaveforms)
		r.Post("/waveforms/{channel}", s.handleStartWaveform)
		r.Delete("/waveforms/{channel}", s.handleStopWaveform)
		r.Post("/fire", s.handleFire)

		r.Post("/panel/{action}", s.handlePanelAction)

		r.Get("/gamefeed", s.handleGameFeedStatus)

		r.Get("/logs", s.handleRecentLogs)
		r.Post("/config/reload", s.handleConfigReload)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusNotFound, errNotFound)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, r, http.StatusMethodNotAllowed, errMethodNotAllowed)
	})
	return r
}
