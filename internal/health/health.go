// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package health provides liveness and readiness checks with per-component
// status for the daemon.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/ManuGH/dglink/internal/log"
)

// Status represents the overall health/readiness status
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
)

// CheckResult represents the result of a component health check
type CheckResult struct {
	Status  Status `json:"status"`
	Message string `json:"message,omitempty"`
	Error   string `json:"error,omitempty"`
}

// HealthResponse represents the full health check response
type HealthResponse struct {
	Status    Status                 `json:"status"`
	Version   string                 `json:"version,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Uptime    int64                  `json:"uptime_seconds"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

// ReadinessResponse represents the readiness check response
type ReadinessResponse struct {
	Ready     bool                   `json:"ready"`
	Status    Status                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks,omitempty"`
}

// Checker defines the interface for health checks
type Checker interface {
	Name() string
	Check(ctx context.Context) CheckResult
}

// Manager manages health and readiness checks
type Manager struct {
	version string
	started time.Time

	mu       sync.RWMutex
	checkers []Checker
}

// NewManager creates a new health check manager
func NewManager(version string) *Manager {
	return &Manager{
		version:  version,
		started:  time.Now(),
		checkers: make([]Checker, 0),
	}
}

// RegisterChecker adds a health checker to the manager
func (m *Manager) RegisterChecker(checker Checker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checkers = append(m.checkers, checker)
}

func (m *Manager) run(ctx context.Context) (map[string]CheckResult, Status) {
	m.mu.RLock()
	checkers := append([]Checker(nil), m.checkers...)
	m.mu.RUnlock()

	if len(checkers) == 0 {
		return nil, StatusHealthy
	}
	results := make(map[string]CheckResult, len(checkers))
	overall := StatusHealthy
	for _, c := range checkers {
		r := c.Check(ctx)
		results[c.Name()] = r
		switch r.Status {
		case StatusUnhealthy:
			overall = StatusUnhealthy
		case StatusDegraded:
			if overall == StatusHealthy {
				overall = StatusDegraded
			}
		}
	}
	return results, overall
}

// Health performs a liveness check. The process is alive whenever it can
// answer; component checks are only run when verbose is set.
func (m *Manager) Health(ctx context.Context, verbose bool) HealthResponse {
	resp := HealthResponse{
		Status:    StatusHealthy,
		Version:   m.version,
		Timestamp: time.Now(),
		Uptime:    int64(time.Since(m.started).Seconds()),
	}
	if verbose {
		resp.Checks, resp.Status = m.run(ctx)
	}
	return resp
}

// Ready performs a readiness check. Degraded components keep the daemon
// ready; an unhealthy one does not.
func (m *Manager) Ready(ctx context.Context) ReadinessResponse {
	checks, status := m.run(ctx)
	return ReadinessResponse{
		Ready:     status != StatusUnhealthy,
		Status:    status,
		Timestamp: time.Now(),
		Checks:    checks,
	}
}

// ServeHealth handles HTTP health check requests
func (m *Manager) ServeHealth(w http.ResponseWriter, r *http.Request) {
	logger := log.WithComponentFromContext(r.Context(), "health")
	verbose := r.URL.Query().Get("verbose") == "true"

	resp := m.Health(r.Context(), verbose)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logger.Error().Err(err).Str(log.FieldEvent, "health.encode_error").Msg("failed to encode health response")
	}
}

// ServeReady handles HTTP readiness check requests
func (m *Manager) ServeReady(w http.ResponseWriter, r *http.Request) {
	logger := log.WithComponentFromContext(r.Context(), "readiness")

	resp := m.Ready(r.Context())

	w.Header().Set("Content-Type", "application/json")
	if resp.Ready {
		w.WriteHeader(http.StatusOK)
	} else {
		w.WriteHeader(http.StatusServiceUnavailable)
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logger.Error().Err(err).Str(log.FieldEvent, "readiness.encode_error").Msg("failed to encode readiness response")
	}

	logger.Debug().
		Str(log.FieldEvent, "readiness.checked").
		Str("status", string(resp.Status)).
		Bool("ready", resp.Ready).
		Msg("readiness check performed")
}

// FuncChecker adapts a function to Checker.
type FuncChecker struct {
	name string
	fn   func(ctx context.Context) CheckResult
}

// NewFuncChecker creates a named checker backed by fn.
func NewFuncChecker(name string, fn func(ctx context.Context) CheckResult) *FuncChecker {
	return &FuncChecker{name: name, fn: fn}
}

func (c *FuncChecker) Name() string { return c.name }

func (c *FuncChecker) Check(ctx context.Context) CheckResult { return c.fn(ctx) }

// DeviceChecker reports whether a device is paired. An unpaired device is
// degraded: the daemon still accepts commands and queues them.
type DeviceChecker struct {
	connected func() bool
}

// NewDeviceChecker creates a checker for the device connection.
func NewDeviceChecker(connected func() bool) *DeviceChecker {
	return &DeviceChecker{connected: connected}
}

func (c *DeviceChecker) Name() string { return "device" }

func (c *DeviceChecker) Check(_ context.Context) CheckResult {
	if !c.connected() {
		return CheckResult{Status: StatusDegraded, Message: "device not paired"}
	}
	return CheckResult{Status: StatusHealthy, Message: "device paired"}
}

// PluginChecker reports plugin load failures and failed plugins.
type PluginChecker struct {
	loadFailures func() int
	counts       func() map[string]int
}

// NewPluginChecker creates a checker for the plugin host.
func NewPluginChecker(loadFailures func() int, counts func() map[string]int) *PluginChecker {
	return &PluginChecker{loadFailures: loadFailures, counts: counts}
}

func (c *PluginChecker) Name() string { return "plugins" }

func (c *PluginChecker) Check(_ context.Context) CheckResult {
	counts := c.counts()
	failures := c.loadFailures()
	if failures > 0 {
		return CheckResult{
			Status:  StatusDegraded,
			Message: fmt.Sprintf("%d plugin(s) failed to load", failures),
		}
	}
	return CheckResult{
		Status:  StatusHealthy,
		Message: fmt.Sprintf("%d enabled, %d registered", counts["enabled"], counts["registered"]),
	}
}
