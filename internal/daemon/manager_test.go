// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ManuGH/dglink/internal/config"
	"github.com/ManuGH/dglink/internal/log"
	"github.com/rs/zerolog"
	"go.uber.org/goleak"
)

// contains is a helper to check if a string contains a substring
func contains(s, substr string) bool {
	return strings.Contains(s, substr)
}

func reserveListenAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("failed to reserve listen addr: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()
	return addr
}

func waitForListen(addr string, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		conn, err := net.DialTimeout("tcp", addr, 50*time.Millisecond)
		if err == nil {
			_ = conn.Close()
			return nil
		}
		time.Sleep(10 * time.Millisecond)
	}
	return errors.New("listen timeout")
}

func testServerConfig(shutdown time.Duration) ServerConfig {
	return ServerConfig{
		ReadTimeout:     1 * time.Second,
		WriteTimeout:    1 * time.Second,
		IdleTimeout:     10 * time.Second,
		MaxHeaderBytes:  1 << 20,
		ShutdownTimeout: shutdown,
	}
}

func appConfig(apiAddr, metricsAddr string) config.AppConfig {
	cfg := config.AppConfig{}
	cfg.API.Listen = apiAddr
	if metricsAddr != "" {
		cfg.Metrics.Enabled = true
		cfg.Metrics.Listen = metricsAddr
	}
	return cfg
}

func TestNewManager_ValidDeps(t *testing.T) {
	deps := Deps{
		Logger:     log.WithComponent("test"),
		Config:     appConfig("127.0.0.1:0", ""),
		APIHandler: http.NotFoundHandler(),
	}

	mgr, err := NewManager(testServerConfig(5*time.Second), deps)
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	if mgr == nil {
		t.Fatal("NewManager() returned nil manager")
	}
}

func TestNewManager_MissingLogger(t *testing.T) {
	deps := Deps{
		Logger:     zerolog.Nop(), // Disabled logger
		APIHandler: http.NotFoundHandler(),
	}

	_, err := NewManager(ServerConfig{}, deps)
	if err == nil {
		t.Fatal("NewManager() expected error for missing logger, got nil")
	}
	if !errors.Is(err, ErrMissingLogger) {
		t.Errorf("NewManager() error = %v, want %v", err, ErrMissingLogger)
	}
}

func TestNewManager_MissingAPIHandler(t *testing.T) {
	deps := Deps{
		Logger:     log.WithComponent("test"),
		APIHandler: nil,
	}

	_, err := NewManager(ServerConfig{}, deps)
	if err == nil {
		t.Fatal("NewManager() expected error for missing API handler, got nil")
	}
	if !contains(err.Error(), "API handler is required") {
		t.Errorf("NewManager() error = %v, want error containing 'API handler is required'", err)
	}
}

func TestManager_StartStop_OK(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	addr := reserveListenAddr(t)
	handler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	mgr, err := NewManager(testServerConfig(2*time.Second), Deps{
		Logger:     log.WithComponent("test"),
		Config:     appConfig(addr, ""),
		APIHandler: handler,
	})
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errChan := make(chan error, 1)
	go func() {
		errChan <- mgr.Start(ctx)
	}()

	if err := waitForListen(addr, 2*time.Second); err != nil {
		t.Fatalf("server did not start listening: %v", err)
	}

	client := &http.Client{Transport: &http.Transport{DisableKeepAlives: true}}
	resp, err := client.Get("http://" + addr)
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if string(body) != "OK" {
		t.Errorf("body = %q, want OK", body)
	}

	cancel()

	select {
	case err := <-errChan:
		if err != nil {
			t.Errorf("Start() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Start() did not return after context cancellation")
	}
}

func TestManager_StartTwice(t *testing.T) {
	addr := reserveListenAddr(t)
	mgr, err := NewManager(testServerConfig(time.Second), Deps{
		Logger:     log.WithComponent("test"),
		Config:     appConfig(addr, ""),
		APIHandler: http.NotFoundHandler(),
	})
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errChan := make(chan error, 1)
	go func() { errChan <- mgr.Start(ctx) }()
	if err := waitForListen(addr, 2*time.Second); err != nil {
		t.Fatalf("server did not start listening: %v", err)
	}

	if err := mgr.Start(ctx); err == nil || !contains(err.Error(), "already started") {
		t.Errorf("second Start() error = %v, want already started", err)
	}

	cancel()
	if err := <-errChan; err != nil {
		t.Errorf("Start() error = %v", err)
	}
}

func TestManager_Shutdown_TimesOut(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	requestStarted := make(chan struct{})
	releaseHandler := make(chan struct{})
	var once sync.Once
	handler := http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		once.Do(func() { close(requestStarted) })
		select {
		case <-r.Context().Done():
		case <-releaseHandler:
		}
	})

	addr := reserveListenAddr(t)
	mgr, err := NewManager(testServerConfig(100*time.Millisecond), Deps{
		Logger:     log.WithComponent("test"),
		Config:     appConfig(addr, ""),
		APIHandler: handler,
	})
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errChan := make(chan error, 1)
	go func() {
		errChan <- mgr.Start(ctx)
	}()

	if err := waitForListen(addr, 2*time.Second); err != nil {
		t.Fatalf("server did not start listening: %v", err)
	}

	requestDone := make(chan struct{})
	go func() {
		defer close(requestDone)
		client := &http.Client{
			Transport: &http.Transport{
				DisableKeepAlives: true,
			},
		}
		req, _ := http.NewRequestWithContext(context.Background(), http.MethodGet, "http://"+addr, nil)
		resp, err := client.Do(req)
		if err == nil && resp != nil {
			_ = resp.Body.Close()
		}
	}()

	select {
	case <-requestStarted:
		// Request is in-flight; shutdown should now hit timeout path.
	case <-time.After(2 * time.Second):
		t.Fatal("expected in-flight request before shutdown")
	}

	cancel()

	select {
	case err := <-errChan:
		if err == nil {
			t.Fatal("expected shutdown timeout error, got nil")
		}
		if !contains(err.Error(), "shutdown errors") && !contains(err.Error(), "context deadline exceeded") {
			t.Fatalf("unexpected shutdown error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Start() did not return after context cancellation")
	}

	close(releaseHandler)

	select {
	case <-requestDone:
	case <-time.After(2 * time.Second):
		t.Fatal("blocked request did not terminate after shutdown")
	}
}

func TestManager_Shutdown_NotStarted(t *testing.T) {
	mgr, err := NewManager(testServerConfig(time.Second), Deps{
		Logger:     log.WithComponent("test"),
		Config:     appConfig("127.0.0.1:0", ""),
		APIHandler: http.NotFoundHandler(),
	})
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}

	err = mgr.Shutdown(context.Background())
	if !errors.Is(err, ErrManagerNotStarted) {
		t.Errorf("Shutdown() error = %v, want %v", err, ErrManagerNotStarted)
	}
}

func TestManager_ShutdownHooksRunLIFO(t *testing.T) {
	mgr, err := NewManager(testServerConfig(time.Second), Deps{
		Logger:     log.WithComponent("test"),
		Config:     appConfig(reserveListenAddr(t), ""),
		APIHandler: http.NotFoundHandler(),
	})
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}

	var order []string
	for _, name := range []string{"first", "second", "third"} {
		mgr.RegisterShutdownHook(name, func(context.Context) error {
			order = append(order, name)
			return nil
		})
	}
	failing := errors.New("boom")
	mgr.RegisterShutdownHook("failing", func(context.Context) error { return failing })

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = mgr.Start(ctx)
	if !errors.Is(err, failing) {
		t.Fatalf("Start() error = %v, want hook failure", err)
	}
	want := []string{"third", "second", "first"}
	if strings.Join(order, ",") != strings.Join(want, ",") {
		t.Errorf("hook order = %v, want %v", order, want)
	}

	// Shutdown is idempotent once stopping.
	if err := mgr.Shutdown(context.Background()); err != nil {
		t.Errorf("second Shutdown() error = %v", err)
	}
}

func TestManager_WithMetrics(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	metricsHandler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("# HELP test_metric\n"))
	})

	apiAddr, metricsAddr := reserveListenAddr(t), reserveListenAddr(t)
	mgr, err := NewManager(testServerConfig(2*time.Second), Deps{
		Logger:         log.WithComponent("test"),
		Config:         appConfig(apiAddr, metricsAddr),
		APIHandler:     http.NotFoundHandler(),
		MetricsHandler: metricsHandler,
	})
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	errChan := make(chan error, 1)
	go func() {
		errChan <- mgr.Start(ctx)
	}()

	if err := waitForListen(apiAddr, 2*time.Second); err != nil {
		t.Fatalf("api server did not start listening: %v", err)
	}
	client := &http.Client{Transport: &http.Transport{DisableKeepAlives: true}}
	resp, err := client.Get("http://" + metricsAddr)
	if err != nil {
		t.Fatalf("GET metrics: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if !contains(string(body), "test_metric") {
		t.Errorf("metrics body = %q", body)
	}

	cancel()

	select {
	case err := <-errChan:
		if err != nil {
			t.Errorf("Start() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Start() did not return after context cancellation")
	}
}

func TestManager_PropagatesListenErrors(t *testing.T) {
	testServer := httptest.NewServer(http.NotFoundHandler())
	defer testServer.Close()

	mgr, err := NewManager(testServerConfig(time.Second), Deps{
		Logger:     log.WithComponent("test"),
		Config:     appConfig(testServer.Listener.Addr().String(), ""),
		APIHandler: http.NotFoundHandler(),
	})
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	err = mgr.Start(ctx)
	if err == nil {
		t.Fatal("Start() expected error for port conflict, got nil")
	}
	if !contains(err.Error(), "failed to start API server") {
		t.Errorf("Start() error = %v", err)
	}
}
