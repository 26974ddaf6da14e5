// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package daemon

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/ManuGH/dglink/internal/config"
	"github.com/ManuGH/dglink/internal/log"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApp_RequiresManagerAndRuntime(t *testing.T) {
	err := NewApp(zerolog.Nop(), nil, nil, nil).Run(context.Background())
	assert.ErrorIs(t, err, ErrMissingManager)

	mgr, err := NewManager(ServerConfig{}, Deps{Logger: log.WithComponent("test"), APIHandler: http.NotFoundHandler()})
	require.NoError(t, err)
	err = NewApp(zerolog.Nop(), mgr, nil, nil).Run(context.Background())
	assert.ErrorIs(t, err, ErrMissingRuntime)
}

func writeConfig(t *testing.T, path, listen, pluginDir, stateFile string, amplitude float64) {
	t.Helper()
	body := fmt.Sprintf(`api:
  listen: %q
metrics:
  enabled: false
controller:
  amplitude: %v
plugins:
  dirs: [%q]
  stateFile: %q
`, listen, amplitude, pluginDir, stateFile)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
}

func TestApp_RunServesReloadsAndShutsDown(t *testing.T) {
	dir := t.TempDir()
	pluginDir := filepath.Join(dir, "plugins")
	require.NoError(t, os.MkdirAll(pluginDir, 0o755))
	stateFile := filepath.Join(dir, "plugins.yaml")
	cfgPath := filepath.Join(dir, "config.yaml")
	addr := reserveListenAddr(t)
	writeConfig(t, cfgPath, addr, pluginDir, stateFile, 0.8)

	loader := config.NewLoader(cfgPath, "test")
	cfg, err := loader.Load()
	require.NoError(t, err)
	holder := config.NewConfigHolder(cfg, loader, cfgPath)

	rt, err := Build(context.Background(), cfg, BuildOptions{Logger: zerolog.Nop(), Holder: holder})
	require.NoError(t, err)

	mgr, err := NewManager(testServerConfig(2*time.Second), Deps{
		Logger:     log.WithComponent("test"),
		Config:     cfg,
		APIHandler: rt.API.Handler(),
	})
	require.NoError(t, err)

	app := NewApp(log.WithComponent("test"), mgr, holder, rt)
	app.reloadSignal = nil

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	errChan := make(chan error, 1)
	go func() { errChan <- app.Run(ctx) }()
	require.NoError(t, waitForListen(addr, 2*time.Second))

	client := &http.Client{Transport: &http.Transport{DisableKeepAlives: true}}
	resp, err := client.Get("http://" + addr + "/healthz")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	// The dispatcher is running, so an accepted command drains from the queue.
	resp, err = client.Post("http://"+addr+"/api/v1/commands", "application/json",
		strings.NewReader(`{"class":"gui","channel":"A","operation":"set","value":10}`))
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.Eventually(t, func() bool { return rt.Controller.QueueDepth() == 0 }, 2*time.Second, 10*time.Millisecond)

	assert.InDelta(t, 0.8, rt.Controller.Status().Amplitude, 1e-9)
	writeConfig(t, cfgPath, addr, pluginDir, stateFile, 0.3)
	resp, err = client.Post("http://"+addr+"/api/v1/config/reload", "application/json", nil)
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Eventually(t, func() bool {
		return rt.Controller.Status().Amplitude < 0.31
	}, 2*time.Second, 10*time.Millisecond)

	require.Positive(t, rt.Plugins.Counts()["enabled"])
	cancel()

	select {
	case err := <-errChan:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Run() did not return after cancellation")
	}
	assert.Zero(t, rt.Plugins.Counts()["enabled"], "shutdown disables every plugin")
}
