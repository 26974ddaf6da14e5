// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package luaplugin

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ManuGH/dglink/internal/command"
	"github.com/ManuGH/dglink/internal/device"
	"github.com/ManuGH/dglink/internal/event"
	"github.com/ManuGH/dglink/internal/plugin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type submission struct {
	Class  command.Class
	Ch     device.Channel
	Op     command.Operation
	Value  int
	Source string
}

type recordingSubmitter struct {
	mu   sync.Mutex
	subs []submission
}

func (r *recordingSubmitter) Submit(_ context.Context, class command.Class, ch device.Channel, op command.Operation, value int, source string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.subs = append(r.subs, submission{class, ch, op, value, source})
	return true
}

func (r *recordingSubmitter) all() []submission {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]submission(nil), r.subs...)
}

func writeFile(t *testing.T, path, body string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
}

func newHost(t *testing.T) (*plugin.Host, *event.Bus, *recordingSubmitter) {
	t.Helper()
	bus := event.NewBus(zerolog.Nop())
	sub := &recordingSubmitter{}
	return plugin.NewHost(plugin.HostOptions{Bus: bus, Commands: sub, Logger: zerolog.Nop()}), bus, sub
}

const hitScript = `
local dglink = require("dglink")
local hits = 0
return {
  name = "on_hit",
  version = "1.2.0",
  author = "tester",
  settings = {
    { name = "step", type = "int", default = 5, min = 1, max = 20, description = "increase per hit" },
  },
  events = {
    { event = "external_telemetry", priority = "normal", handler = function(e)
        hits = hits + 1
        dglink.submit("A", "increase", dglink.setting("step"))
      end },
  },
  commands = {
    hits = function(args) return hits end,
    echo = { description = "returns its args", handler = function(args) return args end },
  },
}
`

func TestSource_Discover(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "single.lua"), `return { name = "single" }`)
	writeFile(t, filepath.Join(dir, "bundle", "plugin.lua"), `return { name = "from_script" }`)
	writeFile(t, filepath.Join(dir, "bundle", "plugin.yaml"), "name: bundled\nversion: 9.9.9\n")
	writeFile(t, filepath.Join(dir, "empty", "README.md"), "no script here")
	writeFile(t, filepath.Join(dir, ".hidden.lua"), `return {}`)
	writeFile(t, filepath.Join(dir, "notes.txt"), "ignored")

	src := NewSource(zerolog.Nop(), 0, dir, filepath.Join(dir, "missing"))
	units, err := src.Discover(context.Background())
	require.NoError(t, err)

	var names []string
	for _, u := range units {
		names = append(names, u.Name)
	}
	assert.Equal(t, []string{"bundled", "single"}, names)
	assert.Equal(t, filepath.Join(dir, "bundle", "plugin.lua"), units[0].Origin)
}

func TestScript_EventsCommandsAndSettings(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "on_hit.lua"), hitScript)

	host, bus, sub := newHost(t)
	ctx := context.Background()
	keys := host.Discover(ctx, NewSource(zerolog.Nop(), 0, dir))
	require.Equal(t, []string{"on_hit"}, keys)
	require.True(t, host.Enable(ctx, "on_hit"))

	info, ok := host.Get("on_hit")
	require.True(t, ok)
	assert.Equal(t, "1.2.0", info.Version)
	assert.Equal(t, "tester", info.Author)

	bus.Emit(ctx, event.ExternalTelemetry, map[string]any{"type": "hit"})
	require.NoError(t, host.UpdateSettings(ctx, "on_hit", map[string]any{"step": 7}))
	bus.Emit(ctx, event.ExternalTelemetry, map[string]any{"type": "hit"})

	got := sub.all()
	require.Len(t, got, 2)
	assert.Equal(t, submission{command.ClassInteraction, device.ChannelA, command.OpIncrease, 5, "on_hit"}, got[0])
	assert.Equal(t, 7, got[1].Value)

	n, err := host.ExecuteCommand(ctx, "on_hit", "hits", nil)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	echoed, err := host.ExecuteCommand(ctx, "on_hit", "echo", map[string]any{"level": 3, "tag": "x"})
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"level": 3, "tag": "x"}, echoed)

	require.True(t, host.Disable(ctx, "on_hit"))
	bus.Emit(ctx, event.ExternalTelemetry, nil)
	assert.Len(t, sub.all(), 2)
	assert.True(t, host.Unload(ctx, "on_hit"))
}

func TestScript_CancelAndReentrantEmit(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "gate.lua"), `
local dglink = require("dglink")
local seen = {}
return {
  events = {
    { event = "outer", priority = "highest", handler = function(e)
        local cancelled = dglink.emit("inner", { from = e.name })
        e.cancel()
      end },
    { event = "inner", handler = function(e) table.insert(seen, e.data.from) end },
  },
  commands = { seen = function() return seen end },
}
`)
	host, bus, _ := newHost(t)
	ctx := context.Background()
	host.Discover(ctx, NewSource(zerolog.Nop(), 0, dir))
	require.True(t, host.Enable(ctx, "gate"))

	var lowRan bool
	bus.Register("outer", func(context.Context, *event.Event) error {
		lowRan = true
		return nil
	}, event.PriorityLowest, "")

	done := make(chan *event.Event, 1)
	go func() { done <- bus.Emit(ctx, "outer", nil) }()
	select {
	case e := <-done:
		assert.True(t, e.Cancelled())
	case <-time.After(2 * time.Second):
		t.Fatal("emit from inside a handler deadlocked")
	}
	assert.False(t, lowRan)

	seen, err := host.ExecuteCommand(ctx, "gate", "seen", nil)
	require.NoError(t, err)
	assert.Equal(t, []any{"outer"}, seen)
}

func TestScript_LoadFailuresAreSkipped(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "a_syntax.lua"), `return {`)
	writeFile(t, filepath.Join(dir, "b_not_table.lua"), `return 42`)
	writeFile(t, filepath.Join(dir, "c_bad_events.lua"), `return { events = { { event = "x" } } }`)
	writeFile(t, filepath.Join(dir, "d_good.lua"), `return { name = "good" }`)

	host, _, _ := newHost(t)
	keys := host.Discover(context.Background(), NewSource(zerolog.Nop(), 0, dir))
	assert.Equal(t, []string{"d_good"}, keys)
	assert.Len(t, host.LoadFailures(), 3)
}

func TestScript_CallTimeout(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "spin.lua"), `
return { initialize = function() while true do end end }
`)
	host, _, _ := newHost(t)
	ctx := context.Background()
	host.Discover(ctx, NewSource(zerolog.Nop(), 50*time.Millisecond, dir))

	start := time.Now()
	assert.False(t, host.Enable(ctx, "spin"))
	assert.Less(t, time.Since(start), 2*time.Second)
	state, _ := host.State("spin")
	assert.Equal(t, plugin.StateRegistered, state)
}

func TestScript_SandboxHasNoFileAccess(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "sandbox.lua"), `
return {
  commands = {
    libs = function()
      return { io = io == nil, os = os == nil, dofile = dofile == nil }
    end,
  },
}
`)
	host, _, _ := newHost(t)
	ctx := context.Background()
	host.Discover(ctx, NewSource(zerolog.Nop(), 0, dir))
	require.True(t, host.Enable(ctx, "sandbox"))

	got, err := host.ExecuteCommand(ctx, "sandbox", "libs", nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"io": true, "os": true, "dofile": true}, got)
}

func TestScript_CrossEmitBetweenScriptsTimesOut(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "left.lua"), `
local dglink = require("dglink")
return {
  events = {
    { event = "go_left", handler = function() dglink.emit("barrier"); dglink.emit("to_right") end },
    { event = "to_left", handler = function() end },
  },
}
`)
	writeFile(t, filepath.Join(dir, "right.lua"), `
local dglink = require("dglink")
return {
  events = {
    { event = "go_right", handler = function() dglink.emit("barrier"); dglink.emit("to_left") end },
    { event = "to_right", handler = function() end },
  },
}
`)
	host, bus, _ := newHost(t)
	ctx := context.Background()
	host.Discover(ctx, NewSource(zerolog.Nop(), 500*time.Millisecond, dir))
	require.Equal(t, 2, host.EnableAll(ctx))

	// Both scripts hold their own interpreter before emitting into the other.
	var arrived sync.WaitGroup
	arrived.Add(2)
	both := make(chan struct{})
	go func() {
		arrived.Wait()
		close(both)
	}()
	bus.Register("barrier", func(context.Context, *event.Event) error {
		arrived.Done()
		select {
		case <-both:
		case <-time.After(2 * time.Second):
		}
		return nil
	}, event.PriorityNormal, "")

	var wg sync.WaitGroup
	for _, name := range []string{"go_left", "go_right"} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			bus.Emit(ctx, name, nil)
		}()
	}
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("scripts emitting into each other blocked the bus")
	}

	// Both interpreters are free again.
	for _, key := range []string{"left", "right"} {
		state, _ := host.State(key)
		assert.Equal(t, plugin.StateEnabled, state)
	}
	bus.Emit(ctx, "to_left", nil)
	bus.Emit(ctx, "to_right", nil)
}

func TestScript_StaleCallScopeWaitsForInterpreter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "scoped.lua")
	writeFile(t, path, `return { name = "scoped" }`)
	s, err := Load(plugin.Runtime{Key: "scoped", Logger: zerolog.Nop()}, path, Metadata{}, time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	// A goroutine started from inside a call keeps that call's scope.
	var stale context.Context
	require.NoError(t, s.call(context.Background(), func() error {
		stale = event.WithScope(context.Background(), event.Scope(s.ctx))
		assert.True(t, s.heldBy(stale))
		return nil
	}))
	assert.False(t, s.heldBy(stale))

	release := make(chan struct{})
	entered := make(chan struct{})
	go func() {
		_ = s.call(context.Background(), func() error {
			close(entered)
			<-release
			return nil
		})
	}()
	<-entered

	var ran atomic.Bool
	done := make(chan error, 1)
	go func() {
		done <- s.call(stale, func() error {
			ran.Store(true)
			return nil
		})
	}()
	time.Sleep(50 * time.Millisecond)
	assert.False(t, ran.Load(), "stale scope entered a busy interpreter")
	close(release)
	require.NoError(t, <-done)
	assert.True(t, ran.Load())
}

func TestScript_BusyInterpreterTimesOut(t *testing.T) {
	path := filepath.Join(t.TempDir(), "busy.lua")
	writeFile(t, path, `return { name = "busy" }`)
	s, err := Load(plugin.Runtime{Key: "busy", Logger: zerolog.Nop()}, path, Metadata{}, 50*time.Millisecond)
	require.NoError(t, err)

	release := make(chan struct{})
	entered := make(chan struct{})
	finished := make(chan struct{})
	go func() {
		defer close(finished)
		_ = s.call(context.Background(), func() error {
			close(entered)
			<-release
			return nil
		})
	}()
	<-entered

	err = s.call(context.Background(), func() error { return nil })
	assert.ErrorIs(t, err, ErrScriptBusy)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(release)
	<-finished
	require.NoError(t, s.Close())
}
