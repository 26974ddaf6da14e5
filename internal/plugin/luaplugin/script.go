// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package luaplugin

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/ManuGH/dglink/internal/event"
	"github.com/ManuGH/dglink/internal/plugin"
	lua "github.com/yuin/gopher-lua"
)

var (
	ErrBadScript  = errors.New("invalid plugin script")
	ErrScriptBusy = errors.New("plugin script busy")
)

// held is the call scope of a script call in progress. The chain lets a
// script that emits an event it also handles re-enter without waiting on
// itself. A scope only counts while its token is the script's owner, so a
// context that outlives the call grants nothing.
type held struct {
	s      *Script
	token  uint64
	parent *held
}

// Script is a plugin backed by one Lua interpreter. Every entry into the
// interpreter is serialized by the one-slot sem; waiting for it is bounded
// by the call timeout.
type Script struct {
	rt      plugin.Runtime
	path    string
	timeout time.Duration

	sem   chan struct{}
	owner atomic.Uint64
	seq   atomic.Uint64
	L     *lua.LState
	ctx   context.Context // context of the call in progress, guarded by sem

	manifest   plugin.Manifest
	initFn     *lua.LFunction
	shutdownFn *lua.LFunction
	settingsFn *lua.LFunction
}

// Load runs the script at path and builds its manifest. meta overrides the
// descriptive fields the script declares.
func Load(rt plugin.Runtime, path string, meta Metadata, timeout time.Duration) (*Script, error) {
	if timeout <= 0 {
		timeout = DefaultCallTimeout
	}
	s := &Script{rt: rt, path: path, timeout: timeout, sem: make(chan struct{}, 1)}
	s.L = lua.NewState(lua.Options{SkipOpenLibs: true})
	openLibs(s.L)
	s.L.PreloadModule("dglink", s.module)

	var ret lua.LValue
	err := s.call(context.Background(), func() error {
		fn, err := s.L.LoadFile(path)
		if err != nil {
			return err
		}
		ret, err = s.invoke(fn)
		return err
	})
	if err != nil {
		s.L.Close()
		return nil, fmt.Errorf("run %s: %w", path, err)
	}
	tbl, ok := ret.(*lua.LTable)
	if !ok {
		s.L.Close()
		return nil, fmt.Errorf("%w: %s must return a table, got %s", ErrBadScript, path, ret.Type())
	}
	if err := s.parse(tbl, meta); err != nil {
		s.L.Close()
		return nil, fmt.Errorf("%w: %s: %v", ErrBadScript, path, err)
	}
	return s, nil
}

// openLibs loads the libraries a sandboxed script may use. io and os are
// left out, as are the base functions that read files.
func openLibs(L *lua.LState) {
	for _, lib := range []struct {
		name string
		fn   lua.LGFunction
	}{
		{lua.LoadLibName, lua.OpenPackage},
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	} {
		L.Push(L.NewFunction(lib.fn))
		L.Push(lua.LString(lib.name))
		L.Call(1, 0)
	}
	for _, name := range []string{"dofile", "loadfile"} {
		L.SetGlobal(name, lua.LNil)
	}
}

func (s *Script) parse(tbl *lua.LTable, meta Metadata) error {
	m := plugin.Manifest{
		Name:        firstNonEmpty(meta.Name, stringField(tbl, "name"), s.rt.Key),
		Version:     firstNonEmpty(meta.Version, stringField(tbl, "version")),
		Description: firstNonEmpty(meta.Description, stringField(tbl, "description")),
		Author:      firstNonEmpty(meta.Author, stringField(tbl, "author")),
	}
	s.initFn = functionField(tbl, "initialize")
	s.shutdownFn = functionField(tbl, "shutdown")
	s.settingsFn = functionField(tbl, "on_settings_changed")

	var err error
	if m.Events, err = s.parseEvents(tbl.RawGetString("events")); err != nil {
		return err
	}
	if m.Commands, err = s.parseCommands(tbl.RawGetString("commands")); err != nil {
		return err
	}
	if m.Settings, err = parseSettings(tbl.RawGetString("settings")); err != nil {
		return err
	}
	s.manifest = m
	return nil
}

// parseEvents accepts a list of {event, priority, handler} tables or a map
// of event name to handler function.
func (s *Script) parseEvents(v lua.LValue) ([]plugin.EventBinding, error) {
	tbl, ok := v.(*lua.LTable)
	if !ok {
		return nil, nil
	}
	var out []plugin.EventBinding
	for i := 1; i <= tbl.MaxN(); i++ {
		entry, ok := tbl.RawGetInt(i).(*lua.LTable)
		if !ok {
			return nil, fmt.Errorf("events[%d] is not a table", i)
		}
		fn := functionField(entry, "handler")
		name := stringField(entry, "event")
		if fn == nil || name == "" {
			return nil, fmt.Errorf("events[%d] needs event and handler", i)
		}
		p, err := event.ParsePriority(stringField(entry, "priority"))
		if err != nil {
			return nil, fmt.Errorf("events[%d]: %w", i, err)
		}
		out = append(out, plugin.EventBinding{Event: name, Priority: p, Handler: s.eventHandler(fn)})
	}
	for _, name := range sortedKeys(tbl) {
		fn, ok := tbl.RawGetString(name).(*lua.LFunction)
		if !ok {
			return nil, fmt.Errorf("events.%s is not a function", name)
		}
		out = append(out, plugin.EventBinding{Event: name, Priority: event.PriorityNormal, Handler: s.eventHandler(fn)})
	}
	return out, nil
}

// parseCommands accepts name = function or name = {description, handler}.
func (s *Script) parseCommands(v lua.LValue) ([]plugin.CommandBinding, error) {
	tbl, ok := v.(*lua.LTable)
	if !ok {
		return nil, nil
	}
	var out []plugin.CommandBinding
	for _, name := range sortedKeys(tbl) {
		b := plugin.CommandBinding{Name: name}
		switch x := tbl.RawGetString(name).(type) {
		case *lua.LFunction:
			b.Handler = s.commandHandler(x)
		case *lua.LTable:
			fn := functionField(x, "handler")
			if fn == nil {
				return nil, fmt.Errorf("commands.%s has no handler", name)
			}
			b.Description = stringField(x, "description")
			b.Handler = s.commandHandler(fn)
		default:
			return nil, fmt.Errorf("commands.%s must be a function or table", name)
		}
		out = append(out, b)
	}
	return out, nil
}

func parseSettings(v lua.LValue) ([]plugin.Setting, error) {
	tbl, ok := v.(*lua.LTable)
	if !ok {
		return nil, nil
	}
	var out []plugin.Setting
	for i := 1; i <= tbl.MaxN(); i++ {
		entry, ok := tbl.RawGetInt(i).(*lua.LTable)
		if !ok {
			return nil, fmt.Errorf("settings[%d] is not a table", i)
		}
		st := plugin.Setting{
			Name:        stringField(entry, "name"),
			Description: stringField(entry, "description"),
			Type:        plugin.SettingType(stringField(entry, "type")),
			Default:     fromLua(entry.RawGetString("default")),
		}
		if st.Type == "" {
			st.Type = inferType(st.Default)
		}
		if n, ok := entry.RawGetString("min").(lua.LNumber); ok {
			st.Min = plugin.Bound(float64(n))
		}
		if n, ok := entry.RawGetString("max").(lua.LNumber); ok {
			st.Max = plugin.Bound(float64(n))
		}
		out = append(out, st)
	}
	return out, nil
}

func inferType(v any) plugin.SettingType {
	switch v.(type) {
	case int:
		return plugin.SettingInt
	case float64:
		return plugin.SettingFloat
	case bool:
		return plugin.SettingBool
	default:
		return plugin.SettingString
	}
}

func functionField(t *lua.LTable, key string) *lua.LFunction {
	fn, _ := t.RawGetString(key).(*lua.LFunction)
	return fn
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// call serializes fn against the interpreter and bounds it, including the
// wait for the interpreter, by the call timeout. Nested calls from the same
// call chain reuse the held slot.
func (s *Script) call(ctx context.Context, fn func() error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if !s.heldBy(ctx) {
		select {
		case s.sem <- struct{}{}:
		case <-ctx.Done():
			return fmt.Errorf("%w: %s: %w", ErrScriptBusy, s.path, ctx.Err())
		}
		token := s.seq.Add(1)
		s.owner.Store(token)
		defer func() {
			s.owner.Store(0)
			<-s.sem
		}()
		parent, _ := event.Scope(ctx).(*held)
		ctx = event.WithScope(ctx, &held{s: s, token: token, parent: parent})
	}
	if s.L == nil {
		return errors.New("script closed")
	}

	prevCtx, prevL := s.ctx, s.L.Context()
	s.ctx = ctx
	s.L.SetContext(ctx)
	defer func() {
		s.ctx = prevCtx
		if prevL != nil {
			s.L.SetContext(prevL)
		} else {
			s.L.RemoveContext()
		}
	}()
	return fn()
}

// heldBy reports whether ctx belongs to the call that currently owns s.
func (s *Script) heldBy(ctx context.Context) bool {
	owner := s.owner.Load()
	if owner == 0 {
		return false
	}
	for h, _ := event.Scope(ctx).(*held); h != nil; h = h.parent {
		if h.s == s {
			return h.token == owner
		}
	}
	return false
}

// invoke calls fn in protected mode and returns its first result. Callers
// hold the lock.
func (s *Script) invoke(fn *lua.LFunction, args ...lua.LValue) (lua.LValue, error) {
	if err := s.L.CallByParam(lua.P{Fn: fn, NRet: 1, Protect: true}, args...); err != nil {
		return lua.LNil, err
	}
	ret := s.L.Get(-1)
	s.L.Pop(1)
	return ret, nil
}

func (s *Script) eventHandler(fn *lua.LFunction) event.Handler {
	return func(ctx context.Context, e *event.Event) error {
		return s.call(ctx, func() error {
			L := s.L
			et := L.NewTable()
			et.RawSetString("name", lua.LString(e.Name))
			et.RawSetString("data", toLua(L, e.Payload))
			et.RawSetString("cancelled", lua.LBool(e.Cancelled()))
			et.RawSetString("cancel", L.NewFunction(func(*lua.LState) int {
				e.Cancel()
				return 0
			}))
			_, err := s.invoke(fn, et)
			return err
		})
	}
}

func (s *Script) commandHandler(fn *lua.LFunction) plugin.CommandFunc {
	return func(ctx context.Context, args map[string]any) (any, error) {
		var out any
		err := s.call(ctx, func() error {
			ret, err := s.invoke(fn, toLua(s.L, args))
			out = fromLua(ret)
			return err
		})
		return out, err
	}
}

// Manifest implements plugin.Plugin.
func (s *Script) Manifest() plugin.Manifest { return s.manifest }

// Initialize runs the script's initialize function, if any.
func (s *Script) Initialize(ctx context.Context) error {
	return s.callOptional(ctx, s.initFn)
}

// Shutdown runs the script's shutdown function, if any. The interpreter
// stays usable so the plugin can be enabled again.
func (s *Script) Shutdown(ctx context.Context) error {
	return s.callOptional(ctx, s.shutdownFn)
}

// OnSettingsChanged forwards new settings to on_settings_changed.
func (s *Script) OnSettingsChanged(ctx context.Context, settings map[string]any) {
	if s.settingsFn == nil {
		return
	}
	err := s.call(ctx, func() error {
		_, err := s.invoke(s.settingsFn, toLua(s.L, settings))
		return err
	})
	if err != nil {
		s.rt.Logger.Warn().Err(err).Msg("on_settings_changed failed")
	}
}

func (s *Script) callOptional(ctx context.Context, fn *lua.LFunction) error {
	if fn == nil {
		return nil
	}
	return s.call(ctx, func() error {
		_, err := s.invoke(fn)
		return err
	})
}

// Close releases the interpreter. It is called when the plugin is unloaded.
func (s *Script) Close() error {
	s.sem <- struct{}{}
	defer func() { <-s.sem }()
	if s.L != nil {
		s.L.Close()
		s.L = nil
	}
	return nil
}

// Path returns the script file.
func (s *Script) Path() string { return s.path }
