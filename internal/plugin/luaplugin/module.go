// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package luaplugin

import (
	"context"
	"strings"

	"github.com/ManuGH/dglink/internal/command"
	"github.com/ManuGH/dglink/internal/device"
	"github.com/rs/zerolog"
	lua "github.com/yuin/gopher-lua"
)

// module builds the table returned by require("dglink").
func (s *Script) module(L *lua.LState) int {
	mod := L.SetFuncs(L.NewTable(), map[string]lua.LGFunction{
		"submit":   s.luaSubmit,
		"emit":     s.luaEmit,
		"log":      s.luaLog,
		"setting":  s.luaSetting,
		"settings": s.luaSettings,
	})
	mod.RawSetString("key", lua.LString(s.rt.Key))
	L.Push(mod)
	return 1
}

func (s *Script) callCtx() context.Context {
	if s.ctx != nil {
		return s.ctx
	}
	return context.Background()
}

// dglink.submit(channel, op, value [, class]) -> accepted
func (s *Script) luaSubmit(L *lua.LState) int {
	ch, err := device.ParseChannel(L.CheckString(1))
	if err != nil {
		L.ArgError(1, err.Error())
		return 0
	}
	op, err := command.ParseOperation(L.CheckString(2))
	if err != nil {
		L.ArgError(2, err.Error())
		return 0
	}
	value := L.CheckInt(3)
	class := command.ClassInteraction
	if name := L.OptString(4, ""); name != "" {
		if class, err = command.ParseClass(name); err != nil {
			L.ArgError(4, err.Error())
			return 0
		}
	}
	L.Push(lua.LBool(s.rt.SubmitClass(s.callCtx(), class, ch, op, value)))
	return 1
}

// dglink.emit(name [, data]) -> cancelled
func (s *Script) luaEmit(L *lua.LState) int {
	name := L.CheckString(1)
	payload := map[string]any{}
	if t := L.OptTable(2, nil); t != nil {
		if m, ok := fromLua(t).(map[string]any); ok {
			payload = m
		}
	}
	e := s.rt.Emit(s.callCtx(), name, payload)
	L.Push(lua.LBool(e.Cancelled()))
	return 1
}

// dglink.log([level,] message)
func (s *Script) luaLog(L *lua.LState) int {
	level, msg := "info", L.CheckString(1)
	if L.GetTop() >= 2 {
		level, msg = msg, L.CheckString(2)
	}
	var ev *zerolog.Event
	switch strings.ToLower(level) {
	case "debug":
		ev = s.rt.Logger.Debug()
	case "warn", "warning":
		ev = s.rt.Logger.Warn()
	case "error":
		ev = s.rt.Logger.Error()
	default:
		ev = s.rt.Logger.Info()
	}
	ev.Str("script", s.path).Msg(msg)
	return 0
}

// dglink.setting(name) -> value or nil
func (s *Script) luaSetting(L *lua.LState) int {
	if s.rt.Settings == nil {
		L.Push(lua.LNil)
		return 1
	}
	v, _ := s.rt.Settings.Get(L.CheckString(1))
	L.Push(toLua(L, v))
	return 1
}

// dglink.settings() -> table
func (s *Script) luaSettings(L *lua.LState) int {
	if s.rt.Settings == nil {
		L.Push(L.NewTable())
		return 1
	}
	L.Push(toLua(L, s.rt.Settings.Snapshot()))
	return 1
}
