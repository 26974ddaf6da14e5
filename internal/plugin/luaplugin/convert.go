// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package luaplugin

import (
	"encoding/json"
	"fmt"
	"math"
	"slices"

	lua "github.com/yuin/gopher-lua"
)

const maxDepth = 32

// toLua converts a Go value into a Lua value. Unknown types are rendered
// with fmt.
func toLua(L *lua.LState, v any) lua.LValue {
	return toLuaDepth(L, v, 0)
}

func toLuaDepth(L *lua.LState, v any, depth int) lua.LValue {
	if depth > maxDepth {
		return lua.LNil
	}
	switch x := v.(type) {
	case nil:
		return lua.LNil
	case lua.LValue:
		return x
	case bool:
		return lua.LBool(x)
	case string:
		return lua.LString(x)
	case int:
		return lua.LNumber(x)
	case int32:
		return lua.LNumber(x)
	case int64:
		return lua.LNumber(x)
	case uint:
		return lua.LNumber(x)
	case uint64:
		return lua.LNumber(x)
	case float32:
		return lua.LNumber(x)
	case float64:
		return lua.LNumber(x)
	case json.Number:
		if f, err := x.Float64(); err == nil {
			return lua.LNumber(f)
		}
		return lua.LString(x.String())
	case map[string]any:
		t := L.NewTable()
		for k, val := range x {
			t.RawSetString(k, toLuaDepth(L, val, depth+1))
		}
		return t
	case []any:
		t := L.NewTable()
		for _, val := range x {
			t.Append(toLuaDepth(L, val, depth+1))
		}
		return t
	case []string:
		t := L.NewTable()
		for _, val := range x {
			t.Append(lua.LString(val))
		}
		return t
	case fmt.Stringer:
		return lua.LString(x.String())
	default:
		return lua.LString(fmt.Sprint(x))
	}
}

// fromLua converts a Lua value into plain Go data. Integral numbers become
// int, sequences become []any and other tables map[string]any. Functions
// and userdata are dropped.
func fromLua(v lua.LValue) any {
	return fromLuaDepth(v, 0)
}

func fromLuaDepth(v lua.LValue, depth int) any {
	if depth > maxDepth {
		return nil
	}
	switch x := v.(type) {
	case lua.LBool:
		return bool(x)
	case lua.LString:
		return string(x)
	case lua.LNumber:
		f := float64(x)
		if f == math.Trunc(f) && math.Abs(f) <= math.MaxInt32 {
			return int(f)
		}
		return f
	case *lua.LTable:
		if n := x.MaxN(); n > 0 && n == tableLen(x) {
			out := make([]any, 0, n)
			for i := 1; i <= n; i++ {
				out = append(out, fromLuaDepth(x.RawGetInt(i), depth+1))
			}
			return out
		}
		out := make(map[string]any)
		x.ForEach(func(k, val lua.LValue) {
			if val.Type() == lua.LTFunction {
				return
			}
			out[k.String()] = fromLuaDepth(val, depth+1)
		})
		return out
	default:
		return nil
	}
}

func tableLen(t *lua.LTable) int {
	n := 0
	t.ForEach(func(lua.LValue, lua.LValue) { n++ })
	return n
}

// stringField returns t[key] as a string, or "" when it is not a string.
func stringField(t *lua.LTable, key string) string {
	if s, ok := t.RawGetString(key).(lua.LString); ok {
		return string(s)
	}
	return ""
}

// sortedKeys returns the string keys of t in lexical order.
func sortedKeys(t *lua.LTable) []string {
	var keys []string
	t.ForEach(func(k, _ lua.LValue) {
		if s, ok := k.(lua.LString); ok {
			keys = append(keys, string(s))
		}
	})
	slices.Sort(keys)
	return keys
}
