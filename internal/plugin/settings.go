// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package plugin

import (
	"encoding/json"
	"fmt"
	"maps"
	"math"
	"strconv"
	"sync"
)

// SettingType is the value type of a plugin setting.
type SettingType string

const (
	SettingInt    SettingType = "int"
	SettingFloat  SettingType = "float"
	SettingBool   SettingType = "bool"
	SettingString SettingType = "string"
)

// Setting declares one user-tunable plugin value.
type Setting struct {
	Name        string      `json:"name" yaml:"name"`
	Description string      `json:"description,omitempty" yaml:"description"`
	Type        SettingType `json:"type" yaml:"type"`
	Default     any         `json:"default" yaml:"default"`
	Min         *float64    `json:"min,omitempty" yaml:"min"`
	Max         *float64    `json:"max,omitempty" yaml:"max"`
}

// coerce converts v to the setting's type and checks its bounds.
func (s Setting) coerce(v any) (any, error) {
	switch s.Type {
	case SettingInt:
		f, ok := number(v)
		if !ok || f != math.Trunc(f) || math.Abs(f) >= 1<<63 {
			return nil, fmt.Errorf("%w: %s expects an integer, got %v", ErrInvalidSetting, s.Name, v)
		}
		if err := s.bounds(f); err != nil {
			return nil, err
		}
		return int(f), nil
	case SettingFloat:
		f, ok := number(v)
		if !ok {
			return nil, fmt.Errorf("%w: %s expects a number, got %v", ErrInvalidSetting, s.Name, v)
		}
		if err := s.bounds(f); err != nil {
			return nil, err
		}
		return f, nil
	case SettingBool:
		switch b := v.(type) {
		case bool:
			return b, nil
		case string:
			parsed, err := strconv.ParseBool(b)
			if err != nil {
				return nil, fmt.Errorf("%w: %s expects a bool, got %q", ErrInvalidSetting, s.Name, b)
			}
			return parsed, nil
		}
		return nil, fmt.Errorf("%w: %s expects a bool, got %v", ErrInvalidSetting, s.Name, v)
	case SettingString, "":
		if v == nil {
			return "", nil
		}
		if str, ok := v.(string); ok {
			return str, nil
		}
		return fmt.Sprint(v), nil
	default:
		return nil, fmt.Errorf("%w: %s has unsupported type %q", ErrInvalidSetting, s.Name, s.Type)
	}
}

func (s Setting) bounds(f float64) error {
	if s.Min != nil && f < *s.Min {
		return fmt.Errorf("%w: %s must be >= %v", ErrInvalidSetting, s.Name, *s.Min)
	}
	if s.Max != nil && f > *s.Max {
		return fmt.Errorf("%w: %s must be <= %v", ErrInvalidSetting, s.Name, *s.Max)
	}
	return nil
}

// number coerces v to a finite float64.
func number(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case float64:
		f = n
	case float32:
		f = float64(n)
	case json.Number:
		parsed, err := n.Float64()
		if err != nil {
			return 0, false
		}
		f = parsed
	case string:
		parsed, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

// Bound is a helper for building Setting.Min and Setting.Max literals.
func Bound(f float64) *float64 { return &f }

// Settings holds the current setting values of one plugin.
type Settings struct {
	mu     sync.RWMutex
	values map[string]any
}

// NewSettings returns a store seeded with each declaration's default.
func NewSettings(decls []Setting) *Settings {
	s := &Settings{values: make(map[string]any, len(decls))}
	for _, d := range decls {
		v, err := d.coerce(d.Default)
		if err != nil {
			continue
		}
		s.values[d.Name] = v
	}
	return s
}

// Get returns the raw value of name.
func (s *Settings) Get(name string) (any, bool) {
	if s == nil {
		return nil, false
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.values[name]
	return v, ok
}

// Int returns name as an int, or def when unset or of another type.
func (s *Settings) Int(name string, def int) int {
	v, ok := s.Get(name)
	if !ok {
		return def
	}
	if f, ok := number(v); ok {
		return int(f)
	}
	return def
}

// Float returns name as a float64, or def.
func (s *Settings) Float(name string, def float64) float64 {
	v, ok := s.Get(name)
	if !ok {
		return def
	}
	if f, ok := number(v); ok {
		return f
	}
	return def
}

// Bool returns name as a bool, or def.
func (s *Settings) Bool(name string, def bool) bool {
	if v, ok := s.Get(name); ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return def
}

// String returns name as a string, or def.
func (s *Settings) String(name string, def string) string {
	if v, ok := s.Get(name); ok {
		if str, ok := v.(string); ok {
			return str
		}
	}
	return def
}

// Snapshot returns a copy of every value.
func (s *Settings) Snapshot() map[string]any {
	if s == nil {
		return map[string]any{}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.values)
}

// apply validates updates against decls and stores them all, or none.
func (s *Settings) apply(decls []Setting, updates map[string]any) error {
	byName := make(map[string]Setting, len(decls))
	for _, d := range decls {
		byName[d.Name] = d
	}
	coerced := make(map[string]any, len(updates))
	for name, v := range updates {
		d, ok := byName[name]
		if !ok {
			return fmt.Errorf("%w: %q", ErrUnknownSetting, name)
		}
		cv, err := d.coerce(v)
		if err != nil {
			return err
		}
		coerced[name] = cv
	}
	s.mu.Lock()
	maps.Copy(s.values, coerced)
	s.mu.Unlock()
	return nil
}
