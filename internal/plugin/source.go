// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package plugin

import "context"

// Factory instantiates a plugin bound to rt.
type Factory func(rt Runtime) (Plugin, error)

// Unit is one discovered, not yet loaded plugin.
type Unit struct {
	// Name is the preferred registry key.
	Name string
	// Origin describes where the unit came from, e.g. a file path.
	Origin string
	Load   Factory
}

// Source discovers plugin units.
type Source interface {
	Name() string
	Discover(ctx context.Context) ([]Unit, error)
}

// StaticSource serves a fixed list of compiled-in units.
type StaticSource struct {
	name  string
	units []Unit
}

// NewStaticSource returns a source that discovers units in order.
func NewStaticSource(name string, units ...Unit) *StaticSource {
	return &StaticSource{name: name, units: units}
}

func (s *StaticSource) Name() string { return s.name }

func (s *StaticSource) Discover(context.Context) ([]Unit, error) {
	out := make([]Unit, len(s.units))
	copy(out, s.units)
	return out, nil
}
