// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package luaplugin discovers and runs plugins written in Lua.
//
// A plugin is either a single "<name>.lua" file or a directory holding
// "plugin.lua" and an optional "plugin.yaml" with metadata overrides. The
// script must return a table:
//
//	local dglink = require("dglink")
//	return {
//	  name = "pulse_on_hit", version = "1.0.0",
//	  settings = { { name = "step", type = "int", default = 5, min = 1, max = 20 } },
//	  events = {
//	    { event = "external_telemetry", priority = "normal", handler = function(e) ... end },
//	  },
//	  commands = { boost = function(args) return dglink.submit("A", "increase", 10) end },
//	  initialize = function() end,
//	  shutdown = function() end,
//	}
package luaplugin

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	xglog "github.com/ManuGH/dglink/internal/log"
	"github.com/ManuGH/dglink/internal/plugin"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

const (
	scriptFile   = "plugin.lua"
	metadataFile = "plugin.yaml"

	// DefaultCallTimeout bounds a single call into a script.
	DefaultCallTimeout = 2 * time.Second
)

// Metadata is the optional plugin.yaml next to a directory plugin. Non-empty
// fields override what the script declares.
type Metadata struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Description string `yaml:"description"`
	Author      string `yaml:"author"`
}

// Source discovers Lua plugins in a list of directories.
type Source struct {
	dirs        []string
	callTimeout time.Duration
	logger      zerolog.Logger
}

// NewSource returns a source scanning dirs in order. Missing directories are
// skipped.
func NewSource(logger zerolog.Logger, callTimeout time.Duration, dirs ...string) *Source {
	if callTimeout <= 0 {
		callTimeout = DefaultCallTimeout
	}
	return &Source{
		dirs:        dirs,
		callTimeout: callTimeout,
		logger:      logger.With().Str(xglog.FieldComponent, "luaplugin").Logger(),
	}
}

func (s *Source) Name() string { return "lua" }

// Discover lists plugin units without executing any script.
func (s *Source) Discover(ctx context.Context) ([]plugin.Unit, error) {
	var (
		units []plugin.Unit
		errs  []error
	)
	for _, dir := range s.dirs {
		if err := ctx.Err(); err != nil {
			return units, err
		}
		found, err := s.scan(dir)
		if err != nil {
			errs = append(errs, err)
		}
		units = append(units, found...)
	}
	return units, errors.Join(errs...)
}

func (s *Source) scan(dir string) ([]plugin.Unit, error) {
	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		s.logger.Debug().Str(xglog.FieldPath, dir).Msg("plugin directory does not exist")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read plugin dir %s: %w", dir, err)
	}
	slices.SortFunc(entries, func(a, b os.DirEntry) int { return strings.Compare(a.Name(), b.Name()) })

	var units []plugin.Unit
	for _, entry := range entries {
		name := entry.Name()
		if strings.HasPrefix(name, ".") || strings.HasPrefix(name, "_") {
			continue
		}
		path := filepath.Join(dir, name)
		switch {
		case entry.IsDir():
			script := filepath.Join(path, scriptFile)
			if _, err := os.Stat(script); err != nil {
				continue
			}
			meta, err := readMetadata(filepath.Join(path, metadataFile))
			if err != nil {
				s.logger.Warn().Err(err).Str(xglog.FieldPath, path).Msg("ignoring unreadable plugin metadata")
			}
			unitName := name
			if meta.Name != "" {
				unitName = meta.Name
			}
			units = append(units, s.unit(unitName, script, meta))
		case strings.HasSuffix(name, ".lua"):
			units = append(units, s.unit(strings.TrimSuffix(name, ".lua"), path, Metadata{}))
		}
	}
	return units, nil
}

func (s *Source) unit(name, script string, meta Metadata) plugin.Unit {
	return plugin.Unit{
		Name:   name,
		Origin: script,
		Load: func(rt plugin.Runtime) (plugin.Plugin, error) {
			return Load(rt, script, meta, s.callTimeout)
		},
	}
}

func readMetadata(path string) (Metadata, error) {
	var meta Metadata
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return meta, nil
	}
	if err != nil {
		return meta, err
	}
	if err := yaml.Unmarshal(data, &meta); err != nil {
		return Metadata{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return meta, nil
}
