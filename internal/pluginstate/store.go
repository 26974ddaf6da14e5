// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package pluginstate persists the set of plugins the user switched off so
// that the startup enable pass can honour it.
package pluginstate

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"gopkg.in/yaml.v3"
)

// fileFormat is the on-disk layout.
type fileFormat struct {
	Version  int      `yaml:"version"`
	Disabled []string `yaml:"disabled"`
}

const currentVersion = 1

// Store is a YAML-backed disabled-plugin list. Every change is written
// through to disk atomically. A Store with an empty path keeps state in memory.
type Store struct {
	path string

	mu       sync.RWMutex
	disabled map[string]struct{}
}

// Open loads the store at path. A missing file yields an empty store.
func Open(path string) (*Store, error) {
	s := &Store{path: path, disabled: make(map[string]struct{})}
	if path == "" {
		return s, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read plugin state: %w", err)
	}

	var f fileFormat
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse plugin state %s: %w", path, err)
	}
	if f.Version > currentVersion {
		return nil, fmt.Errorf("plugin state %s: unsupported version %d", path, f.Version)
	}
	for _, key := range f.Disabled {
		s.disabled[key] = struct{}{}
	}
	return s, nil
}

// Path returns the backing file, or "" for an in-memory store.
func (s *Store) Path() string { return s.path }

// Disabled reports whether key was disabled by the user.
func (s *Store) Disabled(key string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.disabled[key]
	return ok
}

// SetDisabled records the user's choice for key and saves the file.
func (s *Store) SetDisabled(key string, disabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, had := s.disabled[key]
	if had == disabled {
		return nil
	}
	if disabled {
		s.disabled[key] = struct{}{}
	} else {
		delete(s.disabled, key)
	}
	if err := s.saveLocked(); err != nil {
		// Keep memory consistent with disk.
		if disabled {
			delete(s.disabled, key)
		} else {
			s.disabled[key] = struct{}{}
		}
		return err
	}
	return nil
}

// List returns the disabled keys, sorted.
func (s *Store) List() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.sortedLocked()
}

func (s *Store) sortedLocked() []string {
	keys := make([]string, 0, len(s.disabled))
	for k := range s.disabled {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

func (s *Store) saveLocked() error {
	if s.path == "" {
		return nil
	}
	data, err := yaml.Marshal(fileFormat{Version: currentVersion, Disabled: s.sortedLocked()})
	if err != nil {
		return fmt.Errorf("encode plugin state: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o750); err != nil {
		return fmt.Errorf("create plugin state dir: %w", err)
	}
	return writeFile(s.path, data)
}
