// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

//go:build windows

package pluginstate

import (
	"fmt"
	"os"
	"path/filepath"
)

// writeFile replaces path with data via a temp file in the same directory.
func writeFile(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), ".dglink-plugins-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp plugin state file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write plugin state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close plugin state: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("replace plugin state: %w", err)
	}
	return nil
}
