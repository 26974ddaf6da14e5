// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package health

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/ManuGH/dglink/internal/config"
	"github.com/ManuGH/dglink/internal/log"
	"github.com/rs/zerolog"
)

// PerformStartupChecks validates the environment before the daemon starts.
func PerformStartupChecks(_ context.Context, cfg config.AppConfig) error {
	logger := log.WithComponent("startup-check")
	logger.Info().Msg("running pre-flight startup checks")

	if cfg.Plugins.StateFile != "" {
		if err := checkWritableDir(logger, filepath.Dir(cfg.Plugins.StateFile)); err != nil {
			return fmt.Errorf("plugin state directory check failed: %w", err)
		}
	}

	for _, dir := range cfg.Plugins.Dirs {
		info, err := os.Stat(dir)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			logger.Warn().Str(log.FieldPath, dir).Msg("plugin directory does not exist; skipping")
		case err != nil:
			return fmt.Errorf("plugin directory %s: %w", dir, err)
		case !info.IsDir():
			return fmt.Errorf("plugin directory %s is not a directory", dir)
		}
	}

	if cfg.API.Token == "" {
		logger.Warn().
			Str("listen", cfg.API.Listen).
			Msg("API token not configured; control surface is unauthenticated")
	}

	logger.Info().Msg("all startup checks passed")
	return nil
}

// checkWritableDir creates path if needed and probes it with a temp file.
func checkWritableDir(logger zerolog.Logger, path string) error {
	if err := os.MkdirAll(path, 0o750); err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	f, err := os.CreateTemp(path, ".write_test-*")
	if err != nil {
		return fmt.Errorf("directory is not writable: %s (error: %w)", path, err)
	}
	name := f.Name()
	_ = f.Close()
	_ = os.Remove(name)

	logger.Info().Str(log.FieldPath, path).Msg("directory is writable")
	return nil
}
