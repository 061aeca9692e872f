// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

//go:build windows

package jobs

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	xglog "github.com/ManuGH/fleetsim/internal/log"
)

// WriteFileAtomic writes path via a temp file and rename.
// Windows offers no fsync-before-rename guarantee, so this is best effort.
func WriteFileAtomic(ctx context.Context, path string, write func(io.Writer) error) error {
	logger := xglog.WithComponentFromContext(ctx, "jobs")

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create report dir: %w", err)
	}
	tmpFile, err := os.CreateTemp(dir, ".fleetsim-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()
	defer func() {
		if tmpFile != nil {
			_ = tmpFile.Close()
			_ = os.Remove(tmpPath)
		}
	}()

	if err := write(tmpFile); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	tmpFile = nil

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename %s: %w", filepath.Base(path), err)
	}
	logger.Debug().Str("path", path).Msg("wrote file")
	return nil
}
