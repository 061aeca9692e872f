// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

//go:build !windows

package jobs

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	xglog "github.com/ManuGH/fleetsim/internal/log"
	"github.com/google/renameio/v2"
)

// WriteFileAtomic writes path through write with atomic + durable semantics:
// readers see the old content or the complete new content, never a partial file.
func WriteFileAtomic(ctx context.Context, path string, write func(io.Writer) error) error {
	logger := xglog.WithComponentFromContext(ctx, "jobs")

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return fmt.Errorf("create report dir: %w", err)
		}
	}

	pendingFile, err := renameio.NewPendingFile(path, renameio.WithPermissions(0o640))
	if err != nil {
		return fmt.Errorf("create pending file: %w", err)
	}
	defer func() {
		// No-op once committed.
		if err := pendingFile.Cleanup(); err != nil {
			logger.Debug().Err(err).Str("path", path).Msg("cleanup pending file")
		}
	}()

	if err := write(pendingFile); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}

	if err := pendingFile.CloseAtomicallyReplace(); err != nil {
		return fmt.Errorf("atomically replace %s: %w", filepath.Base(path), err)
	}
	return nil
}
