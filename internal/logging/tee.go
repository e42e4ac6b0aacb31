// VaultSnap - Consistent Backup and Restore for SQLite-Backed Secret Stores
// Copyright 2026 VaultSnap Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vaultsnap/vaultsnap

package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
)

// Tee reconfigures the global logger to write to both stdout and an
// append-only log file. Restore runs use this so a failed restore leaves a
// durable trail even when the terminal scrollback is gone.
//
// The returned closer flushes and closes the file; callers defer it.
func Tee(cfg Config, path string) (io.Closer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640) //nolint:gosec // G304: operator-configured log path
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	if cfg.Output == nil {
		cfg.Output = os.Stdout
	}
	cfg.Output = io.MultiWriter(cfg.Output, f)
	Init(cfg)

	return f, nil
}
