// VaultSnap - Consistent Backup and Restore for SQLite-Backed Secret Stores
// Copyright 2026 VaultSnap Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vaultsnap/vaultsnap

// Package capture produces a self-consistent, point-in-time staged copy of
// the live database and its data directory, and hands it to the snapshot
// repository.
//
// The database is frozen first, via the engine's own consistent-copy
// mechanism, and gated on a structural validity check before anything else is
// staged. A snapshot containing an inconsistent database is worse than no
// snapshot, so any failure up to that gate aborts the capture without a push.
// The service may keep writing throughout; what must not happen is a second
// capture or a restore swap running concurrently, which the caller
// serializes.
package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/vaultsnap/vaultsnap/internal/database"
	"github.com/vaultsnap/vaultsnap/internal/repository"
	"github.com/vaultsnap/vaultsnap/internal/secrets"
)

// ErrCaptureInconsistent means the database failed its own consistent-copy
// or integrity check. The capture aborts; nothing is pushed.
var ErrCaptureInconsistent = errors.New("capture inconsistent")

// transientSuffixes mark half-written artifacts that must never enter a
// snapshot.
var transientSuffixes = []string{".tmp", ".bak", ".part", "~"}

// Coordinator drives one capture: freeze database, gate on integrity, stage
// the data directory, embed the secret record, push.
type Coordinator struct {
	dataDir string
	dbFile  string
	repo    repository.Client
	secrets *secrets.Manager
	log     zerolog.Logger
}

// NewCoordinator creates a Coordinator for the given live state.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func NewCoordinator(dataDir, dbFile string, repo repository.Client, sm *secrets.Manager, logger zerolog.Logger) *Coordinator {
	return &Coordinator{
		dataDir: dataDir,
		dbFile:  dbFile,
		repo:    repo,
		secrets: sm,
		log:     logger.With().Str("component", "capture").Logger(),
	}
}

// Capture produces a staged copy and pushes it as one new snapshot. The
// staging directory is removed on every exit path; on success the snapshot
// lives in the repository and nothing remains on local disk.
func (c *Coordinator) Capture(ctx context.Context, bundle *secrets.Bundle) (repository.Snapshot, error) {
	staging, err := os.MkdirTemp("", "vaultsnap-capture-*")
	if err != nil {
		return repository.Snapshot{}, fmt.Errorf("create staging directory: %w", err)
	}
	defer os.RemoveAll(staging) //nolint:errcheck // staging must go on every exit path

	frozen := filepath.Join(staging, c.dbFile)
	if err := database.VacuumInto(ctx, filepath.Join(c.dataDir, c.dbFile), frozen); err != nil {
		return repository.Snapshot{}, fmt.Errorf("%w: %v", ErrCaptureInconsistent, err)
	}
	if err := database.IntegrityCheck(ctx, frozen); err != nil {
		return repository.Snapshot{}, fmt.Errorf("%w: %v", ErrCaptureInconsistent, err)
	}
	c.log.Debug().Str("database", c.dbFile).Msg("frozen database copy passed integrity check")

	if err := c.stageDataDir(staging); err != nil {
		return repository.Snapshot{}, err
	}

	if err := c.secrets.WriteRecord(staging, bundle); err != nil {
		return repository.Snapshot{}, err
	}

	snap, err := c.repo.Push(ctx, staging)
	if err != nil {
		return repository.Snapshot{}, err
	}

	c.log.Info().Str("snapshot_id", snap.ID).Msg("capture pushed")
	return snap, nil
}

// stageDataDir copies the data directory into staging, excluding the live
// database files (the frozen copy already stands in for them) and
// known-transient files.
func (c *Coordinator) stageDataDir(staging string) error {
	return filepath.Walk(c.dataDir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(c.dataDir, path)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		if c.excluded(rel, info) {
			if info.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		dst := filepath.Join(staging, rel)
		if info.IsDir() {
			return os.MkdirAll(dst, info.Mode().Perm())
		}
		return copyFile(path, dst, info.Mode().Perm())
	})
}

// excluded reports whether a data-directory entry stays out of the staged
// copy.
func (c *Coordinator) excluded(rel string, info os.FileInfo) bool {
	if info.IsDir() {
		return false
	}

	// The live database and its journal files: the frozen copy replaces
	// them, and the journals are mid-write by definition.
	if rel == c.dbFile {
		return true
	}
	for _, suffix := range []string{"-wal", "-shm", "-journal"} {
		if rel == c.dbFile+suffix {
			return true
		}
	}

	name := filepath.Base(rel)
	for _, suffix := range transientSuffixes {
		if strings.HasSuffix(name, suffix) {
			return true
		}
	}
	return false
}

// copyFile copies one regular file preserving its permission bits.
func copyFile(src, dst string, perm os.FileMode) error {
	in, err := os.Open(src) //nolint:gosec // G304: src is inside the configured data directory
	if err != nil {
		return err
	}
	defer in.Close() //nolint:errcheck // read side

	if err := os.MkdirAll(filepath.Dir(dst), 0o700); err != nil {
		return err
	}

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, perm) //nolint:gosec // G304: dst is inside the staging area
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close() //nolint:errcheck // error path cleanup
		return err
	}
	return out.Close()
}
