// VaultSnap - Consistent Backup and Restore for SQLite-Backed Secret Stores
// Copyright 2026 VaultSnap Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vaultsnap/vaultsnap

package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/vaultsnap/vaultsnap/internal/backup"
	"github.com/vaultsnap/vaultsnap/internal/capture"
	"github.com/vaultsnap/vaultsnap/internal/logging"
)

func newBackupCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "backup",
		Short: "Capture a consistent snapshot, push it, and enforce retention",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := loadApp()
			if err != nil {
				return err
			}

			bundle, err := a.bundle()
			if err != nil {
				return err
			}

			coord := capture.NewCoordinator(a.cfg.DataDir, a.cfg.DatabaseFile, a.repo, a.secrets, logging.Logger())
			runner := backup.NewRunner(coord, a.repo, a.policy, logging.Logger())

			res, err := runner.Run(cmd.Context(), bundle)
			if err != nil {
				return err
			}

			confirm("backup complete: snapshot %s, pruned %d, retained %d (%s)",
				res.SnapshotID, res.Pruned, res.Retained, res.Duration.Round(time.Millisecond))
			return nil
		},
	}
}
