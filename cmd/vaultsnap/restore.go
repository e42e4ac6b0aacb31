// VaultSnap - Consistent Backup and Restore for SQLite-Backed Secret Stores
// Copyright 2026 VaultSnap Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vaultsnap/vaultsnap

package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/vaultsnap/vaultsnap/internal/logging"
	"github.com/vaultsnap/vaultsnap/internal/metrics"
	"github.com/vaultsnap/vaultsnap/internal/restore"
	"github.com/vaultsnap/vaultsnap/internal/secrets"
)

func newRestoreCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "restore",
		Short: "Rebuild live state from the most recent snapshot",
		Long: `Restore locates the latest snapshot, stages and validates it, swaps it
into place around a service stop/start, and recovers the secret material
from the payload (prompting the operator only when the payload carries no
record). Output is appended to the restore log file as well as stdout.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			prompter := secrets.TerminalPrompter{}

			// The artifact may be gone on the host being rebuilt; restore
			// tolerates missing secret material and prompts for it.
			a, err := loadRestoreApp(prompter)
			if err != nil {
				return err
			}

			// Restore evidence must survive the terminal session.
			if a.cfg.RestoreLog != "" {
				closer, teeErr := logging.Tee(logging.Config{Level: a.cfg.LogLevel, Format: a.cfg.LogFormat}, a.cfg.RestoreLog)
				if teeErr != nil {
					return teeErr
				}
				defer closer.Close() //nolint:errcheck // log file close at exit
			}

			svc := restore.NewShellController(a.cfg.ServiceStopCmd, a.cfg.ServiceStartCmd, logging.Logger())
			orch := restore.NewOrchestrator(a.cfg, a.cfgPath, a.repo, a.secrets, svc, prompter, logging.Logger())

			res, err := orch.Run(cmd.Context())
			if err != nil {
				metrics.RestoreRunsTotal.WithLabelValues("failed").Inc()
				if res.StagingDir != "" {
					confirm("restore failed in state %s; staged copy retained at %s", res.FailedAt, res.StagingDir)
				}
				return err
			}

			metrics.RestoreRunsTotal.WithLabelValues("success").Inc()
			confirm("restore complete: snapshot %s, secrets %s (%s)",
				res.SnapshotID, res.Provenance, res.Duration.Round(time.Millisecond))
			return nil
		},
	}
}
