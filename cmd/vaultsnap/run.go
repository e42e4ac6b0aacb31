// VaultSnap - Consistent Backup and Restore for SQLite-Backed Secret Stores
// Copyright 2026 VaultSnap Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vaultsnap/vaultsnap

package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/vaultsnap/vaultsnap/internal/api"
	"github.com/vaultsnap/vaultsnap/internal/backup"
	"github.com/vaultsnap/vaultsnap/internal/capture"
	"github.com/vaultsnap/vaultsnap/internal/logging"
	"github.com/vaultsnap/vaultsnap/internal/scheduler"
)

func newRunCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run as a daemon: scheduled backups plus a status endpoint",
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

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			coord := capture.NewCoordinator(a.cfg.DataDir, a.cfg.DatabaseFile, a.repo, a.secrets, logging.Logger())
			runner := backup.NewRunner(coord, a.repo, a.policy, logging.Logger())

			// The server reads the scheduler's next-run time; the scheduler's
			// run closure publishes results back to the server.
			var server *api.Server
			runOnce := func(ctx context.Context) error {
				started := time.Now()
				res, runErr := runner.Run(ctx, bundle)
				rec := api.RunRecord{
					StartedAt: started,
					Duration:  time.Since(started).Round(time.Millisecond).String(),
				}
				if runErr != nil {
					rec.Error = runErr.Error()
				} else {
					rec.Success = true
					rec.SnapshotID = res.SnapshotID
					rec.Pruned = res.Pruned
					rec.Retained = res.Retained
				}
				server.RecordRun(rec)
				return runErr
			}
			sched := scheduler.New(a.cfg.BackupInterval, a.cfg.PreferredHour, runOnce, logging.Logger())
			server = api.NewServer(a.cfg.StatusAddr, sched.Next, logging.Logger())

			serveErr := make(chan error, 1)
			go func() { serveErr <- server.Start() }()

			sched.Start(ctx)
			logging.Info().
				Dur("interval", a.cfg.BackupInterval).
				Int("preferred_hour", a.cfg.PreferredHour).
				Str("status_addr", a.cfg.StatusAddr).
				Msg("daemon started")

			select {
			case <-ctx.Done():
			case err := <-serveErr:
				if err != nil {
					sched.Stop()
					return err
				}
			}

			logging.Info().Msg("shutting down")
			sched.Stop()

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		},
	}
}
