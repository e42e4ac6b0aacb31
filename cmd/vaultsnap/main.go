// VaultSnap - Consistent Backup and Restore for SQLite-Backed Secret Stores
// Copyright 2026 VaultSnap Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vaultsnap/vaultsnap

// vaultsnap is the backup and restore tool for SQLite-backed secret stores.
//
// Subcommands:
//
//	backup    one-shot capture, push, and retention pass
//	restore   rebuild live state from the latest snapshot
//	snapshots list snapshots in the repository
//	run       daemon mode: scheduled backups plus a status endpoint
//
// All subcommands read the runtime-config artifact (default
// /etc/vaultsnap/vaultsnap.env, override with --config or VAULTSNAP_*
// environment variables) and exit non-zero on failure.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/vaultsnap/vaultsnap/internal/config"
	"github.com/vaultsnap/vaultsnap/internal/logging"
	"github.com/vaultsnap/vaultsnap/internal/repository"
	"github.com/vaultsnap/vaultsnap/internal/retention"
	"github.com/vaultsnap/vaultsnap/internal/secrets"
)

// version is set at build time via -ldflags.
var version = "dev"

var configPath string

func main() {
	root := &cobra.Command{
		Use:           "vaultsnap",
		Short:         "Consistent backup and restore for SQLite-backed secret stores",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultPath, "runtime-config artifact path")

	root.AddCommand(newBackupCommand())
	root.AddCommand(newRestoreCommand())
	root.AddCommand(newSnapshotsCommand())
	root.AddCommand(newRunCommand())

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, logging.Stamp("error: "+err.Error()))
		os.Exit(1)
	}
}

// app is the shared wiring every subcommand needs.
type app struct {
	cfg     *config.Config
	cfgPath string
	repo    *repository.ExecClient
	secrets *secrets.Manager
	policy  retention.Policy
}

// loadApp reads configuration, configures logging, and builds the repository
// client.
func loadApp() (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	return buildApp(cfg), nil
}

// loadRestoreApp is loadApp for the restore path: the artifact may have been
// lost with the host, so secret material missing from it is prompted for
// (repository password, needed before any repository call) or recovered from
// the payload later (database-encryption key).
func loadRestoreApp(p secrets.Prompter) (*app, error) {
	cfg, err := config.LoadForRestore(configPath)
	if err != nil {
		return nil, err
	}

	if cfg.RepositoryPassword == "" {
		pw, promptErr := secrets.NewManager(logging.Logger()).PromptRepositoryPassword(p)
		if promptErr != nil {
			return nil, promptErr
		}
		cfg.RepositoryPassword = pw
	}

	return buildApp(cfg), nil
}

func buildApp(cfg *config.Config) *app {
	logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})

	creds := repository.Credentials{
		Password:        cfg.RepositoryPassword,
		AccessKeyID:     cfg.AccessKeyID,
		SecretAccessKey: cfg.SecretAccessKey,
	}

	return &app{
		cfg:     cfg,
		cfgPath: configPath,
		repo:    repository.NewExecClient(cfg.ResticBinary, cfg.Repository, creds, logging.Logger()),
		secrets: secrets.NewManager(logging.Logger()),
		policy: retention.Policy{
			Daily:   cfg.KeepDaily,
			Weekly:  cfg.KeepWeekly,
			Monthly: cfg.KeepMonthly,
			Yearly:  cfg.KeepYearly,
		},
	}
}

// bundle rebuilds the secret bundle from the loaded configuration for use by
// capture runs.
func (a *app) bundle() (*secrets.Bundle, error) {
	return a.secrets.FromConfig(a.cfg.DBEncryptionKey, a.cfg.RepositoryPassword, a.cfg.AccessKeyID, a.cfg.SecretAccessKey)
}

// confirm prints a timestamped operator-facing line to stdout.
func confirm(format string, args ...any) {
	fmt.Println(logging.Stamp(fmt.Sprintf(format, args...)))
}
