// VaultSnap - Consistent Backup and Restore for SQLite-Backed Secret Stores
// Copyright 2026 VaultSnap Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vaultsnap/vaultsnap

package restore

import (
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/rs/zerolog"
)

// ServiceController stops and starts the dependent service around a
// live-state swap. The service must not write to the data directory between
// Stop and Start.
type ServiceController interface {
	Stop(ctx context.Context) error
	Start(ctx context.Context) error
}

// ShellController runs operator-configured stop and start commands through
// the shell. An empty command is a no-op, for setups where nothing holds the
// data directory open.
type ShellController struct {
	stopCmd  string
	startCmd string
	log      zerolog.Logger
}

// NewShellController creates a ShellController from the configured commands.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func NewShellController(stopCmd, startCmd string, logger zerolog.Logger) *ShellController {
	return &ShellController{
		stopCmd:  stopCmd,
		startCmd: startCmd,
		log:      logger.With().Str("component", "service").Logger(),
	}
}

// Stop runs the configured stop command.
func (s *ShellController) Stop(ctx context.Context) error {
	return s.run(ctx, "stop", s.stopCmd)
}

// Start runs the configured start command.
func (s *ShellController) Start(ctx context.Context) error {
	return s.run(ctx, "start", s.startCmd)
}

func (s *ShellController) run(ctx context.Context, action, command string) error {
	if command == "" {
		s.log.Debug().Str("action", action).Msg("no service command configured")
		return nil
	}

	out, err := exec.CommandContext(ctx, "sh", "-c", command).CombinedOutput() //nolint:gosec // G204: command comes from the operator's own configuration
	if err != nil {
		return fmt.Errorf("service %s command failed: %w: %s", action, err, strings.TrimSpace(string(out)))
	}

	s.log.Info().Str("action", action).Msg("service command completed")
	return nil
}
