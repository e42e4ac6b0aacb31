// VaultSnap - Consistent Backup and Restore for SQLite-Backed Secret Stores
// Copyright 2026 VaultSnap Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vaultsnap/vaultsnap

// Package restore rebuilds the live state from the most recent snapshot.
//
// A restore walks a fixed sequence of states. Everything before the
// live-state swap is read-only with respect to the live directory and cleans
// up after itself on failure; a failure there leaves the system exactly as it
// was. The swap itself stops the dependent service, moves the old state
// aside, and moves the validated staged payload into place. Once the swap
// has begun the run no longer honors cancellation and, on failure, retains
// the staged copy so an operator can finish the swap by hand.
package restore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/vaultsnap/vaultsnap/internal/config"
	"github.com/vaultsnap/vaultsnap/internal/database"
	"github.com/vaultsnap/vaultsnap/internal/repository"
	"github.com/vaultsnap/vaultsnap/internal/secrets"
)

// State identifies where a restore run is, or where it stopped.
type State string

const (
	StateStart             State = "start"
	StateLocateSnapshot    State = "locate_snapshot"
	StateStage             State = "stage"
	StateValidateIntegrity State = "validate_integrity"
	StateSwapLiveState     State = "swap_live_state"
	StateRecoverSecrets    State = "recover_secrets"
	StateDone              State = "done"
	StateFailed            State = "failed"
)

// Result reports what a restore run did. FailedAt is the state the run was
// in when it failed, zero on success. StagingDir is non-empty only when a
// staged copy was deliberately left behind for manual recovery.
type Result struct {
	SnapshotID string
	State      State
	FailedAt   State
	StagingDir string
	Provenance secrets.Provenance
	Duration   time.Duration
}

// Orchestrator drives restore runs against one configured installation.
type Orchestrator struct {
	cfg        *config.Config
	configPath string
	repo       repository.Client
	secrets    *secrets.Manager
	svc        ServiceController
	prompter   secrets.Prompter
	log        zerolog.Logger
}

// NewOrchestrator creates an Orchestrator. configPath is where the recovered
// runtime-config artifact is written.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func NewOrchestrator(cfg *config.Config, configPath string, repo repository.Client, sm *secrets.Manager, svc ServiceController, prompter secrets.Prompter, logger zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		cfg:        cfg,
		configPath: configPath,
		repo:       repo,
		secrets:    sm,
		svc:        svc,
		prompter:   prompter,
		log:        logger.With().Str("component", "restore").Logger(),
	}
}

// run carries the mutable state of one restore through the state sequence.
type run struct {
	o           *Orchestrator
	snap        repository.Snapshot
	staging     string
	payloadRoot string
	bundle      *secrets.Bundle
	swapped     bool
}

// Run executes one restore. It returns the Result in both outcomes; on error
// the Result records the failing state and any retained staging directory.
func (o *Orchestrator) Run(ctx context.Context) (Result, error) {
	started := time.Now()
	r := &run{o: o}

	steps := []struct {
		state State
		fn    func(context.Context) error
	}{
		{StateLocateSnapshot, r.locateSnapshot},
		{StateStage, r.stage},
		{StateValidateIntegrity, r.validateIntegrity},
		{StateSwapLiveState, r.swapLiveState},
		{StateRecoverSecrets, r.recoverSecrets},
	}

	for _, step := range steps {
		if step.state == StateSwapLiveState {
			// Point of no return: a half-swapped state must be driven
			// forward, not abandoned mid-rename.
			ctx = context.WithoutCancel(ctx)
		}

		o.log.Info().Str("state", string(step.state)).Msg("entering state")
		if err := step.fn(ctx); err != nil {
			return r.fail(step.state, started, err)
		}
	}

	res := Result{
		SnapshotID: r.snap.ID,
		State:      StateDone,
		Provenance: r.bundle.Provenance(),
		Duration:   time.Since(started),
	}
	o.log.Info().
		Str("snapshot_id", res.SnapshotID).
		Str("provenance", string(res.Provenance)).
		Dur("duration", res.Duration).
		Msg("restore complete")
	return res, nil
}

// fail finalizes a failed run. Before the swap the staging directory is
// removed; from the swap onward it is retained and reported.
func (r *run) fail(at State, started time.Time, err error) (Result, error) {
	res := Result{
		SnapshotID: r.snap.ID,
		State:      StateFailed,
		FailedAt:   at,
		Duration:   time.Since(started),
	}

	if r.staging != "" {
		if r.swapped {
			res.StagingDir = r.staging
			r.o.log.Error().Str("staging_dir", r.staging).Msg("staged copy retained for manual recovery")
		} else {
			os.RemoveAll(r.staging) //nolint:errcheck // cleanup of our own staging dir
		}
	}

	return res, fmt.Errorf("restore failed in state %s: %w", at, err)
}

func (r *run) locateSnapshot(ctx context.Context) error {
	snap, err := r.o.repo.Latest(ctx)
	if err != nil {
		return err
	}
	r.snap = snap
	r.o.log.Info().Str("snapshot_id", snap.ID).Time("snapshot_time", snap.Time).Msg("snapshot located")
	return nil
}

// stage pulls the snapshot into a fresh staging directory next to the data
// directory, so the later move is a same-filesystem rename.
func (r *run) stage(ctx context.Context) error {
	r.staging = filepath.Join(filepath.Dir(r.o.cfg.DataDir), ".vaultsnap-restore-"+uuid.NewString())

	if err := r.o.repo.Restore(ctx, r.snap.ID, r.staging); err != nil {
		return err
	}

	// The repository recreates the original absolute path under the staging
	// directory; find the payload inside it.
	root, err := findPayloadRoot(r.staging, r.o.cfg.DatabaseFile)
	if err != nil {
		return err
	}
	r.payloadRoot = root
	return nil
}

func (r *run) validateIntegrity(ctx context.Context) error {
	return database.IntegrityCheck(ctx, filepath.Join(r.payloadRoot, r.o.cfg.DatabaseFile))
}

// swapLiveState stops the service, moves the current data directory aside,
// and moves the staged payload into place. The displaced directory is
// removed only after the payload rename succeeds.
func (r *run) swapLiveState(ctx context.Context) error {
	if err := r.o.svc.Stop(ctx); err != nil {
		return err
	}
	r.swapped = true

	dataDir := r.o.cfg.DataDir
	displaced := dataDir + ".replaced-" + time.Now().UTC().Format("20060102T150405Z")

	switch _, err := os.Stat(dataDir); {
	case err == nil:
		if err := os.Rename(dataDir, displaced); err != nil {
			return fmt.Errorf("displace live state: %w", err)
		}
	case os.IsNotExist(err):
		displaced = ""
	default:
		return fmt.Errorf("inspect live state: %w", err)
	}

	if err := os.Rename(r.payloadRoot, dataDir); err != nil {
		if displaced != "" {
			if rbErr := os.Rename(displaced, dataDir); rbErr != nil {
				r.o.log.Error().Err(rbErr).Msg("rollback of displaced live state failed")
			}
		}
		return fmt.Errorf("install staged payload: %w", err)
	}

	if displaced != "" {
		os.RemoveAll(displaced) //nolint:errcheck // the payload is already in place
	}
	os.RemoveAll(r.staging) //nolint:errcheck // leftover path skeleton only
	r.staging = ""

	r.o.log.Info().Str("data_dir", dataDir).Msg("live state swapped")
	return nil
}

// recoverSecrets restores the secret bundle from the payload record, falling
// back to an operator prompt, writes the runtime-config artifact, and starts
// the service.
func (r *run) recoverSecrets(ctx context.Context) error {
	bundle, found, err := r.o.secrets.RecoverFromPayload(r.o.cfg.DataDir)
	if err != nil {
		return err
	}
	if !found {
		r.o.log.Warn().Msg("no secret record in payload, prompting operator")
		bundle, err = r.o.secrets.PromptOperator(r.o.prompter, r.o.cfg.RepositoryPassword, r.o.cfg.AccessKeyID, r.o.cfg.SecretAccessKey)
		if err != nil {
			return err
		}
	}
	r.bundle = bundle

	coords := secrets.Coordinates{
		Repository:   r.o.cfg.Repository,
		DataDir:      r.o.cfg.DataDir,
		DatabaseFile: r.o.cfg.DatabaseFile,
	}
	if err := r.o.secrets.WriteRuntimeConfig(r.o.configPath, bundle, coords); err != nil {
		return err
	}

	// The record's material now lives in the runtime config; do not keep a
	// second copy inside the live directory.
	if err := os.Remove(filepath.Join(r.o.cfg.DataDir, secrets.RecordName)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove payload secret record: %w", err)
	}

	return r.o.svc.Start(ctx)
}

// findPayloadRoot locates the directory inside root that contains the
// database file.
func findPayloadRoot(root, dbFile string) (string, error) {
	var found string
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && filepath.Base(path) == dbFile {
			found = filepath.Dir(path)
			return filepath.SkipAll
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("scan staged payload: %w", err)
	}
	if found == "" {
		return "", fmt.Errorf("staged payload has no database file %q", dbFile)
	}
	return found, nil
}
