// VaultSnap - Consistent Backup and Restore for SQLite-Backed Secret Stores
// Copyright 2026 VaultSnap Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vaultsnap/vaultsnap

// Package backup runs the full backup pipeline: ensure the repository
// exists, capture and push a consistent snapshot, then enforce retention.
//
// Transient repository unreachability is retried with exponential backoff.
// Every other failure is terminal for the run; in particular a failed
// consistency gate is never retried blindly, since a database that cannot
// produce a clean frozen copy needs an operator, not a retry loop.
package backup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/rs/zerolog"

	"github.com/vaultsnap/vaultsnap/internal/metrics"
	"github.com/vaultsnap/vaultsnap/internal/repository"
	"github.com/vaultsnap/vaultsnap/internal/retention"
	"github.com/vaultsnap/vaultsnap/internal/secrets"
)

// Capturer produces one pushed snapshot from the live state.
type Capturer interface {
	Capture(ctx context.Context, bundle *secrets.Bundle) (repository.Snapshot, error)
}

// Result reports one completed backup run.
type Result struct {
	SnapshotID string
	Pruned     int
	Retained   int
	Duration   time.Duration
}

// Runner executes backup runs. Safe for use from a scheduler loop; the
// scheduler guarantees runs do not overlap.
type Runner struct {
	capture Capturer
	repo    repository.Client
	policy  retention.Policy
	log     zerolog.Logger

	// retry knobs, shortened in tests
	maxTries        uint
	initialInterval time.Duration
}

// NewRunner creates a Runner.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func NewRunner(capture Capturer, repo repository.Client, policy retention.Policy, logger zerolog.Logger) *Runner {
	return &Runner{
		capture:         capture,
		repo:            repo,
		policy:          policy,
		log:             logger.With().Str("component", "backup").Logger(),
		maxTries:        4,
		initialInterval: 2 * time.Second,
	}
}

// Run executes one backup: init check, capture, retention. On failure the
// returned error wraps the stage's underlying cause.
func (r *Runner) Run(ctx context.Context, bundle *secrets.Bundle) (Result, error) {
	started := time.Now()

	if err := r.withRetry(ctx, func() error { return r.repo.EnsureInitialized(ctx) }); err != nil {
		metrics.ObserveBackupFailure("init_failed", time.Since(started))
		return Result{}, fmt.Errorf("ensure repository: %w", err)
	}

	snap, err := r.captureWithRetry(ctx, bundle)
	if err != nil {
		if errors.Is(err, repository.ErrRepositoryUnreachable) {
			metrics.ObserveBackupFailure("push_failed", time.Since(started))
		} else {
			metrics.ObserveBackupFailure("capture_failed", time.Since(started))
		}
		return Result{}, fmt.Errorf("capture: %w", err)
	}

	pruned, retained, err := r.enforceRetention(ctx)
	if err != nil {
		metrics.ObserveBackupFailure("prune_failed", time.Since(started))
		return Result{SnapshotID: snap.ID}, fmt.Errorf("retention: %w", err)
	}

	res := Result{
		SnapshotID: snap.ID,
		Pruned:     pruned,
		Retained:   retained,
		Duration:   time.Since(started),
	}
	metrics.ObserveBackupSuccess(res.Duration, pruned, retained)
	r.log.Info().
		Str("snapshot_id", res.SnapshotID).
		Int("pruned", pruned).
		Int("retained", retained).
		Dur("duration", res.Duration).
		Msg("backup run complete")
	return res, nil
}

// captureWithRetry retries the capture only while the repository is
// unreachable. Consistency failures and corrupt-repository errors surface
// immediately.
func (r *Runner) captureWithRetry(ctx context.Context, bundle *secrets.Bundle) (repository.Snapshot, error) {
	op := func() (repository.Snapshot, error) {
		snap, err := r.capture.Capture(ctx, bundle)
		if err != nil && !errors.Is(err, repository.ErrRepositoryUnreachable) {
			return repository.Snapshot{}, backoff.Permanent(err)
		}
		if err != nil {
			r.log.Warn().Err(err).Msg("repository unreachable, will retry")
		}
		return snap, err
	}
	return backoff.Retry(ctx, op, r.retryOptions()...)
}

// withRetry applies the same unreachable-only retry policy to an
// error-returning repository call.
func (r *Runner) withRetry(ctx context.Context, call func() error) error {
	op := func() (struct{}, error) {
		err := call()
		if err != nil && !errors.Is(err, repository.ErrRepositoryUnreachable) {
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, err
	}
	_, err := backoff.Retry(ctx, op, r.retryOptions()...)
	return err
}

func (r *Runner) retryOptions() []backoff.RetryOption {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = r.initialInterval
	return []backoff.RetryOption{
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(r.maxTries),
	}
}

// enforceRetention lists snapshots, decides the keep set, and prunes the
// rest. Returns snapshots removed and snapshots remaining.
func (r *Runner) enforceRetention(ctx context.Context) (int, int, error) {
	snaps, err := r.repo.List(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("list snapshots: %w", err)
	}

	keep := retention.DecidePrune(snaps, r.policy)
	pruned, err := r.repo.Prune(ctx, keep)
	if err != nil {
		return 0, 0, fmt.Errorf("prune snapshots: %w", err)
	}

	return pruned, len(snaps) - pruned, nil
}
