// VaultSnap - Consistent Backup and Restore for SQLite-Backed Secret Stores
// Copyright 2026 VaultSnap Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vaultsnap/vaultsnap

// Package repository wraps the content-addressed, encrypted restic repository
// holding vaultsnap snapshots.
//
// The production client shells out to the restic binary with the repository
// address and credentials in its environment and parses restic's JSON
// output. Failures map onto a small taxonomy:
//
//   - ErrRepositoryUnreachable: network or auth trouble. Transient from this
//     package's point of view; callers decide whether to retry. The client
//     itself never retries.
//   - ErrRepositoryCorrupt: the repository exists but its contents cannot be
//     trusted. Operator intervention required.
//   - ErrSnapshotNotFound: a specific snapshot id does not exist.
//   - ErrNoSnapshotAvailable: the repository holds no snapshots at all.
package repository

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrRepositoryUnreachable covers network and authentication failures.
	ErrRepositoryUnreachable = errors.New("repository unreachable")

	// ErrRepositoryCorrupt means the repository contents failed verification.
	ErrRepositoryCorrupt = errors.New("repository corrupt")

	// ErrSnapshotNotFound means the requested snapshot id does not exist.
	ErrSnapshotNotFound = errors.New("snapshot not found")

	// ErrNoSnapshotAvailable means the repository holds no snapshots.
	ErrNoSnapshotAvailable = errors.New("no snapshot available")
)

// Snapshot is one immutable, content-addressed backup record.
type Snapshot struct {
	ID       string    `json:"id"`
	ShortID  string    `json:"short_id"`
	Time     time.Time `json:"time"`
	Hostname string    `json:"hostname"`
	Paths    []string  `json:"paths"`
}

// Client is the snapshot repository contract. The exec-backed implementation
// is ExecClient; tests substitute fakes.
type Client interface {
	// EnsureInitialized probes the repository with a trivial list and
	// initializes it only when the probe reports "repository does not
	// exist". Any other probe failure is returned as-is; auth or network
	// trouble must never be mistaken for a missing repository.
	EnsureInitialized(ctx context.Context) error

	// Push uploads the staged directory as one new snapshot. Either the new
	// snapshot's identity is returned, or no new snapshot becomes visible.
	Push(ctx context.Context, stagedDir string) (Snapshot, error)

	// List returns all snapshots ordered by creation time, ascending.
	List(ctx context.Context) ([]Snapshot, error)

	// Latest returns the most recent snapshot using a single newest-first,
	// limit-one query. Returns ErrNoSnapshotAvailable on an empty
	// repository.
	Latest(ctx context.Context) (Snapshot, error)

	// Restore materializes the snapshot's payload under targetDir, which
	// must be an empty, exclusively owned staging area. Fails without
	// populating targetDir when the id does not exist.
	Restore(ctx context.Context, snapshotID, targetDir string) error

	// Prune deletes every snapshot whose id is not in keep. Re-running with
	// the same keep set is a no-op, not an error. Returns the number of
	// snapshots removed.
	Prune(ctx context.Context, keep map[string]bool) (int, error)
}

// Credentials holds the repository password and the object-store keys.
type Credentials struct {
	Password        string
	AccessKeyID     string
	SecretAccessKey string
}
