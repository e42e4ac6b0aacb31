// VaultSnap - Consistent Backup and Restore for SQLite-Backed Secret Stores
// Copyright 2026 VaultSnap Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vaultsnap/vaultsnap

package repository

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

// commandRunner executes one restic invocation. Injected so tests can run
// without the binary or a repository.
type commandRunner interface {
	Run(ctx context.Context, env []string, args ...string) ([]byte, error)
}

// execRunner invokes the real restic binary.
type execRunner struct {
	binary string
}

// commandError carries restic's stderr for classification.
type commandError struct {
	args   []string
	stderr string
	cause  error
}

func (e *commandError) Error() string {
	return fmt.Sprintf("restic %s: %v: %s", strings.Join(e.args, " "), e.cause, strings.TrimSpace(e.stderr))
}

func (e *commandError) Unwrap() error { return e.cause }

func (r execRunner) Run(ctx context.Context, env []string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, r.binary, args...) //nolint:gosec // G204: args are built internally, never from stored data
	cmd.Env = append(os.Environ(), env...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		return stdout.Bytes(), &commandError{args: args, stderr: stderr.String(), cause: err}
	}
	return stdout.Bytes(), nil
}

// ExecClient is the restic-backed Client.
type ExecClient struct {
	repo  string
	creds Credentials
	run   commandRunner
	log   zerolog.Logger
}

// NewExecClient creates a Client that shells out to the given restic binary
// against the repository address (s3:<endpoint>/<bucket>).
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func NewExecClient(binary, repo string, creds Credentials, logger zerolog.Logger) *ExecClient {
	return &ExecClient{
		repo:  repo,
		creds: creds,
		run:   execRunner{binary: binary},
		log:   logger.With().Str("component", "repository").Logger(),
	}
}

// env builds the restic process environment. Credentials travel via the
// environment only, never argv, so they stay out of process listings.
func (c *ExecClient) env() []string {
	return []string{
		"RESTIC_REPOSITORY=" + c.repo,
		"RESTIC_PASSWORD=" + c.creds.Password,
		"AWS_ACCESS_KEY_ID=" + c.creds.AccessKeyID,
		"AWS_SECRET_ACCESS_KEY=" + c.creds.SecretAccessKey,
	}
}

// errRepositoryMissing is the probe outcome that permits initialization.
// Unexported: outside this package "missing" only ever surfaces as a failed
// EnsureInitialized.
var errRepositoryMissing = errors.New("repository does not exist")

// classify maps a restic failure onto the package taxonomy by inspecting
// stderr. Anything unrecognized counts as unreachable: that is the only
// category a caller may safely retry, and restic's network and auth errors
// are too varied to enumerate.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return fmt.Errorf("%w: %v", ErrRepositoryUnreachable, err)
	}

	var cerr *commandError
	if !errors.As(err, &cerr) {
		return err
	}

	stderr := strings.ToLower(cerr.stderr)
	switch {
	case strings.Contains(stderr, "no matching id found") ||
		strings.Contains(stderr, "no snapshot found") ||
		strings.Contains(stderr, "could not find snapshot"):
		return fmt.Errorf("%w: %v", ErrSnapshotNotFound, err)
	case strings.Contains(stderr, "is there a repository at the following location"):
		return fmt.Errorf("%w: %v", errRepositoryMissing, err)
	case strings.Contains(stderr, "ciphertext verification failed") ||
		strings.Contains(stderr, "invalid data returned") ||
		strings.Contains(stderr, "corrupted"):
		return fmt.Errorf("%w: %v", ErrRepositoryCorrupt, err)
	default:
		return fmt.Errorf("%w: %v", ErrRepositoryUnreachable, err)
	}
}

// EnsureInitialized implements Client.
func (c *ExecClient) EnsureInitialized(ctx context.Context) error {
	_, err := c.run.Run(ctx, c.env(), "snapshots", "--json", "--latest", "1")
	err = classify(err)
	if err == nil {
		return nil
	}
	if !errors.Is(err, errRepositoryMissing) {
		return err
	}

	c.log.Info().Str("repository", c.repo).Msg("repository not found, initializing")
	if _, err := c.run.Run(ctx, c.env(), "init"); err != nil {
		return classify(err)
	}
	return nil
}

// backupSummary is the terminal message of `restic backup --json`.
type backupSummary struct {
	MessageType string `json:"message_type"`
	SnapshotID  string `json:"snapshot_id"`
}

// Push implements Client.
func (c *ExecClient) Push(ctx context.Context, stagedDir string) (Snapshot, error) {
	out, err := c.run.Run(ctx, c.env(), "backup", "--json", stagedDir)
	if err != nil {
		return Snapshot{}, classify(err)
	}

	// restic emits one JSON object per line; the summary is last.
	var summary *backupSummary
	scanner := bufio.NewScanner(bytes.NewReader(out))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		var msg backupSummary
		if json.Unmarshal(scanner.Bytes(), &msg) != nil {
			continue
		}
		if msg.MessageType == "summary" {
			summary = &msg
		}
	}
	if summary == nil || summary.SnapshotID == "" {
		return Snapshot{}, fmt.Errorf("restic backup reported no snapshot id")
	}

	c.log.Info().Str("snapshot_id", summary.SnapshotID).Msg("snapshot pushed")
	return Snapshot{ID: summary.SnapshotID}, nil
}

// snapshots runs `restic snapshots --json` with extra args.
func (c *ExecClient) snapshots(ctx context.Context, extra ...string) ([]Snapshot, error) {
	args := append([]string{"snapshots", "--json"}, extra...)
	out, err := c.run.Run(ctx, c.env(), args...)
	if err != nil {
		return nil, classify(err)
	}

	var snaps []Snapshot
	if err := json.Unmarshal(out, &snaps); err != nil {
		return nil, fmt.Errorf("parse snapshot list: %w", err)
	}
	return snaps, nil
}

// List implements Client.
func (c *ExecClient) List(ctx context.Context) ([]Snapshot, error) {
	snaps, err := c.snapshots(ctx)
	if err != nil {
		return nil, err
	}
	sort.Slice(snaps, func(i, j int) bool {
		return snaps[i].Time.Before(snaps[j].Time)
	})
	return snaps, nil
}

// Latest implements Client. A single newest-first limit-one query keeps the
// cost flat as the snapshot count grows.
func (c *ExecClient) Latest(ctx context.Context) (Snapshot, error) {
	snaps, err := c.snapshots(ctx, "--latest", "1")
	if err != nil {
		return Snapshot{}, err
	}
	if len(snaps) == 0 {
		return Snapshot{}, ErrNoSnapshotAvailable
	}
	return snaps[len(snaps)-1], nil
}

// Restore implements Client.
func (c *ExecClient) Restore(ctx context.Context, snapshotID, targetDir string) error {
	if err := ensureEmptyDir(targetDir); err != nil {
		return err
	}

	if _, err := c.run.Run(ctx, c.env(), "restore", snapshotID, "--target", targetDir); err != nil {
		return classify(err)
	}

	c.log.Info().Str("snapshot_id", snapshotID).Str("target", targetDir).Msg("snapshot restored to staging")
	return nil
}

// ensureEmptyDir creates targetDir if needed and rejects a non-empty one;
// staging areas are exclusively owned by a single operation.
func ensureEmptyDir(dir string) error {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("create staging directory: %w", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("inspect staging directory: %w", err)
	}
	if len(entries) > 0 {
		return fmt.Errorf("staging directory %s is not empty", dir)
	}
	return nil
}

// Prune implements Client. Deletion is forget-by-id of everything outside
// keep, followed by a repository prune. Ids that have already disappeared
// are a no-op.
func (c *ExecClient) Prune(ctx context.Context, keep map[string]bool) (int, error) {
	snaps, err := c.List(ctx)
	if err != nil {
		return 0, err
	}

	var forget []string
	for _, s := range snaps {
		if !keep[s.ID] {
			forget = append(forget, s.ID)
		}
	}
	if len(forget) == 0 {
		c.log.Debug().Msg("prune: nothing to forget")
		return 0, nil
	}

	args := append([]string{"forget", "--prune"}, forget...)
	if _, err := c.run.Run(ctx, c.env(), args...); err != nil {
		err = classify(err)
		if errors.Is(err, ErrSnapshotNotFound) {
			// Already gone; deleting a deleted snapshot is not an error.
			return 0, nil
		}
		return 0, err
	}

	c.log.Info().Int("forgotten", len(forget)).Msg("prune completed")
	return len(forget), nil
}
