// VaultSnap - Consistent Backup and Restore for SQLite-Backed Secret Stores
// Copyright 2026 VaultSnap Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vaultsnap/vaultsnap

package restore

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/vaultsnap/vaultsnap/internal/config"
	"github.com/vaultsnap/vaultsnap/internal/database"
	"github.com/vaultsnap/vaultsnap/internal/repository"
	"github.com/vaultsnap/vaultsnap/internal/secrets"
)

type fakeRepo struct {
	latest     repository.Snapshot
	latestErr  error
	restoreErr error
	payload    func(targetDir string) error
}

func (f *fakeRepo) EnsureInitialized(context.Context) error { return nil }

func (f *fakeRepo) Push(context.Context, string) (repository.Snapshot, error) {
	return repository.Snapshot{}, nil
}

func (f *fakeRepo) List(context.Context) ([]repository.Snapshot, error) { return nil, nil }

func (f *fakeRepo) Latest(context.Context) (repository.Snapshot, error) {
	if f.latestErr != nil {
		return repository.Snapshot{}, f.latestErr
	}
	return f.latest, nil
}

func (f *fakeRepo) Restore(_ context.Context, _, targetDir string) error {
	if f.restoreErr != nil {
		return f.restoreErr
	}
	if err := os.MkdirAll(targetDir, 0o700); err != nil {
		return err
	}
	return f.payload(targetDir)
}

func (f *fakeRepo) Prune(context.Context, map[string]bool) (int, error) { return 0, nil }

type fakeService struct {
	stops   int
	starts  int
	stopErr error
}

func (f *fakeService) Stop(context.Context) error {
	f.stops++
	return f.stopErr
}

func (f *fakeService) Start(context.Context) error {
	f.starts++
	return nil
}

type fakePrompter struct {
	answer string
}

func (f fakePrompter) ReadSecret(string) (string, error) { return f.answer, nil }

// harness wires an Orchestrator against a temp installation with a live data
// directory already in place.
type harness struct {
	base       string
	cfg        *config.Config
	configPath string
	repo       repository.Client
	svc        *fakeService
	sm         *secrets.Manager
	orch       *Orchestrator
}

func newHarness(t *testing.T, repo repository.Client, svc *fakeService, prompter secrets.Prompter) *harness {
	t.Helper()

	base := t.TempDir()
	cfg := &config.Config{
		DataDir:            filepath.Join(base, "data"),
		DatabaseFile:       "db.sqlite3",
		Repository:         "s3:https://s3.example.net/vault-backups",
		RepositoryPassword: "repo-password",
		AccessKeyID:        "AKIATEST",
		SecretAccessKey:    "secretkey",
	}

	if err := os.MkdirAll(cfg.DataDir, 0o700); err != nil {
		t.Fatalf("mkdir data dir: %v", err)
	}
	makeDatabase(t, cfg.DatabasePath(), "live")
	if err := os.WriteFile(filepath.Join(cfg.DataDir, "live.marker"), []byte("live"), 0o600); err != nil {
		t.Fatalf("write live marker: %v", err)
	}

	sm := secrets.NewManager(zerolog.Nop())
	configPath := filepath.Join(base, "vaultsnap.env")
	h := &harness{
		base:       base,
		cfg:        cfg,
		configPath: configPath,
		repo:       repo,
		svc:        svc,
		sm:         sm,
	}
	h.orch = NewOrchestrator(cfg, configPath, repo, sm, svc, prompter, zerolog.Nop())
	return h
}

func (h *harness) stagingDirs(t *testing.T) []string {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(h.base, ".vaultsnap-restore-*"))
	if err != nil {
		t.Fatalf("glob staging dirs: %v", err)
	}
	return matches
}

func (h *harness) displacedDirs(t *testing.T) []string {
	t.Helper()
	matches, err := filepath.Glob(h.cfg.DataDir + ".replaced-*")
	if err != nil {
		t.Fatalf("glob displaced dirs: %v", err)
	}
	return matches
}

func makeDatabase(t *testing.T, path, blob string) {
	t.Helper()
	db, err := database.Open(path)
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	defer db.Close()
	if _, err := db.Exec(`CREATE TABLE ciphers (id INTEGER PRIMARY KEY, blob TEXT NOT NULL)`); err != nil {
		t.Fatalf("create table: %v", err)
	}
	if _, err := db.Exec(`INSERT INTO ciphers (blob) VALUES (?)`, blob); err != nil {
		t.Fatalf("insert: %v", err)
	}
}

// snapshotPayload builds a restore payload under the nested absolute-style
// path the repository recreates. withRecord embeds a secret record.
func snapshotPayload(t *testing.T, sm *secrets.Manager, withRecord bool) (func(string) error, *secrets.Bundle) {
	t.Helper()

	bundle, err := sm.Generate("AKIATEST", "secretkey")
	if err != nil {
		t.Fatalf("generate bundle: %v", err)
	}

	return func(target string) error {
		root := filepath.Join(target, "srv", "vault", "data")
		if err := os.MkdirAll(root, 0o700); err != nil {
			return err
		}

		db, err := database.Open(filepath.Join(root, "db.sqlite3"))
		if err != nil {
			return err
		}
		if _, err := db.Exec(`CREATE TABLE ciphers (id INTEGER PRIMARY KEY, blob TEXT NOT NULL)`); err != nil {
			db.Close()
			return err
		}
		if _, err := db.Exec(`INSERT INTO ciphers (blob) VALUES ('restored')`); err != nil {
			db.Close()
			return err
		}
		if err := db.Close(); err != nil {
			return err
		}

		if err := os.WriteFile(filepath.Join(root, "restored.marker"), []byte("restored"), 0o600); err != nil {
			return err
		}

		if withRecord {
			return sm.WriteRecord(root, bundle)
		}
		return nil
	}, bundle
}

func TestRunEmptyRepository(t *testing.T) {
	repo := &fakeRepo{latestErr: repository.ErrNoSnapshotAvailable}
	svc := &fakeService{}
	h := newHarness(t, repo, svc, fakePrompter{answer: "unused"})

	res, err := h.orch.Run(context.Background())
	if !errors.Is(err, repository.ErrNoSnapshotAvailable) {
		t.Fatalf("err = %v, want ErrNoSnapshotAvailable", err)
	}
	if res.State != StateFailed || res.FailedAt != StateLocateSnapshot {
		t.Errorf("result state = %s failed at %s, want failed at locate_snapshot", res.State, res.FailedAt)
	}
	if got := h.stagingDirs(t); len(got) != 0 {
		t.Errorf("staging dirs created for empty repository: %v", got)
	}
	if svc.stops != 0 {
		t.Errorf("service stopped %d times, want 0", svc.stops)
	}
}

func TestRunValidationFailureLeavesLiveStateUntouched(t *testing.T) {
	repo := &fakeRepo{
		latest: repository.Snapshot{ID: "aaaa1111", Time: time.Now()},
		payload: func(target string) error {
			root := filepath.Join(target, "srv", "vault", "data")
			if err := os.MkdirAll(root, 0o700); err != nil {
				return err
			}
			return os.WriteFile(filepath.Join(root, "db.sqlite3"), []byte("not a database"), 0o600)
		},
	}
	svc := &fakeService{}
	h := newHarness(t, repo, svc, fakePrompter{answer: "unused"})

	before, err := os.ReadFile(h.cfg.DatabasePath())
	if err != nil {
		t.Fatalf("read live database: %v", err)
	}

	res, runErr := h.orch.Run(context.Background())
	if runErr == nil {
		t.Fatal("Run succeeded with a corrupt staged database")
	}
	if res.FailedAt != StateValidateIntegrity {
		t.Errorf("failed at %s, want validate_integrity", res.FailedAt)
	}

	after, err := os.ReadFile(h.cfg.DatabasePath())
	if err != nil {
		t.Fatalf("read live database: %v", err)
	}
	if string(before) != string(after) {
		t.Error("live database changed by a failed validation")
	}
	if svc.stops != 0 {
		t.Errorf("service stopped %d times, want 0", svc.stops)
	}
	if got := h.stagingDirs(t); len(got) != 0 {
		t.Errorf("staging dirs left behind: %v", got)
	}
}

func TestRunRestoresLatestSnapshotWithRecord(t *testing.T) {
	svc := &fakeService{}
	sm := secrets.NewManager(zerolog.Nop())
	payload, bundle := snapshotPayload(t, sm, true)
	repo := &fakeRepo{
		latest:  repository.Snapshot{ID: "bbbb2222", Time: time.Now()},
		payload: payload,
	}
	h := newHarness(t, repo, svc, fakePrompter{answer: "unused"})

	res, err := h.orch.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.State != StateDone {
		t.Errorf("state = %s, want done", res.State)
	}
	if res.SnapshotID != "bbbb2222" {
		t.Errorf("snapshot = %s, want bbbb2222", res.SnapshotID)
	}
	if res.Provenance != secrets.Recovered {
		t.Errorf("provenance = %s, want recovered", res.Provenance)
	}

	// The payload replaced the live directory.
	if _, err := os.Stat(filepath.Join(h.cfg.DataDir, "restored.marker")); err != nil {
		t.Errorf("restored marker missing: %v", err)
	}
	if _, err := os.Stat(filepath.Join(h.cfg.DataDir, "live.marker")); !os.IsNotExist(err) {
		t.Error("old live marker survived the swap")
	}
	if err := database.IntegrityCheck(context.Background(), h.cfg.DatabasePath()); err != nil {
		t.Errorf("restored database integrity: %v", err)
	}

	// The secret record was consumed, not left at rest in the live dir.
	if _, err := os.Stat(filepath.Join(h.cfg.DataDir, secrets.RecordName)); !os.IsNotExist(err) {
		t.Error("secret record left in live directory")
	}

	// Runtime config carries the recovered material, owner-only.
	info, err := os.Stat(h.configPath)
	if err != nil {
		t.Fatalf("stat runtime config: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("runtime config mode = %v, want 0600", info.Mode().Perm())
	}
	content, err := os.ReadFile(h.configPath)
	if err != nil {
		t.Fatalf("read runtime config: %v", err)
	}
	if !strings.Contains(string(content), "DB_ENCRYPTION_KEY="+bundle.DBEncryptionKey) {
		t.Error("runtime config missing recovered encryption key")
	}

	if svc.stops != 1 || svc.starts != 1 {
		t.Errorf("service stops/starts = %d/%d, want 1/1", svc.stops, svc.starts)
	}
	if got := h.stagingDirs(t); len(got) != 0 {
		t.Errorf("staging dirs left behind: %v", got)
	}
	if got := h.displacedDirs(t); len(got) != 0 {
		t.Errorf("displaced dirs left behind: %v", got)
	}
}

func TestRunPromptsWhenRecordMissing(t *testing.T) {
	svc := &fakeService{}
	sm := secrets.NewManager(zerolog.Nop())
	payload, _ := snapshotPayload(t, sm, false)
	repo := &fakeRepo{
		latest:  repository.Snapshot{ID: "cccc3333", Time: time.Now()},
		payload: payload,
	}
	h := newHarness(t, repo, svc, fakePrompter{answer: "operator-supplied-key"})

	res, err := h.orch.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.Provenance != secrets.Prompted {
		t.Errorf("provenance = %s, want prompted", res.Provenance)
	}

	content, err := os.ReadFile(h.configPath)
	if err != nil {
		t.Fatalf("read runtime config: %v", err)
	}
	if !strings.Contains(string(content), "DB_ENCRYPTION_KEY=operator-supplied-key") {
		t.Error("runtime config missing prompted encryption key")
	}
}

func TestRunStopFailureCleansStaging(t *testing.T) {
	svc := &fakeService{stopErr: errors.New("unit refused to stop")}
	sm := secrets.NewManager(zerolog.Nop())
	payload, _ := snapshotPayload(t, sm, true)
	repo := &fakeRepo{
		latest:  repository.Snapshot{ID: "dddd4444", Time: time.Now()},
		payload: payload,
	}
	h := newHarness(t, repo, svc, fakePrompter{answer: "unused"})

	res, err := h.orch.Run(context.Background())
	if err == nil {
		t.Fatal("Run succeeded despite stop failure")
	}
	if res.FailedAt != StateSwapLiveState {
		t.Errorf("failed at %s, want swap_live_state", res.FailedAt)
	}
	if _, statErr := os.Stat(filepath.Join(h.cfg.DataDir, "live.marker")); statErr != nil {
		t.Errorf("live state disturbed: %v", statErr)
	}
	if got := h.stagingDirs(t); len(got) != 0 {
		t.Errorf("staging dirs left after pre-rename stop failure: %v", got)
	}
	if res.StagingDir != "" {
		t.Errorf("staging dir reported as retained: %s", res.StagingDir)
	}
}
