// VaultSnap - Consistent Backup and Restore for SQLite-Backed Secret Stores
// Copyright 2026 VaultSnap Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vaultsnap/vaultsnap

package secrets

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Coordinates are the non-secret settings written alongside the bundle so the
// runtime-config artifact is complete on its own.
type Coordinates struct {
	// Repository is the restic address, s3:<endpoint>/<bucket>.
	Repository string
	// DataDir is the service's live data directory.
	DataDir string
	// DatabaseFile is the database filename relative to DataDir.
	DatabaseFile string
}

// WriteRuntimeConfig writes the runtime-config artifact: key=value lines
// containing the bundle and repository coordinates. The file is created with
// mode 0600 from the first instant: content goes to an O_EXCL temp file in
// the target directory and is renamed into place, so no window exists where
// the artifact is readable by others or partially written.
func (m *Manager) WriteRuntimeConfig(path string, b *Bundle, coords Coordinates) error {
	if err := b.Validate(); err != nil {
		return err
	}
	if coords.Repository == "" || coords.DataDir == "" {
		return fmt.Errorf("%w: incomplete repository coordinates", ErrBundleInvalid)
	}

	var sb strings.Builder
	writeLine := func(key, value string) {
		sb.WriteString(key)
		sb.WriteByte('=')
		sb.WriteString(value)
		sb.WriteByte('\n')
	}
	writeLine("DATA_DIR", coords.DataDir)
	writeLine("DATABASE_FILE", coords.DatabaseFile)
	writeLine("DB_ENCRYPTION_KEY", b.DBEncryptionKey)
	writeLine("RESTIC_REPOSITORY", coords.Repository)
	writeLine("RESTIC_PASSWORD", b.RepositoryPassword)
	writeLine("AWS_ACCESS_KEY_ID", b.AccessKeyID)
	writeLine("AWS_SECRET_ACCESS_KEY", b.SecretAccessKey)

	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}

	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600) //nolint:gosec // G304: operator-configured artifact path
	if err != nil {
		return fmt.Errorf("create runtime config: %w", err)
	}

	if _, err := f.WriteString(sb.String()); err != nil {
		f.Close()      //nolint:errcheck // error path cleanup
		os.Remove(tmp) //nolint:errcheck // error path cleanup
		return fmt.Errorf("write runtime config: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()      //nolint:errcheck // error path cleanup
		os.Remove(tmp) //nolint:errcheck // error path cleanup
		return fmt.Errorf("sync runtime config: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp) //nolint:errcheck // error path cleanup
		return fmt.Errorf("close runtime config: %w", err)
	}

	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp) //nolint:errcheck // error path cleanup
		return fmt.Errorf("install runtime config: %w", err)
	}

	m.log.Info().Str("path", path).Str("provenance", string(b.provenance)).Msg("runtime config written")
	return nil
}
