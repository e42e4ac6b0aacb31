// VaultSnap - Consistent Backup and Restore for SQLite-Backed Secret Stores
// Copyright 2026 VaultSnap Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vaultsnap/vaultsnap

// Package database wraps the embedded SQLite engine for the two operations
// the backup subsystem needs: producing a transactionally consistent copy of
// a live database file, and checking a database file's structural validity.
//
// The consistent copy uses VACUUM INTO, which holds a read transaction only
// for the duration of the copy. The service may keep writing while a capture
// runs; the copy reflects a single point in time.
package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// driverName is the database/sql driver registered by modernc.org/sqlite.
const driverName = "sqlite"

// Open opens the database file for read/write access.
func Open(path string) (*sql.DB, error) {
	db, err := sql.Open(driverName, path)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", path, err)
	}
	return db, nil
}

// OpenReadOnly opens the database file without write access. Used for
// validity checks so a check can never mutate the file under inspection.
func OpenReadOnly(path string) (*sql.DB, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("database file %s: %w", path, err)
	}
	db, err := sql.Open(driverName, "file:"+path+"?mode=ro")
	if err != nil {
		return nil, fmt.Errorf("open database %s read-only: %w", path, err)
	}
	return db, nil
}

// VacuumInto writes a consistent point-in-time copy of the database at src
// to dst. dst must not exist; SQLite refuses to overwrite.
func VacuumInto(ctx context.Context, src, dst string) error {
	db, err := Open(src)
	if err != nil {
		return err
	}
	defer db.Close() //nolint:errcheck // read-side handle, nothing to flush

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("database %s unreachable: %w", src, err)
	}

	if _, err := db.ExecContext(ctx, "VACUUM INTO ?", dst); err != nil {
		return fmt.Errorf("vacuum into %s: %w", dst, err)
	}
	return nil
}

// IntegrityCheck runs PRAGMA integrity_check against the database file at
// path and returns an error unless the engine reports "ok".
func IntegrityCheck(ctx context.Context, path string) error {
	db, err := OpenReadOnly(path)
	if err != nil {
		return err
	}
	defer db.Close() //nolint:errcheck // read-only handle

	rows, err := db.QueryContext(ctx, "PRAGMA integrity_check")
	if err != nil {
		return fmt.Errorf("integrity check %s: %w", path, err)
	}
	defer rows.Close() //nolint:errcheck // drained below

	var findings []string
	for rows.Next() {
		var line string
		if err := rows.Scan(&line); err != nil {
			return fmt.Errorf("integrity check %s: %w", path, err)
		}
		findings = append(findings, line)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("integrity check %s: %w", path, err)
	}

	if len(findings) == 1 && findings[0] == "ok" {
		return nil
	}
	return fmt.Errorf("integrity check %s failed: %s", path, strings.Join(findings, "; "))
}
