// VaultSnap - Consistent Backup and Restore for SQLite-Backed Secret Stores
// Copyright 2026 VaultSnap Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vaultsnap/vaultsnap

// Package secrets manages the secret material the protected service needs to
// run: its database-encryption key plus the credentials and password for the
// backup repository.
//
// A Bundle has exactly one provenance per run: generated fresh on first
// install, recovered from a restored snapshot payload, or supplied by the
// operator at the prompt. The constructors are the only way to obtain a
// Bundle, which keeps that exclusivity structural.
//
// The only durable clear-text home for a Bundle is the runtime-config
// artifact, written atomically with owner-only permissions. Inside a snapshot
// the bundle record travels under the repository's own encryption.
package secrets

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"
)

// RecordName is the serialized bundle's filename inside a snapshot payload.
const RecordName = "vaultsnap-bundle.json"

// keyBytes is the length of generated key material: 256 bits.
const keyBytes = 32

var (
	// ErrSecretRecoveryFailed means neither the payload nor the operator
	// supplied a usable key. Fatal.
	ErrSecretRecoveryFailed = errors.New("secret recovery failed")

	// ErrBundleInvalid marks an empty or malformed bundle. A partial bundle
	// must never start the service.
	ErrBundleInvalid = errors.New("invalid secret bundle")
)

// Provenance identifies how the bundle for this run was produced.
type Provenance string

const (
	// Generated means fresh random material from the install path.
	Generated Provenance = "generated"
	// Recovered means the bundle was parsed out of a restored payload.
	Recovered Provenance = "recovered"
	// Prompted means the operator supplied the key interactively.
	Prompted Provenance = "prompted"
)

// Bundle is the secret material for one run.
type Bundle struct {
	DBEncryptionKey    string
	RepositoryPassword string
	AccessKeyID        string
	SecretAccessKey    string

	provenance Provenance
}

// Provenance reports how this bundle was produced.
func (b *Bundle) Provenance() Provenance { return b.provenance }

// Validate rejects bundles missing key material.
func (b *Bundle) Validate() error {
	if b == nil || b.DBEncryptionKey == "" || b.RepositoryPassword == "" {
		return fmt.Errorf("%w: missing key material", ErrBundleInvalid)
	}
	if b.AccessKeyID == "" || b.SecretAccessKey == "" {
		return fmt.Errorf("%w: missing repository credentials", ErrBundleInvalid)
	}
	return nil
}

// bundleRecord is the serialized form stored inside a snapshot payload.
type bundleRecord struct {
	DBEncryptionKey    string    `json:"db_encryption_key"`
	RepositoryPassword string    `json:"repository_password"`
	AccessKeyID        string    `json:"access_key_id"`
	SecretAccessKey    string    `json:"secret_access_key"`
	CreatedAt          time.Time `json:"created_at"`
}

// Manager generates, recovers, and persists secret bundles. It is the sole
// writer of the runtime-config artifact.
type Manager struct {
	log zerolog.Logger
}

// NewManager creates a Manager.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func NewManager(logger zerolog.Logger) *Manager {
	return &Manager{log: logger.With().Str("component", "secrets").Logger()}
}

// Generate produces a fresh bundle for first-time install. The database key
// and repository password are independent 256-bit random values,
// base64-encoded. Repository credentials cannot be invented; the caller
// supplies the ones issued by the object store.
func (m *Manager) Generate(accessKeyID, secretAccessKey string) (*Bundle, error) {
	dbKey, err := randomKey()
	if err != nil {
		return nil, err
	}
	repoPassword, err := randomKey()
	if err != nil {
		return nil, err
	}

	b := &Bundle{
		DBEncryptionKey:    dbKey,
		RepositoryPassword: repoPassword,
		AccessKeyID:        accessKeyID,
		SecretAccessKey:    secretAccessKey,
		provenance:         Generated,
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}

	m.log.Info().Msg("generated fresh secret bundle")
	return b, nil
}

// FromConfig rebuilds the installed bundle from material already loaded out
// of the runtime-config artifact, for capture runs. The artifact descends
// from install-time generated material, so the bundle reports Generated.
func (m *Manager) FromConfig(dbKey, repoPassword, accessKeyID, secretAccessKey string) (*Bundle, error) {
	b := &Bundle{
		DBEncryptionKey:    dbKey,
		RepositoryPassword: repoPassword,
		AccessKeyID:        accessKeyID,
		SecretAccessKey:    secretAccessKey,
		provenance:         Generated,
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}
	return b, nil
}

// randomKey returns keyBytes of cryptographically random data, base64-encoded.
func randomKey() (string, error) {
	buf := make([]byte, keyBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random material: %w", err)
	}
	return base64.StdEncoding.EncodeToString(buf), nil
}

// RecoverFromPayload parses the bundle record out of a staged restore
// payload. A missing record is not an error: the second return is false and
// the caller falls back to the operator prompt. A record that exists but
// cannot be parsed, or parses to an unusable bundle, is fatal.
func (m *Manager) RecoverFromPayload(payloadDir string) (*Bundle, bool, error) {
	data, err := os.ReadFile(filepath.Join(payloadDir, RecordName)) //nolint:gosec // G304: payloadDir is an exclusively owned staging area
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("read bundle record: %w", err)
	}

	var rec bundleRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, false, fmt.Errorf("%w: parse bundle record: %v", ErrBundleInvalid, err)
	}

	b := &Bundle{
		DBEncryptionKey:    rec.DBEncryptionKey,
		RepositoryPassword: rec.RepositoryPassword,
		AccessKeyID:        rec.AccessKeyID,
		SecretAccessKey:    rec.SecretAccessKey,
		provenance:         Recovered,
	}
	if err := b.Validate(); err != nil {
		return nil, false, err
	}

	m.log.Info().Msg("recovered secret bundle from snapshot payload")
	return b, true, nil
}

// PromptOperator builds a bundle from an interactive prompt. The repository
// material is already known (we reached the repository to get here); only the
// database-encryption key must come from the operator. An empty answer is
// fatal: the process never proceeds with a guessed or default key.
func (m *Manager) PromptOperator(p Prompter, repoPassword, accessKeyID, secretAccessKey string) (*Bundle, error) {
	key, err := p.ReadSecret("Enter the database encryption key: ")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSecretRecoveryFailed, err)
	}
	if key == "" {
		return nil, fmt.Errorf("%w: operator supplied an empty key", ErrSecretRecoveryFailed)
	}

	b := &Bundle{
		DBEncryptionKey:    key,
		RepositoryPassword: repoPassword,
		AccessKeyID:        accessKeyID,
		SecretAccessKey:    secretAccessKey,
		provenance:         Prompted,
	}
	if err := b.Validate(); err != nil {
		return nil, err
	}

	m.log.Info().Msg("secret bundle supplied by operator")
	return b, nil
}

// PromptRepositoryPassword asks the operator for the repository password
// when the runtime-config artifact cannot supply it. Without this password
// no snapshot can be read, so an empty answer is fatal.
func (m *Manager) PromptRepositoryPassword(p Prompter) (string, error) {
	pw, err := p.ReadSecret("Enter the repository password: ")
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrSecretRecoveryFailed, err)
	}
	if pw == "" {
		return "", fmt.Errorf("%w: operator supplied an empty repository password", ErrSecretRecoveryFailed)
	}

	m.log.Info().Msg("repository password supplied by operator")
	return pw, nil
}

// WriteRecord serializes the bundle into a staged capture directory so a
// later restore can recover it. The record is clear text inside the staging
// area only; the repository encrypts everything it stores.
func (m *Manager) WriteRecord(stagingDir string, b *Bundle) error {
	if err := b.Validate(); err != nil {
		return err
	}

	data, err := json.MarshalIndent(bundleRecord{
		DBEncryptionKey:    b.DBEncryptionKey,
		RepositoryPassword: b.RepositoryPassword,
		AccessKeyID:        b.AccessKeyID,
		SecretAccessKey:    b.SecretAccessKey,
		CreatedAt:          time.Now().UTC(),
	}, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal bundle record: %w", err)
	}

	return os.WriteFile(filepath.Join(stagingDir, RecordName), data, 0o600)
}
