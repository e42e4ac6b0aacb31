// VaultSnap - Consistent Backup and Restore for SQLite-Backed Secret Stores
// Copyright 2026 VaultSnap Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vaultsnap/vaultsnap

// Package config loads and validates the vaultsnap runtime configuration.
//
// All settings live in a single runtime-config artifact: a key=value file
// (dotenv format) restricted to owner read/write. The artifact is written by
// the secrets manager on install or restore and read by every vaultsnap
// invocation. Environment variables prefixed with VAULTSNAP_ override file
// values, matching the layered precedence used elsewhere: ENV > file >
// defaults.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/dotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// ErrConfigInvalid marks missing or malformed required settings. Fatal, never
// retried.
var ErrConfigInvalid = errors.New("invalid configuration")

// DefaultPath is where the runtime-config artifact lives unless overridden.
const DefaultPath = "/etc/vaultsnap/vaultsnap.env"

// envPrefix is stripped from overriding environment variables.
const envPrefix = "VAULTSNAP_"

// Config is the fully resolved runtime configuration.
type Config struct {
	// DataDir is the service's live data directory; the database file lives
	// inside it.
	DataDir string `koanf:"data_dir" validate:"required"`

	// DatabaseFile is the database filename relative to DataDir.
	DatabaseFile string `koanf:"database_file" validate:"required"`

	// DBEncryptionKey is the key the service uses to decrypt its database.
	DBEncryptionKey string `koanf:"db_encryption_key" validate:"required"`

	// Repository is the restic repository address, s3:<endpoint>/<bucket>.
	Repository string `koanf:"restic_repository" validate:"required"`

	// RepositoryPassword encrypts the restic repository.
	RepositoryPassword string `koanf:"restic_password" validate:"required"`

	// AccessKeyID and SecretAccessKey are the S3 credentials.
	AccessKeyID     string `koanf:"aws_access_key_id" validate:"required"`
	SecretAccessKey string `koanf:"aws_secret_access_key" validate:"required"`

	// ResticBinary is the restic executable to invoke.
	ResticBinary string `koanf:"restic_binary"`

	// Retention knobs; see internal/retention.
	KeepDaily   int `koanf:"keep_daily" validate:"min=0"`
	KeepWeekly  int `koanf:"keep_weekly" validate:"min=0"`
	KeepMonthly int `koanf:"keep_monthly" validate:"min=0"`
	KeepYearly  int `koanf:"keep_yearly" validate:"min=0"`

	// ServiceStopCmd and ServiceStartCmd control the dependent service around
	// a live-state swap. Run through the shell.
	ServiceStopCmd  string `koanf:"service_stop_cmd"`
	ServiceStartCmd string `koanf:"service_start_cmd"`

	// RestoreLog is the append-only log file used by restore runs.
	RestoreLog string `koanf:"restore_log"`

	// Daemon mode settings.
	BackupInterval time.Duration `koanf:"backup_interval"`
	PreferredHour  int           `koanf:"preferred_hour" validate:"min=0,max=23"`
	StatusAddr     string        `koanf:"status_addr"`

	// Logging.
	LogLevel  string `koanf:"log_level"`
	LogFormat string `koanf:"log_format"`
}

// defaultConfig returns a Config with defaults applied. Required fields stay
// empty and fail validation when the artifact does not provide them.
func defaultConfig() *Config {
	return &Config{
		DatabaseFile:   "db.sqlite3",
		ResticBinary:   "restic",
		KeepDaily:      7,
		KeepWeekly:     4,
		KeepMonthly:    6,
		KeepYearly:     3,
		RestoreLog:     "/var/log/vaultsnap/restore.log",
		BackupInterval: 24 * time.Hour,
		PreferredHour:  2,
		StatusAddr:     ":8037",
		LogLevel:       "info",
		LogFormat:      "console",
	}
}

// Load reads the runtime-config artifact at path, applies VAULTSNAP_*
// environment overrides, and validates the result.
func Load(path string) (*Config, error) {
	return load(path, false)
}

// LoadForRestore is Load with the secret-material requirements relaxed: the
// repository password and database-encryption key may be absent. Restore is
// the one entry point that must work when the artifact was lost with the
// host; missing material is prompted for or recovered from the payload.
func LoadForRestore(path string) (*Config, error) {
	return load(path, true)
}

func load(path string, forRestore bool) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if err := k.Load(file.Provider(path), dotenv.ParserEnv("", ".", keyTransform)); err != nil {
		return nil, fmt.Errorf("%w: read %s: %v", ErrConfigInvalid, path, err)
	}

	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return keyTransform(strings.TrimPrefix(s, envPrefix))
	}), nil); err != nil {
		return nil, fmt.Errorf("load environment overrides: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("%w: unmarshal: %v", ErrConfigInvalid, err)
	}

	if forRestore {
		if err := cfg.validateExcept("RepositoryPassword", "DBEncryptionKey"); err != nil {
			return nil, err
		}
		return cfg, nil
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// keyTransform maps artifact keys to koanf paths: RESTIC_PASSWORD ->
// restic_password.
func keyTransform(s string) string {
	return strings.ToLower(s)
}

// DatabasePath returns the absolute path of the live database file.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.DataDir, c.DatabaseFile)
}

// Validate checks required fields and the repository address shape.
func (c *Config) Validate() error {
	return c.validateExcept()
}

// validateExcept validates the struct while skipping the named fields.
func (c *Config) validateExcept(fields ...string) error {
	v := validator.New()
	var err error
	if len(fields) == 0 {
		err = v.Struct(c)
	} else {
		err = v.StructExcept(c, fields...)
	}
	if err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("%w: field %s failed %q", ErrConfigInvalid, verrs[0].Field(), verrs[0].Tag())
		}
		return fmt.Errorf("%w: %v", ErrConfigInvalid, err)
	}

	if !strings.HasPrefix(c.Repository, "s3:") {
		return fmt.Errorf("%w: repository address %q must use the s3:<endpoint>/<bucket> scheme", ErrConfigInvalid, c.Repository)
	}

	return nil
}
