// VaultSnap - Consistent Backup and Restore for SQLite-Backed Secret Stores
// Copyright 2026 VaultSnap Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vaultsnap/vaultsnap

// Package metrics exposes Prometheus instrumentation for backup and restore
// runs. Collectors register on the default registry; the status server
// serves them at /metrics.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// BackupRunsTotal counts completed backup runs by outcome: "success",
	// "init_failed", "capture_failed", "push_failed", "prune_failed".
	BackupRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vaultsnap_backup_runs_total",
			Help: "Total number of backup runs by result",
		},
		[]string{"result"},
	)

	// BackupDuration observes wall-clock duration of full backup runs.
	BackupDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "vaultsnap_backup_duration_seconds",
			Help:    "Duration of backup runs in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1800, 3600},
		},
	)

	// LastSuccessTimestamp is the unix time of the last successful backup.
	// Alerting on staleness of this gauge catches silently broken schedules.
	LastSuccessTimestamp = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vaultsnap_last_success_timestamp_seconds",
			Help: "Unix timestamp of the last successful backup run",
		},
	)

	// SnapshotsPruned counts snapshots removed by retention enforcement.
	SnapshotsPruned = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "vaultsnap_snapshots_pruned_total",
			Help: "Total number of snapshots removed by retention",
		},
	)

	// SnapshotsRetained is the repository snapshot count after the most
	// recent prune.
	SnapshotsRetained = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "vaultsnap_snapshots_retained",
			Help: "Snapshots remaining after the most recent retention pass",
		},
	)

	// RestoreRunsTotal counts restore runs by result: "success", "failed".
	RestoreRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "vaultsnap_restore_runs_total",
			Help: "Total number of restore runs by result",
		},
		[]string{"result"},
	)
)

// ObserveBackupSuccess records one successful run end to end.
func ObserveBackupSuccess(duration time.Duration, pruned, retained int) {
	BackupRunsTotal.WithLabelValues("success").Inc()
	BackupDuration.Observe(duration.Seconds())
	LastSuccessTimestamp.SetToCurrentTime()
	SnapshotsPruned.Add(float64(pruned))
	SnapshotsRetained.Set(float64(retained))
}

// ObserveBackupFailure records a failed run at the given stage.
func ObserveBackupFailure(stage string, duration time.Duration) {
	BackupRunsTotal.WithLabelValues(stage).Inc()
	BackupDuration.Observe(duration.Seconds())
}
