// VaultSnap - Consistent Backup and Restore for SQLite-Backed Secret Stores
// Copyright 2026 VaultSnap Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vaultsnap/vaultsnap

// Package retention decides which snapshots survive a prune pass.
//
// DecidePrune is a pure function over the repository's snapshot list: no
// clock, no I/O, deterministic for a given input. It never touches the live
// data directory.
package retention

import (
	"fmt"
	"sort"

	"github.com/vaultsnap/vaultsnap/internal/repository"
)

// Policy is the recognized rule set: per period category, how many of the
// most recent calendar buckets retain a representative snapshot.
type Policy struct {
	Daily   int
	Weekly  int
	Monthly int
	Yearly  int
}

// DefaultPolicy returns the standard 7/4/6/3 policy.
func DefaultPolicy() Policy {
	return Policy{Daily: 7, Weekly: 4, Monthly: 6, Yearly: 3}
}

// KeepSet maps snapshot ids to kept.
type KeepSet map[string]bool

// periodKeyFunc buckets a snapshot into a calendar period.
type periodKeyFunc func(s repository.Snapshot) string

// DecidePrune maps the snapshot set and policy to the set of snapshots to
// keep. Within each category the snapshots are bucketed by calendar period;
// the newest snapshot of each of the n most recent buckets is kept. The
// categories are unioned, and the single most recent snapshot is always kept
// even when the policy would exclude it.
func DecidePrune(snapshots []repository.Snapshot, policy Policy) KeepSet {
	keep := make(KeepSet)
	if len(snapshots) == 0 {
		return keep
	}

	// Newest first; bucket representatives and bucket recency both fall out
	// of this order.
	sorted := make([]repository.Snapshot, len(snapshots))
	copy(sorted, snapshots)
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].Time.After(sorted[j].Time)
	})

	categories := []struct {
		n   int
		key periodKeyFunc
	}{
		{policy.Daily, dayKey},
		{policy.Weekly, weekKey},
		{policy.Monthly, monthKey},
		{policy.Yearly, yearKey},
	}
	for _, cat := range categories {
		addCategory(keep, sorted, cat.n, cat.key)
	}

	// The latest snapshot survives unconditionally.
	keep[sorted[0].ID] = true

	return keep
}

// addCategory keeps the newest snapshot of each of the n most recent buckets
// under key. sorted must be newest first: the first snapshot seen for a new
// bucket is that bucket's newest.
func addCategory(keep KeepSet, sorted []repository.Snapshot, n int, key periodKeyFunc) {
	if n <= 0 {
		return
	}

	seen := make(map[string]bool)
	for _, s := range sorted {
		k := key(s)
		if seen[k] {
			continue
		}
		if len(seen) == n {
			break
		}
		seen[k] = true
		keep[s.ID] = true
	}
}

func dayKey(s repository.Snapshot) string {
	return s.Time.Format("2006-01-02")
}

func weekKey(s repository.Snapshot) string {
	year, week := s.Time.ISOWeek()
	return fmt.Sprintf("%d-W%02d", year, week)
}

func monthKey(s repository.Snapshot) string {
	return s.Time.Format("2006-01")
}

func yearKey(s repository.Snapshot) string {
	return s.Time.Format("2006")
}
