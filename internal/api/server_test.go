// VaultSnap - Consistent Backup and Restore for SQLite-Backed Secret Stores
// Copyright 2026 VaultSnap Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vaultsnap/vaultsnap

package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	// registers the vaultsnap collectors on the default registry
	_ "github.com/vaultsnap/vaultsnap/internal/metrics"
)

func testServer(next NextFunc) *Server {
	return NewServer("127.0.0.1:0", next, zerolog.Nop())
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	s := testServer(nil)
	rec := get(t, s.Routes(), "/healthz")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "ok") {
		t.Errorf("body = %q, want ok", rec.Body.String())
	}
}

func TestStatusBeforeAnyRun(t *testing.T) {
	s := testServer(nil)
	rec := get(t, s.Routes(), "/status")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var resp statusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.LastRun != nil {
		t.Errorf("last_run = %+v, want nil", resp.LastRun)
	}
}

func TestStatusReportsLastRunAndNextRun(t *testing.T) {
	nextAt := time.Date(2026, 8, 29, 2, 0, 0, 0, time.UTC)
	s := testServer(func() (time.Time, time.Time) { return nextAt, time.Time{} })

	s.RecordRun(RunRecord{
		SnapshotID: "abcd1234",
		Success:    true,
		Pruned:     2,
		Retained:   9,
		StartedAt:  time.Date(2026, 8, 28, 2, 0, 0, 0, time.UTC),
		Duration:   "42s",
	})

	rec := get(t, s.Routes(), "/status")
	var resp statusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.LastRun == nil || resp.LastRun.SnapshotID != "abcd1234" {
		t.Fatalf("last_run = %+v, want snapshot abcd1234", resp.LastRun)
	}
	if !resp.LastRun.Success {
		t.Error("last_run.success = false, want true")
	}
	if resp.NextRun == nil || !resp.NextRun.Equal(nextAt) {
		t.Errorf("next_run = %v, want %v", resp.NextRun, nextAt)
	}
}

func TestStatusLastRunFailure(t *testing.T) {
	s := testServer(nil)
	s.RecordRun(RunRecord{Success: false, Error: "repository unreachable", Duration: "3s"})

	rec := get(t, s.Routes(), "/status")
	var resp statusResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if resp.LastRun == nil || resp.LastRun.Error != "repository unreachable" {
		t.Fatalf("last_run = %+v, want recorded error", resp.LastRun)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	s := testServer(nil)
	rec := get(t, s.Routes(), "/metrics")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "vaultsnap_last_success_timestamp_seconds") {
		t.Error("metrics output missing vaultsnap gauges")
	}
}
