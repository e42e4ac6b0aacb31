// VaultSnap - Consistent Backup and Restore for SQLite-Backed Secret Stores
// Copyright 2026 VaultSnap Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vaultsnap/vaultsnap

// Package api serves the daemon's status endpoints: liveness, last-run
// status, and Prometheus metrics. Read-only; nothing here mutates backup
// state.
package api

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// RunRecord is the reported outcome of the most recent backup run.
type RunRecord struct {
	SnapshotID string    `json:"snapshot_id,omitempty"`
	Success    bool      `json:"success"`
	Error      string    `json:"error,omitempty"`
	Pruned     int       `json:"pruned"`
	Retained   int       `json:"retained"`
	StartedAt  time.Time `json:"started_at"`
	Duration   string    `json:"duration"`
}

// statusResponse is the /status payload.
type statusResponse struct {
	LastRun *RunRecord `json:"last_run"`
	NextRun *time.Time `json:"next_run,omitempty"`
}

// NextFunc reports when the next scheduled run is due and when the last one
// fired. Zero times mean "never".
type NextFunc func() (next, last time.Time)

// Server is the daemon status server.
type Server struct {
	srv  *http.Server
	next NextFunc
	log  zerolog.Logger

	mu   sync.RWMutex
	last *RunRecord
}

// NewServer creates a status server bound to addr.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func NewServer(addr string, next NextFunc, logger zerolog.Logger) *Server {
	s := &Server{
		next: next,
		log:  logger.With().Str("component", "api").Logger(),
	}
	s.srv = &http.Server{
		Addr:         addr,
		Handler:      s.Routes(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Routes builds the router. Split out so tests can drive the handlers
// without a listener.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Get("/status", s.handleStatus)
	r.Handle("/metrics", promhttp.Handler())
	return r
}

// RecordRun publishes the outcome of a backup run to /status.
func (s *Server) RecordRun(rec RunRecord) {
	s.mu.Lock()
	s.last = &rec
	s.mu.Unlock()
}

// Start serves until Shutdown. A closed-server return is not an error.
func (s *Server) Start() error {
	s.log.Info().Str("addr", s.srv.Addr).Msg("status server listening")
	if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests and stops the listener.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok\n")) //nolint:errcheck // best-effort health response
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	s.mu.RLock()
	resp := statusResponse{LastRun: s.last}
	s.mu.RUnlock()

	if s.next != nil {
		if next, _ := s.next(); !next.IsZero() {
			resp.NextRun = &next
		}
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		s.log.Error().Err(err).Msg("encode status response")
	}
}
