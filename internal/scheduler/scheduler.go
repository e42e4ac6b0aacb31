// VaultSnap - Consistent Backup and Restore for SQLite-Backed Secret Stores
// Copyright 2026 VaultSnap Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vaultsnap/vaultsnap

// Package scheduler runs backup runs on a fixed interval.
//
// For daily or longer intervals the run is aligned to a preferred hour, so
// backups land in a quiet window instead of drifting with process start
// time. Runs never overlap: the timer is rearmed only after the current run
// returns.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// RunFunc is one backup run. The scheduler logs its error and keeps going.
type RunFunc func(ctx context.Context) error

// Scheduler fires a RunFunc on an interval with preferred-hour alignment.
type Scheduler struct {
	interval      time.Duration
	preferredHour int
	run           RunFunc
	log           zerolog.Logger

	// now is replaced in tests
	now func() time.Time

	stopOnce sync.Once
	stop     chan struct{}
	wg       sync.WaitGroup

	mu   sync.Mutex
	next time.Time
	last time.Time
}

// New creates a Scheduler. preferredHour is the local hour [0,23] used for
// intervals of a day or longer.
//
//nolint:gocritic // zerolog.Logger is designed to be passed by value
func New(interval time.Duration, preferredHour int, run RunFunc, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		interval:      interval,
		preferredHour: preferredHour,
		run:           run,
		log:           logger.With().Str("component", "scheduler").Logger(),
		now:           time.Now,
		stop:          make(chan struct{}),
	}
}

// Start launches the scheduler loop. Stop it with Stop or by cancelling ctx.
func (s *Scheduler) Start(ctx context.Context) {
	s.wg.Add(1)
	go s.loop(ctx)
}

// Stop halts the loop and waits for an in-flight run to finish.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	s.wg.Wait()
}

// Next returns when the next run is due, and when the last one fired.
func (s *Scheduler) Next() (next, last time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.next, s.last
}

func (s *Scheduler) loop(ctx context.Context) {
	defer s.wg.Done()

	next := s.nextRunTime()
	s.setNext(next)
	timer := time.NewTimer(next.Sub(s.now()))
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-timer.C:
			if err := s.run(ctx); err != nil {
				s.log.Error().Err(err).Msg("scheduled backup failed")
			}

			s.mu.Lock()
			s.last = s.now()
			s.mu.Unlock()

			next = s.nextRunTime()
			s.setNext(next)
			timer.Reset(next.Sub(s.now()))
		}
	}
}

func (s *Scheduler) setNext(t time.Time) {
	s.mu.Lock()
	s.next = t
	s.mu.Unlock()
	s.log.Info().Time("next_run", t).Msg("next backup scheduled")
}

// nextRunTime computes the next due time. Daily or longer intervals align to
// the preferred hour; shorter intervals simply add the interval.
func (s *Scheduler) nextRunTime() time.Time {
	now := s.now()

	if s.interval < 24*time.Hour {
		return now.Add(s.interval)
	}

	next := time.Date(now.Year(), now.Month(), now.Day(), s.preferredHour, 0, 0, 0, now.Location())
	if !next.After(now) {
		next = next.Add(24 * time.Hour)
	}
	if s.interval > 24*time.Hour {
		days := int(s.interval.Hours() / 24)
		next = next.Add(time.Duration(days-1) * 24 * time.Hour)
	}
	return next
}
