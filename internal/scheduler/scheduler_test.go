// VaultSnap - Consistent Backup and Restore for SQLite-Backed Secret Stores
// Copyright 2026 VaultSnap Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/vaultsnap/vaultsnap

package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func fixedNow(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func TestNextRunTimeShortInterval(t *testing.T) {
	s := New(15*time.Minute, 2, nil, zerolog.Nop())
	now := time.Date(2026, 8, 28, 10, 30, 0, 0, time.UTC)
	s.now = fixedNow(now)

	got := s.nextRunTime()
	want := now.Add(15 * time.Minute)
	if !got.Equal(want) {
		t.Errorf("next = %v, want %v", got, want)
	}
}

func TestNextRunTimeDailyBeforePreferredHour(t *testing.T) {
	s := New(24*time.Hour, 2, nil, zerolog.Nop())
	s.now = fixedNow(time.Date(2026, 8, 28, 1, 15, 0, 0, time.UTC))

	got := s.nextRunTime()
	want := time.Date(2026, 8, 28, 2, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("next = %v, want %v", got, want)
	}
}

func TestNextRunTimeDailyAfterPreferredHour(t *testing.T) {
	s := New(24*time.Hour, 2, nil, zerolog.Nop())
	s.now = fixedNow(time.Date(2026, 8, 28, 14, 0, 0, 0, time.UTC))

	got := s.nextRunTime()
	want := time.Date(2026, 8, 29, 2, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("next = %v, want %v", got, want)
	}
}

func TestNextRunTimeExactlyPreferredHour(t *testing.T) {
	s := New(24*time.Hour, 2, nil, zerolog.Nop())
	s.now = fixedNow(time.Date(2026, 8, 28, 2, 0, 0, 0, time.UTC))

	got := s.nextRunTime()
	want := time.Date(2026, 8, 29, 2, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("next = %v, want %v", got, want)
	}
}

func TestNextRunTimeMultiDayInterval(t *testing.T) {
	s := New(72*time.Hour, 3, nil, zerolog.Nop())
	s.now = fixedNow(time.Date(2026, 8, 28, 10, 0, 0, 0, time.UTC))

	got := s.nextRunTime()
	want := time.Date(2026, 8, 31, 3, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("next = %v, want %v", got, want)
	}
}

func TestSchedulerFiresAndKeepsGoingAfterFailure(t *testing.T) {
	var runs atomic.Int32
	run := func(context.Context) error {
		if runs.Add(1) == 1 {
			return errors.New("transient")
		}
		return nil
	}

	s := New(20*time.Millisecond, 0, run, zerolog.Nop())
	s.Start(context.Background())
	defer s.Stop()

	deadline := time.After(2 * time.Second)
	for runs.Load() < 2 {
		select {
		case <-deadline:
			t.Fatalf("runs = %d after deadline, want >= 2", runs.Load())
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestSchedulerStopIsIdempotent(t *testing.T) {
	s := New(time.Hour, 0, func(context.Context) error { return nil }, zerolog.Nop())
	s.Start(context.Background())
	s.Stop()
	s.Stop()
}

func TestSchedulerContextCancelStopsLoop(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := New(time.Hour, 0, func(context.Context) error { return nil }, zerolog.Nop())
	s.Start(ctx)
	cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("loop did not exit on context cancellation")
	}
}
