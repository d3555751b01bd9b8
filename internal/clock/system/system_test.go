// Package system exercises the real-time clock adapter.
package system

import (
	"testing"
	"time"
)

// TestClockNowUTC ensures the clock returns UTC timestamps.
func TestClockNowUTC(t *testing.T) {
	t.Parallel()

	clk := New()
	requireNotNil(t, clk)

	before := time.Now().UTC().Add(-time.Second)
	got := clk.Now()
	after := time.Now().UTC().Add(time.Second)

	if got.Location() != time.UTC {
		t.Fatalf("expected UTC location, got %v", got.Location())
	}
	if got.Before(before) || got.After(after) {
		t.Fatalf("expected %v to be between %v and %v", got, before, after)
	}
}

// TestClockNowMonotonic checks successive timestamps are non-decreasing.
func TestClockNowMonotonic(t *testing.T) {
	t.Parallel()

	clk := New()
	first := clk.Now()
	second := clk.Now()
	if second.Before(first) {
		t.Fatalf("expected second call %v to be >= first %v", second, first)
	}
}

func requireNotNil(t *testing.T, v any) {
	t.Helper()
	if v == nil {
		t.Fatal("expected value to be non-nil")
	}
}

func TestFixedClockAdvance(t *testing.T) {
	t.Parallel()

	start := time.Date(2024, 3, 4, 7, 0, 0, 0, time.FixedZone("EST", -5*3600))
	clk := NewFixed(start)
	if got := clk.Now(); !got.Equal(start) || got.Location() != time.UTC {
		t.Fatalf("expected %v in UTC, got %v", start, got)
	}
	clk.Advance(90 * time.Minute)
	if got := clk.Now(); !got.Equal(start.Add(90 * time.Minute)) {
		t.Fatalf("expected advanced time, got %v", got)
	}
}
