package cron

import (
	"testing"
	"time"
)

func TestParse_FiveMinuteSchedule(t *testing.T) {
	sched, err := NewParser().Parse("*/5 * * * *", "UTC")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	after := time.Date(2025, 6, 10, 9, 3, 0, 0, time.UTC)
	next := sched.Next(after)
	want := time.Date(2025, 6, 10, 9, 5, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("Next(%v) = %v, want %v", after, next, want)
	}
}

func TestParse_DailySchedule(t *testing.T) {
	sched, err := NewParser().Parse("0 8 * * *", "UTC")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	after := time.Date(2025, 6, 10, 9, 0, 0, 0, time.UTC)
	next := sched.Next(after)
	want := time.Date(2025, 6, 11, 8, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("Next(%v) = %v, want %v", after, next, want)
	}
}

func TestParse_HonorsTimezone(t *testing.T) {
	sched, err := NewParser().Parse("0 8 * * *", "Europe/Paris")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	// 08:00 Paris in June is 06:00 UTC.
	after := time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC)
	next := sched.Next(after).UTC()
	want := time.Date(2025, 6, 10, 6, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("Next(%v) = %v, want %v", after, next, want)
	}
}

func TestParse_InvalidExpression(t *testing.T) {
	for _, expr := range []string{"", "not a cron", "* * *", "0 0 0 0 0"} {
		if _, err := NewParser().Parse(expr, "UTC"); err == nil {
			t.Errorf("Parse(%q) succeeded, want error", expr)
		}
	}
}

func TestParse_InvalidTimezone(t *testing.T) {
	if _, err := NewParser().Parse("* * * * *", "Mars/Olympus_Mons"); err == nil {
		t.Error("expected error for unknown timezone")
	}
}
