package scheduler

import (
	"testing"
	"time"
)

func seoulTime(t *testing.T, year int, month time.Month, day, hour, minute int) time.Time {
	t.Helper()
	loc, err := time.LoadLocation("Asia/Seoul")
	if err != nil {
		t.Fatalf("loading Asia/Seoul: %v", err)
	}
	return time.Date(year, month, day, hour, minute, 0, 0, loc)
}

func TestIsMarketHours(t *testing.T) {
	clock, err := NewMarketClock("")
	if err != nil {
		t.Fatalf("NewMarketClock: %v", err)
	}

	// 2026-08-24 is a Monday.
	tests := []struct {
		name string
		at   time.Time
		want bool
	}{
		{"monday open boundary", seoulTime(t, 2026, 8, 24, 9, 0), true},
		{"monday one minute before open", seoulTime(t, 2026, 8, 24, 8, 59), false},
		{"monday mid-session", seoulTime(t, 2026, 8, 24, 12, 30), true},
		{"monday close boundary", seoulTime(t, 2026, 8, 24, 15, 30), true},
		{"monday one minute after close", seoulTime(t, 2026, 8, 24, 15, 31), false},
		{"friday mid-session", seoulTime(t, 2026, 8, 28, 11, 0), true},
		{"saturday", seoulTime(t, 2026, 8, 29, 11, 0), false},
		{"sunday", seoulTime(t, 2026, 8, 30, 11, 0), false},
		{"monday midnight", seoulTime(t, 2026, 8, 24, 0, 0), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := clock.IsMarketHours(tt.at); got != tt.want {
				t.Errorf("IsMarketHours(%v) = %v, want %v", tt.at, got, tt.want)
			}
		})
	}
}

func TestIsMarketHoursConvertsForeignTimezones(t *testing.T) {
	clock, err := NewMarketClock("")
	if err != nil {
		t.Fatalf("NewMarketClock: %v", err)
	}

	// 01:00 UTC Monday is 10:00 Monday in Seoul: open.
	utcMorning := time.Date(2026, 8, 24, 1, 0, 0, 0, time.UTC)
	if !clock.IsMarketHours(utcMorning) {
		t.Error("01:00 UTC Monday should be inside the Seoul session")
	}

	// 12:00 UTC Monday is 21:00 in Seoul: closed.
	utcNoon := time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)
	if clock.IsMarketHours(utcNoon) {
		t.Error("12:00 UTC Monday should be outside the Seoul session")
	}
}

func TestNextBoundaryAligns(t *testing.T) {
	clock, err := NewMarketClock("")
	if err != nil {
		t.Fatalf("NewMarketClock: %v", err)
	}

	at := time.Date(2026, 8, 24, 9, 2, 17, 0, time.UTC)
	next := clock.NextBoundary(at, 5*time.Minute)

	want := time.Date(2026, 8, 24, 9, 5, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("NextBoundary = %v, want %v", next, want)
	}

	// A time already on a boundary advances to the next one.
	onBoundary := time.Date(2026, 8, 24, 9, 5, 0, 0, time.UTC)
	if got := clock.NextBoundary(onBoundary, 5*time.Minute); !got.Equal(want.Add(5 * time.Minute)) {
		t.Errorf("NextBoundary on boundary = %v, want %v", got, want.Add(5*time.Minute))
	}
}

func TestInvalidTimezoneRejected(t *testing.T) {
	if _, err := NewMarketClock("Mars/Olympus_Mons"); err == nil {
		t.Error("expected an error for an unknown timezone")
	}
}
