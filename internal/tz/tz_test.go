package tz

import (
	"testing"
	"time"
)

func loadZones(t *testing.T) *Zones {
	t.Helper()
	zones, err := Load("Europe/Brussels", "America/New_York")
	if err != nil {
		t.Fatalf("load zones: %v", err)
	}
	return zones
}

func TestParseHHMM(t *testing.T) {
	cases := []struct {
		in      string
		want    int
		wantErr bool
	}{
		{in: "09:00", want: 540},
		{in: "9:30", want: 570},
		{in: "14", want: 840},
		{in: "00:00", want: 0},
		{in: "24:00", want: 1440},
		{in: "ab:00", wantErr: true},
		{in: "09:75", wantErr: true},
		{in: "25:00", wantErr: true},
		{in: "-1:00", wantErr: true},
	}

	for _, tc := range cases {
		got, err := ParseHHMM(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("ParseHHMM(%q): expected error, got %d", tc.in, got)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseHHMM(%q): %v", tc.in, err)
			continue
		}
		if got != tc.want {
			t.Errorf("ParseHHMM(%q) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestFormatHHMM(t *testing.T) {
	if got := FormatHHMM(540); got != "09:00" {
		t.Fatalf("FormatHHMM(540) = %q", got)
	}
	if got := FormatHHMM(605); got != "10:05" {
		t.Fatalf("FormatHHMM(605) = %q", got)
	}
}

func TestWeekdayISO(t *testing.T) {
	zones := loadZones(t)

	monday := time.Date(2026, 6, 1, 12, 0, 0, 0, zones.Primary)
	if got := zones.Weekday(monday); got != 1 {
		t.Fatalf("Weekday(Monday) = %d, want 1", got)
	}
	sunday := time.Date(2026, 6, 7, 12, 0, 0, 0, zones.Primary)
	if got := zones.Weekday(sunday); got != 7 {
		t.Fatalf("Weekday(Sunday) = %d, want 7", got)
	}
}

func TestWeekdayUsesPrimaryZone(t *testing.T) {
	zones := loadZones(t)

	// 23:30 UTC Sunday is already Monday 01:30 in Brussels (CEST).
	utcSunday := time.Date(2026, 6, 7, 23, 30, 0, 0, time.UTC)
	if got := zones.Weekday(utcSunday); got != 1 {
		t.Fatalf("Weekday across midnight = %d, want 1", got)
	}
}

func TestSlotSpan(t *testing.T) {
	zones := loadZones(t)

	start := time.Date(2026, 6, 1, 9, 0, 0, 0, zones.Primary)
	span, ok := zones.SlotSpan(start, start.Add(time.Hour))
	if !ok {
		t.Fatal("expected valid span")
	}
	if span.StartMin != 540 || span.EndMin != 600 {
		t.Fatalf("span = [%d, %d), want [540, 600)", span.StartMin, span.EndMin)
	}
	if !span.Day.Equal(time.Date(2026, 6, 1, 0, 0, 0, 0, zones.Primary)) {
		t.Fatalf("span day = %s", span.Day)
	}
}

func TestSlotSpanRejectsDateCrossing(t *testing.T) {
	zones := loadZones(t)

	start := time.Date(2026, 6, 1, 23, 30, 0, 0, zones.Primary)
	if _, ok := zones.SlotSpan(start, start.Add(time.Hour)); ok {
		t.Fatal("span crossing midnight must be invalid")
	}
}

func TestMonthBounds(t *testing.T) {
	zones := loadZones(t)

	from, to := zones.MonthBounds(time.Date(2026, 6, 15, 13, 30, 0, 0, zones.Primary))
	if !from.Equal(time.Date(2026, 6, 1, 0, 0, 0, 0, zones.Primary)) {
		t.Fatalf("month start = %s", from)
	}
	if !to.Equal(time.Date(2026, 7, 1, 0, 0, 0, 0, zones.Primary)) {
		t.Fatalf("month end = %s", to)
	}
}

func TestMonthBoundsUsesPrimaryZone(t *testing.T) {
	zones := loadZones(t)

	// 22:30 UTC on May 31 is already June 1 in Brussels.
	instant := time.Date(2026, 5, 31, 22, 30, 0, 0, time.UTC)
	from, _ := zones.MonthBounds(instant)
	if !from.Equal(time.Date(2026, 6, 1, 0, 0, 0, 0, zones.Primary)) {
		t.Fatalf("month start = %s, want June 1", from)
	}
}

func TestBothZones(t *testing.T) {
	zones := loadZones(t)

	// July: Brussels is UTC+2, New York UTC-4 — six hours apart.
	instant := time.Date(2026, 7, 1, 15, 0, 0, 0, zones.Primary)
	primary, secondary := zones.BothZones(instant)
	if primary != "15:00" {
		t.Fatalf("primary = %q", primary)
	}
	if secondary != "09:00" {
		t.Fatalf("secondary = %q", secondary)
	}
}

func TestAt(t *testing.T) {
	zones := loadZones(t)

	day := time.Date(2026, 6, 1, 0, 0, 0, 0, zones.Primary)
	got := zones.At(day, 14*60+30)
	want := time.Date(2026, 6, 1, 14, 30, 0, 0, zones.Primary)
	if !got.Equal(want) {
		t.Fatalf("At = %s, want %s", got, want)
	}
}

func TestStartOfDay(t *testing.T) {
	zones := loadZones(t)

	instant := time.Date(2026, 6, 1, 18, 45, 12, 0, zones.Primary)
	got := zones.StartOfDay(instant)
	if !got.Equal(time.Date(2026, 6, 1, 0, 0, 0, 0, zones.Primary)) {
		t.Fatalf("StartOfDay = %s", got)
	}
}
