package tz

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// SlotMinutes is the fixed slot width. The grid is aligned to hour
// boundaries of the primary zone and never subdivided.
const SlotMinutes = 60

// Zones holds the authoritative zone used for all schedule arithmetic and
// a secondary zone used for display only. Classification must never depend
// on the secondary zone.
type Zones struct {
	Primary   *time.Location
	Secondary *time.Location
}

func Load(primary, secondary string) (*Zones, error) {
	p, err := time.LoadLocation(primary)
	if err != nil {
		return nil, fmt.Errorf("load primary zone %q: %w", primary, err)
	}
	s, err := time.LoadLocation(secondary)
	if err != nil {
		return nil, fmt.Errorf("load secondary zone %q: %w", secondary, err)
	}
	return &Zones{Primary: p, Secondary: s}, nil
}

// ParseHHMM converts "HH:MM" (or "HH") to a minute-of-day value.
func ParseHHMM(value string) (int, error) {
	hourStr, minuteStr, found := strings.Cut(value, ":")
	if !found {
		minuteStr = "0"
	}
	hour, err := strconv.Atoi(hourStr)
	if err != nil {
		return 0, fmt.Errorf("invalid time %q: %w", value, err)
	}
	minute, err := strconv.Atoi(minuteStr)
	if err != nil {
		return 0, fmt.Errorf("invalid time %q: %w", value, err)
	}
	if hour < 0 || hour > 24 || minute < 0 || minute > 59 {
		return 0, fmt.Errorf("time %q out of range", value)
	}
	return hour*60 + minute, nil
}

func FormatHHMM(minuteOfDay int) string {
	return fmt.Sprintf("%02d:%02d", minuteOfDay/60, minuteOfDay%60)
}

// Weekday returns the ISO weekday (Monday=1 .. Sunday=7) of t in the
// primary zone.
func (z *Zones) Weekday(t time.Time) int {
	wd := int(t.In(z.Primary).Weekday())
	if wd == 0 {
		wd = 7
	}
	return wd
}

// DayKey returns the primary-zone calendar date of t, used to match
// day-granular overrides against instants.
func (z *Zones) DayKey(t time.Time) string {
	return t.In(z.Primary).Format("2006-01-02")
}

// StartOfDay returns midnight of t's primary-zone calendar day.
func (z *Zones) StartOfDay(t time.Time) time.Time {
	local := t.In(z.Primary)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, z.Primary)
}

// At returns the instant at the given minute-of-day on day's primary-zone
// calendar date.
func (z *Zones) At(day time.Time, minuteOfDay int) time.Time {
	local := day.In(z.Primary)
	return time.Date(local.Year(), local.Month(), local.Day(), minuteOfDay/60, minuteOfDay%60, 0, 0, z.Primary)
}

// Span is a slot's position on its primary-zone calendar day.
type Span struct {
	Day      time.Time // midnight of the slot's day in the primary zone
	StartMin int
	EndMin   int
}

// SlotSpan decomposes a [start, end) instant pair into primary-zone
// minute-of-day coordinates. It reports false when start and end land on
// different local calendar dates, which happens around DST transitions;
// such a pair is not a valid slot.
func (z *Zones) SlotSpan(start, end time.Time) (Span, bool) {
	localStart := start.In(z.Primary)
	localEnd := end.In(z.Primary)
	if z.DayKey(start) != z.DayKey(end) {
		return Span{}, false
	}
	return Span{
		Day:      z.StartOfDay(start),
		StartMin: localStart.Hour()*60 + localStart.Minute(),
		EndMin:   localEnd.Hour()*60 + localEnd.Minute(),
	}, true
}

// MonthBounds returns the [start, end) instants of the primary-zone
// calendar month containing t.
func (z *Zones) MonthBounds(t time.Time) (time.Time, time.Time) {
	local := t.In(z.Primary)
	start := time.Date(local.Year(), local.Month(), 1, 0, 0, 0, 0, z.Primary)
	return start, start.AddDate(0, 1, 0)
}

// BothZones formats t as HH:MM in the primary and secondary zones.
func (z *Zones) BothZones(t time.Time) (primary, secondary string) {
	return t.In(z.Primary).Format("15:04"), t.In(z.Secondary).Format("15:04")
}

// DayLabel is the human label shown next to a slot, rendered in the
// primary zone.
func (z *Zones) DayLabel(t time.Time) string {
	return t.In(z.Primary).Format("Monday 02 Jan")
}
