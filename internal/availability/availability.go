// Package availability computes the bookable slot grid. Everything here is
// pure in-memory computation over a snapshot of the configuration tables;
// persistence and booking mutations live in the booking package.
package availability

import (
	"sort"
	"time"

	"github.com/bcx0/agenda/internal/tz"
)

type OverrideKind string

const (
	OverrideOpen  OverrideKind = "OPEN"
	OverrideBlock OverrideKind = "BLOCK"
)

type Status string

const (
	StatusAvailable Status = "available"
	StatusBooked    Status = "booked"
	StatusBlocked   Status = "blocked"
)

// Rule is a recurring open window on a weekday. Multiple rules per weekday
// form a union of ranges.
type Rule struct {
	DayOfWeek int // ISO, Monday=1
	StartMin  int
	EndMin    int
}

// Override is a date-specific window. An OPEN override replaces the day's
// weekly rules outright; a BLOCK override subtracts from whatever is active.
type Override struct {
	DayKey   string // primary-zone calendar date, "2006-01-02"
	StartMin int
	EndMin   int
	Kind     OverrideKind
}

// Hold is a weekly-recurring subtraction.
type Hold struct {
	DayOfWeek int
	StartMin  int
	EndMin    int
}

// Interval is an absolute [Start, End) occupancy: a legacy block or a
// confirmed booking.
type Interval struct {
	Start time.Time
	End   time.Time
}

// Snapshot is everything the engine needs for a range of days.
type Snapshot struct {
	Rules     []Rule
	Overrides []Override
	Holds     []Hold
	Blocks    []Interval // legacy ad-hoc blocks
	Busy      []Interval // confirmed bookings
}

type Slot struct {
	Start time.Time
	End   time.Time
}

// FallbackRules builds the process-wide default schedule: the same window
// on every weekday. It only ever applies when no weekly rule and no OPEN
// override exist anywhere in the snapshot.
func FallbackRules(startMin, endMin int) []Rule {
	rules := make([]Rule, 0, 7)
	for day := 1; day <= 7; day++ {
		rules = append(rules, Rule{DayOfWeek: day, StartMin: startMin, EndMin: endMin})
	}
	return rules
}

// UseFallback reports whether the snapshot triggers the global fallback
// schedule. Deliberately whole-snapshot, not per-day: a single OPEN
// override anywhere disables the fallback everywhere. Whether
// empty-means-fallback is the right behavior at all is an open question;
// the branch is kept explicit here so it can be found.
func (s Snapshot) UseFallback() bool {
	if len(s.Rules) > 0 {
		return false
	}
	for _, o := range s.Overrides {
		if o.Kind == OverrideOpen {
			return false
		}
	}
	return true
}

// Generate builds the candidate slot grid for horizonDays days starting at
// today's primary-zone date. It consults rules and OPEN overrides only;
// subtractive inputs and bookings are classification concerns. Slots are
// deduplicated by start instant and returned in ascending order.
func Generate(zones *tz.Zones, today time.Time, horizonDays int, snap Snapshot, fallback []Rule) []Slot {
	hasRules := len(snap.Rules) > 0
	useFallback := snap.UseFallback()

	first := zones.StartOfDay(today)
	seen := make(map[int64]Slot)

	for i := 0; i <= horizonDays; i++ {
		day := first.AddDate(0, 0, i)
		dayKey := zones.DayKey(day)
		weekday := zones.Weekday(day)

		var active []Rule
		open := openOverridesFor(snap.Overrides, dayKey)
		switch {
		case len(open) > 0:
			active = open
		case hasRules:
			active = rulesFor(snap.Rules, weekday)
		case useFallback:
			active = rulesFor(fallback, weekday)
		}

		for _, r := range active {
			for cursor := r.StartMin; cursor+tz.SlotMinutes <= r.EndMin; cursor += tz.SlotMinutes {
				start := zones.At(day, cursor)
				end := start.Add(tz.SlotMinutes * time.Minute)
				// A DST transition can push the end onto the next local
				// date; such a pair is not a valid slot.
				if zones.DayKey(start) != zones.DayKey(end) {
					continue
				}
				if _, ok := seen[start.Unix()]; !ok {
					seen[start.Unix()] = Slot{Start: start, End: end}
				}
			}
		}
	}

	slots := make([]Slot, 0, len(seen))
	for _, s := range seen {
		slots = append(slots, s)
	}
	sort.Slice(slots, func(i, j int) bool { return slots[i].Start.Before(slots[j].Start) })
	return slots
}

// Classify decides a single slot's status. Booked wins over blocked in the
// reported status; both mean the slot cannot be ordered.
func Classify(zones *tz.Zones, slot Slot, snap Snapshot) Status {
	if overlapsAny(slot.Start, slot.End, snap.Busy) {
		return StatusBooked
	}

	span, ok := zones.SlotSpan(slot.Start, slot.End)
	if ok {
		dayKey := zones.DayKey(slot.Start)
		weekday := zones.Weekday(slot.Start)
		for _, o := range snap.Overrides {
			if o.Kind == OverrideBlock && o.DayKey == dayKey && minutesOverlap(span, o.StartMin, o.EndMin) {
				return StatusBlocked
			}
		}
		for _, h := range snap.Holds {
			if h.DayOfWeek == weekday && minutesOverlap(span, h.StartMin, h.EndMin) {
				return StatusBlocked
			}
		}
	}

	if overlapsAny(slot.Start, slot.End, snap.Blocks) {
		return StatusBlocked
	}

	return StatusAvailable
}

// Within reports whether the span lies fully inside an active range for its
// day, applying the same precedence as Generate: OPEN overrides for the day
// replace weekly rules, and the fallback schedule applies only when the
// snapshot as a whole is empty.
func Within(span tz.Span, weekday int, dayKey string, snap Snapshot, fallback []Rule) bool {
	open := openOverridesFor(snap.Overrides, dayKey)
	if len(open) > 0 {
		return spanWithinAny(span, open)
	}
	if len(snap.Rules) > 0 {
		return spanWithinAny(span, rulesFor(snap.Rules, weekday))
	}
	if snap.UseFallback() {
		return spanWithinAny(span, rulesFor(fallback, weekday))
	}
	return false
}

// Subtracted reports whether any BLOCK override, recurring hold, or legacy
// block removes the span's time. The three mechanisms compose as a logical OR.
func Subtracted(span tz.Span, weekday int, dayKey string, start, end time.Time, snap Snapshot) bool {
	for _, o := range snap.Overrides {
		if o.Kind == OverrideBlock && o.DayKey == dayKey && minutesOverlap(span, o.StartMin, o.EndMin) {
			return true
		}
	}
	for _, h := range snap.Holds {
		if h.DayOfWeek == weekday && minutesOverlap(span, h.StartMin, h.EndMin) {
			return true
		}
	}
	return overlapsAny(start, end, snap.Blocks)
}

func openOverridesFor(overrides []Override, dayKey string) []Rule {
	var open []Rule
	for _, o := range overrides {
		if o.Kind == OverrideOpen && o.DayKey == dayKey {
			open = append(open, Rule{StartMin: o.StartMin, EndMin: o.EndMin})
		}
	}
	return open
}

func rulesFor(rules []Rule, weekday int) []Rule {
	var day []Rule
	for _, r := range rules {
		if r.DayOfWeek == weekday {
			day = append(day, r)
		}
	}
	return day
}

func spanWithinAny(span tz.Span, ranges []Rule) bool {
	for _, r := range ranges {
		if span.StartMin >= r.StartMin && span.EndMin <= r.EndMin {
			return true
		}
	}
	return false
}

func minutesOverlap(span tz.Span, startMin, endMin int) bool {
	return span.StartMin < endMin && span.EndMin > startMin
}

func overlapsAny(start, end time.Time, intervals []Interval) bool {
	for _, iv := range intervals {
		// Half-open: [start,end) overlaps [iv.Start,iv.End) iff start < iv.End && iv.Start < end.
		if start.Before(iv.End) && iv.Start.Before(end) {
			return true
		}
	}
	return false
}
