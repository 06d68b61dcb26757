package booking

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/bcx0/agenda/internal/availability"
	"github.com/bcx0/agenda/internal/tz"
)

// Admin-side configuration operations. Writes that could strand an
// existing confirmed booking outside the schedule are rejected outright
// rather than merged; non-overlapping edits are last-writer-wins.

func validateRanges(ranges []MinuteRange) error {
	if len(ranges) == 0 {
		return reject(RejectInvalidSlot, "at least one time range is required")
	}
	for _, r := range ranges {
		if r.StartMin < 0 || r.EndMin > 24*60 || r.StartMin >= r.EndMin {
			return reject(RejectInvalidSlot, "invalid time range")
		}
	}
	return nil
}

// spanInRanges reports whether the whole [StartMin, EndMin) span fits
// inside one of the ranges. Start-only matching is not enough: a range
// ending mid-slot would pass while stranding the slot's tail.
func spanInRanges(span tz.Span, ranges []MinuteRange) bool {
	for _, r := range ranges {
		if span.StartMin >= r.StartMin && span.EndMin <= r.EndMin {
			return true
		}
	}
	return false
}

func (s *Service) WeeklyRules(ctx context.Context) ([]WeeklyRule, error) {
	return s.repo.ListWeeklyRules(ctx)
}

// ReplaceWeeklyRules swaps out a weekday's rules in one transaction. The
// write is refused when a confirmed booking in the guard window would fall
// outside the new ranges.
func (s *Service) ReplaceWeeklyRules(ctx context.Context, dayOfWeek int, ranges []MinuteRange) error {
	if dayOfWeek < 1 || dayOfWeek > 7 {
		return reject(RejectInvalidSlot, "day of week must be 1..7")
	}
	if err := validateRanges(ranges); err != nil {
		return err
	}

	from := s.zones.StartOfDay(s.now())
	to := from.AddDate(0, 0, ruleGuardDays)
	bookings, err := s.repo.ListConfirmedInRange(ctx, from, to)
	if err != nil {
		return fmt.Errorf("list confirmed bookings: %w", err)
	}
	for _, b := range bookings {
		if s.zones.Weekday(b.StartAt) != dayOfWeek {
			continue
		}
		span, ok := s.zones.SlotSpan(b.StartAt, b.EndAt)
		if ok && !spanInRanges(span, ranges) {
			return reject(RejectConflict, "an existing booking falls outside the new ranges")
		}
	}

	return s.repo.WithTx(ctx, func(txRepo Repository) error {
		return txRepo.ReplaceWeeklyRulesForDay(ctx, dayOfWeek, ranges)
	})
}

func (s *Service) DeleteWeeklyRules(ctx context.Context, dayOfWeek int) error {
	if dayOfWeek < 1 || dayOfWeek > 7 {
		return reject(RejectInvalidSlot, "day of week must be 1..7")
	}
	return s.repo.DeleteWeeklyRulesForDay(ctx, dayOfWeek)
}

func (s *Service) Overrides(ctx context.Context) ([]DateOverride, error) {
	from := s.zones.StartOfDay(s.now())
	return s.repo.ListOverridesInRange(ctx, from, from.AddDate(0, 0, s.cfg.HorizonDays+1))
}

// SetOpenOverridesForDate replaces the day's OPEN overrides, refusing when
// a confirmed booking that day would land outside the new ranges.
func (s *Service) SetOpenOverridesForDate(ctx context.Context, date time.Time, ranges []MinuteRange) error {
	if err := validateRanges(ranges); err != nil {
		return err
	}

	day := s.zones.StartOfDay(date)
	nextDay := day.AddDate(0, 0, 1)
	bookings, err := s.repo.ListConfirmedInRange(ctx, day, nextDay)
	if err != nil {
		return fmt.Errorf("list confirmed bookings: %w", err)
	}
	for _, b := range bookings {
		span, ok := s.zones.SlotSpan(b.StartAt, b.EndAt)
		if ok && !spanInRanges(span, ranges) {
			return reject(RejectConflict, "an existing booking falls outside the new ranges")
		}
	}

	return s.repo.WithTx(ctx, func(txRepo Repository) error {
		return txRepo.ReplaceOpenOverridesForDate(ctx, day, ranges)
	})
}

func (s *Service) ClearOpenOverridesForDate(ctx context.Context, date time.Time) error {
	return s.repo.WithTx(ctx, func(txRepo Repository) error {
		return txRepo.ReplaceOpenOverridesForDate(ctx, s.zones.StartOfDay(date), nil)
	})
}

func (s *Service) CreateOverride(ctx context.Context, o *DateOverride) error {
	if o.Kind != availability.OverrideOpen && o.Kind != availability.OverrideBlock {
		return reject(RejectInvalidSlot, "override kind must be OPEN or BLOCK")
	}
	if err := validateRanges([]MinuteRange{{StartMin: o.StartMin, EndMin: o.EndMin}}); err != nil {
		return err
	}
	o.Date = s.zones.StartOfDay(o.Date)
	return s.repo.CreateOverride(ctx, o)
}

func (s *Service) DeleteOverride(ctx context.Context, id int64) error {
	return s.repo.DeleteOverride(ctx, id)
}

func (s *Service) Holds(ctx context.Context) ([]RecurringHold, error) {
	return s.repo.ListHolds(ctx)
}

func (s *Service) CreateHold(ctx context.Context, h *RecurringHold) error {
	if h.DayOfWeek < 1 || h.DayOfWeek > 7 {
		return reject(RejectInvalidSlot, "day of week must be 1..7")
	}
	if err := validateRanges([]MinuteRange{{StartMin: h.StartMin, EndMin: h.EndMin}}); err != nil {
		return err
	}
	return s.repo.CreateHold(ctx, h)
}

func (s *Service) DeleteHold(ctx context.Context, id int64) error {
	return s.repo.DeleteHold(ctx, id)
}

func (s *Service) Blocks(ctx context.Context) ([]LegacyBlock, error) {
	from := s.now()
	return s.repo.ListBlocksOverlapping(ctx, from, from.AddDate(0, 0, s.cfg.HorizonDays+1))
}

// CreateLegacyBlock records an ad-hoc absolute subtraction. The range must
// stay within the working window of the configured location and on one
// local day, and may not overlap a confirmed booking.
func (s *Service) CreateLegacyBlock(ctx context.Context, start, end time.Time, reason *string) (*LegacyBlock, error) {
	span, ok := s.zones.SlotSpan(start, end)
	if !ok || span.StartMin >= span.EndMin {
		return nil, reject(RejectInvalidSlot, "block must stay within one local day")
	}

	settings, err := s.repo.GetSettings(ctx)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	window := fallbackRules(settings)[0]
	if span.StartMin < window.StartMin || span.EndMin > window.EndMin {
		return nil, reject(RejectOutOfHours, "block is outside the working window")
	}

	conflicts, err := s.repo.ListConfirmedOverlapping(ctx, start, end, nil)
	if err != nil {
		return nil, fmt.Errorf("check conflicting bookings: %w", err)
	}
	if len(conflicts) > 0 {
		return nil, reject(RejectConflict, "block overlaps an existing booking")
	}

	b := &LegacyBlock{StartAt: start, EndAt: end, Reason: reason}
	if err := s.repo.CreateBlock(ctx, b); err != nil {
		return nil, err
	}
	return b, nil
}

func (s *Service) DeleteBlock(ctx context.Context, id int64) error {
	return s.repo.DeleteBlock(ctx, id)
}

func (s *Service) Settings(ctx context.Context) (Settings, error) {
	return s.repo.GetSettings(ctx)
}

func (s *Service) UpdateSettings(ctx context.Context, settings Settings) error {
	if settings.Location != LocationMiami && settings.Location != LocationBelgium {
		return reject(RejectInvalidSlot, "location must be MIAMI or BELGIUM")
	}
	if settings.DefaultMode != ModeVisio && settings.DefaultMode != ModePresentiel {
		return reject(RejectInvalidSlot, "mode must be VISIO or PRESENTIEL")
	}
	return s.repo.UpsertSettings(ctx, settings)
}

// QuotaUsage is the admin overview: non-cancelled bookings per client for
// the current primary-zone month.
func (s *Service) QuotaUsage(ctx context.Context) (map[uuid.UUID]int, error) {
	monthStart, monthEnd := s.zones.MonthBounds(s.now())
	return s.repo.UsageByClient(ctx, monthStart, monthEnd)
}
