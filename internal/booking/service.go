package booking

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/bcx0/agenda/internal/availability"
	"github.com/bcx0/agenda/internal/config"
	"github.com/bcx0/agenda/internal/notify"
	redisclient "github.com/bcx0/agenda/internal/redis"
	"github.com/bcx0/agenda/internal/tz"
)

// Bookings created by bulk hold materialization carry this marker so the
// admin UI can tell them apart from client-made sessions.
const adminHoldNote = "[ADMIN_HOLD]"

// ruleGuardDays is how far ahead confirmed bookings are checked before a
// weekly rule or open override rewrite is accepted.
const ruleGuardDays = 90

type Service struct {
	repo     Repository
	locker   redisclient.Locker
	notifier notify.Notifier
	zones    *tz.Zones
	cfg      config.Config
	logger   *zap.Logger

	now func() time.Time
}

func NewService(repo Repository, locker redisclient.Locker, notifier notify.Notifier, zones *tz.Zones, cfg config.Config, logger *zap.Logger) *Service {
	return &Service{
		repo:     repo,
		locker:   locker,
		notifier: notifier,
		zones:    zones,
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
	}
}

// fallbackRules is the default whole-week window used only when no weekly
// rule and no OPEN override exist anywhere (see availability.UseFallback).
func fallbackRules(settings Settings) []availability.Rule {
	if settings.Location == LocationBelgium {
		return availability.FallbackRules(BelgiumWorkStartMin, BelgiumWorkEndMin)
	}
	return availability.FallbackRules(MiamiWorkStartMin, MiamiWorkEndMin)
}

func (s *Service) toSnapshot(rules []WeeklyRule, overrides []DateOverride, holds []RecurringHold, blocks []LegacyBlock, busy []Booking) availability.Snapshot {
	snap := availability.Snapshot{}
	for _, r := range rules {
		snap.Rules = append(snap.Rules, availability.Rule{DayOfWeek: r.DayOfWeek, StartMin: r.StartMin, EndMin: r.EndMin})
	}
	for _, o := range overrides {
		snap.Overrides = append(snap.Overrides, availability.Override{
			DayKey:   s.zones.DayKey(o.Date),
			StartMin: o.StartMin,
			EndMin:   o.EndMin,
			Kind:     o.Kind,
		})
	}
	for _, h := range holds {
		snap.Holds = append(snap.Holds, availability.Hold{DayOfWeek: h.DayOfWeek, StartMin: h.StartMin, EndMin: h.EndMin})
	}
	for _, b := range blocks {
		snap.Blocks = append(snap.Blocks, availability.Interval{Start: b.StartAt, End: b.EndAt})
	}
	for _, b := range busy {
		snap.Busy = append(snap.Busy, availability.Interval{Start: b.StartAt, End: b.EndAt})
	}
	return snap
}

func (s *Service) loadSnapshot(ctx context.Context, repo Repository, from, to time.Time) (availability.Snapshot, error) {
	rules, err := repo.ListWeeklyRules(ctx)
	if err != nil {
		return availability.Snapshot{}, fmt.Errorf("list weekly rules: %w", err)
	}
	overrides, err := repo.ListOverridesInRange(ctx, from, to)
	if err != nil {
		return availability.Snapshot{}, fmt.Errorf("list overrides: %w", err)
	}
	holds, err := repo.ListHolds(ctx)
	if err != nil {
		return availability.Snapshot{}, fmt.Errorf("list holds: %w", err)
	}
	blocks, err := repo.ListBlocksOverlapping(ctx, from, to)
	if err != nil {
		return availability.Snapshot{}, fmt.Errorf("list blocks: %w", err)
	}
	busy, err := repo.ListConfirmedOverlapping(ctx, from, to, nil)
	if err != nil {
		return availability.Snapshot{}, fmt.Errorf("list confirmed bookings: %w", err)
	}
	return s.toSnapshot(rules, overrides, holds, blocks, busy), nil
}

// ListSlots generates and classifies the full forward horizon. Read-only;
// concurrent calls may observe state slightly stale relative to in-flight
// writes, which is fine because every write re-validates before commit.
func (s *Service) ListSlots(ctx context.Context) ([]SlotView, error) {
	settings, err := s.repo.GetSettings(ctx)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}

	today := s.now()
	rangeStart := s.zones.StartOfDay(today)
	rangeEnd := rangeStart.AddDate(0, 0, s.cfg.HorizonDays+1)

	snap, err := s.loadSnapshot(ctx, s.repo, rangeStart, rangeEnd)
	if err != nil {
		return nil, err
	}

	slots := availability.Generate(s.zones, today, s.cfg.HorizonDays, snap, fallbackRules(settings))

	views := make([]SlotView, 0, len(slots))
	for _, slot := range slots {
		primary, secondary := s.zones.BothZones(slot.Start)
		views = append(views, SlotView{
			Start:              slot.Start,
			End:                slot.End,
			Status:             availability.Classify(s.zones, slot, snap),
			Label:              s.zones.DayLabel(slot.Start),
			Primary:            primary,
			Secondary:          secondary,
			Mode:               settings.DefaultMode,
			Location:           settings.Location,
			PresentielLocation: settings.PresentielLocation,
			PresentielNote:     settings.PresentielNote,
		})
	}
	return views, nil
}

// CheckSlotAvailability is the single source of truth consulted by every
// write path. A nil return means the slot is bookable right now.
func (s *Service) CheckSlotAvailability(ctx context.Context, start, end time.Time, exclude *uuid.UUID) error {
	settings, err := s.repo.GetSettings(ctx)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}
	return s.checkSlot(ctx, s.repo, settings, start, end, exclude)
}

// checkSlot re-derives "within an active range" and "subtracted" with the
// same precedence as the generator/classifier, restricted to one day, then
// queries for a conflicting confirmed booking. It runs against whatever
// repository it is handed, so mutations can re-run it inside their own
// transaction.
func (s *Service) checkSlot(ctx context.Context, repo Repository, settings Settings, start, end time.Time, exclude *uuid.UUID) error {
	span, ok := s.zones.SlotSpan(start, end)
	if !ok {
		return reject(RejectInvalidSlot, "slot crosses a local calendar date")
	}
	if span.EndMin-span.StartMin != tz.SlotMinutes || span.StartMin%tz.SlotMinutes != 0 {
		return reject(RejectInvalidSlot, "slot must be one hour on the hour grid")
	}
	if !start.After(s.now()) {
		return reject(RejectInvalidSlot, "slot is in the past")
	}

	day := span.Day
	nextDay := day.AddDate(0, 0, 1)
	dayKey := s.zones.DayKey(start)
	weekday := s.zones.Weekday(start)

	snap, err := s.loadDaySnapshot(ctx, repo, day, nextDay, start, end)
	if err != nil {
		return err
	}

	if !availability.Within(span, weekday, dayKey, snap, fallbackRules(settings)) {
		return reject(RejectOutOfHours, "slot is outside configured hours")
	}
	if availability.Subtracted(span, weekday, dayKey, start, end, snap) {
		return reject(RejectBlocked, "slot is blocked")
	}

	conflicts, err := repo.ListConfirmedOverlapping(ctx, start, end, exclude)
	if err != nil {
		return fmt.Errorf("check conflicting bookings: %w", err)
	}
	if len(conflicts) > 0 {
		return reject(RejectConflict, "slot was just taken")
	}
	return nil
}

// loadDaySnapshot is loadSnapshot without the booking occupancy, scoped to
// a single day; the conflict query runs separately so it can exclude the
// booking being rescheduled.
func (s *Service) loadDaySnapshot(ctx context.Context, repo Repository, day, nextDay, start, end time.Time) (availability.Snapshot, error) {
	rules, err := repo.ListWeeklyRules(ctx)
	if err != nil {
		return availability.Snapshot{}, fmt.Errorf("list weekly rules: %w", err)
	}
	overrides, err := repo.ListOverridesInRange(ctx, day, nextDay)
	if err != nil {
		return availability.Snapshot{}, fmt.Errorf("list overrides: %w", err)
	}
	holds, err := repo.ListHolds(ctx)
	if err != nil {
		return availability.Snapshot{}, fmt.Errorf("list holds: %w", err)
	}
	blocks, err := repo.ListBlocksOverlapping(ctx, start, end)
	if err != nil {
		return availability.Snapshot{}, fmt.Errorf("list blocks: %w", err)
	}
	return s.toSnapshot(rules, overrides, holds, blocks, nil), nil
}

// QuotaStatus reports how many credits the client has used in the current
// primary-zone calendar month. Always computed live, never cached.
func (s *Service) QuotaStatus(ctx context.Context, clientID uuid.UUID) (QuotaStatus, error) {
	client, err := s.repo.GetClientByID(ctx, clientID)
	if err != nil {
		if errors.Is(err, ErrClientNotFound) {
			return QuotaStatus{}, reject(RejectNotFound, "client not found")
		}
		return QuotaStatus{}, fmt.Errorf("load client: %w", err)
	}
	monthStart, monthEnd := s.zones.MonthBounds(s.now())
	used, err := s.repo.CountActiveInMonth(ctx, clientID, monthStart, monthEnd)
	if err != nil {
		return QuotaStatus{}, err
	}
	return QuotaStatus{Used: used, Limit: client.CreditsPerMonth}, nil
}

// CreateBooking reserves a slot for a client. Availability and quota are
// re-checked inside the same transaction as the insert, under a per-slot
// distributed lock, so concurrent attempts on overlapping intervals produce
// at most one confirmed booking.
func (s *Service) CreateBooking(ctx context.Context, clientID uuid.UUID, start, end time.Time) (*Booking, error) {
	client, err := s.repo.GetClientByID(ctx, clientID)
	if err != nil {
		if errors.Is(err, ErrClientNotFound) {
			return nil, reject(RejectNotFound, "client not found")
		}
		return nil, fmt.Errorf("load client: %w", err)
	}
	if !client.IsActive {
		return nil, reject(RejectInactiveClient, "bookings are reserved to active clients")
	}

	settings, err := s.repo.GetSettings(ctx)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}

	var created *Booking

	err = s.locker.WithSlotLock(ctx, start, func(lockCtx context.Context) error {
		return s.repo.WithTx(lockCtx, func(txRepo Repository) error {
			if err := s.checkSlot(lockCtx, txRepo, settings, start, end, nil); err != nil {
				return err
			}

			monthStart, monthEnd := s.zones.MonthBounds(s.now())
			used, err := txRepo.CountActiveInMonth(lockCtx, clientID, monthStart, monthEnd)
			if err != nil {
				return err
			}
			if used >= client.CreditsPerMonth {
				return reject(RejectQuotaExceeded, "monthly quota reached")
			}

			token := newManageToken()
			expiresAt := s.now().Add(s.cfg.ManageTokenTTL)
			b := &Booking{
				ClientID:             clientID,
				StartAt:              start,
				EndAt:                end,
				Status:               StatusConfirmed,
				Mode:                 settings.DefaultMode,
				ManageToken:          &token,
				ManageTokenExpiresAt: &expiresAt,
			}
			if err := txRepo.CreateBooking(lockCtx, b); err != nil {
				return err
			}
			created = b
			return nil
		})
	})
	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, reject(RejectConflict, "slot is currently being booked, retry shortly")
		}
		return nil, err
	}

	s.dispatch(ctx, "confirmation", s.notifier.BookingConfirmed, notify.Event{
		BookingID: created.ID,
		ClientID:  created.ClientID,
		StartAt:   created.StartAt,
		EndAt:     created.EndAt,
	})
	return created, nil
}

// RescheduleBooking moves a booking to a new slot. Quota is not re-checked;
// the credit was spent at creation. enforceWindow applies the client-side
// minimum lead time, admin paths pass false.
func (s *Service) RescheduleBooking(ctx context.Context, id uuid.UUID, newStart, newEnd time.Time, reason *string, enforceWindow bool) (*Booking, error) {
	b, err := s.repo.GetBookingByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrBookingNotFound) {
			return nil, reject(RejectNotFound, "booking not found")
		}
		return nil, fmt.Errorf("load booking: %w", err)
	}
	if b.Status == StatusCancelled {
		return nil, reject(RejectInvalidTransition, "booking is cancelled")
	}
	if enforceWindow && b.StartAt.Sub(s.now()) <= s.cfg.ManageWindow {
		return nil, reject(RejectTooLate, "too close to the session to reschedule")
	}

	settings, err := s.repo.GetSettings(ctx)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}

	oldStart, oldEnd := b.StartAt, b.EndAt
	var updated *Booking

	err = s.locker.WithSlotLock(ctx, newStart, func(lockCtx context.Context) error {
		return s.repo.WithTx(lockCtx, func(txRepo Repository) error {
			if err := s.checkSlot(lockCtx, txRepo, settings, newStart, newEnd, &id); err != nil {
				return err
			}
			u, err := txRepo.UpdateBookingSlot(lockCtx, id, newStart, newEnd, reason)
			if err != nil {
				return err
			}
			updated = u
			return nil
		})
	})
	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			return nil, reject(RejectConflict, "slot is currently being booked, retry shortly")
		}
		return nil, err
	}

	s.dispatch(ctx, "reschedule", s.notifier.BookingRescheduled, notify.Event{
		BookingID:  updated.ID,
		ClientID:   updated.ClientID,
		StartAt:    updated.StartAt,
		EndAt:      updated.EndAt,
		OldStartAt: &oldStart,
		OldEndAt:   &oldEnd,
	})
	return updated, nil
}

// CancelBooking is idempotent: cancelling an already-cancelled booking is a
// no-op success. Other terminal statuses are not cancellable.
func (s *Service) CancelBooking(ctx context.Context, id uuid.UUID, reason *string, enforceWindow bool) error {
	b, err := s.repo.GetBookingByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrBookingNotFound) {
			return reject(RejectNotFound, "booking not found")
		}
		return fmt.Errorf("load booking: %w", err)
	}
	if b.Status == StatusCancelled {
		return nil
	}
	if b.Status != StatusConfirmed {
		return reject(RejectInvalidTransition, "this status cannot be cancelled")
	}
	if enforceWindow && b.StartAt.Sub(s.now()) <= s.cfg.ManageWindow {
		return reject(RejectTooLate, "too close to the session to cancel")
	}

	cancelled, err := s.repo.CancelConfirmedBooking(ctx, id, reason)
	if err != nil {
		if errors.Is(err, ErrBookingNotFound) {
			// Lost the race against another cancel; same outcome.
			return nil
		}
		return fmt.Errorf("cancel booking: %w", err)
	}

	s.dispatch(ctx, "cancellation", s.notifier.BookingCancelled, notify.Event{
		BookingID: cancelled.ID,
		ClientID:  cancelled.ClientID,
		StartAt:   cancelled.StartAt,
		EndAt:     cancelled.EndAt,
		Reason:    reason,
	})
	return nil
}

// errOccurrenceSkipped marks an occurrence dropped by a materialization
// check. It never escapes MaterializeRecurringHold.
var errOccurrenceSkipped = errors.New("occurrence skipped")

// MaterializeRecurringHold commits every future occurrence of a weekly
// hold as a confirmed booking for the client. Each occurrence reserves
// its slot under the same per-slot lock the single-booking paths use,
// then checks conflicts and the month's quota in its own transaction.
// Occurrences that lose the lock, collide with an existing booking, or
// would exceed the client's monthly credits are skipped, not failed.
func (s *Service) MaterializeRecurringHold(ctx context.Context, req MaterializeRequest) (MaterializeResult, error) {
	if req.DayOfWeek < 1 || req.DayOfWeek > 7 {
		return MaterializeResult{}, reject(RejectInvalidSlot, "day of week must be 1..7")
	}
	if req.StartMin >= req.EndMin {
		return MaterializeResult{}, reject(RejectInvalidSlot, "invalid time range")
	}
	horizon := req.HorizonDays
	if horizon <= 0 {
		horizon = ruleGuardDays
	}

	client, err := s.repo.GetClientByID(ctx, req.ClientID)
	if err != nil {
		if errors.Is(err, ErrClientNotFound) {
			return MaterializeResult{}, reject(RejectNotFound, "client not found")
		}
		return MaterializeResult{}, fmt.Errorf("load client: %w", err)
	}
	if !client.IsActive {
		return MaterializeResult{}, reject(RejectInactiveClient, "client is inactive")
	}

	settings, err := s.repo.GetSettings(ctx)
	if err != nil {
		return MaterializeResult{}, fmt.Errorf("load settings: %w", err)
	}

	note := adminHoldNote
	if req.Note != nil && *req.Note != "" {
		note = adminHoldNote + " " + *req.Note
	}

	now := s.now()
	first := s.zones.StartOfDay(now)

	var result MaterializeResult

	for i := 0; i <= horizon; i++ {
		day := first.AddDate(0, 0, i)
		if s.zones.Weekday(day) != req.DayOfWeek {
			continue
		}
		start := s.zones.At(day, req.StartMin)
		end := s.zones.At(day, req.EndMin)
		if !start.After(now) {
			continue
		}
		if s.zones.DayKey(start) != s.zones.DayKey(end) {
			result.Skipped++
			continue
		}

		err := s.locker.WithSlotLock(ctx, start, func(ctx context.Context) error {
			return s.repo.WithTx(ctx, func(txRepo Repository) error {
				conflicts, err := txRepo.ListConfirmedOverlapping(ctx, start, end, nil)
				if err != nil {
					return fmt.Errorf("check occurrence conflicts: %w", err)
				}
				if len(conflicts) > 0 {
					return errOccurrenceSkipped
				}

				monthStart, monthEnd := s.zones.MonthBounds(start)
				used, err := txRepo.CountActiveInMonth(ctx, req.ClientID, monthStart, monthEnd)
				if err != nil {
					return err
				}
				if used >= client.CreditsPerMonth {
					return errOccurrenceSkipped
				}

				noteCopy := note
				return txRepo.CreateBooking(ctx, &Booking{
					ClientID:         req.ClientID,
					StartAt:          start,
					EndAt:            end,
					Status:           StatusConfirmed,
					Mode:             settings.DefaultMode,
					RescheduleReason: &noteCopy,
				})
			})
		})
		switch {
		case err == nil:
			result.Created++
		case errors.Is(err, errOccurrenceSkipped), errors.Is(err, redisclient.ErrLockNotAcquired):
			result.Skipped++
		default:
			return MaterializeResult{}, err
		}
	}
	return result, nil
}

// EnsureManageToken returns the booking's manage token, minting a fresh one
// when the current token is missing or expired.
func (s *Service) EnsureManageToken(ctx context.Context, id uuid.UUID) (string, error) {
	b, err := s.repo.GetBookingByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrBookingNotFound) {
			return "", reject(RejectNotFound, "booking not found")
		}
		return "", fmt.Errorf("load booking: %w", err)
	}

	now := s.now()
	if b.ManageToken != nil && b.ManageTokenExpiresAt != nil && b.ManageTokenExpiresAt.After(now) {
		return *b.ManageToken, nil
	}

	token := newManageToken()
	if err := s.repo.SetManageToken(ctx, id, token, now.Add(s.cfg.ManageTokenTTL)); err != nil {
		return "", fmt.Errorf("set manage token: %w", err)
	}
	return token, nil
}

// BookingByToken resolves a non-expired manage token.
func (s *Service) BookingByToken(ctx context.Context, token string) (*Booking, error) {
	b, err := s.repo.GetBookingByToken(ctx, token, s.now())
	if err != nil {
		if errors.Is(err, ErrBookingNotFound) {
			return nil, reject(RejectNotFound, "unknown or expired token")
		}
		return nil, fmt.Errorf("load booking by token: %w", err)
	}
	return b, nil
}

// UpcomingConfirmed is the read model for the calendar export consumer.
func (s *Service) UpcomingConfirmed(ctx context.Context) ([]Booking, error) {
	return s.repo.ListUpcomingConfirmed(ctx, s.now())
}

// SweepExpiredTokens clears manage tokens past their expiry. Called
// periodically by the token sweeper.
func (s *Service) SweepExpiredTokens(ctx context.Context) (int64, error) {
	return s.repo.ClearExpiredManageTokens(ctx, s.now())
}

func (s *Service) dispatch(ctx context.Context, kind string, send func(context.Context, notify.Event) error, ev notify.Event) {
	if err := send(ctx, ev); err != nil {
		s.logger.Warn("notification dispatch failed",
			zap.String("kind", kind),
			zap.String("booking_id", ev.BookingID.String()),
			zap.Error(err),
		)
	}
}

func newManageToken() string {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand failing means the process is in no state to serve.
		panic(fmt.Sprintf("read random bytes: %v", err))
	}
	return hex.EncodeToString(buf)
}
