package booking

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Repository contains all DB interactions needed by the service. WithTx
// yields a Repository bound to one transaction; the availability re-check
// before every booking write runs through that bound instance.
type Repository interface {
	GetClientByID(ctx context.Context, id uuid.UUID) (*Client, error)

	GetSettings(ctx context.Context) (Settings, error)
	UpsertSettings(ctx context.Context, s Settings) error

	ListWeeklyRules(ctx context.Context) ([]WeeklyRule, error)
	ReplaceWeeklyRulesForDay(ctx context.Context, dayOfWeek int, ranges []MinuteRange) error
	DeleteWeeklyRulesForDay(ctx context.Context, dayOfWeek int) error

	ListOverridesInRange(ctx context.Context, from, to time.Time) ([]DateOverride, error)
	CreateOverride(ctx context.Context, o *DateOverride) error
	DeleteOverride(ctx context.Context, id int64) error
	ReplaceOpenOverridesForDate(ctx context.Context, date time.Time, ranges []MinuteRange) error

	ListHolds(ctx context.Context) ([]RecurringHold, error)
	CreateHold(ctx context.Context, h *RecurringHold) error
	DeleteHold(ctx context.Context, id int64) error

	ListBlocksOverlapping(ctx context.Context, from, to time.Time) ([]LegacyBlock, error)
	CreateBlock(ctx context.Context, b *LegacyBlock) error
	DeleteBlock(ctx context.Context, id int64) error

	GetBookingByID(ctx context.Context, id uuid.UUID) (*Booking, error)
	GetBookingByToken(ctx context.Context, token string, now time.Time) (*Booking, error)

	// Conflict and quota checks
	ListConfirmedOverlapping(ctx context.Context, from, to time.Time, exclude *uuid.UUID) ([]Booking, error)
	ListConfirmedInRange(ctx context.Context, from, to time.Time) ([]Booking, error)
	ListUpcomingConfirmed(ctx context.Context, now time.Time) ([]Booking, error)
	CountActiveInMonth(ctx context.Context, clientID uuid.UUID, monthStart, monthEnd time.Time) (int, error)
	UsageByClient(ctx context.Context, monthStart, monthEnd time.Time) (map[uuid.UUID]int, error)

	// Mutations
	CreateBooking(ctx context.Context, b *Booking) error
	UpdateBookingSlot(ctx context.Context, id uuid.UUID, start, end time.Time, reason *string) (*Booking, error)
	CancelConfirmedBooking(ctx context.Context, id uuid.UUID, reason *string) (*Booking, error)
	SetManageToken(ctx context.Context, id uuid.UUID, token string, expiresAt time.Time) error
	ClearExpiredManageTokens(ctx context.Context, now time.Time) (int64, error)

	WithTx(ctx context.Context, fn func(Repository) error) error
}
