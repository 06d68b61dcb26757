package booking

import (
	"time"

	"github.com/google/uuid"

	"github.com/bcx0/agenda/internal/availability"
)

type BookingStatus string

const (
	StatusConfirmed BookingStatus = "CONFIRMED"
	StatusCancelled BookingStatus = "CANCELLED"
	StatusNoShow    BookingStatus = "NO_SHOW"
	StatusDone      BookingStatus = "DONE"
)

type Mode string

const (
	ModeVisio      Mode = "VISIO"
	ModePresentiel Mode = "PRESENTIEL"
)

type Location string

const (
	LocationMiami   Location = "MIAMI"
	LocationBelgium Location = "BELGIUM"
)

// Working windows used when no weekly rule and no OPEN override exist
// anywhere. Hours are local to the settings location's zone of reference;
// the Miami window is wider because sessions run from both sides of the
// Atlantic.
const (
	MiamiWorkStartMin   = 7 * 60
	MiamiWorkEndMin     = 21 * 60
	BelgiumWorkStartMin = 9 * 60
	BelgiumWorkEndMin   = 19 * 60
)

type Client struct {
	ID              uuid.UUID
	Name            string
	Email           string
	CreditsPerMonth int
	IsActive        bool
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Settings is the singleton admin configuration. It is loaded once per
// request and passed down explicitly; nothing below the service reads it.
type Settings struct {
	Location           Location
	DefaultMode        Mode
	PresentielLocation string
	PresentielNote     *string
}

func DefaultSettings() Settings {
	return Settings{
		Location:           LocationMiami,
		DefaultMode:        ModeVisio,
		PresentielLocation: "Vander Valk",
	}
}

// WeeklyRule opens a recurring window on a weekday. Several rules on the
// same weekday form a union of ranges; rules are replaced per weekday, never
// updated in place.
type WeeklyRule struct {
	ID        int64
	DayOfWeek int // ISO, Monday=1
	StartMin  int
	EndMin    int
}

// DateOverride is a date-specific window. Kind OPEN replaces that day's
// weekly rules; kind BLOCK subtracts from whatever is active.
type DateOverride struct {
	ID       int64
	Date     time.Time // midnight of the day in the primary zone
	StartMin int
	EndMin   int
	Kind     availability.OverrideKind
	Note     *string
}

// RecurringHold is a weekly-recurring subtraction, optionally tied to the
// client it is reserved for.
type RecurringHold struct {
	ID        int64
	DayOfWeek int
	StartMin  int
	EndMin    int
	ClientID  *uuid.UUID
	Note      *string
}

// LegacyBlock is an absolute-instant ad-hoc subtraction kept for backward
// compatibility with the pre-rules schedule.
type LegacyBlock struct {
	ID      int64
	StartAt time.Time
	EndAt   time.Time
	Reason  *string
}

type Booking struct {
	ID                   uuid.UUID
	ClientID             uuid.UUID
	StartAt              time.Time
	EndAt                time.Time
	Status               BookingStatus
	Mode                 Mode
	ManageToken          *string
	ManageTokenExpiresAt *time.Time
	CancelReason         *string
	RescheduleReason     *string
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// SlotView is one row of the public slot list.
type SlotView struct {
	Start              time.Time
	End                time.Time
	Status             availability.Status
	Label              string
	Primary            string // HH:MM in the authoritative zone
	Secondary          string // HH:MM in the secondary display zone
	Mode               Mode
	Location           Location
	PresentielLocation string
	PresentielNote     *string
}

type QuotaStatus struct {
	Used  int
	Limit int
}

// MinuteRange is an admin-supplied [start, end) window in minutes of day.
type MinuteRange struct {
	StartMin int
	EndMin   int
}

// MaterializeRequest asks for every future occurrence of a weekly hold to
// be committed as a confirmed booking for the given client.
type MaterializeRequest struct {
	ClientID    uuid.UUID
	DayOfWeek   int
	StartMin    int
	EndMin      int
	Note        *string
	HorizonDays int
}

type MaterializeResult struct {
	Created int
	Skipped int
}
