package api

import (
	"time"

	"github.com/google/uuid"
)

type CreateBookingRequest struct {
	ClientID string `json:"client_id"`
	Start    string `json:"start"` // RFC 3339; the slot always lasts one hour
}

type RescheduleRequest struct {
	Start  string  `json:"start"`
	Reason *string `json:"reason,omitempty"`
}

type CancelRequest struct {
	Reason *string `json:"reason,omitempty"`
}

type MaterializeHoldRequest struct {
	ClientID    string  `json:"client_id"`
	DayOfWeek   int     `json:"day_of_week"`
	Start       string  `json:"start"` // HH:MM
	End         string  `json:"end"`   // HH:MM
	Note        *string `json:"note,omitempty"`
	HorizonDays int     `json:"horizon_days,omitempty"`
}

type TimeRange struct {
	Start string `json:"start"` // HH:MM
	End   string `json:"end"`   // HH:MM
}

type ReplaceRulesRequest struct {
	Ranges []TimeRange `json:"ranges"`
}

type OverrideRequest struct {
	Date  string  `json:"date"` // 2006-01-02, primary-zone calendar date
	Start string  `json:"start"`
	End   string  `json:"end"`
	Kind  string  `json:"kind"` // OPEN or BLOCK
	Note  *string `json:"note,omitempty"`
}

type HoldRequest struct {
	DayOfWeek int     `json:"day_of_week"`
	Start     string  `json:"start"`
	End       string  `json:"end"`
	ClientID  *string `json:"client_id,omitempty"`
	Note      *string `json:"note,omitempty"`
}

type BlockRequest struct {
	Start  string  `json:"start"` // RFC 3339
	End    string  `json:"end"`
	Reason *string `json:"reason,omitempty"`
}

type SettingsPayload struct {
	Location           string  `json:"location"`
	DefaultMode        string  `json:"default_mode"`
	PresentielLocation string  `json:"presentiel_location"`
	PresentielNote     *string `json:"presentiel_note,omitempty"`
}

type SlotResponse struct {
	Start         time.Time `json:"start"`
	End           time.Time `json:"end"`
	Status        string    `json:"status"`
	Label         string    `json:"label"`
	PrimaryTime   string    `json:"primary_time"`
	SecondaryTime string    `json:"secondary_time"`
	Mode          string    `json:"mode"`
	Location      string    `json:"location"`
}

type BookingResponse struct {
	ID          uuid.UUID `json:"id"`
	ClientID    uuid.UUID `json:"client_id"`
	StartAt     time.Time `json:"start_at"`
	EndAt       time.Time `json:"end_at"`
	Status      string    `json:"status"`
	Mode        string    `json:"mode"`
	ManageToken *string   `json:"manage_token,omitempty"`
}

type QuotaResponse struct {
	Used  int `json:"used"`
	Limit int `json:"limit"`
}

type MaterializeResponse struct {
	Created int `json:"created"`
	Skipped int `json:"skipped"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
