package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/bcx0/agenda/internal/booking"
	"github.com/bcx0/agenda/internal/tz"
)

type Handler struct {
	svc   *booking.Service
	zones *tz.Zones
}

func NewHandler(svc *booking.Service, zones *tz.Zones) *Handler {
	return &Handler{svc: svc, zones: zones}
}

func (h *Handler) ListSlots(w http.ResponseWriter, r *http.Request) {
	slots, err := h.svc.ListSlots(r.Context())
	if err != nil {
		writeRejection(w, err)
		return
	}

	resp := make([]SlotResponse, 0, len(slots))
	for _, s := range slots {
		resp = append(resp, SlotResponse{
			Start:         s.Start,
			End:           s.End,
			Status:        string(s.Status),
			Label:         s.Label,
			PrimaryTime:   s.Primary,
			SecondaryTime: s.Secondary,
			Mode:          string(s.Mode),
			Location:      string(s.Location),
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) CreateBooking(w http.ResponseWriter, r *http.Request) {
	var req CreateBookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}

	clientID, err := uuid.Parse(req.ClientID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_client_id", "client_id must be a valid UUID")
		return
	}
	start, err := time.Parse(time.RFC3339, req.Start)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_start", "start must be RFC 3339")
		return
	}
	end := start.Add(tz.SlotMinutes * time.Minute)

	b, err := h.svc.CreateBooking(r.Context(), clientID, start, end)
	if err != nil {
		writeRejection(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, bookingResponse(b, true))
}

func (h *Handler) QuotaStatus(w http.ResponseWriter, r *http.Request) {
	clientID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_client_id", "id must be a valid UUID")
		return
	}

	quota, err := h.svc.QuotaStatus(r.Context(), clientID)
	if err != nil {
		writeRejection(w, err)
		return
	}
	writeJSON(w, http.StatusOK, QuotaResponse{Used: quota.Used, Limit: quota.Limit})
}

func (h *Handler) ManageGet(w http.ResponseWriter, r *http.Request) {
	b, err := h.svc.BookingByToken(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		writeRejection(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bookingResponse(b, false))
}

func (h *Handler) ManageCancel(w http.ResponseWriter, r *http.Request) {
	b, err := h.svc.BookingByToken(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		writeRejection(w, err)
		return
	}

	var req CancelRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
	}

	if err := h.svc.CancelBooking(r.Context(), b.ID, req.Reason, true); err != nil {
		writeRejection(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

func (h *Handler) ManageReschedule(w http.ResponseWriter, r *http.Request) {
	b, err := h.svc.BookingByToken(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		writeRejection(w, err)
		return
	}

	var req RescheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}
	start, err := time.Parse(time.RFC3339, req.Start)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_start", "start must be RFC 3339")
		return
	}
	end := start.Add(tz.SlotMinutes * time.Minute)

	updated, err := h.svc.RescheduleBooking(r.Context(), b.ID, start, end, req.Reason, true)
	if err != nil {
		writeRejection(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bookingResponse(updated, false))
}

// CalendarFeed lists confirmed future bookings for the calendar exporter.
func (h *Handler) CalendarFeed(w http.ResponseWriter, r *http.Request) {
	bookings, err := h.svc.UpcomingConfirmed(r.Context())
	if err != nil {
		writeRejection(w, err)
		return
	}

	resp := make([]BookingResponse, 0, len(bookings))
	for i := range bookings {
		resp = append(resp, bookingResponse(&bookings[i], false))
	}
	writeJSON(w, http.StatusOK, resp)
}

func bookingResponse(b *booking.Booking, includeToken bool) BookingResponse {
	resp := BookingResponse{
		ID:       b.ID,
		ClientID: b.ClientID,
		StartAt:  b.StartAt,
		EndAt:    b.EndAt,
		Status:   string(b.Status),
		Mode:     string(b.Mode),
	}
	if includeToken {
		resp.ManageToken = b.ManageToken
	}
	return resp
}
