package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/bcx0/agenda/internal/availability"
	"github.com/bcx0/agenda/internal/booking"
	"github.com/bcx0/agenda/internal/tz"
)

// Admin endpoints. Identity is verified upstream; these handlers only
// translate between JSON and the service.

func (h *Handler) AdminCancelBooking(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_booking_id", "id must be a valid UUID")
		return
	}

	var req CancelRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}
	}

	if err := h.svc.CancelBooking(r.Context(), id, req.Reason, false); err != nil {
		writeRejection(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
}

func (h *Handler) AdminRescheduleBooking(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_booking_id", "id must be a valid UUID")
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

	updated, err := h.svc.RescheduleBooking(r.Context(), id, start, end, req.Reason, false)
	if err != nil {
		writeRejection(w, err)
		return
	}
	writeJSON(w, http.StatusOK, bookingResponse(updated, false))
}

func (h *Handler) AdminEnsureManageToken(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_booking_id", "id must be a valid UUID")
		return
	}

	token, err := h.svc.EnsureManageToken(r.Context(), id)
	if err != nil {
		writeRejection(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"manage_token": token})
}

func (h *Handler) AdminMaterializeHold(w http.ResponseWriter, r *http.Request) {
	var req MaterializeHoldRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}

	clientID, err := uuid.Parse(req.ClientID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_client_id", "client_id must be a valid UUID")
		return
	}
	rng, err := parseTimeRange(TimeRange{Start: req.Start, End: req.End})
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_time_range", err.Error())
		return
	}

	result, err := h.svc.MaterializeRecurringHold(r.Context(), booking.MaterializeRequest{
		ClientID:    clientID,
		DayOfWeek:   req.DayOfWeek,
		StartMin:    rng.StartMin,
		EndMin:      rng.EndMin,
		Note:        req.Note,
		HorizonDays: req.HorizonDays,
	})
	if err != nil {
		writeRejection(w, err)
		return
	}
	writeJSON(w, http.StatusOK, MaterializeResponse{Created: result.Created, Skipped: result.Skipped})
}

// Weekly rules

func (h *Handler) AdminListRules(w http.ResponseWriter, r *http.Request) {
	rules, err := h.svc.WeeklyRules(r.Context())
	if err != nil {
		writeRejection(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rules)
}

func (h *Handler) AdminReplaceRulesForDay(w http.ResponseWriter, r *http.Request) {
	dayOfWeek, err := strconv.Atoi(chi.URLParam(r, "dayOfWeek"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_day", "dayOfWeek must be 1..7")
		return
	}

	var req ReplaceRulesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}
	ranges, err := parseTimeRanges(req.Ranges)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_time_range", err.Error())
		return
	}

	if err := h.svc.ReplaceWeeklyRules(r.Context(), dayOfWeek, ranges); err != nil {
		writeRejection(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) AdminDeleteRulesForDay(w http.ResponseWriter, r *http.Request) {
	dayOfWeek, err := strconv.Atoi(chi.URLParam(r, "dayOfWeek"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_day", "dayOfWeek must be 1..7")
		return
	}
	if err := h.svc.DeleteWeeklyRules(r.Context(), dayOfWeek); err != nil {
		writeRejection(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Date overrides

func (h *Handler) AdminListOverrides(w http.ResponseWriter, r *http.Request) {
	overrides, err := h.svc.Overrides(r.Context())
	if err != nil {
		writeRejection(w, err)
		return
	}
	writeJSON(w, http.StatusOK, overrides)
}

func (h *Handler) AdminCreateOverride(w http.ResponseWriter, r *http.Request) {
	var req OverrideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}

	date, err := h.parseDate(req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
		return
	}
	rng, err := parseTimeRange(TimeRange{Start: req.Start, End: req.End})
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_time_range", err.Error())
		return
	}

	o := &booking.DateOverride{
		Date:     date,
		StartMin: rng.StartMin,
		EndMin:   rng.EndMin,
		Kind:     availability.OverrideKind(req.Kind),
		Note:     req.Note,
	}
	if err := h.svc.CreateOverride(r.Context(), o); err != nil {
		writeRejection(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, o)
}

func (h *Handler) AdminDeleteOverride(w http.ResponseWriter, r *http.Request) {
	h.deleteByID(w, r, h.svc.DeleteOverride)
}

func (h *Handler) AdminSetOpenOverridesForDate(w http.ResponseWriter, r *http.Request) {
	date, err := h.parseDate(chi.URLParam(r, "date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
		return
	}

	var req ReplaceRulesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}
	ranges, err := parseTimeRanges(req.Ranges)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_time_range", err.Error())
		return
	}

	if err := h.svc.SetOpenOverridesForDate(r.Context(), date, ranges); err != nil {
		writeRejection(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) AdminClearOpenOverridesForDate(w http.ResponseWriter, r *http.Request) {
	date, err := h.parseDate(chi.URLParam(r, "date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
		return
	}
	if err := h.svc.ClearOpenOverridesForDate(r.Context(), date); err != nil {
		writeRejection(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Recurring holds

func (h *Handler) AdminListHolds(w http.ResponseWriter, r *http.Request) {
	holds, err := h.svc.Holds(r.Context())
	if err != nil {
		writeRejection(w, err)
		return
	}
	writeJSON(w, http.StatusOK, holds)
}

func (h *Handler) AdminCreateHold(w http.ResponseWriter, r *http.Request) {
	var req HoldRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}

	rng, err := parseTimeRange(TimeRange{Start: req.Start, End: req.End})
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_time_range", err.Error())
		return
	}

	hold := &booking.RecurringHold{
		DayOfWeek: req.DayOfWeek,
		StartMin:  rng.StartMin,
		EndMin:    rng.EndMin,
		Note:      req.Note,
	}
	if req.ClientID != nil {
		clientID, err := uuid.Parse(*req.ClientID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_client_id", "client_id must be a valid UUID")
			return
		}
		hold.ClientID = &clientID
	}

	if err := h.svc.CreateHold(r.Context(), hold); err != nil {
		writeRejection(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, hold)
}

func (h *Handler) AdminDeleteHold(w http.ResponseWriter, r *http.Request) {
	h.deleteByID(w, r, h.svc.DeleteHold)
}

// Legacy blocks

func (h *Handler) AdminListBlocks(w http.ResponseWriter, r *http.Request) {
	blocks, err := h.svc.Blocks(r.Context())
	if err != nil {
		writeRejection(w, err)
		return
	}
	writeJSON(w, http.StatusOK, blocks)
}

func (h *Handler) AdminCreateBlock(w http.ResponseWriter, r *http.Request) {
	var req BlockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}

	start, err := time.Parse(time.RFC3339, req.Start)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_start", "start must be RFC 3339")
		return
	}
	end, err := time.Parse(time.RFC3339, req.End)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_end", "end must be RFC 3339")
		return
	}

	block, err := h.svc.CreateLegacyBlock(r.Context(), start, end, req.Reason)
	if err != nil {
		writeRejection(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, block)
}

func (h *Handler) AdminDeleteBlock(w http.ResponseWriter, r *http.Request) {
	h.deleteByID(w, r, h.svc.DeleteBlock)
}

// Settings and quota overview

func (h *Handler) AdminGetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := h.svc.Settings(r.Context())
	if err != nil {
		writeRejection(w, err)
		return
	}
	writeJSON(w, http.StatusOK, SettingsPayload{
		Location:           string(settings.Location),
		DefaultMode:        string(settings.DefaultMode),
		PresentielLocation: settings.PresentielLocation,
		PresentielNote:     settings.PresentielNote,
	})
}

func (h *Handler) AdminUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var req SettingsPayload
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
		return
	}

	err := h.svc.UpdateSettings(r.Context(), booking.Settings{
		Location:           booking.Location(req.Location),
		DefaultMode:        booking.Mode(req.DefaultMode),
		PresentielLocation: req.PresentielLocation,
		PresentielNote:     req.PresentielNote,
	})
	if err != nil {
		writeRejection(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) AdminQuotaUsage(w http.ResponseWriter, r *http.Request) {
	usage, err := h.svc.QuotaUsage(r.Context())
	if err != nil {
		writeRejection(w, err)
		return
	}

	resp := make(map[string]int, len(usage))
	for id, count := range usage {
		resp[id.String()] = count
	}
	writeJSON(w, http.StatusOK, resp)
}

// Helpers

func (h *Handler) deleteByID(w http.ResponseWriter, r *http.Request, del func(ctx context.Context, id int64) error) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_id", "id must be an integer")
		return
	}
	if err := del(r.Context(), id); err != nil {
		writeRejection(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) parseDate(value string) (time.Time, error) {
	return time.ParseInLocation("2006-01-02", value, h.zones.Primary)
}

func parseTimeRange(r TimeRange) (booking.MinuteRange, error) {
	start, err := tz.ParseHHMM(r.Start)
	if err != nil {
		return booking.MinuteRange{}, err
	}
	end, err := tz.ParseHHMM(r.End)
	if err != nil {
		return booking.MinuteRange{}, err
	}
	return booking.MinuteRange{StartMin: start, EndMin: end}, nil
}

func parseTimeRanges(ranges []TimeRange) ([]booking.MinuteRange, error) {
	out := make([]booking.MinuteRange, 0, len(ranges))
	for _, r := range ranges {
		rng, err := parseTimeRange(r)
		if err != nil {
			return nil, err
		}
		out = append(out, rng)
	}
	return out, nil
}
