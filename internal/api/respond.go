package api

import (
	"encoding/json"
	"net/http"

	"github.com/bcx0/agenda/internal/booking"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}

// writeRejection maps the booking taxonomy onto HTTP statuses. Anything
// that is not a Rejection is an internal failure and stays opaque.
func writeRejection(w http.ResponseWriter, err error) {
	r, ok := booking.AsRejection(err)
	if !ok {
		writeError(w, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	writeError(w, rejectionStatus(r.Code), string(r.Code), r.Msg)
}

func rejectionStatus(code booking.RejectCode) int {
	switch code {
	case booking.RejectInvalidSlot:
		return http.StatusBadRequest
	case booking.RejectOutOfHours:
		return http.StatusUnprocessableEntity
	case booking.RejectNotFound:
		return http.StatusNotFound
	case booking.RejectInactiveClient:
		return http.StatusForbidden
	case booking.RejectBlocked,
		booking.RejectConflict,
		booking.RejectQuotaExceeded,
		booking.RejectInvalidTransition,
		booking.RejectTooLate:
		return http.StatusConflict
	default:
		return http.StatusBadRequest
	}
}
