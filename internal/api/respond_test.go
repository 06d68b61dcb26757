package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bcx0/agenda/internal/booking"
)

func TestWriteRejection_StatusMapping(t *testing.T) {
	cases := []struct {
		code booking.RejectCode
		want int
	}{
		{booking.RejectInvalidSlot, http.StatusBadRequest},
		{booking.RejectOutOfHours, http.StatusUnprocessableEntity},
		{booking.RejectNotFound, http.StatusNotFound},
		{booking.RejectInactiveClient, http.StatusForbidden},
		{booking.RejectBlocked, http.StatusConflict},
		{booking.RejectConflict, http.StatusConflict},
		{booking.RejectQuotaExceeded, http.StatusConflict},
		{booking.RejectInvalidTransition, http.StatusConflict},
		{booking.RejectTooLate, http.StatusConflict},
	}

	for _, tc := range cases {
		rec := httptest.NewRecorder()
		writeRejection(rec, &booking.Rejection{Code: tc.code, Msg: "nope"})

		if rec.Code != tc.want {
			t.Errorf("%s: status = %d, want %d", tc.code, rec.Code, tc.want)
		}

		var body ErrorResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("%s: decode body: %v", tc.code, err)
		}
		if body.Error != string(tc.code) {
			t.Errorf("%s: error field = %q", tc.code, body.Error)
		}
	}
}

func TestWriteRejection_OpaqueInternalError(t *testing.T) {
	rec := httptest.NewRecorder()
	writeRejection(rec, errors.New("pg down"))

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}

	var body ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Error != "internal_error" {
		t.Fatalf("error field = %q", body.Error)
	}
}
