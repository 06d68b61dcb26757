package booking

import "errors"

// Infrastructure-level sentinels, distinct from validation rejections so
// callers can tell "your request was invalid" from "the system failed".
var (
	ErrClientNotFound  = errors.New("client not found")
	ErrBookingNotFound = errors.New("booking not found")
)

type RejectCode string

const (
	RejectInvalidSlot       RejectCode = "invalid_slot"
	RejectOutOfHours        RejectCode = "out_of_hours"
	RejectBlocked           RejectCode = "blocked"
	RejectConflict          RejectCode = "conflict"
	RejectQuotaExceeded     RejectCode = "quota_exceeded"
	RejectNotFound          RejectCode = "not_found"
	RejectInvalidTransition RejectCode = "invalid_transition"
	RejectInactiveClient    RejectCode = "inactive_client"
	RejectTooLate           RejectCode = "too_late"
)

// Rejection is a validation failure with a machine-checkable code. Every
// public operation either succeeds or returns one of these; anything else
// coming out of the service is an internal failure.
type Rejection struct {
	Code RejectCode
	Msg  string
}

func (r *Rejection) Error() string {
	return string(r.Code) + ": " + r.Msg
}

func reject(code RejectCode, msg string) error {
	return &Rejection{Code: code, Msg: msg}
}

// AsRejection unwraps err into a Rejection if it is one.
func AsRejection(err error) (*Rejection, bool) {
	var r *Rejection
	if errors.As(err, &r) {
		return r, true
	}
	return nil, false
}
