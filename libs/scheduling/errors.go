package scheduling

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ErrorKind classifies a failed scheduling operation.
type ErrorKind string

const (
	KindSlotConflict       ErrorKind = "slot_conflict"
	KindInvalidInput       ErrorKind = "invalid_input"
	KindBackendUnavailable ErrorKind = "backend_unavailable"
	KindUnknown            ErrorKind = "unknown"
)

// Error is returned by every Client operation that did not succeed.
// Detail is the backend-provided message, if any.
type Error struct {
	Kind   ErrorKind
	Status int
	Detail string
	Err    error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	if e.Status != 0 {
		fmt.Fprintf(&b, " (status %d)", e.Status)
	}
	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// KindOf extracts the classification of err, KindUnknown for foreign errors.
func KindOf(err error) ErrorKind {
	var se *Error
	if errors.As(err, &se) {
		return se.Kind
	}
	return KindUnknown
}

// DetailOf returns the backend message carried by err, if any.
func DetailOf(err error) string {
	var se *Error
	if errors.As(err, &se) {
		return se.Detail
	}
	return ""
}

// classifyBooking maps a rejected booking to an ErrorKind. A structured code wins;
// the "booked" substring match stays for backends that only send a message.
func classifyBooking(status int, code, message string) ErrorKind {
	switch strings.ToUpper(strings.TrimSpace(code)) {
	case "SLOT_CONFLICT", "SLOT_TAKEN", "ALREADY_BOOKED":
		return KindSlotConflict
	case "INVALID_INPUT", "VALIDATION_ERROR":
		return KindInvalidInput
	}
	if strings.Contains(strings.ToLower(message), "booked") {
		return KindSlotConflict
	}
	switch {
	case status == http.StatusConflict:
		return KindSlotConflict
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return KindInvalidInput
	case status >= 500:
		return KindBackendUnavailable
	default:
		return KindUnknown
	}
}
