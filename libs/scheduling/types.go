package scheduling

import (
	"regexp"
	"time"
)

// LocalLayout is the naive local timestamp format used for booking start/end times.
const LocalLayout = "2006-01-02T15:04:05"

// Slot is a bookable interval returned by the backend.
type Slot struct {
	StartTime string `json:"startTime"`
	EndTime   string `json:"endTime,omitempty"`
}

// AvailabilityResult is the decoded 2xx availability response.
type AvailabilityResult struct {
	Available bool   `json:"available"`
	Slots     []Slot `json:"slots"`
}

// BookingPayload is the body of POST /api/voice-agent/book.
type BookingPayload struct {
	BusinessID    string `json:"businessId"`
	CustomerName  string `json:"customerName"`
	CustomerPhone string `json:"customerPhone"`
	Service       string `json:"service"`
	StartTime     string `json:"startTime"`
	EndTime       string `json:"endTime"`
	Notes         string `json:"notes"`
}

// BookingResult describes the outcome of a booking attempt. On success Date, Time and
// Service echo what was booked; on failure Kind and Detail explain why.
type BookingResult struct {
	Success   bool
	BookingID string
	Date      string
	Time      string
	Service   string
	Kind      ErrorKind
	Detail    string
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	LocalLayout,
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

var clockPattern = regexp.MustCompile(`[T ](\d{2}:\d{2})`)

// Clock returns the HH:MM time of day of the slot start as written by the backend,
// without converting between zones.
func (s Slot) Clock() (string, bool) {
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s.StartTime); err == nil {
			return t.Format("15:04"), true
		}
	}
	if m := clockPattern.FindStringSubmatch(s.StartTime); m != nil {
		return m[1], true
	}
	return "", false
}

// BookingRequest is what the dialog layer hands over when the caller wants to book.
// Date is YYYY-MM-DD and Time is HH:MM (24-hour).
type BookingRequest struct {
	Date            string `json:"date"`
	Time            string `json:"time"`
	Service         string `json:"service"`
	CustomerName    string `json:"customer_name"`
	CustomerPhone   string `json:"customer_phone"`
	DurationMinutes int    `json:"duration_minutes"`
	Notes           string `json:"notes,omitempty"`
}
