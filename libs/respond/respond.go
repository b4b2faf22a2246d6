// Package respond turns scheduling results into short sentences a caller can hear.
// Nothing here touches the network; every function is deterministic.
package respond

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/jacky-htg/ai-booking-agent/libs/scheduling"
)

// MaxOfferedTimes is how many slot times are read out at once.
const MaxOfferedTimes = 3

// maxDetailLen bounds backend text repeated to the caller.
const maxDetailLen = 160

// Fixed sentences used whenever a request cannot be answered.
const (
	AvailabilityTrouble = "I'm having trouble checking availability right now. Let me transfer you to our staff."
	BookingTrouble      = "I'm having trouble booking the appointment right now. Let me transfer you to our staff."
)

// Availability renders an availability lookup. Any error yields AvailabilityTrouble.
func Availability(res scheduling.AvailabilityResult, err error) string {
	if err != nil {
		return AvailabilityTrouble
	}
	if !res.Available {
		return "Sorry, there's nothing open on that date. Would you like to try a different date?"
	}

	times := OfferedTimes(res.Slots)
	if len(res.Slots) == 0 {
		return "There are openings that day, but I couldn't read the exact times. What time would you prefer?"
	}
	if len(times) == 0 {
		return fmt.Sprintf("There are %d open slots on that date. What time would you prefer?", len(res.Slots))
	}
	if len(times) == 1 {
		return fmt.Sprintf("I have an opening at %s. Would that time work for you?", times[0])
	}
	return fmt.Sprintf("I have openings at %s. Which time works best for you?", joinTimes(times))
}

// OfferedTimes returns up to MaxOfferedTimes distinct HH:MM start times, in backend order.
// Slots whose start cannot be read are skipped.
func OfferedTimes(slots []scheduling.Slot) []string {
	seen := make(map[string]bool, MaxOfferedTimes)
	out := make([]string, 0, MaxOfferedTimes)
	for _, s := range slots {
		clock, ok := s.Clock()
		if !ok || seen[clock] {
			continue
		}
		seen[clock] = true
		out = append(out, clock)
		if len(out) == MaxOfferedTimes {
			break
		}
	}
	return out
}

// Booking renders a booking outcome.
func Booking(res scheduling.BookingResult) string {
	if res.Success {
		return fmt.Sprintf("Great! Your %s appointment is confirmed for %s at %s. You'll receive a confirmation message shortly.",
			res.Service, res.Date, res.Time)
	}
	if res.Kind == scheduling.KindSlotConflict {
		return "I'm sorry, that time was just booked by someone else. Would you like me to check availability again?"
	}
	if detail := sanitize(res.Detail); detail != "" {
		return "I'm sorry, I couldn't book that appointment. " + detail
	}
	return BookingTrouble
}

// MissingIdentity asks the caller for whatever is still needed before booking.
func MissingIdentity(needName, needPhone bool) string {
	switch {
	case needName && needPhone:
		return "Before I book that, could I get your name and a phone number?"
	case needName:
		return "Before I book that, could I get your name?"
	default:
		return "Before I book that, could I get a phone number to reach you?"
	}
}

// MissingService asks which service the caller wants before booking.
func MissingService() string {
	return "Which service would you like to book?"
}

// InvalidBookingTime asks the caller to restate the date and time.
func InvalidBookingTime() string {
	return "I didn't quite catch the date and time. Could you tell me again which day and time you'd like?"
}

func joinTimes(times []string) string {
	switch len(times) {
	case 0:
		return ""
	case 1:
		return times[0]
	case 2:
		return times[0] + " and " + times[1]
	default:
		return strings.Join(times[:len(times)-1], ", ") + ", and " + times[len(times)-1]
	}
}

// sanitize keeps backend detail to one short sentence without control characters.
func sanitize(s string) string {
	s = strings.Map(func(r rune) rune {
		if unicode.IsControl(r) {
			return ' '
		}
		return r
	}, s)
	s = strings.Join(strings.Fields(s), " ")
	if len(s) > maxDetailLen {
		cut := strings.LastIndex(s[:maxDetailLen], " ")
		if cut <= 0 {
			cut = maxDetailLen
			for cut > 0 && !utf8.RuneStart(s[cut]) {
				cut--
			}
		}
		s = strings.TrimRight(s[:cut], " ,;:")
	}
	if s == "" {
		return ""
	}
	if !strings.HasSuffix(s, ".") && !strings.HasSuffix(s, "!") && !strings.HasSuffix(s, "?") {
		s += "."
	}
	first := []rune(s)
	first[0] = unicode.ToUpper(first[0])
	return string(first)
}
