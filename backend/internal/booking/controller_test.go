package booking

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"regexp"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jacky-htg/ai-booking-agent/libs/config"
	"github.com/jacky-htg/ai-booking-agent/libs/respond"
	"github.com/jacky-htg/ai-booking-agent/libs/scheduling"
)

var clockRe = regexp.MustCompile(`\b\d{2}:\d{2}\b`)

// fakeBackend mimics the scheduling API and counts requests.
type fakeBackend struct {
	hits         atomic.Int32
	availability func(w http.ResponseWriter, r *http.Request)
	book         func(w http.ResponseWriter, r *http.Request, p scheduling.BookingPayload)
	lastPayload  atomic.Pointer[scheduling.BookingPayload]
}

func (f *fakeBackend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.hits.Add(1)
	switch r.URL.Path {
	case "/api/voice-agent/availability":
		f.availability(w, r)
	case "/api/voice-agent/book":
		var p scheduling.BookingPayload
		_ = json.NewDecoder(r.Body).Decode(&p)
		f.lastPayload.Store(&p)
		f.book(w, r, p)
	default:
		http.NotFound(w, r)
	}
}

func newController(t *testing.T, fb *fakeBackend, opts ...Option) *Controller {
	t.Helper()
	srv := httptest.NewServer(fb)
	t.Cleanup(srv.Close)
	api := scheduling.New(config.SchedulingConfig{BaseURL: srv.URL, APIKey: "k", Timeout: 2 * time.Second})
	c, err := New(BusinessContext{ID: "biz-42", Name: "Salon"}, api, opts...)
	require.NoError(t, err)
	return c
}

func jsonReply(status int, body string) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}
}

func TestNew_MissingBusinessIDMakesNoRequests(t *testing.T) {
	fb := &fakeBackend{}
	srv := httptest.NewServer(fb)
	defer srv.Close()
	api := scheduling.New(config.SchedulingConfig{BaseURL: srv.URL})

	c, err := New(BusinessContext{Name: "Salon"}, api)
	assert.Nil(t, c)
	assert.ErrorIs(t, err, ErrMissingBusinessID)

	_, err = New(BusinessContext{ID: "   "}, api)
	assert.ErrorIs(t, err, ErrMissingBusinessID)
	assert.Zero(t, fb.hits.Load())
}

func TestNew_DefaultsBusinessName(t *testing.T) {
	c, err := New(BusinessContext{ID: "biz"}, scheduling.New(config.SchedulingConfig{}))
	require.NoError(t, err)
	assert.Equal(t, DefaultBusinessName, c.Business().Name)
}

func TestCheckAvailability_OffersTimes(t *testing.T) {
	fb := &fakeBackend{availability: func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "biz-42", r.URL.Query().Get("businessId"))
		assert.Equal(t, "30", r.URL.Query().Get("duration"))
		jsonReply(http.StatusOK, `{"available":true,"slots":[
			{"startTime":"2024-06-01T09:00:00"},{"startTime":"2024-06-01T09:30:00"},
			{"startTime":"2024-06-01T10:00:00"},{"startTime":"2024-06-01T10:30:00"}]}`)(w, r)
	}}
	c := newController(t, fb)

	got := c.CheckAvailability(context.Background(), "2024-06-01", 0)
	assert.NotEmpty(t, got)
	assert.Equal(t, []string{"09:00", "09:30", "10:00"}, clockRe.FindAllString(got, -1))
}

func TestCheckAvailability_NotAvailable(t *testing.T) {
	fb := &fakeBackend{availability: jsonReply(http.StatusOK, `{"available":false,"slots":[]}`)}
	c := newController(t, fb)

	got := c.CheckAvailability(context.Background(), "2024-06-01", 60)
	assert.Contains(t, got, "different date")
	assert.Empty(t, clockRe.FindAllString(got, -1))
}

func TestCheckAvailability_BackendFailureIsFixedSentence(t *testing.T) {
	fb := &fakeBackend{availability: jsonReply(http.StatusServiceUnavailable, `{"error":"maintenance"}`)}
	c := newController(t, fb)

	for i := 0; i < 3; i++ {
		assert.Equal(t, respond.AvailabilityTrouble, c.CheckAvailability(context.Background(), "2024-06-01", 30))
	}
	assert.EqualValues(t, 3, fb.hits.Load())
}

func TestCheckAvailability_UnreachableBackend(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	c, err := New(BusinessContext{ID: "biz"}, scheduling.New(config.SchedulingConfig{BaseURL: base, Timeout: time.Second}))
	require.NoError(t, err)
	assert.Equal(t, respond.AvailabilityTrouble, c.CheckAvailability(context.Background(), "2024-06-01", 30))
}

func TestCheckAvailability_MalformedDateFailsClosed(t *testing.T) {
	fb := &fakeBackend{}
	c := newController(t, fb)

	for _, d := range []string{"", "tomorrow", "2024-13-01", "06/01/2024"} {
		assert.Equal(t, respond.AvailabilityTrouble, c.CheckAvailability(context.Background(), d, 30), d)
	}
	assert.Zero(t, fb.hits.Load())
}

func TestBookAppointment_Confirmed(t *testing.T) {
	fb := &fakeBackend{book: func(w http.ResponseWriter, r *http.Request, p scheduling.BookingPayload) {
		jsonReply(http.StatusCreated, `{"id":"appt-1"}`)(w, r)
	}}
	c := newController(t, fb)

	got := c.BookAppointment(context.Background(), scheduling.BookingRequest{
		Date: "2024-06-01", Time: "14:00", Service: "Haircut",
		CustomerName: "Jane Doe", CustomerPhone: "+15551234567", DurationMinutes: 30,
	})
	assert.Contains(t, got, "Haircut")
	assert.Contains(t, got, "2024-06-01")
	assert.Contains(t, got, "14:00")

	p := fb.lastPayload.Load()
	require.NotNil(t, p)
	assert.Equal(t, "biz-42", p.BusinessID)
	assert.Equal(t, "Jane Doe", p.CustomerName)
	assert.Equal(t, "+15551234567", p.CustomerPhone)
	assert.Equal(t, "2024-06-01T14:00:00", p.StartTime)
	assert.Equal(t, "2024-06-01T14:30:00", p.EndTime)
}

func TestBookAppointment_SlotConflict(t *testing.T) {
	fb := &fakeBackend{book: func(w http.ResponseWriter, r *http.Request, _ scheduling.BookingPayload) {
		jsonReply(http.StatusConflict, `{"error":"slot already booked"}`)(w, r)
	}}
	c := newController(t, fb)

	got := c.BookAppointment(context.Background(), scheduling.BookingRequest{
		Date: "2024-06-01", Time: "14:00", Service: "Haircut",
		CustomerName: "Jane Doe", CustomerPhone: "+15551234567", DurationMinutes: 30,
	})
	assert.Contains(t, got, "sorry")
	assert.Contains(t, got, "check availability again")
}

func TestBookAppointment_BackendDetailAndFallback(t *testing.T) {
	body := `{"error":"Service not offered"}`
	fb := &fakeBackend{book: func(w http.ResponseWriter, r *http.Request, _ scheduling.BookingPayload) {
		jsonReply(http.StatusBadRequest, body)(w, r)
	}}
	c := newController(t, fb)
	req := scheduling.BookingRequest{Date: "2024-06-01", Time: "14:00", Service: "Massage", CustomerName: "Jo", CustomerPhone: "1"}

	assert.Equal(t, "I'm sorry, I couldn't book that appointment. Service not offered.", c.BookAppointment(context.Background(), req))

	body = `{}`
	assert.Equal(t, respond.BookingTrouble, c.BookAppointment(context.Background(), req))
}

func TestBookAppointment_RequireIdentity(t *testing.T) {
	fb := &fakeBackend{}
	c := newController(t, fb)

	got := c.BookAppointment(context.Background(), scheduling.BookingRequest{Date: "2024-06-01", Time: "14:00", Service: "Haircut"})
	assert.Equal(t, respond.MissingIdentity(true, true), got)
	assert.Zero(t, fb.hits.Load())
}

func TestBookAppointment_PlaceholderIdentity(t *testing.T) {
	fb := &fakeBackend{book: func(w http.ResponseWriter, r *http.Request, _ scheduling.BookingPayload) {
		jsonReply(http.StatusCreated, `{}`)(w, r)
	}}
	c := newController(t, fb, WithBookingConfig(config.BookingConfig{
		IdentityPolicy:  config.IdentityPlaceholder,
		PlaceholderName: "Walk-in",
	}))

	got := c.BookAppointment(context.Background(), scheduling.BookingRequest{Date: "2024-06-01", Time: "9:15", Service: "Haircut"})
	assert.Contains(t, got, "09:15")

	p := fb.lastPayload.Load()
	require.NotNil(t, p)
	assert.Equal(t, "Walk-in", p.CustomerName)
	assert.Equal(t, "", p.CustomerPhone)
	assert.Equal(t, "2024-06-01T09:45:00", p.EndTime)
}

func TestBookAppointment_InvalidInputMakesNoRequest(t *testing.T) {
	fb := &fakeBackend{}
	c := newController(t, fb)

	assert.Equal(t, respond.InvalidBookingTime(), c.BookAppointment(context.Background(), scheduling.BookingRequest{
		Date: "2024-06-01", Time: "2pm", Service: "Haircut", CustomerName: "Jo", CustomerPhone: "1",
	}))
	assert.Equal(t, respond.MissingService(), c.BookAppointment(context.Background(), scheduling.BookingRequest{
		Date: "2024-06-01", Time: "14:00", CustomerName: "Jo", CustomerPhone: "1",
	}))
	assert.Zero(t, fb.hits.Load())
}

func TestBookingWindow(t *testing.T) {
	start, end, err := BookingWindow("2024-06-01", "14:00", 45)
	require.NoError(t, err)
	assert.Equal(t, "2024-06-01T14:00:00", start.Format(scheduling.LocalLayout))
	assert.Equal(t, "2024-06-01T14:45:00", end.Format(scheduling.LocalLayout))
	assert.True(t, end.After(start))

	_, end, err = BookingWindow("2024-06-01", "23:30", 60)
	require.NoError(t, err)
	assert.Equal(t, "2024-06-02T00:30:00", end.Format(scheduling.LocalLayout))

	_, _, err = BookingWindow("2024-06-01", "14:00", 0)
	assert.Error(t, err)
	_, _, err = BookingWindow("2024-06-31", "14:00", 30)
	assert.Error(t, err)
}

type panickingScheduler struct{}

func (panickingScheduler) QueryAvailability(context.Context, string, string, int) (scheduling.AvailabilityResult, error) {
	panic("unexpected payload")
}

func (panickingScheduler) CreateBooking(context.Context, scheduling.BookingPayload) (scheduling.BookingResult, error) {
	panic("unexpected payload")
}

func TestOperations_RecoverInternalFaults(t *testing.T) {
	c, err := New(BusinessContext{ID: "biz"}, panickingScheduler{})
	require.NoError(t, err)

	assert.Equal(t, respond.AvailabilityTrouble, c.CheckAvailability(context.Background(), "2024-06-01", 30))
	assert.Equal(t, respond.BookingTrouble, c.BookAppointment(context.Background(), scheduling.BookingRequest{
		Date: "2024-06-01", Time: "14:00", Service: "Haircut", CustomerName: "Jo", CustomerPhone: "1",
	}))
}

func TestParseMetadata(t *testing.T) {
	bc, err := ParseMetadata(`{"businessId":"b-1","businessName":"Glow Spa"}`)
	require.NoError(t, err)
	assert.Equal(t, BusinessContext{ID: "b-1", Name: "Glow Spa"}, bc)

	bc, err = ParseMetadata(`{"businessId":"b-1"}`)
	require.NoError(t, err)
	assert.Equal(t, DefaultBusinessName, bc.Name)

	for _, raw := range []string{"", "{}", `{"businessName":"x"}`, "not json"} {
		_, err := ParseMetadata(raw)
		assert.ErrorIs(t, err, ErrMissingBusinessID, raw)
	}

	round, err := ParseMetadata(BusinessContext{ID: "b-2", Name: "Barber"}.Metadata())
	require.NoError(t, err)
	assert.Equal(t, "b-2", round.ID)
}
