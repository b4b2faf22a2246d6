package tools

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jacky-htg/ai-booking-agent/libs/scheduling"
)

type recordingTools struct {
	date     string
	duration int
	booked   *scheduling.BookingRequest
}

func (r *recordingTools) CheckAvailability(_ context.Context, date string, duration int) string {
	r.date, r.duration = date, duration
	return "checked " + date
}

func (r *recordingTools) BookAppointment(_ context.Context, req scheduling.BookingRequest) string {
	r.booked = &req
	return "booked " + req.Service
}

func TestDefinitions(t *testing.T) {
	d := NewDispatcher(&recordingTools{})
	defs := d.Definitions()
	require.Len(t, defs, 2)
	assert.Equal(t, BookAppointment, defs[0].Name)
	assert.Equal(t, CheckAvailability, defs[1].Name)

	b, err := json.Marshal(defs[0])
	require.NoError(t, err)
	assert.Contains(t, string(b), `"required":["date","time","service","customer_name","customer_phone"]`)
}

func TestDispatch_CheckAvailability(t *testing.T) {
	rt := &recordingTools{}
	d := NewDispatcher(rt)

	res := d.Dispatch(context.Background(), Call{Name: CheckAvailability, Arguments: json.RawMessage(`{"date":"2024-06-01","duration_minutes":"45"}`)})
	require.NoError(t, res.Err)
	assert.Equal(t, "checked 2024-06-01", res.Output)
	assert.Equal(t, 45, rt.duration)

	res = d.Dispatch(context.Background(), Call{Name: CheckAvailability, Arguments: json.RawMessage(`{"date":"2024-06-02"}`)})
	require.NoError(t, res.Err)
	assert.Equal(t, 0, rt.duration)
}

func TestDispatch_BookAppointment(t *testing.T) {
	rt := &recordingTools{}
	d := NewDispatcher(rt)

	args := `{"date":"2024-06-01","time":"14:00","service":"Haircut","customer_name":"Jane Doe","customer_phone":"+15551234567","duration_minutes":45}`
	res := d.Dispatch(context.Background(), Call{Name: BookAppointment, Arguments: json.RawMessage(args)})
	require.NoError(t, res.Err)
	assert.Equal(t, "booked Haircut", res.Output)
	require.NotNil(t, rt.booked)
	assert.Equal(t, scheduling.BookingRequest{
		Date: "2024-06-01", Time: "14:00", Service: "Haircut",
		CustomerName: "Jane Doe", CustomerPhone: "+15551234567", DurationMinutes: 45,
	}, *rt.booked)
}

func TestDispatch_FailuresStaySpeakable(t *testing.T) {
	rt := &recordingTools{}
	d := NewDispatcher(rt)

	res := d.Dispatch(context.Background(), Call{Name: "cancel_everything"})
	assert.Error(t, res.Err)
	assert.Equal(t, unknownToolReply, res.Output)

	res = d.Dispatch(context.Background(), Call{Name: CheckAvailability, Arguments: json.RawMessage(`{"date":`)})
	assert.Error(t, res.Err)
	assert.Equal(t, badArgsReply, res.Output)

	res = d.Dispatch(context.Background(), Call{Name: CheckAvailability, Arguments: json.RawMessage(`{"duration_minutes":"half an hour"}`)})
	assert.Error(t, res.Err)
	assert.Empty(t, rt.date)
}
