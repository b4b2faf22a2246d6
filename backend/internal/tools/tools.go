// Package tools exposes the booking operations to a dialog layer as named, schema-described
// tools and routes tool calls to them.
package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/jacky-htg/ai-booking-agent/libs/interfaces"
	"github.com/jacky-htg/ai-booking-agent/libs/scheduling"
)

const (
	CheckAvailability = "check_availability"
	BookAppointment   = "book_appointment"
)

// Spoken when a tool call cannot be understood at all.
const (
	unknownToolReply = "Sorry, I can't help with that over the phone. Let me transfer you to our staff."
	badArgsReply     = "Sorry, I didn't catch all of the details. Could you repeat them?"
)

// Definition describes a tool for LLM function calling.
type Definition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Call is one tool invocation requested by the dialog layer.
type Call struct {
	Name      string          `json:"tool"`
	Arguments json.RawMessage `json:"arguments"`
}

// Result pairs the spoken output with the reason a call was not executed, if any.
type Result struct {
	Name   string
	Output string
	Err    error
}

type handler func(ctx context.Context, args json.RawMessage) (string, error)

// Dispatcher routes tool calls to a BookingTools implementation.
type Dispatcher struct {
	defs     map[string]Definition
	handlers map[string]handler
}

// NewDispatcher registers check_availability and book_appointment backed by bt.
func NewDispatcher(bt interfaces.BookingTools) *Dispatcher {
	if bt == nil {
		panic("tools: booking tools must not be nil")
	}
	d := &Dispatcher{defs: map[string]Definition{}, handlers: map[string]handler{}}

	d.register(Definition{
		Name:        CheckAvailability,
		Description: "Check which appointment times are open on a date.",
		Parameters: object(map[string]any{
			"date":             prop("string", "Date in YYYY-MM-DD format"),
			"duration_minutes": prop("integer", "Appointment length in minutes, default 30"),
		}, "date"),
	}, func(ctx context.Context, raw json.RawMessage) (string, error) {
		var a struct {
			Date     string  `json:"date"`
			Duration flexInt `json:"duration_minutes"`
		}
		if err := decodeArgs(raw, &a); err != nil {
			return "", err
		}
		return bt.CheckAvailability(ctx, a.Date, int(a.Duration)), nil
	})

	d.register(Definition{
		Name:        BookAppointment,
		Description: "Book an appointment for the caller once they have confirmed the details.",
		Parameters: object(map[string]any{
			"date":             prop("string", "Date in YYYY-MM-DD format"),
			"time":             prop("string", "Time in HH:MM format (24-hour)"),
			"service":          prop("string", "Service name (e.g., 'Haircut', 'Massage')"),
			"customer_name":    prop("string", "Customer's full name"),
			"customer_phone":   prop("string", "Customer's phone number"),
			"duration_minutes": prop("integer", "Appointment length in minutes, default 30"),
			"notes":            prop("string", "Anything the business should know"),
		}, "date", "time", "service", "customer_name", "customer_phone"),
	}, func(ctx context.Context, raw json.RawMessage) (string, error) {
		var a struct {
			scheduling.BookingRequest
			Duration flexInt `json:"duration_minutes"`
		}
		if err := decodeArgs(raw, &a); err != nil {
			return "", err
		}
		req := a.BookingRequest
		req.DurationMinutes = int(a.Duration)
		return bt.BookAppointment(ctx, req), nil
	})

	return d
}

func (d *Dispatcher) register(def Definition, h handler) {
	d.defs[def.Name] = def
	d.handlers[def.Name] = h
}

// Definitions lists the registered tools sorted by name.
func (d *Dispatcher) Definitions() []Definition {
	out := make([]Definition, 0, len(d.defs))
	for _, def := range d.defs {
		out = append(out, def)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Dispatch runs call. Output is always speakable; Err is set when the call was not executed.
func (d *Dispatcher) Dispatch(ctx context.Context, call Call) Result {
	name := strings.TrimSpace(call.Name)
	h, ok := d.handlers[name]
	if !ok {
		return Result{Name: name, Output: unknownToolReply, Err: fmt.Errorf("unknown tool: %q", name)}
	}
	out, err := h(ctx, call.Arguments)
	if err != nil {
		return Result{Name: name, Output: badArgsReply, Err: fmt.Errorf("tool %s: %w", name, err)}
	}
	return Result{Name: name, Output: out}
}

func decodeArgs(raw json.RawMessage, v any) error {
	if len(bytes.TrimSpace(raw)) == 0 {
		raw = json.RawMessage("{}")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode arguments: %w", err)
	}
	return nil
}

func object(props map[string]any, required ...string) map[string]any {
	return map[string]any{"type": "object", "properties": props, "required": required}
}

func prop(typ, desc string) map[string]any {
	return map[string]any{"type": typ, "description": desc}
}

// flexInt accepts 45, 45.0 or "45"; models are not consistent about argument types.
type flexInt int

func (f *flexInt) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	n, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return fmt.Errorf("not a number: %s", s)
	}
	*f = flexInt(n)
	return nil
}
