package booking

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/jacky-htg/ai-booking-agent/libs/config"
	"github.com/jacky-htg/ai-booking-agent/libs/interfaces"
	"github.com/jacky-htg/ai-booking-agent/libs/logging"
	"github.com/jacky-htg/ai-booking-agent/libs/metrics"
	"github.com/jacky-htg/ai-booking-agent/libs/respond"
	"github.com/jacky-htg/ai-booking-agent/libs/scheduling"
)

// Tool names as registered with the dialog layer.
const (
	ToolCheckAvailability = "check_availability"
	ToolBookAppointment   = "book_appointment"
)

const defaultDuration = 30

// Scheduler is the subset of the scheduling client the controller uses.
type Scheduler interface {
	QueryAvailability(ctx context.Context, businessID, date string, durationMinutes int) (scheduling.AvailabilityResult, error)
	CreateBooking(ctx context.Context, p scheduling.BookingPayload) (scheduling.BookingResult, error)
}

// Controller runs the booking tools for one call. It holds nothing but the call's business
// identity and its collaborators, so any dispatch policy may call either operation at any time.
type Controller struct {
	business        BusinessContext
	api             Scheduler
	log             *zap.Logger
	identityPolicy  string
	placeholderName string
	defaultDuration int
}

var _ interfaces.BookingTools = (*Controller)(nil)

type Option func(*Controller)

func WithLogger(l *zap.Logger) Option {
	return func(c *Controller) { c.log = logging.OrNop(l) }
}

// WithBookingConfig applies the identity policy and default duration from configuration.
func WithBookingConfig(cfg config.BookingConfig) Option {
	return func(c *Controller) {
		if cfg.IdentityPolicy != "" {
			c.identityPolicy = cfg.IdentityPolicy
		}
		if cfg.PlaceholderName != "" {
			c.placeholderName = cfg.PlaceholderName
		}
		if cfg.DefaultDuration > 0 {
			c.defaultDuration = cfg.DefaultDuration
		}
	}
}

// New builds a controller for one call. A missing business id is fatal and no request is made.
func New(bc BusinessContext, api Scheduler, opts ...Option) (*Controller, error) {
	bc, err := bc.normalize()
	if err != nil {
		return nil, err
	}
	if api == nil {
		return nil, errors.New("booking: scheduler is required")
	}
	c := &Controller{
		business:        bc,
		api:             api,
		log:             zap.NewNop(),
		identityPolicy:  config.IdentityRequire,
		placeholderName: "Unknown",
		defaultDuration: defaultDuration,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.log = c.log.With(zap.String("business_id", bc.ID))
	return c, nil
}

// Business returns the call's business identity.
func (c *Controller) Business() BusinessContext { return c.business }

// CheckAvailability looks up open slots on date (YYYY-MM-DD). It always returns a sentence.
func (c *Controller) CheckAvailability(ctx context.Context, date string, durationMinutes int) (reply string) {
	defer c.recoverTo(ToolCheckAvailability, &reply, respond.AvailabilityTrouble)

	date = strings.TrimSpace(date)
	if _, err := time.Parse(time.DateOnly, date); err != nil {
		c.log.Warn("check availability: malformed date", zap.String("date", date))
		metrics.RecordTool(ToolCheckAvailability, "invalid_date")
		return respond.AvailabilityTrouble
	}
	durationMinutes = c.duration(durationMinutes)

	started := time.Now()
	res, err := c.api.QueryAvailability(ctx, c.business.ID, date, durationMinutes)
	outcome := outcomeOf(err)
	metrics.ObserveScheduling(ToolCheckAvailability, outcome, started)
	metrics.RecordTool(ToolCheckAvailability, outcome)
	if err != nil {
		c.log.Error("check availability failed",
			zap.String("date", date),
			zap.String("error_kind", string(scheduling.KindOf(err))),
			zap.Error(err))
	} else {
		c.log.Info("checked availability",
			zap.String("date", date),
			zap.Int("duration", durationMinutes),
			zap.Bool("available", res.Available),
			zap.Int("slots", len(res.Slots)))
	}
	return respond.Availability(res, err)
}

// BookAppointment books req for the caller. It always returns a sentence.
func (c *Controller) BookAppointment(ctx context.Context, req scheduling.BookingRequest) (reply string) {
	defer c.recoverTo(ToolBookAppointment, &reply, respond.BookingTrouble)

	service := strings.TrimSpace(req.Service)
	if service == "" {
		metrics.RecordTool(ToolBookAppointment, "missing_service")
		return respond.MissingService()
	}

	duration := c.duration(req.DurationMinutes)
	start, end, err := BookingWindow(req.Date, req.Time, duration)
	if err != nil {
		c.log.Warn("book appointment: bad date or time", zap.String("date", req.Date), zap.String("time", req.Time))
		metrics.RecordTool(ToolBookAppointment, string(scheduling.KindInvalidInput))
		return respond.InvalidBookingTime()
	}

	name, phone, ok := c.identity(req.CustomerName, req.CustomerPhone)
	if !ok {
		metrics.RecordTool(ToolBookAppointment, "missing_identity")
		return respond.MissingIdentity(name == "", phone == "")
	}

	payload := scheduling.BookingPayload{
		BusinessID:    c.business.ID,
		CustomerName:  name,
		CustomerPhone: phone,
		Service:       service,
		StartTime:     start.Format(scheduling.LocalLayout),
		EndTime:       end.Format(scheduling.LocalLayout),
		Notes:         req.Notes,
	}

	started := time.Now()
	res, err := c.api.CreateBooking(ctx, payload)
	outcome := outcomeOf(err)
	metrics.ObserveScheduling(ToolBookAppointment, outcome, started)
	metrics.RecordTool(ToolBookAppointment, outcome)

	if err != nil {
		c.log.Error("book appointment failed",
			zap.String("start", payload.StartTime),
			zap.String("error_kind", string(scheduling.KindOf(err))),
			zap.Error(err))
		res = scheduling.BookingResult{Kind: scheduling.KindOf(err), Detail: scheduling.DetailOf(err)}
		return respond.Booking(res)
	}

	c.log.Info("booked appointment",
		zap.String("booking_id", res.BookingID),
		zap.String("start", payload.StartTime),
		zap.String("end", payload.EndTime))
	res.Success = true
	res.Service = service
	res.Date = start.Format(time.DateOnly)
	res.Time = start.Format("15:04")
	return respond.Booking(res)
}

// BookingWindow combines date (YYYY-MM-DD) and clock (HH:MM) into a naive local start time
// and derives the end by adding durationMinutes.
func BookingWindow(date, clock string, durationMinutes int) (time.Time, time.Time, error) {
	if durationMinutes <= 0 {
		return time.Time{}, time.Time{}, fmt.Errorf("duration must be positive, got %d", durationMinutes)
	}
	start, err := time.ParseInLocation("2006-01-02 15:04", strings.TrimSpace(date)+" "+strings.TrimSpace(clock), time.UTC)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("parse booking start: %w", err)
	}
	return start, start.Add(time.Duration(durationMinutes) * time.Minute), nil
}

func (c *Controller) duration(minutes int) int {
	if minutes <= 0 {
		return c.defaultDuration
	}
	return minutes
}

// identity applies the configured policy to the caller's name and phone.
func (c *Controller) identity(name, phone string) (string, string, bool) {
	name, phone = strings.TrimSpace(name), strings.TrimSpace(phone)
	if c.identityPolicy == config.IdentityPlaceholder {
		if name == "" {
			name = c.placeholderName
		}
		return name, phone, true
	}
	return name, phone, name != "" && phone != ""
}

func (c *Controller) recoverTo(tool string, reply *string, fallback string) {
	if r := recover(); r != nil {
		c.log.Error("booking tool panicked", zap.String("tool", tool), zap.Any("panic", r), zap.Stack("stack"))
		metrics.RecordTool(tool, "panic")
		*reply = fallback
	}
}

func outcomeOf(err error) string {
	if err == nil {
		return "ok"
	}
	return string(scheduling.KindOf(err))
}
