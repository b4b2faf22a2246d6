// Command booking runs the booking tools against the scheduling API from a terminal,
// without any voice vendor. Replies are printed exactly as a caller would hear them.
//
//	booking check -business biz_1 -date 2024-06-01
//	booking book -business biz_1 -date 2024-06-01 -time 09:30 -service Haircut -name "Ann Lee" -phone +15551234567
//	booking call -business biz_1 '{"tool":"check_availability","arguments":{"date":"2024-06-01"}}'
//	booking tools
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"

	"go.uber.org/zap"

	"github.com/jacky-htg/ai-booking-agent/backend/internal/booking"
	"github.com/jacky-htg/ai-booking-agent/backend/internal/dialog"
	"github.com/jacky-htg/ai-booking-agent/backend/internal/factory"
	"github.com/jacky-htg/ai-booking-agent/backend/internal/tools"
	"github.com/jacky-htg/ai-booking-agent/libs/config"
	"github.com/jacky-htg/ai-booking-agent/libs/logging"
)

const usage = "usage: booking <check|book|call|tools> [flags]"

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := run(ctx, os.Args[1], os.Args[2:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cmd string, args []string) error {
	cfg := config.LoadFromEnv()
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	log, err := logging.New(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer log.Sync()

	fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
	businessID := fs.String("business", "", "business id whose calendar is used")
	businessName := fs.String("business-name", "", "business name")
	date := fs.String("date", "", "date, YYYY-MM-DD")
	clock := fs.String("time", "", "time, HH:MM")
	service := fs.String("service", "", "service name")
	name := fs.String("name", "", "customer name")
	phone := fs.String("phone", "", "customer phone")
	duration := fs.Int("duration", 0, "appointment length in minutes")
	notes := fs.String("notes", "", "notes for the business")
	if err := fs.Parse(args); err != nil {
		return err
	}

	var call tools.Call
	switch cmd {
	case "check":
		call = tools.Call{Name: tools.CheckAvailability, Arguments: mustJSON(map[string]any{
			"date": *date, "duration_minutes": *duration,
		})}
	case "book":
		call = tools.Call{Name: tools.BookAppointment, Arguments: mustJSON(map[string]any{
			"date": *date, "time": *clock, "service": *service,
			"customer_name": *name, "customer_phone": *phone,
			"duration_minutes": *duration, "notes": *notes,
		})}
	case "call":
		c, ok := dialog.ParseToolCall(strings.Join(fs.Args(), " "))
		if !ok {
			return errors.New(`call expects a tool call such as {"tool":"check_availability","arguments":{...}}`)
		}
		call = c
	case "tools":
	default:
		return fmt.Errorf("unknown command %q\n%s", cmd, usage)
	}

	bc, err := booking.NewBusinessContext(*businessID, *businessName)
	if err != nil && cmd != "tools" {
		return err
	}
	if cmd == "tools" {
		// Definitions do not depend on the business; any id will do.
		bc, _ = booking.NewBusinessContext("-", "")
	}
	ctrl, err := booking.New(bc, factory.NewScheduler(cfg),
		booking.WithLogger(log), booking.WithBookingConfig(cfg.Booking))
	if err != nil {
		return err
	}
	d := tools.NewDispatcher(ctrl)

	if cmd == "tools" {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(d.Definitions())
	}

	res := d.Dispatch(ctx, call)
	if res.Err != nil {
		log.Warn("tool call rejected", zap.String("tool", res.Name), zap.Error(res.Err))
	}
	fmt.Println(res.Output)
	return nil
}

func mustJSON(v any) json.RawMessage {
	b, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return b
}
