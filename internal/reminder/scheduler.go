package reminder

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/robfig/cron/v3"

	"bizchat-platform/internal/booking"
	"bizchat-platform/internal/notify"
)

// scanHorizon bounds how far ahead the scanner looks for upcoming bookings.
// Rules with a longer lead time than this will fire late.
const scanHorizon = 72 * time.Hour

// BookingSource lists bookings eligible for reminders.
type BookingSource interface {
	ListStartingBetween(ctx context.Context, from, to time.Time, statuses []booking.Status) ([]booking.Booking, error)
}

// RuleSource answers which reminder rules an assistant has.
type RuleSource interface {
	ListActiveByType(ctx context.Context, assistantID string, types []notify.TriggerType) ([]notify.TriggerRule, error)
}

// Notifier evaluates reminder events. Satisfied by *notify.Dispatcher.
type Notifier interface {
	Evaluate(ctx context.Context, ev notify.DomainEvent) ([]notify.DispatchAttempt, error)
}

// Scheduler periodically scans upcoming bookings and feeds reminder events to
// the dispatcher. The event id is one per booking ("booking:<id>:reminder"),
// so each reminder rule sends at most once per booking no matter how many
// scans see it.
type Scheduler struct {
	bookings BookingSource
	rules    RuleSource
	notifier Notifier
	log      *slog.Logger
	clock    func() time.Time

	cron *cron.Cron
}

func NewScheduler(bookings BookingSource, rules RuleSource, notifier Notifier, log *slog.Logger) *Scheduler {
	return &Scheduler{
		bookings: bookings,
		rules:    rules,
		notifier: notifier,
		log:      log,
		clock:    time.Now,
		cron:     cron.New(),
	}
}

// Start schedules the scan on the given cron spec (e.g. "@every 5m") and
// begins running it. Stop cancels future runs and waits for an in-flight one.
func (s *Scheduler) Start(spec string) error {
	_, err := s.cron.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		defer cancel()
		s.Scan(ctx)
	})
	if err != nil {
		return err
	}
	s.cron.Start()
	return nil
}

func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

// Scan runs one reminder pass. Exported so operators can trigger it manually.
func (s *Scheduler) Scan(ctx context.Context) {
	now := s.clock().UTC()

	upcoming, err := s.bookings.ListStartingBetween(ctx, now, now.Add(scanHorizon),
		[]booking.Status{booking.StatusPending, booking.StatusConfirmed})
	if err != nil {
		s.log.Error("reminder scan failed", "error", err)
		return
	}

	// Max reminder lead per assistant, resolved lazily and cached for the pass.
	leads := make(map[string]float64)

	for _, b := range upcoming {
		maxLead, ok := leads[b.AssistantID]
		if !ok {
			maxLead = s.maxLeadHours(ctx, b.AssistantID)
			leads[b.AssistantID] = maxLead
		}
		if maxLead <= 0 {
			continue
		}

		hoursUntil := b.StartsAt.Sub(now).Hours()
		if hoursUntil > maxLead {
			continue
		}

		ev := notify.DomainEvent{
			ID:           "booking:" + b.ID + ":reminder",
			AssistantID:  b.AssistantID,
			SubjectPhone: b.CustomerPhone,
			EventType:    notify.TriggerBookingReminder,
			Payload:      reminderFields(b, hoursUntil),
			OccurredAt:   now,
		}
		if _, err := s.notifier.Evaluate(ctx, ev); err != nil {
			s.log.Error("reminder evaluation failed",
				"assistant_id", b.AssistantID, "booking_id", b.ID, "error", err)
		}
	}
}

// maxLeadHours returns the largest hours_before across the assistant's active
// reminder rules, or 0 when there are none.
func (s *Scheduler) maxLeadHours(ctx context.Context, assistantID string) float64 {
	rules, err := s.rules.ListActiveByType(ctx, assistantID, []notify.TriggerType{notify.TriggerBookingReminder})
	if err != nil {
		s.log.Error("reminder rule lookup failed", "assistant_id", assistantID, "error", err)
		return 0
	}
	max := 0.0
	for _, r := range rules {
		if v, ok := r.MatchConfig["hours_before"]; ok {
			switch n := v.(type) {
			case float64:
				if n > max {
					max = n
				}
			case string:
				if f, err := strconv.ParseFloat(n, 64); err == nil && f > max {
					max = f
				}
			}
		}
	}
	return max
}

func reminderFields(b booking.Booking, hoursUntil float64) map[string]string {
	return map[string]string{
		"booking_id":        b.ID,
		"customer_name":     b.CustomerName,
		"customer_phone":    b.CustomerPhone,
		"service_type":      b.ServiceType,
		"start_time":        b.StartsAt.Format(time.RFC3339),
		"status":            string(b.Status),
		"hours_until_start": strconv.FormatFloat(hoursUntil, 'f', 1, 64),
	}
}
