package booking

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"

	"bizchat-platform/internal/events"
	"bizchat-platform/internal/notify"
)

var (
	ErrNotFound        = errors.New("booking: not found")
	ErrInvalidArgument = errors.New("booking: invalid argument")
	ErrTerminalStatus  = errors.New("booking: status is terminal")
)

// Repository persists bookings. Reads are assistant-scoped.
type Repository interface {
	Insert(ctx context.Context, b Booking) error
	Update(ctx context.Context, b Booking) error
	Get(ctx context.Context, assistantID, id string) (Booking, error)
	List(ctx context.Context, assistantID string, statuses []Status) ([]Booking, error)
	// ListStartingBetween returns bookings of the given statuses whose start
	// time falls in [from, to). Used by the reminder scanner.
	ListStartingBetween(ctx context.Context, from, to time.Time, statuses []Status) ([]Booking, error)
}

// Notifier evaluates a domain event against the assistant's trigger rules.
// Satisfied by *notify.Dispatcher.
type Notifier interface {
	Evaluate(ctx context.Context, ev notify.DomainEvent) ([]notify.DispatchAttempt, error)
}

// Service owns the booking lifecycle. Writes land in the repository first;
// notification evaluation and event fan-out happen after the state is
// durable, and a failure in either never rolls the write back.
type Service struct {
	repo      Repository
	notifier  Notifier
	publisher events.Publisher
	log       *slog.Logger
	clock     func() time.Time
}

func NewService(repo Repository, notifier Notifier, publisher events.Publisher, log *slog.Logger) *Service {
	if publisher == nil {
		publisher = events.NoopPublisher{}
	}
	return &Service{
		repo:      repo,
		notifier:  notifier,
		publisher: publisher,
		log:       log,
		clock:     time.Now,
	}
}

type CreateInput struct {
	CustomerName  string    `json:"customer_name"`
	CustomerPhone string    `json:"customer_phone"`
	ServiceType   string    `json:"service_type"`
	Price         float64   `json:"price"`
	StartsAt      time.Time `json:"starts_at"`
	EndsAt        time.Time `json:"ends_at"`
}

func (in CreateInput) validate() error {
	switch {
	case in.CustomerPhone == "":
		return ErrInvalidArgument
	case in.ServiceType == "":
		return ErrInvalidArgument
	case in.StartsAt.IsZero():
		return ErrInvalidArgument
	case !in.EndsAt.IsZero() && in.EndsAt.Before(in.StartsAt):
		return ErrInvalidArgument
	default:
		return nil
	}
}

func (s *Service) Create(ctx context.Context, assistantID string, in CreateInput) (Booking, error) {
	if assistantID == "" {
		return Booking{}, ErrInvalidArgument
	}
	if err := in.validate(); err != nil {
		return Booking{}, err
	}

	now := s.clock().UTC()
	b := Booking{
		ID:            uuid.NewString(),
		AssistantID:   assistantID,
		CustomerName:  in.CustomerName,
		CustomerPhone: in.CustomerPhone,
		ServiceType:   in.ServiceType,
		Price:         in.Price,
		StartsAt:      in.StartsAt.UTC(),
		EndsAt:        in.EndsAt.UTC(),
		Status:        StatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.repo.Insert(ctx, b); err != nil {
		return Booking{}, err
	}

	s.fanOut(ctx, "booking.created", "booking:"+b.ID+":created", b)
	return b, nil
}

func (s *Service) Get(ctx context.Context, assistantID, id string) (Booking, error) {
	return s.repo.Get(ctx, assistantID, id)
}

func (s *Service) List(ctx context.Context, assistantID string, statuses []Status) ([]Booking, error) {
	return s.repo.List(ctx, assistantID, statuses)
}

type UpdateInput struct {
	CustomerName *string    `json:"customer_name"`
	ServiceType  *string    `json:"service_type"`
	Price        *float64   `json:"price"`
	StartsAt     *time.Time `json:"starts_at"`
	EndsAt       *time.Time `json:"ends_at"`
}

// Update patches booking details. Status changes go through UpdateStatus so
// they always produce a status event.
func (s *Service) Update(ctx context.Context, assistantID, id string, in UpdateInput) (Booking, error) {
	b, err := s.repo.Get(ctx, assistantID, id)
	if err != nil {
		return Booking{}, err
	}
	if in.CustomerName != nil {
		b.CustomerName = *in.CustomerName
	}
	if in.ServiceType != nil {
		if *in.ServiceType == "" {
			return Booking{}, ErrInvalidArgument
		}
		b.ServiceType = *in.ServiceType
	}
	if in.Price != nil {
		b.Price = *in.Price
	}
	if in.StartsAt != nil {
		b.StartsAt = in.StartsAt.UTC()
	}
	if in.EndsAt != nil {
		b.EndsAt = in.EndsAt.UTC()
	}
	if !b.EndsAt.IsZero() && b.EndsAt.Before(b.StartsAt) {
		return Booking{}, ErrInvalidArgument
	}
	b.UpdatedAt = s.clock().UTC()

	if err := s.repo.Update(ctx, b); err != nil {
		return Booking{}, err
	}
	return b, nil
}

// UpdateStatus transitions the booking and evaluates notification rules for
// the resulting status event. The event id is derived from the booking and
// target status, so CRM re-deliveries of the same transition dedupe
// downstream.
func (s *Service) UpdateStatus(ctx context.Context, assistantID, id string, status Status) (Booking, error) {
	if !status.Valid() {
		return Booking{}, ErrInvalidArgument
	}
	b, err := s.repo.Get(ctx, assistantID, id)
	if err != nil {
		return Booking{}, err
	}
	if b.Status == status {
		return b, nil
	}
	if b.Status.Terminal() {
		return Booking{}, ErrTerminalStatus
	}

	b.Status = status
	b.UpdatedAt = s.clock().UTC()
	if err := s.repo.Update(ctx, b); err != nil {
		return Booking{}, err
	}

	eventID := "booking:" + b.ID + ":status:" + string(status)
	if _, err := s.notifier.Evaluate(ctx, notify.DomainEvent{
		ID:           eventID,
		AssistantID:  b.AssistantID,
		SubjectPhone: b.CustomerPhone,
		EventType:    notify.TriggerStatusChange,
		Payload:      eventFields(b),
		OccurredAt:   b.UpdatedAt,
	}); err != nil {
		s.log.Error("notification evaluation failed",
			"assistant_id", b.AssistantID, "booking_id", b.ID, "error", err)
	}

	s.fanOut(ctx, "booking.status_changed", eventID, b)
	return b, nil
}

func (s *Service) fanOut(ctx context.Context, eventType, eventID string, b Booking) {
	err := s.publisher.Publish(ctx, eventType, events.Envelope{
		Meta: events.Meta{ID: eventID, Type: eventType, Time: s.clock().UTC()},
		Data: b,
	})
	if err != nil {
		s.log.Warn("event publish failed",
			"assistant_id", b.AssistantID, "booking_id", b.ID, "type", eventType, "error", err)
	}
}

// eventFields flattens a booking into the payload consumed by rule matching
// and template rendering.
func eventFields(b Booking) map[string]string {
	end := ""
	if !b.EndsAt.IsZero() {
		end = b.EndsAt.Format(time.RFC3339)
	}
	return map[string]string{
		"booking_id":     b.ID,
		"customer_name":  b.CustomerName,
		"customer_phone": b.CustomerPhone,
		"service_type":   b.ServiceType,
		"price":          strconv.FormatFloat(b.Price, 'f', 2, 64),
		"start_time":     b.StartsAt.Format(time.RFC3339),
		"end_time":       end,
		"status":         string(b.Status),
	}
}
