package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"
)

// Envelope is the wire shape for every message on the platform exchange.
type Envelope struct {
	Meta Meta `json:"meta"`
	Data any  `json:"data"`
}

type Meta struct {
	// ID is the unique event id, deterministic for logical events so
	// consumers can dedupe re-deliveries.
	ID string `json:"id"`
	// Type is the event name, e.g. booking.status_changed.
	Type string `json:"type"`
	// CorrelationID ties the event back to the originating request.
	CorrelationID string    `json:"correlation_id,omitempty"`
	Time          time.Time `json:"time"`
}

// Publisher fans platform events out to interested consumers. Publishing is
// best-effort from the caller's perspective: a broker outage must never fail
// the write that produced the event.
type Publisher interface {
	Publish(ctx context.Context, key string, env Envelope) error
	Close() error
}

// AMQPPublisher publishes to a durable topic exchange on RabbitMQ.
type AMQPPublisher struct {
	conn     *amqp091.Connection
	exchange string
	log      *slog.Logger
}

func NewAMQPPublisher(url, exchange string, log *slog.Logger) (*AMQPPublisher, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	defer ch.Close()
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, err
	}
	return &AMQPPublisher{conn: conn, exchange: exchange, log: log}, nil
}

func (p *AMQPPublisher) Publish(ctx context.Context, key string, env Envelope) error {
	ch, err := p.conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()

	if env.Meta.ID == "" {
		env.Meta.ID = uuid.NewString()
	}
	if env.Meta.Time.IsZero() {
		env.Meta.Time = time.Now().UTC()
	}

	body, err := json.Marshal(env)
	if err != nil {
		return err
	}

	err = ch.PublishWithContext(ctx, p.exchange, key, false, false, amqp091.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp091.Persistent,
		MessageId:     env.Meta.ID,
		CorrelationId: env.Meta.CorrelationID,
		Timestamp:     env.Meta.Time,
		Body:          body,
	})
	if err == nil {
		p.log.Debug("event published", "key", key, "event_id", env.Meta.ID)
	}
	return err
}

func (p *AMQPPublisher) Close() error { return p.conn.Close() }

// NoopPublisher drops every event. Used when AMQP is not configured.
type NoopPublisher struct{}

func (NoopPublisher) Publish(ctx context.Context, key string, env Envelope) error { return nil }
func (NoopPublisher) Close() error                                                { return nil }
