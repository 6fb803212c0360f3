package conversations

import "time"

// ContactWindow is the platform-enforced limit on automated outbound messages:
// they are allowed only within 24 hours of the start of the customer's most
// recent conversation.
const ContactWindow = 24 * time.Hour

// Conversation is one customer-initiated exchange on an assistant's channel.
//
// Invariants:
// - (assistant_id, customer_phone, started_at) identifies the exchange.
// - StartedAt is set by the first inbound message and never moves; the
//   eligibility window is measured from it.
type Conversation struct {
	ID            string `json:"id" db:"id"`
	AssistantID   string `json:"assistant_id" db:"assistant_id"`
	CustomerPhone string `json:"customer_phone" db:"customer_phone"`

	StartedAt     time.Time `json:"started_at" db:"started_at"`
	LastMessageAt time.Time `json:"last_message_at" db:"last_message_at"`
}

// Message is a single logged channel message. Outbound messages are recorded
// for audit but do not open or extend a conversation window.
type Message struct {
	ID             string `json:"id" db:"id"`
	ConversationID string `json:"conversation_id" db:"conversation_id"`
	AssistantID    string `json:"assistant_id" db:"assistant_id"`

	Direction Direction `json:"direction" db:"direction"`
	Body      string    `json:"body" db:"body"`

	SentAt time.Time `json:"sent_at" db:"sent_at"`
}

type Direction string

const (
	DirectionInbound  Direction = "inbound"
	DirectionOutbound Direction = "outbound"
)

// WindowState is the eligibility verdict for sending an automated message.
type WindowState string

const (
	WindowNone    WindowState = "no_conversation"
	WindowExpired WindowState = "expired"
	WindowOpen    WindowState = "open"
)
