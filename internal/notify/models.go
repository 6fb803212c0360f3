package notify

import "time"

// TriggerRule is a stored condition + message template that fires when a
// matching domain event occurs.
//
// Invariants:
// - MatchConfig schema is determined by TriggerType. Unknown fields are
//   ignored; a missing required field makes the rule permanently
//   non-matching, never an error.
// - Rules are evaluated in creation order so outcomes are reproducible.
type TriggerRule struct {
	ID          string `json:"id" db:"id"`
	AssistantID string `json:"assistant_id" db:"assistant_id"`

	TriggerType TriggerType    `json:"trigger_type" db:"trigger_type"`
	IsActive    bool           `json:"is_active" db:"is_active"`
	MatchConfig map[string]any `json:"match_config" db:"match_config"`

	// MessageTemplate uses {{identifier}} placeholders resolved against the
	// event payload.
	MessageTemplate string `json:"message_template" db:"message_template"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type TriggerType string

const (
	TriggerStatusChange     TriggerType = "status_change"
	TriggerBookingReminder  TriggerType = "booking_reminder"
	TriggerBookingConfirmed TriggerType = "booking_confirmed"
	TriggerCustomEvent      TriggerType = "custom_event"
)

func (t TriggerType) Valid() bool {
	switch t {
	case TriggerStatusChange, TriggerBookingReminder, TriggerBookingConfirmed, TriggerCustomEvent:
		return true
	default:
		return false
	}
}

// DomainEvent is the fact that triggers evaluation.
//
// ID is a deterministic identity for the logical event (producers derive it
// from the subject, e.g. "booking:B1:status:completed") so that re-delivery
// dedupes against prior dispatch attempts.
type DomainEvent struct {
	ID           string            `json:"id"`
	AssistantID  string            `json:"assistant_id"`
	SubjectPhone string            `json:"subject_phone"`
	EventType    TriggerType       `json:"event_type"`
	Payload      map[string]string `json:"payload"`
	OccurredAt   time.Time         `json:"occurred_at"`
}

// DispatchAttempt records the outcome of evaluating one rule against one
// event. It is append-only and doubles as the at-most-once guard: a pair
// resolved to sent is never processed again.
type DispatchAttempt struct {
	ID          string `json:"id" db:"id"`
	AssistantID string `json:"assistant_id" db:"assistant_id"`
	EventID     string `json:"event_id" db:"event_id"`
	RuleID      string `json:"rule_id" db:"rule_id"`

	Outcome Outcome `json:"outcome" db:"outcome"`

	// Message is the rendered message for sent/send_failed outcomes.
	Message string `json:"message,omitempty" db:"message"`
	// Error captures the transport failure for send_failed.
	Error string `json:"error,omitempty" db:"error"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type Outcome string

const (
	OutcomeSent Outcome = "sent"
	// OutcomeSuppressedNoConversation and OutcomeSuppressedWindowExpired are
	// correct policy results, not failures; they must stay distinguishable
	// from delivery errors in the audit trail.
	OutcomeSuppressedNoConversation Outcome = "suppressed_no_conversation"
	OutcomeSuppressedWindowExpired  Outcome = "suppressed_window_expired"
	OutcomeRuleNotMatched           Outcome = "rule_not_matched"
	OutcomeSendFailed               Outcome = "send_failed"
)
