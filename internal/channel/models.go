package channel

import "time"

// ChannelSession is the persisted pairing state for one assistant's messaging channel.
//
// Invariants:
// - One row per assistant_id.
// - SessionBlob is non-nil if and only if Status == paired. The blob is an opaque
//   capability token owned by the session host; this service never inspects it.
// - Status is written only by the Orchestrator.
//
// Storage recommendation (Postgres):
// - Table channel_sessions with assistant_id as primary key.

type ChannelSession struct {
	AssistantID string `json:"assistant_id" db:"assistant_id"`

	// PhoneNumber is E.164-normalized.
	PhoneNumber string `json:"phone_number" db:"phone_number"`

	Status Status `json:"status" db:"status"`

	// SessionBlob is the host-issued session credential. Never logged.
	SessionBlob []byte `json:"-" db:"session_blob"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

type Status string

const (
	StatusUnpaired     Status = "unpaired"
	StatusInitializing Status = "initializing"
	StatusAwaitingScan Status = "awaiting_scan"
	StatusPaired       Status = "paired"

	// StatusDisconnected means a previously paired session was dropped by the
	// provider. It differs from unpaired only for client messaging; Init treats
	// both identically.
	StatusDisconnected Status = "disconnected"
)

func (s Status) Valid() bool {
	switch s {
	case StatusUnpaired, StatusInitializing, StatusAwaitingScan, StatusPaired, StatusDisconnected:
		return true
	default:
		return false
	}
}

// Paired reports whether the session currently holds a live credential.
func (s ChannelSession) Paired() bool { return s.Status == StatusPaired }
