package channel

import (
	"context"
	"errors"
)

// Host is the provider-agnostic contract to the external pairing session host.
//
// Rules:
// - No host HTTP/wire details outside host adapters.
// - All requests are assistant-scoped.
// - "No code yet" is an expected condition, not an error; adapters report it as
//   HostStatusPending rather than failing.
type Host interface {
	// Open asks the host to start (or restart) a channel session.
	// The returned report may already carry a pairing code.
	Open(ctx context.Context, assistantID, phoneNumber string) (HostReport, error)

	// Status queries the host over the primary request/response path.
	Status(ctx context.Context, assistantID string) (HostReport, error)

	// StatusFallback queries the secondary GET-style endpoint. It exists because
	// the primary path may have accepted an open request without yet returning a
	// code, or dropped a code that was in fact generated.
	StatusFallback(ctx context.Context, assistantID string) (HostReport, error)

	// Teardown asks the host to destroy the session. Callers must treat local
	// disconnect as successful even when Teardown fails.
	Teardown(ctx context.Context, assistantID string) error

	// SendText delivers an outbound message through the paired channel.
	SendText(ctx context.Context, assistantID, toPhone, body string) error
}

// ErrHostUnavailable marks transient host communication failures. Poll loops
// swallow and retry it; request handlers surface it as "still waiting".
var ErrHostUnavailable = errors.New("channel: session host unavailable")

// HostReport is the host's view of a session, normalized across retrieval paths.
type HostReport struct {
	Status HostStatus

	// QR is the current pairing code image (raw bytes or a data URI, as sent by
	// the host). Empty when no code is available.
	QR []byte

	// SessionBlob is present once the host reports ready.
	SessionBlob []byte

	// Debug carries host-side diagnostics passed through to clients.
	Debug map[string]any
}

type HostStatus string

const (
	// HostStatusPending: session accepted but no pairing code produced yet.
	HostStatusPending HostStatus = "pending"
	// HostStatusAwaitingScan: a pairing code exists and awaits the user.
	HostStatusAwaitingScan HostStatus = "awaiting_scan"
	// HostStatusReady: the channel is paired and can send.
	HostStatusReady HostStatus = "ready"
	// HostStatusGone: the host lost or dropped the session.
	HostStatusGone HostStatus = "disconnected"
	// HostStatusUnknown: unrecognized host response; treated like pending.
	HostStatusUnknown HostStatus = "unknown"
)

// HasCode reports whether this report carries a usable pairing code.
func (r HostReport) HasCode() bool { return len(r.QR) > 0 }
