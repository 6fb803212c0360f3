package audit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for audit events.
//
// It MUST be append-only.
// No Update/Delete methods are provided by design.

type Repository interface {
	Append(ctx context.Context, e Event) error
}

// Service logs internal audit information.
//
// IMPORTANT:
// - Audit is internal-only. Do not expose these records to tenant users by default.
// - Callers should treat audit logging as best-effort.

type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var ErrInvalidEvent = errors.New("audit: invalid event")

func (s *Service) Append(ctx context.Context, e Event) error {
	if s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if e.AssistantID == "" {
		return ErrInvalidEvent
	}
	if e.Type == "" {
		return ErrInvalidEvent
	}

	now := s.clock().UTC()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	return s.repo.Append(ctx, e)
}

// LogPairing records a pairing lifecycle action (init or disconnect).
func (s *Service) LogPairing(ctx context.Context, typ EventType, assistantID, actorUserID, actorRole, ip, message string) error {
	return s.Append(ctx, Event{
		AssistantID: assistantID,
		Type:        typ,
		ActorUserID: actorUserID,
		ActorRole:   actorRole,
		IPAddress:   ip,
		Message:     message,
	})
}

// LogWebhook records receipt of an inbound integration webhook.
func (s *Service) LogWebhook(ctx context.Context, assistantID, integrationID, ip, action, metadata string) error {
	return s.Append(ctx, Event{
		AssistantID:   assistantID,
		Type:          EventTypeWebhookReceived,
		IntegrationID: integrationID,
		IPAddress:     ip,
		Message:       action,
		Metadata:      metadata,
	})
}
