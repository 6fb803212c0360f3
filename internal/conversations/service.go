package conversations

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var ErrInvalidArgument = errors.New("conversations: invalid argument")

// Repository persists the conversation/message event log.
//
// Reads must enforce assistant scoping. The log is append-mostly: messages are
// never updated, conversations only advance LastMessageAt.
type Repository interface {
	LatestConversation(ctx context.Context, assistantID, customerPhone string) (Conversation, bool, error)
	InsertConversation(ctx context.Context, c Conversation) error
	TouchConversation(ctx context.Context, id string, lastMessageAt time.Time) error
	InsertMessage(ctx context.Context, m Message) error
}

// Service owns conversation-window bookkeeping and eligibility checks.
type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

// RecordInbound logs a customer message. It opens a new conversation when none
// exists or the latest one has aged past the contact window; otherwise it
// extends the current one. StartedAt of an existing conversation never moves.
func (s *Service) RecordInbound(ctx context.Context, assistantID, customerPhone, body string) (Conversation, error) {
	if assistantID == "" || customerPhone == "" {
		return Conversation{}, ErrInvalidArgument
	}

	now := s.clock().UTC()

	conv, ok, err := s.repo.LatestConversation(ctx, assistantID, customerPhone)
	if err != nil {
		return Conversation{}, err
	}
	if !ok || now.Sub(conv.StartedAt) > ContactWindow {
		conv = Conversation{
			ID:            uuid.NewString(),
			AssistantID:   assistantID,
			CustomerPhone: customerPhone,
			StartedAt:     now,
			LastMessageAt: now,
		}
		if err := s.repo.InsertConversation(ctx, conv); err != nil {
			return Conversation{}, err
		}
	} else {
		conv.LastMessageAt = now
		if err := s.repo.TouchConversation(ctx, conv.ID, now); err != nil {
			return Conversation{}, err
		}
	}

	msg := Message{
		ID:             uuid.NewString(),
		ConversationID: conv.ID,
		AssistantID:    assistantID,
		Direction:      DirectionInbound,
		Body:           body,
		SentAt:         now,
	}
	if err := s.repo.InsertMessage(ctx, msg); err != nil {
		return Conversation{}, err
	}
	return conv, nil
}

// RecordOutbound logs a delivered automated message against the latest
// conversation. Best-effort: callers should not fail a dispatch on log errors.
func (s *Service) RecordOutbound(ctx context.Context, assistantID, customerPhone, body string) error {
	if assistantID == "" || customerPhone == "" {
		return ErrInvalidArgument
	}
	conv, ok, err := s.repo.LatestConversation(ctx, assistantID, customerPhone)
	if err != nil {
		return err
	}
	if !ok {
		// Outbound without a conversation should not happen (eligibility gates
		// it), but the log must not invent a window for it.
		return nil
	}
	return s.repo.InsertMessage(ctx, Message{
		ID:             uuid.NewString(),
		ConversationID: conv.ID,
		AssistantID:    assistantID,
		Direction:      DirectionOutbound,
		Body:           body,
		SentAt:         s.clock().UTC(),
	})
}

// Window resolves the contact-window state for (assistant, customer) at now.
// Eligibility rule: a conversation must exist and now - StartedAt <= 24h.
func (s *Service) Window(ctx context.Context, assistantID, customerPhone string, now time.Time) (WindowState, error) {
	if assistantID == "" || customerPhone == "" {
		return WindowNone, ErrInvalidArgument
	}
	conv, ok, err := s.repo.LatestConversation(ctx, assistantID, customerPhone)
	if err != nil {
		return WindowNone, err
	}
	if !ok {
		return WindowNone, nil
	}
	if now.Sub(conv.StartedAt) > ContactWindow {
		return WindowExpired, nil
	}
	return WindowOpen, nil
}
