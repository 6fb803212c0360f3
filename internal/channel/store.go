package channel

import (
	"context"
	"errors"
	"sync"
)

var ErrSessionNotFound = errors.New("channel: session not found")

// SessionRepository persists channel sessions keyed by assistant.
//
// The Orchestrator is the only component allowed to call Save; everything else
// reads. This keeps the status field single-writer.
type SessionRepository interface {
	Get(ctx context.Context, assistantID string) (ChannelSession, error)
	Save(ctx context.Context, s ChannelSession) error
}

// MemorySessionRepo is an in-memory session repository for tests and early development.
type MemorySessionRepo struct {
	mu       sync.Mutex
	sessions map[string]ChannelSession
}

func NewMemorySessionRepo() *MemorySessionRepo {
	return &MemorySessionRepo{sessions: map[string]ChannelSession{}}
}

func (r *MemorySessionRepo) Get(ctx context.Context, assistantID string) (ChannelSession, error) {
	if assistantID == "" {
		return ChannelSession{}, errors.New("assistant_id required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[assistantID]
	if !ok {
		return ChannelSession{}, ErrSessionNotFound
	}
	return s, nil
}

func (r *MemorySessionRepo) Save(ctx context.Context, s ChannelSession) error {
	if s.AssistantID == "" {
		return errors.New("assistant_id required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.AssistantID] = s
	return nil
}
