package conversations

import (
	"context"
	"errors"
	"sync"
	"time"
)

// MemoryRepo is an in-memory conversation log for tests and early development.
// It enforces assistant isolation on reads.
type MemoryRepo struct {
	mu            sync.Mutex
	conversations []Conversation
	messages      []Message
}

func NewMemoryRepo() *MemoryRepo { return &MemoryRepo{} }

func (r *MemoryRepo) LatestConversation(ctx context.Context, assistantID, customerPhone string) (Conversation, bool, error) {
	if assistantID == "" {
		return Conversation{}, false, errors.New("assistant_id required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	var latest Conversation
	found := false
	for _, c := range r.conversations {
		if c.AssistantID != assistantID || c.CustomerPhone != customerPhone {
			continue
		}
		if !found || c.StartedAt.After(latest.StartedAt) {
			latest = c
			found = true
		}
	}
	return latest, found, nil
}

func (r *MemoryRepo) InsertConversation(ctx context.Context, c Conversation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conversations = append(r.conversations, c)
	return nil
}

func (r *MemoryRepo) TouchConversation(ctx context.Context, id string, lastMessageAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.conversations {
		if r.conversations[i].ID == id {
			r.conversations[i].LastMessageAt = lastMessageAt
			return nil
		}
	}
	return errors.New("conversation not found")
}

func (r *MemoryRepo) InsertMessage(ctx context.Context, m Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, m)
	return nil
}

// Messages returns a copy of the logged messages, for assertions in tests.
func (r *MemoryRepo) Messages() []Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Message, len(r.messages))
	copy(out, r.messages)
	return out
}
