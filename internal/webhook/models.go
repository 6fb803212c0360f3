package webhook

import (
	"context"
	"errors"
	"sync"
	"time"
)

var ErrIntegrationNotFound = errors.New("webhook: integration not found")

// Integration is a CRM (or other upstream) allowed to post events for an
// assistant. Each integration carries its own shared secret.
type Integration struct {
	ID          string     `json:"id" db:"id"`
	AssistantID string     `json:"assistant_id" db:"assistant_id"`
	Label       string     `json:"label" db:"label"`
	Secret      string     `json:"-" db:"secret"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	RevokedAt   *time.Time `json:"revoked_at,omitempty" db:"revoked_at"`
}

func (i Integration) Active() bool { return i.RevokedAt == nil }

type IntegrationRepository interface {
	Get(ctx context.Context, id string) (Integration, error)
}

// MemoryIntegrationRepo backs tests.
type MemoryIntegrationRepo struct {
	mu           sync.Mutex
	integrations map[string]Integration
}

func NewMemoryIntegrationRepo() *MemoryIntegrationRepo {
	return &MemoryIntegrationRepo{integrations: make(map[string]Integration)}
}

func (r *MemoryIntegrationRepo) Add(i Integration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.integrations[i.ID] = i
}

func (r *MemoryIntegrationRepo) Get(ctx context.Context, id string) (Integration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	i, ok := r.integrations[id]
	if !ok {
		return Integration{}, ErrIntegrationNotFound
	}
	return i, nil
}
