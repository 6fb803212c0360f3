package auth

import (
	"context"
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

const apiKeyHeader = "X-API-Key"

var ErrInvalidKey = errors.New("auth: invalid api key")

// APIKey is a per-assistant credential for the external CRM surface.
//
// Invariants:
// - One key authenticates exactly one assistant.
// - Keys are compared in constant time.
// - Revoked keys stay on record (RevokedAt set) for audit; they never authenticate.
type APIKey struct {
	ID          string     `json:"id" db:"id"`
	AssistantID string     `json:"assistant_id" db:"assistant_id"`
	Key         string     `json:"-" db:"key"`
	Label       string     `json:"label,omitempty" db:"label"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
	RevokedAt   *time.Time `json:"revoked_at,omitempty" db:"revoked_at"`
}

func (k APIKey) Active() bool { return k.RevokedAt == nil }

// KeyRepository resolves API keys to assistants.
type KeyRepository interface {
	FindByKey(ctx context.Context, key string) (APIKey, error)
}

// RequireAPIKey authenticates CRM-style clients via the X-API-Key header and
// injects the owning assistant into the request context.
func RequireAPIKey(repo KeyRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := strings.TrimSpace(c.GetHeader(apiKeyHeader))
		if raw == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing api key"})
			return
		}

		k, err := repo.FindByKey(c.Request.Context(), raw)
		if err != nil || !k.Active() {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid api key"})
			return
		}

		c.Request = c.Request.WithContext(WithAssistant(c.Request.Context(), k.AssistantID))
		c.Set("assistant_id", k.AssistantID)
		c.Next()
	}
}

// MemoryKeyRepo is an in-memory key repository for tests and early development.
type MemoryKeyRepo struct {
	mu   sync.Mutex
	keys []APIKey
}

func NewMemoryKeyRepo() *MemoryKeyRepo { return &MemoryKeyRepo{} }

func (r *MemoryKeyRepo) Add(k APIKey) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.keys = append(r.keys, k)
}

func (r *MemoryKeyRepo) FindByKey(ctx context.Context, key string) (APIKey, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, k := range r.keys {
		if subtle.ConstantTimeCompare([]byte(k.Key), []byte(key)) == 1 {
			return k, nil
		}
	}
	return APIKey{}, ErrInvalidKey
}
