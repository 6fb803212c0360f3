package auth

import (
	"context"
	"database/sql"
	"errors"
)

// PostgresKeyRepo looks up API keys in Postgres.
//
// Assumed table:
// - api_keys(id, assistant_id, key, label, created_at, revoked_at)
//   with UNIQUE (key)
type PostgresKeyRepo struct {
	db *sql.DB
}

func NewPostgresKeyRepo(db *sql.DB) *PostgresKeyRepo { return &PostgresKeyRepo{db: db} }

func (r *PostgresKeyRepo) FindByKey(ctx context.Context, key string) (APIKey, error) {
	const q = `
SELECT id, assistant_id, key, label, created_at, revoked_at
FROM api_keys
WHERE key = $1
`
	var k APIKey
	if err := r.db.QueryRowContext(ctx, q, key).Scan(
		&k.ID,
		&k.AssistantID,
		&k.Key,
		&k.Label,
		&k.CreatedAt,
		&k.RevokedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return APIKey{}, ErrInvalidKey
		}
		return APIKey{}, err
	}
	return k, nil
}
