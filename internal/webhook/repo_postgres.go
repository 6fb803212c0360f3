package webhook

import (
	"context"
	"database/sql"
	"errors"
)

// PostgresIntegrationRepo reads integrations from Postgres.
//
// Assumed table:
//   integrations(id, assistant_id, label, secret, created_at, revoked_at)
type PostgresIntegrationRepo struct {
	db *sql.DB
}

func NewPostgresIntegrationRepo(db *sql.DB) *PostgresIntegrationRepo {
	return &PostgresIntegrationRepo{db: db}
}

func (r *PostgresIntegrationRepo) Get(ctx context.Context, id string) (Integration, error) {
	const q = `
SELECT id, assistant_id, label, secret, created_at, revoked_at
FROM integrations
WHERE id = $1
`
	var i Integration
	if err := r.db.QueryRowContext(ctx, q, id).Scan(
		&i.ID, &i.AssistantID, &i.Label, &i.Secret, &i.CreatedAt, &i.RevokedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Integration{}, ErrIntegrationNotFound
		}
		return Integration{}, err
	}
	return i, nil
}
