package audit

import (
	"context"
	"database/sql"
)

// PostgresRepo appends audit events to Postgres.
//
// Assumed table:
// - audit_events(id, assistant_id, type, actor_user_id, actor_role, ip_address,
//   booking_id, integration_id, message, metadata, created_at)
//   INSERT-only; no UPDATE/DELETE grants for the application role.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) Append(ctx context.Context, e Event) error {
	const q = `
INSERT INTO audit_events (
  id, assistant_id, type, actor_user_id, actor_role, ip_address,
  booking_id, integration_id, message, metadata, created_at
) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
`
	_, err := r.db.ExecContext(ctx, q,
		e.ID,
		e.AssistantID,
		string(e.Type),
		e.ActorUserID,
		e.ActorRole,
		e.IPAddress,
		e.BookingID,
		e.IntegrationID,
		e.Message,
		e.Metadata,
		e.CreatedAt,
	)
	return err
}
