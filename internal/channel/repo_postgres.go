package channel

import (
	"context"
	"database/sql"
	"errors"
)

// PostgresSessionRepo persists channel sessions in Postgres.
//
// Assumed table:
// - channel_sessions(assistant_id PRIMARY KEY, phone_number, status, session_blob,
//   created_at, updated_at)
type PostgresSessionRepo struct {
	db *sql.DB
}

func NewPostgresSessionRepo(db *sql.DB) *PostgresSessionRepo {
	return &PostgresSessionRepo{db: db}
}

func (r *PostgresSessionRepo) Get(ctx context.Context, assistantID string) (ChannelSession, error) {
	const q = `
SELECT assistant_id, phone_number, status, session_blob, created_at, updated_at
FROM channel_sessions
WHERE assistant_id = $1
`
	var s ChannelSession
	var blob []byte
	if err := r.db.QueryRowContext(ctx, q, assistantID).Scan(
		&s.AssistantID,
		&s.PhoneNumber,
		&s.Status,
		&blob,
		&s.CreatedAt,
		&s.UpdatedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ChannelSession{}, ErrSessionNotFound
		}
		return ChannelSession{}, err
	}
	s.SessionBlob = blob
	return s, nil
}

func (r *PostgresSessionRepo) Save(ctx context.Context, s ChannelSession) error {
	const q = `
INSERT INTO channel_sessions (assistant_id, phone_number, status, session_blob, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (assistant_id) DO UPDATE SET
  phone_number = EXCLUDED.phone_number,
  status       = EXCLUDED.status,
  session_blob = EXCLUDED.session_blob,
  updated_at   = EXCLUDED.updated_at
`
	_, err := r.db.ExecContext(ctx, q,
		s.AssistantID,
		s.PhoneNumber,
		string(s.Status),
		s.SessionBlob,
		s.CreatedAt,
		s.UpdatedAt,
	)
	return err
}
