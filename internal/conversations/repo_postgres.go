package conversations

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// PostgresRepo persists the conversation log in Postgres.
//
// Assumed tables:
// - conversations(id, assistant_id, customer_phone, started_at, last_message_at)
//   with an index on (assistant_id, customer_phone, started_at DESC)
// - messages(id, conversation_id, assistant_id, direction, body, sent_at)
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

func (r *PostgresRepo) LatestConversation(ctx context.Context, assistantID, customerPhone string) (Conversation, bool, error) {
	const q = `
SELECT id, assistant_id, customer_phone, started_at, last_message_at
FROM conversations
WHERE assistant_id = $1 AND customer_phone = $2
ORDER BY started_at DESC
LIMIT 1
`
	var c Conversation
	if err := r.db.QueryRowContext(ctx, q, assistantID, customerPhone).Scan(
		&c.ID,
		&c.AssistantID,
		&c.CustomerPhone,
		&c.StartedAt,
		&c.LastMessageAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Conversation{}, false, nil
		}
		return Conversation{}, false, err
	}
	return c, true, nil
}

func (r *PostgresRepo) InsertConversation(ctx context.Context, c Conversation) error {
	const q = `
INSERT INTO conversations (id, assistant_id, customer_phone, started_at, last_message_at)
VALUES ($1, $2, $3, $4, $5)
`
	_, err := r.db.ExecContext(ctx, q, c.ID, c.AssistantID, c.CustomerPhone, c.StartedAt, c.LastMessageAt)
	return err
}

func (r *PostgresRepo) TouchConversation(ctx context.Context, id string, lastMessageAt time.Time) error {
	const q = `
UPDATE conversations SET last_message_at = $2 WHERE id = $1
`
	_, err := r.db.ExecContext(ctx, q, id, lastMessageAt)
	return err
}

func (r *PostgresRepo) InsertMessage(ctx context.Context, m Message) error {
	const q = `
INSERT INTO messages (id, conversation_id, assistant_id, direction, body, sent_at)
VALUES ($1, $2, $3, $4, $5, $6)
`
	_, err := r.db.ExecContext(ctx, q, m.ID, m.ConversationID, m.AssistantID, string(m.Direction), m.Body, m.SentAt)
	return err
}
