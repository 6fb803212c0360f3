package notify

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// PostgresRuleRepo stores trigger rules in Postgres.
//
// Assumed table:
//   trigger_rules(id, assistant_id, trigger_type, is_active, match_config JSONB,
//                 message_template, created_at)
type PostgresRuleRepo struct {
	db *sql.DB
}

func NewPostgresRuleRepo(db *sql.DB) *PostgresRuleRepo { return &PostgresRuleRepo{db: db} }

func (r *PostgresRuleRepo) Create(ctx context.Context, rule TriggerRule) error {
	cfg, err := json.Marshal(rule.MatchConfig)
	if err != nil {
		return fmt.Errorf("encode match_config: %w", err)
	}
	const q = `
INSERT INTO trigger_rules (id, assistant_id, trigger_type, is_active, match_config, message_template, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
`
	_, err = r.db.ExecContext(ctx, q,
		rule.ID, rule.AssistantID, string(rule.TriggerType), rule.IsActive, cfg, rule.MessageTemplate, rule.CreatedAt)
	return err
}

func (r *PostgresRuleRepo) Get(ctx context.Context, assistantID, id string) (TriggerRule, error) {
	const q = `
SELECT id, assistant_id, trigger_type, is_active, match_config, message_template, created_at
FROM trigger_rules
WHERE assistant_id = $1 AND id = $2
`
	rule, err := scanRule(r.db.QueryRowContext(ctx, q, assistantID, id))
	if errors.Is(err, sql.ErrNoRows) {
		return TriggerRule{}, ErrRuleNotFound
	}
	return rule, err
}

func (r *PostgresRuleRepo) ListByAssistant(ctx context.Context, assistantID string) ([]TriggerRule, error) {
	const q = `
SELECT id, assistant_id, trigger_type, is_active, match_config, message_template, created_at
FROM trigger_rules
WHERE assistant_id = $1
ORDER BY created_at, id
`
	return r.queryRules(ctx, q, assistantID)
}

func (r *PostgresRuleRepo) ListActiveByType(ctx context.Context, assistantID string, types []TriggerType) ([]TriggerRule, error) {
	if len(types) == 0 {
		return nil, nil
	}
	args := []any{assistantID}
	placeholders := make([]string, 0, len(types))
	for i, t := range types {
		args = append(args, string(t))
		placeholders = append(placeholders, fmt.Sprintf("$%d", i+2))
	}
	q := fmt.Sprintf(`
SELECT id, assistant_id, trigger_type, is_active, match_config, message_template, created_at
FROM trigger_rules
WHERE assistant_id = $1 AND is_active AND trigger_type IN (%s)
ORDER BY created_at, id
`, strings.Join(placeholders, ", "))
	return r.queryRules(ctx, q, args...)
}

func (r *PostgresRuleRepo) SetActive(ctx context.Context, assistantID, id string, active bool) error {
	const q = `
UPDATE trigger_rules SET is_active = $3 WHERE assistant_id = $1 AND id = $2
`
	res, err := r.db.ExecContext(ctx, q, assistantID, id, active)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrRuleNotFound
	}
	return nil
}

func (r *PostgresRuleRepo) Delete(ctx context.Context, assistantID, id string) error {
	const q = `
DELETE FROM trigger_rules WHERE assistant_id = $1 AND id = $2
`
	res, err := r.db.ExecContext(ctx, q, assistantID, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrRuleNotFound
	}
	return nil
}

func (r *PostgresRuleRepo) queryRules(ctx context.Context, q string, args ...any) ([]TriggerRule, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]TriggerRule, 0)
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rule)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRule(row rowScanner) (TriggerRule, error) {
	var (
		rule TriggerRule
		typ  string
		cfg  []byte
	)
	if err := row.Scan(&rule.ID, &rule.AssistantID, &typ, &rule.IsActive, &cfg, &rule.MessageTemplate, &rule.CreatedAt); err != nil {
		return TriggerRule{}, err
	}
	rule.TriggerType = TriggerType(typ)
	if len(cfg) > 0 {
		if err := json.Unmarshal(cfg, &rule.MatchConfig); err != nil {
			return TriggerRule{}, fmt.Errorf("decode match_config for rule %s: %w", rule.ID, err)
		}
	}
	return rule, nil
}

// PostgresAttemptRepo stores the append-only dispatch log.
//
// Assumed table:
//   dispatch_attempts(id, assistant_id, event_id, rule_id, outcome, message,
//                     error, created_at)
//   with an index on (event_id, rule_id, created_at DESC)
type PostgresAttemptRepo struct {
	db *sql.DB
}

func NewPostgresAttemptRepo(db *sql.DB) *PostgresAttemptRepo { return &PostgresAttemptRepo{db: db} }

func (r *PostgresAttemptRepo) Append(ctx context.Context, a DispatchAttempt) error {
	const q = `
INSERT INTO dispatch_attempts (id, assistant_id, event_id, rule_id, outcome, message, error, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
`
	_, err := r.db.ExecContext(ctx, q,
		a.ID, a.AssistantID, a.EventID, a.RuleID, string(a.Outcome), a.Message, a.Error, a.CreatedAt)
	return err
}

func (r *PostgresAttemptRepo) LatestFor(ctx context.Context, eventID, ruleID string) (DispatchAttempt, bool, error) {
	const q = `
SELECT id, assistant_id, event_id, rule_id, outcome, message, error, created_at
FROM dispatch_attempts
WHERE event_id = $1 AND rule_id = $2
ORDER BY created_at DESC
LIMIT 1
`
	var (
		a       DispatchAttempt
		outcome string
	)
	err := r.db.QueryRowContext(ctx, q, eventID, ruleID).Scan(
		&a.ID, &a.AssistantID, &a.EventID, &a.RuleID, &outcome, &a.Message, &a.Error, &a.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return DispatchAttempt{}, false, nil
	}
	if err != nil {
		return DispatchAttempt{}, false, err
	}
	a.Outcome = Outcome(outcome)
	return a, true, nil
}

func (r *PostgresAttemptRepo) ListByAssistant(ctx context.Context, assistantID string, limit int) ([]DispatchAttempt, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	const q = `
SELECT id, assistant_id, event_id, rule_id, outcome, message, error, created_at
FROM dispatch_attempts
WHERE assistant_id = $1
ORDER BY created_at DESC
LIMIT $2
`
	rows, err := r.db.QueryContext(ctx, q, assistantID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]DispatchAttempt, 0, limit)
	for rows.Next() {
		var (
			a       DispatchAttempt
			outcome string
		)
		if err := rows.Scan(&a.ID, &a.AssistantID, &a.EventID, &a.RuleID, &outcome, &a.Message, &a.Error, &a.CreatedAt); err != nil {
			return nil, err
		}
		a.Outcome = Outcome(outcome)
		out = append(out, a)
	}
	return out, rows.Err()
}
