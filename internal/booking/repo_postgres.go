package booking

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// PostgresRepo stores bookings in Postgres.
//
// Assumed table:
//   bookings(id, assistant_id, customer_name, customer_phone, service_type,
//            price, starts_at, ends_at, status, created_at, updated_at)
//   with indexes on (assistant_id, starts_at) and (status, starts_at)
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo { return &PostgresRepo{db: db} }

const bookingColumns = `id, assistant_id, customer_name, customer_phone, service_type, price, starts_at, ends_at, status, created_at, updated_at`

func (r *PostgresRepo) Insert(ctx context.Context, b Booking) error {
	const q = `
INSERT INTO bookings (` + bookingColumns + `)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
`
	_, err := r.db.ExecContext(ctx, q,
		b.ID, b.AssistantID, b.CustomerName, b.CustomerPhone, b.ServiceType,
		b.Price, b.StartsAt, b.EndsAt, string(b.Status), b.CreatedAt, b.UpdatedAt)
	return err
}

func (r *PostgresRepo) Update(ctx context.Context, b Booking) error {
	const q = `
UPDATE bookings
SET customer_name = $3, customer_phone = $4, service_type = $5, price = $6,
    starts_at = $7, ends_at = $8, status = $9, updated_at = $10
WHERE assistant_id = $1 AND id = $2
`
	res, err := r.db.ExecContext(ctx, q,
		b.AssistantID, b.ID, b.CustomerName, b.CustomerPhone, b.ServiceType,
		b.Price, b.StartsAt, b.EndsAt, string(b.Status), b.UpdatedAt)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PostgresRepo) Get(ctx context.Context, assistantID, id string) (Booking, error) {
	const q = `
SELECT ` + bookingColumns + `
FROM bookings
WHERE assistant_id = $1 AND id = $2
`
	b, err := scanBooking(r.db.QueryRowContext(ctx, q, assistantID, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Booking{}, ErrNotFound
	}
	return b, err
}

func (r *PostgresRepo) List(ctx context.Context, assistantID string, statuses []Status) ([]Booking, error) {
	q := `
SELECT ` + bookingColumns + `
FROM bookings
WHERE assistant_id = $1
`
	args := []any{assistantID}
	if len(statuses) > 0 {
		q += fmt.Sprintf("AND status IN (%s)\n", statusPlaceholders(len(args)+1, statuses, &args))
	}
	q += "ORDER BY starts_at"
	return r.query(ctx, q, args...)
}

func (r *PostgresRepo) ListStartingBetween(ctx context.Context, from, to time.Time, statuses []Status) ([]Booking, error) {
	q := `
SELECT ` + bookingColumns + `
FROM bookings
WHERE starts_at >= $1 AND starts_at < $2
`
	args := []any{from, to}
	if len(statuses) > 0 {
		q += fmt.Sprintf("AND status IN (%s)\n", statusPlaceholders(len(args)+1, statuses, &args))
	}
	q += "ORDER BY starts_at"
	return r.query(ctx, q, args...)
}

func statusPlaceholders(start int, statuses []Status, args *[]any) string {
	ph := make([]string, 0, len(statuses))
	for i, s := range statuses {
		*args = append(*args, string(s))
		ph = append(ph, fmt.Sprintf("$%d", start+i))
	}
	return strings.Join(ph, ", ")
}

func (r *PostgresRepo) query(ctx context.Context, q string, args ...any) ([]Booking, error) {
	rows, err := r.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Booking, 0)
	for rows.Next() {
		b, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBooking(row rowScanner) (Booking, error) {
	var (
		b      Booking
		status string
	)
	if err := row.Scan(
		&b.ID, &b.AssistantID, &b.CustomerName, &b.CustomerPhone, &b.ServiceType,
		&b.Price, &b.StartsAt, &b.EndsAt, &status, &b.CreatedAt, &b.UpdatedAt,
	); err != nil {
		return Booking{}, err
	}
	b.Status = Status(status)
	return b, nil
}
