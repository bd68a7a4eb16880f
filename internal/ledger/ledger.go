// Package ledger appends every payment operation outcome to postgres.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/toko-pay/internal/payment"
)

// DBTX is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Event is one stored ledger row.
type Event struct {
	ID        uuid.UUID       `json:"id"`
	Method    string          `json:"method"`
	Operation string          `json:"operation"`
	OrderID   string          `json:"orderId,omitempty"`
	PaymentID string          `json:"paymentId,omitempty"`
	Status    string          `json:"status,omitempty"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency,omitempty"`
	Outcome   string          `json:"outcome"`
	Error     string          `json:"error,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
}

// Recorder implements payment.Recorder.
type Recorder struct {
	DB  DBTX
	Now func() time.Time
}

var _ payment.Recorder = (*Recorder)(nil)

const insertEvent = `INSERT INTO payment_events
    (id, method, operation, order_id, payment_id, status, amount, currency, outcome, error, created_at)
VALUES ($1, $2, $3, NULLIF($4, ''), NULLIF($5, ''), NULLIF($6, ''), $7::numeric, NULLIF($8, ''), $9, NULLIF($10, ''), $11)`

// Record appends e.
func (r *Recorder) Record(ctx context.Context, e payment.LedgerEntry) error {
	if r == nil || r.DB == nil {
		return errors.New("ledger: database not configured")
	}
	now := time.Now
	if r.Now != nil {
		now = r.Now
	}
	_, err := r.DB.Exec(ctx, insertEvent,
		uuid.New(),
		string(e.Method),
		e.Operation,
		e.OrderID,
		e.PaymentID,
		string(e.Status),
		e.Amount.StringFixed(2),
		e.Currency,
		e.Outcome,
		truncate(e.Error, 500),
		now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("ledger: insert %s/%s: %w", e.Method, e.Operation, err)
	}
	return nil
}

const listByOrder = `SELECT id, method, operation, COALESCE(order_id, ''), COALESCE(payment_id, ''),
    COALESCE(status, ''), amount::text, COALESCE(currency, ''), outcome, COALESCE(error, ''), created_at
FROM payment_events
WHERE order_id = $1
ORDER BY created_at DESC
LIMIT $2`

// ListByOrder returns the newest events for orderID first.
func (r *Recorder) ListByOrder(ctx context.Context, orderID string, limit int) ([]Event, error) {
	if r == nil || r.DB == nil {
		return nil, errors.New("ledger: database not configured")
	}
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := r.DB.Query(ctx, listByOrder, orderID, limit)
	if err != nil {
		return nil, fmt.Errorf("ledger: list %s: %w", orderID, err)
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var (
			ev     Event
			amount string
		)
		if err := rows.Scan(&ev.ID, &ev.Method, &ev.Operation, &ev.OrderID, &ev.PaymentID,
			&ev.Status, &amount, &ev.Currency, &ev.Outcome, &ev.Error, &ev.CreatedAt); err != nil {
			return nil, err
		}
		if ev.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("ledger: amount %q: %w", amount, err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}
