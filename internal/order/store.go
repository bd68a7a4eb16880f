// Package order keeps the payment-facing state of storefront orders in redis.
package order

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/toko-pay/internal/lock"
	"github.com/noah-isme/toko-pay/internal/payment"
)

// ErrNotFound is returned when no payment state was ever recorded for an order.
var ErrNotFound = errors.New("order not found")

// Record is the stored payment state of one order.
type Record struct {
	OrderID       string          `json:"orderId"`
	Status        payment.Status  `json:"status"`
	PaymentStatus string          `json:"paymentStatus"`
	Method        payment.Method  `json:"method"`
	PaymentID     string          `json:"paymentId,omitempty"`
	Amount        decimal.Decimal `json:"amount"`
	Currency      string          `json:"currency,omitempty"`
	UpdatedAt     time.Time       `json:"updatedAt"`
}

// Store implements payment.OrderUpdater on top of redis.
type Store struct {
	R      *redis.Client
	Locker lock.Locker
	// TTL expires records; zero keeps them forever.
	TTL time.Duration
	Now func() time.Time
}

var _ payment.OrderUpdater = (*Store)(nil)

func key(orderID string) string { return "order:" + orderID }

// Get returns the stored record for orderID.
func (s *Store) Get(ctx context.Context, orderID string) (Record, error) {
	if s == nil || s.R == nil {
		return Record{}, errors.New("order store not configured")
	}
	raw, err := s.R.Get(ctx, key(orderID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, err
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return Record{}, fmt.Errorf("decode order %s: %w", orderID, err)
	}
	return rec, nil
}

// UpdateOrder moves the order forward. Re-applying the current state, or any move to a
// lower-ranked state, is a no-op reported as applied=false.
func (s *Store) UpdateOrder(ctx context.Context, u payment.OrderUpdate) (applied bool, err error) {
	if s == nil || s.R == nil {
		return false, errors.New("order store not configured")
	}
	orderID := strings.TrimSpace(u.OrderID)
	if orderID == "" {
		return false, errors.New("order id is required")
	}
	err = s.Locker.WithLock(ctx, key(orderID), 5*time.Second, func(ctx context.Context) error {
		current, err := s.Get(ctx, orderID)
		switch {
		case errors.Is(err, ErrNotFound):
			current = Record{OrderID: orderID, Status: payment.StatusCreated}
		case err != nil:
			return err
		}
		if statusRank(u.Status) <= statusRank(current.Status) {
			return nil
		}
		next := Record{
			OrderID:       orderID,
			Status:        u.Status,
			PaymentStatus: u.PaymentStatus,
			Method:        u.Method,
			PaymentID:     u.PaymentID,
			Amount:        u.Amount,
			Currency:      u.Currency,
			UpdatedAt:     s.now().UTC(),
		}
		raw, err := json.Marshal(next)
		if err != nil {
			return err
		}
		if err := s.R.Set(ctx, key(orderID), raw, s.TTL).Err(); err != nil {
			return err
		}
		applied = true
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("update order %s: %w", orderID, err)
	}
	return applied, nil
}

func (s *Store) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// statusRank orders the states so a paid order never moves back.
func statusRank(status payment.Status) int {
	switch status {
	case payment.StatusCreated:
		return 0
	case payment.StatusFailed:
		return 1
	case payment.StatusConfirmed:
		return 2
	case payment.StatusPaid:
		return 3
	default:
		return -1
	}
}
