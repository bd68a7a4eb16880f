// Package notify turns order transitions into customer emails. The API process enqueues
// asynq tasks; the worker process consumes them.
package notify

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

const (
	TaskOrderConfirmation = "email:order_confirmation"
	TaskOrderUpdate       = "email:order_update"
)

// OrderPayload is the body of both email tasks.
type OrderPayload struct {
	OrderID string `json:"orderId"`
	Email   string `json:"email"`
	Status  string `json:"status,omitempty"`
}

func (p OrderPayload) validate() error {
	if strings.TrimSpace(p.OrderID) == "" {
		return errors.New("orderId is required")
	}
	if strings.TrimSpace(p.Email) == "" {
		return errors.New("email is required")
	}
	return nil
}

func decodePayload(raw []byte) (OrderPayload, error) {
	var p OrderPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return OrderPayload{}, fmt.Errorf("decode payload: %w", err)
	}
	if err := p.validate(); err != nil {
		return OrderPayload{}, err
	}
	return p, nil
}
