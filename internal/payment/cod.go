package payment

import "strings"

// COD confirms cash-on-delivery orders synchronously. It has no gateway and no secrets.
type COD struct{}

// CODConfirmation is the synthetic payment issued for a cash-on-delivery order.
type CODConfirmation struct {
	PaymentID     string
	OrderID       string
	PaymentStatus string
}

// Create confirms orderID. Collection happens on delivery, so the payment stays pending.
func (COD) Create(orderID string) (CODConfirmation, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return CODConfirmation{}, invalid("orderId", "is required")
	}
	return CODConfirmation{
		PaymentID:     "COD_" + orderID,
		OrderID:       orderID,
		PaymentStatus: "pending",
	}, nil
}
