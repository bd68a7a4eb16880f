package notify

import (
	"context"
	"fmt"
	"html"
	"strings"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"

	"github.com/noah-isme/toko-pay/internal/common"
)

// Handlers send the emails behind the queued tasks.
type Handlers struct {
	Mail    common.EmailSender
	Logger  zerolog.Logger
	ShopURL string
}

// Register wires the task handlers into mux.
func (h Handlers) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(TaskOrderConfirmation, h.HandleOrderConfirmation)
	mux.HandleFunc(TaskOrderUpdate, h.HandleOrderUpdate)
}

// HandleOrderConfirmation sends the confirmation email.
func (h Handlers) HandleOrderConfirmation(ctx context.Context, t *asynq.Task) error {
	p, err := decodePayload(t.Payload())
	if err != nil {
		return fmt.Errorf("%s: %v: %w", t.Type(), err, asynq.SkipRetry)
	}
	return h.send(ctx, t.Type(), p, "Order confirmed: "+p.OrderID, h.body(p, "Your order has been confirmed. We will let you know when it ships."))
}

// HandleOrderUpdate sends a status change email.
func (h Handlers) HandleOrderUpdate(ctx context.Context, t *asynq.Task) error {
	p, err := decodePayload(t.Payload())
	if err != nil {
		return fmt.Errorf("%s: %v: %w", t.Type(), err, asynq.SkipRetry)
	}
	return h.send(ctx, t.Type(), p, subjectFor(p), h.body(p, messageFor(p.Status)))
}

func (h Handlers) send(_ context.Context, kind string, p OrderPayload, subject, body string) error {
	if h.Mail == nil {
		return fmt.Errorf("%s: mail sender not configured: %w", kind, asynq.SkipRetry)
	}
	if err := h.Mail.Send(p.Email, subject, body); err != nil {
		h.Logger.Warn().Err(err).Str("task", kind).Str("order_id", p.OrderID).Msg("email_send_failed")
		return err
	}
	return nil
}

func subjectFor(p OrderPayload) string {
	switch p.Status {
	case "failed":
		return "Payment failed for order " + p.OrderID
	case "paid", "confirmed":
		return "Order confirmed: " + p.OrderID
	default:
		return "Order " + p.OrderID + " updated"
	}
}

func messageFor(status string) string {
	switch status {
	case "failed":
		return "We could not process your payment. You can retry from your order page."
	case "":
		return "Your order was updated."
	default:
		return "Your order status is now " + status + "."
	}
}

func (h Handlers) body(p OrderPayload, message string) string {
	var b strings.Builder
	b.WriteString("<p>")
	b.WriteString(html.EscapeString(message))
	b.WriteString("</p><p>Order ID: ")
	b.WriteString(html.EscapeString(p.OrderID))
	b.WriteString("</p>")
	if h.ShopURL != "" {
		link := strings.TrimRight(h.ShopURL, "/") + "/orders/" + p.OrderID
		b.WriteString(`<p><a href="` + html.EscapeString(link) + `">View your order</a></p>`)
	}
	return b.String()
}
