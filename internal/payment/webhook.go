package payment

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/toko-pay/internal/common"
	"github.com/noah-isme/toko-pay/internal/obs"
)

const maxWebhookBody = 1 << 20

// Webhook authenticates gateway callbacks before anything reaches the processor.
// Deliveries are at-least-once: once authentic, a duplicate is acknowledged with 200.
type Webhook struct {
	Processor *Processor
	Replay    *redis.Client
	ReplayTTL time.Duration
	Logger    zerolog.Logger
}

type razorpayEvent struct {
	Event   string `json:"event"`
	Payload struct {
		Payment *struct {
			Entity razorpayPaymentWire `json:"entity"`
		} `json:"payment"`
		Order *struct {
			Entity razorpayOrderWire `json:"entity"`
		} `json:"order"`
	} `json:"payload"`
}

type webhookAck struct {
	Received  bool   `json:"received"`
	Duplicate bool   `json:"duplicate,omitempty"`
	Event     string `json:"event,omitempty"`
	Status    Status `json:"status,omitempty"`
	Applied   bool   `json:"applied,omitempty"`
}

// Razorpay handles POST /webhooks/razorpay.
func (h Webhook) Razorpay(w http.ResponseWriter, r *http.Request) {
	if h.Processor == nil || h.Processor.Razorpay == nil {
		common.JSONError(w, http.StatusServiceUnavailable, "PAYMENT_NOT_CONFIGURED", "razorpay is not configured", nil)
		return
	}
	provider := string(MethodRazorpay)
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		obs.CountWebhook(provider, "bad_body")
		common.JSONError(w, http.StatusBadRequest, "INVALID_BODY", "unable to read payload", nil)
		return
	}
	signature := strings.TrimSpace(r.Header.Get("X-Razorpay-Signature"))
	if signature == "" {
		signature = strings.TrimSpace(r.Header.Get("X-Signature"))
	}
	if signature == "" {
		obs.CountWebhook(provider, "missing_signature")
		common.JSONError(w, http.StatusBadRequest, "MISSING_SIGNATURE", "missing signature", nil)
		return
	}
	if !h.Processor.Razorpay.VerifyWebhookSignature(body, signature) {
		obs.CountWebhook(provider, "invalid_signature")
		common.JSONError(w, http.StatusBadRequest, "INVALID_SIGNATURE", "invalid signature", nil)
		return
	}

	var evt razorpayEvent
	if err := json.Unmarshal(body, &evt); err != nil || evt.Event == "" {
		obs.CountWebhook(provider, "bad_payload")
		common.JSONError(w, http.StatusBadRequest, "INVALID_PAYLOAD", "unable to parse event", nil)
		return
	}

	eventID := strings.TrimSpace(r.Header.Get("X-Razorpay-Event-Id"))
	key, fresh := h.claim(r.Context(), provider, eventID, body)
	if !fresh {
		obs.CountWebhook(provider, "duplicate")
		common.JSON(w, http.StatusOK, webhookAck{Received: true, Duplicate: true, Event: evt.Event})
		return
	}

	ev, ok := h.razorpayToEvent(evt)
	if !ok {
		h.Logger.Info().Str("provider", provider).Str("event", evt.Event).Msg("webhook_event_ignored")
		obs.CountWebhook(provider, "ignored")
		common.JSON(w, http.StatusOK, webhookAck{Received: true, Event: evt.Event})
		return
	}
	applied, err := h.Processor.ApplyEvent(r.Context(), ev)
	if err != nil {
		h.fail(r.Context(), w, provider, key, err)
		return
	}
	obs.CountWebhook(provider, "applied")
	common.JSON(w, http.StatusOK, webhookAck{Received: true, Event: evt.Event, Status: statusFor(ev.Kind), Applied: applied})
}

func (h Webhook) razorpayToEvent(evt razorpayEvent) (Event, bool) {
	ev := Event{Provider: MethodRazorpay}
	switch evt.Event {
	case "payment.captured", "payment.failed":
		if evt.Payload.Payment == nil {
			return Event{}, false
		}
		pay := evt.Payload.Payment.Entity
		ev.Kind = EventPaid
		if evt.Event == "payment.failed" {
			ev.Kind = EventFailed
		}
		ev.OrderID = h.Processor.callerOrderID(MethodRazorpay, pay.Notes, pay.OrderID)
		ev.PaymentID = pay.ID
		ev.Amount = FromMinor(pay.Amount)
		ev.Currency = pay.Currency
		ev.Email = nonEmpty(pay.Email, pay.Notes["customer_email"])
	case "order.paid":
		if evt.Payload.Order == nil {
			return Event{}, false
		}
		order := evt.Payload.Order.Entity
		ev.Kind = EventPaid
		ev.OrderID = h.Processor.callerOrderID(MethodRazorpay, order.Notes, order.ID)
		ev.Amount = FromMinor(order.Amount)
		ev.Currency = order.Currency
		ev.Email = order.Notes["customer_email"]
		if evt.Payload.Payment != nil {
			ev.PaymentID = evt.Payload.Payment.Entity.ID
			ev.Email = nonEmpty(evt.Payload.Payment.Entity.Email, ev.Email)
		}
	default:
		return Event{}, false
	}
	return ev, ev.OrderID != ""
}

// PayU handles POST /webhooks/payu. The reply arrives form-encoded; JSON is accepted too.
func (h Webhook) PayU(w http.ResponseWriter, r *http.Request) {
	if h.Processor == nil || h.Processor.PayU == nil {
		common.JSONError(w, http.StatusServiceUnavailable, "PAYMENT_NOT_CONFIGURED", "payu is not configured", nil)
		return
	}
	provider := string(MethodPayU)
	reply, body, err := readPayUReply(w, r)
	if err != nil {
		obs.CountWebhook(provider, "bad_body")
		common.JSONError(w, http.StatusBadRequest, "INVALID_BODY", "unable to read payload", nil)
		return
	}
	if reply.TxnID == "" || reply.Status == "" || reply.Hash == "" {
		obs.CountWebhook(provider, "bad_payload")
		common.JSONError(w, http.StatusBadRequest, "INVALID_PAYLOAD", "txnid, status and hash are required", nil)
		return
	}
	if !h.Processor.PayU.CheckReplyHash(reply) {
		obs.CountWebhook(provider, "invalid_signature")
		common.JSONError(w, http.StatusBadRequest, "INVALID_SIGNATURE", "invalid signature", nil)
		return
	}

	deliveryID := ""
	if reply.MihPayID != "" {
		deliveryID = reply.MihPayID + ":" + reply.Status
	}
	key, fresh := h.claim(r.Context(), provider, deliveryID, body)
	if !fresh {
		obs.CountWebhook(provider, "duplicate")
		common.JSON(w, http.StatusOK, webhookAck{Received: true, Duplicate: true})
		return
	}

	resp := h.Processor.VerifyPayment(r.Context(), MethodPayU, reply)
	switch {
	case resp.Success && resp.OrderUpdateErr != nil:
		h.fail(r.Context(), w, provider, key, resp.OrderUpdateErr)
		return
	case resp.Success:
		obs.CountWebhook(provider, "applied")
		common.JSON(w, http.StatusOK, webhookAck{Received: true, Status: resp.Status})
		return
	case errors.Is(resp.Err, ErrPaymentDeclined) && payuStatus(reply.Status) != StatusFailed:
		// pending or unknown: not a failure, the final reply settles the order
		h.Logger.Info().Str("txn_id", reply.TxnID).Str("gateway_status", reply.Status).Msg("payu_reply_not_final")
		obs.CountWebhook(provider, "pending")
		common.JSON(w, http.StatusOK, webhookAck{Received: true, Status: StatusCreated})
	case errors.Is(resp.Err, ErrPaymentDeclined):
		amount, _ := decimal.NewFromString(reply.Amount)
		applied, err := h.Processor.ApplyEvent(r.Context(), Event{
			Provider:  MethodPayU,
			Kind:      EventFailed,
			OrderID:   reply.UDF1,
			PaymentID: reply.TxnID,
			Amount:    amount,
			Currency:  "INR",
			Email:     reply.Email,
		})
		if err != nil {
			h.fail(r.Context(), w, provider, key, err)
			return
		}
		obs.CountWebhook(provider, "declined")
		common.JSON(w, http.StatusOK, webhookAck{Received: true, Status: StatusFailed, Applied: applied})
	default:
		h.release(r.Context(), key)
		obs.CountWebhook(provider, errorCode(resp.Err))
		common.JSONError(w, HTTPStatus(resp.Err), "VERIFY_FAILED", resp.Error, nil)
	}
}

func readPayUReply(w http.ResponseWriter, r *http.Request) (PayUReply, []byte, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBody)
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			return PayUReply{}, nil, err
		}
		var reply PayUReply
		if err := json.Unmarshal(body, &reply); err != nil {
			return PayUReply{}, nil, err
		}
		return reply, body, nil
	}
	if err := r.ParseForm(); err != nil {
		return PayUReply{}, nil, err
	}
	return PayUReplyFromForm(r.PostForm), []byte(r.PostForm.Encode()), nil
}

// claim records the delivery. The key is the gateway event id when present, otherwise a
// digest of the body. A store outage lets the delivery through since order transitions
// are idempotent.
func (h Webhook) claim(ctx context.Context, provider, id string, body []byte) (string, bool) {
	if h.Replay == nil {
		return "", true
	}
	id = strings.TrimSpace(id)
	if id == "" {
		id = common.Sha256Hex(body)
	}
	key := "wh:" + provider + ":" + id
	ttl := h.ReplayTTL
	if ttl <= 0 {
		ttl = 72 * time.Hour
	}
	ok, err := h.Replay.SetNX(ctx, key, "1", ttl).Result()
	if err != nil {
		h.Logger.Warn().Err(err).Str("provider", provider).Msg("webhook_replay_store_unavailable")
		return "", true
	}
	return key, ok
}

func (h Webhook) release(ctx context.Context, key string) {
	if h.Replay == nil || key == "" {
		return
	}
	if err := h.Replay.Del(ctx, key).Err(); err != nil {
		h.Logger.Warn().Err(err).Str("key", key).Msg("webhook_replay_release_failed")
	}
}

// fail releases the replay claim so the gateway's redelivery is processed.
func (h Webhook) fail(ctx context.Context, w http.ResponseWriter, provider, key string, err error) {
	h.release(ctx, key)
	h.Logger.Error().Err(err).Str("provider", provider).Msg("webhook_apply_failed")
	obs.CountWebhook(provider, "error")
	common.JSONError(w, http.StatusInternalServerError, "ORDER_UPDATE_FAILED", "order update failed", nil)
}

func statusFor(kind EventKind) Status {
	if kind == EventPaid {
		return StatusPaid
	}
	return StatusFailed
}
