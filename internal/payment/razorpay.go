package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/noah-isme/toko-pay/internal/obs"
	"github.com/noah-isme/toko-pay/internal/resilience"
	"github.com/noah-isme/toko-pay/internal/signing"
)

const razorpaySource = "toko-pay"

// RazorpayConfig holds the aggregator credentials. KeySecret signs checkout replies;
// WebhookSecret signs webhook deliveries.
type RazorpayConfig struct {
	KeyID         string
	KeySecret     string
	WebhookSecret string
	BaseURL       string
}

// Razorpay talks to the Razorpay orders/payments REST API.
type Razorpay struct {
	cfg    RazorpayConfig
	client resilience.HTTPClient
}

// NewRazorpay builds an adapter. Calls that create or move money never retry.
func NewRazorpay(cfg RazorpayConfig, client resilience.HTTPClient) *Razorpay {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.razorpay.com/v1"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &Razorpay{cfg: cfg, client: client}
}

// KeyID is the public key handed to the browser checkout.
func (r *Razorpay) KeyID() string { return r.cfg.KeyID }

// RazorpayNotes decodes the notes object. Razorpay serialises empty notes as [] and may
// carry non-string values, both of which are tolerated.
type RazorpayNotes map[string]string

func (n *RazorpayNotes) UnmarshalJSON(b []byte) error {
	trimmed := bytes.TrimSpace(b)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		*n = RazorpayNotes{}
		return nil
	}
	var raw map[string]any
	if err := json.Unmarshal(trimmed, &raw); err != nil {
		return err
	}
	out := make(RazorpayNotes, len(raw))
	for k, v := range raw {
		switch val := v.(type) {
		case string:
			out[k] = val
		case nil:
		default:
			out[k] = fmt.Sprint(val)
		}
	}
	*n = out
	return nil
}

// RazorpayOrder is a created checkout order. Amount is in major units.
type RazorpayOrder struct {
	ID          string
	Amount      decimal.Decimal
	AmountMinor int64
	Currency    string
	Receipt     string
	Status      string
	CreatedAt   int64
}

// RazorpayPayment is a payment as reported by the gateway. Amount is in major units.
type RazorpayPayment struct {
	ID          string
	OrderID     string
	Amount      decimal.Decimal
	Currency    string
	Status      string
	Method      string
	Captured    bool
	Email       string
	Contact     string
	Notes       RazorpayNotes
	Description string
	CreatedAt   int64
}

// RazorpayRefund is a refund record. Amount is in major units.
type RazorpayRefund struct {
	ID        string
	PaymentID string
	Amount    decimal.Decimal
	Status    string
	CreatedAt int64
}

type razorpayOrderWire struct {
	ID        string        `json:"id"`
	Amount    int64         `json:"amount"`
	Currency  string        `json:"currency"`
	Receipt   string        `json:"receipt"`
	Status    string        `json:"status"`
	Notes     RazorpayNotes `json:"notes"`
	CreatedAt int64         `json:"created_at"`
}

type razorpayPaymentWire struct {
	ID          string        `json:"id"`
	OrderID     string        `json:"order_id"`
	Amount      int64         `json:"amount"`
	Currency    string        `json:"currency"`
	Status      string        `json:"status"`
	Method      string        `json:"method"`
	Captured    bool          `json:"captured"`
	Email       string        `json:"email"`
	Contact     string        `json:"contact"`
	Notes       RazorpayNotes `json:"notes"`
	Description string        `json:"description"`
	CreatedAt   int64         `json:"created_at"`
}

func (w razorpayPaymentWire) normalise() RazorpayPayment {
	return RazorpayPayment{
		ID:          w.ID,
		OrderID:     w.OrderID,
		Amount:      FromMinor(w.Amount),
		Currency:    w.Currency,
		Status:      w.Status,
		Method:      w.Method,
		Captured:    w.Captured,
		Email:       w.Email,
		Contact:     w.Contact,
		Notes:       w.Notes,
		Description: w.Description,
		CreatedAt:   w.CreatedAt,
	}
}

type razorpayRefundWire struct {
	ID        string `json:"id"`
	PaymentID string `json:"payment_id"`
	Amount    int64  `json:"amount"`
	Status    string `json:"status"`
	CreatedAt int64  `json:"created_at"`
}

type razorpayErrorWire struct {
	Error struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"error"`
}

// ToMinor converts a major-unit amount to integer minor units.
func ToMinor(amount decimal.Decimal) int64 {
	return amount.Mul(decimal.NewFromInt(100)).Round(0).IntPart()
}

// FromMinor converts integer minor units back to major units.
func FromMinor(minor int64) decimal.Decimal {
	return decimal.New(minor, -2)
}

// CreateOrder opens a checkout order. notes always carry order_id and source so webhooks
// can be mapped back to the caller's order.
func (r *Razorpay) CreateOrder(ctx context.Context, amount decimal.Decimal, currency, receipt string, notes map[string]string) (RazorpayOrder, error) {
	out := make(map[string]string, len(notes)+2)
	for k, v := range notes {
		out[k] = v
	}
	out["order_id"] = receipt
	out["source"] = razorpaySource

	body := map[string]any{
		"amount":   ToMinor(amount),
		"currency": normaliseCurrency(currency),
		"receipt":  receipt,
		"notes":    out,
	}
	var wire razorpayOrderWire
	if err := r.call(ctx, r.client.Once(), "create_order", http.MethodPost, "/orders", body, &wire); err != nil {
		return RazorpayOrder{}, err
	}
	return RazorpayOrder{
		ID:          wire.ID,
		Amount:      FromMinor(wire.Amount),
		AmountMinor: wire.Amount,
		Currency:    wire.Currency,
		Receipt:     wire.Receipt,
		Status:      wire.Status,
		CreatedAt:   wire.CreatedAt,
	}, nil
}

// CheckSignature reports whether signature is the checkout signature for the pair.
func (r *Razorpay) CheckSignature(orderID, paymentID, signature string) bool {
	return signing.VerifyHMACSHA256([]byte(orderID+"|"+paymentID), r.cfg.KeySecret, signature)
}

// VerifyPayment checks the checkout signature and then fetches the payment. A bad
// signature is ErrSignatureInvalid and never reaches the network.
func (r *Razorpay) VerifyPayment(ctx context.Context, orderID, paymentID, signature string) (RazorpayPayment, error) {
	missing := map[string]string{}
	for field, value := range map[string]string{
		"razorpay_order_id":   orderID,
		"razorpay_payment_id": paymentID,
		"razorpay_signature":  signature,
	} {
		if strings.TrimSpace(value) == "" {
			missing[field] = "is required"
		}
	}
	if len(missing) > 0 {
		return RazorpayPayment{}, &ValidationError{Fields: missing}
	}
	if !r.CheckSignature(orderID, paymentID, signature) {
		return RazorpayPayment{}, ErrSignatureInvalid
	}
	return r.FetchPayment(ctx, paymentID)
}

// FetchPayment reads a payment. Safe to retry.
func (r *Razorpay) FetchPayment(ctx context.Context, paymentID string) (RazorpayPayment, error) {
	var wire razorpayPaymentWire
	path := "/payments/" + url.PathEscape(paymentID)
	if err := r.call(ctx, r.client, "fetch_payment", http.MethodGet, path, nil, &wire); err != nil {
		return RazorpayPayment{}, err
	}
	return wire.normalise(), nil
}

// CapturePayment captures an authorized payment for amount.
func (r *Razorpay) CapturePayment(ctx context.Context, paymentID string, amount decimal.Decimal, currency string) (RazorpayPayment, error) {
	body := map[string]any{
		"amount":   ToMinor(amount),
		"currency": normaliseCurrency(currency),
	}
	var wire razorpayPaymentWire
	path := "/payments/" + url.PathEscape(paymentID) + "/capture"
	if err := r.call(ctx, r.client.Once(), "capture", http.MethodPost, path, body, &wire); err != nil {
		return RazorpayPayment{}, err
	}
	return wire.normalise(), nil
}

// RefundPayment refunds amount, or the full payment when amount is zero.
func (r *Razorpay) RefundPayment(ctx context.Context, paymentID string, amount decimal.Decimal, notes map[string]string) (RazorpayRefund, error) {
	out := make(map[string]string, len(notes)+1)
	for k, v := range notes {
		out[k] = v
	}
	if _, ok := out["reason"]; !ok {
		out["reason"] = "requested_by_customer"
	}
	body := map[string]any{"notes": out}
	if amount.IsPositive() {
		body["amount"] = ToMinor(amount)
	}
	var wire razorpayRefundWire
	path := "/payments/" + url.PathEscape(paymentID) + "/refund"
	if err := r.call(ctx, r.client.Once(), "refund", http.MethodPost, path, body, &wire); err != nil {
		return RazorpayRefund{}, err
	}
	return RazorpayRefund{
		ID:        wire.ID,
		PaymentID: wire.PaymentID,
		Amount:    FromMinor(wire.Amount),
		Status:    wire.Status,
		CreatedAt: wire.CreatedAt,
	}, nil
}

// VerifyWebhookSignature checks signature against the raw request body.
func (r *Razorpay) VerifyWebhookSignature(body []byte, signature string) bool {
	return signing.VerifyHMACSHA256(body, r.cfg.WebhookSecret, signature)
}

func (r *Razorpay) call(ctx context.Context, client resilience.HTTPClient, op, method, path string, body, out any) (err error) {
	start := time.Now()
	defer func() { obs.ObserveGatewayCall(string(MethodRazorpay), op, err, time.Since(start)) }()

	var reader io.Reader
	if body != nil {
		payload, mErr := json.Marshal(body)
		if mErr != nil {
			return fmt.Errorf("encode %s: %w", op, mErr)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, r.cfg.BaseURL+path, reader)
	if err != nil {
		return remoteErr("razorpay", op, err)
	}
	req.SetBasicAuth(r.cfg.KeyID, r.cfg.KeySecret)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := client.Do(ctx, req)
	if err != nil {
		return remoteErr("razorpay", op, err)
	}
	defer func() { _ = resp.Body.Close() }()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return remoteErr("razorpay", op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr razorpayErrorWire
		if jsonErr := json.Unmarshal(data, &apiErr); jsonErr == nil && apiErr.Error.Code != "" {
			return remoteErr("razorpay", op, fmt.Errorf("%s: %s (status %d)", apiErr.Error.Code, apiErr.Error.Description, resp.StatusCode))
		}
		return remoteErr("razorpay", op, fmt.Errorf("status %d", resp.StatusCode))
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return remoteErr("razorpay", op, fmt.Errorf("decode reply: %w", err))
	}
	return nil
}
