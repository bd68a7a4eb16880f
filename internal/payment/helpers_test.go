package payment_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/toko-pay/internal/payment"
	"github.com/noah-isme/toko-pay/internal/resilience"
)

const (
	rzpKeyID         = "rzp_test_key"
	rzpKeySecret     = "key_secret"
	rzpWebhookSecret = "webhook_secret"
	payuKey          = "KEY"
	payuSalt         = "SALT"
)

type fakeOrders struct {
	mu      sync.Mutex
	state   map[string]payment.Status
	updates []payment.OrderUpdate
	err     error
}

func newFakeOrders() *fakeOrders {
	return &fakeOrders{state: map[string]payment.Status{}}
}

func (f *fakeOrders) UpdateOrder(_ context.Context, u payment.OrderUpdate) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, f.err
	}
	f.updates = append(f.updates, u)
	current := f.state[u.OrderID]
	if current == u.Status || (current == payment.StatusPaid && u.Status == payment.StatusFailed) {
		return false, nil
	}
	f.state[u.OrderID] = u.Status
	return true, nil
}

func (f *fakeOrders) status(orderID string) payment.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state[orderID]
}

type sentNotice struct {
	OrderID string
	Email   string
	Status  string
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []sentNotice
}

func (f *fakeNotifier) OrderConfirmed(_ context.Context, orderID, email string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentNotice{OrderID: orderID, Email: email, Status: "confirmed"})
	return nil
}

func (f *fakeNotifier) OrderUpdated(_ context.Context, orderID, email, status string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentNotice{OrderID: orderID, Email: email, Status: status})
	return nil
}

func (f *fakeNotifier) notices() []sentNotice {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentNotice(nil), f.sent...)
}

type fakeLedger struct {
	mu      sync.Mutex
	entries []payment.LedgerEntry
}

func (f *fakeLedger) Record(_ context.Context, e payment.LedgerEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, e)
	return nil
}

func testClient(target string) resilience.HTTPClient {
	return resilience.NewGatewayClient(resilience.GatewayClientConfig{
		Target:      target,
		Timeout:     2 * time.Second,
		MaxAttempts: 2,
		BaseBackoff: time.Millisecond,
	})
}

func newRazorpay(baseURL string) *payment.Razorpay {
	return payment.NewRazorpay(payment.RazorpayConfig{
		KeyID:         rzpKeyID,
		KeySecret:     rzpKeySecret,
		WebhookSecret: rzpWebhookSecret,
		BaseURL:       baseURL,
	}, testClient("razorpay"))
}

func newPayU(baseURL string) *payment.PayU {
	return payment.NewPayU(payment.PayUConfig{
		MerchantKey: payuKey,
		Salt:        payuSalt,
		AuthHeader:  "auth-token",
		BaseURL:     baseURL,
	}, testClient("payu"))
}

type harness struct {
	proc     *payment.Processor
	orders   *fakeOrders
	notifier *fakeNotifier
	ledger   *fakeLedger
}

func newHarness(t *testing.T, rzp *payment.Razorpay, payu *payment.PayU) harness {
	t.Helper()
	h := harness{orders: newFakeOrders(), notifier: &fakeNotifier{}, ledger: &fakeLedger{}}
	h.proc = &payment.Processor{
		Razorpay:      rzp,
		PayU:          payu,
		COD:           &payment.COD{},
		Orders:        h.orders,
		Notifier:      h.notifier,
		Ledger:        h.ledger,
		Logger:        zerolog.Nop(),
		PublicBaseURL: "https://shop.example.com",
		Now:           func() time.Time { return time.UnixMilli(1700000000000) },
	}
	return h
}

func sampleRequest(amount string) payment.Request {
	return payment.Request{
		Amount:      decimal.RequireFromString(amount),
		OrderID:     "ORD1",
		Customer:    payment.CustomerInfo{Name: "A", Email: "a@x.com", Phone: "9999999999"},
		ProductInfo: "Item",
	}
}
