package payment_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-pay/internal/payment"
)

func TestCODCreateConfirmsWithoutGateways(t *testing.T) {
	h := newHarness(t, nil, nil)

	resp := h.proc.CreatePayment(context.Background(), payment.MethodCOD, sampleRequest("250"))
	require.True(t, resp.Success, resp.Error)
	require.Equal(t, "COD_ORD1", resp.PaymentID)
	require.Equal(t, payment.StatusConfirmed, resp.Status)
	require.Equal(t, "INR", resp.Currency)
	require.False(t, resp.ConfirmationPending)

	require.Equal(t, payment.StatusConfirmed, h.orders.status("ORD1"))
	require.Len(t, h.orders.updates, 1)
	require.Equal(t, "pending", h.orders.updates[0].PaymentStatus)
	require.Len(t, h.notifier.notices(), 1)
}

func TestCODVerifyIsNoOp(t *testing.T) {
	h := newHarness(t, nil, nil)

	resp := h.proc.VerifyPayment(context.Background(), payment.MethodCOD, payment.CODVerification{
		PaymentID: "COD_ORD1",
		OrderID:   "ORD1",
		Amount:    decimal.NewFromInt(250),
		Currency:  "INR",
	})
	require.True(t, resp.Success)
	require.Equal(t, payment.StatusConfirmed, resp.Status)
	require.Empty(t, h.orders.updates)
}

func TestUnsupportedMethodNeverTouchesAdapters(t *testing.T) {
	h := newHarness(t, nil, nil)
	ctx := context.Background()
	bitcoin := payment.Method("bitcoin")

	responses := []payment.Response{
		h.proc.CreatePayment(ctx, bitcoin, sampleRequest("1")),
		h.proc.VerifyPayment(ctx, bitcoin, payment.RazorpayVerification{}),
		h.proc.GetPaymentStatus(ctx, bitcoin, "pay_1"),
		h.proc.RefundPayment(ctx, bitcoin, payment.RefundRequest{PaymentID: "pay_1"}),
	}
	for _, resp := range responses {
		require.False(t, resp.Success)
		require.Equal(t, "Unsupported payment method", resp.Error)
		require.ErrorIs(t, resp.Err, payment.ErrUnsupportedMethod)
	}
	require.Empty(t, h.orders.updates)
	require.Empty(t, h.ledger.entries)
}

func TestCODStatusIsUnsupported(t *testing.T) {
	h := newHarness(t, nil, nil)
	resp := h.proc.GetPaymentStatus(context.Background(), payment.MethodCOD, "COD_ORD1")
	require.ErrorIs(t, resp.Err, payment.ErrUnsupportedMethod)
}

func TestUnconfiguredGatewayReportsConfigurationError(t *testing.T) {
	h := newHarness(t, nil, nil)

	resp := h.proc.CreatePayment(context.Background(), payment.MethodRazorpay, sampleRequest("10"))
	require.False(t, resp.Success)
	require.ErrorIs(t, resp.Err, payment.ErrNotConfigured)
	require.Contains(t, resp.Error, "razorpay is not configured")

	resp = h.proc.GetPaymentStatus(context.Background(), payment.MethodPayU, "TXN_1")
	require.ErrorIs(t, resp.Err, payment.ErrNotConfigured)
}

func TestCreateValidatesRequest(t *testing.T) {
	h := newHarness(t, nil, nil)
	req := sampleRequest("0")
	req.Customer.Email = "not-an-email"
	req.Customer.Phone = ""

	resp := h.proc.CreatePayment(context.Background(), payment.MethodCOD, req)
	require.False(t, resp.Success)

	var verr *payment.ValidationError
	require.True(t, errors.As(resp.Err, &verr))
	require.Contains(t, verr.Fields, "amount")
	require.Contains(t, verr.Fields, "customerInfo.email")
	require.Contains(t, verr.Fields, "customerInfo.phone")
	require.Empty(t, h.orders.updates)
}

func TestPayURequiresReturnURLsWithoutPublicBase(t *testing.T) {
	h := newHarness(t, nil, newPayU(""))
	h.proc.PublicBaseURL = ""

	resp := h.proc.CreatePayment(context.Background(), payment.MethodPayU, sampleRequest("10"))
	var verr *payment.ValidationError
	require.True(t, errors.As(resp.Err, &verr))
	require.Contains(t, verr.Fields, "returnUrls")
}

func TestVerificationVariantMustMatchMethod(t *testing.T) {
	h := newHarness(t, newRazorpay(""), newPayU(""))

	resp := h.proc.VerifyPayment(context.Background(), payment.MethodPayU, payment.RazorpayVerification{OrderID: "o", PaymentID: "p", Signature: "s"})
	require.ErrorIs(t, resp.Err, payment.ErrValidation)

	resp = h.proc.VerifyPayment(context.Background(), payment.MethodRazorpay, nil)
	require.ErrorIs(t, resp.Err, payment.ErrValidation)
}

func TestOrderUpdateFailureDoesNotFlipSuccess(t *testing.T) {
	h := newHarness(t, nil, newPayU(""))
	h.orders.err = errors.New("order store down")

	resp := h.proc.VerifyPayment(context.Background(), payment.MethodPayU, signedReply("success"))
	require.True(t, resp.Success)
	require.True(t, resp.ConfirmationPending)
	require.ErrorIs(t, resp.OrderUpdateErr, payment.ErrOrderUpdate)
	require.Empty(t, h.notifier.notices())

	cod := h.proc.CreatePayment(context.Background(), payment.MethodCOD, sampleRequest("10"))
	require.True(t, cod.Success)
	require.True(t, cod.ConfirmationPending)
}

func TestPayUVerifySuccessMarksOrderPaidOnce(t *testing.T) {
	h := newHarness(t, nil, newPayU(""))

	first := h.proc.VerifyPayment(context.Background(), payment.MethodPayU, signedReply("success"))
	second := h.proc.VerifyPayment(context.Background(), payment.MethodPayU, signedReply("success"))
	require.True(t, first.Success)
	require.Equal(t, first.Status, second.Status)
	require.Equal(t, payment.StatusPaid, h.orders.status("ORD1"))
	require.Len(t, h.notifier.notices(), 1)
}

func TestPayUDeclinedVerifyLeavesOrderAlone(t *testing.T) {
	h := newHarness(t, nil, newPayU(""))

	resp := h.proc.VerifyPayment(context.Background(), payment.MethodPayU, signedReply("failure"))
	require.False(t, resp.Success)
	require.ErrorIs(t, resp.Err, payment.ErrPaymentDeclined)
	require.Equal(t, "failure", resp.GatewayStatus)
	require.Equal(t, "ORD1", resp.OrderID)
	require.Empty(t, h.orders.updates)
}

func TestPayUPendingVerifyIsNotFailed(t *testing.T) {
	h := newHarness(t, nil, newPayU(""))

	resp := h.proc.VerifyPayment(context.Background(), payment.MethodPayU, signedReply("pending"))
	require.False(t, resp.Success)
	require.Equal(t, payment.StatusCreated, resp.Status)
	require.Equal(t, "pending", resp.GatewayStatus)
	require.Empty(t, h.orders.updates)
}

func TestPayUTamperedReplyKeepsGatewayStatus(t *testing.T) {
	h := newHarness(t, nil, newPayU(""))
	reply := signedReply("failure")
	reply.Amount = "5000"

	resp := h.proc.VerifyPayment(context.Background(), payment.MethodPayU, reply)
	require.False(t, resp.Success)
	require.ErrorIs(t, resp.Err, payment.ErrSignatureInvalid)
	require.Equal(t, "invalid signature", resp.Error)
	require.Equal(t, "failure", resp.GatewayStatus)
	require.Equal(t, "TXN_X", resp.PaymentID)
	require.Empty(t, resp.OrderID)
	require.Empty(t, h.orders.updates)
}

func TestPayUMerchantCallsNeedAuthHeader(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	t.Cleanup(srv.Close)

	payu := payment.NewPayU(payment.PayUConfig{MerchantKey: payuKey, Salt: payuSalt, BaseURL: srv.URL}, testClient("payu"))
	h := newHarness(t, nil, payu)
	ctx := context.Background()

	status := h.proc.GetPaymentStatus(ctx, payment.MethodPayU, "TXN_X")
	require.ErrorIs(t, status.Err, payment.ErrNotConfigured)
	require.Equal(t, 503, payment.HTTPStatus(status.Err))

	refund := h.proc.RefundPayment(ctx, payment.MethodPayU, payment.RefundRequest{PaymentID: "403993715521", Amount: decimal.NewFromInt(10)})
	require.ErrorIs(t, refund.Err, payment.ErrNotConfigured)
	require.Zero(t, calls.Load())

	// hosted checkout only needs key and salt
	created := h.proc.CreatePayment(ctx, payment.MethodPayU, sampleRequest("500"))
	require.True(t, created.Success, created.Error)
}

func TestApplyEventNeverDowngradesPaidOrder(t *testing.T) {
	h := newHarness(t, nil, nil)
	ctx := context.Background()
	paid := payment.Event{Provider: payment.MethodRazorpay, Kind: payment.EventPaid, OrderID: "ORD1", Email: "a@x.com"}

	applied, err := h.proc.ApplyEvent(ctx, paid)
	require.NoError(t, err)
	require.True(t, applied)

	applied, err = h.proc.ApplyEvent(ctx, paid)
	require.NoError(t, err)
	require.False(t, applied)

	failed := paid
	failed.Kind = payment.EventFailed
	applied, err = h.proc.ApplyEvent(ctx, failed)
	require.NoError(t, err)
	require.False(t, applied)
	require.Equal(t, payment.StatusPaid, h.orders.status("ORD1"))
	require.Len(t, h.notifier.notices(), 1)
}

func TestLedgerRecordsOutcomes(t *testing.T) {
	h := newHarness(t, nil, nil)
	h.proc.CreatePayment(context.Background(), payment.MethodCOD, sampleRequest("10"))
	h.proc.CreatePayment(context.Background(), payment.MethodRazorpay, sampleRequest("10"))

	require.Len(t, h.ledger.entries, 2)
	require.Equal(t, "success", h.ledger.entries[0].Outcome)
	require.Equal(t, "not_configured", h.ledger.entries[1].Outcome)
	require.Equal(t, "ORD1", h.ledger.entries[1].OrderID)
}

func TestHTTPStatusMapping(t *testing.T) {
	require.Equal(t, 400, payment.HTTPStatus(payment.ErrUnsupportedMethod))
	require.Equal(t, 400, payment.HTTPStatus(&payment.ValidationError{}))
	require.Equal(t, 400, payment.HTTPStatus(payment.ErrSignatureInvalid))
	require.Equal(t, 402, payment.HTTPStatus(payment.ErrPaymentDeclined))
	require.Equal(t, 502, payment.HTTPStatus(payment.ErrRemoteCall))
	require.Equal(t, 503, payment.HTTPStatus(payment.ErrNotConfigured))
	require.Equal(t, 200, payment.HTTPStatus(nil))
}
