package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/noah-isme/toko-pay/internal/obs"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Processor is the single entry point for payments. It dispatches on the method tag and
// normalises every adapter result into a Response. Expected failures are reported in the
// Response, never returned as Go errors.
type Processor struct {
	Razorpay *Razorpay
	PayU     *PayU
	COD      *COD

	Orders   OrderUpdater
	Notifier Notifier
	Ledger   Recorder
	Logger   zerolog.Logger

	// PublicBaseURL supplies default PayU return URLs when the caller omits them.
	PublicBaseURL string
	// Now is overridable in tests.
	Now func() time.Time
}

func (p *Processor) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

func (p *Processor) startSpan(ctx context.Context, op string, m Method) (context.Context, trace.Span) {
	return otel.Tracer("payment").Start(ctx, "payment."+op, trace.WithAttributes(attribute.String("payment.method", string(m))))
}

func endSpan(span trace.Span, resp Response) {
	if resp.Err != nil {
		span.RecordError(resp.Err)
		span.SetStatus(codes.Error, errorCode(resp.Err))
	}
	span.SetAttributes(attribute.Bool("payment.success", resp.Success))
	span.End()
}

func metricMethod(m Method) string {
	if m.Valid() {
		return string(m)
	}
	return "unknown"
}

// CreatePayment opens a payment attempt with the gateway behind m.
func (p *Processor) CreatePayment(ctx context.Context, m Method, req Request) (resp Response) {
	ctx, span := p.startSpan(ctx, "create", m)
	defer func() {
		obs.CountPaymentCreate(metricMethod(m), errorCode(resp.Err))
		endSpan(span, resp)
	}()

	if !m.Valid() {
		return failure(ErrUnsupportedMethod)
	}
	req = p.withDefaults(m, req)
	if err := validateRequest(m, req); err != nil {
		return failure(err)
	}

	switch m {
	case MethodRazorpay:
		resp = p.createRazorpay(ctx, req)
	case MethodPayU:
		resp = p.createPayU(req)
	case MethodCOD:
		resp = p.createCOD(ctx, req)
	}
	p.record(ctx, m, "create", req.OrderID, resp)
	return resp
}

func (p *Processor) withDefaults(m Method, req Request) Request {
	req.Currency = normaliseCurrency(req.Currency)
	req.OrderID = strings.TrimSpace(req.OrderID)
	if m == MethodPayU && req.ReturnURLs == nil && p.PublicBaseURL != "" {
		base := strings.TrimRight(p.PublicBaseURL, "/")
		req.ReturnURLs = &ReturnURLs{Success: base + "/payment/success", Failure: base + "/payment/failure"}
	}
	return req
}

func validateRequest(m Method, req Request) error {
	fields := map[string]string{}
	if err := validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("%w: %v", ErrValidation, err)
		}
		for _, fe := range verrs {
			fields[jsonPath(fe.Namespace())] = describeTag(fe.Tag())
		}
	}
	if !req.Amount.IsPositive() {
		fields["amount"] = "must be greater than zero"
	}
	if m == MethodPayU && req.ReturnURLs == nil {
		fields["returnUrls"] = "is required"
	}
	if len(fields) > 0 {
		return &ValidationError{Fields: fields}
	}
	return nil
}

var jsonNames = map[string]string{
	"OrderID":     "orderId",
	"Customer":    "customerInfo",
	"Name":        "name",
	"Email":       "email",
	"Phone":       "phone",
	"ProductInfo": "productInfo",
	"ReturnURLs":  "returnUrls",
	"Success":     "success",
	"Failure":     "failure",
}

// jsonPath turns "Request.Customer.Email" into "customerInfo.email".
func jsonPath(namespace string) string {
	parts := strings.Split(namespace, ".")
	if len(parts) > 1 {
		parts = parts[1:]
	}
	for i, part := range parts {
		if name, ok := jsonNames[part]; ok {
			parts[i] = name
		}
	}
	return strings.Join(parts, ".")
}

func describeTag(tag string) string {
	switch tag {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email"
	case "url":
		return "must be a valid URL"
	case "max":
		return "is too long"
	default:
		return "is invalid"
	}
}

// RazorpayCheckout is the option set the browser checkout widget is opened with.
type RazorpayCheckout struct {
	Key         string            `json:"key"`
	OrderID     string            `json:"order_id"`
	Amount      int64             `json:"amount"`
	Currency    string            `json:"currency"`
	Name        string            `json:"name"`
	Email       string            `json:"email"`
	Contact     string            `json:"contact"`
	Description string            `json:"description"`
	Prefill     CheckoutPrefill   `json:"prefill"`
	Notes       map[string]string `json:"notes"`
}

// CheckoutPrefill pre-populates the checkout form.
type CheckoutPrefill struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Contact string `json:"contact"`
}

func (p *Processor) createRazorpay(ctx context.Context, req Request) Response {
	if p.Razorpay == nil {
		return failure(notConfigured(MethodRazorpay))
	}
	notes := make(map[string]string, len(req.Notes)+4)
	for k, v := range req.Notes {
		notes[k] = v
	}
	notes["customer_name"] = req.Customer.Name
	notes["customer_email"] = req.Customer.Email
	notes["customer_phone"] = req.Customer.Phone
	notes["order_id"] = req.OrderID

	order, err := p.Razorpay.CreateOrder(ctx, req.Amount, req.Currency, req.OrderID, notes)
	if err != nil {
		return failure(err)
	}
	return Response{
		Success:       true,
		PaymentID:     order.ID,
		OrderID:       req.OrderID,
		Amount:        amountPtr(order.Amount),
		Currency:      order.Currency,
		Status:        StatusCreated,
		GatewayStatus: order.Status,
		PaymentData: RazorpayCheckout{
			Key:         p.Razorpay.KeyID(),
			OrderID:     order.ID,
			Amount:      order.AmountMinor,
			Currency:    order.Currency,
			Name:        req.Customer.Name,
			Email:       req.Customer.Email,
			Contact:     req.Customer.Phone,
			Description: req.ProductInfo,
			Prefill:     CheckoutPrefill{Name: req.Customer.Name, Email: req.Customer.Email, Contact: req.Customer.Phone},
			Notes:       notes,
		},
	}
}

func (p *Processor) createPayU(req Request) Response {
	if p.PayU == nil {
		return failure(notConfigured(MethodPayU))
	}
	txnID := strings.TrimSpace(req.TxnID)
	if txnID == "" {
		txnID = NewTxnID(p.now())
	}
	udf5 := ""
	if len(req.Notes) > 0 {
		encoded, err := json.Marshal(req.Notes)
		if err != nil {
			return failure(invalid("notes", "cannot be encoded"))
		}
		udf5 = string(encoded)
	}
	checkout, err := p.PayU.CreatePaymentRequest(PayUPaymentRequest{
		TxnID:       txnID,
		Amount:      req.Amount,
		ProductInfo: req.ProductInfo,
		FirstName:   req.Customer.Name,
		Email:       req.Customer.Email,
		Phone:       req.Customer.Phone,
		SuccessURL:  req.ReturnURLs.Success,
		FailureURL:  req.ReturnURLs.Failure,
		UDF:         [5]string{req.OrderID, req.Customer.Name, req.Customer.Email, req.Customer.Phone, udf5},
	})
	if err != nil {
		return failure(err)
	}
	return Response{
		Success:     true,
		PaymentID:   checkout.TxnID,
		OrderID:     req.OrderID,
		Amount:      amountPtr(req.Amount),
		Currency:    req.Currency,
		Status:      StatusCreated,
		PaymentURL:  checkout.URL,
		PaymentData: checkout.Fields,
	}
}

func (p *Processor) createCOD(ctx context.Context, req Request) Response {
	cod := p.COD
	if cod == nil {
		cod = &COD{}
	}
	confirmation, err := cod.Create(req.OrderID)
	if err != nil {
		return failure(err)
	}
	resp := Response{
		Success:   true,
		PaymentID: confirmation.PaymentID,
		OrderID:   confirmation.OrderID,
		Amount:    amountPtr(req.Amount),
		Currency:  req.Currency,
		Status:    StatusConfirmed,
	}
	p.settle(ctx, &resp, OrderUpdate{
		OrderID:       confirmation.OrderID,
		Status:        StatusConfirmed,
		PaymentStatus: confirmation.PaymentStatus,
		Method:        MethodCOD,
		PaymentID:     confirmation.PaymentID,
		Amount:        req.Amount,
		Currency:      req.Currency,
	}, req.Customer.Email)
	return resp
}

// VerifyPayment authenticates the gateway proof in v and, on success, marks the order
// paid. A failed verification never mutates the order.
func (p *Processor) VerifyPayment(ctx context.Context, m Method, v Verification) (resp Response) {
	ctx, span := p.startSpan(ctx, "verify", m)
	defer func() {
		obs.CountPaymentVerify(metricMethod(m), errorCode(resp.Err))
		endSpan(span, resp)
	}()

	if !m.Valid() {
		return failure(ErrUnsupportedMethod)
	}
	if v == nil || v.method() != m {
		return failure(invalid("verificationData", fmt.Sprintf("does not match method %s", m)))
	}

	switch data := v.(type) {
	case RazorpayVerification:
		resp = p.verifyRazorpay(ctx, data)
	case PayUReply:
		resp = p.verifyPayU(ctx, data)
	case CODVerification:
		resp = Response{
			Success:   true,
			PaymentID: data.PaymentID,
			OrderID:   data.OrderID,
			Amount:    amountPtr(data.Amount),
			Currency:  data.Currency,
			Status:    StatusConfirmed,
		}
	}
	p.record(ctx, m, "verify", resp.OrderID, resp)
	return resp
}

func (p *Processor) verifyRazorpay(ctx context.Context, v RazorpayVerification) Response {
	if p.Razorpay == nil {
		return failure(notConfigured(MethodRazorpay))
	}
	pay, err := p.Razorpay.VerifyPayment(ctx, v.OrderID, v.PaymentID, v.Signature)
	if err != nil {
		return failure(err)
	}
	orderID := p.callerOrderID(MethodRazorpay, pay.Notes, pay.OrderID)
	if pay.Status == "failed" {
		resp := failure(fmt.Errorf("%w: razorpay payment %s failed", ErrPaymentDeclined, pay.ID))
		resp.PaymentID = pay.ID
		resp.OrderID = orderID
		resp.Status = StatusFailed
		resp.GatewayStatus = pay.Status
		return resp
	}
	resp := Response{
		Success:       true,
		PaymentID:     pay.ID,
		OrderID:       orderID,
		Amount:        amountPtr(pay.Amount),
		Currency:      pay.Currency,
		Status:        StatusPaid,
		GatewayStatus: pay.Status,
	}
	email := nonEmpty(pay.Email, pay.Notes["customer_email"])
	p.settle(ctx, &resp, OrderUpdate{
		OrderID:       orderID,
		Status:        StatusPaid,
		PaymentStatus: "paid",
		Method:        MethodRazorpay,
		PaymentID:     pay.ID,
		Amount:        pay.Amount,
		Currency:      pay.Currency,
	}, email)
	return resp
}

func (p *Processor) verifyPayU(ctx context.Context, reply PayUReply) Response {
	if p.PayU == nil {
		return failure(notConfigured(MethodPayU))
	}
	res, err := p.PayU.VerifyPayment(reply)
	if err != nil {
		resp := failure(err)
		switch {
		case errors.Is(err, ErrPaymentDeclined):
			resp.PaymentID = res.TxnID
			resp.OrderID = res.OrderID
			resp.Status = payuStatus(res.Status)
			resp.GatewayStatus = res.Status
		case errors.Is(err, ErrSignatureInvalid):
			resp.PaymentID = res.TxnID
			resp.GatewayStatus = res.Status
		}
		return resp
	}
	resp := Response{
		Success:       true,
		PaymentID:     res.TxnID,
		OrderID:       res.OrderID,
		Amount:        amountPtr(res.Amount),
		Currency:      "INR",
		Status:        StatusPaid,
		GatewayStatus: res.Status,
	}
	p.settle(ctx, &resp, OrderUpdate{
		OrderID:       res.OrderID,
		Status:        StatusPaid,
		PaymentStatus: "paid",
		Method:        MethodPayU,
		PaymentID:     res.TxnID,
		Amount:        res.Amount,
		Currency:      "INR",
	}, res.Email)
	return resp
}

// GetPaymentStatus is a read-only passthrough. COD has no gateway state to report.
func (p *Processor) GetPaymentStatus(ctx context.Context, m Method, paymentID string) (resp Response) {
	ctx, span := p.startSpan(ctx, "status", m)
	defer func() { endSpan(span, resp) }()

	if !m.Valid() || m == MethodCOD {
		return failure(ErrUnsupportedMethod)
	}
	paymentID = strings.TrimSpace(paymentID)
	if paymentID == "" {
		return failure(invalid("paymentId", "is required"))
	}
	switch m {
	case MethodRazorpay:
		if p.Razorpay == nil {
			return failure(notConfigured(m))
		}
		pay, err := p.Razorpay.FetchPayment(ctx, paymentID)
		if err != nil {
			return failure(err)
		}
		return Response{
			Success:       true,
			PaymentID:     pay.ID,
			OrderID:       p.callerOrderID(m, pay.Notes, pay.OrderID),
			Amount:        amountPtr(pay.Amount),
			Currency:      pay.Currency,
			Status:        razorpayStatus(pay.Status),
			GatewayStatus: pay.Status,
		}
	default:
		if err := p.payuCommands(); err != nil {
			return failure(err)
		}
		txn, err := p.PayU.GetPaymentStatus(ctx, paymentID)
		if err != nil {
			return failure(err)
		}
		return Response{
			Success:       true,
			PaymentID:     txn.TxnID,
			OrderID:       txn.OrderID,
			Amount:        amountPtr(txn.Amount),
			Currency:      "INR",
			Status:        payuStatus(txn.Status),
			GatewayStatus: txn.Status,
		}
	}
}

// CapturePayment captures an authorized Razorpay payment.
func (p *Processor) CapturePayment(ctx context.Context, m Method, req CaptureRequest) (resp Response) {
	ctx, span := p.startSpan(ctx, "capture", m)
	defer func() { endSpan(span, resp) }()

	if m != MethodRazorpay {
		return failure(ErrUnsupportedMethod)
	}
	if p.Razorpay == nil {
		return failure(notConfigured(m))
	}
	if strings.TrimSpace(req.PaymentID) == "" {
		return failure(invalid("paymentId", "is required"))
	}
	if !req.Amount.IsPositive() {
		return failure(invalid("amount", "must be greater than zero"))
	}
	pay, err := p.Razorpay.CapturePayment(ctx, req.PaymentID, req.Amount, req.Currency)
	if err != nil {
		resp = failure(err)
	} else {
		resp = Response{
			Success:       true,
			PaymentID:     pay.ID,
			OrderID:       p.callerOrderID(m, pay.Notes, pay.OrderID),
			Amount:        amountPtr(pay.Amount),
			Currency:      pay.Currency,
			Status:        razorpayStatus(pay.Status),
			GatewayStatus: pay.Status,
		}
	}
	p.record(ctx, m, "capture", resp.OrderID, resp)
	return resp
}

// RefundPayment refunds a payment on either gateway.
func (p *Processor) RefundPayment(ctx context.Context, m Method, req RefundRequest) (resp Response) {
	ctx, span := p.startSpan(ctx, "refund", m)
	defer func() { endSpan(span, resp) }()

	if !m.Valid() || m == MethodCOD {
		return failure(ErrUnsupportedMethod)
	}
	if strings.TrimSpace(req.PaymentID) == "" {
		return failure(invalid("paymentId", "is required"))
	}
	switch m {
	case MethodRazorpay:
		if p.Razorpay == nil {
			return failure(notConfigured(m))
		}
		refund, err := p.Razorpay.RefundPayment(ctx, req.PaymentID, req.Amount, req.Notes)
		if err != nil {
			resp = failure(err)
			break
		}
		resp = Response{
			Success:       true,
			PaymentID:     refund.PaymentID,
			RefundID:      refund.ID,
			Amount:        amountPtr(refund.Amount),
			GatewayStatus: refund.Status,
		}
	default:
		if err := p.payuCommands(); err != nil {
			return failure(err)
		}
		refund, err := p.PayU.RefundPayment(ctx, req.PaymentID, req.Amount)
		if err != nil {
			resp = failure(err)
			break
		}
		resp = Response{
			Success:       true,
			PaymentID:     req.PaymentID,
			RefundID:      refund.RequestID,
			Amount:        amountPtr(refund.Amount),
			Currency:      "INR",
			GatewayStatus: refund.Message,
		}
	}
	p.record(ctx, m, "refund", "", resp)
	return resp
}

// ApplyEvent applies an authenticated webhook event to the order. It is safe to call more
// than once for the same event; notifications are only sent when the state changed.
func (p *Processor) ApplyEvent(ctx context.Context, ev Event) (applied bool, err error) {
	ctx, span := p.startSpan(ctx, "event", ev.Provider)
	defer span.End()

	if strings.TrimSpace(ev.OrderID) == "" {
		return false, invalid("orderId", "is required")
	}
	update := OrderUpdate{
		OrderID:   ev.OrderID,
		Method:    ev.Provider,
		PaymentID: ev.PaymentID,
		Amount:    ev.Amount,
		Currency:  ev.Currency,
	}
	switch ev.Kind {
	case EventPaid:
		update.Status, update.PaymentStatus = StatusPaid, "paid"
	case EventFailed:
		update.Status, update.PaymentStatus = StatusFailed, "failed"
	default:
		return false, invalid("kind", "is unknown")
	}
	applied, err = p.updateOrder(ctx, update)
	if err != nil {
		span.RecordError(err)
		return false, err
	}
	if applied {
		p.notify(ctx, update.OrderID, ev.Email, update.Status)
	}
	p.recordEntry(ctx, LedgerEntry{
		Method:    ev.Provider,
		Operation: "webhook",
		OrderID:   ev.OrderID,
		PaymentID: ev.PaymentID,
		Status:    update.Status,
		Amount:    ev.Amount,
		Currency:  ev.Currency,
		Outcome:   fmt.Sprintf("applied=%t", applied),
	})
	return applied, nil
}

// settle runs the post-payment side effects. Failures are logged and reported on resp
// without touching resp.Success.
func (p *Processor) settle(ctx context.Context, resp *Response, update OrderUpdate, email string) {
	applied, err := p.updateOrder(ctx, update)
	if err != nil {
		resp.OrderUpdateErr = err
		resp.ConfirmationPending = true
		return
	}
	if applied {
		p.notify(ctx, update.OrderID, email, update.Status)
	}
}

func (p *Processor) updateOrder(ctx context.Context, update OrderUpdate) (bool, error) {
	if p.Orders == nil {
		return true, nil
	}
	applied, err := p.Orders.UpdateOrder(ctx, update)
	if err != nil {
		p.Logger.Error().Err(err).
			Str("order_id", update.OrderID).
			Str("method", string(update.Method)).
			Str("status", string(update.Status)).
			Msg("order_update_failed")
		return false, fmt.Errorf("%w: %v", ErrOrderUpdate, err)
	}
	return applied, nil
}

func (p *Processor) notify(ctx context.Context, orderID, email string, status Status) {
	if p.Notifier == nil || strings.TrimSpace(email) == "" {
		return
	}
	var err error
	switch status {
	case StatusPaid, StatusConfirmed:
		err = p.Notifier.OrderConfirmed(ctx, orderID, email)
	default:
		err = p.Notifier.OrderUpdated(ctx, orderID, email, string(status))
	}
	if err != nil {
		p.Logger.Warn().Err(err).Str("order_id", orderID).Msg("notification_failed")
	}
}

// callerOrderID prefers the caller's id carried in notes. The gateway id is a different
// namespace and is only used when notes were lost upstream.
func (p *Processor) callerOrderID(m Method, notes map[string]string, gatewayID string) string {
	if id := strings.TrimSpace(notes["order_id"]); id != "" {
		return id
	}
	if gatewayID != "" {
		p.Logger.Warn().Str("method", string(m)).Str("gateway_order_id", gatewayID).Msg("order_id_missing_from_notes")
	}
	return gatewayID
}

func (p *Processor) record(ctx context.Context, m Method, op, orderID string, resp Response) {
	entry := LedgerEntry{
		Method:    m,
		Operation: op,
		OrderID:   nonEmpty(resp.OrderID, orderID),
		PaymentID: resp.PaymentID,
		Status:    resp.Status,
		Currency:  resp.Currency,
		Outcome:   errorCode(resp.Err),
		Error:     resp.Error,
	}
	if resp.Amount != nil {
		entry.Amount = *resp.Amount
	}
	p.recordEntry(ctx, entry)
}

func (p *Processor) recordEntry(ctx context.Context, entry LedgerEntry) {
	if p.Ledger == nil {
		return
	}
	if err := p.Ledger.Record(ctx, entry); err != nil {
		p.Logger.Warn().Err(err).Str("operation", entry.Operation).Msg("ledger_record_failed")
	}
}

func razorpayStatus(s string) Status {
	switch s {
	case "captured", "refunded":
		return StatusPaid
	case "failed":
		return StatusFailed
	default:
		return StatusCreated
	}
}

// payuCommands checks that the merchant API used for status and refund can authenticate.
func (p *Processor) payuCommands() error {
	if p.PayU == nil {
		return notConfigured(MethodPayU)
	}
	if !p.PayU.CommandsConfigured() {
		return fmt.Errorf("%w: payu status and refund need PAYU_AUTH_HEADER", ErrNotConfigured)
	}
	return nil
}

func payuStatus(s string) Status {
	switch strings.ToLower(s) {
	case "success":
		return StatusPaid
	case "failure", "failed", "dropped", "bounced", "usercancelled":
		return StatusFailed
	default:
		return StatusCreated
	}
}
