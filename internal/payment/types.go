package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"

	"github.com/shopspring/decimal"
)

// Method identifies a payment method. The set is closed.
type Method string

const (
	MethodRazorpay Method = "razorpay"
	MethodPayU     Method = "payu"
	MethodCOD      Method = "cod"
)

// Valid reports whether m is one of the supported methods.
func (m Method) Valid() bool {
	switch m {
	case MethodRazorpay, MethodPayU, MethodCOD:
		return true
	}
	return false
}

// Status is the normalised payment status tag.
type Status string

const (
	StatusCreated   Status = "created"
	StatusPaid      Status = "paid"
	StatusConfirmed Status = "confirmed"
	StatusFailed    Status = "failed"
)

// CustomerInfo identifies the payer. All three fields are required by every method.
type CustomerInfo struct {
	Name  string `json:"name" validate:"required"`
	Email string `json:"email" validate:"required,email"`
	Phone string `json:"phone" validate:"required"`
}

// ReturnURLs are the browser landing pages for redirect gateways.
type ReturnURLs struct {
	Success string `json:"success" validate:"required,url"`
	Failure string `json:"failure" validate:"required,url"`
}

// Request is a normalised intent to charge.
type Request struct {
	Amount      decimal.Decimal   `json:"amount"`
	Currency    string            `json:"currency,omitempty"`
	OrderID     string            `json:"orderId" validate:"required,max=40"`
	Customer    CustomerInfo      `json:"customerInfo"`
	ProductInfo string            `json:"productInfo" validate:"required"`
	ReturnURLs  *ReturnURLs       `json:"returnUrls,omitempty"`
	Notes       map[string]string `json:"notes,omitempty"`
	// TxnID lets callers pin the PayU transaction id. Generated when empty.
	TxnID string `json:"txnId,omitempty"`
}

// Response is the normalised outcome of every processor operation.
type Response struct {
	Success             bool             `json:"success"`
	PaymentID           string           `json:"paymentId,omitempty"`
	OrderID             string           `json:"orderId,omitempty"`
	RefundID            string           `json:"refundId,omitempty"`
	Amount              *decimal.Decimal `json:"amount,omitempty"`
	Currency            string           `json:"currency,omitempty"`
	Status              Status           `json:"status,omitempty"`
	GatewayStatus       string           `json:"gatewayStatus,omitempty"`
	PaymentURL          string           `json:"paymentUrl,omitempty"`
	PaymentData         any              `json:"paymentData,omitempty"`
	ConfirmationPending bool             `json:"confirmationPending,omitempty"`
	Error               string           `json:"error,omitempty"`

	// Err is the typed failure behind Error.
	Err error `json:"-"`
	// OrderUpdateErr reports a failed order side effect. It never flips Success.
	OrderUpdateErr error `json:"-"`
}

func failure(err error) Response {
	return Response{Success: false, Error: PublicMessage(err), Err: err}
}

func amountPtr(d decimal.Decimal) *decimal.Decimal { return &d }

// Verification is the method-specific proof returned by a gateway.
type Verification interface {
	method() Method
}

// RazorpayVerification is the checkout handler payload.
type RazorpayVerification struct {
	OrderID   string `json:"razorpay_order_id"`
	PaymentID string `json:"razorpay_payment_id"`
	Signature string `json:"razorpay_signature"`
}

func (RazorpayVerification) method() Method { return MethodRazorpay }

// PayUReply carries the reply fields PayU posts back. Values must be kept exactly as
// received since they feed the reply hash.
type PayUReply struct {
	MihPayID          string `json:"mihpayid"`
	TxnID             string `json:"txnid"`
	Amount            string `json:"amount"`
	ProductInfo       string `json:"productinfo"`
	FirstName         string `json:"firstname"`
	Email             string `json:"email"`
	Phone             string `json:"phone"`
	UDF1              string `json:"udf1"`
	UDF2              string `json:"udf2"`
	UDF3              string `json:"udf3"`
	UDF4              string `json:"udf4"`
	UDF5              string `json:"udf5"`
	Status            string `json:"status"`
	Hash              string `json:"hash"`
	AdditionalCharges string `json:"additionalCharges,omitempty"`
	ErrorMessage      string `json:"error_Message,omitempty"`
}

func (PayUReply) method() Method { return MethodPayU }

// PayUReplyFromForm reads reply fields from a form post.
func PayUReplyFromForm(v url.Values) PayUReply {
	return PayUReply{
		MihPayID:          v.Get("mihpayid"),
		TxnID:             v.Get("txnid"),
		Amount:            v.Get("amount"),
		ProductInfo:       v.Get("productinfo"),
		FirstName:         v.Get("firstname"),
		Email:             v.Get("email"),
		Phone:             v.Get("phone"),
		UDF1:              v.Get("udf1"),
		UDF2:              v.Get("udf2"),
		UDF3:              v.Get("udf3"),
		UDF4:              v.Get("udf4"),
		UDF5:              v.Get("udf5"),
		Status:            v.Get("status"),
		Hash:              v.Get("hash"),
		AdditionalCharges: v.Get("additionalCharges"),
		ErrorMessage:      v.Get("error_Message"),
	}
}

// CODVerification echoes the order being confirmed.
type CODVerification struct {
	PaymentID string          `json:"paymentId"`
	OrderID   string          `json:"orderId"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency"`
}

func (CODVerification) method() Method { return MethodCOD }

// DecodeVerification decodes raw into the variant that belongs to m.
func DecodeVerification(m Method, raw json.RawMessage) (Verification, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, invalid("verificationData", "is required")
	}
	var (
		v   Verification
		err error
	)
	switch m {
	case MethodRazorpay:
		var rv RazorpayVerification
		err = json.Unmarshal(raw, &rv)
		v = rv
	case MethodPayU:
		var pv PayUReply
		err = json.Unmarshal(raw, &pv)
		v = pv
	case MethodCOD:
		var cv CODVerification
		err = json.Unmarshal(raw, &cv)
		v = cv
	default:
		return nil, ErrUnsupportedMethod
	}
	if err != nil {
		return nil, invalid("verificationData", fmt.Sprintf("is malformed: %v", err))
	}
	return v, nil
}

// CaptureRequest captures an authorized payment.
type CaptureRequest struct {
	PaymentID string          `json:"paymentId"`
	Amount    decimal.Decimal `json:"amount"`
	Currency  string          `json:"currency,omitempty"`
}

// RefundRequest refunds a captured payment. A zero amount refunds in full where the gateway
// allows it.
type RefundRequest struct {
	PaymentID string            `json:"paymentId"`
	Amount    decimal.Decimal   `json:"amount"`
	Notes     map[string]string `json:"notes,omitempty"`
}

// EventKind is the outcome an authenticated gateway notification reports.
type EventKind string

const (
	EventPaid   EventKind = "paid"
	EventFailed EventKind = "failed"
)

// Event is an authenticated asynchronous gateway notification.
type Event struct {
	Provider  Method
	Kind      EventKind
	OrderID   string
	PaymentID string
	Amount    decimal.Decimal
	Currency  string
	Email     string
}

// OrderUpdate is the state change pushed to the order store.
type OrderUpdate struct {
	OrderID       string
	Status        Status
	PaymentStatus string
	Method        Method
	PaymentID     string
	Amount        decimal.Decimal
	Currency      string
}

// OrderUpdater applies order transitions. applied is false when the order was already in
// the requested state.
type OrderUpdater interface {
	UpdateOrder(ctx context.Context, u OrderUpdate) (applied bool, err error)
}

// Notifier delivers customer notifications.
type Notifier interface {
	OrderConfirmed(ctx context.Context, orderID, email string) error
	OrderUpdated(ctx context.Context, orderID, email, status string) error
}

// LedgerEntry is one row of the append-only payment history.
type LedgerEntry struct {
	Method    Method
	Operation string
	OrderID   string
	PaymentID string
	Status    Status
	Amount    decimal.Decimal
	Currency  string
	Outcome   string
	Error     string
}

// Recorder persists ledger entries.
type Recorder interface {
	Record(ctx context.Context, e LedgerEntry) error
}

func normaliseCurrency(c string) string {
	c = strings.ToUpper(strings.TrimSpace(c))
	if c == "" {
		return "INR"
	}
	return c
}
