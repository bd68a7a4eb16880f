package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/noah-isme/toko-pay/internal/obs"
	"github.com/noah-isme/toko-pay/internal/resilience"
	"github.com/noah-isme/toko-pay/internal/signing"
)

const (
	payuCommandStatus = "verify_payment"
	payuCommandRefund = "cancel_refund_transaction"
)

// PayUConfig holds the hosted-checkout merchant credentials.
type PayUConfig struct {
	MerchantKey string
	Salt        string
	AuthHeader  string
	BaseURL     string
}

// PayU builds signed redirect forms and talks to the merchant postservice API.
type PayU struct {
	cfg    PayUConfig
	client resilience.HTTPClient
}

func NewPayU(cfg PayUConfig, client resilience.HTTPClient) *PayU {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://test.payu.in"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	return &PayU{cfg: cfg, client: client}
}

// PaymentURL is where the browser posts the checkout form.
func (p *PayU) PaymentURL() string { return p.cfg.BaseURL + "/_payment" }

// PayUPaymentRequest is the input to a hosted checkout.
type PayUPaymentRequest struct {
	TxnID       string
	Amount      decimal.Decimal
	ProductInfo string
	FirstName   string
	Email       string
	Phone       string
	SuccessURL  string
	FailureURL  string
	UDF         [5]string
}

// PayUCheckout is the signed form the browser posts to PaymentURL.
type PayUCheckout struct {
	TxnID  string
	Hash   string
	URL    string
	Fields map[string]string
}

// PayUResult is an authenticated reply.
type PayUResult struct {
	TxnID    string
	MihPayID string
	OrderID  string
	Status   string
	Email    string
	Amount   decimal.Decimal
}

// PayUTransaction is a transaction as reported by verify_payment.
type PayUTransaction struct {
	MihPayID    string
	TxnID       string
	OrderID     string
	Amount      decimal.Decimal
	Status      string
	ProductInfo string
	FirstName   string
	Email       string
	Phone       string
	AddedOn     string
}

// PayURefund is the gateway acknowledgement of a refund request.
type PayURefund struct {
	RequestID string
	TokenID   string
	Amount    decimal.Decimal
	Message   string
}

// requestHash: key|txnid|amount|productinfo|firstname|email|udf1..udf5|5 empty|salt.
func (p *PayU) requestHash(txnID, amount, productInfo, firstName, email string, udf [5]string) string {
	return signing.SHA512Hex(signing.PipeJoin(
		p.cfg.MerchantKey, txnID, amount, productInfo, firstName, email,
		udf[0], udf[1], udf[2], udf[3], udf[4],
		"", "", "", "", "",
		p.cfg.Salt,
	))
}

// replyPayload: salt|status|9 empty|udf5..udf1|email|firstname|productinfo|amount|txnid|key,
// prefixed with additionalCharges| when the gateway added charges.
func (p *PayU) replyPayload(r PayUReply) string {
	payload := signing.PipeJoin(
		p.cfg.Salt, r.Status,
		"", "", "", "", "", "", "", "", "",
		r.UDF5, r.UDF4, r.UDF3, r.UDF2, r.UDF1,
		r.Email, r.FirstName, r.ProductInfo, r.Amount, r.TxnID,
		p.cfg.MerchantKey,
	)
	if r.AdditionalCharges != "" {
		payload = r.AdditionalCharges + "|" + payload
	}
	return payload
}

// CommandsConfigured reports whether merchant API calls (status, refund) carry credentials.
func (p *PayU) CommandsConfigured() bool {
	return strings.TrimSpace(p.cfg.AuthHeader) != ""
}

func (p *PayU) commandHash(command, var1 string) string {
	return signing.SHA512Hex(signing.PipeJoin(p.cfg.MerchantKey, command, var1, p.cfg.Salt))
}

// CreatePaymentRequest signs the hosted checkout form. No network call is made.
func (p *PayU) CreatePaymentRequest(req PayUPaymentRequest) (PayUCheckout, error) {
	if strings.TrimSpace(req.TxnID) == "" {
		return PayUCheckout{}, invalid("txnId", "is required")
	}
	if !req.Amount.IsPositive() {
		return PayUCheckout{}, invalid("amount", "must be greater than zero")
	}
	amount := req.Amount.String()
	hash := p.requestHash(req.TxnID, amount, req.ProductInfo, req.FirstName, req.Email, req.UDF)
	fields := map[string]string{
		"key":              p.cfg.MerchantKey,
		"txnid":            req.TxnID,
		"amount":           amount,
		"productinfo":      req.ProductInfo,
		"firstname":        req.FirstName,
		"email":            req.Email,
		"phone":            req.Phone,
		"surl":             req.SuccessURL,
		"furl":             req.FailureURL,
		"hash":             hash,
		"udf1":             req.UDF[0],
		"udf2":             req.UDF[1],
		"udf3":             req.UDF[2],
		"udf4":             req.UDF[3],
		"udf5":             req.UDF[4],
		"service_provider": "payu_paisa",
	}
	return PayUCheckout{TxnID: req.TxnID, Hash: hash, URL: p.PaymentURL(), Fields: fields}, nil
}

// CheckReplyHash reports whether the reply hash is authentic, regardless of status.
func (p *PayU) CheckReplyHash(r PayUReply) bool {
	return signing.VerifySHA512(p.replyPayload(r), r.Hash)
}

// VerifyPayment authenticates a reply. An authentic reply whose status is not "success"
// returns the result alongside ErrPaymentDeclined so the gateway status survives.
func (p *PayU) VerifyPayment(r PayUReply) (PayUResult, error) {
	missing := map[string]string{}
	for field, value := range map[string]string{"txnid": r.TxnID, "status": r.Status, "hash": r.Hash} {
		if strings.TrimSpace(value) == "" {
			missing[field] = "is required"
		}
	}
	if len(missing) > 0 {
		return PayUResult{}, &ValidationError{Fields: missing}
	}
	if !p.CheckReplyHash(r) {
		// reported status kept for diagnostics only
		return PayUResult{TxnID: r.TxnID, MihPayID: r.MihPayID, OrderID: r.UDF1, Status: r.Status}, ErrSignatureInvalid
	}
	amount, _ := decimal.NewFromString(strings.TrimSpace(r.Amount))
	res := PayUResult{
		TxnID:    r.TxnID,
		MihPayID: r.MihPayID,
		OrderID:  r.UDF1,
		Status:   r.Status,
		Email:    r.Email,
		Amount:   amount,
	}
	if r.Status != "success" {
		reason := r.ErrorMessage
		if reason == "" {
			reason = "status " + r.Status
		}
		return res, fmt.Errorf("%w: payu %s", ErrPaymentDeclined, reason)
	}
	return res, nil
}

type payuFlag bool

func (f *payuFlag) UnmarshalJSON(b []byte) error {
	s := strings.Trim(strings.TrimSpace(string(b)), `"`)
	*f = payuFlag(s == "1" || strings.EqualFold(s, "success"))
	return nil
}

type payuTxnWire struct {
	MihPayID    string `json:"mihpayid"`
	TxnID       string `json:"txnid"`
	Amount      string `json:"amount"`
	Amt         string `json:"amt"`
	Status      string `json:"status"`
	ProductInfo string `json:"productinfo"`
	FirstName   string `json:"firstname"`
	Email       string `json:"email"`
	Phone       string `json:"phone"`
	UDF1        string `json:"udf1"`
	AddedOn     string `json:"addedon"`
}

type payuStatusWire struct {
	Status             payuFlag               `json:"status"`
	Msg                string                 `json:"msg"`
	TransactionDetails map[string]payuTxnWire `json:"transaction_details"`
}

type payuRefundWire struct {
	Status    payuFlag `json:"status"`
	Msg       string   `json:"msg"`
	RequestID string   `json:"request_id"`
	RefundID  string   `json:"refund_id"`
}

// GetPaymentStatus queries verify_payment for txnID. Safe to retry.
func (p *PayU) GetPaymentStatus(ctx context.Context, txnID string) (PayUTransaction, error) {
	if strings.TrimSpace(txnID) == "" {
		return PayUTransaction{}, invalid("paymentId", "is required")
	}
	form := url.Values{}
	form.Set("key", p.cfg.MerchantKey)
	form.Set("command", payuCommandStatus)
	form.Set("var1", txnID)
	form.Set("hash", p.commandHash(payuCommandStatus, txnID))

	var wire payuStatusWire
	if err := p.post(ctx, p.client, "status", form, &wire); err != nil {
		return PayUTransaction{}, err
	}
	if !wire.Status {
		return PayUTransaction{}, remoteErr("payu", "status", errors.New(nonEmpty(wire.Msg, "status query rejected")))
	}
	txn, ok := wire.TransactionDetails[txnID]
	if !ok || strings.EqualFold(txn.Status, "not found") {
		return PayUTransaction{}, remoteErr("payu", "status", fmt.Errorf("transaction %s not found", txnID))
	}
	amount, _ := decimal.NewFromString(nonEmpty(txn.Amount, txn.Amt))
	return PayUTransaction{
		MihPayID:    txn.MihPayID,
		TxnID:       nonEmpty(txn.TxnID, txnID),
		OrderID:     txn.UDF1,
		Amount:      amount,
		Status:      txn.Status,
		ProductInfo: txn.ProductInfo,
		FirstName:   txn.FirstName,
		Email:       txn.Email,
		Phone:       txn.Phone,
		AddedOn:     txn.AddedOn,
	}, nil
}

// RefundPayment requests a refund of amount against paymentID (the PayU payment id).
// Each request carries a fresh token so the gateway can deduplicate it.
func (p *PayU) RefundPayment(ctx context.Context, paymentID string, amount decimal.Decimal) (PayURefund, error) {
	if strings.TrimSpace(paymentID) == "" {
		return PayURefund{}, invalid("paymentId", "is required")
	}
	if !amount.IsPositive() {
		return PayURefund{}, invalid("amount", "must be greater than zero")
	}
	token := "RF" + strings.ReplaceAll(uuid.NewString(), "-", "")[:20]
	form := url.Values{}
	form.Set("key", p.cfg.MerchantKey)
	form.Set("command", payuCommandRefund)
	form.Set("var1", paymentID)
	form.Set("var2", token)
	form.Set("var3", amount.StringFixed(2))
	form.Set("hash", p.commandHash(payuCommandRefund, paymentID))

	var wire payuRefundWire
	if err := p.post(ctx, p.client.Once(), "refund", form, &wire); err != nil {
		return PayURefund{}, err
	}
	if !wire.Status {
		return PayURefund{}, remoteErr("payu", "refund", errors.New(nonEmpty(wire.Msg, "refund rejected")))
	}
	return PayURefund{
		RequestID: nonEmpty(wire.RequestID, wire.RefundID),
		TokenID:   token,
		Amount:    amount,
		Message:   wire.Msg,
	}, nil
}

func (p *PayU) post(ctx context.Context, client resilience.HTTPClient, op string, form url.Values, out any) (err error) {
	start := time.Now()
	defer func() { obs.ObserveGatewayCall(string(MethodPayU), op, err, time.Since(start)) }()

	endpoint := p.cfg.BaseURL + "/merchant/postservice.php?form=2"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewBufferString(form.Encode()))
	if err != nil {
		return remoteErr("payu", op, err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", p.cfg.AuthHeader)
	resp, err := client.Do(ctx, req)
	if err != nil {
		return remoteErr("payu", op, err)
	}
	defer func() { _ = resp.Body.Close() }()
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return remoteErr("payu", op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return remoteErr("payu", op, fmt.Errorf("status %d", resp.StatusCode))
	}
	if err := json.Unmarshal(data, out); err != nil {
		return remoteErr("payu", op, fmt.Errorf("decode reply: %w", err))
	}
	return nil
}

// NewTxnID returns TXN_<unix millis>_<9 random chars>.
func NewTxnID(now time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:9]
	return fmt.Sprintf("TXN_%d_%s", now.UnixMilli(), suffix)
}

func nonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
