package payment_test

import (
	"context"
	"crypto/sha512"
	"encoding/hex"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-pay/internal/payment"
)

// udf5 and the five reserved fields are empty, so seven pipes sit between udf4 and the salt.
const requestLayout = "KEY|TXN_X|500|Item|A|a@x.com|ORD1|A|a@x.com|9999999999|" + "" + "||||||SALT"

func sha512Lower(s string) string {
	sum := sha512.Sum512([]byte(s))
	return hex.EncodeToString(sum[:])
}

// signedReply builds a reply hashed with the reverse layout the gateway uses.
func signedReply(status string) payment.PayUReply {
	r := payment.PayUReply{
		MihPayID:    "403993715521",
		TxnID:       "TXN_X",
		Amount:      "500",
		ProductInfo: "Item",
		FirstName:   "A",
		Email:       "a@x.com",
		Phone:       "9999999999",
		UDF1:        "ORD1",
		UDF2:        "A",
		UDF3:        "a@x.com",
		UDF4:        "9999999999",
		Status:      status,
	}
	r.Hash = sha512Lower("SALT|" + status + "||||||||||" + "|9999999999|a@x.com|A|ORD1|a@x.com|A|Item|500|TXN_X|KEY")
	return r
}

func TestPayURequestHashMatchesKnownLayout(t *testing.T) {
	p := newPayU("https://test.payu.in")
	checkout, err := p.CreatePaymentRequest(payment.PayUPaymentRequest{
		TxnID:       "TXN_X",
		Amount:      decimal.NewFromInt(500),
		ProductInfo: "Item",
		FirstName:   "A",
		Email:       "a@x.com",
		Phone:       "9999999999",
		SuccessURL:  "https://shop.example.com/payment/success",
		FailureURL:  "https://shop.example.com/payment/failure",
		UDF:         [5]string{"ORD1", "A", "a@x.com", "9999999999", ""},
	})
	require.NoError(t, err)

	want := sha512Lower(requestLayout)
	require.Equal(t, want, checkout.Hash)
	require.Equal(t, want, checkout.Fields["hash"])
	require.Equal(t, "500", checkout.Fields["amount"])
	require.Equal(t, "https://test.payu.in/_payment", checkout.URL)
}

func TestProcessorPayUCreateEmbedsOrderInUDF1(t *testing.T) {
	h := newHarness(t, nil, newPayU("https://test.payu.in"))
	req := sampleRequest("500")
	req.TxnID = "TXN_X"

	resp := h.proc.CreatePayment(context.Background(), payment.MethodPayU, req)
	require.True(t, resp.Success, resp.Error)
	require.Equal(t, "TXN_X", resp.PaymentID)
	require.Equal(t, payment.StatusCreated, resp.Status)
	require.Equal(t, "https://test.payu.in/_payment", resp.PaymentURL)

	fields, ok := resp.PaymentData.(map[string]string)
	require.True(t, ok)
	require.Equal(t, "ORD1", fields["udf1"])
	require.Equal(t, "", fields["udf5"])
	require.Equal(t, "https://shop.example.com/payment/success", fields["surl"])
	require.Equal(t, sha512Lower(requestLayout), fields["hash"])
}

func TestProcessorPayUGeneratesTxnID(t *testing.T) {
	h := newHarness(t, nil, newPayU(""))
	req := sampleRequest("500")
	req.Notes = map[string]string{"gift": "yes"}

	resp := h.proc.CreatePayment(context.Background(), payment.MethodPayU, req)
	require.True(t, resp.Success, resp.Error)
	require.Regexp(t, `^TXN_1700000000000_[0-9a-f]{9}$`, resp.PaymentID)
	fields := resp.PaymentData.(map[string]string)
	require.JSONEq(t, `{"gift":"yes"}`, fields["udf5"])
}

func TestPayUOutboundHashIsNotAReplyHash(t *testing.T) {
	p := newPayU("")
	checkout, err := p.CreatePaymentRequest(payment.PayUPaymentRequest{
		TxnID: "TXN_X", Amount: decimal.NewFromInt(500), ProductInfo: "Item", FirstName: "A", Email: "a@x.com",
		UDF: [5]string{"ORD1", "A", "a@x.com", "9999999999", ""},
	})
	require.NoError(t, err)

	reply := signedReply("success")
	reply.Hash = checkout.Hash
	_, err = p.VerifyPayment(reply)
	require.ErrorIs(t, err, payment.ErrSignatureInvalid)

	_, err = p.VerifyPayment(signedReply("success"))
	require.NoError(t, err)
}

func TestPayUVerifyIgnoresHashCase(t *testing.T) {
	p := newPayU("")
	reply := signedReply("success")
	reply.Hash = strings.ToUpper(reply.Hash)

	res, err := p.VerifyPayment(reply)
	require.NoError(t, err)
	require.Equal(t, "ORD1", res.OrderID)
	require.True(t, res.Amount.Equal(decimal.NewFromInt(500)))
}

func TestPayUAuthenticFailureKeepsGatewayStatus(t *testing.T) {
	p := newPayU("")
	res, err := p.VerifyPayment(signedReply("failure"))
	require.ErrorIs(t, err, payment.ErrPaymentDeclined)
	require.Equal(t, "failure", res.Status)
	require.Equal(t, "TXN_X", res.TxnID)
}

func TestPayUReplyWithAdditionalCharges(t *testing.T) {
	p := newPayU("")
	reply := signedReply("success")
	reply.AdditionalCharges = "10.00"
	require.False(t, p.CheckReplyHash(reply))

	reply.Hash = sha512Lower("10.00|SALT|success||||||||||" + "|9999999999|a@x.com|A|ORD1|a@x.com|A|Item|500|TXN_X|KEY")
	require.True(t, p.CheckReplyHash(reply))
}

func TestPayUMutatedReplyFails(t *testing.T) {
	p := newPayU("")
	reply := signedReply("success")
	reply.Amount = "5000"
	res, err := p.VerifyPayment(reply)
	require.ErrorIs(t, err, payment.ErrSignatureInvalid)
	require.Equal(t, "success", res.Status)
	require.True(t, res.Amount.IsZero())
}

func TestPayUStatusQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		form, _ := url.ParseQuery(string(body))
		switch {
		case r.URL.Path != "/merchant/postservice.php" || r.URL.Query().Get("form") != "2":
			w.WriteHeader(http.StatusNotFound)
			return
		case r.Header.Get("Authorization") != "auth-token":
			w.WriteHeader(http.StatusUnauthorized)
			return
		case form.Get("command") != "verify_payment" || form.Get("hash") != sha512Lower("KEY|verify_payment|TXN_X|SALT"):
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"status":1,"msg":"1 out of 1 Transactions Fetched Successfully","transaction_details":{"TXN_X":{"mihpayid":"403993715521","txnid":"TXN_X","amt":"500.00","status":"success","udf1":"ORD1","email":"a@x.com"}}}`)
	}))
	t.Cleanup(srv.Close)

	h := newHarness(t, nil, newPayU(srv.URL))
	resp := h.proc.GetPaymentStatus(context.Background(), payment.MethodPayU, "TXN_X")
	require.True(t, resp.Success, resp.Error)
	require.Equal(t, payment.StatusPaid, resp.Status)
	require.Equal(t, "ORD1", resp.OrderID)
	require.True(t, resp.Amount.Equal(decimal.NewFromInt(500)))
}

func TestPayUStatusNotFoundIsRemoteFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"status":0,"msg":"0 out of 1 Transactions Fetched Successfully","transaction_details":{"TXN_Y":{"status":"Not Found"}}}`)
	}))
	t.Cleanup(srv.Close)

	_, err := newPayU(srv.URL).GetPaymentStatus(context.Background(), "TXN_Y")
	require.ErrorIs(t, err, payment.ErrRemoteCall)
}

func TestPayURefund(t *testing.T) {
	var got url.Values
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		got, _ = url.ParseQuery(string(body))
		_, _ = io.WriteString(w, `{"status":1,"msg":"Refund Request Queued","request_id":"131872","mihpayid":"403993715521"}`)
	}))
	t.Cleanup(srv.Close)

	h := newHarness(t, nil, newPayU(srv.URL))
	resp := h.proc.RefundPayment(context.Background(), payment.MethodPayU, payment.RefundRequest{
		PaymentID: "403993715521",
		Amount:    decimal.RequireFromString("100.5"),
	})
	require.True(t, resp.Success, resp.Error)
	require.Equal(t, "131872", resp.RefundID)
	require.Equal(t, "cancel_refund_transaction", got.Get("command"))
	require.Equal(t, "100.50", got.Get("var3"))
	require.Equal(t, sha512Lower("KEY|cancel_refund_transaction|403993715521|SALT"), got.Get("hash"))
	require.NotEmpty(t, got.Get("var2"))
}

func TestPayURefundRejectedByGateway(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"status":0,"msg":"Invalid amount"}`)
	}))
	t.Cleanup(srv.Close)

	_, err := newPayU(srv.URL).RefundPayment(context.Background(), "403993715521", decimal.NewFromInt(1))
	require.True(t, errors.Is(err, payment.ErrRemoteCall))
	require.Contains(t, err.Error(), "Invalid amount")
}
