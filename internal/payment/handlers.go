package payment

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/noah-isme/toko-pay/internal/common"
)

// Handler exposes the processor over HTTP.
type Handler struct {
	Processor *Processor
	// AdminToken guards capture and refund. Empty disables those routes.
	AdminToken string
}

type createReq struct {
	Method Method `json:"method"`
	Request
}

type verifyReq struct {
	Method           Method          `json:"method"`
	VerificationData json.RawMessage `json:"verificationData"`
}

type captureReq struct {
	Method Method `json:"method"`
	CaptureRequest
}

type refundReq struct {
	Method Method `json:"method"`
	RefundRequest
}

func (h *Handler) ready(w http.ResponseWriter) bool {
	if h == nil || h.Processor == nil {
		common.JSONError(w, http.StatusInternalServerError, "PAYMENT_NOT_CONFIGURED", "payment handler unavailable", nil)
		return false
	}
	return true
}

func writeResult(w http.ResponseWriter, resp Response) {
	common.JSON(w, HTTPStatus(resp.Err), resp)
}

func badBody(w http.ResponseWriter, err error) {
	writeResult(w, failure(invalid("body", err.Error())))
}

// Create handles POST /payment/create.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	var req createReq
	if err := common.DecodeJSON(r, &req); err != nil {
		badBody(w, err)
		return
	}
	writeResult(w, h.Processor.CreatePayment(r.Context(), req.Method, req.Request))
}

// Status handles GET /payment/status?method=&paymentId=.
func (h *Handler) Status(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	q := r.URL.Query()
	method := Method(strings.TrimSpace(q.Get("method")))
	writeResult(w, h.Processor.GetPaymentStatus(r.Context(), method, q.Get("paymentId")))
}

// Verify handles POST /payment/verify.
func (h *Handler) Verify(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	var req verifyReq
	if err := common.DecodeJSON(r, &req); err != nil {
		badBody(w, err)
		return
	}
	if !req.Method.Valid() {
		writeResult(w, h.Processor.VerifyPayment(r.Context(), req.Method, nil))
		return
	}
	v, err := DecodeVerification(req.Method, req.VerificationData)
	if err != nil {
		writeResult(w, failure(err))
		return
	}
	writeResult(w, h.Processor.VerifyPayment(r.Context(), req.Method, v))
}

// Capture handles POST /payment/capture.
func (h *Handler) Capture(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	var req captureReq
	if err := common.DecodeJSON(r, &req); err != nil {
		badBody(w, err)
		return
	}
	writeResult(w, h.Processor.CapturePayment(r.Context(), req.Method, req.CaptureRequest))
}

// Refund handles POST /payment/refund.
func (h *Handler) Refund(w http.ResponseWriter, r *http.Request) {
	if !h.ready(w) {
		return
	}
	var req refundReq
	if err := common.DecodeJSON(r, &req); err != nil {
		badBody(w, err)
		return
	}
	writeResult(w, h.Processor.RefundPayment(r.Context(), req.Method, req.RefundRequest))
}

var (
	errAdminDisabled = common.NewAppError("FORBIDDEN", "admin routes are disabled", http.StatusForbidden, nil)
	errAdminToken    = common.NewAppError("UNAUTHENTICATED", "admin token required", http.StatusUnauthorized, nil)
)

// RequireAdmin checks the bearer token on money-moving admin routes.
func (h *Handler) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := ""
		if h != nil {
			token = h.AdminToken
		}
		if token == "" {
			common.WriteError(w, errAdminDisabled)
			return
		}
		auth := r.Header.Get("Authorization")
		presented, ok := strings.CutPrefix(auth, "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(strings.TrimSpace(presented)), []byte(token)) != 1 {
			common.WriteError(w, errAdminToken)
			return
		}
		next.ServeHTTP(w, r)
	})
}
