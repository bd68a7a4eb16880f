package ledger

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/noah-isme/toko-pay/internal/common"
)

// Handler exposes the ledger to operators.
type Handler struct {
	Recorder *Recorder
}

// List handles GET /payment/ledger?orderId=&limit=.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	if h.Recorder == nil || h.Recorder.DB == nil {
		common.JSONError(w, http.StatusServiceUnavailable, "LEDGER_DISABLED", "ledger is not configured", nil)
		return
	}
	orderID := strings.TrimSpace(r.URL.Query().Get("orderId"))
	if orderID == "" {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "orderId is required", nil)
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	events, err := h.Recorder.ListByOrder(r.Context(), orderID, limit)
	if err != nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "failed to load ledger", nil)
		return
	}
	if events == nil {
		events = []Event{}
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": events})
}
