package order

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/noah-isme/toko-pay/internal/common"
)

// Handler exposes the stored payment state of an order.
type Handler struct {
	Store *Store
}

// Get handles GET /orders/{id}/payment.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	if h.Store == nil {
		common.JSONError(w, http.StatusInternalServerError, "INTERNAL", "order store not configured", nil)
		return
	}
	orderID := chi.URLParam(r, "id")
	if orderID == "" {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "order id is required", nil)
		return
	}
	rec, err := h.Store.Get(r.Context(), orderID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			err = common.NewAppError("NOT_FOUND", "order not found", http.StatusNotFound, err)
		}
		common.WriteError(w, err)
		return
	}
	common.JSON(w, http.StatusOK, rec)
}
