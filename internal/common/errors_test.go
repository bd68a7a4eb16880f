package common_test

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/noah-isme/toko-pay/internal/common"
)

func TestWriteErrorUsesAppErrorInChain(t *testing.T) {
	base := errors.New("redis: nil")
	appErr := common.NewAppError("NOT_FOUND", "order not found", http.StatusNotFound, base)
	wrapped := fmt.Errorf("load: %w", appErr)

	got, ok := common.AsAppError(wrapped)
	require.True(t, ok)
	require.Same(t, appErr, got)
	require.ErrorIs(t, wrapped, base)

	rr := httptest.NewRecorder()
	common.WriteError(rr, wrapped)
	require.Equal(t, http.StatusNotFound, rr.Code)
	require.JSONEq(t, `{"error":{"code":"NOT_FOUND","message":"order not found"}}`, rr.Body.String())
}

func TestWriteErrorHidesPlainErrors(t *testing.T) {
	rr := httptest.NewRecorder()
	common.WriteError(rr, errors.New("dial tcp 10.0.0.3:6379: connection refused"))
	require.Equal(t, http.StatusInternalServerError, rr.Code)
	require.NotContains(t, rr.Body.String(), "10.0.0.3")
}
