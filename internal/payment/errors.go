package payment

import (
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
)

// Error taxonomy surfaced by the processor. Adapters wrap these with gateway context.
var (
	ErrUnsupportedMethod = errors.New("unsupported payment method")
	ErrValidation        = errors.New("validation failed")
	ErrSignatureInvalid  = errors.New("invalid signature")
	ErrRemoteCall        = errors.New("remote call failed")
	ErrOrderUpdate       = errors.New("order update failed")
	ErrNotConfigured     = errors.New("payment method not configured")
	ErrPaymentDeclined   = errors.New("payment declined")
)

// ValidationError lists the request fields that failed validation.
type ValidationError struct {
	Fields map[string]string
}

func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return ErrValidation.Error()
	}
	names := make([]string, 0, len(e.Fields))
	for name := range e.Fields {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, name+" "+e.Fields[name])
	}
	return ErrValidation.Error() + ": " + strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

func invalid(field, reason string) error {
	return &ValidationError{Fields: map[string]string{field: reason}}
}

func notConfigured(m Method) error {
	return fmt.Errorf("%w: payment method %s is not configured", ErrNotConfigured, m)
}

func remoteErr(gateway, op string, err error) error {
	return fmt.Errorf("%w: %s %s: %v", ErrRemoteCall, gateway, op, err)
}

// PublicMessage is the error text safe to return to API callers. Signature failures never
// say which part of the check failed.
func PublicMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrUnsupportedMethod):
		return "Unsupported payment method"
	case errors.Is(err, ErrSignatureInvalid):
		return "invalid signature"
	default:
		return err.Error()
	}
}

// HTTPStatus maps a processor error onto the response status used by the HTTP surface.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrValidation), errors.Is(err, ErrUnsupportedMethod), errors.Is(err, ErrSignatureInvalid):
		return http.StatusBadRequest
	case errors.Is(err, ErrPaymentDeclined):
		return http.StatusPaymentRequired
	case errors.Is(err, ErrNotConfigured):
		return http.StatusServiceUnavailable
	case errors.Is(err, ErrRemoteCall):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// errorCode is a stable label for metrics and the ledger.
func errorCode(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, ErrValidation):
		return "validation"
	case errors.Is(err, ErrUnsupportedMethod):
		return "unsupported"
	case errors.Is(err, ErrSignatureInvalid):
		return "invalid_signature"
	case errors.Is(err, ErrPaymentDeclined):
		return "declined"
	case errors.Is(err, ErrNotConfigured):
		return "not_configured"
	case errors.Is(err, ErrRemoteCall):
		return "remote_error"
	default:
		return "error"
	}
}
