// Package apperr defines the service error taxonomy. Every error that
// crosses a handler boundary carries a stable Kind that clients can
// switch on, independent of the message text.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

type Kind string

const (
	KindValidation               Kind = "ValidationError"
	KindNotFound                 Kind = "NotFound"
	KindAlreadyPaid              Kind = "AlreadyPaid"
	KindAlreadyClaimed           Kind = "AlreadyClaimed"
	KindInvalidTransition        Kind = "InvalidTransition"
	KindAmountExceedsBalance     Kind = "AmountExceedsBalance"
	KindInsufficientCashTendered Kind = "InsufficientCashTendered"
	KindUnsupportedCurrency      Kind = "UnsupportedCurrency"
	KindWebhookAuth              Kind = "WebhookAuthError"
	KindOrphanWebhook            Kind = "OrphanWebhook"
	KindProvider                 Kind = "ProviderError"
	KindProviderUnavailable      Kind = "ProviderUnavailable"
	KindSequenceAllocation       Kind = "SequenceAllocationError"
	KindIDGeneration             Kind = "IdGenerationError"
	KindInternal                 Kind = "InternalError"
)

// Error is the taxonomy error type. Message is safe to return to API
// clients; the wrapped err is for logs only.
type Error struct {
	Kind    Kind
	Message string
	err     error
}

func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.err }

// Is matches two taxonomy errors by Kind so errors.Is(err, apperr.New(kind, ""))
// works without comparing messages.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return e.Kind == t.Kind
	}
	return false
}

func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches an underlying cause that stays out of the client message.
func Wrap(err error, kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), err: err}
}

func Validation(format string, args ...any) *Error {
	return New(KindValidation, format, args...)
}

func NotFound(format string, args ...any) *Error {
	return New(KindNotFound, format, args...)
}

func InvalidTransition(format string, args ...any) *Error {
	return New(KindInvalidTransition, format, args...)
}

// KindOf extracts the Kind from an error chain, defaulting to InternalError.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsKind reports whether the chain contains a taxonomy error of the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind == kind
	}
	return false
}

// HTTPStatus maps a Kind to its wire status. OrphanWebhook maps to 200
// because orphaned provider callbacks are acknowledged, not rejected.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindValidation, KindAmountExceedsBalance, KindInsufficientCashTendered,
		KindUnsupportedCurrency, KindWebhookAuth:
		return http.StatusBadRequest
	case KindNotFound:
		return http.StatusNotFound
	case KindAlreadyPaid, KindAlreadyClaimed, KindInvalidTransition:
		return http.StatusConflict
	case KindOrphanWebhook:
		return http.StatusOK
	case KindProvider:
		return http.StatusBadGateway
	case KindProviderUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
