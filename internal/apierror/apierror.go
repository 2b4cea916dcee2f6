// Package apierror provides the error taxonomy shared by every surface.
// Services return *Error values; handlers translate them into the JSON envelope
// without leaking internal details (SQL, stack traces, provider payloads).
package apierror

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"
)

// Kind is the stable error id sent to clients.
type Kind string

const (
	KindNotFound            Kind = "NotFound"
	KindInvalidArgument     Kind = "InvalidArgument"
	KindAccessDenied        Kind = "AccessDenied"
	KindUnauthorized        Kind = "Unauthorized"
	KindConflict            Kind = "Conflict"
	KindAlreadyProcessed    Kind = "AlreadyProcessed"
	KindNotEnoughFunds      Kind = "NotEnoughFunds"
	KindNotEnoughVouchers   Kind = "NotEnoughVouchers"
	KindAgeRestriction      Kind = "AgeRestriction"
	KindTillPermission      Kind = "TillPermission"
	KindExternalUnavailable Kind = "ExternalUnavailable"
	KindInternal            Kind = "Internal"
)

// Error is the canonical domain error.
type Error struct {
	Kind    Kind
	Message string
	Fields  map[string]any
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Is matches on Kind so callers can write errors.Is(err, apierror.ErrNotFound).
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind && t.Message == ""
}

// Sentinels for errors.Is comparisons.
var (
	ErrNotFound         = &Error{Kind: KindNotFound}
	ErrInvalidArgument  = &Error{Kind: KindInvalidArgument}
	ErrAccessDenied     = &Error{Kind: KindAccessDenied}
	ErrUnauthorized     = &Error{Kind: KindUnauthorized}
	ErrConflict         = &Error{Kind: KindConflict}
	ErrAlreadyProcessed = &Error{Kind: KindAlreadyProcessed}
	ErrNotEnoughFunds   = &Error{Kind: KindNotEnoughFunds}
	ErrNotEnoughVouch   = &Error{Kind: KindNotEnoughVouchers}
	ErrAgeRestriction   = &Error{Kind: KindAgeRestriction}
	ErrTillPermission   = &Error{Kind: KindTillPermission}
	ErrExternal         = &Error{Kind: KindExternalUnavailable}
	ErrInternal         = &Error{Kind: KindInternal}
)

func newf(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

func NotFound(format string, args ...any) *Error { return newf(KindNotFound, format, args...) }
func InvalidArgument(format string, args ...any) *Error {
	return newf(KindInvalidArgument, format, args...)
}
func AccessDenied(format string, args ...any) *Error { return newf(KindAccessDenied, format, args...) }
func Unauthorized(format string, args ...any) *Error { return newf(KindUnauthorized, format, args...) }
func Conflict(format string, args ...any) *Error     { return newf(KindConflict, format, args...) }
func AlreadyProcessed(format string, args ...any) *Error {
	return newf(KindAlreadyProcessed, format, args...)
}
func TillPermission(format string, args ...any) *Error {
	return newf(KindTillPermission, format, args...)
}
func ExternalUnavailable(format string, args ...any) *Error {
	return newf(KindExternalUnavailable, format, args...)
}
func Internal(format string, args ...any) *Error { return newf(KindInternal, format, args...) }

// NotEnoughFunds reports a customer balance that cannot cover the order.
func NotEnoughFunds(needed, available decimal.Decimal) *Error {
	return &Error{
		Kind:    KindNotEnoughFunds,
		Message: fmt.Sprintf("not enough funds: needed %s, available %s", needed.StringFixed(2), available.StringFixed(2)),
		Fields:  map[string]any{"needed": needed, "available": available},
	}
}

// NotEnoughVouchers reports a voucher request above the account's voucher balance.
func NotEnoughVouchers(used, available int64) *Error {
	return &Error{
		Kind:    KindNotEnoughVouchers,
		Message: fmt.Sprintf("not enough vouchers: requested %d, available %d", used, available),
		Fields:  map[string]any{"used": used, "available": available},
	}
}

// AgeRestriction lists the products the customer is not allowed to buy.
func AgeRestriction(productNames []string) *Error {
	return &Error{
		Kind:    KindAgeRestriction,
		Message: "age restricted products: " + strings.Join(productNames, ", "),
		Fields:  map[string]any{"product_names": productNames},
	}
}

// KindOf extracts the Kind of err, defaulting to Internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// FromDB classifies database errors. Domain errors pass through untouched.
func FromDB(err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return NotFound("object not found")
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505", "40001", "40P01":
			return Conflict("%s", pgErr.Message)
		case "23503", "23514", "23502", "P0001":
			return InvalidArgument("%s", pgErr.Message)
		}
	}
	return &Error{Kind: KindInternal, Message: err.Error()}
}

// HTTPStatus maps a Kind to its response status.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindNotFound:
		return http.StatusNotFound
	case KindInvalidArgument, KindNotEnoughFunds, KindNotEnoughVouchers, KindAgeRestriction:
		return http.StatusBadRequest
	case KindAccessDenied, KindTillPermission:
		return http.StatusForbidden
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindConflict, KindAlreadyProcessed:
		return http.StatusConflict
	case KindExternalUnavailable:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Envelope renders err as {"error": {...}}; Internal messages are replaced.
func Envelope(err error) (int, map[string]any) {
	var e *Error
	if !errors.As(err, &e) {
		e = &Error{Kind: KindInternal}
	}
	msg := e.Message
	if e.Kind == KindInternal {
		msg = "internal server error"
	}
	body := map[string]any{"id": e.Kind, "message": msg}
	for k, v := range e.Fields {
		body[k] = v
	}
	return HTTPStatus(e.Kind), map[string]any{"error": body}
}

// ValidationError wraps struct-tag validation failures.
func ValidationError(fields map[string]string) *Error {
	f := make(map[string]any, len(fields))
	for k, v := range fields {
		f[k] = v
	}
	return &Error{Kind: KindInvalidArgument, Message: "validation failed", Fields: map[string]any{"fields": f}}
}
