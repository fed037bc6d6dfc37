// Package apperr provides the structured error kinds shared by the storage,
// dashboard, report and HTTP layers. Every error carries a kind so callers can
// decide between surfacing, degrading to an empty result, or reporting
// unavailability without string matching.
package apperr

import (
	"context"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// Kind classifies errors by how the caller is expected to react.
type Kind string

const (
	KindValidation     Kind = "VALIDATION"
	KindInvalidField   Kind = "INVALID_FIELD"
	KindTenantMismatch Kind = "TENANT_MISMATCH"
	KindUnavailable    Kind = "BACKEND_UNAVAILABLE"
	KindCancelled      Kind = "CANCELLED"
	KindInternal       Kind = "INTERNAL"
)

// Sentinels for errors.Is. They match any *Error of the same kind.
var (
	ErrValidation     = &Error{Kind: KindValidation}
	ErrInvalidField   = &Error{Kind: KindInvalidField}
	ErrTenantMismatch = &Error{Kind: KindTenantMismatch}
	ErrUnavailable    = &Error{Kind: KindUnavailable}
	ErrCancelled      = &Error{Kind: KindCancelled}
	ErrInternal       = &Error{Kind: KindInternal}
)

// Error is the structured error type used throughout the service.
type Error struct {
	Kind    Kind
	Field   string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = strings.ToLower(strings.ReplaceAll(string(e.Kind), "_", " "))
	}
	if e.Field != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Field)
	}
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Kind, msg, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Kind, msg)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether target has the same kind. A target with a field set only
// matches errors naming that field.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	if e.Kind != t.Kind {
		return false
	}
	return t.Field == "" || t.Field == e.Field
}

func Validation(field, message string) *Error {
	return &Error{Kind: KindValidation, Field: field, Message: message}
}

func InvalidField(field, message string) *Error {
	if message == "" {
		message = "invalid field"
	}
	return &Error{Kind: KindInvalidField, Field: field, Message: message}
}

func TenantMismatch(message string) *Error {
	return &Error{Kind: KindTenantMismatch, Message: message}
}

func Unavailable(message string, cause error) *Error {
	return &Error{Kind: KindUnavailable, Message: message, Cause: cause}
}

func Cancelled(cause error) *Error {
	return &Error{Kind: KindCancelled, Message: "operation cancelled", Cause: cause}
}

func Internal(message string, cause error) *Error {
	return &Error{Kind: KindInternal, Message: message, Cause: cause}
}

// KindOf extracts the kind from an error chain. Unclassified errors are internal.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	if isContextErr(err) {
		return KindCancelled
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Classify wraps an error returned by a storage call. Context errors become
// CANCELLED and statements the store rejected become INTERNAL; anything else
// not already classified becomes BACKEND_UNAVAILABLE.
func Classify(op string, err error) error {
	if err == nil {
		return nil
	}
	var ae *Error
	if errors.As(err, &ae) {
		return err
	}
	if isContextErr(err) {
		return Cancelled(err)
	}
	if Rejected(err) {
		return Internal(op+": statement rejected", err)
	}
	return Unavailable(op, err)
}

// Rejected reports whether the store refused the statement itself: data
// exceptions (22), constraint violations (23) and syntax or access errors
// (42). Sending the same statement again fails the same way.
func Rejected(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch {
	case strings.HasPrefix(pgErr.Code, "22"), strings.HasPrefix(pgErr.Code, "23"), strings.HasPrefix(pgErr.Code, "42"):
		return true
	}
	return false
}

// Transient reports whether err looks like a connectivity failure that a
// redelivery could get past (as opposed to a statement the store rejected).
func Transient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return strings.HasPrefix(pgErr.Code, "08") || strings.HasPrefix(pgErr.Code, "57P") || pgErr.Code == "53300"
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}

// HTTPStatus maps an error to the status the API responds with.
func HTTPStatus(err error) int {
	switch KindOf(err) {
	case KindValidation:
		return http.StatusBadRequest
	case KindInvalidField:
		return http.StatusUnprocessableEntity
	case KindTenantMismatch:
		return http.StatusNotFound
	case KindUnavailable:
		return http.StatusServiceUnavailable
	case KindCancelled:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func isContextErr(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
