package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/jackc/pgx/v5/pgconn"
)

func TestIs_MatchesKindAndField(t *testing.T) {
	t.Parallel()

	err := fmt.Errorf("compile: %w", InvalidField("x_field", ""))
	if !errors.Is(err, ErrInvalidField) {
		t.Fatalf("expected INVALID_FIELD match, got %v", err)
	}
	if !errors.Is(err, &Error{Kind: KindInvalidField, Field: "x_field"}) {
		t.Fatalf("expected field-specific match")
	}
	if errors.Is(err, &Error{Kind: KindInvalidField, Field: "y_field"}) {
		t.Fatalf("unexpected match on other field")
	}
	if errors.Is(err, ErrValidation) {
		t.Fatalf("unexpected VALIDATION match")
	}
}

func TestClassify(t *testing.T) {
	t.Parallel()

	if Classify("x", nil) != nil {
		t.Fatalf("nil should stay nil")
	}
	if got := KindOf(Classify("count", context.Canceled)); got != KindCancelled {
		t.Fatalf("context.Canceled => %s", got)
	}
	if got := KindOf(Classify("count", fmt.Errorf("wrapped: %w", context.DeadlineExceeded))); got != KindCancelled {
		t.Fatalf("deadline => %s", got)
	}
	if got := KindOf(Classify("count", errors.New("connection refused"))); got != KindUnavailable {
		t.Fatalf("plain error => %s", got)
	}
	for _, code := range []string{"22001", "23502", "42703"} {
		if got := KindOf(Classify("insert events", &pgconn.PgError{Code: code})); got != KindInternal {
			t.Fatalf("SQLSTATE %s => %s, want %s", code, got, KindInternal)
		}
	}
	if got := KindOf(Classify("insert events", &pgconn.PgError{Code: "08006"})); got != KindUnavailable {
		t.Fatalf("SQLSTATE 08006 => %s", got)
	}
	v := Validation("event", "required")
	if Classify("insert", v) != v {
		t.Fatalf("classified errors must pass through unchanged")
	}
}

func TestTransient(t *testing.T) {
	t.Parallel()

	cases := []struct {
		err  error
		want bool
	}{
		{&pgconn.PgError{Code: "08006"}, true},
		{&pgconn.PgError{Code: "57P01"}, true},
		{&pgconn.PgError{Code: "23505"}, false},
		{errors.New("syntax"), false},
		{nil, false},
	}
	for _, tc := range cases {
		if got := Transient(tc.err); got != tc.want {
			t.Fatalf("Transient(%v)=%v want %v", tc.err, got, tc.want)
		}
	}
}

func TestHTTPStatus(t *testing.T) {
	t.Parallel()

	cases := map[int]error{
		http.StatusBadRequest:          Validation("tag_id", "required"),
		http.StatusUnprocessableEntity: InvalidField("x", ""),
		http.StatusNotFound:            TenantMismatch("site not owned"),
		http.StatusServiceUnavailable:  Unavailable("query", errors.New("down")),
		http.StatusGatewayTimeout:      context.DeadlineExceeded,
		http.StatusInternalServerError: errors.New("boom"),
	}
	for want, err := range cases {
		if got := HTTPStatus(err); got != want {
			t.Fatalf("HTTPStatus(%v)=%d want %d", err, got, want)
		}
	}
}
