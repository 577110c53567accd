package model

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorEnvelope_Error(t *testing.T) {
	e := &ErrorEnvelope{Code: ErrNotFound, Message: "Category not found"}
	want := "NOT_FOUND: Category not found"
	if got := e.Error(); got != want {
		t.Errorf("Error() = %q, want %q", got, want)
	}
}

func TestErrorEnvelope_unwraps_with_errors_As(t *testing.T) {
	err := fmt.Errorf("cart: loading: %w", NewEmptyCartError())

	var env *ErrorEnvelope
	if !errors.As(err, &env) {
		t.Fatal("errors.As() = false, want true")
	}
	if env.Code != ErrEmptyCart {
		t.Errorf("Code = %q, want %q", env.Code, ErrEmptyCart)
	}
}

func TestConstructors(t *testing.T) {
	tests := []struct {
		name string
		env  *ErrorEnvelope
		code string
	}{
		{"bad request", NewBadRequestError("bad json"), ErrBadRequest},
		{"unauthorized", NewUnauthorizedError("no token"), ErrUnauthorized},
		{"forbidden", NewForbiddenError("nope"), ErrForbidden},
		{"not found", NewNotFoundError("missing"), ErrNotFound},
		{"conflict", NewConflictError("version"), ErrConflict},
		{"internal", NewInternalError(), ErrInternalError},
		{"backend unavailable", NewBackendUnavailableError(), ErrBackendUnavailable},
		{"backend timeout", NewBackendTimeoutError(), ErrBackendTimeout},
		{"rate limited", NewRateLimitedError(), ErrRateLimited},
		{"empty cart", NewEmptyCartError(), ErrEmptyCart},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.env.Code != tt.code {
				t.Errorf("Code = %q, want %q", tt.env.Code, tt.code)
			}
			if tt.env.Message == "" {
				t.Error("Message is empty")
			}
		})
	}
}

func TestNewValidationError(t *testing.T) {
	details := []FieldError{
		{Field: "email", Code: "REQUIRED", Message: "Email is required"},
	}
	e := NewValidationError(details)
	if e.Code != ErrValidationError {
		t.Errorf("Code = %q, want %q", e.Code, ErrValidationError)
	}
	if len(e.Details) != 1 {
		t.Fatalf("Details length = %d, want 1", len(e.Details))
	}
	if e.Details[0].Field != "email" {
		t.Errorf("Details[0].Field = %q, want %q", e.Details[0].Field, "email")
	}
}
