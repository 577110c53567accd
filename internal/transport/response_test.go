package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/pitabwire/storefront/internal/account"
	"github.com/pitabwire/storefront/internal/backend"
	"github.com/pitabwire/storefront/model"
)

func TestWriteJSON(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteJSON(rec, http.StatusCreated, map[string]string{"status": "ok"})

	if rec.Code != http.StatusCreated {
		t.Errorf("status = %d, want 201", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json; charset=utf-8" {
		t.Errorf("Content-Type = %q", ct)
	}
	if !strings.Contains(rec.Body.String(), `"status":"ok"`) {
		t.Errorf("body = %s", rec.Body.String())
	}
}

func TestWriteError_statuses(t *testing.T) {
	tests := []struct {
		name string
		err  error
		code string
		want int
	}{
		{"not found", model.NewNotFoundError("x"), model.ErrNotFound, 404},
		{"conflict", model.NewConflictError("x"), model.ErrConflict, 409},
		{"validation", model.NewValidationError(nil), model.ErrValidationError, 422},
		{"empty cart", model.NewEmptyCartError(), model.ErrEmptyCart, 422},
		{"bad credential", account.AuthError(backend.ErrBadCredential), model.ErrBadCredential, 401},
		{"account exists", account.AuthError(backend.ErrAlreadyExists), model.ErrAccountExists, 409},
		{"weak password", account.AuthError(backend.ErrWeakCredential), model.ErrWeakPassword, 400},
		{"account not found", account.AuthError(backend.ErrNotFound), model.ErrAccountNotFound, 404},
		{"wrapped envelope", fmt.Errorf("cart: %w", model.NewBadRequestError("x")), model.ErrBadRequest, 400},
		{"backend network", fmt.Errorf("cart: %w", backend.ErrNetwork), model.ErrBackendUnavailable, 503},
		{"backend permission", backend.ErrPermission, model.ErrForbidden, 403},
		{"backend not found", backend.ErrNotFound, model.ErrNotFound, 404},
		{"backend invalid", backend.ErrInvalidInput, model.ErrBadRequest, 400},
		{"deadline", context.DeadlineExceeded, model.ErrBackendTimeout, 504},
		{"unknown", errors.New("boom"), model.ErrInternalError, 500},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			WriteError(rec, tt.err)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
			var body errorResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body.Error == nil || body.Error.Code != tt.code {
				t.Errorf("code = %+v, want %s", body.Error, tt.code)
			}
		})
	}
}

func TestWriteError_unknownErrorHidesDetails(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, errors.New("pq: password authentication failed"))
	if strings.Contains(rec.Body.String(), "pq:") {
		t.Errorf("internal error leaked: %s", rec.Body.String())
	}
}

func TestExpectedVersion(t *testing.T) {
	tests := []struct {
		header string
		want   int
	}{
		{"", 0},
		{"3", 3},
		{`"7"`, 7},
		{"abc", 0},
		{"-1", 0},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodPost, "/navigation/s/back", nil)
		if tt.header != "" {
			req.Header.Set("If-Match", tt.header)
		}
		if got := expectedVersion(req); got != tt.want {
			t.Errorf("expectedVersion(%q) = %d, want %d", tt.header, got, tt.want)
		}
	}
}

func TestDecodeJSON(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(""))
	var v map[string]any
	err := decodeJSON(req, &v)
	var ee *model.ErrorEnvelope
	if !errors.As(err, &ee) || ee.Message != "Request body is required" {
		t.Errorf("empty body error = %v", err)
	}

	req = httptest.NewRequest(http.MethodPost, "/", strings.NewReader("{"))
	if err := decodeJSON(req, &v); err == nil {
		t.Error("decodeJSON(malformed) = nil, want error")
	}
}
