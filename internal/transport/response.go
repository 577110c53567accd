// Package transport contains the HTTP router, middleware chain, and all
// request handlers for the storefront API.
package transport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/pitabwire/storefront/internal/backend"
	"github.com/pitabwire/storefront/internal/observability"
	"github.com/pitabwire/storefront/model"
)

const maxBodyBytes = 1 << 20

// statusForCode maps ErrorEnvelope codes to HTTP status codes.
var statusForCode = map[string]int{
	model.ErrBadRequest:         http.StatusBadRequest,
	model.ErrUnauthorized:       http.StatusUnauthorized,
	model.ErrForbidden:          http.StatusForbidden,
	model.ErrNotFound:           http.StatusNotFound,
	model.ErrConflict:           http.StatusConflict,
	model.ErrValidationError:    http.StatusUnprocessableEntity,
	model.ErrRateLimited:        http.StatusTooManyRequests,
	model.ErrInternalError:      http.StatusInternalServerError,
	model.ErrBackendUnavailable: http.StatusServiceUnavailable,
	model.ErrBackendTimeout:     http.StatusGatewayTimeout,
	model.ErrAccountNotFound:    http.StatusNotFound,
	model.ErrAccountExists:      http.StatusConflict,
	model.ErrBadCredential:      http.StatusUnauthorized,
	model.ErrWeakPassword:       http.StatusBadRequest,
	model.ErrInvalidEmail:       http.StatusBadRequest,
	model.ErrEmptyCart:          http.StatusUnprocessableEntity,
}

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	if body != nil {
		_ = json.NewEncoder(w).Encode(body)
	}
}

type errorResponse struct {
	Error *model.ErrorEnvelope `json:"error"`
}

// WriteError writes err as an ErrorEnvelope with the matching HTTP status.
// Backend sentinels are classified; anything else becomes a generic 500.
func WriteError(w http.ResponseWriter, err error) {
	ee := envelopeFor(err)
	status := statusForCode[ee.Code]
	if status == 0 {
		status = http.StatusInternalServerError
	}
	WriteJSON(w, status, errorResponse{Error: ee})
}

// writeRequestError is WriteError with the request's trace id stamped on
// the envelope. 5xx failures are logged.
func writeRequestError(w http.ResponseWriter, r *http.Request, err error) {
	ee := envelopeFor(err)
	if ee.TraceID == "" {
		if id := observability.TraceIDFromContext(r.Context()); id != "" {
			copied := *ee
			copied.TraceID = id
			ee = &copied
		}
	}
	if status := statusForCode[ee.Code]; status == 0 || status >= 500 {
		logRequestError(r, err)
	}
	WriteError(w, ee)
}

func envelopeFor(err error) *model.ErrorEnvelope {
	var ee *model.ErrorEnvelope
	if errors.As(err, &ee) {
		return ee
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return model.NewBackendTimeoutError()
	case errors.Is(err, backend.ErrNetwork):
		return model.NewBackendUnavailableError()
	case errors.Is(err, backend.ErrPermission):
		return model.NewForbiddenError("You do not have access to this resource")
	case errors.Is(err, backend.ErrNotFound):
		return model.NewNotFoundError("Resource not found")
	case errors.Is(err, backend.ErrInvalidInput):
		return model.NewBadRequestError("The request was rejected by the backend")
	case errors.Is(err, backend.ErrRateLimited):
		return model.NewRateLimitedError()
	}
	return model.NewInternalError()
}

// WriteNotFound writes a 404 error response.
func WriteNotFound(w http.ResponseWriter, msg string) {
	WriteError(w, model.NewNotFoundError(msg))
}

// WriteValidationError writes a 422 error response with field-level details.
func WriteValidationError(w http.ResponseWriter, details []model.FieldError) {
	WriteError(w, model.NewValidationError(details))
}

// decodeJSON reads a JSON request body into v.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return model.NewBadRequestError("Request body is required")
		}
		return model.NewBadRequestError("Request body is not valid JSON")
	}
	return nil
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// expectedVersion reads the If-Match header used for optimistic
// concurrency on navigation sessions. Zero means no precondition.
func expectedVersion(r *http.Request) int {
	v := strings.Trim(r.Header.Get("If-Match"), `"`)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
