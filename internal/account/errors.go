package account

import (
	"errors"

	"github.com/pitabwire/storefront/internal/backend"
	"github.com/pitabwire/storefront/model"
)

// Messages shown to shoppers for authentication failures.
const (
	MsgAccountNotFound = "No account found with this email address."
	MsgBadCredential   = "Incorrect password. Please try again."
	MsgAccountExists   = "An account with this email already exists."
	MsgWeakPassword    = "Password should be at least 6 characters long."
	MsgInvalidEmail    = "Please enter a valid email address."
	MsgRateLimited     = "Too many failed attempts. Please try again later."
	MsgNetwork         = "Network error. Please check your connection."
	MsgUnknown         = "An error occurred. Please try again."
)

// AuthError converts an authenticator failure into the error envelope shown
// to the shopper. Envelopes pass through unchanged.
func AuthError(err error) error {
	if err == nil {
		return nil
	}
	var env *model.ErrorEnvelope
	if errors.As(err, &env) {
		return env
	}

	switch {
	case errors.Is(err, backend.ErrNotFound):
		return &model.ErrorEnvelope{Code: model.ErrAccountNotFound, Message: MsgAccountNotFound}
	case errors.Is(err, backend.ErrBadCredential):
		return &model.ErrorEnvelope{Code: model.ErrBadCredential, Message: MsgBadCredential}
	case errors.Is(err, backend.ErrAlreadyExists):
		return &model.ErrorEnvelope{Code: model.ErrAccountExists, Message: MsgAccountExists}
	case errors.Is(err, backend.ErrWeakCredential):
		return &model.ErrorEnvelope{Code: model.ErrWeakPassword, Message: MsgWeakPassword}
	case errors.Is(err, backend.ErrInvalidInput):
		return &model.ErrorEnvelope{Code: model.ErrInvalidEmail, Message: MsgInvalidEmail}
	case errors.Is(err, backend.ErrRateLimited):
		return &model.ErrorEnvelope{Code: model.ErrRateLimited, Message: MsgRateLimited}
	case errors.Is(err, backend.ErrNetwork):
		return &model.ErrorEnvelope{Code: model.ErrBackendUnavailable, Message: MsgNetwork}
	default:
		return &model.ErrorEnvelope{Code: model.ErrInternalError, Message: MsgUnknown}
	}
}
