package transport

import (
	"errors"
	"net/http"
	"time"

	"github.com/pitabwire/storefront/internal/account"
	"github.com/pitabwire/storefront/internal/observability"
	"github.com/pitabwire/storefront/model"
)

type accountHandlers struct {
	accounts *account.Service
	sessions *SessionIssuer
	metrics  *observability.Metrics
}

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type emailRequest struct {
	Email string `json:"email"`
}

// sessionResponse is returned by register and login.
type sessionResponse struct {
	Session SessionToken  `json:"session"`
	Profile model.Profile `json:"profile"`
}

func (h accountHandlers) register(w http.ResponseWriter, r *http.Request) {
	var req account.RegisterRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteError(w, err)
		return
	}
	profile, err := h.accounts.Register(r.Context(), req)
	h.metrics.RecordAuthAttempt("register", outcomeOf(err))
	if err != nil {
		writeRequestError(w, r, err)
		return
	}
	h.writeSession(w, r, http.StatusCreated, profile)
}

func (h accountHandlers) login(w http.ResponseWriter, r *http.Request) {
	var req credentials
	if err := decodeJSON(r, &req); err != nil {
		WriteError(w, err)
		return
	}
	profile, err := h.accounts.Login(r.Context(), req.Email, req.Password)
	h.metrics.RecordAuthAttempt("login", outcomeOf(err))
	if err != nil {
		writeRequestError(w, r, err)
		return
	}
	h.writeSession(w, r, http.StatusOK, profile)
}

func (h accountHandlers) writeSession(w http.ResponseWriter, r *http.Request, status int, profile model.Profile) {
	token, err := h.sessions.Issue(profile.UID, profile.Email)
	if err != nil {
		writeRequestError(w, r, err)
		return
	}
	WriteJSON(w, status, sessionResponse{Session: token, Profile: profile})
}

func (h accountHandlers) resetPassword(w http.ResponseWriter, r *http.Request) {
	var req emailRequest
	if err := decodeJSON(r, &req); err != nil {
		WriteError(w, err)
		return
	}
	err := h.accounts.ResetPassword(r.Context(), req.Email)
	h.metrics.RecordAuthAttempt("password_reset", outcomeOf(err))
	if err != nil {
		writeRequestError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusAccepted, map[string]string{"status": "sent"})
}

// logout ends the backend session and revokes the presented token.
func (h accountHandlers) logout(w http.ResponseWriter, r *http.Request) {
	rctx := model.MustRequestContext(r.Context())
	if err := h.accounts.Logout(r.Context(), rctx.SubjectID); err != nil {
		writeRequestError(w, r, err)
		return
	}
	if exp, ok := rctx.Claim("exp").(float64); ok {
		h.sessions.Revoke(rctx.TokenID, time.Unix(int64(exp), 0))
	}
	h.metrics.RecordAuthAttempt("logout", "ok")
	w.WriteHeader(http.StatusNoContent)
}

func (h accountHandlers) profile(w http.ResponseWriter, r *http.Request) {
	rctx := model.MustRequestContext(r.Context())
	p, err := h.accounts.ReadProfile(r.Context(), rctx.SubjectID)
	if err != nil {
		writeRequestError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, p)
}

func (h accountHandlers) updateProfile(w http.ResponseWriter, r *http.Request) {
	var req account.ProfileUpdate
	if err := decodeJSON(r, &req); err != nil {
		WriteError(w, err)
		return
	}
	rctx := model.MustRequestContext(r.Context())
	p, err := h.accounts.WriteProfile(r.Context(), rctx.SubjectID, req)
	if err != nil {
		writeRequestError(w, r, err)
		return
	}
	WriteJSON(w, http.StatusOK, p)
}

// outcomeOf labels an auth attempt with "ok" or its error code.
func outcomeOf(err error) string {
	if err == nil {
		return "ok"
	}
	var ee *model.ErrorEnvelope
	if errors.As(err, &ee) {
		return ee.Code
	}
	return model.ErrInternalError
}
