package navigation

import (
	"context"
	"time"

	"github.com/pitabwire/storefront/model"
)

// Session is one shopper's navigation of a category view.
type Session struct {
	ID        string        `json:"id"`
	State     State         `json:"state"`
	Sort      model.SortKey `json:"sort"`
	Version   int           `json:"version"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
	ExpiresAt time.Time     `json:"expires_at"`
}

// Expired reports whether the session is past its expiry at now. A zero
// ExpiresAt never expires.
func (s Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && !now.Before(s.ExpiresAt)
}

// SessionStore persists navigation sessions.
type SessionStore interface {
	// Create persists a new session. Returns CONFLICT if the id is taken.
	Create(ctx context.Context, sess Session) error

	// Get retrieves a session by id. Returns NOT_FOUND if the session does
	// not exist or has expired.
	Get(ctx context.Context, id string) (Session, error)

	// Update persists a changed session with optimistic locking. The
	// version must match the stored version; the stored copy is returned
	// with the version incremented. Returns CONFLICT if the version has
	// changed.
	Update(ctx context.Context, sess Session) (Session, error)

	// Delete removes a session. Returns NOT_FOUND if it does not exist.
	Delete(ctx context.Context, id string) error
}
