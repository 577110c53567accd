// Package backend defines the contract with the external backend that owns
// accounts, shopper documents and change notifications, together with the
// memory, HTTP and Postgres implementations of it.
package backend

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strings"
	"time"
)

// Error taxonomy. Every implementation classifies its failures into one of
// these sentinels so callers can use errors.Is.
var (
	ErrAlreadyExists  = errors.New("backend: already exists")
	ErrWeakCredential = errors.New("backend: weak credential")
	ErrInvalidInput   = errors.New("backend: invalid input")
	ErrNotFound       = errors.New("backend: not found")
	ErrBadCredential  = errors.New("backend: bad credential")
	ErrRateLimited    = errors.New("backend: rate limited")
	ErrNetwork        = errors.New("backend: network")
	ErrPermission     = errors.New("backend: permission denied")
)

// Outcome names the taxonomy class of err for metrics labels.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrNetwork):
		return "network"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited"
	case errors.Is(err, ErrBadCredential), errors.Is(err, ErrPermission):
		return "denied"
	default:
		return "rejected"
	}
}

// MinPasswordLength is the shortest password CreateAccount accepts.
const MinPasswordLength = 6

// UserHandle identifies an authenticated account.
type UserHandle struct {
	UID           string `json:"uid"`
	Email         string `json:"email"`
	DisplayName   string `json:"display_name,omitempty"`
	EmailVerified bool   `json:"email_verified"`
}

// Authenticator manages accounts and credentials.
type Authenticator interface {
	// CreateAccount registers a new account. Fails with ErrAlreadyExists,
	// ErrWeakCredential or ErrInvalidInput.
	CreateAccount(ctx context.Context, email, password, displayName string) (UserHandle, error)

	// SignIn checks credentials. Fails with ErrNotFound, ErrBadCredential,
	// ErrRateLimited or ErrNetwork.
	SignIn(ctx context.Context, email, password string) (UserHandle, error)

	// SignOut ends the backend session of uid.
	SignOut(ctx context.Context, uid string) error

	// SendPasswordReset starts a password reset for email. Fails with the
	// same taxonomy as SignIn.
	SendPasswordReset(ctx context.Context, email string) error
}

// Document is a JSON document addressed by a slash-separated path such as
// "users/{uid}" or "users/{uid}/cart/{productID}".
type Document struct {
	Path      string          `json:"path"`
	Data      json.RawMessage `json:"data"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// ID returns the last path segment.
func (d Document) ID() string {
	return path.Base(d.Path)
}

// Decode unmarshals the document data into v.
func (d Document) Decode(v any) error {
	if err := json.Unmarshal(d.Data, v); err != nil {
		return fmt.Errorf("backend: decode %s: %w", d.Path, err)
	}
	return nil
}

// SnapshotFunc receives the full contents of a collection after every
// change, and once right after subscribing.
type SnapshotFunc func(docs []Document)

// DocumentStore reads, writes and watches documents.
type DocumentStore interface {
	// Get returns the document at path or ErrNotFound.
	Get(ctx context.Context, path string) (Document, error)

	// Set replaces the document at path with data.
	Set(ctx context.Context, path string, data any) error

	// Merge sets the given top-level fields, creating the document if
	// needed and keeping fields it does not name.
	Merge(ctx context.Context, path string, fields map[string]any) error

	// Delete removes the document at path. Deleting a missing document is
	// not an error.
	Delete(ctx context.Context, path string) error

	// List returns the direct children of a collection ordered by path.
	List(ctx context.Context, collection string) ([]Document, error)

	// Subscribe calls fn with the collection contents now and after every
	// change until the returned function is called or ctx is done.
	Subscribe(ctx context.Context, collection string, fn SnapshotFunc) (unsubscribe func(), err error)
}

// Collection returns the parent collection of a document path.
func Collection(docPath string) string {
	return path.Dir(docPath)
}

// ValidatePath checks that p names a document: an even number of non-empty
// segments.
func ValidatePath(p string) error {
	parts := strings.Split(p, "/")
	if len(parts)%2 != 0 {
		return fmt.Errorf("%w: %q is not a document path", ErrInvalidInput, p)
	}
	for _, s := range parts {
		if s == "" {
			return fmt.Errorf("%w: %q has an empty segment", ErrInvalidInput, p)
		}
	}
	return nil
}

// ValidateCollection checks that p names a collection: an odd number of
// non-empty segments.
func ValidateCollection(p string) error {
	parts := strings.Split(p, "/")
	if len(parts)%2 != 1 {
		return fmt.Errorf("%w: %q is not a collection path", ErrInvalidInput, p)
	}
	for _, s := range parts {
		if s == "" {
			return fmt.Errorf("%w: %q has an empty segment", ErrInvalidInput, p)
		}
	}
	return nil
}

func marshalData(data any) (json.RawMessage, error) {
	if raw, ok := data.(json.RawMessage); ok {
		return raw, nil
	}
	b, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	return b, nil
}

// mergeFields applies fields on top of existing object data.
func mergeFields(existing json.RawMessage, fields map[string]any) (json.RawMessage, error) {
	obj := map[string]any{}
	if len(existing) > 0 {
		if err := json.Unmarshal(existing, &obj); err != nil {
			return nil, fmt.Errorf("backend: merge into non-object document: %w", err)
		}
	}
	for k, v := range fields {
		obj[k] = v
	}
	return marshalData(obj)
}
