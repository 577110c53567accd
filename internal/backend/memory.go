package backend

import (
	"context"
	"fmt"
	"net/mail"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

// Failed sign-in limits of the memory backend.
const (
	DefaultMaxFailedAttempts = 5
	DefaultLockout           = 15 * time.Minute
)

type memAccount struct {
	handle       UserHandle
	passwordHash []byte
	failed       int
	lockedUntil  time.Time
}

// MemoryBackend is an in-process Authenticator and DocumentStore. Passwords
// are stored as bcrypt hashes and repeated failed sign-ins lock an account
// for a while.
type MemoryBackend struct {
	cost        int
	maxFailures int
	lockout     time.Duration
	now         func() time.Time

	mu       sync.RWMutex
	accounts map[string]*memAccount // key: lowercased email
	signedIn map[string]bool        // key: uid
	resets   map[string]int         // key: lowercased email
	docs     map[string]Document

	hub *hub
}

// NewMemoryBackend creates an empty in-memory backend. cost is the bcrypt
// cost; values outside bcrypt's range use bcrypt.DefaultCost.
func NewMemoryBackend(cost int) *MemoryBackend {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	b := &MemoryBackend{
		cost:        cost,
		maxFailures: DefaultMaxFailedAttempts,
		lockout:     DefaultLockout,
		now:         time.Now,
		accounts:    make(map[string]*memAccount),
		signedIn:    make(map[string]bool),
		resets:      make(map[string]int),
		docs:        make(map[string]Document),
	}
	b.hub = newHub(b.List)
	return b
}

// ValidateEmail reports ErrInvalidInput unless email is a bare address.
func ValidateEmail(email string) error {
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email || !strings.Contains(email, "@") {
		return fmt.Errorf("%w: invalid email %q", ErrInvalidInput, email)
	}
	return nil
}

// --- Authenticator ---

// CreateAccount registers a new account.
func (b *MemoryBackend) CreateAccount(_ context.Context, email, password, displayName string) (UserHandle, error) {
	email = strings.TrimSpace(email)
	if err := ValidateEmail(email); err != nil {
		return UserHandle{}, err
	}
	if len(password) < MinPasswordLength {
		return UserHandle{}, fmt.Errorf("%w: password shorter than %d characters", ErrWeakCredential, MinPasswordLength)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), b.cost)
	if err != nil {
		return UserHandle{}, fmt.Errorf("%w: %v", ErrWeakCredential, err)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	key := strings.ToLower(email)
	if _, exists := b.accounts[key]; exists {
		return UserHandle{}, fmt.Errorf("%w: %s", ErrAlreadyExists, email)
	}
	h := UserHandle{UID: uuid.NewString(), Email: email, DisplayName: displayName}
	b.accounts[key] = &memAccount{handle: h, passwordHash: hash}
	b.signedIn[h.UID] = true
	return h, nil
}

// SignIn checks credentials.
func (b *MemoryBackend) SignIn(_ context.Context, email, password string) (UserHandle, error) {
	email = strings.TrimSpace(email)
	if err := ValidateEmail(email); err != nil {
		return UserHandle{}, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	acc, ok := b.accounts[strings.ToLower(email)]
	if !ok {
		return UserHandle{}, fmt.Errorf("%w: no account for %s", ErrNotFound, email)
	}
	now := b.now()
	if now.Before(acc.lockedUntil) {
		return UserHandle{}, fmt.Errorf("%w: %s locked until %s", ErrRateLimited, email, acc.lockedUntil.Format(time.RFC3339))
	}
	if err := bcrypt.CompareHashAndPassword(acc.passwordHash, []byte(password)); err != nil {
		acc.failed++
		if acc.failed >= b.maxFailures {
			acc.failed = 0
			acc.lockedUntil = now.Add(b.lockout)
			return UserHandle{}, fmt.Errorf("%w: too many failed attempts for %s", ErrRateLimited, email)
		}
		return UserHandle{}, fmt.Errorf("%w: wrong password for %s", ErrBadCredential, email)
	}

	acc.failed = 0
	b.signedIn[acc.handle.UID] = true
	return acc.handle, nil
}

// SignOut ends the session of uid.
func (b *MemoryBackend) SignOut(_ context.Context, uid string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.signedIn, uid)
	return nil
}

// SendPasswordReset records a reset request for an existing account.
func (b *MemoryBackend) SendPasswordReset(_ context.Context, email string) error {
	email = strings.TrimSpace(email)
	if err := ValidateEmail(email); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	key := strings.ToLower(email)
	if _, ok := b.accounts[key]; !ok {
		return fmt.Errorf("%w: no account for %s", ErrNotFound, email)
	}
	b.resets[key]++
	return nil
}

// SignedIn reports whether uid has an active session. For testing.
func (b *MemoryBackend) SignedIn(uid string) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.signedIn[uid]
}

// PasswordResets returns how many resets were requested for email. For testing.
func (b *MemoryBackend) PasswordResets(email string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.resets[strings.ToLower(email)]
}

// --- DocumentStore ---

// Get returns the document at path.
func (b *MemoryBackend) Get(_ context.Context, p string) (Document, error) {
	if err := ValidatePath(p); err != nil {
		return Document{}, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()

	doc, ok := b.docs[p]
	if !ok {
		return Document{}, fmt.Errorf("%w: %s", ErrNotFound, p)
	}
	return doc, nil
}

// Set replaces the document at path.
func (b *MemoryBackend) Set(_ context.Context, p string, data any) error {
	if err := ValidatePath(p); err != nil {
		return err
	}
	raw, err := marshalData(data)
	if err != nil {
		return err
	}

	b.mu.Lock()
	b.docs[p] = Document{Path: p, Data: raw, UpdatedAt: b.now().UTC()}
	b.mu.Unlock()

	b.hub.notify(Collection(p))
	return nil
}

// Merge sets top-level fields of the document at path.
func (b *MemoryBackend) Merge(_ context.Context, p string, fields map[string]any) error {
	if err := ValidatePath(p); err != nil {
		return err
	}

	b.mu.Lock()
	raw, err := mergeFields(b.docs[p].Data, fields)
	if err != nil {
		b.mu.Unlock()
		return err
	}
	b.docs[p] = Document{Path: p, Data: raw, UpdatedAt: b.now().UTC()}
	b.mu.Unlock()

	b.hub.notify(Collection(p))
	return nil
}

// Delete removes the document at path.
func (b *MemoryBackend) Delete(_ context.Context, p string) error {
	if err := ValidatePath(p); err != nil {
		return err
	}

	b.mu.Lock()
	_, existed := b.docs[p]
	delete(b.docs, p)
	b.mu.Unlock()

	if existed {
		b.hub.notify(Collection(p))
	}
	return nil
}

// List returns the direct children of collection.
func (b *MemoryBackend) List(_ context.Context, collection string) ([]Document, error) {
	if err := ValidateCollection(collection); err != nil {
		return nil, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()

	docs := make([]Document, 0)
	for p, doc := range b.docs {
		if Collection(p) == collection {
			docs = append(docs, doc)
		}
	}
	slices.SortFunc(docs, func(a, b Document) int { return strings.Compare(a.Path, b.Path) })
	return docs, nil
}

// Subscribe watches collection.
func (b *MemoryBackend) Subscribe(ctx context.Context, collection string, fn SnapshotFunc) (func(), error) {
	if err := ValidateCollection(collection); err != nil {
		return nil, err
	}
	return b.hub.subscribe(ctx, collection, fn)
}

// HealthCheck always succeeds.
func (b *MemoryBackend) HealthCheck(_ context.Context) error {
	return nil
}

// Close stops every subscription.
func (b *MemoryBackend) Close() error {
	b.hub.close()
	return nil
}
