// Package account handles shopper registration, sign-in and profile
// documents on top of the backend's authenticator and document store.
package account

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/pitabwire/storefront/internal/backend"
	"github.com/pitabwire/storefront/model"
)

// RegisterRequest carries the sign-up form.
type RegisterRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name"`
	Phone    string `json:"phone"`
	WhatsApp string `json:"whatsapp,omitempty"`
	Gender   string `json:"gender"`
	Address  string `json:"address"`
	Landmark string `json:"landmark,omitempty"`
}

// ProfileUpdate is a partial profile write. Nil fields are left untouched.
type ProfileUpdate struct {
	Name        *string            `json:"name,omitempty"`
	Phone       *string            `json:"phone,omitempty"`
	WhatsApp    *string            `json:"whatsapp,omitempty"`
	Gender      *string            `json:"gender,omitempty"`
	Address     *string            `json:"address,omitempty"`
	Landmark    *string            `json:"landmark,omitempty"`
	PhotoURL    *string            `json:"photo_url,omitempty"`
	Preferences *model.Preferences `json:"preferences,omitempty"`
}

func (u ProfileUpdate) fields() map[string]any {
	f := make(map[string]any)
	set := func(key string, v *string) {
		if v != nil {
			f[key] = strings.TrimSpace(*v)
		}
	}
	set("name", u.Name)
	set("phone", u.Phone)
	set("whatsapp", u.WhatsApp)
	set("gender", u.Gender)
	set("address", u.Address)
	set("landmark", u.Landmark)
	set("photo_url", u.PhotoURL)
	if u.Preferences != nil {
		f["preferences"] = *u.Preferences
	}
	return f
}

// ProfilePath returns the document path of a shopper profile.
func ProfilePath(uid string) string {
	return "users/" + uid
}

// Service implements the account operations.
type Service struct {
	auth   backend.Authenticator
	docs   backend.DocumentStore
	logger *zap.Logger
	now    func() time.Time
	reads  singleflight.Group
}

// NewService creates an account service.
func NewService(auth backend.Authenticator, docs backend.DocumentStore, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		auth:   auth,
		docs:   docs,
		logger: logger,
		now:    time.Now,
	}
}

// Register creates the account and its profile document. New profiles get
// notifications on and the newsletter off.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (model.Profile, error) {
	if req.Gender != "" && req.Gender != model.GenderMen && req.Gender != model.GenderWomen {
		return model.Profile{}, model.NewValidationError([]model.FieldError{{
			Field: "gender", Code: "INVALID", Message: "gender must be Men or Women",
		}})
	}

	email := strings.TrimSpace(req.Email)
	user, err := s.auth.CreateAccount(ctx, email, req.Password, strings.TrimSpace(req.Name))
	if err != nil {
		return model.Profile{}, AuthError(err)
	}

	now := s.now().UTC()
	p := model.Profile{
		UID:           user.UID,
		Email:         user.Email,
		Name:          strings.TrimSpace(req.Name),
		Phone:         strings.TrimSpace(req.Phone),
		WhatsApp:      strings.TrimSpace(req.WhatsApp),
		Gender:        req.Gender,
		Address:       strings.TrimSpace(req.Address),
		Landmark:      strings.TrimSpace(req.Landmark),
		EmailVerified: user.EmailVerified,
		Preferences:   model.Preferences{Notifications: true, Newsletter: false},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.docs.Set(ctx, ProfilePath(user.UID), p); err != nil {
		return model.Profile{}, fmt.Errorf("account: write profile for %s: %w", user.UID, err)
	}

	s.logger.Info("account registered", zap.String("uid", user.UID))
	return p, nil
}

// Login checks the credentials, records the sign-in time on the profile and
// returns the profile.
func (s *Service) Login(ctx context.Context, email, password string) (model.Profile, error) {
	user, err := s.auth.SignIn(ctx, strings.TrimSpace(email), password)
	if err != nil {
		s.logger.Info("sign-in rejected", zap.Error(err))
		return model.Profile{}, AuthError(err)
	}

	now := s.now().UTC()
	if err := s.docs.Merge(ctx, ProfilePath(user.UID), map[string]any{"last_login_at": now}); err != nil {
		return model.Profile{}, fmt.Errorf("account: record sign-in for %s: %w", user.UID, err)
	}

	p, err := s.ReadProfile(ctx, user.UID)
	if err != nil {
		return model.Profile{}, err
	}
	if p.UID == "" {
		p.UID = user.UID
		p.Email = user.Email
		p.Name = user.DisplayName
	}
	return p, nil
}

// Logout ends the backend session of uid.
func (s *Service) Logout(ctx context.Context, uid string) error {
	if err := s.auth.SignOut(ctx, uid); err != nil {
		return AuthError(err)
	}
	return nil
}

// ResetPassword asks the backend to send a password reset email.
func (s *Service) ResetPassword(ctx context.Context, email string) error {
	if err := s.auth.SendPasswordReset(ctx, strings.TrimSpace(email)); err != nil {
		return AuthError(err)
	}
	return nil
}

// ReadProfile returns the profile of uid. Concurrent reads of the same
// profile share one backend call.
func (s *Service) ReadProfile(ctx context.Context, uid string) (model.Profile, error) {
	v, err, _ := s.reads.Do(uid, func() (any, error) {
		doc, err := s.docs.Get(ctx, ProfilePath(uid))
		if err != nil {
			return model.Profile{}, err
		}
		var p model.Profile
		if err := doc.Decode(&p); err != nil {
			return model.Profile{}, err
		}
		return p, nil
	})
	if errors.Is(err, backend.ErrNotFound) {
		return model.Profile{}, model.NewNotFoundError(fmt.Sprintf("profile %q not found", uid))
	}
	if err != nil {
		return model.Profile{}, fmt.Errorf("account: read profile %s: %w", uid, err)
	}
	return v.(model.Profile), nil
}

// WriteProfile applies a partial update and returns the stored profile.
func (s *Service) WriteProfile(ctx context.Context, uid string, u ProfileUpdate) (model.Profile, error) {
	if u.Gender != nil && *u.Gender != model.GenderMen && *u.Gender != model.GenderWomen {
		return model.Profile{}, model.NewValidationError([]model.FieldError{{
			Field: "gender", Code: "INVALID", Message: "gender must be Men or Women",
		}})
	}
	fields := u.fields()
	if len(fields) == 0 {
		return s.ReadProfile(ctx, uid)
	}
	fields["updated_at"] = s.now().UTC()

	if err := s.docs.Merge(ctx, ProfilePath(uid), fields); err != nil {
		return model.Profile{}, fmt.Errorf("account: write profile %s: %w", uid, err)
	}
	s.reads.Forget(uid)
	return s.ReadProfile(ctx, uid)
}
