package account

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/pitabwire/storefront/internal/backend"
	"github.com/pitabwire/storefront/model"
)

func newTestService(t *testing.T) (*Service, *backend.MemoryBackend) {
	t.Helper()
	b := backend.NewMemoryBackend(bcrypt.MinCost)
	t.Cleanup(func() { _ = b.Close() })
	s := NewService(b, b, nil)
	s.now = func() time.Time { return time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC) }
	return s, b
}

func envelope(t *testing.T, err error) *model.ErrorEnvelope {
	t.Helper()
	var env *model.ErrorEnvelope
	require.True(t, errors.As(err, &env), "error %v is not an envelope", err)
	return env
}

func register(t *testing.T, s *Service) model.Profile {
	t.Helper()
	p, err := s.Register(context.Background(), RegisterRequest{
		Email:    "asha@example.com",
		Password: "secret1",
		Name:     " Asha ",
		Phone:    "0712345678",
		Gender:   model.GenderWomen,
		Address:  "12 Market Rd",
	})
	require.NoError(t, err)
	return p
}

func TestService_Register(t *testing.T) {
	s, _ := newTestService(t)
	p := register(t, s)

	assert.NotEmpty(t, p.UID)
	assert.Equal(t, "Asha", p.Name)
	assert.True(t, p.Preferences.Notifications)
	assert.False(t, p.Preferences.Newsletter)

	stored, err := s.ReadProfile(context.Background(), p.UID)
	require.NoError(t, err)
	assert.Equal(t, p.Address, stored.Address)
	assert.Equal(t, p.CreatedAt, stored.CreatedAt)
}

func TestService_Register_errors(t *testing.T) {
	s, _ := newTestService(t)
	register(t, s)
	ctx := context.Background()

	tests := []struct {
		name string
		req  RegisterRequest
		code string
		msg  string
	}{
		{"duplicate", RegisterRequest{Email: "asha@example.com", Password: "secret1"}, model.ErrAccountExists, MsgAccountExists},
		{"weak password", RegisterRequest{Email: "ravi@example.com", Password: "123"}, model.ErrWeakPassword, MsgWeakPassword},
		{"invalid email", RegisterRequest{Email: "ravi", Password: "secret1"}, model.ErrInvalidEmail, MsgInvalidEmail},
		{"invalid gender", RegisterRequest{Email: "ravi@example.com", Password: "secret1", Gender: "Other"}, model.ErrValidationError, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Register(ctx, tt.req)
			env := envelope(t, err)
			assert.Equal(t, tt.code, env.Code)
			if tt.msg != "" {
				assert.Equal(t, tt.msg, env.Message)
			}
		})
	}
}

func TestService_Login(t *testing.T) {
	s, b := newTestService(t)
	reg := register(t, s)
	ctx := context.Background()

	p, err := s.Login(ctx, "asha@example.com", "secret1")
	require.NoError(t, err)
	assert.Equal(t, reg.UID, p.UID)
	require.NotNil(t, p.LastLoginAt)
	assert.True(t, p.LastLoginAt.Equal(s.now()))
	assert.True(t, b.SignedIn(p.UID))

	_, err = s.Login(ctx, "asha@example.com", "wrong-password")
	assert.Equal(t, MsgBadCredential, envelope(t, err).Message)

	_, err = s.Login(ctx, "nobody@example.com", "secret1")
	assert.Equal(t, model.ErrAccountNotFound, envelope(t, err).Code)

	require.NoError(t, s.Logout(ctx, p.UID))
	assert.False(t, b.SignedIn(p.UID))
}

func TestService_ResetPassword(t *testing.T) {
	s, b := newTestService(t)
	register(t, s)

	require.NoError(t, s.ResetPassword(context.Background(), " asha@example.com "))
	assert.Equal(t, 1, b.PasswordResets("asha@example.com"))

	err := s.ResetPassword(context.Background(), "nobody@example.com")
	assert.Equal(t, MsgAccountNotFound, envelope(t, err).Message)
}

func TestService_ReadProfile_missing(t *testing.T) {
	s, _ := newTestService(t)
	_, err := s.ReadProfile(context.Background(), "ghost")
	assert.Equal(t, model.ErrNotFound, envelope(t, err).Code)
}

func TestService_WriteProfile(t *testing.T) {
	s, _ := newTestService(t)
	reg := register(t, s)
	ctx := context.Background()

	addr := "7 Lake View"
	prefs := model.Preferences{Notifications: false, Newsletter: true}
	p, err := s.WriteProfile(ctx, reg.UID, ProfileUpdate{Address: &addr, Preferences: &prefs})
	require.NoError(t, err)
	assert.Equal(t, addr, p.Address)
	assert.Equal(t, prefs, p.Preferences)
	assert.Equal(t, reg.Name, p.Name, "untouched fields are kept")

	bad := "Unknown"
	_, err = s.WriteProfile(ctx, reg.UID, ProfileUpdate{Gender: &bad})
	assert.Equal(t, model.ErrValidationError, envelope(t, err).Code)
}

func TestService_ReadProfile_concurrent(t *testing.T) {
	s, _ := newTestService(t)
	reg := register(t, s)

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for range 16 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, err := s.ReadProfile(context.Background(), reg.UID)
			if err == nil && p.UID != reg.UID {
				err = fmt.Errorf("uid = %q", p.UID)
			}
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}
}

func TestAuthError(t *testing.T) {
	tests := []struct {
		err  error
		code string
		msg  string
	}{
		{backend.ErrNotFound, model.ErrAccountNotFound, MsgAccountNotFound},
		{fmt.Errorf("wrap: %w", backend.ErrBadCredential), model.ErrBadCredential, MsgBadCredential},
		{backend.ErrRateLimited, model.ErrRateLimited, MsgRateLimited},
		{backend.ErrNetwork, model.ErrBackendUnavailable, MsgNetwork},
		{backend.ErrPermission, model.ErrInternalError, MsgUnknown},
		{errors.New("boom"), model.ErrInternalError, MsgUnknown},
	}
	for _, tt := range tests {
		env := envelope(t, AuthError(tt.err))
		if env.Code != tt.code || env.Message != tt.msg {
			t.Errorf("AuthError(%v) = %s %q, want %s %q", tt.err, env.Code, env.Message, tt.code, tt.msg)
		}
	}
	if AuthError(nil) != nil {
		t.Error("AuthError(nil) != nil")
	}
}
