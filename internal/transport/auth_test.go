package transport

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pitabwire/storefront/internal/config"
)

const testSigningKey = "test-signing-key-0123456789abcdef"

func testIdentityCfg() config.IdentityConfig {
	return config.IdentityConfig{
		Issuer:     "storefront",
		Audience:   "storefront-web",
		SigningKey: testSigningKey,
		SessionTTL: time.Hour,
		Algorithms: []string{"HS256"},
	}
}

func newTestIssuer(t *testing.T) *SessionIssuer {
	t.Helper()
	issuer, err := NewSessionIssuer(testIdentityCfg())
	require.NoError(t, err)
	return issuer
}

func rsaKeyToJWK(kid string, pub *rsa.PublicKey) map[string]any {
	return map[string]any{
		"kid": kid,
		"kty": "RSA",
		"n":   base64.RawURLEncoding.EncodeToString(pub.N.Bytes()),
		"e":   base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes()),
	}
}

func ecKeyToJWK(kid string, pub *ecdsa.PublicKey) map[string]any {
	return map[string]any{
		"kid": kid,
		"kty": "EC",
		"crv": "P-256",
		"x":   base64.RawURLEncoding.EncodeToString(pub.X.Bytes()),
		"y":   base64.RawURLEncoding.EncodeToString(pub.Y.Bytes()),
	}
}

func startJWKSServer(t *testing.T, hits *atomic.Int32, keys ...map[string]any) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if hits != nil {
			hits.Add(1)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"keys": keys})
	}))
	t.Cleanup(srv.Close)
	return srv
}

// protected runs the authenticator in front of a handler that echoes the
// subject claim.
func protected(auth func(http.Handler) http.Handler) http.Handler {
	return auth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]any{"sub": ClaimsFrom(r.Context())["sub"]})
	}))
}

func callWithToken(h http.Handler, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/me/profile", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func errorMessage(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body errorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.NotNil(t, body.Error)
	return body.Error.Message
}

func TestNewSessionIssuer_requiresKey(t *testing.T) {
	cfg := testIdentityCfg()
	cfg.SigningKey = ""
	_, err := NewSessionIssuer(cfg)
	assert.Error(t, err)
}

func TestSessionIssuer_Issue_roundTrip(t *testing.T) {
	issuer := newTestIssuer(t)
	tok, err := issuer.Issue("u1", "amani@example.com")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), tok.ExpiresAt, 5*time.Second)

	rec := callWithToken(protected(SessionAuthenticator(testIdentityCfg(), issuer, nil)), tok.Token)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"sub":"u1"}`, rec.Body.String())
}

func TestSessionAuthenticator_rejections(t *testing.T) {
	issuer := newTestIssuer(t)
	cfg := testIdentityCfg()
	auth := protected(SessionAuthenticator(cfg, issuer, nil))

	sign := func(claims jwt.MapClaims, key string) string {
		s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(key))
		require.NoError(t, err)
		return s
	}
	base := func() jwt.MapClaims {
		return jwt.MapClaims{
			"sub": "u1",
			"iss": cfg.Issuer,
			"aud": cfg.Audience,
			"exp": time.Now().Add(time.Hour).Unix(),
		}
	}

	expired := base()
	expired["exp"] = time.Now().Add(-time.Hour).Unix()
	wrongIssuer := base()
	wrongIssuer["iss"] = "someone-else"
	wrongAudience := base()
	wrongAudience["aud"] = "other-app"
	noExp := base()
	delete(noExp, "exp")

	tests := []struct {
		name  string
		token string
		want  string
	}{
		{"missing header", "", "Missing authorization header"},
		{"expired", sign(expired, testSigningKey), "Token expired"},
		{"wrong issuer", sign(wrongIssuer, testSigningKey), "Invalid token issuer"},
		{"wrong audience", sign(wrongAudience, testSigningKey), "Invalid token audience"},
		{"bad signature", sign(base(), "another-key"), "Invalid token signature"},
		{"no expiry", sign(noExp, testSigningKey), "Invalid token"},
		{"garbage", "not.a.token", "Invalid token"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := callWithToken(auth, tt.token)
			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Equal(t, tt.want, errorMessage(t, rec))
		})
	}
}

func TestSessionAuthenticator_invalidHeaderFormat(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/me/cart", nil)
	req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	rec := httptest.NewRecorder()
	protected(SessionAuthenticator(testIdentityCfg(), newTestIssuer(t), nil)).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Invalid authorization header format", errorMessage(t, rec))
}

func TestSessionAuthenticator_revokedToken(t *testing.T) {
	issuer := newTestIssuer(t)
	auth := protected(SessionAuthenticator(testIdentityCfg(), issuer, nil))

	tok, err := issuer.Issue("u1", "amani@example.com")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, callWithToken(auth, tok.Token).Code)

	parsed, _, err := jwt.NewParser().ParseUnverified(tok.Token, jwt.MapClaims{})
	require.NoError(t, err)
	jti, _ := parsed.Claims.(jwt.MapClaims)["jti"].(string)
	issuer.Revoke(jti, tok.ExpiresAt)

	rec := callWithToken(auth, tok.Token)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Session has ended", errorMessage(t, rec))
}

func TestSessionAuthenticator_websocketQueryToken(t *testing.T) {
	issuer := newTestIssuer(t)
	tok, err := issuer.Issue("u1", "")
	require.NoError(t, err)
	auth := protected(SessionAuthenticator(testIdentityCfg(), issuer, nil))

	req := httptest.NewRequest(http.MethodGet, "/me/cart/live?access_token="+tok.Token, nil)
	req.Header.Set("Upgrade", "websocket")
	rec := httptest.NewRecorder()
	auth.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	// Plain requests must use the header.
	req = httptest.NewRequest(http.MethodGet, "/me/cart?access_token="+tok.Token, nil)
	rec = httptest.NewRecorder()
	auth.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSessionAuthenticator_jwksTokens(t *testing.T) {
	rsaKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	ecKey, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	srv := startJWKSServer(t, nil,
		rsaKeyToJWK("rsa-1", &rsaKey.PublicKey),
		ecKeyToJWK("ec-1", &ecKey.PublicKey),
	)

	cfg := testIdentityCfg()
	cfg.Algorithms = []string{"RS256", "ES256"}
	auth := protected(SessionAuthenticator(cfg, nil, NewJWKSClient(srv.URL, time.Hour, nil)))

	claims := jwt.MapClaims{
		"sub": "idp-user",
		"iss": cfg.Issuer,
		"aud": cfg.Audience,
		"exp": time.Now().Add(time.Hour).Unix(),
	}
	sign := func(method jwt.SigningMethod, kid string, key any) string {
		tok := jwt.NewWithClaims(method, claims)
		tok.Header["kid"] = kid
		s, err := tok.SignedString(key)
		require.NoError(t, err)
		return s
	}

	assert.Equal(t, http.StatusOK, callWithToken(auth, sign(jwt.SigningMethodRS256, "rsa-1", rsaKey)).Code)
	assert.Equal(t, http.StatusOK, callWithToken(auth, sign(jwt.SigningMethodES256, "ec-1", ecKey)).Code)

	rec := callWithToken(auth, sign(jwt.SigningMethodRS256, "missing", rsaKey))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Without an issuer, HS256 is not accepted.
	hs, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSigningKey))
	require.NoError(t, err)
	rec = callWithToken(auth, hs)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Disallowed signing algorithm", errorMessage(t, rec))
}

func TestJWKSClient_caches_keys(t *testing.T) {
	rsaKey, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)
	var hits atomic.Int32
	srv := startJWKSServer(t, &hits, rsaKeyToJWK("rsa-1", &rsaKey.PublicKey))

	client := NewJWKSClient(srv.URL, time.Hour, nil)
	for range 3 {
		key, err := client.GetKey("rsa-1")
		require.NoError(t, err)
		pub, ok := key.(*rsa.PublicKey)
		require.True(t, ok)
		assert.Zero(t, pub.N.Cmp(rsaKey.PublicKey.N))
	}
	assert.Equal(t, int32(1), hits.Load())

	_, err = client.GetKey("unknown")
	assert.Error(t, err)
}
