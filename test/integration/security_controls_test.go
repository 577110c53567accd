package integration

import (
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pitabwire/storefront/model"
)

func TestSecurity_identity_provider_tokens(t *testing.T) {
	h := NewTestHarness(t)
	claims := TestClaims{SubjectID: "idp-user-1", Email: "idp@example.com"}

	token := h.Issuer().GenerateToken(claims)
	h.AssertStatus(t, h.POST("/me/searches", map[string]string{"query": "belts"}, token), http.StatusOK)

	var recent map[string][]string
	h.AssertJSON(t, h.GET("/me/searches", token), http.StatusOK, &recent)
	assert.Equal(t, []string{"belts"}, recent["recent"])

	tests := []struct {
		name    string
		token   string
		message string
	}{
		{"expired", h.Issuer().GenerateExpiredToken(claims), "Token expired"},
		{"unknown key", h.Issuer().GenerateForeignToken(t, claims), "Invalid token signature"},
		{"tampered payload", tamper(token), "Invalid token signature"},
		{"wrong audience", h.Issuer().GenerateToken(TestClaims{
			SubjectID: "idp-user-1",
			Extra:     map[string]any{"aud": "someone-else"},
		}), "Invalid token audience"},
		{"wrong issuer", h.Issuer().GenerateToken(TestClaims{
			SubjectID: "idp-user-1",
			Extra:     map[string]any{"iss": "https://evil.example.com"},
		}), "Invalid token issuer"},
		{"garbage", "not-a-jwt", "Invalid token"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := h.GET("/me/searches", tt.token)
			require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
			var body struct {
				Error *model.ErrorEnvelope `json:"error"`
			}
			h.ParseJSON(resp, &body)
			require.NotNil(t, body.Error)
			assert.Equal(t, model.ErrUnauthorized, body.Error.Code)
			assert.Equal(t, tt.message, body.Error.Message)
		})
	}
}

// tamper swaps the payload of a signed token for a different one.
func tamper(token string) string {
	parts := strings.Split(token, ".")
	// {"sub":"admin","iss":"storefront","aud":"storefront-web","exp":9999999999}
	parts[1] = "eyJzdWIiOiJhZG1pbiIsImlzcyI6InN0b3JlZnJvbnQiLCJhdWQiOiJzdG9yZWZyb250LXdlYiIsImV4cCI6OTk5OTk5OTk5OX0"
	return strings.Join(parts, ".")
}

func TestSecurity_missing_and_malformed_authorization(t *testing.T) {
	h := NewTestHarness(t)

	resp := h.GET("/me/cart", "")
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, model.ErrUnauthorized, h.ErrorCode(resp))

	resp = h.Do(http.MethodGet, "/me/cart", nil, "", map[string]string{"Authorization": "Basic dXNlcjpwYXNz"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, model.ErrUnauthorized, h.ErrorCode(resp))

	// Nothing reached the backend.
	assert.Zero(t, h.Backend.TotalCalls())
}

func TestSecurity_sign_in_rate_limit(t *testing.T) {
	h := NewTestHarness(t, WithRateLimit(0.001, 3))
	creds := map[string]string{"email": "nobody@example.com", "password": "secret1"}

	for range 3 {
		resp := h.POST("/auth/login", creds, "")
		assert.NotEqual(t, http.StatusTooManyRequests, resp.StatusCode)
		_ = resp.Body.Close()
	}
	resp := h.POST("/auth/login", creds, "")
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	assert.Equal(t, "1", resp.Header.Get("Retry-After"))
	assert.Equal(t, model.ErrRateLimited, h.ErrorCode(resp))

	// Limited requests never reach the backend.
	assert.Equal(t, 3, h.Backend.CallCount("signIn"))

	h.AssertStatus(t, h.GET("/categories", ""), http.StatusOK)
}

func TestSecurity_cors_and_headers(t *testing.T) {
	h := NewTestHarness(t)

	resp := h.Do(http.MethodOptions, "/me/cart", nil, "", map[string]string{
		"Origin":                        testOrigin,
		"Access-Control-Request-Method": http.MethodPost,
	})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, testOrigin, resp.Header.Get("Access-Control-Allow-Origin"))

	resp = h.Do(http.MethodGet, "/categories", nil, "", map[string]string{"Origin": "https://evil.example.com"})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
	assert.NotEmpty(t, resp.Header.Get("X-Correlation-Id"))
}

func TestSecurity_backend_api_key(t *testing.T) {
	h := NewTestHarness(t)
	token := h.Register("wairimu@example.com", "secret1", "Kileleshwa")

	h.AssertStatus(t, h.GET("/me/profile", token), http.StatusOK)
	for _, op := range []string{"createAccount", "setDocument", "getDocument"} {
		req := h.Backend.LastRequest(op)
		require.NotNil(t, req, op)
		assert.Equal(t, testAPIKey, req.Headers.Get("X-API-Key"), op)
	}
}
