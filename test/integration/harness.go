// Package integration provides a reusable test harness for end-to-end
// integration testing of the storefront server. It starts the full HTTP
// router over the HTTP backend client, a mock remote backend, optional
// shared Redis stores and a test identity provider.
package integration

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/pitabwire/storefront/internal/account"
	"github.com/pitabwire/storefront/internal/backend"
	"github.com/pitabwire/storefront/internal/cart"
	"github.com/pitabwire/storefront/internal/catalog"
	"github.com/pitabwire/storefront/internal/checkout"
	"github.com/pitabwire/storefront/internal/config"
	"github.com/pitabwire/storefront/internal/navigation"
	"github.com/pitabwire/storefront/internal/observability"
	"github.com/pitabwire/storefront/internal/openapi"
	"github.com/pitabwire/storefront/internal/search"
	"github.com/pitabwire/storefront/internal/transport"
	"github.com/pitabwire/storefront/model"
)

const (
	testSigningKey = "integration-signing-key-0123456789abcdef"
	testAPIKey     = "integration-api-key"
	testOrigin     = "https://shop.example.com"
)

// TestHarness encapsulates a fully wired storefront instance for
// integration testing.
type TestHarness struct {
	t      *testing.T
	server *httptest.Server
	issuer *tokenIssuer

	// Components exposed for advanced test scenarios.
	Backend *MockBackend
	Client  *backend.HTTPBackend
	Breaker *backend.Breaker
	Metrics *observability.Metrics
	Catalog *catalog.Store
	Redis   *miniredis.Miniredis

	cfg *config.Config
}

// HarnessOption configures the test harness.
type HarnessOption func(*harnessConfig)

type harnessConfig struct {
	redis            *miniredis.Miniredis
	mock             *MockBackend
	issuer           *tokenIssuer
	handlerTimeout   time.Duration
	backendTimeout   time.Duration
	failureThreshold int
	breakerTimeout   time.Duration
	rateLimit        config.RateLimitConfig
}

// WithRedis keeps navigation sessions, recent searches and idempotency
// records in mr. Harnesses given the same server share that state.
func WithRedis(mr *miniredis.Miniredis) HarnessOption {
	return func(c *harnessConfig) {
		c.redis = mr
	}
}

// WithBackend points the harness at an existing mock backend instead of
// starting its own.
func WithBackend(mb *MockBackend) HarnessOption {
	return func(c *harnessConfig) {
		c.mock = mb
	}
}

// WithIdentityProvider trusts tokens from an existing issuer.
func WithIdentityProvider(ti *tokenIssuer) HarnessOption {
	return func(c *harnessConfig) {
		c.issuer = ti
	}
}

// WithHandlerTimeout sets the per-request handler timeout.
func WithHandlerTimeout(d time.Duration) HarnessOption {
	return func(c *harnessConfig) {
		c.handlerTimeout = d
	}
}

// WithBackendTimeout sets the timeout of a single backend call.
func WithBackendTimeout(d time.Duration) HarnessOption {
	return func(c *harnessConfig) {
		c.backendTimeout = d
	}
}

// WithBreaker sets the failure threshold and open timeout of the backend
// circuit breaker.
func WithBreaker(failures int, openFor time.Duration) HarnessOption {
	return func(c *harnessConfig) {
		c.failureThreshold = failures
		c.breakerTimeout = openFor
	}
}

// WithRateLimit enables the sign-in rate limit.
func WithRateLimit(rps float64, burst int) HarnessOption {
	return func(c *harnessConfig) {
		c.rateLimit = config.RateLimitConfig{Enabled: true, RequestsPerSecond: rps, Burst: burst}
	}
}

// NewTestHarness creates and starts a storefront instance. Everything it
// starts is cleaned up when the test completes.
func NewTestHarness(t *testing.T, opts ...HarnessOption) *TestHarness {
	t.Helper()

	hc := &harnessConfig{
		handlerTimeout:   10 * time.Second,
		backendTimeout:   2 * time.Second,
		failureThreshold: 5,
		breakerTimeout:   time.Minute,
	}
	for _, opt := range opts {
		opt(hc)
	}
	if hc.mock == nil {
		hc.mock = newMockBackend(t, testAPIKey)
	}
	if hc.issuer == nil {
		hc.issuer = newTokenIssuer(t, "storefront", "storefront-web")
	}

	logger := zap.NewNop()
	cfg := config.Defaults()
	cfg.Identity.SigningKey = testSigningKey
	cfg.Identity.Algorithms = []string{"RS256"}
	cfg.Identity.JWKSURL = hc.issuer.JWKSURL()
	cfg.Server.CORS.AllowedOrigins = []string{testOrigin}
	cfg.Server.HandlerTimeout = hc.handlerTimeout
	cfg.RateLimit = hc.rateLimit
	cfg.Search.Debounce = 10 * time.Millisecond
	cfg.Catalog.Directories = []string{filepath.Join(testdataDir(), "catalog")}
	cfg.Catalog.HotReload = false

	metrics := observability.InitMetrics(prometheus.NewRegistry())

	// Catalog.
	store := catalog.NewStore(nil)
	suggestions := search.NewSuggestionCache(time.Minute, 100)
	watcher := catalog.NewWatcher(cfg.Catalog.Directories, store, logger, func(_ string, err error) {
		if err == nil {
			suggestions.Invalidate()
		}
	})
	if err := watcher.Reload(); err != nil {
		t.Fatalf("load catalog: %v", err)
	}

	// Backend client.
	idx, err := openapi.LoadFile(filepath.Join(testdataDir(), "backend.yaml"))
	if err != nil {
		t.Fatalf("load backend description: %v", err)
	}
	breaker := backend.NewBreaker(hc.failureThreshold, 1, hc.breakerTimeout, func(from, to backend.BreakerState) {
		logger.Warn("backend circuit breaker changed", zap.Stringer("from", from), zap.Stringer("to", to))
	})
	be, err := backend.NewHTTPBackend(idx, backend.HTTPOptions{
		BaseURL:      hc.mock.URL(),
		APIKey:       testAPIKey,
		Timeout:      hc.backendTimeout,
		PollInterval: 50 * time.Millisecond,
		Breaker:      breaker,
		Logger:       logger,
		OnCall:       metrics.RecordBackendRequest,
	})
	if err != nil {
		t.Fatalf("create backend client: %v", err)
	}

	// Stores.
	var navStore navigation.SessionStore = navigation.NewMemorySessionStore()
	var recent search.RecentStore = search.NewMemoryRecentStore(cfg.Search.RecentLimit)
	var idem checkout.IdempotencyStore = checkout.NewMemoryIdempotencyStore()
	deps := map[string]observability.HealthChecker{"backend": be}
	if hc.redis != nil {
		rdb := redis.NewClient(&redis.Options{Addr: hc.redis.Addr()})
		t.Cleanup(func() { _ = rdb.Close() })
		navStore = navigation.NewRedisSessionStore(rdb, cfg.Navigation.Store.KeyPrefix)
		recent = search.NewRedisRecentStore(rdb, cfg.Search.RecentStore.KeyPrefix, cfg.Search.RecentLimit)
		idem = checkout.NewRedisIdempotencyStore(rdb)
		deps["redis"] = observability.HealthCheckFunc(func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		})
	}

	// Services.
	accounts := account.NewService(be, be, logger)
	carts := cart.NewService(be, logger)
	sessions, err := transport.NewSessionIssuer(cfg.Identity)
	if err != nil {
		t.Fatalf("create session issuer: %v", err)
	}
	jwks := transport.NewJWKSClient(cfg.Identity.JWKSURL, time.Minute, logger)

	router := transport.NewRouter(transport.Dependencies{
		Config:       cfg,
		Logger:       logger,
		Metrics:      metrics,
		Authenticate: transport.SessionAuthenticator(cfg.Identity, sessions, jwks),
		Sessions:     sessions,
		Catalog:      store,
		Menu:         catalog.NewMenuProvider(store),
		Navigation:   navigation.NewService(store, navStore, cfg.Navigation.SessionTTL, logger),
		Search: search.NewProvider(store, suggestions, search.Options{
			Trending: cfg.Search.Trending,
		}),
		Recent:   recent,
		Accounts: accounts,
		Cart:     carts,
		Checkout: checkout.NewService(carts, accounts, be, idem, checkout.Options{
			AdditionalFee: cfg.Checkout.AdditionalFee,
		}, logger),
		Readiness: observability.ReadinessChecks{
			CatalogLoaded: func() bool { return len(store.Categories()) > 0 },
			Dependencies:  deps,
		},
	})

	server := httptest.NewServer(router)
	t.Cleanup(func() {
		server.Close()
		_ = be.Close()
	})

	return &TestHarness{
		t:       t,
		server:  server,
		issuer:  hc.issuer,
		Backend: hc.mock,
		Client:  be,
		Breaker: breaker,
		Metrics: metrics,
		Catalog: store,
		Redis:   hc.redis,
		cfg:     cfg,
	}
}

// BaseURL returns the test server's base URL.
func (h *TestHarness) BaseURL() string {
	return h.server.URL
}

// WebsocketURL returns the ws:// URL of path on the test server.
func (h *TestHarness) WebsocketURL(path string) string {
	return "ws" + strings.TrimPrefix(h.server.URL, "http") + path
}

// Issuer returns the identity provider the harness trusts.
func (h *TestHarness) Issuer() *tokenIssuer {
	return h.issuer
}

// --- HTTP client helpers ---

// GET performs a GET request. An empty token sends no Authorization header.
func (h *TestHarness) GET(path, token string) *http.Response {
	h.t.Helper()
	return h.Do(http.MethodGet, path, nil, token, nil)
}

// POST performs a POST request with a JSON body.
func (h *TestHarness) POST(path string, body any, token string) *http.Response {
	h.t.Helper()
	return h.Do(http.MethodPost, path, body, token, nil)
}

// Do performs a request with additional headers.
func (h *TestHarness) Do(method, path string, body any, token string, headers map[string]string) *http.Response {
	h.t.Helper()

	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			h.t.Fatalf("marshal request body: %v", err)
		}
		bodyReader = strings.NewReader(string(data))
	}

	req, err := http.NewRequestWithContext(context.Background(), method, h.server.URL+path, bodyReader)
	if err != nil {
		h.t.Fatalf("create request: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	client := &http.Client{
		Timeout: 10 * time.Second,
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	resp, err := client.Do(req)
	if err != nil {
		h.t.Fatalf("%s %s failed: %v", method, path, err)
	}
	return resp
}

// ParseJSON reads the response body and unmarshals it into the target.
func (h *TestHarness) ParseJSON(resp *http.Response, target any) {
	h.t.Helper()
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		h.t.Fatalf("read response body: %v", err)
	}
	if err := json.Unmarshal(data, target); err != nil {
		h.t.Fatalf("unmarshal response body: %v\nbody: %s", err, string(data))
	}
}

// AssertStatus checks the status code and closes the body.
func (h *TestHarness) AssertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	defer resp.Body.Close()
	if resp.StatusCode != expected {
		body, _ := io.ReadAll(resp.Body)
		t.Errorf("status = %d, want %d\nbody: %s", resp.StatusCode, expected, string(body))
	}
}

// AssertJSON checks the status and parses the body.
func (h *TestHarness) AssertJSON(t *testing.T, resp *http.Response, expected int, target any) {
	t.Helper()
	if resp.StatusCode != expected {
		body, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		t.Fatalf("status = %d, want %d\nbody: %s", resp.StatusCode, expected, string(body))
	}
	h.ParseJSON(resp, target)
}

// ErrorCode returns the code of an error envelope and closes the body.
func (h *TestHarness) ErrorCode(resp *http.Response) string {
	h.t.Helper()
	var env struct {
		Error *model.ErrorEnvelope `json:"error"`
	}
	h.ParseJSON(resp, &env)
	if env.Error == nil {
		h.t.Fatalf("response carries no error envelope")
	}
	return env.Error.Code
}

// Register signs up a shopper and returns the session token.
func (h *TestHarness) Register(email, password, address string) string {
	h.t.Helper()
	resp := h.POST("/auth/register", map[string]string{
		"email":    email,
		"password": password,
		"name":     "Test Shopper",
		"address":  address,
	}, "")
	var out struct {
		Session transport.SessionToken `json:"session"`
	}
	h.AssertJSON(h.t, resp, http.StatusCreated, &out)
	if out.Session.Token == "" {
		h.t.Fatalf("register %s returned no session token", email)
	}
	return out.Session.Token
}

// testdataDir returns the absolute path to the testdata directory.
func testdataDir() string {
	_, file, _, _ := runtime.Caller(0)
	return filepath.Join(filepath.Dir(file), "testdata")
}
