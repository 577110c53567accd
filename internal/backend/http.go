package backend

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/ratelimit"
	"go.uber.org/zap"
	"resty.dev/v3"

	"github.com/pitabwire/storefront/internal/openapi"
)

// Operations the HTTP backend's OpenAPI description must declare.
const (
	OpCreateAccount     = "createAccount"
	OpSignIn            = "signIn"
	OpSignOut           = "signOut"
	OpSendPasswordReset = "sendPasswordReset"
	OpGetDocument       = "getDocument"
	OpSetDocument       = "setDocument"
	OpMergeDocument     = "mergeDocument"
	OpDeleteDocument    = "deleteDocument"
	OpListDocuments     = "listDocuments"
)

var requiredOperations = []string{
	OpCreateAccount, OpSignIn, OpSignOut, OpSendPasswordReset,
	OpGetDocument, OpSetDocument, OpMergeDocument, OpDeleteDocument, OpListDocuments,
}

// errorCodes maps the backend's error body codes onto the taxonomy.
var errorCodes = map[string]error{
	"already-exists":    ErrAlreadyExists,
	"weak-credential":   ErrWeakCredential,
	"invalid-input":     ErrInvalidInput,
	"not-found":         ErrNotFound,
	"bad-credential":    ErrBadCredential,
	"rate-limited":      ErrRateLimited,
	"permission-denied": ErrPermission,
}

// HTTPOptions configures an HTTPBackend.
type HTTPOptions struct {
	BaseURL           string
	APIKey            string
	Timeout           time.Duration
	PollInterval      time.Duration
	RequestsPerSecond int
	Breaker           *Breaker
	Logger            *zap.Logger

	// OnCall, when set, observes every call with its Outcome.
	OnCall func(operation, outcome string, d time.Duration)
}

// HTTPBackend talks to a remote backend whose routes are described by an
// OpenAPI document. Calls go through a circuit breaker and a request rate
// limiter and are never retried. Subscriptions poll the collection.
type HTTPBackend struct {
	client       *resty.Client
	index        *openapi.Index
	breaker      *Breaker
	limiter      ratelimit.Limiter
	pollInterval time.Duration
	logger       *zap.Logger
	tracer       trace.Tracer
	onCall       func(operation, outcome string, d time.Duration)

	mu     sync.Mutex
	wg     sync.WaitGroup
	stops  map[*struct{}]func()
	closed bool
}

// NewHTTPBackend creates an HTTP backend. It fails when the description
// lacks an operation the backend needs.
func NewHTTPBackend(index *openapi.Index, opts HTTPOptions) (*HTTPBackend, error) {
	if err := index.Require(requiredOperations...); err != nil {
		return nil, err
	}
	baseURL := opts.BaseURL
	if baseURL == "" {
		baseURL = index.BaseURL()
	}
	if baseURL == "" {
		return nil, errors.New("backend: no base URL configured or declared")
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 2 * time.Second
	}
	if opts.Breaker == nil {
		opts.Breaker = NewBreaker(0, 0, 0, nil)
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	limiter := ratelimit.NewUnlimited()
	if opts.RequestsPerSecond > 0 {
		limiter = ratelimit.New(opts.RequestsPerSecond)
	}

	client := resty.New().
		SetBaseURL(strings.TrimRight(baseURL, "/")).
		SetTimeout(opts.Timeout).
		SetRetryCount(0).
		SetHeader("Accept", "application/json")
	if opts.APIKey != "" {
		client.SetHeader("X-API-Key", opts.APIKey)
	}

	return &HTTPBackend{
		client:       client,
		index:        index,
		breaker:      opts.Breaker,
		limiter:      limiter,
		pollInterval: opts.PollInterval,
		logger:       opts.Logger,
		tracer:       otel.Tracer("storefront/backend"),
		onCall:       opts.OnCall,
		stops:        make(map[*struct{}]func()),
	}, nil
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// call invokes an operation. body is sent as JSON when non-nil and the
// reply is decoded into out when non-nil.
func (h *HTTPBackend) call(ctx context.Context, opID string, params map[string]string, body, out any) error {
	start := time.Now()
	err := h.do(ctx, opID, params, body, out)
	if h.onCall != nil {
		h.onCall(opID, Outcome(err), time.Since(start))
	}
	return err
}

func (h *HTTPBackend) do(ctx context.Context, opID string, params map[string]string, body, out any) error {
	if fields, ok := body.(map[string]any); ok {
		if errs := h.index.ValidateRequest(opID, fields); len(errs) > 0 {
			return fmt.Errorf("%w: %s", ErrInvalidInput, errs[0].Message)
		}
	}
	method, path, err := h.index.Resolve(opID, params)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	if err := h.breaker.Allow(); err != nil {
		return err
	}
	h.limiter.Take()

	ctx, span := h.tracer.Start(ctx, "backend."+opID,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", method),
			attribute.String("url.path", path),
		),
	)
	defer span.End()

	req := h.client.R().SetContext(ctx)
	carrier := propagation.HeaderCarrier(http.Header{})
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	for _, k := range carrier.Keys() {
		req.SetHeader(k, carrier.Get(k))
	}
	if body != nil {
		req.SetHeader("Content-Type", "application/json").SetBody(body)
	}

	start := time.Now()
	res, err := req.Execute(method, path)
	if err != nil {
		h.breaker.RecordFailure()
		span.RecordError(err)
		span.SetStatus(codes.Error, "transport failure")
		h.logger.Warn("backend call failed",
			zap.String("operation", opID),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err),
		)
		return fmt.Errorf("%w: %s: %v", ErrNetwork, opID, err)
	}

	status := res.StatusCode()
	span.SetAttributes(attribute.Int("http.response.status_code", status))
	h.logger.Debug("backend call",
		zap.String("operation", opID),
		zap.Int("status", status),
		zap.Duration("duration", time.Since(start)),
	)

	switch {
	case status >= 500:
		h.breaker.RecordFailure()
		span.SetStatus(codes.Error, http.StatusText(status))
		return fmt.Errorf("%w: %s returned %d", ErrNetwork, opID, status)
	case status >= 400:
		h.breaker.RecordSuccess()
		return classifyReply(opID, status, res.String())
	}

	h.breaker.RecordSuccess()
	if out != nil && status != http.StatusNoContent {
		if err := json.Unmarshal([]byte(res.String()), out); err != nil {
			return fmt.Errorf("backend: decode %s reply: %w", opID, err)
		}
	}
	return nil
}

// classifyReply maps a 4xx reply onto the taxonomy, preferring the code in
// the error body over the status.
func classifyReply(opID string, status int, raw string) error {
	var eb errorBody
	_ = json.Unmarshal([]byte(raw), &eb)
	if sentinel, ok := errorCodes[eb.Code]; ok {
		return fmt.Errorf("%w: %s: %s", sentinel, opID, eb.Message)
	}

	var sentinel error
	switch status {
	case http.StatusNotFound:
		sentinel = ErrNotFound
	case http.StatusConflict:
		sentinel = ErrAlreadyExists
	case http.StatusUnauthorized:
		sentinel = ErrBadCredential
	case http.StatusForbidden:
		sentinel = ErrPermission
	case http.StatusTooManyRequests:
		sentinel = ErrRateLimited
	default:
		sentinel = ErrInvalidInput
	}
	return fmt.Errorf("%w: %s returned %d", sentinel, opID, status)
}

// --- Authenticator ---

// CreateAccount registers a new account.
func (h *HTTPBackend) CreateAccount(ctx context.Context, email, password, displayName string) (UserHandle, error) {
	if len(password) < MinPasswordLength {
		return UserHandle{}, fmt.Errorf("%w: password shorter than %d characters", ErrWeakCredential, MinPasswordLength)
	}
	var u UserHandle
	err := h.call(ctx, OpCreateAccount, nil, map[string]any{
		"email":        email,
		"password":     password,
		"display_name": displayName,
	}, &u)
	return u, err
}

// SignIn checks credentials.
func (h *HTTPBackend) SignIn(ctx context.Context, email, password string) (UserHandle, error) {
	var u UserHandle
	err := h.call(ctx, OpSignIn, nil, map[string]any{"email": email, "password": password}, &u)
	return u, err
}

// SignOut ends the session of uid.
func (h *HTTPBackend) SignOut(ctx context.Context, uid string) error {
	return h.call(ctx, OpSignOut, map[string]string{"uid": uid}, nil, nil)
}

// SendPasswordReset starts a password reset.
func (h *HTTPBackend) SendPasswordReset(ctx context.Context, email string) error {
	return h.call(ctx, OpSendPasswordReset, nil, map[string]any{"email": email}, nil)
}

// --- DocumentStore ---

// Get returns the document at path.
func (h *HTTPBackend) Get(ctx context.Context, p string) (Document, error) {
	if err := ValidatePath(p); err != nil {
		return Document{}, err
	}
	var doc Document
	if err := h.call(ctx, OpGetDocument, map[string]string{"path": p}, nil, &doc); err != nil {
		return Document{}, err
	}
	doc.Path = p
	return doc, nil
}

// Set replaces the document at path.
func (h *HTTPBackend) Set(ctx context.Context, p string, data any) error {
	if err := ValidatePath(p); err != nil {
		return err
	}
	raw, err := marshalData(data)
	if err != nil {
		return err
	}
	return h.call(ctx, OpSetDocument, map[string]string{"path": p}, raw, nil)
}

// Merge sets top-level fields of the document at path.
func (h *HTTPBackend) Merge(ctx context.Context, p string, fields map[string]any) error {
	if err := ValidatePath(p); err != nil {
		return err
	}
	raw, err := marshalData(fields)
	if err != nil {
		return err
	}
	return h.call(ctx, OpMergeDocument, map[string]string{"path": p}, raw, nil)
}

// Delete removes the document at path.
func (h *HTTPBackend) Delete(ctx context.Context, p string) error {
	if err := ValidatePath(p); err != nil {
		return err
	}
	err := h.call(ctx, OpDeleteDocument, map[string]string{"path": p}, nil, nil)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	return err
}

type listReply struct {
	Documents []Document `json:"documents"`
}

// List returns the direct children of collection.
func (h *HTTPBackend) List(ctx context.Context, collection string) ([]Document, error) {
	if err := ValidateCollection(collection); err != nil {
		return nil, err
	}
	var reply listReply
	if err := h.call(ctx, OpListDocuments, map[string]string{"path": collection}, nil, &reply); err != nil {
		return nil, err
	}
	if reply.Documents == nil {
		reply.Documents = []Document{}
	}
	return reply.Documents, nil
}

// Subscribe polls collection every poll interval and calls fn whenever its
// contents change.
func (h *HTTPBackend) Subscribe(ctx context.Context, collection string, fn SnapshotFunc) (func(), error) {
	if err := ValidateCollection(collection); err != nil {
		return nil, err
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, fmt.Errorf("%w: backend closed", ErrNetwork)
	}

	ctx, cancel := context.WithCancel(ctx)
	key := &struct{}{}
	var once sync.Once
	stop := func() {
		once.Do(func() {
			cancel()
			h.mu.Lock()
			delete(h.stops, key)
			h.mu.Unlock()
		})
	}
	h.stops[key] = stop

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		defer stop()
		h.poll(ctx, collection, fn)
	}()
	return stop, nil
}

func (h *HTTPBackend) poll(ctx context.Context, collection string, fn SnapshotFunc) {
	ticker := time.NewTicker(h.pollInterval)
	defer ticker.Stop()

	var last [sha256.Size]byte
	first := true
	for {
		docs, err := h.List(ctx, collection)
		if err == nil {
			raw, _ := json.Marshal(docs)
			sum := sha256.Sum256(raw)
			if first || sum != last {
				first = false
				last = sum
				fn(docs)
			}
		} else if ctx.Err() == nil {
			h.logger.Debug("backend poll failed", zap.String("collection", collection), zap.Error(err))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// HealthCheck reports an error while the circuit breaker is open.
func (h *HTTPBackend) HealthCheck(_ context.Context) error {
	if h.breaker.State() == BreakerOpen {
		return fmt.Errorf("%w: circuit breaker is open", ErrNetwork)
	}
	return nil
}

// Close stops every subscription and waits for the pollers to exit.
func (h *HTTPBackend) Close() error {
	h.mu.Lock()
	h.closed = true
	stops := make([]func(), 0, len(h.stops))
	for _, stop := range h.stops {
		stops = append(stops, stop)
	}
	h.mu.Unlock()

	for _, stop := range stops {
		stop()
	}
	h.wg.Wait()
	return nil
}
