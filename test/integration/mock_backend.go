package integration

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/pitabwire/storefront/internal/backend"
)

// MockBackend is an HTTP test server that speaks the remote backend's
// protocol on top of an in-memory backend. Individual operations can be
// made to fail, and every request is recorded for later assertion.
type MockBackend struct {
	t      *testing.T
	server *httptest.Server
	store  *backend.MemoryBackend
	apiKey string

	mu       sync.Mutex
	faults   map[string][]*fault
	received map[string][]*RecordedRequest
}

// RecordedRequest captures a request received by the mock backend.
type RecordedRequest struct {
	Operation  string
	Method     string
	Path       string
	Headers    http.Header
	RawBody    []byte
	ReceivedAt time.Time
}

type fault struct {
	status    int
	code      string
	connError bool
	delay     time.Duration
	sticky    bool
}

// OperationMock configures failures for a single operation.
type OperationMock struct {
	backend *MockBackend
	opID    string
}

// errorCodes is the reverse of the client's code table.
var errorCodes = []struct {
	err    error
	code   string
	status int
}{
	{backend.ErrAlreadyExists, "already-exists", http.StatusConflict},
	{backend.ErrWeakCredential, "weak-credential", http.StatusBadRequest},
	{backend.ErrInvalidInput, "invalid-input", http.StatusBadRequest},
	{backend.ErrNotFound, "not-found", http.StatusNotFound},
	{backend.ErrBadCredential, "bad-credential", http.StatusUnauthorized},
	{backend.ErrRateLimited, "rate-limited", http.StatusTooManyRequests},
	{backend.ErrPermission, "permission-denied", http.StatusForbidden},
}

// newMockBackend starts a mock backend. Requests must carry apiKey in the
// X-API-Key header when apiKey is not empty.
func newMockBackend(t *testing.T, apiKey string) *MockBackend {
	t.Helper()

	mb := &MockBackend{
		t:        t,
		store:    backend.NewMemoryBackend(bcrypt.MinCost),
		apiKey:   apiKey,
		faults:   make(map[string][]*fault),
		received: make(map[string][]*RecordedRequest),
	}
	mb.server = httptest.NewServer(http.HandlerFunc(mb.serve))
	t.Cleanup(func() {
		mb.server.Close()
		_ = mb.store.Close()
	})
	return mb
}

// URL returns the base URL of the mock backend server.
func (mb *MockBackend) URL() string {
	return mb.server.URL
}

// Store returns the in-memory backend behind the server.
func (mb *MockBackend) Store() *backend.MemoryBackend {
	return mb.store
}

// OnOperation returns a builder for the named operation.
func (mb *MockBackend) OnOperation(operationID string) *OperationMock {
	return &OperationMock{backend: mb, opID: operationID}
}

// RespondWithStatus makes the next call fail with a bare status.
func (om *OperationMock) RespondWithStatus(status int) *OperationMock {
	om.backend.addFault(om.opID, &fault{status: status})
	return om
}

// RespondWithError makes the next call fail with an error body.
func (om *OperationMock) RespondWithError(status int, code string) *OperationMock {
	om.backend.addFault(om.opID, &fault{status: status, code: code})
	return om
}

// RespondWithConnectionError makes the next call drop the connection.
func (om *OperationMock) RespondWithConnectionError() *OperationMock {
	om.backend.addFault(om.opID, &fault{connError: true})
	return om
}

// WithDelay delays the most recently configured failure.
func (om *OperationMock) WithDelay(d time.Duration) *OperationMock {
	om.backend.mu.Lock()
	defer om.backend.mu.Unlock()
	if fs := om.backend.faults[om.opID]; len(fs) > 0 {
		fs[len(fs)-1].delay = d
	}
	return om
}

// Always keeps the most recently configured failure in place for every
// later call instead of consuming it once.
func (om *OperationMock) Always() *OperationMock {
	om.backend.mu.Lock()
	defer om.backend.mu.Unlock()
	if fs := om.backend.faults[om.opID]; len(fs) > 0 {
		fs[len(fs)-1].sticky = true
	}
	return om
}

func (mb *MockBackend) addFault(opID string, f *fault) {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	mb.faults[opID] = append(mb.faults[opID], f)
}

// Heal removes every configured failure.
func (mb *MockBackend) Heal() {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	mb.faults = make(map[string][]*fault)
}

func (mb *MockBackend) nextFault(opID string) *fault {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	fs := mb.faults[opID]
	if len(fs) == 0 {
		return nil
	}
	f := fs[0]
	if !f.sticky {
		mb.faults[opID] = fs[1:]
	}
	return f
}

// CallCount returns how many requests the operation received.
func (mb *MockBackend) CallCount(operationID string) int {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	return len(mb.received[operationID])
}

// TotalCalls returns the number of requests received for any operation.
func (mb *MockBackend) TotalCalls() int {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	n := 0
	for _, reqs := range mb.received {
		n += len(reqs)
	}
	return n
}

// LastRequest returns the most recent request for the operation, or nil.
func (mb *MockBackend) LastRequest(operationID string) *RecordedRequest {
	mb.mu.Lock()
	defer mb.mu.Unlock()
	reqs := mb.received[operationID]
	if len(reqs) == 0 {
		return nil
	}
	return reqs[len(reqs)-1]
}

// AssertCalled fails the test unless the operation was called exactly n times.
func (mb *MockBackend) AssertCalled(t *testing.T, operationID string, n int) {
	t.Helper()
	if got := mb.CallCount(operationID); got != n {
		t.Errorf("operation %s called %d times, want %d", operationID, got, n)
	}
}

// AssertNotCalled fails the test if the operation was called.
func (mb *MockBackend) AssertNotCalled(t *testing.T, operationID string) {
	t.Helper()
	mb.AssertCalled(t, operationID, 0)
}

// route identifies the operation and its path parameter.
func route(r *http.Request) (opID, param string) {
	escaped := r.URL.EscapedPath()
	tail := func(prefix string) string {
		p, _ := url.PathUnescape(strings.TrimPrefix(escaped, prefix))
		return p
	}

	switch {
	case r.Method == http.MethodPost && escaped == "/accounts":
		return backend.OpCreateAccount, ""
	case r.Method == http.MethodPost && escaped == "/sessions":
		return backend.OpSignIn, ""
	case r.Method == http.MethodDelete && strings.HasPrefix(escaped, "/sessions/"):
		return backend.OpSignOut, tail("/sessions/")
	case r.Method == http.MethodPost && escaped == "/password-resets":
		return backend.OpSendPasswordReset, ""
	case r.Method == http.MethodGet && strings.HasPrefix(escaped, "/collections/"):
		return backend.OpListDocuments, tail("/collections/")
	case r.Method == http.MethodGet && escaped == "/health":
		return "health", ""
	case strings.HasPrefix(escaped, "/documents/"):
		switch r.Method {
		case http.MethodGet:
			return backend.OpGetDocument, tail("/documents/")
		case http.MethodPut:
			return backend.OpSetDocument, tail("/documents/")
		case http.MethodPatch:
			return backend.OpMergeDocument, tail("/documents/")
		case http.MethodDelete:
			return backend.OpDeleteDocument, tail("/documents/")
		}
	}
	return "", ""
}

func (mb *MockBackend) serve(w http.ResponseWriter, r *http.Request) {
	opID, param := route(r)
	if opID == "" {
		writeBackendError(w, http.StatusNotFound, "not-found", "no route for "+r.Method+" "+r.URL.Path)
		return
	}

	raw, _ := io.ReadAll(r.Body)
	mb.mu.Lock()
	mb.received[opID] = append(mb.received[opID], &RecordedRequest{
		Operation:  opID,
		Method:     r.Method,
		Path:       r.URL.Path,
		Headers:    r.Header.Clone(),
		RawBody:    raw,
		ReceivedAt: time.Now(),
	})
	mb.mu.Unlock()

	if mb.apiKey != "" && r.Header.Get("X-API-Key") != mb.apiKey {
		writeBackendError(w, http.StatusForbidden, "permission-denied", "bad api key")
		return
	}

	if f := mb.nextFault(opID); f != nil {
		if f.delay > 0 {
			select {
			case <-time.After(f.delay):
			case <-r.Context().Done():
				return
			}
		}
		if f.connError {
			hijackAndClose(w)
			return
		}
		if f.code != "" {
			writeBackendError(w, f.status, f.code, "injected failure")
			return
		}
		w.WriteHeader(f.status)
		return
	}

	mb.dispatch(w, r, opID, param, raw)
}

func (mb *MockBackend) dispatch(w http.ResponseWriter, r *http.Request, opID, param string, raw []byte) {
	ctx := r.Context()
	var in struct {
		Email       string `json:"email"`
		Password    string `json:"password"`
		DisplayName string `json:"display_name"`
	}

	switch opID {
	case backend.OpCreateAccount:
		_ = json.Unmarshal(raw, &in)
		u, err := mb.store.CreateAccount(ctx, in.Email, in.Password, in.DisplayName)
		reply(w, http.StatusCreated, u, err)
	case backend.OpSignIn:
		_ = json.Unmarshal(raw, &in)
		u, err := mb.store.SignIn(ctx, in.Email, in.Password)
		reply(w, http.StatusOK, u, err)
	case backend.OpSignOut:
		reply(w, http.StatusNoContent, nil, mb.store.SignOut(ctx, param))
	case backend.OpSendPasswordReset:
		_ = json.Unmarshal(raw, &in)
		reply(w, http.StatusAccepted, nil, mb.store.SendPasswordReset(ctx, in.Email))
	case backend.OpGetDocument:
		doc, err := mb.store.Get(ctx, param)
		reply(w, http.StatusOK, doc, err)
	case backend.OpSetDocument:
		reply(w, http.StatusNoContent, nil, mb.store.Set(ctx, param, json.RawMessage(raw)))
	case backend.OpMergeDocument:
		var fields map[string]any
		if err := json.Unmarshal(raw, &fields); err != nil {
			writeBackendError(w, http.StatusBadRequest, "invalid-input", err.Error())
			return
		}
		reply(w, http.StatusNoContent, nil, mb.store.Merge(ctx, param, fields))
	case backend.OpDeleteDocument:
		reply(w, http.StatusNoContent, nil, mb.store.Delete(ctx, param))
	case backend.OpListDocuments:
		docs, err := mb.store.List(ctx, param)
		reply(w, http.StatusOK, map[string]any{"documents": docs}, err)
	case "health":
		reply(w, http.StatusOK, map[string]string{"status": "ok"}, nil)
	}
}

func reply(w http.ResponseWriter, status int, body any, err error) {
	if err != nil {
		for _, ec := range errorCodes {
			if errors.Is(err, ec.err) {
				writeBackendError(w, ec.status, ec.code, err.Error())
				return
			}
		}
		writeBackendError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	if body == nil || status == http.StatusNoContent {
		w.WriteHeader(status)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeBackendError(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"code": code, "message": msg})
}

func hijackAndClose(w http.ResponseWriter) {
	hj, ok := w.(http.Hijacker)
	if !ok {
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	conn, _, err := hj.Hijack()
	if err != nil {
		return
	}
	_ = conn.Close()
}
