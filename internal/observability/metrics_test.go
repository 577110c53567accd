package observability

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func newTestMetrics(t *testing.T) (*Metrics, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	return InitMetrics(reg), reg
}

func TestInitMetrics_registersAllMetrics(t *testing.T) {
	m, reg := newTestMetrics(t)

	// Vectors only show up in Gather once they have a child.
	m.RecordHTTPRequest("GET", "/categories", 200, time.Millisecond, 0, 10)
	m.RecordNavigationStart("1")
	m.RecordNavigationTransition("select")
	m.RecordSearch("search", time.Millisecond, 3)
	m.RecordAuthAttempt("login", "ok")
	m.RecordCartMutation("upsert")
	m.RecordBackendRequest("getDocument", "ok", time.Millisecond)
	m.RecordCatalogReload(nil, 9, 40)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}
	names := make(map[string]bool)
	for _, f := range families {
		names[f.GetName()] = true
	}

	expected := []string{
		"storefront_http_requests_total",
		"storefront_http_request_duration_seconds",
		"storefront_http_request_size_bytes",
		"storefront_http_response_size_bytes",
		"storefront_navigation_sessions_started_total",
		"storefront_navigation_transitions_total",
		"storefront_navigation_version_conflicts_total",
		"storefront_search_requests_total",
		"storefront_search_duration_seconds",
		"storefront_search_results",
		"storefront_live_search_discarded_total",
		"storefront_live_search_connections",
		"storefront_auth_attempts_total",
		"storefront_cart_mutations_total",
		"storefront_cart_subscriptions",
		"storefront_orders_placed_total",
		"storefront_order_value",
		"storefront_backend_requests_total",
		"storefront_backend_request_duration_seconds",
		"storefront_backend_circuit_breaker_state",
		"storefront_catalog_reload_total",
		"storefront_catalog_products",
		"storefront_catalog_categories",
	}
	for _, name := range expected {
		if !names[name] {
			t.Errorf("metric %q not registered", name)
		}
	}
}

func TestRecordSearch(t *testing.T) {
	m, _ := newTestMetrics(t)
	m.RecordSearch("suggest", 5*time.Millisecond, 8)
	m.RecordSearch("suggest", 5*time.Millisecond, 2)
	m.RecordLiveSearchDiscarded(3)

	if v := testutil.ToFloat64(m.SearchRequestsTotal.WithLabelValues("suggest")); v != 2 {
		t.Errorf("suggest requests = %v, want 2", v)
	}
	if v := testutil.ToFloat64(m.LiveSearchDiscarded); v != 3 {
		t.Errorf("discarded = %v, want 3", v)
	}
}

func TestRecordOrder(t *testing.T) {
	m, _ := newTestMetrics(t)
	m.RecordOrder(2350)
	if v := testutil.ToFloat64(m.OrdersPlacedTotal); v != 1 {
		t.Errorf("orders placed = %v, want 1", v)
	}
	if n := testutil.CollectAndCount(m.OrderValue); n != 1 {
		t.Errorf("order value series = %d, want 1", n)
	}
}

func TestRecordCatalogReload(t *testing.T) {
	m, _ := newTestMetrics(t)
	m.RecordCatalogReload(nil, 9, 40)
	m.RecordCatalogReload(errors.New("bad yaml"), 0, 0)

	if v := testutil.ToFloat64(m.CatalogReloadTotal.WithLabelValues("error")); v != 1 {
		t.Errorf("error reloads = %v, want 1", v)
	}
	if v := testutil.ToFloat64(m.CatalogProducts); v != 40 {
		t.Errorf("products gauge = %v, want 40 kept from the last good reload", v)
	}
}

func TestSetBackendCircuitBreakerState(t *testing.T) {
	m, _ := newTestMetrics(t)
	m.SetBackendCircuitBreakerState(2)
	if v := testutil.ToFloat64(m.BackendCircuitBreakerState); v != 2 {
		t.Errorf("breaker state = %v, want 2", v)
	}
}

func TestMetricsMiddleware_recordsRoutePattern(t *testing.T) {
	m, _ := newTestMetrics(t)

	r := chi.NewRouter()
	r.Use(m.MetricsMiddleware)
	r.Get("/categories/{id}", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	r.Post("/navigation/{sid}/select", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/categories/5", nil))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/navigation/abc/select", nil))

	if v := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/categories/{id}", "200")); v != 1 {
		t.Errorf("GET requests = %v, want 1", v)
	}
	if v := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("POST", "/navigation/{sid}/select", "409")); v != 1 {
		t.Errorf("409 requests = %v, want 1", v)
	}
	if n := testutil.CollectAndCount(m.HTTPResponseSizeBytes); n == 0 {
		t.Error("expected response size observations")
	}
}

func TestMetricsMiddleware_fallsBackToPath(t *testing.T) {
	m, _ := newTestMetrics(t)
	handler := m.MetricsMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/raw/path", nil))

	if v := testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues("GET", "/raw/path", "200")); v != 1 {
		t.Errorf("raw path requests = %v, want 1", v)
	}
}

func TestMetricsResponseWriter_hijack_unsupported(t *testing.T) {
	w := &metricsResponseWriter{ResponseWriter: httptest.NewRecorder()}
	if _, _, err := w.Hijack(); err == nil {
		t.Error("Hijack() on a recorder = nil error, want error")
	}
}

func TestHandler_servesMetrics(t *testing.T) {
	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "go_") {
		t.Error("metrics response should contain go runtime metrics")
	}
}
