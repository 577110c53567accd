package observability

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpDurationBuckets    = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10}
	backendDurationBuckets = []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5}
	bodySizeBuckets        = []float64{100, 1024, 10240, 102400, 1048576}
	resultCountBuckets     = []float64{0, 1, 5, 10, 20, 50, 100, 500}
)

// Metrics holds the storefront's Prometheus instruments.
type Metrics struct {
	// HTTP
	HTTPRequestsTotal     *prometheus.CounterVec
	HTTPRequestDuration   *prometheus.HistogramVec
	HTTPRequestSizeBytes  *prometheus.HistogramVec
	HTTPResponseSizeBytes *prometheus.HistogramVec

	// Navigation
	NavigationSessionsStarted  *prometheus.CounterVec
	NavigationTransitionsTotal *prometheus.CounterVec
	NavigationVersionConflicts prometheus.Counter

	// Search
	SearchRequestsTotal   *prometheus.CounterVec
	SearchDuration        *prometheus.HistogramVec
	SearchResults         *prometheus.HistogramVec
	LiveSearchDiscarded   prometheus.Counter
	LiveSearchConnections prometheus.Gauge

	// Account, cart and orders
	AuthAttemptsTotal  *prometheus.CounterVec
	CartMutationsTotal *prometheus.CounterVec
	CartSubscriptions  prometheus.Gauge
	OrdersPlacedTotal  prometheus.Counter
	OrderValue         prometheus.Histogram

	// Backend
	BackendRequestsTotal       *prometheus.CounterVec
	BackendRequestDuration     *prometheus.HistogramVec
	BackendCircuitBreakerState prometheus.Gauge

	// Catalog
	CatalogReloadTotal *prometheus.CounterVec
	CatalogProducts    prometheus.Gauge
	CatalogCategories  prometheus.Gauge
}

// InitMetrics creates the instruments and registers them with reg.
func InitMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "storefront_http_requests_total",
			Help: "Total number of HTTP requests.",
		}, []string{"method", "path_pattern", "status"}),
		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "storefront_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds.",
			Buckets: httpDurationBuckets,
		}, []string{"method", "path_pattern"}),
		HTTPRequestSizeBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "storefront_http_request_size_bytes",
			Help:    "HTTP request body size in bytes.",
			Buckets: bodySizeBuckets,
		}, []string{"method", "path_pattern"}),
		HTTPResponseSizeBytes: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "storefront_http_response_size_bytes",
			Help:    "HTTP response body size in bytes.",
			Buckets: bodySizeBuckets,
		}, []string{"method", "path_pattern"}),

		NavigationSessionsStarted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "storefront_navigation_sessions_started_total",
			Help: "Navigation sessions started, by category.",
		}, []string{"category_id"}),
		NavigationTransitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "storefront_navigation_transitions_total",
			Help: "Navigation state transitions, by action.",
		}, []string{"action"}),
		NavigationVersionConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "storefront_navigation_version_conflicts_total",
			Help: "Navigation writes rejected because the session changed underneath.",
		}),

		SearchRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "storefront_search_requests_total",
			Help: "Search requests, by kind (search, suggest, live).",
		}, []string{"kind"}),
		SearchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "storefront_search_duration_seconds",
			Help:    "Search evaluation duration in seconds.",
			Buckets: backendDurationBuckets,
		}, []string{"kind"}),
		SearchResults: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "storefront_search_results",
			Help:    "Number of results returned per search.",
			Buckets: resultCountBuckets,
		}, []string{"kind"}),
		LiveSearchDiscarded: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "storefront_live_search_discarded_total",
			Help: "Live search evaluations discarded because a newer keystroke arrived.",
		}),
		LiveSearchConnections: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "storefront_live_search_connections",
			Help: "Open live search websocket connections.",
		}),

		AuthAttemptsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "storefront_auth_attempts_total",
			Help: "Authentication attempts, by action and outcome code.",
		}, []string{"action", "outcome"}),
		CartMutationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "storefront_cart_mutations_total",
			Help: "Cart mutations, by operation.",
		}, []string{"operation"}),
		CartSubscriptions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "storefront_cart_subscriptions",
			Help: "Open cart sync websocket connections.",
		}),
		OrdersPlacedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "storefront_orders_placed_total",
			Help: "Orders placed.",
		}),
		OrderValue: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "storefront_order_value",
			Help:    "Order totals including fees.",
			Buckets: []float64{500, 1000, 2500, 5000, 10000, 25000, 50000},
		}),

		BackendRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "storefront_backend_requests_total",
			Help: "Backend requests, by operation and outcome.",
		}, []string{"operation", "outcome"}),
		BackendRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "storefront_backend_request_duration_seconds",
			Help:    "Backend request duration in seconds.",
			Buckets: backendDurationBuckets,
		}, []string{"operation"}),
		BackendCircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "storefront_backend_circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open).",
		}),

		CatalogReloadTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "storefront_catalog_reload_total",
			Help: "Catalog reloads, by status.",
		}, []string{"status"}),
		CatalogProducts: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "storefront_catalog_products",
			Help: "Products in the served catalog snapshot.",
		}),
		CatalogCategories: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "storefront_catalog_categories",
			Help: "Categories in the served catalog snapshot.",
		}),
	}

	reg.MustRegister(
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestSizeBytes,
		m.HTTPResponseSizeBytes,
		m.NavigationSessionsStarted,
		m.NavigationTransitionsTotal,
		m.NavigationVersionConflicts,
		m.SearchRequestsTotal,
		m.SearchDuration,
		m.SearchResults,
		m.LiveSearchDiscarded,
		m.LiveSearchConnections,
		m.AuthAttemptsTotal,
		m.CartMutationsTotal,
		m.CartSubscriptions,
		m.OrdersPlacedTotal,
		m.OrderValue,
		m.BackendRequestsTotal,
		m.BackendRequestDuration,
		m.BackendCircuitBreakerState,
		m.CatalogReloadTotal,
		m.CatalogProducts,
		m.CatalogCategories,
	)

	return m
}

// RecordHTTPRequest records one HTTP request.
func (m *Metrics) RecordHTTPRequest(method, pathPattern string, status int, duration time.Duration, reqSize, respSize int) {
	m.HTTPRequestsTotal.WithLabelValues(method, pathPattern, strconv.Itoa(status)).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, pathPattern).Observe(duration.Seconds())
	m.HTTPRequestSizeBytes.WithLabelValues(method, pathPattern).Observe(float64(reqSize))
	m.HTTPResponseSizeBytes.WithLabelValues(method, pathPattern).Observe(float64(respSize))
}

// RecordNavigationStart counts a new navigation session.
func (m *Metrics) RecordNavigationStart(categoryID string) {
	m.NavigationSessionsStarted.WithLabelValues(categoryID).Inc()
}

// RecordNavigationTransition counts a state transition such as "select" or "back".
func (m *Metrics) RecordNavigationTransition(action string) {
	m.NavigationTransitionsTotal.WithLabelValues(action).Inc()
}

// RecordNavigationConflict counts a rejected stale write.
func (m *Metrics) RecordNavigationConflict() {
	m.NavigationVersionConflicts.Inc()
}

// RecordSearch records one search evaluation.
func (m *Metrics) RecordSearch(kind string, duration time.Duration, results int) {
	m.SearchRequestsTotal.WithLabelValues(kind).Inc()
	m.SearchDuration.WithLabelValues(kind).Observe(duration.Seconds())
	m.SearchResults.WithLabelValues(kind).Observe(float64(results))
}

// RecordLiveSearchDiscarded counts stale live search results.
func (m *Metrics) RecordLiveSearchDiscarded(n int) {
	m.LiveSearchDiscarded.Add(float64(n))
}

// RecordAuthAttempt counts an authentication attempt. outcome is "ok" or an
// error code.
func (m *Metrics) RecordAuthAttempt(action, outcome string) {
	m.AuthAttemptsTotal.WithLabelValues(action, outcome).Inc()
}

// RecordCartMutation counts a cart write.
func (m *Metrics) RecordCartMutation(operation string) {
	m.CartMutationsTotal.WithLabelValues(operation).Inc()
}

// RecordOrder counts a placed order and its total.
func (m *Metrics) RecordOrder(total float64) {
	m.OrdersPlacedTotal.Inc()
	m.OrderValue.Observe(total)
}

// RecordBackendRequest records one backend call.
func (m *Metrics) RecordBackendRequest(operation, outcome string, duration time.Duration) {
	m.BackendRequestsTotal.WithLabelValues(operation, outcome).Inc()
	m.BackendRequestDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// SetBackendCircuitBreakerState sets the breaker gauge (0=closed, 1=half-open, 2=open).
func (m *Metrics) SetBackendCircuitBreakerState(state float64) {
	m.BackendCircuitBreakerState.Set(state)
}

// RecordCatalogReload counts a reload and, on success, the snapshot size.
func (m *Metrics) RecordCatalogReload(err error, categories, products int) {
	if err != nil {
		m.CatalogReloadTotal.WithLabelValues("error").Inc()
		return
	}
	m.CatalogReloadTotal.WithLabelValues("success").Inc()
	m.CatalogCategories.Set(float64(categories))
	m.CatalogProducts.Set(float64(products))
}

// MetricsMiddleware records request metrics labelled with chi's route
// pattern rather than the raw path.
func (m *Metrics) MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &metricsResponseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r)

		reqSize := 0
		if r.ContentLength > 0 {
			reqSize = int(r.ContentLength)
		}
		m.RecordHTTPRequest(r.Method, routePattern(r), sw.status, time.Since(start), reqSize, sw.bytes)
	})
}

// Handler returns the Prometheus handler for /metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// routePattern returns chi's route pattern, or the raw path when the
// request did not match a route.
func routePattern(r *http.Request) string {
	rctx := chi.RouteContext(r.Context())
	if rctx == nil {
		return r.URL.Path
	}
	if pattern := rctx.RoutePattern(); pattern != "" {
		return pattern
	}
	return r.URL.Path
}

type metricsResponseWriter struct {
	http.ResponseWriter
	status  int
	bytes   int
	written bool
}

func (w *metricsResponseWriter) WriteHeader(code int) {
	if !w.written {
		w.status = code
		w.written = true
	}
	w.ResponseWriter.WriteHeader(code)
}

func (w *metricsResponseWriter) Write(b []byte) (int, error) {
	w.written = true
	n, err := w.ResponseWriter.Write(b)
	w.bytes += n
	return n, err
}

// Hijack lets websocket upgrades pass through the wrapper.
func (w *metricsResponseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	return hijack(w.ResponseWriter)
}

func (w *metricsResponseWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

func hijack(w http.ResponseWriter) (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("observability: response writer does not support hijacking")
	}
	return h.Hijack()
}
