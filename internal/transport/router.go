package transport

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/pitabwire/storefront/internal/account"
	"github.com/pitabwire/storefront/internal/cart"
	"github.com/pitabwire/storefront/internal/catalog"
	"github.com/pitabwire/storefront/internal/checkout"
	"github.com/pitabwire/storefront/internal/config"
	"github.com/pitabwire/storefront/internal/navigation"
	"github.com/pitabwire/storefront/internal/observability"
	"github.com/pitabwire/storefront/internal/search"
)

// Dependencies holds all injected dependencies for the HTTP transport layer.
type Dependencies struct {
	Config  *config.Config
	Logger  *zap.Logger
	Metrics *observability.Metrics

	// Authenticate verifies session tokens. Defaults to
	// SessionAuthenticator over Sessions.
	Authenticate func(http.Handler) http.Handler
	Sessions     *SessionIssuer

	Catalog    *catalog.Store
	Menu       *catalog.MenuProvider
	Navigation *navigation.Service
	Search     *search.Provider
	Recent     search.RecentStore
	Accounts   *account.Service
	Cart       *cart.Service
	Checkout   *checkout.Service
	Readiness  observability.ReadinessChecks
}

// NewRouter creates a chi.Router with the full middleware pipeline and all
// route registrations. Catalog, navigation, search and sign-in routes are
// public; everything under /me, logout and order updates need a session.
func NewRouter(deps Dependencies) chi.Router {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.Metrics == nil {
		deps.Metrics = observability.InitMetrics(prometheus.NewRegistry())
	}
	cfg := deps.Config
	upgrader := newUpgrader(cfg.Server.CORS)

	r := chi.NewRouter()

	// Global middleware: applied to all routes including health.
	r.Use(Recovery(deps.Logger))
	r.Use(CORS(cfg.Server.CORS))
	r.Use(RequestID)
	r.Use(SecurityHeaders)
	r.Use(observability.TracingMiddleware)
	r.Use(deps.Metrics.MetricsMiddleware)
	r.Use(RequestLogging(deps.Logger))

	r.Get("/health", observability.HandleHealth())
	r.Get("/ready", observability.HandleReady(deps.Readiness))
	if cfg.Observability.Metrics.Enabled {
		path := cfg.Observability.Metrics.Path
		if path == "" {
			path = "/metrics"
		}
		r.Method(http.MethodGet, path, observability.Handler())
	}

	auth := deps.Authenticate
	if auth == nil {
		auth = SessionAuthenticator(cfg.Identity, deps.Sessions, nil)
	}
	timeout := HandlerTimeout(cfg.Server.HandlerTimeout)

	nav := navigationHandlers{svc: deps.Navigation, metrics: deps.Metrics}
	srch := searchHandlers{
		provider: deps.Search,
		recent:   deps.Recent,
		metrics:  deps.Metrics,
		upgrader: upgrader,
		debounce: cfg.Search.Debounce,
		logger:   deps.Logger,
	}
	acct := accountHandlers{accounts: deps.Accounts, sessions: deps.Sessions, metrics: deps.Metrics}
	crt := cartHandlers{
		cart:     deps.Cart,
		catalog:  deps.Catalog,
		metrics:  deps.Metrics,
		upgrader: upgrader,
		logger:   deps.Logger,
	}
	chk := checkoutHandlers{checkout: deps.Checkout, metrics: deps.Metrics}

	// Long-lived websocket routes skip the handler timeout.
	r.Get("/search/live", srch.live)
	r.Group(func(r chi.Router) {
		r.Use(auth)
		r.Use(BuildRequestContext)
		r.Get("/me/cart/live", crt.live)
	})

	// Public routes.
	r.Group(func(r chi.Router) {
		r.Use(timeout)

		r.Get("/categories", handleMenu(deps.Menu))
		r.Get("/categories/{id}", handleCategory(deps.Catalog, deps.Menu))
		r.Get("/categories/{id}/products", handleCategoryProducts(deps.Catalog))
		r.Post("/categories/{id}/sessions", nav.start)
		r.Get("/products/{id}", handleProduct(deps.Catalog))

		r.Route("/navigation/{sid}", func(r chi.Router) {
			r.Get("/", nav.view)
			r.Post("/select", nav.selectItem)
			r.Post("/back", nav.back)
			r.Post("/clear", nav.clear)
			r.Put("/sort", nav.setSort)
			r.Delete("/", nav.end)
		})

		r.Get("/search", srch.search)
		r.Get("/search/suggestions", srch.suggestions)
		r.Get("/search/trending", srch.trending)

		r.Group(func(r chi.Router) {
			r.Use(AuthRateLimit(cfg.RateLimit))
			r.Post("/auth/register", acct.register)
			r.Post("/auth/login", acct.login)
			r.Post("/auth/password-reset", acct.resetPassword)
		})
	})

	// Authenticated routes.
	r.Group(func(r chi.Router) {
		r.Use(auth)
		r.Use(BuildRequestContext)
		r.Use(timeout)

		r.Post("/auth/logout", acct.logout)

		r.Get("/me/profile", acct.profile)
		r.Patch("/me/profile", acct.updateProfile)

		r.Get("/me/searches", srch.listRecent)
		r.Post("/me/searches", srch.addRecent)
		r.Delete("/me/searches", srch.clearRecent)

		r.Get("/me/cart", crt.get)
		r.Delete("/me/cart", crt.clear)
		r.Post("/me/cart/items", crt.add)
		r.Put("/me/cart/items/{pid}", crt.setQuantity)
		r.Delete("/me/cart/items/{pid}", crt.remove)

		r.Post("/me/checkout", chk.placeOrder)
		r.Get("/me/orders", chk.listOrders)
		r.Get("/me/orders/{id}", chk.getOrder)
		r.Patch("/orders/{id}/status", chk.updateStatus)
	})

	return r
}
