/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

ROUTER: chi
  Chi was chosen for:
  - Lightweight and fast
  - Context-based
  - Middleware support
  - RESTful route patterns

MIDDLEWARE STACK:
  1. RequestID:  Unique ID per request for tracing
  2. Logger:     Request logging (bridged into slog)
  3. Recoverer:  Panic recovery (500 instead of crash)
  4. Metrics:    Per-route request counts and latency
  5. CORS:       Cross-origin requests for the storefront

  The claim route additionally runs the per-user rate limiter.

ROUTE GROUPS:
  /api/users/{id}/*     Claims, balances, analytics, history
  /api/admin/*          Admin adjustments, reconciliation, audit
  /api/hooks/*          Commerce callbacks
  /api/program          Reward rules
  /metrics              Prometheus scrape endpoint
  /healthz              Liveness

SEE ALSO:
  - handlers.go: Handler implementations
  - ratelimit.go: Per-user limiter
  - cmd/server/main.go: Server startup
*/
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/warp/rewards-engine/observability"
)

// RouterOptions carries the optional parts of the router.
type RouterOptions struct {
	AllowedOrigins []string
	Metrics        *observability.Metrics
	Gatherer       prometheus.Gatherer
	Limiter        *RateLimiter
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, opts RouterOptions) *chi.Mux {
	r := chi.NewRouter()

	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:5173", "http://localhost:8080"}
	}

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	if opts.Metrics != nil {
		r.Use(opts.Metrics.Middleware)
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", AdminHeader},
		AllowCredentials: true,
	}))

	// API routes
	r.Route("/api", func(r chi.Router) {
		// User routes
		r.Route("/users/{id}", func(r chi.Router) {
			r.With(opts.Limiter.Middleware).Post("/claim", h.Claim)
			r.Get("/claim", h.GetEligibility)
			r.Get("/balance", h.GetBalance)
			r.Get("/analytics", h.GetAnalytics)
			r.Get("/transactions", h.GetTransactions)
			r.Get("/claims", h.GetClaims)
		})

		// Admin routes
		r.Route("/admin", func(r chi.Router) {
			r.Post("/adjustments", h.CreateAdjustment)
			r.Get("/users/{id}/reconcile", h.Reconcile)
			r.Get("/users/{id}/audit", h.GetAudit)
			r.Get("/reconciliation", h.GetReconciliationRun)
			r.Post("/reconciliation/run", h.RunReconciliation)
		})

		// Commerce hooks
		r.Post("/hooks/purchase-bonus", h.PurchaseBonus)

		r.Get("/program", h.GetProgram)
	})

	gatherer := opts.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return r
}
