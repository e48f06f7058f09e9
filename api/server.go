/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the HTTP router (chi), middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. RealIP, RequestID: client address and per-request id for tracing
  2. RequestLogger:     one zap line per request
  3. Recoverer:         panic recovery (500 instead of crash)
  4. Metrics:           Prometheus counters by route pattern
  5. Secure headers:    unrolled/secure (SSL redirect in production)
  6. CORS:              cross-origin requests for the frontend
  7. Rate limit:        httprate, per client IP
  8. Timeout:           request deadline

ROUTE GROUPS:
  /healthz              Liveness (store ping)
  /metrics              Prometheus scrape endpoint
  /api/*                Ledger API, requires X-User-ID

AUTHENTICATION:
  The server sits behind an auth proxy that sets X-User-ID. RequireUser
  turns it into a generic.Session; every ledger operation is scoped to
  that user's namespace.

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/unrolled/secure"
	"go.uber.org/zap"

	"github.com/warp/sales-ledger/generic"
	"github.com/warp/sales-ledger/observability"
)

// UserHeader carries the authenticated user id.
const UserHeader = "X-User-ID"

// RouterConfig holds the optional parts of the middleware stack.
type RouterConfig struct {
	CORSOrigins []string
	// RateLimit is requests per minute per IP; 0 disables limiting.
	RateLimit      int
	RequestTimeout time.Duration
	Production     bool

	Metrics *observability.Metrics
	// Ping backs /healthz. Nil always reports healthy.
	Ping func(ctx context.Context) error
	// Auditor, when set, watches every authenticated user.
	Auditor *AuditScheduler
}

// NewRouter creates a new router with all routes configured.
func NewRouter(h *Handler, cfg RouterConfig) *chi.Mux {
	r := chi.NewRouter()

	secureMiddleware := secure.New(secure.Options{
		FrameDeny:          true,
		ContentTypeNosniff: true,
		BrowserXssFilter:   true,
		ReferrerPolicy:     "strict-origin-when-cross-origin",
		SSLRedirect:        cfg.Production,
		SSLProxyHeaders:    map[string]string{"X-Forwarded-Proto": "https"},
		IsDevelopment:      !cfg.Production,
	})

	// Middleware
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(observability.RequestLogger(h.Logger))
	r.Use(middleware.Recoverer)
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.Middleware)
	}
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if err := secureMiddleware.Process(w, r); err != nil {
				h.Logger.Warn("secure headers blocked request", zap.Error(err))
				return
			}
			next.ServeHTTP(w, r)
		})
	})
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", UserHeader},
		AllowCredentials: true,
	}))
	if cfg.RateLimit > 0 {
		r.Use(httprate.Limit(cfg.RateLimit, time.Minute, httprate.WithKeyFuncs(httprate.KeyByIP)))
	}
	if cfg.RequestTimeout > 0 {
		r.Use(middleware.Timeout(cfg.RequestTimeout))
	}

	r.Get("/healthz", healthz(cfg.Ping))
	if cfg.Metrics != nil {
		r.Handle("/metrics", cfg.Metrics.Handler())
	}

	// API routes
	r.Route("/api", func(r chi.Router) {
		r.Use(RequireUser)
		if cfg.Auditor != nil {
			r.Use(cfg.Auditor.Middleware)
		}

		// Client routes
		r.Route("/clients", func(r chi.Router) {
			r.Get("/", h.ListClients)
			r.Post("/", h.CreateClient)
			r.Get("/{id}", h.GetClient)
			r.Put("/{id}", h.UpdateClient)
			r.Get("/{id}/status", h.GetClientStatus)
			r.Get("/{id}/balance", h.GetClientBalance)
			r.Post("/{id}/balance/rebuild", h.RebuildClientBalance)
			r.Post("/{id}/collections", h.RecordCollection)
			r.Post("/{id}/advances", h.RecordAdvance)
		})

		// Product routes
		r.Route("/products", func(r chi.Router) {
			r.Get("/", h.ListProducts)
			r.Post("/", h.CreateProduct)
			r.Get("/{key}", h.GetProduct)
			r.Put("/{key}", h.UpdateProduct)
		})

		// Sale routes
		r.Route("/sales", func(r chi.Router) {
			r.Get("/", h.ListSales)
			r.Post("/", h.SubmitSale)
			r.Post("/quote", h.QuoteSale)
		})

		r.Get("/transactions", h.ListTransactions)

		// Scenario routes
		r.Route("/scenarios", func(r chi.Router) {
			r.Get("/", h.ListScenarios)
			r.Post("/load", h.LoadScenario)
		})
	})

	return r
}

// RequireUser rejects requests without X-User-ID and stores the session
// in the request context.
func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, err := generic.NewSession(r.Header.Get(UserHeader))
		if err != nil {
			writeJSON(w, http.StatusUnauthorized, ErrorResponse{
				Error: "Missing " + UserHeader + " header",
				Code:  "unauthenticated",
			})
			return
		}
		next.ServeHTTP(w, r.WithContext(generic.ContextWithSession(r.Context(), sess)))
	})
}

func healthz(ping func(ctx context.Context) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if ping != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := ping(ctx); err != nil {
				writeError(w, http.StatusServiceUnavailable, "Store unavailable", err)
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}
