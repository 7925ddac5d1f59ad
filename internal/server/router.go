package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"festival-platform/internal/handlers"
	"festival-platform/internal/metrics"
	"festival-platform/internal/middleware"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
)

// Handlers groups the HTTP handlers mounted by NewRouter. DevSession may be
// nil and is never mounted in production.
type Handlers struct {
	Cart       *handlers.CartHandler
	Checkout   *handlers.CheckoutHandler
	Orders     *handlers.OrderHandler
	Admin      *handlers.AdminHandler
	Webhooks   *handlers.WebhookHandler
	DevSession *handlers.DevSessionHandler
}

// Options configures the cross-cutting middleware
type Options struct {
	Sessions        *middleware.SessionMiddleware
	Metrics         *metrics.Metrics
	CORS            middleware.CORSConfig
	CheckoutLimiter *middleware.RateLimiter
	Production      bool
	RequestTimeout  time.Duration

	// Health reports whether storage is reachable; nil means always healthy
	Health func(ctx context.Context) error
	// Storage names the backing store in the health response
	Storage string
}

// NewRouter builds the chi router for the storefront API
func NewRouter(h Handlers, opts Options) http.Handler {
	timeout := opts.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.LoggingMiddleware)
	r.Use(middleware.MetricsMiddleware(opts.Metrics))
	r.Use(middleware.ErrorHandlingMiddleware)
	r.Use(middleware.SecurityHeadersMiddleware)
	r.Use(middleware.CORSMiddleware(opts.CORS))
	r.Use(chimiddleware.Timeout(timeout))

	r.NotFound(middleware.NotFoundHandler().ServeHTTP)
	r.MethodNotAllowed(middleware.MethodNotAllowedHandler().ServeHTTP)

	r.Get("/health", healthHandler(opts))
	if opts.Metrics != nil {
		r.Handle("/metrics", opts.Metrics.Handler())
	}

	// Gateways sign their deliveries; these routes carry no session or CSRF token
	r.Route("/webhooks", func(r chi.Router) {
		r.Post("/stripe", h.Webhooks.Stripe)
		r.Post("/paypal", h.Webhooks.PayPal)
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(opts.Sessions.LoadSession)
		r.Use(middleware.CSRFProtection)

		r.Get("/session", sessionInfo)

		r.Route("/cart", func(r chi.Router) {
			r.Get("/", h.Cart.ViewCart)
			r.Delete("/", h.Cart.ClearCart)
			r.Post("/merchandise", h.Cart.AddMerchandise)
			r.Post("/bookings", h.Cart.AddCampsiteBooking)
			r.Post("/registrations", h.Cart.AddEventRegistration)
			r.Put("/registrations/{draftID}/sub-events", h.Cart.SelectSubEvents)
			r.Patch("/items/{key}", h.Cart.UpdateItem)
			r.Delete("/items/{key}", h.Cart.RemoveItem)
		})

		r.Route("/checkout", func(r chi.Router) {
			if opts.CheckoutLimiter != nil {
				r.Use(middleware.RateLimit(opts.CheckoutLimiter))
			}
			r.Get("/gateways", h.Checkout.ListGateways)
			r.Put("/address", h.Checkout.SetAddress)
			r.Post("/intent", h.Checkout.CreateIntent)
			r.Post("/confirm", h.Checkout.Confirm)
		})

		r.Route("/orders", func(r chi.Router) {
			r.Use(middleware.RequireAuth)
			r.Get("/", h.Orders.ListOrders)
			r.Get("/{id}", h.Orders.GetOrder)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.RequireAdmin)
			r.Get("/reconciliation", h.Admin.ListReconciliationFlags)
			r.Post("/reconciliation/{id}/resolve", h.Admin.ResolveReconciliationFlag)
			r.Post("/reconciliation/run", h.Admin.ReconcileNow)
			r.Post("/attempts/{id}/manual-payment", h.Admin.ConfirmManualPayment)
		})
	})

	if !opts.Production && h.DevSession != nil {
		r.Route("/dev", func(r chi.Router) {
			r.Use(opts.Sessions.LoadSession)
			r.Post("/login", h.DevSession.Login)
			r.Post("/logout", h.DevSession.Logout)
		})
	}

	return r
}

func healthHandler(opts Options) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		status, code := "ok", http.StatusOK
		if opts.Health != nil {
			ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
			defer cancel()
			if err := opts.Health(ctx); err != nil {
				status, code = "unavailable", http.StatusServiceUnavailable
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(map[string]string{
			"status":  status,
			"storage": opts.Storage,
			"time":    time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// sessionInfo tells a client who it is and hands it the CSRF token through
// the response header set by LoadSession
func sessionInfo(w http.ResponseWriter, r *http.Request) {
	identity := middleware.IdentityFromContext(r.Context())
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"authenticated": identity.Authenticated(),
		"user_id":       identity.UserID,
		"is_admin":      identity.IsAdmin,
	})
}
