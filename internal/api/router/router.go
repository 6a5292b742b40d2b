// Package router wires the HTTP surface: public webhook intake, health and
// metrics endpoints, and the JWT-protected booking management API.
package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/builderlane/bookingsync/internal/http/handlers"
	httpmiddleware "github.com/builderlane/bookingsync/internal/http/middleware"
	"github.com/builderlane/bookingsync/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger         *logging.Logger
	WebhookHandler *handlers.WebhookHandler
	BookingHandler *handlers.BookingHandler

	AdminAuthSecret    string
	MetricsHandler     http.Handler
	HealthCheck        http.HandlerFunc
	CORSAllowedOrigins []string

	// Per-IP webhook rate limit; zero disables limiting.
	WebhookRateLimit float64
	WebhookBurst     int
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	if len(cfg.CORSAllowedOrigins) > 0 {
		r.Use(httpmiddleware.CORS(cfg.CORSAllowedOrigins))
	}
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	// Public endpoints (webhooks, health checks)
	r.Group(func(public chi.Router) {
		if cfg.HealthCheck != nil {
			public.Get("/health", cfg.HealthCheck)
		}
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
		if cfg.WebhookHandler != nil {
			public.Route("/webhooks", func(wh chi.Router) {
				if cfg.WebhookRateLimit > 0 {
					wh.Use(httpmiddleware.RateLimit(cfg.WebhookRateLimit, cfg.WebhookBurst))
				}
				wh.Post("/calendly", cfg.WebhookHandler.HandleCalendly)
				wh.Post("/stripe", cfg.WebhookHandler.HandleStripe)
			})
		}
	})

	// Booking management API (protected by admin JWT)
	if cfg.BookingHandler != nil {
		r.Route("/api/bookings", func(api chi.Router) {
			api.Use(httpmiddleware.AdminJWT(cfg.AdminAuthSecret))
			api.Post("/", cfg.BookingHandler.Create)
			api.Get("/{id}", cfg.BookingHandler.Get)
			api.Post("/{id}/cancel", cfg.BookingHandler.Cancel)
		})
	}

	return r
}
