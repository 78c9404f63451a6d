package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/wolfman30/dealer-sms-agent/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/dealer-sms-agent/internal/http/middleware"
	"github.com/wolfman30/dealer-sms-agent/internal/messaging"
	"github.com/wolfman30/dealer-sms-agent/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger             *logging.Logger
	MessagingHandler   *messaging.Handler
	AdminConversations *handlers.AdminConversationsHandler
	AdminAuthSecret    string
	// AdminRateLimit requests per AdminRateWindow per client IP; zero uses 120 per minute.
	AdminRateLimit  int
	AdminRateWindow time.Duration
	MetricsHandler  http.Handler
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	// Public endpoints (webhooks, health checks)
	r.Group(func(public chi.Router) {
		public.Get("/health", cfg.MessagingHandler.HealthCheck)
		public.Route("/messaging", func(r chi.Router) {
			r.Post("/twilio/webhook", cfg.MessagingHandler.TwilioWebhook)
		})
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
	})

	// Operator routes are only mounted when a signing secret is configured.
	if cfg.AdminAuthSecret != "" && cfg.AdminConversations != nil {
		limit, window := cfg.AdminRateLimit, cfg.AdminRateWindow
		if limit <= 0 {
			limit = 120
		}
		if window <= 0 {
			window = time.Minute
		}
		r.Route("/admin", func(admin chi.Router) {
			admin.Use(httpmiddleware.RateLimit(limit, window))
			admin.Use(httpmiddleware.AdminJWT(cfg.AdminAuthSecret))
			admin.Use(middleware.Timeout(30 * time.Second))

			admin.Route("/conversations/{phone}", func(conv chi.Router) {
				conv.Get("/", cfg.AdminConversations.GetConversation)
				conv.Delete("/", cfg.AdminConversations.DeleteConversation)
				conv.Post("/reply", cfg.AdminConversations.Reply)
			})
			admin.Post("/outreach", cfg.AdminConversations.Outreach)
		})
	}

	return r
}
