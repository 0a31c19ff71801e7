package httpapi

import (
	"net/http"

	"tableflow-pos-service/internal/http/handlers"
	"tableflow-pos-service/internal/metrics"
	"tableflow-pos-service/internal/middleware"
	"tableflow-pos-service/internal/ws"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func NewRouter(h *handlers.Handler, wsServer *ws.Server) http.Handler {
	cfg := h.Config

	r := chi.NewRouter()
	r.Use(middleware.RequestID())
	r.Use(middleware.Telemetry(h.Logger))

	if cfg.Env == "development" || len(cfg.CorsAllowedOrigins) > 0 {
		options := cors.Options{
			AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{
				"Accept",
				"Authorization",
				"Content-Type",
				"X-Requested-With",
				"Cache-Control",
				"Pragma",
			},
			AllowCredentials: true,
			MaxAge:           300,
		}

		if cfg.Env == "development" {
			options.AllowOriginFunc = func(_ *http.Request, origin string) bool {
				return true
			}
		} else {
			options.AllowedOrigins = cfg.CorsAllowedOrigins
		}

		r.Use(cors.Handler(options))
	}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	// Provider deliveries authenticate with signatures, not bearer tokens.
	r.Post("/api/webhooks/{provider}", h.WebhookReceive)

	r.Route("/api/public", func(r chi.Router) {
		r.Post("/checkout", h.PublicCheckoutCreate)
	})

	r.Route("/api/cron", func(r chi.Router) {
		r.Use(middleware.CronAuth(cfg.CronSecret))
		r.Post("/worker/run", h.CronWorkerRun)
		r.Get("/jobs", h.CronJobsList)
		r.Post("/jobs/replay", h.CronJobsReplay)
		r.Post("/archive/prune", h.CronArchivePrune)
		r.Get("/archive/payload", h.CronArchivePayload)
	})

	r.Route("/api/merchant", func(r chi.Router) {
		r.Use(middleware.MerchantAuth(cfg.JWTSecret))

		r.Get("/catalog", h.MerchantCatalogGet)
		r.Get("/locations", h.MerchantLocationsList)
		r.Get("/orders", h.MerchantOrdersList)
		r.Get("/orders/{orderId}", h.MerchantOrderGet)
		r.Get("/tickets", h.MerchantTicketsList)
		r.Put("/tickets/{ticketId}/status", h.MerchantTicketStatusPut)
	})

	if wsServer != nil {
		r.Get("/ws/merchant/tickets", wsServer.MerchantTicketsWS)
	}

	return r
}
