/**
 * @description
 * This file sets up the HTTP router for the collections engine. It defines
 * the API endpoints, associates them with their corresponding handlers, and
 * applies the middleware each surface needs: the cron triggers sit behind a
 * shared bearer secret, the freelancer dashboard routes behind JWT auth and
 * CORS, and the public claim-filing endpoint is open.
 *
 * @dependencies
 * - net/http: Standard Go library for HTTP functionality.
 * - github.com/go-chi/chi/v5: A lightweight and idiomatic router for Go.
 * - github.com/go-chi/cors: CORS for the dashboard routes.
 */

package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/recoup/collections-engine/internal/config"
)

// Routes creates and returns the router for the collections engine.
func Routes(h *CollectionsHandlers, cfg config.Config) http.Handler {
	r := chi.NewRouter()

	// Standard middleware for logging, panic recovery, and timeouts.
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// Health check endpoint
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("healthy"))
	})

	// Batch-job triggers for deployments driving the engine from an external
	// cron instead of the in-process scheduler.
	r.Route("/internal/cron", func(r chi.Router) {
		r.Use(CronAuthMiddleware(cfg.CronAuthToken))
		r.Post("/escalations", h.RunEscalationsHandler)
		r.Post("/verification-sweep", h.RunVerificationSweepHandler)
	})

	// Public: the "I've paid this" form on the invoice payment page.
	r.Post("/public/invoices/{invoiceID}/payment-claims", h.FilePaymentClaimHandler)

	// Freelancer dashboard routes.
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins:   allowedOrigins(cfg.CORSAllowedOrigins),
			AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
			AllowCredentials: true,
			MaxAge:           300,
		}))
		r.Use(AuthMiddleware(cfg.JWKSURL, cfg.AuthIssuer, cfg.AuthAudience))

		r.Route("/invoices/{invoiceID}/collections", func(r chi.Router) {
			r.Get("/timeline", h.TimelineHandler)
			r.Get("/interest", h.InterestHandler)
			r.Get("/recommendation", h.RecommendationHandler)
			r.Post("/actions", h.ManualActionHandler)
			r.Post("/stop", h.StopCollectionsHandler)
			r.Post("/resume", h.ResumeCollectionsHandler)
			r.Post("/dispute", h.DisputeCollectionsHandler)
		})

		r.Post("/payment-claims/{claimID}/verify", h.VerifyPaymentClaimHandler)
		r.Post("/payment-claims/{claimID}/reject", h.RejectPaymentClaimHandler)
	})

	return r
}

// allowedOrigins splits the comma-separated config value, defaulting to the
// wildcard for local development.
func allowedOrigins(raw string) []string {
	var origins []string
	for _, origin := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(origin); trimmed != "" {
			origins = append(origins, trimmed)
		}
	}
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}
