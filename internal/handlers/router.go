package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	mW "github.com/smartspot/parking/internal/middleware"
	"github.com/smartspot/parking/internal/services"
)

// NewRouter assembles the gate station's HTTP surface.
func NewRouter(status *StatusHandler, auth *services.AuthService, jwtSecret string, registry *prometheus.Registry) http.Handler {
	r := chi.NewRouter()

	r.Use(mW.SecurityHeaders)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://*", "http://*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	})
	r.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/status", status.GetStatus)
		r.Post("/auth/login", auth.Login)

		r.Group(func(r chi.Router) {
			r.Use(mW.Auth(jwtSecret))

			r.Get("/sessions/{publicId}", status.GetSession)
			r.Get("/sessions/{publicId}/history", status.GetHistory)
			r.Get("/sessions/{publicId}/receipt", status.GetReceipt)
			r.Get("/accounts/{publicId}/balance", status.GetBalance)
			r.Get("/logs", status.GetLogs)
		})
	})

	return r
}
