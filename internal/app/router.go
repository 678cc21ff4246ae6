// Package app wires the HTTP surface together: middleware stack and route
// groups, following the same chi-based layering the rest of the module's
// adapters use. Graceful shutdown is handled by cmd/server.
package app

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"

	"github.com/fairyhunter13/shipagent/internal/adapter/httpserver"
	"github.com/fairyhunter13/shipagent/internal/config"
)

// BuildRouter assembles the full chi router for the server.
func BuildRouter(h *httpserver.Handlers, cfg config.Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(cfg.HTTPWriteTimeout))
	r.Use(httpserver.AccessLog(h.Logger()))

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   strings.Split(cfg.CORSAllowOrigins, ","),
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Use(httprate.LimitByIP(cfg.RateLimitPerMin, time.Minute))

	r.Get("/healthz", h.Healthz)
	r.Handle("/metrics", h.MetricsHandler())

	r.Route("/api/v1", func(api chi.Router) {
		api.Post("/commands", h.SubmitCommand)

		api.Route("/jobs", func(jr chi.Router) {
			jr.Get("/", h.ListJobs)
			jr.Route("/{jobID}", func(j chi.Router) {
				j.Get("/", h.GetJob)
				j.Delete("/", h.DeleteJob)
				j.Post("/confirm", h.ConfirmJob)
				j.Post("/cancel", h.CancelJob)

				j.Get("/rows", h.ListRows)
				j.Post("/rows/skip", h.SkipRows)

				j.Get("/preview", h.PreviewJob)

				j.Get("/progress", h.ProgressSnapshot)
				j.Get("/progress/stream", h.ProgressStream)

				j.Get("/logs", h.ListLogs)
				j.Get("/errors", h.ListErrors)
				j.Get("/export", h.ExportJob)

				j.Get("/labels/{rowNumber}", h.GetLabel)
			})
		})
	})

	return r
}
