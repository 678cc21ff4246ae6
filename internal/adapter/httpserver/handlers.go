// Package httpserver implements the HTTP handlers for the batch shipping
// orchestrator's REST and SSE surface.
package httpserver

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/fairyhunter13/shipagent/internal/config"
	"github.com/fairyhunter13/shipagent/internal/domain"
	"github.com/fairyhunter13/shipagent/internal/orchestrator"
	"github.com/fairyhunter13/shipagent/internal/progresshub"
	"github.com/fairyhunter13/shipagent/internal/recovery"
)

// Handlers bundles the dependencies every HTTP handler needs.
type Handlers struct {
	Jobs         domain.JobStore
	Rows         domain.RowStore
	WriteBacks   domain.WriteBackStore
	Audit        domain.AuditStore
	Gateway      domain.DataGateway
	Orchestrator *orchestrator.Orchestrator
	Progress     *progresshub.Hub
	Recovery     *recovery.Coordinator
	Registry     *prometheus.Registry
	Cfg          config.Config
	log          *slog.Logger
}

// New builds a Handlers bundle.
func New(jobs domain.JobStore, rows domain.RowStore, writeBacks domain.WriteBackStore, audit domain.AuditStore,
	gateway domain.DataGateway, orch *orchestrator.Orchestrator, progress *progresshub.Hub, rec *recovery.Coordinator,
	registry *prometheus.Registry, cfg config.Config, log *slog.Logger) *Handlers {
	return &Handlers{
		Jobs: jobs, Rows: rows, WriteBacks: writeBacks, Audit: audit, Gateway: gateway,
		Orchestrator: orch, Progress: progress, Recovery: rec, Registry: registry, Cfg: cfg, log: log,
	}
}

// Logger exposes the handler's logger for router middleware construction.
func (h *Handlers) Logger() *slog.Logger { return h.log }

// MetricsHandler returns the Prometheus scrape endpoint.
func (h *Handlers) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(h.Registry, promhttp.HandlerOpts{})
}

// Healthz reports recovery quiescence alongside basic liveness, since the
// confirm endpoint refuses to confirm jobs while recovery is still running.
func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":             "ok",
		"recovery_quiescing": h.Recovery.Quiescing(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	code, message := "E-4001", err.Error()
	var taxErr *domain.TaxonomyError
	if errors.As(err, &taxErr) {
		code, message = taxErr.Code, taxErr.Message
	}
	writeJSON(w, status, map[string]any{"error_code": code, "error_message": message})
}

func jobIDFromPath(r *http.Request) string { return chi.URLParam(r, "jobID") }
