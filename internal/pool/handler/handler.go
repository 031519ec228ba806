// Package handler exposes connection pool observability endpoints for
// operators.
package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"strata/internal/pool"
	"strata/pkg/platform/httputil"
)

// Manager is the pool observability surface the handler reads from.
type Manager interface {
	Stats() pool.Stats
	HealthCheck(ctx context.Context) pool.Health
}

type Handler struct {
	manager Manager
	logger  *slog.Logger
}

func New(manager Manager, logger *slog.Logger) *Handler {
	return &Handler{manager: manager, logger: logger}
}

func (h *Handler) Register(r chi.Router) {
	r.Get("/admin/pools", h.HandleStats)
	r.Get("/admin/pools/health", h.HandleHealth)
}

// HandleStats returns live connection counts for every cached pool.
func (h *Handler) HandleStats(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, h.manager.Stats())
}

// HandleHealth pings every cached pool. Returns 503 only when the central
// registry pool is down; broken tenant pools stay visible in the detail.
func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	health := h.manager.HealthCheck(r.Context())
	status := http.StatusOK
	if !health.Healthy {
		status = http.StatusServiceUnavailable
	}
	httputil.WriteJSON(w, status, health)
}
