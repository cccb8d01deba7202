package api

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/okian/evalsync/internal/adapters/remote"
	"github.com/okian/evalsync/pkg/metrics"
)

// HealthHandler handles liveness and metrics requests.
type HealthHandler struct {
	deps StatusDependencies
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(deps StatusDependencies) *HealthHandler {
	return &HealthHandler{deps: deps}
}

type healthResponse struct {
	Status     string       `json:"status"`
	Connection remote.State `json:"connection"`
}

// HandleHealth handles GET /healthz. The process is healthy while it
// serves; an offline remote store degrades it without failing it.
func (h *HealthHandler) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	st := h.deps.GetConnectionStatus()
	status := "ok"
	if st.State != remote.StateConnected {
		status = "degraded"
	}
	writeJSON(w, http.StatusOK, healthResponse{Status: status, Connection: st.State})
}

// MetricsHandler serves the custom Prometheus registry.
func (h *HealthHandler) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(metrics.GetRegistry(), promhttp.HandlerOpts{})
}
