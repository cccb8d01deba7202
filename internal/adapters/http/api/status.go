package api

import (
	"context"
	"net/http"

	"github.com/okian/evalsync/internal/adapters/remote"
)

// StatusDependencies exposes connectivity.
type StatusDependencies interface {
	GetConnectionStatus() remote.Status
	CheckConnection(ctx context.Context) remote.Status
}

// StatusHandler handles connection status requests.
type StatusHandler struct {
	deps StatusDependencies
}

// NewStatusHandler creates a new status handler.
func NewStatusHandler(deps StatusDependencies) *StatusHandler {
	return &StatusHandler{deps: deps}
}

// HandleGetStatus handles GET /api/status.
func (h *StatusHandler) HandleGetStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.deps.GetConnectionStatus())
}

// HandleCheck handles POST /api/status by probing the remote store.
func (h *StatusHandler) HandleCheck(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.deps.CheckConnection(r.Context()))
}
