package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/okian/evalsync/internal/domain/model"
	"github.com/okian/evalsync/internal/domain/types"
)

// SyncDependencies defines the reconciliation operations.
type SyncDependencies interface {
	SyncPendingData(ctx context.Context) types.SyncSummary
	ForceSyncAllLocalData(ctx context.Context) types.ForceSyncSummary
	DeduplicateEvaluations(ctx context.Context) types.DedupSummary
	Refresh(ctx context.Context) []model.EvaluationRecord
	BackupToLocal(ctx context.Context, records []model.EvaluationRecord, source string) (types.BackupResult, error)
}

// SyncHandler handles the reconciliation endpoints.
type SyncHandler struct {
	deps SyncDependencies
}

// NewSyncHandler creates a new sync handler.
func NewSyncHandler(deps SyncDependencies) *SyncHandler {
	return &SyncHandler{deps: deps}
}

// HandleSync handles POST /api/sync.
func (h *SyncHandler) HandleSync(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.deps.SyncPendingData(r.Context()))
}

// HandleForceSync handles POST /api/sync/force.
func (h *SyncHandler) HandleForceSync(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.deps.ForceSyncAllLocalData(r.Context()))
}

// HandleDedupe handles POST /api/dedupe.
func (h *SyncHandler) HandleDedupe(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.deps.DeduplicateEvaluations(r.Context()))
}

type refreshResponse struct {
	Count int `json:"count"`
}

// HandleRefresh handles POST /api/refresh.
func (h *SyncHandler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, refreshResponse{Count: len(h.deps.Refresh(r.Context()))})
}

type backupRequest struct {
	Source      string                   `json:"source"`
	Evaluations []model.EvaluationRecord `json:"evaluations"`
}

// HandleBackup handles POST /api/backup. Without evaluations in the body
// the merged dataset is backed up.
func (h *SyncHandler) HandleBackup(w http.ResponseWriter, r *http.Request) {
	const op = "api.backup"
	var req backupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeServiceError(w, WrapKind(op, ErrBadRequest, err))
		return
	}
	res, err := h.deps.BackupToLocal(r.Context(), req.Evaluations, req.Source)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}
