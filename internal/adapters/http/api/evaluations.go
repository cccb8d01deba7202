package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	service "github.com/okian/evalsync/internal/app"
	"github.com/okian/evalsync/internal/domain/model"
	"github.com/okian/evalsync/internal/domain/types"
)

// maxSubmissionBytes bounds a questionnaire body.
const maxSubmissionBytes = 1 << 20

// EvaluationDependencies defines the evaluation read, intake and delete
// operations.
type EvaluationDependencies interface {
	GetAllEvaluations(ctx context.Context) []model.EvaluationRecord
	GetEvaluationsByPatient(ctx context.Context, name string) []model.EvaluationRecord
	GetEvaluationsByDateRange(ctx context.Context, from, to string) ([]model.EvaluationRecord, error)
	SelectEvaluation(ctx context.Context, id string) (model.EvaluationRecord, error)
	Submit(ctx context.Context, rec model.EvaluationRecord) (string, error)
	DeleteEvaluation(ctx context.Context, id string, localOnly bool) (types.DeleteResult, error)
}

// EvaluationHandler handles /api/evaluations.
type EvaluationHandler struct {
	deps EvaluationDependencies
}

// NewEvaluationHandler creates a new evaluation handler.
func NewEvaluationHandler(deps EvaluationDependencies) *EvaluationHandler {
	return &EvaluationHandler{deps: deps}
}

type listResponse struct {
	Count       int                      `json:"count"`
	Evaluations []model.EvaluationRecord `json:"evaluations"`
}

type submitResponse struct {
	Status       string `json:"status"`
	SubmissionID string `json:"submissionId"`
}

// HandleList handles GET /api/evaluations. The patient query narrows by
// name; from and to narrow by evaluation date.
func (h *EvaluationHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	const op = "api.list_evaluations"
	q := r.URL.Query()

	var records []model.EvaluationRecord
	switch {
	case q.Get("from") != "" || q.Get("to") != "":
		var err error
		records, err = h.deps.GetEvaluationsByDateRange(r.Context(), q.Get("from"), q.Get("to"))
		if err != nil {
			writeServiceError(w, WrapKind(op, ErrBadRequest, err))
			return
		}
		if name := q.Get("patient"); name != "" {
			records = filterPatient(records, h.deps.GetEvaluationsByPatient(r.Context(), name))
		}
	case q.Get("patient") != "":
		records = h.deps.GetEvaluationsByPatient(r.Context(), q.Get("patient"))
	default:
		records = h.deps.GetAllEvaluations(r.Context())
	}
	if records == nil {
		records = []model.EvaluationRecord{}
	}
	writeJSON(w, http.StatusOK, listResponse{Count: len(records), Evaluations: records})
}

// filterPatient keeps the records of in that also appear in match.
func filterPatient(in, match []model.EvaluationRecord) []model.EvaluationRecord {
	ids := make(map[string]bool, len(match))
	for _, rec := range match {
		ids[rec.ID] = true
	}
	out := in[:0:0]
	for _, rec := range in {
		if ids[rec.ID] {
			out = append(out, rec)
		}
	}
	return out
}

// HandleGet handles GET /api/evaluations/{id}.
func (h *EvaluationHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	rec, err := h.deps.SelectEvaluation(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

// HandleSubmit handles POST /api/evaluations. The questionnaire is queued
// and saved asynchronously.
func (h *EvaluationHandler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	const op = "api.submit_evaluation"
	body, err := io.ReadAll(io.LimitReader(r.Body, maxSubmissionBytes))
	if err != nil {
		writeServiceError(w, WrapKind(op, ErrBadRequest, err))
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		writeServiceError(w, NewKind(op, ErrBadRequest))
		return
	}
	var rec model.EvaluationRecord
	if err := json.Unmarshal(body, &rec); err != nil {
		writeServiceError(w, WrapKind(op, ErrBadRequest, err))
		return
	}
	id, err := h.deps.Submit(r.Context(), rec)
	if errors.Is(err, service.ErrQueueFull) {
		err = WrapKind(op, ErrBackpressure, err)
	}
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, submitResponse{Status: "accepted", SubmissionID: id})
}

// HandleDelete handles DELETE /api/evaluations/{id}?localOnly=true.
func (h *EvaluationHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	const op = "api.delete_evaluation"
	localOnly := false
	if v := r.URL.Query().Get("localOnly"); v != "" {
		var err error
		if localOnly, err = strconv.ParseBool(v); err != nil {
			writeServiceError(w, WrapKind(op, ErrBadRequest, err))
			return
		}
	}
	res, err := h.deps.DeleteEvaluation(r.Context(), mux.Vars(r)["id"], localOnly)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
