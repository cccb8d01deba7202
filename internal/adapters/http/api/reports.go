package api

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/okian/evalsync/internal/domain/analytics"
	"github.com/okian/evalsync/internal/domain/pdi"
)

// ReportDependencies defines the analytics and intervention plan views.
type ReportDependencies interface {
	BuildAnalytics(ctx context.Context, q analytics.Query) (analytics.Report, error)
	PatientIndex(ctx context.Context) []analytics.Patient
	BuildPdiPlan(ctx context.Context, id string, sel pdi.Selection) (pdi.Plan, error)
	ExportPdiCSV(ctx context.Context, w io.Writer, id string, sel pdi.Selection) error
}

// ReportHandler handles the read-model endpoints.
type ReportHandler struct {
	deps ReportDependencies
}

// NewReportHandler creates a new report handler.
func NewReportHandler(deps ReportDependencies) *ReportHandler {
	return &ReportHandler{deps: deps}
}

// HandleAnalytics handles GET /api/analytics.
func (h *ReportHandler) HandleAnalytics(w http.ResponseWriter, r *http.Request) {
	const op = "api.analytics"
	q := r.URL.Query()

	grouping, err := analytics.ParseGrouping(q.Get("grouping"))
	if err != nil {
		writeServiceError(w, WrapKind(op, ErrBadRequest, err))
		return
	}
	metric, err := analytics.ParseMetric(q.Get("metric"))
	if err != nil {
		writeServiceError(w, WrapKind(op, ErrBadRequest, err))
		return
	}
	report, err := h.deps.BuildAnalytics(r.Context(), analytics.Query{
		Filter: analytics.Filter{
			Patient:   q.Get("patient"),
			Evaluator: q.Get("evaluator"),
			From:      q.Get("from"),
			To:        q.Get("to"),
		},
		Grouping: grouping,
		Metric:   metric,
	})
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// HandlePatients handles GET /api/patients.
func (h *ReportHandler) HandlePatients(w http.ResponseWriter, r *http.Request) {
	patients := h.deps.PatientIndex(r.Context())
	if patients == nil {
		patients = []analytics.Patient{}
	}
	writeJSON(w, http.StatusOK, patients)
}

// HandlePdi handles GET /api/evaluations/{id}/pdi. format=csv downloads
// the plan as a spreadsheet.
func (h *ReportHandler) HandlePdi(w http.ResponseWriter, r *http.Request) {
	const op = "api.pdi"
	id := mux.Vars(r)["id"]
	sel, err := parseSelection(r)
	if err != nil {
		writeServiceError(w, WrapKind(op, ErrBadRequest, err))
		return
	}

	if strings.EqualFold(r.URL.Query().Get("format"), "csv") {
		var buf bytes.Buffer
		if err := h.deps.ExportPdiCSV(r.Context(), &buf, id, sel); err != nil {
			writeServiceError(w, err)
			return
		}
		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="pdi_%s.csv"`, id))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(buf.Bytes())
		return
	}

	plan, err := h.deps.BuildPdiPlan(r.Context(), id, sel)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, plan)
}

// parseSelection reads comma separated scores, categories and subgroups.
// With none given every low score is selected.
func parseSelection(r *http.Request) (pdi.Selection, error) {
	q := r.URL.Query()
	var sel pdi.Selection
	for _, v := range splitList(q.Get("scores")) {
		n, err := strconv.Atoi(v)
		if err != nil {
			return pdi.Selection{}, fmt.Errorf("invalid score %q", v)
		}
		sel.Scores = append(sel.Scores, n)
	}
	sel.Categories = splitList(q.Get("categories"))
	sel.Subgroups = splitList(q.Get("subgroups"))
	if len(sel.Scores) == 0 && len(sel.Categories) == 0 && len(sel.Subgroups) == 0 {
		return pdi.AllLowScores(), nil
	}
	return sel, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
