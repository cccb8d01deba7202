package service

import (
	"context"
	"io"

	"github.com/okian/evalsync/internal/adapters/remote"
	"github.com/okian/evalsync/internal/domain/analytics"
	"github.com/okian/evalsync/internal/domain/model"
	"github.com/okian/evalsync/internal/domain/pdi"
	"github.com/okian/evalsync/internal/domain/types"
)

// Engine is what presentation code depends on.
type Engine interface {
	GetAllEvaluations(ctx context.Context) []model.EvaluationRecord
	Refresh(ctx context.Context) []model.EvaluationRecord
	Evaluation(ctx context.Context, id string) (model.EvaluationRecord, error)
	GetEvaluationsByPatient(ctx context.Context, name string) []model.EvaluationRecord
	GetEvaluationsByDateRange(ctx context.Context, from, to string) ([]model.EvaluationRecord, error)
	PatientIndex(ctx context.Context) []analytics.Patient

	SyncPendingData(ctx context.Context) types.SyncSummary
	ForceSyncAllLocalData(ctx context.Context) types.ForceSyncSummary
	DeduplicateEvaluations(ctx context.Context) types.DedupSummary
	DeleteEvaluation(ctx context.Context, id string, localOnly bool) (types.DeleteResult, error)
	BackupToLocal(ctx context.Context, records []model.EvaluationRecord, source string) (types.BackupResult, error)
	Submit(ctx context.Context, rec model.EvaluationRecord) (string, error)

	GetConnectionStatus() remote.Status
	CheckConnection(ctx context.Context) remote.Status

	BuildAnalytics(ctx context.Context, q analytics.Query) (analytics.Report, error)
	AggregateRows(records []model.EvaluationRecord, grouping analytics.Grouping, metric analytics.Metric) []analytics.Row
	BuildPdiPlan(ctx context.Context, id string, sel pdi.Selection) (pdi.Plan, error)
	PlanFor(rec model.EvaluationRecord, sel pdi.Selection) pdi.Plan
	ExportPdiCSV(ctx context.Context, w io.Writer, id string, sel pdi.Selection) error

	GetStats(ctx context.Context) types.Stats
}

var _ Engine = (*Service)(nil)
