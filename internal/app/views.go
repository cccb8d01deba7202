package service

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/okian/evalsync/internal/adapters/mq/bus"
	"github.com/okian/evalsync/internal/domain/analytics"
	"github.com/okian/evalsync/internal/domain/model"
	"github.com/okian/evalsync/internal/domain/pdi"
	"github.com/okian/evalsync/pkg/metrics"
	"github.com/okian/evalsync/pkg/tracing"
)

// BuildAnalytics filters the merged dataset and aggregates it.
func (s *Service) BuildAnalytics(ctx context.Context, q analytics.Query) (report analytics.Report, err error) {
	ctx, span := tracing.Start(ctx, "service.BuildAnalytics")
	defer func() { tracing.End(span, err) }()

	start := time.Now()
	report, err = analytics.Build(s.snapshot(ctx).Records, q, s.resolver)
	if err != nil {
		return analytics.Report{}, fmt.Errorf("%w: %w", ErrInvalidInput, err)
	}
	metrics.RecordAnalyticsBuild(float64(time.Since(start).Microseconds())/1000, len(report.Rows))
	s.bus.Emit(ctx, bus.TopicAnalyticsUpdated, report.Totals)
	return report, nil
}

// AggregateRows groups an already filtered set.
func (s *Service) AggregateRows(records []model.EvaluationRecord, grouping analytics.Grouping, metric analytics.Metric) []analytics.Row {
	return analytics.Aggregate(records, grouping, metric)
}

// PlanFor builds the intervention plan of rec.
func (s *Service) PlanFor(rec model.EvaluationRecord, sel pdi.Selection) pdi.Plan {
	plan := pdi.Build(rec, sel)
	metrics.RecordPdiPlan(plan.Count)
	return plan
}

// BuildPdiPlan builds the intervention plan of the evaluation id.
func (s *Service) BuildPdiPlan(ctx context.Context, id string, sel pdi.Selection) (pdi.Plan, error) {
	ctx, span := tracing.Start(ctx, "service.BuildPdiPlan")
	defer span.End()

	rec, err := s.Evaluation(ctx, id)
	if err != nil {
		return pdi.Plan{}, err
	}
	plan := s.PlanFor(rec, sel)
	s.bus.Emit(ctx, bus.TopicPdiGenerated, plan)
	return plan, nil
}

// ExportPdiCSV writes the intervention plan of the evaluation id as CSV.
func (s *Service) ExportPdiCSV(ctx context.Context, w io.Writer, id string, sel pdi.Selection) error {
	plan, err := s.BuildPdiPlan(ctx, id, sel)
	if err != nil {
		return err
	}
	if err := pdi.WriteCSV(w, plan); err != nil {
		return fmt.Errorf("export plan %s: %w", id, err)
	}
	s.bus.Emit(ctx, bus.TopicPdiExported, map[string]any{"evaluationId": plan.EvaluationID, "count": plan.Count})
	return nil
}

// SelectPatient returns the patient's entry of the index and announces the
// selection.
func (s *Service) SelectPatient(ctx context.Context, name string) (analytics.Patient, error) {
	p, ok := s.snapshot(ctx).Index.Patient(name)
	if !ok {
		return analytics.Patient{}, ErrNotFound
	}
	s.bus.Emit(ctx, bus.TopicPatientSelected, map[string]string{
		"patientId": p.PatientID,
		"name":      p.DisplayName,
	})
	return p, nil
}

// SelectEvaluation returns the evaluation and announces the selection.
func (s *Service) SelectEvaluation(ctx context.Context, id string) (model.EvaluationRecord, error) {
	rec, err := s.Evaluation(ctx, id)
	if err != nil {
		return model.EvaluationRecord{}, err
	}
	s.bus.Emit(ctx, bus.TopicEvaluationSelected, map[string]string{"id": rec.ID, "evaluationId": rec.EvaluationID})
	return rec, nil
}
