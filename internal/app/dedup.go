package service

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/okian/evalsync/internal/domain/identity"
	"github.com/okian/evalsync/internal/domain/model"
	"github.com/okian/evalsync/internal/domain/types"
	"github.com/okian/evalsync/pkg/logger"
	"github.com/okian/evalsync/pkg/metrics"
	"github.com/okian/evalsync/pkg/tracing"
)

// DeduplicateEvaluations consolidates remote records sharing a comparison
// key into one record under a fresh canonical id, then deletes the other
// documents of the group. Delete failures are counted and the pass goes on.
func (s *Service) DeduplicateEvaluations(ctx context.Context) types.DedupSummary {
	ctx, span := tracing.Start(ctx, "service.DeduplicateEvaluations")
	defer span.End()
	metrics.RecordSyncBatch(modeDedup)

	var summary types.DedupSummary
	if !s.ensureConnected(ctx) {
		summary.Offline = true
		s.logger.Warn(ctx, "working offline, deduplication not attempted")
		return summary
	}

	records, err := s.remote.FetchAll(ctx)
	if err != nil {
		summary.Offline = !s.remote.Connected()
		s.reportError(ctx, "dedup", err)
		span.RecordError(err)
		return summary
	}

	var groups [][]model.EvaluationRecord
	byKey := make(map[string]int)
	for _, rec := range records {
		key := s.resolver.ComparisonKey(rec)
		i, ok := byKey[key]
		if !ok {
			i = len(groups)
			byKey[key] = i
			groups = append(groups, nil)
		}
		groups[i] = append(groups[i], rec)
	}
	summary.TotalDocuments = len(records)
	summary.UniqueEvaluations = len(groups)

	var mu sync.Mutex
	g := new(errgroup.Group)
	g.SetLimit(s.syncConcurrency)
	for _, group := range groups {
		if len(group) < 2 {
			continue
		}
		g.Go(func() error {
			consolidated, removed, errs := s.consolidate(ctx, group)
			mu.Lock()
			defer mu.Unlock()
			if consolidated {
				summary.Consolidated++
			}
			summary.Removed += removed
			summary.Errors += errs
			return nil
		})
	}
	_ = g.Wait()

	span.SetAttributes(
		attribute.Int("consolidated", summary.Consolidated),
		attribute.Int("removed", summary.Removed),
		attribute.Int("errors", summary.Errors),
	)
	s.finishSync(ctx, modeDedup, summary, summary.Consolidated)
	return summary
}

// consolidate writes the group's primary under a fresh canonical id and
// deletes every other document of the group. When the write fails nothing
// is deleted.
func (s *Service) consolidate(ctx context.Context, group []model.EvaluationRecord) (consolidated bool, removed, errs int) {
	primary := group[0]
	for _, rec := range group[1:] {
		if rec.LastModified().After(primary.LastModified()) {
			primary = rec
		}
	}

	newID := s.resolver.CanonicalID(primary)
	now := s.now()
	rec := primary.Clone()
	rec.EvaluationID = newID
	rec.PatientID = identity.Slug(rec.PatientInfo.Name)
	rec.DeduplicatedAt = now
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = primary.Created()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}

	if err := s.replace(ctx, newID, rec); err != nil {
		s.logger.Warn(ctx, "could not write consolidated record",
			logger.String("id", newID),
			logger.Int("group", len(group)),
			logger.Error(err),
		)
		return false, 0, 1
	}
	metrics.RecordDedupConsolidated()

	for _, doc := range group {
		if doc.ID == newID {
			continue
		}
		if err := s.remote.Delete(ctx, doc.ID); err != nil {
			metrics.RecordDedupDeleteError()
			s.logger.Warn(ctx, "could not delete duplicate",
				logger.String("id", doc.ID),
				logger.String("keptAs", newID),
				logger.Error(err),
			)
			errs++
			continue
		}
		removed++
	}
	metrics.RecordDedupRemoved(removed)
	s.logger.Info(ctx, "consolidated duplicate evaluations",
		logger.String("id", newID),
		logger.Int("removed", removed),
	)
	return true, removed, errs
}

func (s *Service) replace(ctx context.Context, id string, rec model.EvaluationRecord) error {
	release, err := s.guard.Acquire(ctx, id)
	if err != nil {
		return err
	}
	defer release()

	payload, err := rec.Payload()
	if err != nil {
		return err
	}
	return s.remote.Upsert(ctx, id, payload, false)
}
