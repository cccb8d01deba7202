package service

import (
	"context"
	"fmt"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/okian/evalsync/internal/adapters/localstore"
	"github.com/okian/evalsync/internal/adapters/mq/bus"
	"github.com/okian/evalsync/internal/domain/dedupe"
	"github.com/okian/evalsync/internal/domain/model"
	"github.com/okian/evalsync/internal/domain/types"
	"github.com/okian/evalsync/pkg/logger"
	"github.com/okian/evalsync/pkg/metrics"
	"github.com/okian/evalsync/pkg/tracing"
)

// Sync modes, used as metric labels and in data:synced events.
const (
	modePending = "pending"
	modeForce   = "force"
	modeIntake  = "intake"
	modeDedup   = "dedup"
)

// SyncedEvent is the payload of data:synced.
type SyncedEvent struct {
	Mode    string `json:"mode"`
	Summary any    `json:"summary"`
}

// ErrorEvent is the payload of error:occurred.
type ErrorEvent struct {
	Operation string `json:"operation"`
	Message   string `json:"message"`
}

// SyncPendingData pushes every local record whose comparison key is absent
// from the remote store. Records sharing a key are tried in scan order
// until one is written; the rest are skipped. A failing record is counted
// and the batch continues.
func (s *Service) SyncPendingData(ctx context.Context) types.SyncSummary {
	ctx, span := tracing.Start(ctx, "service.SyncPendingData")
	defer span.End()
	metrics.RecordSyncBatch(modePending)

	var summary types.SyncSummary
	if !s.ensureConnected(ctx) {
		summary.Offline = true
		s.logger.Warn(ctx, "working offline, pending data kept locally")
		return summary
	}

	remoteRecs, err := s.remote.FetchAll(ctx)
	if err != nil {
		summary.Offline = !s.remote.Connected()
		s.reportError(ctx, "sync", err)
		span.RecordError(err)
		return summary
	}

	claimed := dedupe.NewInMemoryDeduper()
	for _, rec := range remoteRecs {
		claimed.Seed(ctx, s.resolver.ComparisonKey(rec))
	}

	var mu sync.Mutex
	g := new(errgroup.Group)
	g.SetLimit(s.syncConcurrency)
	for _, group := range s.groupByKey(s.readLocal(ctx)) {
		g.Go(func() error {
			for _, e := range group.entries {
				if claimed.SeenAndRecord(ctx, group.key) {
					metrics.RecordSyncRecord(modePending, "skipped")
					mu.Lock()
					summary.Skipped++
					mu.Unlock()
					continue
				}
				if err := s.upsert(ctx, e, modePending); err != nil {
					claimed.Unrecord(ctx, group.key)
					mu.Lock()
					summary.Errors++
					mu.Unlock()
					continue
				}
				mu.Lock()
				summary.Synced++
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	span.SetAttributes(
		attribute.Int("synced", summary.Synced),
		attribute.Int("skipped", summary.Skipped),
		attribute.Int("errors", summary.Errors),
	)
	s.finishSync(ctx, modePending, summary, summary.Synced)
	return summary
}

// ForceSyncAllLocalData re-upserts every local record regardless of what
// the remote store holds.
func (s *Service) ForceSyncAllLocalData(ctx context.Context) types.ForceSyncSummary {
	ctx, span := tracing.Start(ctx, "service.ForceSyncAllLocalData")
	defer span.End()
	metrics.RecordSyncBatch(modeForce)

	var summary types.ForceSyncSummary
	if !s.ensureConnected(ctx) {
		summary.Offline = true
		s.logger.Warn(ctx, "working offline, force sync not attempted")
		return summary
	}

	entries := s.readLocal(ctx)
	summary.Total = len(entries)

	var mu sync.Mutex
	g := new(errgroup.Group)
	g.SetLimit(s.syncConcurrency)
	for _, e := range entries {
		g.Go(func() error {
			err := s.upsert(ctx, e, modeForce)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				summary.Errors++
			} else {
				summary.Synced++
			}
			return nil
		})
	}
	_ = g.Wait()

	span.SetAttributes(attribute.Int("synced", summary.Synced), attribute.Int("errors", summary.Errors))
	s.finishSync(ctx, modeForce, summary, summary.Synced)
	return summary
}

// upsert writes e under its canonical id. Reading the existing document
// and writing the merged one form a critical section per id.
func (s *Service) upsert(ctx context.Context, e localstore.Entry, mode string) error {
	rec := e.Record.Clone()
	id := s.resolver.CanonicalID(rec)

	err := s.writeRecord(ctx, rec, id, e.Origin, mode)
	if err != nil {
		metrics.RecordSyncRecord(mode, "error")
		s.logger.Warn(ctx, "sync item failed",
			logger.String("mode", mode),
			logger.String("id", id),
			logger.String("origin", e.Origin),
			logger.Error(err),
		)
		return err
	}
	metrics.RecordSyncRecord(mode, "synced")

	if err := s.local.MarkSynced(ctx, e, id, s.now()); err != nil {
		s.logger.Warn(ctx, "could not mark local copy as synced",
			logger.String("id", id),
			logger.String("key", e.Key),
			logger.Error(err),
		)
	}
	return nil
}

func (s *Service) writeRecord(ctx context.Context, rec model.EvaluationRecord, id, origin, mode string) error {
	release, err := s.guard.Acquire(ctx, id)
	if err != nil {
		return err
	}
	defer release()

	existing, found, err := s.remote.Get(ctx, id)
	if err != nil {
		return fmt.Errorf("read existing %s: %w", id, err)
	}

	now := s.now()
	switch {
	case found && !existing.CreatedAt.IsZero():
		rec.CreatedAt = existing.CreatedAt
	case !rec.Created().IsZero():
		rec.CreatedAt = rec.Created()
	default:
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	rec.SyncedAt = now
	rec.SyncedFrom = origin
	rec.EvaluationID = id
	if mode == modeForce {
		rec.ForceSynced = true
		rec.ForceSyncAt = now
	}

	payload, err := rec.Payload()
	if err != nil {
		return err
	}
	return s.remote.Upsert(ctx, id, payload, true)
}

func (s *Service) finishSync(ctx context.Context, mode string, summary any, changed int) {
	if changed > 0 {
		s.cache.Invalidate(ctx)
	}
	s.bus.Emit(ctx, bus.TopicDataSynced, SyncedEvent{Mode: mode, Summary: summary})
}

func (s *Service) reportError(ctx context.Context, op string, err error) {
	s.logger.Warn(ctx, op+" failed", logger.Error(err))
	s.bus.Emit(ctx, bus.TopicErrorOccurred, ErrorEvent{Operation: op, Message: err.Error()})
}

// readLocal scans the local store; a failing store reads as empty.
func (s *Service) readLocal(ctx context.Context) []localstore.Entry {
	entries, err := s.local.ReadAll(ctx)
	if err != nil {
		s.reportError(ctx, "local scan", err)
		return nil
	}
	return entries
}

type keyGroup struct {
	key     string
	entries []localstore.Entry
}

// groupByKey groups entries by comparison key, keeping first-seen order
// both across and within groups.
func (s *Service) groupByKey(entries []localstore.Entry) []*keyGroup {
	var groups []*keyGroup
	byKey := make(map[string]*keyGroup)
	for _, e := range entries {
		key := s.resolver.ComparisonKey(e.Record)
		g, ok := byKey[key]
		if !ok {
			g = &keyGroup{key: key}
			byKey[key] = g
			groups = append(groups, g)
		}
		g.entries = append(g.entries, e)
	}
	return groups
}
