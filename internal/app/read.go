package service

import (
	"context"
	"slices"
	"sort"
	"strings"

	"github.com/okian/evalsync/internal/adapters/mq/bus"
	"github.com/okian/evalsync/internal/adapters/remote"
	"github.com/okian/evalsync/internal/adapters/repository"
	"github.com/okian/evalsync/internal/domain/analytics"
	"github.com/okian/evalsync/internal/domain/model"
	"github.com/okian/evalsync/pkg/logger"
	"github.com/okian/evalsync/pkg/metrics"
	"github.com/okian/evalsync/pkg/tracing"
)

// Refresh triggers.
const (
	triggerLoad      = "load"
	triggerManual    = "manual"
	triggerScheduled = "scheduled"
)

// LoadedEvent is the payload of evaluations:loaded.
type LoadedEvent struct {
	Total     int  `json:"total"`
	Remote    int  `json:"remote"`
	LocalOnly int  `json:"localOnly"`
	Degraded  bool `json:"degraded,omitempty"`
}

// GetAllEvaluations returns the merged dataset: every remote record plus
// each local record whose comparison key is not present remotely, most
// recently modified first. Remote failures degrade to the local set.
// Callers must not modify the returned records.
func (s *Service) GetAllEvaluations(ctx context.Context) []model.EvaluationRecord {
	return slices.Clone(s.snapshot(ctx).Records)
}

// Refresh rebuilds the merged dataset. Concurrent callers share one
// rebuild.
func (s *Service) Refresh(ctx context.Context) []model.EvaluationRecord {
	return slices.Clone(s.refresh(ctx, triggerManual).Records)
}

// snapshot serves the cached merged view, rebuilding it on a miss.
func (s *Service) snapshot(ctx context.Context) *repository.Snapshot {
	if snap, err := s.cache.Get(ctx); err == nil {
		return snap
	}
	return s.refresh(ctx, triggerLoad)
}

func (s *Service) refresh(ctx context.Context, trigger string) *repository.Snapshot {
	v, _, shared := s.flight.Do("refresh", func() (any, error) {
		s.refreshing.Store(true)
		defer s.refreshing.Store(false)

		gen := s.cache.Generation()
		records, degraded := s.merge(ctx)
		snap, _ := s.cache.Put(ctx, gen, records)

		result := "ok"
		if degraded {
			result = "degraded"
		}
		metrics.RecordRefresh(trigger, result)
		metrics.UpdateEvaluationsLoaded(snap.Remote, snap.LocalOnly)
		s.bus.Emit(ctx, bus.TopicEvaluationsLoaded, LoadedEvent{
			Total:     len(records),
			Remote:    snap.Remote,
			LocalOnly: snap.LocalOnly,
			Degraded:  degraded,
		})
		return snap, nil
	})
	if shared {
		metrics.RecordRefreshCoalesced()
	}
	return v.(*repository.Snapshot)
}

// scheduledRefresh skips the run when a rebuild is already in flight or the
// remote store is not connected.
func (s *Service) scheduledRefresh(ctx context.Context) {
	if !s.remote.Connected() {
		metrics.RecordRefresh(triggerScheduled, "offline")
		return
	}
	if s.refreshing.Load() {
		metrics.RecordRefresh(triggerScheduled, "skipped")
		s.logger.Debug(ctx, "refresh already in flight, skipping scheduled run")
		return
	}
	s.refresh(ctx, triggerScheduled)
}

// merge builds the merged dataset. degraded reports that the remote set
// could not be read.
func (s *Service) merge(ctx context.Context) (records []model.EvaluationRecord, degraded bool) {
	ctx, span := tracing.Start(ctx, "service.merge")
	defer span.End()

	var remoteRecs []model.EvaluationRecord
	if s.remote.Status().State == remote.StateChecking {
		s.remote.CheckConnection(ctx)
	}
	if s.remote.Connected() {
		fetched, err := s.remote.FetchAll(ctx)
		if err != nil {
			degraded = true
			s.logger.Warn(ctx, "remote fetch failed, serving local data", logger.Error(err))
			span.RecordError(err)
		} else {
			remoteRecs = fetched
		}
	} else {
		degraded = true
	}

	keys := make(map[string]struct{}, len(remoteRecs))
	records = make([]model.EvaluationRecord, 0, len(remoteRecs))
	for _, rec := range remoteRecs {
		rec.Provenance = model.ProvenanceRemote
		keys[s.resolver.ComparisonKey(rec)] = struct{}{}
		records = append(records, rec)
	}

	for _, e := range s.readLocal(ctx) {
		if _, ok := keys[s.resolver.ComparisonKey(e.Record)]; ok {
			continue
		}
		rec := e.Record
		rec.Provenance = model.ProvenanceLocalOnly
		records = append(records, rec)
	}

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].LastModified().After(records[j].LastModified())
	})
	return records, degraded
}

// Evaluation returns the merged record addressed by its id or evaluation id.
func (s *Service) Evaluation(ctx context.Context, id string) (model.EvaluationRecord, error) {
	rec, ok := s.snapshot(ctx).Index.ByID(id)
	if !ok {
		return model.EvaluationRecord{}, ErrNotFound
	}
	return rec, nil
}

// GetEvaluationsByPatient returns evaluations whose patient name contains
// name, ignoring case.
func (s *Service) GetEvaluationsByPatient(ctx context.Context, name string) []model.EvaluationRecord {
	needle := strings.ToLower(strings.TrimSpace(name))
	var out []model.EvaluationRecord
	for _, rec := range s.snapshot(ctx).Records {
		if strings.Contains(strings.ToLower(rec.PatientInfo.Name), needle) {
			out = append(out, rec)
		}
	}
	return out
}

// GetEvaluationsByDateRange returns evaluations dated within [from, to],
// both YYYY-MM-DD and either optional.
func (s *Service) GetEvaluationsByDateRange(ctx context.Context, from, to string) ([]model.EvaluationRecord, error) {
	f := analytics.Filter{From: from, To: to}
	if err := f.Validate(); err != nil {
		return nil, err
	}
	out, err := f.Apply(s.snapshot(ctx).Records)
	if err != nil {
		return nil, err
	}
	s.bus.Emit(ctx, bus.TopicEvaluationsFiltered, f)
	return out, nil
}

// PatientIndex lists patients with their evaluations, most recent first.
func (s *Service) PatientIndex(ctx context.Context) []analytics.Patient {
	return s.snapshot(ctx).Index.Patients()
}
