package service

import (
	"context"
	"fmt"

	"github.com/okian/evalsync/internal/adapters/remote"
	"github.com/okian/evalsync/internal/domain/model"
	"github.com/okian/evalsync/internal/domain/types"
	"github.com/okian/evalsync/pkg/logger"
	"github.com/okian/evalsync/pkg/metrics"
	"github.com/okian/evalsync/pkg/tracing"
)

// DeleteEvaluation removes the evaluation id from the remote store, unless
// localOnly is set, and every local copy carrying it.
func (s *Service) DeleteEvaluation(ctx context.Context, id string, localOnly bool) (result types.DeleteResult, err error) {
	ctx, span := tracing.Start(ctx, "service.DeleteEvaluation")
	defer func() { tracing.End(span, err) }()

	if id == "" {
		return types.DeleteResult{}, fmt.Errorf("%w: empty evaluation id", ErrInvalidInput)
	}
	result.ID = id

	var remoteErr error
	if !localOnly {
		target := id
		if rec, ok := s.snapshot(ctx).Index.ByID(id); ok && rec.Provenance == model.ProvenanceRemote {
			target = rec.ID
		}
		result.Remote, remoteErr = s.deleteRemote(ctx, target)
		if remoteErr != nil {
			s.logger.Warn(ctx, "remote delete failed, removing local copies only",
				logger.String("id", target),
				logger.Error(remoteErr),
			)
		}
	}

	result.LocalRemoved, err = s.local.RemoveRecord(ctx, id)
	if err != nil {
		return result, fmt.Errorf("remove local copies of %s: %w", id, err)
	}
	if result.LocalRemoved > 0 {
		metrics.RecordEvaluationDeleted("local")
	}

	if !result.Remote && result.LocalRemoved == 0 {
		if remoteErr != nil {
			return result, remoteErr
		}
		return result, ErrNotFound
	}
	s.cache.Invalidate(ctx)
	return result, nil
}

func (s *Service) deleteRemote(ctx context.Context, id string) (bool, error) {
	if !s.remote.Connected() {
		return false, fmt.Errorf("%w: not connected", remote.ErrUnreachable)
	}
	_, found, err := s.remote.Get(ctx, id)
	if err != nil && !found {
		return false, err
	}
	if !found {
		return false, nil
	}
	if err := s.remote.Delete(ctx, id); err != nil {
		return false, err
	}
	metrics.RecordEvaluationDeleted("remote")
	return true, nil
}

// BackupToLocal writes records, or the merged dataset when records is nil,
// as a local therapist backup.
func (s *Service) BackupToLocal(ctx context.Context, records []model.EvaluationRecord, source string) (types.BackupResult, error) {
	if records == nil {
		records = s.GetAllEvaluations(ctx)
	}
	if source == "" {
		source = "manual"
	}
	res, err := s.local.Backup(ctx, records, source)
	if err != nil {
		return types.BackupResult{}, fmt.Errorf("local backup: %w", err)
	}
	s.logger.Info(ctx, "local backup written",
		logger.String("key", res.Key),
		logger.Int("count", res.Count),
	)
	return res, nil
}
