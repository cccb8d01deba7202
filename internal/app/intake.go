package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/okian/evalsync/internal/adapters/localstore"
	"github.com/okian/evalsync/internal/adapters/mq/bus"
	"github.com/okian/evalsync/internal/domain/model"
	"github.com/okian/evalsync/pkg/logger"
	"github.com/okian/evalsync/pkg/metrics"
	"github.com/okian/evalsync/pkg/tracing"
)

// SavedEvent is the payload of evaluation:saved.
type SavedEvent struct {
	SubmissionID string `json:"submissionId"`
	EvaluationID string `json:"evaluationId"`
	Slot         string `json:"slot"`
	Destination  string `json:"destination"`
}

// Submit queues a completed questionnaire for saving and returns the
// submission id. ErrQueueFull signals backpressure.
func (s *Service) Submit(ctx context.Context, rec model.EvaluationRecord) (string, error) {
	if strings.TrimSpace(rec.PatientInfo.Name) == "" {
		return "", fmt.Errorf("%w: %w", ErrInvalidInput, model.ErrMissingPatient)
	}
	sub := model.Submission{
		ID:         uuid.NewString(),
		Record:     rec,
		ReceivedAt: s.now(),
	}
	if !s.queue.Enqueue(ctx, sub) {
		return "", ErrQueueFull
	}
	s.logger.Debug(ctx, "submission queued", logger.String("submission", sub.ID))
	return sub.ID, nil
}

// Process saves one submission: locally first, then remotely when the
// store is connected. A failed remote write leaves the record for the next
// sync pass.
func (s *Service) Process(ctx context.Context, sub model.Submission) (err error) {
	ctx, span := tracing.Start(ctx, "service.Process")
	defer func() { tracing.End(span, err) }()

	rec := sub.Record.Clone()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = sub.ReceivedAt
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.now()
	}
	if len(rec.GroupScores) == 0 && len(rec.Responses) > 0 {
		rec.GroupScores = model.DeriveGroupScores(rec.Responses)
	}
	if rec.TotalScore == 0 {
		rec.TotalScore = float64(rec.Responses.Sum())
	}
	rec.EvaluationID = s.resolver.CanonicalID(rec)
	rec.SavedAt = s.now()

	keys, err := s.local.SaveSubmission(ctx, rec)
	if err != nil {
		return fmt.Errorf("save submission %s locally: %w", sub.ID, err)
	}

	destination := "local"
	if s.remote.Connected() {
		slot := localstore.Entry{
			Record: rec,
			Origin: localstore.OriginQuestionnaire,
			Key:    localstore.KeyQuestionnaireData,
			Slot:   keys.Slot,
		}
		if err := s.upsert(ctx, slot, modeIntake); err == nil {
			destination = "remote"
			backup := localstore.Entry{Record: rec, Origin: localstore.OriginBackup, Key: keys.BackupKey}
			if err := s.local.MarkSynced(ctx, backup, rec.EvaluationID, s.now()); err != nil {
				s.logger.Warn(ctx, "could not mark backup copy as synced",
					logger.String("key", keys.BackupKey),
					logger.Error(err),
				)
			}
		}
	}

	metrics.RecordSubmissionProcessed(destination)
	s.cache.Invalidate(ctx)
	s.bus.Emit(ctx, bus.TopicEvaluationSaved, SavedEvent{
		SubmissionID: sub.ID,
		EvaluationID: rec.EvaluationID,
		Slot:         keys.Slot,
		Destination:  destination,
	})
	return nil
}
