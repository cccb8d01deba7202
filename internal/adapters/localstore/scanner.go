package localstore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/okian/evalsync/internal/domain/dedupe"
	"github.com/okian/evalsync/internal/domain/model"
	"github.com/okian/evalsync/pkg/logger"
	"github.com/okian/evalsync/pkg/metrics"
)

// signatureResponses is how much of the serialized responses goes into a
// scan signature.
const signatureResponses = 50

// Entry is one evaluation found in the local store.
type Entry struct {
	Record model.EvaluationRecord
	Origin string
	// Key is the storage key holding the entry.
	Key string
	// Slot addresses the entry inside a container key: the inner key of
	// questionnaireData or the array index of evaluations.
	Slot string
}

// Scanner reads every local evaluation layout and collapses copies of the
// same evaluation found under different keys.
type Scanner struct {
	store  Store
	logger logger.Logger
}

// NewScanner creates a scanner over store.
func NewScanner(store Store, l logger.Logger) *Scanner {
	return &Scanner{store: store, logger: l}
}

// ReadAll returns questionnaireData entries (inner keys sorted), then the
// evaluations array, then individually stored records by key. Malformed
// entries are skipped and logged; only a failing store is an error.
func (s *Scanner) ReadAll(ctx context.Context) ([]Entry, error) {
	items, err := s.store.Items(ctx)
	if err != nil {
		return nil, fmt.Errorf("read local store: %w", err)
	}

	seen := dedupe.NewInMemoryDeduper()
	var out []Entry
	add := func(e Entry) {
		if seen.SeenAndRecord(ctx, Signature(e.Record)) {
			metrics.RecordLocalScanSkipped("duplicate")
			return
		}
		metrics.RecordLocalScanEntry(e.Origin)
		out = append(out, e)
	}

	for _, it := range items {
		if it.Key == KeyQuestionnaireData {
			s.scanQuestionnaire(ctx, it, add)
		}
	}
	for _, it := range items {
		if it.Key == KeyEvaluations {
			s.scanEvaluations(ctx, it, add)
		}
	}
	for _, it := range items {
		if !IsRecordKey(it.Key) {
			continue
		}
		if !hasPatientInfo(it.Value) {
			s.skip(ctx, it.Key, "missing_patient", model.ErrMissingPatient)
			continue
		}
		rec, err := model.Parse(it.Value)
		if err != nil {
			s.skip(ctx, it.Key, reason(err), err)
			continue
		}
		if rec.ID == "" {
			rec.ID = it.Key
		}
		rec.Origin = OriginBackup
		add(Entry{Record: rec, Origin: OriginBackup, Key: it.Key})
	}
	return out, nil
}

func (s *Scanner) scanQuestionnaire(ctx context.Context, it Item, add func(Entry)) {
	var container map[string]json.RawMessage
	if err := json.Unmarshal(it.Value, &container); err != nil {
		s.skip(ctx, it.Key, "malformed", err)
		return
	}
	slots := make([]string, 0, len(container))
	for slot := range container {
		slots = append(slots, slot)
	}
	sort.Strings(slots)

	for _, slot := range slots {
		rec, err := model.Parse(container[slot])
		if err != nil {
			s.skip(ctx, it.Key+"."+slot, reason(err), err)
			continue
		}
		if rec.ID == "" {
			rec.ID = slot
		}
		rec.Origin = OriginQuestionnaire
		add(Entry{Record: rec, Origin: OriginQuestionnaire, Key: it.Key, Slot: slot})
	}
}

func (s *Scanner) scanEvaluations(ctx context.Context, it Item, add func(Entry)) {
	var list []json.RawMessage
	if err := json.Unmarshal(it.Value, &list); err != nil {
		s.skip(ctx, it.Key, "malformed", err)
		return
	}
	for i, raw := range list {
		slot := strconv.Itoa(i)
		rec, err := model.Parse(raw)
		if err != nil {
			s.skip(ctx, it.Key+"["+slot+"]", reason(err), err)
			continue
		}
		if rec.ID == "" {
			rec.ID = KeyEvaluations + "_" + slot
		}
		rec.Origin = OriginEvaluations
		add(Entry{Record: rec, Origin: OriginEvaluations, Key: it.Key, Slot: slot})
	}
}

func (s *Scanner) skip(ctx context.Context, key, why string, err error) {
	metrics.RecordLocalScanSkipped(why)
	s.logger.Warn(ctx, "skipping local entry",
		logger.String("key", key),
		logger.String("reason", why),
		logger.Error(err),
	)
}

func reason(err error) string {
	if errors.Is(err, model.ErrMissingPatient) {
		return "missing_patient"
	}
	return "malformed"
}

// IsRecordKey reports whether key holds a single evaluation.
func IsRecordKey(key string) bool {
	return strings.HasPrefix(key, PrefixBackupEvaluation) ||
		strings.HasPrefix(key, PrefixEvaluation) ||
		strings.HasPrefix(key, PrefixPatient)
}

func hasPatientInfo(raw []byte) bool {
	var probe struct {
		PatientInfo json.RawMessage `json:"patientInfo"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return false
	}
	p := bytes.TrimSpace(probe.PatientInfo)
	return len(p) > 0 && p[0] == '{'
}

// Signature identifies a physical copy of an evaluation: lowercase patient
// name, evaluation date (or creation time) and the head of the serialized
// responses.
func Signature(rec model.EvaluationRecord) string {
	date := rec.PatientInfo.EvaluationDate
	if date == "" {
		date = model.FormatTime(rec.CreatedAt)
	}
	head := ""
	if raw, err := json.Marshal(rec.Responses); err == nil {
		head = string(raw)
		if len(head) > signatureResponses {
			head = head[:signatureResponses]
		}
	}
	return strings.ToLower(strings.TrimSpace(rec.PatientInfo.Name)) + "|" + date + "|" + head
}
