package localstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/okian/evalsync/internal/domain/model"
	"github.com/okian/evalsync/internal/domain/types"
	"github.com/okian/evalsync/pkg/logger"
)

// Local wraps a Store with the evaluation-level operations the engine needs.
// Container keys (questionnaireData, evaluations) are rewritten under a lock.
type Local struct {
	store   Store
	scanner *Scanner
	mu      sync.Mutex
	logger  logger.Logger
	now     func() time.Time
}

// Option configures Local.
type Option func(*Local)

// WithLogger sets the logger.
func WithLogger(l logger.Logger) Option {
	return func(lc *Local) {
		if l != nil {
			lc.logger = l
		}
	}
}

// WithClock overrides the time source used for generated keys and marks.
func WithClock(now func() time.Time) Option {
	return func(lc *Local) {
		if now != nil {
			lc.now = now
		}
	}
}

// New wraps store.
func New(store Store, opts ...Option) *Local {
	l := &Local{store: store, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	if l.logger == nil {
		l.logger = logger.Get().Named("localstore")
	}
	l.scanner = NewScanner(store, l.logger)
	return l
}

// Store returns the underlying key/value store.
func (l *Local) Store() Store { return l.store }

// ReadAll scans every local evaluation.
func (l *Local) ReadAll(ctx context.Context) ([]Entry, error) {
	return l.scanner.ReadAll(ctx)
}

// Write stores rec under key.
func (l *Local) Write(ctx context.Context, key string, rec model.EvaluationRecord) error {
	raw, err := rec.LocalJSON()
	if err != nil {
		return fmt.Errorf("encode local record: %w", err)
	}
	return l.store.Set(ctx, key, raw)
}

// Remove deletes key.
func (l *Local) Remove(ctx context.Context, key string) error {
	return l.store.Remove(ctx, key)
}

// SavedKeys tells where a submission was written.
type SavedKeys struct {
	Slot      string `json:"slot"`
	BackupKey string `json:"backupKey"`
}

// SaveSubmission writes rec twice, as questionnaireData[evaluation_<date>_<ms>]
// and as backup_evaluation_<date>_<ms>. The scanner collapses the two copies.
func (l *Local) SaveSubmission(ctx context.Context, rec model.EvaluationRecord) (SavedKeys, error) {
	raw, err := rec.LocalJSON()
	if err != nil {
		return SavedKeys{}, fmt.Errorf("encode local record: %w", err)
	}
	now := l.now()
	date := rec.PatientInfo.EvaluationDate
	if date == "" {
		date = now.UTC().Format(model.DateLayout)
	}
	suffix := date + "_" + strconv.FormatInt(now.UnixMilli(), 10)
	keys := SavedKeys{Slot: PrefixEvaluation + suffix, BackupKey: PrefixBackupEvaluation + suffix}

	l.mu.Lock()
	defer l.mu.Unlock()

	container, err := l.readContainer(ctx)
	if err != nil {
		return SavedKeys{}, err
	}
	container[keys.Slot] = raw
	if err := l.writeJSON(ctx, KeyQuestionnaireData, container); err != nil {
		return SavedKeys{}, err
	}
	if err := l.store.Set(ctx, keys.BackupKey, raw); err != nil {
		return SavedKeys{}, err
	}
	return keys, nil
}

// MarkSynced stamps the local copy behind e with syncedToRemote, remoteId
// and syncedAt.
func (l *Local) MarkSynced(ctx context.Context, e Entry, remoteID string, at time.Time) error {
	patch := map[string]any{
		"syncedToRemote": true,
		"remoteId":       remoteID,
		"syncedAt":       model.FormatTime(at),
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	switch e.Origin {
	case OriginQuestionnaire:
		container, err := l.readContainer(ctx)
		if err != nil {
			return err
		}
		raw, ok := container[e.Slot]
		if !ok {
			return fmt.Errorf("%w: %s.%s", ErrNotFound, e.Key, e.Slot)
		}
		if container[e.Slot], err = patchObject(raw, patch); err != nil {
			return err
		}
		return l.writeJSON(ctx, KeyQuestionnaireData, container)

	case OriginEvaluations:
		list, err := l.readList(ctx)
		if err != nil {
			return err
		}
		i, ok := listSlot(list, e)
		if !ok {
			return fmt.Errorf("%w: %s[%s]", ErrNotFound, e.Key, e.Slot)
		}
		if list[i], err = patchObject(list[i], patch); err != nil {
			return err
		}
		return l.writeJSON(ctx, KeyEvaluations, list)

	default:
		raw, err := l.store.Get(ctx, e.Key)
		if err != nil {
			return err
		}
		patched, err := patchObject(raw, patch)
		if err != nil {
			return err
		}
		return l.store.Set(ctx, e.Key, patched)
	}
}

// RemoveRecord deletes every local copy addressed by id: a storage key, a
// questionnaireData slot, or a record whose id, evaluationId or remoteId is
// id. It returns how many copies were removed.
func (l *Local) RemoveRecord(ctx context.Context, id string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	removed := 0

	container, err := l.readContainer(ctx)
	if err != nil {
		return 0, err
	}
	before := len(container)
	for slot, raw := range container {
		if slot == id || addresses(raw, id) {
			delete(container, slot)
		}
	}
	if n := before - len(container); n > 0 {
		if err := l.writeJSON(ctx, KeyQuestionnaireData, container); err != nil {
			return removed, err
		}
		removed += n
	}

	list, err := l.readList(ctx)
	if err != nil {
		return removed, err
	}
	kept := list[:0]
	for i, raw := range list {
		if KeyEvaluations+"_"+strconv.Itoa(i) != id && !addresses(raw, id) {
			kept = append(kept, raw)
		}
	}
	if n := len(list) - len(kept); n > 0 {
		if err := l.writeJSON(ctx, KeyEvaluations, kept); err != nil {
			return removed, err
		}
		removed += n
	}

	items, err := l.store.Items(ctx)
	if err != nil {
		return removed, fmt.Errorf("read local store: %w", err)
	}
	for _, it := range items {
		if !IsRecordKey(it.Key) || (it.Key != id && !addresses(it.Value, id)) {
			continue
		}
		if err := l.store.Remove(ctx, it.Key); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

type backupDocument struct {
	Evaluations  []model.EvaluationRecord `json:"evaluations"`
	Count        int                      `json:"count"`
	BackedUpAt   string                   `json:"backedUpAt"`
	BackupSource string                   `json:"backupSource"`
}

// Backup writes a snapshot of records under backup_terapeuta_<ms>. The
// scanner does not read this key family back.
func (l *Local) Backup(ctx context.Context, records []model.EvaluationRecord, source string) (types.BackupResult, error) {
	now := l.now()
	key := PrefixTherapistBackup + strconv.FormatInt(now.UnixMilli(), 10)
	if records == nil {
		records = []model.EvaluationRecord{}
	}
	doc := backupDocument{
		Evaluations:  records,
		Count:        len(records),
		BackedUpAt:   model.FormatTime(now),
		BackupSource: source,
	}
	if err := l.writeJSON(ctx, key, doc); err != nil {
		return types.BackupResult{}, err
	}
	return types.BackupResult{Key: key, Count: len(records), BackedUpAt: now.UTC()}, nil
}

// readContainer must be called with l.mu held.
func (l *Local) readContainer(ctx context.Context) (map[string]json.RawMessage, error) {
	container := make(map[string]json.RawMessage)
	raw, err := l.store.Get(ctx, KeyQuestionnaireData)
	if errors.Is(err, ErrNotFound) {
		return container, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, &container); err != nil {
		return nil, fmt.Errorf("decode %s: %w", KeyQuestionnaireData, err)
	}
	return container, nil
}

// readList must be called with l.mu held.
func (l *Local) readList(ctx context.Context) ([]json.RawMessage, error) {
	raw, err := l.store.Get(ctx, KeyEvaluations)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var list []json.RawMessage
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, fmt.Errorf("decode %s: %w", KeyEvaluations, err)
	}
	return list, nil
}

func (l *Local) writeJSON(ctx context.Context, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return l.store.Set(ctx, key, raw)
}

func patchObject(raw []byte, patch map[string]any) (json.RawMessage, error) {
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, fmt.Errorf("decode local record: %w", err)
	}
	for k, v := range patch {
		b, err := json.Marshal(v)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", k, err)
		}
		obj[k] = b
	}
	return json.Marshal(obj)
}

// listSlot finds e in the evaluations array. The index recorded at scan
// time is used only while the record there is still e; removals since the
// scan shift the array.
func listSlot(list []json.RawMessage, e Entry) (int, bool) {
	want := Signature(e.Record)
	same := func(raw json.RawMessage) bool {
		if addresses(raw, e.Record.ID) || addresses(raw, e.Record.EvaluationID) {
			return true
		}
		rec, err := model.Parse(raw)
		return err == nil && Signature(rec) == want
	}
	if i, err := strconv.Atoi(e.Slot); err == nil && i >= 0 && i < len(list) && same(list[i]) {
		return i, true
	}
	for i, raw := range list {
		if same(raw) {
			return i, true
		}
	}
	return 0, false
}

func addresses(raw []byte, id string) bool {
	var ids struct {
		ID           string `json:"id"`
		EvaluationID string `json:"evaluationId"`
		RemoteID     string `json:"remoteId"`
	}
	if err := json.Unmarshal(raw, &ids); err != nil {
		return false
	}
	return id != "" && (ids.ID == id || ids.EvaluationID == id || ids.RemoteID == id)
}
