package model

import (
	"encoding/json"
	"fmt"
	"time"
)

type wireRecord struct {
	ID             string                `json:"id,omitempty"`
	EvaluationID   string                `json:"evaluationId,omitempty"`
	PatientID      string                `json:"patientId,omitempty"`
	PatientInfo    PatientInfo           `json:"patientInfo"`
	EvaluatorInfo  EvaluatorInfo         `json:"evaluatorInfo"`
	Responses      Responses             `json:"responses"`
	GroupScores    map[string]GroupScore `json:"groupScores,omitempty"`
	TotalScore     float64               `json:"totalScore"`
	CreatedAt      string                `json:"createdAt,omitempty"`
	UpdatedAt      string                `json:"updatedAt,omitempty"`
	SavedAt        string                `json:"savedAt,omitempty"`
	SyncedAt       string                `json:"syncedAt,omitempty"`
	SyncedFrom     string                `json:"syncedFrom,omitempty"`
	DeduplicatedAt string                `json:"deduplicatedAt,omitempty"`
	ForceSynced    bool                  `json:"forceSynced,omitempty"`
	ForceSyncAt    string                `json:"forceSyncAt,omitempty"`
	SyncedToRemote bool                  `json:"syncedToRemote,omitempty"`
	RemoteID       string                `json:"remoteId,omitempty"`
	Source         Provenance            `json:"source,omitempty"`
	Origin         string                `json:"origin,omitempty"`
}

// FormatTime renders t in the wire layout, or "" for the zero time.
func FormatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(TimeLayout)
}

func (r EvaluationRecord) wire() wireRecord {
	responses := r.Responses
	if responses == nil {
		responses = Responses{}
	}
	return wireRecord{
		ID:             r.ID,
		EvaluationID:   r.EvaluationID,
		PatientID:      r.PatientID,
		PatientInfo:    r.PatientInfo,
		EvaluatorInfo:  r.EvaluatorInfo,
		Responses:      responses,
		GroupScores:    r.GroupScores,
		TotalScore:     r.TotalScore,
		CreatedAt:      FormatTime(r.CreatedAt),
		UpdatedAt:      FormatTime(r.UpdatedAt),
		SavedAt:        FormatTime(r.SavedAt),
		SyncedAt:       FormatTime(r.SyncedAt),
		SyncedFrom:     r.SyncedFrom,
		DeduplicatedAt: FormatTime(r.DeduplicatedAt),
		ForceSynced:    r.ForceSynced,
		ForceSyncAt:    FormatTime(r.ForceSyncAt),
		SyncedToRemote: r.SyncedToRemote,
		RemoteID:       r.RemoteID,
		Source:         r.Provenance,
		Origin:         r.Origin,
	}
}

// MarshalJSON renders responses keyed "q<n>", in key order.
func (r Responses) MarshalJSON() ([]byte, error) {
	out := make(map[string]Response, len(r))
	for q, resp := range r {
		out[fmt.Sprintf("q%d", q)] = resp
	}
	return json.Marshal(out)
}

// UnmarshalJSON accepts every response shape Parse accepts.
func (r *Responses) UnmarshalJSON(data []byte) error {
	parsed, err := parseResponses(data)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// MarshalJSON renders the full view, including provenance and origin.
func (r EvaluationRecord) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.wire())
}

// UnmarshalJSON accepts any shape Parse accepts.
func (r *EvaluationRecord) UnmarshalJSON(data []byte) error {
	rec, err := Parse(data)
	if err != nil {
		return err
	}
	*r = rec
	return nil
}

// LocalJSON renders the record as persisted by the local store: merge
// bookkeeping is dropped, local sync marks are kept.
func (r EvaluationRecord) LocalJSON() ([]byte, error) {
	w := r.wire()
	w.Source = ""
	w.Origin = ""
	return json.Marshal(w)
}

// Payload renders the remote document body. Storage ids, provenance, origin
// and local sync marks never leave the process.
func (r EvaluationRecord) Payload() (map[string]any, error) {
	w := r.wire()
	w.ID = ""
	w.Source = ""
	w.Origin = ""
	w.SyncedToRemote = false
	w.RemoteID = ""
	raw, err := json.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return out, nil
}
