// Package model defines the evaluation record and the normalization that
// turns every legacy storage shape into it.
package model

import (
	"math"
	"sort"
	"time"
)

// Questionnaire bounds.
const (
	QuestionCount = 149
	MinScore      = 1
	MaxScore      = 5

	// MaxTotal is the score of a fully answered questionnaire at the top level.
	MaxTotal = QuestionCount * MaxScore
)

// Layouts used on the wire.
const (
	DateLayout = "2006-01-02"
	TimeLayout = "2006-01-02T15:04:05.000Z07:00"
)

// Provenance tells whether a merged record came from the remote store or
// exists only locally. It is never persisted remotely.
type Provenance string

const (
	ProvenanceRemote    Provenance = "remote"
	ProvenanceLocalOnly Provenance = "local-only"
)

// PatientInfo identifies the evaluated patient.
type PatientInfo struct {
	Name           string `json:"name"`
	EvaluationDate string `json:"evaluationDate,omitempty"`
}

// EvaluatorInfo identifies who filled the questionnaire.
type EvaluatorInfo struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

// Response is the answer to one question.
type Response struct {
	Score    int    `json:"score"`
	Question string `json:"question,omitempty"`
}

// Responses maps question numbers (1..149) to answers. Unanswered questions
// are absent.
type Responses map[int]Response

// Questions returns the answered question numbers in ascending order.
func (r Responses) Questions() []int {
	qs := make([]int, 0, len(r))
	for q := range r {
		qs = append(qs, q)
	}
	sort.Ints(qs)
	return qs
}

// Sum returns the sum of all answered scores.
func (r Responses) Sum() int {
	total := 0
	for _, resp := range r {
		total += resp.Score
	}
	return total
}

// GroupScore is the derived score of one skill subgroup.
type GroupScore struct {
	Total      float64 `json:"total"`
	Max        float64 `json:"max"`
	Percentage float64 `json:"percentage"`
	Average    float64 `json:"average,omitempty"`
	Category   string  `json:"category,omitempty"`
}

// EvaluationRecord is the single normalized evaluation shape used by the engine.
type EvaluationRecord struct {
	// ID is the storage identifier: the remote document id or the local key.
	ID            string
	EvaluationID  string
	PatientID     string
	PatientInfo   PatientInfo
	EvaluatorInfo EvaluatorInfo
	Responses     Responses
	GroupScores   map[string]GroupScore
	TotalScore    float64

	CreatedAt      time.Time
	UpdatedAt      time.Time
	SavedAt        time.Time
	SyncedAt       time.Time
	DeduplicatedAt time.Time
	ForceSyncAt    time.Time
	SyncedFrom     string
	ForceSynced    bool
	SyncedToRemote bool
	RemoteID       string

	Provenance Provenance
	Origin     string
}

// LastModified is updatedAt, falling back to createdAt.
func (r EvaluationRecord) LastModified() time.Time {
	if !r.UpdatedAt.IsZero() {
		return r.UpdatedAt
	}
	return r.CreatedAt
}

// Created returns the best creation timestamp: createdAt, else savedAt.
func (r EvaluationRecord) Created() time.Time {
	if !r.CreatedAt.IsZero() {
		return r.CreatedAt
	}
	return r.SavedAt
}

// EvaluatedOn returns the clinical date of the evaluation: patientInfo's
// evaluationDate, else the createdAt day. ok is false for undated records.
func (r EvaluationRecord) EvaluatedOn() (time.Time, bool) {
	if r.PatientInfo.EvaluationDate != "" {
		if t, err := time.Parse(DateLayout, r.PatientInfo.EvaluationDate); err == nil {
			return t, true
		}
	}
	if c := r.Created(); !c.IsZero() {
		y, m, d := c.UTC().Date()
		return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), true
	}
	return time.Time{}, false
}

// Answered returns the number of answered questions.
func (r EvaluationRecord) Answered() int { return len(r.Responses) }

// Key returns the id used to address the record in its store.
func (r EvaluationRecord) Key() string {
	if r.ID != "" {
		return r.ID
	}
	return r.EvaluationID
}

// Matches reports whether id addresses this record.
func (r EvaluationRecord) Matches(id string) bool {
	return id != "" && (r.ID == id || r.EvaluationID == id)
}

// Clone returns a deep copy.
func (r EvaluationRecord) Clone() EvaluationRecord {
	out := r
	if r.Responses != nil {
		out.Responses = make(Responses, len(r.Responses))
		for q, resp := range r.Responses {
			out.Responses[q] = resp
		}
	}
	if r.GroupScores != nil {
		out.GroupScores = make(map[string]GroupScore, len(r.GroupScores))
		for name, gs := range r.GroupScores {
			out.GroupScores[name] = gs
		}
	}
	return out
}

// Round rounds half away from zero to the given number of decimals.
func Round(v float64, decimals int) float64 {
	p := math.Pow(10, float64(decimals))
	return math.Round(v*p) / p
}

// Submission is one evaluation received from the intake form.
type Submission struct {
	ID         string
	Record     EvaluationRecord
	ReceivedAt time.Time
}
