// Package analytics indexes evaluations and computes grouped metrics over
// them: per patient, evaluator, skill category, subgroup or month.
package analytics

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/okian/evalsync/internal/domain/model"
)

// ErrInvalidFilter is returned for unparseable filter dates or inverted ranges.
var ErrInvalidFilter = errors.New("invalid analytics filter")

// Filter narrows an evaluation set. Empty fields match everything. Patient
// and evaluator match exactly, ignoring case and surrounding whitespace.
// From and To are YYYY-MM-DD and inclusive; when either is set, undated
// evaluations are excluded.
type Filter struct {
	Patient   string `json:"patient,omitempty"`
	Evaluator string `json:"evaluator,omitempty"`
	From      string `json:"from,omitempty"`
	To        string `json:"to,omitempty"`
}

// Validate checks the date bounds.
func (f Filter) Validate() error {
	from, to, err := f.bounds()
	if err != nil {
		return err
	}
	if !from.IsZero() && !to.IsZero() && to.Before(from) {
		return fmt.Errorf("%w: to %s is before from %s", ErrInvalidFilter, f.To, f.From)
	}
	return nil
}

func (f Filter) bounds() (from, to time.Time, err error) {
	if s := strings.TrimSpace(f.From); s != "" {
		if from, err = time.Parse(model.DateLayout, s); err != nil {
			return from, to, fmt.Errorf("%w: from: %v", ErrInvalidFilter, err)
		}
	}
	if s := strings.TrimSpace(f.To); s != "" {
		if to, err = time.Parse(model.DateLayout, s); err != nil {
			return from, to, fmt.Errorf("%w: to: %v", ErrInvalidFilter, err)
		}
		to = to.Add(24*time.Hour - time.Second)
	}
	return from, to, nil
}

// Apply returns the matching records in their original order.
func (f Filter) Apply(records []model.EvaluationRecord) ([]model.EvaluationRecord, error) {
	from, to, err := f.bounds()
	if err != nil {
		return nil, err
	}
	patient := fold(f.Patient)
	evaluator := fold(f.Evaluator)
	ranged := !from.IsZero() || !to.IsZero()

	out := make([]model.EvaluationRecord, 0, len(records))
	for _, rec := range records {
		if patient != "" && fold(rec.PatientInfo.Name) != patient {
			continue
		}
		if evaluator != "" && fold(rec.EvaluatorInfo.Name) != evaluator {
			continue
		}
		if ranged {
			day, ok := rec.EvaluatedOn()
			if !ok {
				continue
			}
			if !from.IsZero() && day.Before(from) {
				continue
			}
			if !to.IsZero() && day.After(to) {
				continue
			}
		}
		out = append(out, rec)
	}
	return out, nil
}

func fold(s string) string { return strings.ToLower(strings.TrimSpace(s)) }
