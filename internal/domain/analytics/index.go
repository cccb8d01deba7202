package analytics

import (
	"sort"

	"github.com/okian/evalsync/internal/domain/identity"
	"github.com/okian/evalsync/internal/domain/model"
)

// Patient is one entry of the patient index.
type Patient struct {
	Key         string                   `json:"key"`
	PatientID   string                   `json:"patientId"`
	DisplayName string                   `json:"displayName"`
	Evaluations []model.EvaluationRecord `json:"evaluations"`
}

// Latest returns the most recent evaluation of the patient.
func (p Patient) Latest() (model.EvaluationRecord, bool) {
	if len(p.Evaluations) == 0 {
		return model.EvaluationRecord{}, false
	}
	return p.Evaluations[0], true
}

// Index looks evaluations up by id and by patient. It is immutable once built.
type Index struct {
	records   []model.EvaluationRecord
	byID      map[string]int
	patients  []Patient
	byPatient map[string]int
}

// NewIndex builds an index. Records are addressable by both their storage id
// and their evaluation id; the first record wins on conflicts. Each
// patient's evaluations are ordered most recent first.
func NewIndex(records []model.EvaluationRecord) *Index {
	ix := &Index{
		records:   records,
		byID:      make(map[string]int, len(records)*2),
		byPatient: make(map[string]int),
	}
	for i, rec := range records {
		for _, id := range []string{rec.ID, rec.EvaluationID} {
			if id == "" {
				continue
			}
			if _, dup := ix.byID[id]; !dup {
				ix.byID[id] = i
			}
		}

		key := identity.PatientKey(rec.PatientInfo.Name)
		pi, ok := ix.byPatient[key]
		if !ok {
			pi = len(ix.patients)
			ix.byPatient[key] = pi
			ix.patients = append(ix.patients, Patient{
				Key:         key,
				PatientID:   identity.Slug(rec.PatientInfo.Name),
				DisplayName: rec.PatientInfo.Name,
			})
		}
		ix.patients[pi].Evaluations = append(ix.patients[pi].Evaluations, rec)
	}

	for i := range ix.patients {
		evs := ix.patients[i].Evaluations
		sort.SliceStable(evs, func(a, b int) bool {
			da, _ := evs[a].EvaluatedOn()
			db, _ := evs[b].EvaluatedOn()
			return da.After(db)
		})
	}
	return ix
}

// Len returns the number of indexed records.
func (ix *Index) Len() int { return len(ix.records) }

// Records returns the indexed records in their original order.
func (ix *Index) Records() []model.EvaluationRecord { return ix.records }

// ByID finds a record by storage id or evaluation id.
func (ix *Index) ByID(id string) (model.EvaluationRecord, bool) {
	i, ok := ix.byID[id]
	if !ok {
		return model.EvaluationRecord{}, false
	}
	return ix.records[i], true
}

// Patient finds a patient by name, ignoring case and surrounding whitespace.
func (ix *Index) Patient(name string) (Patient, bool) {
	i, ok := ix.byPatient[identity.PatientKey(name)]
	if !ok {
		return Patient{}, false
	}
	return ix.patients[i], true
}

// Patients returns every patient sorted by name, ignoring case.
func (ix *Index) Patients() []Patient {
	out := append([]Patient(nil), ix.patients...)
	sort.SliceStable(out, func(a, b int) bool { return out[a].Key < out[b].Key })
	return out
}
