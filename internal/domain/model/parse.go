package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/nyaruka/phonenumbers"
	"github.com/okian/evalsync/internal/domain/taxonomy"
)

// DefaultPhoneRegion is used when a phone number carries no country code.
const DefaultPhoneRegion = "BR"

// epochMillisThreshold separates epoch seconds from epoch milliseconds.
const epochMillisThreshold = 1e11

type fields map[string]json.RawMessage

// Parse normalizes one stored evaluation, whatever legacy shape it has, into
// an EvaluationRecord. It fails with ErrMalformed when data is not a JSON
// object and with ErrMissingPatient when no patient name can be found.
func Parse(data []byte) (EvaluationRecord, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '{' {
		return EvaluationRecord{}, fmt.Errorf("%w: not an object", ErrMalformed)
	}
	var f fields
	if err := json.Unmarshal(data, &f); err != nil {
		return EvaluationRecord{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return f.record()
}

// FromDocument normalizes a remote document body stored under id.
func FromDocument(id string, data map[string]any) (EvaluationRecord, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return EvaluationRecord{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	rec, err := Parse(raw)
	if err != nil {
		return EvaluationRecord{}, err
	}
	rec.ID = id
	return rec, nil
}

func (f fields) record() (EvaluationRecord, error) {
	var rec EvaluationRecord

	patient, _ := object(f["patientInfo"])
	rec.PatientInfo.Name = str(patient["name"])
	if rec.PatientInfo.Name == "" {
		rec.PatientInfo.Name = str(f["patientName"])
	}
	if rec.PatientInfo.Name == "" {
		return EvaluationRecord{}, ErrMissingPatient
	}
	rec.PatientInfo.EvaluationDate = parseDate(patient["evaluationDate"])
	if rec.PatientInfo.EvaluationDate == "" {
		rec.PatientInfo.EvaluationDate = parseDate(f["evaluationDate"])
	}

	evaluator, _ := object(f["evaluatorInfo"])
	rec.EvaluatorInfo = EvaluatorInfo{
		Name:  str(evaluator["name"]),
		Email: strings.ToLower(str(evaluator["email"])),
		Phone: NormalizePhone(str(evaluator["phone"])),
	}

	responses, err := parseResponses(f["responses"])
	if err != nil {
		return EvaluationRecord{}, err
	}
	rec.Responses = responses
	rec.GroupScores = parseGroupScores(f["groupScores"])
	if len(rec.GroupScores) == 0 && len(rec.Responses) > 0 {
		rec.GroupScores = DeriveGroupScores(rec.Responses)
	}
	if total, ok := number(f["totalScore"]); ok {
		rec.TotalScore = total
	} else {
		rec.TotalScore = derivedTotal(rec)
	}

	rec.ID = str(f["id"])
	rec.EvaluationID = str(f["evaluationId"])
	rec.PatientID = str(f["patientId"])
	rec.CreatedAt = parseTime(f["createdAt"])
	rec.UpdatedAt = parseTime(f["updatedAt"])
	rec.SavedAt = parseTime(f["savedAt"])
	if rec.SavedAt.IsZero() {
		rec.SavedAt = parseTime(f["timestamp"])
	}
	rec.SyncedAt = parseTime(f["syncedAt"])
	rec.DeduplicatedAt = parseTime(f["deduplicatedAt"])
	rec.ForceSyncAt = parseTime(f["forceSyncAt"])
	rec.SyncedFrom = str(f["syncedFrom"])
	rec.ForceSynced = boolean(f["forceSynced"])
	rec.SyncedToRemote = boolean(f["syncedToRemote"])
	rec.RemoteID = str(f["remoteId"])
	rec.Origin = str(f["origin"])
	switch p := Provenance(str(f["source"])); p {
	case ProvenanceRemote, ProvenanceLocalOnly:
		rec.Provenance = p
	}
	return rec, nil
}

func derivedTotal(rec EvaluationRecord) float64 {
	if len(rec.GroupScores) > 0 {
		var sum float64
		for _, gs := range rec.GroupScores {
			sum += gs.Total
		}
		return sum
	}
	return float64(rec.Responses.Sum())
}

// DeriveGroupScores computes subgroup scores from responses through the
// taxonomy. Questions outside the catalog fall into taxonomy.Other.
func DeriveGroupScores(responses Responses) map[string]GroupScore {
	type acc struct {
		total, answered int
		category        string
	}
	catalog := taxonomy.Default()
	accs := make(map[string]*acc)
	for q, resp := range responses {
		name, category := taxonomy.Other, taxonomy.Other
		if sg, ok := catalog.Lookup(q); ok {
			name, category = sg.Name, sg.Category
		}
		a := accs[name]
		if a == nil {
			a = &acc{category: category}
			accs[name] = a
		}
		a.total += resp.Score
		a.answered++
	}

	out := make(map[string]GroupScore, len(accs))
	for name, a := range accs {
		limit := float64(a.answered * MaxScore)
		out[name] = GroupScore{
			Total:      float64(a.total),
			Max:        limit,
			Percentage: math.Round(float64(a.total) / limit * 100),
			Average:    Round(float64(a.total)/float64(a.answered), 1),
			Category:   a.category,
		}
	}
	return out
}

// NormalizePhone formats a phone number as E.164, assuming DefaultPhoneRegion
// for national numbers. Unparseable input is returned trimmed.
func NormalizePhone(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	num, err := phonenumbers.Parse(raw, DefaultPhoneRegion)
	if err != nil || !phonenumbers.IsValidNumber(num) {
		return raw
	}
	return phonenumbers.Format(num, phonenumbers.E164)
}

func parseResponses(raw json.RawMessage) (Responses, error) {
	out := make(Responses)
	if isNull(raw) {
		return out, nil
	}
	obj, ok := object(raw)
	if !ok {
		return nil, fmt.Errorf("%w: responses is not an object", ErrMalformed)
	}
	for key, val := range obj {
		q, ok := questionNumber(key)
		if !ok {
			continue
		}
		if resp, ok := parseResponse(val); ok {
			out[q] = resp
		}
	}
	return out, nil
}

// questionNumber accepts "q12", "Q12" and "12".
func questionNumber(key string) (int, bool) {
	key = strings.TrimPrefix(strings.ToLower(strings.TrimSpace(key)), "q")
	q, err := strconv.Atoi(key)
	if err != nil || q < 1 || q > QuestionCount {
		return 0, false
	}
	return q, true
}

func parseResponse(raw json.RawMessage) (Response, bool) {
	var resp Response
	var score float64
	var ok bool
	if obj, isObj := object(raw); isObj {
		for _, k := range []string{"score", "value", "answer"} {
			if score, ok = number(obj[k]); ok {
				break
			}
		}
		for _, k := range []string{"question", "questionText", "text"} {
			if resp.Question = str(obj[k]); resp.Question != "" {
				break
			}
		}
	} else {
		score, ok = number(raw)
	}
	if !ok || score != math.Trunc(score) || score < MinScore || score > MaxScore {
		return Response{}, false
	}
	resp.Score = int(score)
	return resp, true
}

func parseGroupScores(raw json.RawMessage) map[string]GroupScore {
	obj, ok := object(raw)
	if !ok || len(obj) == 0 {
		return nil
	}
	out := make(map[string]GroupScore, len(obj))
	for name, val := range obj {
		g, ok := object(val)
		if !ok {
			continue
		}
		total, ok := number(g["total"])
		if !ok {
			continue
		}
		gs := GroupScore{Total: total, Category: str(g["category"])}
		gs.Max, _ = number(g["max"])
		if pct, ok := number(g["percentage"]); ok {
			gs.Percentage = pct
		} else if gs.Max > 0 {
			gs.Percentage = math.Round(total / gs.Max * 100)
		}
		gs.Average, _ = number(g["average"])
		if gs.Category == "" {
			if sg, ok := taxonomy.Default().Subgroup(name); ok {
				gs.Category = sg.Category
			}
		}
		out[strings.TrimSpace(name)] = gs
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// parseTime accepts ISO strings, {seconds, nanoseconds} objects and epoch
// numbers (seconds or milliseconds). Unknown shapes yield the zero time.
func parseTime(raw json.RawMessage) time.Time {
	if isNull(raw) {
		return time.Time{}
	}
	if obj, ok := object(raw); ok {
		sec, ok := number(obj["seconds"])
		if !ok {
			sec, ok = number(obj["_seconds"])
		}
		if !ok {
			return time.Time{}
		}
		nsec, found := number(obj["nanoseconds"])
		if !found {
			nsec, _ = number(obj["_nanoseconds"])
		}
		return time.Unix(int64(sec), int64(nsec)).UTC()
	}
	if v, ok := number(raw); ok {
		return fromEpoch(v)
	}
	return parseTimeString(str(raw))
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
	DateLayout,
	"02/01/2006",
}

func parseTimeString(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}

func fromEpoch(v float64) time.Time {
	if v <= 0 {
		return time.Time{}
	}
	if v >= epochMillisThreshold {
		return time.UnixMilli(int64(v)).UTC()
	}
	return time.Unix(int64(v), 0).UTC()
}

// parseDate reduces a date-ish value to YYYY-MM-DD. A leading ISO date is
// taken verbatim so the clinical day is not shifted by a zone offset.
func parseDate(raw json.RawMessage) string {
	s := str(raw)
	if len(s) >= len(DateLayout) {
		if _, err := time.Parse(DateLayout, s[:len(DateLayout)]); err == nil {
			return s[:len(DateLayout)]
		}
	}
	if t := parseTime(raw); !t.IsZero() {
		return t.Format(DateLayout)
	}
	return ""
}

func isNull(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) == 0 || bytes.Equal(raw, []byte("null"))
}

func object(raw json.RawMessage) (fields, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || raw[0] != '{' {
		return nil, false
	}
	var f fields
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, false
	}
	return f, true
}

func str(raw json.RawMessage) string {
	if isNull(raw) {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return strings.TrimSpace(s)
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}

func number(raw json.RawMessage) (float64, bool) {
	if isNull(raw) {
		return 0, false
	}
	var v float64
	if err := json.Unmarshal(raw, &v); err == nil {
		return v, true
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.Replace(strings.TrimSpace(s), ",", ".", 1), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false
	}
	return v, true
}

func boolean(raw json.RawMessage) bool {
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return b
	}
	return strings.EqualFold(str(raw), "true")
}
