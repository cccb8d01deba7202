package analytics

import (
	"github.com/okian/evalsync/internal/domain/identity"
	"github.com/okian/evalsync/internal/domain/model"
	"github.com/okian/evalsync/internal/domain/scoring"
)

// Totals summarizes a whole evaluation set.
type Totals struct {
	TotalEvaluations int     `json:"totalEvaluations"`
	AveragePercent   float64 `json:"averagePercent"`
}

// ComputeTotals returns the evaluation count and the pooled percentage.
func ComputeTotals(records []model.EvaluationRecord) Totals {
	var total, limit float64
	for _, rec := range records {
		s := scoring.Extract(rec)
		total += s.Total
		limit += s.Max
	}
	return Totals{
		TotalEvaluations: len(records),
		AveragePercent:   scoring.Percent(total, limit),
	}
}

// Duplicate is a comparison key shared by more than one record.
type Duplicate struct {
	Key   string   `json:"key"`
	Count int      `json:"count"`
	IDs   []string `json:"ids"`
}

// Duplicates lists the comparison keys that occur more than once, in
// first-seen order.
func Duplicates(records []model.EvaluationRecord, resolver *identity.Resolver) []Duplicate {
	if resolver == nil {
		resolver = identity.New()
	}
	var order []string
	ids := make(map[string][]string)
	for _, rec := range records {
		key := resolver.ComparisonKey(rec)
		if _, seen := ids[key]; !seen {
			order = append(order, key)
		}
		ids[key] = append(ids[key], rec.Key())
	}

	var out []Duplicate
	for _, key := range order {
		if n := len(ids[key]); n > 1 {
			out = append(out, Duplicate{Key: key, Count: n, IDs: ids[key]})
		}
	}
	return out
}

// Query is a complete analytics request.
type Query struct {
	Filter   Filter   `json:"filter"`
	Grouping Grouping `json:"grouping"`
	Metric   Metric   `json:"metric"`
}

// Report is the analytics view of a filtered evaluation set.
type Report struct {
	Query      Query       `json:"query"`
	Rows       []Row       `json:"rows"`
	Totals     Totals      `json:"totals"`
	Duplicates []Duplicate `json:"duplicates,omitempty"`
}

// Build filters records and aggregates them.
func Build(records []model.EvaluationRecord, q Query, resolver *identity.Resolver) (Report, error) {
	if q.Grouping == "" {
		q.Grouping = GroupByPatient
	}
	if q.Metric == "" {
		q.Metric = MetricAveragePercent
	}
	if err := q.Filter.Validate(); err != nil {
		return Report{}, err
	}
	filtered, err := q.Filter.Apply(records)
	if err != nil {
		return Report{}, err
	}
	return Report{
		Query:      q,
		Rows:       Aggregate(filtered, q.Grouping, q.Metric),
		Totals:     ComputeTotals(filtered),
		Duplicates: Duplicates(filtered, resolver),
	}, nil
}
