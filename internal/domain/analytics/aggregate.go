package analytics

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/okian/evalsync/internal/domain/identity"
	"github.com/okian/evalsync/internal/domain/model"
	"github.com/okian/evalsync/internal/domain/scoring"
	"github.com/okian/evalsync/internal/domain/taxonomy"
)

// Grouping selects how evaluations are bucketed into rows.
type Grouping string

const (
	GroupByPatient   Grouping = "patient"
	GroupByEvaluator Grouping = "evaluator"
	GroupByCategory  Grouping = "category"
	GroupBySubgroup  Grouping = "subgroup"
	GroupByMonth     Grouping = "month"
)

// Metric selects the value rows are sorted by, descending.
type Metric string

const (
	MetricAveragePercent Metric = "averagePercent"
	MetricAverageScore   Metric = "averageScore"
	MetricCount          Metric = "count"
	MetricLastScore      Metric = "lastScore"
)

// Labels for groups whose source field is empty.
const (
	UnknownPatient   = "Paciente não informado"
	UnknownEvaluator = "Avaliador não informado"
	UnknownCategory  = "Categoria não informada"
)

// ParseGrouping maps a query value to a Grouping. Empty means patient.
func ParseGrouping(s string) (Grouping, error) {
	switch g := Grouping(strings.TrimSpace(s)); g {
	case "":
		return GroupByPatient, nil
	case GroupByPatient, GroupByEvaluator, GroupByCategory, GroupBySubgroup, GroupByMonth:
		return g, nil
	default:
		return "", fmt.Errorf("%w: unknown grouping %q", ErrInvalidFilter, s)
	}
}

// ParseMetric maps a query value to a Metric. Empty means averagePercent.
func ParseMetric(s string) (Metric, error) {
	switch m := Metric(strings.TrimSpace(s)); m {
	case "":
		return MetricAveragePercent, nil
	case MetricAveragePercent, MetricAverageScore, MetricCount, MetricLastScore:
		return m, nil
	default:
		return "", fmt.Errorf("%w: unknown metric %q", ErrInvalidFilter, s)
	}
}

// Row is one group's metrics. Percentages are 0..100.
type Row struct {
	ID             string            `json:"id"`
	Label          string            `json:"label"`
	Count          int               `json:"count"`
	TotalScore     float64           `json:"totalScore"`
	MaxScore       float64           `json:"maxScore"`
	AveragePercent float64           `json:"averagePercent"`
	AverageScore   float64           `json:"averageScore"`
	FirstDate      string            `json:"firstDate,omitempty"`
	LastDate       string            `json:"lastDate,omitempty"`
	LastScore      float64           `json:"lastScore"`
	Trend          float64           `json:"trend"`
	Metadata       map[string]string `json:"metadata,omitempty"`
}

func (r Row) value(m Metric) float64 {
	switch m {
	case MetricAverageScore:
		return r.AverageScore
	case MetricCount:
		return float64(r.Count)
	case MetricLastScore:
		return r.LastScore
	default:
		return r.AveragePercent
	}
}

type point struct {
	day     time.Time
	dated   bool
	percent float64
}

type bucket struct {
	row    Row
	points []point
}

// buckets keeps rows in first-seen order.
type buckets struct {
	order []*bucket
	byKey map[string]*bucket
}

func newBuckets() *buckets {
	return &buckets{byKey: make(map[string]*bucket)}
}

func (b *buckets) get(key, label string, meta map[string]string) *bucket {
	if bk, ok := b.byKey[key]; ok {
		return bk
	}
	bk := &bucket{row: Row{ID: key, Label: label, Metadata: meta}}
	b.byKey[key] = bk
	b.order = append(b.order, bk)
	return bk
}

func (bk *bucket) add(total, limit float64, day time.Time, dated bool) {
	bk.row.Count++
	bk.row.TotalScore += total
	bk.row.MaxScore += limit
	if limit > 0 {
		bk.points = append(bk.points, point{day: day, dated: dated, percent: scoring.Percent(total, limit)})
	}
}

// finalize derives averages, dates, lastScore and trend. Points are ordered
// undated first, then chronologically.
func (bk *bucket) finalize() Row {
	r := bk.row
	r.AveragePercent = scoring.Percent(r.TotalScore, r.MaxScore)
	if r.Count > 0 {
		r.AverageScore = r.TotalScore / float64(r.Count)
	}

	pts := bk.points
	sort.SliceStable(pts, func(i, j int) bool {
		if pts[i].dated != pts[j].dated {
			return !pts[i].dated
		}
		return pts[i].day.Before(pts[j].day)
	})

	r.LastScore = r.AveragePercent
	if len(pts) > 0 {
		r.LastScore = pts[len(pts)-1].percent
	}

	var dated []point
	for _, p := range pts {
		if p.dated {
			dated = append(dated, p)
		}
	}
	if len(dated) > 0 {
		r.FirstDate = dated[0].day.Format(model.DateLayout)
		r.LastDate = dated[len(dated)-1].day.Format(model.DateLayout)
	}
	if len(dated) >= 2 {
		r.Trend = dated[len(dated)-1].percent - dated[0].percent
	}
	return r
}

// Aggregate reduces records into rows for grouping, sorted by metric
// descending. Ties keep first-seen order.
func Aggregate(records []model.EvaluationRecord, grouping Grouping, metric Metric) []Row {
	b := newBuckets()
	switch grouping {
	case GroupByCategory:
		aggregateGroups(b, records, true)
	case GroupBySubgroup:
		aggregateGroups(b, records, false)
	default:
		aggregateEvaluations(b, records, grouping)
	}

	rows := make([]Row, 0, len(b.order))
	for _, bk := range b.order {
		rows = append(rows, bk.finalize())
	}
	Sort(rows, metric)
	return rows
}

// Sort orders rows by metric descending, keeping the order of ties.
func Sort(rows []Row, metric Metric) {
	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].value(metric) > rows[j].value(metric)
	})
}

func aggregateEvaluations(b *buckets, records []model.EvaluationRecord, grouping Grouping) {
	for _, rec := range records {
		day, dated := rec.EvaluatedOn()
		var key, label string
		switch grouping {
		case GroupByMonth:
			if !dated {
				continue
			}
			key, label = day.Format("2006-01"), MonthLabel(day)
		case GroupByEvaluator:
			label = labelOr(rec.EvaluatorInfo.Name, UnknownEvaluator)
			key = identity.PatientKey(label)
		default:
			label = labelOr(rec.PatientInfo.Name, UnknownPatient)
			key = identity.PatientKey(label)
		}
		s := scoring.Extract(rec)
		b.get(key, label, nil).add(s.Total, s.Max, day, dated)
	}
}

// aggregateGroups counts one point per (group, evaluation): an evaluation
// contributes once to a category no matter how many subgroups it has there.
func aggregateGroups(b *buckets, records []model.EvaluationRecord, byCategory bool) {
	catalog := taxonomy.Default()
	for _, rec := range records {
		day, dated := rec.EvaluatedOn()

		names := make([]string, 0, len(rec.GroupScores))
		for name := range rec.GroupScores {
			names = append(names, name)
		}
		sort.SliceStable(names, func(i, j int) bool {
			ri, rj := catalog.SubgroupRank(names[i]), catalog.SubgroupRank(names[j])
			if ri != rj {
				return ri < rj
			}
			return names[i] < names[j]
		})

		type acc struct {
			bk           *bucket
			total, limit float64
		}
		var touched []*acc
		accs := make(map[string]*acc)
		for _, name := range names {
			gs := rec.GroupScores[name]
			category := labelOr(gs.Category, UnknownCategory)

			var key, label string
			var meta map[string]string
			if byCategory {
				key, label = identity.PatientKey(category), category
				meta = map[string]string{"color": catalog.Color(category)}
			} else {
				key, label = identity.PatientKey(name), name
				if gs.Category != "" {
					label = name + " · " + gs.Category
				}
				meta = map[string]string{"category": category}
			}

			a, ok := accs[key]
			if !ok {
				a = &acc{bk: b.get(key, label, meta)}
				accs[key] = a
				touched = append(touched, a)
			}
			a.total += gs.Total
			a.limit += gs.Max
		}
		for _, a := range touched {
			a.bk.add(a.total, a.limit, day, dated)
		}
	}
}

func labelOr(s, fallback string) string {
	if s = strings.TrimSpace(s); s != "" {
		return s
	}
	return fallback
}

var monthNames = [...]string{
	"Janeiro", "Fevereiro", "Março", "Abril", "Maio", "Junho",
	"Julho", "Agosto", "Setembro", "Outubro", "Novembro", "Dezembro",
}

// MonthLabel renders t as a capitalized pt-BR month, e.g. "Março de 2024".
func MonthLabel(t time.Time) string {
	return fmt.Sprintf("%s de %d", monthNames[t.Month()-1], t.Year())
}
