package analytics_test

import (
	"errors"
	"testing"
	"time"

	"github.com/okian/evalsync/internal/domain/analytics"
	"github.com/okian/evalsync/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

// evaluation builds a record whose percentage is total/100.
func evaluation(id, patient, evaluator, date string, total float64) model.EvaluationRecord {
	return model.EvaluationRecord{
		ID:            id,
		PatientInfo:   model.PatientInfo{Name: patient, EvaluationDate: date},
		EvaluatorInfo: model.EvaluatorInfo{Name: evaluator},
		TotalScore:    total,
		GroupScores: map[string]model.GroupScore{
			"Brincar": {Total: total, Max: 100, Category: "Habilidades Sociais"},
		},
	}
}

func TestFilter(t *testing.T) {
	records := []model.EvaluationRecord{
		evaluation("1", "Ana Silva", "Paula", "2024-03-01", 40),
		evaluation("2", "ana silva ", "Rui", "2024-03-31", 70),
		evaluation("3", "Bruno", "Paula", "2024-04-01", 50),
		evaluation("4", "Bruno", "Paula", "", 50),
	}

	Convey("Given a set of evaluations", t, func() {
		Convey("When filtering by patient", func() {
			out, err := analytics.Filter{Patient: "ANA SILVA"}.Apply(records)
			So(err, ShouldBeNil)
			So(len(out), ShouldEqual, 2)
		})

		Convey("When filtering by evaluator", func() {
			out, err := analytics.Filter{Evaluator: "paula"}.Apply(records)
			So(err, ShouldBeNil)
			So(len(out), ShouldEqual, 3)
		})

		Convey("When filtering by an inclusive date range", func() {
			out, err := analytics.Filter{From: "2024-03-01", To: "2024-03-31"}.Apply(records)

			Convey("Then both bounds are included and undated records dropped", func() {
				So(err, ShouldBeNil)
				So(len(out), ShouldEqual, 2)
				So(out[0].ID, ShouldEqual, "1")
				So(out[1].ID, ShouldEqual, "2")
			})
		})

		Convey("When the range only has a lower bound", func() {
			out, err := analytics.Filter{From: "2024-04-01"}.Apply(records)
			So(err, ShouldBeNil)
			So(len(out), ShouldEqual, 1)
		})

		Convey("When dates are invalid", func() {
			_, err := analytics.Filter{From: "01/03/2024"}.Apply(records)
			So(errors.Is(err, analytics.ErrInvalidFilter), ShouldBeTrue)
			So(errors.Is(analytics.Filter{From: "2024-03-02", To: "2024-03-01"}.Validate(), analytics.ErrInvalidFilter), ShouldBeTrue)
		})
	})
}

func TestAggregate(t *testing.T) {
	Convey("Given a patient evaluated twice", t, func() {
		records := []model.EvaluationRecord{
			evaluation("2", "Ana Silva", "Paula", "2024-05-01", 70),
			evaluation("1", "Ana Silva", "Paula", "2024-03-01", 40),
			evaluation("3", "Bruno", "", "2024-04-01", 90),
		}

		Convey("When grouping by patient", func() {
			rows := analytics.Aggregate(records, analytics.GroupByPatient, analytics.MetricCount)

			Convey("Then the trend runs from the first to the last date", func() {
				So(len(rows), ShouldEqual, 2)
				ana := rows[0]
				So(ana.Label, ShouldEqual, "Ana Silva")
				So(ana.Count, ShouldEqual, 2)
				So(ana.Trend, ShouldAlmostEqual, 30, 0.1)
				So(ana.LastScore, ShouldAlmostEqual, 70, 0.1)
				So(ana.AveragePercent, ShouldAlmostEqual, 55, 0.1)
				So(ana.AverageScore, ShouldAlmostEqual, 55, 0.1)
				So(ana.FirstDate, ShouldEqual, "2024-03-01")
				So(ana.LastDate, ShouldEqual, "2024-05-01")
			})

			Convey("Then a single evaluation has no trend", func() {
				So(rows[1].Trend, ShouldEqual, 0)
			})
		})

		Convey("When sorting by average percent", func() {
			rows := analytics.Aggregate(records, analytics.GroupByPatient, analytics.MetricAveragePercent)
			So(rows[0].Label, ShouldEqual, "Bruno")
		})

		Convey("When grouping by evaluator", func() {
			rows := analytics.Aggregate(records, analytics.GroupByEvaluator, analytics.MetricCount)
			So(rows[0].Label, ShouldEqual, "Paula")
			So(rows[1].Label, ShouldEqual, analytics.UnknownEvaluator)
		})

		Convey("When grouping by month", func() {
			undated := evaluation("4", "Caio", "", "", 10)
			rows := analytics.Aggregate(append(records, undated), analytics.GroupByMonth, analytics.MetricCount)

			Convey("Then rows are keyed by month and undated records skipped", func() {
				So(len(rows), ShouldEqual, 3)
				labels := map[string]string{}
				for _, r := range rows {
					labels[r.ID] = r.Label
				}
				So(labels["2024-03"], ShouldEqual, "Março de 2024")
				So(labels["2024-05"], ShouldEqual, "Maio de 2024")
			})
		})
	})

	Convey("Given evaluations with several subgroups", t, func() {
		rec := model.EvaluationRecord{
			ID:          "1",
			PatientInfo: model.PatientInfo{Name: "Ana", EvaluationDate: "2024-03-01"},
			GroupScores: map[string]model.GroupScore{
				"Brincar":  {Total: 30, Max: 50, Category: "Habilidades Sociais"},
				"Imitação": {Total: 20, Max: 50, Category: "Habilidades Sociais"},
				"Legado":   {Total: 8, Max: 10},
			},
		}

		Convey("When grouping by category", func() {
			rows := analytics.Aggregate([]model.EvaluationRecord{rec}, analytics.GroupByCategory, analytics.MetricAveragePercent)

			Convey("Then the evaluation counts once per category", func() {
				So(len(rows), ShouldEqual, 2)
				So(rows[0].Label, ShouldEqual, analytics.UnknownCategory)
				So(rows[1].Label, ShouldEqual, "Habilidades Sociais")
				So(rows[1].Count, ShouldEqual, 1)
				So(rows[1].TotalScore, ShouldEqual, 50)
				So(rows[1].MaxScore, ShouldEqual, 100)
				So(rows[1].Metadata["color"], ShouldEqual, "#4facfe")
			})
		})

		Convey("When grouping by subgroup", func() {
			rows := analytics.Aggregate([]model.EvaluationRecord{rec}, analytics.GroupBySubgroup, analytics.MetricAveragePercent)

			Convey("Then labels carry the category", func() {
				So(len(rows), ShouldEqual, 3)
				So(rows[0].Label, ShouldEqual, "Legado")
				So(rows[0].Metadata["category"], ShouldEqual, analytics.UnknownCategory)
				So(rows[1].Label, ShouldEqual, "Brincar · Habilidades Sociais")
				So(rows[1].Metadata["category"], ShouldEqual, "Habilidades Sociais")
				So(rows[2].Label, ShouldEqual, "Imitação · Habilidades Sociais")
			})
		})
	})

	Convey("Given unknown grouping and metric names", t, func() {
		_, err := analytics.ParseGrouping("weekday")
		So(err, ShouldNotBeNil)
		_, err = analytics.ParseMetric("median")
		So(err, ShouldNotBeNil)
		g, _ := analytics.ParseGrouping("")
		m, _ := analytics.ParseMetric("")
		So(g, ShouldEqual, analytics.GroupByPatient)
		So(m, ShouldEqual, analytics.MetricAveragePercent)
	})
}

func TestIndexAndReport(t *testing.T) {
	Convey("Given merged evaluations", t, func() {
		a1 := evaluation("doc-1", "Ana Silva", "Paula", "2024-03-01", 40)
		a1.EvaluationID = "ana_silva_2024-03-01_1709287200"
		a2 := evaluation("doc-2", "ANA SILVA", "Paula", "2024-05-01", 70)
		dup := evaluation("local-1", "Ana Silva", "Paula", "2024-03-01", 40)
		records := []model.EvaluationRecord{a1, a2, dup}

		Convey("When indexing", func() {
			ix := analytics.NewIndex(records)

			Convey("Then records resolve by either id", func() {
				r, ok := ix.ByID("doc-1")
				So(ok, ShouldBeTrue)
				r2, ok := ix.ByID(a1.EvaluationID)
				So(ok, ShouldBeTrue)
				So(r2.ID, ShouldEqual, r.ID)
				_, ok = ix.ByID("missing")
				So(ok, ShouldBeFalse)
			})

			Convey("Then patients group case-insensitively, newest first", func() {
				So(len(ix.Patients()), ShouldEqual, 1)
				p, ok := ix.Patient(" ana silva")
				So(ok, ShouldBeTrue)
				So(p.PatientID, ShouldEqual, "ana_silva")
				So(p.DisplayName, ShouldEqual, "Ana Silva")
				latest, _ := p.Latest()
				So(latest.ID, ShouldEqual, "doc-2")
			})
		})

		Convey("When building a report", func() {
			rep, err := analytics.Build(records, analytics.Query{}, nil)

			Convey("Then totals and duplicates are reported", func() {
				So(err, ShouldBeNil)
				So(rep.Query.Grouping, ShouldEqual, analytics.GroupByPatient)
				So(rep.Totals.TotalEvaluations, ShouldEqual, 3)
				So(rep.Totals.AveragePercent, ShouldAlmostEqual, 50, 0.1)
				So(len(rep.Duplicates), ShouldEqual, 1)
				So(rep.Duplicates[0].Key, ShouldEqual, "ana_silva_2024-03-01")
				So(rep.Duplicates[0].IDs, ShouldResemble, []string{"doc-1", "local-1"})
			})
		})

		Convey("When totals are computed over nothing", func() {
			So(analytics.ComputeTotals(nil), ShouldResemble, analytics.Totals{})
		})

		Convey("When month labels are rendered", func() {
			So(analytics.MonthLabel(time.Date(2024, 12, 1, 0, 0, 0, 0, time.UTC)), ShouldEqual, "Dezembro de 2024")
		})
	})
}
