package pdi_test

import (
	"bytes"
	"encoding/csv"
	"testing"

	"github.com/okian/evalsync/internal/domain/model"
	"github.com/okian/evalsync/internal/domain/pdi"
	. "github.com/smartystreets/goconvey/convey"
)

func sample() model.EvaluationRecord {
	return model.EvaluationRecord{
		EvaluationID: "ana_silva_2024-03-01_1709287200",
		PatientInfo:  model.PatientInfo{Name: "Ana Silva", EvaluationDate: "2024-03-01"},
		Responses: model.Responses{
			2:   {Score: 3, Question: "Mantém contato visual"},
			1:   {Score: 1},
			3:   {Score: 5},
			45:  {Score: 2},
			120: {Score: 4},
		},
	}
}

func TestBuild(t *testing.T) {
	Convey("Given an answered evaluation", t, func() {
		rec := sample()

		Convey("When selecting all low scores", func() {
			plan := pdi.Build(rec, pdi.AllLowScores())

			Convey("Then entries are grouped in questionnaire order", func() {
				So(plan.Count, ShouldEqual, 3)
				So(len(plan.Categories), ShouldEqual, 2)
				So(plan.Categories[0].Name, ShouldEqual, "Habilidades Comunicativas")
				So(plan.Categories[0].Color, ShouldEqual, "#667eea")
				So(plan.Categories[1].Name, ShouldEqual, "Habilidades Sociais")

				visual := plan.Categories[0].Subgroups[0]
				So(visual.Name, ShouldEqual, "Contato Visual")
				So(len(visual.Entries), ShouldEqual, 2)
				So(visual.Entries[0].Question, ShouldEqual, 1)
				So(visual.Entries[0].Description, ShouldEqual, "Questão 1")
				So(visual.Entries[0].Level.Label, ShouldEqual, "Never/rarely")
				So(visual.Entries[1].Description, ShouldEqual, "Mantém contato visual")
			})

			Convey("Then subgroup stats cover every answered item", func() {
				visual := plan.Categories[0].Subgroups[0]
				So(visual.Total, ShouldEqual, 9)
				So(visual.Max, ShouldEqual, 15)
				So(visual.Percentage, ShouldEqual, 60)
			})

			Convey("Then Ranked orders by score", func() {
				ranked := plan.Ranked()
				So(ranked[0].Score, ShouldEqual, 1)
				So(ranked[1].Score, ShouldEqual, 2)
				So(ranked[2].Score, ShouldEqual, 3)
			})
		})

		Convey("When sets are combined", func() {
			plan := pdi.Build(rec, pdi.Selection{
				Scores:     []int{1, 2, 3, 4},
				Categories: []string{"habilidades emocionais", "Habilidades Sociais"},
				Subgroups:  []string{"flexibilidade"},
			})

			Convey("Then an entry must match every non-empty set", func() {
				So(plan.Count, ShouldEqual, 1)
				So(plan.Entries()[0].Question, ShouldEqual, 120)
				So(plan.Entries()[0].Subgroup, ShouldEqual, "Flexibilidade")
			})
		})

		Convey("When the selection is empty", func() {
			plan := pdi.Build(rec, pdi.Selection{})
			So(plan.Count, ShouldEqual, 5)
		})

		Convey("When nothing matches", func() {
			plan := pdi.Build(rec, pdi.Selection{Scores: []int{2}, Subgroups: []string{"Empatia"}})
			So(plan.Count, ShouldEqual, 0)
			So(plan.Categories, ShouldBeEmpty)
		})
	})
}

func TestWriteCSV(t *testing.T) {
	Convey("Given a plan", t, func() {
		plan := pdi.Build(sample(), pdi.AllLowScores())

		Convey("When exported as CSV", func() {
			var buf bytes.Buffer
			So(pdi.WriteCSV(&buf, plan), ShouldBeNil)
			rows, err := csv.NewReader(&buf).ReadAll()

			Convey("Then it has a header and one row per entry", func() {
				So(err, ShouldBeNil)
				So(len(rows), ShouldEqual, 4)
				So(rows[0][0], ShouldEqual, "Paciente")
				So(rows[1], ShouldResemble, []string{
					"Ana Silva", "2024-03-01", "Habilidades Comunicativas", "Contato Visual",
					"1", "Questão 1", "1", "Never/rarely",
				})
			})
		})
	})
}
