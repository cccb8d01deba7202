package model_test

import (
	"errors"
	"testing"
	"time"

	"github.com/okian/evalsync/internal/domain/model"
	. "github.com/smartystreets/goconvey/convey"
)

func TestParse(t *testing.T) {
	Convey("Given stored evaluations in legacy shapes", t, func() {
		Convey("When responses mix numbers, strings and objects", func() {
			rec, err := model.Parse([]byte(`{
				"patientInfo": {"name": "  Ana Silva ", "evaluationDate": "2024-03-01"},
				"evaluatorInfo": {"name": "Dra. Paula", "email": " Paula@Clinic.COM ", "phone": "(11) 98765-4321"},
				"responses": {
					"q1": {"score": 4, "question": "Olha nos olhos"},
					"2": 3,
					"q3": "5",
					"q4": {"value": 2, "questionText": "Aponta"},
					"q5": 9,
					"q6": 2.5,
					"q150": 3,
					"foo": 1
				},
				"createdAt": "2024-03-01T10:00:00.000Z",
				"updatedAt": {"seconds": 1709300000, "nanoseconds": 0},
				"timestamp": 1709290000000
			}`))

			Convey("Then everything is normalized into one shape", func() {
				So(err, ShouldBeNil)
				So(rec.PatientInfo.Name, ShouldEqual, "Ana Silva")
				So(rec.PatientInfo.EvaluationDate, ShouldEqual, "2024-03-01")
				So(rec.EvaluatorInfo.Email, ShouldEqual, "paula@clinic.com")
				So(rec.EvaluatorInfo.Phone, ShouldEqual, "+5511987654321")

				So(len(rec.Responses), ShouldEqual, 4)
				So(rec.Responses[1], ShouldResemble, model.Response{Score: 4, Question: "Olha nos olhos"})
				So(rec.Responses[2].Score, ShouldEqual, 3)
				So(rec.Responses[3].Score, ShouldEqual, 5)
				So(rec.Responses[4], ShouldResemble, model.Response{Score: 2, Question: "Aponta"})

				So(rec.CreatedAt.Equal(time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)), ShouldBeTrue)
				So(rec.UpdatedAt.Unix(), ShouldEqual, 1709300000)
				So(rec.SavedAt.UnixMilli(), ShouldEqual, 1709290000000)
			})

			Convey("Then legacy derived fields are filled in", func() {
				So(rec.TotalScore, ShouldEqual, 14)
				gs, ok := rec.GroupScores["Contato Visual"]
				So(ok, ShouldBeTrue)
				So(gs.Total, ShouldEqual, 14)
				So(gs.Max, ShouldEqual, 20)
				So(gs.Percentage, ShouldEqual, 70)
				So(gs.Average, ShouldEqual, 3.5)
				So(gs.Category, ShouldEqual, "Habilidades Comunicativas")
			})
		})

		Convey("When totalScore and groupScores are stored", func() {
			rec, err := model.Parse([]byte(`{
				"patientInfo": {"name": "Bruno"},
				"responses": {"q41": 5},
				"groupScores": {"Expressão Facial": {"total": "5", "max": 50}},
				"totalScore": 99
			}`))

			Convey("Then stored values win and gaps are computed", func() {
				So(err, ShouldBeNil)
				So(rec.TotalScore, ShouldEqual, 99)
				So(rec.GroupScores["Expressão Facial"].Percentage, ShouldEqual, 10)
				So(rec.GroupScores["Expressão Facial"].Category, ShouldEqual, "Habilidades Sociais")
			})
		})

		Convey("When totalScore is missing but groupScores exist", func() {
			rec, err := model.Parse([]byte(`{
				"patientName": "Carla",
				"groupScores": {"Brincar": {"total": 30, "max": 50}, "Imitação": {"total": 12, "max": 50}}
			}`))

			Convey("Then the total is the sum of group totals", func() {
				So(err, ShouldBeNil)
				So(rec.PatientInfo.Name, ShouldEqual, "Carla")
				So(rec.TotalScore, ShouldEqual, 42)
			})
		})

		Convey("When dates come in other formats", func() {
			cases := []struct {
				raw  string
				want string
			}{
				{`"2024-03-05T23:30:00-03:00"`, "2024-03-05"},
				{`"05/03/2024"`, "2024-03-05"},
				{`1709596800000`, "2024-03-05"},
				{`"not a date"`, ""},
			}
			for _, tc := range cases {
				rec, err := model.Parse([]byte(`{"patientInfo": {"name": "X", "evaluationDate": ` + tc.raw + `}}`))
				So(err, ShouldBeNil)
				So(rec.PatientInfo.EvaluationDate, ShouldEqual, tc.want)
			}
		})

		Convey("When the patient name is missing", func() {
			_, err := model.Parse([]byte(`{"patientInfo": {"name": "   "}, "responses": {}}`))

			Convey("Then the record is rejected", func() {
				So(errors.Is(err, model.ErrMissingPatient), ShouldBeTrue)
			})
		})

		Convey("When the payload is not an object", func() {
			for _, raw := range []string{``, `[]`, `"text"`, `{"patientInfo":`} {
				_, err := model.Parse([]byte(raw))
				So(errors.Is(err, model.ErrMalformed), ShouldBeTrue)
			}
		})

		Convey("When responses is not an object", func() {
			_, err := model.Parse([]byte(`{"patientInfo": {"name": "X"}, "responses": [1, 2]}`))

			Convey("Then the record is rejected", func() {
				So(errors.Is(err, model.ErrMalformed), ShouldBeTrue)
			})
		})

		Convey("When the phone cannot be parsed", func() {
			rec, err := model.Parse([]byte(`{"patientInfo": {"name": "X"}, "evaluatorInfo": {"phone": " ramal 12 "}}`))

			Convey("Then the trimmed input is kept", func() {
				So(err, ShouldBeNil)
				So(rec.EvaluatorInfo.Phone, ShouldEqual, "ramal 12")
			})
		})
	})
}

func TestPayload(t *testing.T) {
	Convey("Given a merged record", t, func() {
		rec := model.EvaluationRecord{
			ID:             "local-key",
			EvaluationID:   "ana_silva_2024-03-01_1709287200",
			PatientInfo:    model.PatientInfo{Name: "Ana Silva", EvaluationDate: "2024-03-01"},
			Responses:      model.Responses{7: {Score: 3}},
			TotalScore:     3,
			CreatedAt:      time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
			SyncedToRemote: true,
			RemoteID:       "x",
			Provenance:     model.ProvenanceLocalOnly,
			Origin:         "localStorage-backup",
		}

		Convey("When rendering the remote payload", func() {
			payload, err := rec.Payload()

			Convey("Then bookkeeping fields are stripped", func() {
				So(err, ShouldBeNil)
				for _, k := range []string{"id", "source", "origin", "syncedToRemote", "remoteId"} {
					_, present := payload[k]
					So(present, ShouldBeFalse)
				}
				So(payload["evaluationId"], ShouldEqual, rec.EvaluationID)
				So(payload["createdAt"], ShouldEqual, "2024-03-01T10:00:00.000Z")
				responses := payload["responses"].(map[string]any)
				So(responses["q7"], ShouldResemble, map[string]any{"score": float64(3)})
			})

			Convey("Then the payload normalizes back to the same record", func() {
				back, err := model.FromDocument("doc-1", payload)
				So(err, ShouldBeNil)
				So(back.ID, ShouldEqual, "doc-1")
				So(back.EvaluationID, ShouldEqual, rec.EvaluationID)
				So(back.Responses, ShouldResemble, rec.Responses)
				So(back.CreatedAt.Equal(rec.CreatedAt), ShouldBeTrue)
			})
		})

		Convey("When rendering the local copy", func() {
			raw, err := rec.LocalJSON()
			So(err, ShouldBeNil)
			back, err := model.Parse(raw)

			Convey("Then sync marks survive and provenance does not", func() {
				So(err, ShouldBeNil)
				So(back.SyncedToRemote, ShouldBeTrue)
				So(back.RemoteID, ShouldEqual, "x")
				So(back.Provenance, ShouldEqual, model.Provenance(""))
				So(back.Origin, ShouldEqual, "")
			})
		})
	})
}

func TestRecordHelpers(t *testing.T) {
	Convey("Given records with partial timestamps", t, func() {
		created := time.Date(2024, 3, 1, 22, 0, 0, 0, time.UTC)
		updated := created.Add(time.Hour)

		Convey("Then LastModified prefers updatedAt", func() {
			So(model.EvaluationRecord{CreatedAt: created, UpdatedAt: updated}.LastModified(), ShouldEqual, updated)
			So(model.EvaluationRecord{CreatedAt: created}.LastModified(), ShouldEqual, created)
		})

		Convey("Then EvaluatedOn prefers the clinical date", func() {
			d, ok := model.EvaluationRecord{PatientInfo: model.PatientInfo{EvaluationDate: "2024-02-10"}, CreatedAt: created}.EvaluatedOn()
			So(ok, ShouldBeTrue)
			So(d.Format(model.DateLayout), ShouldEqual, "2024-02-10")

			d, ok = model.EvaluationRecord{SavedAt: created}.EvaluatedOn()
			So(ok, ShouldBeTrue)
			So(d.Format(model.DateLayout), ShouldEqual, "2024-03-01")

			_, ok = model.EvaluationRecord{}.EvaluatedOn()
			So(ok, ShouldBeFalse)
		})

		Convey("Then Clone does not share maps", func() {
			rec := model.EvaluationRecord{
				Responses:   model.Responses{1: {Score: 1}},
				GroupScores: map[string]model.GroupScore{"Brincar": {Total: 1}},
			}
			cp := rec.Clone()
			cp.Responses[1] = model.Response{Score: 5}
			cp.GroupScores["Brincar"] = model.GroupScore{Total: 9}
			So(rec.Responses[1].Score, ShouldEqual, 1)
			So(rec.GroupScores["Brincar"].Total, ShouldEqual, 1)
		})

		Convey("Then Responses reports questions in order", func() {
			r := model.Responses{30: {Score: 2}, 2: {Score: 3}, 11: {Score: 1}}
			So(r.Questions(), ShouldResemble, []int{2, 11, 30})
			So(r.Sum(), ShouldEqual, 6)
		})
	})
}
