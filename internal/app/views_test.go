package service_test

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/okian/evalsync/internal/adapters/mq/bus"
	service "github.com/okian/evalsync/internal/app"
	"github.com/okian/evalsync/internal/domain/analytics"
	"github.com/okian/evalsync/internal/domain/pdi"
	. "github.com/smartystreets/goconvey/convey"
)

func TestAnalyticsViews(t *testing.T) {
	ctx := context.Background()

	Convey("Given evaluations of two patients", t, func() {
		h := newHarness()
		h.putRemote("a1", doc("Ana Silva", "2024-01-10", "", "", map[string]any{"q1": 1, "q2": 2}))
		h.putRemote("a2", doc("Ana Silva", "2024-02-10", "", "", map[string]any{"q1": 5, "q2": 5}))
		h.putRemote("b1", doc("Bruno", "2024-02-15", "", "", map[string]any{"q1": 3}))

		var topics []bus.Topic
		for _, topic := range []bus.Topic{bus.TopicAnalyticsUpdated, bus.TopicPdiGenerated, bus.TopicPdiExported, bus.TopicPatientSelected} {
			h.svc.Bus().On(topic, func(_ context.Context, e bus.Event) { topics = append(topics, e.Topic) })
		}

		Convey("When building a per-patient report", func() {
			report, err := h.svc.BuildAnalytics(ctx, analytics.Query{})

			Convey("Then one row per patient is returned", func() {
				So(err, ShouldBeNil)
				So(len(report.Rows), ShouldEqual, 2)
				So(report.Totals.TotalEvaluations, ShouldEqual, 3)
				So(topics, ShouldContain, bus.TopicAnalyticsUpdated)
			})
		})

		Convey("When the filter is inverted", func() {
			_, err := h.svc.BuildAnalytics(ctx, analytics.Query{Filter: analytics.Filter{From: "2024-03-01", To: "2024-01-01"}})

			Convey("Then the query is rejected", func() {
				So(errors.Is(err, service.ErrInvalidInput), ShouldBeTrue)
			})
		})

		Convey("When selecting a patient", func() {
			p, err := h.svc.SelectPatient(ctx, "ana silva")

			Convey("Then both evaluations are listed", func() {
				So(err, ShouldBeNil)
				So(len(p.Evaluations), ShouldEqual, 2)
				So(topics, ShouldContain, bus.TopicPatientSelected)
			})

			_, err = h.svc.SelectPatient(ctx, "nobody")
			So(errors.Is(err, service.ErrNotFound), ShouldBeTrue)
		})

		Convey("When building an intervention plan", func() {
			plan, err := h.svc.BuildPdiPlan(ctx, "a1", pdi.AllLowScores())

			Convey("Then the low answers are selected", func() {
				So(err, ShouldBeNil)
				So(plan.Count, ShouldEqual, 2)
				So(plan.Ranked()[0].Score, ShouldEqual, 1)
				So(topics, ShouldContain, bus.TopicPdiGenerated)
			})
		})

		Convey("When exporting a plan as CSV", func() {
			var buf bytes.Buffer
			err := h.svc.ExportPdiCSV(ctx, &buf, "a1", pdi.AllLowScores())

			Convey("Then a header and one line per entry are written", func() {
				So(err, ShouldBeNil)
				lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
				So(len(lines), ShouldEqual, 3)
				So(topics, ShouldContain, bus.TopicPdiExported)
			})
		})

		Convey("When asking for an unknown evaluation", func() {
			_, err := h.svc.BuildPdiPlan(ctx, "missing", pdi.AllLowScores())
			So(errors.Is(err, service.ErrNotFound), ShouldBeTrue)
			_, err = h.svc.SelectEvaluation(ctx, "missing")
			So(errors.Is(err, service.ErrNotFound), ShouldBeTrue)
		})
	})
}

func TestBackupToLocal(t *testing.T) {
	ctx := context.Background()

	Convey("Given remote evaluations", t, func() {
		h := newHarness()
		h.putRemote("a1", doc("Ana Silva", "2024-01-10", "", "", map[string]any{"q1": 1}))
		h.putRemote("b1", doc("Bruno", "2024-02-15", "", "", map[string]any{"q1": 3}))

		Convey("When backing up the merged set", func() {
			res, err := h.svc.BackupToLocal(ctx, nil, "")

			Convey("Then every record lands in one therapist backup", func() {
				So(err, ShouldBeNil)
				So(res.Count, ShouldEqual, 2)
				So(res.Key, ShouldStartWith, "backup_terapeuta_")
				raw, err := h.localStore.Get(ctx, res.Key)
				So(err, ShouldBeNil)
				So(string(raw), ShouldContainSubstring, `"backupSource":"manual"`)
			})

			Convey("Then the backup is not read back as pending data", func() {
				So(len(h.svc.Refresh(ctx)), ShouldEqual, 2)
			})
		})
	})
}
