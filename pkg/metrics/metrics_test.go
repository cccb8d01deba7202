package metrics

import (
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	. "github.com/smartystreets/goconvey/convey"
)

func TestMetricsManagerCreation(t *testing.T) {
	Convey("Given metrics manager creation", t, func() {
		Convey("When creating with default options on a private registry", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(WithPrometheusRegistry(registry))

			Convey("Then it is created and registers its series", func() {
				So(manager, ShouldNotBeNil)
				manager.dedupConsolidated.Inc()
				families, err := registry.Gather()
				So(err, ShouldBeNil)
				So(len(families), ShouldBeGreaterThan, 0)
			})
		})

		Convey("When creating with custom options", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(
				WithNamespace("test"),
				WithSubsystem("unit"),
				WithMetricPrefix("x"),
				WithHistogramBuckets([]float64{0.1, 0.5, 1.0}),
				WithRefreshInterval(20*time.Second),
				WithCustomLabels(map[string]string{"env": "test"}),
				WithPrometheusRegistry(registry),
			)
			manager.pdiPlans.Inc()

			Convey("Then names carry namespace, subsystem and prefix", func() {
				families, err := registry.Gather()
				So(err, ShouldBeNil)
				found := false
				for _, f := range families {
					if strings.HasPrefix(f.GetName(), "test_unit_x_") {
						found = true
					}
				}
				So(found, ShouldBeTrue)
				So(manager.refreshInterval, ShouldEqual, 20*time.Second)
			})
		})

		Convey("When creating a disabled manager", func() {
			registry := prometheus.NewRegistry()
			manager := NewManager(WithMetricsEnabled(false), WithPrometheusRegistry(registry))
			manager.dedupConsolidated.Inc()

			Convey("Then nothing is registered on the given registry", func() {
				families, err := registry.Gather()
				So(err, ShouldBeNil)
				So(families, ShouldBeEmpty)
			})
		})
	})
}

func TestMetricsSwitch(t *testing.T) {
	Convey("Given recording switched off", t, func() {
		series := globalManager.syncRecords.WithLabelValues("force", "error")
		before := testutil.ToFloat64(series)
		SetEnabled(false)
		RecordSyncRecord("force", "error")

		Convey("Then the exported series does not move", func() {
			So(Enabled(), ShouldBeFalse)
			So(testutil.ToFloat64(series), ShouldEqual, before)
		})

		Convey("Then switching back on records again", func() {
			SetEnabled(true)
			RecordSyncRecord("force", "error")
			So(testutil.ToFloat64(series), ShouldEqual, before+1)
		})

		Reset(func() {
			SetEnabled(true)
		})
	})
}

func TestMetricsRecording(t *testing.T) {
	Convey("Given the global manager", t, func() {
		Convey("When recording sync outcomes", func() {
			before := testutil.ToFloat64(globalManager.syncRecords.WithLabelValues("pending", "synced"))
			RecordSyncRecord("pending", "synced")
			RecordSyncRecord("pending", "synced")
			RecordSyncBatch("pending")

			Convey("Then the labelled counter advances", func() {
				after := testutil.ToFloat64(globalManager.syncRecords.WithLabelValues("pending", "synced"))
				So(after-before, ShouldEqual, 2)
			})
		})

		Convey("When updating the connection state", func() {
			UpdateConnectionState("offline")

			Convey("Then exactly one state is set", func() {
				So(testutil.ToFloat64(globalManager.connectionState.WithLabelValues("offline")), ShouldEqual, 1)
				So(testutil.ToFloat64(globalManager.connectionState.WithLabelValues("connected")), ShouldEqual, 0)
			})

			UpdateConnectionState("connected")
			So(testutil.ToFloat64(globalManager.connectionState.WithLabelValues("offline")), ShouldEqual, 0)
			So(testutil.ToFloat64(globalManager.connectionState.WithLabelValues("connected")), ShouldEqual, 1)
		})

		Convey("When updating loaded evaluations", func() {
			UpdateEvaluationsLoaded(7, 3)

			Convey("Then both provenances are exported", func() {
				So(testutil.ToFloat64(globalManager.evaluationsLoaded.WithLabelValues("remote")), ShouldEqual, 7)
				So(testutil.ToFloat64(globalManager.evaluationsLoaded.WithLabelValues("local-only")), ShouldEqual, 3)
			})
		})

		Convey("When recording the remaining series", func() {
			So(func() {
				RecordDedupConsolidated()
				RecordDedupRemoved(3)
				RecordDedupDeleteError()
				RecordEvaluationDeleted("remote")
				RecordQuarantinedDocument()
				RecordConnectionChange()
				RecordRemoteOperation("fetch_all", 12)
				RecordRemoteError("upsert", "unreachable")
				RecordLocalScanEntry("questionnaireData")
				RecordLocalScanSkipped("parse_error")
				RecordRefresh("manual", "ok")
				RecordRefreshCoalesced()
				RecordSnapshotRebuild(5 * time.Millisecond)
				RecordSnapshotHit()
				RecordSnapshotMiss()
				RecordAnalyticsBuild(1.5, 4)
				RecordPdiPlan(2)
				RecordBusEvent("data:synced")
				RecordBusListenerFailure("data:synced")
				UpdateQueueSize(1)
				UpdateQueueCapacity(10)
				UpdateQueueUtilization(0.1)
				RecordQueueEnqueue()
				RecordQueueDequeue()
				RecordQueueEnqueueError()
				RecordQueueProcessingLatency(0.2)
				UpdateWorkerActiveCount(2)
				RecordWorkerProcessingLatency(3)
				RecordWorkerError()
				RecordSubmissionProcessed("local")
				RecordHTTPRequest("/api/sync", "POST", "200")
				RecordHTTPRequestDuration("/api/sync", "POST", "200", 4)
				RecordErrorByComponent("remote", "timeout")
				RecordErrorByType("timeout", "high")
				RecordErrorByEndpoint("/api/sync", "POST", "server_error")
				RecordErrorLatency("http", "server_error", 9)
				UpdateSystemMemoryUsage(1 << 20)
				UpdateSystemGoroutineCount(12)
				RecordSystemGCPauseTime(0.3)
			}, ShouldNotPanic)
		})

		Convey("Then the custom registry is exposed", func() {
			So(GetRegistry(), ShouldNotBeNil)
			So(RefreshInterval(), ShouldEqual, defaultRefreshInterval)
		})
	})
}
