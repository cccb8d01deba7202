// Package metrics provides Prometheus metrics for the evalsync service.
package metrics

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Default metrics configuration constants.
const (
	defaultRefreshInterval = 10 * time.Second
)

// Connection states exported on the connection_state gauge.
var connectionStates = []string{"checking", "connected", "offline", "error"} //nolint:gochecknoglobals // fixed label set

// Manager manages all Prometheus metrics for the evalsync service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	enabled          bool
	refreshInterval  time.Duration
	customLabels     map[string]string
	metricPrefix     string
	registry         prometheus.Registerer

	// Reconciliation
	syncRecords          *prometheus.CounterVec
	syncBatches          *prometheus.CounterVec
	dedupConsolidated    prometheus.Counter
	dedupRemoved         prometheus.Counter
	dedupDeleteErrors    prometheus.Counter
	evaluationsLoaded    *prometheus.GaugeVec
	evaluationsDeleted   *prometheus.CounterVec
	quarantinedDocuments prometheus.Counter

	// Remote store gateway
	connectionState     *prometheus.GaugeVec
	connectionChanges   prometheus.Counter
	remoteOperationTime *prometheus.HistogramVec
	remoteErrors        *prometheus.CounterVec

	// Local store scanner
	localScanEntries *prometheus.CounterVec
	localScanSkipped *prometheus.CounterVec

	// Refresh scheduling
	refreshRuns      *prometheus.CounterVec
	refreshCoalesced prometheus.Counter

	// Snapshot cache
	snapshotRebuildDuration prometheus.Histogram
	snapshotLastUnix        prometheus.Gauge
	snapshotHits            prometheus.Counter
	snapshotMisses          prometheus.Counter

	// Read models
	analyticsBuildLatency prometheus.Histogram
	analyticsRows         prometheus.Gauge
	pdiPlans              prometheus.Counter
	pdiEntries            prometheus.Histogram

	// Event bus
	busEvents          *prometheus.CounterVec
	busListenerFailure *prometheus.CounterVec

	// Intake queue
	queueSize              prometheus.Gauge
	queueCapacity          prometheus.Gauge
	queueUtilization       prometheus.Gauge
	queueEnqueueRate       prometheus.Counter
	queueDequeueRate       prometheus.Counter
	queueEnqueueErrors     prometheus.Counter
	queueProcessingLatency prometheus.Histogram

	// Intake workers
	workerActiveCount       prometheus.Gauge
	workerProcessingLatency prometheus.Histogram
	workerErrorRate         prometheus.Counter
	submissionsProcessed    *prometheus.CounterVec

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Errors
	errorRateByComponent *prometheus.CounterVec
	errorRateByType      *prometheus.CounterVec
	errorRateByEndpoint  *prometheus.CounterVec
	errorLatency         *prometheus.HistogramVec

	// System
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
	systemGCPauseTime    prometheus.Histogram
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // intentional global for singleton metrics manager

// discardManager receives observations while recording is switched off.
var discardManager *Manager //nolint:gochecknoglobals // paired with globalManager

var enabled atomic.Bool //nolint:gochecknoglobals // process-wide recording switch

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // intentional global for metrics registry

func init() { //nolint:gochecknoinits // intentional init for global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
	discardManager = NewManager(WithMetricsEnabled(false))
	enabled.Store(true)
}

// SetEnabled switches recording through the package helpers on or off.
// Series already exported keep their last values.
func SetEnabled(on bool) { enabled.Store(on) }

// Enabled reports whether the package helpers record.
func Enabled() bool { return enabled.Load() }

// RefreshInterval is how often gauge updaters should sample.
func RefreshInterval() time.Duration { return globalManager.refreshInterval }

func current() *Manager {
	if enabled.Load() {
		return globalManager
	}
	return discardManager
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "evalsync",
		subsystem:        "engine",
		histogramBuckets: prometheus.DefBuckets,
		enabled:          true,
		refreshInterval:  defaultRefreshInterval,
		customLabels:     make(map[string]string),
		metricPrefix:     "",
		registry:         prometheus.DefaultRegisterer,
	}

	for _, opt := range opts {
		opt(m)
	}
	// A disabled manager keeps its collectors on a registry nobody gathers.
	if !m.enabled {
		m.registry = prometheus.NewRegistry()
	}

	m.initializeMetrics()

	return m
}

func (m *Manager) name(n string) string {
	if m.metricPrefix == "" {
		return n
	}
	return m.metricPrefix + "_" + n
}

func (m *Manager) counter(name, help string) prometheus.Counter {
	return promauto.With(m.registry).NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(name), Help: help, ConstLabels: m.customLabels,
	})
}

func (m *Manager) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.With(m.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(name), Help: help, ConstLabels: m.customLabels,
	}, labels)
}

func (m *Manager) gauge(name, help string) prometheus.Gauge {
	return promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(name), Help: help, ConstLabels: m.customLabels,
	})
}

func (m *Manager) gaugeVec(name, help string, labels ...string) *prometheus.GaugeVec {
	return promauto.With(m.registry).NewGaugeVec(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(name), Help: help, ConstLabels: m.customLabels,
	}, labels)
}

func (m *Manager) histogram(name, help string, buckets []float64) prometheus.Histogram {
	return promauto.With(m.registry).NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(name), Help: help, ConstLabels: m.customLabels, Buckets: buckets,
	})
}

func (m *Manager) histogramVec(name, help string, buckets []float64, labels ...string) *prometheus.HistogramVec {
	return promauto.With(m.registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(name), Help: help, ConstLabels: m.customLabels, Buckets: buckets,
	}, labels)
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() { //nolint:funlen // long function required for comprehensive metrics initialization
	latencyBuckets := []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 15000}

	m.syncRecords = m.counterVec("sync_records_total", "Records handled by sync passes by outcome", "mode", "outcome")
	m.syncBatches = m.counterVec("sync_batches_total", "Sync passes by mode", "mode")
	m.dedupConsolidated = m.counter("dedup_groups_consolidated_total", "Duplicate groups consolidated into one remote record")
	m.dedupRemoved = m.counter("dedup_documents_removed_total", "Remote documents removed by consolidation")
	m.dedupDeleteErrors = m.counter("dedup_delete_errors_total", "Remote deletes that failed during consolidation")
	m.evaluationsLoaded = m.gaugeVec("evaluations_loaded", "Evaluations in the last merged view by provenance", "provenance")
	m.evaluationsDeleted = m.counterVec("evaluations_deleted_total", "Evaluations deleted by target store", "store")
	m.quarantinedDocuments = m.counter("quarantined_documents_total", "Remote documents that failed normalization")

	m.connectionState = m.gaugeVec("connection_state", "Remote store connectivity (1 for the current state)", "state")
	m.connectionChanges = m.counter("connection_changes_total", "Connectivity state transitions")
	m.remoteOperationTime = m.histogramVec("remote_operation_latency_milliseconds", "Remote store operation latency", latencyBuckets, "operation")
	m.remoteErrors = m.counterVec("remote_errors_total", "Remote store failures by operation and class", "operation", "class")

	m.localScanEntries = m.counterVec("local_scan_entries_total", "Local entries accepted by the scanner by origin", "origin")
	m.localScanSkipped = m.counterVec("local_scan_skipped_total", "Local entries skipped by the scanner by reason", "reason")

	m.refreshRuns = m.counterVec("refresh_runs_total", "Merged-view refreshes by trigger and result", "trigger", "result")
	m.refreshCoalesced = m.counter("refresh_coalesced_total", "Refresh requests that joined or skipped an in-flight refresh")

	m.snapshotRebuildDuration = m.histogram("snapshot_rebuild_duration_milliseconds", "Time to rebuild the merged snapshot", latencyBuckets)
	m.snapshotLastUnix = m.gauge("snapshot_last_unix", "Unix time of the last snapshot rebuild")
	m.snapshotHits = m.counter("snapshot_hits_total", "Snapshot cache hits")
	m.snapshotMisses = m.counter("snapshot_misses_total", "Snapshot cache misses")

	m.analyticsBuildLatency = m.histogram("analytics_build_latency_milliseconds", "Analytics aggregation latency", m.histogramBuckets)
	m.analyticsRows = m.gauge("analytics_rows", "Rows produced by the last analytics build")
	m.pdiPlans = m.counter("pdi_plans_total", "Intervention plans generated")
	m.pdiEntries = m.histogram("pdi_plan_entries", "Entries kept per intervention plan", []float64{0, 1, 5, 10, 20, 40, 80, 149})

	m.busEvents = m.counterVec("bus_events_total", "Events published on the in-process bus", "topic")
	m.busListenerFailure = m.counterVec("bus_listener_failures_total", "Bus listeners that panicked", "topic")

	m.queueSize = m.gauge("intake_queue_size", "Current number of queued submissions")
	m.queueCapacity = m.gauge("intake_queue_capacity", "Maximum capacity of the intake queue")
	m.queueUtilization = m.gauge("intake_queue_utilization_ratio", "Intake queue utilization (0-1)")
	m.queueEnqueueRate = m.counter("intake_queue_enqueue_total", "Submissions enqueued")
	m.queueDequeueRate = m.counter("intake_queue_dequeue_total", "Submissions dequeued")
	m.queueEnqueueErrors = m.counter("intake_queue_enqueue_errors_total", "Rejected enqueue attempts")
	m.queueProcessingLatency = m.histogram("intake_queue_processing_latency_milliseconds", "Enqueue latency", m.histogramBuckets)

	m.workerActiveCount = m.gauge("intake_worker_active_count", "Running intake workers")
	m.workerProcessingLatency = m.histogram("intake_worker_processing_latency_milliseconds", "Per-submission processing latency", latencyBuckets)
	m.workerErrorRate = m.counter("intake_worker_errors_total", "Intake worker failures")
	m.submissionsProcessed = m.counterVec("intake_submissions_total", "Processed submissions by destination", "destination")

	m.httpRequests = m.counterVec("http_requests_total", "Total number of HTTP requests", "endpoint", "method", "status_code")
	m.httpRequestDuration = m.histogramVec("http_request_duration_milliseconds", "HTTP request duration in milliseconds", m.histogramBuckets, "endpoint", "method", "status_code")

	m.errorRateByComponent = m.counterVec("errors_by_component_total", "Total number of errors by component", "component", "error_type")
	m.errorRateByType = m.counterVec("errors_by_type_total", "Total number of errors by type", "error_type", "severity")
	m.errorRateByEndpoint = m.counterVec("errors_by_endpoint_total", "Total number of errors by endpoint", "endpoint", "method", "error_type")
	m.errorLatency = m.histogramVec("error_latency_milliseconds", "Latency of operations that resulted in errors", m.histogramBuckets, "component", "error_type")

	m.systemMemoryUsage = m.gauge("system_memory_usage_bytes", "System memory usage in bytes")
	m.systemGoroutineCount = m.gauge("system_goroutine_count", "Number of goroutines")
	m.systemGCPauseTime = m.histogram("system_gc_pause_time_milliseconds", "GC pause time in milliseconds",
		[]float64{0.1, 0.5, 1, 2, 5, 10, 25, 50, 100, 250, 500, 1000})
}

// Reconciliation.

// RecordSyncRecord counts one record handled by a sync pass.
// mode is "pending" or "force"; outcome is "synced", "skipped" or "error".
func RecordSyncRecord(mode, outcome string) {
	current().syncRecords.WithLabelValues(mode, outcome).Inc()
}

// RecordSyncBatch counts one sync pass.
func RecordSyncBatch(mode string) {
	current().syncBatches.WithLabelValues(mode).Inc()
}

// RecordDedupConsolidated counts one consolidated duplicate group.
func RecordDedupConsolidated() {
	current().dedupConsolidated.Inc()
}

// RecordDedupRemoved counts removed remote documents.
func RecordDedupRemoved(n int) {
	current().dedupRemoved.Add(float64(n))
}

// RecordDedupDeleteError counts a failed delete during consolidation.
func RecordDedupDeleteError() {
	current().dedupDeleteErrors.Inc()
}

// UpdateEvaluationsLoaded sets the merged-view sizes.
func UpdateEvaluationsLoaded(remote, localOnly int) {
	current().evaluationsLoaded.WithLabelValues("remote").Set(float64(remote))
	current().evaluationsLoaded.WithLabelValues("local-only").Set(float64(localOnly))
}

// RecordEvaluationDeleted counts a deletion against "remote" or "local".
func RecordEvaluationDeleted(store string) {
	current().evaluationsDeleted.WithLabelValues(store).Inc()
}

// RecordQuarantinedDocument counts a remote document that failed normalization.
func RecordQuarantinedDocument() {
	current().quarantinedDocuments.Inc()
}

// Remote store gateway.

// UpdateConnectionState flags state as current and clears the others.
func UpdateConnectionState(state string) {
	for _, s := range connectionStates {
		v := 0.0
		if s == state {
			v = 1
		}
		current().connectionState.WithLabelValues(s).Set(v)
	}
}

// RecordConnectionChange counts a connectivity transition.
func RecordConnectionChange() {
	current().connectionChanges.Inc()
}

// RecordRemoteOperation records the latency of a remote store call.
func RecordRemoteOperation(operation string, latencyMs float64) {
	current().remoteOperationTime.WithLabelValues(operation).Observe(latencyMs)
}

// RecordRemoteError counts a remote failure; class is "unreachable", "permission" or "other".
func RecordRemoteError(operation, class string) {
	current().remoteErrors.WithLabelValues(operation, class).Inc()
}

// Local store scanner.

// RecordLocalScanEntry counts an accepted local entry.
func RecordLocalScanEntry(origin string) {
	current().localScanEntries.WithLabelValues(origin).Inc()
}

// RecordLocalScanSkipped counts a skipped local entry.
func RecordLocalScanSkipped(reason string) {
	current().localScanSkipped.WithLabelValues(reason).Inc()
}

// Refresh scheduling.

// RecordRefresh counts a refresh by trigger ("manual", "scheduled") and result.
func RecordRefresh(trigger, result string) {
	current().refreshRuns.WithLabelValues(trigger, result).Inc()
}

// RecordRefreshCoalesced counts a refresh that reused or skipped an in-flight one.
func RecordRefreshCoalesced() {
	current().refreshCoalesced.Inc()
}

// Snapshot cache.

// RecordSnapshotRebuild records the duration of a snapshot rebuild.
func RecordSnapshotRebuild(d time.Duration) {
	current().snapshotRebuildDuration.Observe(float64(d.Milliseconds()))
	current().snapshotLastUnix.Set(float64(time.Now().Unix()))
}

// RecordSnapshotHit counts a cache hit.
func RecordSnapshotHit() {
	current().snapshotHits.Inc()
}

// RecordSnapshotMiss counts a cache miss.
func RecordSnapshotMiss() {
	current().snapshotMisses.Inc()
}

// Read models.

// RecordAnalyticsBuild records one analytics aggregation.
func RecordAnalyticsBuild(latencyMs float64, rows int) {
	current().analyticsBuildLatency.Observe(latencyMs)
	current().analyticsRows.Set(float64(rows))
}

// RecordPdiPlan records one generated intervention plan.
func RecordPdiPlan(entries int) {
	current().pdiPlans.Inc()
	current().pdiEntries.Observe(float64(entries))
}

// Event bus.

// RecordBusEvent counts a published event.
func RecordBusEvent(topic string) {
	current().busEvents.WithLabelValues(topic).Inc()
}

// RecordBusListenerFailure counts a listener that panicked.
func RecordBusListenerFailure(topic string) {
	current().busListenerFailure.WithLabelValues(topic).Inc()
}

// Intake queue.

// UpdateQueueSize sets the current queue size.
func UpdateQueueSize(size int) {
	current().queueSize.Set(float64(size))
}

// UpdateQueueCapacity sets the maximum queue capacity.
func UpdateQueueCapacity(capacity int) {
	current().queueCapacity.Set(float64(capacity))
}

// UpdateQueueUtilization sets the queue utilization ratio.
func UpdateQueueUtilization(utilization float64) {
	current().queueUtilization.Set(utilization)
}

// RecordQueueEnqueue increments the enqueue counter.
func RecordQueueEnqueue() {
	current().queueEnqueueRate.Inc()
}

// RecordQueueDequeue increments the dequeue counter.
func RecordQueueDequeue() {
	current().queueDequeueRate.Inc()
}

// RecordQueueEnqueueError increments the enqueue error counter.
func RecordQueueEnqueueError() {
	current().queueEnqueueErrors.Inc()
}

// RecordQueueProcessingLatency records queue processing latency.
func RecordQueueProcessingLatency(latencyMs float64) {
	current().queueProcessingLatency.Observe(latencyMs)
}

// Intake workers.

// UpdateWorkerActiveCount sets the number of active workers.
func UpdateWorkerActiveCount(count int) {
	current().workerActiveCount.Set(float64(count))
}

// RecordWorkerProcessingLatency records worker processing latency.
func RecordWorkerProcessingLatency(latencyMs float64) {
	current().workerProcessingLatency.Observe(latencyMs)
}

// RecordWorkerError increments the worker error counter.
func RecordWorkerError() {
	current().workerErrorRate.Inc()
}

// RecordSubmissionProcessed counts a submission persisted to "local" or "remote".
func RecordSubmissionProcessed(destination string) {
	current().submissionsProcessed.WithLabelValues(destination).Inc()
}

// HTTP.

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	current().httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	current().httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// Errors.

// RecordErrorByComponent records an error with component and type labels.
func RecordErrorByComponent(component, errorType string) {
	current().errorRateByComponent.WithLabelValues(component, errorType).Inc()
}

// RecordErrorByType records an error with type and severity labels.
func RecordErrorByType(errorType, severity string) {
	current().errorRateByType.WithLabelValues(errorType, severity).Inc()
}

// RecordErrorByEndpoint records an error with endpoint, method, and error type labels.
func RecordErrorByEndpoint(endpoint, method, errorType string) {
	current().errorRateByEndpoint.WithLabelValues(endpoint, method, errorType).Inc()
}

// RecordErrorLatency records the latency of an operation that resulted in an error.
func RecordErrorLatency(component, errorType string, latencyMs float64) {
	current().errorLatency.WithLabelValues(component, errorType).Observe(latencyMs)
}

// System.

// UpdateSystemMemoryUsage sets the system memory usage in bytes.
func UpdateSystemMemoryUsage(bytes uint64) {
	current().systemMemoryUsage.Set(float64(bytes))
}

// UpdateSystemGoroutineCount sets the number of goroutines.
func UpdateSystemGoroutineCount(count int) {
	current().systemGoroutineCount.Set(float64(count))
}

// RecordSystemGCPauseTime records GC pause time in milliseconds.
func RecordSystemGCPauseTime(pauseMs float64) {
	current().systemGCPauseTime.Observe(pauseMs)
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
