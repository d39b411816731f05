// Package metrics provides Prometheus metrics for the devpulse engine.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	defaultRefreshInterval = 10 * time.Second
)

// Manager owns every Prometheus collector registered by devpulse.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	enabled          bool
	refreshInterval  time.Duration
	customLabels     map[string]string
	metricPrefix     string
	registry         prometheus.Registerer

	// Ingestion
	eventsNormalized prometheus.Counter
	eventsDuplicate  prometheus.Counter
	eventsSkipped    prometheus.Counter
	fetchLatency     prometheus.Histogram
	fetchPartial     *prometheus.CounterVec

	// Recompute
	recomputeLatency   prometheus.Histogram
	recomputeErrors    prometheus.Counter
	recomputeCancelled prometheus.Counter
	singleFlightJoins  prometheus.Counter
	metricStatus       *prometheus.CounterVec

	// Cache
	cacheHits   prometheus.Counter
	cacheMisses prometheus.Counter
	cacheStale  prometheus.Counter
	cacheScopes prometheus.Gauge

	// Analytics
	anomaliesEmitted   *prometheus.CounterVec
	trainingRuns       *prometheus.CounterVec
	predictorVersion   *prometheus.GaugeVec
	gradeScore         *prometheus.GaugeVec
	snapshotsPersisted prometheus.Counter

	// Queue and workers
	queueSize          prometheus.Gauge
	queueCapacity      prometheus.Gauge
	queueEnqueueRate   prometheus.Counter
	queueDequeueRate   prometheus.Counter
	queueEnqueueErrors prometheus.Counter
	workerCount        prometheus.Gauge
	workerActiveCount  prometheus.Gauge
	workerLatency      prometheus.Histogram
	workerErrors       prometheus.Counter

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec

	// Errors
	errorRateByComponent *prometheus.CounterVec
	errorRateByEndpoint  *prometheus.CounterVec
}

var globalManager *Manager //nolint:gochecknoglobals // singleton metrics manager

var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // registry without default Go collectors

func init() { //nolint:gochecknoinits // global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a metrics manager and registers its collectors.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "devpulse",
		subsystem:        "engine",
		histogramBuckets: prometheus.DefBuckets,
		enabled:          true,
		refreshInterval:  defaultRefreshInterval,
		customLabels:     make(map[string]string),
		registry:         prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(m)
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
		Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(name), Help: help,
		ConstLabels: m.customLabels,
	})
}

func (m *Manager) gauge(name, help string) prometheus.Gauge {
	return promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(name), Help: help,
		ConstLabels: m.customLabels,
	})
}

func (m *Manager) histogram(name, help string) prometheus.Histogram {
	return promauto.With(m.registry).NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(name), Help: help,
		Buckets: m.histogramBuckets, ConstLabels: m.customLabels,
	})
}

func (m *Manager) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.With(m.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(name), Help: help,
		ConstLabels: m.customLabels,
	}, labels)
}

func (m *Manager) gaugeVec(name, help string, labels ...string) *prometheus.GaugeVec {
	return promauto.With(m.registry).NewGaugeVec(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name(name), Help: help,
		ConstLabels: m.customLabels,
	}, labels)
}

func (m *Manager) initializeMetrics() { //nolint:funlen // one place for every collector
	m.eventsNormalized = m.counter("events_normalized_total", "Canonical events produced by the normalizer")
	m.eventsDuplicate = m.counter("events_duplicate_total", "Raw events dropped because their provider id was already seen")
	m.eventsSkipped = m.counter("events_skipped_total", "Malformed raw events skipped during normalization")
	m.fetchLatency = m.histogram("fetch_latency_milliseconds", "Per-repository fetch latency in milliseconds")
	m.fetchPartial = m.counterVec("fetch_partial_total", "Repository fetches that timed out or failed", "reason")

	m.recomputeLatency = m.histogram("recompute_latency_milliseconds", "Scope recompute latency in milliseconds")
	m.recomputeErrors = m.counter("recompute_errors_total", "Scope recomputes that failed")
	m.recomputeCancelled = m.counter("recompute_cancelled_total", "Scope recomputes cancelled before persisting")
	m.singleFlightJoins = m.counter("singleflight_joins_total", "Callers attached to an in-flight recompute")
	m.metricStatus = m.counterVec("metric_status_total", "Computed metric outcomes by metric and status", "metric", "status")

	m.cacheHits = m.counter("cache_hits_total", "Fresh cache reads")
	m.cacheMisses = m.counter("cache_misses_total", "Cold cache reads that waited for a computation")
	m.cacheStale = m.counter("cache_stale_served_total", "Stale cache entries served while a refresh ran")
	m.cacheScopes = m.gauge("cache_scopes", "Scopes currently held in the cache")

	m.anomaliesEmitted = m.counterVec("anomalies_emitted_total", "Anomaly records appended", "method", "severity")
	m.trainingRuns = m.counterVec("predictor_training_total", "Predictor training outcomes", "outcome")
	m.predictorVersion = m.gaugeVec("predictor_active_version", "Active predictor version per scope", "scope")
	m.gradeScore = m.gaugeVec("grade_score", "Latest overall grade score per scope", "scope")
	m.snapshotsPersisted = m.counter("snapshots_persisted_total", "Metric snapshots appended to storage")

	m.queueSize = m.gauge("queue_size", "Recompute tasks waiting in the queue")
	m.queueCapacity = m.gauge("queue_capacity", "Recompute queue capacity")
	m.queueEnqueueRate = m.counter("queue_enqueued_total", "Recompute tasks enqueued")
	m.queueDequeueRate = m.counter("queue_dequeued_total", "Recompute tasks dequeued")
	m.queueEnqueueErrors = m.counter("queue_enqueue_errors_total", "Recompute tasks rejected by the queue")
	m.workerCount = m.gauge("worker_count", "Configured recompute workers")
	m.workerActiveCount = m.gauge("worker_active_count", "Workers currently running a recompute")
	m.workerLatency = m.histogram("worker_processing_latency_milliseconds", "Task processing latency in milliseconds")
	m.workerErrors = m.counter("worker_errors_total", "Tasks that returned an error")

	m.httpRequests = m.counterVec("http_requests_total", "HTTP requests by endpoint and method", "endpoint", "method", "status_code")
	m.httpRequestDuration = promauto.With(m.registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: m.name("http_request_duration_milliseconds"),
		Help: "HTTP request duration in milliseconds", Buckets: m.histogramBuckets, ConstLabels: m.customLabels,
	}, []string{"endpoint", "method", "status_code"})

	m.errorRateByComponent = m.counterVec("errors_by_component_total", "Errors by component and type", "component", "error_type")
	m.errorRateByEndpoint = m.counterVec("errors_by_endpoint_total", "Errors by endpoint", "endpoint", "method", "error_type")
}

// Ingestion.

// RecordEventsNormalized adds n canonical events.
func RecordEventsNormalized(n int) { globalManager.eventsNormalized.Add(float64(n)) }

// RecordEventsDuplicate adds n duplicate raw events.
func RecordEventsDuplicate(n int) { globalManager.eventsDuplicate.Add(float64(n)) }

// RecordEventsSkipped adds n malformed raw events.
func RecordEventsSkipped(n int) { globalManager.eventsSkipped.Add(float64(n)) }

// RecordFetchLatency records one repository fetch.
func RecordFetchLatency(latencyMs float64) { globalManager.fetchLatency.Observe(latencyMs) }

// RecordFetchPartial counts a repository fetch that did not complete.
func RecordFetchPartial(reason string) { globalManager.fetchPartial.WithLabelValues(reason).Inc() }

// Recompute.

// RecordRecomputeLatency records a finished scope recompute.
func RecordRecomputeLatency(latencyMs float64) { globalManager.recomputeLatency.Observe(latencyMs) }

// RecordRecomputeError counts a failed recompute.
func RecordRecomputeError() { globalManager.recomputeErrors.Inc() }

// RecordRecomputeCancelled counts a recompute discarded by cancellation.
func RecordRecomputeCancelled() { globalManager.recomputeCancelled.Inc() }

// RecordSingleFlightJoin counts a caller that attached to an in-flight task.
func RecordSingleFlightJoin() { globalManager.singleFlightJoins.Inc() }

// RecordMetricStatus counts one computed metric outcome.
func RecordMetricStatus(metric, status string) {
	globalManager.metricStatus.WithLabelValues(metric, status).Inc()
}

// Cache.

// RecordCacheHit counts a fresh read.
func RecordCacheHit() { globalManager.cacheHits.Inc() }

// RecordCacheMiss counts a cold read.
func RecordCacheMiss() { globalManager.cacheMisses.Inc() }

// RecordCacheStale counts a stale read.
func RecordCacheStale() { globalManager.cacheStale.Inc() }

// UpdateCacheScopes sets the number of cached scopes.
func UpdateCacheScopes(n int) { globalManager.cacheScopes.Set(float64(n)) }

// Analytics.

// RecordAnomalies counts appended anomaly records.
func RecordAnomalies(method, severity string, n int) {
	globalManager.anomaliesEmitted.WithLabelValues(method, severity).Add(float64(n))
}

// RecordTraining counts a training outcome (promoted, kept_prior, failed).
func RecordTraining(outcome string) { globalManager.trainingRuns.WithLabelValues(outcome).Inc() }

// UpdatePredictorVersion sets the active predictor version for a scope.
func UpdatePredictorVersion(scope string, version int) {
	globalManager.predictorVersion.WithLabelValues(scope).Set(float64(version))
}

// UpdateGradeScore sets the latest grade score for a scope.
func UpdateGradeScore(scope string, score float64) {
	globalManager.gradeScore.WithLabelValues(scope).Set(score)
}

// ForgetScope removes per-scope series.
func ForgetScope(scope string) {
	globalManager.predictorVersion.DeleteLabelValues(scope)
	globalManager.gradeScore.DeleteLabelValues(scope)
}

// RecordSnapshotPersisted counts an appended snapshot.
func RecordSnapshotPersisted() { globalManager.snapshotsPersisted.Inc() }

// Queue and workers.

// UpdateQueueSize sets the queue backlog.
func UpdateQueueSize(size int) { globalManager.queueSize.Set(float64(size)) }

// UpdateQueueCapacity sets the queue capacity.
func UpdateQueueCapacity(capacity int) { globalManager.queueCapacity.Set(float64(capacity)) }

// RecordQueueEnqueue increments the enqueue counter.
func RecordQueueEnqueue() { globalManager.queueEnqueueRate.Inc() }

// RecordQueueDequeue increments the dequeue counter.
func RecordQueueDequeue() { globalManager.queueDequeueRate.Inc() }

// RecordQueueEnqueueError increments the enqueue error counter.
func RecordQueueEnqueueError() { globalManager.queueEnqueueErrors.Inc() }

// UpdateWorkerCount sets the configured worker count.
func UpdateWorkerCount(count int) { globalManager.workerCount.Set(float64(count)) }

// AddWorkerActive moves the active worker gauge by delta.
func AddWorkerActive(delta int) { globalManager.workerActiveCount.Add(float64(delta)) }

// RecordWorkerProcessingLatency records task processing latency.
func RecordWorkerProcessingLatency(latencyMs float64) {
	globalManager.workerLatency.Observe(latencyMs)
}

// RecordWorkerError increments the worker error counter.
func RecordWorkerError() { globalManager.workerErrors.Inc() }

// HTTP.

// RecordHTTPRequest counts a served request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records request latency in milliseconds.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, duration float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(duration)
}

// Errors.

// RecordErrorByComponent records an error with component and type labels.
func RecordErrorByComponent(component, errorType string) {
	globalManager.errorRateByComponent.WithLabelValues(component, errorType).Inc()
}

// RecordErrorByEndpoint records an error with endpoint, method, and error type labels.
func RecordErrorByEndpoint(endpoint, method, errorType string) {
	globalManager.errorRateByEndpoint.WithLabelValues(endpoint, method, errorType).Inc()
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
