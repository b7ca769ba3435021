// Package metrics provides Prometheus metrics for the wordchain service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Default metrics configuration constants.
const (
	defaultRefreshInterval = 10 * time.Second
)

// Manager manages all Prometheus metrics for the wordchain service.
type Manager struct {
	namespace        string
	subsystem        string
	histogramBuckets []float64
	refreshInterval  time.Duration
	constLabels      prometheus.Labels
	registry         prometheus.Registerer

	// Score tracking
	increments        *prometheus.CounterVec
	incrementLatency  prometheus.Histogram
	registrations     *prometheus.CounterVec
	registeredRegions prometheus.Gauge
	movingRegions     prometheus.Gauge
	duplicateRequests prometheus.Counter

	// Clear jobs
	clearJobsScheduled prometheus.Counter
	clearJobsExecuted  *prometheus.CounterVec
	clearJobsRetried   prometheus.Counter
	clearJobsDead      prometheus.Counter
	clearJobsByStatus  *prometheus.GaugeVec
	clearLag           prometheus.Histogram

	// Queue
	queueSize          prometheus.Gauge
	queueCapacity      prometheus.Gauge
	queueEnqueue       prometheus.Counter
	queueDequeue       prometheus.Counter
	queueEnqueueErrors *prometheus.CounterVec

	// Workers
	workerCount             prometheus.Gauge
	workerProcessingLatency prometheus.Histogram
	workerErrors            prometheus.Counter

	// Word lookups
	wordLookups *prometheus.CounterVec

	// HTTP
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	httpErrors          *prometheus.CounterVec

	// Store
	storeLatency *prometheus.HistogramVec
	storeErrors  *prometheus.CounterVec

	// System
	systemMemoryUsage    prometheus.Gauge
	systemGoroutineCount prometheus.Gauge
}

// Global metrics manager instance.
var globalManager *Manager //nolint:gochecknoglobals // singleton metrics manager

// Custom registry to avoid default Go metrics.
var customRegistry = prometheus.NewRegistry() //nolint:gochecknoglobals // metrics registry

func init() { //nolint:gochecknoinits // global metrics setup
	globalManager = NewManager(WithPrometheusRegistry(customRegistry))
}

// NewManager creates a new metrics manager with default configuration.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		namespace:        "wordchain",
		subsystem:        "regions",
		histogramBuckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 25, 50, 100, 250, 500, 1000},
		refreshInterval:  defaultRefreshInterval,
		constLabels:      prometheus.Labels{},
		registry:         prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.initializeMetrics()
	return m
}

// RefreshInterval reports how often gauges should be refreshed by pollers.
func (m *Manager) RefreshInterval() time.Duration {
	return m.refreshInterval
}

func (m *Manager) counter(name, help string) prometheus.Counter {
	return promauto.With(m.registry).NewCounter(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
	})
}

func (m *Manager) counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.With(m.registry).NewCounterVec(prometheus.CounterOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
	}, labels)
}

func (m *Manager) gauge(name, help string) prometheus.Gauge {
	return promauto.With(m.registry).NewGauge(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
	})
}

func (m *Manager) gaugeVec(name, help string, labels ...string) *prometheus.GaugeVec {
	return promauto.With(m.registry).NewGaugeVec(prometheus.GaugeOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels,
	}, labels)
}

func (m *Manager) histogram(name, help string, buckets []float64) prometheus.Histogram {
	return promauto.With(m.registry).NewHistogram(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels, Buckets: buckets,
	})
}

func (m *Manager) histogramVec(name, help string, labels ...string) *prometheus.HistogramVec {
	return promauto.With(m.registry).NewHistogramVec(prometheus.HistogramOpts{
		Namespace: m.namespace, Subsystem: m.subsystem, Name: name, Help: help, ConstLabels: m.constLabels, Buckets: m.histogramBuckets,
	}, labels)
}

// initializeMetrics creates all the Prometheus metrics.
func (m *Manager) initializeMetrics() { //nolint:funlen // one place for every collector
	m.increments = m.counterVec("increments_total", "Score increments by result", "result")
	m.incrementLatency = m.histogram("increment_latency_milliseconds", "Latency of a persisted score increment in milliseconds", m.histogramBuckets)
	m.registrations = m.counterVec("registrations_total", "Region registrations by outcome", "outcome")
	m.registeredRegions = m.gauge("registered", "Number of registered regions")
	m.movingRegions = m.gauge("moving", "Number of regions currently moving")
	m.duplicateRequests = m.counter("duplicate_requests_total", "Score requests skipped by idempotency key")

	m.clearJobsScheduled = m.counter("clear_jobs_scheduled_total", "Clear jobs scheduled or rescheduled by increments")
	m.clearJobsExecuted = m.counterVec("clear_jobs_executed_total", "Clear jobs executed by outcome", "outcome")
	m.clearJobsRetried = m.counter("clear_jobs_retried_total", "Clear job executions that failed and were rescheduled")
	m.clearJobsDead = m.counter("clear_jobs_dead_total", "Clear jobs that exhausted their attempts")
	m.clearJobsByStatus = m.gaugeVec("clear_jobs", "Clear jobs currently stored, by status", "status")
	m.clearLag = m.histogram("clear_lag_milliseconds", "Delay between a clear job's due time and its execution",
		[]float64{1, 10, 50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000})

	m.queueSize = m.gauge("queue_size", "Current size of the clear job queue")
	m.queueCapacity = m.gauge("queue_capacity", "Maximum clear job queue capacity")
	m.queueEnqueue = m.counter("queue_enqueue_total", "Clear jobs enqueued")
	m.queueDequeue = m.counter("queue_dequeue_total", "Clear jobs dequeued")
	m.queueEnqueueErrors = m.counterVec("queue_enqueue_errors_total", "Clear job enqueue failures by reason", "reason")

	m.workerCount = m.gauge("worker_count", "Number of clear job workers")
	m.workerProcessingLatency = m.histogram("worker_processing_latency_milliseconds", "Clear job processing latency in milliseconds", m.histogramBuckets)
	m.workerErrors = m.counter("worker_errors_total", "Clear job processing errors")

	m.wordLookups = m.counterVec("word_lookups_total", "Dictionary lookups by operation and result", "operation", "result")

	m.httpRequests = m.counterVec("http_requests_total", "HTTP requests by endpoint, method and status", "endpoint", "method", "status_code")
	m.httpRequestDuration = m.histogramVec("http_request_duration_milliseconds", "HTTP request duration in milliseconds", "endpoint", "method", "status_code")
	m.httpErrors = m.counterVec("http_errors_total", "HTTP error responses by endpoint and error type", "endpoint", "error_type")

	m.storeLatency = m.histogramVec("store_latency_milliseconds", "Store operation latency in milliseconds", "store", "operation")
	m.storeErrors = m.counterVec("store_errors_total", "Store operation failures", "store", "operation")

	m.systemMemoryUsage = m.gauge("system_memory_usage_bytes", "Heap bytes allocated")
	m.systemGoroutineCount = m.gauge("system_goroutine_count", "Number of goroutines")
}

// RecordIncrement counts an increment attempt by result ("applied", "not_found", "error", ...).
func RecordIncrement(result string) {
	globalManager.increments.WithLabelValues(result).Inc()
}

// RecordIncrementLatency records increment latency in milliseconds.
func RecordIncrementLatency(latencyMs float64) {
	globalManager.incrementLatency.Observe(latencyMs)
}

// RecordRegistration counts a registration by outcome ("created", "existing", "error").
func RecordRegistration(outcome string) {
	globalManager.registrations.WithLabelValues(outcome).Inc()
}

// UpdateRegisteredRegions sets the registered regions gauge.
func UpdateRegisteredRegions(count int) {
	globalManager.registeredRegions.Set(float64(count))
}

// UpdateMovingRegions sets the moving regions gauge.
func UpdateMovingRegions(count int) {
	globalManager.movingRegions.Set(float64(count))
}

// RecordDuplicateRequest increments the idempotency duplicate counter.
func RecordDuplicateRequest() {
	globalManager.duplicateRequests.Inc()
}

// RecordClearScheduled increments the scheduled clear jobs counter.
func RecordClearScheduled() {
	globalManager.clearJobsScheduled.Inc()
}

// RecordClearExecuted counts a clear job execution ("cleared", "superseded").
func RecordClearExecuted(outcome string) {
	globalManager.clearJobsExecuted.WithLabelValues(outcome).Inc()
}

// RecordClearRetried increments the clear retry counter.
func RecordClearRetried() {
	globalManager.clearJobsRetried.Inc()
}

// RecordClearDead increments the dead clear job counter.
func RecordClearDead() {
	globalManager.clearJobsDead.Inc()
}

// UpdateClearJobs sets the stored clear job gauge for a status.
func UpdateClearJobs(status string, count int) {
	globalManager.clearJobsByStatus.WithLabelValues(status).Set(float64(count))
}

// RecordClearLag records how late a clear job ran relative to its due time.
func RecordClearLag(lag time.Duration) {
	if lag < 0 {
		lag = 0
	}
	globalManager.clearLag.Observe(float64(lag.Milliseconds()))
}

// UpdateQueueSize sets the current queue size.
func UpdateQueueSize(size int) {
	globalManager.queueSize.Set(float64(size))
}

// UpdateQueueCapacity sets the maximum queue capacity.
func UpdateQueueCapacity(capacity int) {
	globalManager.queueCapacity.Set(float64(capacity))
}

// RecordQueueEnqueue increments the enqueue counter.
func RecordQueueEnqueue() {
	globalManager.queueEnqueue.Inc()
}

// RecordQueueDequeue increments the dequeue counter.
func RecordQueueDequeue() {
	globalManager.queueDequeue.Inc()
}

// RecordQueueEnqueueError counts an enqueue failure by reason.
func RecordQueueEnqueueError(reason string) {
	globalManager.queueEnqueueErrors.WithLabelValues(reason).Inc()
}

// UpdateWorkerCount sets the current worker count.
func UpdateWorkerCount(count int) {
	globalManager.workerCount.Set(float64(count))
}

// RecordWorkerProcessingLatency records worker processing latency.
func RecordWorkerProcessingLatency(latencyMs float64) {
	globalManager.workerProcessingLatency.Observe(latencyMs)
}

// RecordWorkerError increments the worker error counter.
func RecordWorkerError() {
	globalManager.workerErrors.Inc()
}

// RecordWordLookup counts a dictionary lookup.
func RecordWordLookup(operation, result string) {
	globalManager.wordLookups.WithLabelValues(operation, result).Inc()
}

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(endpoint, method, statusCode string) {
	globalManager.httpRequests.WithLabelValues(endpoint, method, statusCode).Inc()
}

// RecordHTTPRequestDuration records HTTP request duration.
func RecordHTTPRequestDuration(endpoint, method, statusCode string, durationMs float64) {
	globalManager.httpRequestDuration.WithLabelValues(endpoint, method, statusCode).Observe(durationMs)
}

// RecordHTTPError records an error response by endpoint and error type.
func RecordHTTPError(endpoint, errorType string) {
	globalManager.httpErrors.WithLabelValues(endpoint, errorType).Inc()
}

// RecordStoreLatency records a store operation latency.
func RecordStoreLatency(store, operation string, latencyMs float64) {
	globalManager.storeLatency.WithLabelValues(store, operation).Observe(latencyMs)
}

// RecordStoreError counts a failed store operation.
func RecordStoreError(store, operation string) {
	globalManager.storeErrors.WithLabelValues(store, operation).Inc()
}

// UpdateSystemMemoryUsage sets the system memory usage in bytes.
func UpdateSystemMemoryUsage(bytes uint64) {
	globalManager.systemMemoryUsage.Set(float64(bytes))
}

// UpdateSystemGoroutineCount sets the number of goroutines.
func UpdateSystemGoroutineCount(count int) {
	globalManager.systemGoroutineCount.Set(float64(count))
}

// GetRegistry returns the custom Prometheus registry used by our metrics.
func GetRegistry() *prometheus.Registry {
	return customRegistry
}
