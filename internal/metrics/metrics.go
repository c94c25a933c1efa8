// Package metrics provides Prometheus metrics for the warehouse builder.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for a rebuild run.
type Metrics struct {
	// Batch metrics
	BatchesProcessed *prometheus.CounterVec
	BatchesFailed    *prometheus.CounterVec
	BatchDuration    *prometheus.HistogramVec

	// Record metrics
	RecordsNormalized *prometheus.CounterVec
	RecordsDropped    *prometheus.CounterVec
	FactRowsInserted  *prometheus.CounterVec

	// Stage metrics
	StageDuration *prometheus.HistogramVec

	// Aggregate metrics
	AggregateStatus   *prometheus.GaugeVec
	AggregateDuration *prometheus.HistogramVec
}

var defaultMetrics *Metrics

// Init initializes the metrics package with global metrics.
// Call this once at startup.
func Init(namespace string) *Metrics {
	if namespace == "" {
		namespace = "tripwarehouse"
	}

	m := &Metrics{
		BatchesProcessed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "batches_processed_total",
				Help:      "Total number of source batches processed",
			},
			[]string{"borough"},
		),
		BatchesFailed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "batches_failed_total",
				Help:      "Total number of source batches that failed processing",
			},
			[]string{"borough"},
		),
		BatchDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "batch_duration_seconds",
				Help:      "Time to normalize and transform a source batch",
				Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12), // 0.1s to ~400s
			},
			[]string{"borough"},
		),
		RecordsNormalized: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "records_normalized_total",
				Help:      "Total number of raw records normalized to canonical shape",
			},
			[]string{"borough"},
		),
		RecordsDropped: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "records_dropped_total",
				Help:      "Total number of records excluded from the fact table, by reason",
			},
			[]string{"borough", "reason"},
		),
		FactRowsInserted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fact_rows_inserted_total",
				Help:      "Total number of fact rows written to the store",
			},
			[]string{"borough"},
		),
		StageDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "stage_duration_seconds",
				Help:      "Duration of each rebuild stage",
				Buckets:   prometheus.ExponentialBuckets(0.1, 2, 14), // 0.1s to ~27m
			},
			[]string{"stage"},
		),
		AggregateStatus: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "aggregate_status",
				Help:      "Per-aggregate rebuild outcome (1 = ok, 0 = failed)",
			},
			[]string{"aggregate"},
		),
		AggregateDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "aggregate_duration_seconds",
				Help:      "Time to compute each materialized aggregate",
				Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms to ~100s
			},
			[]string{"aggregate"},
		),
	}

	defaultMetrics = m
	return m
}

// Get returns the global metrics instance.
// Returns nil if Init has not been called.
func Get() *Metrics {
	return defaultMetrics
}

// StartServer starts an HTTP server for Prometheus metrics scraping.
// Blocks until the server exits.
func StartServer(address string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	return http.ListenAndServe(address, mux)
}

// IncBatchesProcessed increments the batches processed counter.
func (m *Metrics) IncBatchesProcessed(borough string) {
	m.BatchesProcessed.WithLabelValues(borough).Inc()
}

// IncBatchesFailed increments the batches failed counter.
func (m *Metrics) IncBatchesFailed(borough string) {
	m.BatchesFailed.WithLabelValues(borough).Inc()
}

// ObserveBatchDuration records the batch processing time.
func (m *Metrics) ObserveBatchDuration(borough string, seconds float64) {
	m.BatchDuration.WithLabelValues(borough).Observe(seconds)
}

// AddRecordsNormalized adds to the records normalized counter.
func (m *Metrics) AddRecordsNormalized(borough string, count float64) {
	m.RecordsNormalized.WithLabelValues(borough).Add(count)
}

// AddRecordsDropped adds to the records dropped counter for a reason.
func (m *Metrics) AddRecordsDropped(borough, reason string, count float64) {
	m.RecordsDropped.WithLabelValues(borough, reason).Add(count)
}

// AddFactRowsInserted adds to the fact rows inserted counter.
func (m *Metrics) AddFactRowsInserted(borough string, count float64) {
	m.FactRowsInserted.WithLabelValues(borough).Add(count)
}

// ObserveStageDuration records the duration of a rebuild stage.
func (m *Metrics) ObserveStageDuration(stage string, seconds float64) {
	m.StageDuration.WithLabelValues(stage).Observe(seconds)
}

// SetAggregateStatus records the outcome of one aggregate rebuild.
func (m *Metrics) SetAggregateStatus(aggregate string, ok bool) {
	v := 0.0
	if ok {
		v = 1.0
	}
	m.AggregateStatus.WithLabelValues(aggregate).Set(v)
}

// ObserveAggregateDuration records the build time of one aggregate.
func (m *Metrics) ObserveAggregateDuration(aggregate string, seconds float64) {
	m.AggregateDuration.WithLabelValues(aggregate).Observe(seconds)
}
