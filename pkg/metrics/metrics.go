package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Ingest metrics
	RecordsIngested = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ledgerlog_records_ingested_total",
			Help: "Total number of records accepted over the API",
		},
	)

	IngestFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledgerlog_ingest_failures_total",
			Help: "Total number of rejected ingest requests by reason",
		},
		[]string{"reason"},
	)

	// WAL metrics
	WALPending = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "ledgerlog_wal_pending_entries",
			Help: "Number of WAL entries not yet drained into the store",
		},
	)

	WALProcessed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ledgerlog_wal_processed_total",
			Help: "Total number of WAL entries drained into the store",
		},
	)

	WALErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledgerlog_wal_errors_total",
			Help: "Total number of WAL errors by operation",
		},
		[]string{"operation"},
	)

	// Batch scheduler metrics
	BatchesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ledgerlog_batches_total",
			Help: "Total number of Merkle batches created",
		},
	)

	BatchesFailed = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ledgerlog_batches_failed_total",
			Help: "Total number of batches whose ledger anchor failed",
		},
	)

	BatchRecords = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ledgerlog_batch_records_total",
			Help: "Total number of records tagged into batches",
		},
	)

	DroppedTicks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ledgerlog_scheduler_dropped_ticks_total",
			Help: "Ticker submissions dropped because the job queue was full",
		},
	)

	BatchDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ledgerlog_batch_duration_seconds",
			Help:    "Time taken to claim, tag and anchor one batch",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Ledger metrics
	LedgerInvokes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledgerlog_ledger_invokes_total",
			Help: "Total number of ledger invocations by operation and outcome",
		},
		[]string{"operation", "outcome"},
	)

	LedgerInvokeDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "ledgerlog_ledger_invoke_duration_seconds",
			Help:    "Ledger invocation duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// API metrics
	APIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ledgerlog_api_requests_total",
			Help: "Total number of API requests by method, route and status",
		},
		[]string{"method", "route", "status"},
	)

	APIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ledgerlog_api_request_duration_seconds",
			Help:    "API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	// Cache metrics
	CacheHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ledgerlog_cache_hits_total",
			Help: "Total number of query cache hits",
		},
	)

	CacheMisses = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "ledgerlog_cache_misses_total",
			Help: "Total number of query cache misses",
		},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(RecordsIngested)
	prometheus.MustRegister(IngestFailures)
	prometheus.MustRegister(WALPending)
	prometheus.MustRegister(WALProcessed)
	prometheus.MustRegister(WALErrors)
	prometheus.MustRegister(BatchesTotal)
	prometheus.MustRegister(BatchesFailed)
	prometheus.MustRegister(BatchRecords)
	prometheus.MustRegister(DroppedTicks)
	prometheus.MustRegister(BatchDuration)
	prometheus.MustRegister(LedgerInvokes)
	prometheus.MustRegister(LedgerInvokeDuration)
	prometheus.MustRegister(APIRequestsTotal)
	prometheus.MustRegister(APIRequestDuration)
	prometheus.MustRegister(CacheHits)
	prometheus.MustRegister(CacheMisses)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
