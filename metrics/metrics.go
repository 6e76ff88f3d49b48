package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// BatchFlushes counts executed batches by handle and reason (threshold, force, cascade)
	BatchFlushes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stockbatch_batch_flushes_total",
			Help: "Total number of executed statement batches",
		},
		[]string{"handle", "reason"},
	)

	// BatchRows counts executed batch rows by handle and outcome (ok, failed)
	BatchRows = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stockbatch_batch_rows_total",
			Help: "Total number of rows executed in batches",
		},
		[]string{"handle", "outcome"},
	)

	// BatchLatency tracks batch execution latency by handle
	BatchLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stockbatch_batch_latency_seconds",
			Help:    "Batch execution latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"handle"},
	)

	// BatchPending tracks rows accumulated but not yet executed, by handle
	BatchPending = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "stockbatch_batch_pending_rows",
			Help: "Rows waiting in a statement batch",
		},
		[]string{"handle"},
	)

	// KeyRefills counts database round trips made to reserve a new key range
	KeyRefills = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "stockbatch_key_refills_total",
			Help: "Total number of key range reservations",
		},
	)

	// KeysIssued counts primary keys handed out by the allocator
	KeysIssued = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "stockbatch_keys_issued_total",
			Help: "Total number of primary keys issued",
		},
	)

	// CacheReloads counts lookup cache reloads by cache and result (ok, error)
	CacheReloads = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stockbatch_cache_reloads_total",
			Help: "Total number of lookup cache reloads",
		},
		[]string{"cache", "result"},
	)

	// CacheEntries tracks the size of each lookup cache snapshot
	CacheEntries = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "stockbatch_cache_entries",
			Help: "Entries in the current lookup cache snapshot",
		},
		[]string{"cache"},
	)

	// UploadJobs counts upload jobs by result (committed, rolled_back)
	UploadJobs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stockbatch_upload_jobs_total",
			Help: "Total number of upload jobs",
		},
		[]string{"result"},
	)

	// DatabaseQueries counts read queries sent to the database by backend
	DatabaseQueries = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stockbatch_database_queries_total",
			Help: "Total read queries sent to database",
		},
		[]string{"backend"},
	)

	once sync.Once
)

// Init registers all metrics with Prometheus
func Init() {
	once.Do(func() {
		prometheus.MustRegister(BatchFlushes)
		prometheus.MustRegister(BatchRows)
		prometheus.MustRegister(BatchLatency)
		prometheus.MustRegister(BatchPending)
		prometheus.MustRegister(KeyRefills)
		prometheus.MustRegister(KeysIssued)
		prometheus.MustRegister(CacheReloads)
		prometheus.MustRegister(CacheEntries)
		prometheus.MustRegister(UploadJobs)
		prometheus.MustRegister(DatabaseQueries)
	})
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
