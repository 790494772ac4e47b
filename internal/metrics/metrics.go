package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "mapview"

var (
	// Memory tile cache
	CacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cache_hits_total",
		Help:      "Total number of tile cache hits",
	})

	CacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cache_misses_total",
		Help:      "Total number of tile cache misses",
	})

	CacheEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "cache_evictions_total",
		Help:      "Total number of tiles evicted from the memory cache",
	})

	CacheEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "cache_entries",
		Help:      "Number of tiles held in the memory cache",
	})

	// Job dispatcher
	DispatcherJobs = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "dispatcher_jobs_total",
		Help:      "Jobs seen by the dispatcher by outcome",
	}, []string{"outcome"})

	DispatcherWorkers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "dispatcher_workers",
		Help:      "Number of running dispatcher workers",
	})

	DispatcherQueueLength = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "dispatcher_queue_length",
		Help:      "Number of jobs waiting in the dispatcher queue",
	})

	// Tile loader
	TileFetches = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tile_fetches_total",
		Help:      "Tile loads by source and result",
	}, []string{"source", "result"})

	TileFetchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "tile_fetch_duration_seconds",
		Help:      "Duration of tile server requests in seconds",
		Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
	}, []string{"method"})

	// Persistent store
	StoreReads = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "store_reads_total",
		Help:      "Disk tile reads by result",
	}, []string{"result"})

	StoreOperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "store_operation_duration_seconds",
		Help:      "Duration of persistent store operations in seconds",
		Buckets:   []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25, .5, 1},
	}, []string{"backend", "operation"})

	StoreErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "store_errors_total",
		Help:      "Total number of persistent store errors",
	}, []string{"backend", "operation"})
)

// Dispatcher outcomes.
const (
	JobQueued    = "queued"
	JobDropped   = "dropped"
	JobCancelled = "cancelled"
	JobExecuted  = "executed"
	JobPanicked  = "panicked"
)

// Loader results.
const (
	FetchLoaded      = "loaded"
	FetchNotModified = "not_modified"
	FetchNoTile      = "no_tile"
	FetchFailed      = "failed"
	FetchRetried     = "retried"
)

// Store read results.
const (
	ReadFresh   = "fresh"
	ReadStale   = "stale"
	ReadMiss    = "miss"
	ReadCorrupt = "corrupt"
)
