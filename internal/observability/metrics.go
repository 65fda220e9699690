package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// NOTE: Currently, all metrics are defined globally here.
// This causes a harmless side-effect where a service (e.g., the mapper)
// initializes metrics from other services (e.g., the model API) with zero values.
//
// TODO(refactor): When the number of metrics grows significantly, split this
// package into sub-packages (metrics/mapper, metrics/model) to isolate initialization.

// namespace defines the global prefix for all metrics (e.g., argus_...).
const namespace = "argus"

// lowLatencyBuckets defines custom buckets for the mapping hot path.
// Standard buckets are too coarse (starting at 5ms), so we add 1ms and 2ms resolution.
// Range: 1ms to 500ms.
var lowLatencyBuckets = []float64{.001, .002, .005, .010, .015, .020, .025, .030, .050, .100, .500}

var (
	// -------------------------------------------------------------------------
	// MODEL API (HTTP)
	// -------------------------------------------------------------------------

	// ModelAPIReqDuration measures the latency of HTTP requests.
	// Metric: argus_model_api_http_handling_seconds
	ModelAPIReqDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "model_api",
		Name:      "http_handling_seconds",
		Help:      "Time taken to handle HTTP requests in the model service",
		Buckets:   prometheus.DefBuckets, // Standard buckets are fine for admin APIs (human speed)
	}, []string{"method", "route"})

	// ModelAPIReqTotal counts the total number of HTTP requests.
	// Metric: argus_model_api_http_requests_total
	ModelAPIReqTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "model_api",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests in the model service",
	}, []string{"method", "route", "code"})

	// ModelSearchCacheHits counts tag-set searches answered from the
	// model-side response cache without touching storage.
	ModelSearchCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "model_api",
		Name:      "search_cache_hits_total",
		Help:      "Total mapping searches served from the response cache",
	})

	ModelSearchCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "model_api",
		Name:      "search_cache_misses_total",
		Help:      "Total mapping searches that had to evaluate stored mappings",
	})

	// -------------------------------------------------------------------------
	// MAPPER (HTTP + mapping cache)
	// -------------------------------------------------------------------------

	// MapperReqDuration measures the latency of batch mapping requests.
	// Metric: argus_mapper_http_handling_seconds
	MapperReqDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "mapper",
		Name:      "http_handling_seconds",
		Help:      "Time taken to handle mapping requests",
		Buckets:   lowLatencyBuckets, // The mapping path sits on the metric ingestion hot path
	}, []string{"method", "route"})

	MapperReqTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "mapper",
		Name:      "http_requests_total",
		Help:      "Total mapping requests",
	}, []string{"method", "route", "code"})

	// --- Mapping cache ---

	MapperCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "mapper",
		Name:      "cache_hits_total",
		Help:      "Total mapping cache hits (in-memory)",
	})

	MapperCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "mapper",
		Name:      "cache_misses_total",
		Help:      "Total mapping cache misses",
	})

	// MapperCacheCorrupt counts stored values that failed to decode and were
	// evicted in place. Always zero in a healthy process; any increase points
	// at an encode/decode bug, not at bad user input.
	MapperCacheCorrupt = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "mapper",
		Name:      "cache_corrupt_entries_total",
		Help:      "Total corrupt cache entries self-healed by eviction",
	})

	// Note: item count, not byte size, to reflect the capabilities of the
	// S3-FIFO algorithm (otter) which tracks entries efficiently.
	MapperCacheEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "mapper",
		Name:      "cache_entries",
		Help:      "Current number of live entries in the mapping cache",
	})

	// --- Invalidation engine ---

	// MapperInvalidationPruned counts entries rewritten by the
	// disabled-detector path (value narrowed, key kept).
	MapperInvalidationPruned = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "mapper",
		Name:      "invalidation_pruned_total",
		Help:      "Total cache entries rewritten to drop disabled detectors",
	})

	// MapperInvalidationEvicted counts entries removed outright by the
	// changed-mapping path (full re-resolution required).
	MapperInvalidationEvicted = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "mapper",
		Name:      "invalidation_evicted_total",
		Help:      "Total cache entries evicted for changed mappings",
	})

	// MapperInvalidationSkipped counts mappings skipped during invalidation
	// because their expression could not be flattened.
	MapperInvalidationSkipped = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "mapper",
		Name:      "invalidation_skipped_mappings_total",
		Help:      "Total mappings skipped during invalidation due to invalid expressions",
	})

	// --- Resolution ---

	MapperResolutionFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "mapper",
		Name:      "resolution_failures_total",
		Help:      "Total cache-miss resolutions that failed against the model service",
	})

	// -------------------------------------------------------------------------
	// EVENTS (Redis pub/sub)
	// -------------------------------------------------------------------------

	EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "events",
		Name:      "published_total",
		Help:      "Total invalidation events published",
	}, []string{"type"})

	EventsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "events",
		Name:      "received_total",
		Help:      "Total invalidation events received",
	}, []string{"type"})

	EventsMalformed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "events",
		Name:      "malformed_total",
		Help:      "Total received event payloads that failed to decode",
	})

	// -------------------------------------------------------------------------
	// REFRESHER (periodic invalidation poll)
	// -------------------------------------------------------------------------

	RefresherCyclesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "refresher",
		Name:      "cycles_total",
		Help:      "Total refresh cycles executed",
	}, []string{"status"}) // success, fail

	// RefresherLastSuccess carries the unix timestamp of the last successful
	// cycle; alert on staleness rather than on single failures.
	RefresherLastSuccess = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "refresher",
		Name:      "last_success_timestamp_seconds",
		Help:      "Unix timestamp of the last successful refresh cycle",
	})

	// -------------------------------------------------------------------------
	// DATABASE (pgx pool, fed by database.RunPoolMonitor)
	// -------------------------------------------------------------------------

	DBPoolConnections = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Subsystem: "database",
		Name:      "pool_connections",
		Help:      "Database pool connections by state",
	}, []string{"state"}) // total, idle, in_use, max

	DBPoolAcquireCount = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "database",
		Name:      "pool_acquire_count_total",
		Help:      "Total successful connection acquisitions from the pool",
	})

	DBPoolAcquireDuration = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "database",
		Name:      "pool_acquire_duration_seconds_total",
		Help:      "Cumulative time spent acquiring connections from the pool",
	})

	DBPoolWaitCount = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "database",
		Name:      "pool_wait_count_total",
		Help:      "Total acquisitions that had to wait for a free connection",
	})
)
