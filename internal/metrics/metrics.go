// Package metrics publishes Prometheus series for the data source cache
// engine: fetch outcomes (with fallback level), raw store operations,
// warming passes, invalidations, and fail-closed audit events.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// FetchOutcome captures how a fetch was served.
type FetchOutcome string

const (
	// FetchHit indicates the fetch was served from a cached entry.
	FetchHit FetchOutcome = "hit"
	// FetchMiss indicates the fetch went to the upstream query layer.
	FetchMiss FetchOutcome = "miss"
	// FetchBypass indicates the caller forced a fresh fetch.
	FetchBypass FetchOutcome = "bypass"
	// FetchError indicates the upstream fetch failed.
	FetchError FetchOutcome = "error"
)

// StoreOperation identifies the backend call being instrumented.
type StoreOperation string

const (
	StoreOperationGet    StoreOperation = "get"
	StoreOperationSet    StoreOperation = "set"
	StoreOperationDelete StoreOperation = "delete"
	StoreOperationLock   StoreOperation = "lock"
)

// StoreResult captures the result of a backend call.
type StoreResult string

const (
	StoreResultOK    StoreResult = "ok"
	StoreResultError StoreResult = "error"
)

// WarmingOutcome captures the result of one warming pass. Lock and cooldown
// skips are normal outcomes, not errors.
type WarmingOutcome string

const (
	WarmingWarmed          WarmingOutcome = "warmed"
	WarmingSkippedLock     WarmingOutcome = "skipped_lock"
	WarmingSkippedCooldown WarmingOutcome = "skipped_cooldown"
	WarmingSkippedFresh    WarmingOutcome = "skipped_fresh"
	WarmingError           WarmingOutcome = "error"
)

// Recorder publishes Prometheus metrics for cache engine activity.
type Recorder struct {
	gatherer prometheus.Gatherer
	handler  http.Handler

	fetchRequests *prometheus.CounterVec
	fetchLatency  *prometheus.HistogramVec

	storeOperations *prometheus.CounterVec
	storeLatency    *prometheus.HistogramVec

	warmingPasses  *prometheus.CounterVec
	warmingEntries *prometheus.CounterVec
	warmingLatency *prometheus.HistogramVec

	invalidatedKeys *prometheus.CounterVec
	failClosed      *prometheus.CounterVec
}

// NewRecorder constructs a Prometheus-backed Recorder. When reg is nil a dedicated
// registry is created so multiple recorders can coexist without conflicting with
// the global default registerer.
func NewRecorder(reg *prometheus.Registry) *Recorder {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	reg.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	fetchRequests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dscache",
		Subsystem: "fetch",
		Name:      "requests_total",
		Help:      "Data source fetches served by the cache engine.",
	}, []string{"data_source", "outcome", "level"})

	fetchLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "dscache",
		Subsystem: "fetch",
		Name:      "request_duration_seconds",
		Help:      "Latency distribution for completed fetches.",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
	}, []string{"data_source", "outcome"})

	storeOperations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dscache",
		Subsystem: "store",
		Name:      "operations_total",
		Help:      "Backend store operations executed by the engine.",
	}, []string{"operation", "result"})

	storeLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "dscache",
		Subsystem: "store",
		Name:      "operation_duration_seconds",
		Help:      "Latency distribution for backend store operations.",
		Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5},
	}, []string{"operation", "result"})

	warmingPasses := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dscache",
		Subsystem: "warming",
		Name:      "passes_total",
		Help:      "Warming passes by outcome, including lock and cooldown skips.",
	}, []string{"data_source", "outcome"})

	warmingEntries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dscache",
		Subsystem: "warming",
		Name:      "entries_written_total",
		Help:      "Cache entries written by warming passes.",
	}, []string{"data_source"})

	warmingLatency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "dscache",
		Subsystem: "warming",
		Name:      "pass_duration_seconds",
		Help:      "Latency distribution for completed warming passes.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"data_source"})

	invalidatedKeys := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dscache",
		Subsystem: "invalidation",
		Name:      "keys_deleted_total",
		Help:      "Cache keys removed by invalidation requests.",
	}, []string{"data_source"})

	failClosed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "dscache",
		Subsystem: "rbac",
		Name:      "fail_closed_total",
		Help:      "Requests answered with zero rows because the permission scope was empty.",
	}, []string{"scope"})

	reg.MustRegister(fetchRequests, fetchLatency, storeOperations, storeLatency,
		warmingPasses, warmingEntries, warmingLatency, invalidatedKeys, failClosed)

	handler := promhttp.HandlerFor(reg, promhttp.HandlerOpts{})

	return &Recorder{
		gatherer:        reg,
		handler:         handler,
		fetchRequests:   fetchRequests,
		fetchLatency:    fetchLatency,
		storeOperations: storeOperations,
		storeLatency:    storeLatency,
		warmingPasses:   warmingPasses,
		warmingEntries:  warmingEntries,
		warmingLatency:  warmingLatency,
		invalidatedKeys: invalidatedKeys,
		failClosed:      failClosed,
	}
}

// Handler exposes the Prometheus HTTP handler for the recorder's registry.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "metrics unavailable", http.StatusServiceUnavailable)
		})
	}
	return r.handler
}

// Gatherer returns the underlying Prometheus gatherer for tests and advanced
// integrations.
func (r *Recorder) Gatherer() prometheus.Gatherer {
	if r == nil {
		return prometheus.NewRegistry()
	}
	return r.gatherer
}

// ObserveFetch records one completed fetch. level is the fallback depth that
// served it (0 = most specific key); pass a negative level when no cached
// entry was involved.
func (r *Recorder) ObserveFetch(dataSourceID int64, outcome FetchOutcome, level int, duration time.Duration) {
	if r == nil {
		return
	}
	levelLabel := "none"
	if level >= 0 {
		levelLabel = strconv.Itoa(level)
	}
	ds := strconv.FormatInt(dataSourceID, 10)
	r.fetchRequests.WithLabelValues(ds, string(outcome), levelLabel).Inc()
	r.fetchLatency.WithLabelValues(ds, string(outcome)).Observe(duration.Seconds())
}

// ObserveStoreOperation records one backend call.
func (r *Recorder) ObserveStoreOperation(op StoreOperation, result StoreResult, duration time.Duration) {
	if r == nil {
		return
	}
	r.storeOperations.WithLabelValues(string(op), string(result)).Inc()
	r.storeLatency.WithLabelValues(string(op), string(result)).Observe(duration.Seconds())
}

// ObserveWarming records one warming pass and the entries it wrote.
func (r *Recorder) ObserveWarming(dataSourceID int64, outcome WarmingOutcome, entriesWritten int, duration time.Duration) {
	if r == nil {
		return
	}
	ds := strconv.FormatInt(dataSourceID, 10)
	r.warmingPasses.WithLabelValues(ds, string(outcome)).Inc()
	if entriesWritten > 0 {
		r.warmingEntries.WithLabelValues(ds).Add(float64(entriesWritten))
	}
	if outcome == WarmingWarmed {
		r.warmingLatency.WithLabelValues(ds).Observe(duration.Seconds())
	}
}

// RecordInvalidation records keys removed for a data source.
func (r *Recorder) RecordInvalidation(dataSourceID int64, keysDeleted int64) {
	if r == nil || keysDeleted <= 0 {
		return
	}
	r.invalidatedKeys.WithLabelValues(strconv.FormatInt(dataSourceID, 10)).Add(float64(keysDeleted))
}

// RecordFailClosed records one fail-closed response for a scope.
func (r *Recorder) RecordFailClosed(scope string) {
	if r == nil {
		return
	}
	r.failClosed.WithLabelValues(scope).Inc()
}
