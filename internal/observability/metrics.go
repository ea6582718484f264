package observability

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	registry *prometheus.Registry

	// HTTP request rate. Watch for: sudden drops (service down) or spikes (traffic surge).
	HTTPRequestsTotal *prometheus.CounterVec

	// HTTP request latency per request. Watch for: p95/p99 latency increases, SLO breaches.
	HTTPRequestDuration *prometheus.HistogramVec

	// Concurrent requests in flight. Watch for: saturation, capacity limits.
	HTTPRequestsInFlight prometheus.Gauge

	// Grid fetch attempts per forecast-hour candidate. Watch for: error ratio rising after a new cycle.
	GridFetchAttemptsTotal *prometheus.CounterVec

	// Fetch+decode latency per candidate. Watch for: p95 > 30s (archive slow or wgrib2 contention).
	GridFetchDuration *prometheus.HistogramVec

	// HTTP-level retries against the grid archive. Watch for: high retries = unstable upstream.
	GridFetchRetriesTotal prometheus.Counter

	// Lookups served by a neighbouring forecast hour instead of the resolved one.
	CandidateFallbacksTotal *prometheus.CounterVec

	// Lookups that exhausted every candidate. Watch for: any sustained rate.
	DataUnavailableTotal prometheus.Counter

	// Corrections applied while resolving a target to a model cycle.
	CycleAdjustmentsTotal *prometheus.CounterVec

	// Cache hits. Hit rate = hits/(hits+misses).
	CacheHitsTotal *prometheus.CounterVec

	// Cache misses (absent or older than the freshness window).
	CacheMissesTotal *prometheus.CounterVec

	// Cache operation errors by operation and category. Watch for: disk full, permissions.
	CacheErrorsTotal *prometheus.CounterVec

	// Cache get/set latency. Watch for: slow disk.
	CacheOperationDurationSeconds *prometheus.HistogramVec

	// Concurrent misses for the same key. Watch for: stampedes after cache expiry.
	CacheStampedeDetectedTotal *prometheus.CounterVec
	CacheStampedeConcurrency   *prometheus.HistogramVec

	// Requests that joined an in-flight fetch instead of starting one.
	RequestCoalescingHitsTotal   *prometheus.CounterVec
	RequestCoalescingWaitSeconds prometheus.Histogram

	// Circuit breaker state per component (0 closed, 1 open, 2 half-open).
	CircuitBreakerState            *prometheus.GaugeVec
	CircuitBreakerTransitionsTotal *prometheus.CounterVec

	// Cache warming runs, failures and duration.
	CacheWarmingTotal           prometheus.Counter
	CacheWarmingErrorsTotal     prometheus.Counter
	CacheWarmingDurationSeconds prometheus.Histogram

	// Cache files removed by the retention janitor.
	CachePrunedFilesTotal prometheus.Counter

	// eBird proxy calls by status label.
	EBirdCallsTotal   *prometheus.CounterVec
	EBirdCallDuration *prometheus.HistogramVec

	// Total wind lookups. Watch for: traffic volume, rate() for QPS.
	WindQueriesTotal prometheus.Counter

	// Per-level query count (allow-list; others go to "other").
	WindQueriesByLevelTotal *prometheus.CounterVec

	// Rate limit denials. Watch for: overload, capacity exceeded.
	RateLimitDeniedTotal prometheus.Counter

	// In-flight requests when shutdown began.
	ShutdownInFlightRequests prometheus.Gauge

	trackedLevelsMu sync.RWMutex
	trackedLevels   map[int]struct{}

	rateLimitGaugesOnce sync.Once
)

func init() {
	registry = prometheus.NewRegistry()

	registry.MustRegister(
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		collectors.NewGoCollector(),
	)

	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "httpRequestsTotal",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "statusCode"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "httpRequestDurationSeconds",
			Help:    "HTTP request latency in seconds (per request)",
			Buckets: []float64{.01, .05, .1, .5, 1, 5, 15, 30, 60, 120},
		},
		[]string{"method", "route"},
	)
	HTTPRequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "httpRequestsInFlight",
			Help: "Number of HTTP requests currently being served",
		},
	)
	GridFetchAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gridFetchAttemptsTotal",
			Help: "Grid fetch attempts per forecast-hour candidate by outcome",
		},
		[]string{"outcome"},
	)
	GridFetchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gridFetchDurationSeconds",
			Help:    "Grid fetch and decode latency in seconds (per candidate)",
			Buckets: []float64{.5, 1, 2.5, 5, 10, 20, 30, 60, 120},
		},
		[]string{"outcome"},
	)
	GridFetchRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "gridFetchRetriesTotal",
			Help: "Total number of HTTP retry attempts against the grid archive",
		},
	)
	CandidateFallbacksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "candidateFallbacksTotal",
			Help: "Lookups satisfied by a neighbouring forecast hour, by offset from the resolved hour",
		},
		[]string{"offset"},
	)
	DataUnavailableTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "dataUnavailableTotal",
			Help: "Lookups that failed after every forecast-hour candidate",
		},
	)
	CycleAdjustmentsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cycleAdjustmentsTotal",
			Help: "Corrections applied while resolving a target time to a model cycle",
		},
		[]string{"adjustment"},
	)
	CacheHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheHitsTotal",
			Help: "Total number of cache hits",
		},
		[]string{"cacheType"},
	)
	CacheMissesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheMissesTotal",
			Help: "Total number of cache misses (absent or stale)",
		},
		[]string{"cacheType"},
	)
	CacheErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheErrorsTotal",
			Help: "Cache operation errors by operation and category",
		},
		[]string{"operation", "category"},
	)
	CacheOperationDurationSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cacheOperationDurationSeconds",
			Help:    "Cache operation latency in seconds",
			Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 2.5},
		},
		[]string{"operation", "status"},
	)
	CacheStampedeDetectedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cacheStampedeDetectedTotal",
			Help: "Concurrent cache misses for the same key",
		},
		[]string{"level"},
	)
	CacheStampedeConcurrency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "cacheStampedeConcurrency",
			Help:    "Number of concurrent misses observed for a key",
			Buckets: []float64{2, 3, 5, 10, 20, 50},
		},
		[]string{"level"},
	)
	RequestCoalescingHitsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "requestCoalescingHitsTotal",
			Help: "Requests that waited on an in-flight fetch for the same cycle",
		},
		[]string{"level"},
	)
	RequestCoalescingWaitSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "requestCoalescingWaitSeconds",
			Help:    "Time spent waiting on a coalesced fetch",
			Buckets: []float64{.01, .1, .5, 1, 5, 15, 30, 60, 120},
		},
	)
	CircuitBreakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuitBreakerState",
			Help: "Circuit breaker state (0 closed, 1 open, 2 half-open)",
		},
		[]string{"component"},
	)
	CircuitBreakerTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuitBreakerTransitionsTotal",
			Help: "Circuit breaker state transitions",
		},
		[]string{"component", "from", "to"},
	)
	CacheWarmingTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cacheWarmingTotal",
			Help: "Total number of cache warming runs",
		},
	)
	CacheWarmingErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cacheWarmingErrorsTotal",
			Help: "Cache warming runs with at least one failed level",
		},
	)
	CacheWarmingDurationSeconds = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cacheWarmingDurationSeconds",
			Help:    "Cache warming run duration in seconds",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300},
		},
	)
	CachePrunedFilesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "cachePrunedFilesTotal",
			Help: "Cache files removed by retention pruning",
		},
	)
	EBirdCallsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ebirdCallsTotal",
			Help: "Total number of eBird API calls",
		},
		[]string{"status"},
	)
	EBirdCallDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ebirdCallDurationSeconds",
			Help:    "eBird API latency in seconds (per request)",
			Buckets: []float64{.1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"status"},
	)
	WindQueriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "windQueriesTotal",
			Help: "Total number of wind field lookups",
		},
	)
	WindQueriesByLevelTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "windQueriesByLevelTotal",
			Help: "Wind lookups by pressure level (allow-list; others use level=other)",
		},
		[]string{"level"},
	)
	RateLimitDeniedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "rateLimitDeniedTotal",
			Help: "Total number of requests denied by rate limiter (429)",
		},
	)
	ShutdownInFlightRequests = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "shutdownInFlightRequests",
			Help: "Requests still in flight when graceful shutdown began",
		},
	)

	registry.MustRegister(
		HTTPRequestsTotal, HTTPRequestDuration, HTTPRequestsInFlight,
		GridFetchAttemptsTotal, GridFetchDuration, GridFetchRetriesTotal,
		CandidateFallbacksTotal, DataUnavailableTotal, CycleAdjustmentsTotal,
		CacheHitsTotal, CacheMissesTotal, CacheErrorsTotal, CacheOperationDurationSeconds,
		CacheStampedeDetectedTotal, CacheStampedeConcurrency,
		RequestCoalescingHitsTotal, RequestCoalescingWaitSeconds,
		CircuitBreakerState, CircuitBreakerTransitionsTotal,
		CacheWarmingTotal, CacheWarmingErrorsTotal, CacheWarmingDurationSeconds,
		CachePrunedFilesTotal,
		EBirdCallsTotal, EBirdCallDuration,
		WindQueriesTotal, WindQueriesByLevelTotal,
		RateLimitDeniedTotal,
		ShutdownInFlightRequests,
	)
}

// WindowCounter reports sliding-window request counts for the rate-limit gauges.
type WindowCounter interface {
	RequestCount(window time.Duration) int
	DenialCount(window time.Duration) int
}

// RegisterRateLimitGauges registers load and rejects gauges for the rate-limited path.
// Call from main after config load. Only the first call registers.
func RegisterRateLimitGauges(counter WindowCounter, window time.Duration) {
	rateLimitGaugesOnce.Do(func() {
		registry.MustRegister(
			prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{
					Name: "rateLimitRequestsInWindow",
					Help: "Requests hitting rate-limited path in sliding window; load/capacity planning",
				},
				func() float64 { return float64(counter.RequestCount(window)) },
			),
			prometheus.NewGaugeFunc(
				prometheus.GaugeOpts{
					Name: "rateLimitRejectsInWindow",
					Help: "429 responses in sliding window; are we rejecting requests",
				},
				func() float64 { return float64(counter.DenialCount(window)) },
			),
		)
	})
}

// SetTrackedLevels sets the allow-list for per-level metrics. Other levels increment "other".
func SetTrackedLevels(levels []int) {
	trackedLevelsMu.Lock()
	defer trackedLevelsMu.Unlock()
	trackedLevels = make(map[int]struct{}, len(levels))
	for _, l := range levels {
		trackedLevels[l] = struct{}{}
	}
}

// MetricLevelLabel returns the level as a label if tracked, otherwise "other".
func MetricLevelLabel(level int) string {
	trackedLevelsMu.RLock()
	_, ok := trackedLevels[level] // nil map read is safe in Go
	trackedLevelsMu.RUnlock()
	if ok {
		return strconv.Itoa(level)
	}
	return "other"
}

// RecordWindQuery records a wind lookup for the given pressure level.
func RecordWindQuery(level int) {
	WindQueriesTotal.Inc()
	WindQueriesByLevelTotal.WithLabelValues(MetricLevelLabel(level)).Inc()
}

// RecordCircuitBreakerTransition counts a breaker state change.
func RecordCircuitBreakerTransition(component, from, to string) {
	CircuitBreakerTransitionsTotal.WithLabelValues(component, from, to).Inc()
}

// SetCircuitBreakerStateGauge sets the breaker state gauge for component.
func SetCircuitBreakerStateGauge(component string, state int) {
	CircuitBreakerState.WithLabelValues(component).Set(float64(state))
}

// RecordShutdownInFlight records the in-flight count observed at shutdown.
func RecordShutdownInFlight(n int64) {
	ShutdownInFlightRequests.Set(float64(n))
}

// MetricsHandler returns an http.Handler that serves application and runtime metrics.
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
