// Package obsmetrics exposes the Common Data Layer's Prometheus metrics.
// It replaces a hand-rolled registry with github.com/prometheus/client_golang,
// registering one set of collectors shared by the router, command service,
// and object builder binaries.
package obsmetrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds every collector emitted by the three CDL cores.
type Metrics struct {
	registry *prometheus.Registry

	// Data Router
	MessagesRouted     *prometheus.CounterVec
	RouteFailures      *prometheus.CounterVec
	BatchSize          prometheus.Histogram
	OrderGroupWaitSecs *prometheus.HistogramVec

	// Registry cache
	CacheHits     *prometheus.CounterVec
	CacheMisses   *prometheus.CounterVec
	CacheEvicts   *prometheus.CounterVec
	CacheSize     *prometheus.GaugeVec
	SingleflightCollapsed prometheus.Counter

	// Command service
	SinkWriteSecs     *prometheus.HistogramVec
	SinkWriteFailures *prometheus.CounterVec
	ResolutionOutcomes *prometheus.CounterVec
	DedupHits         prometheus.Counter

	// Object builder
	RowsEmitted        *prometheus.CounterVec
	ObjectBufferSlots   *prometheus.GaugeVec
	ObjectBufferWaitSecs prometheus.Histogram
	ViewPlanBuildSecs   prometheus.Histogram

	// Circuit breaker / rate limiter
	BreakerState *prometheus.GaugeVec
	RateLimited  *prometheus.CounterVec
}

// New creates and registers all collectors against a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,

		MessagesRouted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cdl",
			Subsystem: "router",
			Name:      "messages_routed_total",
			Help:      "Messages successfully routed to a destination schema.",
		}, []string{"schema_type"}),

		RouteFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cdl",
			Subsystem: "router",
			Name:      "route_failures_total",
			Help:      "Messages that failed routing, by reason.",
		}, []string{"reason"}),

		BatchSize: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "cdl",
			Subsystem: "router",
			Name:      "batch_size",
			Help:      "Size of inbound insert-message batches.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}),

		OrderGroupWaitSecs: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "cdl",
			Subsystem: "ordergate",
			Name:      "wait_seconds",
			Help:      "Time a message waited for its order-group ticket.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"partition"}),

		CacheHits: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cdl",
			Subsystem: "registrycache",
			Name:      "hits_total",
			Help:      "Registry cache lookups served from memory.",
		}, []string{"registry"}),

		CacheMisses: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cdl",
			Subsystem: "registrycache",
			Name:      "misses_total",
			Help:      "Registry cache lookups that required a backing fetch.",
		}, []string{"registry"}),

		CacheEvicts: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cdl",
			Subsystem: "registrycache",
			Name:      "evictions_total",
			Help:      "Entries evicted from the registry cache, by cause.",
		}, []string{"registry", "cause"}),

		CacheSize: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "cdl",
			Subsystem: "registrycache",
			Name:      "size",
			Help:      "Current number of entries held in the registry cache.",
		}, []string{"registry"}),

		SingleflightCollapsed: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "cdl",
			Subsystem: "registrycache",
			Name:      "singleflight_collapsed_total",
			Help:      "Concurrent misses collapsed into one backing fetch.",
		}),

		SinkWriteSecs: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "cdl",
			Subsystem: "command",
			Name:      "sink_write_seconds",
			Help:      "Latency of a single sink write, by backend.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"backend"}),

		SinkWriteFailures: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cdl",
			Subsystem: "command",
			Name:      "sink_write_failures_total",
			Help:      "Sink writes that failed, by backend and failure kind.",
		}, []string{"backend", "kind"}),

		ResolutionOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cdl",
			Subsystem: "command",
			Name:      "resolution_outcomes_total",
			Help:      "Command resolutions produced, by outcome kind.",
		}, []string{"kind"}),

		DedupHits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "cdl",
			Subsystem: "command",
			Name:      "dedup_hits_total",
			Help:      "Commands skipped because their object_id/timestamp was already applied.",
		}),

		RowsEmitted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cdl",
			Subsystem: "materialize",
			Name:      "rows_emitted_total",
			Help:      "Rows streamed out of the Row Builder, by view.",
		}, []string{"view"}),

		ObjectBufferSlots: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "cdl",
			Subsystem: "materialize",
			Name:      "object_buffer_slots",
			Help:      "Object buffer slots currently awaiting a join fetch, by view.",
		}, []string{"view"}),

		ObjectBufferWaitSecs: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "cdl",
			Subsystem: "materialize",
			Name:      "object_buffer_wait_seconds",
			Help:      "Time a buffer slot waited between creation and its emit.",
			Buckets:   prometheus.DefBuckets,
		}),

		ViewPlanBuildSecs: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "cdl",
			Subsystem: "materialize",
			Name:      "view_plan_build_seconds",
			Help:      "Time to build an unfinished-row plan for one tree query.",
			Buckets:   prometheus.DefBuckets,
		}),

		BreakerState: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "cdl",
			Subsystem: "resilience",
			Name:      "breaker_state",
			Help:      "Circuit breaker state (0=closed, 1=open, 2=half-open), by target.",
		}, []string{"target"}),

		RateLimited: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "cdl",
			Subsystem: "resilience",
			Name:      "rate_limited_total",
			Help:      "Calls delayed waiting on a rate limiter token, by target.",
		}, []string{"target"}),
	}
}

// Handler returns an http.Handler serving /metrics in Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Register wires /metrics onto mux.
func (m *Metrics) Register(mux *http.ServeMux) {
	mux.Handle("GET /metrics", m.Handler())
}
