package service

import (
	"fmt"
	"net/http"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsService encapsulates Prometheus instrumentation for the HTTP surface, the
// case store, the stats cache, the live stream hub and result ingestion.
type MetricsService struct {
	registry        *prometheus.Registry
	handler         http.Handler
	requestDuration *prometheus.HistogramVec
	requestTotal    *prometheus.CounterVec
	cacheLatency    prometheus.Observer
	cacheWrite      prometheus.Observer
	cacheHitRatio   prometheus.Gauge
	cacheHits       prometheus.Counter
	cacheMisses     prometheus.Counter
	dbQueryDuration *prometheus.HistogramVec

	parseFailures     prometheus.Counter
	rankedCases       prometheus.Histogram
	streamSubscribers prometheus.Gauge
	broadcasts        prometheus.Counter
	droppedSubs       *prometheus.CounterVec
	ingested          *prometheus.CounterVec

	cacheHitCount  uint64
	cacheMissCount uint64
}

// NewMetricsService registers core Prometheus collectors.
func NewMetricsService() *MetricsService {
	registry := prometheus.NewRegistry()

	requestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_seconds",
		Help:    "Duration of HTTP requests in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	requestTotal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})

	cacheLatency := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_latency_seconds",
		Help:    "Latency for cache operations",
		Buckets: prometheus.DefBuckets,
	})

	cacheWrite := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "cache_write_seconds",
		Help:    "Latency for cache set operations",
		Buckets: prometheus.DefBuckets,
	})

	cacheHitRatio := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cache_hit_ratio",
		Help: "Ratio of cache hits to total cache lookups",
	})

	cacheHits := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_hits_total",
		Help: "Total cache hits",
	})

	cacheMisses := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "cache_misses_total",
		Help: "Total cache misses",
	})

	dbQueryDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "db_query_duration_seconds",
		Help:    "Duration of case store queries",
		Buckets: prometheus.DefBuckets,
	}, []string{"query"})

	parseFailures := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "xray_classification_parse_failures_total",
		Help: "Classification payloads that fell back to no finding",
	})

	rankedCases := prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "xray_worklist_matched_cases",
		Help:    "Number of cases matched per worklist ranking",
		Buckets: prometheus.ExponentialBuckets(1, 4, 8),
	})

	streamSubscribers := prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "xray_stream_subscribers",
		Help: "Currently streaming stats subscribers",
	})

	broadcasts := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "xray_stream_broadcasts_total",
		Help: "Aggregate snapshots fanned out to subscribers",
	})

	droppedSubs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "xray_stream_dropped_subscribers_total",
		Help: "Subscribers removed from the stream, by reason",
	}, []string{"reason"})

	ingested := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "xray_ingested_results_total",
		Help: "Classification results consumed from the ingest topic, by outcome",
	}, []string{"outcome"})

	goroutines := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "goroutines_total",
		Help: "Total number of goroutines",
	}, func() float64 {
		return float64(runtime.NumGoroutine())
	})

	registry.MustRegister(
		requestDuration, requestTotal,
		cacheLatency, cacheWrite, cacheHitRatio, cacheHits, cacheMisses,
		dbQueryDuration,
		parseFailures, rankedCases, streamSubscribers, broadcasts, droppedSubs, ingested,
		goroutines,
	)

	handler := promhttp.HandlerFor(registry, promhttp.HandlerOpts{})

	return &MetricsService{
		registry:          registry,
		handler:           handler,
		requestDuration:   requestDuration,
		requestTotal:      requestTotal,
		cacheLatency:      cacheLatency,
		cacheWrite:        cacheWrite,
		cacheHitRatio:     cacheHitRatio,
		cacheHits:         cacheHits,
		cacheMisses:       cacheMisses,
		dbQueryDuration:   dbQueryDuration,
		parseFailures:     parseFailures,
		rankedCases:       rankedCases,
		streamSubscribers: streamSubscribers,
		broadcasts:        broadcasts,
		droppedSubs:       droppedSubs,
		ingested:          ingested,
	}
}

// Registry exposes the underlying registry, mainly for tests.
func (m *MetricsService) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler exposes the Prometheus HTTP handler.
func (m *MetricsService) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return m.handler
}

// ObserveHTTPRequest records request metrics.
func (m *MetricsService) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labelStatus := fmt.Sprintf("%d", status)
	m.requestDuration.WithLabelValues(method, path, labelStatus).Observe(duration.Seconds())
	m.requestTotal.WithLabelValues(method, path, labelStatus).Inc()
}

// RecordCacheOperation records cache hit/miss metrics and updates hit ratio.
func (m *MetricsService) RecordCacheOperation(hit bool, duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheLatency.Observe(duration.Seconds())
	if hit {
		m.cacheHits.Inc()
		atomic.AddUint64(&m.cacheHitCount, 1)
	} else {
		m.cacheMisses.Inc()
		atomic.AddUint64(&m.cacheMissCount, 1)
	}
	hits := atomic.LoadUint64(&m.cacheHitCount)
	misses := atomic.LoadUint64(&m.cacheMissCount)
	if total := hits + misses; total > 0 {
		m.cacheHitRatio.Set(float64(hits) / float64(total))
	}
}

// ObserveCacheWrite tracks the duration for cache write operations.
func (m *MetricsService) ObserveCacheWrite(duration time.Duration) {
	if m == nil {
		return
	}
	m.cacheWrite.Observe(duration.Seconds())
}

// ObserveDBQuery records case store query timing.
func (m *MetricsService) ObserveDBQuery(label string, duration time.Duration) {
	if m == nil {
		return
	}
	m.dbQueryDuration.WithLabelValues(label).Observe(duration.Seconds())
}

// RecordParseFailure counts a classification payload that degraded to no finding.
func (m *MetricsService) RecordParseFailure() {
	if m == nil {
		return
	}
	m.parseFailures.Inc()
}

// ObserveRankedCases records how many cases one ranking matched.
func (m *MetricsService) ObserveRankedCases(n int) {
	if m == nil {
		return
	}
	m.rankedCases.Observe(float64(n))
}

// SetStreamSubscribers publishes the current subscriber count.
func (m *MetricsService) SetStreamSubscribers(n int) {
	if m == nil {
		return
	}
	m.streamSubscribers.Set(float64(n))
}

// RecordBroadcast counts one snapshot fan-out.
func (m *MetricsService) RecordBroadcast() {
	if m == nil {
		return
	}
	m.broadcasts.Inc()
}

// RecordDroppedSubscriber counts a subscriber removed from the stream.
func (m *MetricsService) RecordDroppedSubscriber(reason string) {
	if m == nil {
		return
	}
	m.droppedSubs.WithLabelValues(reason).Inc()
}

// RecordIngest counts one consumed result by outcome (stored, invalid, failed).
func (m *MetricsService) RecordIngest(outcome string) {
	if m == nil {
		return
	}
	m.ingested.WithLabelValues(outcome).Inc()
}
