// Package metrics exposes Prometheus collectors for the ingestion service.
package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	fetchRequestsTotal     *prometheus.CounterVec
	fetchDurationSeconds   *prometheus.HistogramVec
	fetchRetriesTotal      prometheus.Counter
	rateLimitDelaySeconds  *prometheus.HistogramVec
	documentsIngestedTotal *prometheus.CounterVec
	documentsSkippedTotal  *prometheus.CounterVec
	documentsExpiredTotal  prometheus.Counter
	documentsStaledTotal   *prometheus.CounterVec
	dedupHitsTotal         *prometheus.CounterVec
	schedulerQueueDepth    prometheus.Gauge
	schedulerActiveTasks   prometheus.Gauge
	clusterPassDocuments   prometheus.Histogram
	runsTotal              *prometheus.CounterVec
	httpRequestsTotal      *prometheus.CounterVec
	httpDurationSeconds    *prometheus.HistogramVec

	once sync.Once
)

// Init registers the Prometheus collectors. Safe to call multiple times.
func Init() {
	once.Do(func() {
		fetchRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_fetch_requests_total",
				Help: "Total outbound fetches, labeled by host and status code.",
			},
			[]string{"host", "status"},
		)
		fetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ingest_fetch_duration_seconds",
				Help:    "Outbound fetch latencies, labeled by host.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
			},
			[]string{"host"},
		)
		fetchRetriesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "ingest_fetch_retries_total",
				Help: "Total fetch retry attempts.",
			},
		)
		rateLimitDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ingest_rate_limit_delay_seconds",
				Help:    "Delay introduced by the per-host rate limiter.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5},
			},
			[]string{"host"},
		)
		documentsIngestedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_documents_ingested_total",
				Help: "Documents persisted, labeled by source.",
			},
			[]string{"source"},
		)
		documentsSkippedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_documents_skipped_total",
				Help: "Documents skipped, labeled by source and reason.",
			},
			[]string{"source", "reason"},
		)
		documentsExpiredTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "ingest_documents_expired_total",
				Help: "Documents expired by the freshness curator.",
			},
		)
		documentsStaledTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_documents_staled_total",
				Help: "Documents marked stale, labeled by reason.",
			},
			[]string{"reason"},
		)
		dedupHitsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_dedup_hits_total",
				Help: "Duplicate detections, labeled by kind (exact/simhash/url).",
			},
			[]string{"kind"},
		)
		schedulerQueueDepth = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "ingest_scheduler_queue_depth",
				Help: "Tasks waiting in the domain scheduler queue.",
			},
		)
		schedulerActiveTasks = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "ingest_scheduler_active_tasks",
				Help: "Tasks currently dispatched by the domain scheduler.",
			},
		)
		clusterPassDocuments = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "ingest_cluster_pass_documents",
				Help:    "Documents per clustering pass.",
				Buckets: prometheus.ExponentialBuckets(1, 2, 10),
			},
		)
		runsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_runs_total",
				Help: "Completed ingestion runs, labeled by status.",
			},
			[]string{"status"},
		)
		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ingest_http_requests_total",
				Help: "Inbound HTTP requests, labeled by method, route, and status.",
			},
			[]string{"method", "route", "status"},
		)
		httpDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "ingest_http_request_duration_seconds",
				Help:    "Inbound HTTP request latencies, labeled by route.",
				Buckets: []float64{0.005, 0.025, 0.1, 0.5, 1, 5, 30, 120},
			},
			[]string{"route"},
		)
	})
}

// ObserveFetch records one outbound fetch.
func ObserveFetch(host string, status int, dur time.Duration) {
	if fetchRequestsTotal == nil {
		return
	}
	fetchRequestsTotal.WithLabelValues(host, strconv.Itoa(status)).Inc()
	fetchDurationSeconds.WithLabelValues(host).Observe(dur.Seconds())
}

// ObserveFetchRetry counts one retry attempt.
func ObserveFetchRetry() {
	if fetchRetriesTotal == nil {
		return
	}
	fetchRetriesTotal.Inc()
}

// ObserveRateLimitDelay records limiter-imposed wait time.
func ObserveRateLimitDelay(host string, dur time.Duration) {
	if rateLimitDelaySeconds == nil {
		return
	}
	rateLimitDelaySeconds.WithLabelValues(host).Observe(dur.Seconds())
}

// ObserveIngested counts one persisted document.
func ObserveIngested(source string) {
	if documentsIngestedTotal == nil {
		return
	}
	documentsIngestedTotal.WithLabelValues(source).Inc()
}

// ObserveSkipped counts one skipped item.
func ObserveSkipped(source, reason string) {
	if documentsSkippedTotal == nil {
		return
	}
	documentsSkippedTotal.WithLabelValues(source, reason).Inc()
}

// ObserveExpired counts one expired document.
func ObserveExpired() {
	if documentsExpiredTotal == nil {
		return
	}
	documentsExpiredTotal.Inc()
}

// ObserveStaled counts one stale transition.
func ObserveStaled(reason string) {
	if documentsStaledTotal == nil {
		return
	}
	documentsStaledTotal.WithLabelValues(reason).Inc()
}

// ObserveDedupHit counts one duplicate detection.
func ObserveDedupHit(kind string) {
	if dedupHitsTotal == nil {
		return
	}
	dedupHitsTotal.WithLabelValues(kind).Inc()
}

// SetSchedulerQueueDepth publishes the current queue length.
func SetSchedulerQueueDepth(n int) {
	if schedulerQueueDepth == nil {
		return
	}
	schedulerQueueDepth.Set(float64(n))
}

// SetSchedulerActive publishes the current dispatched-task count.
func SetSchedulerActive(n int) {
	if schedulerActiveTasks == nil {
		return
	}
	schedulerActiveTasks.Set(float64(n))
}

// ObserveClusterPass records the size of one clustering pass.
func ObserveClusterPass(docs int) {
	if clusterPassDocuments == nil {
		return
	}
	clusterPassDocuments.Observe(float64(docs))
}

// ObserveRun counts one finished run by status.
func ObserveRun(status string) {
	if runsTotal == nil {
		return
	}
	runsTotal.WithLabelValues(status).Inc()
}

// ObserveHTTPRequest records one handled inbound request.
func ObserveHTTPRequest(method, route string, status int, dur time.Duration) {
	if httpRequestsTotal == nil {
		return
	}
	httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	httpDurationSeconds.WithLabelValues(route).Observe(dur.Seconds())
}
