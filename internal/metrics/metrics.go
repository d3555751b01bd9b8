// Package metrics exposes Prometheus collectors for the watchtower service.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	pipelineRunsTotal          *prometheus.CounterVec
	sourceFetchesTotal         *prometheus.CounterVec
	sourceItemsTotal           *prometheus.CounterVec
	analysisRequestsTotal      *prometheus.CounterVec
	intelCreatedTotal          *prometheus.CounterVec
	embeddingFailuresTotal     prometheus.Counter
	digestSendsTotal           *prometheus.CounterVec
	fetchesTotal               *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	robotsFallbacksTotal       prometheus.Counter
	rateLimitDelaysSeconds     *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		pipelineRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "watchtower_pipeline_runs_total",
				Help: "Total number of per-competitor pipeline runs, labeled by competitor and status.",
			},
			[]string{"competitor", "status"},
		)

		sourceFetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "watchtower_source_fetches_total",
				Help: "Total number of source fetches, labeled by source and status.",
			},
			[]string{"source", "status"},
		)

		sourceItemsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "watchtower_source_items_total",
				Help: "Total number of items collected, labeled by source.",
			},
			[]string{"source"},
		)

		analysisRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "watchtower_analysis_requests_total",
				Help: "Total number of model analysis calls, labeled by status.",
			},
			[]string{"status"},
		)

		intelCreatedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "watchtower_intel_created_total",
				Help: "Total number of intel rows persisted, labeled by competitor and threat level.",
			},
			[]string{"competitor", "threat_level"},
		)

		embeddingFailuresTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "watchtower_embedding_failures_total",
				Help: "Total number of embedding calls that failed and were skipped.",
			},
		)

		digestSendsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "watchtower_digest_sends_total",
				Help: "Total number of digest send attempts, labeled by status.",
			},
			[]string{"status"},
		)

		fetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "watchtower_fetches_total",
				Help: "Total number of HTTP fetches, labeled by site, mode and status.",
			},
			[]string{"site", "mode", "status"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 30, 120},
			},
			[]string{"method", "route"},
		)

		robotsFallbacksTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "watchtower_robots_allow_all_fallbacks_total",
				Help: "Total robots.txt lookups answered allow-all after repeated timeouts.",
			},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "watchtower_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// ObservePipelineRun counts one competitor run.
func ObservePipelineRun(competitor string, err error) {
	Init()
	pipelineRunsTotal.WithLabelValues(competitor, status(err)).Inc()
}

// ObserveSource counts one source fetch and the items it produced.
func ObserveSource(source string, items int, err error) {
	Init()
	sourceFetchesTotal.WithLabelValues(source, status(err)).Inc()
	if items > 0 {
		sourceItemsTotal.WithLabelValues(source).Add(float64(items))
	}
}

// ObserveAnalysis counts one model call.
func ObserveAnalysis(err error) {
	Init()
	analysisRequestsTotal.WithLabelValues(status(err)).Inc()
}

// ObserveIntelCreated counts one persisted intel row.
func ObserveIntelCreated(competitor, threatLevel string) {
	Init()
	intelCreatedTotal.WithLabelValues(competitor, threatLevel).Inc()
}

// ObserveEmbeddingFailure counts one skipped embedding.
func ObserveEmbeddingFailure() {
	Init()
	embeddingFailuresTotal.Inc()
}

// ObserveDigestSend counts one digest send attempt.
func ObserveDigestSend(err error) {
	Init()
	digestSendsTotal.WithLabelValues(status(err)).Inc()
}

// ObserveFetch counts one fetch against a site.
func ObserveFetch(site string, headless bool, err error) {
	Init()
	mode := "static"
	if headless {
		mode = "headless"
	}
	fetchesTotal.WithLabelValues(SanitizeSite(site), mode, status(err)).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveRobotsFallback counts a robots.txt lookup that fell back to allow-all.
func ObserveRobotsFallback() {
	Init()
	robotsFallbacksTotal.Inc()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}
