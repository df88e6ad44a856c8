// Package telemetry exposes Prometheus collectors for the crawler service.
package telemetry

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Fetch origin labels.
const (
	OriginCache = "cache"
	OriginLive  = "live"
)

var (
	fetchesTotal          *prometheus.CounterVec
	episodesCrawledTotal  *prometheus.CounterVec
	crawlDurationSeconds  *prometheus.HistogramVec
	activeDetailWorkers   prometheus.Gauge
	httpRequestsTotal     *prometheus.CounterVec
	httpRequestDurSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus collectors. It is safe to call multiple
// times; observation helpers are no-ops until it runs.
func Init() {
	once.Do(func() {
		fetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "toonfeed_fetches_total",
				Help: "Total page fetches, labeled by origin (cache or live).",
			},
			[]string{"origin"},
		)

		episodesCrawledTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "toonfeed_episodes_crawled_total",
				Help: "Total freshly crawled episodes, labeled by series.",
			},
			[]string{"series"},
		)

		crawlDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "toonfeed_crawl_duration_seconds",
				Help:    "Histogram of crawl-and-merge durations, labeled by series.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"series"},
		)

		activeDetailWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "toonfeed_active_detail_workers",
				Help: "Number of workers currently fetching a detail page.",
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveFetch increments the fetch counter for the given origin.
func ObserveFetch(origin string) {
	if fetchesTotal == nil {
		return
	}
	fetchesTotal.WithLabelValues(origin).Inc()
}

// ObserveCrawl records a completed crawl for a series.
func ObserveCrawl(series string, episodes int, duration time.Duration) {
	if episodesCrawledTotal == nil {
		return
	}
	episodesCrawledTotal.WithLabelValues(series).Add(float64(episodes))
	crawlDurationSeconds.WithLabelValues(series).Observe(duration.Seconds())
}

// IncActiveDetailWorkers increments the active detail workers gauge.
func IncActiveDetailWorkers() {
	if activeDetailWorkers == nil {
		return
	}
	activeDetailWorkers.Inc()
}

// DecActiveDetailWorkers decrements the active detail workers gauge.
func DecActiveDetailWorkers() {
	if activeDetailWorkers == nil {
		return
	}
	activeDetailWorkers.Dec()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	if httpRequestsTotal == nil {
		return
	}
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
