// Package metrics exposes Prometheus collectors for the harvester passes.
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

// Item outcomes recorded by the passes.
const (
	OutcomeDiscovered = "discovered"
	OutcomeDownloaded = "downloaded"
	OutcomeDuplicate  = "duplicate"
	OutcomeLabeled    = "labeled"
	OutcomeSynced     = "synced"
	OutcomeReconciled = "reconciled"
	OutcomeFailed     = "failed"
	OutcomeSkipped    = "skipped"
)

var (
	harvesterItemsTotal             *prometheus.CounterVec
	harvesterDownloadBytesTotal     *prometheus.CounterVec
	harvesterFetchAttemptsTotal     *prometheus.CounterVec
	harvesterRemoteRequestsTotal    *prometheus.CounterVec
	harvesterRemoteDurationSeconds  *prometheus.HistogramVec
	harvesterSnapshotSavesTotal     *prometheus.CounterVec
	harvesterRateLimitDelaysSeconds *prometheus.HistogramVec
	harvesterActivePass             *prometheus.GaugeVec
	httpRequestsTotal               *prometheus.CounterVec
	httpRequestDurationSeconds      *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		harvesterItemsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_items_total",
				Help: "Items processed, labeled by pass and outcome.",
			},
			[]string{"pass", "outcome"},
		)

		harvesterDownloadBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_download_bytes_total",
				Help: "Bytes fetched from the source, labeled by site.",
			},
			[]string{"site"},
		)

		harvesterFetchAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_fetch_attempts_total",
				Help: "Source fetch attempts, labeled by site and result.",
			},
			[]string{"site", "result"},
		)

		harvesterRemoteRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_remote_requests_total",
				Help: "Asset service requests, labeled by endpoint and result.",
			},
			[]string{"endpoint", "result"},
		)

		harvesterRemoteDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "harvester_remote_request_duration_seconds",
				Help:    "Histogram of asset service request latencies, labeled by endpoint.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"endpoint"},
		)

		harvesterSnapshotSavesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_snapshot_saves_total",
				Help: "Snapshot writes, labeled by result.",
			},
			[]string{"result"},
		)

		harvesterRateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "harvester_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)

		harvesterActivePass = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "harvester_active_pass",
				Help: "1 while the named pass is running.",
			},
			[]string{"pass"},
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
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
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
	return promhttp.Handler()
}

// ObserveItem counts one item outcome for pass.
func ObserveItem(pass, outcome string) {
	Init()
	harvesterItemsTotal.WithLabelValues(pass, outcome).Inc()
}

// ObserveFetch records a source fetch attempt.
func ObserveFetch(site string, ok bool, bytesFetched int) {
	Init()
	sanitizedSite := SanitizeSite(site)
	result := "error"
	if ok {
		result = "ok"
	}
	harvesterFetchAttemptsTotal.WithLabelValues(sanitizedSite, result).Inc()
	if bytesFetched > 0 {
		harvesterDownloadBytesTotal.WithLabelValues(sanitizedSite).Add(float64(bytesFetched))
	}
}

// ObserveRemote records one asset service request.
func ObserveRemote(endpoint string, err error, duration time.Duration) {
	Init()
	result := "ok"
	if err != nil {
		result = "error"
	}
	harvesterRemoteRequestsTotal.WithLabelValues(endpoint, result).Inc()
	harvesterRemoteDurationSeconds.WithLabelValues(endpoint).Observe(duration.Seconds())
}

// ObserveSnapshotSave records a snapshot write.
func ObserveSnapshotSave(err error) {
	Init()
	result := "ok"
	if err != nil {
		result = "error"
	}
	harvesterSnapshotSavesTotal.WithLabelValues(result).Inc()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	harvesterRateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// SetPassActive flags pass as running or finished.
func SetPassActive(pass string, active bool) {
	Init()
	v := 0.0
	if active {
		v = 1
	}
	harvesterActivePass.WithLabelValues(pass).Set(v)
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
