// Package metrics exposes Prometheus collectors for the validator.
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
	validatorAttemptsTotal        *prometheus.CounterVec
	validatorResultsTotal         *prometheus.CounterVec
	validatorSkippedTotal         prometheus.Counter
	validatorFlushesTotal         *prometheus.CounterVec
	validatorFetchDurationSeconds *prometheus.HistogramVec
	validatorPacingDelaySeconds   *prometheus.HistogramVec
	validatorEligibleCredentials  prometheus.Gauge
	httpRequestDurationSeconds    *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		validatorAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "validator_attempts_total",
				Help: "Total fetch attempts, labeled by credential and classification kind.",
			},
			[]string{"credential", "kind"},
		)

		validatorResultsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "validator_results_total",
				Help: "Total terminal results, labeled by site and verdict.",
			},
			[]string{"site", "verdict"},
		)

		validatorSkippedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "validator_skipped_total",
				Help: "Work items skipped because their target already produced a result.",
			},
		)

		validatorFlushesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "validator_flushes_total",
				Help: "Full result flushes, labeled by status.",
			},
			[]string{"status"},
		)

		validatorFetchDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "validator_fetch_duration_seconds",
				Help:    "Histogram of fetch latencies, labeled by fetch mode.",
				Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"mode"},
		)

		validatorPacingDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "validator_pacing_delay_seconds",
				Help:    "Histogram of pacing waits, labeled by kind (request, batch, global).",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"kind"},
		)

		validatorEligibleCredentials = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "validator_eligible_credentials",
				Help: "Credentials currently below their soft cap.",
			},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "validator_http_request_duration_seconds",
				Help:    "Status server request latencies, labeled by method, route and status code.",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "route", "code"},
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

// ObserveAttempt counts one fetch attempt.
func ObserveAttempt(credential, kind string) {
	Init()
	validatorAttemptsTotal.WithLabelValues(credential, kind).Inc()
}

// ObserveResult counts one terminal result.
func ObserveResult(target, verdict string) {
	Init()
	validatorResultsTotal.WithLabelValues(SanitizeSite(target), verdict).Inc()
}

// ObserveSkipped counts one de-duplicated work item.
func ObserveSkipped() {
	Init()
	validatorSkippedTotal.Inc()
}

// ObserveFlush counts one full flush.
func ObserveFlush(ok bool) {
	Init()
	status := "ok"
	if !ok {
		status = "error"
	}
	validatorFlushesTotal.WithLabelValues(status).Inc()
}

// ObserveFetch records the latency of one fetch.
func ObserveFetch(mode string, duration time.Duration) {
	Init()
	validatorFetchDurationSeconds.WithLabelValues(mode).Observe(duration.Seconds())
}

// ObservePacingDelay records one pacing wait.
func ObservePacingDelay(kind string, duration time.Duration) {
	Init()
	validatorPacingDelaySeconds.WithLabelValues(kind).Observe(duration.Seconds())
}

// ObserveHTTPRequest records one status server request.
func ObserveHTTPRequest(method, route string, status int, duration time.Duration) {
	Init()
	httpRequestDurationSeconds.WithLabelValues(method, route, strconv.Itoa(status)).Observe(duration.Seconds())
}

// SetEligibleCredentials publishes how many credentials are under their cap.
func SetEligibleCredentials(n int) {
	Init()
	validatorEligibleCredentials.Set(float64(n))
}
