// Package metrics exposes Prometheus collectors for the harvester.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Fetch attempt results.
const (
	ResultSuccess = "success"
	ResultError   = "error"
)

var (
	fetchAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvest_fetch_attempts_total",
			Help: "Remote fetch attempts, labeled by stage and result.",
		},
		[]string{"stage", "result"},
	)

	pausedWorkers = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "harvest_paused_workers",
			Help: "Detail workers currently backing off after a failed attempt.",
		},
	)

	cooldownsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "harvest_cooldowns_total",
			Help: "Attempts delayed because the paused-worker count crossed the congestion threshold.",
		},
	)

	stageDurationSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "harvest_stage_duration_seconds",
			Help:    "Wall time per pipeline stage.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200, 3600},
		},
		[]string{"stage"},
	)

	recordsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvest_records_total",
			Help: "Canonical records produced, labeled by kind.",
		},
		[]string{"kind"},
	)

	scrapeRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvest_http_requests_total",
			Help: "Requests served by the metrics endpoint, labeled by route and status code.",
		},
		[]string{"route", "code"},
	)

	rateLimitDelaySeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "harvest_rate_limit_delay_seconds",
			Help:    "Time spent waiting for a per-host request token.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"host"},
	)

	runsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harvest_runs_total",
			Help: "Completed harvest runs, labeled by status.",
		},
		[]string{"status"},
	)
)

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveAttempt counts one remote fetch attempt.
func ObserveAttempt(stage, result string) {
	fetchAttemptsTotal.WithLabelValues(stage, result).Inc()
}

// SetPausedWorkers publishes the current paused-worker count.
func SetPausedWorkers(n int64) {
	pausedWorkers.Set(float64(n))
}

// ObserveCooldown counts one congestion cooldown.
func ObserveCooldown() {
	cooldownsTotal.Inc()
}

// ObserveStage records how long a stage took.
func ObserveStage(stage string, d time.Duration) {
	stageDurationSeconds.WithLabelValues(stage).Observe(d.Seconds())
}

// ObserveRecords adds n canonical records of the given kind.
func ObserveRecords(kind string, n int) {
	if n > 0 {
		recordsTotal.WithLabelValues(kind).Add(float64(n))
	}
}

// ObserveRun counts a finished run.
func ObserveRun(status string) {
	runsTotal.WithLabelValues(status).Inc()
}

// ObserveHTTPRequest counts one request served by the metrics server.
func ObserveHTTPRequest(route string, status int) {
	scrapeRequestsTotal.WithLabelValues(route, strconv.Itoa(status)).Inc()
}

// ObserveRateLimitDelay records a politeness wait before contacting host.
func ObserveRateLimitDelay(host string, d time.Duration) {
	rateLimitDelaySeconds.WithLabelValues(host).Observe(d.Seconds())
}
