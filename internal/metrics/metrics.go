package metrics

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	OutcomeOK        = "ok"
	OutcomeRemote    = "remote_error"
	OutcomeTransport = "transport_error"
	OutcomeProtocol  = "protocol_error"
	OutcomeFailed    = "failed"
	OutcomeDegraded  = "degraded"
)

var (
	remoteRequestCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pkgkeeper_remote_request_total",
			Help: "Total repository requests by endpoint and outcome",
		},
		[]string{"endpoint", "outcome"},
	)

	remoteRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "pkgkeeper_remote_request_duration_seconds",
			Help:    "Duration of repository requests",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	challengeCount = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "pkgkeeper_auth_challenge_total",
			Help: "Authentication challenges requested",
		},
	)

	upgradeCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pkgkeeper_upgrade_total",
			Help: "Package upgrades by outcome",
		},
		[]string{"outcome"},
	)

	rollbackCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pkgkeeper_rollback_total",
			Help: "Package rollbacks by outcome",
		},
		[]string{"outcome"},
	)

	httpRequestCount = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pkgkeeper_http_request_total",
			Help: "Requests served by the local status API",
		},
		[]string{"route", "code"},
	)

	totalHTTPRequests int64
	totalHTTPErrors   int64
)

func init() {
	prometheus.MustRegister(remoteRequestCount)
	prometheus.MustRegister(remoteRequestDuration)
	prometheus.MustRegister(challengeCount)
	prometheus.MustRegister(upgradeCount)
	prometheus.MustRegister(rollbackCount)
	prometheus.MustRegister(httpRequestCount)
}

// ObserveRemoteCall records one repository exchange.
func ObserveRemoteCall(endpoint, outcome string, elapsed time.Duration) {
	remoteRequestCount.WithLabelValues(endpoint, outcome).Inc()
	remoteRequestDuration.WithLabelValues(endpoint).Observe(elapsed.Seconds())
}

func IncChallenge() {
	challengeCount.Inc()
}

func IncUpgrade(outcome string) {
	upgradeCount.WithLabelValues(outcome).Inc()
}

func IncRollback(outcome string) {
	rollbackCount.WithLabelValues(outcome).Inc()
}

/**
 * Record a request served by the local status API
 * @param {string} route - gin route pattern
 * @param {string} code - HTTP status code
 * @param {bool} failed - status code >= 400
 */
func ObserveHTTPRequest(route, code string, failed bool) {
	httpRequestCount.WithLabelValues(route, code).Inc()
	atomic.AddInt64(&totalHTTPRequests, 1)
	if failed {
		atomic.AddInt64(&totalHTTPErrors, 1)
	}
}

func GetTotalRequestCount() int64 {
	return atomic.LoadInt64(&totalHTTPRequests)
}

func GetTotalErrorCount() int64 {
	return atomic.LoadInt64(&totalHTTPErrors)
}
