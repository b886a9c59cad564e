// Package metrics exposes the Prometheus series the data plane emits:
// connection counts, auth outcomes, transferred bytes, request latency,
// rate-limit hits, and connection-pool occupancy.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	ConnectionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proxy_connections_total",
			Help: "Total proxy connections accepted, by protocol and outcome",
		},
		[]string{"protocol", "status"},
	)

	ConnectionsActive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "proxy_connections_active",
			Help: "Currently open proxy connections, by protocol",
		},
		[]string{"protocol"},
	)

	AuthAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proxy_auth_attempts_total",
			Help: "Authentication attempts, by result",
		},
		[]string{"result"},
	)

	BytesTransferredTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "proxy_bytes_transferred_total",
			Help: "Bytes transferred, by direction and protocol",
		},
		[]string{"direction", "protocol"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "proxy_request_duration_seconds",
			Help:    "Proxy request handling duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"protocol", "method"},
	)

	RateLimitHitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "proxy_rate_limit_hits_total",
			Help: "Total requests rejected by the rate limiter",
		},
	)

	ConnectionPoolSize = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "proxy_connection_pool_size",
			Help: "Upstream connection pool occupancy, by state (idle|in_use)",
		},
		[]string{"state"},
	)

	ConnectionPoolHitsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "proxy_connection_pool_hits_total",
			Help: "Total upstream connection pool reuse hits",
		},
	)

	ConnectionPoolMissesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "proxy_connection_pool_misses_total",
			Help: "Total upstream connection pool misses requiring a fresh dial",
		},
	)
)

func init() {
	prometheus.MustRegister(
		ConnectionsTotal,
		ConnectionsActive,
		AuthAttemptsTotal,
		BytesTransferredTotal,
		RequestDuration,
		RateLimitHitsTotal,
		ConnectionPoolSize,
		ConnectionPoolHitsTotal,
		ConnectionPoolMissesTotal,
	)
}

// Handler returns the Prometheus HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Timer is a helper for timing operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// ObserveDuration records the duration to a histogram.
func (t *Timer) ObserveDuration(histogram prometheus.Histogram) {
	histogram.Observe(time.Since(t.start).Seconds())
}

// ObserveDurationVec records the duration to a histogram vec with labels.
func (t *Timer) ObserveDurationVec(histogram prometheus.ObserverVec, labels ...string) {
	histogram.WithLabelValues(labels...).Observe(time.Since(t.start).Seconds())
}

// Duration returns the elapsed time since the timer started.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// Recorder adapts the package-level metrics to the small Metrics
// interfaces pkg/proxyhttp and pkg/socks5 expect, bound to one protocol
// label so those engines don't import Prometheus directly.
type Recorder struct {
	protocol string
}

// ForProtocol returns a Recorder that labels every observation with
// protocol.
func ForProtocol(protocol string) Recorder {
	return Recorder{protocol: protocol}
}

func (r Recorder) ConnectionAccepted(protocol, status string) {
	ConnectionsTotal.WithLabelValues(protocol, status).Inc()
}

func (r Recorder) AuthAttempt(result string) {
	AuthAttemptsTotal.WithLabelValues(result).Inc()
}

func (r Recorder) RateLimitHit() {
	RateLimitHitsTotal.Inc()
}

func (r Recorder) BytesTransferred(direction string, n uint64) {
	BytesTransferredTotal.WithLabelValues(direction, r.protocol).Add(float64(n))
}
