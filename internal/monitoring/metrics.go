package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for the drive stream proxy
var (
	// HTTP request metrics
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dsp_requests_total",
			Help: "Total number of HTTP requests handled by the local proxy",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dsp_request_duration_seconds",
			Help:    "Request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	// URL resolution metrics
	ResolveTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dsp_resolve_total",
			Help: "Total number of upstream URL resolutions",
		},
		[]string{"mode", "status"},
	)

	ResolveDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dsp_resolve_duration_seconds",
			Help:    "Upstream URL resolution duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"mode"},
	)

	// URL cache metrics
	CacheHitsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dsp_url_cache_hits_total",
			Help: "Total number of resolved-URL cache hits",
		},
	)

	CacheMissesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dsp_url_cache_misses_total",
			Help: "Total number of resolved-URL cache misses",
		},
	)

	// Streaming metrics
	BytesStreamed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dsp_bytes_streamed_total",
			Help: "Total bytes streamed through the proxy",
		},
		[]string{"direction"},
	)

	ActiveStreams = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dsp_active_streams",
			Help: "Number of in-flight proxied streams",
		},
	)

	CipherOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dsp_cipher_operations_total",
			Help: "Total number of stream cipher transforms created",
		},
		[]string{"direction", "kind"},
	)

	// Server metrics
	ServerInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "dsp_server_info",
			Help: "Server build information",
		},
		[]string{"version", "commit", "build_time"},
	)
)

// SetServerInfo sets server build information
func SetServerInfo(version, commit, buildTime string) {
	ServerInfo.WithLabelValues(version, commit, buildTime).Set(1)
}

// RecordResolve records one upstream URL resolution
func RecordResolve(mode, status string, duration time.Duration) {
	ResolveTotal.WithLabelValues(mode, status).Inc()
	ResolveDuration.WithLabelValues(mode).Observe(duration.Seconds())
}

// RecordBytesStreamed records data transfer through the proxy
func RecordBytesStreamed(direction string, bytes int64) {
	BytesStreamed.WithLabelValues(direction).Add(float64(bytes))
}

// RecordCipherOperation records creation of a cipher transform
func RecordCipherOperation(direction, kind string) {
	CipherOperationsTotal.WithLabelValues(direction, kind).Inc()
}
